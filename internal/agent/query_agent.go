package agent

import (
	"context"
	"fmt"
	"strings"

	"auto-arxiv-go/pkg/llm"
	"auto-arxiv-go/pkg/log"
)

// CandidatePaper 是在线检索阶段交给模型筛选的候选论文。
type CandidatePaper struct {
	ArxivID string
	Title   string
	Summary string
}

// ContextDoc 是回答合成阶段的一条上下文资料。
type ContextDoc struct {
	Title   string
	Content string
}

// QueryAgent 接口定义了问答工作流中的大模型操作。
type QueryAgent interface {
	// PlanSearchQuery 把用户问题改写为一条适合搜索引擎的英文查询。
	PlanSearchQuery(ctx context.Context, question string) (string, error)
	// FilterPromising 从候选论文中挑出最可能回答问题的若干篇，
	// 返回的 arXiv ID 一定是候选集合的子集。
	FilterPromising(ctx context.Context, question string, candidates []CandidatePaper, limit int) ([]string, error)
	// SynthesizeAnswer 只依据给定的上下文资料合成回答，资料不足时应明确说明。
	SynthesizeAnswer(ctx context.Context, question string, docs []ContextDoc) (string, error)
	// EvaluateRelevance 判断一篇论文是否与用户的研究计划相关。
	EvaluateRelevance(ctx context.Context, title, summary, researchPlan string) (bool, error)
}

type queryAgent struct {
	llmClient llm.Client
}

// NewQueryAgent 创建一个新的 QueryAgent 实例。
func NewQueryAgent(llmClient llm.Client) QueryAgent {
	return &queryAgent{llmClient: llmClient}
}

type planResult struct {
	Query string `json:"query"`
}

// PlanSearchQuery 生成英文搜索查询。
func (a *queryAgent) PlanSearchQuery(ctx context.Context, question string) (string, error) {
	prompt := fmt.Sprintf(
		"用户想在 arXiv 上寻找能回答下面问题的论文:\n%s\n\n"+
			"请生成一条简洁的英文搜索查询，聚焦问题中的核心术语。"+
			"只输出 JSON，格式: {\"query\": \"...\"}",
		question,
	)
	var result planResult
	if err := a.llmClient.GenerateJSON(ctx, []llm.Message{{Role: "user", Content: prompt}}, &result); err != nil {
		return "", err
	}
	query := strings.TrimSpace(result.Query)
	if query == "" {
		return "", fmt.Errorf("查询规划结果为空")
	}
	return query, nil
}

type filterResult struct {
	PromisingArxivIDs []string `json:"promising_arxiv_ids"`
}

// FilterPromising 筛选最有希望的候选论文，剔除模型编造的 ID。
func (a *queryAgent) FilterPromising(ctx context.Context, question string, candidates []CandidatePaper, limit int) ([]string, error) {
	if len(candidates) == 0 {
		return nil, nil
	}

	var sb strings.Builder
	sb.WriteString(fmt.Sprintf("用户的问题: %s\n\n以下是检索到的候选论文:\n", question))
	for _, cand := range candidates {
		sb.WriteString(fmt.Sprintf("- [%s] %s\n  %s\n", cand.ArxivID, cand.Title, cand.Summary))
	}
	sb.WriteString(fmt.Sprintf(
		"\n请挑出最可能回答该问题的至多 %d 篇论文。只能使用上面出现过的 arXiv ID。"+
			"只输出 JSON，格式: {\"promising_arxiv_ids\": [\"...\"]}", limit,
	))

	var result filterResult
	if err := a.llmClient.GenerateJSON(ctx, []llm.Message{{Role: "user", Content: sb.String()}}, &result); err != nil {
		return nil, err
	}

	valid := make(map[string]bool, len(candidates))
	for _, cand := range candidates {
		valid[cand.ArxivID] = true
	}
	var ids []string
	for _, id := range result.PromisingArxivIDs {
		if !valid[id] {
			log.Warnf("[QueryAgent] 忽略模型返回的未知 arXiv ID: %s", id)
			continue
		}
		ids = append(ids, id)
		if len(ids) >= limit {
			break
		}
	}
	return ids, nil
}

// SynthesizeAnswer 依据上下文合成回答。
func (a *queryAgent) SynthesizeAnswer(ctx context.Context, question string, docs []ContextDoc) (string, error) {
	var sb strings.Builder
	sb.WriteString("请严格依据下面提供的资料回答用户的问题。资料中没有的内容不要编造；" +
		"若资料不足以回答，请直接说明。\n\n")
	for i, doc := range docs {
		sb.WriteString(fmt.Sprintf("[资料 %d] 《%s》\n%s\n\n", i+1, doc.Title, doc.Content))
	}
	sb.WriteString("用户的问题: " + question)

	return a.llmClient.Generate(ctx, []llm.Message{{Role: "user", Content: sb.String()}})
}

type boolResult struct {
	Relevant bool   `json:"relevant"`
	Reason   string `json:"reason"`
}

// EvaluateRelevance 判断论文与研究计划的相关性。
func (a *queryAgent) EvaluateRelevance(ctx context.Context, title, summary, researchPlan string) (bool, error) {
	prompt := fmt.Sprintf(
		"用户的研究计划:\n%s\n\n论文标题: %s\n论文摘要: %s\n\n"+
			"这篇论文是否与研究计划相关？只输出 JSON，格式: {\"relevant\": true, \"reason\": \"...\"}",
		researchPlan, title, summary,
	)
	var result boolResult
	if err := a.llmClient.GenerateJSON(ctx, []llm.Message{{Role: "user", Content: prompt}}, &result); err != nil {
		return false, err
	}
	return result.Relevant, nil
}
