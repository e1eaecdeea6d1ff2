// Package agent 封装了与大模型交互的各类智能体：分类、摘要、查询规划等。
// 所有 JSON 输出都通过 llm.Client 的带重试解析完成。
package agent

import (
	"context"
	"fmt"
	"strings"

	"auto-arxiv-go/internal/model"
	"auto-arxiv-go/pkg/llm"
	"auto-arxiv-go/pkg/log"
)

// ReferenceExample 是分类时提供给模型的参考样例：一篇已分类的相似论文。
type ReferenceExample struct {
	Title    string
	Category model.Category
}

// Classifier 接口定义了分类体系相关的大模型操作。
type Classifier interface {
	// Classify 为论文指定 (领域, 任务) 分类。known 是当前已有的分类体系，
	// refs 是检索到的相似论文样例；模型优先复用已有分类，必要时可提出新分类。
	Classify(ctx context.Context, title, summary string, known []model.Category, refs []ReferenceExample) (model.Category, string, error)
	// PartitionSynonymSubsets 把候选分类组划分成若干同义子集，
	// 不属于任何同义关系的分类不出现在结果中。
	PartitionSynonymSubsets(ctx context.Context, candidates []model.Category) ([][]model.Category, error)
	// ArbitrateCanonical 从一个同义子集中裁决出规范分类。
	// 返回值必须是子集成员，否则调用方应放弃整个子集。
	ArbitrateCanonical(ctx context.Context, subset []model.Category) (model.Category, error)
}

type classifier struct {
	llmClient llm.Client
}

// NewClassifier 创建一个新的 Classifier 实例。
func NewClassifier(llmClient llm.Client) Classifier {
	return &classifier{llmClient: llmClient}
}

type classifyResult struct {
	Domain            string `json:"domain"`
	Task              string `json:"task"`
	DomainDescription string `json:"domain_description"`
	TaskDescription   string `json:"task_description"`
}

// Classify 为一篇论文确定分类。
func (c *classifier) Classify(ctx context.Context, title, summary string, known []model.Category, refs []ReferenceExample) (model.Category, string, error) {
	var sb strings.Builder
	sb.WriteString("你是一名研究论文分类专家。请为下面这篇论文确定一个二级分类 (domain, task)。\n\n")
	sb.WriteString(fmt.Sprintf("标题: %s\n摘要: %s\n\n", title, summary))

	if len(known) > 0 {
		sb.WriteString("当前已有的分类体系如下，若论文与其中某个分类匹配，必须复用已有的写法:\n")
		for _, cat := range known {
			sb.WriteString(fmt.Sprintf("- %s / %s\n", cat.Domain, cat.Task))
		}
		sb.WriteString("\n")
	}
	if len(refs) > 0 {
		sb.WriteString("以下是与该论文最相似的已分类论文，供参考:\n")
		for _, ref := range refs {
			sb.WriteString(fmt.Sprintf("- 《%s》 -> %s / %s\n", ref.Title, ref.Category.Domain, ref.Category.Task))
		}
		sb.WriteString("\n")
	}
	sb.WriteString(`只输出 JSON，格式: {"domain": "...", "task": "...", "domain_description": "...", "task_description": "..."}`)

	var result classifyResult
	err := c.llmClient.GenerateJSON(ctx, []llm.Message{{Role: "user", Content: sb.String()}}, &result)
	if err != nil {
		return model.Category{}, "", err
	}
	result.Domain = strings.TrimSpace(result.Domain)
	result.Task = strings.TrimSpace(result.Task)
	if result.Domain == "" || result.Task == "" {
		return model.Category{}, "", fmt.Errorf("分类结果缺少 domain 或 task")
	}
	return model.Category{Domain: result.Domain, Task: result.Task}, result.TaskDescription, nil
}

type partitionResult struct {
	Groups [][]int `json:"groups"`
}

// PartitionSynonymSubsets 把一组候选分类划分为同义子集。
// 模型以下标引用候选，越界或重复的下标直接丢弃。
func (c *classifier) PartitionSynonymSubsets(ctx context.Context, candidates []model.Category) ([][]model.Category, error) {
	if len(candidates) < 2 {
		return nil, nil
	}

	var sb strings.Builder
	sb.WriteString("以下分类在语义上可能存在同义或包含关系。请把其中确实指同一研究方向的分类划分为组。\n")
	sb.WriteString("不是所有分类都必须归组：语义不同的分类不要放进任何组。每组至少包含两个分类。\n\n")
	for i, cat := range candidates {
		sb.WriteString(fmt.Sprintf("%d. %s / %s\n", i, cat.Domain, cat.Task))
	}
	sb.WriteString("\n只输出 JSON，格式: {\"groups\": [[0, 2], [1, 3, 4]]}，数字是上面的编号。")

	var result partitionResult
	err := c.llmClient.GenerateJSON(ctx, []llm.Message{{Role: "user", Content: sb.String()}}, &result)
	if err != nil {
		return nil, err
	}

	var groups [][]model.Category
	used := make(map[int]bool)
	for _, group := range result.Groups {
		var subset []model.Category
		for _, idx := range group {
			if idx < 0 || idx >= len(candidates) || used[idx] {
				log.Warnf("[Classifier] 忽略同义划分中的非法编号: %d", idx)
				continue
			}
			used[idx] = true
			subset = append(subset, candidates[idx])
		}
		if len(subset) >= 2 {
			groups = append(groups, subset)
		}
	}
	return groups, nil
}

type arbitrateResult struct {
	Domain string `json:"domain"`
	Task   string `json:"task"`
}

// ErrCanonicalNotInSubset 表示裁决出的规范分类不在子集中，该子集应被放弃。
var ErrCanonicalNotInSubset = fmt.Errorf("canonical category is not a subset member")

// ArbitrateCanonical 从同义子集中选出最规范的那个分类。
func (c *classifier) ArbitrateCanonical(ctx context.Context, subset []model.Category) (model.Category, error) {
	var sb strings.Builder
	sb.WriteString("以下分类指向同一研究方向。请从中选出命名最规范、最通用的一个，只能从列表中选:\n")
	for _, cat := range subset {
		sb.WriteString(fmt.Sprintf("- %s / %s\n", cat.Domain, cat.Task))
	}
	sb.WriteString("\n只输出 JSON，格式: {\"domain\": \"...\", \"task\": \"...\"}")

	var result arbitrateResult
	err := c.llmClient.GenerateJSON(ctx, []llm.Message{{Role: "user", Content: sb.String()}}, &result)
	if err != nil {
		return model.Category{}, err
	}

	chosen := model.Category{
		Domain: strings.TrimSpace(result.Domain),
		Task:   strings.TrimSpace(result.Task),
	}
	for _, cat := range subset {
		if cat == chosen {
			return chosen, nil
		}
	}
	return model.Category{}, ErrCanonicalNotInSubset
}
