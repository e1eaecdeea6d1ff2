package service

import (
	"context"
	"errors"
	"fmt"
	"sort"

	"auto-arxiv-go/internal/agent"
	"auto-arxiv-go/internal/config"
	"auto-arxiv-go/internal/index"
	"auto-arxiv-go/internal/model"
	"auto-arxiv-go/internal/pipeline"
	"auto-arxiv-go/internal/repository"
	"auto-arxiv-go/pkg/arxiv"
	"auto-arxiv-go/pkg/embedding"
	"auto-arxiv-go/pkg/log"
	"auto-arxiv-go/pkg/rerank"
	"auto-arxiv-go/pkg/websearch"
)

// EventSink 接收查询工作流的事件帧。
type EventSink func(event model.QueryEvent)

// QueryService 接口定义了问答工作流。
type QueryService interface {
	// Query 执行完整的问答流程，过程事件与最终结果都通过 emit 下发。
	// 返回错误时 emit 已经收到对应的 error 事件。
	Query(ctx context.Context, question string, emit EventSink) error
}

type queryService struct {
	settings        *config.SettingsManager
	metadataRepo    repository.MetadataRepository
	vectorIndex     *index.FlatIndex
	embeddingClient embedding.Client
	rerankClient    rerank.Client
	searchClient    websearch.Client
	arxivClient     *arxiv.Client
	queryAgent      agent.QueryAgent
	processor       *pipeline.Processor
}

// NewQueryService 创建一个新的 QueryService 实例。
func NewQueryService(
	settings *config.SettingsManager,
	metadataRepo repository.MetadataRepository,
	vectorIndex *index.FlatIndex,
	embeddingClient embedding.Client,
	rerankClient rerank.Client,
	searchClient websearch.Client,
	arxivClient *arxiv.Client,
	queryAgent agent.QueryAgent,
	processor *pipeline.Processor,
) QueryService {
	return &queryService{
		settings:        settings,
		metadataRepo:    metadataRepo,
		vectorIndex:     vectorIndex,
		embeddingClient: embeddingClient,
		rerankClient:    rerankClient,
		searchClient:    searchClient,
		arxivClient:     arxivClient,
		queryAgent:      queryAgent,
		processor:       processor,
	}
}

// retrievedPaper 是检索阶段命中的一篇论文及其重排序得分。
type retrievedPaper struct {
	paper model.Paper
	score float64
}

// Query 先查本地知识库，未命中时转入在线检索，最后依据上下文合成回答。
func (s *queryService) Query(ctx context.Context, question string, emit EventSink) error {
	fail := func(stage string, err error) error {
		log.Error(fmt.Sprintf("[QueryService] %s失败", stage), err)
		emit(model.QueryEvent{Type: "error", Message: fmt.Sprintf("%s失败: %v", stage, err)})
		return err
	}

	log.Infof("[QueryService] 开始处理问题: %s", question)
	emit(model.QueryEvent{Type: "progress", Message: "正在检索本地知识库"})

	papers, err := s.retrieveLocal(ctx, question)
	if err != nil {
		return fail("本地检索", err)
	}

	if len(papers) == 0 && s.settings.Current().EnableOnlineSearch {
		emit(model.QueryEvent{Type: "progress", Message: "本地知识库未命中, 转入在线检索"})
		papers, err = s.retrieveOnline(ctx, question, emit)
		if err != nil {
			return fail("在线检索", err)
		}
	}

	if len(papers) == 0 {
		log.Infof("[QueryService] 未找到相关论文: %s", question)
		emit(model.QueryEvent{Type: "final", Data: &model.QueryResult{
			Answer:  "没有找到与该问题相关的论文。",
			Sources: []model.SourceRecord{},
		}})
		return nil
	}

	emit(model.QueryEvent{Type: "progress", Message: fmt.Sprintf("找到 %d 篇相关论文, 正在合成回答", len(papers))})

	docs := make([]agent.ContextDoc, len(papers))
	sources := make([]model.SourceRecord, len(papers))
	for i, rp := range papers {
		content := rp.paper.GeneratedSummary
		if content == "" {
			content = rp.paper.Summary
		}
		docs[i] = agent.ContextDoc{Title: rp.paper.Title, Content: content}
		sources[i] = model.SourceRecord{
			ArxivID: rp.paper.ArxivID,
			Title:   rp.paper.Title,
			Authors: rp.paper.Authors,
			Summary: content,
			PDFURL:  "https://arxiv.org/pdf/" + rp.paper.ArxivID,
		}
	}

	answer, err := s.queryAgent.SynthesizeAnswer(ctx, question, docs)
	if err != nil {
		return fail("回答合成", err)
	}

	emit(model.QueryEvent{Type: "final", Data: &model.QueryResult{Answer: answer, Sources: sources}})
	log.Infof("[QueryService] 问题处理完成: %s", question)
	return nil
}

// retrieveLocal 在本地知识库中检索相关论文：向量召回、重排序、按论文去重。
func (s *queryService) retrieveLocal(ctx context.Context, question string) ([]retrievedPaper, error) {
	settings := s.settings.Current()
	if s.vectorIndex.Count() == 0 {
		return nil, nil
	}

	log.Info("[QueryService] 步骤1: 向量召回")
	queryVec, err := s.embeddingClient.CreateEmbedding(ctx, question)
	if err != nil {
		return nil, fmt.Errorf("问题向量化失败: %w", err)
	}
	hits, err := s.vectorIndex.Search(queryVec, settings.TopKResults)
	if err != nil {
		return nil, fmt.Errorf("向量检索失败: %w", err)
	}
	if len(hits) == 0 {
		return nil, nil
	}

	ids := make([]int64, len(hits))
	for i, h := range hits {
		ids[i] = h.ID
	}
	metas, err := s.metadataRepo.FindVectorMetadataByIDs(ids)
	if err != nil {
		return nil, fmt.Errorf("加载向量元数据失败: %w", err)
	}
	if len(metas) == 0 {
		return nil, nil
	}

	log.Infof("[QueryService] 步骤2: 重排序 %d 条召回结果", len(metas))
	docs := make([]string, len(metas))
	for i, meta := range metas {
		docs[i] = meta.ContentPreview
	}
	scores, err := s.rerankClient.Rerank(ctx, question, docs)
	if err != nil {
		return nil, fmt.Errorf("重排序失败: %w", err)
	}
	sort.Slice(scores, func(a, b int) bool {
		return scores[a].Score > scores[b].Score
	})

	// 按论文去重：同一篇论文可能有多个块命中，只保留得分最高的一次
	log.Info("[QueryService] 步骤3: 按论文去重并回填论文记录")
	arxivIDs := make([]string, 0, len(metas))
	for _, meta := range metas {
		arxivIDs = append(arxivIDs, meta.SourceID)
	}
	papers, err := s.metadataRepo.FindPapersByArxivIDs(arxivIDs)
	if err != nil {
		return nil, fmt.Errorf("加载论文记录失败: %w", err)
	}
	byID := make(map[string]model.Paper, len(papers))
	for _, p := range papers {
		byID[p.ArxivID] = p
	}

	var result []retrievedPaper
	for _, score := range scores {
		meta := metas[score.Index]
		paper, ok := byID[meta.SourceID]
		if !ok {
			continue
		}
		delete(byID, meta.SourceID)
		result = append(result, retrievedPaper{paper: paper, score: score.Score})
		if len(result) >= settings.MaxRelevantPapers {
			break
		}
	}
	return result, nil
}

// retrieveOnline 在线检索：规划英文查询、网页搜索、筛选候选并以仅元数据方式入库。
func (s *queryService) retrieveOnline(ctx context.Context, question string, emit EventSink) ([]retrievedPaper, error) {
	settings := s.settings.Current()

	log.Info("[QueryService] 步骤1: 规划搜索查询")
	searchQuery, err := s.queryAgent.PlanSearchQuery(ctx, question)
	if err != nil {
		return nil, fmt.Errorf("查询规划失败: %w", err)
	}
	emit(model.QueryEvent{Type: "progress", Message: "正在搜索 arXiv: " + searchQuery})

	log.Infof("[QueryService] 步骤2: 网页搜索: %s", searchQuery)
	items, err := s.searchClient.Search(ctx, "site:arxiv.org "+searchQuery, settings.OnlineSearchLimit)
	if err != nil {
		return nil, fmt.Errorf("网页搜索失败: %w", err)
	}
	arxivIDs := websearch.ExtractArxivIDs(items)
	if len(arxivIDs) == 0 {
		return nil, nil
	}

	log.Infof("[QueryService] 步骤3: 拉取 %d 篇候选论文的书目信息", len(arxivIDs))
	records, err := s.arxivClient.FetchByIDs(ctx, arxivIDs)
	if err != nil {
		return nil, fmt.Errorf("拉取书目信息失败: %w", err)
	}
	if len(records) == 0 {
		return nil, nil
	}

	log.Info("[QueryService] 步骤4: 筛选最有希望的候选论文")
	candidates := make([]agent.CandidatePaper, len(records))
	byID := make(map[string]arxiv.Record, len(records))
	for i, rec := range records {
		candidates[i] = agent.CandidatePaper{ArxivID: rec.ArxivID, Title: rec.Title, Summary: rec.Summary}
		byID[rec.ArxivID] = rec
	}
	promising, err := s.queryAgent.FilterPromising(ctx, question, candidates, settings.MaxRelevantPapers)
	if err != nil {
		return nil, fmt.Errorf("候选筛选失败: %w", err)
	}

	// 以仅元数据方式入库，失败或重复都不阻断回答
	var result []retrievedPaper
	for _, id := range promising {
		rec := byID[id]
		paper, err := s.processor.Process(ctx, rec, pipeline.ProcessOptions{MetadataOnly: true})
		if errors.Is(err, repository.ErrDuplicatePaper) {
			existing, ferr := s.metadataRepo.FindPaperByArxivID(id)
			if ferr != nil {
				continue
			}
			paper = existing
		} else if err != nil {
			log.Error(fmt.Sprintf("[QueryService] 在线论文入库失败: %s", id), err)
			paper = &model.Paper{
				ArxivID: rec.ArxivID,
				Title:   rec.Title,
				Authors: model.StringList(rec.Authors),
				Summary: rec.Summary,
			}
		}
		result = append(result, retrievedPaper{paper: *paper})
	}
	return result, nil
}
