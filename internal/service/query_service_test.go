package service

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"auto-arxiv-go/internal/agent"
	"auto-arxiv-go/internal/config"
	"auto-arxiv-go/internal/index"
	"auto-arxiv-go/internal/model"
	"auto-arxiv-go/internal/repository"
	"auto-arxiv-go/pkg/rerank"
	"auto-arxiv-go/pkg/websearch"
)

const testDims = 4

type stubEmbedding struct{}

func (s *stubEmbedding) Dimensions() int { return testDims }

func (s *stubEmbedding) CreateEmbedding(context.Context, string) ([]float32, error) {
	return make([]float32, testDims), nil
}

func (s *stubEmbedding) CreateEmbeddings(_ context.Context, texts []string) ([][]float32, error) {
	vectors := make([][]float32, len(texts))
	for i := range texts {
		vectors[i] = make([]float32, testDims)
	}
	return vectors, nil
}

// stubRerank 按文档下标返回预设得分。
type stubRerank struct {
	scores []float64
}

func (s *stubRerank) Rerank(_ context.Context, _ string, docs []string) ([]rerank.Result, error) {
	results := make([]rerank.Result, len(docs))
	for i := range docs {
		score := 0.1
		if i < len(s.scores) {
			score = s.scores[i]
		}
		results[i] = rerank.Result{Index: i, Score: score}
	}
	return results, nil
}

type stubQueryAgent struct{}

func (s *stubQueryAgent) PlanSearchQuery(context.Context, string) (string, error) {
	return "object detection survey", nil
}

func (s *stubQueryAgent) FilterPromising(context.Context, string, []agent.CandidatePaper, int) ([]string, error) {
	return nil, nil
}

func (s *stubQueryAgent) SynthesizeAnswer(_ context.Context, _ string, docs []agent.ContextDoc) (string, error) {
	return "基于资料的回答", nil
}

func (s *stubQueryAgent) EvaluateRelevance(context.Context, string, string, string) (bool, error) {
	return true, nil
}

type stubSearch struct{}

func (s *stubSearch) Search(context.Context, string, int) ([]websearch.Item, error) {
	return nil, nil
}

func newTestQueryService(t *testing.T, repo repository.MetadataRepository, idx *index.FlatIndex, rr rerank.Client) QueryService {
	t.Helper()
	settings := config.NewSettingsManager(filepath.Join(t.TempDir(), "override.json"))
	return NewQueryService(
		settings, repo, idx,
		&stubEmbedding{}, rr, &stubSearch{}, nil,
		&stubQueryAgent{}, nil,
	)
}

func collectEvents(t *testing.T, svc QueryService, question string) []model.QueryEvent {
	t.Helper()
	var events []model.QueryEvent
	err := svc.Query(context.Background(), question, func(e model.QueryEvent) {
		events = append(events, e)
	})
	require.NoError(t, err)
	return events
}

func finalEvent(t *testing.T, events []model.QueryEvent) model.QueryEvent {
	t.Helper()
	require.NotEmpty(t, events)
	last := events[len(events)-1]
	require.Equal(t, "final", last.Type)
	require.NotNil(t, last.Data)
	return last
}

func seedPaperWithVectors(t *testing.T, repo repository.MetadataRepository, idx *index.FlatIndex, arxivID string, chunkCount int) {
	t.Helper()
	d, err := repo.GetOrCreateDomain(nil, "领域", "")
	require.NoError(t, err)
	tk, err := repo.GetOrCreateTask(nil, d.ID, "任务", "")
	require.NoError(t, err)
	require.NoError(t, repo.CreatePaper(nil, &model.Paper{
		ArxivID:   arxivID,
		Title:     "Paper " + arxivID,
		Authors:   model.StringList{"Alice"},
		Summary:   "abstract " + arxivID,
		AddedDate: time.Now(),
		DomainID:  &d.ID,
		TaskID:    &tk.ID,
	}))

	maxID, err := repo.GetMaxVectorID()
	require.NoError(t, err)
	nextID := maxID + 1

	var records []*model.VectorMetadata
	var vectors [][]float32
	for i := 0; i < chunkCount+1; i++ {
		rec := &model.VectorMetadata{
			ID:             nextID + int64(i),
			SourceID:       arxivID,
			DomainID:       d.ID,
			TaskID:         tk.ID,
			ContentPreview: "chunk",
		}
		if i == 0 {
			rec.Type = model.VectorTypeSummary
		} else {
			seq := i - 1
			rec.Type = model.VectorTypeRawChunk
			rec.ChunkSeq = &seq
		}
		records = append(records, rec)
		vectors = append(vectors, make([]float32, testDims))
	}
	require.NoError(t, repo.CreateVectorMetadata(nil, records))
	start, err := idx.Add(vectors)
	require.NoError(t, err)
	require.Equal(t, nextID, start)
}

func TestQueryEmptyKnowledgeBaseReturnsNotFound(t *testing.T) {
	repo := newTestMetadataRepo(t)
	idx := index.NewFlatIndex(testDims)
	svc := newTestQueryService(t, repo, idx, &stubRerank{})

	events := collectEvents(t, svc, "什么是目标检测?")
	final := finalEvent(t, events)
	assert.Empty(t, final.Data.Sources)
	assert.Contains(t, final.Data.Answer, "没有找到")

	// 本地未命中后应有转入在线检索的进度事件
	var sawOnline bool
	for _, e := range events {
		if e.Type == "progress" && e.Message == "本地知识库未命中, 转入在线检索" {
			sawOnline = true
		}
	}
	assert.True(t, sawOnline)
}

func TestQueryOnlineSearchDisabledReturnsNotFound(t *testing.T) {
	repo := newTestMetadataRepo(t)
	idx := index.NewFlatIndex(testDims)

	settings := config.NewSettingsManager(filepath.Join(t.TempDir(), "override.json"))
	require.NoError(t, settings.Update(map[string]interface{}{"enable_online_search": false}))
	svc := NewQueryService(
		settings, repo, idx,
		&stubEmbedding{}, &stubRerank{}, &stubSearch{}, nil,
		&stubQueryAgent{}, nil,
	)

	events := collectEvents(t, svc, "transformer attention mechanisms")
	final := finalEvent(t, events)
	assert.Empty(t, final.Data.Sources)
	assert.Contains(t, final.Data.Answer, "没有找到")

	// 在线检索被禁用时不应出现转入在线检索的事件
	for _, e := range events {
		assert.NotEqual(t, "本地知识库未命中, 转入在线检索", e.Message)
	}
}

func TestQueryDeduplicatesSourcesByPaper(t *testing.T) {
	repo := newTestMetadataRepo(t)
	idx := index.NewFlatIndex(testDims)

	// 论文 A 有摘要向量和两个全文块, 论文 B 只有摘要向量
	seedPaperWithVectors(t, repo, idx, "2401.0000A", 2) // ids 0,1,2
	seedPaperWithVectors(t, repo, idx, "2401.0000B", 0) // id 3

	// A 的块得分最高且命中多次, B 次之
	svc := newTestQueryService(t, repo, idx, &stubRerank{scores: []float64{0.9, 0.95, 0.8, 0.5}})

	events := collectEvents(t, svc, "问题")
	final := finalEvent(t, events)

	require.Len(t, final.Data.Sources, 2)
	assert.Equal(t, "2401.0000A", final.Data.Sources[0].ArxivID)
	assert.Equal(t, "2401.0000B", final.Data.Sources[1].ArxivID)
	assert.Equal(t, "基于资料的回答", final.Data.Answer)
}
