package pipeline

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/glebarez/sqlite"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
	glogger "gorm.io/gorm/logger"

	"auto-arxiv-go/internal/agent"
	"auto-arxiv-go/internal/config"
	"auto-arxiv-go/internal/index"
	"auto-arxiv-go/internal/model"
	"auto-arxiv-go/internal/repository"
	"auto-arxiv-go/pkg/arxiv"
	"auto-arxiv-go/pkg/parser"
	"auto-arxiv-go/pkg/rerank"
)

const testDims = 4

// fakeEmbedding 返回确定性的向量，便于断言。
type fakeEmbedding struct{}

func (f *fakeEmbedding) Dimensions() int { return testDims }

func (f *fakeEmbedding) CreateEmbedding(ctx context.Context, text string) ([]float32, error) {
	v, err := f.CreateEmbeddings(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	return v[0], nil
}

func (f *fakeEmbedding) CreateEmbeddings(_ context.Context, texts []string) ([][]float32, error) {
	vectors := make([][]float32, len(texts))
	for i, text := range texts {
		v := make([]float32, testDims)
		for j, r := range []rune(text) {
			v[j%testDims] += float32(r % 13)
		}
		vectors[i] = v
	}
	return vectors, nil
}

type fakeRerank struct{}

func (f *fakeRerank) Rerank(_ context.Context, _ string, docs []string) ([]rerank.Result, error) {
	results := make([]rerank.Result, len(docs))
	for i := range docs {
		results[i] = rerank.Result{Index: i, Score: 0.9}
	}
	return results, nil
}

// fakeClassifier 固定返回一个分类并统计调用次数。
type fakeClassifier struct {
	category model.Category
	calls    int
}

func (f *fakeClassifier) Classify(context.Context, string, string, []model.Category, []agent.ReferenceExample) (model.Category, string, error) {
	f.calls++
	return f.category, "desc", nil
}

func (f *fakeClassifier) PartitionSynonymSubsets(context.Context, []model.Category) ([][]model.Category, error) {
	return nil, nil
}

func (f *fakeClassifier) ArbitrateCanonical(context.Context, []model.Category) (model.Category, error) {
	return model.Category{}, nil
}

type fakeSummarizer struct{}

func (f *fakeSummarizer) Summarize(context.Context, string, []string) (string, error) {
	return "生成的摘要", nil
}

func newTestProcessor(t *testing.T) (*Processor, repository.MetadataRepository, *index.FlatIndex, *fakeClassifier) {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
		Logger: glogger.Default.LogMode(glogger.Silent),
	})
	require.NoError(t, err)
	require.NoError(t, db.AutoMigrate(
		&model.Domain{}, &model.Task{}, &model.Paper{}, &model.VectorMetadata{},
	))
	repo := repository.NewMetadataRepository(db)

	dir := t.TempDir()
	storageCfg := config.StorageConfig{
		PaperPDFDir:       filepath.Join(dir, "pdfs"),
		StructuredDataDir: filepath.Join(dir, "structured"),
		IndexPath:         filepath.Join(dir, "vectors.idx"),
		SettingsOverride:  filepath.Join(dir, "settings_override.json"),
	}
	settings := config.NewSettingsManager(storageCfg.SettingsOverride)
	vectorIndex := index.NewFlatIndex(testDims)
	classifier := &fakeClassifier{category: model.Category{Domain: "计算机视觉", Task: "目标检测"}}

	processor := NewProcessor(
		storageCfg,
		settings,
		nil, // 测试注入已解析产物, 不触达 arXiv 下载
		nil, // 同上, 不触达解析服务
		&fakeEmbedding{},
		&fakeRerank{},
		classifier,
		&fakeSummarizer{},
		repo,
		vectorIndex,
	)
	return processor, repo, vectorIndex, classifier
}

func testRecord(arxivID string) arxiv.Record {
	return arxiv.Record{
		ArxivID:   arxivID,
		Title:     "Some Paper " + arxivID,
		Authors:   []string{"Alice"},
		Summary:   "An abstract about detection.",
		Published: time.Now(),
	}
}

// fullOpts 构造一个带预解析产物的完整入库选项，每个入参是一个正文块。
func fullOpts(chunks ...string) ProcessOptions {
	blocks := make([]parser.Block, len(chunks))
	for i, text := range chunks {
		blocks[i] = parser.Block{Type: parser.BlockTypeText, Text: text}
	}
	return ProcessOptions{Parsed: &ParsedDocument{Blocks: blocks}}
}

func TestProcessMetadataOnlySkipsIndexing(t *testing.T) {
	processor, repo, vectorIndex, _ := newTestProcessor(t)

	paper, err := processor.Process(context.Background(), testRecord("2401.00001"), ProcessOptions{MetadataOnly: true})
	require.NoError(t, err)
	assert.Equal(t, "2401.00001", paper.ArxivID)
	require.NotNil(t, paper.DomainID)
	require.NotNil(t, paper.TaskID)

	// 仅元数据模式不产生任何向量
	assert.Equal(t, int64(0), vectorIndex.Count())
	maxID, err := repo.GetMaxVectorID()
	require.NoError(t, err)
	assert.Equal(t, int64(-1), maxID)
}

func TestProcessFullModeIndexesSummaryFirst(t *testing.T) {
	processor, repo, vectorIndex, _ := newTestProcessor(t)

	paper, err := processor.Process(context.Background(), testRecord("2401.00001"), fullOpts("introduction text"))
	require.NoError(t, err)
	assert.Equal(t, "生成的摘要", paper.GeneratedSummary)

	// 首条向量固定为论文级摘要, 其后是按序编号的正文块
	assert.Equal(t, int64(2), vectorIndex.Count())
	metas, err := repo.FindVectorMetadataByIDs([]int64{0, 1})
	require.NoError(t, err)
	require.Len(t, metas, 2)
	assert.Equal(t, model.VectorTypeSummary, metas[0].Type)
	assert.Nil(t, metas[0].ChunkSeq)
	assert.Equal(t, model.VectorTypeRawChunk, metas[1].Type)
	require.NotNil(t, metas[1].ChunkSeq)
	assert.Equal(t, 0, *metas[1].ChunkSeq)
	assert.Equal(t, "2401.00001", metas[0].SourceID)
}

func TestProcessAllocatesContiguousIDs(t *testing.T) {
	processor, repo, vectorIndex, _ := newTestProcessor(t)

	_, err := processor.Process(context.Background(), testRecord("2401.00001"), fullOpts("chunk one"))
	require.NoError(t, err)
	_, err = processor.Process(context.Background(), testRecord("2401.00002"), fullOpts("chunk two"))
	require.NoError(t, err)

	assert.Equal(t, int64(4), vectorIndex.Count())
	maxID, err := repo.GetMaxVectorID()
	require.NoError(t, err)
	assert.Equal(t, int64(3), maxID)

	metas, err := repo.FindVectorMetadataByIDs([]int64{2})
	require.NoError(t, err)
	require.Len(t, metas, 1)
	assert.Equal(t, "2401.00002", metas[0].SourceID)
	assert.Equal(t, model.VectorTypeSummary, metas[0].Type)
}

func TestProcessDuplicateIsNoOp(t *testing.T) {
	processor, repo, vectorIndex, _ := newTestProcessor(t)

	_, err := processor.Process(context.Background(), testRecord("2401.00001"), fullOpts("chunk"))
	require.NoError(t, err)

	_, err = processor.Process(context.Background(), testRecord("2401.00001"), fullOpts("chunk"))
	assert.ErrorIs(t, err, repository.ErrDuplicatePaper)

	// 不新增任何向量或元数据
	assert.Equal(t, int64(2), vectorIndex.Count())
	maxID, err := repo.GetMaxVectorID()
	require.NoError(t, err)
	assert.Equal(t, int64(1), maxID)
}

func TestProcessUsesPrecomputedClassification(t *testing.T) {
	processor, repo, _, classifier := newTestProcessor(t)

	precomputed := model.Category{Domain: "机器人学", Task: "抓取"}
	opts := ProcessOptions{MetadataOnly: true, Classification: &precomputed, TaskDescription: "机械臂抓取"}
	paper, err := processor.Process(context.Background(), testRecord("2401.00001"), opts)
	require.NoError(t, err)

	// 预先算好的分类直接采用, 分类服务不应被再次调用
	assert.Equal(t, 0, classifier.calls)

	domains, err := repo.FindDomainsByIDs([]uint{*paper.DomainID})
	require.NoError(t, err)
	assert.Equal(t, "机器人学", domains[*paper.DomainID].Name)
	tasks, err := repo.FindTasksByIDs([]uint{*paper.TaskID})
	require.NoError(t, err)
	assert.Equal(t, "抓取", tasks[*paper.TaskID].Name)
	assert.Equal(t, "机械臂抓取", tasks[*paper.TaskID].Description)
}

func TestCheckAlignmentDetectsDrift(t *testing.T) {
	processor, _, vectorIndex, _ := newTestProcessor(t)

	require.NoError(t, processor.CheckAlignment())

	_, err := processor.Process(context.Background(), testRecord("2401.00001"), fullOpts("chunk"))
	require.NoError(t, err)
	require.NoError(t, processor.CheckAlignment())

	// 索引里凭空多出一条向量后必须报告不对齐
	_, err = vectorIndex.Add([][]float32{make([]float32, testDims)})
	require.NoError(t, err)
	assert.Error(t, processor.CheckAlignment())
}

func TestProcessReusesExistingCategory(t *testing.T) {
	processor, repo, _, _ := newTestProcessor(t)

	p1, err := processor.Process(context.Background(), testRecord("2401.00001"), ProcessOptions{MetadataOnly: true})
	require.NoError(t, err)
	p2, err := processor.Process(context.Background(), testRecord("2401.00002"), ProcessOptions{MetadataOnly: true})
	require.NoError(t, err)

	assert.Equal(t, *p1.DomainID, *p2.DomainID)
	assert.Equal(t, *p1.TaskID, *p2.TaskID)

	pairs, err := repo.GetAllCategoryPairs()
	require.NoError(t, err)
	assert.Len(t, pairs, 1)
}
