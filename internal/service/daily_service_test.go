package service

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"auto-arxiv-go/internal/agent"
	"auto-arxiv-go/internal/config"
	"auto-arxiv-go/internal/index"
	"auto-arxiv-go/internal/model"
	"auto-arxiv-go/internal/pipeline"
	"auto-arxiv-go/internal/repository"
	"auto-arxiv-go/pkg/arxiv"
	"auto-arxiv-go/pkg/parser"
)

// stubClassifier 固定返回一个分类并统计调用次数。
type stubClassifier struct {
	category model.Category
	calls    int
}

func (s *stubClassifier) Classify(context.Context, string, string, []model.Category, []agent.ReferenceExample) (model.Category, string, error) {
	s.calls++
	return s.category, "desc", nil
}

func (s *stubClassifier) PartitionSynonymSubsets(context.Context, []model.Category) ([][]model.Category, error) {
	return nil, nil
}

func (s *stubClassifier) ArbitrateCanonical(context.Context, []model.Category) (model.Category, error) {
	return model.Category{}, nil
}

type stubSummarizer struct{}

func (s *stubSummarizer) Summarize(context.Context, string, []string) (string, error) {
	return "全文摘要", nil
}

type stubConsolidator struct{}

func (s *stubConsolidator) ProposeMerges(context.Context, float64) ([]model.MergeProposal, error) {
	return nil, nil
}

type stubMerger struct{}

func (s *stubMerger) Apply([]model.MergeProposal) ([]model.MergeProposal, error) {
	return nil, nil
}

const dailyTestArxivID = "2408.00001v1"

// dailyHarness 把每日工作流的全部依赖搭在一个测试 HTTP 服务上:
// /query 返回一篇候选论文的 Atom feed, /pdf 提供 PDF 字节, /parse 返回 blocks。
type dailyHarness struct {
	svc        DailyService
	prefSvc    PreferenceService
	repo       repository.MetadataRepository
	classifier *stubClassifier
	storageCfg config.StorageConfig
	blocks     []parser.Block
}

func newDailyHarness(t *testing.T, category model.Category) *dailyHarness {
	t.Helper()
	h := &dailyHarness{
		repo:       newTestMetadataRepo(t),
		classifier: &stubClassifier{category: category},
	}

	mux := http.NewServeMux()
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)

	mux.HandleFunc("/query", func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("start") != "0" {
			fmt.Fprint(w, `<feed xmlns="http://www.w3.org/2005/Atom"></feed>`)
			return
		}
		fmt.Fprintf(w, `<feed xmlns="http://www.w3.org/2005/Atom">
  <entry>
    <id>http://arxiv.org/abs/%s</id>
    <title>Learning Robotic Grasping</title>
    <summary>A study of robotic grasping policies.</summary>
    <published>%s</published>
    <author><name>Alice</name></author>
    <link title="pdf" href="%s/pdf"/>
  </entry>
</feed>`, dailyTestArxivID, time.Now().UTC().Format(time.RFC3339), srv.URL)
	})
	mux.HandleFunc("/pdf", func(w http.ResponseWriter, _ *http.Request) {
		fmt.Fprint(w, "%PDF-1.4 fake")
	})
	mux.HandleFunc("/parse", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(h.blocks)
	})

	dir := t.TempDir()
	h.storageCfg = config.StorageConfig{
		PaperPDFDir:       filepath.Join(dir, "pdfs"),
		StructuredDataDir: filepath.Join(dir, "structured"),
		ReportsDir:        filepath.Join(dir, "reports"),
		IndexPath:         filepath.Join(dir, "vectors.idx"),
		CategoriesPath:    filepath.Join(dir, "categories.json"),
		PreferencesPath:   filepath.Join(dir, "user_preferences.json"),
		SettingsOverride:  filepath.Join(dir, "settings_override.json"),
	}
	settings := config.NewSettingsManager(h.storageCfg.SettingsOverride)
	arxivClient := arxiv.NewClient(config.ArxivConfig{BaseURL: srv.URL, TimeoutSeconds: 5})
	parserClient := parser.NewClient(config.ParserConfig{ServerURL: srv.URL, TimeoutSeconds: 5})

	processor := pipeline.NewProcessor(
		h.storageCfg, settings, arxivClient, parserClient,
		&stubEmbedding{}, &stubRerank{}, h.classifier, &stubSummarizer{},
		h.repo, index.NewFlatIndex(testDims),
	)
	h.prefSvc = NewPreferenceService(h.storageCfg, h.repo)
	h.svc = NewDailyService(
		h.storageCfg,
		config.DailyConfig{StrongTeams: []string{"DeepMind"}, StrongAuthors: []string{"Kaiming He"}},
		settings, arxivClient, &stubQueryAgent{}, processor, h.repo,
		&stubConsolidator{}, &stubMerger{}, h.prefSvc,
	)
	return h
}

// selectTranslation 把偏好设为只关注 自然语言处理 / 机器翻译。
func (h *dailyHarness) selectTranslation(t *testing.T) {
	t.Helper()
	seedCategory(t, h.repo, "自然语言处理", "机器翻译")
	require.NoError(t, h.prefSvc.UpdatePreferences(model.Preferences{
		SelectedCategories: []model.Category{{Domain: "自然语言处理", Task: "机器翻译"}},
	}))
}

func TestRunDailyWithoutPreferencesDoesNothing(t *testing.T) {
	h := newDailyHarness(t, model.Category{Domain: "机器人学", Task: "抓取"})

	result, err := h.svc.RunDaily(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "未配置偏好分类或研究计划", result.Message)
	assert.Equal(t, 0, h.classifier.calls)

	count, err := h.repo.CountPapers()
	require.NoError(t, err)
	assert.Zero(t, count)
}

func TestRunDailySkipsPaperOutsidePreferredCategories(t *testing.T) {
	// 候选论文被分类为 机器人学 / 抓取, 不在用户偏好里且未配置研究计划
	h := newDailyHarness(t, model.Category{Domain: "机器人学", Task: "抓取"})
	h.selectTranslation(t)

	result, err := h.svc.RunDaily(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 0, result.PapersProcessed)
	assert.Equal(t, 1, result.PapersSkipped)
	assert.Equal(t, 1, h.classifier.calls)

	_, err = h.repo.FindPaperByArxivID(dailyTestArxivID)
	assert.Error(t, err)
}

func TestRunDailyIngestsPreferredCategoryPaper(t *testing.T) {
	h := newDailyHarness(t, model.Category{Domain: "自然语言处理", Task: "机器翻译"})
	h.blocks = []parser.Block{
		{Type: parser.BlockTypeText, Text: "Alice, DeepMind. We study neural machine translation."},
	}
	h.selectTranslation(t)

	result, err := h.svc.RunDaily(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, result.PapersProcessed)
	// 兴趣过滤阶段的分类结果直接复用, 入库时不再二次分类
	assert.Equal(t, 1, h.classifier.calls)

	paper, err := h.repo.FindPaperByArxivID(dailyTestArxivID)
	require.NoError(t, err)
	require.NotNil(t, paper.DomainID)
	domains, err := h.repo.FindDomainsByIDs([]uint{*paper.DomainID})
	require.NoError(t, err)
	assert.Equal(t, "自然语言处理", domains[*paper.DomainID].Name)
	assert.FileExists(t, paper.PDFPath)
	assert.FileExists(t, paper.StructuredTextPath)
}

func TestRunDailyResearchPlanKeepsPaperOutsideCategories(t *testing.T) {
	// 分类未命中偏好, 但研究计划相关性判断放行
	h := newDailyHarness(t, model.Category{Domain: "机器人学", Task: "抓取"})
	h.blocks = []parser.Block{
		{Type: parser.BlockTypeText, Text: "Alice, DeepMind. We study robotic grasping."},
	}
	require.NoError(t, h.prefSvc.UpdatePreferences(model.Preferences{
		ResearchPlan: "研究机器人抓取策略",
	}))

	result, err := h.svc.RunDaily(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, result.PapersProcessed)
}

func TestRunDailyRejectRemovesLocalFiles(t *testing.T) {
	// 分类命中偏好但正文未提及强团队, 作者也不在名单里
	h := newDailyHarness(t, model.Category{Domain: "自然语言处理", Task: "机器翻译"})
	h.blocks = []parser.Block{
		{Type: parser.BlockTypeText, Text: "An independent study of translation."},
	}
	h.selectTranslation(t)

	result, err := h.svc.RunDaily(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 0, result.PapersProcessed)
	assert.Equal(t, 1, result.PapersSkipped)

	_, err = h.repo.FindPaperByArxivID(dailyTestArxivID)
	assert.Error(t, err)
	assert.NoFileExists(t, filepath.Join(h.storageCfg.PaperPDFDir, dailyTestArxivID+".pdf"))
	assert.NoFileExists(t, filepath.Join(h.storageCfg.StructuredDataDir, dailyTestArxivID+".json"))
}

func TestRunDailyKnownPaperSkipsClassification(t *testing.T) {
	h := newDailyHarness(t, model.Category{Domain: "自然语言处理", Task: "机器翻译"})
	h.selectTranslation(t)
	require.NoError(t, h.repo.CreatePaper(nil, &model.Paper{
		ArxivID:   dailyTestArxivID,
		Title:     "Learning Robotic Grasping",
		AddedDate: time.Now().Add(-48 * time.Hour),
	}))

	result, err := h.svc.RunDaily(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 0, result.PapersProcessed)
	// 已入库的论文在兴趣过滤前就被跳过, 不消耗分类调用
	assert.Equal(t, 0, h.classifier.calls)
}

func newBareDailyService(t *testing.T) *dailyService {
	t.Helper()
	dir := t.TempDir()
	return &dailyService{
		storageCfg: config.StorageConfig{
			ReportsDir:        filepath.Join(dir, "reports"),
			PaperPDFDir:       filepath.Join(dir, "pdfs"),
			StructuredDataDir: filepath.Join(dir, "structured"),
		},
		dailyCfg: config.DailyConfig{
			StrongTeams:   []string{"DeepMind"},
			StrongAuthors: []string{"Kaiming He"},
		},
	}
}

func TestMatchesAllowListByAuthor(t *testing.T) {
	svc := newBareDailyService(t)

	rec := arxiv.Record{Authors: []string{"Alice", "kaiming he"}}
	assert.True(t, svc.matchesAllowList(rec, nil))

	rec = arxiv.Record{Authors: []string{"Alice"}}
	assert.False(t, svc.matchesAllowList(rec, nil))
}

func TestMatchesAllowListByTeamMention(t *testing.T) {
	svc := newBareDailyService(t)

	blocks := []parser.Block{{Type: parser.BlockTypeText, Text: "Work done at DeepMind."}}
	assert.True(t, svc.matchesAllowList(arxiv.Record{}, blocks))

	blocks = []parser.Block{{Type: parser.BlockTypeText, Text: "An independent study."}}
	assert.False(t, svc.matchesAllowList(arxiv.Record{}, blocks))
}

func TestMatchesAllowListIgnoresLateMentions(t *testing.T) {
	svc := newBareDailyService(t)

	// 致谢里提到强团队不算署名, 只扫描开头的内容块
	blocks := make([]parser.Block, headBlockCount)
	for i := range blocks {
		blocks[i] = parser.Block{Type: parser.BlockTypeText, Text: "body text"}
	}
	blocks = append(blocks, parser.Block{Type: parser.BlockTypeText, Text: "We thank DeepMind."})
	assert.False(t, svc.matchesAllowList(arxiv.Record{}, blocks))
}

func TestReportArchiveRoundTrip(t *testing.T) {
	svc := newBareDailyService(t)

	report := &model.DailyReport{
		Date:        "2026-08-30",
		GeneratedAt: time.Now(),
		Processed: []model.ReportEntry{
			{ArxivID: "2401.00001", Title: "Paper", Domain: "计算机视觉", Task: "目标检测"},
		},
		Skipped: 2,
	}
	require.NoError(t, svc.writeReport(report))

	names, err := svc.ListReports()
	require.NoError(t, err)
	require.Equal(t, []string{"2026-08-30.json"}, names)

	got, err := svc.GetReport("2026-08-30.json")
	require.NoError(t, err)
	assert.Equal(t, report.Date, got.Date)
	assert.Len(t, got.Processed, 1)
	assert.Equal(t, 2, got.Skipped)
}

func TestListReportsMissingDirReturnsEmpty(t *testing.T) {
	svc := newBareDailyService(t)

	names, err := svc.ListReports()
	require.NoError(t, err)
	assert.Empty(t, names)
}

func TestGetReportRejectsPathTraversal(t *testing.T) {
	svc := newBareDailyService(t)

	_, err := svc.GetReport("../secrets.json")
	assert.Error(t, err)
}
