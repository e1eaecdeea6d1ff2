package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"auto-arxiv-go/internal/agent"
	"auto-arxiv-go/internal/config"
	"auto-arxiv-go/internal/model"
	"auto-arxiv-go/internal/pipeline"
	"auto-arxiv-go/internal/repository"
	"auto-arxiv-go/internal/taxonomy"
	"auto-arxiv-go/pkg/arxiv"
	"auto-arxiv-go/pkg/log"
	"auto-arxiv-go/pkg/parser"
)

// DailyService 接口定义了定时入库相关的工作流。
type DailyService interface {
	// RunDaily 执行每日工作流：拉取新论文、两级过滤、入库、分类体系整合、生成报告。
	// 当天已经运行过时直接返回，不重复入库。
	RunDaily(ctx context.Context) (*model.WorkflowResult, error)
	// RunCategoryCollection 为现有分类补充代表性论文，以仅元数据方式入库。
	RunCategoryCollection(ctx context.Context) (*model.WorkflowResult, error)
	// ListReports 返回已归档的报告文件名，按日期倒序。
	ListReports() ([]string, error)
	// GetReport 读取一份归档报告。
	GetReport(name string) (*model.DailyReport, error)
}

type dailyService struct {
	storageCfg        config.StorageConfig
	dailyCfg          config.DailyConfig
	settings          *config.SettingsManager
	arxivClient       *arxiv.Client
	queryAgent        agent.QueryAgent
	processor         *pipeline.Processor
	metadataRepo      repository.MetadataRepository
	consolidator      taxonomy.Consolidator
	merger            taxonomy.Merger
	preferenceService PreferenceService
}

// NewDailyService 创建一个新的 DailyService 实例。
func NewDailyService(
	storageCfg config.StorageConfig,
	dailyCfg config.DailyConfig,
	settings *config.SettingsManager,
	arxivClient *arxiv.Client,
	queryAgent agent.QueryAgent,
	processor *pipeline.Processor,
	metadataRepo repository.MetadataRepository,
	consolidator taxonomy.Consolidator,
	merger taxonomy.Merger,
	preferenceService PreferenceService,
) DailyService {
	return &dailyService{
		storageCfg:        storageCfg,
		dailyCfg:          dailyCfg,
		settings:          settings,
		arxivClient:       arxivClient,
		queryAgent:        queryAgent,
		processor:         processor,
		metadataRepo:      metadataRepo,
		consolidator:      consolidator,
		merger:            merger,
		preferenceService: preferenceService,
	}
}

// RunDaily 执行每日工作流。
func (s *dailyService) RunDaily(ctx context.Context) (*model.WorkflowResult, error) {
	log.Info("[DailyService] 开始执行每日工作流")
	settings := s.settings.Current()

	// 幂等保护：当天已有论文入库则认为已执行过
	today := time.Now().Truncate(24 * time.Hour)
	count, err := s.metadataRepo.CountPapersAddedSince(today)
	if err != nil {
		return nil, fmt.Errorf("检查当日入库状态失败: %w", err)
	}
	if count > 0 {
		log.Infof("[DailyService] 当天已入库 %d 篇论文, 跳过本次运行", count)
		return &model.WorkflowResult{Message: "今日工作流已执行过"}, nil
	}

	prefs, err := s.preferenceService.GetPreferences()
	if err != nil {
		return nil, err
	}
	if len(prefs.SelectedCategories) == 0 && prefs.ResearchPlan == "" {
		log.Info("[DailyService] 未配置偏好分类和研究计划, 跳过本次运行")
		return &model.WorkflowResult{Message: "未配置偏好分类或研究计划"}, nil
	}

	log.Info("[DailyService] 步骤1: 拉取最近 24 小时的新论文")
	end := time.Now()
	start := end.Add(-24 * time.Hour)
	records, err := s.arxivClient.FetchByDateWindow(ctx, settings.DefaultArxivDomains, start, end, 0)
	if err != nil {
		return nil, fmt.Errorf("拉取新论文失败: %w", err)
	}
	log.Infof("[DailyService] 拉取到 %d 篇候选论文", len(records))

	report := &model.DailyReport{
		Date:        today.Format("2006-01-02"),
		GeneratedAt: time.Now(),
		Processed:   []model.ReportEntry{},
	}

	log.Info("[DailyService] 步骤2: 兴趣过滤")
	candidates := s.interestFilter(ctx, records, prefs, report)

	log.Infof("[DailyService] 步骤3: 质量过滤并入库, 候选 %d 篇", len(candidates))
	for _, cand := range candidates {
		if len(report.Processed) >= settings.DailyPaperProcessLimit {
			log.Infof("[DailyService] 达到每日入库上限 %d, 停止处理", settings.DailyPaperProcessLimit)
			break
		}

		doc, err := s.processor.FetchAndParse(ctx, cand.rec)
		if err != nil {
			log.Error(fmt.Sprintf("[DailyService] 下载解析失败, 跳过论文: %s", cand.rec.ArxivID), err)
			report.Skipped++
			continue
		}

		// 质量过滤：作者署名或解析出的正文首段必须命中强团队/强作者名单
		if !s.matchesAllowList(cand.rec, doc.Blocks) {
			log.Infof("[DailyService] 论文未命中白名单, 拒绝: %s", cand.rec.ArxivID)
			s.removeLocalFiles(cand.rec.ArxivID)
			report.Rejected++
			continue
		}

		category := cand.category
		paper, err := s.processor.Process(ctx, cand.rec, pipeline.ProcessOptions{
			Classification:  &category,
			TaskDescription: cand.taskDesc,
			Parsed:          doc,
		})
		if err != nil {
			if !errors.Is(err, repository.ErrDuplicatePaper) {
				log.Error(fmt.Sprintf("[DailyService] 论文入库失败: %s", cand.rec.ArxivID), err)
			}
			s.removeLocalFiles(cand.rec.ArxivID)
			report.Skipped++
			continue
		}
		report.Processed = append(report.Processed, s.reportEntry(paper))
	}

	log.Info("[DailyService] 步骤3: 整合分类体系")
	if err := s.consolidate(ctx, report); err != nil {
		// 整合失败不回滚已入库的论文
		log.Error("[DailyService] 分类体系整合失败", err)
	}

	log.Info("[DailyService] 步骤4: 归档工作流报告")
	if err := s.writeReport(report); err != nil {
		log.Error("[DailyService] 报告归档失败", err)
	}

	result := &model.WorkflowResult{
		Message:         "每日工作流执行完成",
		PapersProcessed: len(report.Processed),
		PapersSkipped:   report.Skipped + report.Rejected,
	}
	log.Infof("[DailyService] 每日工作流完成, 入库 %d 篇, 跳过 %d 篇, 拒绝 %d 篇",
		len(report.Processed), report.Skipped, report.Rejected)
	return result, nil
}

// stage1Candidate 是通过兴趣过滤的一篇候选论文及其分类结果。
// 分类传递给入库管道复用，避免同一篇论文被分类两次。
type stage1Candidate struct {
	rec      arxiv.Record
	category model.Category
	taskDesc string
}

// interestFilter 对候选论文做兴趣过滤：先做检索增强分类，分类命中用户
// 偏好的直接保留，未命中但配置了研究计划的再做相关性判断。
// 已入库的论文在这里直接跳过，不再消耗分类调用。
func (s *dailyService) interestFilter(ctx context.Context, records []arxiv.Record, prefs model.Preferences, report *model.DailyReport) []stage1Candidate {
	selected := make(map[model.Category]bool, len(prefs.SelectedCategories))
	for _, cat := range prefs.SelectedCategories {
		selected[cat] = true
	}

	var candidates []stage1Candidate
	for _, rec := range records {
		if _, err := s.metadataRepo.FindPaperByArxivID(rec.ArxivID); err == nil {
			report.Skipped++
			continue
		}

		category, taskDesc, err := s.processor.ClassifyRecord(ctx, rec)
		if err != nil {
			log.Error(fmt.Sprintf("[DailyService] 论文分类失败, 跳过: %s", rec.ArxivID), err)
			report.Skipped++
			continue
		}

		keep := selected[category]
		if !keep && prefs.ResearchPlan != "" {
			relevant, err := s.queryAgent.EvaluateRelevance(ctx, rec.Title, rec.Summary, prefs.ResearchPlan)
			if err != nil {
				log.Error(fmt.Sprintf("[DailyService] 相关性评估失败, 跳过: %s", rec.ArxivID), err)
				report.Skipped++
				continue
			}
			keep = relevant
		}
		if !keep {
			log.Infof("[DailyService] 论文不在兴趣范围内, 跳过: %s (%s / %s)", rec.ArxivID, category.Domain, category.Task)
			report.Skipped++
			continue
		}
		candidates = append(candidates, stage1Candidate{rec: rec, category: category, taskDesc: taskDesc})
	}
	return candidates
}

// consolidate 执行分类整合并同步派生文件。
func (s *dailyService) consolidate(ctx context.Context, report *model.DailyReport) error {
	proposals, err := s.consolidator.ProposeMerges(ctx, s.settings.Current().ClusterDistance)
	if err != nil {
		return err
	}
	if len(proposals) == 0 {
		return s.preferenceService.RegenerateCategoriesFile()
	}
	applied, err := s.merger.Apply(proposals)
	if err != nil {
		return err
	}
	report.AppliedMerges = applied
	return s.preferenceService.RemapAfterMerges(applied)
}

// RunCategoryCollection 为分类体系中的每个任务检索代表性论文并以仅元数据方式入库。
func (s *dailyService) RunCategoryCollection(ctx context.Context) (*model.WorkflowResult, error) {
	log.Info("[DailyService] 开始执行分类论文补充工作流")
	settings := s.settings.Current()

	categories, err := s.metadataRepo.GetAllCategoryPairs()
	if err != nil {
		return nil, fmt.Errorf("加载分类体系失败: %w", err)
	}
	if len(categories) == 0 {
		return &model.WorkflowResult{Message: "分类体系为空, 无需补充"}, nil
	}

	cutoff := time.Now().AddDate(-settings.CollectionYearsWindow, 0, 0)
	processed, skipped := 0, 0
	for _, cat := range categories {
		log.Infof("[DailyService] 为分类补充论文: %s / %s", cat.Domain, cat.Task)
		records, err := s.arxivClient.Search(ctx, cat.Task, settings.CollectionCount*2)
		if err != nil {
			log.Error(fmt.Sprintf("[DailyService] 分类检索失败: %s", cat.Task), err)
			continue
		}

		added := 0
		for _, rec := range records {
			if added >= settings.CollectionCount {
				break
			}
			if rec.Published.Before(cutoff) {
				continue
			}
			if _, err := s.processor.Process(ctx, rec, pipeline.ProcessOptions{MetadataOnly: true}); err != nil {
				if !errors.Is(err, repository.ErrDuplicatePaper) {
					log.Error(fmt.Sprintf("[DailyService] 补充论文入库失败: %s", rec.ArxivID), err)
				}
				skipped++
				continue
			}
			processed++
			added++
		}
	}

	if err := s.preferenceService.RegenerateCategoriesFile(); err != nil {
		log.Error("[DailyService] 重写分类目录文件失败", err)
	}

	log.Infof("[DailyService] 分类论文补充完成, 入库 %d 篇, 跳过 %d 篇", processed, skipped)
	return &model.WorkflowResult{
		Message:         "分类论文补充完成",
		PapersProcessed: processed,
		PapersSkipped:   skipped,
	}, nil
}

// ListReports 返回报告目录下的所有报告文件名，按名称倒序即按日期倒序。
func (s *dailyService) ListReports() ([]string, error) {
	entries, err := os.ReadDir(s.storageCfg.ReportsDir)
	if os.IsNotExist(err) {
		return []string{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("读取报告目录失败: %w", err)
	}
	var names []string
	for _, entry := range entries {
		if !entry.IsDir() && strings.HasSuffix(entry.Name(), ".json") {
			names = append(names, entry.Name())
		}
	}
	sort.Sort(sort.Reverse(sort.StringSlice(names)))
	return names, nil
}

// GetReport 读取一份归档报告。文件名不允许包含路径分隔符。
func (s *dailyService) GetReport(name string) (*model.DailyReport, error) {
	if name != filepath.Base(name) {
		return nil, fmt.Errorf("非法的报告文件名: %s", name)
	}
	data, err := os.ReadFile(filepath.Join(s.storageCfg.ReportsDir, name))
	if err != nil {
		return nil, fmt.Errorf("读取报告失败: %w", err)
	}
	var report model.DailyReport
	if err := json.Unmarshal(data, &report); err != nil {
		return nil, fmt.Errorf("解析报告失败: %w", err)
	}
	return &report, nil
}

// matchesAllowList 判断论文是否命中强团队或强作者名单。
// 作者取自书目信息，机构署名从解析出的正文开头提取，两者命中其一即通过。
func (s *dailyService) matchesAllowList(rec arxiv.Record, blocks []parser.Block) bool {
	for _, author := range rec.Authors {
		for _, strong := range s.dailyCfg.StrongAuthors {
			if strings.EqualFold(author, strong) {
				return true
			}
		}
	}

	head := headText(blocks)
	for _, team := range s.dailyCfg.StrongTeams {
		if strings.Contains(head, strings.ToLower(team)) {
			return true
		}
	}
	for _, strong := range s.dailyCfg.StrongAuthors {
		if strings.Contains(head, strings.ToLower(strong)) {
			return true
		}
	}
	return false
}

// 作者与机构署名出现在论文首页，只扫描开头的内容块。
const headBlockCount = 8

// headText 拼接论文开头若干内容块的文本并转为小写。
func headText(blocks []parser.Block) string {
	var sb strings.Builder
	for i, block := range blocks {
		if i >= headBlockCount {
			break
		}
		sb.WriteString(block.Text)
		sb.WriteString(" ")
		sb.WriteString(block.Caption)
		sb.WriteString(" ")
	}
	return strings.ToLower(sb.String())
}

// removeLocalFiles 删除一篇被拒论文可能已经落盘的 PDF 和结构化数据文件。
func (s *dailyService) removeLocalFiles(arxivID string) {
	base := strings.ReplaceAll(arxivID, "/", "_")
	for _, path := range []string{
		filepath.Join(s.storageCfg.PaperPDFDir, base+".pdf"),
		filepath.Join(s.storageCfg.StructuredDataDir, base+".json"),
	} {
		if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
			log.Warnf("[DailyService] 删除被拒论文文件失败: %s, %v", path, err)
		}
	}
}

// reportEntry 把一篇已入库论文转换为报告条目。
func (s *dailyService) reportEntry(paper *model.Paper) model.ReportEntry {
	entry := model.ReportEntry{ArxivID: paper.ArxivID, Title: paper.Title}
	if paper.DomainID != nil {
		if domains, err := s.metadataRepo.FindDomainsByIDs([]uint{*paper.DomainID}); err == nil {
			entry.Domain = domains[*paper.DomainID].Name
		}
	}
	if paper.TaskID != nil {
		if tasks, err := s.metadataRepo.FindTasksByIDs([]uint{*paper.TaskID}); err == nil {
			entry.Task = tasks[*paper.TaskID].Name
		}
	}
	return entry
}

// writeReport 把报告写入报告目录，文件名为日期。
func (s *dailyService) writeReport(report *model.DailyReport) error {
	return writeJSONFile(filepath.Join(s.storageCfg.ReportsDir, report.Date+".json"), report)
}
