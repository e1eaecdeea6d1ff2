// Package pipeline 定义了论文入库的核心流程：分类、解析、摘要、向量化和索引写入。
package pipeline

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"gorm.io/gorm"

	"auto-arxiv-go/internal/agent"
	"auto-arxiv-go/internal/config"
	"auto-arxiv-go/internal/index"
	"auto-arxiv-go/internal/model"
	"auto-arxiv-go/internal/repository"
	"auto-arxiv-go/pkg/arxiv"
	"auto-arxiv-go/pkg/embedding"
	"auto-arxiv-go/pkg/log"
	"auto-arxiv-go/pkg/parser"
	"auto-arxiv-go/pkg/rerank"
)

// 向量元数据中内容预览的最大长度。
const previewMaxChars = 200

// ParsedDocument 是一篇论文经下载和解析后的本地产物。
type ParsedDocument struct {
	PDFPath            string
	StructuredTextPath string
	Blocks             []parser.Block
}

// ProcessOptions 控制一次论文入库的行为。
type ProcessOptions struct {
	// MetadataOnly 为 true 时只写论文记录和分类，不解析也不向量化。
	MetadataOnly bool
	// Classification 非空时直接采用，不再调用分类服务。
	Classification  *model.Category
	TaskDescription string
	// Parsed 非空时复用已下载解析好的产物，不再重复下载和解析。
	Parsed *ParsedDocument
}

// Processor 封装了论文入库的所有依赖和逻辑。
type Processor struct {
	storageCfg      config.StorageConfig
	settings        *config.SettingsManager
	arxivClient     *arxiv.Client
	parserClient    *parser.Client
	embeddingClient embedding.Client
	rerankClient    rerank.Client
	classifier      agent.Classifier
	summarizer      agent.Summarizer
	metadataRepo    repository.MetadataRepository
	vectorIndex     *index.FlatIndex

	// 保护 "读取最大向量ID -> 写元数据 -> 追加索引" 的临界区，
	// 保证向量元数据主键与索引偏移量严格一致。
	indexMu sync.Mutex
}

// NewProcessor 创建一个新的 Processor 实例。
func NewProcessor(
	storageCfg config.StorageConfig,
	settings *config.SettingsManager,
	arxivClient *arxiv.Client,
	parserClient *parser.Client,
	embeddingClient embedding.Client,
	rerankClient rerank.Client,
	classifier agent.Classifier,
	summarizer agent.Summarizer,
	metadataRepo repository.MetadataRepository,
	vectorIndex *index.FlatIndex,
) *Processor {
	return &Processor{
		storageCfg:      storageCfg,
		settings:        settings,
		arxivClient:     arxivClient,
		parserClient:    parserClient,
		embeddingClient: embeddingClient,
		rerankClient:    rerankClient,
		classifier:      classifier,
		summarizer:      summarizer,
		metadataRepo:    metadataRepo,
		vectorIndex:     vectorIndex,
	}
}

// CheckAlignment 校验向量索引与元数据表是否对齐。
// 两者由不同文件承载，任何一侧落后都说明发生过部分写入，必须人工介入。
func (p *Processor) CheckAlignment() error {
	maxID, err := p.metadataRepo.GetMaxVectorID()
	if err != nil {
		return fmt.Errorf("读取最大向量ID失败: %w", err)
	}
	count := p.vectorIndex.Count()
	if count != maxID+1 {
		return fmt.Errorf("向量索引与元数据不对齐: 索引 %d 条, 元数据最大ID %d", count, maxID)
	}
	return nil
}

// Process 执行一篇论文的入库。已存在的论文返回 repository.ErrDuplicatePaper。
// 仅元数据模式只写论文记录和分类，不产生任何向量。
func (p *Processor) Process(ctx context.Context, rec arxiv.Record, opts ProcessOptions) (*model.Paper, error) {
	log.Infof("[Processor] 开始处理论文, arXiv ID: %s, 标题: %s", rec.ArxivID, rec.Title)

	// 1. 幂等检查
	if _, err := p.metadataRepo.FindPaperByArxivID(rec.ArxivID); err == nil {
		log.Infof("[Processor] 论文已存在, 跳过: %s", rec.ArxivID)
		return nil, repository.ErrDuplicatePaper
	}

	// 2. 确定分类：调用方预先算好的分类直接采用
	log.Info("[Processor] 步骤1: 确定论文分类")
	category, taskDesc := model.Category{}, ""
	if opts.Classification != nil {
		category, taskDesc = *opts.Classification, opts.TaskDescription
	} else {
		var err error
		category, taskDesc, err = p.ClassifyRecord(ctx, rec)
		if err != nil {
			return nil, fmt.Errorf("论文分类失败: %w", err)
		}
	}
	log.Infof("[Processor] 分类结果: %s / %s", category.Domain, category.Task)

	domain, err := p.metadataRepo.GetOrCreateDomain(nil, category.Domain, "")
	if err != nil {
		return nil, fmt.Errorf("获取领域失败: %w", err)
	}
	task, err := p.metadataRepo.GetOrCreateTask(nil, domain.ID, category.Task, taskDesc)
	if err != nil {
		return nil, fmt.Errorf("获取任务失败: %w", err)
	}

	paper := &model.Paper{
		ArxivID:       rec.ArxivID,
		Title:         rec.Title,
		Authors:       model.StringList(rec.Authors),
		Summary:       rec.Summary,
		PublishedDate: rec.Published,
		AddedDate:     time.Now(),
		DomainID:      &domain.ID,
		TaskID:        &task.ID,
	}

	// 3. 全文处理
	var chunks []string
	if !opts.MetadataOnly {
		chunks, err = p.processFullText(ctx, rec, paper, opts.Parsed)
		if err != nil {
			return nil, err
		}
	}

	// 4. 创建论文记录
	log.Info("[Processor] 步骤4: 写入论文记录")
	if err := p.metadataRepo.CreatePaper(nil, paper); err != nil {
		p.cleanupFiles(paper)
		return nil, err
	}

	if opts.MetadataOnly {
		log.Infof("[Processor] 仅元数据入库完成: %s", rec.ArxivID)
		return paper, nil
	}

	// 5. 向量化并写入索引
	log.Info("[Processor] 步骤5: 向量化并写入索引")
	if err := p.indexPaper(ctx, paper, domain.ID, task.ID, chunks); err != nil {
		return nil, fmt.Errorf("论文向量化失败: %w", err)
	}

	// 每篇论文处理完立即持久化索引，缩小崩溃时的数据窗口
	if err := p.vectorIndex.Save(p.storageCfg.IndexPath); err != nil {
		log.Error("[Processor] 向量索引持久化失败", err)
	}

	log.Infof("[Processor] 论文处理完成: %s", rec.ArxivID)
	return paper, nil
}

// ClassifyRecord 对一篇论文做检索增强分类：先用已入库的相似论文做参考样例，
// 再交给分类服务在现有分类体系内裁定。
func (p *Processor) ClassifyRecord(ctx context.Context, rec arxiv.Record) (model.Category, string, error) {
	refs, err := p.retrieveReferences(ctx, rec)
	if err != nil {
		log.Warnf("[Processor] 检索分类参考样例失败, 退化为无参考分类: %v", err)
		refs = nil
	}
	known, err := p.metadataRepo.GetAllCategoryPairs()
	if err != nil {
		return model.Category{}, "", fmt.Errorf("加载分类体系失败: %w", err)
	}
	return p.classifier.Classify(ctx, rec.Title, rec.Summary, known, refs)
}

// FetchAndParse 下载论文 PDF 并解析为结构化内容块，解析结果落盘为 JSON。
// 解析或落盘失败时清理已下载的文件。
func (p *Processor) FetchAndParse(ctx context.Context, rec arxiv.Record) (*ParsedDocument, error) {
	pdfPath, err := p.arxivClient.DownloadPDF(ctx, rec, p.storageCfg.PaperPDFDir)
	if err != nil {
		return nil, fmt.Errorf("下载 PDF 失败: %w", err)
	}

	blocks, err := p.parserClient.ParseFile(ctx, pdfPath)
	if err != nil {
		_ = os.Remove(pdfPath)
		return nil, fmt.Errorf("解析 PDF 失败: %w", err)
	}

	structuredPath, err := p.saveStructuredData(rec.ArxivID, blocks)
	if err != nil {
		_ = os.Remove(pdfPath)
		return nil, err
	}
	return &ParsedDocument{
		PDFPath:            pdfPath,
		StructuredTextPath: structuredPath,
		Blocks:             blocks,
	}, nil
}

// processFullText 准备全文内容并生成摘要，返回用于向量化的文本块。
// doc 为空时现场下载解析。
func (p *Processor) processFullText(ctx context.Context, rec arxiv.Record, paper *model.Paper, doc *ParsedDocument) ([]string, error) {
	log.Info("[Processor] 步骤2: 准备全文内容")
	if doc == nil {
		var err error
		doc, err = p.FetchAndParse(ctx, rec)
		if err != nil {
			return nil, err
		}
	}
	paper.PDFPath = doc.PDFPath
	paper.StructuredTextPath = doc.StructuredTextPath

	chunks := chunksFromBlocks(doc.Blocks)
	if len(chunks) == 0 {
		log.Warnf("[Processor] 解析结果中没有文本内容, 退化为仅索引官方摘要: %s", rec.ArxivID)
		return nil, nil
	}

	log.Info("[Processor] 步骤3: 生成全文摘要")
	generated, err := p.summarizer.Summarize(ctx, rec.Title, chunks)
	if err != nil {
		// 摘要失败不阻断入库，检索时退化为使用官方摘要
		log.Error("[Processor] 生成全文摘要失败", err)
	} else {
		paper.GeneratedSummary = generated
	}
	return chunks, nil
}

// indexPaper 把论文的摘要向量和全文块向量写入元数据表和索引。
// 首条向量固定为论文级摘要，其余为全文块，块序号按全文块自身的顺序编号。
func (p *Processor) indexPaper(ctx context.Context, paper *model.Paper, domainID, taskID uint, chunks []string) error {
	summaryText := paper.GeneratedSummary
	if summaryText == "" {
		summaryText = paper.Summary
	}
	texts := append([]string{summaryText}, chunks...)

	batchSize := p.settings.Current().EmbeddingBatchSize
	for start := 0; start < len(texts); start += batchSize {
		end := start + batchSize
		if end > len(texts) {
			end = len(texts)
		}
		if err := p.indexBatch(ctx, paper, domainID, taskID, texts[start:end], start); err != nil {
			return err
		}
	}
	return nil
}

// indexBatch 处理一个批次：向量化、在临界区内分配 ID、先落库元数据再追加索引。
// offset 是批次首条文本在整篇论文文本序列中的位置，0 号位是论文级摘要。
func (p *Processor) indexBatch(ctx context.Context, paper *model.Paper, domainID, taskID uint, texts []string, offset int) error {
	vectors, err := p.embeddingClient.CreateEmbeddings(ctx, texts)
	if err != nil {
		return err
	}
	if len(vectors) == 0 {
		log.Warnf("[Processor] 批次向量化结果为空, 跳过该批次: %s", paper.ArxivID)
		return nil
	}

	p.indexMu.Lock()
	defer p.indexMu.Unlock()

	maxID, err := p.metadataRepo.GetMaxVectorID()
	if err != nil {
		return fmt.Errorf("读取最大向量ID失败: %w", err)
	}
	nextID := maxID + 1
	if count := p.vectorIndex.Count(); count != nextID {
		return fmt.Errorf("向量索引与元数据不对齐: 索引 %d 条, 期望 %d", count, nextID)
	}

	records := make([]*model.VectorMetadata, len(texts))
	for i, text := range texts {
		rec := &model.VectorMetadata{
			ID:             nextID + int64(i),
			SourceID:       paper.ArxivID,
			DomainID:       domainID,
			TaskID:         taskID,
			ContentPreview: truncatePreview(text),
		}
		if offset+i == 0 {
			rec.Type = model.VectorTypeSummary
		} else {
			rec.Type = model.VectorTypeRawChunk
			seq := offset + i - 1
			rec.ChunkSeq = &seq
		}
		records[i] = rec
	}

	// 先追加索引，再在同一事务中提交元数据：元数据提交失败时
	// 截断索引回滚，不会留下指向不存在向量的元数据行。
	startID, err := p.vectorIndex.Add(vectors)
	if err != nil {
		return fmt.Errorf("追加向量索引失败: %w", err)
	}
	if startID != nextID {
		p.vectorIndex.Truncate(nextID)
		return fmt.Errorf("向量ID分配异常: 索引返回 %d, 期望 %d", startID, nextID)
	}

	err = p.metadataRepo.Transaction(func(tx *gorm.DB) error {
		return p.metadataRepo.CreateVectorMetadata(tx, records)
	})
	if err != nil {
		p.vectorIndex.Truncate(nextID)
		return fmt.Errorf("写入向量元数据失败: %w", err)
	}
	return nil
}

// retrieveReferences 用论文摘要检索已入库的相似论文，作为分类参考样例。
// 只保留重排序得分超过阈值的论文级摘要向量，至多 5 条。
func (p *Processor) retrieveReferences(ctx context.Context, rec arxiv.Record) ([]agent.ReferenceExample, error) {
	settings := p.settings.Current()
	if p.vectorIndex.Count() == 0 {
		return nil, nil
	}

	queryVec, err := p.embeddingClient.CreateEmbedding(ctx, rec.Summary)
	if err != nil {
		return nil, err
	}
	hits, err := p.vectorIndex.Search(queryVec, settings.TopKResults)
	if err != nil {
		return nil, err
	}

	ids := make([]int64, len(hits))
	for i, h := range hits {
		ids[i] = h.ID
	}
	metas, err := p.metadataRepo.FindVectorMetadataByIDs(ids)
	if err != nil {
		return nil, err
	}

	// 只用论文级摘要向量做参考，同一篇论文只取一次
	var arxivIDs []string
	seen := make(map[string]bool)
	for _, meta := range metas {
		if meta.Type != model.VectorTypeSummary || seen[meta.SourceID] {
			continue
		}
		seen[meta.SourceID] = true
		arxivIDs = append(arxivIDs, meta.SourceID)
	}
	papers, err := p.metadataRepo.FindPapersByArxivIDs(arxivIDs)
	if err != nil {
		return nil, err
	}
	if len(papers) == 0 {
		return nil, nil
	}

	docs := make([]string, len(papers))
	for i, paper := range papers {
		docs[i] = paper.Title + "\n" + paper.Summary
	}
	scores, err := p.rerankClient.Rerank(ctx, rec.Summary, docs)
	if err != nil {
		return nil, err
	}

	categories, err := p.categoryNames(papers)
	if err != nil {
		return nil, err
	}

	var refs []agent.ReferenceExample
	for _, score := range scores {
		if score.Score <= settings.RAGReferenceThreshold {
			continue
		}
		paper := papers[score.Index]
		cat, ok := categories[paper.ArxivID]
		if !ok {
			continue
		}
		refs = append(refs, agent.ReferenceExample{Title: paper.Title, Category: cat})
		if len(refs) >= 5 {
			break
		}
	}
	return refs, nil
}

// categoryNames 批量解析论文的分类名称，未分类的论文缺席于结果。
func (p *Processor) categoryNames(papers []model.Paper) (map[string]model.Category, error) {
	var domainIDs, taskIDs []uint
	for _, paper := range papers {
		if paper.DomainID != nil && paper.TaskID != nil {
			domainIDs = append(domainIDs, *paper.DomainID)
			taskIDs = append(taskIDs, *paper.TaskID)
		}
	}
	domains, err := p.metadataRepo.FindDomainsByIDs(domainIDs)
	if err != nil {
		return nil, err
	}
	tasks, err := p.metadataRepo.FindTasksByIDs(taskIDs)
	if err != nil {
		return nil, err
	}

	result := make(map[string]model.Category, len(papers))
	for _, paper := range papers {
		if paper.DomainID == nil || paper.TaskID == nil {
			continue
		}
		domain, okD := domains[*paper.DomainID]
		task, okT := tasks[*paper.TaskID]
		if !okD || !okT {
			continue
		}
		result[paper.ArxivID] = model.Category{Domain: domain.Name, Task: task.Name}
	}
	return result, nil
}

// saveStructuredData 把解析出的结构化内容块保存为 JSON 文件。
func (p *Processor) saveStructuredData(arxivID string, blocks []parser.Block) (string, error) {
	if err := os.MkdirAll(p.storageCfg.StructuredDataDir, os.ModePerm); err != nil {
		return "", fmt.Errorf("创建结构化数据目录失败: %w", err)
	}
	path := filepath.Join(p.storageCfg.StructuredDataDir, strings.ReplaceAll(arxivID, "/", "_")+".json")
	data, err := json.MarshalIndent(blocks, "", "  ")
	if err != nil {
		return "", fmt.Errorf("序列化结构化数据失败: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return "", fmt.Errorf("写入结构化数据文件失败: %w", err)
	}
	return path, nil
}

// cleanupFiles 删除处理中途产生的本地文件，入库失败时调用。
func (p *Processor) cleanupFiles(paper *model.Paper) {
	for _, path := range []string{paper.PDFPath, paper.StructuredTextPath} {
		if path == "" {
			continue
		}
		if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
			log.Warnf("[Processor] 清理文件失败: %s, %v", path, err)
		}
	}
}

// chunksFromBlocks 把解析块转换为向量化文本块。
// 图片和表格块只保留标题文字，无文字的块被丢弃。
func chunksFromBlocks(blocks []parser.Block) []string {
	var chunks []string
	for _, block := range blocks {
		var text string
		switch block.Type {
		case parser.BlockTypeText:
			text = strings.TrimSpace(block.Text)
		case parser.BlockTypeImage, parser.BlockTypeTable:
			text = strings.TrimSpace(block.Caption)
		}
		if text != "" {
			chunks = append(chunks, text)
		}
	}
	return chunks
}

// truncatePreview 按字符数截断内容预览。
func truncatePreview(text string) string {
	runes := []rune(text)
	if len(runes) <= previewMaxChars {
		return text
	}
	return string(runes[:previewMaxChars])
}
