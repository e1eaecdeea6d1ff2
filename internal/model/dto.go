package model

import "time"

// QueryEvent 是查询工作流通过 WebSocket 下发的事件帧。
// Type 为 progress / error / final 三种之一；Data 仅在 final 帧携带。
type QueryEvent struct {
	Type    string       `json:"type"`
	Message string       `json:"message,omitempty"`
	Data    *QueryResult `json:"data,omitempty"`
}

// QueryResult 是查询工作流的最终结果。
type QueryResult struct {
	Answer  string         `json:"answer"`
	Sources []SourceRecord `json:"sources"`
}

// SourceRecord 是返回给调用方的单条来源记录，按 arxiv_id 去重。
type SourceRecord struct {
	ArxivID string   `json:"arxivId"`
	Title   string   `json:"title"`
	Authors []string `json:"authors"`
	Summary string   `json:"summary"`
	PDFURL  string   `json:"pdfUrl"`
}

// WorkflowResult 是工作流级函数返回给 API 层的结构化结果。
type WorkflowResult struct {
	Message         string `json:"message"`
	PapersProcessed int    `json:"papersProcessed"`
	PapersSkipped   int    `json:"papersSkipped"`
}

// ReportEntry 是工作流报告中一篇已入库论文的摘要信息。
type ReportEntry struct {
	ArxivID string `json:"arxivId"`
	Title   string `json:"title"`
	Domain  string `json:"domain"`
	Task    string `json:"task"`
}

// DailyReport 是一次每日工作流运行的结构化报告，以 JSON 文件形式归档。
type DailyReport struct {
	Date          string          `json:"date"`
	GeneratedAt   time.Time       `json:"generatedAt"`
	Processed     []ReportEntry   `json:"processed"`
	Skipped       int             `json:"skipped"`
	Rejected      int             `json:"rejected"`
	AppliedMerges []MergeProposal `json:"appliedMerges"`
}

// Preferences 是用户偏好文件的内容：关注的分类对列表和可选的自由文本研究计划。
// 每日工作流用两者之一判断论文是否值得入库。
type Preferences struct {
	SelectedCategories []Category `json:"selected_categories"`
	ResearchPlan       string     `json:"research_plan,omitempty"`
}
