// Package model 定义了与数据库表对应的 Go 结构体。
package model

// Domain 对应 domains 表，表示一个高层研究领域。
type Domain struct {
	ID          uint   `gorm:"primaryKey;autoIncrement"`
	Name        string `gorm:"type:text;not null;uniqueIndex"`
	Description string `gorm:"type:text"`
}

func (Domain) TableName() string {
	return "domains"
}

// Task 对应 tasks 表，表示领域下的具体研究任务。
// 任务名在领域内唯一：同名任务可以出现在不同领域下。
type Task struct {
	ID                   uint   `gorm:"primaryKey;autoIncrement"`
	Name                 string `gorm:"type:text;not null;uniqueIndex:idx_task_name_domain"`
	DomainID             uint   `gorm:"not null;uniqueIndex:idx_task_name_domain"`
	Description          string `gorm:"type:text"`
	RepresentativePapers string `gorm:"type:text"`
}

func (Task) TableName() string {
	return "tasks"
}

// Category 表示一个 (domain, task) 分类对，是分类体系 API 与合并建议的基本单位。
type Category struct {
	Domain string `json:"domain"`
	Task   string `json:"task"`
}

// MergeProposal 表示一条由整合引擎产出的分类合并建议。
type MergeProposal struct {
	From   Category `json:"from"`
	To     Category `json:"to"`
	Reason string   `json:"reason"`
}
