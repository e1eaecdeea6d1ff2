package model

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"time"
)

// StringList 以 JSON 文本形式存储在单列中的字符串数组（如作者列表）。
type StringList []string

// Value 实现 driver.Valuer 接口。
func (l StringList) Value() (driver.Value, error) {
	if l == nil {
		return "[]", nil
	}
	data, err := json.Marshal(l)
	if err != nil {
		return nil, err
	}
	return string(data), nil
}

// Scan 实现 sql.Scanner 接口。
func (l *StringList) Scan(value interface{}) error {
	if value == nil {
		*l = nil
		return nil
	}
	switch v := value.(type) {
	case []byte:
		return json.Unmarshal(v, l)
	case string:
		return json.Unmarshal([]byte(v), l)
	default:
		return fmt.Errorf("无法将 %T 解析为 StringList", value)
	}
}

// Paper 对应 papers 表。ArxivID 是论文的自然键，全表唯一。
// PDFPath 与 StructuredTextPath 在仅元数据入库模式下为空。
// GeneratedSummary 只有在摘要生成步骤成功后才会被填充。
type Paper struct {
	ID                 uint       `gorm:"primaryKey;autoIncrement"`
	ArxivID            string     `gorm:"type:text;not null;uniqueIndex"`
	Title              string     `gorm:"type:text;not null"`
	Authors            StringList `gorm:"type:text"`
	Summary            string     `gorm:"type:text"`
	GeneratedSummary   string     `gorm:"type:text"`
	PublishedDate      time.Time
	AddedDate          time.Time `gorm:"not null"`
	PDFPath            string    `gorm:"type:text"`
	StructuredTextPath string    `gorm:"type:text"`
	DomainID           *uint     `gorm:"index"`
	TaskID             *uint     `gorm:"index"`
}

func (Paper) TableName() string {
	return "papers"
}
