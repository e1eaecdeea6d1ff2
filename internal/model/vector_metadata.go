package model

// 向量元数据的类型取值。
const (
	VectorTypeSummary  = "paper_summary"
	VectorTypeRawChunk = "raw_chunk"
)

// VectorMetadata 对应 vector_metadata 表。
// ID 等于对应向量在向量索引中的零基偏移量，由入库流程在临界区内显式分配，
// 绝不能使用自增主键。记录只追加，不做原地更新或删除；分类合并只重写
// DomainID/TaskID 外键。
type VectorMetadata struct {
	ID             int64  `gorm:"primaryKey;autoIncrement:false"`
	Type           string `gorm:"type:text;not null"`
	SourceID       string `gorm:"type:text;not null;index"`
	ChunkSeq       *int   `gorm:""`
	DomainID       uint   `gorm:"index"`
	TaskID         uint   `gorm:"index"`
	ContentPreview string `gorm:"type:text"`
}

func (VectorMetadata) TableName() string {
	return "vector_metadata"
}
