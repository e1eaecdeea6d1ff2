// Package repository 定义了与数据库进行数据交换的接口和实现。
package repository

import (
	"errors"
	"strings"
	"time"

	"gorm.io/gorm"

	"auto-arxiv-go/internal/model"
)

// ErrDuplicatePaper 表示论文的 arxiv_id 已存在，调用方应将其视为幂等的空操作。
var ErrDuplicatePaper = errors.New("paper already exists")

// MetadataRepository 接口定义了领域、任务、论文和向量元数据的持久化操作。
// 所有写方法都接受一个 *gorm.DB 句柄，调用方传入事务句柄即可将多个操作
// 合并到同一事务中；传入 nil 时使用仓库自身的连接。
type MetadataRepository interface {
	// Transaction 在单个数据库事务中执行 fn，fn 返回错误时整体回滚。
	Transaction(fn func(tx *gorm.DB) error) error

	GetOrCreateDomain(tx *gorm.DB, name, description string) (*model.Domain, error)
	GetOrCreateTask(tx *gorm.DB, domainID uint, name, description string) (*model.Task, error)
	FindDomainByName(name string) (*model.Domain, error)
	FindTaskByName(domainID uint, name string) (*model.Task, error)
	GetAllCategoryPairs() ([]model.Category, error)
	FindDomainsByIDs(ids []uint) (map[uint]model.Domain, error)
	FindTasksByIDs(ids []uint) (map[uint]model.Task, error)

	CreatePaper(tx *gorm.DB, paper *model.Paper) error
	FindPaperByArxivID(arxivID string) (*model.Paper, error)
	FindPapersByArxivIDs(arxivIDs []string) ([]model.Paper, error)
	UpdatePaper(tx *gorm.DB, paper *model.Paper) error
	FindPapersByTask(domainID, taskID uint) ([]model.Paper, error)
	CountPapers() (int64, error)
	CountPapersAddedSince(since time.Time) (int64, error)
	FindRecentPapers(limit int) ([]model.Paper, error)

	GetMaxVectorID() (int64, error)
	CreateVectorMetadata(tx *gorm.DB, records []*model.VectorMetadata) error
	FindVectorMetadataByIDs(ids []int64) ([]model.VectorMetadata, error)

	// ExecuteCategoryMerge 在单个事务中把 from 分类下的所有论文和向量元数据
	// 重定向到 to 分类。不删除空壳任务，删除由 DeleteTasksByIDs 单独完成。
	ExecuteCategoryMerge(fromDomainID, fromTaskID, toDomainID, toTaskID uint) error
	// DeleteTasksByIDs 删除指定的任务，仍被论文引用的任务会被保留。
	// 返回实际删除的任务数。
	DeleteTasksByIDs(ids []uint) (int64, error)
}

// metadataRepository 是 MetadataRepository 接口的 GORM 实现。
type metadataRepository struct {
	db *gorm.DB
}

// NewMetadataRepository 创建一个新的 MetadataRepository 实例。
func NewMetadataRepository(db *gorm.DB) MetadataRepository {
	return &metadataRepository{db: db}
}

// handle 返回本次操作使用的数据库句柄。
func (r *metadataRepository) handle(tx *gorm.DB) *gorm.DB {
	if tx != nil {
		return tx
	}
	return r.db
}

// Transaction 在单个数据库事务中执行 fn。
func (r *metadataRepository) Transaction(fn func(tx *gorm.DB) error) error {
	return r.db.Transaction(fn)
}

// GetOrCreateDomain 按名称查找领域，不存在时创建。
func (r *metadataRepository) GetOrCreateDomain(tx *gorm.DB, name, description string) (*model.Domain, error) {
	db := r.handle(tx)
	var domain model.Domain
	err := db.Where("name = ?", name).First(&domain).Error
	if err == nil {
		return &domain, nil
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, err
	}
	domain = model.Domain{Name: name, Description: description}
	if err := db.Create(&domain).Error; err != nil {
		return nil, err
	}
	return &domain, nil
}

// GetOrCreateTask 在指定领域下按名称查找任务，不存在时创建。
func (r *metadataRepository) GetOrCreateTask(tx *gorm.DB, domainID uint, name, description string) (*model.Task, error) {
	db := r.handle(tx)
	var task model.Task
	err := db.Where("domain_id = ? AND name = ?", domainID, name).First(&task).Error
	if err == nil {
		return &task, nil
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, err
	}
	task = model.Task{Name: name, DomainID: domainID, Description: description}
	if err := db.Create(&task).Error; err != nil {
		return nil, err
	}
	return &task, nil
}

// FindDomainByName 根据名称查找领域。
func (r *metadataRepository) FindDomainByName(name string) (*model.Domain, error) {
	var domain model.Domain
	err := r.db.Where("name = ?", name).First(&domain).Error
	if err != nil {
		return nil, err
	}
	return &domain, nil
}

// FindTaskByName 在指定领域下根据名称查找任务。
func (r *metadataRepository) FindTaskByName(domainID uint, name string) (*model.Task, error) {
	var task model.Task
	err := r.db.Where("domain_id = ? AND name = ?", domainID, name).First(&task).Error
	if err != nil {
		return nil, err
	}
	return &task, nil
}

// GetAllCategoryPairs 返回当前分类体系中所有 (领域, 任务) 组合，按名称排序。
func (r *metadataRepository) GetAllCategoryPairs() ([]model.Category, error) {
	var pairs []model.Category
	err := r.db.Model(&model.Task{}).
		Select("domains.name AS domain, tasks.name AS task").
		Joins("JOIN domains ON domains.id = tasks.domain_id").
		Order("domains.name, tasks.name").
		Scan(&pairs).Error
	return pairs, err
}

// FindDomainsByIDs 批量查找领域，按 ID 建立映射。
func (r *metadataRepository) FindDomainsByIDs(ids []uint) (map[uint]model.Domain, error) {
	result := make(map[uint]model.Domain, len(ids))
	if len(ids) == 0 {
		return result, nil
	}
	var domains []model.Domain
	if err := r.db.Where("id IN ?", ids).Find(&domains).Error; err != nil {
		return nil, err
	}
	for _, d := range domains {
		result[d.ID] = d
	}
	return result, nil
}

// FindTasksByIDs 批量查找任务，按 ID 建立映射。
func (r *metadataRepository) FindTasksByIDs(ids []uint) (map[uint]model.Task, error) {
	result := make(map[uint]model.Task, len(ids))
	if len(ids) == 0 {
		return result, nil
	}
	var tasks []model.Task
	if err := r.db.Where("id IN ?", ids).Find(&tasks).Error; err != nil {
		return nil, err
	}
	for _, t := range tasks {
		result[t.ID] = t
	}
	return result, nil
}

// CreatePaper 创建一条论文记录。arxiv_id 冲突时返回 ErrDuplicatePaper。
func (r *metadataRepository) CreatePaper(tx *gorm.DB, paper *model.Paper) error {
	err := r.handle(tx).Create(paper).Error
	if err != nil && isUniqueViolation(err) {
		return ErrDuplicatePaper
	}
	return err
}

// FindPaperByArxivID 根据 arxiv_id 查找论文。
func (r *metadataRepository) FindPaperByArxivID(arxivID string) (*model.Paper, error) {
	var paper model.Paper
	err := r.db.Where("arxiv_id = ?", arxivID).First(&paper).Error
	if err != nil {
		return nil, err
	}
	return &paper, nil
}

// FindPapersByArxivIDs 批量查找论文，未命中的 ID 直接缺席于结果。
func (r *metadataRepository) FindPapersByArxivIDs(arxivIDs []string) ([]model.Paper, error) {
	if len(arxivIDs) == 0 {
		return nil, nil
	}
	var papers []model.Paper
	err := r.db.Where("arxiv_id IN ?", arxivIDs).Find(&papers).Error
	return papers, err
}

// UpdatePaper 更新一条已存在的论文记录。
func (r *metadataRepository) UpdatePaper(tx *gorm.DB, paper *model.Paper) error {
	return r.handle(tx).Save(paper).Error
}

// FindPapersByTask 查找指定分类下的所有论文。
func (r *metadataRepository) FindPapersByTask(domainID, taskID uint) ([]model.Paper, error) {
	var papers []model.Paper
	err := r.db.Where("domain_id = ? AND task_id = ?", domainID, taskID).Find(&papers).Error
	return papers, err
}

// CountPapers 返回论文总数。
func (r *metadataRepository) CountPapers() (int64, error) {
	var count int64
	err := r.db.Model(&model.Paper{}).Count(&count).Error
	return count, err
}

// CountPapersAddedSince 统计在 since 之后入库的论文数量。
func (r *metadataRepository) CountPapersAddedSince(since time.Time) (int64, error) {
	var count int64
	err := r.db.Model(&model.Paper{}).Where("added_date >= ?", since).Count(&count).Error
	return count, err
}

// FindRecentPapers 按入库时间倒序返回最近的论文。
func (r *metadataRepository) FindRecentPapers(limit int) ([]model.Paper, error) {
	var papers []model.Paper
	err := r.db.Order("added_date DESC").Limit(limit).Find(&papers).Error
	return papers, err
}

// GetMaxVectorID 返回 vector_metadata 表中的最大 ID，表为空时返回 -1。
func (r *metadataRepository) GetMaxVectorID() (int64, error) {
	var max *int64
	err := r.db.Model(&model.VectorMetadata{}).Select("MAX(id)").Scan(&max).Error
	if err != nil {
		return 0, err
	}
	if max == nil {
		return -1, nil
	}
	return *max, nil
}

// CreateVectorMetadata 批量写入向量元数据，ID 已由调用方分配。
func (r *metadataRepository) CreateVectorMetadata(tx *gorm.DB, records []*model.VectorMetadata) error {
	if len(records) == 0 {
		return nil
	}
	return r.handle(tx).Create(records).Error
}

// FindVectorMetadataByIDs 批量查找向量元数据，结果顺序不保证与入参一致。
func (r *metadataRepository) FindVectorMetadataByIDs(ids []int64) ([]model.VectorMetadata, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	var records []model.VectorMetadata
	err := r.db.Where("id IN ?", ids).Find(&records).Error
	return records, err
}

// ExecuteCategoryMerge 把 from 分类下的论文和向量元数据全部重定向到 to 分类。
// 两张表的更新在同一个事务中完成，保证不会出现半合并状态。
func (r *metadataRepository) ExecuteCategoryMerge(fromDomainID, fromTaskID, toDomainID, toTaskID uint) error {
	return r.db.Transaction(func(tx *gorm.DB) error {
		if err := tx.Model(&model.Paper{}).
			Where("domain_id = ? AND task_id = ?", fromDomainID, fromTaskID).
			Updates(map[string]interface{}{"domain_id": toDomainID, "task_id": toTaskID}).Error; err != nil {
			return err
		}
		return tx.Model(&model.VectorMetadata{}).
			Where("domain_id = ? AND task_id = ?", fromDomainID, fromTaskID).
			Updates(map[string]interface{}{"domain_id": toDomainID, "task_id": toTaskID}).Error
	})
}

// DeleteTasksByIDs 删除指定的任务。合并执行器只传入已经被重定向清空的
// 来源任务，仍被论文引用的任务即使在入参中也不会被删除。
func (r *metadataRepository) DeleteTasksByIDs(ids []uint) (int64, error) {
	if len(ids) == 0 {
		return 0, nil
	}
	result := r.db.Where("id IN ?", ids).
		Where("id NOT IN (SELECT DISTINCT task_id FROM papers WHERE task_id IS NOT NULL)").
		Delete(&model.Task{})
	return result.RowsAffected, result.Error
}

// isUniqueViolation 判断错误是否为唯一约束冲突。
// glebarez/sqlite 没有导出专门的错误类型，这里按 SQLite 的错误文案匹配。
func isUniqueViolation(err error) bool {
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return true
	}
	return strings.Contains(err.Error(), "UNIQUE constraint failed")
}
