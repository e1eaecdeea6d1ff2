// Package service 提供了各业务工作流的编排逻辑。
package service

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"auto-arxiv-go/internal/config"
	"auto-arxiv-go/internal/model"
	"auto-arxiv-go/internal/repository"
	"auto-arxiv-go/pkg/log"
)

// PreferenceService 接口定义了分类目录文件和用户偏好文件的管理操作。
// 两个文件都是数据库分类体系的派生物，合并发生后必须整体重新生成。
type PreferenceService interface {
	GetCategories() ([]model.Category, error)
	RegenerateCategoriesFile() error
	GetPreferences() (model.Preferences, error)
	UpdatePreferences(prefs model.Preferences) error
	// RemapAfterMerges 在分类合并生效后重写两个派生文件：
	// 目录文件按数据库重建，偏好中被合并的分类重定向到目标分类并去重。
	RemapAfterMerges(applied []model.MergeProposal) error
}

type preferenceService struct {
	storageCfg   config.StorageConfig
	metadataRepo repository.MetadataRepository
	mu           sync.Mutex
}

// NewPreferenceService 创建一个新的 PreferenceService 实例。
func NewPreferenceService(storageCfg config.StorageConfig, metadataRepo repository.MetadataRepository) PreferenceService {
	return &preferenceService{
		storageCfg:   storageCfg,
		metadataRepo: metadataRepo,
	}
}

// GetCategories 返回当前分类体系，以数据库为准。
func (s *preferenceService) GetCategories() ([]model.Category, error) {
	return s.metadataRepo.GetAllCategoryPairs()
}

// RegenerateCategoriesFile 按数据库当前状态整体重写分类目录文件。
func (s *preferenceService) RegenerateCategoriesFile() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	categories, err := s.metadataRepo.GetAllCategoryPairs()
	if err != nil {
		return fmt.Errorf("加载分类体系失败: %w", err)
	}
	if categories == nil {
		categories = []model.Category{}
	}
	return writeJSONFile(s.storageCfg.CategoriesPath, categories)
}

// GetPreferences 读取用户偏好，文件缺失时返回空偏好。
func (s *preferenceService) GetPreferences() (model.Preferences, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.readPreferences()
}

// UpdatePreferences 校验并保存用户偏好，选中的分类必须存在于当前分类体系中。
func (s *preferenceService) UpdatePreferences(prefs model.Preferences) error {
	categories, err := s.metadataRepo.GetAllCategoryPairs()
	if err != nil {
		return fmt.Errorf("加载分类体系失败: %w", err)
	}
	known := make(map[model.Category]bool, len(categories))
	for _, cat := range categories {
		known[cat] = true
	}
	for _, cat := range prefs.SelectedCategories {
		if !known[cat] {
			return fmt.Errorf("分类不存在: %s / %s", cat.Domain, cat.Task)
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	return writeJSONFile(s.storageCfg.PreferencesPath, prefs)
}

// RemapAfterMerges 重写分类目录文件并重定向偏好中被合并的分类。
func (s *preferenceService) RemapAfterMerges(applied []model.MergeProposal) error {
	if err := s.RegenerateCategoriesFile(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	prefs, err := s.readPreferences()
	if err != nil {
		return err
	}
	if len(prefs.SelectedCategories) == 0 {
		return nil
	}

	mapping := make(map[model.Category]model.Category, len(applied))
	for _, p := range applied {
		mapping[p.From] = p.To
	}

	seen := make(map[model.Category]bool)
	remapped := make([]model.Category, 0, len(prefs.SelectedCategories))
	for _, cat := range prefs.SelectedCategories {
		// 合并链可能跨多条建议，沿映射追到最终目标
		for i := 0; i < len(mapping); i++ {
			to, ok := mapping[cat]
			if !ok {
				break
			}
			cat = to
		}
		if seen[cat] {
			continue
		}
		seen[cat] = true
		remapped = append(remapped, cat)
	}
	prefs.SelectedCategories = remapped

	log.Infof("[PreferenceService] 偏好重定向完成, 当前选中 %d 个分类", len(remapped))
	return writeJSONFile(s.storageCfg.PreferencesPath, prefs)
}

// readPreferences 读取偏好文件，缺失或损坏时返回空偏好。
func (s *preferenceService) readPreferences() (model.Preferences, error) {
	var prefs model.Preferences
	data, err := os.ReadFile(s.storageCfg.PreferencesPath)
	if os.IsNotExist(err) {
		return prefs, nil
	}
	if err != nil {
		return prefs, fmt.Errorf("读取偏好文件失败: %w", err)
	}
	if err := json.Unmarshal(data, &prefs); err != nil {
		log.Warnf("[PreferenceService] 偏好文件损坏, 按空偏好处理: %v", err)
		return model.Preferences{}, nil
	}
	return prefs, nil
}

// writeJSONFile 原子地写入 JSON 文件。
func writeJSONFile(path string, v interface{}) error {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, os.ModePerm); err != nil {
			return fmt.Errorf("创建目录失败: %w", err)
		}
	}
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("序列化失败: %w", err)
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("写入文件失败: %w", err)
	}
	return os.Rename(tmp, path)
}
