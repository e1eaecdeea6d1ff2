package config

import (
	"encoding/json"
	"fmt"
	"os"
	"sync/atomic"
)

// Settings 是可在运行期动态调整的参数集合。
// 该结构体是不可变的：每次读取覆盖文件后生成一个全新的实例并整体替换，
// 任何组件都不得原地修改其中的字段。
type Settings struct {
	EmbeddingBatchSize     int      `json:"embedding_batch_size"`
	DailyPaperProcessLimit int      `json:"daily_paper_process_limit"`
	TopKResults            int      `json:"top_k_results"`
	MaxRelevantPapers      int      `json:"max_relevant_papers"`
	EnableOnlineSearch     bool     `json:"enable_online_search"`
	OnlineSearchLimit      int      `json:"online_search_limit"`
	DefaultArxivDomains    []string `json:"default_arxiv_domains"`
	ClusterDistance        float64  `json:"cluster_distance_threshold"`
	RAGReferenceThreshold  float64  `json:"rag_reference_threshold"`
	CollectionCount        int      `json:"category_collection_count"`
	CollectionYearsWindow  int      `json:"category_collection_years_window"`
	CollectionDomains      []string `json:"category_collection_domains"`
}

// defaultSettings 返回内置默认值，覆盖文件只需要写出想要改动的键。
func defaultSettings() *Settings {
	return &Settings{
		EmbeddingBatchSize:     64,
		DailyPaperProcessLimit: 20,
		TopKResults:            15,
		MaxRelevantPapers:      5,
		EnableOnlineSearch:     true,
		OnlineSearchLimit:      10,
		DefaultArxivDomains:    []string{"cs.AI", "cs.CV"},
		ClusterDistance:        0.35,
		RAGReferenceThreshold:  0.5,
		CollectionCount:        10,
		CollectionYearsWindow:  5,
		CollectionDomains:      []string{"cs.AI", "cs.CV"},
	}
}

// SettingsManager 管理动态配置：内置默认值 + JSON 覆盖文件。
// Current() 返回的指针在 Reload() 之前保持稳定，可安全地在一次任务中复用。
type SettingsManager struct {
	overridePath string
	current      atomic.Pointer[Settings]
}

// NewSettingsManager 创建管理器并立即加载一次配置。
func NewSettingsManager(overridePath string) *SettingsManager {
	m := &SettingsManager{overridePath: overridePath}
	m.current.Store(m.load())
	return m
}

// Current 返回当前生效的动态配置快照。
func (m *SettingsManager) Current() *Settings {
	return m.current.Load()
}

// Reload 重新读取覆盖文件并原子替换当前配置。
func (m *SettingsManager) Reload() *Settings {
	s := m.load()
	m.current.Store(s)
	return s
}

// Update 将 patch 合并进覆盖文件后重新加载。patch 的键与 Settings 的 JSON 键一致。
func (m *SettingsManager) Update(patch map[string]interface{}) error {
	override := map[string]interface{}{}
	if data, err := os.ReadFile(m.overridePath); err == nil {
		// 覆盖文件损坏时忽略旧内容，从 patch 重建
		_ = json.Unmarshal(data, &override)
	}
	for k, v := range patch {
		override[k] = v
	}

	data, err := json.MarshalIndent(override, "", "  ")
	if err != nil {
		return fmt.Errorf("序列化动态配置失败: %w", err)
	}
	if err := os.WriteFile(m.overridePath, data, 0o644); err != nil {
		return fmt.Errorf("写入动态配置覆盖文件失败: %w", err)
	}
	m.Reload()
	return nil
}

// load 读取默认值并合并覆盖文件；覆盖文件缺失或损坏时静默使用默认值。
func (m *SettingsManager) load() *Settings {
	s := defaultSettings()
	data, err := os.ReadFile(m.overridePath)
	if err != nil {
		return s
	}
	// 直接反序列化到默认值之上即可实现按键覆盖
	_ = json.Unmarshal(data, s)
	return s
}
