package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSettingsDefaultsWhenNoOverrideFile(t *testing.T) {
	m := NewSettingsManager(filepath.Join(t.TempDir(), "override.json"))

	s := m.Current()
	assert.Equal(t, 64, s.EmbeddingBatchSize)
	assert.Equal(t, 15, s.TopKResults)
	assert.Equal(t, 5, s.MaxRelevantPapers)
	assert.Equal(t, []string{"cs.AI", "cs.CV"}, s.DefaultArxivDomains)
}

func TestSettingsOverrideFileOnlyReplacesGivenKeys(t *testing.T) {
	path := filepath.Join(t.TempDir(), "override.json")
	require.NoError(t, os.WriteFile(path, []byte(`{"top_k_results": 30}`), 0o644))

	m := NewSettingsManager(path)
	s := m.Current()
	assert.Equal(t, 30, s.TopKResults)
	// 未覆盖的键保持默认值
	assert.Equal(t, 64, s.EmbeddingBatchSize)
}

func TestSettingsUpdateMergesAndPersists(t *testing.T) {
	path := filepath.Join(t.TempDir(), "override.json")
	m := NewSettingsManager(path)

	require.NoError(t, m.Update(map[string]interface{}{"daily_paper_process_limit": 5}))
	require.NoError(t, m.Update(map[string]interface{}{"top_k_results": 10}))

	// 两次更新都应生效，说明补丁做的是合并而不是整体替换
	s := m.Current()
	assert.Equal(t, 5, s.DailyPaperProcessLimit)
	assert.Equal(t, 10, s.TopKResults)

	// 新的管理器从文件重建出同样的配置
	reloaded := NewSettingsManager(path).Current()
	assert.Equal(t, 5, reloaded.DailyPaperProcessLimit)
	assert.Equal(t, 10, reloaded.TopKResults)
}

func TestSettingsCorruptOverrideFallsBackToDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "override.json")
	require.NoError(t, os.WriteFile(path, []byte("{not json"), 0o644))

	m := NewSettingsManager(path)
	assert.Equal(t, 64, m.Current().EmbeddingBatchSize)
}
