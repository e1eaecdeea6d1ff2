package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"auto-arxiv-go/internal/config"
	"auto-arxiv-go/pkg/log"
)

// SettingsHandler 负责动态配置的读取和更新接口。
type SettingsHandler struct {
	settings *config.SettingsManager
}

// NewSettingsHandler 创建一个新的 SettingsHandler 实例。
func NewSettingsHandler(settings *config.SettingsManager) *SettingsHandler {
	return &SettingsHandler{settings: settings}
}

// GetSettings 返回当前生效的动态配置。
func (h *SettingsHandler) GetSettings(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"code": 200, "data": h.settings.Current(), "message": "success"})
}

// UpdateSettings 把请求体合并进覆盖文件并立即生效。
func (h *SettingsHandler) UpdateSettings(c *gin.Context) {
	var patch map[string]interface{}
	if err := c.ShouldBindJSON(&patch); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "无效的请求体"})
		return
	}
	if err := h.settings.Update(patch); err != nil {
		log.Error("[SettingsHandler] 更新动态配置失败", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "更新动态配置失败"})
		return
	}
	log.Infof("[SettingsHandler] 动态配置已更新, 改动 %d 个键", len(patch))
	c.JSON(http.StatusOK, gin.H{"code": 200, "data": h.settings.Current(), "message": "success"})
}
