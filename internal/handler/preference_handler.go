package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"auto-arxiv-go/internal/model"
	"auto-arxiv-go/internal/service"
	"auto-arxiv-go/pkg/log"
)

// PreferenceHandler 负责分类目录和用户偏好接口。
type PreferenceHandler struct {
	preferenceService service.PreferenceService
}

// NewPreferenceHandler 创建一个新的 PreferenceHandler 实例。
func NewPreferenceHandler(preferenceService service.PreferenceService) *PreferenceHandler {
	return &PreferenceHandler{preferenceService: preferenceService}
}

// GetCategories 返回当前分类体系。
func (h *PreferenceHandler) GetCategories(c *gin.Context) {
	categories, err := h.preferenceService.GetCategories()
	if err != nil {
		log.Error("[PreferenceHandler] 读取分类体系失败", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "读取分类体系失败"})
		return
	}
	if categories == nil {
		categories = []model.Category{}
	}
	c.JSON(http.StatusOK, gin.H{"code": 200, "data": categories, "message": "success"})
}

// GetPreferences 返回当前用户偏好。
func (h *PreferenceHandler) GetPreferences(c *gin.Context) {
	prefs, err := h.preferenceService.GetPreferences()
	if err != nil {
		log.Error("[PreferenceHandler] 读取用户偏好失败", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "读取用户偏好失败"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"code": 200, "data": prefs, "message": "success"})
}

// UpdatePreferences 更新用户偏好。
func (h *PreferenceHandler) UpdatePreferences(c *gin.Context) {
	var prefs model.Preferences
	if err := c.ShouldBindJSON(&prefs); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "无效的请求体"})
		return
	}
	if err := h.preferenceService.UpdatePreferences(prefs); err != nil {
		log.Warnf("[PreferenceHandler] 更新用户偏好失败: %v", err)
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	log.Infof("[PreferenceHandler] 用户偏好已更新, 选中 %d 个分类", len(prefs.SelectedCategories))
	c.JSON(http.StatusOK, gin.H{"code": 200, "message": "success"})
}
