package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"auto-arxiv-go/internal/service"
	"auto-arxiv-go/pkg/log"
)

// WorkflowHandler 负责手动触发各类工作流。
type WorkflowHandler struct {
	dailyService service.DailyService
}

// NewWorkflowHandler 创建一个新的 WorkflowHandler 实例。
func NewWorkflowHandler(dailyService service.DailyService) *WorkflowHandler {
	return &WorkflowHandler{dailyService: dailyService}
}

// RunDaily 手动触发每日工作流。
func (h *WorkflowHandler) RunDaily(c *gin.Context) {
	log.Info("[WorkflowHandler] 收到每日工作流触发请求")
	result, err := h.dailyService.RunDaily(c.Request.Context())
	if err != nil {
		log.Error("[WorkflowHandler] 每日工作流执行失败", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "每日工作流执行失败"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"code": 200, "data": result, "message": "success"})
}

// RunCategoryCollection 手动触发分类论文补充工作流。
func (h *WorkflowHandler) RunCategoryCollection(c *gin.Context) {
	log.Info("[WorkflowHandler] 收到分类论文补充触发请求")
	result, err := h.dailyService.RunCategoryCollection(c.Request.Context())
	if err != nil {
		log.Error("[WorkflowHandler] 分类论文补充执行失败", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "分类论文补充执行失败"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"code": 200, "data": result, "message": "success"})
}

// ListReports 返回已归档的工作流报告文件名。
func (h *WorkflowHandler) ListReports(c *gin.Context) {
	names, err := h.dailyService.ListReports()
	if err != nil {
		log.Error("[WorkflowHandler] 读取报告列表失败", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "读取报告列表失败"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"code": 200, "data": names, "message": "success"})
}

// GetReport 返回一份归档报告的内容。
func (h *WorkflowHandler) GetReport(c *gin.Context) {
	name := c.Param("name")
	report, err := h.dailyService.GetReport(name)
	if err != nil {
		log.Warnf("[WorkflowHandler] 读取报告失败: %s, %v", name, err)
		c.JSON(http.StatusNotFound, gin.H{"error": "报告不存在"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"code": 200, "data": report, "message": "success"})
}
