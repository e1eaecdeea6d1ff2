package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"auto-arxiv-go/internal/model"
	"auto-arxiv-go/internal/service"
	"auto-arxiv-go/pkg/log"
)

// TaxonomyHandler 负责分类体系整合的手动触发接口。
type TaxonomyHandler struct {
	taxonomyService service.TaxonomyService
}

// NewTaxonomyHandler 创建一个新的 TaxonomyHandler 实例。
func NewTaxonomyHandler(taxonomyService service.TaxonomyService) *TaxonomyHandler {
	return &TaxonomyHandler{taxonomyService: taxonomyService}
}

// ProposeMerges 产出合并建议供人工审阅，不执行任何修改。
func (h *TaxonomyHandler) ProposeMerges(c *gin.Context) {
	log.Info("[TaxonomyHandler] 收到合并建议请求")
	proposals, err := h.taxonomyService.ProposeMerges(c.Request.Context())
	if err != nil {
		log.Error("[TaxonomyHandler] 产出合并建议失败", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "产出合并建议失败"})
		return
	}
	if proposals == nil {
		proposals = []model.MergeProposal{}
	}
	c.JSON(http.StatusOK, gin.H{"code": 200, "data": proposals, "message": "success"})
}

// applyMergesRequest 是执行合并的请求体。
type applyMergesRequest struct {
	Proposals []model.MergeProposal `json:"proposals" binding:"required"`
}

// ApplyMerges 执行一批合并建议。
func (h *TaxonomyHandler) ApplyMerges(c *gin.Context) {
	var req applyMergesRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "无效的请求体"})
		return
	}
	log.Infof("[TaxonomyHandler] 收到合并执行请求, %d 条建议", len(req.Proposals))

	applied, err := h.taxonomyService.ApplyMerges(c.Request.Context(), req.Proposals)
	if err != nil {
		log.Error("[TaxonomyHandler] 执行合并失败", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "执行合并失败"})
		return
	}
	if applied == nil {
		applied = []model.MergeProposal{}
	}
	c.JSON(http.StatusOK, gin.H{"code": 200, "data": applied, "message": "success"})
}
