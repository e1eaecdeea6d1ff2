package handler

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"auto-arxiv-go/internal/repository"
	"auto-arxiv-go/pkg/log"
)

// PaperHandler 负责论文查询和 PDF 下载接口。
type PaperHandler struct {
	metadataRepo repository.MetadataRepository
}

// NewPaperHandler 创建一个新的 PaperHandler 实例。
func NewPaperHandler(metadataRepo repository.MetadataRepository) *PaperHandler {
	return &PaperHandler{metadataRepo: metadataRepo}
}

// ListRecent 返回最近入库的论文。
func (h *PaperHandler) ListRecent(c *gin.Context) {
	limit, err := strconv.Atoi(c.DefaultQuery("limit", "50"))
	if err != nil || limit <= 0 {
		limit = 50
	}
	papers, err := h.metadataRepo.FindRecentPapers(limit)
	if err != nil {
		log.Error("[PaperHandler] 读取论文列表失败", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "读取论文列表失败"})
		return
	}
	total, err := h.metadataRepo.CountPapers()
	if err != nil {
		log.Error("[PaperHandler] 统计论文总数失败", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "读取论文列表失败"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"code": 200, "data": papers, "total": total, "message": "success"})
}

// GetPaper 返回单篇论文的详情。
func (h *PaperHandler) GetPaper(c *gin.Context) {
	arxivID := c.Param("arxivId")
	paper, err := h.metadataRepo.FindPaperByArxivID(arxivID)
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "论文不存在"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"code": 200, "data": paper, "message": "success"})
}

// DownloadPDF 返回本地存储的论文 PDF 文件。
func (h *PaperHandler) DownloadPDF(c *gin.Context) {
	arxivID := c.Param("arxivId")
	paper, err := h.metadataRepo.FindPaperByArxivID(arxivID)
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "论文不存在"})
		return
	}
	if paper.PDFPath == "" {
		c.JSON(http.StatusNotFound, gin.H{"error": "该论文没有本地 PDF 文件"})
		return
	}
	log.Infof("[PaperHandler] 下载论文 PDF: %s", arxivID)
	c.FileAttachment(paper.PDFPath, arxivID+".pdf")
}
