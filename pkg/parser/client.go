// Package parser 提供了一个与 PDF 结构化解析服务交互的客户端。
package parser

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"time"

	"auto-arxiv-go/internal/config"
)

// 解析结果中的块类型。
const (
	BlockTypeText  = "text"
	BlockTypeImage = "image"
	BlockTypeTable = "table"
)

// Block 是解析服务返回的一个内容块，按其在原文中的出现顺序排列。
type Block struct {
	Type    string `json:"type"`
	Text    string `json:"text,omitempty"`
	Caption string `json:"caption,omitempty"`
	ImgPath string `json:"img_path,omitempty"`
}

// Client 是解析服务的客户端。
type Client struct {
	serverURL string
	client    *http.Client
}

// NewClient 创建一个新的解析客户端实例。
func NewClient(cfg config.ParserConfig) *Client {
	return &Client{
		serverURL: cfg.ServerURL,
		client: &http.Client{
			Timeout: time.Duration(cfg.TimeoutSeconds) * time.Second,
		},
	}
}

// ParseFile 把本地 PDF 提交给解析服务，返回结构化内容块列表。
func (c *Client) ParseFile(ctx context.Context, pdfPath string) ([]Block, error) {
	f, err := os.Open(pdfPath)
	if err != nil {
		return nil, fmt.Errorf("打开 PDF 文件失败: %w", err)
	}
	defer f.Close()

	req, err := http.NewRequestWithContext(ctx, "PUT", c.serverURL+"/parse", f)
	if err != nil {
		return nil, fmt.Errorf("创建请求失败: %w", err)
	}
	req.Header.Set("Content-Type", "application/pdf")
	req.Header.Set("Accept", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("调用解析服务失败: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("解析服务返回错误 [%d]: %s", resp.StatusCode, string(body))
	}

	var blocks []Block
	if err := json.NewDecoder(resp.Body).Decode(&blocks); err != nil {
		return nil, fmt.Errorf("读取解析服务响应失败: %w", err)
	}
	return blocks, nil
}
