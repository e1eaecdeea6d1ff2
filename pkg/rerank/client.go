// Package rerank 提供了一个与重排序模型交互的客户端。
package rerank

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"auto-arxiv-go/internal/config"
)

// Result 是单条文档的重排序得分。
type Result struct {
	Index int     `json:"index"`
	Score float64 `json:"relevance_score"`
}

// Client defines the interface for a rerank client.
type Client interface {
	// Rerank 返回每条文档相对于 query 的相关性得分，Index 对应输入下标。
	Rerank(ctx context.Context, query string, documents []string) ([]Result, error)
}

type httpClient struct {
	cfg    config.RerankConfig
	client *http.Client
}

// NewClient 创建一个新的重排序客户端实例。
func NewClient(cfg config.RerankConfig) Client {
	return &httpClient{
		cfg: cfg,
		client: &http.Client{
			Timeout: time.Duration(cfg.TimeoutSeconds) * time.Second,
		},
	}
}

type rerankRequest struct {
	Model     string   `json:"model"`
	Query     string   `json:"query"`
	Documents []string `json:"documents"`
}

type rerankResponse struct {
	Results []Result `json:"results"`
}

// Rerank 调用重排序 API 为每条文档打分。
func (c *httpClient) Rerank(ctx context.Context, query string, documents []string) ([]Result, error) {
	if len(documents) == 0 {
		return nil, nil
	}

	reqBody := rerankRequest{
		Model:     c.cfg.Model,
		Query:     query,
		Documents: documents,
	}
	reqBytes, err := json.Marshal(reqBody)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal rerank request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, "POST", c.cfg.BaseURL+"/rerank", bytes.NewReader(reqBytes))
	if err != nil {
		return nil, fmt.Errorf("failed to create rerank request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.cfg.APIKey)

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to call rerank api: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("rerank api returned non-200 status: %s, body: %s", resp.Status, string(body))
	}

	var result rerankResponse
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, fmt.Errorf("failed to decode rerank response: %w", err)
	}
	for _, r := range result.Results {
		if r.Index < 0 || r.Index >= len(documents) {
			return nil, fmt.Errorf("rerank api returned out-of-range index %d", r.Index)
		}
	}
	return result.Results, nil
}
