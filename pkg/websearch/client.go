// Package websearch 提供了一个通用网页搜索 API 的客户端。
package websearch

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"regexp"
	"time"

	"auto-arxiv-go/internal/config"
)

// Item 是一条搜索结果。
type Item struct {
	Title   string `json:"title"`
	URL     string `json:"url"`
	Snippet string `json:"snippet"`
}

// Client defines the interface for a web search client.
type Client interface {
	Search(ctx context.Context, query string, limit int) ([]Item, error)
}

type httpClient struct {
	cfg    config.WebSearchConfig
	client *http.Client
}

// NewClient 创建一个新的网页搜索客户端实例。
func NewClient(cfg config.WebSearchConfig) Client {
	return &httpClient{
		cfg: cfg,
		client: &http.Client{
			Timeout: time.Duration(cfg.TimeoutSeconds) * time.Second,
		},
	}
}

type searchRequest struct {
	Query string `json:"query"`
	Count int    `json:"count"`
}

type searchResponse struct {
	Results []Item `json:"results"`
}

// Search 执行一次网页搜索，返回至多 limit 条结果。
func (c *httpClient) Search(ctx context.Context, query string, limit int) ([]Item, error) {
	reqBody := searchRequest{Query: query, Count: limit}
	reqBytes, err := json.Marshal(reqBody)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal search request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, "POST", c.cfg.BaseURL+"/search", bytes.NewReader(reqBytes))
	if err != nil {
		return nil, fmt.Errorf("failed to create search request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.cfg.APIKey)

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to call search api: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("search api returned non-200 status: %s, body: %s", resp.Status, string(body))
	}

	var result searchResponse
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, fmt.Errorf("failed to decode search response: %w", err)
	}
	if len(result.Results) > limit {
		result.Results = result.Results[:limit]
	}
	return result.Results, nil
}

// arXiv 论文链接的 abs/pdf 两种 URL 形态都要匹配，
// ID 兼容新式 (2401.01234v2) 和旧式 (cs/0112017, math.GT/0309136) 编号。
var arxivURLPattern = regexp.MustCompile(`arxiv\.org/(?:abs|pdf)/((?:[a-z-]+(?:\.[A-Z]{2})?/\d{7}|\d{4}\.\d{4,5})(?:v\d+)?)`)

// ExtractArxivIDs 从搜索结果的 URL 和摘要中提取 arXiv ID，按出现顺序去重。
func ExtractArxivIDs(items []Item) []string {
	seen := make(map[string]struct{})
	var ids []string
	for _, item := range items {
		for _, text := range []string{item.URL, item.Snippet} {
			for _, match := range arxivURLPattern.FindAllStringSubmatch(text, -1) {
				id := match[1]
				if _, ok := seen[id]; ok {
					continue
				}
				seen[id] = struct{}{}
				ids = append(ids, id)
			}
		}
	}
	return ids
}
