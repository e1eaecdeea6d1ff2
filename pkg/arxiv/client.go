// Package arxiv 提供了一个访问 arXiv Atom API 的客户端。
package arxiv

import (
	"context"
	"encoding/xml"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"auto-arxiv-go/internal/config"
	"auto-arxiv-go/pkg/log"
)

// Record 是从 arXiv 获取的一篇论文的书目信息。
type Record struct {
	ArxivID   string
	Title     string
	Authors   []string
	Summary   string
	Published time.Time
	PDFURL    string
}

// Client 是 arXiv API 的客户端。
type Client struct {
	baseURL string
	client  *http.Client
}

// NewClient 创建一个新的 arXiv 客户端实例。
func NewClient(cfg config.ArxivConfig) *Client {
	return &Client{
		baseURL: cfg.BaseURL,
		client: &http.Client{
			Timeout: time.Duration(cfg.TimeoutSeconds) * time.Second,
		},
	}
}

// Atom feed 的反序列化结构，只保留需要的字段。
type atomFeed struct {
	Entries []atomEntry `xml:"entry"`
}

type atomEntry struct {
	ID        string `xml:"id"`
	Title     string `xml:"title"`
	Summary   string `xml:"summary"`
	Published string `xml:"published"`
	Authors   []struct {
		Name string `xml:"name"`
	} `xml:"author"`
	Links []struct {
		Href  string `xml:"href,attr"`
		Title string `xml:"title,attr"`
	} `xml:"link"`
}

// FetchByDateWindow 按提交时间窗口拉取若干 arXiv 分类下的论文，按提交时间倒序。
// max <= 0 表示不限数量，一直翻页到结果末尾。
func (c *Client) FetchByDateWindow(ctx context.Context, categories []string, start, end time.Time, max int) ([]Record, error) {
	catQuery := make([]string, 0, len(categories))
	for _, cat := range categories {
		catQuery = append(catQuery, "cat:"+cat)
	}
	query := fmt.Sprintf("(%s) AND submittedDate:[%s TO %s]",
		strings.Join(catQuery, " OR "),
		start.UTC().Format("200601021504"),
		end.UTC().Format("200601021504"),
	)
	return c.paged(ctx, url.Values{
		"search_query": {query},
		"sortBy":       {"submittedDate"},
		"sortOrder":    {"descending"},
	}, max)
}

// Search 按相关度排序执行全文搜索。
func (c *Client) Search(ctx context.Context, query string, max int) ([]Record, error) {
	return c.paged(ctx, url.Values{
		"search_query": {"all:" + query},
		"sortBy":       {"relevance"},
	}, max)
}

// FetchByIDs 按 arXiv ID 批量拉取书目信息，未命中的 ID 缺席于结果。
func (c *Client) FetchByIDs(ctx context.Context, ids []string) ([]Record, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	return c.paged(ctx, url.Values{
		"id_list": {strings.Join(ids, ",")},
	}, len(ids))
}

// paged 分页调用查询接口，直到凑够 max 条或遇到空页。max <= 0 表示不限数量。
func (c *Client) paged(ctx context.Context, params url.Values, max int) ([]Record, error) {
	const pageSize = 100
	var records []Record
	for start := 0; max <= 0 || len(records) < max; start += pageSize {
		params.Set("start", fmt.Sprintf("%d", start))
		remaining := pageSize
		if max > 0 && max-len(records) < pageSize {
			remaining = max - len(records)
		}
		params.Set("max_results", fmt.Sprintf("%d", remaining))

		page, err := c.query(ctx, params)
		if err != nil {
			return nil, err
		}
		if len(page) == 0 {
			break
		}
		records = append(records, page...)
	}
	return records, nil
}

// query 执行一次 API 调用并解析 Atom feed。
func (c *Client) query(ctx context.Context, params url.Values) ([]Record, error) {
	req, err := http.NewRequestWithContext(ctx, "GET", c.baseURL+"/query?"+params.Encode(), nil)
	if err != nil {
		return nil, fmt.Errorf("创建 arXiv 请求失败: %w", err)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("调用 arXiv API 失败: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("arXiv API 返回错误 [%d]: %s", resp.StatusCode, string(body))
	}

	var feed atomFeed
	if err := xml.NewDecoder(resp.Body).Decode(&feed); err != nil {
		return nil, fmt.Errorf("解析 arXiv Atom 响应失败: %w", err)
	}

	records := make([]Record, 0, len(feed.Entries))
	for _, entry := range feed.Entries {
		rec := Record{
			ArxivID: extractArxivID(entry.ID),
			Title:   normalizeWhitespace(entry.Title),
			Summary: normalizeWhitespace(entry.Summary),
		}
		if rec.ArxivID == "" {
			log.Warnf("[ArxivClient] 跳过无法解析 ID 的条目: %s", entry.ID)
			continue
		}
		for _, a := range entry.Authors {
			rec.Authors = append(rec.Authors, a.Name)
		}
		if t, err := time.Parse(time.RFC3339, entry.Published); err == nil {
			rec.Published = t
		}
		for _, link := range entry.Links {
			if link.Title == "pdf" {
				rec.PDFURL = link.Href
			}
		}
		if rec.PDFURL == "" {
			rec.PDFURL = "https://arxiv.org/pdf/" + rec.ArxivID
		}
		records = append(records, rec)
	}
	return records, nil
}

// DownloadPDF 把论文 PDF 下载到 destDir 下，文件名为 <arxivID>.pdf。
func (c *Client) DownloadPDF(ctx context.Context, rec Record, destDir string) (string, error) {
	if err := os.MkdirAll(destDir, os.ModePerm); err != nil {
		return "", fmt.Errorf("创建 PDF 目录失败: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, "GET", rec.PDFURL, nil)
	if err != nil {
		return "", fmt.Errorf("创建 PDF 下载请求失败: %w", err)
	}
	resp, err := c.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("下载 PDF 失败: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("下载 PDF 返回错误 [%d]: %s", resp.StatusCode, rec.PDFURL)
	}

	// arXiv ID 可能带版本号中的点，文件名里统一保留原样
	path := filepath.Join(destDir, strings.ReplaceAll(rec.ArxivID, "/", "_")+".pdf")
	f, err := os.Create(path)
	if err != nil {
		return "", fmt.Errorf("创建 PDF 文件失败: %w", err)
	}
	_, err = io.Copy(f, resp.Body)
	if cerr := f.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		_ = os.Remove(path)
		return "", fmt.Errorf("写入 PDF 文件失败: %w", err)
	}
	return path, nil
}

// extractArxivID 从 Atom entry 的 ID URL 中提取 arXiv ID，如
// http://arxiv.org/abs/2401.01234v2 提取出 2401.01234v2。
func extractArxivID(entryID string) string {
	i := strings.Index(entryID, "/abs/")
	if i < 0 {
		return ""
	}
	return entryID[i+len("/abs/"):]
}

// normalizeWhitespace 把 Atom 字段中的换行和连续空白压成单个空格。
func normalizeWhitespace(s string) string {
	return strings.Join(strings.Fields(s), " ")
}
