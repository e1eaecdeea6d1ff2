// Package llm provides a client for interacting with Large Language Models.
package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"auto-arxiv-go/internal/config"
	"auto-arxiv-go/pkg/log"
)

// Message 表示一条角色消息
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// Client defines the interface for an LLM client.
type Client interface {
	// Generate 以 role-based 消息调用聊天接口，返回完整的生成文本。
	Generate(ctx context.Context, messages []Message) (string, error)
	// GenerateJSON 要求模型输出 JSON 并反序列化到 out。
	// 解析失败时带着错误提示重试，重试次数由配置决定。
	GenerateJSON(ctx context.Context, messages []Message, out interface{}) error
}

type openAIClient struct {
	cfg    config.LLMConfig
	client *http.Client
}

// NewClient creates a new LLM client based on the config.
func NewClient(cfg config.LLMConfig) Client {
	return &openAIClient{
		cfg: cfg,
		client: &http.Client{
			Timeout: time.Duration(cfg.TimeoutSeconds) * time.Second,
		},
	}
}

type chatRequest struct {
	Model    string    `json:"model"`
	Messages []Message `json:"messages"`
	Stream   bool      `json:"stream"`
}

type chatResponse struct {
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
	} `json:"choices"`
}

// Generate 调用 OpenAI 兼容的 chat completions 接口并返回完整回答。
func (c *openAIClient) Generate(ctx context.Context, messages []Message) (string, error) {
	reqBody := chatRequest{
		Model:    c.cfg.Model,
		Messages: messages,
		Stream:   false,
	}
	reqBytes, err := json.Marshal(reqBody)
	if err != nil {
		return "", fmt.Errorf("failed to marshal chat request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, "POST", c.cfg.BaseURL+"/chat/completions", bytes.NewReader(reqBytes))
	if err != nil {
		return "", fmt.Errorf("failed to create chat request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.cfg.APIKey)

	resp, err := c.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("failed to call chat api: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		bodyBytes, _ := io.ReadAll(resp.Body)
		return "", fmt.Errorf("chat api returned non-200 status: %s, body: %s", resp.Status, string(bodyBytes))
	}

	var result chatResponse
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return "", fmt.Errorf("failed to decode chat response: %w", err)
	}
	if len(result.Choices) == 0 {
		return "", fmt.Errorf("chat api returned no choices")
	}
	return result.Choices[0].Message.Content, nil
}

// GenerateJSON 调用模型并把输出解析为 JSON，解析失败时在有限次数内重试。
// 每次重试都把上一次的解析错误反馈给模型，帮助它修正输出格式。
func (c *openAIClient) GenerateJSON(ctx context.Context, messages []Message, out interface{}) error {
	retries := c.cfg.JSONRetries
	if retries <= 0 {
		retries = 3
	}

	conv := make([]Message, len(messages))
	copy(conv, messages)

	var lastErr error
	for attempt := 1; attempt <= retries; attempt++ {
		raw, err := c.Generate(ctx, conv)
		if err != nil {
			return err
		}

		cleaned := extractJSON(raw)
		lastErr = json.Unmarshal([]byte(cleaned), out)
		if lastErr == nil {
			return nil
		}

		log.Warnf("[LLM] JSON 输出解析失败 (第 %d/%d 次): %v", attempt, retries, lastErr)
		conv = append(conv,
			Message{Role: "assistant", Content: raw},
			Message{Role: "user", Content: fmt.Sprintf("你的输出不是合法的 JSON (%v)，请只输出 JSON，不要包含任何其他文字。", lastErr)},
		)
	}
	return fmt.Errorf("llm 连续 %d 次未能输出合法 JSON: %w", retries, lastErr)
}

// extractJSON 剥离 markdown 代码块围栏，并截取首个 JSON 值的边界。
func extractJSON(raw string) string {
	s := strings.TrimSpace(raw)
	if strings.HasPrefix(s, "```") {
		s = strings.TrimPrefix(s, "```json")
		s = strings.TrimPrefix(s, "```")
		if i := strings.LastIndex(s, "```"); i >= 0 {
			s = s[:i]
		}
		s = strings.TrimSpace(s)
	}

	// 模型偶尔会在 JSON 前后附加说明文字，按首个括号对齐
	start := strings.IndexAny(s, "{[")
	if start < 0 {
		return s
	}
	var end int
	if s[start] == '{' {
		end = strings.LastIndex(s, "}")
	} else {
		end = strings.LastIndex(s, "]")
	}
	if end > start {
		return s[start : end+1]
	}
	return s
}
