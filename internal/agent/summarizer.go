package agent

import (
	"context"
	"fmt"
	"strings"

	"auto-arxiv-go/pkg/llm"
	"auto-arxiv-go/pkg/log"
)

// 单次调用允许的上下文字符数上限，超过则走 map-reduce 路径。
const maxDirectSummaryChars = 24000

// Summarizer 接口定义了论文全文摘要生成操作。
type Summarizer interface {
	// Summarize 根据论文的全文文本块生成结构化中文摘要。
	Summarize(ctx context.Context, title string, chunks []string) (string, error)
}

type summarizer struct {
	llmClient llm.Client
}

// NewSummarizer 创建一个新的 Summarizer 实例。
func NewSummarizer(llmClient llm.Client) Summarizer {
	return &summarizer{llmClient: llmClient}
}

// Summarize 生成论文摘要。全文较短时一次完成，过长时先分段摘要再归并。
func (s *summarizer) Summarize(ctx context.Context, title string, chunks []string) (string, error) {
	if len(chunks) == 0 {
		return "", fmt.Errorf("没有可用于摘要的文本")
	}

	full := strings.Join(chunks, "\n\n")
	if len(full) <= maxDirectSummaryChars {
		return s.summarizeOnce(ctx, title, full)
	}

	log.Infof("[Summarizer] 全文过长 (%d 字符)，采用分段归并摘要", len(full))

	// map 阶段：把文本块聚合成不超过上限的分组，逐组生成局部摘要
	var partials []string
	var buf strings.Builder
	flush := func() error {
		if buf.Len() == 0 {
			return nil
		}
		partial, err := s.summarizeOnce(ctx, title, buf.String())
		if err != nil {
			return err
		}
		partials = append(partials, partial)
		buf.Reset()
		return nil
	}
	for _, chunk := range chunks {
		if buf.Len()+len(chunk) > maxDirectSummaryChars {
			if err := flush(); err != nil {
				return "", err
			}
		}
		buf.WriteString(chunk)
		buf.WriteString("\n\n")
	}
	if err := flush(); err != nil {
		return "", err
	}

	// reduce 阶段：把各段摘要归并为最终摘要
	prompt := fmt.Sprintf(
		"以下是论文《%s》各部分的分段摘要。请把它们归并成一篇连贯的中文综述摘要，"+
			"覆盖研究问题、方法、实验结果与结论，不要逐段罗列:\n\n%s",
		title, strings.Join(partials, "\n---\n"),
	)
	return s.llmClient.Generate(ctx, []llm.Message{{Role: "user", Content: prompt}})
}

// summarizeOnce 对一段文本做单次摘要调用。
func (s *summarizer) summarizeOnce(ctx context.Context, title, text string) (string, error) {
	prompt := fmt.Sprintf(
		"请为论文《%s》的以下内容生成中文摘要，突出研究问题、方法和关键结论:\n\n%s",
		title, text,
	)
	return s.llmClient.Generate(ctx, []llm.Message{{Role: "user", Content: prompt}})
}
