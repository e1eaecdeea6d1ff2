package websearch

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestExtractArxivIDsFromURLsAndSnippets(t *testing.T) {
	items := []Item{
		{URL: "https://arxiv.org/abs/2401.01234"},
		{URL: "https://arxiv.org/pdf/2105.06789v2", Snippet: "见 arxiv.org/abs/2401.01234"},
		{Snippet: "无关内容"},
	}

	ids := ExtractArxivIDs(items)
	assert.Equal(t, []string{"2401.01234", "2105.06789v2"}, ids)
}

func TestExtractArxivIDsOldStyleIdentifiers(t *testing.T) {
	items := []Item{
		{URL: "http://arxiv.org/abs/cs/0112017"},
		{URL: "https://arxiv.org/pdf/math.GT/0309136"},
		{URL: "https://arxiv.org/abs/hep-th/9901001v2"},
	}

	ids := ExtractArxivIDs(items)
	assert.Equal(t, []string{"cs/0112017", "math.GT/0309136", "hep-th/9901001v2"}, ids)
}

func TestExtractArxivIDsEmptyInput(t *testing.T) {
	assert.Empty(t, ExtractArxivIDs(nil))
	assert.Empty(t, ExtractArxivIDs([]Item{{URL: "https://example.com"}}))
}
