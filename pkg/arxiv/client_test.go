package arxiv

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"auto-arxiv-go/internal/config"
)

const atomFixture = `<?xml version="1.0" encoding="UTF-8"?>
<feed xmlns="http://www.w3.org/2005/Atom">
  <entry>
    <id>http://arxiv.org/abs/2401.01234v1</id>
    <title>A Study of
      Object Detection</title>
    <summary>  We study detection.
      Across two lines.  </summary>
    <published>2024-01-05T12:00:00Z</published>
    <author><name>Alice</name></author>
    <author><name>Bob</name></author>
    <link href="http://arxiv.org/pdf/2401.01234v1" title="pdf"/>
  </entry>
</feed>`

const emptyFeed = `<?xml version="1.0" encoding="UTF-8"?>
<feed xmlns="http://www.w3.org/2005/Atom"></feed>`

func TestFetchByIDsParsesAtomFeed(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/query", r.URL.Path)
		assert.Equal(t, "2401.01234v1", r.URL.Query().Get("id_list"))
		_, _ = w.Write([]byte(atomFixture))
	}))
	t.Cleanup(srv.Close)

	client := NewClient(config.ArxivConfig{BaseURL: srv.URL, TimeoutSeconds: 5})
	records, err := client.FetchByIDs(context.Background(), []string{"2401.01234v1"})
	require.NoError(t, err)
	require.Len(t, records, 1)

	rec := records[0]
	assert.Equal(t, "2401.01234v1", rec.ArxivID)
	assert.Equal(t, "A Study of Object Detection", rec.Title)
	assert.Equal(t, "We study detection. Across two lines.", rec.Summary)
	assert.Equal(t, []string{"Alice", "Bob"}, rec.Authors)
	assert.Equal(t, "http://arxiv.org/pdf/2401.01234v1", rec.PDFURL)
	assert.Equal(t, 2024, rec.Published.Year())
}

func TestSearchStopsOnEmptyPage(t *testing.T) {
	calls := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		if calls == 1 {
			_, _ = w.Write([]byte(atomFixture))
			return
		}
		_, _ = w.Write([]byte(emptyFeed))
	}))
	t.Cleanup(srv.Close)

	client := NewClient(config.ArxivConfig{BaseURL: srv.URL, TimeoutSeconds: 5})
	// 要 200 条但数据源只有 1 条，空页应终止分页
	records, err := client.Search(context.Background(), "detection", 200)
	require.NoError(t, err)
	assert.Len(t, records, 1)
	assert.Equal(t, 2, calls)
}

func TestFetchByDateWindowUncappedStopsOnEmptyPage(t *testing.T) {
	calls := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		if calls == 1 {
			_, _ = w.Write([]byte(atomFixture))
			return
		}
		_, _ = w.Write([]byte(emptyFeed))
	}))
	t.Cleanup(srv.Close)

	client := NewClient(config.ArxivConfig{BaseURL: srv.URL, TimeoutSeconds: 5})
	// max 为 0 时不设数量上限，翻页到空页为止
	records, err := client.FetchByDateWindow(
		context.Background(), []string{"cs.AI"},
		time.Now().Add(-24*time.Hour), time.Now(), 0,
	)
	require.NoError(t, err)
	assert.Len(t, records, 1)
	assert.Equal(t, 2, calls)
}

func TestQueryNon200Fails(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "rate limited", http.StatusServiceUnavailable)
	}))
	t.Cleanup(srv.Close)

	client := NewClient(config.ArxivConfig{BaseURL: srv.URL, TimeoutSeconds: 5})
	_, err := client.FetchByIDs(context.Background(), []string{"2401.01234"})
	assert.Error(t, err)
}

func TestExtractArxivID(t *testing.T) {
	assert.Equal(t, "2401.01234v2", extractArxivID("http://arxiv.org/abs/2401.01234v2"))
	assert.Equal(t, "", extractArxivID("http://example.com/other"))
}
