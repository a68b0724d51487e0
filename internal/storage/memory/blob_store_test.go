package memory

import (
	"bytes"
	"context"
	"io"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/sitemap-crawler/internal/crawler"
)

func TestBlobStorePutObjectCopiesData(t *testing.T) {
	t.Parallel()

	store := NewBlobStore()
	payload := []byte("content")
	uri, err := store.PutObject(context.Background(), "colly/sitemap/x.csv", "text/csv", bytes.NewReader(payload))
	require.NoError(t, err)
	assert.Equal(t, "memory://colly/sitemap/x.csv", uri)

	payload[0] = 'C'
	rc, err := store.GetObject(context.Background(), "colly/sitemap/x.csv")
	require.NoError(t, err)
	defer func() { _ = rc.Close() }()
	stored, err := io.ReadAll(rc)
	require.NoError(t, err)
	assert.Equal(t, "content", string(stored))
	assert.Equal(t, []string{"colly/sitemap/x.csv"}, store.Paths())
}

func TestBlobStoreGetObjectMissing(t *testing.T) {
	t.Parallel()

	_, err := NewBlobStore().GetObject(context.Background(), "nope.csv")
	require.ErrorIs(t, err, crawler.ErrObjectNotFound)
}

func TestRunStoreKeepsOrder(t *testing.T) {
	t.Parallel()

	store := NewRunStore()
	ctx := context.Background()
	first := crawler.RunMetadata{RunID: "a", URL: "https://www.rumah123.com/s.xml", PostURLsCount: 2, FinishedAt: time.Unix(1, 0)}
	second := crawler.RunMetadata{RunID: "b", URL: "https://www.rumah123.com/s.xml"}
	require.NoError(t, store.StoreRun(ctx, first))
	require.NoError(t, store.StoreRun(ctx, second))
	assert.Equal(t, []crawler.RunMetadata{first, second}, store.Runs())
}

func TestRunStoreRecentRunsNewestFirst(t *testing.T) {
	t.Parallel()

	store := NewRunStore()
	ctx := context.Background()
	for _, id := range []string{"a", "b", "c"} {
		require.NoError(t, store.StoreRun(ctx, crawler.RunMetadata{RunID: id}))
	}
	runs, err := store.RecentRuns(ctx, 2)
	require.NoError(t, err)
	require.Len(t, runs, 2)
	assert.Equal(t, "c", runs[0].RunID)
	assert.Equal(t, "b", runs[1].RunID)
}
