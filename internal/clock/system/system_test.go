package system

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/JakeFAU/sitemap-crawler/internal/crawler"
)

var (
	_ crawler.Clock = (*Clock)(nil)
	_ crawler.Clock = Fixed{}
)

func TestClockNowIsCurrentUTC(t *testing.T) {
	t.Parallel()

	got := New().Now()
	assert.Equal(t, time.UTC, got.Location())
	assert.WithinDuration(t, time.Now(), got, time.Second)
}

func TestFixedNormalisesZone(t *testing.T) {
	t.Parallel()

	at := time.Date(2024, 5, 20, 16, 0, 0, 0, time.FixedZone("WIB", 7*3600))
	clk := Fixed{At: at}
	assert.True(t, clk.Now().Equal(at))
	assert.Equal(t, time.UTC, clk.Now().Location())
	assert.Equal(t, 9, clk.Now().Hour())
}
