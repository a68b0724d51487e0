package detector

import (
	"net/http"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestHeuristicShouldPromote(t *testing.T) {
	t.Parallel()

	staticListing := `<html lang="id"><head><meta property="og:title" content="Rumah"></head><body>` +
		strings.Repeat(`<div class="text-content">Rumah dijual di Jakarta Selatan</div>`, 60) +
		`</body></html>`

	tests := []struct {
		name      string
		threshold int
		status    int
		body      string
		want      bool
	}{
		{"empty body", 100, http.StatusOK, "", true},
		{"whitespace body", 100, http.StatusOK, "  \n", true},
		{"next app shell", 100, http.StatusOK, `<div id="__next"></div>`, true},
		{"nuxt app shell", 0, http.StatusOK, staticListing + `<div id="__nuxt"></div>`, true},
		{"script heavy short page", 1000, http.StatusOK, `<html><script>var a=1;</script><p>t</p></html>`, true},
		{"script heavy but long", 10, http.StatusOK, `<html><script>var a=1;</script><p>t</p></html>`, false},
		{"not found", 100, http.StatusNotFound, "not found", false},
		{"server error shell", 100, http.StatusInternalServerError, `<div id="__next"></div>`, false},
		{"static listing", 0, http.StatusOK, staticListing, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			h := NewHeuristic(tt.threshold)
			assert.Equal(t, tt.want, h.ShouldPromote(tt.status, []byte(tt.body)))
		})
	}
}

func TestNewHeuristicDefaults(t *testing.T) {
	t.Parallel()

	h := NewHeuristic(-1)
	assert.Equal(t, DefaultMinBodyBytes, h.MinBodyBytes)
	assert.Equal(t, DefaultMarkers, h.Markers)
}
