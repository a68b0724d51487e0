package crawler

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCanonicalURL(t *testing.T) {
	t.Parallel()

	tests := []struct {
		in   string
		want string
	}{
		{"https://WWW.Rumah123.com/sitemap-v3/sitemap-ldp-jual.xml", "https://www.rumah123.com/sitemap-v3/sitemap-ldp-jual.xml"},
		{"HTTPS://www.rumah123.com:443/a", "https://www.rumah123.com/a"},
		{"http://www.rumah123.com:80/a#frag", "http://www.rumah123.com/a"},
		{"http://www.rumah123.com:8080/a", "http://www.rumah123.com:8080/a"},
		{"https://www.rumah123.com/search?page=2&city=jakarta", "https://www.rumah123.com/search?city=jakarta&page=2"},
		{" http://[::1]:80/x ", "http://[::1]/x"},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			t.Parallel()
			got, err := CanonicalURL(tt.in)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestCanonicalURLRejects(t *testing.T) {
	t.Parallel()

	for _, in := range []string{"not a url", "/relative/path", "ftp://www.rumah123.com/x", "http://%zz"} {
		_, err := CanonicalURL(in)
		assert.Error(t, err, in)
	}
}
