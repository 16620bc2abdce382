package browser

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestIsRestrictedURL(t *testing.T) {
	t.Parallel()

	testCases := []struct {
		url        string
		restricted bool
	}{
		{"https://example.com", false},
		{"http://localhost:3000/app", false},
		{"about:blank", false},
		{"ABOUT:BLANK", false},
		{"", false},
		{"about:settings", true},
		{"chrome://settings", true},
		{"chrome-extension://abcdef/popup.html", true},
		{"chrome-untrusted://new-tab-page", true},
		{"devtools://devtools/bundled/inspector.html", true},
		{"edge://flags", true},
		{"view-source:https://example.com", true},
		{"chrome-error://chromewebdata/", true},
	}

	for _, tc := range testCases {
		tt := tc
		t.Run(tt.url, func(t *testing.T) {
			t.Parallel()
			assert.Equal(t, tt.restricted, IsRestrictedURL(tt.url))
		})
	}
}

func TestDownloadExtension(t *testing.T) {
	t.Parallel()

	assert.Equal(t, ".png", downloadExtension("https://cdn.example.com/img/a.png", ""))
	assert.Equal(t, ".jpg", downloadExtension("https://cdn.example.com/img/photo.jpg?w=800", ""))
	assert.Equal(t, ".png", downloadExtension("https://cdn.example.com/render", "image/png"))
	assert.Equal(t, ".webp", downloadExtension("https://cdn.example.com/render", "image/webp; charset=binary"))
	assert.Equal(t, ".bin", downloadExtension("https://cdn.example.com/render", "application/octet-stream"))
}
