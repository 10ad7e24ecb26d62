package cmd

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jmylchreest/feedplay/internal/config"
)

func TestParseFeed(t *testing.T) {
	tests := []struct {
		name string
		data string
		want []string
	}{
		{
			name: "list",
			data: "- https://cdn.example/a.mp4\n- https://cdn.example/b.mp4\n",
			want: []string{"https://cdn.example/a.mp4", "https://cdn.example/b.mp4"},
		},
		{
			name: "items",
			data: "items:\n  - url: https://cdn.example/a.mp4\n    title: A\n  - title: no url\n",
			want: []string{"https://cdn.example/a.mp4"},
		},
		{
			name: "empty",
			data: "",
			want: nil,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := parseFeed([]byte(tt.data))
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestLoadFeed(t *testing.T) {
	path := filepath.Join(t.TempDir(), "feed.yaml")
	require.NoError(t, os.WriteFile(path, []byte("- https://cdn.example/a.mp4\n"), 0o600))

	urls, err := loadFeed(path, []string{"https://cdn.example/b.mp4"})
	require.NoError(t, err)
	assert.Equal(t, []string{"https://cdn.example/a.mp4", "https://cdn.example/b.mp4"}, urls)

	_, err = loadFeed("", nil)
	assert.Error(t, err)

	_, err = loadFeed("", []string{"file:///tmp/a.mp4"})
	assert.Error(t, err)

	_, err = loadFeed(filepath.Join(t.TempDir(), "missing.yaml"), nil)
	assert.Error(t, err)
}

func TestToMap_FormatsDurationsAndSizes(t *testing.T) {
	t.Setenv("HOME", t.TempDir())
	t.Chdir(t.TempDir())

	cfgFile = ""
	m := toMap(mustLoadDefaults(t))

	prerender := m["prerender"].(map[string]any)
	assert.Equal(t, "10s", prerender["timeout"])

	prefetch := m["prefetch"].(map[string]any)
	assert.Equal(t, "512KB", prefetch["bytes_per_url"])
}

func mustLoadDefaults(t *testing.T) *config.Config {
	t.Helper()
	cfg, err := config.Load("")
	require.NoError(t, err)
	return cfg
}
