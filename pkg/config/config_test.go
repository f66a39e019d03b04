package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad(t *testing.T) {
	configContent := `
global:
  log_level: debug
server:
  listen: ":9090"
  root_url: https://trace.example.org
  rate_limit:
    enabled: true
    submit: 10
    status: 120
results:
  dir: /srv/results
  owner: "1001:1001"
queue:
  address: queue.internal:11300
  build_tube: build2
trace:
  categories:
    - blink
    - v8
  default_categories:
    - blink
`

	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "config.yaml")
	require.NoError(t, os.WriteFile(configPath, []byte(configContent), 0o644))

	cfg, err := Load(configPath)
	require.NoError(t, err)

	assert.Equal(t, "debug", cfg.Global.LogLevel)
	assert.Equal(t, ":9090", cfg.Server.Listen)
	assert.Equal(t, "https://trace.example.org", cfg.Server.RootURL)
	assert.True(t, cfg.Server.RateLimit.Enabled)
	assert.Equal(t, 10, cfg.Server.RateLimit.Submit)
	assert.Equal(t, "/srv/results", cfg.Results.Dir)
	assert.Equal(t, "1001:1001", cfg.Results.Owner)
	assert.Equal(t, "queue.internal:11300", cfg.Queue.Address)
	assert.Equal(t, "build2", cfg.Queue.BuildTube)
	assert.Equal(t, []string{"blink", "v8"}, cfg.Trace.Categories)

	// Unspecified fields keep their defaults.
	assert.Equal(t, DefaultTestTube, cfg.Queue.TestTube)
	assert.Nil(t, cfg.Indexing)
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	assert.Error(t, err)
}

func TestDefault(t *testing.T) {
	cfg := Default()

	assert.Equal(t, DefaultLogLevel, cfg.Global.LogLevel)
	assert.Equal(t, DefaultListen, cfg.Server.Listen)
	assert.Equal(t, DefaultResultsDir, cfg.Results.Dir)
	assert.Equal(t, DefaultQueueAddress, cfg.Queue.Address)
	assert.Equal(t, DefaultBuildTube, cfg.Queue.BuildTube)
	assert.Equal(t, DefaultTestTube, cfg.Queue.TestTube)
	assert.Equal(t, DefaultTraceCategories, cfg.Trace.Categories)
	assert.Equal(t, DefaultSelectedCategories, cfg.Trace.DefaultCategories)

	assert.NoError(t, cfg.Validate())
}

func TestDefaultSelectedCategoriesAreAllowed(t *testing.T) {
	allowed := make(map[string]struct{}, len(DefaultTraceCategories))
	for _, cat := range DefaultTraceCategories {
		allowed[cat] = struct{}{}
	}

	for _, cat := range DefaultSelectedCategories {
		_, ok := allowed[cat]
		assert.True(t, ok, "default category %q missing from allow-list", cat)
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		modify  func(cfg *Config)
		wantErr string
	}{
		{
			name:   "defaults are valid",
			modify: func(cfg *Config) {},
		},
		{
			name: "bad owner format",
			modify: func(cfg *Config) {
				cfg.Results.Owner = "www-data"
			},
			wantErr: "owner",
		},
		{
			name: "default category outside allow-list",
			modify: func(cfg *Config) {
				cfg.Trace.Categories = []string{"blink"}
				cfg.Trace.DefaultCategories = []string{"v8"}
			},
			wantErr: "not in the category list",
		},
		{
			name: "indexing without sqlite path",
			modify: func(cfg *Config) {
				cfg.Indexing = &IndexingConfig{
					Enabled:  true,
					Database: DatabaseConfig{Driver: "sqlite"},
				}
			},
			wantErr: "sqlite path",
		},
		{
			name: "indexing with unknown driver",
			modify: func(cfg *Config) {
				cfg.Indexing = &IndexingConfig{
					Enabled:  true,
					Database: DatabaseConfig{Driver: "oracle"},
				}
			},
			wantErr: "unsupported index database driver",
		},
		{
			name: "bad indexing interval",
			modify: func(cfg *Config) {
				cfg.Indexing = &IndexingConfig{
					Enabled:  true,
					Interval: "soon",
					Database: DatabaseConfig{
						Driver: "sqlite",
						SQLite: SQLiteConfig{Path: "index.db"},
					},
				}
			},
			wantErr: "indexing interval",
		},
		{
			name: "bad requeue age",
			modify: func(cfg *Config) {
				cfg.Indexing = &IndexingConfig{
					Enabled: true,
					Database: DatabaseConfig{
						Driver: "sqlite",
						SQLite: SQLiteConfig{Path: "index.db"},
					},
					Requeue: RequeueConfig{Enabled: true, Age: "old"},
				}
			},
			wantErr: "requeue age",
		},
		{
			name: "disabled indexing is not validated",
			modify: func(cfg *Config) {
				cfg.Indexing = &IndexingConfig{
					Enabled:  false,
					Database: DatabaseConfig{Driver: "oracle"},
				}
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.modify(cfg)

			err := cfg.Validate()
			if tt.wantErr == "" {
				assert.NoError(t, err)
			} else {
				require.Error(t, err)
				assert.Contains(t, err.Error(), tt.wantErr)
			}
		})
	}
}
