package config

import (
	"testing"
	"time"

	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad(t *testing.T) {
	tests := []struct {
		name     string
		contents string
		check    func(t *testing.T, cfg Config)
		expErr   bool
	}{
		{
			name: "missing file yields defaults",
			check: func(t *testing.T, cfg Config) {
				assert.Equal(t, 8, cfg.Concurrency)
				assert.Equal(t, 3, cfg.Retry.MaxAttempts)
				assert.Equal(t, 500*time.Millisecond, cfg.Retry.BaseDelay.Duration)
				assert.True(t, cfg.FingerprintCacheEnabled())
				assert.Equal(t, "/cfg/google_drive.json", cfg.TokenPath())
				assert.Equal(t, "/cfg/cache", cfg.CachePath())
			},
		},
		{
			name: "overrides",
			contents: `
concurrency: 4
retry:
  maxAttempts: 5
  baseDelay: 1s
  maxDelay: 1m
excludes:
  - "**/.git/**"
fingerprintCache: false
drive:
  tokenFile: /secrets/token.json
`,
			check: func(t *testing.T, cfg Config) {
				assert.Equal(t, 4, cfg.Concurrency)
				assert.Equal(t, 8, cfg.ScanConcurrency)
				assert.Equal(t, 5, cfg.Retry.MaxAttempts)
				assert.Equal(t, time.Second, cfg.Retry.BaseDelay.Duration)
				assert.Equal(t, time.Minute, cfg.Retry.MaxDelay.Duration)
				assert.Equal(t, []string{"**/.git/**"}, cfg.Excludes)
				assert.False(t, cfg.FingerprintCacheEnabled())
				assert.Equal(t, "/secrets/token.json", cfg.TokenPath())
			},
		},
		{
			name:     "unknown field",
			contents: "concurency: 4\n",
			expErr:   true,
		},
		{
			name:     "bad duration",
			contents: "callTimeout: soon\n",
			expErr:   true,
		},
		{
			name:     "invalid retry",
			contents: "retry:\n  maxAttempts: 0\n",
			expErr:   true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			fs = afero.NewMemMapFs()
			if tt.contents != "" {
				require.NoError(t, afero.WriteFile(fs, "/cfg/"+FileName, []byte(tt.contents), 0644))
			}

			cfg, err := Load("/cfg")
			if tt.expErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			tt.check(t, cfg)
		})
	}
}
