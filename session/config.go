package session

import (
	"context"
	"os"
	"path/filepath"
	"time"

	"github.com/sethvargo/go-envconfig"
)

// Config holds process-wide settings, loaded once at startup and immutable
// at runtime.
type Config struct {
	// BaseURL is the remote service endpoint.
	BaseURL string `env:"MEALSYNC_BASE_URL, default=http://localhost:8080"`
	// APIKey authenticates this installation to the remote service.
	APIKey string `env:"MEALSYNC_API_KEY"`
	// DBPath is the local cache database file. Defaults under the data dir.
	DBPath string `env:"MEALSYNC_DB_PATH"`
	// CredentialDir holds the encrypted credential files. Defaults under
	// the data dir.
	CredentialDir string `env:"MEALSYNC_CRED_DIR"`

	LogLevel  string `env:"MEALSYNC_LOG_LEVEL, default=info"`
	PrettyLog bool   `env:"MEALSYNC_PRETTY_LOG, default=false"`

	// ProbeInterval is the background reachability probe interval.
	ProbeInterval time.Duration `env:"MEALSYNC_PROBE_INTERVAL, default=30s"`
}

// LoadConfig reads Config from the environment.
func LoadConfig(ctx context.Context) (Config, error) {
	return LoadConfigFrom(ctx, envconfig.OsLookuper())
}

// LoadConfigFrom reads Config from an explicit lookuper. Tests pass a map.
func LoadConfigFrom(ctx context.Context, lookuper envconfig.Lookuper) (Config, error) {
	var cfg Config
	if err := envconfig.ProcessWith(ctx, &envconfig.Config{Target: &cfg, Lookuper: lookuper}); err != nil {
		return Config{}, err
	}
	if cfg.DBPath == "" {
		cfg.DBPath = filepath.Join(dataDir(), "cache.db")
	}
	if cfg.CredentialDir == "" {
		cfg.CredentialDir = filepath.Join(dataDir(), "credentials")
	}
	return cfg, nil
}

func dataDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(os.TempDir(), ".mealsync")
	}
	return filepath.Join(home, ".mealsync")
}
