// Package config loads TapeVault's runtime configuration from the
// environment, per the fixed set of variables the external interface
// specifies. There is no configuration file: every value is either an
// environment override or a documented default.
package config

import "os"

// ChangerConfig describes the robotic changer device.
type ChangerConfig struct {
	Device string
}

// TapeConfig describes the single tape drive.
type TapeConfig struct {
	Device string
}

// CatalogConfig describes the embedded catalog database.
type CatalogConfig struct {
	Path string
}

// CacheConfig describes the working directories under which per-tape
// mount points and fetched-file cache entries live.
type CacheConfig struct {
	MountBase string
}

// WebConfig describes the auxiliary HTTP view.
type WebConfig struct {
	Port       string
	AdminToken string
}

// LoggingConfig is ambient: not named by the external interface, but
// every daemon in this codebase takes log level/format as knobs.
type LoggingConfig struct {
	Level  string
	Format string
}

// ReconcileConfig governs the optional periodic re-probe. An empty
// Schedule disables it; reconciliation then only runs at startup.
type ReconcileConfig struct {
	Schedule string
}

// Config holds all runtime configuration.
type Config struct {
	Changer   ChangerConfig
	Tape      TapeConfig
	Catalog   CatalogConfig
	Cache     CacheConfig
	Web       WebConfig
	Logging   LoggingConfig
	Reconcile ReconcileConfig
}

func getenv(name, fallback string) string {
	if v := os.Getenv(name); v != "" {
		return v
	}
	return fallback
}

// Load builds a Config from the process environment, applying the
// documented defaults for every unset variable.
func Load() *Config {
	return &Config{
		Changer: ChangerConfig{
			Device: getenv("CHANGER_DEVICE", "/dev/sg1"),
		},
		Tape: TapeConfig{
			Device: getenv("TAPE_DEVICE", "/dev/st0"),
		},
		Catalog: CatalogConfig{
			Path: getenv("DB_PATH", "/var/lib/tapevault/tapevault.db"),
		},
		Cache: CacheConfig{
			MountBase: getenv("TEMP_MOUNT_BASE", "/tmp/ltfs_mounts"),
		},
		Web: WebConfig{
			Port:       getenv("WEB_PORT", "5002"),
			AdminToken: getenv("WEB_ADMIN_TOKEN", ""),
		},
		Logging: LoggingConfig{
			Level:  getenv("LOG_LEVEL", "info"),
			Format: getenv("LOG_FORMAT", "json"),
		},
		Reconcile: ReconcileConfig{
			Schedule: getenv("RECONCILE_SCHEDULE", ""),
		},
	}
}

// CacheRoot is the directory fetched files are cached under, a
// subdirectory of the shared temp/mount base so both transient mount
// points and durable cache entries share one parent to clean up.
func (c *CacheConfig) CacheRoot() string {
	return c.MountBase + "/cache"
}
