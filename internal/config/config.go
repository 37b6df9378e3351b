package config

import "github.com/spf13/viper"

// Version is set at build time via -ldflags.
var Version = "dev"

// Config holds all runtime configuration. Durations are whole seconds,
// converted at the wiring site.
type Config struct {
	ScriptDir   string
	LockDir     string
	JSDir       string
	DBPath      string
	GridURL     string
	BrowserName string
	HTTPAddr    string

	PoolInitTimeout int
	DefaultLockTTL  int
	StreamLockTTL   int
	LockWait        int
	ImplicitWait    int
}

// Load reads configuration from viper, which merges flag values, env vars,
// and defaults (set up by the cobra command in cmd/sidegrid).
func Load() Config {
	return Config{
		ScriptDir:   viper.GetString("script_dir"),
		LockDir:     viper.GetString("lock_dir"),
		JSDir:       viper.GetString("js_dir"),
		DBPath:      viper.GetString("db_path"),
		GridURL:     viper.GetString("grid_url"),
		BrowserName: viper.GetString("browser_name"),
		HTTPAddr:    viper.GetString("http_addr"),

		PoolInitTimeout: viper.GetInt("pool_init_timeout_s"),
		DefaultLockTTL:  viper.GetInt("default_lock_ttl_s"),
		StreamLockTTL:   viper.GetInt("stream_lock_ttl_s"),
		LockWait:        viper.GetInt("lock_wait_s"),
		ImplicitWait:    viper.GetInt("implicit_wait_s"),
	}
}
