package config

import "time"

type AppConfig struct {
	DBDriver   string        `yaml:"db_driver" env:"KESTREL_DB_DRIVER" env-default:"sqlite"`
	DBURL      string        `yaml:"db_url" env:"KESTREL_DB_URL"`
	DBPath     string        `yaml:"db_path" env:"KESTREL_DB_PATH" env-default:"data/kestrel.db"`
	ListenAddr string        `yaml:"listen_addr" env:"KESTREL_LISTEN_ADDR" env-default:"0.0.0.0:8080"`
	SessionTTL time.Duration `yaml:"session_ttl" env:"KESTREL_SESSION_TTL" env-default:"3h"`
	AppEnv     string        `yaml:"app_env" env:"KESTREL_APP_ENV"`
	CSRFKey    string        `yaml:"csrf_key" env:"KESTREL_CSRF_KEY"`
	Pepper     string        `yaml:"pepper" env:"KESTREL_PEPPER"`

	Upstream    UpstreamConfig    `yaml:"upstream"`
	Attachments AttachmentsConfig `yaml:"attachments"`
	Directory   DirectoryConfig   `yaml:"directory"`
	Security    SecurityConfig    `yaml:"security"`
}

type UpstreamConfig struct {
	BaseURL    string `yaml:"base_url" env:"KESTREL_UPSTREAM_BASE_URL" env-default:"http://localhost:9090/api"`
	Token      string `yaml:"token" env:"KESTREL_UPSTREAM_TOKEN"`
	TimeoutSec int    `yaml:"timeout_sec" env:"KESTREL_UPSTREAM_TIMEOUT" env-default:"15"`
}

type AttachmentsConfig struct {
	StorageBaseURL string `yaml:"storage_base_url" env:"KESTREL_ATTACHMENTS_BASE_URL" env-default:"http://localhost:9090/files"`
}

type DirectoryConfig struct {
	Enabled     bool    `yaml:"enabled" env:"KESTREL_DIRECTORY_REFRESH_ENABLED" env-default:"true"`
	RefreshSpec string  `yaml:"refresh_spec" env:"KESTREL_DIRECTORY_REFRESH_SPEC" env-default:"@every 15m"`
	Areas       []int64 `yaml:"areas" env:"KESTREL_DIRECTORY_AREAS" env-separator:","`
}

type SecurityConfig struct {
	OnlineWindowSec int      `yaml:"online_window_sec" env:"KESTREL_SECURITY_ONLINE_WINDOW_SEC" env-default:"300"`
	TrustedProxies  []string `yaml:"trusted_proxies" env:"KESTREL_SECURITY_TRUSTED_PROXIES" env-separator:","`
}

const maxUserSessionTTL = 3 * time.Hour

func (c *AppConfig) EffectiveSessionTTL() time.Duration {
	ttl := maxUserSessionTTL
	if c != nil && c.SessionTTL > 0 {
		ttl = c.SessionTTL
	}
	if ttl > maxUserSessionTTL {
		return maxUserSessionTTL
	}
	return ttl
}
