package config

import (
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// EnvPrefix is prepended to every environment override, e.g.
// PHYSQUEST_SECURITY_JWT_SECRET overrides security.jwt_secret.
const EnvPrefix = "PHYSQUEST"

type Config struct {
	Server   ServerConfig   `mapstructure:"server"`
	Database DatabaseConfig `mapstructure:"database"`
	Cache    CacheConfig    `mapstructure:"cache"`
	Security SecurityConfig `mapstructure:"security"`
	Log      LogConfig      `mapstructure:"log"`
	Levels   LevelsConfig   `mapstructure:"levels"`
	Web      WebConfig      `mapstructure:"web"`
	Profile  ProfileConfig  `mapstructure:"profile"`
	Script   ScriptConfig   `mapstructure:"script"`
	Audit    AuditConfig    `mapstructure:"audit"`
	Ranking  RankingConfig  `mapstructure:"ranking"`
}

type ServerConfig struct {
	Port     int      `mapstructure:"port"`
	Debug    bool     `mapstructure:"debug"`
	AdminKey string   `mapstructure:"admin_key"`
	AdminIPs []string `mapstructure:"admin_ips"` // empty = any IP (the admin key still applies)
	BaseURL  string   `mapstructure:"base_url"`
}

type DatabaseConfig struct {
	Mode        string        `mapstructure:"mode"` // sqlite | mysql | postgres
	SQLitePath  string        `mapstructure:"sqlite_path"`
	MySQLDSN    string        `mapstructure:"mysql_dsn"`
	PostgresDSN string        `mapstructure:"postgres_dsn"`
	MaxOpen     int           `mapstructure:"max_open"`
	MaxIdle     int           `mapstructure:"max_idle"`
	MaxLife     time.Duration `mapstructure:"max_life"`
}

type CacheConfig struct {
	RedisAddr       string        `mapstructure:"redis_addr"`
	RedisPassword   string        `mapstructure:"redis_password"`
	RedisDB         int           `mapstructure:"redis_db"`
	LocalGCInterval time.Duration `mapstructure:"local_gc_interval"`
	LocalPubSubBuf  int           `mapstructure:"local_pubsub_buf"`
}

type SecurityConfig struct {
	JWTSecret      string        `mapstructure:"jwt_secret"`
	JWTTTLH        time.Duration `mapstructure:"jwt_ttl_h"`
	BcryptCost     int           `mapstructure:"bcrypt_cost"`
	RateLimitRPS   float64       `mapstructure:"rate_limit_rps"`
	RateLimitBurst int           `mapstructure:"rate_limit_burst"`
	// AuthRateRPS / AuthRateBurst limit login and signup POSTs per IP.
	AuthRateRPS   float64 `mapstructure:"auth_rate_rps"`
	AuthRateBurst int     `mapstructure:"auth_rate_burst"`
	// AllowedOrigins lists the WebSocket origins that are permitted.
	// An empty slice allows all origins (useful for local development only).
	AllowedOrigins []string `mapstructure:"allowed_origins"`
	CookieSecure   bool     `mapstructure:"cookie_secure"`
}

type LogConfig struct {
	File       string `mapstructure:"file"` // empty = stderr only
	MaxSizeMB  int    `mapstructure:"max_size_mb"`
	MaxBackups int    `mapstructure:"max_backups"`
	MaxAgeDays int    `mapstructure:"max_age_days"`
	Compress   bool   `mapstructure:"compress"`
}

type LevelsConfig struct {
	Dir string `mapstructure:"dir"` // empty = built-in catalog
}

type WebConfig struct {
	GameDir   string `mapstructure:"game_dir"`   // compiled pygame bundle (index.html + assets)
	StaticDir string `mapstructure:"static_dir"` // optional override for the embedded /static files
}

type ProfileConfig struct {
	Icons       []string `mapstructure:"icons"`
	DefaultIcon string   `mapstructure:"default_icon"`
}

// HasIcon reports whether icon is one of the selectable profile icons.
func (p ProfileConfig) HasIcon(icon string) bool {
	for _, i := range p.Icons {
		if i == icon {
			return true
		}
	}
	return false
}

type ScriptConfig struct {
	VMPoolSize int           `mapstructure:"vm_pool_size"`
	Timeout    time.Duration `mapstructure:"timeout"`
}

type AuditConfig struct {
	Retention time.Duration `mapstructure:"retention"`
}

type RankingConfig struct {
	RefreshInterval time.Duration `mapstructure:"refresh_interval"`
	Top             int           `mapstructure:"top"`
}

// DefaultIcons is the built-in set of selectable profile icons.
var DefaultIcons = []string{
	"default.png", "atom.png", "rocket.png", "magnet.png",
	"planet.png", "lightbulb.png", "telescope.png", "satellite.png",
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.debug", false)
	v.SetDefault("database.mode", "sqlite")
	v.SetDefault("database.sqlite_path", "./data/physquest.db")
	v.SetDefault("database.max_open", 50)
	v.SetDefault("database.max_idle", 10)
	v.SetDefault("database.max_life", "1h")
	v.SetDefault("cache.local_gc_interval", "30s")
	v.SetDefault("cache.local_pubsub_buf", 256)
	v.SetDefault("security.jwt_ttl_h", "72h")
	v.SetDefault("security.bcrypt_cost", 12)
	v.SetDefault("security.rate_limit_rps", 100)
	v.SetDefault("security.rate_limit_burst", 200)
	v.SetDefault("security.auth_rate_rps", 1)
	v.SetDefault("security.auth_rate_burst", 10)
	v.SetDefault("log.max_size_mb", 100)
	v.SetDefault("log.max_backups", 5)
	v.SetDefault("log.max_age_days", 30)
	v.SetDefault("web.game_dir", "./static/pygame/build/web")
	v.SetDefault("profile.icons", DefaultIcons)
	v.SetDefault("profile.default_icon", "default.png")
	v.SetDefault("script.vm_pool_size", 4)
	v.SetDefault("script.timeout", "500ms")
	v.SetDefault("audit.retention", "720h")
	v.SetDefault("ranking.refresh_interval", "10m")
	v.SetDefault("ranking.top", 100)
}

// Load reads config from the given YAML file path. Values from .env.local /
// .env (when present) and PHYSQUEST_* environment variables override the file.
func Load(path string) (*Config, error) {
	// Missing .env files are not an error; production uses real env vars.
	_ = godotenv.Load(".env.local")
	_ = godotenv.Load()

	v := viper.New()
	v.SetConfigFile(path)
	v.SetConfigType("yaml")
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		return nil, err
	}
	return unmarshal(v)
}

// Default returns a Config populated only from defaults. Used by tests and
// by tooling that runs without a config file.
func Default() *Config {
	v := viper.New()
	setDefaults(v)
	cfg, _ := unmarshal(v)
	return cfg
}

func unmarshal(v *viper.Viper) (*Config, error) {
	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, err
	}
	if cfg.Profile.DefaultIcon != "" && !cfg.Profile.HasIcon(cfg.Profile.DefaultIcon) {
		cfg.Profile.Icons = append([]string{cfg.Profile.DefaultIcon}, cfg.Profile.Icons...)
	}
	return cfg, nil
}
