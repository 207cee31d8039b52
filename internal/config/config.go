package config

import (
	"bytes"
	_ "embed"
	"time"

	"github.com/spf13/viper"
)

//go:embed defaults.yaml
var defaults []byte

// ---- Root ----

type Config struct {
	Log        LogConfig       `mapstructure:"log"`
	HTTP       HTTPConfig      `mapstructure:"http"`
	MySQL      DatabaseConfig  `mapstructure:"mysql"`
	ClickHouse DatabaseConfig  `mapstructure:"clickhouse"`
	Redis      RedisConfig     `mapstructure:"redis"`
	Kafka      KafkaConfig     `mapstructure:"kafka"`
	RateLimit  RateLimitConfig `mapstructure:"rate_limit"`
	DKIM       DKIMConfig      `mapstructure:"dkim"`
	Abuse      AbuseConfig     `mapstructure:"abuse"`
	Storage    StorageConfig   `mapstructure:"storage"`
	Archiver   ArchiverConfig  `mapstructure:"archiver"`
}

// ---- Leaf structs ----

type LogConfig struct {
	Level string `mapstructure:"level"`
}

type HTTPConfig struct {
	Addr string `mapstructure:"addr"`
}

type DatabaseConfig struct {
	DSN             string        `mapstructure:"dsn"`
	MaxOpenConns    int           `mapstructure:"max_open_conns"`
	MaxIdleConns    int           `mapstructure:"max_idle_conns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
	ConnMaxIdleTime time.Duration `mapstructure:"conn_max_idletime"`
	PingTimeout     time.Duration `mapstructure:"ping_timeout"`
}

type RedisConfig struct {
	Addr        string        `mapstructure:"addr"`
	Password    string        `mapstructure:"password"`
	DB          int           `mapstructure:"db"`
	DialTimeout time.Duration `mapstructure:"dial_timeout"`
}

type KafkaConfig struct {
	Brokers        []string `mapstructure:"brokers"`
	AuditTopic     string   `mapstructure:"audit_topic"`
	GroupID        string   `mapstructure:"group_id"`
	MinBytes       int      `mapstructure:"min_bytes"`
	MaxBytes       int      `mapstructure:"max_bytes"`
	CommitInterval int      `mapstructure:"commit_interval_ms"`
}

type RateLimitConfig struct {
	RPS int `mapstructure:"rps"`
}

// DKIMConfig locates key material and the filter-daemon integration points.
type DKIMConfig struct {
	KeyDir        string        `mapstructure:"key_dir"`
	Selector      string        `mapstructure:"selector"`
	SelectorMap   string        `mapstructure:"selector_map"`
	ReloadCmd     string        `mapstructure:"reload_cmd"`
	ReloadTimeout time.Duration `mapstructure:"reload_timeout"`
}

// AbuseConfig drives the abuse detection worker.
type AbuseConfig struct {
	Interval time.Duration `mapstructure:"interval"`
	Window   time.Duration `mapstructure:"window"`
	Markers  []string      `mapstructure:"markers"`
	LogFile  AbuseLogFile  `mapstructure:"log_file"`
	Journal  AbuseJournal  `mapstructure:"journal"`
}

type AbuseLogFile struct {
	Enabled bool   `mapstructure:"enabled"`
	Path    string `mapstructure:"path"`
	Tail    int    `mapstructure:"tail_lines"`
}

type AbuseJournal struct {
	Enabled bool          `mapstructure:"enabled"`
	Unit    string        `mapstructure:"unit"`
	Since   time.Duration `mapstructure:"since"`
	Timeout time.Duration `mapstructure:"timeout"`
}

// StorageConfig configures the maildir inspector. StatsCmd/PurgeCmd are
// shell templates with {email} {domain} {local} {maildir} placeholders;
// empty means direct filesystem walk.
type StorageConfig struct {
	Bases      []string      `mapstructure:"bases"`
	StatsCmd   string        `mapstructure:"stats_cmd"`
	PurgeCmd   string        `mapstructure:"purge_cmd"`
	CmdTimeout time.Duration `mapstructure:"cmd_timeout"`
}

type ArchiverConfig struct {
	BatchSize int           `mapstructure:"batch_size"`
	BatchWait time.Duration `mapstructure:"batch_wait"`
}

// Load reads embedded defaults, merges user YAML (if provided), and applies env overrides (MAILPLANE_*).
func Load(path string) (Config, error) {
	v := viper.New()

	// embedded defaults
	v.SetConfigType("yaml")
	if err := v.ReadConfig(bytes.NewReader(defaults)); err != nil {
		return Config{}, err
	}

	if path != "" {
		v.SetConfigFile(path)
		_ = v.MergeInConfig()
	}

	// env override (MAILPLANE_*)
	v.SetEnvPrefix("MAILPLANE")
	v.AutomaticEnv()

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, err
	}
	return cfg, nil
}
