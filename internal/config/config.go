package config

import (
	"bytes"
	_ "embed"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/jmehdipour/sms-sequencer/internal/transport"
	"github.com/jmehdipour/sms-sequencer/internal/util"
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
	Scheduler  SchedulerConfig `mapstructure:"scheduler"`
	Trigger    TriggerConfig   `mapstructure:"trigger"`
	Admin      AdminConfig     `mapstructure:"admin"`
	Transport  TransportConfig `mapstructure:"transport"`
	RateLimit  RateLimitConfig `mapstructure:"rate_limit"`
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
	RunStateTTL time.Duration `mapstructure:"run_state_ttl"`
}

type KafkaConfig struct {
	Brokers        []string      `mapstructure:"brokers"`
	GroupID        string        `mapstructure:"group_id"`
	TickTopic      string        `mapstructure:"tick_topic"`
	StaleTickAfter time.Duration `mapstructure:"stale_tick_after"`
}

type SchedulerConfig struct {
	BatchSize   int           `mapstructure:"batch_size"`
	ClaimLease  time.Duration `mapstructure:"claim_lease"`
	SendTimeout time.Duration `mapstructure:"send_timeout"`
}

type TriggerConfig struct {
	Secret string `mapstructure:"secret"` // X-Cron-Secret
}

type AdminConfig struct {
	Token string `mapstructure:"token"` // X-Admin-Token
}

type TransportConfig struct {
	Mode            string        `mapstructure:"mode"`
	SenderID        string        `mapstructure:"sender_id"`
	TestDestination string        `mapstructure:"test_destination"`
	BaseURL         string        `mapstructure:"base_url"`
	Timeout         time.Duration `mapstructure:"timeout"`
	Credentials     Credentials   `mapstructure:"credentials"`
	Breaker         BreakerConfig `mapstructure:"breaker"`
}

type Credentials struct {
	AccountSID string `mapstructure:"account_sid"`
	AuthToken  string `mapstructure:"auth_token"`
}

type BreakerConfig struct {
	FailThreshold int           `mapstructure:"fail_threshold"`
	OpenFor       time.Duration `mapstructure:"open_for"`
}

type RateLimitConfig struct {
	TriggerPerMinute int `mapstructure:"trigger_per_minute"`
}

// TransportSettings maps the transport block onto the transport package.
func (c Config) TransportSettings() transport.Config {
	return transport.Config{
		Mode:     transport.ParseMode(c.Transport.Mode),
		SenderID: c.Transport.SenderID,
		Twilio: transport.TwilioConfig{
			BaseURL:          c.Transport.BaseURL,
			AccountSID:       c.Transport.Credentials.AccountSID,
			AuthToken:        c.Transport.Credentials.AuthToken,
			Timeout:          c.Transport.Timeout,
			BreakerThreshold: c.Transport.Breaker.FailThreshold,
			BreakerOpenFor:   c.Transport.Breaker.OpenFor,
		},
	}
}

// Validate checks what every command needs. Commands that serve HTTP also
// call ValidateServe.
func (c Config) Validate() error {
	var errs []error
	if c.Scheduler.BatchSize <= 0 {
		errs = append(errs, errors.New("scheduler.batch_size must be positive"))
	}
	if c.Scheduler.ClaimLease <= 0 {
		errs = append(errs, errors.New("scheduler.claim_lease must be positive"))
	}
	if c.Scheduler.SendTimeout > 0 && c.Scheduler.ClaimLease <= c.Scheduler.SendTimeout {
		errs = append(errs, errors.New("scheduler.claim_lease must exceed scheduler.send_timeout"))
	}
	if err := c.TransportSettings().Validate(); err != nil {
		errs = append(errs, err)
	}
	if dest := strings.TrimSpace(c.Transport.TestDestination); dest != "" && util.NormalizePhone(dest) == "" {
		errs = append(errs, fmt.Errorf("transport.test_destination %q is not a phone number", dest))
	}
	return errors.Join(errs...)
}

func (c Config) ValidateServe() error {
	if err := c.Validate(); err != nil {
		return err
	}
	if strings.TrimSpace(c.Trigger.Secret) == "" {
		return fmt.Errorf("trigger.secret is required to serve the cron endpoint")
	}
	return nil
}

// Load reads embedded defaults, merges user YAML (if provided), and applies env overrides (SMSSEQ_*).
func Load(path string) (Config, error) {
	v := viper.New()

	// embedded defaults
	v.SetConfigType("yaml")
	if err := v.ReadConfig(bytes.NewReader(defaults)); err != nil {
		return Config{}, err
	}

	// an explicit file must exist and parse
	if path != "" {
		v.SetConfigFile(path)
		if err := v.MergeInConfig(); err != nil {
			return Config{}, fmt.Errorf("read config %s: %w", path, err)
		}
	}

	// env override (SMSSEQ_TRANSPORT_MODE, SMSSEQ_TRIGGER_SECRET, ...)
	v.SetEnvPrefix("SMSSEQ")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, err
	}
	return cfg, nil
}
