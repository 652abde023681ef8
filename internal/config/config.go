// Package config loads the TOML configuration of the relay service.
// Several search paths are tried so the binary and the tests find the same file.
package config

import (
	"fmt"
	"sync"
	"time"

	"github.com/BurntSushi/toml"
)

// MainConfig holds basic application settings.
type MainConfig struct {
	AppName    string `toml:"appName"`    // used as log and audit source
	Host       string `toml:"host"`       // listen address, e.g. "0.0.0.0"
	Port       int    `toml:"port"`       // listen port, e.g. 8000
	Mode       string `toml:"mode"`       // "dev" or "release"
	InstanceID string `toml:"instanceId"` // unique per relay instance in kafka mode
	TLS        bool   `toml:"tls"`        // redirect to https through unrolled/secure
}

type MysqlConfig struct {
	Host         string `toml:"host"`
	Port         int    `toml:"port"`
	User         string `toml:"user"`
	Password     string `toml:"password"`
	DatabaseName string `toml:"databaseName"`
}

type RedisConfig struct {
	Host     string `toml:"host"`
	Port     int    `toml:"port"`
	Password string `toml:"password"` // empty for no auth
	Db       int    `toml:"db"`
}

// AuthCodeConfig configures the SMS OTP provider (Aliyun dysmsapi).
// An empty AccessKeyID switches to the local mock sender.
type AuthCodeConfig struct {
	AccessKeyID     string `toml:"accessKeyID"`
	AccessKeySecret string `toml:"accessKeySecret"`
	SignName        string `toml:"signName"`
	TemplateCode    string `toml:"templateCode"`
	CodeLength      int    `toml:"codeLength"` // digits per OTP
}

// LogConfig configures zap with lumberjack rotation.
type LogConfig struct {
	LogPath    string `toml:"logPath"`
	FileName   string `toml:"fileName"`
	MaxSize    int    `toml:"maxSize"`    // MB per file
	MaxBackups int    `toml:"maxBackups"` // rotated files kept
	MaxAge     int    `toml:"maxAge"`     // days
	Level      string `toml:"level"`      // debug, info, warn, error
}

// KafkaConfig selects the relay fan-out mode.
type KafkaConfig struct {
	MessageMode string        `toml:"messageMode"` // "channel" or "kafka"
	HostPort    string        `toml:"hostPort"`    // comma separated brokers
	RelayTopic  string        `toml:"relayTopic"`  // cross-instance frame topic
	Partition   int           `toml:"partition"`
	Timeout     time.Duration `toml:"timeout"` // seconds
}

// RabbitMQConfig configures the audit publisher. An empty URL disables it.
type RabbitMQConfig struct {
	URL      string `toml:"url"`
	Exchange string `toml:"exchange"`
}

type StaticSrcConfig struct {
	StaticFilePath string `toml:"staticFilePath"` // upload directory
	PublicBaseURL  string `toml:"publicBaseUrl"`  // origin prefixed to /static/<name>, empty for relative urls
	MaxUploadMB    int64  `toml:"maxUploadMb"`
}

type JWTConfig struct {
	Secret             string `toml:"secret"`
	AccessTokenExpiry  int    `toml:"accessTokenExpiry"`  // minutes
	RefreshTokenExpiry int    `toml:"refreshTokenExpiry"` // hours
}

// SnowflakeConfig MachineID must be unique per deployed instance, 0-1023.
type SnowflakeConfig struct {
	MachineID int64 `toml:"machineId"`
}

// RTCConfig lists the ICE servers handed to browsers.
// ICEServersJSON takes precedence over StunURLs when both are set.
type RTCConfig struct {
	ICEServersJSON string   `toml:"iceServersJson"`
	StunURLs       []string `toml:"stunUrls"`
}

// RelayConfig tunes websocket connections.
type RelayConfig struct {
	SendBufferSize int   `toml:"sendBufferSize"` // frames queued per connection
	PingInterval   int   `toml:"pingInterval"`   // seconds
	MaxMessageSize int64 `toml:"maxMessageSize"` // bytes
	PendingLimit   int   `toml:"pendingLimit"`   // undelivered messages pushed on join
	PresenceTTL    int   `toml:"presenceTtl"`    // seconds
}

// AdminConfig phones listed here receive the admin role on OTP login.
type AdminConfig struct {
	Phones []string `toml:"phones"`
}

// Config aggregates every section.
type Config struct {
	MainConfig      `toml:"mainConfig"`
	MysqlConfig     `toml:"mysqlConfig"`
	RedisConfig     `toml:"redisConfig"`
	AuthCodeConfig  `toml:"authCodeConfig"`
	LogConfig       `toml:"logConfig"`
	KafkaConfig     `toml:"kafkaConfig"`
	RabbitMQConfig  `toml:"rabbitmqConfig"`
	StaticSrcConfig `toml:"staticSrcConfig"`
	JWTConfig       `toml:"jwtConfig"`
	SnowflakeConfig `toml:"snowflakeConfig"`
	RTCConfig       `toml:"rtcConfig"`
	RelayConfig     `toml:"relayConfig"`
	AdminConfig     `toml:"adminConfig"`
}

var (
	config     *Config
	configOnce sync.Once
)

// LoadConfig decodes the first configuration file found into c.
func LoadConfig(c *Config) error {
	paths := []string{
		"configs/config_local.toml",
		"configs/config.toml",
		"../../configs/config_local.toml",
		"../../configs/config.toml",
	}

	for _, path := range paths {
		if _, err := toml.DecodeFile(path, c); err == nil {
			return nil
		}
	}

	return fmt.Errorf("could not find configuration file in any of the search paths")
}

// Load decodes a TOML file at path, then applies defaults.
func Load(path string) (*Config, error) {
	c := new(Config)
	if _, err := toml.DecodeFile(path, c); err != nil {
		return nil, fmt.Errorf("decode %s: %w", path, err)
	}
	c.applyDefaults()
	return c, nil
}

// GetConfig returns the process-wide configuration, loading it on first use.
// A missing file leaves every field at its default.
func GetConfig() *Config {
	configOnce.Do(func() {
		config = new(Config)
		_ = LoadConfig(config)
		config.applyDefaults()
	})
	return config
}

func (c *Config) applyDefaults() {
	if c.AppName == "" {
		c.AppName = "astro_chat_server"
	}
	if c.Mode == "" {
		c.Mode = "dev"
	}
	if c.MainConfig.Port == 0 {
		c.MainConfig.Port = 8000
	}
	if c.InstanceID == "" {
		c.InstanceID = fmt.Sprintf("relay-%d", c.MachineID)
	}
	if c.MessageMode == "" {
		c.MessageMode = "channel"
	}
	if c.RelayTopic == "" {
		c.RelayTopic = "relay_frames"
	}
	if c.KafkaConfig.Timeout == 0 {
		c.KafkaConfig.Timeout = 1
	}
	if c.CodeLength == 0 {
		c.CodeLength = 6
	}
	if c.SendBufferSize == 0 {
		c.SendBufferSize = 128
	}
	if c.PingInterval == 0 {
		c.PingInterval = 25
	}
	if c.MaxMessageSize == 0 {
		c.MaxMessageSize = 64 << 10
	}
	if c.PendingLimit == 0 {
		c.PendingLimit = 50
	}
	if c.PresenceTTL == 0 {
		c.PresenceTTL = 120
	}
	// presence is refreshed on each ping, so it must outlive a missed tick
	if c.PresenceTTL < 2*c.PingInterval {
		c.PresenceTTL = 3 * c.PingInterval
	}
	if c.StaticFilePath == "" {
		c.StaticFilePath = "./static/files"
	}
	if c.MaxUploadMB == 0 {
		c.MaxUploadMB = 20
	}
	if c.AccessTokenExpiry == 0 {
		c.AccessTokenExpiry = 30
	}
	if c.RefreshTokenExpiry == 0 {
		c.RefreshTokenExpiry = 168
	}
	if c.Exchange == "" {
		c.Exchange = "astro.relay"
	}
}

// IsAdminPhone reports whether phone is configured as an admin.
func (c *Config) IsAdminPhone(phone string) bool {
	for _, p := range c.Phones {
		if p == phone {
			return true
		}
	}
	return false
}
