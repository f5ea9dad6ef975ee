package config

import "time"

// Config holds server configuration values.
type Config struct {
	Addr              string        `mapstructure:"addr" yaml:"addr"`
	ReadHeaderTimeout time.Duration `mapstructure:"read_header_timeout" yaml:"read_header_timeout"`
	ShutdownTimeout   time.Duration `mapstructure:"shutdown_timeout" yaml:"shutdown_timeout"`
	LogLevel          string        `mapstructure:"log_level" yaml:"log_level"`

	DatabasePath string `mapstructure:"database_path" yaml:"database_path"`

	JWTSecret   string        `mapstructure:"jwt_secret" yaml:"jwt_secret"`
	JWTIssuer   string        `mapstructure:"jwt_issuer" yaml:"jwt_issuer"`
	JWTAudience string        `mapstructure:"jwt_audience" yaml:"jwt_audience"`
	JWTTTL      time.Duration `mapstructure:"jwt_ttl" yaml:"jwt_ttl"`

	HeartbeatInterval time.Duration `mapstructure:"heartbeat_interval" yaml:"heartbeat_interval"`
	PingTimeout       time.Duration `mapstructure:"ping_timeout" yaml:"ping_timeout"`
	SendBuffer        int           `mapstructure:"send_buffer" yaml:"send_buffer"`

	UploadDir     string `mapstructure:"upload_dir" yaml:"upload_dir"`
	MaxUploadSize int64  `mapstructure:"max_upload_size" yaml:"max_upload_size"`
}

// Default returns configuration with reasonable starter defaults.
func Default() Config {
	return Config{
		Addr:              ":8080",
		ReadHeaderTimeout: 5 * time.Second,
		ShutdownTimeout:   5 * time.Second,
		LogLevel:          "info",
		DatabasePath:      "deskhive.db",
		JWTIssuer:         "deskhive",
		JWTAudience:       "deskhive-chat",
		JWTTTL:            24 * time.Hour,
		HeartbeatInterval: 30 * time.Second,
		PingTimeout:       10 * time.Second,
		SendBuffer:        32,
		UploadDir:         "uploads",
		MaxUploadSize:     50 << 20,
	}
}
