// Package config defines the SDK's configuration surface (spec §6)
// and an optional env-var loader for the demo CLI and integration
// tests. Embedding mobile applications are expected to build a Config
// directly and pass it to session.New; Load exists so the
// reference binary and tests don't hand-roll flag parsing.
package config

import (
	"fmt"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
)

// TransportType selects which wire variant a session uses.
type TransportType string

const (
	TransportWebSocket TransportType = "websocket"
	TransportTCP       TransportType = "tcp"
)

// Config is the full set of recognized options from spec §6.
type Config struct {
	APIURL string `env:"IM_API_URL"`
	IMURL  string `env:"IM_URL"`

	TransportType     TransportType `env:"IM_TRANSPORT_TYPE" envDefault:"websocket"`
	EnableSmartSwitch bool          `env:"IM_ENABLE_SMART_SWITCH" envDefault:"false"`

	ConnectionTimeout time.Duration `env:"IM_CONNECTION_TIMEOUT" envDefault:"30s"`
	HeartbeatInterval time.Duration `env:"IM_HEARTBEAT_INTERVAL" envDefault:"30s"`
	HeartbeatTimeout  time.Duration `env:"IM_HEARTBEAT_TIMEOUT" envDefault:"10s"`

	AutoReconnect         bool          `env:"IM_AUTO_RECONNECT" envDefault:"true"`
	MaxReconnectAttempts  int           `env:"IM_MAX_RECONNECT_ATTEMPTS" envDefault:"5"`
	ReconnectBaseInterval time.Duration `env:"IM_RECONNECT_BASE_INTERVAL" envDefault:"1s"`
	ReconnectCapInterval  time.Duration `env:"IM_RECONNECT_CAP_INTERVAL" envDefault:"32s"`
	ReconnectJitterRatio  float64       `env:"IM_RECONNECT_JITTER_RATIO" envDefault:"0.3"`

	MaxPacketSize       int  `env:"IM_MAX_PACKET_SIZE" envDefault:"1048576"`
	MaxBufferSize       int  `env:"IM_MAX_BUFFER_SIZE" envDefault:"2097152"`
	MaxSequenceGap      int64 `env:"IM_MAX_SEQUENCE_GAP" envDefault:"100"`
	EnableSequenceCheck bool `env:"IM_ENABLE_SEQUENCE_CHECK" envDefault:"true"`

	AckTimeout       time.Duration `env:"IM_ACK_TIMEOUT" envDefault:"5s"`
	AckMaxAttempts   int           `env:"IM_ACK_MAX_ATTEMPTS" envDefault:"3"`
	AckCheckInterval time.Duration `env:"IM_ACK_CHECK_INTERVAL" envDefault:"1s"`

	// OutboxResendBurstPerSecond bounds how fast the outbox replays a
	// pending backlog after a reconnect. Zero disables the limit.
	OutboxResendBurstPerSecond float64 `env:"IM_OUTBOX_RESEND_BURST_PER_SECOND" envDefault:"20"`

	RevokeWindow time.Duration `env:"IM_REVOKE_WINDOW" envDefault:"120s"`

	DBWALCheckpointInterval  time.Duration `env:"IM_DB_WAL_CHECKPOINT_INTERVAL" envDefault:"60s"`
	DBWALAutocheckpointPages int           `env:"IM_DB_WAL_AUTOCHECKPOINT_PAGES" envDefault:"1000"`

	DBPath string `env:"IM_DB_PATH" envDefault:"./im-data"`
	UserID string `env:"IM_USER_ID"`

	LogLevel  string `env:"IM_LOG_LEVEL" envDefault:"info"`
	LogFormat string `env:"IM_LOG_FORMAT" envDefault:"json"`
}

// Load reads configuration from a .env file (if present) and the
// process environment. The .env file is optional; its absence is
// logged, not fatal. A nil logger suppresses those messages.
func Load(logger *zerolog.Logger) (*Config, error) {
	if err := godotenv.Load(); err != nil {
		if logger != nil {
			logger.Info().Msg("no .env file found, using process environment only")
		}
	} else if logger != nil {
		logger.Info().Msg("loaded configuration from .env file")
	}

	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}

	return cfg, nil
}

// Validate checks the config for internally-inconsistent or missing
// required values.
func (c *Config) Validate() error {
	if c.IMURL == "" {
		return fmt.Errorf("IM_URL is required")
	}
	if c.UserID == "" {
		return fmt.Errorf("IM_USER_ID is required")
	}
	if c.TransportType != TransportWebSocket && c.TransportType != TransportTCP {
		return fmt.Errorf("IM_TRANSPORT_TYPE must be 'websocket' or 'tcp', got %q", c.TransportType)
	}
	if c.MaxReconnectAttempts < 0 {
		return fmt.Errorf("IM_MAX_RECONNECT_ATTEMPTS must be >= 0, got %d", c.MaxReconnectAttempts)
	}
	if c.ReconnectJitterRatio < 0 || c.ReconnectJitterRatio > 1 {
		return fmt.Errorf("IM_RECONNECT_JITTER_RATIO must be within [0,1], got %.2f", c.ReconnectJitterRatio)
	}
	if c.MaxPacketSize <= 0 {
		return fmt.Errorf("IM_MAX_PACKET_SIZE must be > 0, got %d", c.MaxPacketSize)
	}
	if c.MaxBufferSize < c.MaxPacketSize {
		return fmt.Errorf("IM_MAX_BUFFER_SIZE (%d) must be >= IM_MAX_PACKET_SIZE (%d)", c.MaxBufferSize, c.MaxPacketSize)
	}
	if c.AckMaxAttempts < 1 {
		return fmt.Errorf("IM_ACK_MAX_ATTEMPTS must be >= 1, got %d", c.AckMaxAttempts)
	}
	return nil
}

// Print writes a human-readable rendering of the config to stdout,
// for startup logs in the demo binary.
func (c *Config) Print() {
	fmt.Println("=== IM Core Configuration ===")
	fmt.Printf("IM URL:              %s\n", c.IMURL)
	fmt.Printf("Transport:           %s (smart switch: %v)\n", c.TransportType, c.EnableSmartSwitch)
	fmt.Printf("Heartbeat:           every %s, timeout %s\n", c.HeartbeatInterval, c.HeartbeatTimeout)
	fmt.Printf("Reconnect:           auto=%v max_attempts=%d base=%s cap=%s jitter=%.2f\n",
		c.AutoReconnect, c.MaxReconnectAttempts, c.ReconnectBaseInterval, c.ReconnectCapInterval, c.ReconnectJitterRatio)
	fmt.Printf("ACK:                 timeout=%s max_attempts=%d check_interval=%s\n",
		c.AckTimeout, c.AckMaxAttempts, c.AckCheckInterval)
	fmt.Printf("DB path:             %s\n", c.DBPath)
}
