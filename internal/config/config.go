// Package config provides configuration types and loading for groupforge.
package config

import (
	"errors"
	"fmt"
	"net"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/KafClaw/groupforge/internal/task"
)

// Config is the root configuration struct.
// Top-level groups: Paths, WhatsApp, Throttle, Gateway, Events.
type Config struct {
	Paths    PathsConfig    `json:"paths"`
	WhatsApp WhatsAppConfig `json:"whatsapp"`
	Throttle ThrottleConfig `json:"throttle"`
	Gateway  GatewayConfig  `json:"gateway"`
	Events   EventsConfig   `json:"events"`
}

// ---------------------------------------------------------------------------
// Paths – filesystem locations
// ---------------------------------------------------------------------------

// PathsConfig groups all filesystem path settings.
type PathsConfig struct {
	DataDir string `json:"dataDir" envconfig:"DATA_DIR"`
}

// LedgerPath is the sqlite database holding the dedup store and invite log.
func (p PathsConfig) LedgerPath() string { return filepath.Join(p.DataDir, "ledger.db") }

// SessionDir holds one whatsmeow device database per owner.
func (p PathsConfig) SessionDir() string { return filepath.Join(p.DataDir, "sessions") }

// LockPath is the process lock guarding the data directory.
func (p PathsConfig) LockPath() string { return filepath.Join(p.DataDir, "groupforge.lock") }

// QRPath is where the pairing QR code for owner is written.
func (p PathsConfig) QRPath(owner string) string {
	return filepath.Join(p.DataDir, "qr", owner+".png")
}

// ---------------------------------------------------------------------------
// WhatsApp – sessions and participant normalization
// ---------------------------------------------------------------------------

// WhatsAppConfig configures owner sessions and address handling.
type WhatsAppConfig struct {
	Owners             []string `json:"owners" envconfig:"OWNERS"`
	DefaultCountryCode string   `json:"defaultCountryCode" envconfig:"DEFAULT_COUNTRY_CODE"`
	AddressServer      string   `json:"addressServer" envconfig:"ADDRESS_SERVER"`
	InviteMessage      string   `json:"inviteMessage" envconfig:"INVITE_MESSAGE"`
}

// ---------------------------------------------------------------------------
// Throttle – anti-abuse pacing
// ---------------------------------------------------------------------------

// ThrottleConfig paces calls against the messaging network.
type ThrottleConfig struct {
	MinDelay       time.Duration `json:"minDelay" envconfig:"MIN_DELAY"`
	MaxDelay       time.Duration `json:"maxDelay" envconfig:"MAX_DELAY"`
	InviteInterval time.Duration `json:"inviteInterval" envconfig:"INVITE_INTERVAL"`
	PromoteDelay   time.Duration `json:"promoteDelay" envconfig:"PROMOTE_DELAY"`
}

// ---------------------------------------------------------------------------
// Gateway – HTTP server networking
// ---------------------------------------------------------------------------

// GatewayConfig contains gateway server settings. Tokens maps a bearer token
// to the owner it authenticates.
type GatewayConfig struct {
	Host           string            `json:"host" envconfig:"HOST"`
	Port           int               `json:"port" envconfig:"PORT"`
	Tokens         map[string]string `json:"tokens" envconfig:"TOKENS"`
	MaxUploadBytes int64             `json:"maxUploadBytes" envconfig:"MAX_UPLOAD_BYTES"`
}

// Addr returns host:port.
func (g GatewayConfig) Addr() string {
	return net.JoinHostPort(g.Host, strconv.Itoa(g.Port))
}

// ---------------------------------------------------------------------------
// Events – realtime sinks
// ---------------------------------------------------------------------------

// EventsConfig configures the subscriber hub and optional external sinks.
// A sink is enabled when its address (or token) is set.
type EventsConfig struct {
	SubscriberBuffer   int    `json:"subscriberBuffer" envconfig:"SUBSCRIBER_BUFFER"`
	KafkaBrokers       string `json:"kafkaBrokers" envconfig:"KAFKA_BROKERS"`
	KafkaTopic         string `json:"kafkaTopic" envconfig:"KAFKA_TOPIC"`
	RedisAddr          string `json:"redisAddr" envconfig:"REDIS_ADDR"`
	RedisChannelPrefix string `json:"redisChannelPrefix" envconfig:"REDIS_CHANNEL_PREFIX"`
	SlackToken         string `json:"slackToken" envconfig:"SLACK_TOKEN"`
	SlackChannel       string `json:"slackChannel" envconfig:"SLACK_CHANNEL"`
}

// Brokers splits KafkaBrokers on commas.
func (e EventsConfig) Brokers() []string {
	var out []string
	for _, b := range strings.Split(e.KafkaBrokers, ",") {
		if b = strings.TrimSpace(b); b != "" {
			out = append(out, b)
		}
	}
	return out
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		Paths: PathsConfig{
			DataDir: "~/.groupforge/data",
		},
		WhatsApp: WhatsAppConfig{
			DefaultCountryCode: "91",
			AddressServer:      "s.whatsapp.net",
		},
		Throttle: ThrottleConfig{
			MinDelay:       10 * time.Second,
			MaxDelay:       20 * time.Second,
			InviteInterval: time.Second,
			PromoteDelay:   2 * time.Second,
		},
		Gateway: GatewayConfig{
			Host:           "127.0.0.1", // Secure default
			Port:           18810,
			Tokens:         map[string]string{},
			MaxUploadBytes: 5 << 20,
		},
		Events: EventsConfig{
			SubscriberBuffer:   64,
			KafkaTopic:         "groupforge.events",
			RedisChannelPrefix: "groupforge:events:",
		},
	}
}

// Validate checks settings that would otherwise fail at runtime.
func (c *Config) Validate() error {
	var errs []error
	if c.Paths.DataDir == "" {
		errs = append(errs, errors.New("paths.dataDir is required"))
	}
	if c.Throttle.MinDelay < 0 || c.Throttle.MaxDelay < c.Throttle.MinDelay {
		errs = append(errs, fmt.Errorf("throttle: need 0 <= minDelay <= maxDelay, got %s..%s", c.Throttle.MinDelay, c.Throttle.MaxDelay))
	}
	if c.Gateway.Port <= 0 || c.Gateway.Port > 65535 {
		errs = append(errs, fmt.Errorf("gateway.port %d out of range", c.Gateway.Port))
	}
	for token, owner := range c.Gateway.Tokens {
		if strings.TrimSpace(token) == "" {
			errs = append(errs, errors.New("gateway.tokens: empty token"))
		}
		if !task.ValidOwnerID(owner) {
			errs = append(errs, fmt.Errorf("gateway.tokens: invalid owner %q", owner))
		}
	}
	for _, owner := range c.WhatsApp.Owners {
		if !task.ValidOwnerID(owner) {
			errs = append(errs, fmt.Errorf("whatsapp.owners: invalid owner %q", owner))
		}
	}
	if c.Events.KafkaBrokers != "" && c.Events.KafkaTopic == "" {
		errs = append(errs, errors.New("events.kafkaTopic is required with kafkaBrokers"))
	}
	if c.Events.SlackToken != "" && c.Events.SlackChannel == "" {
		errs = append(errs, errors.New("events.slackChannel is required with slackToken"))
	}
	return errors.Join(errs...)
}
