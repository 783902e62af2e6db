package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"time"

	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
	"gopkg.in/yaml.v3"
)

// EnvPrefix prefixes every environment override, e.g. AUCTION_DISCORD_TOKEN.
const EnvPrefix = "AUCTION"

// Config represents the application configuration.
type Config struct {
	Discord        DiscordConfig        `yaml:"discord"`
	Database       DatabaseConfig       `yaml:"database"`
	Server         ServerConfig         `yaml:"server"`
	Telemetry      TelemetryConfig      `yaml:"telemetry"`
	LeaderElection LeaderElectionConfig `yaml:"leader_election"`
	Realtime       RealtimeConfig       `yaml:"realtime"`
	Auction        AuctionConfig        `yaml:"auction"`
}

// DiscordConfig holds Discord console settings. The bot is disabled when no
// token is configured.
type DiscordConfig struct {
	Token       string `yaml:"token"`
	GuildID     string `yaml:"guild_id"`
	AdminRoleID string `yaml:"admin_role_id"`
	// AnnounceChannelID receives sale and lot announcements when set.
	AnnounceChannelID string `yaml:"announce_channel_id"`
}

// Enabled reports whether the Discord console should run.
func (d DiscordConfig) Enabled() bool { return d.Token != "" }

// DatabaseConfig holds database connection settings.
type DatabaseConfig struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	User     string `yaml:"user"`
	Password string `yaml:"password"`
	DBName   string `yaml:"dbname"`
	SSLMode  string `yaml:"sslmode"`
	Driver   string `yaml:"driver"` // "sqlx" or "ent"
}

// DSN returns the Postgres connection string.
func (d DatabaseConfig) DSN() string {
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		d.Host, d.Port, d.User, d.Password, d.DBName, d.SSLMode,
	)
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Port            int           `yaml:"port"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
	AllowedOrigins  []string      `yaml:"allowed_origins"`
}

// TelemetryConfig holds OpenTelemetry settings.
type TelemetryConfig struct {
	ServiceName    string `yaml:"service_name"`
	ServiceVersion string `yaml:"service_version"`
	OTLPEndpoint   string `yaml:"otlp_endpoint"`
	Insecure       bool   `yaml:"insecure"`
}

// LeaderElectionConfig holds Kubernetes leader election settings.
type LeaderElectionConfig struct {
	Enabled        bool          `yaml:"enabled"`
	LeaseName      string        `yaml:"lease_name"`
	LeaseNamespace string        `yaml:"lease_namespace"`
	LeaseDuration  time.Duration `yaml:"lease_duration"`
	RenewDeadline  time.Duration `yaml:"renew_deadline"`
	RetryPeriod    time.Duration `yaml:"retry_period"`
}

// RealtimeConfig holds the change feed and broadcast channel settings.
type RealtimeConfig struct {
	NATSURL       string        `yaml:"nats_url"`
	SubjectPrefix string        `yaml:"subject_prefix"`
	NotifyChannel string        `yaml:"notify_channel"`
	PingInterval  time.Duration `yaml:"ping_interval"`
}

// AuctionConfig holds the event rules.
type AuctionConfig struct {
	Teams         []string      `yaml:"teams"`
	StartingPurse int           `yaml:"starting_purse"`
	RosterCap     int           `yaml:"roster_cap"`
	PollInterval  time.Duration `yaml:"poll_interval"`
}

// envOverrides are secrets and endpoints that usually come from the
// deployment environment rather than the config file.
type envOverrides struct {
	DiscordToken     string `envconfig:"DISCORD_TOKEN"`
	DatabaseHost     string `envconfig:"DATABASE_HOST"`
	DatabaseUser     string `envconfig:"DATABASE_USER"`
	DatabasePassword string `envconfig:"DATABASE_PASSWORD"`
	NATSURL          string `envconfig:"NATS_URL"`
	OTLPEndpoint     string `envconfig:"OTLP_ENDPOINT"`
}

// Load reads a YAML configuration file from the given path, then applies
// AUCTION_* environment overrides. A .env file next to the config file is
// loaded first if present; it never replaces variables already set.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(filepath.Clean(path))
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	cfg := Defaults()

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}

	dotenv := filepath.Join(filepath.Dir(filepath.Clean(path)), ".env")
	if err := godotenv.Load(dotenv); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("loading %s: %w", dotenv, err)
	}

	if err := cfg.applyEnv(); err != nil {
		return nil, fmt.Errorf("reading environment: %w", err)
	}

	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return cfg, nil
}

// Defaults returns the configuration used for keys absent from the file.
func Defaults() *Config {
	return &Config{
		Server: ServerConfig{
			Port:            8080,
			ShutdownTimeout: 15 * time.Second,
			AllowedOrigins:  []string{"*"},
		},
		Database: DatabaseConfig{
			Host:    "localhost",
			Port:    5432,
			SSLMode: "disable",
			Driver:  "sqlx",
		},
		Telemetry: TelemetryConfig{
			ServiceName:    "auctiond",
			ServiceVersion: "0.1.0",
		},
		LeaderElection: LeaderElectionConfig{
			Enabled:        false,
			LeaseName:      "auctiond-leader",
			LeaseNamespace: "default",
			LeaseDuration:  15 * time.Second,
			RenewDeadline:  10 * time.Second,
			RetryPeriod:    2 * time.Second,
		},
		Realtime: RealtimeConfig{
			NATSURL:       "nats://localhost:4222",
			SubjectPrefix: "auction",
			NotifyChannel: "auction_state_changes",
			PingInterval:  90 * time.Second,
		},
		Auction: AuctionConfig{
			Teams:         []string{"Thakur XI", "Gabbar XI"},
			StartingPurse: 50000,
			RosterCap:     12,
			PollInterval:  5 * time.Second,
		},
	}
}

func (c *Config) applyEnv() error {
	var env envOverrides
	if err := envconfig.Process(EnvPrefix, &env); err != nil {
		return err
	}
	set := func(dst *string, v string) {
		if v != "" {
			*dst = v
		}
	}
	set(&c.Discord.Token, env.DiscordToken)
	set(&c.Database.Host, env.DatabaseHost)
	set(&c.Database.User, env.DatabaseUser)
	set(&c.Database.Password, env.DatabasePassword)
	set(&c.Realtime.NATSURL, env.NATSURL)
	set(&c.Telemetry.OTLPEndpoint, env.OTLPEndpoint)
	return nil
}

// validate checks configuration invariants.
func (c *Config) validate() error {
	switch c.Database.Driver {
	case "sqlx", "ent":
		// valid
	default:
		return fmt.Errorf("unsupported database driver %q: must be \"sqlx\" or \"ent\"", c.Database.Driver)
	}

	if len(c.Auction.Teams) < 2 {
		return fmt.Errorf("auction needs at least two teams, got %d", len(c.Auction.Teams))
	}
	seen := make(map[string]struct{}, len(c.Auction.Teams))
	for _, t := range c.Auction.Teams {
		if t == "" {
			return fmt.Errorf("empty team name")
		}
		if _, dup := seen[t]; dup {
			return fmt.Errorf("duplicate team %q", t)
		}
		seen[t] = struct{}{}
	}

	if c.Auction.StartingPurse <= 0 {
		return fmt.Errorf("starting purse must be positive, got %d", c.Auction.StartingPurse)
	}
	if c.Auction.RosterCap <= 0 {
		return fmt.Errorf("roster cap must be positive, got %d", c.Auction.RosterCap)
	}
	if c.Auction.PollInterval <= 0 {
		return fmt.Errorf("poll interval must be positive, got %s", c.Auction.PollInterval)
	}
	return nil
}
