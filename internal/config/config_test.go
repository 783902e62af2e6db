package config_test

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/jensholdgaard/auction-console/internal/config"
)

func writeConfig(t *testing.T, dir, body string) string {
	t.Helper()
	path := filepath.Join(dir, "config.yaml")
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestLoad(t *testing.T) {
	tests := []struct {
		name    string
		yaml    string
		wantErr bool
		check   func(t *testing.T, cfg *config.Config)
	}{
		{
			name: "valid full config",
			yaml: `
discord:
  token: "test-token"
  guild_id: "123456"
  admin_role_id: "999"
  announce_channel_id: "777"
database:
  host: "db.example.com"
  port: 5433
  user: "auction"
  password: "secret"
  dbname: "auction"
  sslmode: "require"
  driver: "sqlx"
server:
  port: 9090
telemetry:
  service_name: "my-auction"
  otlp_endpoint: "localhost:4318"
realtime:
  nats_url: "nats://nats:4222"
  subject_prefix: "ipl"
auction:
  teams: ["Red", "Blue"]
  starting_purse: 80000
  roster_cap: 15
  poll_interval: 2s
`,
			check: func(t *testing.T, cfg *config.Config) {
				t.Helper()
				if cfg.Discord.Token != "test-token" {
					t.Errorf("got token %q, want %q", cfg.Discord.Token, "test-token")
				}
				if cfg.Discord.AdminRoleID != "999" {
					t.Errorf("got admin role %q, want %q", cfg.Discord.AdminRoleID, "999")
				}
				if cfg.Discord.AnnounceChannelID != "777" {
					t.Errorf("got announce channel %q, want %q", cfg.Discord.AnnounceChannelID, "777")
				}
				if cfg.Database.Port != 5433 {
					t.Errorf("got db port %d, want %d", cfg.Database.Port, 5433)
				}
				if cfg.Server.Port != 9090 {
					t.Errorf("got server port %d, want %d", cfg.Server.Port, 9090)
				}
				if cfg.Realtime.SubjectPrefix != "ipl" {
					t.Errorf("got subject prefix %q, want %q", cfg.Realtime.SubjectPrefix, "ipl")
				}
				if cfg.Auction.StartingPurse != 80000 || cfg.Auction.RosterCap != 15 {
					t.Errorf("got purse %d cap %d, want 80000 15", cfg.Auction.StartingPurse, cfg.Auction.RosterCap)
				}
				if cfg.Auction.PollInterval != 2*time.Second {
					t.Errorf("got poll interval %s, want 2s", cfg.Auction.PollInterval)
				}
				if len(cfg.Auction.Teams) != 2 || cfg.Auction.Teams[1] != "Blue" {
					t.Errorf("got teams %v", cfg.Auction.Teams)
				}
			},
		},
		{
			name: "defaults applied",
			yaml: `
discord:
  token: "tok"
`,
			check: func(t *testing.T, cfg *config.Config) {
				t.Helper()
				if cfg.Database.Host != "localhost" {
					t.Errorf("got db host %q, want %q", cfg.Database.Host, "localhost")
				}
				if cfg.Server.Port != 8080 {
					t.Errorf("got server port %d, want %d", cfg.Server.Port, 8080)
				}
				if cfg.Telemetry.ServiceName != "auctiond" {
					t.Errorf("got service name %q, want %q", cfg.Telemetry.ServiceName, "auctiond")
				}
				if cfg.Realtime.NotifyChannel != "auction_state_changes" {
					t.Errorf("got notify channel %q", cfg.Realtime.NotifyChannel)
				}
				if cfg.Auction.StartingPurse != 50000 {
					t.Errorf("got purse %d, want 50000", cfg.Auction.StartingPurse)
				}
				if cfg.Auction.RosterCap != 12 {
					t.Errorf("got roster cap %d, want 12", cfg.Auction.RosterCap)
				}
				if cfg.Auction.PollInterval != 5*time.Second {
					t.Errorf("got poll interval %s, want 5s", cfg.Auction.PollInterval)
				}
			},
		},
		{
			name: "discord disabled without token",
			yaml: `server:
  port: 8081
`,
			check: func(t *testing.T, cfg *config.Config) {
				t.Helper()
				if cfg.Discord.Enabled() {
					t.Error("expected discord to be disabled")
				}
			},
		},
		{
			name:    "invalid yaml",
			yaml:    `{{{invalid`,
			wantErr: true,
		},
		{
			name: "ent driver accepted",
			yaml: `
database:
  driver: "ent"
`,
			check: func(t *testing.T, cfg *config.Config) {
				t.Helper()
				if cfg.Database.Driver != "ent" {
					t.Errorf("got driver %q, want %q", cfg.Database.Driver, "ent")
				}
			},
		},
		{
			name: "invalid driver rejected",
			yaml: `
database:
  driver: "mongodb"
`,
			wantErr: true,
		},
		{
			name: "single team rejected",
			yaml: `
auction:
  teams: ["Solo"]
`,
			wantErr: true,
		},
		{
			name: "duplicate team rejected",
			yaml: `
auction:
  teams: ["A", "A"]
`,
			wantErr: true,
		},
		{
			name: "non-positive purse rejected",
			yaml: `
auction:
  starting_purse: 0
`,
			wantErr: true,
		},
		{
			name: "non-positive poll interval rejected",
			yaml: `
auction:
  poll_interval: 0s
`,
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path := writeConfig(t, t.TempDir(), tt.yaml)

			cfg, err := config.Load(path)
			if (err != nil) != tt.wantErr {
				t.Fatalf("Load() error = %v, wantErr %v", err, tt.wantErr)
			}
			if tt.check != nil && cfg != nil {
				tt.check(t, cfg)
			}
		})
	}
}

func TestLoad_EnvOverrides(t *testing.T) {
	t.Setenv("AUCTION_DISCORD_TOKEN", "from-env")
	t.Setenv("AUCTION_DATABASE_PASSWORD", "env-secret")
	t.Setenv("AUCTION_NATS_URL", "nats://env:4222")

	path := writeConfig(t, t.TempDir(), `
discord:
  token: "from-file"
database:
  password: "file-secret"
`)

	cfg, err := config.Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Discord.Token != "from-env" {
		t.Errorf("got token %q, want %q", cfg.Discord.Token, "from-env")
	}
	if cfg.Database.Password != "env-secret" {
		t.Errorf("got password %q, want %q", cfg.Database.Password, "env-secret")
	}
	if cfg.Realtime.NATSURL != "nats://env:4222" {
		t.Errorf("got nats url %q", cfg.Realtime.NATSURL)
	}
}

func TestLoad_DotEnv(t *testing.T) {
	dir := t.TempDir()
	path := writeConfig(t, dir, "server:\n  port: 8080\n")
	if err := os.WriteFile(filepath.Join(dir, ".env"), []byte("AUCTION_OTLP_ENDPOINT=collector:4318\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	// godotenv sets process env directly; register cleanup through t.Setenv.
	t.Setenv("AUCTION_OTLP_ENDPOINT", "")
	os.Unsetenv("AUCTION_OTLP_ENDPOINT")

	cfg, err := config.Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Telemetry.OTLPEndpoint != "collector:4318" {
		t.Errorf("got endpoint %q, want %q", cfg.Telemetry.OTLPEndpoint, "collector:4318")
	}
}

func TestLoad_FileNotFound(t *testing.T) {
	_, err := config.Load("/nonexistent/path/config.yaml")
	if err == nil {
		t.Fatal("expected error for nonexistent file")
	}
}

func TestDatabaseConfig_DSN(t *testing.T) {
	cfg := config.DatabaseConfig{
		Host:     "localhost",
		Port:     5432,
		User:     "user",
		Password: "pass",
		DBName:   "testdb",
		SSLMode:  "disable",
	}
	want := "host=localhost port=5432 user=user password=pass dbname=testdb sslmode=disable"
	if got := cfg.DSN(); got != want {
		t.Errorf("DSN() = %q, want %q", got, want)
	}
}
