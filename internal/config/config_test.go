package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func writeTempFile(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "hub.yaml")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write temp config: %v", err)
	}
	return path
}

func TestLoad(t *testing.T) {
	yaml := `
instance:
  id: test-hub
  az: us-east-1a
server:
  listen_addr: ":9090"
session:
  heartbeat_interval: 10s
`
	path := writeTempFile(t, yaml)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	if cfg.Instance.ID != "test-hub" {
		t.Errorf("Instance.ID = %q, want %q", cfg.Instance.ID, "test-hub")
	}
	if cfg.Server.ListenAddr != ":9090" {
		t.Errorf("Server.ListenAddr = %q, want %q", cfg.Server.ListenAddr, ":9090")
	}
	if cfg.Session.HeartbeatInterval != 10*time.Second {
		t.Errorf("Session.HeartbeatInterval = %v, want 10s", cfg.Session.HeartbeatInterval)
	}
}

func TestLoadExpandsEnv(t *testing.T) {
	t.Setenv("HUB_TEST_API_KEY", "sekrit")

	yaml := `
instance:
  id: test-hub
presence:
  base_url: https://collab.internal
  api_key: ${HUB_TEST_API_KEY}
`
	path := writeTempFile(t, yaml)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.Presence.APIKey != "sekrit" {
		t.Errorf("Presence.APIKey = %q, want expanded env value", cfg.Presence.APIKey)
	}
}

func TestLoadWithDefaults(t *testing.T) {
	yaml := `
instance:
  id: test-hub
`
	path := writeTempFile(t, yaml)

	cfg, err := LoadWithDefaults(path)
	if err != nil {
		t.Fatalf("LoadWithDefaults failed: %v", err)
	}

	if cfg.Server.ListenAddr != DefaultListenAddr {
		t.Errorf("ListenAddr = %q, want default %q", cfg.Server.ListenAddr, DefaultListenAddr)
	}
	if cfg.Session.HeartbeatInterval != DefaultHeartbeatInterval {
		t.Errorf("HeartbeatInterval = %v, want default %v", cfg.Session.HeartbeatInterval, DefaultHeartbeatInterval)
	}
	if cfg.Notify.HeartbeatInterval != DefaultNotifyHeartbeat {
		t.Errorf("Notify.HeartbeatInterval = %v, want default %v", cfg.Notify.HeartbeatInterval, DefaultNotifyHeartbeat)
	}
	if cfg.Journal.Enabled() {
		t.Error("journal must be disabled without a database host")
	}
	if cfg.Journal.BatchSize != DefaultBatchSize {
		t.Errorf("Journal.BatchSize = %d, want default %d", cfg.Journal.BatchSize, DefaultBatchSize)
	}
}

func TestLoadAndValidate(t *testing.T) {
	tests := []struct {
		name    string
		yaml    string
		wantErr bool
	}{
		{
			name: "minimal valid",
			yaml: `
instance:
  id: test-hub
`,
			wantErr: false,
		},
		{
			name:    "missing instance id",
			yaml:    `server: {listen_addr: ":8080"}`,
			wantErr: true,
		},
		{
			name: "journal without credentials",
			yaml: `
instance:
  id: test-hub
journal:
  database:
    host: localhost
`,
			wantErr: true,
		},
		{
			name: "journal fully configured",
			yaml: `
instance:
  id: test-hub
journal:
  database:
    host: localhost
    name: hub_journal
    user: hub
    password: hubpass
`,
			wantErr: false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path := writeTempFile(t, tt.yaml)
			_, err := LoadAndValidate(path)
			if tt.wantErr != (err != nil) {
				t.Fatalf("LoadAndValidate error = %v, wantErr = %v", err, tt.wantErr)
			}
		})
	}
}

func TestValidateMinConnsExceedsMax(t *testing.T) {
	cfg := &HubConfig{
		Instance: InstanceConfig{ID: "test-hub"},
		Journal: JournalConfig{
			Database: DBConfig{
				Host:     "localhost",
				Name:     "j",
				User:     "u",
				Password: "p",
				MaxConns: 2,
				MinConns: 4,
			},
			BatchSize:  1,
			BufferSize: 1,
		},
	}
	cfg.applyDefaults()

	if err := cfg.Validate(); err == nil {
		t.Error("Validate must reject min_conns > max_conns")
	}
}
