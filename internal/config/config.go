package config

import "time"

// HubConfig is the root configuration for a session hub instance.
type HubConfig struct {
	Instance InstanceConfig `yaml:"instance"`
	Server   ServerConfig   `yaml:"server"`
	Session  SessionConfig  `yaml:"session"`
	Notify   NotifyConfig   `yaml:"notify"`
	Presence PresenceConfig `yaml:"presence"`
	Journal  JournalConfig  `yaml:"journal"`
}

// InstanceConfig identifies this hub.
type InstanceConfig struct {
	ID string `yaml:"id"`
	AZ string `yaml:"az"`
}

// ServerConfig holds the HTTP listener settings.
type ServerConfig struct {
	ListenAddr      string        `yaml:"listen_addr"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
}

// SessionConfig holds per-room session socket settings.
type SessionConfig struct {
	HeartbeatInterval time.Duration `yaml:"heartbeat_interval"`
	SendBufferSize    int           `yaml:"send_buffer_size"`
	MaxMessageSize    int64         `yaml:"max_message_size"`
	WriteTimeout      time.Duration `yaml:"write_timeout"`
}

// NotifyConfig holds the global update channel settings.
type NotifyConfig struct {
	HeartbeatInterval time.Duration `yaml:"heartbeat_interval"`
	SendBufferSize    int           `yaml:"send_buffer_size"`
	MaxMessageSize    int64         `yaml:"max_message_size"`
	WriteTimeout      time.Duration `yaml:"write_timeout"`
}

// PresenceConfig holds the collaborator REST API settings. An empty
// base_url disables outbound presence calls.
type PresenceConfig struct {
	BaseURL    string        `yaml:"base_url"`
	APIKey     string        `yaml:"api_key"`
	Timeout    time.Duration `yaml:"timeout"`
	MaxRetries int           `yaml:"max_retries"`
}

// JournalConfig holds the optional session-event journal settings. The
// journal is disabled unless database.host is set.
type JournalConfig struct {
	Database      DBConfig      `yaml:"database"`
	BatchSize     int           `yaml:"batch_size"`
	FlushInterval time.Duration `yaml:"flush_interval"`
	BufferSize    int           `yaml:"buffer_size"`
}

// Enabled reports whether a journal database is configured.
func (j JournalConfig) Enabled() bool {
	return j.Database.Host != ""
}

// DBConfig holds a single database connection.
type DBConfig struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	Name     string `yaml:"name"`
	User     string `yaml:"user"`
	Password string `yaml:"password"`
	SSLMode  string `yaml:"ssl_mode"`
	MaxConns int    `yaml:"max_conns"`
	MinConns int    `yaml:"min_conns"`
}
