package config

import "time"

// Default values for optional configuration fields.
const (
	DefaultListenAddr        = ":8080"
	DefaultShutdownTimeout   = 10 * time.Second
	DefaultHeartbeatInterval = 30 * time.Second
	DefaultSendBufferSize    = 256
	DefaultMaxMessageSize    = 64 * 1024
	DefaultWriteTimeout      = 10 * time.Second
	DefaultNotifyHeartbeat   = 60 * time.Second
	DefaultNotifyBufferSize  = 64
	DefaultNotifyMessageSize = 16 * 1024
	DefaultPresenceTimeout   = 10 * time.Second
	DefaultPresenceRetries   = 2
	DefaultDBPort            = 5432
	DefaultDBSSLMode         = "prefer"
	DefaultMaxConns          = 4
	DefaultMinConns          = 1
	DefaultBatchSize         = 500
	DefaultFlushInterval     = 2 * time.Second
	DefaultBufferSize        = 4096
)

func (c *HubConfig) applyDefaults() {
	if c.Server.ListenAddr == "" {
		c.Server.ListenAddr = DefaultListenAddr
	}
	if c.Server.ShutdownTimeout == 0 {
		c.Server.ShutdownTimeout = DefaultShutdownTimeout
	}

	if c.Session.HeartbeatInterval == 0 {
		c.Session.HeartbeatInterval = DefaultHeartbeatInterval
	}
	if c.Session.SendBufferSize == 0 {
		c.Session.SendBufferSize = DefaultSendBufferSize
	}
	if c.Session.MaxMessageSize == 0 {
		c.Session.MaxMessageSize = DefaultMaxMessageSize
	}
	if c.Session.WriteTimeout == 0 {
		c.Session.WriteTimeout = DefaultWriteTimeout
	}

	if c.Notify.HeartbeatInterval == 0 {
		c.Notify.HeartbeatInterval = DefaultNotifyHeartbeat
	}
	if c.Notify.SendBufferSize == 0 {
		c.Notify.SendBufferSize = DefaultNotifyBufferSize
	}
	if c.Notify.MaxMessageSize == 0 {
		c.Notify.MaxMessageSize = DefaultNotifyMessageSize
	}
	if c.Notify.WriteTimeout == 0 {
		c.Notify.WriteTimeout = DefaultWriteTimeout
	}

	if c.Presence.Timeout == 0 {
		c.Presence.Timeout = DefaultPresenceTimeout
	}
	if c.Presence.MaxRetries == 0 {
		c.Presence.MaxRetries = DefaultPresenceRetries
	}

	if c.Journal.Enabled() {
		applyDBDefaults(&c.Journal.Database)
	}
	if c.Journal.BatchSize == 0 {
		c.Journal.BatchSize = DefaultBatchSize
	}
	if c.Journal.FlushInterval == 0 {
		c.Journal.FlushInterval = DefaultFlushInterval
	}
	if c.Journal.BufferSize == 0 {
		c.Journal.BufferSize = DefaultBufferSize
	}
}

func applyDBDefaults(db *DBConfig) {
	if db.Port == 0 {
		db.Port = DefaultDBPort
	}
	if db.SSLMode == "" {
		db.SSLMode = DefaultDBSSLMode
	}
	if db.MaxConns == 0 {
		db.MaxConns = DefaultMaxConns
	}
	if db.MinConns == 0 {
		db.MinConns = DefaultMinConns
	}
}
