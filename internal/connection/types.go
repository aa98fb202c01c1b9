package connection

import (
	"errors"
	"fmt"
	"time"
)

// Errors.
var (
	ErrNotConnected = errors.New("not connected")
	ErrClosed       = errors.New("manager closed")
	ErrNoEndpoint   = errors.New("unknown endpoint")
)

// ThrottledError reports that a connect attempt to an endpoint key came too
// soon after the previous one. It is retryable: Wait says how long to hold
// off before trying again.
type ThrottledError struct {
	Wait time.Duration
}

func (e *ThrottledError) Error() string {
	return fmt.Sprintf("connect throttled, retry in %s", e.Wait.Round(time.Millisecond))
}

// State is the lifecycle state of a managed endpoint.
type State string

const (
	StateIdle               State = "idle"
	StateConnecting         State = "connecting"
	StateOpen               State = "open"
	StateStable             State = "stable"
	StateClosed             State = "closed"
	StateReconnectScheduled State = "reconnect_scheduled"
	StateDisconnected       State = "disconnected" // terminal until manual reconnect
)

// CloseReason describes why a connection ended.
type CloseReason struct {
	Code            int    // WebSocket close code, 0 if none was received
	Reason          string // close reason text
	ClientInitiated bool   // true for clean Disconnect/replacement closes
	WasStable       bool   // connection had passed the stability window
	Err             error  // underlying read error, if any
}

// Events are optional callbacks surfacing endpoint lifecycle to the caller.
// Callbacks run on manager goroutines and must not block.
type Events struct {
	OnOpen               func(key string)
	OnStable             func(key string)
	OnMessage            func(key string, data []byte)
	OnClose              func(key string, reason CloseReason)
	OnReconnectScheduled func(key string, attempt int, delay time.Duration)
	OnGiveUp             func(key string)
}

// Config holds connection manager settings.
type Config struct {
	HandshakeTimeout   time.Duration // dial timeout
	WriteTimeout       time.Duration // write deadline for sends
	ReceiveBufferSize  int           // inbound message channel capacity
	MinConnectInterval time.Duration // throttle between attempts to one key
	StabilityWindow    time.Duration // dwell time before a connection counts as stable
	BaseDelay          time.Duration // reconnect backoff base
	AbnormalBaseDelay  time.Duration // backoff base after abnormal closure while unstable
	GrowthFactor       float64       // backoff growth per attempt
	MaxDelay           time.Duration // backoff cap
	JitterMax          time.Duration // random addition to each delay
	MaxAttempts        int           // reconnect budget before giving up
}

// DefaultConfig returns the client defaults.
func DefaultConfig() Config {
	return Config{
		HandshakeTimeout:   10 * time.Second,
		WriteTimeout:       5 * time.Second,
		ReceiveBufferSize:  256,
		MinConnectInterval: 5 * time.Second,
		StabilityWindow:    2 * time.Second,
		BaseDelay:          1 * time.Second,
		AbnormalBaseDelay:  3 * time.Second,
		GrowthFactor:       1.3,
		MaxDelay:           60 * time.Second,
		JitterMax:          3 * time.Second,
		MaxAttempts:        5,
	}
}
