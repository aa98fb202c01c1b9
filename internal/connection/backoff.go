package connection

import (
	"math"
	"math/rand"
	"net/url"
	"strings"
	"time"

	"github.com/gorilla/websocket"
)

// permanentCloseCodes are protocol-violation closures that never warrant a
// reconnect: the server will reject the next attempt the same way.
var permanentCloseCodes = map[int]bool{
	websocket.CloseProtocolError:           true, // 1002
	websocket.CloseUnsupportedData:         true, // 1003
	websocket.CloseInvalidFramePayloadData: true, // 1007
	websocket.ClosePolicyViolation:         true, // 1008
}

// reconnectDelay computes the backoff delay for the given attempt count.
// Abnormal closures of connections that never stabilized use the larger base.
func (c Config) reconnectDelay(attempts int, abnormal bool, rng *rand.Rand) time.Duration {
	base := c.BaseDelay
	if abnormal {
		base = c.AbnormalBaseDelay
	}

	delay := time.Duration(float64(base) * math.Pow(c.GrowthFactor, float64(attempts)))
	if delay > c.MaxDelay {
		delay = c.MaxDelay
	}

	if c.JitterMax > 0 && rng != nil {
		delay += time.Duration(rng.Int63n(int64(c.JitterMax)))
	}
	return delay
}

// shouldReconnect applies the reconnect decision from the close reason.
func shouldReconnect(reason CloseReason) bool {
	if reason.ClientInitiated {
		return false
	}
	if permanentCloseCodes[reason.Code] {
		return false
	}
	return true
}

// abnormalClosure reports whether the closure warrants the larger backoff
// base: an abnormal close code on a connection that never became stable.
func abnormalClosure(reason CloseReason) bool {
	if reason.WasStable {
		return false
	}
	return reason.Code == websocket.CloseAbnormalClosure || reason.Code == 0
}

// EndpointKey derives the logical endpoint key from a target URL: scheme is
// dropped, host is lowercased, and the path is kept. Two URLs that differ
// only in scheme or query map to the same key.
func EndpointKey(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil || u.Host == "" {
		return rawURL
	}
	return strings.ToLower(u.Host) + u.Path
}
