package probes

import (
	"context"
	"net"
	"time"
)

const defaultPingTimeoutSeconds = 10

// PingResult is the outcome of a TCP reachability probe.
type PingResult struct {
	IsUp           bool
	ResponseTimeMs int64
	Error          string
}

// RunPing checks host reachability by attempting a TCP connect on the
// common web ports (443 then 80), since ICMP echo requires raw sockets the
// sandboxed container is not granted. The first port that accepts a
// connection marks the host up.
func RunPing(ctx context.Context, host string, timeoutSeconds int) PingResult {
	if timeoutSeconds <= 0 {
		timeoutSeconds = defaultPingTimeoutSeconds
	}
	timeout := time.Duration(timeoutSeconds) * time.Second

	var lastErr string
	for _, port := range []string{"443", "80"} {
		start := time.Now()
		d := net.Dialer{Timeout: timeout}
		conn, err := d.DialContext(ctx, "tcp", net.JoinHostPort(host, port))
		durationMs := time.Since(start).Milliseconds()
		if err == nil {
			conn.Close()
			return PingResult{IsUp: true, ResponseTimeMs: durationMs}
		}
		lastErr = err.Error()
	}
	return PingResult{IsUp: false, Error: lastErr}
}
