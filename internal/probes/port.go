package probes

import (
	"context"
	"fmt"
	"net"
	"time"
)

const defaultPortTimeoutSeconds = 10

// PortResult is the outcome of a TCP/UDP port-reachability probe.
type PortResult struct {
	IsUp           bool
	ResponseTimeMs int64
	Error          string
}

// RunPort dials host:port over protocol (tcp or udp, default tcp) and
// reports reachability, inverted when expectClosed is set — a monitor
// asserting a port is *closed* is up exactly when the dial fails.
func RunPort(ctx context.Context, host string, port int, protocol string, expectClosed bool, timeoutSeconds int) PortResult {
	if protocol == "" {
		protocol = "tcp"
	}
	if timeoutSeconds <= 0 {
		timeoutSeconds = defaultPortTimeoutSeconds
	}
	timeout := time.Duration(timeoutSeconds) * time.Second

	start := time.Now()
	d := net.Dialer{Timeout: timeout}
	conn, err := d.DialContext(ctx, protocol, net.JoinHostPort(host, fmt.Sprintf("%d", port)))
	durationMs := time.Since(start).Milliseconds()
	reachable := err == nil
	if conn != nil {
		conn.Close()
	}

	if expectClosed {
		if reachable {
			return PortResult{IsUp: false, ResponseTimeMs: durationMs, Error: fmt.Sprintf("port %d is open, expected closed", port)}
		}
		return PortResult{IsUp: true, ResponseTimeMs: durationMs}
	}

	if reachable {
		return PortResult{IsUp: true, ResponseTimeMs: durationMs}
	}
	errMsg := ""
	if err != nil {
		errMsg = err.Error()
	}
	return PortResult{IsUp: false, ResponseTimeMs: durationMs, Error: errMsg}
}
