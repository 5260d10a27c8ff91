package probes

import (
	"context"
	"crypto/tls"
	"encoding/json"
	"fmt"
	"net"
	"time"

	"github.com/oriys/beacon/internal/cache"
)

const (
	defaultSslWarningThresholdDays = 14
	defaultSslCheckFrequencyHours  = 24
	sslCachePrefix                 = "beacon:ssl:"
)

// SSLResult is the outcome of a certificate-expiry probe. IsUp is false
// only once the certificate has actually expired or is not yet valid —
// breaching the warning threshold still reports up, with Warning set, so
// the alert gate's separate SSL-expiration path is the only thing
// that reacts to it.
type SSLResult struct {
	IsUp            bool
	Warning         bool
	DaysUntilExpiry int
	NotBefore       time.Time
	NotAfter        time.Time
	Issuer          string
	Subject         string
	SerialNumber    string
	ResponseTimeMs  int64
	Error           string
	FromCache       bool
}

type sslCacheEntry struct {
	DaysUntilExpiry int       `json:"days_until_expiry"`
	NotBefore       time.Time `json:"not_before"`
	NotAfter        time.Time `json:"not_after"`
	Issuer          string    `json:"issuer"`
	Subject         string    `json:"subject"`
	SerialNumber    string    `json:"serial_number"`
}

// checkFrequency picks the recheck interval band: the closer a
// certificate is to expiring, the more often it's rechecked, independent of
// the monitor's own polling cadence.
func checkFrequency(daysUntilExpiry, warningThresholdDays int) time.Duration {
	switch {
	case daysUntilExpiry <= warningThresholdDays:
		return time.Hour
	case daysUntilExpiry <= 2*warningThresholdDays:
		return 6 * time.Hour
	default:
		return 24 * time.Hour
	}
}

// RunSSL checks the TLS certificate on host:port and reports days until
// expiry, consulting the cache first —
// the dial itself only happens on a cache miss.
func RunSSL(ctx context.Context, c cache.Cache, host string, port, warningThresholdDays, configuredFrequencyHours int) SSLResult {
	if warningThresholdDays <= 0 {
		warningThresholdDays = defaultSslWarningThresholdDays
	}
	if configuredFrequencyHours <= 0 {
		configuredFrequencyHours = defaultSslCheckFrequencyHours
	}
	if port <= 0 {
		port = 443
	}

	key := fmt.Sprintf("%s%s:%d", sslCachePrefix, host, port)

	if c != nil {
		if raw, err := c.Get(ctx, key); err == nil {
			var entry sslCacheEntry
			if json.Unmarshal(raw, &entry) == nil {
				return resultFromCert(entry.NotBefore, entry.NotAfter, entry.Issuer, entry.Subject, entry.SerialNumber, warningThresholdDays, 0, true)
			}
		}
	}

	start := time.Now()
	dialer := &net.Dialer{Timeout: 10 * time.Second}
	conn, err := tls.DialWithDialer(dialer, "tcp", fmt.Sprintf("%s:%d", host, port), &tls.Config{
		ServerName:         host,
		InsecureSkipVerify: true, // record authorization state ourselves; an expired/self-signed cert is still a result, not a dial failure
	})
	durationMs := time.Since(start).Milliseconds()
	if err != nil {
		return SSLResult{IsUp: false, ResponseTimeMs: durationMs, Error: err.Error()}
	}
	defer conn.Close()

	certs := conn.ConnectionState().PeerCertificates
	if len(certs) == 0 {
		return SSLResult{IsUp: false, ResponseTimeMs: durationMs, Error: "no peer certificates presented"}
	}
	leaf := certs[0]

	entry := sslCacheEntry{
		NotBefore:    leaf.NotBefore,
		NotAfter:     leaf.NotAfter,
		Issuer:       leaf.Issuer.CommonName,
		Subject:      leaf.Subject.CommonName,
		SerialNumber: leaf.SerialNumber.String(),
	}
	if c != nil {
		freq := checkFrequency(int(time.Until(leaf.NotAfter).Hours()/24), warningThresholdDays)
		if configuredFrequencyHours > 0 && freq == 24*time.Hour {
			freq = time.Duration(configuredFrequencyHours) * time.Hour
		}
		if raw, mErr := json.Marshal(entry); mErr == nil {
			_ = c.Set(ctx, key, raw, freq)
		}
	}

	return resultFromCert(leaf.NotBefore, leaf.NotAfter, leaf.Issuer.CommonName, leaf.Subject.CommonName, leaf.SerialNumber.String(), warningThresholdDays, durationMs, false)
}

func resultFromCert(notBefore, notAfter time.Time, issuer, subject, serial string, warningThresholdDays int, responseTimeMs int64, fromCache bool) SSLResult {
	now := time.Now()
	daysLeft := int((notAfter.Sub(now).Hours() + 23) / 24) // ceil to whole days

	result := SSLResult{
		DaysUntilExpiry: daysLeft,
		NotBefore:       notBefore,
		NotAfter:        notAfter,
		Issuer:          issuer,
		Subject:         subject,
		SerialNumber:    serial,
		ResponseTimeMs:  responseTimeMs,
		FromCache:       fromCache,
	}

	switch {
	case now.Before(notBefore):
		result.IsUp = false
		result.Error = "certificate not yet valid"
	case now.After(notAfter):
		result.IsUp = false
		result.Error = "certificate expired"
	case daysLeft <= warningThresholdDays:
		result.IsUp = true
		result.Warning = true
	default:
		result.IsUp = true
	}
	return result
}
