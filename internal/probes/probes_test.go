package probes

import (
	"context"
	"net"
	"testing"
	"time"
)

func TestIsExpectedStatusDefaultRange(t *testing.T) {
	cases := map[int]bool{199: false, 200: true, 250: true, 299: true, 300: false}
	for code, want := range cases {
		if got := IsExpectedStatus(code, ""); got != want {
			t.Errorf("IsExpectedStatus(%d, \"\") = %v, want %v", code, got, want)
		}
	}
}

func TestIsExpectedStatusWildcard(t *testing.T) {
	if !IsExpectedStatus(404, "4xx") {
		t.Error("expected 404 to match 4xx")
	}
	if IsExpectedStatus(500, "4xx") {
		t.Error("expected 500 to not match 4xx")
	}
}

func TestIsExpectedStatusRange(t *testing.T) {
	if !IsExpectedStatus(204, "200-299") {
		t.Error("expected 204 to match 200-299")
	}
	if IsExpectedStatus(404, "200-299") {
		t.Error("expected 404 to not match 200-299")
	}
}

func TestIsExpectedStatusCommaList(t *testing.T) {
	if !IsExpectedStatus(201, "200,201,202") {
		t.Error("expected 201 to match comma list")
	}
	if IsExpectedStatus(203, "200,201,202") {
		t.Error("expected 203 to not match comma list")
	}
}

func TestIsExpectedStatusMixedGrammar(t *testing.T) {
	if !IsExpectedStatus(301, "2xx,301,400-410") {
		t.Error("expected 301 to match via exact code in mixed spec")
	}
	if !IsExpectedStatus(405, "2xx,301,400-410") {
		t.Error("expected 405 to match via range in mixed spec")
	}
	if IsExpectedStatus(500, "2xx,301,400-410") {
		t.Error("expected 500 to not match mixed spec")
	}
}

func TestValidateTargetURLRejectsLoopback(t *testing.T) {
	if _, err := ValidateTargetURL("http://127.0.0.1/", false); err == nil {
		t.Error("expected loopback target to be rejected")
	}
}

func TestValidateTargetURLRejectsPrivateRange(t *testing.T) {
	if _, err := ValidateTargetURL("http://10.0.0.5/", false); err == nil {
		t.Error("expected RFC1918 target to be rejected")
	}
}

func TestValidateTargetURLRejectsCGNAT(t *testing.T) {
	if _, err := ValidateTargetURL("http://100.64.0.1/", false); err == nil {
		t.Error("expected CGNAT target to be rejected")
	}
}

func TestValidateTargetURLRejectsBadScheme(t *testing.T) {
	if _, err := ValidateTargetURL("javascript:alert(1)", false); err == nil {
		t.Error("expected javascript scheme to be rejected")
	}
	if _, err := ValidateTargetURL("ftp://example.com/", false); err == nil {
		t.Error("expected ftp scheme to be rejected")
	}
}

func TestValidateTargetURLAllowsInternalWhenFlagged(t *testing.T) {
	if _, err := ValidateTargetURL("http://127.0.0.1/", true); err != nil {
		t.Errorf("expected loopback target to be allowed with allowInternalTargets=true, got %v", err)
	}
}

func TestValidateTargetURLAllowsPublicHost(t *testing.T) {
	if _, err := ValidateTargetURL("https://example.com/health", false); err != nil {
		t.Errorf("expected public host to be allowed, got %v", err)
	}
}

func TestRunPortExpectClosed(t *testing.T) {
	// Find an address nothing listens on by opening and immediately closing it.
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	addr := ln.Addr().(*net.TCPAddr)
	ln.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	result := RunPort(ctx, "127.0.0.1", addr.Port, "tcp", true, 1)
	if !result.IsUp {
		t.Errorf("expected expectClosed probe against a closed port to be up, got %+v", result)
	}
}

func TestRunPortExpectOpen(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	defer ln.Close()
	addr := ln.Addr().(*net.TCPAddr)

	go func() {
		conn, err := ln.Accept()
		if err == nil {
			conn.Close()
		}
	}()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	result := RunPort(ctx, "127.0.0.1", addr.Port, "tcp", false, 1)
	if !result.IsUp {
		t.Errorf("expected open port probe to be up, got %+v", result)
	}
}

func TestCheckFrequencyBands(t *testing.T) {
	if got := checkFrequency(5, 14); got != time.Hour {
		t.Errorf("expected hourly band inside warning threshold, got %v", got)
	}
	if got := checkFrequency(20, 14); got != 6*time.Hour {
		t.Errorf("expected 6-hourly band inside 2x warning threshold, got %v", got)
	}
	if got := checkFrequency(90, 14); got != 24*time.Hour {
		t.Errorf("expected default daily band beyond 2x warning threshold, got %v", got)
	}
}

func TestResultFromCertStatusMapping(t *testing.T) {
	now := time.Now()

	notYetValid := resultFromCert(now.Add(24*time.Hour), now.Add(365*24*time.Hour), "issuer", "subject", "1", 14, 0, false)
	if notYetValid.IsUp {
		t.Error("expected not-yet-valid certificate to report down")
	}
	if notYetValid.Error == "" {
		t.Error("expected not-yet-valid certificate to carry an error")
	}

	expired := resultFromCert(now.Add(-365*24*time.Hour), now.Add(-24*time.Hour), "issuer", "subject", "1", 14, 0, false)
	if expired.IsUp {
		t.Error("expected expired certificate to report down")
	}

	withinWarning := resultFromCert(now.Add(-24*time.Hour), now.Add(5*24*time.Hour), "issuer", "subject", "1", 14, 0, false)
	if !withinWarning.IsUp {
		t.Error("expected certificate inside the warning window to still report up")
	}
	if !withinWarning.Warning {
		t.Error("expected certificate inside the warning window to carry a warning flag")
	}

	healthy := resultFromCert(now.Add(-24*time.Hour), now.Add(90*24*time.Hour), "issuer", "subject", "1", 14, 0, false)
	if !healthy.IsUp || healthy.Warning {
		t.Errorf("expected healthy certificate to report up with no warning, got %+v", healthy)
	}
}

func TestSanitizeSnippetRedactsEmailAndTruncates(t *testing.T) {
	out := SanitizeSnippet("contact us at ops@example.com for help")
	if out == "contact us at ops@example.com for help" {
		t.Error("expected email to be redacted")
	}

	long := make([]byte, maxSnippetBytes+500)
	for i := range long {
		long[i] = 'a'
	}
	out = SanitizeSnippet(string(long))
	if len(out) > maxSnippetBytes {
		t.Errorf("expected snippet truncated to %d bytes, got %d", maxSnippetBytes, len(out))
	}
}
