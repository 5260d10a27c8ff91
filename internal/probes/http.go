package probes

import (
	"bytes"
	"compress/gzip"
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/oriys/beacon/internal/domain"
)

const (
	defaultHTTPTimeoutSeconds = 30
	maxRedirects              = 10
	maxResponseBodyBytes      = 10 * 1024 * 1024 // MAX_RESPONSE_MB default 10
)

// HTTPResult is the outcome of a single HTTP/website probe.
type HTTPResult struct {
	IsUp           bool
	StatusCode     int
	ResponseTimeMs int64
	BodySnippet    string
	Error          string
}

// RunHTTP executes the http/website monitor kind: validate the target
// through the SSRF guard, perform the request with redirect/body limits,
// and evaluate isUp from the expected-status grammar and optional
// keyword-in-body check.
func RunHTTP(ctx context.Context, target string, cfg domain.HTTPMonitorConfig) HTTPResult {
	u, err := ValidateTargetURL(target, cfg.AllowInternalTargets)
	if err != nil {
		return HTTPResult{IsUp: false, Error: err.Error()}
	}

	timeoutSeconds := cfg.TimeoutSeconds
	if timeoutSeconds <= 0 {
		timeoutSeconds = defaultHTTPTimeoutSeconds
	}
	reqCtx, cancel := context.WithTimeout(ctx, time.Duration(timeoutSeconds)*time.Second)
	defer cancel()

	method := cfg.Method
	if method == "" {
		method = http.MethodGet
	}

	var bodyReader io.Reader
	if cfg.Body != "" {
		bodyReader = strings.NewReader(cfg.Body)
	}

	req, err := http.NewRequestWithContext(reqCtx, method, u.String(), bodyReader)
	if err != nil {
		return HTTPResult{IsUp: false, Error: fmt.Sprintf("build request: %v", err)}
	}
	for k, v := range cfg.Headers {
		req.Header.Set(k, v)
	}
	req.Header.Set("User-Agent", "Beacon-Monitor/1.0")
	req.Header.Set("Accept-Encoding", "gzip")

	client := &http.Client{
		CheckRedirect: func(r *http.Request, via []*http.Request) error {
			if len(via) >= maxRedirects {
				return fmt.Errorf("stopped after %d redirects", maxRedirects)
			}
			return nil
		},
	}

	start := time.Now()
	resp, err := client.Do(req)
	durationMs := time.Since(start).Milliseconds()
	if err != nil {
		status := ResultTimeoutOrError(reqCtx)
		return HTTPResult{IsUp: false, ResponseTimeMs: durationMs, Error: err.Error(), StatusCode: 0, BodySnippet: status}
	}
	defer resp.Body.Close()

	reader, err := decompressBody(resp)
	if err != nil {
		return HTTPResult{IsUp: false, StatusCode: resp.StatusCode, ResponseTimeMs: durationMs, Error: fmt.Sprintf("decompress: %v", err)}
	}

	raw, err := io.ReadAll(io.LimitReader(reader, maxResponseBodyBytes))
	if err != nil {
		return HTTPResult{IsUp: false, StatusCode: resp.StatusCode, ResponseTimeMs: durationMs, Error: fmt.Sprintf("read body: %v", err)}
	}
	body := string(raw)

	isUp := IsExpectedStatus(resp.StatusCode, cfg.ExpectedStatus)

	if isUp && cfg.KeywordInBody != "" {
		present := strings.Contains(strings.ToLower(body), strings.ToLower(cfg.KeywordInBody))
		wantPresent := cfg.KeywordInBodyShouldBePresent == nil || *cfg.KeywordInBodyShouldBePresent
		if present != wantPresent {
			isUp = false
		}
	}

	return HTTPResult{
		IsUp:           isUp,
		StatusCode:     resp.StatusCode,
		ResponseTimeMs: durationMs,
		BodySnippet:    SanitizeSnippet(body),
	}
}

// ResultTimeoutOrError classifies a failed request's context state so
// callers can distinguish a deadline from a generic transport error.
func ResultTimeoutOrError(ctx context.Context) string {
	if ctx.Err() == context.DeadlineExceeded {
		return "timeout"
	}
	return "error"
}

func decompressBody(resp *http.Response) (io.Reader, error) {
	if strings.EqualFold(resp.Header.Get("Content-Encoding"), "gzip") {
		gz, err := gzip.NewReader(resp.Body)
		if err != nil {
			return nil, err
		}
		var buf bytes.Buffer
		if _, err := io.Copy(&buf, gz); err != nil && err != io.ErrUnexpectedEOF {
			return nil, err
		}
		return &buf, nil
	}
	return resp.Body, nil
}
