package probes

import (
	"strconv"
	"strings"
)

// IsExpectedStatus evaluates an expected-status expression: wildcards
// ("2xx".."5xx"), ranges ("A-B"), comma-separated exact codes, and an empty
// expression defaulting to 200-299.
func IsExpectedStatus(code int, spec string) bool {
	spec = strings.TrimSpace(spec)
	if spec == "" {
		return code >= 200 && code <= 299
	}

	for _, part := range strings.Split(spec, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		if matchesWildcard(code, part) {
			return true
		}
		if matchesRange(code, part) {
			return true
		}
		if n, err := strconv.Atoi(part); err == nil && n == code {
			return true
		}
	}
	return false
}

func matchesWildcard(code int, part string) bool {
	lower := strings.ToLower(part)
	if len(lower) != 3 || lower[1:] != "xx" {
		return false
	}
	digit := lower[0]
	if digit < '1' || digit > '5' {
		return false
	}
	base := int(digit-'0') * 100
	return code >= base && code <= base+99
}

func matchesRange(code int, part string) bool {
	idx := strings.Index(part, "-")
	if idx <= 0 || idx == len(part)-1 {
		return false
	}
	lo, err1 := strconv.Atoi(strings.TrimSpace(part[:idx]))
	hi, err2 := strconv.Atoi(strings.TrimSpace(part[idx+1:]))
	if err1 != nil || err2 != nil {
		return false
	}
	if lo > hi {
		lo, hi = hi, lo
	}
	return code >= lo && code <= hi
}
