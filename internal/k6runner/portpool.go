package k6runner

import (
	"fmt"
	"net"
	"sync"
)

// PortPool allocates k6 web-dashboard ports from a configured range using a
// round-robin cursor, falling back to an ephemeral port when no range is
// configured.
type PortPool struct {
	mu       sync.Mutex
	addr     string
	start    int
	rangeLen int
	cursor   int
	reserved map[int]bool
}

// NewPortPool builds a pool over [startPort, startPort+rangeLen). A
// rangeLen of 0 disables the pool; Acquire then always returns port 0
// (ephemeral).
func NewPortPool(addr string, startPort, rangeLen int) *PortPool {
	if addr == "" {
		addr = "0.0.0.0"
	}
	return &PortPool{
		addr:     addr,
		start:    startPort,
		rangeLen: rangeLen,
		reserved: make(map[int]bool),
	}
}

// Acquire reserves and returns the next free, unreserved port in the
// configured range, searching from the round-robin cursor (or 0 if the pool
// has no range). Release must be called
// exactly once the caller is done with the returned port, even on failure.
func (p *PortPool) Acquire() (port int, release func(), err error) {
	if p.rangeLen <= 0 {
		return 0, func() {}, nil
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	for i := 0; i < p.rangeLen; i++ {
		candidate := p.start + (p.cursor+i)%p.rangeLen
		if p.reserved[candidate] {
			continue
		}
		if !p.probeFree(candidate) {
			continue
		}
		p.reserved[candidate] = true
		p.cursor = (p.cursor + i + 1) % p.rangeLen
		port := candidate
		once := sync.Once{}
		return port, func() {
			once.Do(func() {
				p.mu.Lock()
				delete(p.reserved, port)
				p.mu.Unlock()
			})
		}, nil
	}
	return 0, nil, fmt.Errorf("k6runner: no free dashboard port in range [%d, %d)", p.start, p.start+p.rangeLen)
}

// probeFree opens and immediately closes a TCP listener to check a port is
// actually bindable, not just unreserved by this process.
func (p *PortPool) probeFree(port int) bool {
	ln, err := net.Listen("tcp", fmt.Sprintf("%s:%d", p.addr, port))
	if err != nil {
		return false
	}
	_ = ln.Close()
	return true
}
