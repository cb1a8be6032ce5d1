package spawner

import (
	"errors"
	"sync"
)

// ErrNoFreePort the configured port range is fully reserved.
var ErrNoFreePort = errors.New("spawner: no available ports in pool")

// PortPool hands out listen ports from a configured [start, end) range.
type PortPool struct {
	mu       sync.Mutex
	start    int
	end      int
	reserved map[int]bool
}

// NewPortPool creates a pool over [start, end).
func NewPortPool(start, end int) *PortPool {
	return &PortPool{
		start:    start,
		end:      end,
		reserved: make(map[int]bool),
	}
}

// Reserve returns the lowest free port in the range.
func (p *PortPool) Reserve() (int, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	for port := p.start; port < p.end; port++ {
		if !p.reserved[port] {
			p.reserved[port] = true
			return port, nil
		}
	}
	return 0, ErrNoFreePort
}

// Release returns a port to the pool.
func (p *PortPool) Release(port int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	delete(p.reserved, port)
}

// Free reports how many ports remain available.
func (p *PortPool) Free() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return (p.end - p.start) - len(p.reserved)
}
