// Package proxy rotates outbound proxy addresses across browser sessions.
package proxy

import (
	"errors"
	"strings"
	"sync"
)

// ErrEmptyPool is returned when a pool is built without any address.
var ErrEmptyPool = errors.New("proxy pool must contain at least one address")

// Pool hands out addresses in strict round-robin order.
type Pool struct {
	mu     sync.Mutex
	addrs  []string
	cursor int
}

// New builds a Pool from the given addresses, skipping blanks.
func New(addrs []string) (*Pool, error) {
	cleaned := make([]string, 0, len(addrs))
	for _, addr := range addrs {
		addr = strings.TrimSpace(addr)
		if addr != "" {
			cleaned = append(cleaned, addr)
		}
	}
	if len(cleaned) == 0 {
		return nil, ErrEmptyPool
	}
	return &Pool{addrs: cleaned}, nil
}

// Next returns the address at the cursor and advances it, wrapping at the end.
func (p *Pool) Next() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	addr := p.addrs[p.cursor]
	p.cursor = (p.cursor + 1) % len(p.addrs)
	return addr
}

// Len returns the number of addresses in rotation.
func (p *Pool) Len() int {
	return len(p.addrs)
}

// Addresses returns a copy of the rotation list.
func (p *Pool) Addresses() []string {
	out := make([]string, len(p.addrs))
	copy(out, p.addrs)
	return out
}
