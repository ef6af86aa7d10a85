package parser

import "sync"

// MaxNamePoolSize caps the shared name pool. Past this size names are returned uninterned.
const MaxNamePoolSize = 200000

// NamePool interns measurement and block names. A session ingests thousands of logs that
// repeat the same few hundred test names, and the pool lets them share one backing string.
// It is safe for concurrent use by parse workers.
type NamePool struct {
	mu   sync.RWMutex
	pool map[string]string
}

func NewNamePool() *NamePool {
	return &NamePool{pool: make(map[string]string, 1024)}
}

// Intern returns the canonical copy of s.
func (p *NamePool) Intern(s string) string {
	p.mu.RLock()
	pooled, ok := p.pool[s]
	full := len(p.pool) >= MaxNamePoolSize
	p.mu.RUnlock()
	if ok {
		return pooled
	}
	if full {
		return s
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	if pooled, ok := p.pool[s]; ok {
		return pooled
	}
	if len(p.pool) >= MaxNamePoolSize {
		return s
	}
	p.pool[s] = s
	return s
}

func (p *NamePool) Len() int {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return len(p.pool)
}

func (p *NamePool) Clear() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.pool = make(map[string]string, 1024)
}

var sharedNames = NewNamePool()

// SharedNames returns the pool used by all parsers.
func SharedNames() *NamePool {
	return sharedNames
}

// ResetSharedNames drops the shared pool, typically on product reload.
func ResetSharedNames() {
	sharedNames.Clear()
}
