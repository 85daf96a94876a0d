package realtime

import "sync"

// Manager is the registry of room channels. Channels are reference counted:
// Acquire creates or reuses the room's channel, Release disposes it once the
// last reference is gone.
type Manager struct {
	transport Transport
	cfg       Config

	mu       sync.Mutex
	channels map[string]*managedChannel
}

type managedChannel struct {
	ch   *Channel
	refs int
}

// NewManager builds a registry over transport. Zero fields of cfg take their defaults.
func NewManager(transport Transport, cfg Config) *Manager {
	return &Manager{
		transport: transport,
		cfg:       cfg.withDefaults(),
		channels:  make(map[string]*managedChannel),
	}
}

// Acquire returns the channel for code, creating it on first use.
func (m *Manager) Acquire(code string) *Channel {
	m.mu.Lock()
	defer m.mu.Unlock()
	mc, ok := m.channels[code]
	if !ok {
		mc = &managedChannel{ch: newChannel(code, m.transport, m.cfg)}
		m.channels[code] = mc
	}
	mc.refs++
	return mc.ch
}

// Lookup returns the channel for code without taking a reference.
func (m *Manager) Lookup(code string) (*Channel, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	mc, ok := m.channels[code]
	if !ok {
		return nil, false
	}
	return mc.ch, true
}

// Release drops one reference and closes the channel at zero. It reports
// whether the channel was closed.
func (m *Manager) Release(code string) bool {
	m.mu.Lock()
	mc, ok := m.channels[code]
	if !ok {
		m.mu.Unlock()
		return false
	}
	mc.refs--
	if mc.refs > 0 {
		m.mu.Unlock()
		return false
	}
	delete(m.channels, code)
	m.mu.Unlock()

	mc.ch.close()
	return true
}

// ReleaseAll closes every channel regardless of references.
func (m *Manager) ReleaseAll() {
	m.mu.Lock()
	all := m.channels
	m.channels = make(map[string]*managedChannel)
	m.mu.Unlock()

	for _, mc := range all {
		mc.ch.close()
	}
}

// Len returns the number of open channels.
func (m *Manager) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.channels)
}
