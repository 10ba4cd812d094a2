package terminator

import (
	"hash/fnv"
	"sync"
	"time"

	"DualSpectra/internal/model"
)

const registryShardCount = 64

// Conn is the tracked state of one client transport session. It is owned by
// the terminator that accepted it; the protocol kind never changes.
type Conn struct {
	ID              string
	Protocol        model.ProtocolKind
	RemoteAddr      string
	CreatedAt       time.Time
	HandshakeDoneAt time.Time

	// closeFn force-closes the underlying transport. Set by the terminator.
	closeFn func() error

	mu           sync.Mutex
	state        model.ConnState
	lastActivity time.Time
	requests     uint64
	inflight     int
}

// Handshake returns the connection's handshake latency.
func (c *Conn) Handshake() time.Duration {
	return c.HandshakeDoneAt.Sub(c.CreatedAt)
}

// State returns the connection's current lifecycle state.
func (c *Conn) State() model.ConnState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// setState applies a transition. Closed is terminal.
func (c *Conn) setState(s model.ConnState) {
	c.mu.Lock()
	if c.state != model.ConnClosed {
		c.state = s
	}
	c.mu.Unlock()
}

func (c *Conn) markRequest() {
	c.mu.Lock()
	c.requests++
	c.inflight++
	c.lastActivity = time.Now()
	c.mu.Unlock()
}

func (c *Conn) doneRequest() {
	c.mu.Lock()
	if c.inflight > 0 {
		c.inflight--
	}
	c.lastActivity = time.Now()
	c.mu.Unlock()
}

func (c *Conn) info() model.ConnectionInfo {
	c.mu.Lock()
	state := c.state
	requests := c.requests
	c.mu.Unlock()
	return model.ConnectionInfo{
		ID:            c.ID,
		Protocol:      c.Protocol,
		RemoteAddr:    c.RemoteAddr,
		State:         state.String(),
		AgeSeconds:    time.Since(c.CreatedAt).Seconds(),
		HandshakeMs:   float64(c.Handshake()) / float64(time.Millisecond),
		RequestsTotal: requests,
	}
}

type registryShard struct {
	mu    sync.RWMutex
	conns map[string]*Conn
}

// Registry tracks live connections for both terminators, keyed by remote
// address, in a sharded map so lookups on the request path stay cheap.
type Registry struct {
	shards [registryShardCount]*registryShard
}

// NewRegistry creates an empty connection registry.
func NewRegistry() *Registry {
	r := &Registry{}
	for i := range r.shards {
		r.shards[i] = &registryShard{conns: make(map[string]*Conn)}
	}
	return r
}

func (r *Registry) shardFor(remoteAddr string) *registryShard {
	hasher := fnv.New32a()
	hasher.Write([]byte(remoteAddr))
	return r.shards[hasher.Sum32()%registryShardCount]
}

// Track registers a connection after a successful handshake and moves it to
// the Active state.
func (r *Registry) Track(c *Conn) {
	c.setState(model.ConnActive)
	c.mu.Lock()
	c.lastActivity = time.Now()
	c.mu.Unlock()

	shard := r.shardFor(c.RemoteAddr)
	shard.mu.Lock()
	shard.conns[c.RemoteAddr] = c
	shard.mu.Unlock()
}

// Remove marks the connection Closed and drops it from the registry.
func (r *Registry) Remove(remoteAddr string) {
	shard := r.shardFor(remoteAddr)
	shard.mu.Lock()
	c, ok := shard.conns[remoteAddr]
	delete(shard.conns, remoteAddr)
	shard.mu.Unlock()
	if ok {
		c.setState(model.ConnClosed)
	}
}

// Get returns the tracked connection for a remote address.
func (r *Registry) Get(remoteAddr string) (*Conn, bool) {
	shard := r.shardFor(remoteAddr)
	shard.mu.RLock()
	c, ok := shard.conns[remoteAddr]
	shard.mu.RUnlock()
	return c, ok
}

// ConnFor implements timing.ConnSource.
func (r *Registry) ConnFor(remoteAddr string) (string, time.Duration, bool) {
	c, ok := r.Get(remoteAddr)
	if !ok {
		return "", 0, false
	}
	return c.ID, c.Handshake(), true
}

// MarkRequest implements timing.ConnSource.
func (r *Registry) MarkRequest(remoteAddr string) {
	if c, ok := r.Get(remoteAddr); ok {
		c.markRequest()
	}
}

// RequestDone implements timing.ConnSource.
func (r *Registry) RequestDone(remoteAddr string) {
	if c, ok := r.Get(remoteAddr); ok {
		c.doneRequest()
	}
}

// Inflight returns the number of requests currently being served across all
// connections of one protocol. Used while draining.
func (r *Registry) Inflight(kind model.ProtocolKind) int {
	total := 0
	for _, c := range r.all(kind) {
		c.mu.Lock()
		total += c.inflight
		c.mu.Unlock()
	}
	return total
}

// Count returns the number of tracked connections for one protocol.
func (r *Registry) Count(kind model.ProtocolKind) int {
	count := 0
	for _, shard := range r.shards {
		shard.mu.RLock()
		for _, c := range shard.conns {
			if c.Protocol == kind {
				count++
			}
		}
		shard.mu.RUnlock()
	}
	return count
}

// Infos returns a point-in-time view of all connections for one protocol.
func (r *Registry) Infos(kind model.ProtocolKind) []model.ConnectionInfo {
	var infos []model.ConnectionInfo
	for _, shard := range r.shards {
		shard.mu.RLock()
		for _, c := range shard.conns {
			if c.Protocol == kind {
				infos = append(infos, c.info())
			}
		}
		shard.mu.RUnlock()
	}
	return infos
}

// MarkDraining transitions every connection of one protocol to Draining.
func (r *Registry) MarkDraining(kind model.ProtocolKind) {
	for _, c := range r.all(kind) {
		c.setState(model.ConnDraining)
	}
}

// CloseAll force-closes every remaining connection of one protocol. Used
// when the drain grace period elapses.
func (r *Registry) CloseAll(kind model.ProtocolKind) {
	for _, c := range r.all(kind) {
		if c.closeFn != nil {
			c.closeFn()
		}
		r.Remove(c.RemoteAddr)
	}
}

func (r *Registry) all(kind model.ProtocolKind) []*Conn {
	var conns []*Conn
	for _, shard := range r.shards {
		shard.mu.RLock()
		for _, c := range shard.conns {
			if c.Protocol == kind {
				conns = append(conns, c)
			}
		}
		shard.mu.RUnlock()
	}
	return conns
}
