// Package serverpool implements the connection cache with level/priority
// failover described in spec 4.2, grounded algorithmically on
// original_source/trunk/daemon/nntp/ServerPool.cpp (NormalizeLevels,
// GetConnection, FreeConnection, CloseUnusedConnections) and expressed in
// the concurrency idiom of datallboy-GoNZB/internal/nntp/manager.go
// (semaphore-free here: the pool hands out concrete *nntpengine.Connection
// values guarded by one mutex, matching the reference's single pool lock
// rather than per-provider semaphores, since level/group failover needs a
// global view of free slots per level).
package serverpool

import (
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/nzbgetd/nzbgetd/internal/nntpengine"
)

// connectionHoldSeconds is CONNECTION_HOLD_SECODNS in the reference source:
// an idle connection is kept warm for this long before being disconnected.
const connectionHoldSeconds = 5 * time.Second

// NewsServer is the immutable-after-configuration server record (spec 3).
type NewsServer struct {
	ID            string
	Host          string
	Port          int
	TLS           bool
	Username      string
	Password      string
	MaxConnection int
	Level         int
	Group         int
	Retention     int // days, 0 = unlimited
	Active        bool

	normLevel int // derived by NormalizeLevels, -1 = excluded
}

func (s *NewsServer) NormLevel() int { return s.normLevel }

type pooledConnection struct {
	conn       *nntpengine.Connection
	server     *NewsServer
	inUse      bool
	freeSince  time.Time
	everUsed   bool
}

// Pool owns the full server set and connection vector.
type Pool struct {
	mu          sync.Mutex
	servers     []*NewsServer
	connections []*pooledConnection
	levels      []int // free-slot count per normalized level
	maxNormLvl  int
	generation  int
	blocked     map[string]time.Time

	timeout time.Duration
	log     *zap.Logger
}

func New(log *zap.Logger, timeout time.Duration) *Pool {
	if log == nil {
		log = zap.NewNop()
	}
	if timeout == 0 {
		timeout = 60 * time.Second
	}
	return &Pool{blocked: make(map[string]time.Time), timeout: timeout, log: log}
}

func (p *Pool) AddServer(s *NewsServer) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.servers = append(p.servers, s)
}

func (p *Pool) Servers() []*NewsServer {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]*NewsServer, len(p.servers))
	copy(out, p.servers)
	return out
}

func (p *Pool) MaxNormLevel() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.maxNormLvl
}

// ServersAtLevel returns the active servers normalized to the given level,
// used by the downloader to decide whether every server at a level has
// been exhausted (spec 4.5: "if all servers at current level exhausted").
func (p *Pool) ServersAtLevel(level int) []*NewsServer {
	p.mu.Lock()
	defer p.mu.Unlock()
	var out []*NewsServer
	for _, s := range p.servers {
		if s.Active && s.normLevel == level {
			out = append(out, s)
		}
	}
	return out
}

func (p *Pool) Generation() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.generation
}

// normalizeLevels derives normalized levels: starting from the lowest
// configured level, every distinct level with at least one active
// non-zero-maxconn server (or being the minimum level) gets the next
// integer 0..M; everything else maps to -1.
func (p *Pool) normalizeLevels() {
	if len(p.servers) == 0 {
		return
	}
	sorted := append([]*NewsServer{}, p.servers...)
	sort.SliceStable(sorted, func(i, j int) bool { return sorted[i].Level < sorted[j].Level })

	minLevel := sorted[0].Level
	for _, s := range sorted {
		if s.Level < minLevel {
			minLevel = s.Level
		}
	}

	p.maxNormLvl = 0
	lastLevel := minLevel
	for i, s := range sorted {
		qualifies := (s.Active && s.MaxConnection > 0) || s.Level == minLevel
		if qualifies {
			if i > 0 && s.Level != lastLevel {
				p.maxNormLvl++
			}
			s.normLevel = p.maxNormLvl
			lastLevel = s.Level
		} else {
			s.normLevel = -1
		}
	}
}

// InitConnections recomputes normalized levels and lazily creates
// connections up to MaxConnection per active server.
func (p *Pool) InitConnections() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.initConnectionsLocked()
}

func (p *Pool) initConnectionsLocked() {
	p.normalizeLevels()
	p.levels = p.levels[:0]

	for _, s := range p.servers {
		if s.normLevel < 0 {
			continue
		}
		for len(p.levels) <= s.normLevel {
			p.levels = append(p.levels, 0)
		}
		if !s.Active {
			continue
		}

		existing := 0
		for _, c := range p.connections {
			if c.server == s {
				existing++
			}
		}
		for i := existing; i < s.MaxConnection; i++ {
			p.connections = append(p.connections, &pooledConnection{
				conn:   nntpengine.New(p.connectionConfig(s), p.log),
				server: s,
			})
			existing++
		}
		p.levels[s.normLevel] += existing
	}

	p.generation++
}

func (p *Pool) connectionConfig(s *NewsServer) nntpengine.Config {
	return nntpengine.Config{
		Host:          s.Host,
		Port:          s.Port,
		TLS:           s.TLS,
		Username:      s.Username,
		Password:      s.Password,
		SocketTimeout: p.timeout,
	}
}

// Handout is a leased connection plus the server it is bound to.
type Handout struct {
	Conn   *nntpengine.Connection
	Server *NewsServer
}

// GetConnection returns a free Connection at exactly the given normalized
// level, restricted to wantServer (or another server in its group) when one
// is given, otherwise skipping
// servers in ignoreServers (or their group) -- but ONLY when wantServer is
// nil: a specific wanted server always bypasses the ignore list, matching
// ServerPool::GetConnection in the reference implementation exactly.
func (p *Pool) GetConnection(level int, wantServer *NewsServer, ignoreServers []*NewsServer) *Handout {
	p.mu.Lock()
	defer p.mu.Unlock()

	if level < 0 || level >= len(p.levels) || p.levels[level] <= 0 {
		return nil
	}

	now := time.Now()
	for _, c := range p.connections {
		if c.inUse || !c.server.Active || c.server.normLevel != level {
			continue
		}
		if until, blocked := p.blocked[c.server.ID]; blocked && now.Before(until) {
			continue
		}
		if wantServer != nil {
			if c.server != wantServer && !(wantServer.Group > 0 && wantServer.Group == c.server.Group) {
				continue
			}
		} else if len(ignoreServers) > 0 {
			if serverIgnored(c.server, ignoreServers) {
				continue
			}
		}

		c.inUse = true
		c.everUsed = true
		p.levels[level]--
		return &Handout{Conn: c.conn, Server: c.server}
	}
	return nil
}

func serverIgnored(candidate *NewsServer, ignore []*NewsServer) bool {
	for _, ig := range ignore {
		if ig == candidate {
			return true
		}
		if ig.Group > 0 && ig.Group == candidate.Group && ig.normLevel == candidate.normLevel {
			return true
		}
	}
	return false
}

// FreeConnection marks a connection not-in-use. If used, it stamps
// free_since so CloseUnusedConnections can reap it after the cooldown.
func (p *Pool) FreeConnection(conn *nntpengine.Connection, used bool) {
	p.mu.Lock()
	defer p.mu.Unlock()

	for _, c := range p.connections {
		if c.conn == conn {
			c.inUse = false
			if used {
				c.freeSince = time.Now()
			}
			if c.server.normLevel > -1 && c.server.Active {
				p.levels[c.server.normLevel]++
			}
			return
		}
	}
}

// CloseUnusedConnections is invoked ~once per second by the coordinator.
func (p *Pool) CloseUnusedConnections() {
	p.mu.Lock()
	defer p.mu.Unlock()

	now := time.Now()
	kept := p.connections[:0]
	for _, c := range p.connections {
		if c.inUse {
			kept = append(kept, c)
			continue
		}
		if c.server.normLevel == -1 || !c.server.Active {
			if c.conn.State() == nntpengine.Connected {
				c.conn.Disconnect()
			}
			p.log.Debug("dropping connection to delisted server", zap.String("server", c.server.ID))
			continue // deleted from pool
		}
		if c.conn.State() == nntpengine.Connected && now.Sub(c.freeSince) > connectionHoldSeconds {
			c.conn.Disconnect()
		}
		kept = append(kept, c)
	}
	p.connections = kept
}

// Changed re-derives normalized levels and reconciles connection counts,
// called when server configuration is edited.
func (p *Pool) Changed() {
	p.mu.Lock()
	p.blocked = make(map[string]time.Time)
	p.initConnectionsLocked()
	p.mu.Unlock()
	p.CloseUnusedConnections()
}

// BlockServer temporarily excludes a server from GetConnection until the
// block expires or the pool is reconfigured.
func (p *Pool) BlockServer(s *NewsServer, until time.Duration) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.blocked[s.ID] = time.Now().Add(until)
}

// DownloadsLimit implements the formula from spec 4.7: 2 plus the sum of
// max-connections over active level-0/1 servers.
func (p *Pool) DownloadsLimit() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	limit := 2
	for _, s := range p.servers {
		if s.Active && (s.normLevel == 0 || s.normLevel == 1) {
			limit += s.MaxConnection
		}
	}
	return limit
}
