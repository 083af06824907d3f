// Package link implements the peer-to-peer coordination core: the peer
// table, framing/dispatch, identity and duplicate resolution, the
// active-role state machine, state distribution, and the heartbeat/
// reconnection scheduler (§2–§9 of the specification this repository
// implements). The package is deliberately single-threaded: a Link value
// is owned by exactly one goroutine (Link.Run), and every external call —
// whether from an embedder (the rpc package) or from the socket driver —
// is marshalled onto that goroutine through a command channel rather than
// protected by a mutex (§5 and its Go realization note in SPEC_FULL.md).
package link

import (
	"log"
	"sync"
	"time"

	"github.com/carrot-garden/native-workrave/socket"
	"github.com/carrot-garden/native-workrave/wire"
)

// Config is the subset of configuration the link needs at any moment; it
// is a plain value so the config package can rebuild and hand over a new
// one on every change without the link depending on viper directly.
type Config struct {
	Port               uint16
	Username           string
	Password           string
	ReconnectAttempts  int
	ReconnectInterval  time.Duration
}

// Listener receives the two embedder callbacks of §6.
type Listener interface {
	ActiveChanged(selfActive bool)
	StateTransferComplete()
}

// Link is the core described above. Exported methods are safe to call
// from any goroutine; they hand off to the single internal goroutine and
// block for the result, giving the embedder synchronous call semantics
// without the core itself ever taking a lock.
type Link struct {
	driver socket.Driver
	cfg    Config

	selfHost string
	selfPort uint16

	peers          *peerTable
	state          activeState
	activeClient   peerID
	stateProviders map[uint16]StateProvider

	heartbeatCount uint64
	enabled        bool
	listenSocket   socket.Listener

	replay  *messageCache
	limiter *rateLimiter
	clock   *NetTime

	listener Listener

	cmds     chan func()
	quit     chan struct{}
	closeOne sync.Once
}

// New constructs a Link bound to driver, not yet enabled. Call Init to
// bring it up.
func New(driver socket.Driver, cfg Config) *Link {
	l := &Link{
		driver:         driver,
		cfg:            cfg,
		peers:          newPeerTable(),
		stateProviders: make(map[uint16]StateProvider),
		replay:         newMessageCache(defaultReplayCacheSize),
		limiter:        newRateLimiter(defaultRateLimitPerSecond, defaultRateLimitBurst),
		clock:          NewNetTime(),
		cmds:           make(chan func(), 64),
		quit:           make(chan struct{}),
	}
	driver.SetEvents(l)
	return l
}

// SetListener installs the embedder's callback sink (§6). Must be called
// before Run (and thus before Init) if the embedder wants to observe
// transitions from the start; called at this point the owning goroutine
// has not started yet, so the assignment is made directly rather than
// through enqueueWait, which would block forever waiting for a Run loop
// that hasn't been started.
func (l *Link) SetListener(listener Listener) {
	l.listener = listener
}

// Run starts the single owning goroutine and blocks until Close. The
// caller (typically cmd.Daemon.Start) runs this in its own goroutine.
func (l *Link) Run() {
	ticker := time.NewTicker(1 * time.Second)
	defer ticker.Stop()
	for {
		select {
		case fn := <-l.cmds:
			fn()
		case <-ticker.C:
			l.heartbeat()
		case <-l.quit:
			return
		}
	}
}

// Close stops the owning goroutine after disconnecting everything.
// Idempotent: a second call is a no-op.
func (l *Link) Close() {
	l.closeOne.Do(func() {
		l.enqueueWait(func() {
			l.disconnectAll()
			if l.listenSocket != nil {
				l.listenSocket.Close()
				l.listenSocket = nil
			}
		})
		close(l.quit)
	})
}

// enqueue runs fn on the owning goroutine without waiting for it to
// finish; used by socket.Events callbacks, which must not block the
// driver's own goroutines.
func (l *Link) enqueue(fn func()) {
	select {
	case l.cmds <- fn:
	case <-l.quit:
	}
}

// enqueueWait runs fn on the owning goroutine and waits for it to
// complete; used by every embedder-facing operation so callers observe
// a consistent, synchronous result.
func (l *Link) enqueueWait(fn func()) {
	done := make(chan struct{})
	l.enqueue(func() {
		fn()
		close(done)
	})
	select {
	case <-done:
	case <-l.quit:
	}
}

func (l *Link) logf(format string, args ...interface{}) {
	log.Printf("[link] "+format, args...)
}

// --- embedder-facing contract (§6) ---

// Init performs first-time setup: resolves the local canonical name and
// enables the link (binds the listening socket) per the configured port.
func (l *Link) Init() error {
	var err error
	l.enqueueWait(func() {
		l.selfHost, err = l.driver.MyCanonicalName()
		if err != nil {
			return
		}
		err = l.setEnabledLocked(true)
	})
	return err
}

// Heartbeat is the embedder-facing equivalent of the internal 1Hz tick;
// exposed so an embedder that prefers to drive ticks itself (rather than
// relying on Run's internal ticker) may do so. Both paths advance the
// same tick counter, so using both at once makes the 60-tick state
// broadcast come round sooner.
func (l *Link) Heartbeat() {
	l.enqueueWait(l.heartbeat)
}

// SetEnabled implements set_enabled(bool) → prior (§6).
func (l *Link) SetEnabled(enabled bool) (prior bool, err error) {
	l.enqueueWait(func() {
		prior = l.enabled
		err = l.setEnabledLocked(enabled)
	})
	return prior, err
}

func (l *Link) setEnabledLocked(enabled bool) error {
	if enabled == l.enabled {
		return nil
	}
	if !enabled {
		l.disconnectAllLocked()
		if l.listenSocket != nil {
			l.listenSocket.Close()
			l.listenSocket = nil
		}
		l.enabled = false
		return nil
	}
	ln, err := l.driver.Listen(l.cfg.Port)
	if err != nil {
		return err
	}
	l.listenSocket = ln
	l.selfPort = ln.Port()
	l.enabled = true
	l.setSelfActive()
	return nil
}

// SetUser implements set_user(user, pass) (§6); takes effect for future
// handshakes only, per §12's config-change granularity note.
func (l *Link) SetUser(username, password string) {
	l.enqueueWait(func() {
		l.cfg.Username = username
		l.cfg.Password = password
	})
}

// Join implements join(url) (§6) for an already-parsed host and port
// (see ParseJoinURL) by running add_client.
func (l *Link) Join(host string, port uint16) {
	l.enqueueWait(func() { l.addClient(host, port) })
}

// UpdateConfig applies a freshly re-read configuration snapshot (§6
// "Configuration keys", config_changed_notify in the original). A port
// change while enabled forces the documented bounce; reconnect policy
// and credential changes take effect immediately for future schedules
// and handshakes without disturbing existing connections.
func (l *Link) UpdateConfig(cfg Config) error {
	var err error
	l.enqueueWait(func() {
		portChanged := cfg.Port != l.cfg.Port
		wasEnabled := l.enabled
		l.cfg = cfg
		if portChanged && wasEnabled {
			l.setEnabledLocked(false)
			err = l.setEnabledLocked(true)
		}
	})
	return err
}

// Claim implements claim() → bool (§4.6, §6).
func (l *Link) Claim() bool {
	var ok bool
	l.enqueueWait(func() { ok = l.claim() })
	return ok
}

// DisconnectAll implements disconnect_all() → bool (§5, §6).
func (l *Link) DisconnectAll() bool {
	l.enqueueWait(l.disconnectAllLocked)
	return true
}

func (l *Link) disconnectAll() { l.disconnectAllLocked() }

func (l *Link) disconnectAllLocked() {
	for _, p := range l.peers.all() {
		l.evictPeer(p, "disconnect_all")
	}
	l.setSelfActive()
}

// ReconnectAll implements reconnect_all() → bool (§6): force every
// scheduled peer to retry immediately rather than waiting for its
// next_attempt_time.
func (l *Link) ReconnectAll() bool {
	l.enqueueWait(func() {
		now := l.clock.NowMs()
		for _, p := range l.peers.all() {
			if p.hasLiveSocket() {
				continue
			}
			if p.host == "" {
				continue
			}
			p.nextAttemptTime = now
			if p.remainingAttempts <= 0 {
				p.remainingAttempts = l.cfg.ReconnectAttempts
			}
		}
	})
	return true
}

// GetActive implements get_active() → (host, port) | none (§6).
func (l *Link) GetActive() (host string, port uint16, ok bool) {
	l.enqueueWait(func() { host, port, ok = l.getActive() })
	return host, port, ok
}

// RegisterState implements register_state(id, provider) → bool (§6).
func (l *Link) RegisterState(id uint16, provider StateProvider) bool {
	var ok bool
	l.enqueueWait(func() { ok = l.registerState(id, provider) })
	return ok
}

// NumberOfPeers implements number_of_peers() → int (§6, §12): peers with
// a live socket, per the supplemented-feature note.
func (l *Link) NumberOfPeers() int {
	var n int
	l.enqueueWait(func() { n = l.peers.connectedCount() })
	return n
}

// --- outbound send helpers ---

func (l *Link) sendTo(p *peer, frame []byte) {
	l.sendRaw(p, frame)
}

func (l *Link) sendRaw(p *peer, frame []byte) {
	if p.conn == nil {
		return
	}
	if _, err := p.conn.Write(frame); err != nil {
		l.logf("write to peer %d failed: %v", p.id, err)
	}
}

// evictPeer closes the peer's socket (if any), demotes active-role
// belief if it was the believed-active remote, and removes it from the
// table.
func (l *Link) evictPeer(p *peer, reason string) {
	if p.conn != nil {
		p.conn.Close()
	}
	l.handlePeerClosed(p)
	l.peers.remove(p.id)
	l.limiter.forget(p.id)
	l.logf("evicted peer %d (%s:%d): %s", p.id, truncateStr(p.host, 64), p.port, reason)
}

// --- socket.Events implementation: every method only enqueues, never
// touches Link state directly, since it runs on the driver's goroutine.

func (l *Link) OnAccepted(_ socket.Listener, c socket.Conn) {
	l.enqueue(func() {
		p := l.peers.create()
		p.conn = c
		l.logf("accepted connection (peer %d)", p.id)
	})
}

func (l *Link) OnConnected(c socket.Conn, tag socket.Tag) {
	l.enqueue(func() {
		id, ok := tag.(peerID)
		if !ok {
			return
		}
		p, ok := l.peers.get(id)
		if !ok {
			c.Close()
			return
		}
		p.conn = c
		p.remainingAttempts = 0
		p.nextAttemptTime = 0
		l.sendHello(p)
	})
}

func (l *Link) OnConnectFailed(tag socket.Tag, err error) {
	l.enqueue(func() {
		id, ok := tag.(peerID)
		if !ok {
			return
		}
		p, ok := l.peers.get(id)
		if !ok {
			return
		}
		l.scheduleReconnect(p)
		l.logf("connect to %s:%d failed: %v", truncateStr(p.host, 64), p.port, err)
	})
}

func (l *Link) OnReadable(c socket.Conn, tag socket.Tag, data []byte) {
	l.enqueue(func() {
		p := l.peerForConn(c, tag)
		if p == nil {
			return
		}
		l.onData(p, data)
	})
}

func (l *Link) OnClosed(c socket.Conn, tag socket.Tag, err error) {
	l.enqueue(func() {
		p := l.peerForConn(c, tag)
		if p == nil {
			return
		}
		p.conn = nil
		l.handlePeerClosed(p)
		if p.hasIdentity() {
			l.scheduleReconnect(p)
		} else {
			l.peers.remove(p.id)
		}
		if err != nil {
			l.logf("peer %d closed: %v", p.id, err)
		} else {
			l.logf("peer %d closed", p.id)
		}
	})
}

// peerForConn recovers the peer record for a connection event. Inbound
// connections carry no tag (OnAccepted creates the peer directly and the
// conn pointer itself is the key); outbound connections carry the peerID
// tag.
func (l *Link) peerForConn(c socket.Conn, tag socket.Tag) *peer {
	if id, ok := tag.(peerID); ok {
		if p, ok := l.peers.get(id); ok {
			return p
		}
	}
	for _, p := range l.peers.all() {
		if p.conn == c {
			return p
		}
	}
	return nil
}

// onData feeds freshly read bytes into a peer's reassembly buffer and
// dispatches every complete frame it can extract (§4.1: "Framing must
// tolerate TCP segmentation").
func (l *Link) onData(p *peer, data []byte) {
	p.reassembly.Append(data)
	for {
		raw := p.reassembly.Bytes()
		declared, ok := wire.PeekDeclaredLength(raw)
		if !ok {
			return
		}
		if declared < wire.MinFrameLength {
			// A declared length below the minimum header size can never
			// be completed by reading more bytes (§4.1: "must reject a
			// frame whose declared length is less than 6"). Treating it
			// as "partial, wait for more" would consume zero bytes on
			// every pass and spin the dispatch loop forever on
			// attacker-supplied input (e.g. two zero bytes). Drop the
			// whole buffer and resync instead (§7 "lenient": stay
			// connected, just clear the reassembly buffer).
			l.logf("malformed frame from peer %d: declared length %d below minimum header size", p.id, declared)
			p.reassembly.Reset()
			return
		}
		if int(declared) > len(raw) {
			return // partial frame, wait for more bytes
		}
		frameBytes := make([]byte, declared)
		copy(frameBytes, raw[:declared])
		remaining := append([]byte(nil), raw[declared:]...)
		p.reassembly.Reset()
		p.reassembly.Append(remaining)

		if !l.limiter.Allow(p.id, l.clock.NowMs()) {
			continue
		}

		frame, err := wire.DecodeFrame(frameBytes)
		if err != nil {
			// Malformed frame: drop it, clear reassembly, stay
			// connected (§7 "lenient").
			l.logf("malformed frame from peer %d: %v", p.id, err)
			p.reassembly.Reset()
			continue
		}
		l.dispatch(p, frame, frameBytes)
	}
}
