package link_test

import (
	"fmt"
	"net"
	"sync"

	"github.com/carrot-garden/native-workrave/socket"
)

// fakeNetwork is a shared in-memory registry letting several fakeDrivers
// "dial" each other by (host, port) without touching a real socket,
// exercising the same Driver contract the real socket.TCPDriver
// implements (§6 "Socket driver contract") so link_test.go can drive
// end-to-end scenarios (§8) deterministically.
type fakeNetwork struct {
	mu        sync.Mutex
	listeners map[string]*fakeDriver
	attempts  map[string]int
}

func newFakeNetwork() *fakeNetwork {
	return &fakeNetwork{
		listeners: make(map[string]*fakeDriver),
		attempts:  make(map[string]int),
	}
}

// connectAttempts reports how many times Connect has been called for
// (host, port), letting tests observe the heartbeat-driven reconnect
// loop (§4.8) without reaching into link internals.
func (n *fakeNetwork) connectAttempts(host string, port uint16) int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.attempts[addrKey(host, port)]
}

func addrKey(host string, port uint16) string {
	return fmt.Sprintf("%s:%d", host, port)
}

type fakeDriver struct {
	net    *fakeNetwork
	host   string
	events socket.Events

	mu    sync.Mutex
	conns []net.Conn
}

func newFakeDriver(net *fakeNetwork, host string) *fakeDriver {
	return &fakeDriver{net: net, host: host}
}

func (d *fakeDriver) SetEvents(e socket.Events) { d.events = e }

type fakeListener struct {
	driver *fakeDriver
	port   uint16
}

func (l *fakeListener) Close() error {
	l.driver.net.mu.Lock()
	delete(l.driver.net.listeners, addrKey(l.driver.host, l.port))
	l.driver.net.mu.Unlock()
	return nil
}

func (l *fakeListener) Port() uint16 { return l.port }

func (d *fakeDriver) Listen(port uint16) (socket.Listener, error) {
	d.net.mu.Lock()
	defer d.net.mu.Unlock()
	key := addrKey(d.host, port)
	if _, exists := d.net.listeners[key]; exists {
		return nil, fmt.Errorf("fakeDriver: %s already listening", key)
	}
	d.net.listeners[key] = d
	return &fakeListener{driver: d, port: port}, nil
}

func (d *fakeDriver) Connect(host string, port uint16, tag socket.Tag) {
	d.net.mu.Lock()
	target, ok := d.net.listeners[addrKey(host, port)]
	d.net.attempts[addrKey(host, port)]++
	d.net.mu.Unlock()
	if !ok {
		go d.events.OnConnectFailed(tag, fmt.Errorf("fakeDriver: no listener at %s:%d", host, port))
		return
	}

	clientSide, serverSide := net.Pipe()

	d.mu.Lock()
	d.conns = append(d.conns, clientSide)
	d.mu.Unlock()
	target.mu.Lock()
	target.conns = append(target.conns, serverSide)
	target.mu.Unlock()

	clientConn := &fakeConn{driver: d, conn: clientSide, tag: tag, remoteHost: host, remotePort: port}
	serverConn := &fakeConn{driver: target, conn: serverSide, remoteHost: d.host}

	// Mirror socket.TCPDriver's acceptLoop/Connect ordering exactly:
	// OnAccepted/OnConnected are invoked synchronously before the read
	// loop for that same connection starts, so the link's single
	// goroutine always sees the peer created before any bytes arrive
	// for it (both enqueue onto the same ordered command channel).
	listener := &fakeListener{driver: target, port: port}
	go func() {
		target.events.OnAccepted(listener, serverConn)
		target.readLoop(serverConn)
	}()

	go func() {
		d.events.OnConnected(clientConn, tag)
		d.readLoop(clientConn)
	}()
}

func (d *fakeDriver) readLoop(c *fakeConn) {
	buf := make([]byte, 64*1024)
	for {
		n, err := c.conn.Read(buf)
		if n > 0 {
			data := make([]byte, n)
			copy(data, buf[:n])
			d.events.OnReadable(c, c.tag, data)
		}
		if err != nil {
			c.conn.Close()
			d.events.OnClosed(c, c.tag, nil)
			return
		}
	}
}

func (d *fakeDriver) Canonicalize(host string) (string, error) { return host, nil }
func (d *fakeDriver) MyCanonicalName() (string, error)         { return d.host, nil }

func (d *fakeDriver) Close() error {
	d.mu.Lock()
	conns := d.conns
	d.conns = nil
	d.mu.Unlock()
	for _, c := range conns {
		c.Close()
	}
	return nil
}

type fakeConn struct {
	driver     *fakeDriver
	conn       net.Conn
	tag        socket.Tag
	remoteHost string
	remotePort uint16
}

func (c *fakeConn) Write(b []byte) (int, error) { return c.conn.Write(b) }
func (c *fakeConn) Close() error                { return c.conn.Close() }
func (c *fakeConn) Tag() socket.Tag             { return c.tag }
func (c *fakeConn) RemoteHostPort() (string, uint16) {
	return c.remoteHost, c.remotePort
}
