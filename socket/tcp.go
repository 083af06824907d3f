package socket

import (
	"io"
	"net"
	"os"
	"strconv"
	"sync"
)

// TCPDriver is the real Driver: one goroutine per accepted/dialed
// connection reading into a fixed buffer and handing bytes to Events,
// mirroring the one-reader-loop-per-stream shape of the host this
// package is descended from, without any multistream/security layering
// on top — this driver speaks nothing but the raw bytes the wire package
// frames.
type TCPDriver struct {
	events Events

	mu        sync.Mutex
	listeners map[*tcpListener]struct{}
	conns     map[*tcpConn]struct{}
	closed    bool
}

// NewTCPDriver returns a Driver with no listeners or connections yet.
func NewTCPDriver() *TCPDriver {
	return &TCPDriver{
		listeners: make(map[*tcpListener]struct{}),
		conns:     make(map[*tcpConn]struct{}),
	}
}

func (d *TCPDriver) SetEvents(e Events) { d.events = e }

type tcpListener struct {
	ln   net.Listener
	port uint16
}

func (l *tcpListener) Close() error { return l.ln.Close() }
func (l *tcpListener) Port() uint16 { return l.port }

func (d *TCPDriver) Listen(port uint16) (Listener, error) {
	ln, err := net.Listen("tcp", ":"+strconv.Itoa(int(port)))
	if err != nil {
		return nil, err
	}
	actualPort := ln.Addr().(*net.TCPAddr).Port
	tl := &tcpListener{ln: ln, port: uint16(actualPort)}

	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		ln.Close()
		return nil, net.ErrClosed
	}
	d.listeners[tl] = struct{}{}
	d.mu.Unlock()

	go d.acceptLoop(tl)
	return tl, nil
}

func (d *TCPDriver) acceptLoop(l *tcpListener) {
	for {
		conn, err := l.ln.Accept()
		if err != nil {
			return
		}
		c := d.adopt(conn, nil)
		if d.events != nil {
			d.events.OnAccepted(l, c)
		}
		go d.readLoop(c)
	}
}

func (d *TCPDriver) Connect(host string, port uint16, tag Tag) {
	go func() {
		addr := net.JoinHostPort(host, strconv.Itoa(int(port)))
		conn, err := net.Dial("tcp", addr)
		if err != nil {
			if d.events != nil {
				d.events.OnConnectFailed(tag, err)
			}
			return
		}
		c := d.adopt(conn, tag)
		if d.events != nil {
			d.events.OnConnected(c, tag)
		}
		d.readLoop(c)
	}()
}

func (d *TCPDriver) adopt(conn net.Conn, tag Tag) *tcpConn {
	c := &tcpConn{conn: conn, tag: tag}
	d.mu.Lock()
	if !d.closed {
		d.conns[c] = struct{}{}
	}
	d.mu.Unlock()
	return c
}

func (d *TCPDriver) readLoop(c *tcpConn) {
	buf := make([]byte, 64*1024)
	for {
		n, err := c.conn.Read(buf)
		if n > 0 && d.events != nil {
			data := make([]byte, n)
			copy(data, buf[:n])
			d.events.OnReadable(c, c.tag, data)
		}
		if err != nil {
			d.mu.Lock()
			delete(d.conns, c)
			d.mu.Unlock()
			c.conn.Close()
			if d.events != nil {
				if err == io.EOF {
					err = nil
				}
				d.events.OnClosed(c, c.tag, err)
			}
			return
		}
	}
}

func (d *TCPDriver) Canonicalize(host string) (string, error) {
	addrs, err := net.LookupHost(host)
	if err != nil || len(addrs) == 0 {
		// Fall back to the literal host: many deployments join peers by
		// IP or a name that doesn't reverse-resolve; §4.5's
		// canonicalization only needs a stable name, not a routable one.
		return host, nil
	}
	names, err := net.LookupAddr(addrs[0])
	if err != nil || len(names) == 0 {
		return host, nil
	}
	return names[0], nil
}

func (d *TCPDriver) MyCanonicalName() (string, error) {
	host, err := os.Hostname()
	if err != nil {
		return "localhost", nil
	}
	return d.Canonicalize(host)
}

func (d *TCPDriver) Close() error {
	d.mu.Lock()
	d.closed = true
	listeners := d.listeners
	d.listeners = make(map[*tcpListener]struct{})
	conns := d.conns
	d.conns = make(map[*tcpConn]struct{})
	d.mu.Unlock()

	for l := range listeners {
		l.ln.Close()
	}
	for c := range conns {
		c.conn.Close()
	}
	return nil
}

type tcpConn struct {
	conn net.Conn
	tag  Tag
}

func (c *tcpConn) Write(b []byte) (int, error) { return c.conn.Write(b) }
func (c *tcpConn) Close() error                { return c.conn.Close() }
func (c *tcpConn) Tag() Tag                     { return c.tag }

func (c *tcpConn) RemoteHostPort() (string, uint16) {
	addr, ok := c.conn.RemoteAddr().(*net.TCPAddr)
	if !ok {
		return "", 0
	}
	return addr.IP.String(), uint16(addr.Port)
}
