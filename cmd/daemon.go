// Package cmd wires together the config store, the socket driver, the
// link core, and the RPC front door into one runnable process — the
// adaptation of the teacher's Daemon (cmd/daemon.go) away from a
// libp2p host onto this spec's framed-TCP link.
package cmd

import (
	"fmt"
	"log"
	"net"
	"os"
	"sync"
	"syscall"

	"github.com/carrot-garden/native-workrave/config"
	"github.com/carrot-garden/native-workrave/link"
	"github.com/carrot-garden/native-workrave/rpc"
	"github.com/carrot-garden/native-workrave/socket"
)

// Config holds the daemon's process-level knobs: where the RPC socket
// lives and which config file (if any) to read on top of defaults and
// environment overrides.
type Config struct {
	SocketPath string
	ConfigPath string
}

// Daemon is the native-workrave-link process: one config.Store, one
// socket.Driver, one link.Link, one rpc.Server listening on a Unix
// domain socket.
type Daemon struct {
	config *Config
	store  *config.Store
	driver *socket.TCPDriver
	link   *link.Link
	rpcSrv *rpc.Server

	listener net.Listener
	wg       sync.WaitGroup
	stopping chan struct{}
}

// NewDaemon builds every component but does not start networking yet.
func NewDaemon(cfg *Config) (*Daemon, error) {
	store, err := config.New(cfg.ConfigPath)
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}

	driver := socket.NewTCPDriver()
	l := link.New(driver, store.Snapshot())
	rpcSrv := rpc.NewServer(l)

	return &Daemon{
		config:   cfg,
		store:    store,
		driver:   driver,
		link:     l,
		rpcSrv:   rpcSrv,
		stopping: make(chan struct{}),
	}, nil
}

// Start brings the link up, binds the RPC socket, and blocks accepting
// RPC connections until Stop is called.
func (d *Daemon) Start() error {
	if info, err := os.Lstat(d.config.SocketPath); err == nil {
		if info.Mode()&os.ModeSocket == 0 {
			return fmt.Errorf("socket path exists and is not a socket: %s", d.config.SocketPath)
		}
		if err := os.Remove(d.config.SocketPath); err != nil {
			return fmt.Errorf("failed to remove stale socket: %w", err)
		}
	}

	go d.link.Run()

	if err := d.link.Init(); err != nil {
		return fmt.Errorf("link init: %w", err)
	}

	oldUmask := syscall.Umask(0077)
	listener, err := net.Listen("unix", d.config.SocketPath)
	syscall.Umask(oldUmask)
	if err != nil {
		return err
	}
	d.listener = listener

	if err := os.Chmod(d.config.SocketPath, 0600); err != nil {
		log.Printf("warning: could not set socket permissions: %v", err)
	}

	log.Printf("JSON-RPC server listening on %s", d.config.SocketPath)

	for {
		conn, err := d.listener.Accept()
		if err != nil {
			select {
			case <-d.stopping:
				return nil
			default:
				log.Printf("accept error: %v", err)
				continue
			}
		}

		d.wg.Add(1)
		go func() {
			defer d.wg.Done()
			d.rpcSrv.HandleConnection(conn)
		}()
	}
}

// Stop tears everything down: RPC listener, in-flight connections, and
// the link itself (which disconnects every peer per §5's
// disconnect_all semantics).
func (d *Daemon) Stop() {
	close(d.stopping)

	if d.listener != nil {
		d.listener.Close()
	}

	d.link.Close()

	d.wg.Wait()

	os.Remove(d.config.SocketPath)

	log.Println("daemon stopped")
}
