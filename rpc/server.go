// Package rpc exposes the link's embedder-facing contract (§6) as a
// JSON-RPC 2.0 service over a Unix domain socket, line-delimited the same
// way the teacher's rpc package does it (bufio.ReadSlice('\n'), one
// goroutine per connection, a semaphore bounding concurrent in-flight
// requests). Listener callbacks (ActiveChanged, StateTransferComplete)
// are pushed to every connected client as unsolicited JSON-RPC
// notifications (no "id" field), since an embedder process watching a
// long-lived link needs to learn about role changes without polling.
package rpc

import (
	"bufio"
	"encoding/json"
	"io"
	"log"
	"net"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/carrot-garden/native-workrave/link"
)

type Request struct {
	JSONRPC string          `json:"jsonrpc"`
	Method  string          `json:"method"`
	Params  json.RawMessage `json:"params,omitempty"`
	ID      interface{}     `json:"id"`
}

type Response struct {
	JSONRPC string      `json:"jsonrpc"`
	Result  interface{} `json:"result,omitempty"`
	Error   *Error      `json:"error,omitempty"`
	ID      interface{} `json:"id,omitempty"`
}

type Error struct {
	Code    int         `json:"code"`
	Message string      `json:"message"`
	Data    interface{} `json:"data,omitempty"`
}

const (
	ErrCodeParse       = -32700
	ErrCodeInvalidReq  = -32600
	ErrCodeMethodNF    = -32601
	ErrCodeInvalidArgs = -32602
	ErrCodeInternal    = -32603
	ErrCodeBusy        = -32000
)

const (
	maxRequestLineBytes  = 1 << 20
	maxInFlightRequests  = 64
	defaultReadDeadline  = 30 * time.Second
	defaultWriteDeadline = 30 * time.Second
)

// Server is the JSON-RPC front door onto a single *link.Link. It also
// implements link.Listener so active-role transitions and state-transfer
// completions fan out to every connected client.
type Server struct {
	handlers *Handlers

	mu      sync.Mutex
	clients map[*rpcConn]struct{}
}

type rpcConn struct {
	conn      net.Conn
	enc       *json.Encoder
	sessionID string
	mu        sync.Mutex

	nextID  int64
	pending sync.Map // int64 -> chan Response
}

func (c *rpcConn) write(v interface{}) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	_ = c.conn.SetWriteDeadline(time.Now().Add(defaultWriteDeadline))
	return c.enc.Encode(v)
}

// call issues a server-initiated JSON-RPC request to this client and
// blocks for the matching response; used by remoteStateProvider to
// forward register_state's get_state/set_state calls to the embedder
// process on the other end of the connection (§4.7, §6
// "register_state(id, provider)").
func (c *rpcConn) call(method string, params interface{}, timeout time.Duration) (json.RawMessage, *Error) {
	id := atomicNextID(&c.nextID)
	ch := make(chan Response, 1)
	c.pending.Store(id, ch)
	defer c.pending.Delete(id)

	raw, err := json.Marshal(params)
	if err != nil {
		return nil, &Error{Code: ErrCodeInternal, Message: "marshal params: " + err.Error()}
	}
	if err := c.write(Request{JSONRPC: "2.0", Method: method, Params: raw, ID: id}); err != nil {
		return nil, &Error{Code: ErrCodeInternal, Message: "write: " + err.Error()}
	}

	select {
	case resp := <-ch:
		if resp.Error != nil {
			return nil, resp.Error
		}
		raw, _ := json.Marshal(resp.Result)
		return raw, nil
	case <-time.After(timeout):
		return nil, &Error{Code: ErrCodeInternal, Message: method + ": timed out waiting for client"}
	}
}

// NewServer wires a Server to a running *link.Link and installs itself
// as the link's listener (§6 "active_changed"/"state_transfer_complete").
func NewServer(l *link.Link) *Server {
	s := &Server{
		handlers: NewHandlers(l),
		clients:  make(map[*rpcConn]struct{}),
	}
	l.SetListener(s)
	return s
}

// ActiveChanged implements link.Listener, broadcasting a "link.activeChanged"
// notification to every connected client.
func (s *Server) ActiveChanged(selfActive bool) {
	s.broadcast("link.activeChanged", map[string]interface{}{"selfActive": selfActive})
}

// StateTransferComplete implements link.Listener, broadcasting a
// "link.stateTransferComplete" notification with no parameters.
func (s *Server) StateTransferComplete() {
	s.broadcast("link.stateTransferComplete", nil)
}

type notification struct {
	JSONRPC string      `json:"jsonrpc"`
	Method  string      `json:"method"`
	Params  interface{} `json:"params,omitempty"`
}

func (s *Server) broadcast(method string, params interface{}) {
	note := notification{JSONRPC: "2.0", Method: method, Params: params}
	s.mu.Lock()
	targets := make([]*rpcConn, 0, len(s.clients))
	for c := range s.clients {
		targets = append(targets, c)
	}
	s.mu.Unlock()
	for _, c := range targets {
		if err := c.write(note); err != nil {
			log.Printf("rpc: notify %s failed: %v", method, err)
		}
	}
}

// HandleConnection serves one client connection until it errors or
// closes; the caller (cmd.Daemon.Start) spawns one goroutine per Accept.
func (s *Server) HandleConnection(conn net.Conn) {
	defer conn.Close()

	rc := &rpcConn{conn: conn, enc: json.NewEncoder(conn), sessionID: uuid.NewString()}
	s.mu.Lock()
	s.clients[rc] = struct{}{}
	s.mu.Unlock()
	log.Printf("rpc: session %s connected", rc.sessionID)
	defer func() {
		s.mu.Lock()
		delete(s.clients, rc)
		s.mu.Unlock()
		log.Printf("rpc: session %s disconnected", rc.sessionID)
	}()

	reader := bufio.NewReaderSize(conn, maxRequestLineBytes+1)
	var writeMu sync.Mutex
	sem := make(chan struct{}, maxInFlightRequests)

	write := func(resp Response) bool {
		writeMu.Lock()
		err := rc.write(resp)
		writeMu.Unlock()
		if err != nil {
			log.Printf("rpc: write error: %v", err)
			return false
		}
		return true
	}

	for {
		_ = conn.SetReadDeadline(time.Now().Add(defaultReadDeadline))
		line, err := reader.ReadSlice('\n')
		if err != nil {
			if err == bufio.ErrBufferFull {
				log.Printf("rpc: request too large")
				return
			}
			if nerr, ok := err.(net.Error); ok && nerr.Timeout() && len(line) == 0 {
				continue
			}
			if err != io.EOF {
				log.Printf("rpc: read error: %v", err)
			}
			return
		}
		if len(line) > maxRequestLineBytes {
			log.Printf("rpc: request too large")
			return
		}

		var probe struct {
			Method string `json:"method"`
		}
		if err := json.Unmarshal(line, &probe); err != nil {
			if !write(Response{JSONRPC: "2.0", Error: &Error{Code: ErrCodeParse, Message: "parse error"}}) {
				return
			}
			continue
		}
		if probe.Method == "" {
			// Reply to a server-initiated call (remoteStateProvider),
			// not a client request: route by id instead of dispatching.
			var resp Response
			if err := json.Unmarshal(line, &resp); err == nil {
				if id, ok := normalizeID(resp.ID); ok {
					if ch, ok := rc.pending.Load(id); ok {
						ch.(chan Response) <- resp
					}
				}
			}
			continue
		}

		var req Request
		if err := json.Unmarshal(line, &req); err != nil {
			if !write(Response{JSONRPC: "2.0", Error: &Error{Code: ErrCodeParse, Message: "parse error"}}) {
				return
			}
			continue
		}
		if req.JSONRPC != "2.0" {
			if !write(Response{JSONRPC: "2.0", Error: &Error{Code: ErrCodeInvalidReq, Message: "must use JSON-RPC 2.0"}, ID: req.ID}) {
				return
			}
			continue
		}

		reqCopy := req
		select {
		case sem <- struct{}{}:
			go func() {
				defer func() { <-sem }()
				defer func() {
					if r := recover(); r != nil {
						log.Printf("rpc: session %s panic in %s: %v", rc.sessionID, reqCopy.Method, r)
						write(Response{JSONRPC: "2.0", Error: &Error{Code: ErrCodeInternal, Message: "internal error"}, ID: reqCopy.ID})
					}
				}()
				result, rpcErr := s.dispatch(rc, reqCopy.Method, reqCopy.Params)
				resp := Response{JSONRPC: "2.0", ID: reqCopy.ID}
				if rpcErr != nil {
					resp.Error = rpcErr
				} else {
					resp.Result = result
				}
				if !write(resp) {
					conn.Close()
				}
			}()
		default:
			if !write(Response{JSONRPC: "2.0", Error: &Error{Code: ErrCodeBusy, Message: "server busy"}, ID: reqCopy.ID}) {
				return
			}
		}
	}
}

func (s *Server) dispatch(rc *rpcConn, method string, params json.RawMessage) (interface{}, *Error) {
	switch method {
	case "Link.Init":
		return s.handlers.Init(params)
	case "Link.Heartbeat":
		return s.handlers.Heartbeat(params)
	case "Link.SetEnabled":
		return s.handlers.SetEnabled(params)
	case "Link.SetUser":
		return s.handlers.SetUser(params)
	case "Link.Join":
		return s.handlers.Join(params)
	case "Link.Claim":
		return s.handlers.Claim(params)
	case "Link.DisconnectAll":
		return s.handlers.DisconnectAll(params)
	case "Link.ReconnectAll":
		return s.handlers.ReconnectAll(params)
	case "Link.GetActive":
		return s.handlers.GetActive(params)
	case "Link.NumberOfPeers":
		return s.handlers.NumberOfPeers(params)
	case "Link.Status":
		return s.handlers.Status(params)
	case "Link.RegisterState":
		return s.handlers.RegisterState(rc, params)
	default:
		return nil, &Error{Code: ErrCodeMethodNF, Message: "method not found: " + method}
	}
}

// atomicNextID hands out a monotonically increasing id for server-
// initiated calls on one connection. It takes no lock and is not atomic;
// it relies on call() being its only caller and on call() running only
// on the link's single goroutine (through remoteStateProvider).
func atomicNextID(counter *int64) int64 {
	*counter++
	return *counter
}

// normalizeID coerces a JSON-decoded id (float64, string, or already an
// int64) into the int64 key space call() stores pending requests under.
func normalizeID(v interface{}) (int64, bool) {
	switch t := v.(type) {
	case float64:
		return int64(t), true
	case int64:
		return t, true
	case json.Number:
		n, err := t.Int64()
		return n, err == nil
	default:
		return 0, false
	}
}
