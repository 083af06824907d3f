package rpc

import (
	"encoding/json"
	"time"

	"github.com/carrot-garden/native-workrave/link"
)

// Handlers implements one method per embedder-facing link operation
// (§6), unmarshalling/remarshalling JSON params the way the teacher's
// rpc.Handlers does for each P2P.* method, just narrowed to the
// operations this spec actually names.
type Handlers struct {
	link *link.Link
}

func NewHandlers(l *link.Link) *Handlers {
	return &Handlers{link: l}
}

func invalidArgs(err error) *Error {
	return &Error{Code: ErrCodeInvalidArgs, Message: "invalid params: " + err.Error()}
}

type InitResult struct {
	OK bool `json:"ok"`
}

func (h *Handlers) Init(params json.RawMessage) (interface{}, *Error) {
	if err := h.link.Init(); err != nil {
		return nil, &Error{Code: ErrCodeInternal, Message: err.Error()}
	}
	return &InitResult{OK: true}, nil
}

type HeartbeatResult struct{}

func (h *Handlers) Heartbeat(params json.RawMessage) (interface{}, *Error) {
	h.link.Heartbeat()
	return &HeartbeatResult{}, nil
}

type SetEnabledParams struct {
	Enabled bool `json:"enabled"`
}

type SetEnabledResult struct {
	Prior bool `json:"prior"`
}

func (h *Handlers) SetEnabled(params json.RawMessage) (interface{}, *Error) {
	var p SetEnabledParams
	if err := json.Unmarshal(params, &p); err != nil {
		return nil, invalidArgs(err)
	}
	prior, err := h.link.SetEnabled(p.Enabled)
	if err != nil {
		return nil, &Error{Code: ErrCodeInternal, Message: err.Error()}
	}
	return &SetEnabledResult{Prior: prior}, nil
}

type SetUserParams struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

func (h *Handlers) SetUser(params json.RawMessage) (interface{}, *Error) {
	var p SetUserParams
	if err := json.Unmarshal(params, &p); err != nil {
		return nil, invalidArgs(err)
	}
	h.link.SetUser(p.Username, p.Password)
	return struct{}{}, nil
}

type JoinParams struct {
	Host string `json:"host"`
	Port uint16 `json:"port"`
	URL  string `json:"url"`
}

func (h *Handlers) Join(params json.RawMessage) (interface{}, *Error) {
	var p JoinParams
	if err := json.Unmarshal(params, &p); err != nil {
		return nil, invalidArgs(err)
	}
	host, port := p.Host, p.Port
	if p.URL != "" {
		var err error
		host, port, err = link.ParseJoinURL(p.URL)
		if err != nil {
			return nil, invalidArgs(err)
		}
	}
	h.link.Join(host, port)
	return struct{}{}, nil
}

type ClaimResult struct {
	OK bool `json:"ok"`
}

func (h *Handlers) Claim(params json.RawMessage) (interface{}, *Error) {
	return &ClaimResult{OK: h.link.Claim()}, nil
}

type DisconnectAllResult struct {
	OK bool `json:"ok"`
}

func (h *Handlers) DisconnectAll(params json.RawMessage) (interface{}, *Error) {
	return &DisconnectAllResult{OK: h.link.DisconnectAll()}, nil
}

type ReconnectAllResult struct {
	OK bool `json:"ok"`
}

func (h *Handlers) ReconnectAll(params json.RawMessage) (interface{}, *Error) {
	return &ReconnectAllResult{OK: h.link.ReconnectAll()}, nil
}

type GetActiveResult struct {
	Host string `json:"host,omitempty"`
	Port uint16 `json:"port,omitempty"`
	None bool   `json:"none"`
}

func (h *Handlers) GetActive(params json.RawMessage) (interface{}, *Error) {
	host, port, ok := h.link.GetActive()
	if !ok {
		return &GetActiveResult{None: true}, nil
	}
	return &GetActiveResult{Host: host, Port: port}, nil
}

type NumberOfPeersResult struct {
	Count int `json:"count"`
}

func (h *Handlers) NumberOfPeers(params json.RawMessage) (interface{}, *Error) {
	return &NumberOfPeersResult{Count: h.link.NumberOfPeers()}, nil
}

// StatusResult is a supplemented, non-spec convenience bundling the
// two read-only observations into one round trip; every field is
// individually available through the dedicated methods above.
type StatusResult struct {
	Active    *GetActiveResult `json:"active"`
	PeerCount int              `json:"peerCount"`
}

func (h *Handlers) Status(params json.RawMessage) (interface{}, *Error) {
	active, _ := h.GetActive(nil)
	return &StatusResult{
		Active:    active.(*GetActiveResult),
		PeerCount: h.link.NumberOfPeers(),
	}, nil
}

type RegisterStateParams struct {
	ID             uint16 `json:"id"`
	TimeoutSeconds int    `json:"timeoutSeconds"`
}

type RegisterStateResult struct {
	OK bool `json:"ok"`
}

// RegisterState implements register_state(id, provider) (§6) by
// installing a remoteStateProvider that forwards get_state/set_state
// onto this same connection as server-initiated JSON-RPC calls
// ("State.Get" / "State.Set"). The client on the other end of the
// socket must answer those calls promptly — a state provider is
// expected to be quick and non-blocking (§5) — or the forward times out
// and that round's entry is treated as empty/dropped.
func (h *Handlers) RegisterState(rc *rpcConn, params json.RawMessage) (interface{}, *Error) {
	var p RegisterStateParams
	if err := json.Unmarshal(params, &p); err != nil {
		return nil, invalidArgs(err)
	}
	timeout := 2 * time.Second
	if p.TimeoutSeconds > 0 {
		timeout = time.Duration(p.TimeoutSeconds) * time.Second
	}
	provider := &remoteStateProvider{id: p.ID, conn: rc, timeout: timeout}
	ok := h.link.RegisterState(p.ID, provider)
	return &RegisterStateResult{OK: ok}, nil
}

// remoteStateProvider is the rpc package's link.StateProvider adapter:
// it turns the in-process StateProvider interface into two round trips
// over the JSON-RPC connection that issued Link.RegisterState.
type remoteStateProvider struct {
	id      uint16
	conn    *rpcConn
	timeout time.Duration
}

type stateGetParams struct {
	ID uint16 `json:"id"`
}

type stateGetResult struct {
	OK   bool   `json:"ok"`
	Data []byte `json:"data,omitempty"`
}

func (r *remoteStateProvider) GetState() ([]byte, bool) {
	raw, rpcErr := r.conn.call("State.Get", stateGetParams{ID: r.id}, r.timeout)
	if rpcErr != nil {
		return nil, false
	}
	var res stateGetResult
	if err := json.Unmarshal(raw, &res); err != nil || !res.OK {
		return nil, false
	}
	return res.Data, true
}

type stateSetParams struct {
	ID               uint16 `json:"id"`
	WillBecomeActive bool   `json:"willBecomeActive"`
	Data             []byte `json:"data"`
}

func (r *remoteStateProvider) SetState(willBecomeActive bool, data []byte) {
	r.conn.call("State.Set", stateSetParams{ID: r.id, WillBecomeActive: willBecomeActive, Data: data}, r.timeout)
}
