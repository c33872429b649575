package invite

import (
	"context"
	"fmt"
	"sync"

	"github.com/emiago/sipgo/sip"
	"github.com/looplab/fsm"
)

// SessionState is the INVITE session lifecycle.
type SessionState int

const (
	StateNull SessionState = iota
	StateCalling
	StateIncoming
	StateEarly
	StateConnecting
	StateConfirmed
	StateDisconnected
)

func (s SessionState) String() string {
	switch s {
	case StateNull:
		return "NULL"
	case StateCalling:
		return "CALLING"
	case StateIncoming:
		return "INCOMING"
	case StateEarly:
		return "EARLY"
	case StateConnecting:
		return "CONNECTING"
	case StateConfirmed:
		return "CONFIRMED"
	case StateDisconnected:
		return "DISCONNECTED"
	default:
		return "UNKNOWN"
	}
}

// Role distinguishes which side of the INVITE transaction this session plays.
type Role int

const (
	RoleUAC Role = iota
	RoleUAS
)

// TsxEventType classifies an event fired on Session.FireTsxEvent.
type TsxEventType int

const (
	EventRxRequest TsxEventType = iota
	EventRxResponse
	EventTxRequest
	EventTxResponse
	EventStateChanged
)

// TxState is a simplified SIP transaction state (RFC 3261 §17).
type TxState int

const (
	TxCalling TxState = iota
	TxTrying
	TxProceeding
	TxCompleted
	TxTerminated
)

func (s TxState) String() string {
	switch s {
	case TxCalling:
		return "Calling"
	case TxTrying:
		return "Trying"
	case TxProceeding:
		return "Proceeding"
	case TxCompleted:
		return "Completed"
	case TxTerminated:
		return "Terminated"
	default:
		return "Unknown"
	}
}

// TsxEvent is what the session reports to registered listeners on every
// transaction state change.
type TsxEvent struct {
	Role     Role
	Method   sip.RequestMethod
	Type     TsxEventType
	State    TxState
	Request  *sip.Request
	Response *sip.Response
	ServerTx sip.ServerTransaction
	ClientTx sip.ClientTransaction
}

// StatusCode returns the response status carried by the event, or 0.
func (e TsxEvent) StatusCode() int {
	if e.Response == nil {
		return 0
	}
	return int(e.Response.StatusCode)
}

// TsxListener is registered on a Session to observe every transaction event.
// pkg/rel100's module dispatcher is one such listener.
type TsxListener func(sess *Session, ev TsxEvent)

// Callbacks is the vtable the call-lifecycle coordinator implements and
// hands to NewSession.
type Callbacks struct {
	OnStateChanged func(sess *Session, old, new SessionState)
	OnMediaUpdate  func(sess *Session, err error)
	OnRxOffer      func(sess *Session, offer []byte) (answer []byte, err error)
	OnCreateOffer  func(sess *Session) (offer []byte, err error)
	OnRedirected   func(sess *Session, contacts []sip.Uri) RedirectCmd
	OnForked       func(sess *Session) *Session
}

// RedirectCmd is the application's disposition of a 3xx redirect.
type RedirectCmd int

const (
	RedirectStop RedirectCmd = iota
	RedirectAccept
)

// Session is the INVITE-session abstraction: dialog identity, lifecycle
// state, CSeq bookkeeping and the transaction-event fan-out that pkg/rel100
// and pkg/callcore are built on.
type Session struct {
	mu sync.Mutex

	id        string
	role      Role
	callID    string
	localTag  string
	remoteTag string

	cseq uint32 // CSeq of the INVITE transaction this session answers/sent

	fsm       *fsm.FSM
	state     SessionState
	userData  interface{}
	callbacks Callbacks
	listeners []TsxListener

	require100rel bool
	support100rel bool

	lastStatusCode int
	lastStatusText string

	logger Logger
}

type SessionOpt func(*Session)

func WithCallbacks(cb Callbacks) SessionOpt         { return func(s *Session) { s.callbacks = cb } }
func WithLogger(l Logger) SessionOpt                { return func(s *Session) { s.logger = l } }
func WithSupport100rel(v bool) SessionOpt           { return func(s *Session) { s.support100rel = v } }
func WithRequire100rel(v bool) SessionOpt           { return func(s *Session) { s.require100rel = v } }

// NewSession constructs a session in NULL state for the given role, identity
// and INVITE CSeq.
func NewSession(role Role, callID, localTag, remoteTag string, inviteCSeq uint32, opts ...SessionOpt) *Session {
	s := &Session{
		id:        callID + "/" + localTag,
		role:      role,
		callID:    callID,
		localTag:  localTag,
		remoteTag: remoteTag,
		cseq:      inviteCSeq,
		state:     StateNull,
		logger:    NewNoopLogger(),
	}
	for _, o := range opts {
		o(s)
	}
	s.logger = s.logger.WithComponent("invite").WithCallID(callID)
	s.initFSM()
	return s
}

func (s *Session) initFSM() {
	n, c, i, e, cn, cf, d := StateNull.String(), StateCalling.String(), StateIncoming.String(),
		StateEarly.String(), StateConnecting.String(), StateConfirmed.String(), StateDisconnected.String()

	s.fsm = fsm.NewFSM(n, fsm.Events{
		{Name: "uac_invite_sent", Src: []string{n}, Dst: c},
		{Name: "uas_invite_rx", Src: []string{n}, Dst: i},

		{Name: "rx_1xx", Src: []string{c, e}, Dst: e},
		{Name: "tx_1xx", Src: []string{i, e}, Dst: e},

		{Name: "rx_2xx", Src: []string{c, e}, Dst: cn},
		{Name: "tx_2xx", Src: []string{i, e}, Dst: cn},

		{Name: "confirmed", Src: []string{cn}, Dst: cf},

		{Name: "terminate", Src: []string{n, c, i, e, cn, cf}, Dst: d},
	}, fsm.Callbacks{
		"enter_state": func(ctx context.Context, ev *fsm.Event) {
			s.onEnterState(ev)
		},
	})
}

func (s *Session) onEnterState(ev *fsm.Event) {
	old := s.state
	s.state = parseSessionState(ev.Dst)
	if old == s.state {
		return
	}
	if s.callbacks.OnStateChanged != nil {
		s.callbacks.OnStateChanged(s, old, s.state)
	}
}

func parseSessionState(v string) SessionState {
	for _, st := range []SessionState{StateNull, StateCalling, StateIncoming, StateEarly, StateConnecting, StateConfirmed, StateDisconnected} {
		if st.String() == v {
			return st
		}
	}
	return StateNull
}

// Transition drives the session's lifecycle FSM with the named event.
func (s *Session) Transition(event string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.fsm.Event(context.Background(), event); err != nil {
		return fmt.Errorf("invite: state transition %q from %s: %w", event, s.state, err)
	}
	return nil
}

func (s *Session) State() SessionState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

func (s *Session) ID() string         { return s.id }
func (s *Session) CallID() string     { return s.callID }
func (s *Session) LocalTag() string   { return s.localTag }
func (s *Session) RemoteTag() string  { return s.remoteTag }
func (s *Session) Role() Role         { return s.role }
func (s *Session) Logger() Logger     { return s.logger }

func (s *Session) SetRemoteTag(tag string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.remoteTag = tag
}

// CSeq returns the CSeq number of the INVITE transaction this session tracks.
func (s *Session) CSeq() uint32 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cseq
}

func (s *Session) SetCSeq(cseq uint32) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cseq = cseq
}

func (s *Session) SetUserData(v interface{}) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.userData = v
}

func (s *Session) UserData() interface{} {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.userData
}

func (s *Session) Support100rel() bool { return s.support100rel }
func (s *Session) Require100rel() bool { return s.require100rel }

// RegisterTsxListener adds a listener invoked on every FireTsxEvent call, in
// registration order. The 100rel dispatcher registers first so it always
// observes events before application-level handling.
func (s *Session) RegisterTsxListener(l TsxListener) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.listeners = append(s.listeners, l)
}

// FireTsxEvent notifies all registered listeners of a transaction event.
// Whatever drives the underlying sipgo transaction (application code, or a
// test fake) calls this once per state change.
func (s *Session) FireTsxEvent(ev TsxEvent) {
	s.mu.Lock()
	if ev.Response != nil {
		s.lastStatusCode = int(ev.Response.StatusCode)
		s.lastStatusText = ev.Response.Reason
	}
	listeners := make([]TsxListener, len(s.listeners))
	copy(listeners, s.listeners)
	s.mu.Unlock()

	for _, l := range listeners {
		l(s, ev)
	}
}

// LastStatus returns the most recently observed response status code and
// reason phrase on this session's transactions, or (0, "") if none has been
// observed yet. The call-lifecycle coordinator latches this into the call
// slot's last_code/last_text on EARLY/CONNECTING/CONFIRMED/DISCONNECTED (§4.G).
func (s *Session) LastStatus() (code int, reason string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastStatusCode, s.lastStatusText
}

// CreateOffer delegates to the media callback.
func (s *Session) CreateOffer() ([]byte, error) {
	if s.callbacks.OnCreateOffer == nil {
		return nil, NewError(ErrMediaFailure, "no offer callback configured")
	}
	return s.callbacks.OnCreateOffer(s)
}

// ReceiveOffer delegates to the media callback.
func (s *Session) ReceiveOffer(offer []byte) ([]byte, error) {
	if s.callbacks.OnRxOffer == nil {
		return nil, NewError(ErrMediaFailure, "no rx-offer callback configured")
	}
	return s.callbacks.OnRxOffer(s, offer)
}

// NotifyMediaUpdate invokes the media-update callback.
func (s *Session) NotifyMediaUpdate(err error) {
	if s.callbacks.OnMediaUpdate != nil {
		s.callbacks.OnMediaUpdate(s, err)
	}
}

// Fork invokes the forked-dialog callback.
func (s *Session) Fork() *Session {
	if s.callbacks.OnForked != nil {
		return s.callbacks.OnForked(s)
	}
	return nil
}

// Redirected invokes the redirect callback, defaulting to RedirectStop when
// the application registered none.
func (s *Session) Redirected(contacts []sip.Uri) RedirectCmd {
	if s.callbacks.OnRedirected != nil {
		return s.callbacks.OnRedirected(s, contacts)
	}
	return RedirectStop
}
