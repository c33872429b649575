package rel100

import (
	"context"
	"sync"

	"github.com/arzzra/sipcallcore/pkg/invite"
	"github.com/emiago/sipgo/sip"
)

// Module is the 100rel dispatcher: registered on every INVITE session's
// transaction-event fan-out, it routes events to that dialog's UAS or UAC
// state, creating each lazily on first use.
type Module struct {
	mu sync.Mutex

	uasStates map[string]*uasState
	uacStates map[string]*uacState

	uasFactory func(sess *invite.Session) UASTransport
	uacFactory func(sess *invite.Session) UACTransport
	metrics    *invite.Metrics
}

// NewModule builds a dispatcher. The factories construct the per-dialog
// transport adapters the coordinator uses to actually place bytes on the
// wire; they are invoked once per dialog, on first use. metrics may be nil.
func NewModule(uasFactory func(sess *invite.Session) UASTransport, uacFactory func(sess *invite.Session) UACTransport, metrics *invite.Metrics) *Module {
	return &Module{
		uasStates:  make(map[string]*uasState),
		uacStates:  make(map[string]*uacState),
		uasFactory: uasFactory,
		uacFactory: uacFactory,
		metrics:    metrics,
	}
}

// Attach registers the dispatcher on sess as a transaction listener: the
// module observes every transaction event before application-level
// handling gets a turn.
func (m *Module) Attach(sess *invite.Session) {
	sess.RegisterTsxListener(m.onTsxEvent)
}

// Detach drops the per-dialog state for sess, called once the session is
// DISCONNECTED and its resources are being released.
func (m *Module) Detach(sess *invite.Session) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.uasStates, sess.ID())
	delete(m.uacStates, sess.ID())
}

func (m *Module) uasFor(sess *invite.Session) *uasState {
	m.mu.Lock()
	defer m.mu.Unlock()
	st, ok := m.uasStates[sess.ID()]
	if !ok {
		st = newUASState(m.uasFactory(sess), sess.Logger(), m.metrics)
		m.uasStates[sess.ID()] = st
	}
	return st
}

func (m *Module) existingUAS(sess *invite.Session) (*uasState, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	st, ok := m.uasStates[sess.ID()]
	return st, ok
}

func (m *Module) uacFor(sess *invite.Session) *uacState {
	m.mu.Lock()
	defer m.mu.Unlock()
	st, ok := m.uacStates[sess.ID()]
	if !ok {
		st = newUACState(m.uacFactory(sess), sess.Logger())
		m.uacStates[sess.ID()] = st
	}
	return st
}

// SendResponse is the entry point the call coordinator invokes whenever it
// transmits a response on sess's INVITE transaction. It is reached through
// the dispatcher, not uasState directly, so the UAS state is created lazily
// on first use.
func (m *Module) SendResponse(sess *invite.Session, resp *sip.Response) error {
	return m.uasFor(sess).SendResponse(resp)
}

func (m *Module) onTsxEvent(sess *invite.Session, ev invite.TsxEvent) {
	log := sess.Logger()

	switch {
	case ev.Role == invite.RoleUAS && ev.State == invite.TxTrying && ev.Method == sip.PRACK:
		if ev.Request != nil && ev.ServerTx != nil {
			if err := m.uasFor(sess).OnPRACK(ev.ServerTx, ev.Request); err != nil {
				log.Warn(context.Background(), "rel100: PRACK handling failed", invite.F("error", err))
			}
		}

	case ev.Role == invite.RoleUAC && ev.Method == sip.INVITE && ev.Type == invite.EventRxResponse &&
		ev.Response != nil && ev.StatusCode() > 100 && ev.StatusCode() < 200 && invite.HasRequire100rel(ev.Response):
		if err := m.uacFor(sess).OnReliableProvisional(ev.Response, string(sip.INVITE)); err != nil {
			log.Warn(context.Background(), "rel100: reliable provisional handling failed", invite.F("error", err))
		}

	case ev.Role == invite.RoleUAC && ev.State == invite.TxCompleted && ev.Method == sip.PRACK:
		m.uacFor(sess).OnPRACKCompleted(ev.StatusCode(), nil)
	}

	if ev.Role == invite.RoleUAS && ev.Method == sip.INVITE && ev.State == invite.TxTerminated {
		if st, ok := m.existingUAS(sess); ok {
			if !st.AssertClearOnTerminate() {
				log.Error(context.Background(), "rel100: INVITE transaction terminated with non-empty 100rel queue or armed timer")
			}
		}
	}
}
