package callcore

import (
	"math/rand/v2"
	"sync"
	"time"

	"github.com/arzzra/sipcallcore/pkg/invite"
	"github.com/arzzra/sipcallcore/pkg/rel100"
	"github.com/pion/sdp/v3"
)

// DialogTransport is the external SIP transport/dialog-primitives
// collaborator. The coordinator drives it to actually build dialogs and
// place requests/responses on the wire.
type DialogTransport interface {
	// SendInitialInvite builds a UAC dialog and INVITE session bound to acc,
	// attaches extraHeaders, and sends the initial INVITE carrying offer.
	// The returned session's OnStateChanged callback must be wired to call
	// Coordinator.OnStateChanged.
	SendInitialInvite(acc *Account, destURI string, secure SecureLevel, offer *sdp.SessionDescription, extraHeaders map[string]string) (*invite.Session, error)
	// AnswerIncoming builds a UAS dialog/session and sends the initial 100
	// Trying. The returned session's OnStateChanged callback must be wired
	// to call Coordinator.OnStateChanged.
	AnswerIncoming(accID string, secure SecureLevel, answer *sdp.SessionDescription) (*invite.Session, error)
	// Respond sends a standalone (typically failure) response, statelessly
	// if no session/dialog exists yet. warning, if non-empty, is rendered
	// as a Warning header (§4.G: 400/500 failure responses on incoming
	// INVITE processing carry one).
	Respond(code int, reason, warning string) error
	// SendFinalAnswer sends the final answer (e.g. 200 OK) for an incoming
	// or outgoing INVITE.
	SendFinalAnswer(sess *invite.Session, code int, reason string) error
	// Reinvite sends a re-INVITE carrying offer.
	Reinvite(sess *invite.Session, offer *sdp.SessionDescription) error
	// Update sends an UPDATE carrying offer.
	Update(sess *invite.Session, offer *sdp.SessionDescription) error
	// EndSession terminates sess with the given SIP status; doing nothing
	// is valid when nothing has been sent yet. Hangup is idempotent.
	EndSession(sess *invite.Session, code int, reason string)
}

// ParseSDPOffer parses and minimally validates an SDP body: if it carries
// no media lines, the caller should respond 400 Missing media in SDP.
func ParseSDPOffer(body []byte) (*sdp.SessionDescription, error) {
	offer := &sdp.SessionDescription{}
	if err := offer.Unmarshal(body); err != nil {
		return nil, invite.WrapError(invite.ErrMediaFailure, "parse SDP offer", err)
	}
	if len(offer.MediaDescriptions) == 0 {
		return nil, invite.NewError(invite.ErrMediaFailure, "missing media in SDP")
	}
	return offer, nil
}

// IncomingCallHandler is invoked once an inbound call has been fully set up
// and is ready for the application to answer or reject.
type IncomingCallHandler func(callID int, sess *invite.Session)

// Coordinator is the call-lifecycle coordinator. It owns the call table,
// drives pkg/invite sessions, consults pkg/rel100 for reliable-provisional
// delivery, and delegates SDP work to pkg/callcore's offer/answer helpers.
type Coordinator struct {
	uaMu sync.Mutex // the global user-agent lock

	table *CallTable

	accounts     map[string]*Account
	transport    DialogTransport
	module       *rel100.Module
	mediaFactory func() MediaEngine
	metrics      *invite.Metrics
	callMetrics  *CallMetrics
	logger       invite.Logger

	natTypeInSDP bool
	onIncoming   IncomingCallHandler
}

// CoordinatorOpt configures a Coordinator at construction.
type CoordinatorOpt func(*Coordinator)

func WithIncomingCallHandler(fn IncomingCallHandler) CoordinatorOpt {
	return func(c *Coordinator) { c.onIncoming = fn }
}

func WithNatTypeInSDP(v bool) CoordinatorOpt {
	return func(c *Coordinator) { c.natTypeInSDP = v }
}

func WithCoordinatorLogger(l invite.Logger) CoordinatorOpt {
	return func(c *Coordinator) { c.logger = l }
}

func WithCoordinatorMetrics(m *invite.Metrics) CoordinatorOpt {
	return func(c *Coordinator) { c.metrics = m }
}

func WithCallMetrics(m *CallMetrics) CoordinatorOpt {
	return func(c *Coordinator) { c.callMetrics = m }
}

// NewCoordinator builds a coordinator with a fixed-size call table.
func NewCoordinator(maxCalls int, transport DialogTransport, mediaFactory func() MediaEngine, module *rel100.Module, opts ...CoordinatorOpt) *Coordinator {
	c := &Coordinator{
		table:        NewCallTable(maxCalls),
		accounts:     make(map[string]*Account),
		transport:    transport,
		module:       module,
		mediaFactory: mediaFactory,
		logger:       invite.NewNoopLogger(),
		metrics:      invite.NewNoopMetrics(),
		callMetrics:  NewNoopCallMetrics(),
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

func (c *Coordinator) RegisterAccount(acc *Account) {
	c.uaMu.Lock()
	defer c.uaMu.Unlock()
	c.accounts[acc.ID] = acc
}

// MaxCalls is the fixed table capacity (CLI surface: get_max_count).
func (c *Coordinator) MaxCalls() int { return c.table.MaxCalls() }

// GetCount is the CLI surface's get_count: number of active calls.
func (c *Coordinator) GetCount() int {
	c.uaMu.Lock()
	defer c.uaMu.Unlock()
	return c.table.Count()
}

// acquireCall retries up to 50 iterations of (try UA-lock, try-lock dialog,
// release UA-lock), with 0-4ms back-off, failing timed_out on exhaustion.
// The returned unlock func must always be called exactly once on success.
func (c *Coordinator) acquireCall(idx int) (*CallSlot, func(), error) {
	for attempt := 0; attempt < 50; attempt++ {
		c.uaMu.Lock()
		slot := c.table.Get(idx)
		if slot == nil || slot.free() {
			c.uaMu.Unlock()
			return nil, nil, invite.NewError(invite.ErrSessionTerminated, "call no longer exists")
		}
		got := slot.TryLock()
		c.uaMu.Unlock()
		if got {
			return slot, slot.Unlock, nil
		}
		time.Sleep(time.Duration(rand.IntN(5)) * time.Millisecond)
	}
	return nil, nil, invite.NewError(invite.ErrTimedOut, "timed out acquiring call lock")
}

// MakeCall places an outgoing call.
func (c *Coordinator) MakeCall(accID, destURI string, extraHeaders map[string]string, userData interface{}) (int, error) {
	c.uaMu.Lock()
	acc, ok := c.accounts[accID]
	if !ok {
		c.uaMu.Unlock()
		return InvalidCallID, invite.NewError(invite.ErrInvalidArgument, "unknown account")
	}
	slot := c.table.Alloc()
	if slot == nil {
		c.uaMu.Unlock()
		return InvalidCallID, invite.NewError(invite.ErrResourceExhausted, "too many calls")
	}
	slot.AccID = accID
	slot.UserData = userData
	idx := slot.Index
	c.uaMu.Unlock()

	secure := secureLevelForURI(destURI, acc.RouteIsTLS)
	media := c.mediaFactory()

	if err := media.InitUAC(secure); err != nil {
		c.table.Release(idx)
		return InvalidCallID, invite.WrapError(invite.ErrMediaFailure, "init media channel", err)
	}

	offer, err := CreateInitialOffer(media)
	if err != nil {
		c.table.Release(idx)
		return InvalidCallID, err
	}

	sess, err := c.transport.SendInitialInvite(acc, destURI, secure, offer, extraHeaders)
	if err != nil {
		c.table.Release(idx)
		return InvalidCallID, err
	}

	slot.SecureLevel = secure
	slot.Media = media
	slot.Attach(sess)
	slot.StartTime = time.Now()

	sess.SetUserData(idx)
	c.module.Attach(sess)
	c.metrics.CallsActive.Inc()
	c.metrics.CallsTotal.Inc()

	return idx, nil
}

func secureLevelForURI(uri string, accountRouteIsTLS bool) SecureLevel {
	if len(uri) >= 5 && uri[:5] == "sips:" {
		return SecureEndToEnd
	}
	if containsTransportTLS(uri) || accountRouteIsTLS {
		return SecureHop
	}
	return SecureNone
}

func containsTransportTLS(uri string) bool {
	const needle = ";transport=tls"
	for i := 0; i+len(needle) <= len(uri); i++ {
		if equalFoldASCII(uri[i:i+len(needle)], needle) {
			return true
		}
	}
	return false
}

func equalFoldASCII(a, b string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		ca, cb := a[i], b[i]
		if 'A' <= ca && ca <= 'Z' {
			ca += 'a' - 'A'
		}
		if 'A' <= cb && cb <= 'Z' {
			cb += 'a' - 'A'
		}
		if ca != cb {
			return false
		}
	}
	return true
}

// OnStateChanged is the state-changed callback body: a DialogTransport
// implementation wires invite.Callbacks.OnStateChanged to call this, with
// the slot index carried as the session's user data.
func (c *Coordinator) OnStateChanged(sess *invite.Session, old, new invite.SessionState) {
	idx, ok := sess.UserData().(int)
	if !ok {
		return
	}
	slot, unlock, err := c.acquireCall(idx)
	if err != nil {
		return
	}
	defer unlock()

	now := time.Now()
	code, text := sess.LastStatus()
	switch new {
	case invite.StateEarly, invite.StateConnecting:
		if slot.ResTime.IsZero() {
			slot.ResTime = now
		}
		if code != 0 {
			slot.LastCode, slot.LastText = code, text
		}
	case invite.StateConfirmed:
		slot.ConnTime = now
		if code != 0 {
			slot.LastCode, slot.LastText = code, text
		}
		if slot.XferSub != nil && !slot.XferSub.Terminated() {
			slot.XferSub.OnNotify(200)
		}
	case invite.StateDisconnected:
		slot.DisTime = now
		slot.LastCode, slot.LastText = disconnectLastCode(slot.LastCode, slot.LastText, code, text)
		if media, ok := slot.Media.(MediaEngine); ok && media != nil {
			media.Deinit()
		}
		c.callMetrics.observeCallDuration(slot.ConnTime, slot.DisTime)
		if slot.LocalHold {
			c.callMetrics.HoldActive.Dec()
		}
		c.module.Detach(sess)
		c.table.Release(idx)
		c.metrics.CallsActive.Dec()
	}
}

// disconnectLastCode implements §4.G's DISCONNECTED disposition: last_code
// becomes the max of the existing value and the event's transaction status
// code, defaulting to 487 Request Terminated if neither is set.
func disconnectLastCode(existingCode int, existingText string, eventCode int, eventText string) (int, string) {
	code, text := existingCode, existingText
	if eventCode > code {
		code, text = eventCode, eventText
	}
	if code == 0 {
		code, text = 487, "Request Terminated"
	}
	return code, text
}

// Hangup ends a call.
func (c *Coordinator) Hangup(idx, code int, reason string) error {
	slot, unlock, err := c.acquireCall(idx)
	if err != nil {
		return err
	}
	defer unlock()

	sess := slot.Inv
	if code == 0 {
		switch {
		case sess.State() == invite.StateConfirmed:
			code, reason = 200, "OK"
		case sess.Role() == invite.RoleUAS:
			code, reason = 603, "Decline"
		default:
			code, reason = 487, "Request Terminated"
		}
	}
	c.transport.EndSession(sess, code, reason)
	return nil
}

// HangupAll ends every active call (CLI surface: hangup_all).
func (c *Coordinator) HangupAll(code int, reason string) {
	c.uaMu.Lock()
	var active []int
	c.table.Enumerate(func(s *CallSlot) { active = append(active, s.Index) })
	c.uaMu.Unlock()
	for _, idx := range active {
		_ = c.Hangup(idx, code, reason)
	}
}

// SetHold puts a call on hold by re-INVITing with hold SDP.
func (c *Coordinator) SetHold(idx int) error {
	slot, unlock, err := c.acquireCall(idx)
	if err != nil {
		return err
	}
	defer unlock()
	if !slot.LocalHold {
		c.callMetrics.HoldActive.Inc()
	}
	slot.LocalHold = true
	return c.renegotiateLocked(slot)
}

// Reinvite un-holds a call via re-INVITE when unhold is true; otherwise it
// simply refreshes the current offer.
func (c *Coordinator) Reinvite(idx int, unhold bool) error {
	slot, unlock, err := c.acquireCall(idx)
	if err != nil {
		return err
	}
	defer unlock()
	if unhold && slot.LocalHold {
		c.callMetrics.HoldActive.Dec()
	}
	if unhold {
		slot.LocalHold = false
		slot.MediaDir = MediaDirSendRecv
	}
	return c.renegotiateLocked(slot)
}

// Update sends an UPDATE request for mid-call renegotiation that should not
// disturb an early dialog.
func (c *Coordinator) Update(idx int) error {
	slot, unlock, err := c.acquireCall(idx)
	if err != nil {
		return err
	}
	defer unlock()
	media, offer, err := c.buildRenegotiationOffer(slot)
	if err != nil {
		return err
	}
	_ = media
	return c.transport.Update(slot.Inv, offer)
}

func (c *Coordinator) renegotiateLocked(slot *CallSlot) error {
	_, offer, err := c.buildRenegotiationOffer(slot)
	if err != nil {
		return err
	}
	return c.transport.Reinvite(slot.Inv, offer)
}

func (c *Coordinator) buildRenegotiationOffer(slot *CallSlot) (MediaEngine, *sdp.SessionDescription, error) {
	media, ok := slot.Media.(MediaEngine)
	if !ok || media == nil {
		return nil, nil, invite.NewError(invite.ErrMediaFailure, "no media channel attached")
	}
	offer, err := OnCreateOffer(slot, media, 0)
	if err != nil {
		return nil, nil, err
	}
	return media, offer, nil
}

// EndSession implements SessionEnder (offeranswer.go), letting media-negotiation
// failures end the session through the same transport path as Hangup.
func (c *Coordinator) EndSession(sess *invite.Session, code int, reason string) {
	c.transport.EndSession(sess, code, reason)
}
