package rel100

import (
	"context"
	"sync"
	"time"

	"github.com/arzzra/sipcallcore/pkg/invite"
	"github.com/emiago/sipgo/sip"
)

// UASTransport is the external dialog/transaction collaborator the UAS
// state machine drives to place responses on the wire and to end the
// INVITE session on retransmission exhaustion.
type UASTransport interface {
	// SendDirect transmits a response with no 100rel bookkeeping at all; it
	// is used only for 100 Trying. Final responses always go through
	// SendFinal.
	SendDirect(resp *sip.Response) error
	// SendProvisional transmits a reliable provisional. stateful is true
	// only for an entry's first transmission; retransmissions pass false so
	// the transaction layer does not re-run its own state machinery.
	SendProvisional(resp *sip.Response, stateful bool) error
	// SendFinal transmits a final response (2xx-6xx) once any queue gating
	// has been satisfied.
	SendFinal(resp *sip.Response) error
	// ReplyToPRACK answers the PRACK server transaction with 200 OK.
	ReplyToPRACK(serverTx sip.ServerTransaction) error
	// EndSession terminates the INVITE session with the given SIP status
	// and reason, used when a reliable provisional goes unacknowledged for
	// roughly 64*T1.
	EndSession(code int, reason string)
}

// uasState is the per-dialog UAS 100rel state machine. It is created lazily
// by the module dispatcher on the first reliable-provisional-interesting
// event on a dialog.
type uasState struct {
	mu sync.Mutex

	transport UASTransport
	logger    invite.Logger
	metrics   *invite.Metrics

	started bool // true once the first reliable provisional has been processed
	cseq    uint32
	rseq    uint32
	hasSDP  bool

	queue           txQueue
	retransmitCount int
	timer           *retransmitTimer
}

func newUASState(transport UASTransport, logger invite.Logger, metrics *invite.Metrics) *uasState {
	s := &uasState{transport: transport, logger: logger, metrics: metrics}
	s.timer = newRetransmitTimer(s.onRetransmitFire)
	return s
}

func responseCSeq(resp *sip.Response) uint32 {
	if cs, ok := resp.CSeq(); ok {
		return cs.SeqNo
	}
	return 0
}

// SendResponse is the entry point invoked by the call coordinator whenever
// it transmits a response on the INVITE transaction.
func (s *uasState) SendResponse(resp *sip.Response) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	status := int(resp.StatusCode)

	if status == 100 {
		return s.transport.SendDirect(resp)
	}

	snap := newResponseSnapshot(resp)

	switch {
	case status >= 200 && status < 300:
		return s.sendFinalLocked(snap)
	case status >= 300:
		s.timer.disarm()
		s.queue.drain()
		return s.transport.SendFinal(snap.resp)
	default: // 101-199, non-100
		return s.sendProvisionalLocked(snap)
	}
}

func (s *uasState) sendFinalLocked(snap *responseSnapshot) error {
	switch {
	case s.started && s.hasSDP && !s.queue.empty():
		// Queued behind outstanding reliable provisionals bearing SDP;
		// released only once they are all PRACK-acknowledged.
		s.queue.pushBack(&txEntry{rseq: RseqFinal, response: snap})
		return nil
	case s.started:
		s.timer.disarm()
		s.queue.drain()
		return s.transport.SendFinal(snap.resp)
	default:
		return s.transport.SendFinal(snap.resp)
	}
}

func (s *uasState) sendProvisionalLocked(snap *responseSnapshot) error {
	cseq := responseCSeq(snap.resp)
	if !s.started {
		s.cseq = cseq
		s.rseq = randomRseq()
		s.started = true
	} else if cseq != s.cseq {
		return invite.NewError(invite.ErrProtocolViolation, "rel100: CSeq of reliable provisional does not match uas_state")
	}

	assigned := s.rseq
	s.rseq++

	invite.AddRequire100rel(snap.resp)
	invite.SetRSeq(snap.resp, assigned)

	s.queue.pushBack(&txEntry{rseq: assigned, response: snap})

	if s.queue.size() == 1 {
		s.retransmitCount = 0
		s.runCycleLocked()
	}

	s.hasSDP = s.hasSDP || snap.hasBody
	return nil
}

// runCycleLocked performs one step of the retransmission cycle: invoked on
// initial send and on every timer fire.
func (s *uasState) runCycleLocked() {
	s.retransmitCount++

	if s.retransmitCount >= 7 {
		s.timer.disarm()
		s.queue.drain()
		if s.metrics != nil {
			s.metrics.ReliableTimeouts.Inc()
		}
		s.transport.EndSession(500, "Reliable response timed out")
		return
	}

	head := s.queue.peekFront()
	if head == nil {
		return
	}

	stateful := s.retransmitCount == 1
	if head.isFinal() {
		_ = s.transport.SendFinal(head.response.resp)
		s.queue.drain()
		s.timer.disarm()
		return
	}

	if stateful {
		head.sentAt = time.Now()
	} else if s.metrics != nil {
		s.metrics.ReliableRetransmits.Inc()
	}

	if err := s.transport.SendProvisional(head.response.resp, stateful); err != nil {
		s.logger.Warn(context.Background(), "rel100: failed to transmit reliable provisional", invite.F("error", err))
	}

	s.timer.arm(s.retransmitCount)
}

func (s *uasState) onRetransmitFire(_ int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.runCycleLocked()
}

// OnPRACK handles an inbound PRACK request matched to this dialog.
func (s *uasState) OnPRACK(serverTx sip.ServerTransaction, req *sip.Request) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.started || s.queue.empty() {
		return s.transport.ReplyToPRACK(serverTx)
	}

	rackHeader := req.GetHeader("RAck")
	if rackHeader == nil {
		s.logger.Warn(context.Background(), "rel100: PRACK missing RAck header")
		return s.transport.ReplyToPRACK(serverTx)
	}

	rseq, cseq, _, err := invite.ParseRAck(rackHeader.Value())
	if err != nil {
		s.logger.Warn(context.Background(), "rel100: malformed RAck", invite.F("error", err))
		return s.transport.ReplyToPRACK(serverTx)
	}

	head := s.queue.peekFront()
	if head != nil && rseq == head.rseq && cseq == s.cseq {
		s.timer.disarm()
		if s.metrics != nil && !head.sentAt.IsZero() {
			s.metrics.PrackRoundtrip.Observe(time.Since(head.sentAt).Seconds())
		}
		s.queue.popFront()
		s.retransmitCount = 0
		if !s.queue.empty() {
			s.runCycleLocked()
		}
	} else {
		s.logger.Debug(context.Background(), "rel100: PRACK did not match queue head", invite.F("rack_rseq", rseq), invite.F("rack_cseq", cseq))
	}

	return s.transport.ReplyToPRACK(serverTx)
}

// AssertClearOnTerminate checks that, at INVITE transaction termination as
// UAS, the queue is empty and the timer disarmed.
func (s *uasState) AssertClearOnTerminate() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.queue.empty() && !s.timer.isArmed()
}
