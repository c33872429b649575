package rel100

import (
	"context"
	"sync"

	"github.com/arzzra/sipcallcore/pkg/invite"
	"github.com/emiago/sipgo/sip"
)

// UACTransport is the external dialog/transaction collaborator the UAC
// 100rel state machine drives to build and send PRACK requests and to
// terminate the dialog on a fatal PRACK-transaction outcome.
type UACTransport interface {
	// BuildPRACK constructs an in-dialog PRACK request for the INVITE
	// dialog; the RAck header is added by the caller.
	BuildPRACK() (*sip.Request, error)
	// SendPRACK sends a built, RAck-populated PRACK request.
	SendPRACK(req *sip.Request) error
	// TerminateFatal ends the session/dialog on a fatal PRACK outcome: a
	// COMPLETED PRACK transaction with status 481/408/timeout/transport
	// error. The exact CANCEL-vs-BYE mechanics and fallback code are left
	// to the implementation to decide.
	TerminateFatal(reason string)
}

// uacState is the per-dialog UAC 100rel state machine. It exists only after
// the first reliable 1xx is received.
type uacState struct {
	mu sync.Mutex

	transport UACTransport
	logger    invite.Logger

	started bool
	cseq    uint32
	rseq    uint32
}

func newUACState(transport UACTransport, logger invite.Logger) *uacState {
	return &uacState{transport: transport, logger: logger}
}

// OnReliableProvisional handles a 1xx response whose Require lists 100rel.
// method is the INVITE method token echoed in RAck.
func (s *uacState) OnReliableProvisional(resp *sip.Response, method string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	rseq, ok := invite.GetRSeq(resp)
	if !ok {
		return nil // absent RSeq: ignore
	}

	cseq := responseCSeq(resp)

	if !s.started || cseq != s.cseq {
		// New INVITE transaction on the same dialog (e.g. re-INVITE), or
		// first reliable provisional ever seen: (re)initialize.
		s.started = true
		s.cseq = cseq
		s.rseq = rseq - 1
	}

	if rseq <= s.rseq {
		return nil // duplicate
	}
	if rseq != s.rseq+1 {
		s.logger.Debug(context.Background(), "rel100: out-of-order RSeq, dropping",
			invite.F("expected", s.rseq+1), invite.F("got", rseq))
		return nil
	}

	s.rseq = rseq

	req, err := s.transport.BuildPRACK()
	if err != nil {
		return err
	}
	invite.SetRAck(req, rseq, cseq, method)
	return s.transport.SendPRACK(req)
}

// OnPRACKCompleted handles the terminal outcome of the PRACK transaction.
func (s *uacState) OnPRACKCompleted(status int, transportErr error) {
	if transportErr != nil || status == 481 || status == 408 {
		s.transport.TerminateFatal("rel100: fatal PRACK transaction outcome")
	}
}
