package invite

import (
	"context"
	"sync"

	"github.com/looplab/fsm"
)

// Transfer-subscription states (RFC 3515/6665 NOTIFY progress reporting).
const (
	ReferPending    = "pending"
	ReferTrying     = "trying"
	ReferProceeding = "proceeding"
	ReferCompleted  = "completed"
	ReferFailed     = "failed"
	ReferTerminated = "terminated"
)

func newReferFSM() *fsm.FSM {
	return fsm.NewFSM(ReferPending, fsm.Events{
		{Name: "notify_100", Src: []string{ReferPending}, Dst: ReferTrying},
		{Name: "notify_1xx", Src: []string{ReferPending, ReferTrying}, Dst: ReferProceeding},
		{Name: "notify_success", Src: []string{ReferPending, ReferTrying, ReferProceeding}, Dst: ReferCompleted},
		{Name: "notify_failure", Src: []string{ReferPending, ReferTrying, ReferProceeding}, Dst: ReferFailed},
		{Name: "terminate", Src: []string{ReferPending, ReferTrying, ReferProceeding, ReferCompleted, ReferFailed}, Dst: ReferTerminated},
	}, nil)
}

// ReferSubscription tracks the NOTIFY progress of one transfer, on either
// side: the transferor watching its own REFER (client) or the transferee
// reporting progress of the call it placed on the transfer target's behalf
// (server).
type ReferSubscription struct {
	ID string

	mu         sync.Mutex
	fsm        *fsm.FSM
	suppressed bool
	finalCode  int
	done       chan struct{}

	// UserData lets pkg/callcore attach the call slot driving this
	// subscription's progress NOTIFYs.
	UserData interface{}
}

func NewReferSubscription(id string) *ReferSubscription {
	return &ReferSubscription{
		ID:   id,
		fsm:  newReferFSM(),
		done: make(chan struct{}),
	}
}

// OnNotify advances subscription state from a NOTIFY's sipfrag status code.
func (r *ReferSubscription) OnNotify(code int) (isFinal bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	switch {
	case code == 100:
		_ = r.fsm.Event(context.Background(), "notify_100")
		return false
	case code >= 101 && code < 200:
		_ = r.fsm.Event(context.Background(), "notify_1xx")
		return false
	case code >= 200 && code < 300:
		r.finalCode = code
		_ = r.fsm.Event(context.Background(), "notify_success")
		r.closeOnce()
		return true
	default:
		r.finalCode = code
		_ = r.fsm.Event(context.Background(), "notify_failure")
		r.closeOnce()
		return true
	}
}

func (r *ReferSubscription) closeOnce() {
	select {
	case <-r.done:
	default:
		close(r.done)
	}
}

// Terminate ends the subscription; no further callbacks will be honored by
// a caller that checks Terminated first.
func (r *ReferSubscription) Terminate() {
	r.mu.Lock()
	defer r.mu.Unlock()
	_ = r.fsm.Event(context.Background(), "terminate")
	r.closeOnce()
}

func (r *ReferSubscription) Terminated() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.fsm.Current() == ReferTerminated
}

func (r *ReferSubscription) State() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.fsm.Current()
}

func (r *ReferSubscription) SetSuppressed(v bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.suppressed = v
}

func (r *ReferSubscription) Suppressed() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.suppressed
}

// Done is closed once a final NOTIFY (or Terminate) has been processed.
func (r *ReferSubscription) Done() <-chan struct{} { return r.done }

func (r *ReferSubscription) FinalCode() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.finalCode
}
