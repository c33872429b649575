package rel100

import (
	"sync"
	"time"

	"github.com/arzzra/sipcallcore/pkg/invite"
)

// backoffSchedule returns the retransmit interval for the given 1-based
// attempt count: attempts 1-5 double from T1, attempt 6 is capped at
// 1500ms, and attempt 7 exhausts the timer entirely (the caller is expected
// to end the session before arming again).
func backoffSchedule(attempt int) time.Duration {
	if attempt <= 5 {
		return time.Duration(1<<uint(attempt-1)) * invite.T1
	}
	return 1500 * time.Millisecond
}

// retransmitTimer is a single-shot, dialog-scoped, cancellable timer guarding
// a reliable provisional awaiting PRACK. It is idempotent: arming an
// already-armed timer is a no-op until it fires or is disarmed.
type retransmitTimer struct {
	mu    sync.Mutex
	armed bool
	count int
	timer *time.Timer
	fire  func(attempt int)
}

func newRetransmitTimer(fire func(attempt int)) *retransmitTimer {
	return &retransmitTimer{fire: fire}
}

// arm starts (or restarts) the timer for the next attempt. attempt is
// 1-based and determines the backoff interval.
func (t *retransmitTimer) arm(attempt int) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.armed {
		return
	}
	t.armed = true
	t.count = attempt
	d := backoffSchedule(attempt)
	t.timer = time.AfterFunc(d, func() {
		t.mu.Lock()
		if !t.armed {
			t.mu.Unlock()
			return
		}
		t.armed = false
		attempt := t.count
		t.mu.Unlock()
		t.fire(attempt)
	})
}

// disarm cancels a pending timer. Safe to call whether or not the timer is
// armed.
func (t *retransmitTimer) disarm() {
	t.mu.Lock()
	defer t.mu.Unlock()
	if !t.armed {
		return
	}
	t.armed = false
	if t.timer != nil {
		t.timer.Stop()
	}
}

func (t *retransmitTimer) isArmed() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.armed
}
