package callcore

import (
	"math/rand/v2"
	"sync"
	"time"

	"github.com/arzzra/sipcallcore/pkg/invite"
	"github.com/google/uuid"
	"github.com/pion/rtp"
)

// CallSlot is one element of the fixed-size call table. A slot is free iff
// Inv == nil. dialogMu is the per-dialog lock: every application-initiated
// operation on a call holds it for the operation's duration, acquired via
// Coordinator.acquireCall.
type CallSlot struct {
	dialogMu sync.Mutex

	Index int

	Inv      *invite.Session // weak reference; nil when free
	reserved bool            // true between Alloc and Attach: counted non-free even though Inv is still nil
	AccID    string
	UserData interface{}

	SecureLevel SecureLevel

	Media       interface{} // opaque media-engine handle
	MediaStatus string
	MediaDir    MediaDir
	ConfSlot    int

	// RTPTx carries the continuity state (sequence number, timestamp, SSRC)
	// that primes the media engine's next outgoing RTP packet across a
	// re-INVITE or hold/un-hold renegotiation. Only the header fields are
	// used; Payload is always nil here.
	RTPTx         rtp.Header
	RTPTxSeqTSSet bool

	XferSub *invite.ReferSubscription

	LastCode int
	LastText string

	StartTime time.Time
	ResTime   time.Time
	ConnTime  time.Time
	DisTime   time.Time

	RemNATType int
	RemSRTPUse bool
	LocalHold  bool
}

func (s *CallSlot) free() bool { return s.Inv == nil && !s.reserved }

// TryLock attempts to acquire the slot's dialog lock without blocking.
func (s *CallSlot) TryLock() bool { return s.dialogMu.TryLock() }

// Unlock releases the slot's dialog lock.
func (s *CallSlot) Unlock() { s.dialogMu.Unlock() }

// Attach binds the newly created INVITE session to a just-allocated slot.
// It clears the allocation's reserved marker.
func (s *CallSlot) Attach(sess *invite.Session) {
	s.Inv = sess
	s.reserved = false
}

// reset restores a slot to its post-allocation defaults.
func (s *CallSlot) reset(id string) {
	s.Index = s.Index // position is stable, never reset
	s.Inv = nil
	s.reserved = true
	s.AccID = ""
	s.UserData = nil
	s.SecureLevel = SecureNone
	s.Media = nil
	s.MediaStatus = ""
	s.MediaDir = MediaDirNone
	s.ConfSlot = InvalidConfSlot
	s.RTPTx = rtp.Header{
		Version:        2,
		SSRC:           rand.Uint32(),
		SequenceNumber: uint16(rand.UintN(1 << 16)),
		Timestamp:      rand.Uint32(),
	}
	s.RTPTxSeqTSSet = false
	s.XferSub = nil
	s.LastCode = 0
	s.LastText = ""
	s.StartTime = time.Time{}
	s.ResTime = time.Time{}
	s.ConnTime = time.Time{}
	s.DisTime = time.Time{}
	s.RemNATType = 0
	s.RemSRTPUse = false
	s.LocalHold = false
	_ = id // id is neither stored on the slot nor read by any caller
}

// CallTable is the fixed-size, round-robin-allocated array of call slots.
// All mutation happens under the caller's UA lock; CallTable itself holds
// no lock.
type CallTable struct {
	slots      []CallSlot
	callCnt    int
	nextCallID int
}

// NewCallTable allocates a table of maxCalls slots, all free.
func NewCallTable(maxCalls int) *CallTable {
	t := &CallTable{slots: make([]CallSlot, maxCalls)}
	for i := range t.slots {
		t.slots[i].Index = i
		t.slots[i].ConfSlot = InvalidConfSlot
	}
	return t
}

// MaxCalls returns the table's fixed capacity.
func (t *CallTable) MaxCalls() int { return len(t.slots) }

// Count returns the number of non-free slots.
func (t *CallTable) Count() int { return t.callCnt }

// Alloc scans forward from next_call_id, wrapping once, and returns the
// first free slot, advancing next_call_id past it. Returns nil when the
// table is full.
func (t *CallTable) Alloc() *CallSlot {
	n := len(t.slots)
	if n == 0 {
		return nil
	}
	start := t.nextCallID % n
	for i := 0; i < n; i++ {
		idx := (start + i) % n
		if t.slots[idx].free() {
			t.nextCallID = (idx + 1) % n
			t.slots[idx].reset(uuid.NewString())
			t.callCnt++
			return &t.slots[idx]
		}
	}
	return nil
}

// Release frees the slot at index idx, called on INVITE-session
// DISCONNECTED from the state-changed callback.
func (t *CallTable) Release(idx int) {
	if idx < 0 || idx >= len(t.slots) {
		return
	}
	if t.slots[idx].free() {
		return
	}
	t.slots[idx].reset("")
	t.slots[idx].reserved = false
	t.callCnt--
}

// Get returns the slot at idx, or nil if out of range.
func (t *CallTable) Get(idx int) *CallSlot {
	if idx < 0 || idx >= len(t.slots) {
		return nil
	}
	return &t.slots[idx]
}

// Enumerate calls fn for every non-free slot.
func (t *CallTable) Enumerate(fn func(*CallSlot)) {
	for i := range t.slots {
		if !t.slots[i].free() {
			fn(&t.slots[i])
		}
	}
}
