package callcore

import (
	"time"

	"github.com/arzzra/sipcallcore/pkg/invite"
)

// CallInfo is a snapshot of a call slot's bookkeeping fields, returned by
// GetInfo (CLI surface: get_info).
type CallInfo struct {
	CallID      int
	AccID       string
	SecureLevel SecureLevel
	MediaDir    MediaDir
	LastCode    int
	LastText    string
	StartTime   time.Time
	ResTime     time.Time
	ConnTime    time.Time
	DisTime     time.Time
	LocalHold   bool
	RemNATType  int
}

// EnumCalls returns the indices of every currently allocated call (CLI
// surface: enum_calls).
func (c *Coordinator) EnumCalls() []int {
	c.uaMu.Lock()
	defer c.uaMu.Unlock()
	var ids []int
	c.table.Enumerate(func(s *CallSlot) { ids = append(ids, s.Index) })
	return ids
}

// IsActive reports whether idx names a currently allocated call slot (CLI
// surface: is_active).
func (c *Coordinator) IsActive(idx int) bool {
	c.uaMu.Lock()
	defer c.uaMu.Unlock()
	slot := c.table.Get(idx)
	return slot != nil && !slot.free()
}

// HasMedia reports whether the call has an attached media channel (CLI
// surface: has_media).
func (c *Coordinator) HasMedia(idx int) bool {
	slot, unlock, err := c.acquireCall(idx)
	if err != nil {
		return false
	}
	defer unlock()
	media, ok := slot.Media.(MediaEngine)
	return ok && media != nil
}

// Answer sends a final answer for the call through the transport's
// SendFinalAnswer (CLI surface: answer(code, reason)). code must be >= 200.
// The session's state is not checked here, and this method builds no SDP;
// any SDP the answer carries is supplied by the transport.
func (c *Coordinator) Answer(idx, code int, reason string) error {
	if code < 200 {
		return invite.NewError(invite.ErrInvalidArgument, "answer code must be a final response")
	}
	slot, unlock, err := c.acquireCall(idx)
	if err != nil {
		return err
	}
	defer unlock()
	return c.transport.SendFinalAnswer(slot.Inv, code, reason)
}

// GetUserData returns the opaque application pointer attached to a call
// (CLI surface: get_user_data).
func (c *Coordinator) GetUserData(idx int) (interface{}, error) {
	slot, unlock, err := c.acquireCall(idx)
	if err != nil {
		return nil, err
	}
	defer unlock()
	return slot.UserData, nil
}

// SetUserData attaches an opaque application pointer to a call (CLI
// surface: set_user_data).
func (c *Coordinator) SetUserData(idx int, v interface{}) error {
	slot, unlock, err := c.acquireCall(idx)
	if err != nil {
		return err
	}
	defer unlock()
	slot.UserData = v
	return nil
}

// GetRemNatType returns the remote's advertised NAT class, extracted from
// SDP when WithNatTypeInSDP is enabled (CLI surface: get_rem_nat_type).
func (c *Coordinator) GetRemNatType(idx int) (int, error) {
	slot, unlock, err := c.acquireCall(idx)
	if err != nil {
		return 0, err
	}
	defer unlock()
	return slot.RemNATType, nil
}

// GetInfo returns a point-in-time snapshot of a call's bookkeeping state
// (CLI surface: get_info).
func (c *Coordinator) GetInfo(idx int) (CallInfo, error) {
	slot, unlock, err := c.acquireCall(idx)
	if err != nil {
		return CallInfo{}, err
	}
	defer unlock()
	return CallInfo{
		CallID:      idx,
		AccID:       slot.AccID,
		SecureLevel: slot.SecureLevel,
		MediaDir:    slot.MediaDir,
		LastCode:    slot.LastCode,
		LastText:    slot.LastText,
		StartTime:   slot.StartTime,
		ResTime:     slot.ResTime,
		ConnTime:    slot.ConnTime,
		DisTime:     slot.DisTime,
		LocalHold:   slot.LocalHold,
		RemNATType:  slot.RemNATType,
	}, nil
}
