package invite

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSessionUACHappyPath(t *testing.T) {
	var transitions []string
	cb := Callbacks{
		OnStateChanged: func(sess *Session, old, new SessionState) {
			transitions = append(transitions, old.String()+"->"+new.String())
		},
	}
	s := NewSession(RoleUAC, "call-1", "local-tag", "", 1, WithCallbacks(cb))
	assert.Equal(t, StateNull, s.State())

	require.NoError(t, s.Transition("uac_invite_sent"))
	assert.Equal(t, StateCalling, s.State())

	require.NoError(t, s.Transition("rx_1xx"))
	assert.Equal(t, StateEarly, s.State())

	require.NoError(t, s.Transition("rx_2xx"))
	assert.Equal(t, StateConnecting, s.State())

	require.NoError(t, s.Transition("confirmed"))
	assert.Equal(t, StateConfirmed, s.State())

	require.NoError(t, s.Transition("terminate"))
	assert.Equal(t, StateDisconnected, s.State())

	assert.Equal(t, []string{
		"NULL->CALLING", "CALLING->EARLY", "EARLY->CONNECTING",
		"CONNECTING->CONFIRMED", "CONFIRMED->DISCONNECTED",
	}, transitions)
}

func TestSessionUASSkipsEarly(t *testing.T) {
	s := NewSession(RoleUAS, "call-2", "local-tag", "remote-tag", 1)
	require.NoError(t, s.Transition("uas_invite_rx"))
	assert.Equal(t, StateIncoming, s.State())

	require.NoError(t, s.Transition("tx_2xx"))
	assert.Equal(t, StateConnecting, s.State())
}

func TestSessionTerminateIsTerminal(t *testing.T) {
	s := NewSession(RoleUAC, "call-3", "local-tag", "", 1)
	require.NoError(t, s.Transition("uac_invite_sent"))
	require.NoError(t, s.Transition("terminate"))
	assert.Equal(t, StateDisconnected, s.State())

	// No further transition is valid from a terminal state.
	err := s.Transition("rx_1xx")
	assert.Error(t, err)
	assert.Equal(t, StateDisconnected, s.State())
}

func TestSessionUserDataRoundTrip(t *testing.T) {
	s := NewSession(RoleUAC, "call-4", "tag", "", 1)
	assert.Nil(t, s.UserData())
	s.SetUserData(42)
	assert.Equal(t, 42, s.UserData())
}

func TestSessionTsxListenersFireInOrder(t *testing.T) {
	s := NewSession(RoleUAC, "call-5", "tag", "", 1)
	var order []int
	s.RegisterTsxListener(func(*Session, TsxEvent) { order = append(order, 1) })
	s.RegisterTsxListener(func(*Session, TsxEvent) { order = append(order, 2) })

	s.FireTsxEvent(TsxEvent{Type: EventRxResponse})
	assert.Equal(t, []int{1, 2}, order)
}
