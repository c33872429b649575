package callcore

import (
	"testing"

	"github.com/arzzra/sipcallcore/pkg/invite"
	"github.com/emiago/sipgo/sip"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEnumCallsIsActiveHasMedia(t *testing.T) {
	transport := &fakeDialogTransport{}
	c := newTestCoordinator(t, transport)

	idx, err := c.MakeCall("acc1", "sip:bob@example.com", nil, nil)
	require.NoError(t, err)

	assert.Equal(t, []int{idx}, c.EnumCalls())
	assert.True(t, c.IsActive(idx))
	assert.True(t, c.HasMedia(idx))
	assert.False(t, c.IsActive(idx+1))
}

func TestUserDataRoundTrip(t *testing.T) {
	transport := &fakeDialogTransport{}
	c := newTestCoordinator(t, transport)

	idx, err := c.MakeCall("acc1", "sip:bob@example.com", nil, "initial")
	require.NoError(t, err)

	v, err := c.GetUserData(idx)
	require.NoError(t, err)
	assert.Equal(t, "initial", v)

	require.NoError(t, c.SetUserData(idx, "updated"))
	v, err = c.GetUserData(idx)
	require.NoError(t, err)
	assert.Equal(t, "updated", v)
}

func TestAnswerSendsFinalResponseThroughTransport(t *testing.T) {
	transport := &fakeDialogTransport{}
	c := newTestCoordinator(t, transport)

	idx, err := c.MakeCall("acc1", "sip:bob@example.com", nil, nil)
	require.NoError(t, err)

	require.NoError(t, c.Answer(idx, 200, "OK"))
	assert.Equal(t, 200, transport.answerCode)
	assert.Equal(t, "OK", transport.answerReason)
}

func TestAnswerRejectsProvisionalCode(t *testing.T) {
	transport := &fakeDialogTransport{}
	c := newTestCoordinator(t, transport)

	idx, err := c.MakeCall("acc1", "sip:bob@example.com", nil, nil)
	require.NoError(t, err)

	err = c.Answer(idx, 180, "Ringing")
	require.Error(t, err)
	assert.ErrorIs(t, err, invite.Sentinel(invite.ErrInvalidArgument))
}

func TestOnStateChangedLatchesLastCodeOnEarly(t *testing.T) {
	transport := &fakeDialogTransport{}
	c := newTestCoordinator(t, transport)

	idx, err := c.MakeCall("acc1", "sip:bob@example.com", nil, nil)
	require.NoError(t, err)

	slot := c.table.Get(idx)
	sess := slot.Inv
	sess.FireTsxEvent(invite.TsxEvent{
		Type:     invite.EventRxResponse,
		Response: sip.NewResponse(180, "Ringing"),
	})

	c.OnStateChanged(sess, invite.StateCalling, invite.StateEarly)
	info, err := c.GetInfo(idx)
	require.NoError(t, err)
	assert.Equal(t, 180, info.LastCode)
	assert.Equal(t, "Ringing", info.LastText)
}

func TestDisconnectLastCodePrefersHigherObservedCode(t *testing.T) {
	// Nothing latched yet, disconnect event carries no status: defaults to
	// 487 Request Terminated (never-answered call).
	code, text := disconnectLastCode(0, "", 0, "")
	assert.Equal(t, 487, code)
	assert.Equal(t, "Request Terminated", text)

	// A 404 already latched from an earlier response beats a lower
	// disconnect-event code.
	code, text = disconnectLastCode(404, "Not Found", 200, "OK")
	assert.Equal(t, 404, code)
	assert.Equal(t, "Not Found", text)

	// A higher disconnect-event code supersedes what was latched earlier.
	code, text = disconnectLastCode(180, "Ringing", 486, "Busy Here")
	assert.Equal(t, 486, code)
	assert.Equal(t, "Busy Here", text)
}
