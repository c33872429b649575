package callcore

import (
	"strings"
	"testing"

	"github.com/arzzra/sipcallcore/pkg/invite"
	"github.com/emiago/sipgo/sip"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeTransferTransport struct {
	referredTo string
	referredBy string
	sub        *invite.ReferSubscription

	notifies []string

	acceptCode int
	acceptSub  string
	rejectCode int
}

func (f *fakeTransferTransport) SendRefer(sess *invite.Session, referTo, referredBy string) (*invite.ReferSubscription, error) {
	f.referredTo = referTo
	f.referredBy = referredBy
	f.sub = invite.NewReferSubscription("xfer-1")
	return f.sub, nil
}

func (f *fakeTransferTransport) SendNotify(sub *invite.ReferSubscription, sipfragBody []byte, final bool) error {
	f.notifies = append(f.notifies, string(sipfragBody))
	return nil
}

func (f *fakeTransferTransport) AcceptRefer(req *sip.Request, code int, referSubValue string) error {
	f.acceptCode = code
	f.acceptSub = referSubValue
	return nil
}

func (f *fakeTransferTransport) RejectRefer(req *sip.Request, code int) error {
	f.rejectCode = code
	return nil
}

func TestBuildReplacesTargetURI(t *testing.T) {
	target, err := BuildReplacesTargetURI("sip:bob@example.com", "call-1", "to-tag", "from-tag", false)
	require.NoError(t, err)
	assert.Contains(t, target, "Require=replaces&")
	assert.Contains(t, target, "Replaces=call-1")

	target, err = BuildReplacesTargetURI("sip:bob@example.com", "call-1", "to-tag", "from-tag", true)
	require.NoError(t, err)
	assert.NotContains(t, target, "Require=replaces&")
}

func TestBuildReplacesTargetURITooLong(t *testing.T) {
	longURI := "sip:" + strings.Repeat("a", replacesBufferSize) + "@example.com"
	_, err := BuildReplacesTargetURI(longURI, "call-1", "to-tag", "from-tag", false)
	require.Error(t, err)
	assert.ErrorIs(t, err, invite.Sentinel(invite.ErrURITooLong))
}

func TestXferSendsReferAndStoresSubscription(t *testing.T) {
	transport := &fakeDialogTransport{}
	c := newTestCoordinator(t, transport)
	idx, err := c.MakeCall("acc1", "sip:bob@example.com", nil, nil)
	require.NoError(t, err)

	xfer := &fakeTransferTransport{}
	err = c.Xfer(idx, xfer, "sip:carol@example.com", "sip:alice@example.com")
	require.NoError(t, err)
	assert.Equal(t, "sip:carol@example.com", xfer.referredTo)

	slot := c.table.Get(idx)
	assert.Same(t, xfer.sub, slot.XferSub)
}

func TestXferReplacesBuildsTargetFromReplacedDialog(t *testing.T) {
	transport := &fakeDialogTransport{}
	c := newTestCoordinator(t, transport)

	idx, err := c.MakeCall("acc1", "sip:bob@example.com", nil, nil)
	require.NoError(t, err)
	replacedIdx, err := c.MakeCall("acc1", "sip:carol@example.com", nil, nil)
	require.NoError(t, err)

	xfer := &fakeTransferTransport{}
	err = c.XferReplaces(idx, replacedIdx, "sip:carol@example.com", xfer, false, "sip:alice@example.com")
	require.NoError(t, err)
	assert.Contains(t, xfer.referredTo, "Replaces=")
}

func TestOnSubscriptionAcceptedSuppressedEndsImmediately(t *testing.T) {
	sub := invite.NewReferSubscription("sub-1")
	var gotCode int
	var gotLast bool
	OnSubscriptionAccepted(sub, "false", func(s *invite.ReferSubscription, code int, reason string, isLast bool) bool {
		gotCode = code
		gotLast = isLast
		return true
	})
	assert.Equal(t, 200, gotCode)
	assert.True(t, gotLast)
	assert.True(t, sub.Suppressed())
	assert.True(t, sub.Terminated())
}

func TestOnSubscriptionAcceptedProvisional(t *testing.T) {
	sub := invite.NewReferSubscription("sub-2")
	var gotCode int
	OnSubscriptionAccepted(sub, "true", func(s *invite.ReferSubscription, code int, reason string, isLast bool) bool {
		gotCode = code
		return true
	})
	assert.Equal(t, 100, gotCode)
	assert.False(t, sub.Terminated())
}

func TestOnReferNotifyIgnoresNonSipfrag(t *testing.T) {
	sub := invite.NewReferSubscription("sub-3")
	called := false
	OnReferNotify(sub, "text/plain", []byte("SIP/2.0 200 OK"), false, func(*invite.ReferSubscription, int, string, bool) bool {
		called = true
		return true
	}, invite.NewNoopLogger())
	assert.False(t, called)
}

func TestOnReferNotifyParsesFinalStatus(t *testing.T) {
	sub := invite.NewReferSubscription("sub-4")
	var gotCode int
	var gotFinal bool
	OnReferNotify(sub, invite.SipfragContentType, []byte("SIP/2.0 200 OK"), false, func(s *invite.ReferSubscription, code int, reason string, isLast bool) bool {
		gotCode = code
		gotFinal = isLast
		return true
	}, invite.NewNoopLogger())
	assert.Equal(t, 200, gotCode)
	assert.True(t, gotFinal)
}

func TestHandleInboundReferRejectsMissingReferTo(t *testing.T) {
	transport := &fakeDialogTransport{}
	c := newTestCoordinator(t, transport)
	xfer := &fakeTransferTransport{}

	req := &sip.Request{Method: sip.REFER}
	err := c.HandleInboundRefer(req, xfer, func(*sip.Request) int { return 202 }, "acc1")
	require.NoError(t, err)
	assert.Equal(t, 400, xfer.rejectCode)
}

func TestHandleInboundReferRejectsOnUnauthorized(t *testing.T) {
	transport := &fakeDialogTransport{}
	c := newTestCoordinator(t, transport)
	xfer := &fakeTransferTransport{}

	req := &sip.Request{Method: sip.REFER}
	req.AppendHeader(sip.NewHeader("Refer-To", "sip:carol@example.com"))
	err := c.HandleInboundRefer(req, xfer, func(*sip.Request) int { return 403 }, "acc1")
	require.NoError(t, err)
	assert.Equal(t, 403, xfer.rejectCode)
}

func TestHandleInboundReferAcceptsAndPlacesCall(t *testing.T) {
	transport := &fakeDialogTransport{}
	c := newTestCoordinator(t, transport)
	xfer := &fakeTransferTransport{}

	req := &sip.Request{Method: sip.REFER}
	req.AppendHeader(sip.NewHeader("Refer-To", "sip:carol@example.com"))
	req.AppendHeader(sip.NewHeader("Referred-By", "sip:alice@example.com"))

	err := c.HandleInboundRefer(req, xfer, func(*sip.Request) int { return 202 }, "acc1")
	require.NoError(t, err)
	assert.Equal(t, 202, xfer.acceptCode)
	assert.Equal(t, "true", xfer.acceptSub)
	assert.Equal(t, 1, c.GetCount())
}

func TestHandleInboundReferSuppressedSkipsSubscription(t *testing.T) {
	transport := &fakeDialogTransport{}
	c := newTestCoordinator(t, transport)
	xfer := &fakeTransferTransport{}

	req := &sip.Request{Method: sip.REFER}
	req.AppendHeader(sip.NewHeader("Refer-To", "sip:carol@example.com"))
	req.AppendHeader(sip.NewHeader("Refer-Sub", "false"))

	err := c.HandleInboundRefer(req, xfer, func(*sip.Request) int { return 202 }, "acc1")
	require.NoError(t, err)
	assert.Equal(t, "false", xfer.acceptSub)
	assert.Equal(t, 0, c.GetCount())
}
