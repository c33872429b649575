package rel100

import (
	"testing"

	"github.com/arzzra/sipcallcore/pkg/invite"
	"github.com/emiago/sipgo/sip"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newResp(code int, reason string, cseq uint32, body []byte) *sip.Response {
	r := sip.NewResponse(code, reason)
	r.AppendHeader(&sip.CSeq{SeqNo: cseq, MethodName: sip.INVITE})
	if body != nil {
	r.SetBody(body)
	}
	return r
}

func newPRACK(rseq, cseq uint32, method string) *sip.Request {
	uri := sip.Uri{User: "b", Host: "x"}
	req := sip.NewRequest(sip.PRACK, uri)
	invite.SetRAck(req, rseq, cseq, method)
	return req
}

// fakeUASTransport records everything handed to it instead of touching a
// real transaction.
type fakeUASTransport struct {
	direct []*sip.Response
	provisionals []*sip.Response
	finals []*sip.Response
	prackReplies int
	endedCode int
	endedReason string
}

func (f *fakeUASTransport) SendDirect(resp *sip.Response) error {
	f.direct = append(f.direct, resp)
	return nil
}

func (f *fakeUASTransport) SendProvisional(resp *sip.Response, stateful bool) error {
	f.provisionals = append(f.provisionals, resp)
	return nil
}

func (f *fakeUASTransport) SendFinal(resp *sip.Response) error {
	f.finals = append(f.finals, resp)
	return nil
}

func (f *fakeUASTransport) ReplyToPRACK(serverTx sip.ServerTransaction) error {
	f.prackReplies++
	return nil
}

func (f *fakeUASTransport) EndSession(code int, reason string) {
	f.endedCode = code
	f.endedReason = reason
}

func TestUASHappyPathTwoProvisionalsThenFinal(t *testing.T) {
	tr := &fakeUASTransport{}
	st := newUASState(tr, invite.NewNoopLogger(), nil)

	require.NoError(t, st.SendResponse(newResp(180, "Ringing", 1, nil)))
	rseq1 := st.queue.peekFront().rseq

	require.NoError(t, st.SendResponse(newResp(183, "Session Progress", 1, []byte("v=0"))))
	assert.Equal(t, 2, st.queue.size())

	prack1 := newPRACK(rseq1, 1, "INVITE")
	require.NoError(t, st.OnPRACK(nil, prack1))
	assert.Equal(t, 1, st.queue.size())

	rseq2 := st.queue.peekFront().rseq
	prack2 := newPRACK(rseq2, 1, "INVITE")
	require.NoError(t, st.OnPRACK(nil, prack2))
	assert.True(t, st.queue.empty())
	assert.False(t, st.timer.isArmed())

	require.NoError(t, st.SendResponse(newResp(200, "OK", 1, nil)))
	assert.Len(t, tr.finals, 1)
	assert.Equal(t, 2, tr.prackReplies)
}

func TestUAS2xxGatedBySDP(t *testing.T) {
	tr := &fakeUASTransport{}
	st := newUASState(tr, invite.NewNoopLogger(), nil)

	require.NoError(t, st.SendResponse(newResp(183, "Session Progress", 1, []byte("v=0"))))
	rseq := st.queue.peekFront().rseq

	require.NoError(t, st.SendResponse(newResp(200, "OK", 1, nil)))
	assert.Empty(t, tr.finals, "200 must be queued, not sent, while SDP provisional is outstanding")
	assert.Equal(t, 2, st.queue.size())

	prack := newPRACK(rseq, 1, "INVITE")
	require.NoError(t, st.OnPRACK(nil, prack))

	assert.Len(t, tr.finals, 1)
	assert.Equal(t, 200, tr.finals[0].StatusCode)
}

func TestUASRetransmitExhaustionEndsSessionWith500(t *testing.T) {
	tr := &fakeUASTransport{}
	st := newUASState(tr, invite.NewNoopLogger(), nil)

	require.NoError(t, st.SendResponse(newResp(180, "Ringing", 1, nil)))
	for i := 0; i < 6; i++ {
	st.runCycleLocked()
	}
	assert.Equal(t, 500, tr.endedCode)
	assert.Equal(t, "Reliable response timed out", tr.endedReason)
	assert.True(t, st.queue.empty())
}

func TestUASMetricsRetransmitsAndTimeout(t *testing.T) {
	tr := &fakeUASTransport{}
	m := invite.NewNoopMetrics()
	st := newUASState(tr, invite.NewNoopLogger(), m)

	require.NoError(t, st.SendResponse(newResp(180, "Ringing", 1, nil)))
	st.runCycleLocked() // first retransmit after the initial stateful send
	assert.Equal(t, float64(1), testutil.ToFloat64(m.ReliableRetransmits))

	for i := 0; i < 5; i++ {
		st.runCycleLocked()
	}
	assert.Equal(t, float64(1), testutil.ToFloat64(m.ReliableTimeouts))
}

func TestUASMetricsPrackRoundtripObserved(t *testing.T) {
	tr := &fakeUASTransport{}
	m := invite.NewNoopMetrics()
	st := newUASState(tr, invite.NewNoopLogger(), m)

	require.NoError(t, st.SendResponse(newResp(180, "Ringing", 1, nil)))
	rseq := st.queue.peekFront().rseq
	require.NoError(t, st.OnPRACK(nil, newPRACK(rseq, 1, "INVITE")))

	assert.Equal(t, 1, testutil.CollectAndCount(m.PrackRoundtrip))
}

type fakeUACTransport struct {
	built *sip.Request
	sent []*sip.Request
	terminated bool
}

func (f *fakeUACTransport) BuildPRACK() (*sip.Request, error) {
	uri := sip.Uri{User: "a", Host: "y"}
	f.built = sip.NewRequest(sip.PRACK, uri)
	return f.built, nil
}

func (f *fakeUACTransport) SendPRACK(req *sip.Request) error {
	f.sent = append(f.sent, req)
	return nil
}

func (f *fakeUACTransport) TerminateFatal(reason string) {
	f.terminated = true
}

func TestUACOutOfOrderRSeqDropsSilently(t *testing.T) {
	tr := &fakeUACTransport{}
	st := newUACState(tr, invite.NewNoopLogger())

	resp := newResp(183, "Session Progress", 1, nil)
	resp.AppendHeader(sip.NewHeader("RSeq", "3"))
	require.NoError(t, st.OnReliableProvisional(resp, "INVITE"))
	assert.Len(t, tr.sent, 1)
	assert.Equal(t, uint32(3), st.rseq)

	resp2 := newResp(183, "Session Progress", 1, nil)
	resp2.AppendHeader(sip.NewHeader("RSeq", "5"))
	require.NoError(t, st.OnReliableProvisional(resp2, "INVITE"))
	assert.Len(t, tr.sent, 1, "out-of-order RSeq must not generate a PRACK")
	assert.Equal(t, uint32(3), st.rseq, "state must be unchanged on drop")
}

func TestUACDuplicateRSeqDropsSilently(t *testing.T) {
	tr := &fakeUACTransport{}
	st := newUACState(tr, invite.NewNoopLogger())

	resp := newResp(183, "Session Progress", 1, nil)
	resp.AppendHeader(sip.NewHeader("RSeq", "3"))
	require.NoError(t, st.OnReliableProvisional(resp, "INVITE"))

	dup := newResp(183, "Session Progress", 1, nil)
	dup.AppendHeader(sip.NewHeader("RSeq", "2"))
	require.NoError(t, st.OnReliableProvisional(dup, "INVITE"))
	assert.Len(t, tr.sent, 1, "duplicate/lesser RSeq must not generate a PRACK")
}

func TestUACPRACKCompletedFatalTerminatesSession(t *testing.T) {
	tr := &fakeUACTransport{}
	st := newUACState(tr, invite.NewNoopLogger())
	st.OnPRACKCompleted(481, nil)
	assert.True(t, tr.terminated)
}

func TestUACPRACKCompletedSuccessDoesNotTerminate(t *testing.T) {
	tr := &fakeUACTransport{}
	st := newUACState(tr, invite.NewNoopLogger())
	st.OnPRACKCompleted(200, nil)
	assert.False(t, tr.terminated)
}
