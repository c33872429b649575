package invite

import (
	"testing"

	"github.com/emiago/sipgo/sip"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestRequest(t *testing.T) *sip.Request {
	t.Helper()
	var uri sip.Uri
	require.NoError(t, sip.ParseUri("sip:bob@example.com", &uri))
	return sip.NewRequest(sip.INVITE, uri)
}

func TestRAckRoundTrip(t *testing.T) {
	rseq, cseq, method := uint32(42), uint32(7), "INVITE"
	formatted := FormatRAck(rseq, cseq, method)
	assert.Equal(t, "42 7 INVITE", formatted)

	gotRSeq, gotCSeq, gotMethod, err := ParseRAck(formatted)
	require.NoError(t, err)
	assert.Equal(t, rseq, gotRSeq)
	assert.Equal(t, cseq, gotCSeq)
	assert.Equal(t, method, gotMethod)
}

func TestParseRAckMalformed(t *testing.T) {
	_, _, _, err := ParseRAck("not enough fields")
	assert.Error(t, err)

	_, _, _, err = ParseRAck("abc 7 INVITE")
	assert.Error(t, err)
}

func TestRequire100relLifecycle(t *testing.T) {
	req := newTestRequest(t)
	assert.False(t, HasRequire100rel(req))

	AddRequire100rel(req)
	assert.True(t, HasRequire100rel(req))

	// Adding a second, unrelated Require token must survive removal of 100rel.
	req.RemoveHeader("Require")
	req.AppendHeader(sip.NewHeader("Require", "100rel, timer"))
	RemoveRequire100rel(req)
	assert.False(t, HasRequire100rel(req))
	h := req.GetHeader("Require")
	require.NotNil(t, h)
	assert.Equal(t, "timer", h.Value())
}

func TestRemoveRequire100relDropsEmptyHeader(t *testing.T) {
	req := newTestRequest(t)
	AddRequire100rel(req)
	RemoveRequire100rel(req)
	assert.Nil(t, req.GetHeader("Require"))
}

func TestRSeqHeader(t *testing.T) {
	req := newTestRequest(t)
	_, ok := GetRSeq(req)
	assert.False(t, ok)

	SetRSeq(req, 123)
	v, ok := GetRSeq(req)
	require.True(t, ok)
	assert.EqualValues(t, 123, v)

	RemoveRSeq(req)
	_, ok = GetRSeq(req)
	assert.False(t, ok)
}

func TestEnsureAllowPRACK(t *testing.T) {
	req := newTestRequest(t)
	req.AppendHeader(sip.NewHeader("Allow", "INVITE, ACK, BYE"))
	EnsureAllowPRACK(req)
	h := req.GetHeader("Allow")
	require.NotNil(t, h)
	assert.Contains(t, h.Value(), "PRACK")

	// idempotent
	before := h.Value()
	EnsureAllowPRACK(req)
	assert.Equal(t, before, req.GetHeader("Allow").Value())
}

func TestSetWarning(t *testing.T) {
	req := newTestRequest(t)
	SetWarning(req, 399, "sipcallcore", "missing media in SDP")
	h := req.GetHeader("Warning")
	require.NotNil(t, h)
	assert.Equal(t, `399 sipcallcore "missing media in SDP"`, h.Value())

	SetWarning(req, 370, "sipcallcore", "insufficient bandwidth")
	assert.Equal(t, `370 sipcallcore "insufficient bandwidth"`, req.GetHeader("Warning").Value())
}
