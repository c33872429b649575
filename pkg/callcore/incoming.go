package callcore

import (
	"errors"
	"strconv"

	"github.com/arzzra/sipcallcore/pkg/invite"
	"github.com/pion/sdp/v3"
)

// ReplacesMatcher resolves a Replaces header on an incoming INVITE to the
// call slot it targets. A malformed header should be reported via err, in
// which case the caller is expected to have already built and sent its own
// rejection response.
type ReplacesMatcher func(replacesHeader string) (idx int, matched bool, err error)

// IncomingInvite carries the pre-parsed request state the dialog layer has
// already extracted by the time it calls into the coordinator.
type IncomingInvite struct {
	AccID          string
	RequestURI     string
	TransportIsTLS bool
	Body           []byte // nil/empty if the INVITE carried no body
	ReplacesHeader string // empty if no Replaces header was present
}

// HandleIncomingInvite implements the inbound call workflow: slot
// allocation, Replaces resolution, secure-level computation, SDP offer/
// answer, UAS session creation and the Replaces-vs-ordinary-incoming-call
// disposition. It returns the new call's slot index.
func (c *Coordinator) HandleIncomingInvite(inv IncomingInvite, resolveReplaces ReplacesMatcher) (int, error) {
	c.uaMu.Lock()
	slot := c.table.Alloc()
	if slot == nil {
		c.uaMu.Unlock()
		c.metrics.CallsRejected.Inc()
		_ = c.transport.Respond(486, "Busy Here", "")
		return InvalidCallID, invite.NewError(invite.ErrResourceExhausted, "too many calls")
	}
	idx := slot.Index
	slot.AccID = inv.AccID
	c.uaMu.Unlock()

	replacedIdx := InvalidCallID
	if inv.ReplacesHeader != "" {
		matchedIdx, matched, err := resolveReplaces(inv.ReplacesHeader)
		if err != nil {
			c.table.Release(idx)
			return InvalidCallID, invite.WrapError(invite.ErrProtocolViolation, "malformed Replaces header", err)
		}
		if matched {
			replacedIdx = matchedIdx
		}
	}

	secure := secureLevelForURI(inv.RequestURI, inv.TransportIsTLS)
	media := c.mediaFactory()
	if err := media.InitUAS(secure); err != nil {
		c.table.Release(idx)
		_ = c.transport.Respond(500, "Server Internal Error", err.Error())
		return InvalidCallID, invite.WrapError(invite.ErrMediaFailure, "init media channel", err)
	}

	var offer *sdp.SessionDescription
	var answer *sdp.SessionDescription
	if len(inv.Body) > 0 {
		var err error
		offer, err = ParseSDPOffer(inv.Body)
		if err != nil {
			c.table.Release(idx)
			var coreErr *invite.CoreError
			reason := "Bad Request"
			if errors.As(err, &coreErr) && coreErr.Message == "missing media in SDP" {
				reason = "Missing media in SDP"
			}
			_ = c.transport.Respond(400, reason, err.Error())
			return InvalidCallID, err
		}
		answer, err = media.CreateAnswer(offer)
		if err != nil {
			c.table.Release(idx)
			_ = c.transport.Respond(500, "Server Internal Error", err.Error())
			return InvalidCallID, invite.WrapError(invite.ErrMediaFailure, "create SDP answer", err)
		}
	}

	sess, err := c.transport.AnswerIncoming(inv.AccID, secure, answer)
	if err != nil {
		c.table.Release(idx)
		media.Deinit()
		return InvalidCallID, err
	}

	if c.natTypeInSDP && offer != nil {
		if natType, ok := extractNATTypeFromSDP(offer); ok {
			slot.RemNATType = natType
		}
	}

	slot.SecureLevel = secure
	slot.Media = media
	slot.Attach(sess)

	sess.SetUserData(idx)
	c.module.Attach(sess)
	c.metrics.CallsActive.Inc()
	c.metrics.CallsTotal.Inc()

	if replacedIdx != InvalidCallID {
		if c.onIncoming != nil {
			c.onIncoming(idx, sess)
		}
		_ = c.transport.SendFinalAnswer(sess, 200, "OK")
		_ = c.Hangup(replacedIdx, 410, "Gone")
		return idx, nil
	}

	if c.onIncoming != nil {
		c.onIncoming(idx, sess)
		return idx, nil
	}

	_ = c.Hangup(idx, 480, "Temporarily Unavailable")
	return idx, nil
}

// extractNATTypeFromSDP reads the remote's advertised NAT class from a
// session-level "a=X-nat:<digit>" attribute, per §4.G: the attribute's
// first character minus '0' is the NAT type.
func extractNATTypeFromSDP(offer *sdp.SessionDescription) (int, bool) {
	for _, a := range offer.Attributes {
		if a.Key != "X-nat" || a.Value == "" {
			continue
		}
		n, err := strconv.Atoi(a.Value[:1])
		if err != nil {
			return 0, false
		}
		return n, true
	}
	return 0, false
}
