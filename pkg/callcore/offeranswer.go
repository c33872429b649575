package callcore

import (
	"context"

	"github.com/arzzra/sipcallcore/pkg/invite"
	"github.com/pion/sdp/v3"
)

// SessionEnder is the narrow slice of the dialog/transport collaborator
// needed to end an INVITE session with a given SIP status, used by
// media-negotiation failure handling.
type SessionEnder interface {
	EndSession(sess *invite.Session, code int, reason string)
}

var directionAttrs = map[string]bool{
	"sendonly": true,
	"recvonly": true,
	"sendrecv": true,
	"inactive": true,
}

// stripDirectionAttrs removes any existing direction attribute from a
// media description's first (and, in this core, only) media line.
func stripDirectionAttrs(media *sdp.MediaDescription) {
	kept := media.Attributes[:0]
	for _, a := range media.Attributes {
		if !directionAttrs[a.Key] {
			kept = append(kept, a)
		}
	}
	media.Attributes = kept
}

func addDirectionAttr(media *sdp.MediaDescription, dir string) {
	media.Attributes = append(media.Attributes, sdp.Attribute{Key: dir})
}

func firstMedia(sess *sdp.SessionDescription) *sdp.MediaDescription {
	if len(sess.MediaDescriptions) == 0 {
		return nil
	}
	return sess.MediaDescriptions[0]
}

func connectionIsUnspecified(sess *sdp.SessionDescription) bool {
	if sess.ConnectionInformation == nil || sess.ConnectionInformation.Address == nil {
		return false
	}
	addr := sess.ConnectionInformation.Address.Address
	return addr == "0.0.0.0" || addr == "0"
}

func setConnectionUnspecified(sess *sdp.SessionDescription) {
	if sess.ConnectionInformation == nil {
		sess.ConnectionInformation = &sdp.ConnectionInformation{NetworkType: "IN", AddressType: "IP4"}
	}
	sess.ConnectionInformation.Address = &sdp.Address{Address: "0.0.0.0"}
}

// bumpOriginVersion sets sess's origin session version to prevVersion+1.
func bumpOriginVersion(sess *sdp.SessionDescription, prevVersion uint64) {
	sess.Origin.SessionVersion = prevVersion + 1
}

// CreateInitialOffer delegates to the media channel.
func CreateInitialOffer(engine MediaEngine) (*sdp.SessionDescription, error) {
	offer, err := engine.CreateOffer()
	if err != nil {
		return nil, invite.WrapError(invite.ErrMediaFailure, "create initial offer", err)
	}
	return offer, nil
}

// OnRxOffer produces a candidate answer for a received re-INVITE/UPDATE
// offer and applies hold semantics.
func OnRxOffer(slot *CallSlot, engine MediaEngine, offer *sdp.SessionDescription) (*sdp.SessionDescription, error) {
	answer, err := engine.CreateAnswer(offer)
	if err != nil {
		return nil, invite.WrapError(invite.ErrMediaFailure, "create answer for received offer", err)
	}

	if connectionIsUnspecified(offer) {
		setConnectionUnspecified(answer)
	}

	if slot.LocalHold {
		if m := firstMedia(answer); m != nil {
			stripDirectionAttrs(m)
			addDirectionAttr(m, MediaDirSendOnly.String())
		}
	}

	return answer, nil
}

// OnCreateOffer builds an offer when the invite layer asks us for one:
// hold-SDP when on hold, else delegate; the origin version is always
// bumped.
func OnCreateOffer(slot *CallSlot, engine MediaEngine, prevVersion uint64) (*sdp.SessionDescription, error) {
	var offer *sdp.SessionDescription
	var err error
	if slot.LocalHold {
		offer, err = buildHoldSDP(slot, engine)
	} else {
		offer, err = engine.CreateOffer()
	}
	if err != nil {
		return nil, invite.WrapError(invite.ErrMediaFailure, "create offer", err)
	}
	bumpOriginVersion(offer, prevVersion)
	return offer, nil
}

// buildHoldSDP constructs hold-SDP from a fresh local offer: if the current
// media direction is not already sendonly, strip any direction attribute on
// the first media line and add sendonly when the current direction was
// sendrecv, otherwise inactive.
func buildHoldSDP(slot *CallSlot, engine MediaEngine) (*sdp.SessionDescription, error) {
	offer, err := engine.CreateOffer()
	if err != nil {
		return nil, err
	}
	if slot.MediaDir == MediaDirSendOnly {
		return offer, nil
	}
	m := firstMedia(offer)
	if m == nil {
		return offer, nil
	}
	stripDirectionAttrs(m)
	if slot.MediaDir == MediaDirSendRecv {
		addDirectionAttr(m, MediaDirSendOnly.String())
	} else {
		addDirectionAttr(m, "inactive")
	}
	return offer, nil
}

// OnMediaUpdateSuccess starts media streams for the agreed offer/answer pair
// and notifies the application.
func OnMediaUpdateSuccess(sess *invite.Session, engine MediaEngine, local, remote *sdp.SessionDescription) {
	if err := engine.Start(local, remote); err != nil {
		sess.NotifyMediaUpdate(invite.WrapError(invite.ErrMediaFailure, "start media streams", err))
		return
	}
	sess.NotifyMediaUpdate(nil)
}

// OnMediaUpdateFailure handles a negotiation failure: initial or UAS-early
// negotiation is fatal (415), a re-INVITE/UPDATE failure is logged and the
// session continues. Media is never deinitialized here; that happens only
// on DISCONNECTED.
func OnMediaUpdateFailure(sess *invite.Session, mediaErr error, ender SessionEnder) {
	switch sess.State() {
	case invite.StateNull, invite.StateConfirmed:
		sess.Logger().Warn(context.Background(), "callcore: media renegotiation failed, continuing", invite.F("error", mediaErr))
	default:
		sess.Logger().Warn(context.Background(), "callcore: initial media negotiation failed, ending session with 415", invite.F("error", mediaErr))
		ender.EndSession(sess, 415, "Unsupported Media Type")
	}
}
