package callcore

import (
	"github.com/pion/sdp/v3"
)

// MediaEngine is the external media collaborator: SDP negotiation, RTP/RTCP,
// codecs and statistics. The coordinator and offer/answer integration drive
// it but never implement negotiation or transport themselves.
type MediaEngine interface {
	// InitUAC prepares a fresh media channel for an outgoing call at the
	// given secure level.
	InitUAC(secureLevel SecureLevel) error
	// InitUAS prepares a fresh media channel for an inbound call.
	InitUAS(secureLevel SecureLevel) error
	// CreateOffer builds an initial SDP offer from the channel's current
	// configuration.
	CreateOffer() (*sdp.SessionDescription, error)
	// CreateAnswer builds a candidate answer to a received offer.
	CreateAnswer(offer *sdp.SessionDescription) (*sdp.SessionDescription, error)
	// Start (re)starts media streams once an offer/answer pair is agreed.
	Start(local, remote *sdp.SessionDescription) error
	// Deinit releases the channel's resources. Idempotent.
	Deinit()
}

// Account is the minimal external-collaborator surface the coordinator
// needs from the account/registration subsystem.
type Account struct {
	ID            string
	ContactURI    string
	RouteSet      []string
	RouteIsTLS    bool
	Require100rel bool
	Credentials   interface{}
}
