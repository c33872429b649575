package callcore

import (
	"context"
	"fmt"

	"github.com/arzzra/sipcallcore/pkg/invite"
	"github.com/emiago/sipgo/sip"
)

// replacesBufferSize and replacesOverhead bound the REFER-target buffer
// used to build an attended-transfer Replaces target: a fixed 2048 byte
// buffer that must hold the target plus 32 bytes of bookkeeping overhead.
const (
	replacesBufferSize = 2048
	replacesOverhead   = 32
)

// TransferTransport is the external dialog/transport slice the transfer
// engine needs: building and sending REFER requests, accepting/rejecting
// an inbound REFER, and sending NOTIFYs on a transfer subscription.
type TransferTransport interface {
	SendRefer(sess *invite.Session, referTo, referredBy string) (*invite.ReferSubscription, error)
	SendNotify(sub *invite.ReferSubscription, sipfragBody []byte, final bool) error
	AcceptRefer(req *sip.Request, code int, referSubValue string) error
	RejectRefer(req *sip.Request, code int) error
}

// BuildReplacesTargetURI constructs the attended-transfer REFER target:
//
//	<sips-or-sip-uri?[Require=replaces&]Replaces=<call-id>%3Bto-tag%3D<remote-tag>%3Bfrom-tag%3D<local-tag>>
//
// noRequireReplaces corresponds to the caller passing NO_REQUIRE_REPLACES.
func BuildReplacesTargetURI(remoteURI, callID, remoteTag, localTag string, noRequireReplaces bool) (string, error) {
	prefix := "Require=replaces&"
	if noRequireReplaces {
		prefix = ""
	}
	target := fmt.Sprintf("<%s?%sReplaces=%s%%3Bto-tag%%3D%s%%3Bfrom-tag%%3D%s>",
		remoteURI, prefix, callID, remoteTag, localTag)
	if len(target)+replacesOverhead > replacesBufferSize {
		return "", invite.NewError(invite.ErrURITooLong, "xfer_replaces target exceeds buffer")
	}
	return target, nil
}

// Xfer performs a blind transfer: a subscription bound to the dialog, a
// REFER request with Referred-By, sent without disturbing the original
// invite.
func (c *Coordinator) Xfer(idx int, transport TransferTransport, dest, referredBy string) error {
	return c.xferKind(idx, "blind", transport, dest, referredBy)
}

func (c *Coordinator) xferKind(idx int, kind string, transport TransferTransport, dest, referredBy string) error {
	slot, unlock, err := c.acquireCall(idx)
	if err != nil {
		return err
	}
	defer unlock()

	sub, err := transport.SendRefer(slot.Inv, dest, referredBy)
	if err != nil {
		c.metrics.TransfersTotal.WithLabelValues(kind, "error").Inc()
		return err
	}
	slot.XferSub = sub
	c.metrics.TransfersTotal.WithLabelValues(kind, "sent").Inc()
	return nil
}

// XferReplaces performs an attended transfer: build the Replaces target
// from the replaced call's dialog identity, then delegate to blind
// transfer. remoteURI is the replaced party's AOR, as tracked by the
// dialog/transport layer.
func (c *Coordinator) XferReplaces(idx, replacedIdx int, remoteURI string, transport TransferTransport, noRequireReplaces bool, referredBy string) error {
	replacedSlot, unlockReplaced, err := c.acquireCall(replacedIdx)
	if err != nil {
		return err
	}
	callID := replacedSlot.Inv.CallID()
	remoteTag := replacedSlot.Inv.RemoteTag()
	localTag := replacedSlot.Inv.LocalTag()
	unlockReplaced()

	target, err := BuildReplacesTargetURI(remoteURI, callID, remoteTag, localTag, noRequireReplaces)
	if err != nil {
		c.metrics.TransfersTotal.WithLabelValues("attended", "error").Inc()
		return err
	}
	return c.xferKind(idx, "attended", transport, target, referredBy)
}

// TransferStatusCallback reports transfer progress to the application.
// Returning cont=false tells the caller to stop tracking the subscription's
// user data.
type TransferStatusCallback func(sub *invite.ReferSubscription, code int, reason string, isLast bool) (cont bool)

// OnSubscriptionAccepted handles the 200 OK to an outgoing REFER: a
// Refer-Sub value of "false" means no subscription was created, so the
// transfer is immediately reported as accepted-and-done; anything else is
// provisional acceptance.
func OnSubscriptionAccepted(sub *invite.ReferSubscription, referSubHeaderValue string, cb TransferStatusCallback) {
	if referSubHeaderValue == "false" {
		sub.SetSuppressed(true)
		cb(sub, 200, "Accepted", true)
		sub.Terminate()
		return
	}
	cb(sub, 100, "Accepted", false)
}

// OnReferNotify handles an in-subscription NOTIFY carrying a message/sipfrag
// body. terminalState reports whether the NOTIFY's Subscription-State was
// "terminated".
func OnReferNotify(sub *invite.ReferSubscription, contentType string, body []byte, terminalState bool, cb TransferStatusCallback, logger invite.Logger) {
	if contentType != invite.SipfragContentType {
		logger.Debug(context.Background(), "callcore: NOTIFY without message/sipfrag body, ignoring")
		return
	}
	code, reason, err := invite.ParseSipfragStatus(body)
	if err != nil {
		logger.Debug(context.Background(), "callcore: malformed sipfrag NOTIFY body", invite.F("error", err))
		return
	}
	isFinal := sub.OnNotify(code)
	cont := cb(sub, code, reason, terminalState || isFinal)
	if !cont {
		sub.UserData = nil
	}
}

// ReferAuthorizer decides whether to accept an inbound REFER, returning the
// response code to use: codes <200 default to 202, >=300 reject.
type ReferAuthorizer func(req *sip.Request) int

// HandleInboundRefer implements the server-side REFER workflow: validates
// Refer-To, consults the authorizer, and either declines subscription-less
// or creates a transferee subscription and places the outgoing call to
// Refer-To.
func (c *Coordinator) HandleInboundRefer(req *sip.Request, transport TransferTransport, authorize ReferAuthorizer, accID string) error {
	referTo := req.GetHeader("Refer-To")
	if referTo == nil {
		return transport.RejectRefer(req, 400)
	}
	referredBy := ""
	if h := req.GetHeader("Referred-By"); h != nil {
		referredBy = h.Value()
	}

	suppressed := false
	if h := req.GetHeader("Refer-Sub"); h != nil && h.Value() == "false" {
		suppressed = true
	}

	code := authorize(req)
	switch {
	case code < 200:
		code = 202
	case code >= 300:
		return transport.RejectRefer(req, code)
	}

	if suppressed {
		return transport.AcceptRefer(req, code, "false")
	}

	if err := transport.AcceptRefer(req, code, "true"); err != nil {
		return err
	}

	sub := invite.NewReferSubscription(referTo.Value())
	if err := transport.SendNotify(sub, []byte("SIP/2.0 100 Trying"), false); err != nil {
		return err
	}

	newIdx, err := c.MakeCall(accID, referTo.Value(), map[string]string{"Referred-By": referredBy}, sub)
	if err != nil {
		_ = transport.SendNotify(sub, []byte("SIP/2.0 500 Server Internal Error"), true)
		sub.OnNotify(500)
		c.metrics.TransfersTotal.WithLabelValues("inbound", "error").Inc()
		return err
	}
	c.metrics.TransfersTotal.WithLabelValues("inbound", "sent").Inc()

	slot, unlock, err := c.acquireCall(newIdx)
	if err != nil {
		return err
	}
	slot.XferSub = sub
	unlock()
	return nil
}
