package callcore

import (
	"github.com/arzzra/sipcallcore/pkg/invite"
	"github.com/emiago/sipgo/sip"
)

// ForkTerminator sends a BYE on a dialog the UA layer synthesized for an
// unwanted forked branch.
type ForkTerminator func(forked *invite.Session) error

// HandleForkedResponse implements the fork handler: if sess already carries
// a 2xx final response and a second INVITE 2xx arrives on a different
// branch (no matching transaction), a forked dialog is synthesized via
// sess.Fork() and immediately torn down with BYE. Any other case returns
// sess unchanged with no fork action.
func HandleForkedResponse(sess *invite.Session, hasExistingFinal bool, isUntrackedInvite2xx bool, terminate ForkTerminator) (*invite.Session, error) {
	if !hasExistingFinal || !isUntrackedInvite2xx {
		return sess, nil
	}
	forked := sess.Fork()
	if forked == nil {
		return sess, nil
	}
	if err := terminate(forked); err != nil {
		return forked, err
	}
	return forked, nil
}

// HandleRedirect implements the redirect handler: the application's
// registered callback decides, defaulting to RedirectStop (disconnect the
// call) when none is registered.
func HandleRedirect(sess *invite.Session, contacts []sip.Uri) invite.RedirectCmd {
	return sess.Redirected(contacts)
}
