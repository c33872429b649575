package rel100

import (
	"github.com/arzzra/sipcallcore/pkg/invite"
	"github.com/emiago/sipgo/sip"
)

// responseSnapshot is the stable clone of an outbound response that the UAS
// state machine retransmits from: cloning on enqueue means subsequent
// retransmissions use a stable snapshot even if the caller mutates its copy.
type responseSnapshot struct {
	resp       *sip.Response
	statusCode int
	hasBody    bool
}

func newResponseSnapshot(resp *sip.Response) *responseSnapshot {
	clone := resp.Clone()
	invite.RemoveRequire100rel(clone)
	invite.RemoveRSeq(clone)
	return &responseSnapshot{
		resp:       clone,
		statusCode: int(clone.StatusCode),
		hasBody:    len(clone.Body()) > 0,
	}
}
