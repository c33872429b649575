package rel100

import "math/rand/v2"

// randomRseq picks the initial RSeq for a dialog's first reliable
// provisional, uniformly in [1, 0x7FFF] per RFC 3262 §3.1.
func randomRseq() uint32 {
	return uint32(rand.IntN(0x7FFF) + 1)
}
