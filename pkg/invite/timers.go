package invite

import "time"

// RFC 3261 §17.1.1.1 timer constants. T1 is the base retransmit estimate
// that pkg/rel100's retransmit engine scales by powers of two.
const (
	T1 = 500 * time.Millisecond
	T2 = 4 * time.Second
	T4 = 5 * time.Second
)
