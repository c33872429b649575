package invite

import (
	"fmt"
	"strconv"
	"strings"
)

const SipfragContentType = "message/sipfrag"

// ParseSipfragStatus extracts the status code and reason phrase from a
// message/sipfrag body's first status line ("SIP/2.0 200 OK"), as carried
// in transfer-progress NOTIFY bodies.
func ParseSipfragStatus(body []byte) (code int, reason string, err error) {
	line := strings.TrimSpace(string(body))
	line, _, _ = strings.Cut(line, "\n")
	line = strings.TrimRight(line, "\r")

	fields := strings.SplitN(line, " ", 3)
	if len(fields) < 2 || !strings.HasPrefix(fields[0], "SIP/") {
		return 0, "", fmt.Errorf("invite: not a sipfrag status line: %q", line)
	}
	c, err := strconv.Atoi(fields[1])
	if err != nil {
		return 0, "", fmt.Errorf("invite: malformed sipfrag status code %q: %w", fields[1], err)
	}
	if len(fields) == 3 {
		reason = fields[2]
	}
	return c, reason, nil
}
