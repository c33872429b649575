package invite

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/emiago/sipgo/sip"
)

const Token100rel = "100rel"

// sipMessage is the subset of sip.Request/sip.Response this package needs;
// both satisfy it.
type sipMessage interface {
	GetHeader(name string) sip.Header
	GetHeaders(name string) []sip.Header
	AppendHeader(header sip.Header)
	RemoveHeader(name string)
}

// HasRequire100rel reports whether msg's Require header lists the 100rel
// option tag.
func HasRequire100rel(msg sipMessage) bool {
	return headerListContains(msg, "Require", Token100rel)
}

// HasSupported100rel reports whether msg's Supported header lists 100rel.
func HasSupported100rel(msg sipMessage) bool {
	return headerListContains(msg, "Supported", Token100rel)
}

func headerListContains(msg sipMessage, name, token string) bool {
	for _, h := range msg.GetHeaders(name) {
		for _, part := range strings.Split(h.Value(), ",") {
			if strings.EqualFold(strings.TrimSpace(part), token) {
				return true
			}
		}
	}
	return false
}

// AddRequire100rel appends 100rel to msg's Require header, creating it if
// absent, without disturbing other option tags already present.
func AddRequire100rel(msg sipMessage) {
	addToken(msg, "Require", Token100rel)
}

// AddSupported adds a token to msg's Supported header (e.g. "100rel",
// "norefersub" on outgoing reliable INVITEs).
func AddSupported(msg sipMessage, token string) {
	addToken(msg, "Supported", token)
}

func addToken(msg sipMessage, headerName, token string) {
	if headerListContains(msg, headerName, token) {
		return
	}
	existing := msg.GetHeader(headerName)
	if existing == nil {
		msg.AppendHeader(sip.NewHeader(headerName, token))
		return
	}
	msg.RemoveHeader(headerName)
	msg.AppendHeader(sip.NewHeader(headerName, existing.Value()+", "+token))
}

// RemoveRequire100rel strips the 100rel tag from msg's Require header,
// removing the header entirely if it becomes empty. Used when cloning an
// outgoing response so retransmissions carry a clean, stable snapshot.
func RemoveRequire100rel(msg sipMessage) {
	removeToken(msg, "Require", Token100rel)
}

func removeToken(msg sipMessage, headerName, token string) {
	h := msg.GetHeader(headerName)
	if h == nil {
		return
	}
	var kept []string
	for _, part := range strings.Split(h.Value(), ",") {
		part = strings.TrimSpace(part)
		if part != "" && !strings.EqualFold(part, token) {
			kept = append(kept, part)
		}
	}
	msg.RemoveHeader(headerName)
	if len(kept) > 0 {
		msg.AppendHeader(sip.NewHeader(headerName, strings.Join(kept, ", ")))
	}
}

// RemoveRSeq drops any pre-existing RSeq header.
func RemoveRSeq(msg sipMessage) { msg.RemoveHeader("RSeq") }

// SetRSeq sets the RSeq header to the given value, replacing any existing one.
func SetRSeq(msg sipMessage, rseq uint32) {
	msg.RemoveHeader("RSeq")
	msg.AppendHeader(sip.NewHeader("RSeq", strconv.FormatUint(uint64(rseq), 10)))
}

// GetRSeq reads the RSeq header, if present.
func GetRSeq(msg sipMessage) (uint32, bool) {
	h := msg.GetHeader("RSeq")
	if h == nil {
		return 0, false
	}
	v, err := strconv.ParseUint(strings.TrimSpace(h.Value()), 10, 32)
	if err != nil {
		return 0, false
	}
	return uint32(v), true
}

// FormatRAck renders the RAck header value: "<rseq> <cseq> <method>",
// single-space separated.
func FormatRAck(rseq, cseq uint32, method string) string {
	return fmt.Sprintf("%d %d %s", rseq, cseq, method)
}

// ParseRAck parses an RAck header value. The leading digits are the RSeq,
// the next digits the CSeq, the remainder the method name.
func ParseRAck(value string) (rseq, cseq uint32, method string, err error) {
	fields := strings.Fields(value)
	if len(fields) != 3 {
		return 0, 0, "", fmt.Errorf("invite: malformed RAck %q", value)
	}
	r, err := strconv.ParseUint(fields[0], 10, 32)
	if err != nil {
		return 0, 0, "", fmt.Errorf("invite: malformed RAck rseq %q: %w", fields[0], err)
	}
	c, err := strconv.ParseUint(fields[1], 10, 32)
	if err != nil {
		return 0, 0, "", fmt.Errorf("invite: malformed RAck cseq %q: %w", fields[1], err)
	}
	return uint32(r), uint32(c), fields[2], nil
}

// SetRAck sets msg's RAck header from its components.
func SetRAck(msg sipMessage, rseq, cseq uint32, method string) {
	msg.RemoveHeader("RAck")
	msg.AppendHeader(sip.NewHeader("RAck", FormatRAck(rseq, cseq, method)))
}

// EnsureAllowPRACK adds PRACK to msg's Allow header if not already present.
func EnsureAllowPRACK(msg sipMessage) {
	addToken(msg, "Allow", "PRACK")
}

// SetWarning sets a Warning header of the form "<code> <agent> \"<text>\"",
// per RFC 3261 §20.43, replacing any existing one. agent is typically the
// local host or pseudonym; warnCode is conventionally in [300, 399].
func SetWarning(msg sipMessage, warnCode int, agent, text string) {
	msg.RemoveHeader("Warning")
	msg.AppendHeader(sip.NewHeader("Warning", fmt.Sprintf("%d %s %q", warnCode, agent, text)))
}
