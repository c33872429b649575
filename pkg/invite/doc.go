// Package invite provides the INVITE-session abstraction that the 100rel
// engine (pkg/rel100) and the call-lifecycle coordinator (pkg/callcore) are
// built on top of: session lifecycle, transaction wrapper, header helpers,
// identifiers, structured logging, metrics and the shared error taxonomy.
//
// It deliberately stops short of a SIP transport or message parser — those
// are supplied by github.com/emiago/sipgo — and stops short of SDP/RTP
// media handling, which is a collaborator the core only calls through the
// MediaEngine interface defined in pkg/callcore.
package invite
