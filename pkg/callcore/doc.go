// Package callcore implements the call-lifecycle coordinator: call slot
// allocation, the outgoing/incoming INVITE workflow, offer/answer
// integration, blind and attended transfer, and fork/redirect handling. It
// drives pkg/invite sessions and consults pkg/rel100 for reliable
// provisional delivery; the SIP transport, dialog primitives and media
// engine it depends on are external collaborators represented here only by
// the interfaces this package actually calls.
package callcore
