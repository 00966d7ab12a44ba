// Package assoc holds the association negotiation ledger: presentation
// contexts, the allocation/merge algorithm and the outgoing request queue.
package assoc

import (
	"fmt"

	dicomerrors "github.com/caio-sobreiro/dicomscu/errors"
)

// Result is the negotiation outcome of one presentation context, using the
// on-wire result/reason byte values. Pending is a local sentinel for
// "peer has not answered yet" and never appears on the wire.
type Result byte

const (
	Accepted                     Result = 0x00
	UserRejected                 Result = 0x01
	NoReasonRejected             Result = 0x02
	AbstractSyntaxNotSupported   Result = 0x03
	TransferSyntaxesNotSupported Result = 0x04
	Pending                      Result = 0xFF
)

func (r Result) String() string {
	switch r {
	case Accepted:
		return "accepted"
	case UserRejected:
		return "user rejected"
	case NoReasonRejected:
		return "rejected (no reason)"
	case AbstractSyntaxNotSupported:
		return "abstract syntax not supported"
	case TransferSyntaxesNotSupported:
		return "transfer syntaxes not supported"
	case Pending:
		return "pending"
	default:
		return fmt.Sprintf("unknown result (0x%02x)", byte(r))
	}
}

// PresentationContext pairs one abstract syntax with an ordered list of
// proposed transfer syntaxes. Proposals are mutable only while the result is
// Pending; once the peer has answered the context is read-only.
type PresentationContext struct {
	id                        byte
	abstractSyntaxUID         string
	transferSyntaxUIDs        []string
	result                    Result
	acceptedTransferSyntaxUID string
}

func newPresentationContext(id byte, abstractSyntaxUID string) *PresentationContext {
	return &PresentationContext{
		id:                id,
		abstractSyntaxUID: abstractSyntaxUID,
		result:            Pending,
	}
}

// ID returns the context identifier, an odd byte unique within one
// association, immutable after allocation.
func (c *PresentationContext) ID() byte { return c.id }

// AbstractSyntaxUID returns the SOP class or model UID this context proposes.
func (c *PresentationContext) AbstractSyntaxUID() string { return c.abstractSyntaxUID }

// TransferSyntaxUIDs returns a copy of the proposed transfer syntaxes in
// preference order.
func (c *PresentationContext) TransferSyntaxUIDs() []string {
	out := make([]string, len(c.transferSyntaxUIDs))
	copy(out, c.transferSyntaxUIDs)
	return out
}

// Result returns the negotiation outcome, Pending until the peer responds.
func (c *PresentationContext) Result() Result { return c.result }

// AcceptedTransferSyntaxUID returns the transfer syntax the peer chose, or
// the empty string while the result is not Accepted.
func (c *PresentationContext) AcceptedTransferSyntaxUID() string {
	if c.result != Accepted {
		return ""
	}
	return c.acceptedTransferSyntaxUID
}

// HasTransferSyntax reports whether uid is already among the proposals.
func (c *PresentationContext) HasTransferSyntax(uid string) bool {
	for _, ts := range c.transferSyntaxUIDs {
		if ts == uid {
			return true
		}
	}
	return false
}

// AddTransferSyntax appends a transfer syntax to the proposal list. Duplicate
// additions are no-ops. Fails once the result is no longer Pending.
func (c *PresentationContext) AddTransferSyntax(uid string) error {
	if c.result != Pending {
		return dicomerrors.NewInvalidStateError("AddTransferSyntax", c.result.String())
	}
	if c.HasTransferSyntax(uid) {
		return nil
	}
	c.transferSyntaxUIDs = append(c.transferSyntaxUIDs, uid)
	return nil
}

// SetResult records the peer's answer for this context. It transitions the
// context out of Pending exactly once; a second call fails. An Accepted
// result must name one of the proposed transfer syntaxes.
func (c *PresentationContext) SetResult(result Result, acceptedTransferSyntaxUID string) error {
	if c.result != Pending {
		return dicomerrors.NewInvalidStateError("SetResult", c.result.String())
	}
	if result == Accepted {
		if !c.HasTransferSyntax(acceptedTransferSyntaxUID) {
			return fmt.Errorf("%w: accepted transfer syntax %q was not proposed for context %d",
				dicomerrors.ErrInvalidPDU, acceptedTransferSyntaxUID, c.id)
		}
		c.acceptedTransferSyntaxUID = acceptedTransferSyntaxUID
	}
	c.result = result
	return nil
}
