package assoc

import (
	"fmt"

	"github.com/caio-sobreiro/dicomscu/dimse"
	dicomerrors "github.com/caio-sobreiro/dicomscu/errors"
	"github.com/caio-sobreiro/dicomscu/uid"
)

// Negotiation parameter defaults.
const (
	DefaultMaxPDULength              = 16384
	DefaultImplementationClassUID    = "1.2.826.0.1.3680043.9.7156.1.1"
	DefaultImplementationVersionName = "DICOMSCU_1_0"
)

// Association is the negotiation ledger for one connection attempt: the peer
// AE titles, the ordered presentation contexts and the pass-through
// negotiation parameters. It is built before the transport opens, mutated by
// the allocation/merge algorithm below and by the peer's accept PDU, and
// read-only afterwards.
type Association struct {
	callingAETitle string
	calledAETitle  string

	// Pass-through negotiation parameters, encoded into the user
	// information items of the associate request.
	MaxPDULength              uint32
	ImplementationClassUID    string
	ImplementationVersionName string

	contexts []*PresentationContext
	byID     map[byte]*PresentationContext
	nextID   int
}

// NewAssociation builds an empty ledger for the given AE title pair.
func NewAssociation(callingAETitle, calledAETitle string) *Association {
	return &Association{
		callingAETitle:            callingAETitle,
		calledAETitle:             calledAETitle,
		MaxPDULength:              DefaultMaxPDULength,
		ImplementationClassUID:    DefaultImplementationClassUID,
		ImplementationVersionName: DefaultImplementationVersionName,
		byID:                      make(map[byte]*PresentationContext),
		nextID:                    1,
	}
}

func (a *Association) CallingAETitle() string { return a.callingAETitle }
func (a *Association) CalledAETitle() string  { return a.calledAETitle }

// AddPresentationContext always allocates a new context with the next odd id,
// starting with an empty proposal list. Only odd ids are valid on the wire.
func (a *Association) AddPresentationContext(abstractSyntaxUID string) (byte, error) {
	if a.nextID > 0xFF {
		return 0, dicomerrors.NewUsageError("AddPresentationContext",
			"presentation context id space exhausted (128 contexts max)")
	}

	ctx := newPresentationContext(byte(a.nextID), abstractSyntaxUID)
	a.nextID += 2

	a.contexts = append(a.contexts, ctx)
	a.byID[ctx.id] = ctx
	return ctx.id, nil
}

// AddOrGetPresentationContext returns the id of the existing context with the
// same abstract syntax, or allocates a new one. Matching is solely on
// abstract syntax equality.
func (a *Association) AddOrGetPresentationContext(abstractSyntaxUID string) (byte, error) {
	if ctx := a.findByAbstractSyntax(abstractSyntaxUID); ctx != nil {
		return ctx.id, nil
	}
	return a.AddPresentationContext(abstractSyntaxUID)
}

// AddPresentationContextFromRequest derives the contexts a request implies
// and merges them into the ledger: pairs whose abstract syntax is already
// proposed reuse that context and accumulate transfer syntaxes into it; the
// rest allocate new contexts. The returned id is the context matching the
// request's own abstract syntax (for a retrieve, the query/retrieve model;
// its storage-class contexts are allocated as side effects).
func (a *Association) AddPresentationContextFromRequest(req dimse.Request, reg *uid.Registry) (byte, error) {
	var primaryID byte

	for _, pair := range dimse.ImpliedContexts(req, reg) {
		ctx := a.findByAbstractSyntax(pair.AbstractSyntaxUID)
		if ctx == nil {
			id, err := a.AddPresentationContext(pair.AbstractSyntaxUID)
			if err != nil {
				return 0, err
			}
			ctx = a.byID[id]
		}
		if err := ctx.AddTransferSyntax(pair.TransferSyntaxUID); err != nil {
			return 0, err
		}
		if pair.AbstractSyntaxUID == req.AbstractSyntaxUID() {
			primaryID = ctx.id
		}
	}

	return primaryID, nil
}

// PresentationContext looks up a context by id.
func (a *Association) PresentationContext(id byte) (*PresentationContext, error) {
	ctx, ok := a.byID[id]
	if !ok {
		return nil, dicomerrors.NewNotFoundError("presentation context", fmt.Sprintf("%d", id))
	}
	return ctx, nil
}

// PresentationContexts returns the contexts in allocation order, which is
// also their wire encoding order.
func (a *Association) PresentationContexts() []*PresentationContext {
	out := make([]*PresentationContext, len(a.contexts))
	copy(out, a.contexts)
	return out
}

// AcceptedContextID returns the id of the accepted context negotiating the
// given abstract syntax.
func (a *Association) AcceptedContextID(abstractSyntaxUID string) (byte, error) {
	for _, ctx := range a.contexts {
		if ctx.abstractSyntaxUID == abstractSyntaxUID && ctx.result == Accepted {
			return ctx.id, nil
		}
	}
	return 0, fmt.Errorf("%w: %s", dicomerrors.ErrNoPresentationCtx, abstractSyntaxUID)
}

func (a *Association) findByAbstractSyntax(abstractSyntaxUID string) *PresentationContext {
	for _, ctx := range a.contexts {
		if ctx.abstractSyntaxUID == abstractSyntaxUID {
			return ctx
		}
	}
	return nil
}
