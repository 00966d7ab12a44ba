package assoc

import (
	"github.com/caio-sobreiro/dicomscu/dimse"
	dicomerrors "github.com/caio-sobreiro/dicomscu/errors"
	"github.com/caio-sobreiro/dicomscu/uid"
)

// AdditionalContext is a caller-declared presentation context proposed even
// without a matching request.
type AdditionalContext struct {
	AbstractSyntaxUID  string
	TransferSyntaxUIDs []string
}

// RequestQueue collects the outgoing service requests and any additional
// caller contexts for one association attempt. Duplicate detection is by
// object identity; content-based merging happens inside the Association.
type RequestQueue struct {
	requests           []dimse.Request
	additionalContexts []*AdditionalContext
}

func NewRequestQueue() *RequestQueue {
	return &RequestQueue{}
}

// AddRequest appends a request. The same request object cannot be queued
// twice.
func (q *RequestQueue) AddRequest(req dimse.Request) error {
	for _, existing := range q.requests {
		if existing == req {
			return dicomerrors.NewUsageError("AddRequest", "request already queued")
		}
	}
	q.requests = append(q.requests, req)
	return nil
}

// AddPresentationContext appends a caller-declared context. The same context
// object cannot be added twice.
func (q *RequestQueue) AddPresentationContext(ctx *AdditionalContext) error {
	for _, existing := range q.additionalContexts {
		if existing == ctx {
			return dicomerrors.NewUsageError("AddPresentationContext", "context already added")
		}
	}
	q.additionalContexts = append(q.additionalContexts, ctx)
	return nil
}

// Requests returns the queued requests in enqueue order.
func (q *RequestQueue) Requests() []dimse.Request {
	out := make([]dimse.Request, len(q.requests))
	copy(out, q.requests)
	return out
}

// Len returns the number of queued requests.
func (q *RequestQueue) Len() int {
	return len(q.requests)
}

// DeriveContexts feeds every queued request and every additional context into
// the association's allocation/merge algorithm and returns the primary
// context id assigned to each request. Additional contexts with no transfer
// syntaxes are seeded with the registry default.
func (q *RequestQueue) DeriveContexts(a *Association, reg *uid.Registry) (map[dimse.Request]byte, error) {
	assigned := make(map[dimse.Request]byte, len(q.requests))

	for _, req := range q.requests {
		id, err := a.AddPresentationContextFromRequest(req, reg)
		if err != nil {
			return nil, err
		}
		assigned[req] = id
	}

	for _, extra := range q.additionalContexts {
		id, err := a.AddPresentationContext(extra.AbstractSyntaxUID)
		if err != nil {
			return nil, err
		}
		ctx, err := a.PresentationContext(id)
		if err != nil {
			return nil, err
		}

		syntaxes := extra.TransferSyntaxUIDs
		if len(syntaxes) == 0 {
			syntaxes = []string{reg.DefaultTransferSyntax()}
		}
		for _, ts := range syntaxes {
			if err := ctx.AddTransferSyntax(ts); err != nil {
				return nil, err
			}
		}
	}

	return assigned, nil
}
