package scu

import (
	"github.com/caio-sobreiro/dicomscu/assoc"
	"github.com/caio-sobreiro/dicomscu/dimse"
	dicomerrors "github.com/caio-sobreiro/dicomscu/errors"
)

// EventHandler observes one connection attempt. Every attempt fires exactly
// one OnClosed, preceded by exactly one terminal event: OnAssociationReleased
// on a clean release, OnAssociationRejected when the peer refuses, or
// OnNetworkError on any timeout, transport or protocol fault. Handlers are
// invoked synchronously from the engine goroutine.
type EventHandler interface {
	// OnConnected fires when the transport is up, before negotiation.
	OnConnected()

	// OnAssociationAccepted fires once the peer accepts; the association
	// carries the per-context negotiation results and is read-only.
	OnAssociationAccepted(a *assoc.Association)

	// OnAssociationRejected fires when the peer refuses the association.
	OnAssociationRejected(result dicomerrors.AssociationRejectResult, source dicomerrors.AssociationRejectSource, reason dicomerrors.AssociationRejectReason)

	// OnAssociationReleased fires when the peer confirms a clean release.
	OnAssociationReleased()

	// OnPeerRequest surfaces a peer-initiated sub-operation (a C-STORE
	// pushed back during a C-GET). The handler may call respond at most
	// once; if it returns without responding, the engine answers with
	// success so the next PDU can be consumed.
	OnPeerRequest(msg *dimse.Message, data []byte, respond func(status uint16) error)

	// OnNetworkError fires once for the fault that terminated the attempt.
	OnNetworkError(err error)

	// OnClosed fires exactly once, after the transport is gone.
	OnClosed()
}

// NopHandler implements EventHandler with no-ops, for embedding.
type NopHandler struct{}

func (NopHandler) OnConnected() {}

func (NopHandler) OnAssociationAccepted(*assoc.Association) {}

func (NopHandler) OnAssociationRejected(dicomerrors.AssociationRejectResult, dicomerrors.AssociationRejectSource, dicomerrors.AssociationRejectReason) {
}

func (NopHandler) OnAssociationReleased() {}

func (NopHandler) OnPeerRequest(*dimse.Message, []byte, func(status uint16) error) {}

func (NopHandler) OnNetworkError(error) {}

func (NopHandler) OnClosed() {}

var _ EventHandler = NopHandler{}
