// Package scu implements the client side of the upper layer protocol: a
// connection lifecycle engine that negotiates an association, replays a
// queue of DIMSE requests over the accepted presentation contexts and
// releases the association when done.
package scu

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"time"

	"github.com/caio-sobreiro/dicomscu/assoc"
	"github.com/caio-sobreiro/dicomscu/dimse"
	dicomerrors "github.com/caio-sobreiro/dicomscu/errors"
	"github.com/caio-sobreiro/dicomscu/pdu"
)

// Client drives one association attempt. Accumulate requests while the
// lifecycle is idle, then call Send; the client is not safe for concurrent
// use and a single instance performs one attempt at a time. Independent
// clients are fully independent.
type Client struct {
	config  Config
	handler EventHandler
	logger  *slog.Logger
	queue   *assoc.RequestQueue
	state   State

	conn        net.Conn
	association *assoc.Association
	assigned    map[dimse.Request]byte

	// sendMaxPDULength caps outgoing fragmentation: the peer's announced
	// maximum once known, ours until then.
	sendMaxPDULength uint32
	nextMessageID    uint16
	reader           pdu.MessageReader
	requestErrs      []error
}

// NewClient builds a client with an empty request queue. A nil handler
// means events are dropped.
func NewClient(config Config, handler EventHandler) *Client {
	config = config.withDefaults()
	if handler == nil {
		handler = NopHandler{}
	}
	return &Client{
		config:  config,
		handler: handler,
		logger:  config.Logger,
		queue:   assoc.NewRequestQueue(),
		state:   StateIdle,
	}
}

// State returns the current lifecycle state.
func (c *Client) State() State {
	return c.state
}

// AddRequest queues a request. Rejected once the lifecycle has left idle.
func (c *Client) AddRequest(req dimse.Request) error {
	if c.state != StateIdle {
		return dicomerrors.NewUsageError("AddRequest",
			fmt.Sprintf("lifecycle is %s, requests can only be added while idle", c.state))
	}
	// A C-GET command announces a dataset, so an identifier is mandatory;
	// sending without one would leave the peer waiting for PDVs forever.
	if get, ok := req.(*dimse.GetRequest); ok && len(get.Identifier) == 0 {
		return dicomerrors.NewUsageError("AddRequest", "get request requires an identifier dataset")
	}
	return c.queue.AddRequest(req)
}

// AddPresentationContext proposes an additional context independent of any
// queued request. Rejected once the lifecycle has left idle.
func (c *Client) AddPresentationContext(ctx *assoc.AdditionalContext) error {
	if c.state != StateIdle {
		return dicomerrors.NewUsageError("AddPresentationContext",
			fmt.Sprintf("lifecycle is %s, contexts can only be added while idle", c.state))
	}
	return c.queue.AddPresentationContext(ctx)
}

// Send runs the full lifecycle against the peer at address: connect,
// associate, replay the queued requests in order, then release. Requests
// whose abstract syntax ends up with no accepted context fail locally and
// are reported in the joined error after the remaining requests have run.
func (c *Client) Send(ctx context.Context, address string) error {
	if c.state != StateIdle {
		return dicomerrors.NewUsageError("Send",
			fmt.Sprintf("lifecycle is %s, already sent", c.state))
	}
	if c.queue.Len() == 0 {
		return dicomerrors.ErrEmptyRequestQueue
	}

	c.association = assoc.NewAssociation(c.config.CallingAETitle, c.config.CalledAETitle)
	c.association.MaxPDULength = c.config.MaxPDULength
	c.association.ImplementationClassUID = c.config.ImplementationClassUID
	c.association.ImplementationVersionName = c.config.ImplementationVersionName

	assigned, err := c.queue.DeriveContexts(c.association, c.config.Registry)
	if err != nil {
		return err
	}
	c.assigned = assigned
	c.sendMaxPDULength = c.config.MaxPDULength

	c.state = StateConnecting
	dialer := &net.Dialer{Timeout: c.config.ConnectTimeout}
	conn, err := dialer.DialContext(ctx, "tcp", address)
	if err != nil {
		return c.fail(dicomerrors.NewNetworkError("connect", err))
	}
	c.conn = conn
	c.handler.OnConnected()

	c.state = StateAssociating
	if err := c.associate(); err != nil {
		var rejection *dicomerrors.AssociationError
		if errors.As(err, &rejection) {
			c.logger.Info("Association rejected by peer",
				"result", rejection.Result.String(),
				"source", rejection.Source.String(),
				"reason", rejection.Reason.String())
			c.handler.OnAssociationRejected(rejection.Result, rejection.Source, rejection.Reason)
			c.closeConn()
			return err
		}
		return c.fail(err)
	}

	c.state = StateEstablished
	c.logger.Info("DICOM association established",
		"remote_addr", address,
		"calling_ae", c.config.CallingAETitle,
		"called_ae", c.config.CalledAETitle)
	c.handler.OnAssociationAccepted(c.association)

	if err := c.runRequests(ctx); err != nil {
		return c.fail(err)
	}

	if c.config.LingerTimeout > 0 {
		select {
		case <-time.After(c.config.LingerTimeout):
		case <-ctx.Done():
		}
	}

	c.state = StateReleasing
	if err := c.release(); err != nil {
		return c.fail(err)
	}

	c.handler.OnAssociationReleased()
	c.closeConn()

	return errors.Join(c.requestErrs...)
}

// associate sends the A-ASSOCIATE-RQ and waits for the peer's answer. A
// rejection comes back as *dicomerrors.AssociationError.
func (c *Client) associate() error {
	if err := pdu.WritePDU(c.conn, pdu.TypeAssociateRQ, pdu.EncodeAssociateRQ(c.association)); err != nil {
		return dicomerrors.NewNetworkError("associate", err)
	}

	p, err := c.readPDU(c.config.AssociateTimeout, "associate")
	if err != nil {
		return err
	}

	switch p.Type {
	case pdu.TypeAssociateAC:
		peerMaxPDULength, err := pdu.DecodeAssociateAC(p.Data, c.association)
		if err != nil {
			return err
		}
		if peerMaxPDULength > 0 {
			c.sendMaxPDULength = peerMaxPDULength
		}
		return nil
	case pdu.TypeAssociateRJ:
		result, source, reason, err := pdu.DecodeAssociateRJ(p.Data)
		if err != nil {
			return err
		}
		return dicomerrors.NewAssociationError(result, source, reason)
	case pdu.TypeAbort:
		source, reason := pdu.DecodeAbort(p.Data)
		return dicomerrors.NewAbortError(source, reason)
	default:
		return dicomerrors.NewPDUError(p.Type, "unexpected PDU during association negotiation")
	}
}

// release performs the A-RELEASE exchange. Trailing P-DATA-TF PDUs arriving
// before the release response are drained.
func (c *Client) release() error {
	if err := pdu.WritePDU(c.conn, pdu.TypeReleaseRQ, pdu.EncodeReleaseRQ()); err != nil {
		return dicomerrors.NewNetworkError("release", err)
	}

	for {
		p, err := c.readPDU(c.config.PDUTimeout, "release")
		if err != nil {
			return err
		}

		switch p.Type {
		case pdu.TypeReleaseRP:
			return nil
		case pdu.TypePDataTF:
			continue
		case pdu.TypeAbort:
			source, reason := pdu.DecodeAbort(p.Data)
			return dicomerrors.NewAbortError(source, reason)
		default:
			return dicomerrors.NewPDUError(p.Type, "unexpected PDU during release")
		}
	}
}

// readPDU reads one PDU under a fresh deadline, mapping deadline expiry to
// TimeoutError and other transport faults to NetworkError.
func (c *Client) readPDU(timeout time.Duration, op string) (*pdu.PDU, error) {
	if err := c.conn.SetReadDeadline(time.Now().Add(timeout)); err != nil {
		return nil, dicomerrors.NewNetworkError(op, err)
	}

	p, err := pdu.ReadPDU(c.conn)
	if err != nil {
		var netErr net.Error
		if errors.As(err, &netErr) && netErr.Timeout() {
			return nil, dicomerrors.NewTimeoutError(op, timeout.String())
		}
		if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
			return nil, dicomerrors.NewNetworkError(op, dicomerrors.ErrConnectionClosed)
		}
		return nil, dicomerrors.NewNetworkError(op, err)
	}
	return p, nil
}

// fail is the single exit path for every network-observable fault: one
// OnNetworkError, a best-effort abort for protocol faults and inactivity
// timeouts, then the close event. Local per-request failures collected so
// far are joined in.
func (c *Client) fail(err error) error {
	c.handler.OnNetworkError(err)
	c.logger.Warn("Connection attempt failed", "state", c.state.String(), "error", err)

	var timeoutErr *dicomerrors.TimeoutError
	if c.conn != nil && (errors.Is(err, dicomerrors.ErrInvalidPDU) || errors.As(err, &timeoutErr)) {
		_ = pdu.WritePDU(c.conn, pdu.TypeAbort,
			pdu.EncodeAbort(pdu.AbortSourceServiceUser, pdu.AbortReasonNotSpecified))
	}

	c.state = StateAborted
	c.closeConn()

	if len(c.requestErrs) > 0 {
		return errors.Join(append(c.requestErrs[:len(c.requestErrs):len(c.requestErrs)], err)...)
	}
	return err
}

// closeConn releases the transport and fires the close event exactly once
// per attempt.
func (c *Client) closeConn() {
	if c.conn != nil {
		c.conn.Close()
		c.conn = nil
	}
	if c.state != StateAborted {
		c.state = StateClosed
	}
	c.handler.OnClosed()
}
