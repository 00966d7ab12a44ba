package scu

import (
	"context"
	"errors"
	"fmt"

	"github.com/caio-sobreiro/dicomscu/assoc"
	"github.com/caio-sobreiro/dicomscu/dimse"
	dicomerrors "github.com/caio-sobreiro/dicomscu/errors"
	"github.com/caio-sobreiro/dicomscu/pdu"
)

// runRequests replays the queue in enqueue order, one outstanding request at
// a time. A request without an accepted context fails locally and is
// recorded; everything else that goes wrong is fatal for the attempt.
func (c *Client) runRequests(ctx context.Context) error {
	for _, req := range c.queue.Requests() {
		if err := ctx.Err(); err != nil {
			return dicomerrors.NewNetworkError("send", err)
		}

		if err := c.performRequest(req); err != nil {
			if errors.Is(err, dicomerrors.ErrNoPresentationCtx) {
				c.logger.Warn("Skipping request without accepted presentation context",
					"abstract_syntax", req.AbstractSyntaxUID())
				c.requestErrs = append(c.requestErrs, err)
				continue
			}
			// A peer-reported DIMSE failure is a per-request outcome; the
			// association stays up for the remaining requests.
			var dimseErr *dicomerrors.DIMSEError
			if errors.As(err, &dimseErr) {
				c.logger.Warn("Request failed with DIMSE status",
					"operation", dimseErr.Operation,
					"status", fmt.Sprintf("0x%04X", dimseErr.Status))
				c.requestErrs = append(c.requestErrs, err)
				continue
			}
			return err
		}
	}
	return nil
}

func (c *Client) performRequest(req dimse.Request) error {
	contextID, err := c.acceptedContextFor(req)
	if err != nil {
		return err
	}

	c.nextMessageID++
	messageID := c.nextMessageID

	c.logger.Debug("Sending request",
		"context_id", contextID,
		"abstract_syntax", req.AbstractSyntaxUID(),
		"message_id", messageID)

	switch r := req.(type) {
	case *dimse.EchoRequest:
		return c.performEcho(r, contextID, messageID)
	case *dimse.StoreRequest:
		return c.performStore(r, contextID, messageID)
	case *dimse.GetRequest:
		return c.performGet(r, contextID, messageID)
	default:
		return dicomerrors.NewUsageError("Send", fmt.Sprintf("unsupported request type %T", req))
	}
}

// acceptedContextFor prefers the context assigned to the request during
// derivation; if the peer rejected it, any accepted context with the same
// abstract syntax still serves.
func (c *Client) acceptedContextFor(req dimse.Request) (byte, error) {
	if id, ok := c.assigned[req]; ok {
		if ctx, err := c.association.PresentationContext(id); err == nil && ctx.Result() == assoc.Accepted {
			return id, nil
		}
	}
	return c.association.AcceptedContextID(req.AbstractSyntaxUID())
}

func (c *Client) performEcho(r *dimse.EchoRequest, contextID byte, messageID uint16) error {
	command := &dimse.Message{
		CommandField:        dimse.CEchoRQ,
		MessageID:           messageID,
		AffectedSOPClassUID: r.AbstractSyntaxUID(),
		CommandDataSetType:  dimse.NoDataSet,
	}

	if err := c.writeMessage(contextID, command, nil); err != nil {
		return err
	}

	rsp, err := c.awaitResponse(messageID, dimse.CEchoRSP)
	if err != nil {
		return err
	}

	if r.OnResponse != nil {
		r.OnResponse(rsp.Command.Status)
	}
	return nil
}

func (c *Client) performStore(r *dimse.StoreRequest, contextID byte, messageID uint16) error {
	command := &dimse.Message{
		CommandField:           dimse.CStoreRQ,
		MessageID:              messageID,
		Priority:               0x0002,
		AffectedSOPClassUID:    r.SOPClassUID,
		AffectedSOPInstanceUID: r.SOPInstanceUID,
		CommandDataSetType:     0x0000,
	}

	if err := c.writeMessage(contextID, command, r.Data); err != nil {
		return err
	}

	rsp, err := c.awaitResponse(messageID, dimse.CStoreRSP)
	if err != nil {
		return err
	}

	if r.OnResponse != nil {
		r.OnResponse(dimse.StoreResponse{
			Status:         rsp.Command.Status,
			SOPClassUID:    rsp.Command.AffectedSOPClassUID,
			SOPInstanceUID: rsp.Command.AffectedSOPInstanceUID,
		})
	}
	return nil
}

// performGet drives one C-GET: the peer answers with pending responses
// interleaved with C-STORE sub-operations on the storage contexts, finishing
// with a final response. The callback fires once per response.
func (c *Client) performGet(r *dimse.GetRequest, contextID byte, messageID uint16) error {
	command := &dimse.Message{
		CommandField:        dimse.CGetRQ,
		MessageID:           messageID,
		AffectedSOPClassUID: r.AbstractSyntaxUID(),
		CommandDataSetType:  0x0000,
	}

	if err := c.writeMessage(contextID, command, r.Identifier); err != nil {
		return err
	}

	for {
		in, err := c.readMessage()
		if err != nil {
			return err
		}

		if !in.Command.IsResponse() {
			if err := c.handlePeerRequest(in); err != nil {
				return err
			}
			continue
		}

		if in.Command.CommandField != dimse.CGetRSP || in.Command.MessageIDBeingRespondedTo != messageID {
			return fmt.Errorf("%w: unexpected response 0x%04x for message %d",
				dicomerrors.ErrInvalidMessage, in.Command.CommandField, in.Command.MessageIDBeingRespondedTo)
		}

		if r.OnResponse != nil {
			r.OnResponse(dimse.GetResponse{
				Status:    in.Command.Status,
				Remaining: in.Command.NumberOfRemainingSuboperations,
				Completed: in.Command.NumberOfCompletedSuboperations,
				Failed:    in.Command.NumberOfFailedSuboperations,
				Warning:   in.Command.NumberOfWarningSuboperations,
			})
		}

		if !dimse.IsPending(in.Command.Status) {
			if in.Command.Status != dimse.StatusSuccess {
				return dicomerrors.NewDIMSEError("C-GET", in.Command.Status,
					"retrieve finished with non-success status")
			}
			return nil
		}
	}
}

// awaitResponse reads messages until the response completing messageID
// arrives, servicing interleaved peer sub-operations along the way.
func (c *Client) awaitResponse(messageID uint16, wantCommand uint16) (*pdu.IncomingMessage, error) {
	for {
		in, err := c.readMessage()
		if err != nil {
			return nil, err
		}

		if !in.Command.IsResponse() {
			if err := c.handlePeerRequest(in); err != nil {
				return nil, err
			}
			continue
		}

		if in.Command.CommandField != wantCommand || in.Command.MessageIDBeingRespondedTo != messageID {
			return nil, fmt.Errorf("%w: unexpected response 0x%04x for message %d",
				dicomerrors.ErrInvalidMessage, in.Command.CommandField, in.Command.MessageIDBeingRespondedTo)
		}

		return in, nil
	}
}

// readMessage reassembles the next complete DIMSE message, resetting the
// inactivity deadline on every received PDU.
func (c *Client) readMessage() (*pdu.IncomingMessage, error) {
	for {
		p, err := c.readPDU(c.config.PDUTimeout, "data transfer")
		if err != nil {
			return nil, err
		}

		switch p.Type {
		case pdu.TypePDataTF:
			in, err := c.reader.Feed(p.Data)
			if err != nil {
				return nil, err
			}
			if in != nil {
				return in, nil
			}
		case pdu.TypeAbort:
			source, reason := pdu.DecodeAbort(p.Data)
			return nil, dicomerrors.NewAbortError(source, reason)
		default:
			return nil, dicomerrors.NewPDUError(p.Type, "unexpected PDU while established")
		}
	}
}

// handlePeerRequest surfaces an inbound sub-operation and guarantees exactly
// one sub-response hits the wire before the next PDU is read: the handler's
// answer if it gave one, a success response otherwise.
func (c *Client) handlePeerRequest(in *pdu.IncomingMessage) error {
	c.logger.Debug("Peer sub-operation",
		"context_id", in.ContextID,
		"command_field", fmt.Sprintf("0x%04x", in.Command.CommandField),
		"message_id", in.Command.MessageID)

	responded := false
	var respondErr error
	respond := func(status uint16) error {
		if responded {
			return dicomerrors.NewUsageError("respond", "sub-operation already answered")
		}
		responded = true
		respondErr = c.sendSubResponse(in, status)
		return respondErr
	}

	c.handler.OnPeerRequest(in.Command, in.Data, respond)

	if respondErr != nil {
		return respondErr
	}
	if !responded {
		return c.sendSubResponse(in, dimse.StatusSuccess)
	}
	return nil
}

func (c *Client) sendSubResponse(in *pdu.IncomingMessage, status uint16) error {
	rsp := &dimse.Message{
		CommandField:              dimse.ResponseCommandFor(in.Command.CommandField),
		MessageIDBeingRespondedTo: in.Command.MessageID,
		AffectedSOPClassUID:       in.Command.AffectedSOPClassUID,
		AffectedSOPInstanceUID:    in.Command.AffectedSOPInstanceUID,
		CommandDataSetType:        dimse.NoDataSet,
		Status:                    status,
	}
	return c.writeMessage(in.ContextID, rsp, nil)
}

func (c *Client) writeMessage(contextID byte, command *dimse.Message, data []byte) error {
	err := pdu.WriteMessage(c.conn, contextID, c.sendMaxPDULength, dimse.EncodeCommand(command), data)
	if err != nil {
		return dicomerrors.NewNetworkError("data transfer", err)
	}
	return nil
}
