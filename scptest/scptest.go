// Package scptest provides a scriptable in-process SCP peer for end-to-end
// tests: it accepts (or rejects, or ignores) one association at a time,
// answers echo and store requests, and can push scripted C-STORE
// sub-operations back in response to a C-GET.
package scptest

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"sync"

	"github.com/caio-sobreiro/dicomscu/assoc"
	"github.com/caio-sobreiro/dicomscu/dimse"
	dicomerrors "github.com/caio-sobreiro/dicomscu/errors"
	"github.com/caio-sobreiro/dicomscu/pdu"
	"github.com/caio-sobreiro/dicomscu/uid"
)

// Rejection scripts an A-ASSOCIATE-RJ answer.
type Rejection struct {
	Result dicomerrors.AssociationRejectResult
	Source dicomerrors.AssociationRejectSource
	Reason dicomerrors.AssociationRejectReason
}

// SubOperation is one instance pushed back as a C-STORE during a C-GET.
type SubOperation struct {
	SOPClassUID    string
	SOPInstanceUID string
	Data           []byte
}

// ReceivedStore records one C-STORE-RQ the server accepted.
type ReceivedStore struct {
	ContextID      byte
	SOPClassUID    string
	SOPInstanceUID string
	Data           []byte
}

// Behavior scripts the server. The zero value accepts every association and
// answers every request with success.
type Behavior struct {
	// Reject refuses every association with the given result/source/reason.
	Reject *Rejection

	// Silent accepts the association, then never answers another PDU, to
	// trip the client's inactivity timeout.
	Silent bool

	// AbortAfterAccept accepts the association, then answers the first
	// request PDU with an A-ABORT.
	AbortAfterAccept bool

	// CloseAfterAccept accepts the association, reads one request PDU and
	// drops the connection without replying.
	CloseAfterAccept bool

	// GetStatus overrides the final C-GET response status
	// (default: success).
	GetStatus uint16

	// SupportedTransferSyntaxes accepted during negotiation, in server
	// preference order. Default: implicit then explicit VR little endian.
	SupportedTransferSyntaxes []string

	// SupportsAbstractSyntax decides per-context acceptance. Default:
	// accept everything.
	SupportsAbstractSyntax func(abstractSyntaxUID string) bool

	// GetSubOperations are pushed back, in order, for each C-GET-RQ,
	// interleaved with pending responses.
	GetSubOperations []SubOperation

	// EchoStatus and StoreStatus override the response statuses
	// (default: success).
	EchoStatus  uint16
	StoreStatus uint16
}

// Server is a single-connection-at-a-time test SCP.
type Server struct {
	AETitle  string
	Behavior Behavior
	Logger   *slog.Logger

	listener net.Listener
	wg       sync.WaitGroup

	mu       sync.Mutex
	received []ReceivedStore
	aborts   int
}

// New builds a server with the given script.
func New(behavior Behavior) *Server {
	return &Server{
		AETitle:  "TEST_SCP",
		Behavior: behavior,
		Logger:   slog.Default(),
	}
}

// Start listens on an ephemeral loopback port and serves until Close.
func (s *Server) Start() (string, error) {
	listener, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		return "", err
	}
	s.listener = listener

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		for {
			conn, err := listener.Accept()
			if err != nil {
				return
			}
			s.wg.Add(1)
			go func(c net.Conn) {
				defer s.wg.Done()
				s.handleConnection(c)
			}(conn)
		}
	}()

	return listener.Addr().String(), nil
}

// Close stops the listener and waits for in-flight connections.
func (s *Server) Close() {
	if s.listener != nil {
		s.listener.Close()
	}
	s.wg.Wait()
}

// ReceivedStores returns the C-STORE requests handled so far.
func (s *Server) ReceivedStores() []ReceivedStore {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]ReceivedStore, len(s.received))
	copy(out, s.received)
	return out
}

// AbortsReceived returns how many A-ABORT PDUs clients have sent.
func (s *Server) AbortsReceived() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.aborts
}

func (s *Server) recordStore(store ReceivedStore) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.received = append(s.received, store)
}

func (s *Server) recordAbort() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.aborts++
}

// session is the per-connection state.
type session struct {
	server   *Server
	conn     net.Conn
	reader   pdu.MessageReader
	contexts map[byte]acceptedContext

	// maxPDULength is the client's announced receive maximum.
	maxPDULength  uint32
	nextMessageID uint16
}

type acceptedContext struct {
	abstractSyntaxUID string
	transferSyntaxUID string
}

func (s *Server) handleConnection(conn net.Conn) {
	defer conn.Close()

	sess := &session{
		server:       s,
		conn:         conn,
		contexts:     make(map[byte]acceptedContext),
		maxPDULength: assoc.DefaultMaxPDULength,
	}

	if err := sess.run(); err != nil && !errors.Is(err, io.EOF) {
		s.Logger.Debug("Test SCP connection ended", "error", err)
	}
}

func (sess *session) run() error {
	p, err := pdu.ReadPDU(sess.conn)
	if err != nil {
		return err
	}
	if p.Type != pdu.TypeAssociateRQ {
		return fmt.Errorf("expected A-ASSOCIATE-RQ, got PDU type 0x%02x", p.Type)
	}

	rq, err := pdu.DecodeAssociateRQ(p.Data)
	if err != nil {
		return err
	}
	if rq.MaxPDULength > 0 {
		sess.maxPDULength = rq.MaxPDULength
	}

	behavior := sess.server.Behavior

	if behavior.Reject != nil {
		payload := pdu.EncodeAssociateRJ(
			behavior.Reject.Result, behavior.Reject.Source, behavior.Reject.Reason)
		return pdu.WritePDU(sess.conn, pdu.TypeAssociateRJ, payload)
	}

	results := sess.negotiate(rq)
	payload := pdu.EncodeAssociateAC(rq.CalledAETitle, rq.CallingAETitle, results,
		assoc.DefaultMaxPDULength, assoc.DefaultImplementationClassUID, "TEST_SCP_1_0")
	if err := pdu.WritePDU(sess.conn, pdu.TypeAssociateAC, payload); err != nil {
		return err
	}

	switch {
	case behavior.Silent:
		// Swallow everything until the client gives up, noting any
		// abort it sends on the way out.
		for {
			p, err := pdu.ReadPDU(sess.conn)
			if err != nil {
				return nil
			}
			if p.Type == pdu.TypeAbort {
				sess.server.recordAbort()
			}
		}
	case behavior.AbortAfterAccept:
		if _, err := pdu.ReadPDU(sess.conn); err != nil {
			return err
		}
		return pdu.WritePDU(sess.conn, pdu.TypeAbort,
			pdu.EncodeAbort(pdu.AbortSourceServiceProvider, pdu.AbortReasonNotSpecified))
	case behavior.CloseAfterAccept:
		if _, err := pdu.ReadPDU(sess.conn); err != nil {
			return err
		}
		return io.EOF
	}

	return sess.serve()
}

// negotiate accepts each proposed context whose abstract syntax the script
// supports, choosing the first transfer syntax this server recognizes.
func (sess *session) negotiate(rq *pdu.AssociateRQ) []pdu.ContextResult {
	behavior := sess.server.Behavior

	supported := behavior.SupportedTransferSyntaxes
	if len(supported) == 0 {
		supported = []string{uid.ImplicitVRLittleEndian, uid.ExplicitVRLittleEndian}
	}
	supportsAbstract := behavior.SupportsAbstractSyntax
	if supportsAbstract == nil {
		supportsAbstract = func(string) bool { return true }
	}

	results := make([]pdu.ContextResult, 0, len(rq.ProposedContexts))
	for _, proposed := range rq.ProposedContexts {
		res := pdu.ContextResult{ID: proposed.ID, Result: assoc.AbstractSyntaxNotSupported}

		if supportsAbstract(proposed.AbstractSyntaxUID) {
			res.Result = assoc.TransferSyntaxesNotSupported
			for _, ts := range supported {
				if containsString(proposed.TransferSyntaxUIDs, ts) {
					res.Result = assoc.Accepted
					res.TransferSyntaxUID = ts
					break
				}
			}
		}

		if res.Result == assoc.Accepted {
			sess.contexts[proposed.ID] = acceptedContext{
				abstractSyntaxUID: proposed.AbstractSyntaxUID,
				transferSyntaxUID: res.TransferSyntaxUID,
			}
		}
		results = append(results, res)
	}

	return results
}

func containsString(list []string, want string) bool {
	for _, item := range list {
		if item == want {
			return true
		}
	}
	return false
}

func (sess *session) serve() error {
	for {
		p, err := pdu.ReadPDU(sess.conn)
		if err != nil {
			return err
		}

		switch p.Type {
		case pdu.TypePDataTF:
			in, err := sess.reader.Feed(p.Data)
			if err != nil {
				return err
			}
			if in == nil {
				continue
			}
			if err := sess.dispatch(in); err != nil {
				return err
			}
		case pdu.TypeReleaseRQ:
			if err := pdu.WritePDU(sess.conn, pdu.TypeReleaseRP, pdu.EncodeReleaseRP()); err != nil {
				return err
			}
			return io.EOF
		case pdu.TypeAbort:
			return io.EOF
		default:
			return fmt.Errorf("unexpected PDU type 0x%02x", p.Type)
		}
	}
}

func (sess *session) dispatch(in *pdu.IncomingMessage) error {
	switch in.Command.CommandField {
	case dimse.CEchoRQ:
		return sess.respond(in, dimse.CEchoRSP, sess.server.Behavior.EchoStatus, nil)
	case dimse.CStoreRQ:
		sess.server.recordStore(ReceivedStore{
			ContextID:      in.ContextID,
			SOPClassUID:    in.Command.AffectedSOPClassUID,
			SOPInstanceUID: in.Command.AffectedSOPInstanceUID,
			Data:           in.Data,
		})
		return sess.respond(in, dimse.CStoreRSP, sess.server.Behavior.StoreStatus, nil)
	case dimse.CGetRQ:
		return sess.handleGet(in)
	default:
		return fmt.Errorf("unsupported command 0x%04x", in.Command.CommandField)
	}
}

func (sess *session) respond(in *pdu.IncomingMessage, commandField, status uint16, extra func(*dimse.Message)) error {
	rsp := &dimse.Message{
		CommandField:              commandField,
		MessageIDBeingRespondedTo: in.Command.MessageID,
		AffectedSOPClassUID:       in.Command.AffectedSOPClassUID,
		AffectedSOPInstanceUID:    in.Command.AffectedSOPInstanceUID,
		CommandDataSetType:        dimse.NoDataSet,
		Status:                    status,
	}
	if extra != nil {
		extra(rsp)
	}
	return pdu.WriteMessage(sess.conn, in.ContextID, sess.maxPDULength, dimse.EncodeCommand(rsp), nil)
}

// handleGet pushes the scripted sub-operations back as C-STORE requests,
// each followed by a pending C-GET response, then the final response.
func (sess *session) handleGet(in *pdu.IncomingMessage) error {
	subOps := sess.server.Behavior.GetSubOperations
	total := uint16(len(subOps))

	for i, subOp := range subOps {
		if err := sess.pushStore(subOp); err != nil {
			return err
		}

		remaining := total - uint16(i) - 1
		completed := uint16(i) + 1
		err := sess.respond(in, dimse.CGetRSP, dimse.StatusPending, func(rsp *dimse.Message) {
			rsp.AffectedSOPInstanceUID = ""
			rsp.NumberOfRemainingSuboperations = &remaining
			rsp.NumberOfCompletedSuboperations = &completed
		})
		if err != nil {
			return err
		}
	}

	completed := total
	var failed uint16
	return sess.respond(in, dimse.CGetRSP, sess.server.Behavior.GetStatus, func(rsp *dimse.Message) {
		rsp.AffectedSOPInstanceUID = ""
		rsp.NumberOfCompletedSuboperations = &completed
		rsp.NumberOfFailedSuboperations = &failed
	})
}

// pushStore sends one C-STORE-RQ on the accepted context for the instance's
// SOP class and waits for the client's response.
func (sess *session) pushStore(subOp SubOperation) error {
	contextID, ok := sess.contextForAbstractSyntax(subOp.SOPClassUID)
	if !ok {
		return fmt.Errorf("no accepted context for storage class %s", subOp.SOPClassUID)
	}

	sess.nextMessageID++
	command := &dimse.Message{
		CommandField:           dimse.CStoreRQ,
		MessageID:              sess.nextMessageID,
		Priority:               0x0002,
		AffectedSOPClassUID:    subOp.SOPClassUID,
		AffectedSOPInstanceUID: subOp.SOPInstanceUID,
		CommandDataSetType:     0x0000,
	}

	data := subOp.Data
	if len(data) == 0 {
		data = minimalInstance(subOp.SOPClassUID, subOp.SOPInstanceUID)
	}

	err := pdu.WriteMessage(sess.conn, contextID, sess.maxPDULength, dimse.EncodeCommand(command), data)
	if err != nil {
		return err
	}

	// Wait for the client's C-STORE-RSP before the next PDU.
	for {
		p, err := pdu.ReadPDU(sess.conn)
		if err != nil {
			return err
		}
		if p.Type != pdu.TypePDataTF {
			return fmt.Errorf("expected C-STORE-RSP, got PDU type 0x%02x", p.Type)
		}

		in, err := sess.reader.Feed(p.Data)
		if err != nil {
			return err
		}
		if in == nil {
			continue
		}
		if in.Command.CommandField != dimse.CStoreRSP {
			return fmt.Errorf("expected C-STORE-RSP, got command 0x%04x", in.Command.CommandField)
		}
		if in.Command.MessageIDBeingRespondedTo != command.MessageID {
			return fmt.Errorf("C-STORE-RSP for message %d, want %d",
				in.Command.MessageIDBeingRespondedTo, command.MessageID)
		}
		return nil
	}
}

func (sess *session) contextForAbstractSyntax(abstractSyntaxUID string) (byte, bool) {
	for id, ctx := range sess.contexts {
		if ctx.abstractSyntaxUID == abstractSyntaxUID {
			return id, true
		}
	}
	return 0, false
}

// minimalInstance builds a tiny implicit VR dataset naming the instance.
func minimalInstance(sopClassUID, sopInstanceUID string) []byte {
	var buf []byte
	buf = appendImplicitString(buf, 0x0008, 0x0016, sopClassUID)
	buf = appendImplicitString(buf, 0x0008, 0x0018, sopInstanceUID)
	return buf
}

func appendImplicitString(buf []byte, group, element uint16, value string) []byte {
	if len(value)%2 == 1 {
		value += "\x00"
	}
	buf = binary.LittleEndian.AppendUint16(buf, group)
	buf = binary.LittleEndian.AppendUint16(buf, element)
	buf = binary.LittleEndian.AppendUint32(buf, uint32(len(value)))
	return append(buf, []byte(value)...)
}
