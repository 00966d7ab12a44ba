package pdu

import (
	"encoding/binary"
	"fmt"
	"strings"

	"github.com/caio-sobreiro/dicomscu/assoc"
	dicomerrors "github.com/caio-sobreiro/dicomscu/errors"
	"github.com/caio-sobreiro/dicomscu/uid"
)

// appendItem appends a variable item: type, reserved, 2-byte big-endian
// length, value.
func appendItem(buf []byte, itemType byte, value []byte) []byte {
	buf = append(buf, itemType, 0x00)
	buf = binary.BigEndian.AppendUint16(buf, uint16(len(value)))
	return append(buf, value...)
}

// padAETitle space-pads an AE title to the fixed 16-byte field.
func padAETitle(title string) []byte {
	field := []byte(fmt.Sprintf("%-16s", title))
	return field[:16]
}

func trimAETitle(field []byte) string {
	value := string(field)
	if idx := strings.IndexByte(value, 0); idx != -1 {
		value = value[:idx]
	}
	return strings.TrimSpace(value)
}

func normalizeUID(raw []byte) string {
	return strings.TrimRight(string(raw), "\x00 ")
}

// EncodeAssociateRQ builds the A-ASSOCIATE-RQ payload from the association
// ledger: fixed fields, application context, one presentation context item
// per ledger entry with its full proposal list, and the user information
// item carrying the negotiation parameters.
func EncodeAssociateRQ(a *assoc.Association) []byte {
	buf := make([]byte, 0, 1024)

	// Protocol version (2 bytes) + reserved (2 bytes)
	buf = append(buf, 0x00, 0x01, 0x00, 0x00)

	buf = append(buf, padAETitle(a.CalledAETitle())...)
	buf = append(buf, padAETitle(a.CallingAETitle())...)

	// Reserved (32 bytes)
	buf = append(buf, make([]byte, 32)...)

	buf = appendItem(buf, itemApplicationContext, []byte(uid.ApplicationContextUID))

	for _, ctx := range a.PresentationContexts() {
		var item []byte
		item = append(item, ctx.ID(), 0x00, 0x00, 0x00)
		item = appendItem(item, itemAbstractSyntax, []byte(ctx.AbstractSyntaxUID()))
		for _, ts := range ctx.TransferSyntaxUIDs() {
			item = appendItem(item, itemTransferSyntax, []byte(ts))
		}
		buf = appendItem(buf, itemPresentationContextRQ, item)
	}

	buf = appendItem(buf, itemUserInformation, encodeUserInformation(
		a.MaxPDULength, a.ImplementationClassUID, a.ImplementationVersionName))

	return buf
}

func encodeUserInformation(maxPDULength uint32, implClassUID, implVersionName string) []byte {
	var ui []byte
	maxLength := binary.BigEndian.AppendUint32(nil, maxPDULength)
	ui = appendItem(ui, subItemMaxLength, maxLength)
	ui = appendItem(ui, subItemImplClassUID, []byte(implClassUID))
	ui = appendItem(ui, subItemImplVersionName, []byte(implVersionName))
	return ui
}

// DecodeAssociateAC parses an A-ASSOCIATE-AC payload and records each
// presentation context result into the ledger. Contexts the peer omitted
// from the accept stay Pending, which the engine treats as not accepted.
// Returns the peer's maximum PDU length (0 if it sent none).
func DecodeAssociateAC(data []byte, a *assoc.Association) (uint32, error) {
	if len(data) < 68 {
		return 0, dicomerrors.NewPDUError(TypeAssociateAC,
			fmt.Sprintf("payload too short: %d bytes", len(data)))
	}

	var peerMaxPDULength uint32

	// Variable items start after the 68 fixed bytes.
	offset := 68
	for offset+4 <= len(data) {
		itemType := data[offset]
		itemLength := binary.BigEndian.Uint16(data[offset+2 : offset+4])
		itemEnd := offset + 4 + int(itemLength)
		if itemEnd > len(data) {
			return 0, dicomerrors.NewPDUError(TypeAssociateAC, "item exceeds PDU length")
		}
		itemData := data[offset+4 : itemEnd]

		switch itemType {
		case itemPresentationContextAC:
			if err := decodeContextResult(itemData, a); err != nil {
				return 0, err
			}
		case itemUserInformation:
			maxPDU, err := decodeUserInformation(itemData)
			if err != nil {
				return 0, err
			}
			peerMaxPDULength = maxPDU
		}

		offset = itemEnd
	}

	return peerMaxPDULength, nil
}

func decodeContextResult(itemData []byte, a *assoc.Association) error {
	if len(itemData) < 4 {
		return dicomerrors.NewPDUError(TypeAssociateAC, "presentation context item too short")
	}

	contextID := itemData[0]
	result := assoc.Result(itemData[2])
	if result > assoc.TransferSyntaxesNotSupported {
		return dicomerrors.NewPDUError(TypeAssociateAC,
			fmt.Sprintf("unknown presentation context result 0x%02x", byte(result)))
	}

	transferSyntax := ""
	subOffset := 4
	for subOffset+4 <= len(itemData) {
		subItemType := itemData[subOffset]
		subItemLength := binary.BigEndian.Uint16(itemData[subOffset+2 : subOffset+4])
		subItemEnd := subOffset + 4 + int(subItemLength)
		if subItemEnd > len(itemData) {
			return dicomerrors.NewPDUError(TypeAssociateAC, "presentation context sub-item exceeds length")
		}

		if subItemType == itemTransferSyntax && subItemLength > 0 {
			transferSyntax = normalizeUID(itemData[subOffset+4 : subItemEnd])
		}

		subOffset = subItemEnd
	}

	ctx, err := a.PresentationContext(contextID)
	if err != nil {
		return dicomerrors.NewPDUError(TypeAssociateAC,
			fmt.Sprintf("result for unknown presentation context %d", contextID))
	}

	return ctx.SetResult(result, transferSyntax)
}

func decodeUserInformation(data []byte) (uint32, error) {
	offset := 0
	var maxPDULength uint32

	for offset+4 <= len(data) {
		subItemType := data[offset]
		subItemLength := binary.BigEndian.Uint16(data[offset+2 : offset+4])
		valueEnd := offset + 4 + int(subItemLength)
		if valueEnd > len(data) {
			return 0, dicomerrors.NewPDUError(TypeAssociateAC, "user information sub-item exceeds length")
		}

		if subItemType == subItemMaxLength && subItemLength == 4 {
			maxPDULength = binary.BigEndian.Uint32(data[offset+4 : valueEnd])
		}

		offset = valueEnd
	}

	return maxPDULength, nil
}

// DecodeAssociateRJ parses an A-ASSOCIATE-RJ payload.
func DecodeAssociateRJ(data []byte) (dicomerrors.AssociationRejectResult, dicomerrors.AssociationRejectSource, dicomerrors.AssociationRejectReason, error) {
	if len(data) < 4 {
		return 0, 0, 0, dicomerrors.NewPDUError(TypeAssociateRJ,
			fmt.Sprintf("payload too short: %d bytes", len(data)))
	}

	return dicomerrors.AssociationRejectResult(data[1]),
		dicomerrors.AssociationRejectSource(data[2]),
		dicomerrors.AssociationRejectReason(data[3]),
		nil
}

// EncodeAssociateRJ builds an A-ASSOCIATE-RJ payload.
func EncodeAssociateRJ(result dicomerrors.AssociationRejectResult, source dicomerrors.AssociationRejectSource, reason dicomerrors.AssociationRejectReason) []byte {
	return []byte{0x00, byte(result), byte(source), byte(reason)}
}

// ProposedContext is one presentation context item from a decoded
// A-ASSOCIATE-RQ.
type ProposedContext struct {
	ID                 byte
	AbstractSyntaxUID  string
	TransferSyntaxUIDs []string
}

// AssociateRQ is the acceptor-side view of an A-ASSOCIATE-RQ.
type AssociateRQ struct {
	CalledAETitle    string
	CallingAETitle   string
	MaxPDULength     uint32
	ProposedContexts []ProposedContext
}

// DecodeAssociateRQ parses an A-ASSOCIATE-RQ payload, acceptor side.
func DecodeAssociateRQ(data []byte) (*AssociateRQ, error) {
	if len(data) < 68 {
		return nil, dicomerrors.NewPDUError(TypeAssociateRQ,
			fmt.Sprintf("payload too short: %d bytes", len(data)))
	}

	rq := &AssociateRQ{
		CalledAETitle:  trimAETitle(data[4:20]),
		CallingAETitle: trimAETitle(data[20:36]),
	}

	offset := 68
	for offset+4 <= len(data) {
		itemType := data[offset]
		itemLength := binary.BigEndian.Uint16(data[offset+2 : offset+4])
		itemEnd := offset + 4 + int(itemLength)
		if itemEnd > len(data) {
			return nil, dicomerrors.NewPDUError(TypeAssociateRQ, "item exceeds PDU length")
		}
		itemData := data[offset+4 : itemEnd]

		switch itemType {
		case itemPresentationContextRQ:
			ctx, err := decodeProposedContext(itemData)
			if err != nil {
				return nil, err
			}
			rq.ProposedContexts = append(rq.ProposedContexts, ctx)
		case itemUserInformation:
			maxPDU, err := decodeUserInformation(itemData)
			if err != nil {
				return nil, err
			}
			rq.MaxPDULength = maxPDU
		}

		offset = itemEnd
	}

	return rq, nil
}

func decodeProposedContext(itemData []byte) (ProposedContext, error) {
	if len(itemData) < 4 {
		return ProposedContext{}, dicomerrors.NewPDUError(TypeAssociateRQ,
			"presentation context item too short")
	}

	ctx := ProposedContext{ID: itemData[0]}

	subOffset := 4
	for subOffset+4 <= len(itemData) {
		subItemType := itemData[subOffset]
		subItemLength := binary.BigEndian.Uint16(itemData[subOffset+2 : subOffset+4])
		subItemEnd := subOffset + 4 + int(subItemLength)
		if subItemEnd > len(itemData) {
			return ProposedContext{}, dicomerrors.NewPDUError(TypeAssociateRQ,
				fmt.Sprintf("presentation context %d sub-item exceeds length", ctx.ID))
		}

		value := itemData[subOffset+4 : subItemEnd]
		switch subItemType {
		case itemAbstractSyntax:
			ctx.AbstractSyntaxUID = normalizeUID(value)
		case itemTransferSyntax:
			ctx.TransferSyntaxUIDs = append(ctx.TransferSyntaxUIDs, normalizeUID(value))
		}

		subOffset = subItemEnd
	}

	if ctx.AbstractSyntaxUID == "" {
		return ProposedContext{}, dicomerrors.NewPDUError(TypeAssociateRQ,
			fmt.Sprintf("presentation context %d missing abstract syntax", ctx.ID))
	}

	return ctx, nil
}

// ContextResult is one negotiated context outcome for an A-ASSOCIATE-AC.
// TransferSyntaxUID is encoded only when the result is acceptance.
type ContextResult struct {
	ID                byte
	Result            assoc.Result
	TransferSyntaxUID string
}

// EncodeAssociateAC builds an A-ASSOCIATE-AC payload, acceptor side.
func EncodeAssociateAC(calledAETitle, callingAETitle string, results []ContextResult, maxPDULength uint32, implClassUID, implVersionName string) []byte {
	buf := make([]byte, 0, 1024)

	buf = append(buf, 0x00, 0x01, 0x00, 0x00)
	buf = append(buf, padAETitle(calledAETitle)...)
	buf = append(buf, padAETitle(callingAETitle)...)
	buf = append(buf, make([]byte, 32)...)

	buf = appendItem(buf, itemApplicationContext, []byte(uid.ApplicationContextUID))

	for _, res := range results {
		var item []byte
		item = append(item, res.ID, 0x00, byte(res.Result), 0x00)
		if res.Result == assoc.Accepted {
			item = appendItem(item, itemTransferSyntax, []byte(res.TransferSyntaxUID))
		}
		buf = appendItem(buf, itemPresentationContextAC, item)
	}

	buf = appendItem(buf, itemUserInformation,
		encodeUserInformation(maxPDULength, implClassUID, implVersionName))

	return buf
}
