// Package pdu encodes and decodes the upper layer protocol data units:
// associate request/accept/reject, P-DATA-TF, release and abort. The engine
// owns the transport; this package only deals in bytes.
package pdu

import (
	"encoding/binary"
	"fmt"
	"io"
)

// PDU types
const (
	TypeAssociateRQ = 0x01
	TypeAssociateAC = 0x02
	TypeAssociateRJ = 0x03
	TypePDataTF     = 0x04
	TypeReleaseRQ   = 0x05
	TypeReleaseRP   = 0x06
	TypeAbort       = 0x07
)

// Variable item types shared by the associate PDUs.
const (
	itemApplicationContext    = 0x10
	itemPresentationContextRQ = 0x20
	itemPresentationContextAC = 0x21
	itemAbstractSyntax        = 0x30
	itemTransferSyntax        = 0x40
	itemUserInformation       = 0x50
	subItemMaxLength          = 0x51
	subItemImplClassUID       = 0x52
	subItemImplVersionName    = 0x55
)

// PDU represents a Protocol Data Unit
type PDU struct {
	Type   byte
	Length uint32
	Data   []byte
}

// ReadPDU reads one complete PDU: a 6-byte header (type, reserved, 4-byte
// big-endian length) followed by the payload.
func ReadPDU(r io.Reader) (*PDU, error) {
	header := make([]byte, 6)
	if _, err := io.ReadFull(r, header); err != nil {
		return nil, err
	}

	pduType := header[0]
	pduLength := binary.BigEndian.Uint32(header[2:6])

	data := make([]byte, pduLength)
	if _, err := io.ReadFull(r, data); err != nil {
		return nil, fmt.Errorf("failed to read PDU data: %w", err)
	}

	return &PDU{
		Type:   pduType,
		Length: pduLength,
		Data:   data,
	}, nil
}

// WritePDU frames data with a PDU header and writes it in one call.
func WritePDU(w io.Writer, pduType byte, data []byte) error {
	buf := make([]byte, 0, 6+len(data))
	buf = append(buf, pduType, 0x00)
	buf = binary.BigEndian.AppendUint32(buf, uint32(len(data)))
	buf = append(buf, data...)

	if _, err := w.Write(buf); err != nil {
		return fmt.Errorf("failed to write PDU: %w", err)
	}
	return nil
}
