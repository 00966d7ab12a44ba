package pdu

import (
	"encoding/binary"
	"fmt"
	"io"

	"github.com/caio-sobreiro/dicomscu/dimse"
	dicomerrors "github.com/caio-sobreiro/dicomscu/errors"
)

// Message control header bits of a PDV.
const (
	pdvCommand      byte = 0x01
	pdvLastFragment byte = 0x02
)

// WriteMessage sends one DIMSE message (encoded command plus optional
// dataset) as P-DATA-TF PDUs over the given context, fragmenting PDVs so no
// PDU exceeds maxPDULength.
func WriteMessage(w io.Writer, presContextID byte, maxPDULength uint32, commandData, datasetData []byte) error {
	if err := writeFragments(w, presContextID, maxPDULength, commandData, true); err != nil {
		return err
	}
	if len(datasetData) > 0 {
		return writeFragments(w, presContextID, maxPDULength, datasetData, false)
	}
	return nil
}

func writeFragments(w io.Writer, presContextID byte, maxPDULength uint32, data []byte, isCommand bool) error {
	// Max data per PDV: PDU length minus PDU header minus PDV header.
	maxPDVData := int(maxPDULength) - 6 - 6
	if maxPDVData < 1 {
		return fmt.Errorf("max PDU length %d leaves no room for PDV data", maxPDULength)
	}

	offset := 0
	for offset < len(data) {
		chunkSize := len(data) - offset
		lastFragment := true
		if chunkSize > maxPDVData {
			chunkSize = maxPDVData
			lastFragment = false
		}

		controlHeader := byte(0)
		if isCommand {
			controlHeader |= pdvCommand
		}
		if lastFragment {
			controlHeader |= pdvLastFragment
		}

		pdv := make([]byte, 0, 6+chunkSize)
		pdv = binary.BigEndian.AppendUint32(pdv, uint32(chunkSize+2))
		pdv = append(pdv, presContextID, controlHeader)
		pdv = append(pdv, data[offset:offset+chunkSize]...)

		if err := WritePDU(w, TypePDataTF, pdv); err != nil {
			return err
		}

		offset += chunkSize
	}

	return nil
}

// IncomingMessage is one fully reassembled DIMSE message.
type IncomingMessage struct {
	ContextID byte
	Command   *dimse.Message
	Data      []byte
}

// MessageReader reassembles DIMSE messages from P-DATA-TF payloads. The
// engine reads PDUs and feeds P-DATA-TF payloads here, which lets it handle
// release and abort PDUs arriving between fragments. The zero value is ready
// to use.
type MessageReader struct {
	contextID   byte
	commandData []byte
	datasetData []byte
	command     *dimse.Message
	commandDone bool
	datasetDone bool
}

// Feed consumes one P-DATA-TF payload. It returns the reassembled message
// once the final fragment arrives, nil while more fragments are expected,
// and resets itself after each complete message.
func (r *MessageReader) Feed(payload []byte) (*IncomingMessage, error) {
	offset := 0
	for offset < len(payload) {
		if offset+6 > len(payload) {
			return nil, dicomerrors.NewPDUError(TypePDataTF, "malformed PDV")
		}

		pdvLength := binary.BigEndian.Uint32(payload[offset : offset+4])
		end := offset + 4 + int(pdvLength)
		if pdvLength < 2 || end > len(payload) {
			return nil, dicomerrors.NewPDUError(TypePDataTF, "PDV length exceeds PDU payload")
		}

		r.contextID = payload[offset+4]
		controlHeader := payload[offset+5]
		value := payload[offset+6 : end]

		if controlHeader&pdvCommand != 0 {
			r.commandData = append(r.commandData, value...)
			if controlHeader&pdvLastFragment != 0 {
				command, err := dimse.DecodeCommand(r.commandData)
				if err != nil {
					return nil, fmt.Errorf("failed to decode command: %w", err)
				}
				r.command = command
				r.commandDone = true
				if !command.HasDataSet() {
					r.datasetDone = true
				}
			}
		} else {
			r.datasetData = append(r.datasetData, value...)
			if controlHeader&pdvLastFragment != 0 {
				r.datasetDone = true
			}
		}

		offset = end
	}

	if r.commandDone && r.datasetDone {
		msg := &IncomingMessage{
			ContextID: r.contextID,
			Command:   r.command,
			Data:      r.datasetData,
		}
		*r = MessageReader{}
		return msg, nil
	}

	return nil, nil
}
