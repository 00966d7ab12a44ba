package pdu

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/caio-sobreiro/dicomscu/dimse"
	dicomerrors "github.com/caio-sobreiro/dicomscu/errors"
	"github.com/caio-sobreiro/dicomscu/uid"
)

func TestWriteMessage_ReadBack(t *testing.T) {
	command := dimse.EncodeCommand(&dimse.Message{
		CommandField:        dimse.CEchoRQ,
		MessageID:           1,
		AffectedSOPClassUID: uid.VerificationSOPClass,
		CommandDataSetType:  dimse.NoDataSet,
	})

	var buf bytes.Buffer
	require.NoError(t, WriteMessage(&buf, 1, 16384, command, nil))

	p, err := ReadPDU(&buf)
	require.NoError(t, err)
	assert.Equal(t, byte(TypePDataTF), p.Type)

	var reader MessageReader
	msg, err := reader.Feed(p.Data)
	require.NoError(t, err)
	require.NotNil(t, msg)

	assert.Equal(t, byte(1), msg.ContextID)
	assert.Equal(t, uint16(dimse.CEchoRQ), msg.Command.CommandField)
	assert.False(t, msg.Command.HasDataSet())
	assert.Empty(t, msg.Data)
}

func TestWriteMessage_FragmentsLargeDataset(t *testing.T) {
	command := dimse.EncodeCommand(&dimse.Message{
		CommandField:           dimse.CStoreRQ,
		MessageID:              7,
		Priority:               0x0002,
		AffectedSOPClassUID:    uid.CTImageStorage,
		AffectedSOPInstanceUID: "1.2.3.4.5",
		CommandDataSetType:     0x0000,
	})

	dataset := make([]byte, 1000)
	for i := range dataset {
		dataset[i] = byte(i)
	}

	// Small max PDU length forces multiple fragments.
	const maxPDULength = 128

	var buf bytes.Buffer
	require.NoError(t, WriteMessage(&buf, 3, maxPDULength, command, dataset))

	var reader MessageReader
	var msg *IncomingMessage
	pduCount := 0
	for msg == nil {
		p, err := ReadPDU(&buf)
		require.NoError(t, err)
		require.Equal(t, byte(TypePDataTF), p.Type)
		assert.LessOrEqual(t, len(p.Data), maxPDULength-6)
		pduCount++

		msg, err = reader.Feed(p.Data)
		require.NoError(t, err)
	}

	assert.Greater(t, pduCount, 2, "1000-byte dataset must not fit one %d-byte PDU", maxPDULength)
	assert.Equal(t, byte(3), msg.ContextID)
	assert.Equal(t, uint16(dimse.CStoreRQ), msg.Command.CommandField)
	assert.Equal(t, "1.2.3.4.5", msg.Command.AffectedSOPInstanceUID)
	assert.Equal(t, dataset, msg.Data)
	assert.Equal(t, 0, buf.Len(), "no trailing bytes expected")
}

func TestMessageReader_ResetsBetweenMessages(t *testing.T) {
	var buf bytes.Buffer
	for id := uint16(1); id <= 2; id++ {
		command := dimse.EncodeCommand(&dimse.Message{
			CommandField:       dimse.CEchoRQ,
			MessageID:          id,
			CommandDataSetType: dimse.NoDataSet,
		})
		require.NoError(t, WriteMessage(&buf, 1, 16384, command, nil))
	}

	var reader MessageReader
	for id := uint16(1); id <= 2; id++ {
		p, err := ReadPDU(&buf)
		require.NoError(t, err)
		msg, err := reader.Feed(p.Data)
		require.NoError(t, err)
		require.NotNil(t, msg)
		assert.Equal(t, id, msg.Command.MessageID)
	}
}

func TestMessageReader_MalformedPDV(t *testing.T) {
	var reader MessageReader

	tests := []struct {
		name    string
		payload []byte
	}{
		{"truncated header", []byte{0x00, 0x00, 0x00}},
		{"length exceeds payload", []byte{0x00, 0x00, 0xFF, 0x00, 0x01, 0x03}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := reader.Feed(tt.payload)
			assert.ErrorIs(t, err, dicomerrors.ErrInvalidPDU)
		})
	}
}
