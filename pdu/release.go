package pdu

// Abort sources (who initiated the abort).
const (
	AbortSourceServiceUser     byte = 0x00
	AbortSourceServiceProvider byte = 0x02
)

// Abort reasons, meaningful only when the source is the service provider.
const (
	AbortReasonNotSpecified     byte = 0x00
	AbortReasonUnrecognizedPDU  byte = 0x01
	AbortReasonUnexpectedPDU    byte = 0x02
	AbortReasonInvalidParameter byte = 0x06
)

// EncodeReleaseRQ builds the A-RELEASE-RQ payload (4 reserved bytes).
func EncodeReleaseRQ() []byte {
	return make([]byte, 4)
}

// EncodeReleaseRP builds the A-RELEASE-RP payload (4 reserved bytes).
func EncodeReleaseRP() []byte {
	return make([]byte, 4)
}

// EncodeAbort builds the A-ABORT payload.
func EncodeAbort(source, reason byte) []byte {
	return []byte{0x00, 0x00, source, reason}
}

// DecodeAbort extracts source and reason from an A-ABORT payload. Truncated
// payloads decode as (0, 0): abort is terminal either way.
func DecodeAbort(data []byte) (source, reason byte) {
	if len(data) >= 4 {
		return data[2], data[3]
	}
	return 0, 0
}
