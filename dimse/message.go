package dimse

// DIMSE Command types
const (
	CStoreRQ  uint16 = 0x0001
	CStoreRSP uint16 = 0x8001
	CGetRQ    uint16 = 0x0010
	CGetRSP   uint16 = 0x8010
	CEchoRQ   uint16 = 0x0030
	CEchoRSP  uint16 = 0x8030
)

// DIMSE Status codes
const (
	StatusSuccess uint16 = 0x0000
	StatusPending uint16 = 0xFF00
	StatusFailure uint16 = 0xC000
)

// NoDataSet is the CommandDataSetType value indicating the command carries
// no dataset.
const NoDataSet uint16 = 0x0101

// Message represents a parsed DIMSE command
type Message struct {
	CommandField              uint16
	MessageID                 uint16
	MessageIDBeingRespondedTo uint16
	AffectedSOPClassUID       string
	AffectedSOPInstanceUID    string
	Priority                  uint16
	CommandDataSetType        uint16
	Status                    uint16

	// C-GET response counters
	NumberOfRemainingSuboperations *uint16
	NumberOfCompletedSuboperations *uint16
	NumberOfFailedSuboperations    *uint16
	NumberOfWarningSuboperations   *uint16
}

// HasDataSet reports whether the command announces an accompanying dataset.
func (m *Message) HasDataSet() bool {
	return m.CommandDataSetType != NoDataSet
}

// IsResponse reports whether the command field is a response command.
func (m *Message) IsResponse() bool {
	return m.CommandField&0x8000 != 0
}

// IsPending reports whether a response status indicates more responses follow.
func IsPending(status uint16) bool {
	return status == StatusPending || status == 0xFF01
}

// ResponseCommandFor maps a DIMSE request command to its corresponding response command.
func ResponseCommandFor(request uint16) uint16 {
	switch request {
	case CStoreRQ:
		return CStoreRSP
	case CGetRQ:
		return CGetRSP
	case CEchoRQ:
		return CEchoRSP
	default:
		return request | 0x8000
	}
}
