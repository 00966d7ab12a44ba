package dicom

import (
	"encoding/binary"
	"fmt"
	"strings"

	"github.com/caio-sobreiro/dicomscu/uid"
)

// FileInfo summarizes a DICOM Part 10 file: the identifiers the SCU needs to
// negotiate and address a C-STORE, plus the bare dataset with the Part 10
// wrapper removed.
type FileInfo struct {
	SOPClassUID       string
	SOPInstanceUID    string
	TransferSyntaxUID string
	Dataset           []byte
}

// HasPart10Header checks if the data starts with a DICOM Part 10 header.
//
// Returns true if the data contains the 128-byte preamble followed by "DICM".
func HasPart10Header(data []byte) bool {
	if len(data) < 132 {
		return false
	}
	return string(data[128:132]) == "DICM"
}

// StripPart10Header removes the DICOM Part 10 preamble and File Meta
// Information to extract just the dataset, which is what DIMSE operations
// like C-STORE carry on the wire.
//
// DICOM Part 10 files contain a 128 byte preamble, a 4 byte "DICM" prefix,
// File Meta Information elements (group 0x0002, always Explicit VR Little
// Endian) and then the dataset itself.
func StripPart10Header(data []byte) ([]byte, error) {
	offset, _, err := parseFileMeta(data)
	if err != nil {
		return nil, err
	}
	return data[offset:], nil
}

// ReadFileInfo parses a Part 10 file far enough to extract the SOP class,
// SOP instance and transfer syntax UIDs, returning them together with the
// unwrapped dataset bytes.
func ReadFileInfo(data []byte) (*FileInfo, error) {
	offset, transferSyntax, err := parseFileMeta(data)
	if err != nil {
		return nil, err
	}

	if transferSyntax == "" {
		transferSyntax = uid.ExplicitVRLittleEndian
	}

	payload := data[offset:]
	dataset, err := ParseDatasetWithTransferSyntax(payload, transferSyntax)
	if err != nil {
		return nil, fmt.Errorf("failed to parse dataset: %w", err)
	}

	info := &FileInfo{
		SOPClassUID:       dataset.GetString(TagSOPClassUID),
		SOPInstanceUID:    dataset.GetString(TagSOPInstanceUID),
		TransferSyntaxUID: transferSyntax,
		Dataset:           payload,
	}

	if info.SOPClassUID == "" || info.SOPInstanceUID == "" {
		return nil, fmt.Errorf("dataset missing SOP class or instance UID")
	}

	return info, nil
}

// EncodePart10 wraps a bare dataset in the Part 10 header: 128-byte
// preamble, "DICM" prefix and the File Meta Information group derived from
// the instance identifiers. The dataset bytes are carried through untouched,
// so they must already be encoded in info.TransferSyntaxUID.
func EncodePart10(info *FileInfo) []byte {
	transferSyntax := info.TransferSyntaxUID
	if transferSyntax == "" {
		transferSyntax = uid.ExplicitVRLittleEndian
	}

	var meta []byte
	meta = appendMetaOB(meta, 0x0001, []byte{0x00, 0x01})
	meta = appendMetaUI(meta, 0x0002, info.SOPClassUID)
	meta = appendMetaUI(meta, 0x0003, info.SOPInstanceUID)
	meta = appendMetaUI(meta, 0x0010, transferSyntax)

	buf := make([]byte, 0, 132+12+len(meta)+len(info.Dataset))
	buf = append(buf, make([]byte, 128)...)
	buf = append(buf, "DICM"...)

	// (0002,0000) File Meta Information Group Length
	buf = binary.LittleEndian.AppendUint16(buf, 0x0002)
	buf = binary.LittleEndian.AppendUint16(buf, 0x0000)
	buf = append(buf, 'U', 'L')
	buf = binary.LittleEndian.AppendUint16(buf, 4)
	buf = binary.LittleEndian.AppendUint32(buf, uint32(len(meta)))

	buf = append(buf, meta...)
	return append(buf, info.Dataset...)
}

// appendMetaUI appends a group 0x0002 UI element in Explicit VR Little
// Endian, NUL padding the value to even length.
func appendMetaUI(buf []byte, element uint16, value string) []byte {
	if len(value)%2 == 1 {
		value += "\x00"
	}
	buf = binary.LittleEndian.AppendUint16(buf, 0x0002)
	buf = binary.LittleEndian.AppendUint16(buf, element)
	buf = append(buf, 'U', 'I')
	buf = binary.LittleEndian.AppendUint16(buf, uint16(len(value)))
	return append(buf, value...)
}

// appendMetaOB appends a group 0x0002 OB element, which carries the 32-bit
// length form with two reserved bytes.
func appendMetaOB(buf []byte, element uint16, value []byte) []byte {
	buf = binary.LittleEndian.AppendUint16(buf, 0x0002)
	buf = binary.LittleEndian.AppendUint16(buf, element)
	buf = append(buf, 'O', 'B', 0x00, 0x00)
	buf = binary.LittleEndian.AppendUint32(buf, uint32(len(value)))
	return append(buf, value...)
}

// parseFileMeta walks the group 0x0002 elements and returns the offset of
// the dataset and the transfer syntax UID declared in (0002,0010), if any.
func parseFileMeta(data []byte) (datasetOffset int, transferSyntaxUID string, err error) {
	if len(data) < 132 {
		return 0, "", fmt.Errorf("data too short to be DICOM Part 10 (need at least 132 bytes, got %d)", len(data))
	}

	if string(data[128:132]) != "DICM" {
		return 0, "", fmt.Errorf("not a valid DICOM Part 10 file (missing DICM prefix at offset 128)")
	}

	// Skip preamble (128) + DICM (4)
	offset := 132

	for offset+8 <= len(data) {
		group := binary.LittleEndian.Uint16(data[offset : offset+2])
		element := binary.LittleEndian.Uint16(data[offset+2 : offset+4])

		// Past group 0x0002 we are at the dataset
		if group != 0x0002 {
			break
		}

		vr := string(data[offset+4 : offset+6])

		var length uint32
		var valueOffset int

		if longVRs[vr] {
			// Explicit VR with 32-bit length: 2 reserved bytes precede it
			if offset+12 > len(data) {
				break
			}
			length = binary.LittleEndian.Uint32(data[offset+8 : offset+12])
			valueOffset = offset + 12
		} else {
			length = uint32(binary.LittleEndian.Uint16(data[offset+6 : offset+8]))
			valueOffset = offset + 8
		}

		if valueOffset+int(length) > len(data) {
			break
		}

		if element == 0x0010 { // (0002,0010) Transfer Syntax UID
			value := string(data[valueOffset : valueOffset+int(length)])
			transferSyntaxUID = strings.TrimRight(value, "\x00 ")
		}

		offset = valueOffset + int(length)
	}

	if offset >= len(data) {
		return 0, "", fmt.Errorf("failed to find dataset after File Meta Information")
	}

	return offset, transferSyntaxUID, nil
}
