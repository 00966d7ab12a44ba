package uid

// DICOM Transfer Syntax UIDs as defined in DICOM Part 5, Section 8 and Part 6, Annex A.4
// https://dicom.nema.org/medical/dicom/current/output/chtml/part05/chapter_8.html

// Uncompressed Transfer Syntaxes
const (
	// ImplicitVRLittleEndian - Default Transfer Syntax for DICOM
	ImplicitVRLittleEndian = "1.2.840.10008.1.2"

	// ExplicitVRLittleEndian - Explicit VR with little endian byte ordering
	ExplicitVRLittleEndian = "1.2.840.10008.1.2.1"

	// ExplicitVRBigEndian - Explicit VR with big endian byte ordering (retired)
	ExplicitVRBigEndian = "1.2.840.10008.1.2.2"

	// DeflatedExplicitVRLittleEndian - Deflate compression with explicit VR
	DeflatedExplicitVRLittleEndian = "1.2.840.10008.1.2.1.99"
)

// Compressed Transfer Syntaxes
const (
	JPEGBaseline8Bit = "1.2.840.10008.1.2.4.50"
	JPEGLossless     = "1.2.840.10008.1.2.4.57"
	JPEGLosslessSV1  = "1.2.840.10008.1.2.4.70"
	JPEGLSLossless   = "1.2.840.10008.1.2.4.80"
	JPEG2000Lossless = "1.2.840.10008.1.2.4.90"
	JPEG2000         = "1.2.840.10008.1.2.4.91"
	RLELossless      = "1.2.840.10008.1.2.5"
)

// TransferSyntaxInfo provides metadata about a transfer syntax
type TransferSyntaxInfo struct {
	UID          string
	Name         string
	IsCompressed bool
	IsLossless   bool
	IsRetired    bool
}

// GetTransferSyntaxInfo returns information about a transfer syntax UID
func GetTransferSyntaxInfo(uid string) *TransferSyntaxInfo {
	info, ok := transferSyntaxRegistry[uid]
	if !ok {
		return &TransferSyntaxInfo{
			UID:        uid,
			Name:       "Unknown",
			IsLossless: true,
		}
	}
	return &info
}

// IsCompressed returns true if the transfer syntax uses compression
func IsCompressed(uid string) bool {
	return GetTransferSyntaxInfo(uid).IsCompressed
}

// IsLossless returns true if the transfer syntax is lossless
// Note: Uncompressed transfer syntaxes are considered lossless
func IsLossless(uid string) bool {
	return GetTransferSyntaxInfo(uid).IsLossless
}

// transferSyntaxRegistry maps transfer syntax UIDs to their information
var transferSyntaxRegistry = map[string]TransferSyntaxInfo{
	ImplicitVRLittleEndian: {
		UID:        ImplicitVRLittleEndian,
		Name:       "Implicit VR Little Endian",
		IsLossless: true,
	},
	ExplicitVRLittleEndian: {
		UID:        ExplicitVRLittleEndian,
		Name:       "Explicit VR Little Endian",
		IsLossless: true,
	},
	ExplicitVRBigEndian: {
		UID:        ExplicitVRBigEndian,
		Name:       "Explicit VR Big Endian",
		IsLossless: true,
		IsRetired:  true,
	},
	DeflatedExplicitVRLittleEndian: {
		UID:          DeflatedExplicitVRLittleEndian,
		Name:         "Deflated Explicit VR Little Endian",
		IsCompressed: true,
		IsLossless:   true,
	},
	JPEGBaseline8Bit: {
		UID:          JPEGBaseline8Bit,
		Name:         "JPEG Baseline (Process 1)",
		IsCompressed: true,
	},
	JPEGLossless: {
		UID:          JPEGLossless,
		Name:         "JPEG Lossless (Process 14)",
		IsCompressed: true,
		IsLossless:   true,
	},
	JPEGLosslessSV1: {
		UID:          JPEGLosslessSV1,
		Name:         "JPEG Lossless, Non-Hierarchical, First-Order Prediction",
		IsCompressed: true,
		IsLossless:   true,
	},
	JPEGLSLossless: {
		UID:          JPEGLSLossless,
		Name:         "JPEG-LS Lossless",
		IsCompressed: true,
		IsLossless:   true,
	},
	JPEG2000Lossless: {
		UID:          JPEG2000Lossless,
		Name:         "JPEG 2000 Lossless Only",
		IsCompressed: true,
		IsLossless:   true,
	},
	JPEG2000: {
		UID:          JPEG2000,
		Name:         "JPEG 2000",
		IsCompressed: true,
	},
	RLELossless: {
		UID:          RLELossless,
		Name:         "RLE Lossless",
		IsCompressed: true,
		IsLossless:   true,
	},
}

// GetCommonTransferSyntaxes returns a list of commonly supported transfer syntaxes
// in recommended negotiation order (uncompressed first, then lossless, then lossy)
func GetCommonTransferSyntaxes() []string {
	return []string{
		ExplicitVRLittleEndian,
		ImplicitVRLittleEndian,
		JPEG2000Lossless,
		JPEGLosslessSV1,
		RLELossless,
		JPEG2000,
		JPEGBaseline8Bit,
	}
}
