package uid

import "testing"

func TestGetSOPClassInfo(t *testing.T) {
	tests := []struct {
		uid      string
		name     string
		category string
	}{
		{VerificationSOPClass, "Verification SOP Class", "Verification"},
		{CTImageStorage, "CT Image Storage", "Storage"},
		{StudyRootQueryRetrieveInformationModelGet, "Study Root Query/Retrieve - GET", "Query/Retrieve"},
		{"1.2.3.4.5", "Unknown", "Unknown"},
	}

	for _, tt := range tests {
		t.Run(tt.uid, func(t *testing.T) {
			info := GetSOPClassInfo(tt.uid)
			if info.Name != tt.name {
				t.Errorf("Name = %q, want %q", info.Name, tt.name)
			}
			if info.Category != tt.category {
				t.Errorf("Category = %q, want %q", info.Category, tt.category)
			}
		})
	}
}

func TestIsStorageSOPClass(t *testing.T) {
	if !IsStorageSOPClass(MRImageStorage) {
		t.Error("MRImageStorage should be a storage SOP class")
	}
	if IsStorageSOPClass(VerificationSOPClass) {
		t.Error("VerificationSOPClass should not be a storage SOP class")
	}
	if IsStorageSOPClass(StudyRootQueryRetrieveInformationModelGet) {
		t.Error("Q/R GET model should not be a storage SOP class")
	}
}

func TestTransferSyntaxInfo(t *testing.T) {
	tests := []struct {
		uid        string
		compressed bool
		lossless   bool
	}{
		{ImplicitVRLittleEndian, false, true},
		{ExplicitVRLittleEndian, false, true},
		{JPEGBaseline8Bit, true, false},
		{JPEG2000Lossless, true, true},
		{RLELossless, true, true},
	}

	for _, tt := range tests {
		t.Run(tt.uid, func(t *testing.T) {
			if got := IsCompressed(tt.uid); got != tt.compressed {
				t.Errorf("IsCompressed = %v, want %v", got, tt.compressed)
			}
			if got := IsLossless(tt.uid); got != tt.lossless {
				t.Errorf("IsLossless = %v, want %v", got, tt.lossless)
			}
		})
	}
}

func TestDefaultRegistry(t *testing.T) {
	reg := DefaultRegistry()

	classes := reg.StorageClasses()
	if len(classes) == 0 {
		t.Fatal("default registry has no storage classes")
	}

	for _, uid := range classes {
		if !IsStorageSOPClass(uid) {
			t.Errorf("registry entry %s is not a storage SOP class", uid)
		}
	}

	if reg.DefaultTransferSyntax() != ImplicitVRLittleEndian {
		t.Errorf("DefaultTransferSyntax = %s, want Implicit VR Little Endian", reg.DefaultTransferSyntax())
	}

	// Mutating the returned slice must not affect the registry.
	classes[0] = "1.2.3"
	if reg.StorageClasses()[0] == "1.2.3" {
		t.Error("StorageClasses returned the internal slice")
	}
}

func TestNewRegistryCustomOrder(t *testing.T) {
	reg := NewRegistry([]string{MRImageStorage, CTImageStorage}, ExplicitVRLittleEndian)

	classes := reg.StorageClasses()
	if len(classes) != 2 || classes[0] != MRImageStorage || classes[1] != CTImageStorage {
		t.Errorf("StorageClasses = %v, want insertion order preserved", classes)
	}

	if reg.DefaultTransferSyntax() != ExplicitVRLittleEndian {
		t.Errorf("DefaultTransferSyntax = %s, want Explicit VR Little Endian", reg.DefaultTransferSyntax())
	}
}
