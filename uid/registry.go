package uid

// Registry supplies the negotiation code with the ordered storage-class set
// a retrieve proposes reverse-store contexts for, and the transfer syntax
// used when a request does not ask for a specific one. It is passed in
// explicitly wherever it is needed; nothing in this package mutates it.
type Registry struct {
	storageClasses []string
	defaultTS      string
}

// NewRegistry builds a registry with a custom storage-class set. The slice
// order is preserved: it becomes the order of the proposed presentation
// contexts on the wire. An empty defaultTS falls back to Implicit VR Little
// Endian, the DICOM default.
func NewRegistry(storageClasses []string, defaultTS string) *Registry {
	if defaultTS == "" {
		defaultTS = ImplicitVRLittleEndian
	}
	classes := make([]string, len(storageClasses))
	copy(classes, storageClasses)
	return &Registry{
		storageClasses: classes,
		defaultTS:      defaultTS,
	}
}

// DefaultRegistry returns a registry with the standard storage SOP classes.
func DefaultRegistry() *Registry {
	return NewRegistry(defaultStorageClasses, ImplicitVRLittleEndian)
}

// StorageClasses returns the ordered storage SOP class UIDs. The returned
// slice is a copy.
func (r *Registry) StorageClasses() []string {
	classes := make([]string, len(r.storageClasses))
	copy(classes, r.storageClasses)
	return classes
}

// DefaultTransferSyntax returns the transfer syntax proposed for requests
// that accept any encoding.
func (r *Registry) DefaultTransferSyntax() string {
	return r.defaultTS
}
