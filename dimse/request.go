package dimse

import (
	"github.com/caio-sobreiro/dicomscu/uid"
)

// Request is a queued DIMSE service request. The concrete variants are
// EchoRequest, StoreRequest and GetRequest; the interface is sealed.
type Request interface {
	// AbstractSyntaxUID returns the SOP class the request operates on.
	AbstractSyntaxUID() string

	// TransferSyntaxUID returns the transfer syntax the request's dataset
	// is encoded in. Empty string means the engine default.
	TransferSyntaxUID() string

	isRequest()
}

// EchoRequest verifies the association with a C-ECHO.
type EchoRequest struct {
	// OnResponse is invoked with the C-ECHO-RSP status.
	OnResponse func(status uint16)
}

func (r *EchoRequest) AbstractSyntaxUID() string { return uid.VerificationSOPClass }
func (r *EchoRequest) TransferSyntaxUID() string { return "" }
func (r *EchoRequest) isRequest()                {}

// StoreResponse carries the outcome of a C-STORE request.
type StoreResponse struct {
	Status         uint16
	SOPClassUID    string
	SOPInstanceUID string
}

// StoreRequest sends one SOP instance with a C-STORE.
type StoreRequest struct {
	SOPClassUID    string
	SOPInstanceUID string
	// TransferSyntax is the encoding of Data. Empty means the engine default.
	TransferSyntax string
	Data           []byte

	OnResponse func(rsp StoreResponse)
}

func (r *StoreRequest) AbstractSyntaxUID() string { return r.SOPClassUID }
func (r *StoreRequest) TransferSyntaxUID() string { return r.TransferSyntax }
func (r *StoreRequest) isRequest()                {}

// GetResponse carries one C-GET response, final or pending.
type GetResponse struct {
	Status    uint16
	Remaining *uint16
	Completed *uint16
	Failed    *uint16
	Warning   *uint16
}

// GetRequest retrieves SOP instances with a C-GET. Matching instances arrive
// on the same association as peer-initiated C-STORE sub-operations.
type GetRequest struct {
	// InformationModelUID selects the query/retrieve model. Empty means
	// Study Root.
	InformationModelUID string
	// Identifier is the encoded query identifier dataset (implicit VR
	// little endian unless TransferSyntax says otherwise).
	Identifier []byte
	// TransferSyntax is the encoding of Identifier. Empty means the engine
	// default.
	TransferSyntax string

	// OnResponse is invoked once per C-GET-RSP, pending responses included.
	OnResponse func(rsp GetResponse)
}

func (r *GetRequest) AbstractSyntaxUID() string {
	if r.InformationModelUID == "" {
		return uid.StudyRootQueryRetrieveInformationModelGet
	}
	return r.InformationModelUID
}

func (r *GetRequest) TransferSyntaxUID() string { return r.TransferSyntax }
func (r *GetRequest) isRequest()                {}

// ContextRequirement is one (abstract syntax, transfer syntax) pair a request
// needs proposed during negotiation.
type ContextRequirement struct {
	AbstractSyntaxUID string
	TransferSyntaxUID string
}

// ImpliedContexts derives the presentation contexts a request implies. Echo
// and store imply exactly one pair. Get implies one pair per storage class in
// the registry, in registry order, plus one pair for its own query/retrieve
// model: retrieved instances come back as C-STORE sub-operations, so the
// storage classes must be negotiated up front.
func ImpliedContexts(req Request, reg *uid.Registry) []ContextRequirement {
	defaultTS := reg.DefaultTransferSyntax()

	ts := req.TransferSyntaxUID()
	if ts == "" {
		ts = defaultTS
	}

	switch req.(type) {
	case *GetRequest:
		storageClasses := reg.StorageClasses()
		pairs := make([]ContextRequirement, 0, len(storageClasses)+1)
		for _, sopClass := range storageClasses {
			pairs = append(pairs, ContextRequirement{
				AbstractSyntaxUID: sopClass,
				TransferSyntaxUID: defaultTS,
			})
		}
		pairs = append(pairs, ContextRequirement{
			AbstractSyntaxUID: req.AbstractSyntaxUID(),
			TransferSyntaxUID: ts,
		})
		return pairs
	default:
		return []ContextRequirement{{
			AbstractSyntaxUID: req.AbstractSyntaxUID(),
			TransferSyntaxUID: ts,
		}}
	}
}
