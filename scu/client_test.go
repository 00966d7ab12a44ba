package scu_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/caio-sobreiro/dicomscu/assoc"
	"github.com/caio-sobreiro/dicomscu/dimse"
	dicomerrors "github.com/caio-sobreiro/dicomscu/errors"
	"github.com/caio-sobreiro/dicomscu/scptest"
	"github.com/caio-sobreiro/dicomscu/scu"
	"github.com/caio-sobreiro/dicomscu/uid"
)

// recorder captures every lifecycle event in order.
type recorder struct {
	mu     sync.Mutex
	events []string

	association *assoc.Association

	rejectResult dicomerrors.AssociationRejectResult
	rejectSource dicomerrors.AssociationRejectSource
	rejectReason dicomerrors.AssociationRejectReason

	networkErr error

	peerRequests []*dimse.Message
	peerData     [][]byte
}

func (r *recorder) record(event string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, event)
}

func (r *recorder) Events() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, len(r.events))
	copy(out, r.events)
	return out
}

func (r *recorder) OnConnected() { r.record("connected") }

func (r *recorder) OnAssociationAccepted(a *assoc.Association) {
	r.mu.Lock()
	r.association = a
	r.mu.Unlock()
	r.record("accepted")
}

func (r *recorder) OnAssociationRejected(result dicomerrors.AssociationRejectResult, source dicomerrors.AssociationRejectSource, reason dicomerrors.AssociationRejectReason) {
	r.mu.Lock()
	r.rejectResult = result
	r.rejectSource = source
	r.rejectReason = reason
	r.mu.Unlock()
	r.record("rejected")
}

func (r *recorder) OnAssociationReleased() { r.record("released") }

func (r *recorder) OnPeerRequest(msg *dimse.Message, data []byte, respond func(status uint16) error) {
	r.mu.Lock()
	r.peerRequests = append(r.peerRequests, msg)
	r.peerData = append(r.peerData, data)
	r.mu.Unlock()
	r.record("peer-request")
}

func (r *recorder) OnNetworkError(err error) {
	r.mu.Lock()
	r.networkErr = err
	r.mu.Unlock()
	r.record("network-error")
}

func (r *recorder) OnClosed() { r.record("closed") }

func testConfig() scu.Config {
	return scu.Config{
		CallingAETitle: "TEST_SCU",
		CalledAETitle:  "TEST_SCP",
	}
}

func startServer(t *testing.T, behavior scptest.Behavior) (*scptest.Server, string) {
	t.Helper()
	server := scptest.New(behavior)
	addr, err := server.Start()
	require.NoError(t, err)
	t.Cleanup(server.Close)
	return server, addr
}

func TestSend_EchoSuccess(t *testing.T) {
	_, addr := startServer(t, scptest.Behavior{})

	events := &recorder{}
	client := scu.NewClient(testConfig(), events)

	var echoStatus uint16 = 0xFFFF
	require.NoError(t, client.AddRequest(&dimse.EchoRequest{
		OnResponse: func(status uint16) { echoStatus = status },
	}))

	err := client.Send(context.Background(), addr)
	require.NoError(t, err)

	assert.Equal(t, dimse.StatusSuccess, echoStatus)
	assert.Equal(t, []string{"connected", "accepted", "released", "closed"}, events.Events())
	assert.Equal(t, scu.StateClosed, client.State())
}

func TestSend_EmptyQueue(t *testing.T) {
	client := scu.NewClient(testConfig(), &recorder{})

	err := client.Send(context.Background(), "127.0.0.1:1")
	assert.ErrorIs(t, err, dicomerrors.ErrEmptyRequestQueue)
	assert.Equal(t, scu.StateIdle, client.State())
}

func TestSend_Rejected(t *testing.T) {
	_, addr := startServer(t, scptest.Behavior{
		Reject: &scptest.Rejection{
			Result: dicomerrors.RejectResultPermanent,
			Source: dicomerrors.RejectSourceServiceUser,
			Reason: dicomerrors.RejectReasonCalledAETitleNotRecognized,
		},
	})

	events := &recorder{}
	client := scu.NewClient(testConfig(), events)
	require.NoError(t, client.AddRequest(&dimse.EchoRequest{}))

	err := client.Send(context.Background(), addr)
	require.ErrorIs(t, err, dicomerrors.ErrAssociationRejected)

	assert.Equal(t, []string{"connected", "rejected", "closed"}, events.Events())
	assert.Equal(t, dicomerrors.RejectResultPermanent, events.rejectResult)
	assert.Equal(t, dicomerrors.RejectSourceServiceUser, events.rejectSource)
	assert.Equal(t, dicomerrors.RejectReasonCalledAETitleNotRecognized, events.rejectReason)
	assert.Equal(t, scu.StateClosed, client.State())
}

func TestSend_DialFailure(t *testing.T) {
	events := &recorder{}
	config := testConfig()
	config.ConnectTimeout = 500 * time.Millisecond
	client := scu.NewClient(config, events)
	require.NoError(t, client.AddRequest(&dimse.EchoRequest{}))

	// Port 1 on loopback refuses connections.
	err := client.Send(context.Background(), "127.0.0.1:1")
	require.Error(t, err)

	assert.Equal(t, []string{"network-error", "closed"}, events.Events())
}

func TestSend_InactivityTimeout(t *testing.T) {
	_, addr := startServer(t, scptest.Behavior{Silent: true})

	events := &recorder{}
	config := testConfig()
	config.PDUTimeout = 200 * time.Millisecond
	client := scu.NewClient(config, events)
	require.NoError(t, client.AddRequest(&dimse.EchoRequest{}))

	err := client.Send(context.Background(), addr)
	require.Error(t, err)

	var timeoutErr *dicomerrors.TimeoutError
	assert.ErrorAs(t, err, &timeoutErr)

	got := events.Events()
	assert.Equal(t, []string{"connected", "accepted", "network-error", "closed"}, got)
	assert.Equal(t, scu.StateAborted, client.State())
}

func TestSend_Store(t *testing.T) {
	server, addr := startServer(t, scptest.Behavior{})

	events := &recorder{}
	client := scu.NewClient(testConfig(), events)

	instance := []byte{0x08, 0x00, 0x18, 0x00, 0x04, 0x00, 0x00, 0x00, '1', '.', '2', 0x00}
	var response dimse.StoreResponse
	require.NoError(t, client.AddRequest(&dimse.StoreRequest{
		SOPClassUID:    uid.CTImageStorage,
		SOPInstanceUID: "1.2.3.4.5",
		Data:           instance,
		OnResponse:     func(rsp dimse.StoreResponse) { response = rsp },
	}))

	require.NoError(t, client.Send(context.Background(), addr))

	assert.Equal(t, dimse.StatusSuccess, response.Status)
	assert.Equal(t, uid.CTImageStorage, response.SOPClassUID)
	assert.Equal(t, "1.2.3.4.5", response.SOPInstanceUID)

	received := server.ReceivedStores()
	require.Len(t, received, 1)
	assert.Equal(t, uid.CTImageStorage, received[0].SOPClassUID)
	assert.Equal(t, "1.2.3.4.5", received[0].SOPInstanceUID)
	assert.Equal(t, instance, received[0].Data)
}

func TestSend_GetWithSubOperations(t *testing.T) {
	_, addr := startServer(t, scptest.Behavior{
		GetSubOperations: []scptest.SubOperation{
			{SOPClassUID: uid.CTImageStorage, SOPInstanceUID: "1.2.3.1"},
			{SOPClassUID: uid.CTImageStorage, SOPInstanceUID: "1.2.3.2"},
		},
	})

	events := &recorder{}
	client := scu.NewClient(testConfig(), events)

	var responses []dimse.GetResponse
	require.NoError(t, client.AddRequest(&dimse.GetRequest{
		Identifier: []byte{0x08, 0x00, 0x52, 0x00, 0x06, 0x00, 0x00, 0x00, 'S', 'T', 'U', 'D', 'Y', ' '},
		OnResponse: func(rsp dimse.GetResponse) { responses = append(responses, rsp) },
	}))

	require.NoError(t, client.Send(context.Background(), addr))

	// Two sub-operations arrive as peer C-STORE requests.
	require.Len(t, events.peerRequests, 2)
	assert.Equal(t, dimse.CStoreRQ, events.peerRequests[0].CommandField)
	assert.Equal(t, "1.2.3.1", events.peerRequests[0].AffectedSOPInstanceUID)
	assert.Equal(t, "1.2.3.2", events.peerRequests[1].AffectedSOPInstanceUID)

	// Two pending responses plus the final one.
	require.Len(t, responses, 3)
	assert.True(t, dimse.IsPending(responses[0].Status))
	assert.True(t, dimse.IsPending(responses[1].Status))

	final := responses[2]
	assert.Equal(t, dimse.StatusSuccess, final.Status)
	require.NotNil(t, final.Completed)
	assert.Equal(t, uint16(2), *final.Completed)

	assert.Equal(t, scu.StateClosed, client.State())
}

func TestSend_NoAcceptedContext(t *testing.T) {
	_, addr := startServer(t, scptest.Behavior{
		SupportsAbstractSyntax: func(abstract string) bool {
			return abstract == uid.VerificationSOPClass
		},
	})

	events := &recorder{}
	client := scu.NewClient(testConfig(), events)

	var echoStatus uint16 = 0xFFFF
	require.NoError(t, client.AddRequest(&dimse.EchoRequest{
		OnResponse: func(status uint16) { echoStatus = status },
	}))
	require.NoError(t, client.AddRequest(&dimse.StoreRequest{
		SOPClassUID:    uid.CTImageStorage,
		SOPInstanceUID: "1.2.3.4.5",
		Data:           []byte{0x00, 0x00},
	}))

	err := client.Send(context.Background(), addr)
	require.ErrorIs(t, err, dicomerrors.ErrNoPresentationCtx)

	// The echo still went through and the association released cleanly.
	assert.Equal(t, dimse.StatusSuccess, echoStatus)
	assert.Equal(t, []string{"connected", "accepted", "released", "closed"}, events.Events())
}

func TestAddRequest_AfterSend(t *testing.T) {
	_, addr := startServer(t, scptest.Behavior{})

	client := scu.NewClient(testConfig(), &recorder{})
	require.NoError(t, client.AddRequest(&dimse.EchoRequest{}))
	require.NoError(t, client.Send(context.Background(), addr))

	err := client.AddRequest(&dimse.EchoRequest{})
	var usageErr *dicomerrors.UsageError
	assert.ErrorAs(t, err, &usageErr)
}

func TestAddPresentationContext_ExtraContextNegotiated(t *testing.T) {
	_, addr := startServer(t, scptest.Behavior{})

	events := &recorder{}
	client := scu.NewClient(testConfig(), events)
	require.NoError(t, client.AddRequest(&dimse.EchoRequest{}))
	require.NoError(t, client.AddPresentationContext(&assoc.AdditionalContext{
		AbstractSyntaxUID: uid.CTImageStorage,
	}))

	require.NoError(t, client.Send(context.Background(), addr))

	require.NotNil(t, events.association)
	id, err := events.association.AcceptedContextID(uid.CTImageStorage)
	require.NoError(t, err)
	ctx, err := events.association.PresentationContext(id)
	require.NoError(t, err)
	assert.Equal(t, assoc.Accepted, ctx.Result())
}

func TestSend_PeerAbort(t *testing.T) {
	_, addr := startServer(t, scptest.Behavior{AbortAfterAccept: true})

	events := &recorder{}
	client := scu.NewClient(testConfig(), events)
	require.NoError(t, client.AddRequest(&dimse.EchoRequest{}))

	err := client.Send(context.Background(), addr)
	require.Error(t, err)

	var abortErr *dicomerrors.AbortError
	assert.ErrorAs(t, err, &abortErr)
	assert.Equal(t, []string{"connected", "accepted", "network-error", "closed"}, events.Events())
	assert.Equal(t, scu.StateAborted, client.State())
}

func TestSend_PeerClosesConnection(t *testing.T) {
	_, addr := startServer(t, scptest.Behavior{CloseAfterAccept: true})

	events := &recorder{}
	client := scu.NewClient(testConfig(), events)
	require.NoError(t, client.AddRequest(&dimse.EchoRequest{}))

	err := client.Send(context.Background(), addr)
	require.ErrorIs(t, err, dicomerrors.ErrConnectionClosed)

	assert.Equal(t, []string{"connected", "accepted", "network-error", "closed"}, events.Events())
}

func TestSend_InactivityTimeoutSendsAbort(t *testing.T) {
	server, addr := startServer(t, scptest.Behavior{Silent: true})

	config := testConfig()
	config.PDUTimeout = 200 * time.Millisecond
	client := scu.NewClient(config, &recorder{})
	require.NoError(t, client.AddRequest(&dimse.EchoRequest{}))

	require.Error(t, client.Send(context.Background(), addr))

	// The timeout is fatal for the association, so the peer must see an
	// A-ABORT before the transport drops.
	require.Eventually(t, func() bool { return server.AbortsReceived() == 1 },
		time.Second, 10*time.Millisecond)
}

func TestSend_LingerDelaysRelease(t *testing.T) {
	_, addr := startServer(t, scptest.Behavior{})

	events := &recorder{}
	config := testConfig()
	config.LingerTimeout = 300 * time.Millisecond
	client := scu.NewClient(config, events)
	require.NoError(t, client.AddRequest(&dimse.EchoRequest{}))

	start := time.Now()
	require.NoError(t, client.Send(context.Background(), addr))
	elapsed := time.Since(start)

	assert.GreaterOrEqual(t, elapsed, 300*time.Millisecond,
		"release must wait out the linger window")
	assert.Equal(t, []string{"connected", "accepted", "released", "closed"}, events.Events())
}

func TestSend_NoLingerReleasesImmediately(t *testing.T) {
	_, addr := startServer(t, scptest.Behavior{})

	client := scu.NewClient(testConfig(), &recorder{})
	require.NoError(t, client.AddRequest(&dimse.EchoRequest{}))

	start := time.Now()
	require.NoError(t, client.Send(context.Background(), addr))

	assert.Less(t, time.Since(start), 300*time.Millisecond,
		"zero linger means release right after the last request")
}

func TestSend_GetFailureStatus(t *testing.T) {
	_, addr := startServer(t, scptest.Behavior{GetStatus: dimse.StatusFailure})

	events := &recorder{}
	client := scu.NewClient(testConfig(), events)

	var final dimse.GetResponse
	require.NoError(t, client.AddRequest(&dimse.GetRequest{
		Identifier: []byte{0x08, 0x00, 0x52, 0x00, 0x06, 0x00, 0x00, 0x00, 'S', 'T', 'U', 'D', 'Y', ' '},
		OnResponse: func(rsp dimse.GetResponse) { final = rsp },
	}))

	err := client.Send(context.Background(), addr)
	require.Error(t, err)

	var dimseErr *dicomerrors.DIMSEError
	require.ErrorAs(t, err, &dimseErr)
	assert.Equal(t, dimse.StatusFailure, dimseErr.Status)
	assert.True(t, dimseErr.IsFailure())

	// The callback still saw the final response and the association
	// released cleanly.
	assert.Equal(t, dimse.StatusFailure, final.Status)
	assert.Equal(t, []string{"connected", "accepted", "released", "closed"}, events.Events())
}

func TestAddRequest_EmptyGetIdentifier(t *testing.T) {
	client := scu.NewClient(testConfig(), &recorder{})

	err := client.AddRequest(&dimse.GetRequest{})
	var usageErr *dicomerrors.UsageError
	assert.ErrorAs(t, err, &usageErr)
}
