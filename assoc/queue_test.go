package assoc

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/caio-sobreiro/dicomscu/dimse"
	dicomerrors "github.com/caio-sobreiro/dicomscu/errors"
	"github.com/caio-sobreiro/dicomscu/uid"
)

func TestRequestQueue_RejectsDuplicateRequest(t *testing.T) {
	q := NewRequestQueue()
	req := &dimse.EchoRequest{}

	require.NoError(t, q.AddRequest(req))

	err := q.AddRequest(req)
	var usage *dicomerrors.UsageError
	assert.True(t, errors.As(err, &usage))

	// A distinct object with identical content is fine.
	assert.NoError(t, q.AddRequest(&dimse.EchoRequest{}))
	assert.Equal(t, 2, q.Len())
}

func TestRequestQueue_RejectsDuplicateContext(t *testing.T) {
	q := NewRequestQueue()
	ctx := &AdditionalContext{AbstractSyntaxUID: uid.CTImageStorage}

	require.NoError(t, q.AddPresentationContext(ctx))

	err := q.AddPresentationContext(ctx)
	var usage *dicomerrors.UsageError
	assert.True(t, errors.As(err, &usage))
}

func TestRequestQueue_DeriveContexts(t *testing.T) {
	q := NewRequestQueue()
	reg := uid.DefaultRegistry()

	echo := &dimse.EchoRequest{}
	store := &dimse.StoreRequest{SOPClassUID: uid.CTImageStorage}
	require.NoError(t, q.AddRequest(echo))
	require.NoError(t, q.AddRequest(store))
	require.NoError(t, q.AddPresentationContext(&AdditionalContext{
		AbstractSyntaxUID: uid.MRImageStorage,
	}))

	a := NewAssociation("TEST_SCU", "TEST_SCP")
	assigned, err := q.DeriveContexts(a, reg)
	require.NoError(t, err)

	require.Len(t, assigned, 2)

	echoCtx, err := a.PresentationContext(assigned[echo])
	require.NoError(t, err)
	assert.Equal(t, uid.VerificationSOPClass, echoCtx.AbstractSyntaxUID())

	storeCtx, err := a.PresentationContext(assigned[store])
	require.NoError(t, err)
	assert.Equal(t, uid.CTImageStorage, storeCtx.AbstractSyntaxUID())

	// The additional context is proposed too, seeded with the default
	// transfer syntax.
	id, err := a.AddOrGetPresentationContext(uid.MRImageStorage)
	require.NoError(t, err)
	mrCtx, err := a.PresentationContext(id)
	require.NoError(t, err)
	assert.Equal(t, []string{reg.DefaultTransferSyntax()}, mrCtx.TransferSyntaxUIDs())
}
