package crdt

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSeedTextThenText(t *testing.T) {
	doc := NewDocument()
	_, err := doc.SeedText("hello", "author-1")
	require.NoError(t, err)
	assert.Equal(t, "hello", doc.Text())
}

func TestApplyUpdateRoundTrip(t *testing.T) {
	doc := NewDocument()
	update, err := doc.SeedText("abc", "author-1")
	require.NoError(t, err)

	fresh := NewDocument()
	require.NoError(t, fresh.ApplyUpdate(update))
	assert.Equal(t, doc.Text(), fresh.Text())
}

func TestApplyUpdateIsIdempotent(t *testing.T) {
	doc := NewDocument()
	update, err := doc.SeedText("abc", "author-1")
	require.NoError(t, err)

	require.NoError(t, doc.ApplyUpdate(update))
	require.NoError(t, doc.ApplyUpdate(update))
	assert.Equal(t, "abc", doc.Text())
}

func TestApplyUpdateRejectsEmptyPayload(t *testing.T) {
	doc := NewDocument()
	err := doc.ApplyUpdate(nil)
	assert.ErrorIs(t, err, ErrEmptyUpdate)
}

func TestApplyUpdateRejectsMalformedPayload(t *testing.T) {
	doc := NewDocument()
	err := doc.ApplyUpdate([]byte("not json"))
	assert.ErrorIs(t, err, ErrMalformedUpdate)
}

func TestEncodeDeltaOnlyIncludesUnseenOps(t *testing.T) {
	doc := NewDocument()
	_, err := doc.SeedText("abc", "author-1")
	require.NoError(t, err)

	peerVector := doc.StateVector()
	more, err := doc.SeedText("def", "author-1")
	require.NoError(t, err)
	require.NoError(t, doc.ApplyUpdate(more))

	delta, err := doc.EncodeDelta(peerVector)
	require.NoError(t, err)

	onlyDelta := NewDocument()
	require.NoError(t, onlyDelta.ApplyUpdate(delta))
	assert.Equal(t, "def", onlyDelta.Text())

	peer := NewDocument()
	_, err = peer.SeedText("abc", "author-1")
	require.NoError(t, err)
	require.NoError(t, peer.ApplyUpdate(delta))
	assert.Equal(t, doc.Text(), peer.Text())
}

func TestConcurrentInsertsConvergeAcrossReplicas(t *testing.T) {
	base := NewDocument()
	baseUpdate, err := base.SeedText("a", "author-1")
	require.NoError(t, err)

	replicaA := NewDocument()
	require.NoError(t, replicaA.ApplyUpdate(baseUpdate))
	replicaB := NewDocument()
	require.NoError(t, replicaB.ApplyUpdate(baseUpdate))

	updateA, err := replicaA.SeedText("x", "author-a")
	require.NoError(t, err)
	updateB, err := replicaB.SeedText("y", "author-b")
	require.NoError(t, err)

	require.NoError(t, replicaA.ApplyUpdate(updateB))
	require.NoError(t, replicaB.ApplyUpdate(updateA))

	assert.Equal(t, replicaA.Text(), replicaB.Text())
}

func TestValidateIntegrityPassesOnHealthyDocument(t *testing.T) {
	doc := NewDocument()
	_, err := doc.SeedText("healthy document", "author-1")
	require.NoError(t, err)

	warnings, err := ValidateIntegrity(doc)
	require.NoError(t, err)
	assert.Empty(t, warnings)
}
