package aggregator

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/amlnet/federator/participant"
	"github.com/amlnet/federator/pkg/fl"
)

func TestDeliverFitDiscardsEarlierAttempt(t *testing.T) {
	t.Parallel()

	pending := newPendingResponses()
	ch := pending.awaitFit(fitKey("run-1", 3, 2, "bank-001"))

	// A result from the first dispatch of the round arrives after the round
	// was already retried. The waiter belongs to attempt two, so the stale
	// result finds no destination.
	stale := participant.FitResponse{
		RunID:         "run-1",
		Round:         3,
		Attempt:       1,
		ParticipantID: "bank-001",
		Result:        fl.FitResult{NumSamples: 100},
	}
	assert.False(t, pending.deliverFit(stale))

	fresh := stale
	fresh.Attempt = 2
	fresh.Result.NumSamples = 200
	require.True(t, pending.deliverFit(fresh))

	got := <-ch
	assert.Equal(t, 200, got.Result.NumSamples)
}

func TestDeliverFitDiscardsUnknownWaiter(t *testing.T) {
	t.Parallel()

	pending := newPendingResponses()

	resp := participant.FitResponse{RunID: "run-1", Round: 1, Attempt: 1, ParticipantID: "bank-001"}
	assert.False(t, pending.deliverFit(resp))

	ch := pending.awaitFit(fitKey("run-1", 1, 1, "bank-001"))
	pending.dropFit(fitKey("run-1", 1, 1, "bank-001"))
	assert.False(t, pending.deliverFit(resp))
	assert.Empty(t, ch)
}
