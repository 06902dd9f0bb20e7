package scheduler

import (
	"math"
	"math/rand"

	"github.com/amlnet/federator/pkg/fl"
)

type all struct{}

// NewAll selects every connected participant, the default federation policy.
func NewAll() Selector {
	return &all{}
}

func (a *all) Select(_ int, participants []fl.Participant) ([]fl.Participant, error) {
	if len(participants) == 0 {
		return nil, ErrNoParticipants
	}

	return participants, nil
}

type fraction struct {
	frac float64
	seed int64
}

// NewFraction selects ceil(frac*N) participants per round. The shuffle is
// seeded with seed+round so a run replays identically under the same seed.
func NewFraction(frac float64, seed int64) Selector {
	if frac <= 0 || frac > 1 {
		frac = 1
	}

	return &fraction{frac: frac, seed: seed}
}

func (f *fraction) Select(round int, participants []fl.Participant) ([]fl.Participant, error) {
	if len(participants) == 0 {
		return nil, ErrNoParticipants
	}

	k := int(math.Ceil(f.frac * float64(len(participants))))
	if k >= len(participants) {
		return participants, nil
	}

	shuffled := make([]fl.Participant, len(participants))
	copy(shuffled, participants)

	rng := rand.New(rand.NewSource(f.seed + int64(round)))
	rng.Shuffle(len(shuffled), func(i, j int) {
		shuffled[i], shuffled[j] = shuffled[j], shuffled[i]
	})

	return shuffled[:k], nil
}
