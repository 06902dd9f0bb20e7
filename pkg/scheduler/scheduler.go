// Package scheduler decides which connected participants take part in a
// round.
package scheduler

import (
	"errors"

	"github.com/amlnet/federator/pkg/fl"
)

var ErrNoParticipants = errors.New("no participants available for selection")

type Selector interface {
	Select(round int, participants []fl.Participant) ([]fl.Participant, error)
}
