package fl

import (
	"errors"
	"strings"
)

var (
	// ErrShapeMismatch means a parameter vector does not match a participant's
	// architecture. Fatal for that participant's contribution this round only.
	ErrShapeMismatch = errors.New("parameter shape signature mismatch")

	// ErrParticipantTimeout means no response arrived within the round deadline.
	ErrParticipantTimeout = errors.New("participant did not respond within round deadline")

	// ErrNoViableResults means zero participants survived exclusion, so the
	// round produced nothing to aggregate. Global parameters are left unchanged.
	ErrNoViableResults = errors.New("no viable results to aggregate")

	// ErrInsufficientLabelDiversity means AUC is undefined because an
	// evaluation split contains a single label class. Callers exclude the
	// metric instead of treating it as zero.
	ErrInsufficientLabelDiversity = errors.New("evaluation split contains a single label class")
)

// ErrorFromWire maps an error message carried in a participant response back
// to its sentinel so exclusion policy survives the transport boundary.
func ErrorFromWire(msg string) error {
	switch {
	case strings.Contains(msg, ErrShapeMismatch.Error()):
		return ErrShapeMismatch
	case strings.Contains(msg, ErrInsufficientLabelDiversity.Error()):
		return ErrInsufficientLabelDiversity
	default:
		return errors.New(msg)
	}
}
