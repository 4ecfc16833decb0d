package character

import "fmt"

type Status string

const (
	StatusPending    Status = "pending"
	StatusProcessing Status = "processing"
	StatusCompleted  Status = "completed"
	StatusFailed     Status = "failed"
)

func (s Status) Valid() bool {
	switch s {
	case StatusPending, StatusProcessing, StatusCompleted, StatusFailed:
		return true
	default:
		return false
	}
}

func ParseStatus(raw string) (Status, error) {
	s := Status(raw)
	if !s.Valid() {
		return "", fmt.Errorf("unknown processing status %q", raw)
	}
	return s, nil
}

// CanTransition reports whether from -> to is an edge of the processing
// lifecycle:
//
//	pending    -> processing | failed
//	processing -> processing | completed | failed
//	completed  -> pending
//	failed     -> pending
//
// processing -> processing is a re-attempt after a retryable failure.
// pending -> failed happens when a run is abandoned before it could start.
// Any status may also be sent back to pending by an explicit retry request.
func CanTransition(from, to Status) bool {
	if to == StatusPending {
		return from.Valid()
	}
	switch from {
	case StatusPending:
		return to == StatusProcessing || to == StatusFailed
	case StatusProcessing:
		return to == StatusProcessing || to == StatusCompleted || to == StatusFailed
	default:
		return false
	}
}
