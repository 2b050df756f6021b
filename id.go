package conduit

import "github.com/google/uuid"

// newCorrelationID generates the short opaque identifier embedded in every
// request envelope and echoed in its responses (spec §3).
func newCorrelationID() string {
	return uuid.NewString()
}
