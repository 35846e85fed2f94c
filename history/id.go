package history

import "github.com/google/uuid"

// IDGenerator produces run identifiers.
type IDGenerator func() string

// RunID returns "run_" followed by a UUID v7, so IDs sort by creation time.
func RunID() string {
	return "run_" + uuid.Must(uuid.NewV7()).String()
}
