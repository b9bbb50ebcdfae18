package session

import (
	"fmt"
	"sync"

	"github.com/google/uuid"
)

var idMu sync.Mutex
var lastID string

// NewID returns a time-ordered session id. Ids generated by one process
// sort strictly ascending, so commit order in memory follows session
// creation order.
func NewID() (string, error) {
	idMu.Lock()
	defer idMu.Unlock()

	for attempt := 0; attempt < 3; attempt++ {
		u, err := uuid.NewV7()
		if err != nil {
			return "", fmt.Errorf("generate session id: %w", err)
		}
		id := u.String()
		if id > lastID {
			lastID = id
			return id, nil
		}
	}
	return "", fmt.Errorf("generate session id: clock did not advance")
}
