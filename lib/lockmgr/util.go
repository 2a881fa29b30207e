package lockmgr

import (
	"github.com/google/uuid"
)

// newToken creates the fencing token stored with an acquired lock. Tokens
// only need to be unique per acquisition attempt, not secret. The string
// form keeps tokens printable so they survive a round trip through CLI
// flags and log lines.
func newToken() ([]byte, error) {
	id, err := uuid.NewRandom()
	if err != nil {
		return nil, err
	}
	return []byte(id.String()), nil
}
