package session

import (
	"errors"
	"fmt"
	"regexp"
)

// ErrInvalidID is returned for bridge session ids the bridge would reject in
// a URL path segment.
var ErrInvalidID = errors.New("invalid session id")

var idRegexp = regexp.MustCompile(`^[A-Za-z0-9_-]{1,64}$`)

// ValidateID checks that id is usable as a bridge session id.
func ValidateID(id string) error {
	if !idRegexp.MatchString(id) {
		return fmt.Errorf("%w %q: must match %s", ErrInvalidID, id, idRegexp)
	}
	return nil
}
