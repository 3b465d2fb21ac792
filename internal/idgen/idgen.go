package idgen

import (
	"strings"

	"github.com/google/uuid"
)

// NewFunc returns a new globally unique identifier. Tests may stub it.
var NewFunc = func() string { return uuid.New().String() }

func New() string { return NewFunc() }

// Short returns the first block of a fresh identifier, used for temp file suffixes.
func Short() string {
	id := NewFunc()
	if i := strings.IndexByte(id, '-'); i > 0 {
		return id[:i]
	}
	return id
}

// Stable returns a short identifier derived from name: equal names always
// give equal identifiers.
func Stable(name string) string {
	return uuid.NewSHA1(uuid.NameSpaceURL, []byte(name)).String()[:8]
}
