package idgen

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestStable(t *testing.T) {
	assert.Equal(t, Stable("bob.tar"), Stable("bob.tar"))
	assert.NotEqual(t, Stable("bob.tar"), Stable("bob.zip"))
	assert.Len(t, Stable("bob.tar"), 8)
}
