package queue

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestLaneAndKey(t *testing.T) {
	t.Parallel()

	assert.Equal(t, "low", Lane(""))
	assert.Equal(t, "high", Lane(" high "))
	assert.Equal(t, "avatar:queue:low", Key("avatar:queue:", ""))
	assert.Equal(t, "avatar:high", Key("avatar", "high"))
	assert.Equal(t, "low", Key("", ""))
}
