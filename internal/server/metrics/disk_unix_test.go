//go:build !windows

package metrics

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStatfsProbe(t *testing.T) {
	total, free, err := StatfsProbe{}.Usage(t.TempDir())
	require.NoError(t, err)
	assert.Positive(t, total)
	assert.LessOrEqual(t, free, total)

	_, _, err = StatfsProbe{}.Usage("/definitely/not/here")
	assert.Error(t, err)
}
