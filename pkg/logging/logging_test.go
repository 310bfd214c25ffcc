package logging

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNew(t *testing.T) {
	for _, pretty := range []bool{true, false} {
		logger, flush, err := New("debug", pretty)
		require.NoError(t, err)
		logger.WithField("pretty", pretty).Debug("logger built")
		flush()
	}

	_, _, err := New("loud", false)
	assert.Error(t, err)
}
