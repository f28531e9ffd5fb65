package logging

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zapcore"
)

func TestParseLevel(t *testing.T) {
	assert.Equal(t, zapcore.DebugLevel, ParseLevel("DEBUG").Level())
	assert.Equal(t, zapcore.WarnLevel, ParseLevel("warning").Level())
	assert.Equal(t, zapcore.InfoLevel, ParseLevel("bogus").Level())
}

func TestNewBuildsBothFormats(t *testing.T) {
	for _, f := range []string{"json", "console"} {
		l, err := New(Config{Level: "info", Format: f})
		require.NoError(t, err)
		assert.NotNil(t, l)
	}
	assert.NotNil(t, OrNop(nil))
}
