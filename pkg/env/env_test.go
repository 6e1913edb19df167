package env

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestGetPrefersPrefixedKey(t *testing.T) {
	t.Setenv("LOG_FORMAT", "console")
	require.Equal(t, "console", Get("LOG_FORMAT", "json"))

	t.Setenv("FREIGHTLANE_LOG_FORMAT", "json")
	require.Equal(t, "json", Get("LOG_FORMAT", "console"))

	require.Equal(t, "fallback", Get("FREIGHTLANE_TEST_UNSET_KEY", "fallback"))
}
