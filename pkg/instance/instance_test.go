package instance

import (
	"os"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestGetIDPrefersEnv(t *testing.T) {
	t.Setenv("FREIGHTLANE_INSTANCE_ID", "tracking-ingest-2")
	require.Equal(t, "tracking-ingest-2", GetID())

	t.Setenv("FREIGHTLANE_INSTANCE_ID", "")
	t.Setenv("INSTANCE_ID", "")
	host, err := os.Hostname()
	if err != nil || host == "" {
		host = "instance-0"
	}
	require.Equal(t, host, GetID())
}
