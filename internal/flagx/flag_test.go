package flagx

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestFilterArgs_SeparateValue(t *testing.T) {
	args := []string{"-a", "localhost:8080", "-x", "junk", "-d", "vault.db"}
	got := FilterArgs(args, []string{"-a", "-d"})
	require.Equal(t, []string{"-a", "localhost:8080", "-d", "vault.db"}, got)
}

func TestFilterArgs_EqualsForm(t *testing.T) {
	args := []string{"--addr=localhost:8080", "--junk=1"}
	got := FilterArgs(args, []string{"--addr"})
	require.Equal(t, []string{"--addr=localhost:8080"}, got)
}

func TestFilterArgs_FlagFollowedByFlag(t *testing.T) {
	// The value slot is occupied by another flag; it must not be consumed.
	args := []string{"-v", "-a", "x"}
	got := FilterArgs(args, []string{"-v"})
	require.Equal(t, []string{"-v"}, got)
}

func TestFilterArgs_Empty(t *testing.T) {
	got := FilterArgs(nil, []string{"-a"})
	require.Empty(t, got)
}
