package versioning

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestOptionsFromKeepsRegistryOrder(t *testing.T) {
	versions := []Version{{ID: "v3", Name: "gamma"}, {ID: "v1", Name: "alpha"}, {ID: "v2", Name: "beta"}}

	options := OptionsFrom(versions)

	require.Len(t, options, 3)
	for i, option := range options {
		require.Equal(t, versions[i].Name, option.Label)
		require.Equal(t, versions[i], option.Value)
	}
}

func TestDefaultSelection(t *testing.T) {
	options := OptionsFrom([]Version{{ID: "v1", Name: "v1"}, {ID: "v2", Name: "Release 1"}})

	got, ok := DefaultSelection(options, "v2")
	require.True(t, ok)
	require.Equal(t, "v2", got.Value.ID)
	require.Equal(t, "Release 1", got.Label)

	_, ok = DefaultSelection(options, "v9")
	require.False(t, ok, "editing version missing from options")

	_, ok = DefaultSelection(options, "")
	require.False(t, ok)

	_, ok = DefaultSelection(nil, "v1")
	require.False(t, ok)
}
