package flags

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestRegistry_Enabled(t *testing.T) {
	tests := []struct {
		name     string
		registry *Registry
		flag     string
		expected bool
	}{
		{
			name:     "flag set to true",
			registry: New(map[string]bool{FlagJournal: true}),
			flag:     FlagJournal,
			expected: true,
		},
		{
			name:     "flag set to false",
			registry: New(map[string]bool{FlagJournal: false}),
			flag:     FlagJournal,
			expected: false,
		},
		{
			name:     "missing flag",
			registry: New(map[string]bool{FlagJournal: true}),
			flag:     FlagWatchProviders,
			expected: false,
		},
		{
			name:     "nil registry",
			registry: nil,
			flag:     FlagJournal,
			expected: false,
		},
		{
			name:     "nil map",
			registry: New(nil),
			flag:     FlagJournal,
			expected: false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			require.Equal(t, tt.expected, tt.registry.Enabled(tt.flag))
		})
	}
}

func TestRegistry_UnknownFlagsAreKeptButInert(t *testing.T) {
	r := New(map[string]bool{"made-up": true})

	require.False(t, IsKnown("made-up"))
	require.True(t, r.Enabled("made-up"))
	require.False(t, r.Enabled(FlagJournal))
}

func TestRegistry_All_ReturnsCopy(t *testing.T) {
	original := map[string]bool{FlagJournal: true}
	r := New(original)

	original[FlagWatchProviders] = true
	all := r.All()
	all[FlagJournal] = false

	require.True(t, r.Enabled(FlagJournal))
	require.False(t, r.Enabled(FlagWatchProviders))
	require.Equal(t, map[string]bool{}, (*Registry)(nil).All())
}

func TestNames(t *testing.T) {
	require.Equal(t, []string{FlagJournal, FlagWatchProviders}, Names())
	for _, name := range Names() {
		require.True(t, IsKnown(name))
		require.NotEmpty(t, Known[name])
	}
}
