package regex

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCompile(t *testing.T) {
	p, err := Compile(`samp.*\.iso`)
	require.NoError(t, err)
	require.NotNil(t, p)

	// the compiled pattern is cached and reused
	again, err := Compile(`samp.*\.iso`)
	require.NoError(t, err)
	assert.Same(t, p, again)
}

func TestCompile_Invalid(t *testing.T) {
	_, err := Compile(`([`)
	assert.Error(t, err)
}

func TestCheck(t *testing.T) {
	p, err := Compile(`s\d+e\d+`)
	require.NoError(t, err)

	tests := []struct {
		name     string
		subject  string
		expected bool
	}{
		{"match", "show.s01e02.mkv", true},
		{"no match", "movie.2024.mkv", false},
		{"empty subject", "", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			match, err := Check(tt.subject, p)
			require.NoError(t, err)
			assert.Equal(t, tt.expected, match)
		})
	}
}

func TestCheckAny(t *testing.T) {
	first, err := Compile(`^backup-`)
	require.NoError(t, err)
	second, err := Compile(`\.bak$`)
	require.NoError(t, err)

	patterns := []*Pattern{first, second}

	match, err := CheckAny("data.bak", patterns)
	require.NoError(t, err)
	assert.True(t, match)

	match, err = CheckAny("data.txt", patterns)
	require.NoError(t, err)
	assert.False(t, match)

	match, err = CheckAny("data.txt", nil)
	require.NoError(t, err)
	assert.False(t, match)
}
