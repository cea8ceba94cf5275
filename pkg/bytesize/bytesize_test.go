package bytesize

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func mibSize(v float64) float64 {
	return v * float64(MB)
}

func TestParse(t *testing.T) {
	tests := []struct {
		input string
		want  Size
	}{
		{"1024", 1024},
		{"5MB", 5 * MB},
		{"5 MB", 5 * MB},
		{"1.5GB", Size(1.5 * float64(GB))},
		{"500KB", 500 * KB},
		{"700.95 MiB", Size(mibSize(700.95))},
		{"2TiB", 2 * TB},
		{"0", 0},
	}
	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			got, err := Parse(tt.input)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestParse_Errors(t *testing.T) {
	for _, input := range []string{"", "abc", "5XB", "-5MB", "MB5"} {
		t.Run(input, func(t *testing.T) {
			_, err := Parse(input)
			assert.Error(t, err)
		})
	}
}

func TestFormat(t *testing.T) {
	tests := []struct {
		size Size
		want string
	}{
		{0, "0B"},
		{512, "512B"},
		{KB, "1KB"},
		{5 * MB, "5MB"},
		{Size(1.5 * float64(GB)), "1.5GB"},
		{-2 * MB, "-2MB"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, Format(tt.size))
	}
}

func TestRoundTrip(t *testing.T) {
	for _, size := range []Size{1024, 5 * MB, 3 * GB, 2 * TB} {
		parsed, err := Parse(Format(size))
		require.NoError(t, err)
		assert.Equal(t, size, parsed)
	}
}

func TestMustParse_Panics(t *testing.T) {
	assert.Panics(t, func() { MustParse("not a size") })
}
