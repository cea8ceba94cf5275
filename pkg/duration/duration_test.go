package duration

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParse(t *testing.T) {
	tests := []struct {
		input string
		want  time.Duration
	}{
		{"30d", 30 * Day},
		{"2w", 2 * Week},
		{"1w2d12h", Week + 2*Day + 12*time.Hour},
		{"720h", 720 * time.Hour},
		{"90s", 90 * time.Second},
		{"30 days", 30 * Day},
		{"2 weeks", 2 * Week},
		{"-1d", -Day},
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
	for _, input := range []string{"", "soon", "1x"} {
		t.Run(input, func(t *testing.T) {
			_, err := Parse(input)
			assert.Error(t, err)
		})
	}
}

func TestFormat(t *testing.T) {
	tests := []struct {
		d    time.Duration
		want string
	}{
		{0, "0s"},
		{30 * Day, "4w2d"},
		{Week + 2*Day + 12*time.Hour, "1w2d12h"},
		{90 * time.Second, "1m30s"},
		{-Day, "-1d"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, Format(tt.d))
	}
}

func TestRoundTrip(t *testing.T) {
	for _, d := range []time.Duration{Day, 3 * Week, 36 * time.Hour, 90 * time.Second} {
		parsed, err := Parse(Format(d))
		require.NoError(t, err)
		assert.Equal(t, d, parsed)
	}
}
