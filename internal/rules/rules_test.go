package rules

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mjc/reencodarr-sub000/internal/models"
)

func testVideo() *models.Video {
	return &models.Video{
		BaseModel: models.BaseModel{ID: 1},
		Path:      "/library/Movie (2015)/movie.mkv",
		Height:    1080,
		Width:     1920,
	}
}

func TestBuildArgs_DedupCanonicalization(t *testing.T) {
	video := testVideo()
	video.Height = 2160
	video.HDR = models.StringPtr("DV")
	video.ContentYear = models.IntPtr(2001)

	base := []string{"encode", "-i", "/a.mkv", "--output", "/b.mkv"}
	args := BuildArgs(video, ContextEncode, nil, base)

	expected := []string{
		"encode",
		"--input", "/a.mkv",
		"--output", "/b.mkv",
		"--vfilter", "scale=1920:-2",
		"--pix-format", "yuv420p10le",
		"--acodec", "copy",
		"--svt", "tune=0",
		"--svt", "dolbyvision=1",
		"--svt", "film-grain=8",
	}
	assert.Equal(t, expected, args)
}

func TestBuildArgs_Idempotent(t *testing.T) {
	video := testVideo()
	video.HDR = models.StringPtr("HDR10")

	base := []string{"encode", "--input", "/a.mkv", "--output", "/b.mkv"}
	overrides := []string{"--svt", "film-grain=4", "--enc", "b:a=128k"}

	first := BuildArgs(video, ContextEncode, overrides, base)
	second := BuildArgs(video, ContextEncode, overrides, base)
	assert.Equal(t, first, second)
}

func TestBuildArgs_NoDuplicateFlags(t *testing.T) {
	video := testVideo()

	base := []string{"encode", "-i", "/a.mkv", "--input", "/dup.mkv", "-o", "/b.mkv", "--output", "/dup2.mkv"}
	overrides := []string{"--pix-format", "yuv420p", "--acodec", "libopus"}
	args := BuildArgs(video, ContextEncode, overrides, base)

	counts := map[string]int{}
	for _, token := range args {
		if len(token) > 0 && token[0] == '-' {
			counts[token]++
		}
	}
	for flag, n := range counts {
		if flag == "--svt" || flag == "--enc" {
			continue
		}
		assert.LessOrEqual(t, n, 1, "flag %s duplicated", flag)
	}
	assert.Equal(t, 1, counts["--input"])
	assert.Equal(t, 1, counts["--output"])
	assert.NotContains(t, args, "-i")
	assert.NotContains(t, args, "-o")

	// First occurrence wins: base input beats the duplicate, and the
	// override pix-format beats the rule's.
	assert.Contains(t, args, "/a.mkv")
	assert.NotContains(t, args, "/dup.mkv")
	assert.Contains(t, args, "yuv420p")
	assert.NotContains(t, args, "yuv420p10le")
}

func TestBuildArgs_CrfSearchFilters(t *testing.T) {
	video := testVideo()
	overrides := []string{
		"--temp-dir", "/tmp/x",
		"--min-vmaf", "95",
		"--max-vmaf", "99",
		"--acodec", "copy",
		"--downmix-to-stereo",
		"--video-only",
		"--enc", "b:a=128k",
		"--enc", "ac=2",
		"--enc", "x265-params=log-level=error",
		"--preset", "6",
	}
	args := BuildArgs(video, ContextCrfSearch, overrides, []string{"crf-search", "-i", "/a.mkv"})

	assert.NotContains(t, args, "--temp-dir")
	assert.NotContains(t, args, "--min-vmaf")
	assert.NotContains(t, args, "--max-vmaf")
	assert.NotContains(t, args, "--acodec")
	assert.NotContains(t, args, "--downmix-to-stereo")
	assert.NotContains(t, args, "--video-only")
	assert.NotContains(t, args, "b:a=128k")
	assert.NotContains(t, args, "ac=2")
	assert.Contains(t, args, "x265-params=log-level=error")
	assert.Contains(t, args, "--preset")
}

func TestBuildArgs_EncodeFilters(t *testing.T) {
	video := testVideo()
	overrides := []string{
		"--temp-dir", "/tmp/x",
		"--min-vmaf", "95",
		"--min-crf", "10",
		"--max-crf", "50",
		"--enc", "b:a=128k",
	}
	args := BuildArgs(video, ContextEncode, overrides, []string{"encode", "--input", "/a.mkv"})

	assert.NotContains(t, args, "--temp-dir")
	assert.NotContains(t, args, "--min-vmaf")
	assert.NotContains(t, args, "--min-crf")
	assert.NotContains(t, args, "--max-crf")
	assert.Contains(t, args, "b:a=128k")
}

func TestBuildArgs_AudioOnlyForEncode(t *testing.T) {
	video := testVideo()

	encode := BuildArgs(video, ContextEncode, nil, []string{"encode", "--input", "/a.mkv"})
	search := BuildArgs(video, ContextCrfSearch, nil, []string{"crf-search", "-i", "/a.mkv"})

	assert.Contains(t, encode, "--acodec")
	assert.NotContains(t, search, "--acodec")
}

func TestBuildArgs_NoDownscaleAt1080p(t *testing.T) {
	video := testVideo()
	args := BuildArgs(video, ContextEncode, nil, []string{"encode", "--input", "/a.mkv"})
	assert.NotContains(t, args, "--vfilter")
}

func TestVmafTarget(t *testing.T) {
	gib := int64(1) << 30
	tests := []struct {
		name string
		size int64
		want int
	}{
		{"over 60GiB", 61 * gib, 91},
		{"over 40GiB", 41 * gib, 92},
		{"over 25GiB", 26 * gib, 94},
		{"small", 10 * gib, 95},
		{"zero", 0, 95},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			video := &models.Video{Size: tt.size}
			assert.Equal(t, tt.want, VmafTarget(video))
		})
	}
}

func TestExtractYear(t *testing.T) {
	tests := []struct {
		name  string
		input string
		want  int
		found bool
	}{
		{"dotted beats bracketed", "Movie.2001.S02.[2023].1080p.mkv", 2001, true},
		{"parenthesized first", "Movie (1999) 2010.mkv", 1999, true},
		{"bracketed", "Movie [2016] 1080p.mkv", 2016, true},
		{"spaced", "Movie 1987 remaster.mkv", 1987, true},
		{"bare digits", "Movie2003x264.mkv", 2003, true},
		{"out of range skipped", "Movie.1899.(2012).mkv", 2012, true},
		{"no year", "Movie.mkv", 0, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			year, found := ExtractYear(tt.input)
			require.Equal(t, tt.found, found)
			if found {
				assert.Equal(t, tt.want, year)
			}
		})
	}
}

func TestContentYear_ServiceValueWins(t *testing.T) {
	video := testVideo()
	video.Path = "/library/Movie.2001.mkv"
	video.ContentYear = models.IntPtr(1998)

	year := ContentYear(video)
	require.NotNil(t, year)
	assert.Equal(t, 1998, *year)
}
