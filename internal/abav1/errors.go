package abav1

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
)

// ffmpegExitPattern extracts the wrapped ffmpeg exit code ab-av1 surfaces in
// its output on encode failure.
var ffmpegExitPattern = regexp.MustCompile(`Error: ffmpeg encode exit code (\d+)`)

// knownFFmpegErrors maps output phrases to operator-readable descriptions.
var knownFFmpegErrors = []struct {
	phrase  string
	message string
}{
	{"invalid channel layout", "FFmpeg rejected the audio channel layout"},
	{"unknown encoder", "FFmpeg build is missing the requested encoder"},
	{"cannot allocate memory", "FFmpeg ran out of memory"},
	{"no space left on device", "No space left on device"},
	{"invalid data found when processing input", "FFmpeg could not read the input stream"},
	{"permission denied", "Permission denied reading or writing a file"},
}

// ExtractFFmpegError scans captured output for the wrapped ffmpeg exit code
// and known error phrases, returning an enriched message. The second return
// is false when nothing recognizable was found.
func ExtractFFmpegError(tail []string) (string, bool) {
	var parts []string

	for _, line := range tail {
		if m := ffmpegExitPattern.FindStringSubmatch(line); m != nil {
			if code, err := strconv.Atoi(m[1]); err == nil {
				parts = append(parts, fmt.Sprintf("ffmpeg exited with code %d", code))
			}
		}
	}

	joined := strings.ToLower(strings.Join(tail, "\n"))
	for _, known := range knownFFmpegErrors {
		if strings.Contains(joined, known.phrase) {
			parts = append(parts, known.message)
		}
	}

	if len(parts) == 0 {
		return "", false
	}
	return strings.Join(parts, "; "), true
}
