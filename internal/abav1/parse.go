// Package abav1 owns the interface to the external ab-av1 binary: argv
// construction for its two modes and line parsers for its progress output.
// Parsers are tolerant; unmatched lines are simply not events.
package abav1

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"github.com/mjc/reencodarr-sub000/pkg/bytesize"
)

// Binary is the external tool name.
const Binary = "ab-av1"

// Subcommands.
const (
	SubcommandCrfSearch = "crf-search"
	SubcommandEncode    = "encode"
)

// Sample is one crf-search observation.
type Sample struct {
	CRF         float64
	Score       float64
	Percent     float64
	Size        *int64
	TimeSeconds *int64
}

// sampleLinePattern matches crf-search result lines such as:
//
//	crf 24 VMAF 95.22 predicted video stream size 700.95 MiB (22%) taking 31 minutes
//	crf 30 VMAF 91.40 (18%)
var sampleLinePattern = regexp.MustCompile(
	`crf\s+([\d.]+)\s+VMAF\s+([\d.]+)` +
		`(?:\s+predicted video stream size\s+([\d.]+)\s*([A-Za-z]+))?` +
		`\s+\((\d+)%\)` +
		`(?:\s+taking\s+(\d+)\s+(seconds?|minutes?|hours?))?`,
)

// ParseSample extracts a crf-search sample from a line. The second return
// is false for non-sample lines.
func ParseSample(line string) (Sample, bool) {
	m := sampleLinePattern.FindStringSubmatch(line)
	if m == nil {
		return Sample{}, false
	}

	sample := Sample{}
	sample.CRF, _ = strconv.ParseFloat(m[1], 64)
	sample.Score, _ = strconv.ParseFloat(m[2], 64)
	sample.Percent, _ = strconv.ParseFloat(m[5], 64)

	if m[3] != "" {
		if size, err := bytesize.Parse(m[3] + m[4]); err == nil {
			v := size.Bytes()
			sample.Size = &v
		}
	}
	if m[6] != "" {
		if n, err := strconv.ParseInt(m[6], 10, 64); err == nil {
			seconds := n * unitSeconds(m[7])
			sample.TimeSeconds = &seconds
		}
	}
	return sample, true
}

// RenderSample produces a canonical crf-search line for a sample. Parsing
// the rendered line yields the same sample, which the tests rely on.
func RenderSample(s Sample) string {
	var b strings.Builder
	fmt.Fprintf(&b, "crf %s VMAF %.2f", formatCRF(s.CRF), s.Score)
	if s.Size != nil {
		fmt.Fprintf(&b, " predicted video stream size %s", bytesize.Format(bytesize.Size(*s.Size)))
	}
	fmt.Fprintf(&b, " (%d%%)", int(s.Percent))
	if s.TimeSeconds != nil {
		value, unit := largestTimeUnit(*s.TimeSeconds)
		fmt.Fprintf(&b, " taking %d %s", value, unit)
	}
	return b.String()
}

// formatCRF prints integral CRFs without a decimal point, matching ab-av1.
func formatCRF(crf float64) string {
	if crf == float64(int64(crf)) {
		return strconv.FormatInt(int64(crf), 10)
	}
	return strconv.FormatFloat(crf, 'f', -1, 64)
}

// largestTimeUnit picks the coarsest unit that divides the duration evenly
// enough for display.
func largestTimeUnit(seconds int64) (int64, string) {
	switch {
	case seconds >= 3600 && seconds%3600 == 0:
		return seconds / 3600, "hours"
	case seconds >= 60 && seconds%60 == 0:
		return seconds / 60, "minutes"
	default:
		return seconds, "seconds"
	}
}

// encodingStartPattern matches the encode start line carrying the numeric
// video id, e.g. "[2024-01-01T00:00:00Z INFO] encoding 42.mkv".
var encodingStartPattern = regexp.MustCompile(`encoding\s+(\d+)\.mkv`)

// ParseEncodingStart extracts the video id from an encode start line.
func ParseEncodingStart(line string) (int64, bool) {
	m := encodingStartPattern.FindStringSubmatch(line)
	if m == nil {
		return 0, false
	}
	id, err := strconv.ParseInt(m[1], 10, 64)
	if err != nil {
		return 0, false
	}
	return id, true
}

// EncodeProgress is one encode progress observation.
type EncodeProgress struct {
	Percent    float64
	FPS        float64
	ETASeconds int64
}

// progressPattern matches encode progress lines such as:
//
//	[..] 45%, 120.5 fps, eta 32 minutes
var progressPattern = regexp.MustCompile(
	`([\d.]+)%,\s*([\d.]+)\s*fps,\s*eta\s+(\d+)\s+(seconds?|minutes?|hours?|days?|weeks?|months?|years?)`,
)

// ParseEncodeProgress extracts encode progress from a line.
func ParseEncodeProgress(line string) (EncodeProgress, bool) {
	m := progressPattern.FindStringSubmatch(line)
	if m == nil {
		return EncodeProgress{}, false
	}

	progress := EncodeProgress{}
	progress.Percent, _ = strconv.ParseFloat(m[1], 64)
	progress.FPS, _ = strconv.ParseFloat(m[2], 64)
	if n, err := strconv.ParseInt(m[3], 10, 64); err == nil {
		progress.ETASeconds = n * unitSeconds(m[4])
	}
	return progress, true
}

// encodedSizePattern matches file-size progress lines such as
// "Encoded 1.2 GiB (48%)". Observed but currently unused.
var encodedSizePattern = regexp.MustCompile(`Encoded\s+([\d.]+)\s+([A-Za-z]+)\s+\((\d+)%\)`)

// IsEncodedSizeLine reports whether a line is file-size progress. Callers
// ignore these today; recognizing them keeps them out of warning logs.
func IsEncodedSizeLine(line string) bool {
	return encodedSizePattern.MatchString(line)
}

// unitSeconds converts a time unit word to its length in seconds.
func unitSeconds(unit string) int64 {
	switch strings.TrimSuffix(strings.ToLower(unit), "s") {
	case "second":
		return 1
	case "minute":
		return 60
	case "hour":
		return 3600
	case "day":
		return 86400
	case "week":
		return 7 * 86400
	case "month":
		return 30 * 86400
	case "year":
		return 365 * 86400
	default:
		return 1
	}
}
