// Package rules assembles ab-av1 argument lists from video attributes,
// per-video overrides, and base arguments. Output is deterministic in the
// video's attributes and deduplicated by canonical flag name.
package rules

import (
	"strings"

	"github.com/mjc/reencodarr-sub000/internal/models"
)

// Context selects which rule subset applies: audio rules only make sense for
// a real encode, not a quality search.
type Context string

const (
	// ContextCrfSearch builds arguments for ab-av1 crf-search.
	ContextCrfSearch Context = "crf_search"
	// ContextEncode builds arguments for ab-av1 encode.
	ContextEncode Context = "encode"
)

// arg is one (flag, value) tuple. Bare tokens such as subcommands have no
// flag and live in value.
type arg struct {
	flag     string
	value    string
	hasValue bool
}

// isSubcommand reports whether the tuple is a bare token (no leading dash).
func (a arg) isSubcommand() bool {
	return a.flag == ""
}

// flags dropped from overrides per context. Bounds and temp-dir always come
// from the pipeline's base args; audio handling is suppressed during search.
var crfSearchDropped = map[string]bool{
	"--temp-dir":          true,
	"--min-vmaf":          true,
	"--max-vmaf":          true,
	"--acodec":            true,
	"--downmix-to-stereo": true,
	"--video-only":        true,
}

var encodeDropped = map[string]bool{
	"--temp-dir": true,
	"--min-vmaf": true,
	"--max-vmaf": true,
	"--min-crf":  true,
	"--max-crf":  true,
}

// repeatable flags are exempt from deduplication; they carry key=value
// payloads and legitimately appear multiple times.
var repeatable = map[string]bool{
	"--svt": true,
	"--enc": true,
}

// canonicalFlags maps short forms to the long form used for dedup.
var canonicalFlags = map[string]string{
	"-i": "--input",
	"-o": "--output",
}

// BuildArgs produces the final argv for the given context.
//
// Assembly order: subcommands from base, base flags, overrides (filtered per
// context), then the rules derived from the video. Duplicates are resolved
// by canonical flag name keeping the first occurrence; --svt and --enc may
// repeat.
func BuildArgs(video *models.Video, ctx Context, overrides []string, baseArgs []string) []string {
	base := tuples(baseArgs)
	override := filterOverrides(tuples(overrides), ctx)
	ruleArgs := apply(video, ctx)

	var subcommands, flags []arg
	for _, a := range base {
		if a.isSubcommand() {
			subcommands = append(subcommands, a)
		} else {
			flags = append(flags, a)
		}
	}

	ordered := make([]arg, 0, len(subcommands)+len(flags)+len(override)+len(ruleArgs))
	ordered = append(ordered, subcommands...)
	ordered = append(ordered, flags...)
	ordered = append(ordered, override...)
	ordered = append(ordered, ruleArgs...)

	return flatten(dedupe(ordered))
}

// tuples converts a flat token list into (flag, value) tuples. A token
// starting with "-" opens a flag; a following token that is not itself a
// flag becomes its value. Leading dash-less tokens are subcommands.
func tuples(tokens []string) []arg {
	var out []arg
	for i := 0; i < len(tokens); i++ {
		token := tokens[i]
		if !strings.HasPrefix(token, "-") {
			out = append(out, arg{value: token})
			continue
		}
		a := arg{flag: token}
		if i+1 < len(tokens) && !strings.HasPrefix(tokens[i+1], "-") {
			a.value = tokens[i+1]
			a.hasValue = true
			i++
		}
		out = append(out, a)
	}
	return out
}

// filterOverrides drops context-inappropriate flags from override tuples.
func filterOverrides(args []arg, ctx Context) []arg {
	dropped := encodeDropped
	if ctx == ContextCrfSearch {
		dropped = crfSearchDropped
	}

	var out []arg
	for _, a := range args {
		if a.isSubcommand() {
			continue // overrides never carry subcommands
		}
		if dropped[canonical(a.flag)] {
			continue
		}
		// Audio encoder settings are meaningless during a search.
		if ctx == ContextCrfSearch && a.flag == "--enc" &&
			(strings.HasPrefix(a.value, "b:a=") || strings.HasPrefix(a.value, "ac=")) {
			continue
		}
		out = append(out, a)
	}
	return out
}

// apply collects the rule tuples for the video in a fixed order.
func apply(video *models.Video, ctx Context) []arg {
	var out []arg
	out = append(out, resolutionRule(video)...)
	out = append(out, videoRule()...)
	if ctx == ContextEncode {
		out = append(out, audioRule()...)
	}
	out = append(out, hdrRule(video)...)
	out = append(out, grainRule(video)...)
	return out
}

// audioRule copies audio streams untouched; transcoding audio is not this
// system's job.
func audioRule() []arg {
	return []arg{{flag: "--acodec", value: "copy", hasValue: true}}
}

// hdrRule always tunes SVT for quality; Dolby Vision input additionally
// needs the dolbyvision flag so RPU metadata survives.
func hdrRule(video *models.Video) []arg {
	out := []arg{{flag: "--svt", value: "tune=0", hasValue: true}}
	if video.IsHDR() {
		out = append(out, arg{flag: "--svt", value: "dolbyvision=1", hasValue: true})
	}
	return out
}

// resolutionRule downscales anything above 1080p.
func resolutionRule(video *models.Video) []arg {
	if video.Height > 1080 {
		return []arg{{flag: "--vfilter", value: "scale=1920:-2", hasValue: true}}
	}
	return nil
}

// videoRule pins 10-bit 4:2:0 output.
func videoRule() []arg {
	return []arg{{flag: "--pix-format", value: "yuv420p10le", hasValue: true}}
}

// grainVintageCutoff is the first year film grain synthesis is skipped for.
const grainVintageCutoff = 2009

// grainRule adds synthetic film grain for pre-2009 content, which tends to
// carry real grain that AV1 would otherwise smear.
func grainRule(video *models.Video) []arg {
	year := ContentYear(video)
	if year != nil && *year < grainVintageCutoff {
		return []arg{{flag: "--svt", value: "film-grain=8", hasValue: true}}
	}
	return nil
}

// ContentYear returns the video's release year: the service-provided value
// when present, otherwise the year parsed from the path.
func ContentYear(video *models.Video) *int {
	if video.ContentYear != nil {
		return video.ContentYear
	}
	if year, ok := ExtractYear(video.Path); ok {
		return &year
	}
	return nil
}

// canonical maps a flag to its long form for dedup purposes.
func canonical(flag string) string {
	if long, ok := canonicalFlags[flag]; ok {
		return long
	}
	return flag
}

// dedupe removes repeated flags keeping the first occurrence. Short input
// and output forms are canonicalized to the long form before comparison, so
// -i and --input collapse to a single --input. Repeatable flags pass through.
func dedupe(args []arg) []arg {
	seen := make(map[string]bool, len(args))
	var out []arg
	for _, a := range args {
		if a.isSubcommand() {
			out = append(out, a)
			continue
		}
		name := canonical(a.flag)
		if repeatable[name] {
			a.flag = name
			out = append(out, a)
			continue
		}
		if seen[name] {
			continue
		}
		seen[name] = true
		a.flag = name
		out = append(out, a)
	}
	return out
}

// flatten converts tuples back to a flat token list.
func flatten(args []arg) []string {
	out := make([]string, 0, len(args)*2)
	for _, a := range args {
		if a.isSubcommand() {
			out = append(out, a.value)
			continue
		}
		out = append(out, a.flag)
		if a.hasValue {
			out = append(out, a.value)
		}
	}
	return out
}

// GiB thresholds for the VMAF target ladder.
const (
	gib = int64(1) << 30

	target60GiB = 91
	target40GiB = 92
	target25GiB = 94
	targetSmall = 95
)

// VmafTarget returns the VMAF score a search must hit for the video. Very
// large files accept a slightly lower target; the absolute size savings
// dominate any perceptual difference.
func VmafTarget(video *models.Video) int {
	switch {
	case video.Size > 60*gib:
		return target60GiB
	case video.Size > 40*gib:
		return target40GiB
	case video.Size > 25*gib:
		return target25GiB
	default:
		return targetSmall
	}
}
