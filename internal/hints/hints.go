// Package hints brackets the CRF search space from prior VMAF samples so
// ab-av1 converges in fewer probe encodes. The video's own samples are the
// best predictor; sibling episodes in the same season folder are the next
// best; otherwise the full default range applies.
package hints

import (
	"context"
	"fmt"
	"math"
	"path/filepath"
	"regexp"

	"github.com/mjc/reencodarr-sub000/internal/models"
	"github.com/mjc/reencodarr-sub000/internal/repository"
)

// Absolute CRF bounds ab-av1 accepts for AV1.
const (
	DefaultMinCRF = 5
	DefaultMaxCRF = 70
)

// Margins applied around observed brackets. The video's own samples are
// trusted more tightly than sibling-derived ones.
const (
	ownMargin     = 2
	siblingMargin = 4
)

// Sample is one (crf, score) observation.
type Sample struct {
	CRF   float64
	Score float64
}

// seasonFolderPattern matches directory basenames like "Season 2", "S02",
// "season02".
var seasonFolderPattern = regexp.MustCompile(`(?i)^s(eason\s*)?0*\d+$`)

// InSeasonFolder reports whether the file lives directly inside a
// season-style directory.
func InSeasonFolder(path string) bool {
	return seasonFolderPattern.MatchString(filepath.Base(filepath.Dir(path)))
}

// Engine resolves CRF ranges from persisted samples.
type Engine struct {
	vmafs repository.VmafRepository
}

// NewEngine creates a hint engine over the given sample store.
func NewEngine(vmafs repository.VmafRepository) *Engine {
	return &Engine{vmafs: vmafs}
}

// Range returns the (min_crf, max_crf) bracket for the video. A retry always
// gets the full default range: hint-derived brackets are the usual suspect
// when a search produced nothing.
func (e *Engine) Range(ctx context.Context, video *models.Video, target float64, retry bool) (int, int, error) {
	if retry {
		return DefaultMinCRF, DefaultMaxCRF, nil
	}

	own, err := e.vmafs.GetByVideo(ctx, video.ID)
	if err != nil {
		return 0, 0, fmt.Errorf("loading own samples: %w", err)
	}
	if len(own) > 0 {
		samples := make([]Sample, 0, len(own))
		for _, v := range own {
			samples = append(samples, Sample{CRF: v.CRF, Score: v.Score})
		}
		minCRF, maxCRF := Bracket(samples, target, ownMargin)
		return minCRF, maxCRF, nil
	}

	siblings, err := e.siblingSamples(ctx, video)
	if err != nil {
		return 0, 0, fmt.Errorf("loading sibling samples: %w", err)
	}
	if len(siblings) > 0 {
		minCRF, maxCRF := Bracket(siblings, target, siblingMargin)
		return minCRF, maxCRF, nil
	}

	return DefaultMinCRF, DefaultMaxCRF, nil
}

// siblingSamples returns chosen samples from episodes sharing the video's
// season folder with identical resolution and HDR presence.
func (e *Engine) siblingSamples(ctx context.Context, video *models.Video) ([]Sample, error) {
	if !InSeasonFolder(video.Path) {
		return nil, nil
	}

	candidates, err := e.vmafs.SiblingCandidates(ctx, video)
	if err != nil {
		return nil, err
	}

	dir := filepath.Dir(video.Path)
	var out []Sample
	for _, c := range candidates {
		if filepath.Dir(c.Path) != dir {
			continue
		}
		if hdrPresent(c.HDR) != video.IsHDR() {
			continue
		}
		out = append(out, Sample{CRF: c.CRF, Score: c.Score})
	}
	return out, nil
}

// hdrPresent mirrors Video.IsHDR for the sibling projection.
func hdrPresent(hdr *string) bool {
	return hdr != nil && *hdr != ""
}

// Bracket computes the (min, max) CRF bounds for a sample set against a
// target score. Passing samples have score >= target.
//
//   - Both passing and failing samples: the bracket spans from just below
//     the highest passing CRF to just above the lowest failing CRF.
//   - Only passing: the true ceiling is unknown; extend upward by twice the
//     margin.
//   - Only failing: the floor is unknown; fall to the absolute minimum.
//
// Bounds are clamped to [DefaultMinCRF, DefaultMaxCRF].
func Bracket(samples []Sample, target float64, margin int) (int, int) {
	var passing, failing []float64
	for _, s := range samples {
		if s.Score >= target {
			passing = append(passing, s.CRF)
		} else {
			failing = append(failing, s.CRF)
		}
	}

	if len(passing) == 0 && len(failing) == 0 {
		return DefaultMinCRF, DefaultMaxCRF
	}

	var minCRF, maxCRF int
	switch {
	case len(passing) > 0 && len(failing) > 0:
		minCRF = int(math.Floor(maxOf(passing))) - margin
		maxCRF = int(math.Ceil(minOf(failing))) + margin
	case len(passing) > 0:
		minCRF = int(math.Floor(maxOf(passing))) - margin
		maxCRF = int(math.Ceil(maxOf(passing))) + 2*margin
	default:
		minCRF = DefaultMinCRF
		maxCRF = int(math.Ceil(minOf(failing))) + margin
	}

	return clamp(minCRF), clamp(maxCRF)
}

// clamp bounds a CRF to the supported range.
func clamp(crf int) int {
	if crf < DefaultMinCRF {
		return DefaultMinCRF
	}
	if crf > DefaultMaxCRF {
		return DefaultMaxCRF
	}
	return crf
}

func maxOf(values []float64) float64 {
	out := values[0]
	for _, v := range values[1:] {
		if v > out {
			out = v
		}
	}
	return out
}

func minOf(values []float64) float64 {
	out := values[0]
	for _, v := range values[1:] {
		if v < out {
			out = v
		}
	}
	return out
}
