// Package mediainfo parses the JSON document printed by
// `mediainfo --Output=JSON`. All numeric fields arrive as strings; absent
// or malformed values degrade to zero rather than failing the whole file.
package mediainfo

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
)

// Binary is the external tool name.
const Binary = "mediainfo"

// Args returns the argv for analyzing the given paths in one invocation.
func Args(paths []string) []string {
	out := make([]string, 0, len(paths)+1)
	out = append(out, "--Output=JSON")
	out = append(out, paths...)
	return out
}

// FileInfo is the per-path extraction of the tracks mediainfo reports.
type FileInfo struct {
	Path             string
	Size             int64
	Duration         float64
	OverallBitrate   int64
	VideoBitrate     int64
	AudioBitrate     int64
	Width            int
	Height           int
	FrameRate        float64
	VideoCodecs      []string
	AudioCodecs      []string
	MaxAudioChannels int
	Atmos            bool
	HDR              *string
}

// Bitrate derives the usable overall bitrate: mediainfo's own value when
// positive, otherwise the sum of the stream bitrates.
func (f *FileInfo) Bitrate() int64 {
	if f.OverallBitrate > 0 {
		return f.OverallBitrate
	}
	return f.VideoBitrate + f.AudioBitrate
}

// document mirrors the top-level mediainfo JSON shape. A single path yields
// one object; multiple paths yield an array.
type document struct {
	Media mediaBlock `json:"media"`
}

type mediaBlock struct {
	Ref   string  `json:"@ref"`
	Track []track `json:"track"`
}

// track is one stream entry. mediainfo reports every numeric value as a
// string.
type track struct {
	Type                  string `json:"@type"`
	FileSize              string `json:"FileSize"`
	Duration              string `json:"Duration"`
	OverallBitRate        string `json:"OverallBitRate"`
	BitRate               string `json:"BitRate"`
	Width                 string `json:"Width"`
	Height                string `json:"Height"`
	FrameRate             string `json:"FrameRate"`
	Format                string `json:"Format"`
	FormatCommercialIfAny string `json:"Format_Commercial_IfAny"`
	HDRFormat             string `json:"HDR_Format"`
	ColourPrimaries       string `json:"colour_primaries"`
	Channels              string `json:"Channels"`
}

// Parse consumes the JSON document and returns extractions keyed by path.
// Unknown tracks and fields are ignored.
func Parse(data []byte) (map[string]*FileInfo, error) {
	docs, err := decode(data)
	if err != nil {
		return nil, err
	}

	out := make(map[string]*FileInfo, len(docs))
	for _, doc := range docs {
		if doc.Media.Ref == "" {
			continue
		}
		out[doc.Media.Ref] = extract(doc.Media)
	}
	return out, nil
}

// decode accepts both the single-object and array top-level shapes.
func decode(data []byte) ([]document, error) {
	trimmed := strings.TrimSpace(string(data))
	if trimmed == "" {
		return nil, fmt.Errorf("mediainfo: empty output")
	}

	if strings.HasPrefix(trimmed, "[") {
		var docs []document
		if err := json.Unmarshal(data, &docs); err != nil {
			return nil, fmt.Errorf("mediainfo: decoding array: %w", err)
		}
		return docs, nil
	}

	var doc document
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("mediainfo: decoding object: %w", err)
	}
	return []document{doc}, nil
}

// extract folds a media block's tracks into a FileInfo.
func extract(media mediaBlock) *FileInfo {
	info := &FileInfo{Path: media.Ref}
	sawGeneral := false

	for _, t := range media.Track {
		switch t.Type {
		case "General":
			if sawGeneral {
				continue // only the first General track counts
			}
			sawGeneral = true
			info.Size = parseInt(t.FileSize)
			info.Duration = parseFloat(t.Duration)
			info.OverallBitrate = parseInt(t.OverallBitRate)
		case "Video":
			if info.Width == 0 {
				info.Width = int(parseInt(t.Width))
				info.Height = int(parseInt(t.Height))
				info.FrameRate = parseFloat(t.FrameRate)
			}
			info.VideoBitrate += parseInt(t.BitRate)
			if t.Format != "" {
				info.VideoCodecs = append(info.VideoCodecs, t.Format)
			}
			if hdr := hdrTag(t); hdr != "" && info.HDR == nil {
				info.HDR = &hdr
			}
		case "Audio":
			info.AudioBitrate += parseInt(t.BitRate)
			if t.Format != "" {
				info.AudioCodecs = append(info.AudioCodecs, t.Format)
			}
			if channels := int(parseInt(t.Channels)); channels > info.MaxAudioChannels {
				info.MaxAudioChannels = channels
			}
			if isAtmos(t) {
				info.Atmos = true
			}
		}
	}
	return info
}

// hdrTag returns the HDR marker for a video track: the explicit HDR_Format
// when present, otherwise wide-gamut colour primaries.
func hdrTag(t track) string {
	if t.HDRFormat != "" {
		return t.HDRFormat
	}
	if t.ColourPrimaries != "" && strings.Contains(t.ColourPrimaries, "2020") {
		return t.ColourPrimaries
	}
	return ""
}

// isAtmos reports whether an audio track is Dolby Atmos.
func isAtmos(t track) bool {
	return strings.Contains(t.Format, "Atmos") || strings.Contains(t.FormatCommercialIfAny, "Atmos")
}

// parseInt parses a mediainfo numeric string, tolerating a decimal point.
func parseInt(s string) int64 {
	if s == "" {
		return 0
	}
	if v, err := strconv.ParseInt(s, 10, 64); err == nil {
		return v
	}
	if f, err := strconv.ParseFloat(s, 64); err == nil {
		return int64(f)
	}
	return 0
}

// parseFloat parses a mediainfo float string.
func parseFloat(s string) float64 {
	if s == "" {
		return 0
	}
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0
	}
	return v
}
