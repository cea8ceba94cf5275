package models

import "strings"

// Library is a filesystem prefix grouping videos managed by one external
// media-library instance.
type Library struct {
	BaseModel

	// Path is the directory prefix. For a given video path the matching
	// library is the one whose path is the longest prefix of the video's.
	Path string `gorm:"not null;uniqueIndex;size:4096" json:"path"`
}

// TableName returns the table name for Library.
func (Library) TableName() string {
	return "libraries"
}

// Matches reports whether the library's path is a prefix of the video path.
func (l *Library) Matches(videoPath string) bool {
	return strings.HasPrefix(videoPath, l.Path)
}

// MatchLibrary returns the library whose path is the longest prefix of the
// given video path, or nil. The input slice must be sorted by path length
// descending so the first hit is the longest match.
func MatchLibrary(libraries []*Library, videoPath string) *Library {
	for _, lib := range libraries {
		if lib.Matches(videoPath) {
			return lib
		}
	}
	return nil
}
