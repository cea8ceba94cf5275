// Package models defines GORM database models for reencodarr entities.
package models

import "time"

// BoolPtr returns a pointer to a bool value.
// Useful for setting *bool fields in structs.
func BoolPtr(b bool) *bool {
	return &b
}

// IntPtr returns a pointer to an int value.
func IntPtr(i int) *int {
	return &i
}

// Int64Ptr returns a pointer to an int64 value.
func Int64Ptr(i int64) *int64 {
	return &i
}

// Float64Ptr returns a pointer to a float64 value.
func Float64Ptr(f float64) *float64 {
	return &f
}

// StringPtr returns a pointer to a string value.
func StringPtr(s string) *string {
	return &s
}

// BaseModel provides common fields for all models with an integer primary key.
// Videos are addressed by numeric id on disk (the temp encode file is
// <id>.mkv), so models use autoincrement integers rather than string keys.
type BaseModel struct {
	ID        int64     `gorm:"primarykey" json:"id"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// StringList is a []string stored as a JSON column.
type StringList []string

// Map is a free-form map stored as a JSON column, used for mediainfo
// payloads and failure system context.
type Map map[string]any

// Time is an alias for time.Time used in models.
type Time = time.Time

// Now returns the current time.
func Now() Time {
	return time.Now()
}
