package models

import (
	"fmt"
	"path"
	"strings"
	"time"
)

// StorageProvider selects the backend that holds a video's bytes
type StorageProvider string

const (
	StorageProviderLocal  StorageProvider = "local"
	StorageProviderObject StorageProvider = "object"
)

// Valid reports whether p is a known provider
func (p StorageProvider) Valid() bool {
	return p == StorageProviderLocal || p == StorageProviderObject
}

// VideoStatus constants
const (
	VideoStatusPendingCreation    = "pending_creation"
	VideoStatusStagingPlaceholder = "staging_placeholder"
	VideoStatusActive             = "active"
)

// ValidVideoStatus reports whether s is a known video status
func ValidVideoStatus(s string) bool {
	switch s {
	case VideoStatusPendingCreation, VideoStatusStagingPlaceholder, VideoStatusActive:
		return true
	}
	return false
}

// Video represents a single media asset
type Video struct {
	ID              string          `json:"id" db:"id"`
	Title           string          `json:"title" db:"title"`
	OwnerID         string          `json:"owner_id" db:"owner_id"`
	LessonID        *string         `json:"lesson_id,omitempty" db:"lesson_id"`
	Order           int             `json:"order" db:"order"`
	StoragePath     string          `json:"storage_path" db:"storage_path"`
	StorageProvider StorageProvider `json:"storage_provider" db:"storage_provider"`
	RemoteKey       *string         `json:"r2_key,omitempty" db:"r2_key"`
	SigningSecret   string          `json:"-" db:"signing_secret"`
	SizeBytes       *int64          `json:"size_bytes,omitempty" db:"size_bytes"`
	DurationSeconds *float64        `json:"duration_seconds,omitempty" db:"duration_seconds"`
	Status          string          `json:"status" db:"status"`
	CreatedAt       time.Time       `json:"created_at" db:"created_at"`
}

// IsOwnedBy reports whether userID uploaded the video
func (v *Video) IsOwnedBy(userID string) bool {
	return userID != "" && v.OwnerID == userID
}

// OutputPrefix returns the storage key prefix holding the video's manifests and segments.
// Remote videos use their recorded r2_key; local videos derive it from ownership.
func (v *Video) OutputPrefix() string {
	if v.RemoteKey != nil && *v.RemoteKey != "" {
		return *v.RemoteKey
	}
	return OutputPrefixFor(v.OwnerID, v.LessonID, v.ID)
}

// OutputPrefixFor builds owners/<owner>[/lessons/<lesson>]/videos/<id>
func OutputPrefixFor(ownerID string, lessonID *string, videoID string) string {
	if lessonID != nil && *lessonID != "" {
		return path.Join("owners", ownerID, "lessons", *lessonID, "videos", videoID)
	}
	return path.Join("owners", ownerID, "videos", videoID)
}

// layoutSegments name the fixed directories of an output prefix
var layoutSegments = map[string]bool{"owners": true, "lessons": true, "videos": true}

// ValidateOwnership rejects owner and lesson ids that would reshape the
// output prefix or hide the video id from media path parsing
func ValidateOwnership(ownerID string, lessonID *string) error {
	if err := checkSegment("owner_id", ownerID); err != nil {
		return err
	}
	if lessonID != nil && *lessonID != "" {
		return checkSegment("lesson_id", *lessonID)
	}
	return nil
}

func checkSegment(field, value string) error {
	switch {
	case value == "":
		return fmt.Errorf("%w: %s is required", ErrInvalidParameter, field)
	case value == "." || value == "..", strings.ContainsAny(value, "/\\"):
		return fmt.Errorf("%w: %s must be a single path segment", ErrInvalidParameter, field)
	case layoutSegments[value]:
		return fmt.Errorf("%w: %s %q is reserved", ErrInvalidParameter, field, value)
	}
	return nil
}

// MasterManifestKey is the key of the top-level playlist for the video
func (v *Video) MasterManifestKey() string {
	return path.Join(v.OutputPrefix(), MasterManifestName)
}

// KeyPath returns keys/<videoId>/enc.key
func KeyPath(videoID string) string {
	return fmt.Sprintf("keys/%s/enc.key", videoID)
}

// Output naming shared by every backend
const (
	MasterManifestName  = "master.m3u8"
	VariantManifestName = "playlist.m3u8"
	SegmentPattern      = "segment_%03d.ts"
)
