package models

import (
	"fmt"
	"time"
)

// Codec is the requested output codec family
type Codec string

const (
	CodecH264 Codec = "h264"
	CodecH265 Codec = "h265"
)

// TaskStatus is the lifecycle state of a processing task
type TaskStatus string

const (
	TaskStatusPending    TaskStatus = "pending"
	TaskStatusProcessing TaskStatus = "processing"
	TaskStatusCompleted  TaskStatus = "completed"
	TaskStatusFailed     TaskStatus = "failed"
)

// Terminal reports whether no further transition is possible
func (s TaskStatus) Terminal() bool {
	return s == TaskStatusCompleted || s == TaskStatusFailed
}

// AllowedResolutions is the allow-list accepted by Enqueue
var AllowedResolutions = []string{"360p", "720p", "1080p"}

// MaxCRF bounds the quality override accepted for both codecs
const MaxCRF = 51

// ProcessingTask represents one transcode job
type ProcessingTask struct {
	ID              string     `json:"id" db:"id"`
	VideoID         string     `json:"video_id" db:"video_id"`
	UserID          string     `json:"user_id" db:"user_id"`
	CodecPreference Codec      `json:"codec_preference" db:"codec_preference"`
	Resolutions     []string   `json:"resolutions" db:"resolutions"`
	CRF             *int       `json:"crf,omitempty" db:"crf"`
	Compress        bool       `json:"compress" db:"compress"`
	Status          TaskStatus `json:"status" db:"status"`
	ErrorMessage    *string    `json:"error_message,omitempty" db:"error_message"`
	CreatedAt       time.Time  `json:"created_at" db:"created_at"`
	UpdatedAt       time.Time  `json:"updated_at" db:"updated_at"`
}

// TaskRequest carries the caller-supplied fields of a new task
type TaskRequest struct {
	VideoID         string
	UserID          string
	CodecPreference string
	Resolutions     []string
	CRF             *int
	Compress        bool
}

// NewProcessingTask validates req and returns a pending task.
// Validation errors wrap ErrInvalidParameter.
func NewProcessingTask(req TaskRequest) (*ProcessingTask, error) {
	if req.VideoID == "" {
		return nil, fmt.Errorf("%w: video_id is required", ErrInvalidParameter)
	}
	if req.UserID == "" {
		return nil, fmt.Errorf("%w: user_id is required", ErrInvalidParameter)
	}

	codec, err := ParseCodec(req.CodecPreference)
	if err != nil {
		return nil, err
	}

	resolutions := make([]string, 0, len(req.Resolutions))
	seen := make(map[string]bool, len(req.Resolutions))
	for _, r := range req.Resolutions {
		if !IsAllowedResolution(r) {
			return nil, fmt.Errorf("%w: unsupported resolution %q", ErrInvalidParameter, r)
		}
		if !seen[r] {
			seen[r] = true
			resolutions = append(resolutions, r)
		}
	}

	if req.CRF != nil && (*req.CRF < 0 || *req.CRF > MaxCRF) {
		return nil, fmt.Errorf("%w: crf must be between 0 and %d", ErrInvalidParameter, MaxCRF)
	}

	return &ProcessingTask{
		VideoID:         req.VideoID,
		UserID:          req.UserID,
		CodecPreference: codec,
		Resolutions:     resolutions,
		CRF:             req.CRF,
		Compress:        req.Compress,
		Status:          TaskStatusPending,
	}, nil
}

// ParseCodec maps a preference string onto a supported codec
func ParseCodec(s string) (Codec, error) {
	switch Codec(s) {
	case CodecH264, CodecH265:
		return Codec(s), nil
	}
	return "", fmt.Errorf("%w: unsupported codec %q", ErrInvalidParameter, s)
}

// IsAllowedResolution reports whether r is on the allow-list
func IsAllowedResolution(r string) bool {
	for _, allowed := range AllowedResolutions {
		if r == allowed {
			return true
		}
	}
	return false
}

// TaskStats summarizes the task table for monitoring
type TaskStats struct {
	Pending            int64      `json:"pending"`
	Processing         int64      `json:"processing"`
	Completed          int64      `json:"completed"`
	Failed             int64      `json:"failed"`
	OldestPendingAt    *time.Time `json:"oldest_pending_at,omitempty"`
	OldestProcessingAt *time.Time `json:"oldest_processing_at,omitempty"`
}
