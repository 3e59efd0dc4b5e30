package transcoder

import (
	"fmt"

	"github.com/therealutkarshpriyadarshi/hlsvault/pkg/models"
)

// Default quality factors per codec family
const (
	DefaultCRFH264 = 23
	DefaultCRFH265 = 28

	// compressCRFBump is added to the default CRF when a task asks for smaller output
	compressCRFBump = 4
)

// EncodeParams are the encoder settings shared by every rendition of a task
type EncodeParams struct {
	Codec   models.Codec
	Encoder string
	CRF     int
	Preset  string
}

// SelectParams maps a task's codec preference and quality options onto encoder settings
func SelectParams(task *models.ProcessingTask, preset string) (EncodeParams, error) {
	if preset == "" {
		preset = "medium"
	}

	params := EncodeParams{Codec: task.CodecPreference, Preset: preset}

	switch task.CodecPreference {
	case models.CodecH264:
		params.Encoder = "libx264"
		params.CRF = DefaultCRFH264
	case models.CodecH265:
		params.Encoder = "libx265"
		params.CRF = DefaultCRFH265
	default:
		return EncodeParams{}, fmt.Errorf("%w: unsupported codec %q", models.ErrInvalidParameter, task.CodecPreference)
	}

	switch {
	case task.CRF != nil:
		params.CRF = *task.CRF
	case task.Compress:
		params.CRF += compressCRFBump
	}

	if params.CRF < 0 {
		params.CRF = 0
	}
	if params.CRF > models.MaxCRF {
		params.CRF = models.MaxCRF
	}

	return params, nil
}

// Rendition is one output variant
type Rendition struct {
	Name   string
	Width  int
	Height int
}

// ResolutionPlanner chooses the renditions to encode for a source.
// It is the extension point for ladder encoding; requested holds the task's
// validated resolution list.
type ResolutionPlanner interface {
	Plan(info *MediaInfo, requested []string) ([]Rendition, error)
}

// NativePlanner encodes a single rendition at the source's own size,
// rounded down to even dimensions for 4:2:0 chroma subsampling.
type NativePlanner struct{}

// Plan returns the native rendition; requested is recorded on the task but not used
func (NativePlanner) Plan(info *MediaInfo, requested []string) ([]Rendition, error) {
	w, h := evenDown(info.Width), evenDown(info.Height)
	if w <= 0 || h <= 0 {
		return nil, fmt.Errorf("%w: invalid source dimensions %dx%d", ErrUnsupportedMedia, info.Width, info.Height)
	}
	return []Rendition{{Name: fmt.Sprintf("%dp", h), Width: w, Height: h}}, nil
}

func evenDown(n int) int {
	return n - n%2
}
