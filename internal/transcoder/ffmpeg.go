package transcoder

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/therealutkarshpriyadarshi/hlsvault/pkg/models"
)

// FFmpeg wraps FFmpeg operations
type FFmpeg struct {
	ffmpegPath  string
	ffprobePath string
}

// NewFFmpeg creates a new FFmpeg instance
func NewFFmpeg(ffmpegPath, ffprobePath string) *FFmpeg {
	return &FFmpeg{
		ffmpegPath:  ffmpegPath,
		ffprobePath: ffprobePath,
	}
}

// VideoMetadata holds video metadata extracted from ffprobe
type VideoMetadata struct {
	Format  FormatInfo   `json:"format"`
	Streams []StreamInfo `json:"streams"`
}

// FormatInfo holds format information
type FormatInfo struct {
	Filename   string `json:"filename"`
	FormatName string `json:"format_name"`
	Duration   string `json:"duration"`
	Size       string `json:"size"`
	BitRate    string `json:"bit_rate"`
}

// StreamInfo holds stream information
type StreamInfo struct {
	CodecType string `json:"codec_type"`
	CodecName string `json:"codec_name"`
	Width     int    `json:"width"`
	Height    int    `json:"height"`
	Duration  string `json:"duration"`
}

// MediaInfo is the subset of probe output the pipeline acts on
type MediaInfo struct {
	Width    int
	Height   int
	HasVideo bool
	HasAudio bool
	Duration float64
}

// ProbeVideo extracts metadata from a video file
func (f *FFmpeg) ProbeVideo(ctx context.Context, inputPath string) (*VideoMetadata, error) {
	args := []string{
		"-v", "quiet",
		"-print_format", "json",
		"-show_format",
		"-show_streams",
		inputPath,
	}

	cmd := exec.CommandContext(ctx, f.ffprobePath, args...)

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		return nil, fmt.Errorf("ffprobe failed: %w, stderr: %s", err, stderr.String())
	}

	var metadata VideoMetadata
	if err := json.Unmarshal(stdout.Bytes(), &metadata); err != nil {
		return nil, fmt.Errorf("failed to parse ffprobe output: %w", err)
	}

	return &metadata, nil
}

// Probe summarizes the first video stream, audio presence and duration
func (f *FFmpeg) Probe(ctx context.Context, inputPath string) (*MediaInfo, error) {
	metadata, err := f.ProbeVideo(ctx, inputPath)
	if err != nil {
		return nil, err
	}
	return metadata.Summary(), nil
}

// Summary reduces raw probe output to MediaInfo
func (m *VideoMetadata) Summary() *MediaInfo {
	info := &MediaInfo{}

	for _, stream := range m.Streams {
		switch stream.CodecType {
		case "video":
			if !info.HasVideo {
				info.HasVideo = true
				info.Width = stream.Width
				info.Height = stream.Height
				if d, err := strconv.ParseFloat(stream.Duration, 64); err == nil {
					info.Duration = d
				}
			}
		case "audio":
			info.HasAudio = true
		}
	}

	// container duration is more reliable than the stream's
	if d, err := strconv.ParseFloat(m.Format.Duration, 64); err == nil && d > 0 {
		info.Duration = d
	}

	return info
}

// Remux repackages input into output without re-encoding
func (f *FFmpeg) Remux(ctx context.Context, inputPath, outputPath string) error {
	args := []string{
		"-v", "error",
		"-i", inputPath,
		"-map", "0",
		"-c", "copy",
		"-y",
		outputPath,
	}

	if err := f.run(ctx, args); err != nil {
		return fmt.Errorf("remux failed: %w", err)
	}
	return nil
}

// HLSEncodeOptions holds options for one encrypted HLS rendition
type HLSEncodeOptions struct {
	InputPath       string
	OutputDir       string // receives playlist.m3u8 and segment_NNN.ts
	Width           int
	Height          int
	Params          EncodeParams
	HasAudio        bool
	KeyInfoPath     string
	SegmentSeconds  int
	AudioSampleRate int
	AudioChannels   int
	AudioBitrate    string
}

// EncodeHLS encodes one rendition into encrypted MPEG-TS segments
func (f *FFmpeg) EncodeHLS(ctx context.Context, opts HLSEncodeOptions) error {
	if err := f.run(ctx, hlsArgs(opts)); err != nil {
		return fmt.Errorf("ffmpeg HLS generation failed: %w", err)
	}
	return nil
}

// hlsArgs builds the ffmpeg argument list for EncodeHLS
func hlsArgs(opts HLSEncodeOptions) []string {
	if opts.SegmentSeconds <= 0 {
		opts.SegmentSeconds = 6
	}
	if opts.AudioSampleRate <= 0 {
		opts.AudioSampleRate = 48000
	}
	if opts.AudioChannels <= 0 {
		opts.AudioChannels = 2
	}
	if opts.AudioBitrate == "" {
		opts.AudioBitrate = "128k"
	}

	args := []string{
		"-v", "error",
		"-i", opts.InputPath,
		"-y",
		"-map", "0:v:0",
		"-c:v", opts.Params.Encoder,
		"-preset", opts.Params.Preset,
		"-crf", strconv.Itoa(opts.Params.CRF),
		"-vf", fmt.Sprintf("scale=%d:%d", opts.Width, opts.Height),
		"-pix_fmt", "yuv420p",
	}

	// Apple players require the hvc1 tag for HEVC in HLS
	if opts.Params.Codec == models.CodecH265 {
		args = append(args, "-tag:v", "hvc1")
	}

	if opts.HasAudio {
		args = append(args,
			"-map", "0:a:0",
			"-c:a", "aac",
			"-ar", strconv.Itoa(opts.AudioSampleRate),
			"-ac", strconv.Itoa(opts.AudioChannels),
			"-b:a", opts.AudioBitrate,
		)
	} else {
		args = append(args, "-an")
	}

	args = append(args,
		"-f", "hls",
		"-hls_time", strconv.Itoa(opts.SegmentSeconds),
		"-hls_playlist_type", "vod",
		"-hls_key_info_file", opts.KeyInfoPath,
		"-hls_segment_filename", filepath.Join(opts.OutputDir, models.SegmentPattern),
		filepath.Join(opts.OutputDir, models.VariantManifestName),
	)

	return args
}

func (f *FFmpeg) run(ctx context.Context, args []string) error {
	cmd := exec.CommandContext(ctx, f.ffmpegPath, args...)

	var stderr bytes.Buffer
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		return fmt.Errorf("%w, stderr: %s", err, strings.TrimSpace(stderr.String()))
	}
	return nil
}
