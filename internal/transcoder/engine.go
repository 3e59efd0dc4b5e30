package transcoder

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path"
	"path/filepath"
	"strings"
	"time"

	"github.com/therealutkarshpriyadarshi/hlsvault/internal/config"
	"github.com/therealutkarshpriyadarshi/hlsvault/internal/logging"
	"github.com/therealutkarshpriyadarshi/hlsvault/internal/metrics"
	"github.com/therealutkarshpriyadarshi/hlsvault/internal/storage"
	"github.com/therealutkarshpriyadarshi/hlsvault/internal/tracing"
	"github.com/therealutkarshpriyadarshi/hlsvault/pkg/models"
)

// Pipeline failures. Each is terminal for its task.
var (
	ErrSourceNotFound   = errors.New("source media not found")
	ErrRemuxFailed      = errors.New("recording is too short or incomplete")
	ErrUnsupportedMedia = errors.New("unsupported media: no video stream")
	ErrEncodeFailed     = errors.New("encoding failed")
	ErrPublishFailed    = errors.New("publishing output failed")
)

// recorder containers that are remuxed before probing
var recorderExtensions = map[string]bool{
	".webm": true,
}

// MediaTool runs the external prober and encoder
type MediaTool interface {
	Probe(ctx context.Context, inputPath string) (*MediaInfo, error)
	Remux(ctx context.Context, inputPath, outputPath string) error
	EncodeHLS(ctx context.Context, opts HLSEncodeOptions) error
}

// Repository is the persistence the engine needs
type Repository interface {
	GetVideo(ctx context.Context, id string) (*models.Video, error)
	FinalizeTask(ctx context.Context, taskID, videoID string, sizeBytes int64, durationSeconds *float64) error
}

// KeyStore provides the video's segment key
type KeyStore interface {
	EnsureKey(ctx context.Context, videoID string) ([]byte, bool, error)
	LocalFile(ctx context.Context, videoID, targetDir string) (string, error)
}

// Options holds engine settings
type Options struct {
	TempDir           string
	KeyURIBase        string
	Preset            string
	SegmentSeconds    int
	AudioSampleRate   int
	AudioChannels     int
	AudioBitrate      string
	UploadConcurrency int
}

// OptionsFromConfig builds Options from the transcoder and key settings
func OptionsFromConfig(cfg config.TranscoderConfig, keys config.KeysConfig) Options {
	return Options{
		TempDir:           cfg.TempDir,
		KeyURIBase:        keys.URIBase,
		Preset:            cfg.Preset,
		SegmentSeconds:    cfg.SegmentSeconds,
		AudioSampleRate:   cfg.AudioSampleRate,
		AudioChannels:     cfg.AudioChannels,
		AudioBitrate:      cfg.AudioBitrate,
		UploadConcurrency: cfg.UploadConcurrency,
	}
}

// Engine turns a claimed task into published, encrypted HLS output
type Engine struct {
	tool      MediaTool
	repo      Repository
	keys      KeyStore
	providers *storage.Providers
	planner   ResolutionPlanner
	opts      Options
	logger    *logging.Logger
}

// NewEngine creates an engine that encodes at native resolution
func NewEngine(tool MediaTool, repo Repository, keys KeyStore, providers *storage.Providers, opts Options, logger *logging.Logger) *Engine {
	if logger == nil {
		logger = logging.Nop()
	}
	if opts.TempDir == "" {
		opts.TempDir = os.TempDir()
	}
	return &Engine{
		tool:      tool,
		repo:      repo,
		keys:      keys,
		providers: providers,
		planner:   NativePlanner{},
		opts:      opts,
		logger:    logger,
	}
}

// WithPlanner replaces the resolution planner
func (e *Engine) WithPlanner(p ResolutionPlanner) *Engine {
	e.planner = p
	return e
}

// Process runs every pipeline step for task and marks it completed.
// A returned error leaves the task for the caller to fail.
func (e *Engine) Process(ctx context.Context, task *models.ProcessingTask) (err error) {
	span, ctx := tracing.StartSpan(ctx, "transcoder.process")
	tracing.SetTag(span, "task_id", task.ID)
	tracing.SetTag(span, "video_id", task.VideoID)
	defer func() {
		tracing.LogError(span, err)
		tracing.FinishSpan(span)
	}()

	logger := e.logger.WithTaskID(task.ID).WithVideoID(task.VideoID)

	video, err := e.repo.GetVideo(ctx, task.VideoID)
	if err != nil {
		return fmt.Errorf("failed to get video: %w", err)
	}

	backend, err := e.providers.ForVideo(video)
	if err != nil {
		return err
	}

	workDir := filepath.Join(e.opts.TempDir, task.ID)
	if err := os.MkdirAll(workDir, 0700); err != nil {
		return fmt.Errorf("failed to create work directory: %w", err)
	}
	defer os.RemoveAll(workDir)

	// resolve source
	source, err := e.resolveSource(ctx, video, backend, workDir)
	if err != nil {
		return e.stageFailed("source", ErrSourceNotFound, err)
	}
	logger.WithField("source", source).Debug("Source resolved")

	// remux recorder output
	if recorderExtensions[strings.ToLower(filepath.Ext(source))] {
		remuxed := filepath.Join(workDir, "remuxed.mkv")
		if err := e.tool.Remux(ctx, source, remuxed); err != nil {
			return e.stageFailed("remux", ErrRemuxFailed, err)
		}
		if info, err := os.Stat(remuxed); err != nil || info.Size() == 0 {
			return e.stageFailed("remux", ErrRemuxFailed, errors.New("remux produced no output"))
		}
		source = remuxed
	}

	// probe
	info, err := e.tool.Probe(ctx, source)
	if err != nil {
		return e.stageFailed("probe", ErrUnsupportedMedia, err)
	}
	if !info.HasVideo {
		return e.stageFailed("probe", ErrUnsupportedMedia, fmt.Errorf("%s has no video stream", filepath.Base(source)))
	}

	params, err := SelectParams(task, e.opts.Preset)
	if err != nil {
		return err
	}

	renditions, err := e.planner.Plan(info, task.Resolutions)
	if err != nil {
		return e.stageFailed("probe", ErrUnsupportedMedia, err)
	}
	if len(task.Resolutions) > 0 && !sameRenditions(renditions, task.Resolutions) {
		logger.WithField("requested", task.Resolutions).WithField("encoding", renditions[0].Name).
			Debug("Requested resolutions differ from planned renditions")
	}

	// key
	if _, created, err := e.keys.EnsureKey(ctx, video.ID); err != nil {
		return fmt.Errorf("failed to load encryption key: %w", err)
	} else if created {
		logger.Warn("Video had no encryption key, generated one")
	}
	keyPath, err := e.keys.LocalFile(ctx, video.ID, workDir)
	if err != nil {
		return fmt.Errorf("failed to materialize encryption key: %w", err)
	}
	keyInfoPath := filepath.Join(workDir, "enc.keyinfo")
	if err := WriteKeyInfo(keyInfoPath, KeyURI(e.opts.KeyURIBase, video.ID), keyPath); err != nil {
		return fmt.Errorf("failed to write key info: %w", err)
	}

	outDir, inPlace, err := e.outputDir(video, backend, workDir)
	if err != nil {
		return e.stageFailed("publish", ErrPublishFailed, err)
	}

	// encode
	variants := make([]Variant, 0, len(renditions))
	for _, r := range renditions {
		start := time.Now()
		resDir := filepath.Join(outDir, r.Name)
		// segments from an earlier encode must not survive a shorter one
		if err := os.RemoveAll(resDir); err != nil {
			return e.stageFailed("encode", ErrEncodeFailed, err)
		}
		if err := os.MkdirAll(resDir, 0755); err != nil {
			return e.stageFailed("encode", ErrEncodeFailed, err)
		}

		err := e.tool.EncodeHLS(ctx, HLSEncodeOptions{
			InputPath:       source,
			OutputDir:       resDir,
			Width:           r.Width,
			Height:          r.Height,
			Params:          params,
			HasAudio:        info.HasAudio,
			KeyInfoPath:     keyInfoPath,
			SegmentSeconds:  e.opts.SegmentSeconds,
			AudioSampleRate: e.opts.AudioSampleRate,
			AudioChannels:   e.opts.AudioChannels,
			AudioBitrate:    e.opts.AudioBitrate,
		})
		if err != nil {
			return e.stageFailed("encode", ErrEncodeFailed, err)
		}

		out, err := measureRendition(resDir)
		if err != nil {
			return e.stageFailed("encode", ErrEncodeFailed, err)
		}

		variants = append(variants, Variant{
			Rendition: r,
			Bandwidth: EstimateBandwidth(out, info.Duration, float64(e.opts.SegmentSeconds), r, info.HasAudio),
			Codec:     params.Codec,
			HasAudio:  info.HasAudio,
		})

		logger.WithField("rendition", r.Name).
			WithField("crf", params.CRF).
			WithField("duration_ms", time.Since(start).Milliseconds()).
			Info("Rendition encoded")
	}

	if err := WriteMasterPlaylist(outDir, variants); err != nil {
		return e.stageFailed("encode", ErrEncodeFailed, err)
	}

	// publish
	var total int64
	if inPlace {
		if err := pruneStale(outDir, variants); err != nil {
			return e.stageFailed("publish", ErrPublishFailed, err)
		}
		total, err = dirSize(outDir)
	} else {
		total, err = storage.UploadDirectory(ctx, backend, outDir, video.OutputPrefix(), e.opts.UploadConcurrency)
	}
	if err != nil {
		return e.stageFailed("publish", ErrPublishFailed, err)
	}
	if !inPlace {
		e.removeStaging(ctx, video, logger)
	}

	var duration *float64
	if info.Duration > 0 {
		d := info.Duration
		duration = &d
	}

	if err := e.repo.FinalizeTask(ctx, task.ID, video.ID, total, duration); err != nil {
		return fmt.Errorf("failed to finalize task: %w", err)
	}

	logger.WithField("size_bytes", total).Info("Video published")
	return nil
}

func (e *Engine) stageFailed(stage string, kind, cause error) error {
	metrics.RecordPipelineFailure(stage)
	return fmt.Errorf("%w: %v", kind, cause)
}

// outputDir returns where renditions are written and whether that is their
// final location. Filesystem-backed videos are written in place.
func (e *Engine) outputDir(video *models.Video, backend storage.Backend, workDir string) (string, bool, error) {
	if lp, ok := storage.AsLocal(backend); ok {
		dir, err := lp.LocalPath(video.OutputPrefix())
		if err != nil {
			return "", false, err
		}
		return dir, true, os.MkdirAll(dir, 0755)
	}

	dir := filepath.Join(workDir, "output")
	return dir, false, os.MkdirAll(dir, 0755)
}

// resolveSource finds the input file. Absolute paths are read from disk;
// other paths are keys, first on the local backend, then on the video's backend.
func (e *Engine) resolveSource(ctx context.Context, video *models.Video, backend storage.Backend, workDir string) (string, error) {
	p := video.StoragePath
	if p == "" {
		return "", errors.New("video has no storage path")
	}

	if filepath.IsAbs(p) {
		return pickLocalSource(p)
	}

	if lp, ok := storage.AsLocal(e.providers.Local); ok {
		if local, err := lp.LocalPath(p); err == nil {
			if found, err := pickLocalSource(local); err == nil {
				return found, nil
			}
		}
	}

	if _, ok := storage.AsLocal(backend); ok {
		return "", fmt.Errorf("%s not found", p)
	}

	for _, key := range []string{p, path.Join(p, "input.mp4"), path.Join(p, "input.webm")} {
		target := filepath.Join(workDir, "source"+path.Ext(key))
		err := download(ctx, backend, key, target)
		if err == nil {
			return target, nil
		}
		if !errors.Is(err, models.ErrNotFound) {
			return "", err
		}
	}

	return "", fmt.Errorf("%s not found", p)
}

// pickLocalSource returns p itself for a file, or input.mp4 then input.webm inside a directory
func pickLocalSource(p string) (string, error) {
	info, err := os.Stat(p)
	if err != nil {
		return "", err
	}
	if !info.IsDir() {
		return p, nil
	}

	for _, name := range []string{"input.mp4", "input.webm"} {
		candidate := filepath.Join(p, name)
		if fi, err := os.Stat(candidate); err == nil && !fi.IsDir() {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("no input.mp4 or input.webm in %s", p)
}

func download(ctx context.Context, b storage.Backend, key, target string) error {
	rc, err := b.GetStream(ctx, key)
	if err != nil {
		return err
	}
	defer rc.Close()

	f, err := os.Create(target)
	if err != nil {
		return err
	}
	if _, err := io.Copy(f, rc); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}

// removeStaging deletes the uploaded source once output is in the object store
func (e *Engine) removeStaging(ctx context.Context, video *models.Video, logger *logging.Logger) {
	if err := e.providers.RemoveStaging(ctx, video.StoragePath); err != nil {
		logger.WithError(err).WithField("storage_path", video.StoragePath).Warn("Failed to remove staging directory")
	}
}

// pruneStale removes output left in dir by earlier encodes: anything other
// than the master playlist and the directories of variants
func pruneStale(dir string, variants []Variant) error {
	keep := map[string]bool{models.MasterManifestName: true}
	for _, v := range variants {
		keep[v.Rendition.Name] = true
	}

	entries, err := os.ReadDir(dir)
	if err != nil {
		return err
	}
	for _, entry := range entries {
		if keep[entry.Name()] {
			continue
		}
		if err := os.RemoveAll(filepath.Join(dir, entry.Name())); err != nil {
			return err
		}
	}
	return nil
}

func sameRenditions(renditions []Rendition, requested []string) bool {
	if len(renditions) != len(requested) {
		return false
	}
	for i, r := range renditions {
		if r.Name != requested[i] {
			return false
		}
	}
	return true
}
