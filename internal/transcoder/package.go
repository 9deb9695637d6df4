package transcoder

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/streamvault/streamvault/internal/config"
	"github.com/streamvault/streamvault/internal/logging"
	"github.com/streamvault/streamvault/pkg/models"
)

// MasterPlaylistName is the filename of the synthesized master manifest.
const MasterPlaylistName = "master.m3u8"

// RenditionPlaylistName is the per-rendition playlist filename.
const RenditionPlaylistName = "index.m3u8"

// SegmentPattern is the zero-padded segment filename pattern.
const SegmentPattern = "seg_%03d.ts"

// StreamPackage describes the artifacts of one successful invocation.
type StreamPackage struct {
	// HLSDir is the root the relative rendition references resolve
	// against; persisting it as a tree keeps the master valid.
	HLSDir             string
	MasterPath         string
	ThumbnailPath      string
	RenditionManifests []string
	Renditions         []models.Rendition
}

// Invoker produces adaptive stream packages from source files. It is
// synchronous and CPU/IO-bound; callers decide where it runs.
type Invoker struct {
	ffmpeg          *FFmpeg
	ladder          []models.Rendition
	segmentSeconds  int
	thumbnailOffset float64
	log             *logging.Logger
}

// NewInvoker creates an invoker with the fixed rendition ladder.
func NewInvoker(cfg config.TranscoderConfig, logger *logging.Logger) *Invoker {
	segment := cfg.SegmentSeconds
	if segment <= 0 {
		segment = 4
	}
	offset := cfg.ThumbnailOffset
	if offset <= 0 {
		offset = 5.0
	}
	return &Invoker{
		ffmpeg:          NewFFmpeg(cfg.FFmpegPath, cfg.FFprobePath),
		ladder:          models.RenditionLadder(),
		segmentSeconds:  segment,
		thumbnailOffset: offset,
		log:             logger,
	}
}

// ProduceStreamPackage encodes every ladder rendition as a segmented
// stream, synthesizes the master manifest, and extracts a poster frame.
// Any nonzero ffmpeg exit aborts the whole invocation; retry semantics
// belong to the caller.
func (inv *Invoker) ProduceStreamPackage(ctx context.Context, inputPath, outputDir string) (*StreamPackage, error) {
	source, err := inv.ffmpeg.Probe(ctx, inputPath)
	if err != nil {
		return nil, fmt.Errorf("failed to probe source: %w", err)
	}

	renditions := models.LadderForSource(source.Height, inv.ladder)

	hlsDir := filepath.Join(outputDir, "hls")
	thumbDir := filepath.Join(outputDir, "thumbs")
	for _, dir := range []string{hlsDir, thumbDir} {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("failed to create output directory: %w", err)
		}
	}

	pkg := &StreamPackage{
		HLSDir:     hlsDir,
		Renditions: renditions,
	}

	for _, r := range renditions {
		renditionDir := filepath.Join(hlsDir, r.Label)
		if err := os.MkdirAll(renditionDir, 0755); err != nil {
			return nil, fmt.Errorf("failed to create rendition directory: %w", err)
		}

		args := renditionArgs(inputPath, renditionDir, r, inv.segmentSeconds)
		inv.log.WithField("rendition", r.Label).Debugf("encoding rendition: ffmpeg %s", strings.Join(args, " "))

		if err := inv.ffmpeg.run(ctx, args); err != nil {
			return nil, fmt.Errorf("rendition %s failed: %w", r.Label, err)
		}
		pkg.RenditionManifests = append(pkg.RenditionManifests, filepath.Join(renditionDir, RenditionPlaylistName))
	}

	pkg.MasterPath = filepath.Join(hlsDir, MasterPlaylistName)
	if err := os.WriteFile(pkg.MasterPath, []byte(BuildMasterPlaylist(renditions)), 0644); err != nil {
		return nil, fmt.Errorf("failed to write master playlist: %w", err)
	}

	offset := ClampThumbnailOffset(inv.thumbnailOffset, source.Duration)
	pkg.ThumbnailPath = filepath.Join(thumbDir, "thumb.jpg")
	thumbArgs := []string{
		"-ss", fmt.Sprintf("%.2f", offset),
		"-i", inputPath,
		"-vframes", "1",
		"-q:v", "2",
		"-y",
		pkg.ThumbnailPath,
	}
	if err := inv.ffmpeg.run(ctx, thumbArgs); err != nil {
		return nil, fmt.Errorf("thumbnail extraction failed: %w", err)
	}

	return pkg, nil
}

// renditionArgs builds one encode pass: scale to target height without
// upscaling, fixed keyframe cadence aligned to segment boundaries,
// vod-typed segmented output.
func renditionArgs(inputPath, renditionDir string, r models.Rendition, segmentSeconds int) []string {
	return []string{
		"-i", inputPath,
		"-y",
		"-vf", fmt.Sprintf("scale=w=%d:h=%d:force_original_aspect_ratio=decrease", r.Width, r.Height),
		"-c:v", "libx264",
		"-profile:v", "main",
		"-crf", "20",
		"-sc_threshold", "0",
		"-g", "48",
		"-keyint_min", "48",
		"-b:v", kilobit(r.VideoBitrate),
		"-maxrate", kilobit(r.MaxBitrate),
		"-bufsize", kilobit(r.BufSize),
		"-c:a", "aac",
		"-b:a", kilobit(r.AudioBitrate),
		"-hls_time", fmt.Sprintf("%d", segmentSeconds),
		"-hls_playlist_type", "vod",
		"-hls_segment_filename", filepath.Join(renditionDir, SegmentPattern),
		filepath.Join(renditionDir, RenditionPlaylistName),
	}
}

func kilobit(bps int64) string {
	return fmt.Sprintf("%dk", bps/1000)
}

// BuildMasterPlaylist synthesizes the master manifest in ladder order,
// each rendition declared with its bandwidth and resolution and
// referenced by a relative path.
func BuildMasterPlaylist(renditions []models.Rendition) string {
	var b strings.Builder
	b.WriteString("#EXTM3U\n")
	b.WriteString("#EXT-X-VERSION:3\n")
	for _, r := range renditions {
		fmt.Fprintf(&b, "#EXT-X-STREAM-INF:BANDWIDTH=%d,RESOLUTION=%dx%d\n", r.Bandwidth, r.Width, r.Height)
		fmt.Fprintf(&b, "%s/%s\n", r.Label, RenditionPlaylistName)
	}
	return b.String()
}

// ClampThumbnailOffset keeps the poster-frame offset inside the source.
func ClampThumbnailOffset(offset, duration float64) float64 {
	if duration > 0 && offset >= duration {
		// Step back half a second from the end so a frame exists.
		clamped := duration - 0.5
		if clamped < 0 {
			clamped = 0
		}
		return clamped
	}
	if offset < 0 {
		return 0
	}
	return offset
}
