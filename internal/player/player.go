// Package player implements the adaptive playback client as an explicit
// state machine. It is deliberately free of any event-loop binding:
// every external signal (surface events, engine events, the progress
// timer) arrives as a method call, and all methods are expected to run
// on a single goroutine, mirroring a UI event loop.
package player

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sort"
	"time"

	"github.com/streamvault/streamvault/internal/logging"
)

// State names a position in the playback lifecycle.
type State string

const (
	StateIdle                State = "idle"
	StateSourceSelecting     State = "source_selecting"
	StateSegmentedPlayback   State = "segmented_playback"
	StateProgressivePlayback State = "progressive_playback"
	StateBuffering           State = "buffering"
	StatePlaying             State = "playing"
	StateEnded               State = "ended"
	StateErrored             State = "errored"
)

// ProgressInterval is the wall-clock cadence of position reports while
// a source is attached.
const ProgressInterval = 5 * time.Second

// AutoQuality selects engine-driven adaptive rendition switching.
const AutoQuality = -1

var (
	ErrNoPlayableSource = errors.New("no playable source available")
	ErrNotErrored       = errors.New("retry is only valid from the errored state")
	ErrNoEngine         = errors.New("quality selection requires the segmented engine")
)

// Surface is the underlying media element.
type Surface interface {
	// CanPlayNativeHLS reports whether the surface parses segmented
	// manifests itself, without a client-side engine.
	CanPlayNativeHLS() bool
	Load(url string)
	// Play starts playback. Autoplay restrictions surface here as an
	// error the caller may choose to ignore.
	Play() error
	Pause()
	Seek(seconds float64)
	Position() float64
	// Duration returns a non-positive value while unknown.
	Duration() float64
}

// Level is one rendition advertised by the segmented engine.
type Level struct {
	Height  int
	Bitrate int
}

// Engine is a client-side segmented-stream engine (attachable to a
// manifest URL). Detach must stop background segment fetching.
type Engine interface {
	Supported() bool
	Attach(manifestURL string) error
	Detach()
	Levels() []Level
	// SetLevel pins a rendition by engine index; AutoQuality restores
	// adaptive selection.
	SetLevel(index int)
}

// Reporter receives position reports for the progress upsert surface.
type Reporter interface {
	ReportProgress(positionSeconds, durationSeconds int) error
}

// QualityOption is a user-selectable rendition.
type QualityOption struct {
	Label string
	// Index is the engine level index, or AutoQuality.
	Index int
}

// Source carries the playback URLs resolved for one asset.
type Source struct {
	ManifestURL    string
	ProgressiveURL string
	// ResumeOffset is the caller-supplied starting position in seconds.
	ResumeOffset float64
}

// Player drives a Surface, an optional Engine and a Reporter through
// the playback lifecycle.
type Player struct {
	surface  Surface
	engine   Engine
	reporter Reporter
	log      *logging.Logger

	state         State
	source        Source
	engineActive  bool
	downgraded    bool
	resumeApplied bool
	levels        []Level
	pinnedQuality int
	lastErr       error
	closed        bool
}

func New(surface Surface, engine Engine, reporter Reporter, logger *logging.Logger) *Player {
	return &Player{
		surface:       surface,
		engine:        engine,
		reporter:      reporter,
		log:           logger,
		state:         StateIdle,
		pinnedQuality: AutoQuality,
	}
}

// State returns the current lifecycle state.
func (p *Player) State() State {
	return p.state
}

// LastError returns the error that moved the player into StateErrored.
func (p *Player) LastError() error {
	return p.lastErr
}

// Downgraded reports whether the session has fallen back to
// progressive playback.
func (p *Player) Downgraded() bool {
	return p.downgraded
}

// Open selects a source and starts loading it. Valid from Idle and
// Ended; reopening resets the resume guard but not the downgrade flag,
// which is sticky for the player's lifetime.
func (p *Player) Open(source Source) error {
	if p.closed {
		return errors.New("player is closed")
	}
	p.source = source
	p.resumeApplied = false
	p.lastErr = nil
	return p.selectSource()
}

// selectSource implements the source preference order: native
// segmented, engine segmented, then progressive.
func (p *Player) selectSource() error {
	p.state = StateSourceSelecting
	p.teardownEngine()

	if p.source.ManifestURL != "" && !p.downgraded {
		if p.surface.CanPlayNativeHLS() {
			p.surface.Load(p.source.ManifestURL)
			p.state = StateSegmentedPlayback
			p.log.Debugf("playback source selected: native segmented")
			return nil
		}
		if p.engine != nil && p.engine.Supported() {
			if err := p.engine.Attach(p.source.ManifestURL); err != nil {
				return p.fail(fmt.Errorf("engine attach failed: %w", err))
			}
			p.engineActive = true
			p.state = StateSegmentedPlayback
			p.log.Debugf("playback source selected: engine segmented")
			return nil
		}
	}

	if p.source.ProgressiveURL != "" {
		p.surface.Load(p.source.ProgressiveURL)
		p.state = StateProgressivePlayback
		p.log.Debugf("playback source selected: progressive")
		return nil
	}

	return p.fail(ErrNoPlayableSource)
}

// OnManifestParsed delivers the engine's rendition list.
func (p *Player) OnManifestParsed() {
	if !p.engineActive {
		return
	}
	levels := append([]Level(nil), p.engine.Levels()...)
	sort.Slice(levels, func(i, j int) bool { return levels[i].Height > levels[j].Height })
	p.levels = levels
}

// QualityOptions returns "Auto" followed by the renditions sorted by
// height descending. Empty without an active engine.
func (p *Player) QualityOptions() []QualityOption {
	if !p.engineActive || len(p.levels) == 0 {
		return nil
	}
	options := make([]QualityOption, 0, len(p.levels)+1)
	options = append(options, QualityOption{Label: "Auto", Index: AutoQuality})
	for _, level := range p.levels {
		options = append(options, QualityOption{
			Label: fmt.Sprintf("%dp", level.Height),
			Index: p.engineIndexOf(level),
		})
	}
	return options
}

// engineIndexOf maps a sorted level back to the engine's own ordering.
func (p *Player) engineIndexOf(level Level) int {
	for i, l := range p.engine.Levels() {
		if l == level {
			return i
		}
	}
	return AutoQuality
}

// SelectQuality pins playback to an engine level until changed.
func (p *Player) SelectQuality(index int) error {
	if !p.engineActive {
		return ErrNoEngine
	}
	p.pinnedQuality = index
	p.engine.SetLevel(index)
	return nil
}

// PinnedQuality returns the selected engine level, or AutoQuality.
func (p *Player) PinnedQuality() int {
	return p.pinnedQuality
}

// OnMetadataLoaded applies the resume offset. The seek fires at most
// once per Open so later metadata events cannot yank the position back.
func (p *Player) OnMetadataLoaded() {
	if p.resumeApplied || p.source.ResumeOffset <= 0 {
		return
	}
	if p.surface.Position() >= 1 {
		// Already past the start, do not force-seek.
		p.resumeApplied = true
		return
	}
	p.surface.Seek(p.source.ResumeOffset)
	p.resumeApplied = true
}

// OnWaiting signals the surface stalled for data.
func (p *Player) OnWaiting() {
	switch p.state {
	case StateSegmentedPlayback, StateProgressivePlayback, StatePlaying:
		p.state = StateBuffering
	}
}

// OnPlaying signals playback resumed.
func (p *Player) OnPlaying() {
	switch p.state {
	case StateSegmentedPlayback, StateProgressivePlayback, StateBuffering:
		p.state = StatePlaying
	}
}

// OnPause reports the current position immediately.
func (p *Player) OnPause() {
	p.reportProgress()
}

// OnEnded finalizes the session with a last report.
func (p *Player) OnEnded() {
	p.reportProgress()
	p.state = StateEnded
}

// OnEngineFatalError handles a non-recoverable segmented engine error.
// With a progressive URL available the engine is torn down and playback
// switches over silently; the downgrade is one-way for the session.
// Without one, the error surfaces.
func (p *Player) OnEngineFatalError(err error) {
	if !p.engineActive {
		return
	}
	p.teardownEngine()
	p.downgraded = true

	if p.source.ProgressiveURL != "" {
		p.log.WithError(err).Warnf("segmented engine failed, falling back to progressive")
		p.surface.Load(p.source.ProgressiveURL)
		p.state = StateProgressivePlayback
		if playErr := p.surface.Play(); playErr != nil {
			// Autoplay rejection after a source swap is not fatal.
			p.log.Debugf("autoplay after fallback rejected: %v", playErr)
		}
		return
	}

	p.fail(err)
}

// OnSurfaceFatalError handles a non-recoverable media element error.
func (p *Player) OnSurfaceFatalError(err error) {
	if p.state == StateEnded || p.state == StateErrored {
		return
	}
	p.fail(err)
}

// OnProgressTick is the periodic timer event. Bind it to a real ticker
// with RunProgressTimer or call it directly from a host event loop.
func (p *Player) OnProgressTick() {
	switch p.state {
	case StateSegmentedPlayback, StateProgressivePlayback, StateBuffering, StatePlaying:
		p.reportProgress()
	}
}

// Retry reloads the source after a surfaced error. Autoplay errors are
// suppressed; the downgrade flag keeps a failed engine from being
// re-attached.
func (p *Player) Retry() error {
	if p.state != StateErrored {
		return ErrNotErrored
	}
	if err := p.selectSource(); err != nil {
		return err
	}
	if err := p.surface.Play(); err != nil {
		p.log.Debugf("autoplay on retry rejected: %v", err)
	}
	return nil
}

// Close tears down the engine and marks the player unusable. Safe to
// call on every exit path.
func (p *Player) Close() {
	p.teardownEngine()
	p.closed = true
	p.state = StateIdle
}

// RunProgressTimer drives OnProgressTick on a wall-clock ticker until
// the context is done. The host is responsible for funneling the tick
// onto the same goroutine as the other events.
func (p *Player) RunProgressTimer(ctx context.Context, dispatch func(func())) {
	ticker := time.NewTicker(ProgressInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			dispatch(p.OnProgressTick)
		}
	}
}

func (p *Player) fail(err error) error {
	p.teardownEngine()
	p.lastErr = err
	p.state = StateErrored
	p.log.ErrorWithErr("playback error surfaced", err)
	return err
}

func (p *Player) teardownEngine() {
	if p.engineActive {
		p.engine.Detach()
		p.engineActive = false
	}
	p.levels = nil
	p.pinnedQuality = AutoQuality
}

// reportProgress sends floored whole-second values, and only once the
// surface knows a valid duration.
func (p *Player) reportProgress() {
	duration := p.surface.Duration()
	if duration <= 0 || math.IsNaN(duration) || math.IsInf(duration, 0) {
		return
	}
	position := p.surface.Position()
	if err := p.reporter.ReportProgress(int(math.Floor(position)), int(math.Floor(duration))); err != nil {
		p.log.WithError(err).Debugf("progress report failed")
	}
}
