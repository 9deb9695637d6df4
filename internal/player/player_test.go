package player

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/streamvault/streamvault/internal/logging"
)

type fakeSurface struct {
	nativeHLS bool
	loaded    []string
	playErr   error
	playCalls int
	paused    bool
	position  float64
	duration  float64
	seeks     []float64
}

func (s *fakeSurface) CanPlayNativeHLS() bool { return s.nativeHLS }
func (s *fakeSurface) Load(url string)        { s.loaded = append(s.loaded, url) }
func (s *fakeSurface) Play() error            { s.playCalls++; return s.playErr }
func (s *fakeSurface) Pause()                 { s.paused = true }
func (s *fakeSurface) Seek(seconds float64)   { s.seeks = append(s.seeks, seconds); s.position = seconds }
func (s *fakeSurface) Position() float64      { return s.position }
func (s *fakeSurface) Duration() float64      { return s.duration }

type fakeEngine struct {
	supported bool
	attachErr error
	attached  []string
	detaches  int
	levels    []Level
	setLevels []int
}

func (e *fakeEngine) Supported() bool { return e.supported }
func (e *fakeEngine) Attach(url string) error {
	if e.attachErr != nil {
		return e.attachErr
	}
	e.attached = append(e.attached, url)
	return nil
}
func (e *fakeEngine) Detach()            { e.detaches++ }
func (e *fakeEngine) Levels() []Level    { return e.levels }
func (e *fakeEngine) SetLevel(index int) { e.setLevels = append(e.setLevels, index) }

type fakeReporter struct {
	reports [][2]int
	err     error
}

func (r *fakeReporter) ReportProgress(position, duration int) error {
	if r.err != nil {
		return r.err
	}
	r.reports = append(r.reports, [2]int{position, duration})
	return nil
}

func newTestPlayer(t *testing.T, surface *fakeSurface, engine Engine) (*Player, *fakeReporter) {
	t.Helper()
	logger, err := logging.NewLogger(logging.Config{Level: "error", Output: "stderr"})
	require.NoError(t, err)
	reporter := &fakeReporter{}
	return New(surface, engine, reporter, logger), reporter
}

func TestSourceSelectionNativeSegmented(t *testing.T) {
	surface := &fakeSurface{nativeHLS: true}
	engine := &fakeEngine{supported: true}
	p, _ := newTestPlayer(t, surface, engine)

	require.NoError(t, p.Open(Source{ManifestURL: "/m/master.m3u8", ProgressiveURL: "/m/video.mp4"}))

	assert.Equal(t, StateSegmentedPlayback, p.State())
	assert.Equal(t, []string{"/m/master.m3u8"}, surface.loaded)
	assert.Empty(t, engine.attached, "native surfaces must not attach the engine")
}

func TestSourceSelectionEngineSegmented(t *testing.T) {
	surface := &fakeSurface{}
	engine := &fakeEngine{supported: true}
	p, _ := newTestPlayer(t, surface, engine)

	require.NoError(t, p.Open(Source{ManifestURL: "/m/master.m3u8", ProgressiveURL: "/m/video.mp4"}))

	assert.Equal(t, StateSegmentedPlayback, p.State())
	assert.Equal(t, []string{"/m/master.m3u8"}, engine.attached)
	assert.Empty(t, surface.loaded)
}

func TestSourceSelectionProgressiveFallback(t *testing.T) {
	surface := &fakeSurface{}
	engine := &fakeEngine{supported: false}
	p, _ := newTestPlayer(t, surface, engine)

	require.NoError(t, p.Open(Source{ManifestURL: "/m/master.m3u8", ProgressiveURL: "/m/video.mp4"}))

	assert.Equal(t, StateProgressivePlayback, p.State())
	assert.Equal(t, []string{"/m/video.mp4"}, surface.loaded)
}

func TestSourceSelectionNothingPlayable(t *testing.T) {
	surface := &fakeSurface{}
	p, _ := newTestPlayer(t, surface, nil)

	err := p.Open(Source{})
	assert.ErrorIs(t, err, ErrNoPlayableSource)
	assert.Equal(t, StateErrored, p.State())
	assert.ErrorIs(t, p.LastError(), ErrNoPlayableSource)
}

func TestEngineFatalErrorFallsBackOnce(t *testing.T) {
	surface := &fakeSurface{}
	engine := &fakeEngine{supported: true}
	p, _ := newTestPlayer(t, surface, engine)

	require.NoError(t, p.Open(Source{ManifestURL: "/m/master.m3u8", ProgressiveURL: "/m/video.mp4"}))
	require.Equal(t, StateSegmentedPlayback, p.State())

	p.OnEngineFatalError(errors.New("mediaError: fatal"))

	// The fallback is silent: no errored state, progressive loaded,
	// engine stopped.
	assert.Equal(t, StateProgressivePlayback, p.State())
	assert.True(t, p.Downgraded())
	assert.Equal(t, 1, engine.detaches)
	assert.Equal(t, []string{"/m/video.mp4"}, surface.loaded)

	// The downgrade is sticky: reopening the same session never
	// reattaches the engine.
	require.NoError(t, p.Open(Source{ManifestURL: "/m/master.m3u8", ProgressiveURL: "/m/video.mp4"}))
	assert.Equal(t, StateProgressivePlayback, p.State())
	assert.Len(t, engine.attached, 1)
}

func TestEngineFatalErrorWithoutProgressiveSurfaces(t *testing.T) {
	surface := &fakeSurface{}
	engine := &fakeEngine{supported: true}
	p, _ := newTestPlayer(t, surface, engine)

	require.NoError(t, p.Open(Source{ManifestURL: "/m/master.m3u8"}))

	fatal := errors.New("mediaError: fatal")
	p.OnEngineFatalError(fatal)

	assert.Equal(t, StateErrored, p.State())
	assert.ErrorIs(t, p.LastError(), fatal)
	assert.Equal(t, 1, engine.detaches)
}

func TestRetryReloadsAndSuppressesAutoplayError(t *testing.T) {
	surface := &fakeSurface{playErr: errors.New("NotAllowedError")}
	p, _ := newTestPlayer(t, surface, nil)

	require.Error(t, p.Open(Source{}))
	require.Equal(t, StateErrored, p.State())

	// Still nothing playable: retry fails again.
	assert.ErrorIs(t, p.Retry(), ErrNoPlayableSource)

	// Give it a playable source and retry from the errored state.
	p.source.ProgressiveURL = "/m/video.mp4"
	require.NoError(t, p.Retry())
	assert.Equal(t, StateProgressivePlayback, p.State())
	assert.Equal(t, 1, surface.playCalls, "autoplay failure must be swallowed")
}

func TestRetryOnlyFromErrored(t *testing.T) {
	surface := &fakeSurface{}
	p, _ := newTestPlayer(t, surface, nil)

	require.NoError(t, p.Open(Source{ProgressiveURL: "/m/video.mp4"}))
	assert.ErrorIs(t, p.Retry(), ErrNotErrored)
}

func TestQualityOptionsSortedWithAuto(t *testing.T) {
	surface := &fakeSurface{}
	engine := &fakeEngine{
		supported: true,
		levels: []Level{
			{Height: 360, Bitrate: 800_000},
			{Height: 720, Bitrate: 2_800_000},
			{Height: 480, Bitrate: 1_400_000},
		},
	}
	p, _ := newTestPlayer(t, surface, engine)

	require.NoError(t, p.Open(Source{ManifestURL: "/m/master.m3u8"}))
	p.OnManifestParsed()

	options := p.QualityOptions()
	require.Len(t, options, 4)
	assert.Equal(t, "Auto", options[0].Label)
	assert.Equal(t, AutoQuality, options[0].Index)
	assert.Equal(t, []string{"720p", "480p", "360p"},
		[]string{options[1].Label, options[2].Label, options[3].Label})

	// Indices refer to the engine's own ordering, not the sorted view.
	assert.Equal(t, 1, options[1].Index)
	assert.Equal(t, 2, options[2].Index)
	assert.Equal(t, 0, options[3].Index)
}

func TestSelectQualityPins(t *testing.T) {
	surface := &fakeSurface{}
	engine := &fakeEngine{supported: true, levels: []Level{{Height: 360}, {Height: 720}}}
	p, _ := newTestPlayer(t, surface, engine)

	require.NoError(t, p.Open(Source{ManifestURL: "/m/master.m3u8"}))
	p.OnManifestParsed()

	require.NoError(t, p.SelectQuality(1))
	assert.Equal(t, 1, p.PinnedQuality())
	require.NoError(t, p.SelectQuality(AutoQuality))
	assert.Equal(t, []int{1, AutoQuality}, engine.setLevels)
}

func TestSelectQualityWithoutEngine(t *testing.T) {
	surface := &fakeSurface{}
	p, _ := newTestPlayer(t, surface, nil)

	require.NoError(t, p.Open(Source{ProgressiveURL: "/m/video.mp4"}))
	assert.ErrorIs(t, p.SelectQuality(0), ErrNoEngine)
}

func TestResumeSeeksExactlyOnce(t *testing.T) {
	surface := &fakeSurface{duration: 600}
	p, _ := newTestPlayer(t, surface, nil)

	require.NoError(t, p.Open(Source{ProgressiveURL: "/m/video.mp4", ResumeOffset: 120}))

	p.OnMetadataLoaded()
	p.OnMetadataLoaded() // later metadata events must not force-seek again

	assert.Equal(t, []float64{120}, surface.seeks)
}

func TestResumeSkippedWhenAlreadyPlaying(t *testing.T) {
	surface := &fakeSurface{duration: 600, position: 45}
	p, _ := newTestPlayer(t, surface, nil)

	require.NoError(t, p.Open(Source{ProgressiveURL: "/m/video.mp4", ResumeOffset: 120}))
	p.OnMetadataLoaded()

	assert.Empty(t, surface.seeks)
}

func TestBufferingAndPlayingTransitions(t *testing.T) {
	surface := &fakeSurface{}
	p, _ := newTestPlayer(t, surface, nil)

	require.NoError(t, p.Open(Source{ProgressiveURL: "/m/video.mp4"}))

	p.OnWaiting()
	assert.Equal(t, StateBuffering, p.State())
	p.OnPlaying()
	assert.Equal(t, StatePlaying, p.State())
	p.OnWaiting()
	assert.Equal(t, StateBuffering, p.State())
	p.OnPlaying()
	p.OnEnded()
	assert.Equal(t, StateEnded, p.State())
}

func TestProgressReportingFloorsAndGates(t *testing.T) {
	surface := &fakeSurface{position: 12.9}
	p, reporter := newTestPlayer(t, surface, nil)

	require.NoError(t, p.Open(Source{ProgressiveURL: "/m/video.mp4"}))

	// Duration unknown: no report.
	p.OnProgressTick()
	assert.Empty(t, reporter.reports)

	surface.duration = 599.94
	p.OnProgressTick()
	require.Len(t, reporter.reports, 1)
	assert.Equal(t, [2]int{12, 599}, reporter.reports[0])

	// Pause and end both flush a report.
	surface.position = 20.2
	p.OnPause()
	p.OnEnded()
	require.Len(t, reporter.reports, 3)
	assert.Equal(t, [2]int{20, 599}, reporter.reports[1])

	// Terminal state: ticks stop reporting.
	p.OnProgressTick()
	assert.Len(t, reporter.reports, 3)
}
