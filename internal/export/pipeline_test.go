package export

import (
	"context"
	"errors"
	"image"
	"image/color"
	"image/png"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/onera/studio/internal/compositor"
	"github.com/onera/studio/internal/media"
	"github.com/onera/studio/internal/model"
)

var red = color.RGBA{R: 0xff, A: 0xff}

type recordingSource struct {
	delay time.Duration
	err   error
	block bool

	mu    sync.Mutex
	pos   float64
	frame image.Image
	seeks []float64
}

func (s *recordingSource) Seek(ctx context.Context, t float64) error {
	if s.block {
		<-ctx.Done()
		return ctx.Err()
	}
	if s.delay > 0 {
		time.Sleep(s.delay)
	}
	if s.err != nil {
		return s.err
	}
	img := image.NewRGBA(image.Rect(0, 0, 4, 4))
	for i := 0; i < len(img.Pix); i += 4 {
		img.Pix[i], img.Pix[i+1], img.Pix[i+2], img.Pix[i+3] = red.R, red.G, red.B, red.A
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.pos = t
	s.frame = img
	s.seeks = append(s.seeks, t)
	return nil
}

func (s *recordingSource) Position() float64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.pos
}

func (s *recordingSource) Frame() image.Image {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.frame
}

func (s *recordingSource) Close() error { return nil }

func (s *recordingSource) Seeks() []float64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]float64(nil), s.seeks...)
}

// fakeEncoder inspects the frame directory at encode time, since it is removed
// once the export returns.
type fakeEncoder struct {
	t       *testing.T
	err     error
	release chan struct{}

	jobs   []media.EncodeJob
	frames []string
	first  image.Image
}

func (e *fakeEncoder) Encode(ctx context.Context, job media.EncodeJob) error {
	e.jobs = append(e.jobs, job)
	matches, err := filepath.Glob(filepath.Join(filepath.Dir(job.FramePattern), "frame-*.png"))
	require.NoError(e.t, err)
	sort.Strings(matches)
	e.frames = matches
	if len(matches) > 0 {
		f, err := os.Open(matches[0])
		require.NoError(e.t, err)
		e.first, err = png.Decode(f)
		f.Close()
		require.NoError(e.t, err)
	}
	if e.release != nil {
		select {
		case <-e.release:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	require.NoError(e.t, os.WriteFile(job.Output, []byte("partial"), 0o644))
	return e.err
}

func newPipeline(t *testing.T, sources map[string]*recordingSource, enc *fakeEncoder) *Pipeline {
	t.Helper()
	lib := media.NewLibrary(func(_ context.Context, l model.Layer) (media.Source, error) {
		if src, ok := sources[l.ID]; ok {
			return src, nil
		}
		return nil, media.ErrUnsupported
	})
	comp := compositor.New(model.Canvas{Width: 32, Height: 18}, lib)
	return New(comp, enc, nil)
}

func video(id string, start, end, trim float64) model.Layer {
	return model.Layer{ID: id, Type: model.LayerMedia, Subtype: model.SubtypeVideo, Src: id + ".mp4", Start: start, End: end, TrimStart: trim}
}

func TestTotalFrames(t *testing.T) {
	assert.Equal(t, 60, TotalFrames(2, 30))
	assert.Equal(t, 3, TotalFrames(0.1, 30))
	assert.Equal(t, 31, TotalFrames(1.01, 30))
	assert.Equal(t, 0, TotalFrames(0, 30))
	assert.InDelta(t, 0.5, FrameTime(15, 30), 1e-12)
}

func TestExportTwoSecondsCapturesSixtyFrames(t *testing.T) {
	src := &recordingSource{}
	enc := &fakeEncoder{t: t}
	p := newPipeline(t, map[string]*recordingSource{"v": src}, enc)
	out := filepath.Join(t.TempDir(), "out.mp4")

	var frameTimes []float64
	res, err := p.Export(context.Background(), SnapshotOf([]model.Layer{video("v", 0, 2, 0.5)}, nil), Options{
		Output:  out,
		WorkDir: t.TempDir(),
		OnFrame: func(ft float64) { frameTimes = append(frameTimes, ft) },
	})
	require.NoError(t, err)

	assert.Equal(t, 60, res.Frames)
	assert.Equal(t, out, res.Output)
	assert.Len(t, enc.frames, 60)
	assert.Equal(t, "frame-000000.png", filepath.Base(enc.frames[0]))
	assert.Equal(t, "frame-000059.png", filepath.Base(enc.frames[59]))
	require.Len(t, frameTimes, 60)

	seeks := src.Seeks()
	require.Len(t, seeks, 60)
	for i, got := range seeks {
		assert.InDelta(t, float64(i)/30+0.5, got, 1e-9, "frame %d", i)
	}

	require.Len(t, enc.jobs, 1)
	assert.Equal(t, 30, enc.jobs[0].FPS)
	assert.Equal(t, []string{"v.mp4"}, enc.jobs[0].AudioInputs)
	assert.Equal(t, MixLabel, enc.jobs[0].OutputLabel)

	status, lastErr := p.Status()
	assert.Equal(t, StatusCompleted, status)
	assert.NoError(t, lastErr)
}

func TestExportWaitsForEverySeekBeforeCapture(t *testing.T) {
	sources := map[string]*recordingSource{
		"a": {delay: 15 * time.Millisecond},
		"b": {delay: 5 * time.Millisecond},
	}
	enc := &fakeEncoder{t: t}
	p := newPipeline(t, sources, enc)

	_, err := p.Export(context.Background(), SnapshotOf([]model.Layer{video("a", 0, 0.1, 0), video("b", 0, 0.1, 3)}, nil), Options{
		Output:  filepath.Join(t.TempDir(), "out.mp4"),
		WorkDir: t.TempDir(),
	})
	require.NoError(t, err)

	require.NotNil(t, enc.first)
	assert.Equal(t, color.RGBAModel.Convert(red), color.RGBAModel.Convert(enc.first.At(16, 9)))
	assert.Equal(t, []float64{0, 1.0 / 30, 2.0 / 30}, sources["a"].Seeks())
	assert.InDeltaSlice(t, []float64{3, 3 + 1.0/30, 3 + 2.0/30}, sources["b"].Seeks(), 1e-9)
}

func TestExportSeekFailureAborts(t *testing.T) {
	boom := errors.New("decode error")
	enc := &fakeEncoder{t: t}
	p := newPipeline(t, map[string]*recordingSource{"v": {err: boom}}, enc)
	out := filepath.Join(t.TempDir(), "out.mp4")

	_, err := p.Export(context.Background(), SnapshotOf([]model.Layer{video("v", 0, 1, 0)}, nil), Options{Output: out, WorkDir: t.TempDir()})
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrMediaSync)
	assert.ErrorIs(t, err, boom)
	assert.Empty(t, enc.jobs)
	assert.NoFileExists(t, out)

	status, lastErr := p.Status()
	assert.Equal(t, StatusFailed, status)
	assert.ErrorIs(t, lastErr, ErrMediaSync)
}

func TestExportSeekTimeout(t *testing.T) {
	enc := &fakeEncoder{t: t}
	p := newPipeline(t, map[string]*recordingSource{"v": {block: true}}, enc)

	_, err := p.Export(context.Background(), SnapshotOf([]model.Layer{video("v", 0, 1, 0)}, nil), Options{
		Output:      filepath.Join(t.TempDir(), "out.mp4"),
		WorkDir:     t.TempDir(),
		SeekTimeout: 20 * time.Millisecond,
	})
	assert.ErrorIs(t, err, ErrMediaSync)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestExportUnsupportedSourceAborts(t *testing.T) {
	enc := &fakeEncoder{t: t}
	p := newPipeline(t, nil, enc)

	_, err := p.Export(context.Background(), SnapshotOf([]model.Layer{video("v", 0, 1, 0)}, nil), Options{
		Output:  filepath.Join(t.TempDir(), "out.mp4"),
		WorkDir: t.TempDir(),
	})
	assert.ErrorIs(t, err, ErrMediaSync)
	assert.ErrorIs(t, err, media.ErrUnsupported)
}

func TestExportEncodeFailureRemovesOutput(t *testing.T) {
	enc := &fakeEncoder{t: t, err: errors.New("exit status 1")}
	p := newPipeline(t, nil, enc)
	out := filepath.Join(t.TempDir(), "out.mp4")

	layers := []model.Layer{{ID: "t", Type: model.LayerText, Content: "hi", Start: 0, End: 0.5}}
	_, err := p.Export(context.Background(), SnapshotOf(layers, nil), Options{Output: out, WorkDir: t.TempDir()})
	assert.ErrorIs(t, err, ErrEncode)
	assert.NoFileExists(t, out)
	assert.Len(t, enc.frames, 15)
	assert.Empty(t, enc.jobs[0].AudioInputs)
	assert.Empty(t, enc.jobs[0].OutputLabel)

	// a retry starts over and may succeed
	enc.err = nil
	res, err := p.Export(context.Background(), SnapshotOf(layers, nil), Options{Output: out, WorkDir: t.TempDir()})
	require.NoError(t, err)
	assert.Equal(t, 15, res.Frames)
	assert.FileExists(t, out)
}

func TestExportRejectsConcurrentRun(t *testing.T) {
	enc := &fakeEncoder{t: t, release: make(chan struct{})}
	p := newPipeline(t, nil, enc)
	layers := []model.Layer{{ID: "t", Type: model.LayerText, Content: "hi", Start: 0, End: 0.1}}

	done := make(chan error, 1)
	go func() {
		_, err := p.Export(context.Background(), SnapshotOf(layers, nil), Options{Output: filepath.Join(t.TempDir(), "a.mp4"), WorkDir: t.TempDir()})
		done <- err
	}()

	require.Eventually(t, func() bool {
		s, _ := p.Status()
		return s == StatusRunning
	}, time.Second, time.Millisecond)

	_, err := p.Export(context.Background(), SnapshotOf(layers, nil), Options{Output: filepath.Join(t.TempDir(), "b.mp4")})
	assert.ErrorIs(t, err, ErrBusy)

	close(enc.release)
	require.NoError(t, <-done)
}

func TestExportEmptyTimeline(t *testing.T) {
	p := newPipeline(t, nil, &fakeEncoder{t: t})
	_, err := p.Export(context.Background(), SnapshotOf(nil, nil), Options{})
	assert.ErrorIs(t, err, ErrEmptyTimeline)
}

func TestExportCancelled(t *testing.T) {
	p := newPipeline(t, nil, &fakeEncoder{t: t})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	layers := []model.Layer{{ID: "t", Type: model.LayerText, Content: "hi", Start: 0, End: 1}}
	_, err := p.Export(ctx, SnapshotOf(layers, nil), Options{Output: filepath.Join(t.TempDir(), "a.mp4"), WorkDir: t.TempDir()})
	assert.ErrorIs(t, err, context.Canceled)
}

func TestExportProgress(t *testing.T) {
	p := newPipeline(t, nil, &fakeEncoder{t: t})
	layers := []model.Layer{{ID: "t", Type: model.LayerText, Content: "hi", Start: 0, End: 1}}

	var updates []Progress
	_, err := p.Export(context.Background(), SnapshotOf(layers, nil), Options{
		Output:     filepath.Join(t.TempDir(), "a.mp4"),
		WorkDir:    t.TempDir(),
		OnProgress: func(pr Progress) { updates = append(updates, pr) },
	})
	require.NoError(t, err)
	require.NotEmpty(t, updates)

	last := -1
	for _, u := range updates {
		assert.GreaterOrEqual(t, u.Percent, last)
		last = u.Percent
		if u.Stage == StageFrames {
			assert.LessOrEqual(t, u.Percent, 80)
		}
	}
	assert.Equal(t, Progress{Percent: 80, Stage: StageEncode, Frame: 30, TotalFrames: 30}, updates[len(updates)-2])
	assert.Equal(t, 100, updates[len(updates)-1].Percent)
	assert.Equal(t, StageDone, updates[len(updates)-1].Stage)
}

func TestExportProbesAudioInputs(t *testing.T) {
	enc := &fakeEncoder{t: t}
	p := newPipeline(t, map[string]*recordingSource{"silent": {}, "loud": {}}, enc)
	layers := []model.Layer{
		video("silent", 0, 0.2, 0),
		video("loud", 0, 0.2, 0),
		{ID: "song", Type: model.LayerAudio, Src: "song.mp3", Start: 0, End: 0.2},
	}

	res, err := p.Export(context.Background(), SnapshotOf(layers, nil), Options{
		Output:  filepath.Join(t.TempDir(), "a.mp4"),
		WorkDir: t.TempDir(),
		HasAudio: func(_ context.Context, src string) (bool, error) {
			return src != "silent.mp4", nil
		},
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"loud", "song"}, res.Audio)
	assert.Equal(t, []string{"loud.mp4", "song.mp3"}, enc.jobs[0].AudioInputs)
}
