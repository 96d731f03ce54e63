package timeline

import (
	"math"
	"sync"

	"github.com/google/uuid"

	"github.com/onera/studio/internal/model"
)

// Defaults are the lengths given to newly added layers, in seconds.
type Defaults struct {
	Media float64
	Audio float64
	Other float64
}

// DefaultLengths mirrors the editor: 5s for stills and text, 10s for audio.
func DefaultLengths() Defaults {
	return Defaults{Media: 5, Audio: 10, Other: 5}
}

func (d Defaults) forKind(kind model.LayerKind) float64 {
	switch kind {
	case model.LayerMedia:
		return d.Media
	case model.LayerAudio:
		return d.Audio
	default:
		return d.Other
	}
}

// Snapshot is an immutable copy of the editing state.
type Snapshot struct {
	Layers      []model.Layer
	Tracks      model.Tracks
	CurrentTime float64
	Duration    float64
	Magnetic    bool
	Ripple      bool
}

// Layer looks a layer up by id.
func (s Snapshot) Layer(id string) (model.Layer, bool) {
	for _, l := range s.Layers {
		if l.ID == id {
			return l, true
		}
	}
	return model.Layer{}, false
}

// Store owns the canonical layer list, lane settings and playhead.
//
// Every mutation is a no-op on invalid input: unknown ids, out-of-range times and
// locked lanes are ignored and reported through the boolean result only. Duration is
// recomputed from the layer set after each mutation and the playhead is re-clamped.
type Store struct {
	mu          sync.Mutex
	layers      []model.Layer
	tracks      model.Tracks
	currentTime float64
	duration    float64
	magnetic    bool
	ripple      bool
	defaults    Defaults
	newID       func() string

	subscribers map[int]func(Snapshot)
	nextSub     int
}

// Option configures a Store.
type Option func(*Store)

// WithMagnetic sets the initial magnetic mode.
func WithMagnetic(on bool) Option {
	return func(s *Store) { s.magnetic = on }
}

// WithRipple sets the initial ripple-delete mode.
func WithRipple(on bool) Option {
	return func(s *Store) { s.ripple = on }
}

// WithDefaults overrides default layer lengths.
func WithDefaults(d Defaults) Option {
	return func(s *Store) { s.defaults = d }
}

// WithIDGenerator replaces uuid generation, mostly for tests.
func WithIDGenerator(fn func() string) Option {
	return func(s *Store) {
		if fn != nil {
			s.newID = fn
		}
	}
}

// WithTracks seeds lane settings.
func WithTracks(t model.Tracks) Option {
	return func(s *Store) {
		for k, v := range t {
			s.tracks[k] = v
		}
	}
}

// NewStore creates an empty timeline with magnetic and ripple modes on.
func NewStore(opts ...Option) *Store {
	s := &Store{
		tracks:      model.DefaultTracks(),
		magnetic:    true,
		ripple:      true,
		defaults:    DefaultLengths(),
		newID:       func() string { return uuid.New().String() },
		subscribers: make(map[int]func(Snapshot)),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Load replaces the whole state. Layers that break the timing invariants are dropped.
func (s *Store) Load(layers []model.Layer, tracks model.Tracks) int {
	s.mu.Lock()
	s.layers = s.layers[:0]
	dropped := 0
	seen := make(map[string]bool, len(layers))
	for _, l := range layers {
		if !l.Valid() || seen[l.ID] {
			dropped++
			continue
		}
		seen[l.ID] = true
		s.layers = append(s.layers, l.Clone())
	}
	if tracks != nil {
		s.tracks = model.DefaultTracks()
		for k, v := range tracks {
			s.tracks[k] = v
		}
	}
	s.currentTime = 0
	s.recomputeLocked()
	s.mu.Unlock()
	s.notify()
	return dropped
}

// Subscribe registers fn to receive a snapshot after each mutation.
func (s *Store) Subscribe(fn func(Snapshot)) (unsubscribe func()) {
	s.mu.Lock()
	id := s.nextSub
	s.nextSub++
	s.subscribers[id] = fn
	s.mu.Unlock()
	return func() {
		s.mu.Lock()
		delete(s.subscribers, id)
		s.mu.Unlock()
	}
}

// Snapshot returns a deep copy of the current state.
func (s *Store) Snapshot() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.snapshotLocked()
}

// Duration is the maximum layer end, or zero for an empty timeline.
func (s *Store) Duration() float64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.duration
}

// CurrentTime returns the playhead.
func (s *Store) CurrentTime() float64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.currentTime
}

// Seek moves the playhead, clamped to [0, duration].
func (s *Store) Seek(t float64) {
	s.mu.Lock()
	next := clamp(t, 0, s.duration)
	changed := next != s.currentTime
	s.currentTime = next
	s.mu.Unlock()
	if changed {
		s.notify()
	}
}

// Advance moves the playhead forward by dt seconds in one step, stopping at the
// duration. atEnd reports that the end was reached.
func (s *Store) Advance(dt float64) (t float64, atEnd bool) {
	s.mu.Lock()
	next := s.currentTime + math.Max(dt, 0)
	if next >= s.duration {
		next = s.duration
		atEnd = true
	}
	changed := next != s.currentTime
	s.currentTime = next
	s.mu.Unlock()
	if changed {
		s.notify()
	}
	return next, atEnd
}

// AddToTrack places an asset on its lane. In magnetic mode it is appended after the
// last layer of that lane, otherwise it starts at the playhead.
func (s *Store) AddToTrack(asset model.Asset) model.Layer {
	kind := model.LayerMedia
	subtype := asset.Type
	if asset.Type == model.SubtypeAudio {
		kind = model.LayerAudio
	}

	s.mu.Lock()
	start := s.currentTime
	if s.magnetic {
		start = s.trackTailLocked(kind.Track())
	}
	layer := model.Layer{
		ID:        s.newID(),
		Type:      kind,
		Subtype:   subtype,
		Src:       asset.Src,
		Content:   asset.Name,
		Start:     start,
		End:       start + s.defaults.forKind(kind),
		TrimStart: 0,
		Opacity:   1,
		ScaleX:    1,
		ScaleY:    1,
	}
	s.layers = append(s.layers, layer)
	s.recomputeLocked()
	s.mu.Unlock()

	s.notify()
	return layer.Clone()
}

// AddLayer creates a text, subtitle or element layer at the playhead. Fields set in
// extra (transform and style) are kept; timing and identity are always computed here.
func (s *Store) AddLayer(kind model.LayerKind, content string, extra model.Layer) model.Layer {
	if !kind.Valid() {
		kind = model.LayerText
	}

	s.mu.Lock()
	length := s.defaults.forKind(kind)
	start := s.currentTime
	end := math.Min(start+length, s.duration+length)
	if end <= start {
		end = start + length
	}
	layer := extra.Clone()
	layer.ID = s.newID()
	layer.Type = kind
	layer.Content = content
	layer.Start = start
	layer.End = end
	layer.TrimStart = 0
	if layer.Opacity == 0 {
		layer.Opacity = 1
	}
	s.layers = append(s.layers, layer)
	s.recomputeLocked()
	s.mu.Unlock()

	s.notify()
	return layer.Clone()
}

// UpdateLayer merges patch into the layer with the given id.
func (s *Store) UpdateLayer(id string, patch model.LayerPatch) bool {
	s.mu.Lock()
	idx := s.indexLocked(id)
	if idx < 0 || s.lockedLocked(s.layers[idx]) {
		s.mu.Unlock()
		return false
	}
	next := patch.Apply(s.layers[idx])
	if !next.Valid() || next.ID != id {
		s.mu.Unlock()
		return false
	}
	s.layers[idx] = next
	s.recomputeLocked()
	s.mu.Unlock()

	s.notify()
	return true
}

// DeleteLayer removes a layer. With ripple on, later layers of the same kind move left
// by the deleted length; other kinds keep their positions.
func (s *Store) DeleteLayer(id string) bool {
	s.mu.Lock()
	idx := s.indexLocked(id)
	if idx < 0 || s.lockedLocked(s.layers[idx]) {
		s.mu.Unlock()
		return false
	}
	deleted := s.layers[idx]
	s.layers = append(s.layers[:idx], s.layers[idx+1:]...)
	if s.ripple {
		shift := deleted.Length()
		for i := range s.layers {
			l := &s.layers[i]
			if l.Type == deleted.Type && l.Start >= deleted.End {
				l.Start -= shift
				l.End -= shift
			}
		}
	}
	s.recomputeLocked()
	s.mu.Unlock()

	s.notify()
	return true
}

// SplitLayer cuts a layer at the given time into [start, at) and [at, end). The right
// half gets a new id and a trimStart advanced by the left half's length so playing both
// reproduces the original source span.
func (s *Store) SplitLayer(id string, at float64) (string, bool) {
	s.mu.Lock()
	idx := s.indexLocked(id)
	if idx < 0 || s.lockedLocked(s.layers[idx]) {
		s.mu.Unlock()
		return "", false
	}
	orig := s.layers[idx]
	if !(orig.Start < at && at < orig.End) {
		s.mu.Unlock()
		return "", false
	}

	right := orig.Clone()
	right.ID = s.newID()
	right.Start = at
	right.End = orig.End
	right.TrimStart = orig.TrimStart + (at - orig.Start)

	s.layers[idx].End = at
	s.layers = append(s.layers, right)
	s.recomputeLocked()
	s.mu.Unlock()

	s.notify()
	return right.ID, true
}

// ApplySourceDuration stretches a freshly added video or audio layer to the real length
// of its source. Layers already resized away from their default length are left alone.
func (s *Store) ApplySourceDuration(id string, seconds float64) bool {
	if seconds <= 0 || math.IsNaN(seconds) || math.IsInf(seconds, 0) {
		return false
	}
	s.mu.Lock()
	idx := s.indexLocked(id)
	if idx < 0 {
		s.mu.Unlock()
		return false
	}
	l := &s.layers[idx]
	if !l.SourceBacked() || l.Length() != s.defaults.forKind(l.Type) {
		s.mu.Unlock()
		return false
	}
	l.End = l.Start + seconds
	s.recomputeLocked()
	s.mu.Unlock()

	s.notify()
	return true
}

// ToggleTrackLock flips the lock flag of a lane.
func (s *Store) ToggleTrackLock(track model.TrackType) bool {
	return s.updateTrack(track, func(t *model.TrackSettings) { t.Locked = !t.Locked })
}

// ToggleTrackMute flips the mute flag of a lane.
func (s *Store) ToggleTrackMute(track model.TrackType) bool {
	return s.updateTrack(track, func(t *model.TrackSettings) { t.Muted = !t.Muted })
}

// ToggleTrackSolo flips the solo flag of a lane.
func (s *Store) ToggleTrackSolo(track model.TrackType) bool {
	return s.updateTrack(track, func(t *model.TrackSettings) { t.Solo = !t.Solo })
}

// Lane heights are clamped to this range.
const (
	MinTrackHeight = 40
	MaxTrackHeight = 120
)

// SetTrackHeight sets the display height of a lane, clamped to [MinTrackHeight, MaxTrackHeight].
func (s *Store) SetTrackHeight(track model.TrackType, height int) bool {
	if height <= 0 {
		return false
	}
	height = min(max(height, MinTrackHeight), MaxTrackHeight)
	return s.updateTrack(track, func(t *model.TrackSettings) { t.Height = height })
}

// SetMagnetic toggles magnetic placement and snapping.
func (s *Store) SetMagnetic(on bool) {
	s.mu.Lock()
	s.magnetic = on
	s.mu.Unlock()
	s.notify()
}

// SetRipple toggles ripple delete.
func (s *Store) SetRipple(on bool) {
	s.mu.Lock()
	s.ripple = on
	s.mu.Unlock()
	s.notify()
}

func (s *Store) updateTrack(track model.TrackType, fn func(*model.TrackSettings)) bool {
	s.mu.Lock()
	settings, ok := s.tracks[track]
	if !ok {
		s.mu.Unlock()
		return false
	}
	fn(&settings)
	s.tracks[track] = settings
	s.mu.Unlock()

	s.notify()
	return true
}

func (s *Store) notify() {
	s.mu.Lock()
	if len(s.subscribers) == 0 {
		s.mu.Unlock()
		return
	}
	snap := s.snapshotLocked()
	subs := make([]func(Snapshot), 0, len(s.subscribers))
	for _, fn := range s.subscribers {
		subs = append(subs, fn)
	}
	s.mu.Unlock()

	for _, fn := range subs {
		fn(snap)
	}
}

func (s *Store) snapshotLocked() Snapshot {
	layers := make([]model.Layer, len(s.layers))
	for i, l := range s.layers {
		layers[i] = l.Clone()
	}
	return Snapshot{
		Layers:      layers,
		Tracks:      s.tracks.Clone(),
		CurrentTime: s.currentTime,
		Duration:    s.duration,
		Magnetic:    s.magnetic,
		Ripple:      s.ripple,
	}
}

func (s *Store) recomputeLocked() {
	s.duration = Duration(s.layers)
	s.currentTime = clamp(s.currentTime, 0, s.duration)
}

func (s *Store) indexLocked(id string) int {
	for i, l := range s.layers {
		if l.ID == id {
			return i
		}
	}
	return -1
}

func (s *Store) lockedLocked(l model.Layer) bool {
	return s.tracks[l.Track()].Locked
}

func (s *Store) trackTailLocked(track model.TrackType) float64 {
	tail := 0.0
	for _, l := range s.layers {
		if l.Track() == track && l.End > tail {
			tail = l.End
		}
	}
	return tail
}

// Duration computes max(end) over layers, never negative.
func Duration(layers []model.Layer) float64 {
	d := 0.0
	for _, l := range layers {
		if l.End > d {
			d = l.End
		}
	}
	return d
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
