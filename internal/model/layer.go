package model

// LayerKind discriminates the timed elements a timeline can hold.
type LayerKind string

const (
	LayerMedia    LayerKind = "media"
	LayerText     LayerKind = "text"
	LayerAudio    LayerKind = "audio"
	LayerSubtitle LayerKind = "subtitle"
	LayerElement  LayerKind = "element"
)

// Media and element subtypes
const (
	SubtypeVideo    = "video"
	SubtypeImage    = "image"
	SubtypeAudio    = "audio"
	SubtypeShape    = "shape"
	SubtypeIcon     = "icon"
	SubtypeProgress = "progress"
)

// TrackType identifies a timeline lane. Every layer kind maps to exactly one track.
type TrackType string

const (
	TrackMedia    TrackType = "media"
	TrackAudio    TrackType = "audio"
	TrackText     TrackType = "text"
	TrackSubtitle TrackType = "subtitle"
)

// TrackTypes lists the lanes in display order.
var TrackTypes = []TrackType{TrackMedia, TrackAudio, TrackText, TrackSubtitle}

// Track returns the lane a layer kind belongs to.
func (k LayerKind) Track() TrackType {
	switch k {
	case LayerMedia:
		return TrackMedia
	case LayerAudio:
		return TrackAudio
	case LayerSubtitle:
		return TrackSubtitle
	default:
		return TrackText
	}
}

// Valid reports whether k is a known layer kind.
func (k LayerKind) Valid() bool {
	switch k {
	case LayerMedia, LayerText, LayerAudio, LayerSubtitle, LayerElement:
		return true
	}
	return false
}

// Layer is a single timed element on the timeline. Times are seconds, timeline-absolute.
// The JSON form is the wire contract shared with the remote renderer.
type Layer struct {
	ID        string    `json:"id" yaml:"id" toml:"id" validate:"required"`
	Type      LayerKind `json:"type" yaml:"type" toml:"type" validate:"required,oneof=media text audio subtitle element"`
	Subtype   string    `json:"subtype,omitempty" yaml:"subtype,omitempty" toml:"subtype,omitempty"`
	Src       string    `json:"src,omitempty" yaml:"src,omitempty" toml:"src,omitempty"`
	Content   string    `json:"content,omitempty" yaml:"content,omitempty" toml:"content,omitempty"`
	Start     float64   `json:"start" yaml:"start" toml:"start" validate:"min=0"`
	End       float64   `json:"end" yaml:"end" toml:"end" validate:"gtfield=Start"`
	TrimStart float64   `json:"trimStart" yaml:"trimStart" toml:"trimStart" validate:"min=0"`
	Muted     bool      `json:"muted,omitempty" yaml:"muted,omitempty" toml:"muted,omitempty"`

	X        float64 `json:"x" yaml:"x" toml:"x"`
	Y        float64 `json:"y" yaml:"y" toml:"y"`
	Width    float64 `json:"width,omitempty" yaml:"width,omitempty" toml:"width,omitempty"`
	Height   float64 `json:"height,omitempty" yaml:"height,omitempty" toml:"height,omitempty"`
	ScaleX   float64 `json:"scaleX,omitempty" yaml:"scaleX,omitempty" toml:"scaleX,omitempty"`
	ScaleY   float64 `json:"scaleY,omitempty" yaml:"scaleY,omitempty" toml:"scaleY,omitempty"`
	Rotation float64 `json:"rotation,omitempty" yaml:"rotation,omitempty" toml:"rotation,omitempty"`
	Opacity  float64 `json:"opacity,omitempty" yaml:"opacity,omitempty" toml:"opacity,omitempty"`

	Color    string  `json:"color,omitempty" yaml:"color,omitempty" toml:"color,omitempty"`
	FontSize float64 `json:"fontSize,omitempty" yaml:"fontSize,omitempty" toml:"fontSize,omitempty"`
	Progress float64 `json:"progress,omitempty" yaml:"progress,omitempty" toml:"progress,omitempty"`

	Style map[string]any `json:"style,omitempty" yaml:"style,omitempty" toml:"style,omitempty"`
}

// Track returns the lane this layer is drawn on.
func (l Layer) Track() TrackType {
	return l.Type.Track()
}

// Length returns end - start in seconds.
func (l Layer) Length() float64 {
	return l.End - l.Start
}

// Contains reports whether t falls in the half-open interval [start, end).
func (l Layer) Contains(t float64) bool {
	return l.Start <= t && t < l.End
}

// SourceBacked reports whether the layer maps timeline time onto a seekable source,
// which is what trimStart refers to.
func (l Layer) SourceBacked() bool {
	return l.Type == LayerAudio || (l.Type == LayerMedia && l.Subtype == SubtypeVideo)
}

// HasAudio reports whether the layer contributes a stream to the export mix.
func (l Layer) HasAudio() bool {
	return l.SourceBacked() && l.Src != ""
}

// Valid reports whether the timing invariants hold.
func (l Layer) Valid() bool {
	return l.ID != "" && l.Type.Valid() && l.End > l.Start && l.Start >= 0 && l.TrimStart >= 0
}

// Clone returns a deep copy of the layer.
func (l Layer) Clone() Layer {
	if l.Style != nil {
		style := make(map[string]any, len(l.Style))
		for k, v := range l.Style {
			style[k] = v
		}
		l.Style = style
	}
	return l
}

// LayerPatch is a partial update merged into a layer. Nil fields are left untouched.
// The kind of a layer never changes after creation.
type LayerPatch struct {
	Start     *float64       `json:"start,omitempty"`
	End       *float64       `json:"end,omitempty"`
	TrimStart *float64       `json:"trimStart,omitempty"`
	Subtype   *string        `json:"subtype,omitempty"`
	Src       *string        `json:"src,omitempty"`
	Content   *string        `json:"content,omitempty"`
	Muted     *bool          `json:"muted,omitempty"`
	X         *float64       `json:"x,omitempty"`
	Y         *float64       `json:"y,omitempty"`
	Width     *float64       `json:"width,omitempty"`
	Height    *float64       `json:"height,omitempty"`
	ScaleX    *float64       `json:"scaleX,omitempty"`
	ScaleY    *float64       `json:"scaleY,omitempty"`
	Rotation  *float64       `json:"rotation,omitempty"`
	Opacity   *float64       `json:"opacity,omitempty"`
	Color     *string        `json:"color,omitempty"`
	FontSize  *float64       `json:"fontSize,omitempty"`
	Progress  *float64       `json:"progress,omitempty"`
	Style     map[string]any `json:"style,omitempty"`
}

// Apply returns a copy of l with the patch merged in.
func (p LayerPatch) Apply(l Layer) Layer {
	out := l.Clone()
	setFloat(&out.Start, p.Start)
	setFloat(&out.End, p.End)
	setFloat(&out.TrimStart, p.TrimStart)
	setFloat(&out.X, p.X)
	setFloat(&out.Y, p.Y)
	setFloat(&out.Width, p.Width)
	setFloat(&out.Height, p.Height)
	setFloat(&out.ScaleX, p.ScaleX)
	setFloat(&out.ScaleY, p.ScaleY)
	setFloat(&out.Rotation, p.Rotation)
	setFloat(&out.Opacity, p.Opacity)
	setFloat(&out.FontSize, p.FontSize)
	setFloat(&out.Progress, p.Progress)
	setString(&out.Subtype, p.Subtype)
	setString(&out.Src, p.Src)
	setString(&out.Content, p.Content)
	setString(&out.Color, p.Color)
	if p.Muted != nil {
		out.Muted = *p.Muted
	}
	if len(p.Style) > 0 {
		if out.Style == nil {
			out.Style = make(map[string]any, len(p.Style))
		}
		for k, v := range p.Style {
			out.Style[k] = v
		}
	}
	return out
}

// Float is a convenience for building patches.
func Float(v float64) *float64 { return &v }

func setFloat(dst *float64, v *float64) {
	if v != nil {
		*dst = *v
	}
}

func setString(dst *string, v *string) {
	if v != nil {
		*dst = *v
	}
}

// TrackSettings is the per-lane editing state.
type TrackSettings struct {
	Locked bool `json:"locked" yaml:"locked" toml:"locked"`
	Muted  bool `json:"muted" yaml:"muted" toml:"muted"`
	Solo   bool `json:"solo" yaml:"solo" toml:"solo"`
	Height int  `json:"height" yaml:"height" toml:"height"`
}

// Tracks maps every lane to its settings.
type Tracks map[TrackType]TrackSettings

// DefaultTracks returns the initial lane settings of a new project.
func DefaultTracks() Tracks {
	return Tracks{
		TrackMedia:    {Height: 80},
		TrackAudio:    {Height: 40},
		TrackText:     {Height: 40},
		TrackSubtitle: {Height: 40},
	}
}

// Clone returns an independent copy.
func (t Tracks) Clone() Tracks {
	out := make(Tracks, len(t))
	for k, v := range t {
		out[k] = v
	}
	return out
}

// AnySolo reports whether at least one lane is soloed.
func (t Tracks) AnySolo() bool {
	for _, s := range t {
		if s.Solo {
			return true
		}
	}
	return false
}

// Canvas describes the output frame.
type Canvas struct {
	Width   int    `json:"width" yaml:"width" toml:"width" validate:"omitempty,min=16,max=7680"`
	Height  int    `json:"height" yaml:"height" toml:"height" validate:"omitempty,min=16,max=4320"`
	BgColor string `json:"bgColor,omitempty" yaml:"bgColor,omitempty" toml:"bgColor,omitempty"`
}

// DefaultCanvas is 1080p on black.
func DefaultCanvas() Canvas {
	return Canvas{Width: 1920, Height: 1080, BgColor: "#000000"}
}

// WithDefaults fills zero fields from DefaultCanvas.
func (c Canvas) WithDefaults() Canvas {
	d := DefaultCanvas()
	if c.Width <= 0 {
		c.Width = d.Width
	}
	if c.Height <= 0 {
		c.Height = d.Height
	}
	if c.BgColor == "" {
		c.BgColor = d.BgColor
	}
	return c
}

// Asset is an uploaded source that can be placed on a track.
type Asset struct {
	ID   string `json:"id"`
	Src  string `json:"src"`
	Type string `json:"type"` // video, image or audio
	Name string `json:"name"`
}
