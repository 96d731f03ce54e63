package project

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/onera/studio/internal/model"
)

func TestLoadFixture(t *testing.T) {
	p, err := Load(filepath.Join("testdata", "demo.yaml"))
	require.NoError(t, err)

	assert.Equal(t, "demo", p.Name)
	assert.Equal(t, model.Canvas{Width: 1280, Height: 720, BgColor: "#000000"}, p.Canvas)
	require.Len(t, p.Layers, 3)
	assert.Equal(t, 1.5, p.Layers[0].TrimStart)
	assert.Equal(t, "Inter", p.Layers[2].Style["fontFamily"])

	assert.Equal(t, model.TrackSettings{Muted: true, Height: 60}, p.Tracks[model.TrackAudio])
	assert.Equal(t, model.TrackSettings{Height: 80}, p.Tracks[model.TrackMedia])

	store, dropped := p.Store()
	assert.Zero(t, dropped)
	snap := store.Snapshot()
	assert.False(t, snap.Magnetic)
	assert.True(t, snap.Ripple)
	assert.Equal(t, 10.0, snap.Duration)
	assert.True(t, snap.Tracks[model.TrackAudio].Muted)
}

func TestSaveAndLoadEveryFormat(t *testing.T) {
	src, err := Load(filepath.Join("testdata", "demo.yaml"))
	require.NoError(t, err)

	for _, name := range []string{"demo.json", "demo.yml", "demo.toml"} {
		t.Run(name, func(t *testing.T) {
			path := filepath.Join(t.TempDir(), name)
			require.NoError(t, Save(path, src))

			got, err := Load(path)
			require.NoError(t, err)
			assert.Equal(t, src.Canvas, got.Canvas)
			assert.Equal(t, src.Tracks, got.Tracks)
			assert.Equal(t, *src.Magnetic, *got.Magnetic)
			require.Len(t, got.Layers, len(src.Layers))
			for i := range src.Layers {
				assert.Equal(t, src.Layers[i].ID, got.Layers[i].ID)
				assert.Equal(t, src.Layers[i].Start, got.Layers[i].Start)
				assert.Equal(t, src.Layers[i].End, got.Layers[i].End)
				assert.Equal(t, src.Layers[i].TrimStart, got.Layers[i].TrimStart)
				assert.Equal(t, src.Layers[i].Content, got.Layers[i].Content)
			}

			entries, err := os.ReadDir(filepath.Dir(path))
			require.NoError(t, err)
			assert.Len(t, entries, 1, "temp file left behind")
		})
	}
}

func TestDecodeRejectsBadProjects(t *testing.T) {
	cases := map[string]string{
		"unknown field":    `{"layers": [], "zoom": 3}`,
		"end before start": `{"layers": [{"id": "a", "type": "text", "start": 4, "end": 2}]}`,
		"negative trim":    `{"layers": [{"id": "a", "type": "audio", "start": 0, "end": 2, "trimStart": -1}]}`,
		"unknown kind":     `{"layers": [{"id": "a", "type": "sticker", "start": 0, "end": 2}]}`,
		"missing id":       `{"layers": [{"type": "text", "start": 0, "end": 2}]}`,
		"duplicate id":     `{"layers": [{"id": "a", "type": "text", "start": 0, "end": 2}, {"id": "a", "type": "text", "start": 2, "end": 3}]}`,
		"tiny canvas":      `{"canvas": {"width": 8, "height": 8}, "layers": []}`,
	}
	for name, doc := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := Decode(strings.NewReader(doc), FormatJSON)
			assert.Error(t, err)
		})
	}
}

func TestDecodeEmptyProject(t *testing.T) {
	p, err := Decode(strings.NewReader(""), FormatYAML)
	require.NoError(t, err)
	assert.Empty(t, p.Layers)
	assert.Equal(t, model.DefaultCanvas(), p.Canvas)
	assert.Equal(t, model.DefaultTracks(), p.Tracks)
}

func TestFormatOf(t *testing.T) {
	f, err := FormatOf("a/b/edit.TOML")
	require.NoError(t, err)
	assert.Equal(t, FormatTOML, f)

	_, err = FormatOf("edit.xml")
	assert.ErrorIs(t, err, ErrUnknownFormat)

	assert.ErrorIs(t, Encode(&bytes.Buffer{}, Format("xml"), &Project{}), ErrUnknownFormat)
}

func TestUpdateFromStore(t *testing.T) {
	p, err := Load(filepath.Join("testdata", "demo.yaml"))
	require.NoError(t, err)

	store, _ := p.Store()
	_, ok := store.SplitLayer("intro", 2)
	require.True(t, ok)
	p.Update(store.Snapshot())

	require.Len(t, p.Layers, 4)
	assert.False(t, *p.Magnetic)
	require.NoError(t, p.Validate())
}
