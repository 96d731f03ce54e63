package media

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/onera/studio/internal/model"
)

// Opener creates the source for a layer.
type Opener func(ctx context.Context, layer model.Layer) (Source, error)

// FFmpegOpener serves video layers through ffmpeg and image layers from decoded stills.
func FFmpegOpener(ffmpegBinary string, logger *slog.Logger) Opener {
	return func(ctx context.Context, layer model.Layer) (Source, error) {
		if layer.Src == "" {
			return nil, fmt.Errorf("layer %s: %w: empty src", layer.ID, ErrUnsupported)
		}
		switch {
		case layer.Type == model.LayerMedia && layer.Subtype == model.SubtypeVideo:
			return NewVideoSource(layer.Src, ffmpegBinary, logger), nil
		case layer.Subtype == model.SubtypeImage, layer.Type == model.LayerElement && layer.Subtype == model.SubtypeIcon:
			img, err := LoadImage(ctx, layer.Src)
			if err != nil {
				return nil, err
			}
			return img, nil
		}
		return nil, fmt.Errorf("layer %s (%s/%s): %w", layer.ID, layer.Type, layer.Subtype, ErrUnsupported)
	}
}

// Library keeps one source per layer id. Split halves of one file get independent
// decoders, so seeking one never disturbs the other.
type Library struct {
	open Opener

	mu      sync.Mutex
	sources map[string]Source
}

// NewLibrary returns an empty library backed by open.
func NewLibrary(open Opener) *Library {
	return &Library{open: open, sources: make(map[string]Source)}
}

// Source returns the source for layer, opening it on first use.
func (l *Library) Source(ctx context.Context, layer model.Layer) (Source, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if src, ok := l.sources[layer.ID]; ok {
		return src, nil
	}
	src, err := l.open(ctx, layer)
	if err != nil {
		return nil, err
	}
	l.sources[layer.ID] = src
	return src, nil
}

// Lookup returns an already opened source.
func (l *Library) Lookup(id string) (Source, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	src, ok := l.sources[id]
	return src, ok
}

// Put registers a source for a layer id, closing any previous one.
func (l *Library) Put(id string, src Source) {
	l.mu.Lock()
	prev := l.sources[id]
	l.sources[id] = src
	l.mu.Unlock()
	if prev != nil && prev != src {
		_ = prev.Close()
	}
}

// Retain closes and forgets every source whose layer id is not in keep.
func (l *Library) Retain(keep map[string]bool) error {
	l.mu.Lock()
	var stale []Source
	for id, src := range l.sources {
		if !keep[id] {
			stale = append(stale, src)
			delete(l.sources, id)
		}
	}
	l.mu.Unlock()

	var errs []error
	for _, src := range stale {
		errs = append(errs, src.Close())
	}
	return errors.Join(errs...)
}

// Close closes every source.
func (l *Library) Close() error {
	return l.Retain(nil)
}
