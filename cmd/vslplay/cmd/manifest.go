package cmd

import (
	"context"
	"fmt"
	"os"

	"gopkg.in/yaml.v2"
)

// manifestSegment is one entry of a YAML test manifest.
type manifestSegment struct {
	URL        string `yaml:"url"`
	DurationMS int64  `yaml:"duration_ms"`
	Bytes      int64  `yaml:"bytes"`
}

// manifestFile is the on-disk shape of a YAML test manifest, standing
// in for whatever real manifest format the host resolves (spec.md
// §1's "manifest format parsing" non-goal).
type manifestFile struct {
	Segments []manifestSegment `yaml:"segments"`
}

// fileManifestBackend implements manifest.Backend over a manifestFile
// loaded once from disk; Load/LoadSegment are no-ops since the file
// never changes during a run.
type fileManifestBackend struct {
	segments []manifestSegment
}

func loadFileManifestBackend(path string) (*fileManifestBackend, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("manifest: read %s: %w", path, err)
	}
	var mf manifestFile
	if err := yaml.Unmarshal(data, &mf); err != nil {
		return nil, fmt.Errorf("manifest: parse %s: %w", path, err)
	}
	return &fileManifestBackend{segments: mf.Segments}, nil
}

func (b *fileManifestBackend) Load(context.Context, bool) error            { return nil }
func (b *fileManifestBackend) LoadSegment(context.Context, bool, int) error { return nil }

func (b *fileManifestBackend) Count(context.Context) (int, error) {
	return len(b.segments), nil
}

func (b *fileManifestBackend) MRL(_ context.Context, order int) (string, error) {
	if order < 0 || order >= len(b.segments) {
		return "", fmt.Errorf("manifest: order %d out of range", order)
	}
	return b.segments[order].URL, nil
}

func (b *fileManifestBackend) URL(ctx context.Context, order int) (string, error) {
	return b.MRL(ctx, order)
}

func (b *fileManifestBackend) DurationMS(_ context.Context, order int) (int64, error) {
	if order < 0 || order >= len(b.segments) {
		return 0, fmt.Errorf("manifest: order %d out of range", order)
	}
	return b.segments[order].DurationMS, nil
}

func (b *fileManifestBackend) Bytes(_ context.Context, order int) (int64, error) {
	if order < 0 || order >= len(b.segments) {
		return 0, fmt.Errorf("manifest: order %d out of range", order)
	}
	return b.segments[order].Bytes, nil
}
