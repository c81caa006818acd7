package catalog

import (
	"context"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// catalogFile is the on-disk YAML layout:
//
//	clips:
//	  - id: rain
//	    name: Rain
//	    source: https://cdn.example.com/rain.mp3
//	    category: weather
//	    type: ambiance
type catalogFile struct {
	Clips []Clip `yaml:"clips"`
}

// FileResolver reads the catalog from a local YAML file on every call.
// Caching is left to Cache.
type FileResolver struct {
	path string
}

// NewFileResolver returns a resolver for the YAML catalog at path.
func NewFileResolver(path string) *FileResolver {
	return &FileResolver{path: path}
}

// Path returns the catalog file location.
func (r *FileResolver) Path() string { return r.path }

// ResolveAll implements Resolver.ResolveAll.
func (r *FileResolver) ResolveAll(ctx context.Context) ([]Clip, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	data, err := os.ReadFile(r.path)
	if err != nil {
		return nil, fmt.Errorf("read catalog %s: %w", r.path, err)
	}
	var f catalogFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("unmarshal catalog %s: %w", r.path, err)
	}
	clips := make([]Clip, 0, len(f.Clips))
	for _, c := range f.Clips {
		if c.ID == "" {
			continue
		}
		clips = append(clips, c)
	}
	return clips, nil
}

// ResolveByIDs implements Resolver.ResolveByIDs.
func (r *FileResolver) ResolveByIDs(ctx context.Context, ids []string) (map[string]Clip, error) {
	clips, err := r.ResolveAll(ctx)
	if err != nil {
		return nil, err
	}
	return indexByID(clips, ids), nil
}
