package masters

import (
	"context"
	"os"
	"path"
	"path/filepath"
	"strings"
)

// DirSource reads catalogs from a local directory.
type DirSource struct {
	Dir string
}

// ReadFile implements Source.
func (s DirSource) ReadFile(_ context.Context, name string) ([]byte, error) {
	return os.ReadFile(filepath.Join(s.Dir, name))
}

// Fetcher downloads objects by gs:// URI.
type Fetcher interface {
	FetchFromGCS(ctx context.Context, gcsURI string) ([]byte, error)
}

// GCSSource reads catalogs stored under a gs://bucket/prefix location.
type GCSSource struct {
	Fetcher Fetcher
	Prefix  string
}

// ReadFile implements Source.
func (s GCSSource) ReadFile(ctx context.Context, name string) ([]byte, error) {
	uri := strings.TrimSuffix(s.Prefix, "/") + "/" + path.Clean(name)
	return s.Fetcher.FetchFromGCS(ctx, uri)
}
