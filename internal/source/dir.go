package source

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"net/http"
	"os"
	"path/filepath"
	"sort"
)

// DirSource reads items from a local tree: every subdirectory <id> holding
// <id><metaSuffix> is one record.
type DirSource struct {
	root        string
	metaSuffix  string
	filesSuffix string
}

func NewDirSource(root, metaSuffix, filesSuffix string) *DirSource {
	if metaSuffix == "" {
		metaSuffix = "_meta.xml"
	}
	if filesSuffix == "" {
		filesSuffix = "_files.xml"
	}
	return &DirSource{root: root, metaSuffix: metaSuffix, filesSuffix: filesSuffix}
}

// ListIDs returns the qualifying subdirectory names, sorted.
func (d *DirSource) ListIDs(ctx context.Context) ([]string, error) {
	entries, err := os.ReadDir(d.root)
	if err != nil {
		return nil, fmt.Errorf("listing %s: %w", d.root, err)
	}
	ids := make([]string, 0, len(entries))
	for _, e := range entries {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if !e.IsDir() {
			continue
		}
		id := e.Name()
		if _, err := os.Stat(d.path(id, d.metaSuffix)); err == nil {
			ids = append(ids, id)
		}
	}
	sort.Strings(ids)
	return ids, nil
}

func (d *DirSource) Fetch(ctx context.Context, id string) ([]byte, error) {
	return d.read(ctx, id, d.metaSuffix)
}

func (d *DirSource) FetchFiles(ctx context.Context, id string) ([]byte, error) {
	return d.read(ctx, id, d.filesSuffix)
}

func (d *DirSource) path(id, suffix string) string {
	return filepath.Join(d.root, id, id+suffix)
}

func (d *DirSource) read(ctx context.Context, id, suffix string) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	p := d.path(id, suffix)
	data, err := os.ReadFile(p)
	if err != nil {
		fe := &FetchError{ID: id, URL: p, Err: err}
		if errors.Is(err, fs.ErrNotExist) {
			fe.Status = http.StatusNotFound
		}
		return nil, fe
	}
	return data, nil
}
