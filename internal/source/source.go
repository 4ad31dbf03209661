// Package source discovers record identifiers and retrieves their metadata
// documents, either from an HTTP item server or from a local directory tree
// laid out the same way (<id>/<id>_meta.xml).
package source

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/Adithya-Monish-Kumar-K/metadata-search/pkg/config"
	apperrors "github.com/Adithya-Monish-Kumar-K/metadata-search/pkg/errors"
	"github.com/Adithya-Monish-Kumar-K/metadata-search/pkg/metrics"
)

// Lister returns distinct, non-empty record identifiers.
type Lister interface {
	ListIDs(ctx context.Context) ([]string, error)
}

// Fetcher returns the raw metadata document for one identifier.
type Fetcher interface {
	Fetch(ctx context.Context, id string) ([]byte, error)
}

// Source is both a Lister and a Fetcher.
type Source interface {
	Lister
	Fetcher
}

// ManifestFetcher is implemented by sources that can also supply an item's
// file manifest document. A missing manifest matches apperrors.ErrNotFound.
type ManifestFetcher interface {
	FetchFiles(ctx context.Context, id string) ([]byte, error)
}

// Locator is implemented by sources whose items have a public URL.
type Locator interface {
	ItemURL(id string) string
}

// FromConfig returns a DirSource when cfg.Dir is set and an HTTPSource
// otherwise.
func FromConfig(cfg config.SourceConfig, m *metrics.Metrics) (Source, error) {
	if cfg.Dir != "" {
		return NewDirSource(cfg.Dir, cfg.MetaSuffix, cfg.FilesSuffix), nil
	}
	return NewHTTPSource(cfg, m)
}

// FetchError reports a document that could not be retrieved. It matches
// apperrors.ErrFetch, and apperrors.ErrNotFound when the document does not
// exist.
type FetchError struct {
	ID     string
	URL    string
	Status int
	Err    error
}

func (e *FetchError) Error() string {
	switch {
	case e.Err != nil && e.Status != 0:
		return fmt.Sprintf("fetching %s: status %d: %v", e.URL, e.Status, e.Err)
	case e.Err != nil:
		return fmt.Sprintf("fetching %s: %v", e.URL, e.Err)
	default:
		return fmt.Sprintf("fetching %s: status %d", e.URL, e.Status)
	}
}

func (e *FetchError) Unwrap() error {
	return e.Err
}

func (e *FetchError) Is(target error) bool {
	if target == apperrors.ErrFetch {
		return true
	}
	return target == apperrors.ErrNotFound && e.Status == http.StatusNotFound
}

// retryable reports whether another attempt could succeed.
func retryable(err error) bool {
	var fe *FetchError
	if !errors.As(err, &fe) {
		return true
	}
	switch {
	case fe.Status == 0:
		return true
	case fe.Status == http.StatusTooManyRequests, fe.Status >= 500:
		return true
	default:
		return false
	}
}
