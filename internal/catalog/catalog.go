// Package catalog fetches the target catalog and per-target metadata from the
// upstream JSON API. The catalog is re-fetched fresh at the start of every
// pass; nothing here is cached.
package catalog

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"golang.org/x/text/encoding/unicode"
	"golang.org/x/text/transform"

	bwerrors "git.home.luguber.info/inful/buildwatch/internal/errors"
)

// KeyPosition is one physical key in a layout.
type KeyPosition struct {
	X     float64 `json:"x"`
	Y     float64 `json:"y"`
	W     float64 `json:"w,omitempty"`
	H     float64 `json:"h,omitempty"`
	Label string  `json:"label,omitempty"`
}

// Layout is a named ordered sequence of key positions.
type Layout struct {
	Layout []KeyPosition `json:"layout"`
}

// KeymapRef points at a hosted keymap definition.
type KeymapRef struct {
	URL string `json:"url"`
}

// Metadata is the subset of per-target metadata the loop needs.
type Metadata struct {
	Keymaps map[string]KeymapRef `json:"keymaps"`
	Layouts map[string]Layout    `json:"layouts"`
}

// Source fetches catalog data over HTTP.
type Source struct {
	baseURL   string
	keymapURL string
	client    *http.Client
}

// NewSource creates a catalog source. timeout bounds every HTTP call.
func NewSource(baseURL, keymapURL string, timeout time.Duration) *Source {
	return &Source{
		baseURL:   baseURL,
		keymapURL: keymapURL,
		client:    &http.Client{Timeout: timeout},
	}
}

type targetList struct {
	Keyboards []string `json:"keyboards"`
}

// FetchCatalog returns the ordered target list. Transient fetch failures
// yield an error the caller treats as an empty catalog.
func (s *Source) FetchCatalog(ctx context.Context) ([]string, error) {
	url := s.baseURL + "/keyboard_list.json"

	var list targetList
	if err := s.fetchJSON(ctx, url, &list); err != nil {
		return nil, err
	}
	return list.Keyboards, nil
}

type metadataEnvelope struct {
	Keyboards map[string]*Metadata `json:"keyboards"`
}

// FetchMetadata returns the metadata for one target, or nil when the upstream
// has none for it.
func (s *Source) FetchMetadata(ctx context.Context, target string) (*Metadata, error) {
	url := fmt.Sprintf("%s/keyboards/%s/info.json", s.baseURL, target)

	var envelope metadataEnvelope
	if err := s.fetchJSON(ctx, url, &envelope); err != nil {
		return nil, err
	}
	return envelope.Keyboards[target], nil
}

// fetchJSON decodes a JSON document, tolerating a UTF-8 BOM; the upstream
// serves some documents as utf-8-sig.
func (s *Source) fetchJSON(ctx context.Context, url string, dst any) error {
	slog.Debug("Fetching JSON", "url", url)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return bwerrors.CatalogFetchError(url, err)
	}

	resp, err := s.client.Do(req)
	if err != nil {
		return bwerrors.CatalogFetchError(url, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return bwerrors.CatalogFetchError(url, fmt.Errorf("status %d: %s", resp.StatusCode, body))
	}

	decoder := unicode.UTF8BOM.NewDecoder()
	if err := json.NewDecoder(transform.NewReader(resp.Body, decoder)).Decode(dst); err != nil {
		return bwerrors.CatalogFetchError(url, err)
	}
	return nil
}
