package feed

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"strings"
	"sync"
	"time"

	"gomarketplace_sync/pkg/logger"
)

// Fetcher opens the raw feed document at location.
type Fetcher interface {
	Fetch(ctx context.Context, location string) (io.ReadCloser, error)
}

type HTTPFetcher struct {
	Client *http.Client
}

func NewHTTPFetcher(timeout time.Duration) *HTTPFetcher {
	return &HTTPFetcher{Client: &http.Client{Timeout: timeout}}
}

func (f *HTTPFetcher) Fetch(ctx context.Context, location string) (io.ReadCloser, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, location, nil)
	if err != nil {
		return nil, err
	}
	resp, err := f.Client.Do(req)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode != http.StatusOK {
		resp.Body.Close()
		return nil, fmt.Errorf("unexpected status code %d", resp.StatusCode)
	}
	return resp.Body, nil
}

type FileFetcher struct{}

func (FileFetcher) Fetch(_ context.Context, location string) (io.ReadCloser, error) {
	return os.Open(strings.TrimPrefix(location, "file://"))
}

// FetcherChain picks a registered fetcher by the scheme of the feed location. Locations
// without a scheme are treated as files.
type FetcherChain struct {
	mu       sync.Mutex
	fetchers map[string]Fetcher
	log      logger.Logger
}

func NewFetcherChain(log logger.Logger) *FetcherChain {
	return &FetcherChain{fetchers: make(map[string]Fetcher), log: log.WithPrefix("[FetcherChain]")}
}

// DefaultFetcherChain registers http, https and file fetchers.
func DefaultFetcherChain(timeout time.Duration, log logger.Logger) *FetcherChain {
	fc := NewFetcherChain(log)
	h := NewHTTPFetcher(timeout)
	_ = fc.Register("http", h)
	_ = fc.Register("https", h)
	_ = fc.Register("file", FileFetcher{})
	return fc
}

func (fc *FetcherChain) Register(scheme string, fetcher Fetcher) error {
	fc.mu.Lock()
	defer fc.mu.Unlock()

	if fetcher == nil {
		return fmt.Errorf("fetcher is nil for scheme '%s'", scheme)
	}
	if scheme == "" {
		return fmt.Errorf("fetcher scheme cannot be empty")
	}
	if _, exists := fc.fetchers[scheme]; exists {
		return fmt.Errorf("fetcher for scheme '%s' already exists", scheme)
	}
	fc.fetchers[scheme] = fetcher
	return nil
}

func (fc *FetcherChain) Fetch(ctx context.Context, location string) (io.ReadCloser, error) {
	scheme := "file"
	if u, err := url.Parse(location); err == nil && len(u.Scheme) > 1 {
		scheme = strings.ToLower(u.Scheme)
	}

	fc.mu.Lock()
	fetcher, ok := fc.fetchers[scheme]
	fc.mu.Unlock()
	if !ok {
		return nil, fmt.Errorf("no fetcher for scheme '%s'", scheme)
	}
	fc.log.Log("fetching feed from %s", location)
	return fetcher.Fetch(ctx, location)
}
