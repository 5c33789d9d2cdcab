package usecase

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"sync"

	"github.com/PuerkitoBio/goquery"

	"TenderScanner/internal/domain"
	"TenderScanner/internal/infrastructure/fetcher"
	"TenderScanner/internal/infrastructure/storage"
)

// fakeFetcher serves canned HTML by URL and fails on everything else.
type fakeFetcher struct {
	mu    sync.Mutex
	pages map[string]string
	calls []string
}

func (f *fakeFetcher) Fetch(_ context.Context, rawURL string) (*goquery.Document, error) {
	f.mu.Lock()
	f.calls = append(f.calls, rawURL)
	body, ok := f.pages[rawURL]
	f.mu.Unlock()

	if !ok {
		return nil, &fetcher.FetchError{URL: rawURL, Kind: fetcher.KindHTTPStatus, StatusCode: 404, Err: errors.New("not found")}
	}
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(body))
	if err != nil {
		return nil, err
	}
	doc.Url, _ = url.Parse(rawURL)
	return doc, nil
}

type fakeCatalog struct {
	sites []domain.SourceSite
}

func (c fakeCatalog) Select(codes []string) ([]domain.SourceSite, error) {
	if len(codes) == 0 {
		return c.sites, nil
	}
	var out []domain.SourceSite
	for _, code := range codes {
		found := false
		for _, s := range c.sites {
			if s.Code == code {
				out = append(out, s)
				found = true
			}
		}
		if !found {
			return nil, fmt.Errorf("unknown source: %s", code)
		}
	}
	return out, nil
}

type fakeClassifier struct {
	failOn map[int64]bool
	// release, when set, holds every call until it is closed.
	release chan struct{}

	mu    sync.Mutex
	calls []int64
}

func (c *fakeClassifier) Classify(ctx context.Context, t domain.Tender) (domain.Classification, error) {
	c.mu.Lock()
	c.calls = append(c.calls, t.ID)
	c.mu.Unlock()

	if c.release != nil {
		select {
		case <-c.release:
		case <-ctx.Done():
			return domain.Classification{}, ctx.Err()
		}
	}
	if c.failOn[t.ID] {
		return domain.Classification{}, fmt.Errorf("classifier unavailable for %d", t.ID)
	}
	return domain.Classification{
		Category:       "alimentacao",
		RelevanceScore: 80,
		Confidence:     0.9,
		Keywords:       []string{"merenda"},
		Summary:        "Compra de merenda",
	}, nil
}

func (c *fakeClassifier) callsPerTender() map[int64]int {
	c.mu.Lock()
	defer c.mu.Unlock()

	out := map[int64]int{}
	for _, id := range c.calls {
		out[id]++
	}
	return out
}

type haltFlag bool

func (h haltFlag) Halted() bool { return bool(h) }

type recordingNotifier struct {
	mu       sync.Mutex
	messages []string
}

func (n *recordingNotifier) PublishDigest(_ context.Context, msg string) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.messages = append(n.messages, msg)
	return nil
}

// downRepo is a repository whose database cannot be reached.
type downRepo struct {
	*storage.MemoryRepository
}

func (downRepo) Ping(context.Context) error {
	return errors.New("connection refused")
}
