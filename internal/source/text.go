package source

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"time"

	"github.com/hamed0406/proxyscore/internal/domain"
)

const userAgent = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/124.0 Safari/537.36"

func defaultClient() *http.Client { return &http.Client{Timeout: 20 * time.Second} }

// TextList downloads a plain "ip:port" per line list.
type TextList struct {
	URL    string
	Client *http.Client
}

func (s TextList) Name() string { return s.URL }

func (s TextList) Fetch(ctx context.Context) ([]domain.Candidate, error) {
	client := s.Client
	if client == nil {
		client = defaultClient()
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.URL, nil)
	if err != nil {
		return nil, fmt.Errorf("text list %s: %w", s.URL, err)
	}
	req.Header.Set("User-Agent", userAgent)
	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("text list %s: %w", s.URL, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("text list %s: status %s", s.URL, resp.Status)
	}
	cs, err := parseLines(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("text list %s: read: %w", s.URL, err)
	}
	return cs, nil
}

// File reads the same format from disk.
type File struct {
	Path string
}

func (s File) Name() string { return "file:" + s.Path }

func (s File) Fetch(ctx context.Context) ([]domain.Candidate, error) {
	f, err := os.Open(s.Path)
	if err != nil {
		return nil, fmt.Errorf("file source: %w", err)
	}
	defer f.Close()
	cs, err := parseLines(f)
	if err != nil {
		return nil, fmt.Errorf("file source %s: %w", s.Path, err)
	}
	return cs, nil
}
