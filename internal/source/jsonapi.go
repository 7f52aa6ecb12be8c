package source

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"go.uber.org/multierr"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/hamed0406/proxyscore/internal/domain"
)

// DefaultListPath matches responses shaped {"data":{"list":[{"ip":..,"port":..}]}}.
const DefaultListPath = "data.list"

const maxAPIBody = 4 << 20

// JSONAPI reads proxy entries from a paged JSON API. ListPath is a dotted
// path of object keys leading to the array of entries.
type JSONAPI struct {
	Label    string
	Pages    []string
	ListPath string
	Client   *http.Client
	Limiter  *rate.Limiter
	Log      *zap.Logger
}

// NewJSONAPI uses DefaultListPath and one page per second.
func NewJSONAPI(label string, pages []string, log *zap.Logger) *JSONAPI {
	return &JSONAPI{
		Label:    label,
		Pages:    pages,
		ListPath: DefaultListPath,
		Client:   defaultClient(),
		Limiter:  rate.NewLimiter(rate.Every(time.Second), 1),
		Log:      log,
	}
}

func (s *JSONAPI) Name() string { return s.Label }

func (s *JSONAPI) Fetch(ctx context.Context) ([]domain.Candidate, error) {
	log := s.Log
	if log == nil {
		log = zap.NewNop()
	}
	client := s.Client
	if client == nil {
		client = defaultClient()
	}

	var (
		out  []domain.Candidate
		errs error
		ok   int
	)
	for _, page := range s.Pages {
		if s.Limiter != nil {
			if err := s.Limiter.Wait(ctx); err != nil {
				return out, multierr.Append(errs, err)
			}
		}
		cs, err := s.page(ctx, client, page)
		if err != nil {
			log.Warn("source_page_error", zap.String("source", s.Name()), zap.String("url", page), zap.Error(err))
			errs = multierr.Append(errs, err)
			continue
		}
		ok++
		out = append(out, cs...)
	}
	if ok == 0 && errs != nil {
		return nil, errs
	}
	return out, nil
}

func (s *JSONAPI) page(ctx context.Context, client *http.Client, url string) ([]domain.Candidate, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("User-Agent", userAgent)
	req.Header.Set("Accept", "application/json")
	resp, err := client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("%s: status %s", url, resp.Status)
	}
	body, err := io.ReadAll(io.LimitReader(resp.Body, maxAPIBody))
	if err != nil {
		return nil, fmt.Errorf("%s: read: %w", url, err)
	}
	cs, err := s.Decode(body)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", url, err)
	}
	return cs, nil
}

// Decode walks ListPath in body and returns the entries found there.
func (s *JSONAPI) Decode(body []byte) ([]domain.Candidate, error) {
	path := s.ListPath
	if path == "" {
		path = DefaultListPath
	}
	raw := json.RawMessage(body)
	for _, key := range strings.Split(path, ".") {
		var obj map[string]json.RawMessage
		if err := json.Unmarshal(raw, &obj); err != nil {
			return nil, fmt.Errorf("decode %q: %w", key, err)
		}
		next, ok := obj[key]
		if !ok {
			return nil, fmt.Errorf("missing key %q in %s", key, path)
		}
		raw = next
	}
	var entries []listEntry
	if err := json.Unmarshal(raw, &entries); err != nil {
		return nil, fmt.Errorf("decode %s: %w", path, err)
	}
	out := make([]domain.Candidate, 0, len(entries))
	for _, e := range entries {
		out = append(out, domain.Candidate{IP: e.IP, Port: string(e.Port)})
	}
	return out, nil
}
