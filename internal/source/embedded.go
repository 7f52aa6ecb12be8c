package source

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"regexp"
	"time"

	"github.com/gocolly/colly/v2"
	"go.uber.org/multierr"
	"go.uber.org/zap"

	"github.com/hamed0406/proxyscore/internal/domain"
)

// EmbeddedJSON extracts a JSON array assigned to a script variable, as in
// `const fpsList = [{"ip":"1.2.3.4","port":"8080"}];`.
type EmbeddedJSON struct {
	Label   string
	Pages   []string
	Var     string // default "fpsList"
	Delay   time.Duration
	Timeout time.Duration
	Log     *zap.Logger
}

func (s EmbeddedJSON) Name() string { return s.Label }

type listEntry struct {
	IP   string     `json:"ip"`
	Port portString `json:"port"`
}

// portString accepts "8080" or 8080.
type portString string

func (p *portString) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if len(b) > 0 && b[0] == '"' {
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return err
		}
		*p = portString(s)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(b, &n); err != nil {
		return fmt.Errorf("port: %w", err)
	}
	*p = portString(n.String())
	return nil
}

func (s EmbeddedJSON) pattern() *regexp.Regexp {
	name := s.Var
	if name == "" {
		name = "fpsList"
	}
	return regexp.MustCompile(`(?s)(?:var|let|const)\s+` + regexp.QuoteMeta(name) + `\s*=\s*(\[.*?\]);`)
}

// Extract pulls the entries out of one page body. A page without the
// variable yields nothing and no error.
func (s EmbeddedJSON) Extract(body []byte) ([]domain.Candidate, error) {
	m := s.pattern().FindSubmatch(body)
	if len(m) < 2 {
		return nil, nil
	}
	var entries []listEntry
	if err := json.Unmarshal(m[1], &entries); err != nil {
		return nil, fmt.Errorf("decode %s: %w", s.Var, err)
	}
	out := make([]domain.Candidate, 0, len(entries))
	for _, e := range entries {
		out = append(out, domain.Candidate{IP: e.IP, Port: string(e.Port)})
	}
	return out, nil
}

func (s EmbeddedJSON) Fetch(ctx context.Context) ([]domain.Candidate, error) {
	log := s.Log
	if log == nil {
		log = zap.NewNop()
	}
	timeout := s.Timeout
	if timeout <= 0 {
		timeout = 20 * time.Second
	}

	c := colly.NewCollector(colly.UserAgent(userAgent), colly.AllowURLRevisit())
	c.SetRequestTimeout(timeout)

	var (
		out  []domain.Candidate
		errs error
	)
	c.OnResponse(func(r *colly.Response) {
		cs, err := s.Extract(r.Body)
		if err != nil {
			errs = multierr.Append(errs, fmt.Errorf("%s: %w", r.Request.URL, err))
			return
		}
		if cs == nil {
			log.Warn("source_variable_missing", zap.String("source", s.Name()), zap.String("url", r.Request.URL.String()))
		}
		out = append(out, cs...)
	})
	c.OnError(func(r *colly.Response, err error) {
		log.Warn("source_page_error",
			zap.String("source", s.Name()),
			zap.String("url", r.Request.URL.String()),
			zap.Int("status_code", r.StatusCode),
			zap.Error(err),
		)
		errs = multierr.Append(errs, fmt.Errorf("%s: %w", r.Request.URL, err))
	})

	for i, page := range s.Pages {
		if err := ctx.Err(); err != nil {
			return out, multierr.Append(errs, err)
		}
		if i > 0 && s.Delay > 0 {
			select {
			case <-ctx.Done():
				return out, multierr.Append(errs, ctx.Err())
			case <-time.After(s.Delay):
			}
		}
		if err := c.Visit(page); err != nil {
			// OnError has already recorded failed requests
			log.Debug("source_visit_failed", zap.String("url", page), zap.Error(err))
		}
	}
	c.Wait()

	if len(out) == 0 && errs != nil {
		return nil, errs
	}
	return out, nil
}
