package source

import (
	"context"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
	"go.uber.org/multierr"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/hamed0406/proxyscore/internal/domain"
)

// PagePlaceholder in a source URL is replaced with 1..pages.
const PagePlaceholder = "{page}"

// ExpandPages returns url once, or once per page when it carries
// PagePlaceholder.
func ExpandPages(url string, pages int) []string {
	if !strings.Contains(url, PagePlaceholder) {
		return []string{url}
	}
	if pages < 1 {
		pages = 1
	}
	out := make([]string, 0, pages)
	for i := 1; i <= pages; i++ {
		out = append(out, strings.ReplaceAll(url, PagePlaceholder, strconv.Itoa(i)))
	}
	return out
}

// HTMLTable scrapes proxy rows out of HTML tables. Pages are fetched one at
// a time through Limiter.
type HTMLTable struct {
	Label    string
	Pages    []string
	Selector string // row selector, default "table tbody tr"
	IPCol    int
	PortCol  int // negative when the ip column holds "ip:port"
	Client   *http.Client
	Limiter  *rate.Limiter
	Log      *zap.Logger
}

// NewHTMLTable uses the common two-column layout and one page per second.
func NewHTMLTable(label string, pages []string, log *zap.Logger) *HTMLTable {
	return &HTMLTable{
		Label:    label,
		Pages:    pages,
		Selector: "table tbody tr",
		IPCol:    0,
		PortCol:  1,
		Client:   defaultClient(),
		Limiter:  rate.NewLimiter(rate.Every(time.Second), 1),
		Log:      log,
	}
}

func (s *HTMLTable) Name() string { return s.Label }

func (s *HTMLTable) Fetch(ctx context.Context) ([]domain.Candidate, error) {
	log := s.Log
	if log == nil {
		log = zap.NewNop()
	}
	client := s.Client
	if client == nil {
		client = defaultClient()
	}
	selector := s.Selector
	if selector == "" {
		selector = "table tbody tr"
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
		cs, err := s.page(ctx, client, page, selector)
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

func (s *HTMLTable) page(ctx context.Context, client *http.Client, url, selector string) ([]domain.Candidate, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("User-Agent", userAgent)
	req.Header.Set("Accept-Language", "en-US,en;q=0.9")
	resp, err := client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("%s: status %s", url, resp.Status)
	}
	doc, err := goquery.NewDocumentFromReader(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("%s: parse html: %w", url, err)
	}

	var out []domain.Candidate
	doc.Find(selector).Each(func(_ int, row *goquery.Selection) {
		cells := row.Find("td")
		ipText := strings.TrimSpace(cells.Eq(s.IPCol).Text())
		if ipText == "" {
			return
		}
		if s.PortCol < 0 {
			if c, ok := ParseLine(ipText); ok {
				out = append(out, c)
			}
			return
		}
		out = append(out, domain.Candidate{
			IP:   ipText,
			Port: strings.TrimSpace(cells.Eq(s.PortCol).Text()),
		})
	})
	return out, nil
}
