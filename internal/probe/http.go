package probe

import (
	"context"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"time"

	"github.com/hamed0406/proxyscore/internal/domain"
)

// DefaultTarget is fetched through the candidate when no test URLs are set.
const DefaultTarget = "https://cip.cc"

const maxBodyBytes = 64 << 10

// HTTPProber fetches a test URL using the candidate as an HTTP proxy. Each
// call builds its own transport so no connection is shared between probes.
type HTTPProber struct {
	Targets   []string
	UserAgent string

	dialer *net.Dialer
}

func NewHTTPProber(targets ...string) *HTTPProber {
	if len(targets) == 0 {
		targets = []string{DefaultTarget}
	}
	return &HTTPProber{
		Targets:   targets,
		UserAgent: "proxyscore/1.0",
		dialer:    &net.Dialer{KeepAlive: -1},
	}
}

// target picks the URL for the round carried by ctx. Round i of every
// candidate hits the same URL, so each proxy sees the same mix.
func (h *HTTPProber) target(ctx context.Context) string {
	if len(h.Targets) == 0 {
		return DefaultTarget
	}
	n := Round(ctx)
	if n < 0 {
		n = -n
	}
	return h.Targets[n%len(h.Targets)]
}

func (h *HTTPProber) Probe(ctx context.Context, c domain.Candidate) domain.RoundOutcome {
	dialer := h.dialer
	if dialer == nil {
		dialer = &net.Dialer{KeepAlive: -1}
	}
	tr := &http.Transport{
		Proxy:             http.ProxyURL(&url.URL{Scheme: "http", Host: c.String()}),
		DialContext:       dialer.DialContext,
		DisableKeepAlives: true,
	}
	defer tr.CloseIdleConnections()
	client := &http.Client{
		Transport: tr,
		CheckRedirect: func(*http.Request, []*http.Request) error {
			return http.ErrUseLastResponse
		},
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, h.target(ctx), nil)
	if err != nil {
		return domain.Failure(domain.FailureProtocol, err.Error())
	}
	if h.UserAgent != "" {
		req.Header.Set("User-Agent", h.UserAgent)
	}

	start := time.Now()
	resp, err := client.Do(req)
	if err != nil {
		return domain.Failure(Classify(err), err.Error())
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return domain.Failure(domain.FailureProtocol, fmt.Sprintf("status %s", resp.Status))
	}
	if _, err := io.Copy(io.Discard, io.LimitReader(resp.Body, maxBodyBytes)); err != nil {
		if Classify(err) == domain.FailureTimeout {
			return domain.Failure(domain.FailureTimeout, err.Error())
		}
		return domain.Failure(domain.FailureProtocol, "body: "+err.Error())
	}
	return domain.Success(time.Since(start))
}
