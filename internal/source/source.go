// Package source fetches raw proxy candidates. Fetchers only parse; every
// list goes through Normalize before verification.
package source

import (
	"bufio"
	"context"
	"io"
	"net"
	"strings"

	"go.uber.org/multierr"
	"go.uber.org/zap"

	"github.com/hamed0406/proxyscore/internal/domain"
)

// Source yields candidates for one pass.
type Source interface {
	Name() string
	Fetch(ctx context.Context) ([]domain.Candidate, error)
}

// Normalize trims whitespace, drops entries without both ip and port and
// removes exact duplicates, keeping first-seen order.
func Normalize(cs []domain.Candidate, log *zap.Logger) []domain.Candidate {
	if log == nil {
		log = zap.NewNop()
	}
	seen := make(map[string]struct{}, len(cs))
	out := make([]domain.Candidate, 0, len(cs))
	dropped := 0
	for _, c := range cs {
		c.IP = strings.TrimSpace(c.IP)
		c.Port = strings.TrimSpace(c.Port)
		if c.IP == "" || c.Port == "" {
			log.Warn("source_candidate_dropped", zap.String("ip", c.IP), zap.String("port", c.Port))
			dropped++
			continue
		}
		k := c.Key()
		if _, dup := seen[k]; dup {
			continue
		}
		seen[k] = struct{}{}
		out = append(out, c)
	}
	log.Debug("source_normalized",
		zap.Int("in", len(cs)),
		zap.Int("out", len(out)),
		zap.Int("dropped", dropped),
	)
	return out
}

// ParseLine reads one "ip:port" entry. Bracketed IPv6 is accepted. A line
// with no port yields a candidate with an empty Port, which Normalize drops.
func ParseLine(line string) (domain.Candidate, bool) {
	line = strings.TrimSpace(line)
	if line == "" || strings.HasPrefix(line, "#") {
		return domain.Candidate{}, false
	}
	// some lists append a protocol or country after whitespace
	if i := strings.IndexAny(line, " \t"); i > 0 {
		line = line[:i]
	}
	if host, port, err := net.SplitHostPort(line); err == nil {
		return domain.Candidate{IP: host, Port: port}, true
	}
	if i := strings.LastIndex(line, ":"); i >= 0 && strings.Count(line, ":") == 1 {
		return domain.Candidate{IP: line[:i], Port: line[i+1:]}, true
	}
	return domain.Candidate{IP: line}, true
}

func parseLines(r io.Reader) ([]domain.Candidate, error) {
	var out []domain.Candidate
	sc := bufio.NewScanner(r)
	for sc.Scan() {
		if c, ok := ParseLine(sc.Text()); ok {
			out = append(out, c)
		}
	}
	return out, sc.Err()
}

// Static serves a fixed list, mostly for tests and the preflight tool.
type Static struct {
	Label      string
	Candidates []domain.Candidate
}

func (s Static) Name() string {
	if s.Label == "" {
		return "static"
	}
	return s.Label
}

func (s Static) Fetch(context.Context) ([]domain.Candidate, error) {
	out := make([]domain.Candidate, len(s.Candidates))
	copy(out, s.Candidates)
	return out, nil
}

// Multi fetches every source in turn. A failing source does not stop the
// others; its error is combined into the returned error.
type Multi struct {
	Sources []Source
	Log     *zap.Logger
}

func (m Multi) Name() string { return "multi" }

func (m Multi) Fetch(ctx context.Context) ([]domain.Candidate, error) {
	log := m.Log
	if log == nil {
		log = zap.NewNop()
	}
	var (
		all  []domain.Candidate
		errs error
	)
	for _, s := range m.Sources {
		if err := ctx.Err(); err != nil {
			return all, multierr.Append(errs, err)
		}
		cs, err := s.Fetch(ctx)
		if err != nil {
			log.Warn("source_fetch_error", zap.String("source", s.Name()), zap.Error(err))
			errs = multierr.Append(errs, err)
		}
		log.Info("source_fetched", zap.String("source", s.Name()), zap.Int("count", len(cs)))
		all = append(all, cs...)
	}
	return all, errs
}
