package domain

import (
	"errors"
	"fmt"
	"net"
	"strconv"
	"strings"
	"time"
)

// ErrMalformedCandidate marks an (ip, port) pair that cannot be probed.
var ErrMalformedCandidate = errors.New("malformed candidate")

// Candidate is an (ip, port) pair not yet verified in the current pass.
type Candidate struct {
	IP   string `json:"ip"`
	Port string `json:"port"`
}

func (c Candidate) String() string { return net.JoinHostPort(c.IP, c.Port) }

// Key is the exact-string identity used for dedupe and storage.
func (c Candidate) Key() string { return c.IP + "\x00" + c.Port }

// Validate reports ErrMalformedCandidate when ip is not a literal address or
// port is outside 1..65535. Strings are checked as given, never rewritten.
func (c Candidate) Validate() error {
	if c.IP == "" || c.Port == "" {
		return fmt.Errorf("%w: empty ip or port in %q", ErrMalformedCandidate, c.String())
	}
	if net.ParseIP(c.IP) == nil {
		return fmt.Errorf("%w: ip %q is not an address", ErrMalformedCandidate, c.IP)
	}
	if strings.TrimSpace(c.Port) != c.Port {
		return fmt.Errorf("%w: port %q has surrounding space", ErrMalformedCandidate, c.Port)
	}
	n, err := strconv.Atoi(c.Port)
	if err != nil || n < 1 || n > 65535 {
		return fmt.Errorf("%w: port %q out of range", ErrMalformedCandidate, c.Port)
	}
	return nil
}

// Proxy is the persisted record. Nil metric pointers mean "not measured" or
// "undefined"; a non-nil zero is a measured zero.
type Proxy struct {
	ID          int64      `json:"id,omitempty"`
	IP          string     `json:"ip"`
	Port        string     `json:"port"`
	Speed       *float64   `json:"speed,omitempty"` // mean latency, seconds
	SuccessRate *float64   `json:"success_rate,omitempty"`
	Stability   *float64   `json:"stability,omitempty"`
	Score       *float64   `json:"score,omitempty"`
	LastChecked *time.Time `json:"last_checked,omitempty"`
}

func NewProxy(ip, port string) *Proxy {
	return &Proxy{IP: ip, Port: port}
}

func (p Proxy) Candidate() Candidate { return Candidate{IP: p.IP, Port: p.Port} }

// Float returns a pointer to v, for filling optional metrics.
func Float(v float64) *float64 { return &v }
