package syncer

import (
	"context"
	"net"
	"time"

	"github.com/rs/zerolog"
)

// ProbeFunc reports whether the remote is reachable right now.
type ProbeFunc func(ctx context.Context) bool

// DialProbe probes reachability with a TCP dial against addr
// (host:port). The dial is bounded by timeout; an established
// connection is closed immediately.
func DialProbe(addr string, timeout time.Duration) ProbeFunc {
	return func(ctx context.Context) bool {
		d := net.Dialer{Timeout: timeout}
		conn, err := d.DialContext(ctx, "tcp", addr)
		if err != nil {
			return false
		}
		_ = conn.Close()
		return true
	}
}

// Prober periodically probes connectivity and feeds the result to the
// coordinator, which reacts to edges.
type Prober struct {
	coord    *Coordinator
	probe    ProbeFunc
	interval time.Duration
	log      zerolog.Logger
}

// NewProber builds a prober over the coordinator.
func NewProber(coord *Coordinator, probe ProbeFunc, interval time.Duration, log zerolog.Logger) *Prober {
	if interval <= 0 {
		interval = 15 * time.Second
	}
	return &Prober{
		coord:    coord,
		probe:    probe,
		interval: interval,
		log:      log.With().Str("component", "prober").Logger(),
	}
}

// Run probes once immediately and then on every tick until the context
// is cancelled. Drains triggered by an edge run inline on this
// goroutine, so a long drain delays the next probe rather than piling
// up concurrent drains.
func (p *Prober) Run(ctx context.Context) error {
	p.report(ctx)

	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			p.report(ctx)
		}
	}
}

func (p *Prober) report(ctx context.Context) {
	online := p.probe(ctx)
	if err := p.coord.SetOnline(ctx, online); err != nil {
		p.log.Warn().Err(err).Msg("drain after connectivity change failed")
	}
}
