// Package dispatch decides whether a transcription request is answered
// inline or admitted as an async job, based on a probe of the media.
package dispatch

import (
	"context"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/openscribe/transcriber/internal/media"
	"github.com/openscribe/transcriber/internal/selector"
	"github.com/openscribe/transcriber/pkg/log"
)

const probeCacheTTL = 10 * time.Minute

type Route int

const (
	RouteInline Route = iota
	RouteAsync
)

func (r Route) String() string {
	if r == RouteInline {
		return "inline"
	}
	return "async"
}

// Prober is the slice of the capture capability the policy needs.
type Prober interface {
	Probe(ctx context.Context, ref media.Ref) (media.Probe, error)
}

// ProbeCache persists recent probe results across requests and restarts.
type ProbeCache interface {
	GetProbe(ctx context.Context, mediaKey string, now time.Time) (media.Probe, bool, error)
	PutProbe(ctx context.Context, mediaKey string, probe media.Probe, expiresAt time.Time) error
}

// Policy routes requests. Anything whose cost cannot be bounded up front
// goes async; only provably cheap work runs inline.
type Policy struct {
	prober    Prober
	cache     ProbeCache // nil disables caching
	inlineMax time.Duration
	group     singleflight.Group
}

func NewPolicy(prober Prober, cache ProbeCache, inlineMax time.Duration) *Policy {
	return &Policy{
		prober:    prober,
		cache:     cache,
		inlineMax: inlineMax,
	}
}

// Route probes the media and picks inline or async:
//   - probe failure or unknown duration routes async, never inline;
//   - a YouTube video whose caption tracks can serve the request is inline
//     regardless of length; tracks that would still force a recognition run
//     (only a third-language track exists) do not bypass the duration gate;
//   - otherwise inline only when the duration fits the configured ceiling.
func (p *Policy) Route(ctx context.Context, req selector.Request) Route {
	probe, err := p.probeOnce(ctx, req.Media)
	if err != nil {
		log.Debug("Probe of %s failed (%v), routing async", req.Media.Key(), err)
		return RouteAsync
	}

	if req.Media.Platform() == media.PlatformYouTube && selector.ServesCaptions(probe, req.TranslateTo) {
		return RouteInline
	}
	if probe.Duration <= 0 {
		return RouteAsync
	}
	if probe.Duration <= p.inlineMax.Seconds() {
		return RouteInline
	}
	return RouteAsync
}

// probeOnce collapses concurrent probes of the same media into one call
// and serves repeats from the cache.
func (p *Policy) probeOnce(ctx context.Context, ref media.Ref) (media.Probe, error) {
	key := ref.Key()

	if p.cache != nil {
		if cached, ok, err := p.cache.GetProbe(ctx, key, time.Now()); err == nil && ok {
			return cached, nil
		} else if err != nil {
			log.Warn("Probe cache read for %s failed: %v", key, err)
		}
	}

	value, err, _ := p.group.Do(key, func() (any, error) {
		probe, err := p.prober.Probe(ctx, ref)
		if err != nil {
			return nil, err
		}
		if p.cache != nil {
			if err := p.cache.PutProbe(ctx, key, probe, time.Now().Add(probeCacheTTL)); err != nil {
				log.Warn("Probe cache write for %s failed: %v", key, err)
			}
		}
		return probe, nil
	})
	if err != nil {
		return media.Probe{}, err
	}
	return value.(media.Probe), nil
}
