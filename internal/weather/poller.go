package weather

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"k8s.io/klog/v2"
	"k8s.io/utils/clock"

	"github.com/Agrid-Dev/pvmocktat/internal/pv"
	"github.com/Agrid-Dev/pvmocktat/internal/simulator"
)

// Fetcher returns the current weather at a location.
type Fetcher interface {
	Current(ctx context.Context, lat, lon float64) (Reading, error)
}

var ErrNoLocator = errors.New("weather source cannot resolve place names")

// Locator resolves a free-text place to coordinates. *Client is a Locator.
type Locator interface {
	Search(ctx context.Context, query string) (lat, lon float64, err error)
}

// Target is where readings are applied.
type Target interface {
	SetEnvironment(env pv.Environment) error
	QueueEvent(eventType, description string)
}

// Poller applies the weather at a fixed location to a target. On any failure the
// target keeps its last valid environment.
type Poller struct {
	fetcher  Fetcher
	target   Target
	interval time.Duration
	clock    clock.WithTicker

	mu       sync.Mutex
	lat, lon float64
}

func NewPoller(f Fetcher, target Target, lat, lon float64, interval time.Duration, c clock.WithTicker) *Poller {
	if c == nil {
		c = clock.RealClock{}
	}
	return &Poller{fetcher: f, target: target, lat: lat, lon: lon, interval: interval, clock: c}
}

func (p *Poller) Location() (lat, lon float64) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.lat, p.lon
}

// Locate moves the poller to the first place matching query. The fetcher must
// also be a Locator.
func (p *Poller) Locate(ctx context.Context, query string) (lat, lon float64, err error) {
	query = strings.TrimSpace(query)
	if query == "" {
		return 0, 0, fmt.Errorf("%w: empty location", ErrFetch)
	}
	loc, ok := p.fetcher.(Locator)
	if !ok {
		return 0, 0, ErrNoLocator
	}
	if lat, lon, err = loc.Search(ctx, query); err != nil {
		return 0, 0, err
	}
	p.mu.Lock()
	p.lat, p.lon = lat, lon
	p.mu.Unlock()
	klog.InfoS("Weather location changed", "query", query, "lat", lat, "lon", lon)
	return lat, lon, nil
}

// Relocate resolves query and applies the weather there right away.
func (p *Poller) Relocate(ctx context.Context, query string) (Reading, error) {
	if _, _, err := p.Locate(ctx, query); err != nil {
		return Reading{}, err
	}
	return p.Poll(ctx)
}

// Poll fetches once and applies the reading.
func (p *Poller) Poll(ctx context.Context) (Reading, error) {
	lat, lon := p.Location()
	r, err := p.fetcher.Current(ctx, lat, lon)
	if err != nil {
		return Reading{}, err
	}
	env := pv.Environment{Irradiance: r.Irradiance, Temperature: r.Temperature}
	if err := p.target.SetEnvironment(env); err != nil {
		return Reading{}, fmt.Errorf("%w: %w", ErrFetch, err)
	}
	p.target.QueueEvent(simulator.EventWeatherUpdate, fmt.Sprintf("Location: %s | Irr: %g W/m² | Temp: %g°C", r.Location, r.Irradiance, r.Temperature))
	klog.InfoS("Weather applied", "location", r.Location, "irradiance", r.Irradiance, "temperature", r.Temperature)
	return r, nil
}

// Run polls immediately and then every interval until ctx is done.
func (p *Poller) Run(ctx context.Context) error {
	ticker := p.clock.NewTicker(p.interval)
	defer ticker.Stop()

	for {
		if _, err := p.Poll(ctx); err != nil {
			lat, lon := p.Location()
			klog.ErrorS(err, "Weather poll failed, keeping last environment", "lat", lat, "lon", lon)
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C():
		}
	}
}
