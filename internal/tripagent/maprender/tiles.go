package maprender

import (
	"context"
	"errors"
	"fmt"
	"io"
	"math"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/capsule-io/timelapse-trip/internal/pkg/metrics"
)

const tileSize = 256

type tileKey struct {
	Z, X, Y int
}

// tileXY returns the fractional slippy-map tile coordinates of a position.
func tileXY(lat, lon float64, zoom int) (x, y float64) {
	n := math.Exp2(float64(zoom))
	x = (lon + 180) / 360 * n
	latRad := lat * math.Pi / 180
	y = (1 - math.Log(math.Tan(latRad)+1/math.Cos(latRad))/math.Pi) / 2 * n
	return x, y
}

// errNoTile marks tiles the server does not have. They are not retried.
var errNoTile = errors.New("tile not available")

type tileFetcher struct {
	urlTemplate string
	userAgent   string
	client      *http.Client
	cache       *lru.Cache[tileKey, []byte]

	retries       uint64
	retryInterval time.Duration
}

func newTileFetcher(urlTemplate, userAgent string, cacheSize int, client *http.Client) (*tileFetcher, error) {
	cache, err := lru.New[tileKey, []byte](cacheSize)
	if err != nil {
		return nil, fmt.Errorf("failed to create tile cache: %w", err)
	}
	return &tileFetcher{
		urlTemplate:   urlTemplate,
		userAgent:     userAgent,
		client:        client,
		cache:         cache,
		retries:       3,
		retryInterval: 500 * time.Millisecond,
	}, nil
}

func (f *tileFetcher) url(k tileKey) string {
	return strings.NewReplacer(
		"{z}", strconv.Itoa(k.Z),
		"{x}", strconv.Itoa(k.X),
		"{y}", strconv.Itoa(k.Y),
	).Replace(f.urlTemplate)
}

// fetch returns the encoded tile image, from the cache when possible.
func (f *tileFetcher) fetch(ctx context.Context, k tileKey) ([]byte, error) {
	if data, ok := f.cache.Get(k); ok {
		metrics.MapTilesTotal.WithLabelValues("hit").Inc()
		return data, nil
	}

	b := backoff.NewExponentialBackOff(backoff.WithInitialInterval(f.retryInterval))
	data, err := backoff.RetryWithData(func() ([]byte, error) {
		return f.get(ctx, k)
	}, backoff.WithContext(backoff.WithMaxRetries(b, f.retries), ctx))
	if err != nil {
		metrics.MapTilesTotal.WithLabelValues("error").Inc()
		return nil, err
	}

	metrics.MapTilesTotal.WithLabelValues("fetched").Inc()
	f.cache.Add(k, data)
	return data, nil
}

func (f *tileFetcher) get(ctx context.Context, k tileKey) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, f.url(k), nil)
	if err != nil {
		return nil, backoff.Permanent(err)
	}
	if f.userAgent != "" {
		req.Header.Set("User-Agent", f.userAgent)
	}

	resp, err := f.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusNotFound:
		return nil, backoff.Permanent(fmt.Errorf("%w: %d/%d/%d", errNoTile, k.Z, k.X, k.Y))
	case resp.StatusCode != http.StatusOK:
		return nil, fmt.Errorf("tile server returned %s", resp.Status)
	}
	return io.ReadAll(resp.Body)
}
