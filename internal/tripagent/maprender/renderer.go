package maprender

import (
	"context"
	"fmt"
	"image"
	"image/color"
	"math"
	"net/http"
	"time"

	"gocv.io/x/gocv"
	"golang.org/x/sync/errgroup"

	"github.com/capsule-io/timelapse-trip/internal/tripagent/location"
	"github.com/capsule-io/timelapse-trip/pkg/log"
)

// Map generation modes.
const (
	ModeNone  = "none"
	ModeOSM   = "osm"
	ModeLocal = "local"
)

const DefaultOSMURL = "https://tile.openstreetmap.org/{z}/{x}/{y}.png"

// Renderer draws a map of a track.
type Renderer interface {
	// Render writes a PNG centered on the last point of track to dst, with
	// the earlier points drawn as a line.
	Render(ctx context.Context, track []location.Point, dst string) error
}

type Config struct {
	Mode string
	// URL is the tile template, e.g. http://tiles.local/{z}/{x}/{y}.png.
	URL       string
	Zoom      int
	Size      int
	CacheSize int
	UserAgent string
	Timeout   time.Duration
}

func DefaultConfig() Config {
	return Config{
		Mode:      ModeNone,
		Zoom:      15,
		Size:      400,
		CacheSize: 256,
		UserAgent: "timelapse-trip",
		Timeout:   10 * time.Second,
	}
}

// New returns the renderer for cfg.Mode, or nil for ModeNone.
func New(cfg Config) (Renderer, error) {
	var url string
	switch cfg.Mode {
	case ModeNone, "":
		return nil, nil
	case ModeOSM:
		url = DefaultOSMURL
		if cfg.URL != "" {
			url = cfg.URL
		}
	case ModeLocal:
		if cfg.URL == "" {
			return nil, fmt.Errorf("map mode %q requires a tile url", cfg.Mode)
		}
		url = cfg.URL
	default:
		return nil, fmt.Errorf("unknown map mode %q", cfg.Mode)
	}

	if cfg.Size <= 0 || cfg.Size > 2*tileSize {
		return nil, fmt.Errorf("map size %d out of range (1..%d)", cfg.Size, 2*tileSize)
	}

	fetcher, err := newTileFetcher(url, cfg.UserAgent, cfg.CacheSize, &http.Client{Timeout: cfg.Timeout})
	if err != nil {
		return nil, err
	}
	return &tileRenderer{
		cfg:     cfg,
		fetcher: fetcher,
		log:     log.WithName("maprender"),
	}, nil
}

type tileRenderer struct {
	cfg     Config
	fetcher *tileFetcher
	log     log.Logger
}

var (
	trackColor    = color.RGBA{R: 220, G: 30, B: 30, A: 255}
	positionColor = color.RGBA{R: 30, G: 60, B: 220, A: 255}
	blankColor    = gocv.NewScalar(224, 224, 224, 0)
)

func (r *tileRenderer) Render(ctx context.Context, track []location.Point, dst string) error {
	if len(track) == 0 {
		return fmt.Errorf("empty track")
	}
	here := track[len(track)-1]
	fx, fy := tileXY(here.Lat, here.Lon, r.cfg.Zoom)
	cx, cy := int(math.Floor(fx)), int(math.Floor(fy))

	canvas, err := r.stitch(ctx, cx, cy)
	if err != nil {
		return err
	}
	defer canvas.Close()

	// Canvas pixel of a position: the canvas starts at tile (cx-1, cy-1).
	toPixel := func(p location.Point) image.Point {
		x, y := tileXY(p.Lat, p.Lon, r.cfg.Zoom)
		return image.Pt(int((x-float64(cx-1))*tileSize), int((y-float64(cy-1))*tileSize))
	}

	for i := 1; i < len(track); i++ {
		gocv.Line(&canvas, toPixel(track[i-1]), toPixel(track[i]), trackColor, 3)
	}
	center := toPixel(here)
	gocv.Circle(&canvas, center, 8, positionColor, -1)

	crop := cropAround(center, r.cfg.Size, canvas.Cols(), canvas.Rows())
	region := canvas.Region(crop)
	defer region.Close()

	if !gocv.IMWrite(dst, region) {
		return fmt.Errorf("failed to write map %s", dst)
	}
	return nil
}

// stitch fetches the 3x3 tiles around (cx, cy) and joins them.
func (r *tileRenderer) stitch(ctx context.Context, cx, cy int) (gocv.Mat, error) {
	n := 1 << r.cfg.Zoom
	var data [3][3][]byte

	g, gctx := errgroup.WithContext(ctx)
	for dy := 0; dy < 3; dy++ {
		for dx := 0; dx < 3; dx++ {
			y := cy + dy - 1
			if y < 0 || y >= n {
				continue
			}
			k := tileKey{Z: r.cfg.Zoom, X: ((cx+dx-1)%n + n) % n, Y: y}
			g.Go(func() error {
				b, err := r.fetcher.fetch(gctx, k)
				if err != nil {
					return fmt.Errorf("tile %d/%d/%d: %w", k.Z, k.X, k.Y, err)
				}
				data[dy][dx] = b
				return nil
			})
		}
	}
	if err := g.Wait(); err != nil {
		return gocv.NewMat(), err
	}

	var rows [3]gocv.Mat
	for dy := 0; dy < 3; dy++ {
		var tiles [3]gocv.Mat
		for dx := 0; dx < 3; dx++ {
			tiles[dx] = decodeTile(data[dy][dx])
		}
		rows[dy] = concat(hconcat, tiles[:])
	}
	return concat(vconcat, rows[:]), nil
}

// decodeTile decodes an encoded tile into a 3-channel tile-sized image. A
// missing or undecodable tile becomes a blank one.
func decodeTile(b []byte) gocv.Mat {
	if len(b) > 0 {
		m, err := gocv.IMDecode(b, gocv.IMReadColor)
		if err == nil && m.Cols() == tileSize && m.Rows() == tileSize {
			return m
		}
		m.Close()
	}
	return gocv.NewMatWithSizeFromScalar(blankColor, tileSize, tileSize, gocv.MatTypeCV8UC3)
}

func hconcat(a, b gocv.Mat, dst *gocv.Mat) { gocv.Hconcat(a, b, dst) }
func vconcat(a, b gocv.Mat, dst *gocv.Mat) { gocv.Vconcat(a, b, dst) }

// concat joins mats with join, closing the inputs.
func concat(join func(a, b gocv.Mat, dst *gocv.Mat), mats []gocv.Mat) gocv.Mat {
	out := mats[0]
	for _, m := range mats[1:] {
		next := gocv.NewMat()
		join(out, m, &next)
		out.Close()
		m.Close()
		out = next
	}
	return out
}

func cropAround(center image.Point, size, width, height int) image.Rectangle {
	x0 := min(max(center.X-size/2, 0), width-size)
	y0 := min(max(center.Y-size/2, 0), height-size)
	return image.Rect(x0, y0, x0+size, y0+size)
}
