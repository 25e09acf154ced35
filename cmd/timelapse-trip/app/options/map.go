package options

import (
	"fmt"
	"time"

	"github.com/spf13/pflag"

	"github.com/capsule-io/timelapse-trip/internal/tripagent/maprender"
	"github.com/capsule-io/timelapse-trip/pkg/options"
)

var _ options.IOptions = (*MapOptions)(nil)

// MapOptions configures the map inset drawn on covered sessions.
type MapOptions struct {
	Mode      string        `json:"mode" mapstructure:"mode"`
	URL       string        `json:"url" mapstructure:"url"`
	Zoom      int           `json:"zoom" mapstructure:"zoom"`
	Size      int           `json:"size" mapstructure:"size"`
	CacheSize int           `json:"cache-size" mapstructure:"cache-size"`
	UserAgent string        `json:"user-agent" mapstructure:"user-agent"`
	Timeout   time.Duration `json:"timeout" mapstructure:"timeout"`
}

func NewMapOptions() *MapOptions {
	cfg := maprender.DefaultConfig()
	return &MapOptions{
		Mode:      cfg.Mode,
		URL:       cfg.URL,
		Zoom:      cfg.Zoom,
		Size:      cfg.Size,
		CacheSize: cfg.CacheSize,
		UserAgent: cfg.UserAgent,
		Timeout:   cfg.Timeout,
	}
}

func (o *MapOptions) Validate() []error {
	if o == nil {
		return nil
	}

	var errs []error
	switch o.Mode {
	case maprender.ModeNone, maprender.ModeOSM:
	case maprender.ModeLocal:
		if o.URL == "" {
			errs = append(errs, fmt.Errorf("map.url is required in %q mode", maprender.ModeLocal))
		}
	default:
		errs = append(errs, fmt.Errorf("map.mode must be none, osm or local, got %q", o.Mode))
	}
	if o.Zoom < 0 || o.Zoom > 19 {
		errs = append(errs, fmt.Errorf("map.zoom %d out of range 0-19", o.Zoom))
	}
	if o.Size < 1 || o.Size > 512 {
		errs = append(errs, fmt.Errorf("map.size %d out of range 1-512", o.Size))
	}
	return errs
}

func (o *MapOptions) AddFlags(fs *pflag.FlagSet, prefixes ...string) {
	fs.StringVar(&o.Mode, "map.mode", o.Mode, "Map inset source: none, osm or local.")
	fs.StringVar(&o.URL, "map.url", o.URL, "Tile URL template of the local tile server, e.g. http://tiles.local/{z}/{x}/{y}.png.")
	fs.IntVar(&o.Zoom, "map.zoom", o.Zoom, "Zoom level of the map tiles.")
	fs.IntVar(&o.Size, "map.size", o.Size, "Side in pixels of the rendered map.")
	fs.IntVar(&o.CacheSize, "map.cache-size", o.CacheSize, "Number of tiles kept in memory.")
	fs.StringVar(&o.UserAgent, "map.user-agent", o.UserAgent, "User-Agent sent to the tile server.")
	fs.DurationVar(&o.Timeout, "map.timeout", o.Timeout, "Timeout of one tile request.")
}

func (o *MapOptions) Config() maprender.Config {
	return maprender.Config{
		Mode:      o.Mode,
		URL:       o.URL,
		Zoom:      o.Zoom,
		Size:      o.Size,
		CacheSize: o.CacheSize,
		UserAgent: o.UserAgent,
		Timeout:   o.Timeout,
	}
}
