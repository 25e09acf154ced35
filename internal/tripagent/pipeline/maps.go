package pipeline

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/capsule-io/timelapse-trip/internal/tripagent/location"
	"github.com/capsule-io/timelapse-trip/internal/tripagent/progress"
	"github.com/capsule-io/timelapse-trip/internal/tripagent/session"
	"github.com/capsule-io/timelapse-trip/pkg/log"
)

// renderMaps renders one map per frame into <session>/maps and returns the
// written paths by frame index. A frame whose map fails gets none.
func (p *Pipeline) renderMaps(ctx context.Context, s *session.Session, series location.Series, logger log.Logger) map[int]string {
	dir := filepath.Join(s.Dir, mapsDir)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		logger.Error(err, "Failed to create map directory, continuing without maps")
		return nil
	}

	var (
		mu    sync.Mutex
		maps  = make(map[int]string, s.Len())
		done  int
		last  = -1
		total = s.Len()
	)

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(p.cfg.MapWorkers)
	for i, f := range s.Frames {
		track := series.Track(f.Time)
		if len(track) == 0 {
			continue
		}
		dst := filepath.Join(dir, fmt.Sprintf("%06d.png", i))

		g.Go(func() error {
			err := p.Renderer.Render(gctx, track, dst)
			if err != nil && gctx.Err() == nil {
				logger.Warn("Map rendering failed, frame keeps its caption only", "frame", i, "error", err)
			}

			mu.Lock()
			defer mu.Unlock()
			if err == nil {
				maps[i] = dst
			}
			done++
			if pct := progress.MapStage.At(done, total); pct != last {
				p.Reporter.Progress(ctx, pct)
				last = pct
			}
			return nil
		})
	}
	_ = g.Wait()

	logger.Info("Maps rendered", "rendered", len(maps), "frames", total)
	return maps
}
