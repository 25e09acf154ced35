package session

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	utilerrors "k8s.io/apimachinery/pkg/util/errors"
	"k8s.io/utils/clock"

	"github.com/capsule-io/timelapse-trip/internal/pkg/metrics"
	"github.com/capsule-io/timelapse-trip/pkg/log"
)

// DefaultMinFrames is the smallest session worth assembling, five minutes at
// one frame per second.
const DefaultMinFrames = 300

// Archive reasons.
const (
	ReasonTooShort = "too_short"
	ReasonDone     = "done"
	ReasonFailed   = "failed"
)

// Layout is the filesystem layout the agent owns.
type Layout struct {
	// CaptureRoot receives one directory per session from the capture process.
	CaptureRoot string
	// WorkRoot holds accepted sessions waiting for assembly.
	WorkRoot string
	// ArchiveRoot keeps rejected and finished sessions. Nothing there is deleted.
	ArchiveRoot string
	// ResultsRoot receives <session>/video.mp4.
	ResultsRoot string

	Naming    FrameNaming
	MinFrames int
}

// ResultPath returns where the video of the named session is written.
func (l Layout) ResultPath(name string) string {
	return filepath.Join(l.ResultsRoot, name, "video.mp4")
}

// Verdict is the admission decision for one session.
type Verdict struct {
	Session  *Session
	Accepted bool
	Reason   string
}

// Admission triages closed capture sessions.
type Admission struct {
	layout Layout
	clock  clock.PassiveClock
	log    log.Logger
}

func NewAdmission(layout Layout, clk clock.PassiveClock) *Admission {
	if layout.MinFrames <= 0 {
		layout.MinFrames = DefaultMinFrames
	}
	layout.Naming = layout.Naming.withDefaults()
	return &Admission{
		layout: layout,
		clock:  clk,
		log:    log.WithName("admission"),
	}
}

func (a *Admission) Layout() Layout {
	return a.layout
}

// Inspect returns the verdict for every session in the capture root, oldest
// first, without moving anything.
func (a *Admission) Inspect() ([]Verdict, error) {
	found, err := a.list(a.layout.CaptureRoot)
	if err != nil {
		return nil, err
	}

	verdicts := make([]Verdict, 0, found.Len())
	for _, s := range found.All() {
		v := Verdict{Session: s, Accepted: true}
		if s.Len() < a.layout.MinFrames {
			v.Accepted = false
			v.Reason = ReasonTooShort
		}
		verdicts = append(verdicts, v)
	}
	return verdicts, nil
}

// Scan triages every session in the capture root. Rejected sessions go to
// the archive, accepted ones to the work root, so a second Scan finds
// nothing. It must only run while no capture process is live.
func (a *Admission) Scan() (*Sessions, error) {
	verdicts, err := a.Inspect()
	if err != nil {
		return nil, err
	}

	accepted := NewSessions()
	var errs []error
	for _, v := range verdicts {
		s := v.Session
		if !v.Accepted {
			a.log.Warn("Session too short, archiving", "session", s.Name, "frames", s.Len(), "min", a.layout.MinFrames)
			if _, err := a.Archive(s, v.Reason); err != nil {
				errs = append(errs, err)
				continue
			}
			metrics.SessionsTotal.WithLabelValues("rejected").Inc()
			continue
		}

		if err := a.move(s, filepath.Join(a.layout.WorkRoot, s.Name)); err != nil {
			errs = append(errs, err)
			continue
		}
		metrics.SessionsTotal.WithLabelValues("accepted").Inc()
		a.log.Info("Session accepted", "session", s.Name, "frames", s.Len())
		accepted.Add(s)
	}

	return accepted, utilerrors.NewAggregate(errs)
}

// Pending returns the sessions already accepted and not yet assembled.
func (a *Admission) Pending() (*Sessions, error) {
	return a.list(a.layout.WorkRoot)
}

// Archive moves the session directory into the archive and returns its new
// location.
func (a *Admission) Archive(s *Session, reason string) (string, error) {
	stamp := a.clock.Now().Format(DefaultFrameFormat)
	dst := filepath.Join(a.layout.ArchiveRoot, s.Name+"-"+stamp)
	if _, err := os.Stat(dst); err == nil {
		dst = dst + "-" + reason
	}

	if err := a.move(s, dst); err != nil {
		return "", err
	}
	a.log.Info("Session archived", "session", s.Name, "reason", reason, "path", dst)
	return dst, nil
}

// Load reads a single session directory with the configured naming.
func (a *Admission) Load(dir string) (*Session, error) {
	s, ignored, err := Load(dir, a.layout.Naming)
	if err != nil {
		return nil, err
	}
	if len(ignored) > 0 {
		a.log.Debug("Ignoring non-frame files", "session", s.Name, "files", ignored)
	}
	return s, nil
}

func (a *Admission) list(root string) (*Sessions, error) {
	out := NewSessions()

	entries, err := os.ReadDir(root)
	if errors.Is(err, os.ErrNotExist) {
		return out, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to list %s: %w", root, err)
	}

	for _, e := range entries {
		if !e.IsDir() {
			continue
		}
		s, err := a.Load(filepath.Join(root, e.Name()))
		if err != nil {
			a.log.Error(err, "Skipping unreadable session", "session", e.Name())
			continue
		}
		out.Add(s)
	}

	out.Sort()
	return out, nil
}

// move transfers ownership of the session by renaming its directory, and
// rewrites the frame paths.
func (a *Admission) move(s *Session, dst string) error {
	if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
		return fmt.Errorf("failed to create %s: %w", filepath.Dir(dst), err)
	}
	if err := os.Rename(s.Dir, dst); err != nil {
		return fmt.Errorf("failed to move session %s: %w", s.Name, err)
	}

	for i := range s.Frames {
		s.Frames[i].Path = filepath.Join(dst, filepath.Base(s.Frames[i].Path))
	}
	s.Dir = dst
	return nil
}
