package session

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"
)

const (
	DefaultFrameFormat = "2006-01-02_15-04-05"
	DefaultFrameExt    = ".jpg"
)

// Frame is one captured image.
type Frame struct {
	Path string
	Time time.Time
}

// Session is one capture interval stored in its own directory.
type Session struct {
	Name   string
	Dir    string
	Frames []Frame
}

// Len returns the number of frames.
func (s *Session) Len() int {
	return len(s.Frames)
}

// Start returns the time of the first frame, zero for an empty session.
func (s *Session) Start() time.Time {
	if len(s.Frames) == 0 {
		return time.Time{}
	}
	return s.Frames[0].Time
}

// Timestamps returns the ordered frame times.
func (s *Session) Timestamps() []time.Time {
	out := make([]time.Time, len(s.Frames))
	for i, f := range s.Frames {
		out[i] = f.Time
	}
	return out
}

// FrameNaming describes how frame files are named.
type FrameNaming struct {
	Format   string
	Ext      string
	Location *time.Location
}

func (n FrameNaming) withDefaults() FrameNaming {
	if n.Format == "" {
		n.Format = DefaultFrameFormat
	}
	if n.Ext == "" {
		n.Ext = DefaultFrameExt
	}
	if n.Location == nil {
		n.Location = time.Local
	}
	return n
}

// Parse returns the capture time encoded in a frame file name.
func (n FrameNaming) Parse(name string) (time.Time, bool) {
	n = n.withDefaults()
	if !strings.EqualFold(filepath.Ext(name), n.Ext) {
		return time.Time{}, false
	}
	t, err := time.ParseInLocation(n.Format, strings.TrimSuffix(name, filepath.Ext(name)), n.Location)
	if err != nil {
		return time.Time{}, false
	}
	return t, true
}

// Name returns the frame file name for t.
func (n FrameNaming) Name(t time.Time) string {
	n = n.withDefaults()
	return t.In(n.Location).Format(n.Format) + n.Ext
}

// Load reads the frames of the session stored in dir. Files that are not
// frames are returned in ignored.
func Load(dir string, naming FrameNaming) (s *Session, ignored []string, err error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to read session %s: %w", dir, err)
	}

	s = &Session{Name: filepath.Base(dir), Dir: dir}
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		t, ok := naming.Parse(e.Name())
		if !ok {
			ignored = append(ignored, e.Name())
			continue
		}
		s.Frames = append(s.Frames, Frame{Path: filepath.Join(dir, e.Name()), Time: t})
	}

	sort.SliceStable(s.Frames, func(i, j int) bool {
		return s.Frames[i].Time.Before(s.Frames[j].Time)
	})
	return s, ignored, nil
}

// Sessions keeps sessions in processing order with an index by name.
type Sessions struct {
	items []*Session
	index map[string]int
}

func NewSessions() *Sessions {
	return &Sessions{index: make(map[string]int)}
}

// Add appends s, replacing an entry with the same name in place.
func (ss *Sessions) Add(s *Session) {
	if i, ok := ss.index[s.Name]; ok {
		ss.items[i] = s
		return
	}
	ss.index[s.Name] = len(ss.items)
	ss.items = append(ss.items, s)
}

// Get returns the session named name.
func (ss *Sessions) Get(name string) (*Session, bool) {
	i, ok := ss.index[name]
	if !ok {
		return nil, false
	}
	return ss.items[i], true
}

// All returns the sessions in order. The slice must not be modified.
func (ss *Sessions) All() []*Session {
	return ss.items
}

func (ss *Sessions) Len() int {
	return len(ss.items)
}

// Sort orders sessions oldest first: by first frame, then by name.
func (ss *Sessions) Sort() {
	sort.SliceStable(ss.items, func(i, j int) bool {
		a, b := ss.items[i], ss.items[j]
		if !a.Start().Equal(b.Start()) {
			return a.Start().Before(b.Start())
		}
		return a.Name < b.Name
	})
	for i, s := range ss.items {
		ss.index[s.Name] = i
	}
}

// Merge appends every session of other that is not already present.
func (ss *Sessions) Merge(other *Sessions) {
	for _, s := range other.items {
		if _, ok := ss.index[s.Name]; !ok {
			ss.Add(s)
		}
	}
}
