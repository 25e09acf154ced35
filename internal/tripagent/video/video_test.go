package video

import (
	"context"
	"errors"
	"image"
	"iter"
	"path/filepath"
	"testing"

	"gocv.io/x/gocv"
)

type fakeWriter struct {
	written  int
	closed   int
	failAt   int
	closeErr error
}

func (w *fakeWriter) Write(gocv.Mat) error {
	if w.failAt > 0 && w.written+1 == w.failAt {
		return errors.New("disk full")
	}
	w.written++
	return nil
}

func (w *fakeWriter) Close() error {
	w.closed++
	return w.closeErr
}

func openFake(w *fakeWriter) OpenFunc {
	return func(string, float64, image.Point) (Writer, error) { return w, nil }
}

// frames yields one mat per size; a zero size yields an empty mat.
func frames(sizes ...image.Point) iter.Seq[gocv.Mat] {
	return func(yield func(gocv.Mat) bool) {
		for _, s := range sizes {
			m := gocv.NewMat()
			if s != (image.Point{}) {
				m.Close()
				m = gocv.NewMatWithSize(s.Y, s.X, gocv.MatTypeCV8UC3)
			}
			if !yield(m) {
				return
			}
		}
	}
}

func TestAssemble(t *testing.T) {
	size := image.Pt(64, 48)
	other := image.Pt(32, 32)

	tests := []struct {
		name        string
		sizes       []image.Point
		failAt      int
		wantResult  Result
		wantErr     bool
		wantWritten int
	}{
		{"all frames", []image.Point{size, size, size}, 0, Result{Written: 3}, false, 3},
		{"mismatched size skipped", []image.Point{size, other, size}, 0, Result{Written: 2, Skipped: 1}, false, 2},
		{"empty frame skipped", []image.Point{{}, size}, 0, Result{Written: 1, Skipped: 1}, false, 1},
		{"no frames", nil, 0, Result{}, false, 0},
		{"write error", []image.Point{size, size, size}, 2, Result{Written: 1}, true, 1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := &fakeWriter{failAt: tt.failAt}
			a := NewAssembler(0, openFake(w))

			res, err := a.Assemble(context.Background(), "out.mp4", size, frames(tt.sizes...))
			if (err != nil) != tt.wantErr {
				t.Fatalf("err = %v, wantErr %v", err, tt.wantErr)
			}
			if res != tt.wantResult {
				t.Errorf("result = %+v, want %+v", res, tt.wantResult)
			}
			if w.written != tt.wantWritten {
				t.Errorf("writer got %d frames, want %d", w.written, tt.wantWritten)
			}
			if w.closed != 1 {
				t.Errorf("writer closed %d times, want 1", w.closed)
			}
		})
	}
}

func TestAssembleStopsOnCancel(t *testing.T) {
	size := image.Pt(8, 8)
	ctx, cancel := context.WithCancel(context.Background())

	seq := func(yield func(gocv.Mat) bool) {
		for i := 0; i < 10; i++ {
			if i == 3 {
				cancel()
			}
			if !yield(gocv.NewMatWithSize(size.Y, size.X, gocv.MatTypeCV8UC3)) {
				return
			}
		}
	}

	w := &fakeWriter{}
	res, err := NewAssembler(10, openFake(w)).Assemble(ctx, "out.mp4", size, seq)
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("err = %v, want context.Canceled", err)
	}
	if res.Written != 3 {
		t.Errorf("written = %d, want 3", res.Written)
	}
	if w.closed != 1 {
		t.Errorf("writer closed %d times, want 1", w.closed)
	}
}

func TestAssembleReportsCloseError(t *testing.T) {
	w := &fakeWriter{closeErr: errors.New("flush failed")}
	_, err := NewAssembler(10, openFake(w)).Assemble(context.Background(), "out.mp4", image.Pt(4, 4), frames())
	if err == nil {
		t.Fatal("expected close error")
	}
}

func TestAssembleOpenError(t *testing.T) {
	open := func(string, float64, image.Point) (Writer, error) { return nil, errors.New("no codec") }
	consumed := 0
	seq := func(yield func(gocv.Mat) bool) { consumed++ }

	if _, err := NewAssembler(10, open).Assemble(context.Background(), "out.mp4", image.Pt(4, 4), seq); err == nil {
		t.Fatal("expected open error")
	}
	if consumed != 0 {
		t.Error("frames consumed although the writer did not open")
	}
}

func TestProbeSize(t *testing.T) {
	path := filepath.Join(t.TempDir(), "frame.jpg")
	m := gocv.NewMatWithSizeFromScalar(gocv.NewScalar(1, 2, 3, 0), 24, 40, gocv.MatTypeCV8UC3)
	defer m.Close()
	if !gocv.IMWrite(path, m) {
		t.Fatal("failed to write fixture")
	}

	got, err := ProbeSize(path)
	if err != nil {
		t.Fatal(err)
	}
	if got != image.Pt(40, 24) {
		t.Errorf("size = %v, want (40,24)", got)
	}

	if _, err := ProbeSize(filepath.Join(t.TempDir(), "missing.jpg")); err == nil {
		t.Error("expected error for a missing frame")
	}
}
