// Package video encodes a sequence of frames into a video file.
package video

import (
	"context"
	"errors"
	"fmt"
	"image"
	"iter"

	"gocv.io/x/gocv"

	"github.com/capsule-io/timelapse-trip/pkg/log"
)

const (
	DefaultFPS   = 10
	DefaultCodec = "mp4v"
)

// Writer is an open video file.
type Writer interface {
	Write(frame gocv.Mat) error
	Close() error
}

// OpenFunc opens a Writer at path for frames of the given size.
type OpenFunc func(path string, fps float64, size image.Point) (Writer, error)

// OpenFile returns an OpenFunc backed by an OpenCV video writer using codec.
func OpenFile(codec string) OpenFunc {
	return func(path string, fps float64, size image.Point) (Writer, error) {
		vw, err := gocv.VideoWriterFile(path, codec, fps, size.X, size.Y, true)
		if err != nil {
			return nil, fmt.Errorf("failed to open video writer %s: %w", path, err)
		}
		if !vw.IsOpened() {
			vw.Close()
			return nil, fmt.Errorf("video writer %s did not open (codec %s)", path, codec)
		}
		return vw, nil
	}
}

// ProbeSize reads the image at path and returns its dimensions.
func ProbeSize(path string) (image.Point, error) {
	m := gocv.IMRead(path, gocv.IMReadColor)
	defer m.Close()
	if m.Empty() {
		return image.Point{}, fmt.Errorf("failed to read frame %s", path)
	}
	return image.Pt(m.Cols(), m.Rows()), nil
}

// Result counts the frames an assembly consumed.
type Result struct {
	Written int
	Skipped int
}

type Assembler struct {
	FPS  float64
	Open OpenFunc

	log log.Logger
}

func NewAssembler(fps float64, open OpenFunc) *Assembler {
	if fps <= 0 {
		fps = DefaultFPS
	}
	if open == nil {
		open = OpenFile(DefaultCodec)
	}
	return &Assembler{FPS: fps, Open: open, log: log.WithName("video")}
}

// Assemble writes frames to a video at path. Frames that are empty or whose
// size differs from size are skipped. Every frame received is closed, and the
// writer is closed once whatever the outcome. A cancelled ctx stops the
// assembly between frames.
func (a *Assembler) Assemble(ctx context.Context, path string, size image.Point, frames iter.Seq[gocv.Mat]) (res Result, err error) {
	w, err := a.Open(path, a.FPS, size)
	if err != nil {
		return res, err
	}
	defer func() {
		if cerr := w.Close(); cerr != nil {
			err = errors.Join(err, fmt.Errorf("failed to close video %s: %w", path, cerr))
		}
	}()

	for frame := range frames {
		if err = ctx.Err(); err != nil {
			frame.Close()
			return res, err
		}
		if frame.Empty() || frame.Cols() != size.X || frame.Rows() != size.Y {
			a.log.Warn("Skipping frame with unexpected size", "want", size.String(), "got", image.Pt(frame.Cols(), frame.Rows()).String())
			res.Skipped++
			frame.Close()
			continue
		}
		werr := w.Write(frame)
		frame.Close()
		if werr != nil {
			return res, fmt.Errorf("failed to write frame %d: %w", res.Written, werr)
		}
		res.Written++
	}
	return res, nil
}
