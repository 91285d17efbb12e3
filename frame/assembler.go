// Copyright 2024 The fximage Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package frame

import (
	"fmt"
	"sync"

	"github.com/fximage/hubx"
	"golang.org/x/xerrors"
)

// DefaultLines is the number of lines per frame when none is configured.
const DefaultLines = 1024

// Sink receives completed frames and assembly errors. OnFrame borrows
// the image: the assembler reuses the buffer once OnFrame returns.
type Sink interface {
	OnError(id uint32, msg string)
	OnEvent(id uint32, value uint32)
	OnFrame(img *Image)
}

// Assembler aggregates line payloads into fixed-height frames. At most
// one producer may call AddLine; AddLine contends only with Start and
// Stop.
type Assembler struct {
	mu      sync.Mutex
	lines   int
	cur     int
	running bool
	img     *Image
	sink    Sink
}

// NewAssembler returns an assembler delivering frames of the default
// height to sink.
func NewAssembler(sink Sink) *Assembler {
	return &Assembler{lines: DefaultLines, sink: sink}
}

// Lines returns the configured frame height.
func (asm *Assembler) Lines() int {
	asm.mu.Lock()
	defer asm.mu.Unlock()
	return asm.lines
}

// SetLines configures the frame height. It is an error to change the
// height while the assembler is running.
func (asm *Assembler) SetLines(lines int) error {
	asm.mu.Lock()
	defer asm.mu.Unlock()

	if asm.running {
		asm.report(hubx.ErrFrameBusy, "cannot change lines while running")
		return xerrors.New("frame: cannot change lines while running")
	}
	if lines <= 0 {
		return xerrors.Errorf("frame: invalid line count %d", lines)
	}
	asm.lines = lines
	return nil
}

// Running reports whether the assembler holds an active frame buffer.
func (asm *Assembler) Running() bool {
	asm.mu.Lock()
	defer asm.mu.Unlock()
	return asm.running
}

// Start allocates the frame buffer for the given line width and pixel
// depth. Starting a running assembler is a no-op.
func (asm *Assembler) Start(width, depth int) error {
	asm.mu.Lock()
	defer asm.mu.Unlock()

	if asm.running {
		return nil
	}

	img, err := NewImage(width, asm.lines, depth)
	if err != nil {
		asm.report(hubx.ErrFrameAllocFail, "could not allocate frame buffer")
		return xerrors.Errorf("frame: could not allocate %dx%d@%d frame buffer: %w",
			width, asm.lines, depth, err,
		)
	}

	asm.img = img
	asm.cur = 0
	asm.running = true
	return nil
}

// AddLine appends one line payload at the current row. The payload
// length must equal width*ceil(depth/8); mismatched lines are dropped
// and reported. The line that fills the frame triggers OnFrame, after
// which the buffer is zeroed and reused.
//
// The line identifier is informational: lines are placed in arrival
// order.
func (asm *Assembler) AddLine(payload []byte, lineID uint32) {
	asm.mu.Lock()
	defer asm.mu.Unlock()

	if !asm.running || asm.img == nil {
		return
	}

	row := asm.img.RowSize()
	if len(payload) != row {
		asm.report(hubx.ErrLineLengthMismatch,
			fmt.Sprintf("line %d length mismatch (got=%d, want=%d)", lineID, len(payload), row),
		)
		return
	}

	copy(asm.img.Pix[asm.cur*row:], payload)
	asm.cur++

	if asm.cur >= asm.lines {
		if asm.sink != nil {
			asm.sink.OnFrame(asm.img)
		}
		asm.cur = 0
		asm.img.Clear()
	}
}

// CurrentLine returns the row index the next line lands on.
func (asm *Assembler) CurrentLine() int {
	asm.mu.Lock()
	defer asm.mu.Unlock()
	return asm.cur
}

// Stop releases the frame buffer and returns the assembler to idle.
func (asm *Assembler) Stop() {
	asm.mu.Lock()
	defer asm.mu.Unlock()

	asm.img = nil
	asm.cur = 0
	asm.running = false
}

func (asm *Assembler) report(id uint32, msg string) {
	if asm.sink == nil {
		return
	}
	asm.sink.OnError(id, msg)
}
