// Copyright 2024 The fximage Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Command hubx-replay feeds a packet capture of detector image traffic
// through the assembly and correction pipeline, writing the recovered
// frames to disk. It is the offline twin of hubx-daq, useful to debug
// field captures.
package main // import "github.com/fximage/hubx/cmd/hubx-replay"

import (
	"flag"
	"fmt"
	"log"
	"os"
	"path/filepath"

	"github.com/fximage/hubx/correct"
	"github.com/fximage/hubx/frame"
	"github.com/fximage/hubx/wire"
	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"
	"github.com/google/gopacket/pcap"
)

func main() {
	var (
		port   = flag.Int("port", 4001, "image UDP port to extract")
		width  = flag.Int("width", 2048, "pixels per line")
		depth  = flag.Int("depth", 16, "bits per pixel")
		lines  = flag.Int("lines", frame.DefaultLines, "lines per frame")
		header = flag.Bool("header", true, "parse line-packet headers")
		cal    = flag.String("cal", "", "calibration file to apply")
		odir   = flag.String("o", ".", "output directory")
	)

	log.SetPrefix("hubx-replay: ")
	log.SetFlags(0)

	flag.Parse()
	if flag.NArg() != 1 {
		log.Fatalf("usage: hubx-replay [options] capture.pcap")
	}

	err := run(flag.Arg(0), *port, *width, *depth, *lines, *header, *cal, *odir)
	if err != nil {
		log.Fatalf("could not replay capture: %+v", err)
	}
}

func run(fname string, port, width, depth, lines int, header bool, cal, odir string) error {
	handle, err := pcap.OpenOffline(fname)
	if err != nil {
		return fmt.Errorf("could not open capture %q: %w", fname, err)
	}
	defer handle.Close()

	var eng *correct.Engine
	if cal != "" {
		eng, err = correct.LoadEngine(cal)
		if err != nil {
			return fmt.Errorf("could not load calibration: %w", err)
		}
	}

	sink := &frameSaver{dir: odir, eng: eng}
	asm := frame.NewAssembler(sink)
	if err := asm.SetLines(lines); err != nil {
		return fmt.Errorf("could not configure frame height: %w", err)
	}
	if err := asm.Start(width, depth); err != nil {
		return fmt.Errorf("could not start frame assembly: %w", err)
	}
	defer asm.Stop()

	var (
		src      = gopacket.NewPacketSource(handle, handle.LinkType())
		pkts     int
		lineID   uint32
		mismatch int
	)
	for packet := range src.Packets() {
		udpLayer := packet.Layer(layers.LayerTypeUDP)
		if udpLayer == nil {
			continue
		}
		udp := udpLayer.(*layers.UDP)
		if int(udp.DstPort) != port {
			continue
		}

		payload := udp.Payload
		pkts++

		switch {
		case header:
			hdr, err := wire.DecodeLineHeader(payload)
			if err != nil {
				mismatch++
				continue
			}
			asm.AddLine(payload[wire.LineHeaderSize:], uint32(hdr.LineID))
		default:
			asm.AddLine(payload, lineID)
			lineID++
		}
	}

	log.Printf("replayed %d image packets (%d undecodable), %d frames",
		pkts, mismatch, sink.count,
	)
	return nil
}

// frameSaver corrects (when calibrated) and stores every completed
// frame.
type frameSaver struct {
	dir   string
	eng   *correct.Engine
	count int
}

func (w *frameSaver) OnError(id uint32, msg string)   { log.Printf("assembly error %d: %s", id, msg) }
func (w *frameSaver) OnEvent(id uint32, value uint32) {}

func (w *frameSaver) OnFrame(img *frame.Image) {
	if w.eng != nil {
		if err := w.eng.ApplyImage(img); err != nil {
			log.Printf("could not correct frame %d: %+v", w.count, err)
			return
		}
	}

	name := filepath.Join(w.dir, fmt.Sprintf("replay-%06d.raw", w.count))
	if err := os.WriteFile(name, img.Pix, 0644); err != nil {
		log.Printf("could not write frame %d: %+v", w.count, err)
		return
	}
	w.count++
	log.Printf("wrote %s (%dx%d@%d)", name, img.Width, img.Height, img.Depth)
}
