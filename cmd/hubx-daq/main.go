// Copyright 2024 The fximage Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Command hubx-daq drives a stand-alone acquisition run: it discovers a
// detector, loads or defaults the correction chain, grabs frames to
// disk and records the run statistics.
package main // import "github.com/fximage/hubx/cmd/hubx-daq"

import (
	"context"
	"crypto/tls"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/fximage/hubx"
	"github.com/fximage/hubx/adaptor"
	"github.com/fximage/hubx/correct"
	"github.com/fximage/hubx/frame"
	"github.com/fximage/hubx/runlog"
	"github.com/fximage/hubx/session"
	"github.com/sbinet/pmon"
	mail "gopkg.in/gomail.v2"
)

func main() {
	var (
		ip     = flag.String("ip", "0.0.0.0", "local adapter IP")
		idx    = flag.Int("det", 0, "detector index within the discovery result")
		frames = flag.Uint("frames", 1, "number of frames to grab (0 = until interrupt)")
		lines  = flag.Int("lines", frame.DefaultLines, "lines per frame")
		odir   = flag.String("o", ".", "output directory")
		cal    = flag.String("cal", "", "calibration file to load")
		runs   = flag.String("runlog", "hubx-runs.db", "run-log database")
		header = flag.Bool("header", true, "parse line-packet headers")
		doMon  = flag.Bool("pmon", false, "enable pmon self-monitoring")
		doFreq = flag.Duration("freq", 1*time.Second, "pmon sampling frequency")
	)

	log.SetPrefix("hubx-daq: ")
	log.SetFlags(0)

	flag.Parse()

	err := run(*ip, *idx, uint32(*frames), *lines, *odir, *cal, *runs, *header, *doMon, *doFreq)
	if err != nil {
		log.Fatalf("could not run hubx-daq: %+v", err)
	}
}

func run(ip string, idx int, frames uint32, lines int, odir, cal, runs string, header, doMon bool, freq time.Duration) error {
	if doMon {
		p, err := pmon.Monitor(os.Getpid())
		if err != nil {
			return fmt.Errorf("could not start pmon: %w", err)
		}
		f, err := os.Create(filepath.Join(odir, "hubx-daq-pmon.log"))
		if err != nil {
			return fmt.Errorf("could not create pmon log file: %w", err)
		}
		defer f.Close()
		p.W = f
		p.Freq = freq

		go func() {
			err := p.Run()
			if err != nil {
				log.Printf("could not run pmon: %+v", err)
			}
		}()
		defer func() { _ = p.Kill() }()
	}

	dets, err := session.Discover(ip, adaptor.WithWindow(2*time.Second))
	if err != nil {
		return fmt.Errorf("could not discover detectors: %w", err)
	}
	if idx < 0 || idx >= len(dets) {
		return fmt.Errorf("detector index %d out of range (found=%d)", idx, len(dets))
	}
	det := dets[idx]
	log.Printf("using %v", det)

	rdb, err := runlog.Open(runs)
	if err != nil {
		return fmt.Errorf("could not open run log: %w", err)
	}
	defer rdb.Close()

	sink := &frameWriter{dir: odir, serial: det.Serial}
	ses := session.New(&alerter{}, sink, session.WithLines(lines))
	if err := ses.Open(det); err != nil {
		return fmt.Errorf("could not open session: %w", err)
	}
	defer ses.Close()

	ses.Grabber().SetHeader(header)

	switch {
	case cal != "":
		eng, err := correct.LoadEngine(cal)
		if err != nil {
			return fmt.Errorf("could not load calibration: %w", err)
		}
		if err := ses.SetEngine(eng); err != nil {
			return fmt.Errorf("could not attach engine: %w", err)
		}
		log.Printf("loaded calibration from %q", cal)
	default:
		eng, err := correct.NewEngine(int(det.PixelCount), lines, int(det.PixelDepth))
		if err != nil {
			return fmt.Errorf("could not create engine: %w", err)
		}
		if err := ses.SetEngine(eng); err != nil {
			return fmt.Errorf("could not attach engine: %w", err)
		}
		log.Printf("running with uncalibrated defaults")
	}

	rec := runlog.NewRun(det.Serial)
	if err := ses.StartGrab(frames); err != nil {
		return fmt.Errorf("could not start acquisition: %w", err)
	}

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt)
	defer signal.Stop(stop)

	tick := time.NewTicker(100 * time.Millisecond)
	defer tick.Stop()
loop:
	for {
		select {
		case <-stop:
			log.Printf("interrupted")
			break loop
		case <-tick.C:
			if !ses.Grabber().IsGrabbing() {
				break loop
			}
		}
	}
	ses.StopGrab()

	st := ses.Grabber().Stats()
	rec.Stopped = time.Now().UTC()
	rec.Frames = uint64(sink.count)
	rec.Packets = st.PacketsReceived
	rec.Lost = st.PacketsLost
	rec.Lines = st.LinesReceived
	if err := rdb.Record(context.Background(), rec); err != nil {
		return fmt.Errorf("could not record run: %w", err)
	}

	log.Printf("run %s: frames=%d packets=%d lost=%d lines=%d",
		rec.ID, rec.Frames, rec.Packets, rec.Lost, rec.Lines,
	)
	return nil
}

// frameWriter stores each corrected frame under dir with a small text
// header in front of the raw pixel data.
type frameWriter struct {
	dir    string
	serial string
	count  int
}

func (w *frameWriter) OnError(id uint32, msg string)   { log.Printf("image error %d: %s", id, msg) }
func (w *frameWriter) OnEvent(id uint32, value uint32) {}

func (w *frameWriter) OnFrame(img *frame.Image) {
	name := filepath.Join(w.dir, fmt.Sprintf("frame-%06d.fxi", w.count))
	if err := writeFrame(name, img, w.serial); err != nil {
		log.Printf("could not write frame %d: %+v", w.count, err)
		return
	}
	w.count++
	log.Printf("wrote %s (%dx%d@%d)", name, img.Width, img.Height, img.Depth)
}

func writeFrame(name string, img *frame.Image, serial string) error {
	f, err := os.Create(name)
	if err != nil {
		return fmt.Errorf("could not create frame file: %w", err)
	}
	defer f.Close()

	var hdr strings.Builder
	hdr.WriteString("FXIMAGE\n")
	hdr.WriteString("Width=" + strconv.Itoa(img.Width) + "\n")
	hdr.WriteString("Height=" + strconv.Itoa(img.Height) + "\n")
	hdr.WriteString("Depth=" + strconv.Itoa(img.Depth) + "\n")
	hdr.WriteString("SerialNum=" + serial + "\n")
	hdr.WriteString("DateTime=" + time.Now().Format("2006-01-02 15:04:05") + "\n")
	hdr.WriteString("DATA_START\n")

	if _, err := f.WriteString(hdr.String()); err != nil {
		return fmt.Errorf("could not write frame header: %w", err)
	}
	if _, err := f.Write(img.Pix); err != nil {
		return fmt.Errorf("could not write frame data: %w", err)
	}
	return f.Close()
}

// alerter logs command-path reports and mails out heartbeat failures.
type alerter struct{}

func (a *alerter) OnEvent(id uint32, value float32) {
	switch id {
	case hubx.EventTemperature:
		log.Printf("temperature: %.1f C", value)
	case hubx.EventHumidity:
		log.Printf("humidity: %.1f %%", value)
	}
}

func (a *alerter) OnError(id uint32, msg string) {
	log.Printf("command error %d: %s", id, msg)
	if id == hubx.ErrHeartbeatFail || id == hubx.ErrHeartbeatStopBad {
		alertMail(id, msg)
	}
}

var (
	alertMailUsr  = os.Getenv("MAIL_USERNAME")
	alertMailPwd  = os.Getenv("MAIL_PASSWORD")
	alertMailSrv  = os.Getenv("MAIL_SERVER")
	alertMailPort = atoi(os.Getenv("MAIL_PORT"))
	alertMailTgts = strings.Split(os.Getenv("MAIL_TGTS"), ",")
)

func alertMail(id uint32, reason string) {
	if alertMailUsr == "" || alertMailPwd == "" ||
		alertMailSrv == "" || alertMailPort == 0 ||
		len(alertMailTgts) == 0 {
		log.Printf("could not send mail alert: missing credentials")
		return
	}

	msg := mail.NewMessage()
	msg.SetHeader("From", alertMailUsr)
	msg.SetHeader("Bcc", alertMailTgts...)
	msg.SetHeader("Subject", fmt.Sprintf("[hubx-daq] detector alert: error %d", id))
	msg.SetBody("text/plain", fmt.Sprintf("error: %d\nreason: %s\ntime: %v",
		id, reason, time.Now(),
	))

	dial := mail.NewDialer(alertMailSrv, alertMailPort, alertMailUsr, alertMailPwd)
	dial.TLSConfig = &tls.Config{
		InsecureSkipVerify: true,
	}
	err := dial.DialAndSend(msg)
	if err != nil {
		log.Printf("could not send mail alert: %+v", err)
	}
}

func atoi(s string) int {
	v, err := strconv.Atoi(s)
	if err != nil {
		return 0
	}
	return v
}
