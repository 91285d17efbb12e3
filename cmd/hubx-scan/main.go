// Copyright 2024 The fximage Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Command hubx-scan discovers line-scan detectors on the local network.
package main // import "github.com/fximage/hubx/cmd/hubx-scan"

import (
	"flag"
	"fmt"
	"log"
	"os"
	"text/tabwriter"
	"time"

	"github.com/fximage/hubx/adaptor"
	"github.com/fximage/hubx/session"
)

func main() {
	var (
		ip     = flag.String("ip", "0.0.0.0", "local adapter IP to scan through")
		window = flag.Duration("window", 2*time.Second, "discovery response window")
	)

	log.SetPrefix("hubx-scan: ")
	log.SetFlags(0)

	flag.Parse()

	err := run(*ip, *window)
	if err != nil {
		log.Fatalf("%+v", err)
	}
}

func run(ip string, window time.Duration) error {
	dets, err := session.Discover(ip, adaptor.WithWindow(window))
	if err != nil {
		return fmt.Errorf("could not discover detectors: %w", err)
	}

	if len(dets) == 0 {
		log.Printf("no detector found on %s", ip)
		return nil
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 8, 2, ' ', 0)
	fmt.Fprintln(w, "MAC\tIP\tCMD\tIMG\tSERIAL\tPIXELS\tMODULES\tDEPTH\tFW")
	for _, det := range dets {
		fmt.Fprintf(w, "%s\t%s\t%d\t%d\t%s\t%d\t%d\t%d\t0x%04x\n",
			det.MACString(), det.IP, det.CmdPort, det.ImgPort,
			det.Serial, det.PixelCount, det.ModuleCount, det.PixelDepth,
			det.Firmware,
		)
	}
	return w.Flush()
}
