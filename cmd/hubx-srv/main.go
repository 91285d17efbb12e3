// Copyright 2024 The fximage Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Command hubx-srv exposes one detector session as a TDAQ run-control
// process: /config discovers, /init connects, /start and /stop drive
// acquisition.
package main // import "github.com/fximage/hubx/cmd/hubx-srv"

import (
	"context"
	"log"
	"os"
	"strconv"

	"github.com/fximage/hubx/session"
	"github.com/go-daq/tdaq"
	"github.com/go-daq/tdaq/flags"
)

func main() {
	cmd := flags.New()

	var (
		localIP = envOr("HUBX_ADAPTER_IP", "0.0.0.0")
		index   = envInt("HUBX_DETECTOR", 0)
		frames  = envInt("HUBX_FRAMES", 0)
	)

	dev := session.NewServer(localIP, index, uint32(frames))

	srv := tdaq.New(cmd, os.Stdout)
	srv.CmdHandle("/config", dev.OnConfig)
	srv.CmdHandle("/init", dev.OnInit)
	srv.CmdHandle("/reset", dev.OnReset)
	srv.CmdHandle("/start", dev.OnStart)
	srv.CmdHandle("/stop", dev.OnStop)
	srv.CmdHandle("/quit", dev.OnQuit)

	err := srv.Run(context.Background())
	if err != nil {
		log.Panicf("error: %+v", err)
	}
}

func envOr(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func envInt(key string, def int) int {
	v, err := strconv.Atoi(os.Getenv(key))
	if err != nil {
		return def
	}
	return v
}
