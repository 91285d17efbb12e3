// Copyright 2024 The fximage Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Command hubx-ctl is an interactive shell to inspect and tune one
// detector: parameter reads and writes, system operations, telemetry.
package main // import "github.com/fximage/hubx/cmd/hubx-ctl"

import (
	"flag"
	"fmt"
	"io"
	"log"
	"os"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/fximage/hubx"
	"github.com/fximage/hubx/adaptor"
	"github.com/fximage/hubx/control"
	"github.com/fximage/hubx/session"
	"github.com/fximage/hubx/wire"
	"github.com/peterh/liner"
)

var params = map[string]wire.Param{
	"int-time":       wire.ParamIntegrationTime,
	"non-int-time":   wire.ParamNonIntTime,
	"op-mode":        wire.ParamOperationMode,
	"dm-gain":        wire.ParamDMGain,
	"channel":        wire.ParamChannelConfig,
	"gain-enable":    wire.ParamEnableGain,
	"offset-enable":  wire.ParamEnableOffset,
	"base-enable":    wire.ParamEnableBaseline,
	"baseline":       wire.ParamBaselineValue,
	"output-scale":   wire.ParamOutputScale,
	"ltrig-mode":     wire.ParamLineTriggerMode,
	"ltrig-enable":   wire.ParamLineTriggerEnable,
	"ftrig-mode":     wire.ParamFrameTriggerMode,
	"ftrig-enable":   wire.ParamFrameTriggerEnable,
	"pixel-count":    wire.ParamPixelCount,
	"pixel-size":     wire.ParamPixelSize,
	"pixel-depth":    wire.ParamPixelDepth,
	"gcu-firmware":   wire.ParamGCUFirmware,
	"dm-firmware":    wire.ParamDMFirmware,
	"led":            wire.ParamLED,
	"energy-mode":    wire.ParamEnergyMode,
	"gain-table":     wire.ParamGainTableID,
	"mtu":            wire.ParamMTUSize,
	"test-pattern":   wire.ParamTestPattern,
	"heartbeat-freq": wire.ParamHeartbeatPeriod,
}

var ops = map[string]wire.Param{
	"init":       wire.ParamLoadSettings,
	"save":       wire.ParamSaveSettings,
	"restore":    wire.ParamLoadDefaults,
	"frame-trig": wire.ParamSendFrameTrigger,
	"load-gain":  wire.ParamLoadGain,
	"reset-gain": wire.ParamResetGain,
}

func main() {
	var (
		ip      = flag.String("ip", "0.0.0.0", "local adapter IP")
		history = flag.String("history", ".hubx-ctl.history", "history file")
	)

	log.SetPrefix("hubx-ctl: ")
	log.SetFlags(0)

	flag.Parse()

	err := run(*ip, *history)
	if err != nil && err != io.EOF {
		log.Fatalf("%+v", err)
	}
}

type shell struct {
	ip   string
	dets []hubx.Detector
	ch   *control.Channel
}

func run(ip, history string) error {
	term := liner.NewLiner()
	defer term.Close()

	term.SetCtrlCAborts(true)
	if f, err := os.Open(history); err == nil {
		_, _ = term.ReadHistory(f)
		f.Close()
	}
	defer func() {
		f, err := os.Create(history)
		if err != nil {
			log.Printf("could not save history: %+v", err)
			return
		}
		defer f.Close()
		_, _ = term.WriteHistory(f)
	}()

	sh := &shell{ip: ip}
	defer sh.closeChannel()

	for {
		line, err := term.Prompt("hubx> ")
		if err != nil {
			if err == liner.ErrPromptAborted {
				continue
			}
			return err
		}

		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		term.AppendHistory(line)

		quit, err := sh.dispatch(line)
		if err != nil {
			log.Printf("%+v", err)
		}
		if quit {
			return nil
		}
	}
}

func (sh *shell) dispatch(line string) (quit bool, err error) {
	args := strings.Fields(line)
	switch args[0] {
	case "quit", "exit":
		return true, nil
	case "help":
		sh.help()
		return false, nil
	case "discover":
		return false, sh.discover()
	case "open":
		return false, sh.open(args[1:])
	case "close":
		sh.closeChannel()
		return false, nil
	case "read":
		return false, sh.read(args[1:])
	case "write":
		return false, sh.write(args[1:])
	case "operate":
		return false, sh.operate(args[1:])
	case "serial":
		return false, sh.serial(args[1:])
	case "params":
		sh.listParams()
		return false, nil
	default:
		return false, fmt.Errorf("unknown command %q (try help)", args[0])
	}
}

func (sh *shell) help() {
	fmt.Println(`commands:
  discover                    scan for detectors
  open <index>                open the control channel to a detector
  close                       close the control channel
  read <param> [module]       read a parameter
  write <param> <value> [module]
  operate <op>                run a system operation (init, save, restore, ...)
  serial [module]             read the GCU (or DM) serial number
  params                      list known parameter names
  quit`)
}

func (sh *shell) discover() error {
	dets, err := session.Discover(sh.ip, adaptor.WithWindow(2*time.Second))
	if err != nil {
		return err
	}
	sh.dets = dets
	for i, det := range dets {
		fmt.Printf("%3d: %v\n", i, det)
	}
	if len(dets) == 0 {
		fmt.Println("no detector found")
	}
	return nil
}

func (sh *shell) open(args []string) error {
	if len(args) != 1 {
		return fmt.Errorf("usage: open <index>")
	}
	idx, err := strconv.Atoi(args[0])
	if err != nil || idx < 0 || idx >= len(sh.dets) {
		return fmt.Errorf("invalid detector index %q (run discover first)", args[0])
	}

	sh.closeChannel()
	ch := control.NewChannel(printSink{})
	if err := ch.Open(sh.dets[idx]); err != nil {
		return err
	}
	sh.ch = ch
	fmt.Printf("opened %v\n", sh.dets[idx])
	return nil
}

func (sh *shell) closeChannel() {
	if sh.ch != nil {
		sh.ch.Close()
		sh.ch = nil
	}
}

func (sh *shell) channel() (*control.Channel, error) {
	if sh.ch == nil {
		return nil, fmt.Errorf("no open channel (run open <index>)")
	}
	return sh.ch, nil
}

func (sh *shell) read(args []string) error {
	ch, err := sh.channel()
	if err != nil {
		return err
	}
	if len(args) < 1 {
		return fmt.Errorf("usage: read <param> [module]")
	}

	p, ok := params[args[0]]
	if !ok {
		return fmt.Errorf("unknown parameter %q", args[0])
	}
	module, err := moduleArg(args, 1)
	if err != nil {
		return err
	}

	val, rc := ch.Read(p, module)
	if rc != control.OK {
		return fmt.Errorf("read %s failed (rc=%d)", args[0], rc)
	}
	fmt.Printf("%s = %d\n", args[0], val)
	return nil
}

func (sh *shell) write(args []string) error {
	ch, err := sh.channel()
	if err != nil {
		return err
	}
	if len(args) < 2 {
		return fmt.Errorf("usage: write <param> <value> [module]")
	}

	p, ok := params[args[0]]
	if !ok {
		return fmt.Errorf("unknown parameter %q", args[0])
	}
	val, err := strconv.ParseUint(args[1], 0, 64)
	if err != nil {
		return fmt.Errorf("invalid value %q", args[1])
	}
	module, err := moduleArg(args, 2)
	if err != nil {
		return err
	}

	if rc := ch.Write(p, val, module); rc != control.OK {
		return fmt.Errorf("write %s failed (rc=%d)", args[0], rc)
	}
	fmt.Println("ok")
	return nil
}

func (sh *shell) operate(args []string) error {
	ch, err := sh.channel()
	if err != nil {
		return err
	}
	if len(args) != 1 {
		return fmt.Errorf("usage: operate <op>")
	}

	p, ok := ops[args[0]]
	if !ok {
		return fmt.Errorf("unknown operation %q", args[0])
	}
	if rc := ch.Operate(p, 0); rc != control.OK {
		return fmt.Errorf("operate %s failed (rc=%d)", args[0], rc)
	}
	fmt.Println("ok")
	return nil
}

func (sh *shell) serial(args []string) error {
	ch, err := sh.channel()
	if err != nil {
		return err
	}

	p := wire.ParamGCUSerial
	module, err := moduleArg(args, 0)
	if err != nil {
		return err
	}
	if len(args) > 0 {
		p = wire.ParamDMSerial
	}

	sn, rc := ch.ReadString(p, module)
	if rc != control.OK {
		return fmt.Errorf("serial read failed (rc=%d)", rc)
	}
	fmt.Printf("serial = %q\n", sn)
	return nil
}

func (sh *shell) listParams() {
	names := make([]string, 0, len(params))
	for name := range params {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		fmt.Println("  " + name)
	}
}

func moduleArg(args []string, i int) (uint8, error) {
	if len(args) <= i {
		return 0, nil
	}
	v, err := strconv.ParseUint(args[i], 0, 8)
	if err != nil {
		return 0, fmt.Errorf("invalid module index %q", args[i])
	}
	return uint8(v), nil
}

// printSink relays asynchronous channel reports to the terminal.
type printSink struct{}

func (printSink) OnError(id uint32, msg string) {
	log.Printf("error %d: %s", id, msg)
}

func (printSink) OnEvent(id uint32, value float32) {
	switch id {
	case hubx.EventTemperature:
		log.Printf("temperature: %.1f C", value)
	case hubx.EventHumidity:
		log.Printf("humidity: %.1f %%", value)
	}
}
