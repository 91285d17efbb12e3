// Copyright 2024 The fximage Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package adaptor discovers detectors on the local network and
// reconfigures their endpoints.
//
// Discovery broadcasts the ASCII datagram DISCOVER_DETECTOR to the
// command port and collects device-info replies within a fixed window,
// deduplicating by MAC address. Configuration and restore use the same
// broadcast channel, addressing one device by MAC.
package adaptor // import "github.com/fximage/hubx/adaptor"

import (
	"fmt"
	"log"
	"net"
	"os"
	"sync"
	"time"

	"github.com/fximage/hubx"
	"github.com/fximage/hubx/wire"
	"github.com/fximage/hubx/xudp"
	"golang.org/x/xerrors"
)

// Discovery datagrams.
const (
	DiscoverRequest = "DISCOVER_DETECTOR"
	ConfigRequest   = "CONFIG_DETECTOR"
	RestoreRequest  = "RESET_DETECTOR"
)

// DefaultWindow is the discovery response window.
const DefaultWindow = 2 * time.Second

// Sink receives adaptor errors and events.
type Sink interface {
	OnError(id uint32, msg string)
	OnEvent(id uint32, value float32)
}

type nopSink struct{}

func (nopSink) OnError(id uint32, msg string)    {}
func (nopSink) OnEvent(id uint32, value float32) {}

// Option configures an Adaptor.
type Option func(*config)

type config struct {
	bcast  string
	window time.Duration
}

// WithDiscoveryAddr overrides the discovery broadcast endpoint
// (default 255.255.255.255:3000). Tests point it at a loopback device.
func WithDiscoveryAddr(addr string) Option {
	return func(cfg *config) { cfg.bcast = addr }
}

// WithWindow overrides the discovery response window.
func WithWindow(d time.Duration) Option {
	return func(cfg *config) {
		if d > 0 {
			cfg.window = d
		}
	}
}

// Adaptor is bound to one local network adapter and performs detector
// discovery and endpoint configuration.
type Adaptor struct {
	msg  *log.Logger
	sink Sink
	cfg  config

	mu         sync.Mutex
	ip         string
	open       bool
	discovered []hubx.Detector
}

// New returns a closed adaptor for the given local adapter IP.
func New(ip string, opts ...Option) *Adaptor {
	cfg := config{
		bcast:  fmt.Sprintf("255.255.255.255:%d", hubx.DefaultCmdPort),
		window: DefaultWindow,
	}
	for _, opt := range opts {
		opt(&cfg)
	}
	return &Adaptor{
		msg:  log.New(os.Stdout, "adaptor: ", 0),
		sink: nopSink{},
		cfg:  cfg,
		ip:   ip,
	}
}

// SetSink installs the error/event sink. A nil sink drops all reports.
func (adp *Adaptor) SetSink(sink Sink) {
	if sink == nil {
		sink = nopSink{}
	}
	adp.sink = sink
}

// Bind changes the local adapter IP. It fails while the adaptor is open.
func (adp *Adaptor) Bind(ip string) error {
	adp.mu.Lock()
	defer adp.mu.Unlock()

	if adp.open {
		adp.sink.OnError(hubx.ErrAdapterOpenFail, "cannot change adapter IP while open")
		return xerrors.New("adaptor: cannot change adapter IP while open")
	}
	if net.ParseIP(ip) == nil {
		adp.sink.OnError(hubx.ErrInvalidParam, "invalid adapter IP address")
		return xerrors.Errorf("adaptor: invalid adapter IP address %q", ip)
	}
	adp.ip = ip
	return nil
}

// Open validates the adapter address. Opening an open adaptor is a
// no-op.
func (adp *Adaptor) Open() error {
	adp.mu.Lock()
	defer adp.mu.Unlock()

	if adp.open {
		return nil
	}
	if adp.ip == "" || net.ParseIP(adp.ip) == nil {
		adp.sink.OnError(hubx.ErrInvalidParam, "adapter IP not set")
		return xerrors.New("adaptor: adapter IP not set")
	}

	adp.open = true
	adp.discovered = nil
	adp.msg.Printf("opened on %s", adp.ip)
	return nil
}

// IsOpen reports whether the adaptor is open.
func (adp *Adaptor) IsOpen() bool {
	adp.mu.Lock()
	defer adp.mu.Unlock()
	return adp.open
}

// Close drops the discovery results.
func (adp *Adaptor) Close() {
	adp.mu.Lock()
	defer adp.mu.Unlock()
	if !adp.open {
		return
	}
	adp.discovered = nil
	adp.open = false
	adp.msg.Printf("closed")
}

// Connect broadcasts a discovery request and collects replies for the
// configured window. It returns the number of detectors found, or -1 on
// failure; an empty window is not an error.
func (adp *Adaptor) Connect() int {
	adp.mu.Lock()
	defer adp.mu.Unlock()

	if !adp.open {
		adp.sink.OnError(hubx.ErrAdapterNotOpen, "adaptor not open")
		return -1
	}

	dets, err := discover(adp.ip, adp.cfg.bcast, adp.cfg.window)
	if err != nil {
		adp.sink.OnError(hubx.ErrAdapterSendFail, err.Error())
		return -1
	}

	adp.discovered = dets
	for i, det := range dets {
		adp.msg.Printf("device %d: %s (MAC %s)", i+1, det.IP, det.MACString())
	}
	adp.sink.OnEvent(hubx.EventDeviceCount, float32(len(dets)))
	return len(dets)
}

// Detectors returns the number of discovered detectors.
func (adp *Adaptor) Detectors() int {
	adp.mu.Lock()
	defer adp.mu.Unlock()
	return len(adp.discovered)
}

// Detector returns one discovery result.
func (adp *Adaptor) Detector(i int) (hubx.Detector, error) {
	adp.mu.Lock()
	defer adp.mu.Unlock()

	if i < 0 || i >= len(adp.discovered) {
		adp.sink.OnError(hubx.ErrAdapterRecvErrCmd, "device index out of range")
		return hubx.Detector{}, xerrors.Errorf("adaptor: device index %d out of range (found=%d)",
			i, len(adp.discovered),
		)
	}
	return adp.discovered[i], nil
}

func discover(localIP, bcast string, window time.Duration) ([]hubx.Detector, error) {
	conn, err := xudp.Bind(net.JoinHostPort(localIP, "0"))
	if err != nil {
		return nil, xerrors.Errorf("adaptor: could not bind discovery socket: %w", err)
	}
	defer conn.Close()

	if _, err := conn.SendTo([]byte(DiscoverRequest), bcast); err != nil {
		return nil, xerrors.Errorf("adaptor: could not send discovery broadcast: %w", err)
	}

	var (
		dets     []hubx.Detector
		seen     = make(map[[6]byte]bool)
		buf      = make([]byte, 1024)
		deadline = time.Now().Add(window)
	)
	for {
		remain := time.Until(deadline)
		if remain <= 0 {
			break
		}

		n, peer, err := conn.Recv(buf, remain)
		switch {
		case err == nil:
		case xerrors.Is(err, xudp.ErrTimeout):
			return dets, nil
		default:
			return nil, xerrors.Errorf("adaptor: could not receive discovery reply: %w", err)
		}

		nfo, err := wire.DecodeDevInfo(buf[:n])
		if err != nil {
			continue // not a device-info record
		}
		if seen[nfo.MAC] {
			continue
		}
		seen[nfo.MAC] = true

		det := hubx.Detector{
			MAC:         nfo.MAC,
			IP:          nfo.IP,
			CmdPort:     nfo.CmdPort,
			ImgPort:     nfo.ImgPort,
			Serial:      nfo.Serial,
			PixelCount:  nfo.PixelCount,
			ModuleCount: nfo.ModuleCount,
			CardType:    nfo.CardType,
			PixelSize:   nfo.PixelSize,
			PixelDepth:  nfo.PixelDepth,
			Firmware:    nfo.Firmware,
		}
		if det.IP == "" {
			det.IP = peer.IP.String()
		}
		if det.PixelDepth < 8 || det.PixelDepth > 16 {
			det.PixelDepth = 16
		}
		dets = append(dets, det)
	}
	return dets, nil
}
