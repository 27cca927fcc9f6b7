// Copyright 2024 CloudWeGo Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
// http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package stack

import (
	"fmt"
	"net"
	"runtime"

	"github.com/cloudwego/tcpcore/config"
	"github.com/cloudwego/tcpcore/driver"
	"github.com/cloudwego/tcpcore/engine"
	"github.com/cloudwego/tcpcore/wire"
)

// Target pins an engine's address pool to whatever single peer (daddr,
// dport) this deployment connects out to, the same simplification
// addrpool.RSSFilter's doc comment already commits to ("for the fixed
// remote (daddr, dport) used at startup"). Leave it zero for a
// server-only engine that never calls Connect — Build then hands out
// every local port without RSS filtering, since nothing is steering
// outbound SYNs anywhere in particular.
type Target struct {
	RemoteIP   net.IP
	RemotePort uint16
}

// CoreNIC binds one engine to one NIC attachment: the driver already
// opened against that interface's RX/TX queue, the MAC to stamp on
// outgoing frames, and the local IP this core answers on.
type CoreNIC struct {
	Driver  driver.Driver
	IfIndex int
	LocalIP net.IP
	SrcMAC  wire.MAC
}

// Options configures a Stack of config.Config.NumCores engines.
type Options struct {
	Config *config.Config
	Cores  []CoreNIC
	Target Target
	Logger engine.Logger
}

// Stack owns one engine.Engine per core (spec §1). Engines never reach
// into each other; a Stack's only job is shared construction and
// lifecycle fan-out.
type Stack struct {
	engines []*engine.Engine
}

// New builds one Engine per entry in opts.Cores, each with an RSSFilter
// that only admits (localIP, localPort) pairs whose 4-tuple hash against
// opts.Target steers to that engine's core index under the configured (or
// default) Toeplitz key.
func New(opts Options) (*Stack, error) {
	cfg := opts.Config
	if len(opts.Cores) != cfg.NumCores {
		return nil, fmt.Errorf("stack: %d core NICs provided, config wants %d", len(opts.Cores), cfg.NumCores)
	}

	key := defaultRSSKey
	if len(cfg.RSSKey) > 0 {
		key = cfg.RSSKey
	}

	var remoteIP uint32
	var haveTarget bool
	if ip4 := opts.Target.RemoteIP.To4(); ip4 != nil {
		remoteIP = be32(ip4)
		haveTarget = true
	}

	s := &Stack{}
	for i, c := range opts.Cores {
		localIP := be32(c.LocalIP.To4())
		core := i

		var rss func(localIP uint32, localPort uint16) bool
		if haveTarget {
			rss = func(ip uint32, port uint16) bool {
				h := toeplitzHash(key, rssInput(ip, remoteIP, port, opts.Target.RemotePort))
				return coreForHash(h, cfg.NumCores) == core
			}
		}

		e, err := engine.New(engine.Options{
			Config:  cfg,
			Driver:  c.Driver,
			IfIndex: c.IfIndex,
			LocalIP: localIP,
			SrcMAC:  c.SrcMAC,
			RSS:     rss,
			Logger:  opts.Logger,
		})
		if err != nil {
			return nil, fmt.Errorf("stack: engine %d: %w", i, err)
		}
		s.engines = append(s.engines, e)
	}
	return s, nil
}

// Engines exposes the per-core engines for callers that need direct
// access (metrics, admin sockets) without the Stack owning that surface
// itself.
func (s *Stack) Engines() []*engine.Engine { return s.engines }

// Start spawns one pinned goroutine per engine (spec §5: "one engine, one
// pinned OS thread") and returns immediately; each engine runs until its
// own shutdown condition is met.
func (s *Stack) Start() {
	for _, e := range s.engines {
		e := e
		go func() {
			runtime.LockOSThread()
			e.Run()
		}()
	}
}

// RequestShutdown asks every engine to drain and exit gracefully.
func (s *Stack) RequestShutdown() {
	for _, e := range s.engines {
		e.RequestShutdown()
	}
}

// ForceShutdown asks every engine to exit immediately without draining.
func (s *Stack) ForceShutdown() {
	for _, e := range s.engines {
		e.ForceShutdown()
	}
}

func be32(ip net.IP) uint32 {
	if ip == nil {
		return 0
	}
	return uint32(ip[0])<<24 | uint32(ip[1])<<16 | uint32(ip[2])<<8 | uint32(ip[3])
}
