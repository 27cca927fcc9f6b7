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

// Package config parses the engine's startup file (spec §6 "Configuration
// file"): core count, per-core resource limits, TIME_WAIT/idle timing, and
// the NIC whitelist. Replaces mtcp's mtcp.conf key=value parser and its
// CONFIG global (original_source's core.c/api.c read CONFIG.num_cores etc.
// throughout) with one owned, structured value passed explicitly to every
// engine at construction.
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// NIC is one whitelisted interface a Stack attaches an engine to.
type NIC struct {
	Name    string `yaml:"name"`
	IfIndex int    `yaml:"if_index"`
	IP      string `yaml:"ip"`
}

// Config is the fully-parsed, validated startup configuration. Every field
// mtcp's original CONFIG struct carries that this rewrite still needs has a
// home here; nothing reads environment globals at the call sites that used
// to read CONFIG directly.
type Config struct {
	NumCores       int   `yaml:"num_cores"`
	MaxConcurrency int   `yaml:"max_concurrency"`
	SendBufSize    int   `yaml:"send_buf_size"`
	RecvBufSize    int   `yaml:"recv_buf_size"`
	NumAddr        int   `yaml:"num_addr"`
	TimeWaitMS     int   `yaml:"time_wait_ms"`
	IdleTimeoutSec int   `yaml:"idle_timeout_sec"`
	NICs           []NIC `yaml:"nics"`
	RSSKey         []byte `yaml:"rss_key"`

	// MultiProcess, when true, makes Engine.RequestShutdown (the first
	// SIGINT) exit immediately, as ForceShutdown does, rather than run
	// graceful per-engine teardown, on the assumption external supervision
	// manages the process (spec §6 "Environment").
	MultiProcess bool `yaml:"multi_process"`

	// WindowProbeIntervalMS caps how often a stream re-sends a zero-window
	// probe (spec §4.3); defaults to 500ms, mtcp's WACK_LIMIT value.
	WindowProbeIntervalMS int `yaml:"window_probe_interval_ms"`

	MSS    uint16 `yaml:"mss"`
	WScale uint8  `yaml:"wscale"`

	// InitCwndSegs is the initial congestion window, in MSS-sized segments.
	InitCwndSegs uint32 `yaml:"init_cwnd_segs"`

	// MaxNRTX is the retransmission attempt ceiling (spec §4.4
	// TCP_MAX_RTX); exceeding it destroys the stream with CONN_LOST.
	MaxNRTX uint8 `yaml:"max_nrtx"`

	// MaxSynRetry bounds SYN/SYN-ACK retransmissions during the handshake
	// (mtcp's TCP_MAX_SYN_RETRY); exceeding it destroys the stream with
	// CONN_FAIL rather than CONN_LOST.
	MaxSynRetry uint8 `yaml:"max_syn_retry"`

	// SACKPermit advertises and honors the SACK-permitted option.
	SACKPermit bool `yaml:"sack_permit"`

	// RTOMinMS floors the RTO estimator (spec §4.4/cc's Jacobson/Karels
	// estimator); mtcp's TCP_RTO_MIN.
	RTOMinMS int `yaml:"rto_min_ms"`
}

// defaults mirrors mtcp's compiled-in constants where the config file omits
// a value, so a minimal config (just num_cores + nics) still boots.
func defaults() Config {
	return Config{
		NumCores:              1,
		MaxConcurrency:        10000,
		SendBufSize:           8192,
		RecvBufSize:           8192,
		NumAddr:               1,
		TimeWaitMS:            60000,
		WindowProbeIntervalMS: 500,
		MSS:                   1460,
		WScale:                7,
		InitCwndSegs:          10,
		MaxNRTX:               16,
		MaxSynRetry:           7,
		RTOMinMS:              200,
	}
}

// Load reads and validates a YAML config file at path.
func Load(path string) (*Config, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: read %s: %w", path, err)
	}
	return Parse(b)
}

// Parse validates and unmarshals raw YAML bytes into a Config, applying
// defaults() to any field the document leaves unset.
func Parse(b []byte) (*Config, error) {
	cfg := defaults()
	if err := yaml.Unmarshal(b, &cfg); err != nil {
		return nil, fmt.Errorf("config: parse: %w", err)
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) validate() error {
	if c.NumCores <= 0 {
		return fmt.Errorf("config: num_cores must be positive")
	}
	if len(c.NICs) == 0 {
		return fmt.Errorf("config: at least one NIC must be whitelisted")
	}
	if c.MaxConcurrency <= 0 {
		return fmt.Errorf("config: max_concurrency must be positive")
	}
	return nil
}

// TimeWaitTicks converts TimeWaitMS into engine ticks, assuming one tick
// per millisecond (spec §4.4 "each tick that advances a millisecond").
// Zero disables TIME_WAIT entirely, per SPEC_FULL's resolution of the
// spec's 2MSL-source open question: this value, never a compiled-in
// TCP_TIMEWAIT constant, is the only source of the 2MSL duration.
func (c *Config) TimeWaitTicks() uint64 { return uint64(c.TimeWaitMS) }

// IdleTimeoutTicks converts IdleTimeoutSec into engine ticks. Zero disables
// idle-timeout destruction.
func (c *Config) IdleTimeoutTicks() uint64 {
	return uint64(time.Duration(c.IdleTimeoutSec) * time.Second / time.Millisecond)
}

// WindowProbeIntervalTicks converts WindowProbeIntervalMS into ticks.
func (c *Config) WindowProbeIntervalTicks() uint32 { return uint32(c.WindowProbeIntervalMS) }

// RTOMinTicks converts RTOMinMS into ticks.
func (c *Config) RTOMinTicks() uint32 { return uint32(c.RTOMinMS) }

// PoolCapacityPerCore is MaxConcurrency spread evenly over NumCores,
// rounded up — the per-engine stream/send-vars/recv-vars pool size (spec
// §8 property 4's hard per-core ceiling).
func (c *Config) PoolCapacityPerCore() int {
	n := c.MaxConcurrency / c.NumCores
	if c.MaxConcurrency%c.NumCores != 0 {
		n++
	}
	return n
}
