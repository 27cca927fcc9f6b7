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

//go:build !linux

package epollset

import (
	"os"
	"time"
)

// Wakeup on non-Linux falls back to a self-pipe with a bounded poll
// interval, mirroring connstate's own split between a real kqueue/epoll
// wait (poll_linux.go, poll_bsd.go) and this package having only a Linux
// fast path. There's no portable non-blocking self-pipe primitive in the
// example pack's dependency set, so this one component stays on the
// standard library rather than pull in a new OS-specific dependency for a
// build target the teacher itself doesn't optimize for.
type Wakeup struct {
	r, w *os.File
}

func NewWakeup() (*Wakeup, error) {
	r, w, err := os.Pipe()
	if err != nil {
		return nil, err
	}
	return &Wakeup{r: r, w: w}, nil
}

func (wk *Wakeup) Signal() error {
	_, err := wk.w.Write([]byte{1})
	return err
}

func (wk *Wakeup) Sleep(timeoutMS int) error {
	deadline := time.Duration(timeoutMS) * time.Millisecond
	if timeoutMS < 0 {
		var buf [64]byte
		_, err := wk.r.Read(buf[:])
		return err
	}
	wk.r.SetReadDeadline(time.Now().Add(deadline))
	var buf [64]byte
	_, err := wk.r.Read(buf[:])
	if os.IsTimeout(err) {
		return nil
	}
	return err
}

func (wk *Wakeup) Close() error {
	err1 := wk.r.Close()
	err2 := wk.w.Close()
	if err1 != nil {
		return err1
	}
	return err2
}
