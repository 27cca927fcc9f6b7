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

//go:build linux

package epollset

import (
	"fmt"

	"golang.org/x/sys/unix"
)

// Wakeup is the real OS-backed half of an engine's sleep/wake cycle (spec
// §4.9 "maybe_sleep"): an eventfd registered with a real epoll instance, so
// an engine with nothing to do can block in EpollWait instead of spinning,
// while any other engine (or the NIC driver) can wake it by writing to the
// eventfd. This is the one place tcpcore touches a real kernel epoll —
// replacing connstate/poll_linux.go's cgo binding, which calls into a C
// helper that isn't available here, with a direct golang.org/x/sys/unix
// syscall sequence.
type Wakeup struct {
	epfd      int
	eventfd   int
	closeOnce bool
}

// NewWakeup creates the eventfd + epoll instance pair and registers the
// eventfd for read-readiness.
func NewWakeup() (*Wakeup, error) {
	efd, err := unix.Eventfd(0, unix.EFD_NONBLOCK|unix.EFD_CLOEXEC)
	if err != nil {
		return nil, fmt.Errorf("epollset: eventfd: %w", err)
	}
	epfd, err := unix.EpollCreate1(unix.EPOLL_CLOEXEC)
	if err != nil {
		unix.Close(efd)
		return nil, fmt.Errorf("epollset: epoll_create1: %w", err)
	}
	ev := unix.EpollEvent{Events: unix.EPOLLIN, Fd: int32(efd)}
	if err := unix.EpollCtl(epfd, unix.EPOLL_CTL_ADD, efd, &ev); err != nil {
		unix.Close(efd)
		unix.Close(epfd)
		return nil, fmt.Errorf("epollset: epoll_ctl: %w", err)
	}
	return &Wakeup{epfd: epfd, eventfd: efd}, nil
}

// Signal wakes any engine blocked in Sleep. Safe to call from another
// goroutine/engine without locking; the eventfd counter coalesces repeat
// signals that arrive before Sleep drains them.
func (w *Wakeup) Signal() error {
	var buf [8]byte
	buf[7] = 1
	_, err := unix.Write(w.eventfd, buf[:])
	if err != nil && err != unix.EAGAIN {
		return fmt.Errorf("epollset: eventfd write: %w", err)
	}
	return nil
}

// Sleep blocks up to timeoutMS milliseconds (-1 for indefinitely) until
// Signal is called, or returns immediately if already signaled. Drains the
// eventfd counter before returning so repeated Sleep calls don't spuriously
// return instantly.
func (w *Wakeup) Sleep(timeoutMS int) error {
	var events [1]unix.EpollEvent
	n, err := unix.EpollWait(w.epfd, events[:], timeoutMS)
	if err != nil {
		if err == unix.EINTR {
			return nil
		}
		return fmt.Errorf("epollset: epoll_wait: %w", err)
	}
	if n == 0 {
		return nil
	}
	var buf [8]byte
	for {
		_, err := unix.Read(w.eventfd, buf[:])
		if err != nil {
			break
		}
	}
	return nil
}

// Close releases both descriptors. Safe to call once.
func (w *Wakeup) Close() error {
	if w.closeOnce {
		return nil
	}
	w.closeOnce = true
	err1 := unix.Close(w.eventfd)
	err2 := unix.Close(w.epfd)
	if err1 != nil {
		return err1
	}
	return err2
}
