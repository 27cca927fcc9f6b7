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

// Package socket implements the socket map and the descriptor-based API
// surface (spec §4.8, §6 "Socket API", §7 "Error handling design"): a
// dense array of entries indexed by socket id, one per {STREAM,
// STREAM_LISTEN, EPOLL, PIPE}, plus the cross-thread queues the engine
// drains once per tick (spec §4.9 "drain_user_queues", §5 "Shared mutable
// state").
package socket

import "fmt"

// ErrorKind is the POSIX-flavored error taxonomy spec §7 requires every
// API function to report through.
type ErrorKind uint8

const (
	InvalidDescriptor ErrorKind = iota
	InvalidArgument
	NotConnected
	AlreadyConnected
	InProgress
	WouldBlock
	OutOfMemory
	AddressInUse
	ConnectionReset
	ConnectionRefused
	TimedOut
	Permission
	Interrupted
)

func (k ErrorKind) String() string {
	switch k {
	case InvalidDescriptor:
		return "INVALID_DESCRIPTOR"
	case InvalidArgument:
		return "INVALID_ARGUMENT"
	case NotConnected:
		return "NOT_CONNECTED"
	case AlreadyConnected:
		return "ALREADY_CONNECTED"
	case InProgress:
		return "IN_PROGRESS"
	case WouldBlock:
		return "WOULD_BLOCK"
	case OutOfMemory:
		return "OUT_OF_MEMORY"
	case AddressInUse:
		return "ADDRESS_IN_USE"
	case ConnectionReset:
		return "CONNECTION_RESET"
	case ConnectionRefused:
		return "CONNECTION_REFUSED"
	case TimedOut:
		return "TIMED_OUT"
	case Permission:
		return "PERMISSION"
	case Interrupted:
		return "INTERRUPTED"
	default:
		return fmt.Sprintf("ErrorKind(%d)", uint8(k))
	}
}

// Error wraps an ErrorKind as the concrete error type every socket API
// function returns on failure.
type Error struct {
	Kind ErrorKind
	Op   string
}

func (e *Error) Error() string { return fmt.Sprintf("socket: %s: %s", e.Op, e.Kind) }

func errOf(op string, kind ErrorKind) *Error { return &Error{Kind: kind, Op: op} }
