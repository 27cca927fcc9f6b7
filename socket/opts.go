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

package socket

// Opt names the small set of socket options spec §4.8 calls out as
// "small, deterministic helpers".
type Opt int

const (
	// SONonblock toggles SO_NONBLOCK (bool value).
	SONonblock Opt = iota
	// SOError reads ConnectionReset (as an int ErrorKind value) while the
	// attached stream has been reset, and -1 otherwise. Reading it does not
	// clear it.
	SOError
)

// SetSockOpt implements spec §4.8 `setsockopt(SO_NONBLOCK)`.
func (m *Map) SetSockOpt(sockid int, opt Opt, value bool) error {
	switch opt {
	case SONonblock:
		return m.SetNonblocking(sockid, value)
	default:
		return errOf("setsockopt", InvalidArgument)
	}
}

// GetSockOpt implements spec §4.8's small getsockopt surface.
func (m *Map) GetSockOpt(sockid int, opt Opt) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, err := m.get(sockid)
	if err != nil {
		err.Op = "getsockopt"
		return 0, err
	}
	switch opt {
	case SONonblock:
		if e.nonblocking {
			return 1, nil
		}
		return 0, nil
	case SOError:
		if e.str != nil && e.str.HaveReset {
			return int(ConnectionReset), nil
		}
		return -1, nil
	default:
		return 0, errOf("getsockopt", InvalidArgument)
	}
}
