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

import "github.com/cloudwego/tcpcore/stream"

// recvLocked is the shared body of Read/Recv: copy up to len(buf) merged
// bytes out of s's receive ring, optionally consuming them (peek=false),
// and re-ack if enough window just freed up to matter (spec §4.8
// "re-advertise freed window via an ACK when recovered space exceeds one
// MSS").
func (m *Map) recvLocked(s *stream.Stream, buf []byte, peek bool) int {
	n := s.Recv.RecvBuf.Read(buf)
	if n == 0 || peek {
		return n
	}
	m.removeLocked(s, n)
	return n
}

// removeLocked consumes n bytes out of s's receive ring and, when enough
// space just freed up to matter, queues a re-advertising ACK (spec §4.8
// "re-advertise freed window via an ACK when recovered space exceeds one
// MSS"). Shared by recvLocked's copying path and StreamReader's zero-copy
// Release.
func (m *Map) removeLocked(s *stream.Stream, n int) {
	if n == 0 {
		return
	}
	before := s.Recv.RecvBuf.FreeSpace()
	s.Recv.RecvBuf.Remove(uint32(n))
	after := s.Recv.RecvBuf.FreeSpace()
	if after-before >= uint32(s.Send.MSS) {
		m.ackQ = append(m.ackQ, s)
	}
}

func (m *Map) streamFor(op string, sockid int) (*stream.Stream, bool, *Error) {
	e, err := m.get(sockid)
	if err != nil {
		err.Op = op
		return nil, false, err
	}
	if e.kind != KindStream || e.str == nil {
		return nil, false, errOf(op, NotConnected)
	}
	return e.str, e.nonblocking, nil
}

// Read implements spec §6 `read`/`recv` for a STREAM socket: non-
// destructive window accounting aside, a plain read is recv without
// MSG_PEEK.
func (m *Map) Read(sockid int, buf []byte) (int, error) {
	return m.Recv(sockid, buf, false)
}

// Recv implements spec §6 `recv`, honoring MSG_PEEK (spec §4.8). Blocks
// (unless nonblocking or peer already sent FIN) until at least one byte is
// available.
func (m *Map) Recv(sockid int, buf []byte, peek bool) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, nonblocking, err := m.streamFor("recv", sockid)
	if err != nil {
		return 0, err
	}
	for {
		if n := m.recvLocked(s, buf, peek); n > 0 {
			return n, nil
		}
		if s.PeerFinSeen {
			return 0, nil // EOF
		}
		if s.HaveReset {
			return 0, errOf("recv", ConnectionReset)
		}
		if nonblocking {
			return 0, errOf("recv", WouldBlock)
		}
		m.cond.Wait()
	}
}

// Readv implements spec §6 `readv`: scatters one contiguous recv across
// multiple buffers in order, stopping once any buffer isn't fully filled
// (matches POSIX readv's short-read semantics against a byte stream).
func (m *Map) Readv(sockid int, bufs [][]byte) (int, error) {
	total := 0
	for _, b := range bufs {
		if len(b) == 0 {
			continue
		}
		n, err := m.Read(sockid, b)
		total += n
		if err != nil {
			if total > 0 {
				return total, nil
			}
			return 0, err
		}
		if n < len(b) {
			break
		}
	}
	return total, nil
}

// Write implements spec §6 `write`/`send` for a STREAM socket: copy into
// the send ring (bounded by its backing capacity, a proxy for snd_wnd
// since the ring is sized to the configured send-buffer limit), enqueue
// the stream for the engine's send list, wake a producer that finds the
// ring no longer full.
func (m *Map) Write(sockid int, buf []byte) (int, error) {
	return m.Send(sockid, buf)
}

// Send implements spec §6 `send`.
func (m *Map) Send(sockid int, buf []byte) (int, error) {
	m.mu.Lock()
	s, nonblocking, err := m.streamFor("send", sockid)
	if err != nil {
		m.mu.Unlock()
		return 0, err
	}
	if s.WriteClosed {
		m.mu.Unlock()
		return 0, errOf("send", NotConnected)
	}
	for {
		room := m.SendBuf - s.Send.SendBuf.Buffered()
		if room > 0 {
			toWrite := buf
			if len(toWrite) > room {
				toWrite = toWrite[:room]
			}
			n := s.Send.SendBuf.Write(toWrite)
			m.sendQ = append(m.sendQ, s)
			m.mu.Unlock()
			m.wake()
			return n, nil
		}
		if s.HaveReset {
			m.mu.Unlock()
			return 0, errOf("send", ConnectionReset)
		}
		if nonblocking {
			m.mu.Unlock()
			return 0, errOf("send", WouldBlock)
		}
		m.cond.Wait()
	}
}

// Writev implements spec §6 `writev`: concatenated Write over each
// buffer, short-writing (and stopping) the moment the send ring can't take
// a full buffer, matching POSIX writev's byte-stream short-write contract.
func (m *Map) Writev(sockid int, bufs [][]byte) (int, error) {
	total := 0
	for _, b := range bufs {
		if len(b) == 0 {
			continue
		}
		n, err := m.Write(sockid, b)
		total += n
		if err != nil {
			if total > 0 {
				return total, nil
			}
			return 0, err
		}
		if n < len(b) {
			break
		}
	}
	return total, nil
}

// Ioctl implements spec §4.8's `ioctl(FIONREAD)`: bytes currently
// available to a subsequent recv without blocking.
func (m *Map) Ioctl(sockid int, fionread *int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, _, err := m.streamFor("ioctl", sockid)
	if err != nil {
		return err
	}
	if fionread != nil {
		*fionread = int(s.Recv.RecvBuf.MergedLen())
	}
	return nil
}
