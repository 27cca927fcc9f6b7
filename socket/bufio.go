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

import "github.com/cloudwego/tcpcore/bufiox"

var (
	_ bufiox.Reader = (*StreamReader)(nil)
	_ bufiox.Writer = (*StreamWriter)(nil)
)

// StreamReader adapts one STREAM socket's receive ring to bufiox.Reader.
// Because ringbuf.RecvRing.Put always compacts before letting the merged
// run wrap the backing array (ringbuf/recv.go), RecvBuf.Bytes is always a
// single contiguous slice, so Next/Peek hand it out without copying —
// unlike bufiox.DefaultReader, which must buffer because its underlying
// io.Reader gives no such guarantee.
type StreamReader struct {
	m      *Map
	sockid int
	pos    int // bytes handed out via Next/Peek/Skip/ReadBinary since the last Release
}

// NewReader builds a StreamReader over sockid's receive ring.
func (m *Map) NewReader(sockid int) *StreamReader {
	return &StreamReader{m: m, sockid: sockid}
}

func (r *StreamReader) Peek(n int) ([]byte, error) {
	r.m.mu.Lock()
	defer r.m.mu.Unlock()
	s, _, err := r.m.streamFor("peek", r.sockid)
	if err != nil {
		return nil, err
	}
	avail := s.Recv.RecvBuf.Bytes()
	if r.pos+n > len(avail) {
		return nil, errOf("peek", WouldBlock)
	}
	return avail[r.pos : r.pos+n], nil
}

func (r *StreamReader) Next(n int) ([]byte, error) {
	p, err := r.Peek(n)
	if err != nil {
		return nil, err
	}
	r.pos += n
	return p, nil
}

func (r *StreamReader) ReadBinary(bs []byte) (int, error) {
	r.m.mu.Lock()
	defer r.m.mu.Unlock()
	s, _, err := r.m.streamFor("read", r.sockid)
	if err != nil {
		return 0, err
	}
	rest := s.Recv.RecvBuf.Bytes()[r.pos:]
	n := len(bs)
	if n > len(rest) {
		n = len(rest)
	}
	copy(bs[:n], rest[:n])
	r.pos += n
	return n, nil
}

func (r *StreamReader) Skip(n int) error {
	r.m.mu.Lock()
	defer r.m.mu.Unlock()
	s, _, err := r.m.streamFor("skip", r.sockid)
	if err != nil {
		return err
	}
	if r.pos+n > len(s.Recv.RecvBuf.Bytes()) {
		return errOf("skip", WouldBlock)
	}
	r.pos += n
	return nil
}

func (r *StreamReader) ReadLen() int { return r.pos }

// Release consumes the bytes handed out since the last Release, re-arming
// the window-update ACK path the same as a copying Read/Recv would.
func (r *StreamReader) Release(_ error) error {
	r.m.mu.Lock()
	defer r.m.mu.Unlock()
	s, _, err := r.m.streamFor("release", r.sockid)
	if err != nil {
		return err
	}
	r.m.removeLocked(s, r.pos)
	r.m.wake()
	r.pos = 0
	return nil
}

// StreamWriter adapts one STREAM socket's send path to bufiox.Writer.
// Unlike StreamReader it does not write straight into the send ring:
// SendRing.Write's room accounting and the blocking/nonblocking contract
// already live in Map.Send, so Malloc/WriteBinary accumulate into a plain
// scratch slice and Flush hands the whole thing to Send in one call. This
// gives up true zero-copy on the write side in exchange for not duplicating
// Send's backpressure/blocking semantics a second time.
type StreamWriter struct {
	m      *Map
	sockid int
	buf    []byte
}

// NewWriter builds a StreamWriter over sockid's send path.
func (m *Map) NewWriter(sockid int) *StreamWriter {
	return &StreamWriter{m: m, sockid: sockid}
}

func (w *StreamWriter) Malloc(n int) ([]byte, error) {
	at := len(w.buf)
	w.buf = append(w.buf, make([]byte, n)...)
	return w.buf[at:], nil
}

func (w *StreamWriter) WriteBinary(bs []byte) (int, error) {
	w.buf = append(w.buf, bs...)
	return len(bs), nil
}

func (w *StreamWriter) WrittenLen() int { return len(w.buf) }

func (w *StreamWriter) Flush() error {
	if len(w.buf) == 0 {
		return nil
	}
	_, err := w.m.Send(w.sockid, w.buf)
	w.buf = w.buf[:0]
	return err
}
