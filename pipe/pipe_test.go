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

package pipe

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestWriteThenRead(t *testing.T) {
	p := New()
	n, err := p.Write(0, []byte("hello"), false)
	require.NoError(t, err)
	require.Equal(t, 5, n)

	buf := make([]byte, 16)
	n, err = p.Read(1, buf, false)
	require.NoError(t, err)
	require.Equal(t, "hello", string(buf[:n]))
}

func TestReadNonblockingEmptyReturnsZero(t *testing.T) {
	p := New()
	buf := make([]byte, 4)
	n, err := p.Read(1, buf, false)
	require.NoError(t, err)
	require.Equal(t, 0, n)
}

func TestCloseThenReadDrainsThenEOF(t *testing.T) {
	p := New()
	_, err := p.Write(0, []byte("x"), false)
	require.NoError(t, err)
	p.Close(0)

	buf := make([]byte, 4)
	n, err := p.Read(1, buf, false)
	require.NoError(t, err)
	require.Equal(t, 1, n)

	n, err = p.Read(1, buf, false)
	require.NoError(t, err)
	require.Equal(t, 0, n) // EOF: peer closed and buffer drained
}

func TestWriteAfterPeerCloseReturnsErrClosed(t *testing.T) {
	p := New()
	p.Close(1)
	_, err := p.Write(0, []byte("x"), false)
	require.ErrorIs(t, err, ErrClosed)
}

func TestBlockingReadWakesOnWrite(t *testing.T) {
	p := New()
	done := make(chan string, 1)
	go func() {
		buf := make([]byte, 16)
		n, err := p.Read(1, buf, true)
		require.NoError(t, err)
		done <- string(buf[:n])
	}()

	time.Sleep(10 * time.Millisecond)
	_, err := p.Write(0, []byte("woken"), false)
	require.NoError(t, err)

	select {
	case got := <-done:
		require.Equal(t, "woken", got)
	case <-time.After(time.Second):
		t.Fatal("blocking read never woke up")
	}
}

func TestReadableWritableReflectState(t *testing.T) {
	p := New()
	require.False(t, p.Readable(1))
	require.True(t, p.Writable(0))

	_, err := p.Write(0, []byte("a"), false)
	require.NoError(t, err)
	require.True(t, p.Readable(1))

	p.Close(0)
	require.True(t, p.Readable(1)) // EOF is "readable"
}

func TestNotifyFiresOnPeerActivity(t *testing.T) {
	p := New()
	var got uint32
	p.SetNotify(1, func(events uint32) { got |= events })

	_, err := p.Write(0, []byte("a"), false)
	require.NoError(t, err)
	require.Equal(t, epollIn, got)
}
