package protocol

import (
	"bytes"
	"sync"
)

// MaxPooledBuffer caps the size of buffers returned to the pool; encoding a
// maximum-size frame stays just under it.
const MaxPooledBuffer = MaxPayloadSize + HeaderSize

// bufferPool reuses frame-encoding buffers to keep the per-frame allocation
// count flat on the hot DATA path.
var bufferPool = sync.Pool{
	New: func() interface{} {
		return new(bytes.Buffer)
	},
}

// GetBuffer retrieves a reset buffer from the pool.
func GetBuffer() *bytes.Buffer {
	buf := bufferPool.Get().(*bytes.Buffer)
	buf.Reset()
	return buf
}

// GetBufferWithSize retrieves a buffer grown to the given size hint, reducing
// reallocation when the frame size is known up front.
func GetBufferWithSize(sizeHint int) *bytes.Buffer {
	buf := GetBuffer()
	if sizeHint > 0 && buf.Cap() < sizeHint {
		buf.Grow(sizeHint)
	}
	return buf
}

// PutBuffer returns a buffer to the pool. Oversized buffers are dropped to
// prevent memory bloat.
func PutBuffer(buf *bytes.Buffer) {
	if buf == nil || buf.Cap() > MaxPooledBuffer {
		return
	}
	buf.Reset()
	bufferPool.Put(buf)
}
