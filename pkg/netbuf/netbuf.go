// Package netbuf implements the multi-part packet buffer shared by drivers and
// protocols. A Buffer is an ordered list of chunks that together hold one
// packet; the chunks do not have to be contiguous in memory.
package netbuf

import "sync"

// ChunkSize is the size of the chunks handed out by Alloc.
const ChunkSize = 1536

var pool = sync.Pool{
	New: func() any {
		b := make([]byte, ChunkSize)
		return &b
	},
}

type chunk struct {
	data []byte
	mem  *[]byte // non-nil when the chunk came from the pool
}

// Buffer is a scatter-gather byte container. The zero value is an empty
// buffer ready to use.
type Buffer struct {
	chunks []chunk
}

// New wraps the given slices without copying them.
func New(chunks ...[]byte) *Buffer {
	b := &Buffer{chunks: make([]chunk, 0, len(chunks))}
	for _, c := range chunks {
		if len(c) == 0 {
			continue
		}
		b.chunks = append(b.chunks, chunk{data: c})
	}
	return b
}

// Alloc returns a buffer of the given length backed by pooled chunks.
func Alloc(length int) *Buffer {
	b := &Buffer{}
	b.grow(length)
	return b
}

func (b *Buffer) grow(n int) {
	if n <= 0 {
		return
	}
	// Extend the last chunk first when it still has pooled room.
	if last := len(b.chunks) - 1; last >= 0 && b.chunks[last].mem != nil {
		c := &b.chunks[last]
		room := cap(c.data) - len(c.data)
		if room > 0 {
			if room > n {
				room = n
			}
			c.data = c.data[:len(c.data)+room]
			n -= room
		}
	}
	for n > 0 {
		mem := pool.Get().(*[]byte)
		size := n
		if size > ChunkSize {
			size = ChunkSize
		}
		b.chunks = append(b.chunks, chunk{data: (*mem)[:size], mem: mem})
		n -= size
	}
}

// Length returns the number of unread bytes in the buffer.
func (b *Buffer) Length() int {
	if b == nil {
		return 0
	}
	n := 0
	for _, c := range b.chunks {
		n += len(c.data)
	}
	return n
}

// ChunkCount returns the number of chunks.
func (b *Buffer) ChunkCount() int {
	return len(b.chunks)
}

// Chunk returns the i-th chunk. The slice aliases the buffer memory.
func (b *Buffer) Chunk(i int) []byte {
	if i < 0 || i >= len(b.chunks) {
		return nil
	}
	return b.chunks[i].data
}

// SetLength grows or shrinks the buffer to length bytes.
func (b *Buffer) SetLength(length int) {
	if length < 0 {
		length = 0
	}
	cur := b.Length()
	if length >= cur {
		b.grow(length - cur)
		return
	}
	remaining := length
	for i := range b.chunks {
		c := &b.chunks[i]
		if remaining >= len(c.data) {
			remaining -= len(c.data)
			continue
		}
		if remaining > 0 {
			c.data = c.data[:remaining]
			i++
		}
		for _, dropped := range b.chunks[i:] {
			release(dropped)
		}
		b.chunks = b.chunks[:i]
		return
	}
}

// At returns the contiguous bytes from offset to the end of the chunk that
// holds offset, or nil when offset is out of range.
func (b *Buffer) At(offset int) []byte {
	if offset < 0 {
		return nil
	}
	for _, c := range b.chunks {
		if offset < len(c.data) {
			return c.data[offset:]
		}
		offset -= len(c.data)
	}
	return nil
}

// Read copies up to length bytes starting at the logical offset into dst
// and returns the number of bytes copied.
func (b *Buffer) Read(dst []byte, offset, length int) int {
	if b == nil || offset < 0 || length <= 0 {
		return 0
	}
	if length > len(dst) {
		length = len(dst)
	}
	n := 0
	for _, c := range b.chunks {
		if length == 0 {
			break
		}
		// Skip chunks entirely before offset.
		if offset >= len(c.data) {
			offset -= len(c.data)
			continue
		}
		m := copy(dst[n:n+length], c.data[offset:])
		n += m
		length -= m
		offset = 0
	}
	return n
}

// Write copies src into the buffer at the logical offset. It never grows
// the buffer and returns the number of bytes written.
func (b *Buffer) Write(offset int, src []byte) int {
	if offset < 0 {
		return 0
	}
	n := 0
	for i := range b.chunks {
		if n == len(src) {
			break
		}
		c := b.chunks[i].data
		if offset >= len(c) {
			offset -= len(c)
			continue
		}
		n += copy(c[offset:], src[n:])
		offset = 0
	}
	return n
}

// Append adds a new chunk holding a copy of data at the end of the buffer.
func (b *Buffer) Append(data []byte) {
	if len(data) == 0 {
		return
	}
	b.chunks = append(b.chunks, chunk{data: append([]byte(nil), data...)})
}

// Concat appends length bytes of src starting at offset without copying
// the payload. Both buffers then share that memory.
func (b *Buffer) Concat(src *Buffer, offset, length int) {
	if offset < 0 || length <= 0 {
		return
	}
	for _, c := range src.chunks {
		if length == 0 {
			return
		}
		if offset >= len(c.data) {
			offset -= len(c.data)
			continue
		}
		part := c.data[offset:]
		if len(part) > length {
			part = part[:length]
		}
		b.chunks = append(b.chunks, chunk{data: part})
		length -= len(part)
		offset = 0
	}
}

// Copy copies length bytes from src at srcOffset into b at dstOffset and
// returns the number of bytes copied.
func (b *Buffer) Copy(dstOffset int, src *Buffer, srcOffset, length int) int {
	n := 0
	for length > 0 {
		part := src.At(srcOffset)
		if part == nil {
			break
		}
		if len(part) > length {
			part = part[:length]
		}
		w := b.Write(dstOffset, part)
		n += w
		if w < len(part) {
			break
		}
		dstOffset += w
		srcOffset += w
		length -= w
	}
	return n
}

// TrimFront consumes count bytes from the front of the buffer.
func (b *Buffer) TrimFront(count int) {
	for count > 0 && len(b.chunks) > 0 {
		c := &b.chunks[0]
		if count < len(c.data) {
			c.data = c.data[count:]
			return
		}
		count -= len(c.data)
		release(*c)
		b.chunks = b.chunks[1:]
	}
}

// Bytes flattens the buffer into a newly allocated slice.
func (b *Buffer) Bytes() []byte {
	out := make([]byte, 0, b.Length())
	for _, c := range b.chunks {
		out = append(out, c.data...)
	}
	return out
}

// Free returns pooled chunks and empties the buffer. Slices previously
// obtained from At or Chunk must not be used afterwards.
func (b *Buffer) Free() {
	for _, c := range b.chunks {
		release(c)
	}
	b.chunks = nil
}

func release(c chunk) {
	if c.mem == nil {
		return
	}
	pool.Put(c.mem)
}
