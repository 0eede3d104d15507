package capture

import (
	"encoding/binary"
	"math"
)

// s16Scale converts signed 16-bit PCM to the [-1, 1) range.
const s16Scale = 1.0 / 32768.0

// blocker regroups an arbitrary stream of samples into fixed-size blocks.
// It is not safe for concurrent use; each source drives it from one producer.
type blocker struct {
	buf     []float32
	n       int
	pending []byte // partial sample left over from the previous write
	emit    BlockFunc
}

func newBlocker(size int, emit BlockFunc) *blocker {
	if size <= 0 {
		size = DefaultBlockSize
	}
	return &blocker{
		buf:     make([]float32, size),
		pending: make([]byte, 0, 4),
		emit:    emit,
	}
}

// push appends one sample and emits the block when full.
func (b *blocker) push(v float32) {
	b.buf[b.n] = v
	b.n++
	if b.n == len(b.buf) {
		b.emit(b.buf, b.n)
		b.n = 0
	}
}

// write appends float samples.
func (b *blocker) write(samples []float32) {
	for len(samples) > 0 {
		c := copy(b.buf[b.n:], samples)
		b.n += c
		samples = samples[c:]
		if b.n == len(b.buf) {
			b.emit(b.buf, b.n)
			b.n = 0
		}
	}
}

// writeS16LE appends little-endian signed 16-bit mono PCM.
func (b *blocker) writeS16LE(p []byte) {
	p = b.completePending(p, 2, func(s []byte) {
		b.push(float32(int16(binary.LittleEndian.Uint16(s))) * s16Scale)
	})
	for len(p) >= 2 {
		b.push(float32(int16(binary.LittleEndian.Uint16(p))) * s16Scale)
		p = p[2:]
	}
	b.pending = append(b.pending, p...)
}

// writeF32LE appends little-endian 32-bit float mono PCM.
func (b *blocker) writeF32LE(p []byte) {
	p = b.completePending(p, 4, func(s []byte) {
		b.push(math.Float32frombits(binary.LittleEndian.Uint32(s)))
	})
	for len(p) >= 4 {
		b.push(math.Float32frombits(binary.LittleEndian.Uint32(p)))
		p = p[4:]
	}
	b.pending = append(b.pending, p...)
}

// completePending finishes a sample split across writes and returns the unread rest of p.
func (b *blocker) completePending(p []byte, width int, sample func([]byte)) []byte {
	if len(b.pending) == 0 {
		return p
	}
	need := width - len(b.pending)
	if len(p) < need {
		b.pending = append(b.pending, p...)
		return nil
	}
	b.pending = append(b.pending, p[:need]...)
	sample(b.pending)
	b.pending = b.pending[:0]
	return p[need:]
}

// reset drops any partially filled block.
func (b *blocker) reset() {
	b.n = 0
	b.pending = b.pending[:0]
}
