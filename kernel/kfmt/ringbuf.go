package kfmt

import "io"

// ringBufferSize is large enough to hold one screen of an 80x25 text console.
// It must be a power of 2.
const ringBufferSize = 2048

// ringBuffer keeps the most recent ringBufferSize bytes written to it. Log
// output produced before a console exists is parked here.
type ringBuffer struct {
	buffer [ringBufferSize]byte

	// head is the index of the oldest unread byte and count the number of
	// unread bytes.
	head, count int
}

func (rb *ringBuffer) reset() {
	rb.head, rb.count = 0, 0
}

// Write appends p. Once the buffer is full the oldest bytes are dropped.
func (rb *ringBuffer) Write(p []byte) (int, error) {
	for _, b := range p {
		rb.buffer[(rb.head+rb.count)&(ringBufferSize-1)] = b
		if rb.count < ringBufferSize {
			rb.count++
		} else {
			rb.head = (rb.head + 1) & (ringBufferSize - 1)
		}
	}

	return len(p), nil
}

// Read drains up to len(p) unread bytes into p. It returns io.EOF once the
// buffer is empty.
func (rb *ringBuffer) Read(p []byte) (int, error) {
	if rb.count == 0 {
		return 0, io.EOF
	}

	n := 0
	for n < len(p) && rb.count > 0 {
		end := rb.head + rb.count
		if end > ringBufferSize {
			end = ringBufferSize
		}

		copied := copy(p[n:], rb.buffer[rb.head:end])
		n += copied
		rb.count -= copied
		rb.head = (rb.head + copied) & (ringBufferSize - 1)
	}

	return n, nil
}
