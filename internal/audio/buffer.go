package audio

import (
	"sync"
	"time"
)

// ChunkBuffer accumulates captured chunks in arrival order.
type ChunkBuffer struct {
	chunks      []Chunk
	bytes       int
	dropped     uint32
	total       uint32
	contentType string
	lastUpdate  time.Time

	mu sync.RWMutex
}

// BufferStats represents buffer statistics for monitoring
type BufferStats struct {
	Chunks        int       `json:"chunks"`
	Bytes         int       `json:"bytes"`
	TotalChunks   uint32    `json:"total_chunks"`
	DroppedChunks uint32    `json:"dropped_empty_chunks"`
	ContentType   string    `json:"content_type"`
	LastUpdate    time.Time `json:"last_update"`
}

// NewChunkBuffer creates an empty buffer
func NewChunkBuffer() *ChunkBuffer {
	return &ChunkBuffer{
		chunks: make([]Chunk, 0, 64),
	}
}

// Append adds a chunk to the end of the sequence. Empty chunks are counted
// and dropped. It reports whether the chunk was kept.
func (b *ChunkBuffer) Append(c Chunk) bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.total++
	b.lastUpdate = time.Now()
	if len(c.Data) == 0 {
		b.dropped++
		return false
	}

	b.chunks = append(b.chunks, c)
	b.bytes += len(c.Data)
	if b.contentType == "" {
		b.contentType = c.ContentType
	}
	return true
}

// Snapshot returns a copy of the chunk sequence.
func (b *ChunkBuffer) Snapshot() []Chunk {
	b.mu.RLock()
	defer b.mu.RUnlock()

	out := make([]Chunk, len(b.chunks))
	copy(out, b.chunks)
	return out
}

// Drain returns the chunk sequence and empties the buffer.
func (b *ChunkBuffer) Drain() []Chunk {
	b.mu.Lock()
	defer b.mu.Unlock()

	out := b.chunks
	b.resetLocked()
	return out
}

// Reset discards all chunks and counters.
func (b *ChunkBuffer) Reset() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.resetLocked()
}

func (b *ChunkBuffer) resetLocked() {
	b.chunks = make([]Chunk, 0, 64)
	b.bytes = 0
	b.total = 0
	b.dropped = 0
	b.contentType = ""
}

// Len returns the number of stored chunks
func (b *ChunkBuffer) Len() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.chunks)
}

// Size returns the number of stored bytes
func (b *ChunkBuffer) Size() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.bytes
}

// GetStats returns current buffer statistics
func (b *ChunkBuffer) GetStats() BufferStats {
	b.mu.RLock()
	defer b.mu.RUnlock()

	return BufferStats{
		Chunks:        len(b.chunks),
		Bytes:         b.bytes,
		TotalChunks:   b.total,
		DroppedChunks: b.dropped,
		ContentType:   b.contentType,
		LastUpdate:    b.lastUpdate,
	}
}
