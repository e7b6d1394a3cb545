// Package buffers pools the copy buffers used by transfers.
package buffers

import (
	"sync"
	"sync/atomic"

	"github.com/houzin/scp-explorer/internal/constants"
)

var (
	chunkAllocations atomic.Int64
	smallAllocations atomic.Int64
)

var (
	// chunkPool provides ChunkSize buffers for file copies.
	chunkPool = &sync.Pool{
		New: func() interface{} {
			chunkAllocations.Add(1)
			buf := make([]byte, constants.ChunkSize)
			return &buf
		},
	}

	// smallPool provides SmallBufferSize buffers for listings and small files.
	smallPool = &sync.Pool{
		New: func() interface{} {
			smallAllocations.Add(1)
			buf := make([]byte, constants.SmallBufferSize)
			return &buf
		},
	}
)

// GetChunkBuffer retrieves a ChunkSize buffer from the pool.
// Return it with PutChunkBuffer when done.
//
//	buf := buffers.GetChunkBuffer()
//	defer buffers.PutChunkBuffer(buf)
//	n, err := src.Read(*buf)
func GetChunkBuffer() *[]byte {
	return chunkPool.Get().(*[]byte)
}

// PutChunkBuffer returns a buffer to the pool. Buffers of any other size
// are dropped.
func PutChunkBuffer(buf *[]byte) {
	if buf != nil && len(*buf) == constants.ChunkSize {
		clear(*buf)
		chunkPool.Put(buf)
	}
}

// GetSmallBuffer retrieves a SmallBufferSize buffer from the pool.
func GetSmallBuffer() *[]byte {
	return smallPool.Get().(*[]byte)
}

// PutSmallBuffer returns a small buffer to the pool.
func PutSmallBuffer(buf *[]byte) {
	if buf != nil && len(*buf) == constants.SmallBufferSize {
		clear(*buf)
		smallPool.Put(buf)
	}
}

// ForSize returns a pooled buffer suited to a file of size bytes and the
// matching release func.
func ForSize(size int64) (*[]byte, func()) {
	if size >= 0 && size <= int64(constants.SmallBufferSize) {
		buf := GetSmallBuffer()
		return buf, func() { PutSmallBuffer(buf) }
	}
	buf := GetChunkBuffer()
	return buf, func() { PutChunkBuffer(buf) }
}

// Stats reports buffer pool allocations.
type Stats struct {
	ChunkBufferSize  int
	SmallBufferSize  int
	ChunkAllocations int64
	SmallAllocations int64
}

// GetStats returns current pool statistics.
func GetStats() Stats {
	return Stats{
		ChunkBufferSize:  constants.ChunkSize,
		SmallBufferSize:  constants.SmallBufferSize,
		ChunkAllocations: chunkAllocations.Load(),
		SmallAllocations: smallAllocations.Load(),
	}
}
