package constants

import (
	"time"
)

// Transfer sizing
const (
	// ChunkSize - size of each read/write chunk during a transfer (1 MB)
	// Cancellation and progress are both observed at chunk boundaries.
	ChunkSize = 1 * 1024 * 1024

	// SmallBufferSize - buffer size for short reads such as command output (64 KB)
	SmallBufferSize = 64 * 1024

	// NativeMaxPacket - maximum SFTP packet size requested from the server (32 KB)
	// Servers are required to accept 32768; larger values are sent unchecked.
	NativeMaxPacket = 32 * 1024

	// NativeWindowSize - bytes kept in flight per file on the native backend (2 MB)
	// Concurrent requests per file = NativeWindowSize / NativeMaxPacket.
	NativeWindowSize = 2 * 1024 * 1024

	// NativeConcurrentRequests - outstanding SFTP requests per open file
	NativeConcurrentRequests = NativeWindowSize / NativeMaxPacket

	// ProgressThrottleInterval - minimum gap between partial progress events (100ms)
	// The final 100% event is never throttled.
	ProgressThrottleInterval = 100 * time.Millisecond
)

// Connection
const (
	// DefaultSSHPort - port used when none is given
	DefaultSSHPort = 22

	// ConnectTimeout - handshake deadline for the native backend (12 seconds)
	ConnectTimeout = 12 * time.Second

	// ListTimeout - deadline for a single directory listing on the native backend (12 seconds)
	// A listing that exceeds it is treated as a lost connection.
	ListTimeout = 12 * time.Second

	// CLIConnectTimeout - ConnectTimeout passed to ssh/scp (30 seconds)
	CLIConnectTimeout = 30 * time.Second

	// CLIServerAliveInterval - ServerAliveInterval passed to ssh/scp, in seconds
	CLIServerAliveInterval = 60

	// CLIServerAliveCountMax - ServerAliveCountMax passed to ssh/scp
	CLIServerAliveCountMax = 3
)

// Retry configuration
const (
	// RetryMaxAttempts - total attempts for a retried operation, including the first
	RetryMaxAttempts = 3

	// RetryBaseDelay - delay before the second attempt (2s)
	// Each later attempt doubles it.
	RetryBaseDelay = 2 * time.Second
)

// Heartbeat
const (
	// HeartbeatInterval - gap between liveness probes (30 seconds)
	HeartbeatInterval = 30 * time.Second

	// HeartbeatFailureThreshold - consecutive probe failures treated as connection loss
	HeartbeatFailureThreshold = 2
)

// Disk space safety margin
const (
	// DiskSpaceBufferPercent - additional space to require beyond download size (5%)
	DiskSpaceBufferPercent = 0.05
)

// Event System
const (
	// EventBusDefaultBuffer - default buffer size for event channels (1000)
	EventBusDefaultBuffer = 1000

	// EventBusMaxBuffer - maximum buffer size for high-throughput scenarios (5000)
	EventBusMaxBuffer = 5000
)

// Profiles
const (
	// ProfileWatchDebounce - quiet period before a changed profile store is reloaded (300ms)
	ProfileWatchDebounce = 300 * time.Millisecond
)

// UI Updates
const (
	// ProgressUpdateInterval - interval for terminal progress bar refresh (300ms)
	ProgressUpdateInterval = 300 * time.Millisecond
)
