// Package heap owns the process-wide shared memory heap. The orchestrator
// initializes one segment per process; worker processes attach to the same
// segment through an inherited descriptor. Large analysis artifacts are
// published into the segment and referenced by key instead of being copied
// through dispatch messages.
package heap

import (
	"fmt"
	"os"
	"runtime/debug"
	"sync"

	"golang.org/x/sys/unix"
)

// Fixed sizing of the process heap. The capacities are deliberately
// constants rather than configuration: every attached process must agree on
// them, and they are baked into the segment header at creation time.
const (
	// DefaultDataCap is the capacity of the shared data region.
	DefaultDataCap = 256 << 20

	// DefaultHashTablePow sizes the hash table at 2^20 slots.
	DefaultHashTablePow = 20

	// DefaultDepTablePow sizes the dependency table at 2^20 slots.
	DefaultDepTablePow = 20

	// MinAvailableBytes is the free-space watermark a backing directory
	// must satisfy beyond the segment itself.
	MinAvailableBytes = 64 << 20

	// gcSpaceOverhead is applied to the Go garbage collector of every
	// process attached to the heap (workers inherit it through their own
	// attach path).
	gcSpaceOverhead = 120

	// MinorRegionBytes is the nursery sizing carried in the heap
	// configuration. The Go runtime has no minor generation to apply it
	// to; the value is retained so attached processes agree on the
	// allocation granularity of scratch buffers.
	MinorRegionBytes = 8 << 20
)

// candidateDirs lists backing locations in preference order: a memory-backed
// filesystem first, the generic temp path as a fallback.
func candidateDirs() []string {
	return []string{"/dev/shm", os.TempDir()}
}

// Config is the immutable process-wide heap configuration. It is created at
// most once per process lifetime.
type Config struct {
	// Handle is the attached segment.
	Handle *Segment

	// MinorRegionBytes echoes the GC nursery tuning applied at
	// initialization.
	MinorRegionBytes int
}

var (
	initMu sync.Mutex
	config *Config
)

// Init lazily creates the shared heap for this process and returns its
// configuration. The first call tunes the garbage collector and creates the
// backing segment; every later call returns the cached configuration
// unchanged. Initialization failure is fatal to the caller by contract:
// no pool can operate without a heap segment for its workers to attach.
func Init() (*Config, error) {
	initMu.Lock()
	defer initMu.Unlock()

	if config != nil {
		return config, nil
	}

	tuneGC()

	opts := segmentOptions{
		dataCap:      DefaultDataCap,
		hashTablePow: DefaultHashTablePow,
		depTablePow:  DefaultDepTablePow,
	}

	seg, err := createFirstAvailable(opts)
	if err != nil {
		return nil, err
	}

	config = &Config{
		Handle:           seg,
		MinorRegionBytes: MinorRegionBytes,
	}

	return config, nil
}

// InitAttached installs an already-attached segment as this process's heap
// configuration. The worker runtime calls this after mapping the inherited
// descriptor, so that heap accessors behave identically in orchestrator and
// worker processes. It is an error to call it once Init has run.
func InitAttached(seg *Segment) (*Config, error) {
	initMu.Lock()
	defer initMu.Unlock()

	if config != nil {
		return nil, fmt.Errorf("shared heap already initialized for this process")
	}

	tuneGC()

	config = &Config{
		Handle:           seg,
		MinorRegionBytes: MinorRegionBytes,
	}

	return config, nil
}

func tuneGC() {
	debug.SetGCPercent(gcSpaceOverhead)
}

// Handle returns the segment of the (possibly freshly initialized) heap.
func Handle() (*Segment, error) {
	cfg, err := Init()
	if err != nil {
		return nil, err
	}
	return cfg.Handle, nil
}

// UseRatio reports occupied heap bytes over capacity. It is a monitoring
// signal, not an enforced limit.
func UseRatio() float64 {
	initMu.Lock()
	cfg := config
	initMu.Unlock()
	if cfg == nil {
		return 0
	}
	return cfg.Handle.UseRatio()
}

// SlotUseRatio reports occupied hash-table slots over total slots.
func SlotUseRatio() float64 {
	initMu.Lock()
	cfg := config
	initMu.Unlock()
	if cfg == nil {
		return 0
	}
	return cfg.Handle.SlotUseRatio()
}

// createFirstAvailable walks the candidate directories in preference order
// and creates the segment in the first one with enough free space.
func createFirstAvailable(opts segmentOptions) (*Segment, error) {
	need := segmentSize(opts) + MinAvailableBytes

	var lastErr error
	for _, dir := range candidateDirs() {
		avail, err := availableBytes(dir)
		if err != nil {
			lastErr = err
			continue
		}
		if avail < need {
			lastErr = fmt.Errorf("%q has %d bytes available, need %d", dir, avail, need)
			continue
		}

		seg, err := createSegment(dir, opts)
		if err != nil {
			lastErr = err
			continue
		}
		return seg, nil
	}

	return nil, fmt.Errorf("no candidate directory can back the shared heap: %w", lastErr)
}

func availableBytes(dir string) (uint64, error) {
	var st unix.Statfs_t
	if err := unix.Statfs(dir, &st); err != nil {
		return 0, fmt.Errorf("statfs %q: %w", dir, err)
	}
	return st.Bavail * uint64(st.Bsize), nil
}
