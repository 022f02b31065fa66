package heap

import (
	"encoding/binary"
	"errors"
	"fmt"
	"os"
	"sync/atomic"
	"unsafe"

	"github.com/cespare/xxhash/v2"
	"golang.org/x/sys/unix"
)

const (
	segmentMagic = uint64(0x6c6f6f6d68656170) // "loomheap"

	headerSize = 64

	// Header field offsets. All counters are updated with atomic
	// operations directly on the mapped region so that every attached
	// process observes the same values.
	offMagic     = 0
	offUsedBytes = 8
	offUsedSlots = 16
	offUsedDeps  = 24
	offDataCap   = 32
	offHashSlots = 40
	offDepSlots  = 48

	slotSize    = 16 // hash (8) + packed offset/length ref (8)
	depSlotSize = 8
)

var (
	// ErrHeapFull indicates the data region has no room for another value.
	ErrHeapFull = errors.New("shared heap data region is full")

	// ErrTableFull indicates no free hash-table slot could be claimed.
	ErrTableFull = errors.New("shared heap hash table is full")

	// ErrDepTableFull indicates no free dependency-table slot could be claimed.
	ErrDepTableFull = errors.New("shared heap dependency table is full")

	// ErrValueTooLarge indicates a value exceeds the per-entry size limit.
	ErrValueTooLarge = errors.New("shared heap value exceeds size limit")
)

// maxValueLen bounds a single published value; lengths share a packed word
// with the data-region offset.
const maxValueLen = 1<<24 - 1

// segmentOptions size the three fixed regions of a heap segment.
type segmentOptions struct {
	dataCap      uint64
	hashTablePow uint
	depTablePow  uint
}

// Segment is one mmap'd shared heap region. A segment is created once by the
// orchestrator and attached by every worker through an inherited file
// descriptor; the backing file is unlinked immediately after creation so the
// mapping is the only reference to it.
//
// Layout: header | hash table | dependency table | data region. Values are
// bump-allocated out of the data region and published in the hash table, so
// a value written by one process is readable by every other attached process
// without copying it through a dispatch message.
type Segment struct {
	f    *os.File
	data []byte

	hashSlots uint64
	depSlots  uint64
	dataCap   uint64

	hashOff uint64
	depOff  uint64
	dataOff uint64
}

func segmentSize(opts segmentOptions) uint64 {
	hashSlots := uint64(1) << opts.hashTablePow
	depSlots := uint64(1) << opts.depTablePow
	return headerSize + hashSlots*slotSize + depSlots*depSlotSize + opts.dataCap
}

// createSegment creates and maps a fresh segment backed by a file in dir.
// The file is unlinked before returning; the open descriptor keeps it alive
// and is what workers inherit.
func createSegment(dir string, opts segmentOptions) (*Segment, error) {
	total := segmentSize(opts)

	f, err := os.CreateTemp(dir, "loom-heap-*")
	if err != nil {
		return nil, fmt.Errorf("create heap backing file in %q: %w", dir, err)
	}

	if err := f.Truncate(int64(total)); err != nil {
		f.Close()
		os.Remove(f.Name())
		return nil, fmt.Errorf("size heap backing file to %d bytes: %w", total, err)
	}

	// The mapping is the only reference we need from here on.
	if err := os.Remove(f.Name()); err != nil {
		f.Close()
		return nil, fmt.Errorf("unlink heap backing file: %w", err)
	}

	s, err := mapSegment(f, total)
	if err != nil {
		f.Close()
		return nil, err
	}

	s.putHeader(offDataCap, opts.dataCap)
	s.putHeader(offHashSlots, uint64(1)<<opts.hashTablePow)
	s.putHeader(offDepSlots, uint64(1)<<opts.depTablePow)
	s.putHeader(offMagic, segmentMagic)
	s.deriveLayout()

	return s, nil
}

// Attach maps an existing segment from an inherited descriptor. Workers call
// this (through the worker runtime) with the descriptor the orchestrator
// placed in their file table.
func Attach(f *os.File) (*Segment, error) {
	fi, err := f.Stat()
	if err != nil {
		return nil, fmt.Errorf("stat inherited heap descriptor: %w", err)
	}

	s, err := mapSegment(f, uint64(fi.Size()))
	if err != nil {
		return nil, err
	}

	if s.header(offMagic) != segmentMagic {
		s.unmap()
		return nil, errors.New("inherited descriptor is not a loom heap segment")
	}
	s.deriveLayout()

	return s, nil
}

func mapSegment(f *os.File, size uint64) (*Segment, error) {
	data, err := unix.Mmap(int(f.Fd()), 0, int(size), unix.PROT_READ|unix.PROT_WRITE, unix.MAP_SHARED)
	if err != nil {
		return nil, fmt.Errorf("mmap heap segment (%d bytes): %w", size, err)
	}

	return &Segment{f: f, data: data}, nil
}

func (s *Segment) deriveLayout() {
	s.dataCap = s.header(offDataCap)
	s.hashSlots = s.header(offHashSlots)
	s.depSlots = s.header(offDepSlots)
	s.hashOff = headerSize
	s.depOff = s.hashOff + s.hashSlots*slotSize
	s.dataOff = s.depOff + s.depSlots*depSlotSize
}

// File exposes the backing descriptor so the pool can pass it to spawned
// workers via ExtraFiles.
func (s *Segment) File() *os.File {
	return s.f
}

// Close unmaps the segment and closes the backing descriptor. Attached
// workers are unaffected; their own mappings keep the segment alive.
func (s *Segment) Close() error {
	err := s.unmap()
	if cerr := s.f.Close(); err == nil {
		err = cerr
	}
	return err
}

func (s *Segment) unmap() error {
	if s.data == nil {
		return nil
	}
	data := s.data
	s.data = nil
	return unix.Munmap(data)
}

func (s *Segment) u64(off uint64) *uint64 {
	return (*uint64)(unsafe.Pointer(&s.data[off]))
}

func (s *Segment) header(off uint64) uint64 {
	return atomic.LoadUint64(s.u64(off))
}

func (s *Segment) putHeader(off, v uint64) {
	atomic.StoreUint64(s.u64(off), v)
}

// alloc bump-allocates n bytes out of the data region and returns the offset
// relative to its start.
func (s *Segment) alloc(n uint64) (uint64, error) {
	end := atomic.AddUint64(s.u64(offUsedBytes), n)
	if end > s.dataCap {
		// Leave the counter past capacity: allocation is monotonic and
		// the overshoot keeps the use ratio pinned at 1.0.
		return 0, ErrHeapFull
	}
	return end - n, nil
}

// Set publishes value under key. Claiming a slot and publishing the value
// reference are separate atomic steps: a reader that observes the claimed
// hash before the reference is in place treats the key as absent.
func (s *Segment) Set(key string, value []byte) error {
	if len(value) > maxValueLen {
		return ErrValueTooLarge
	}
	h := keyHash(key)

	off, err := s.alloc(uint64(len(value)))
	if err != nil {
		return err
	}
	copy(s.data[s.dataOff+off:], value)
	// Offsets are stored off-by-one so that a published reference is never
	// the zero word readers treat as "not yet published".
	ref := (off+1)<<24 | uint64(len(value))

	mask := s.hashSlots - 1
	i := h & mask
	for probes := uint64(0); probes < s.hashSlots; probes++ {
		slot := s.hashOff + i*slotSize
		cur := atomic.LoadUint64(s.u64(slot))
		if cur == 0 {
			if atomic.CompareAndSwapUint64(s.u64(slot), 0, h) {
				atomic.AddUint64(s.u64(offUsedSlots), 1)
				atomic.StoreUint64(s.u64(slot+8), ref)
				return nil
			}
			cur = atomic.LoadUint64(s.u64(slot))
		}
		if cur == h {
			// Same key written again: last writer wins.
			atomic.StoreUint64(s.u64(slot+8), ref)
			return nil
		}
		i = (i + 1) & mask
	}

	return ErrTableFull
}

// Get returns a copy of the value published under key.
func (s *Segment) Get(key string) ([]byte, bool) {
	h := keyHash(key)

	mask := s.hashSlots - 1
	i := h & mask
	for probes := uint64(0); probes < s.hashSlots; probes++ {
		slot := s.hashOff + i*slotSize
		cur := atomic.LoadUint64(s.u64(slot))
		if cur == 0 {
			return nil, false
		}
		if cur == h {
			ref := atomic.LoadUint64(s.u64(slot + 8))
			if ref == 0 {
				return nil, false
			}
			off, n := (ref>>24)-1, ref&(1<<24-1)
			out := make([]byte, n)
			copy(out, s.data[s.dataOff+off:])
			return out, true
		}
		i = (i + 1) & mask
	}

	return nil, false
}

// AddDep records the directed edge a -> b in the dependency table.
// Recording an existing edge is a no-op.
func (s *Segment) AddDep(a, b uint64) error {
	h := depHash(a, b)

	mask := s.depSlots - 1
	i := h & mask
	for probes := uint64(0); probes < s.depSlots; probes++ {
		slot := s.depOff + i*depSlotSize
		cur := atomic.LoadUint64(s.u64(slot))
		if cur == h {
			return nil
		}
		if cur == 0 {
			if atomic.CompareAndSwapUint64(s.u64(slot), 0, h) {
				atomic.AddUint64(s.u64(offUsedDeps), 1)
				return nil
			}
			if atomic.LoadUint64(s.u64(slot)) == h {
				return nil
			}
		}
		i = (i + 1) & mask
	}

	return ErrDepTableFull
}

// HasDep reports whether the edge a -> b has been recorded.
func (s *Segment) HasDep(a, b uint64) bool {
	h := depHash(a, b)

	mask := s.depSlots - 1
	i := h & mask
	for probes := uint64(0); probes < s.depSlots; probes++ {
		cur := atomic.LoadUint64(s.u64(s.depOff + i*depSlotSize))
		if cur == 0 {
			return false
		}
		if cur == h {
			return true
		}
		i = (i + 1) & mask
	}

	return false
}

// UseRatio is the fraction of the data region already allocated.
func (s *Segment) UseRatio() float64 {
	used := s.header(offUsedBytes)
	if used > s.dataCap {
		used = s.dataCap
	}
	return float64(used) / float64(s.dataCap)
}

// SlotUseRatio is the fraction of hash-table slots claimed.
func (s *Segment) SlotUseRatio() float64 {
	return float64(s.header(offUsedSlots)) / float64(s.hashSlots)
}

// DepUseRatio is the fraction of dependency-table slots claimed.
func (s *Segment) DepUseRatio() float64 {
	return float64(s.header(offUsedDeps)) / float64(s.depSlots)
}

func keyHash(key string) uint64 {
	h := xxhash.Sum64String(key)
	if h == 0 {
		h = 1 // zero marks an empty slot
	}
	return h
}

func depHash(a, b uint64) uint64 {
	var buf [16]byte
	binary.LittleEndian.PutUint64(buf[:8], a)
	binary.LittleEndian.PutUint64(buf[8:], b)
	h := xxhash.Sum64(buf[:])
	if h == 0 {
		h = 1
	}
	return h
}
