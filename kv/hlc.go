package kv

import (
	"math"
	"sync/atomic"
	"time"
)

const hlcLogicalBits = 16
const hlcLogicalMask uint64 = (1 << hlcLogicalBits) - 1

// Clock issues write timestamps.
type Clock interface {
	Next() uint64
}

// HLC is a hybrid logical clock. It stamps store-assigned writes, catalog
// mutation times and transaction pointers, so every party orders them the
// same way.
//
// Layout:
//
//	high 48 bits: wall clock milliseconds since Unix epoch
//	low 16 bits : logical counter used while wall time does not advance
type HLC struct {
	last atomic.Uint64
}

var _ Clock = (*HLC)(nil)

func NewHLC() *HLC {
	return &HLC{}
}

func nonNegativeUint64(v int64) uint64 {
	if v < 0 {
		return 0
	}
	return uint64(v)
}

func clampUint64ToInt64(v uint64) int64 {
	if v > math.MaxInt64 {
		return math.MaxInt64
	}
	return int64(v)
}

// Next returns a timestamp strictly greater than every one issued or
// observed before.
func (h *HLC) Next() uint64 {
	for {
		prev := h.last.Load()
		prevWall := clampUint64ToInt64(prev >> hlcLogicalBits)
		prevLogical := prev & hlcLogicalMask

		nowMs := time.Now().UnixMilli()
		wall := nowMs
		var logical uint64

		if nowMs <= prevWall {
			wall = prevWall
			logical = prevLogical + 1
			if logical > hlcLogicalMask {
				wall++
				logical = 0
			}
		}

		next := (nonNegativeUint64(wall) << hlcLogicalBits) | logical
		if h.last.CompareAndSwap(prev, next) {
			return next
		}
	}
}

// Current returns the last issued or observed value, 0 before the first.
func (h *HLC) Current() uint64 {
	return h.last.Load()
}

// Observe moves the clock forward to ts if ts is ahead.
func (h *HLC) Observe(ts uint64) {
	for {
		prev := h.last.Load()
		if ts <= prev {
			return
		}
		if h.last.CompareAndSwap(prev, ts) {
			return
		}
	}
}
