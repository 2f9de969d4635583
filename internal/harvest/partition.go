package harvest

import (
	"fmt"
	"math"
)

// PartitionStrategy selects how entries are split across workers.
type PartitionStrategy string

const (
	// PartitionParity assigns by the integer part of the key modulo N. With
	// N=2 this is the classic odd/even split.
	PartitionParity PartitionStrategy = "parity"
	// PartitionRoundRobin deals entries in key order.
	PartitionRoundRobin PartitionStrategy = "round-robin"
	// PartitionContiguous cuts the ordered entries into N runs of near-equal
	// length.
	PartitionContiguous PartitionStrategy = "contiguous"
)

// ParsePartitionStrategy validates a configured strategy name. Empty selects
// parity.
func ParsePartitionStrategy(raw string) (PartitionStrategy, error) {
	switch s := PartitionStrategy(raw); s {
	case "":
		return PartitionParity, nil
	case PartitionParity, PartitionRoundRobin, PartitionContiguous:
		return s, nil
	default:
		return "", fmt.Errorf("unknown partition strategy %q", raw)
	}
}

// Partition splits entries into exactly n ordered partitions. Every entry
// lands in exactly one partition and each partition keeps ascending key
// order. Some partitions may be empty. n < 1 is treated as 1.
func Partition(entries []LinkEntry, n int, strategy PartitionStrategy) [][]LinkEntry {
	if n < 1 {
		n = 1
	}
	out := make([][]LinkEntry, n)
	switch strategy {
	case PartitionRoundRobin:
		for i, e := range entries {
			out[i%n] = append(out[i%n], e)
		}
	case PartitionContiguous:
		size, rem := len(entries)/n, len(entries)%n
		start := 0
		for i := range n {
			end := start + size
			if i < rem {
				end++
			}
			if end > start {
				out[i] = append([]LinkEntry(nil), entries[start:end]...)
			}
			start = end
		}
	default:
		for _, e := range entries {
			idx := parityBucket(e.Key, n)
			out[idx] = append(out[idx], e)
		}
	}
	return out
}

// parityBucket maps a key to a bucket. Bucket 0 holds the odd keys when
// n=2 so the first worker starts at chapter 1.
func parityBucket(key ItemKey, n int) int {
	whole := math.Floor(float64(key))
	if math.IsNaN(whole) || math.IsInf(whole, 0) {
		return 0
	}
	m := math.Mod(whole-1, float64(n))
	if m < 0 {
		m += float64(n)
	}
	return int(m)
}
