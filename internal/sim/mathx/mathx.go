// Package mathx holds the deterministic coordinate hashes used for terrain
// generation and path cache keys.
package mathx

func Mix64(z uint64) uint64 {
	z += 0x9e3779b97f4a7c15
	z = (z ^ (z >> 30)) * 0xbf58476d1ce4e5b9
	z = (z ^ (z >> 27)) * 0x94d049bb133111eb
	return z ^ (z >> 31)
}

func Hash3(seed int64, x, y, z int) uint64 {
	ux := uint64(uint32(int32(x)))
	uy := uint64(uint32(int32(y)))
	uz := uint64(uint32(int32(z)))
	v := uint64(seed) ^ (ux * 0x9e3779b97f4a7c15) ^ (uy * 0xc2b2ae3d27d4eb4f) ^ (uz * 0xbf58476d1ce4e5b9)
	return Mix64(v)
}

// SetHash combines element hashes independent of iteration order.
type SetHash struct {
	sum uint64
	n   uint64
}

func (h *SetHash) Add(x, y, z int) {
	h.sum += Hash3(0, x, y, z)
	h.n++
}

func (h SetHash) Sum() uint64 {
	if h.n == 0 {
		return 0
	}
	return Mix64(h.sum ^ Mix64(h.n))
}
