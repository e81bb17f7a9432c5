// Package voxel is a sparse simulated voxel world with a simulated turtle. It
// backs the tests and the sim-host command.
package voxel

import (
	"sort"
	"sync"

	"turtlecraft.ai/internal/nav/pose"
)

type Block uint8

const (
	Air Block = iota
	Stone
	Dirt
	Gravel
	Bedrock
	Water
	Lava
)

var blockNames = [...]string{"air", "stone", "dirt", "gravel", "bedrock", "water", "lava"}

func (b Block) String() string {
	if int(b) < len(blockNames) {
		return blockNames[b]
	}
	return "unknown"
}

// Solid blocks stop movement. Liquids can be moved through.
func (b Block) Solid() bool {
	switch b {
	case Stone, Dirt, Gravel, Bedrock:
		return true
	}
	return false
}

func (b Block) Breakable() bool { return b.Solid() && b != Bedrock }

// Generator yields the untouched block at a position.
type Generator func(v pose.Vec3) Block

func Empty(pose.Vec3) Block { return Air }

// World stores edits over a generator; nothing is materialized up front.
type World struct {
	mu    sync.RWMutex
	gen   Generator
	edits map[pose.Vec3]Block
}

func NewWorld(gen Generator) *World {
	if gen == nil {
		gen = Empty
	}
	return &World{gen: gen, edits: map[pose.Vec3]Block{}}
}

func (w *World) Block(v pose.Vec3) Block {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.blockLocked(v)
}

func (w *World) blockLocked(v pose.Vec3) Block {
	if b, ok := w.edits[v]; ok {
		return b
	}
	return w.gen(v)
}

func (w *World) SetBlock(v pose.Vec3, b Block) {
	w.mu.Lock()
	w.edits[v] = b
	w.mu.Unlock()
}

// Fill sets every position in the inclusive box to b.
func (w *World) Fill(min, max pose.Vec3, b Block) {
	w.mu.Lock()
	defer w.mu.Unlock()
	for x := min.X; x <= max.X; x++ {
		for y := min.Y; y <= max.Y; y++ {
			for z := min.Z; z <= max.Z; z++ {
				w.edits[pose.Vec3{X: x, Y: y, Z: z}] = b
			}
		}
	}
}

// Dig removes a breakable block. Gravel directly above falls into the hole.
func (w *World) Dig(v pose.Vec3) (Block, bool) {
	w.mu.Lock()
	defer w.mu.Unlock()
	b := w.blockLocked(v)
	if !b.Breakable() {
		return b, false
	}
	above := v.Add(pose.Up)
	if w.blockLocked(above) == Gravel {
		w.edits[v] = Gravel
		w.edits[above] = Air
		return b, true
	}
	w.edits[v] = Air
	return b, true
}

// Edits lists modified positions in a stable order.
func (w *World) Edits() []pose.Vec3 {
	w.mu.RLock()
	defer w.mu.RUnlock()
	out := make([]pose.Vec3, 0, len(w.edits))
	for v := range w.edits {
		out = append(out, v)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].X != out[j].X {
			return out[i].X < out[j].X
		}
		if out[i].Y != out[j].Y {
			return out[i].Y < out[j].Y
		}
		return out[i].Z < out[j].Z
	})
	return out
}
