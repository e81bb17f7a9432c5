package voxel

import (
	"turtlecraft.ai/internal/nav/pose"
	"turtlecraft.ai/internal/sim/mathx"
)

// Terrain is a deterministic layered generator: air above SurfaceY, a dirt
// crust, stone with hashed pockets of caves, gravel and lava, and bedrock at
// and below BedrockY. A clear radius around the origin keeps spawn open.
type Terrain struct {
	Seed           int64 `yaml:"seed"`
	SurfaceY       int   `yaml:"surface_y"`
	BedrockY       int   `yaml:"bedrock_y"`
	CavePermille   int   `yaml:"cave_permille"`
	GravelPermille int   `yaml:"gravel_permille"`
	LavaPermille   int   `yaml:"lava_permille"`
	ClearRadius    int   `yaml:"clear_radius"`
}

func DefaultTerrain(seed int64) Terrain {
	return Terrain{
		Seed:           seed,
		SurfaceY:       63,
		BedrockY:       -64,
		CavePermille:   120,
		GravelPermille: 40,
		LavaPermille:   5,
		ClearRadius:    4,
	}
}

func (t Terrain) Block(v pose.Vec3) Block {
	if v.Y <= t.BedrockY {
		return Bedrock
	}
	if v.Y > t.SurfaceY {
		return Air
	}
	if t.ClearRadius > 0 && v.X*v.X+v.Z*v.Z <= t.ClearRadius*t.ClearRadius && v.Y > t.SurfaceY-t.ClearRadius {
		return Air
	}
	if v.Y >= t.SurfaceY-2 {
		return Dirt
	}
	roll := int(mathx.Hash3(t.Seed, v.X, v.Y, v.Z) % 1000)
	switch {
	case roll < clampPermille(t.LavaPermille):
		return Lava
	case roll < clampPermille(t.LavaPermille+t.GravelPermille):
		return Gravel
	case roll < clampPermille(t.LavaPermille+t.GravelPermille+t.CavePermille):
		return Air
	}
	return Stone
}

func (t Terrain) Generator() Generator { return t.Block }

func clampPermille(v int) int {
	if v < 0 {
		return 0
	}
	if v > 1000 {
		return 1000
	}
	return v
}
