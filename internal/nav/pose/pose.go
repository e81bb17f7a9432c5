// Package pose holds the agent pose model and the single store that owns it.
package pose

import (
	"fmt"
	"strings"
)

// Hard world vertical limits. Configured limits may only narrow these.
const (
	WorldMinY = -64
	WorldMaxY = 319
)

type Vec3 struct {
	X int `json:"x"`
	Y int `json:"y"`
	Z int `json:"z"`
}

func (v Vec3) Add(o Vec3) Vec3 { return Vec3{X: v.X + o.X, Y: v.Y + o.Y, Z: v.Z + o.Z} }
func (v Vec3) Sub(o Vec3) Vec3 { return Vec3{X: v.X - o.X, Y: v.Y - o.Y, Z: v.Z - o.Z} }

func (v Vec3) String() string { return fmt.Sprintf("%d,%d,%d", v.X, v.Y, v.Z) }

func Manhattan(a, b Vec3) int {
	return absInt(a.X-b.X) + absInt(a.Y-b.Y) + absInt(a.Z-b.Z)
}

var (
	Up   = Vec3{Y: 1}
	Down = Vec3{Y: -1}
)

// Facing is the horizontal heading. North is -Z, East is +X.
type Facing int

const (
	North Facing = iota
	East
	South
	West
)

var facingNames = [...]string{"north", "east", "south", "west"}

func (f Facing) Valid() bool { return f >= North && f <= West }

func (f Facing) String() string {
	if !f.Valid() {
		return fmt.Sprintf("facing(%d)", int(f))
	}
	return facingNames[f]
}

func (f Facing) Right() Facing    { return (f + 1) % 4 }
func (f Facing) Left() Facing     { return (f + 3) % 4 }
func (f Facing) Opposite() Facing { return (f + 2) % 4 }

// Delta is the unit step taken by a forward move.
func (f Facing) Delta() Vec3 {
	switch f {
	case North:
		return Vec3{Z: -1}
	case East:
		return Vec3{X: 1}
	case South:
		return Vec3{Z: 1}
	case West:
		return Vec3{X: -1}
	}
	return Vec3{}
}

// TurnsTo is the minimum number of quarter turns from f to o (0..2).
func (f Facing) TurnsTo(o Facing) int {
	d := int(o-f) & 3
	if d == 3 {
		return 1
	}
	return d
}

// FacingFromDelta maps a horizontal unit step back to its heading.
func FacingFromDelta(d Vec3) (Facing, bool) {
	if d.Y != 0 {
		return 0, false
	}
	for f := North; f <= West; f++ {
		if f.Delta() == d {
			return f, true
		}
	}
	return 0, false
}

func ParseFacing(s string) (Facing, bool) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "n", "north":
		return North, true
	case "e", "east":
		return East, true
	case "s", "south":
		return South, true
	case "w", "west":
		return West, true
	}
	return 0, false
}

type Pose struct {
	X      int    `json:"x"`
	Y      int    `json:"y"`
	Z      int    `json:"z"`
	Facing Facing `json:"facing"`
}

func At(v Vec3, f Facing) Pose { return Pose{X: v.X, Y: v.Y, Z: v.Z, Facing: f} }

func (p Pose) Pos() Vec3 { return Vec3{X: p.X, Y: p.Y, Z: p.Z} }

func (p Pose) String() string { return fmt.Sprintf("%d,%d,%d/%s", p.X, p.Y, p.Z, p.Facing) }

// Limits bounds the Y coordinate of any stored pose.
type Limits struct {
	MinY int `json:"min_y"`
	MaxY int `json:"max_y"`
}

func WorldLimits() Limits { return Limits{MinY: WorldMinY, MaxY: WorldMaxY} }

// Narrow intersects l with the world limits.
func (l Limits) Narrow() Limits {
	if l == (Limits{}) {
		return WorldLimits()
	}
	if l.MinY < WorldMinY {
		l.MinY = WorldMinY
	}
	if l.MaxY > WorldMaxY {
		l.MaxY = WorldMaxY
	}
	return l
}

func (l Limits) Contains(y int) bool { return y >= l.MinY && y <= l.MaxY }

func absInt(v int) int {
	if v < 0 {
		return -v
	}
	return v
}
