package pose

import (
	"bytes"
	"encoding/json"
	"fmt"
	"math"
	"strings"

	"turtlecraft.ai/internal/nav/failure"
)

// Validate rejects poses with an unknown facing or a Y outside limits.
func Validate(p Pose, limits Limits) error {
	if !p.Facing.Valid() {
		return failure.New(failure.CodeInvalidPose, "facing %d out of range", int(p.Facing))
	}
	if !limits.Contains(p.Y) {
		return failure.New(failure.CodeInvalidPose, "y=%d outside vertical limits [%d,%d]", p.Y, limits.MinY, limits.MaxY)
	}
	return nil
}

// FromFields builds a Pose from loosely typed input (decoded JSON, wire
// messages, CLI). Coordinates must be integer-valued numbers; strings are
// rejected even when they look numeric, since a string Y compares
// lexically and breaks sign-based boundary checks.
func FromFields(fields map[string]any) (Pose, error) {
	var p Pose
	var err error
	if p.X, err = intField(fields, "x"); err != nil {
		return Pose{}, err
	}
	if p.Y, err = intField(fields, "y"); err != nil {
		return Pose{}, err
	}
	if p.Z, err = intField(fields, "z"); err != nil {
		return Pose{}, err
	}
	raw, ok := fields["facing"]
	if !ok || raw == nil {
		return p, nil
	}
	if s, isStr := raw.(string); isStr {
		f, ok := ParseFacing(s)
		if !ok {
			return Pose{}, failure.New(failure.CodeInvalidPose, "facing %q is not a heading name", s)
		}
		p.Facing = f
		return p, nil
	}
	n, err := toInt("facing", raw)
	if err != nil {
		return Pose{}, err
	}
	p.Facing = Facing(n)
	if !p.Facing.Valid() {
		return Pose{}, failure.New(failure.CodeInvalidPose, "facing %d out of range", n)
	}
	return p, nil
}

// DecodeJSON applies the FromFields rules to a JSON object.
func DecodeJSON(b []byte) (Pose, error) {
	dec := json.NewDecoder(bytes.NewReader(b))
	dec.UseNumber()
	var fields map[string]any
	if err := dec.Decode(&fields); err != nil {
		return Pose{}, failure.Wrap(failure.CodeInvalidPose, err, "decode pose")
	}
	return FromFields(fields)
}

func intField(fields map[string]any, key string) (int, error) {
	raw, ok := fields[key]
	if !ok || raw == nil {
		return 0, failure.New(failure.CodeInvalidPose, "missing %s", key)
	}
	return toInt(key, raw)
}

func toInt(key string, raw any) (int, error) {
	switch v := raw.(type) {
	case int:
		return v, nil
	case int8:
		return int(v), nil
	case int16:
		return int(v), nil
	case int32:
		return int(v), nil
	case int64:
		return int(v), nil
	case uint8:
		return int(v), nil
	case uint16:
		return int(v), nil
	case uint32:
		return int(v), nil
	case float32:
		return floatToInt(key, float64(v))
	case float64:
		return floatToInt(key, v)
	case json.Number:
		if strings.ContainsAny(v.String(), ".eE") {
			f, err := v.Float64()
			if err != nil {
				return 0, failure.Wrap(failure.CodeInvalidPose, err, "%s", key)
			}
			return floatToInt(key, f)
		}
		n, err := v.Int64()
		if err != nil {
			return 0, failure.Wrap(failure.CodeInvalidPose, err, "%s", key)
		}
		return int(n), nil
	case string:
		return 0, failure.New(failure.CodeInvalidPose, "%s is a string (%q), want a number", key, v)
	}
	return 0, failure.New(failure.CodeInvalidPose, "%s has type %s, want a number", key, fmt.Sprintf("%T", raw))
}

func floatToInt(key string, f float64) (int, error) {
	if math.IsNaN(f) || math.IsInf(f, 0) || f != math.Trunc(f) {
		return 0, failure.New(failure.CodeInvalidPose, "%s=%v is not an integer", key, f)
	}
	if f > math.MaxInt32 || f < math.MinInt32 {
		return 0, failure.New(failure.CodeInvalidPose, "%s=%v out of range", key, f)
	}
	return int(f), nil
}
