// Package kinematics converts body-frame velocities to per-wheel raw
// speed commands for a 3-omniwheel (120 degree) mobile base, and back.
package kinematics

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/mat"
)

// Wheel names, in matrix row order.
const (
	LeftWheel  = "left_wheel"
	BackWheel  = "back_wheel"
	RightWheel = "right_wheel"
)

// AllWheels returns the wheel names in matrix row order.
func AllWheels() []string {
	return []string{LeftWheel, BackWheel, RightWheel}
}

const (
	// TicksPerRev is the encoder resolution of an STS3215 servo.
	TicksPerRev = 4096

	stepsPerDeg = float64(TicksPerRev) / 360.0

	// maxRawMagnitude is the largest raw speed the servo accepts (15 bits).
	maxRawMagnitude = 0x7FFF
)

// Wheel mounting angles, clockwise from +y: left=150, back=270, right=30.
var wheelAngleDeg = [3]float64{150, 270, 30}

// WheelCommand maps wheel names to signed raw velocity commands.
// Recomputed every control cycle, never persisted.
type WheelCommand map[string]int

// Geometry holds the base geometry and precomputed wheel projection
// matrices. Construct once with NewGeometry and share by value.
type Geometry struct {
	WheelRadius float64 // m
	BaseRadius  float64 // m, wheel-to-center distance
	MaxRaw      int     // raw speed ceiling after scaling

	m    *mat.Dense // body velocity -> wheel linear speed
	mInv *mat.Dense
}

// NewGeometry builds the wheel projection matrix and its inverse.
// The 120 degree wheel spacing guarantees invertibility for any valid
// geometry; a singular matrix means the radii are malformed.
func NewGeometry(wheelRadius, baseRadius float64, maxRaw int) (Geometry, error) {
	if wheelRadius <= 0 || baseRadius <= 0 {
		return Geometry{}, fmt.Errorf("invalid geometry: wheel radius %v, base radius %v", wheelRadius, baseRadius)
	}

	data := make([]float64, 0, 9)
	for _, deg := range wheelAngleDeg {
		a := deg * math.Pi / 180
		data = append(data, math.Cos(a), math.Sin(a), baseRadius)
	}
	m := mat.NewDense(3, 3, data)

	var inv mat.Dense
	if err := inv.Inverse(m); err != nil {
		return Geometry{}, fmt.Errorf("invert wheel matrix: %w", err)
	}

	return Geometry{
		WheelRadius: wheelRadius,
		BaseRadius:  baseRadius,
		MaxRaw:      maxRaw,
		m:           m,
		mInv:        &inv,
	}, nil
}

// BodyToWheelRaw converts a body velocity (x, y in m/s, theta in deg/s)
// to raw wheel speed commands. If any wheel would exceed MaxRaw, all
// three are scaled down uniformly so the commanded direction is kept.
func (g Geometry) BodyToWheelRaw(x, y, thetaDegPerSec float64) WheelCommand {
	thetaRad := thetaDegPerSec * math.Pi / 180
	vel := mat.NewVecDense(3, []float64{-x, -y, thetaRad})

	var lin mat.VecDense
	lin.MulVec(g.m, vel) // wheel linear speed, m/s

	wheelDegPerSec := make([]float64, 3)
	peak := 0.0
	for i := range wheelDegPerSec {
		w := lin.AtVec(i) / g.WheelRadius * 180 / math.Pi
		wheelDegPerSec[i] = w
		if raw := math.Abs(w) * stepsPerDeg; raw > peak {
			peak = raw
		}
	}

	if peak > float64(g.MaxRaw) && peak > 1e-6 {
		scale := float64(g.MaxRaw) / peak
		for i := range wheelDegPerSec {
			wheelDegPerSec[i] *= scale
		}
	}

	cmd := make(WheelCommand, 3)
	for i, name := range AllWheels() {
		cmd[name] = DegPerSecToRaw(wheelDegPerSec[i])
	}
	return cmd
}

// WheelRawToBody recovers the body velocity from raw wheel speed
// commands. Exact inverse of BodyToWheelRaw up to raw quantization,
// provided no scaling clamp was applied.
func (g Geometry) WheelRawToBody(cmd WheelCommand) (x, y, thetaDegPerSec float64) {
	lin := make([]float64, 3)
	for i, name := range AllWheels() {
		degps := RawToDegPerSec(cmd[name])
		lin[i] = degps * math.Pi / 180 * g.WheelRadius
	}

	var body mat.VecDense
	body.MulVec(g.mInv, mat.NewVecDense(3, lin))

	x = -body.AtVec(0)
	y = -body.AtVec(1)
	thetaDegPerSec = body.AtVec(2) * 180 / math.Pi
	return x, y, thetaDegPerSec
}

// DegPerSecToRaw converts a wheel angular speed to the signed raw unit
// (steps/s), clamped to +/-0x7FFF. The sign is carried by the integer
// itself; the servo's bit-15 wire packing is handled by the bus layer.
func DegPerSecToRaw(degps float64) int {
	mag := int(math.Round(math.Abs(degps) * stepsPerDeg))
	if mag > maxRawMagnitude {
		mag = maxRawMagnitude
	}
	if degps < 0 {
		return -mag
	}
	return mag
}

// RawToDegPerSec is the inverse of DegPerSecToRaw.
func RawToDegPerSec(raw int) float64 {
	return float64(raw) / stepsPerDeg
}
