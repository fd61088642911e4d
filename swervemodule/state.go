package swervemodule

import (
	"math"

	"github.com/golang/geo/s1"
)

// State is the desired or measured motion of one wheel.
type State struct {
	SpeedMetersPerSecond float64
	Angle                s1.Angle
}

// Position is the odometry snapshot of one wheel. Distance accumulates and does not
// wrap; Angle does.
type Position struct {
	DistanceMeters float64
	Angle          s1.Angle
}

// Optimize returns a state equivalent to desired that needs at most a quarter turn
// from current. When the shortest rotation to desired is more than π/2 the wheel is
// pointed the opposite way and driven backwards instead. A delta of exactly π/2 is
// left alone.
func Optimize(desired State, current s1.Angle) State {
	delta := (desired.Angle - current).Normalized()
	if math.Abs(delta.Radians()) > math.Pi/2 {
		return State{
			SpeedMetersPerSecond: -desired.SpeedMetersPerSecond,
			Angle:                (desired.Angle + math.Pi).Normalized(),
		}
	}
	return desired
}
