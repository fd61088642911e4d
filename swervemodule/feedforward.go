package swervemodule

// Feedforward is a permanent-magnet DC motor model: static friction, velocity and
// acceleration terms. Output is in volts.
type Feedforward struct {
	KS float64 `json:"ks" yaml:"ks"`
	KV float64 `json:"kv" yaml:"kv"`
	KA float64 `json:"ka" yaml:"ka"`
}

// Calculate returns the effort for holding velocity with zero acceleration.
func (ff Feedforward) Calculate(velocity float64) float64 {
	return ff.CalculateWithAcceleration(velocity, 0)
}

// CalculateWithAcceleration returns kS·sign(v) + kV·v + kA·a. sign(0) is 0, so a
// stopped wheel gets no static-friction kick.
func (ff Feedforward) CalculateWithAcceleration(velocity, acceleration float64) float64 {
	return ff.KS*sign(velocity) + ff.KV*velocity + ff.KA*acceleration
}

func sign(x float64) float64 {
	switch {
	case x > 0:
		return 1
	case x < 0:
		return -1
	default:
		return 0
	}
}
