package swervemodule

import (
	"os"

	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"
)

// maxDeviceID is the highest device number a CAN arbitration id can carry.
const maxDeviceID = 62

// Calibration identifies one module's devices and maps its absolute sensor's raw zero
// to the robot's "wheel forward".
type Calibration struct {
	Number        int     `json:"module_number" yaml:"module_number"`
	DriveMotorID  int     `json:"drive_motor_id" yaml:"drive_motor_id"`
	TurnMotorID   int     `json:"turn_motor_id" yaml:"turn_motor_id"`
	EncoderID     int     `json:"encoder_id" yaml:"encoder_id"`
	OffsetDegrees float64 `json:"encoder_offset_degrees" yaml:"encoder_offset_degrees"`
}

// Validate checks device ids are addressable and distinct.
func (c Calibration) Validate() error {
	for _, id := range []struct {
		name  string
		value int
	}{
		{"drive_motor_id", c.DriveMotorID},
		{"turn_motor_id", c.TurnMotorID},
		{"encoder_id", c.EncoderID},
	} {
		if id.value < 1 || id.value > maxDeviceID {
			return errors.Errorf("module %d: %s must be between 1 and %d, got %d", c.Number, id.name, maxDeviceID, id.value)
		}
	}
	if c.DriveMotorID == c.TurnMotorID {
		return errors.Errorf("module %d: drive and turn motors share id %d", c.Number, c.DriveMotorID)
	}
	return nil
}

// File is a drivetrain description read from YAML.
type File struct {
	Channel                           string        `yaml:"can_channel"`
	MaxVelocityMetersPerSecond        float64       `yaml:"max_velocity_mps"`
	AngleHoldThresholdMetersPerSecond *float64      `yaml:"angle_hold_threshold_mps,omitempty"`
	Modules                           []Calibration `yaml:"modules"`
}

// LoadFile reads and validates a drivetrain description.
func LoadFile(path string) (*File, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrap(err, "read config file")
	}

	var f File
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, errors.Wrap(err, "unmarshal yaml")
	}

	if f.Channel == "" {
		f.Channel = "can0"
	}
	if f.MaxVelocityMetersPerSecond < 0 {
		return nil, errors.Errorf("max_velocity_mps must be >= 0, got %.2f", f.MaxVelocityMetersPerSecond)
	}
	if len(f.Modules) == 0 {
		return nil, errors.New("at least one module is required")
	}

	numbers := map[int]bool{}
	motors := map[int]int{}
	encoders := map[int]int{}
	for _, m := range f.Modules {
		if err := m.Validate(); err != nil {
			return nil, err
		}
		if numbers[m.Number] {
			return nil, errors.Errorf("module number %d used twice", m.Number)
		}
		numbers[m.Number] = true
		for _, id := range []int{m.DriveMotorID, m.TurnMotorID} {
			if other, ok := motors[id]; ok {
				return nil, errors.Errorf("motor id %d used by modules %d and %d", id, other, m.Number)
			}
			motors[id] = m.Number
		}
		if other, ok := encoders[m.EncoderID]; ok {
			return nil, errors.Errorf("encoder id %d used by modules %d and %d", m.EncoderID, other, m.Number)
		}
		encoders[m.EncoderID] = m.Number
	}

	return &f, nil
}

// Constants returns DefaultConstants with the file's overrides applied.
func (f *File) Constants() Constants {
	c := DefaultConstants()
	if f.MaxVelocityMetersPerSecond > 0 {
		c.MaxVelocityMetersPerSecond = f.MaxVelocityMetersPerSecond
	}
	c.AngleHoldThresholdMetersPerSecond = f.AngleHoldThresholdMetersPerSecond
	return c
}
