package main

import (
	goutils "go.viam.com/utils"

	"swerve/swervemodule"
)

const (
	defaultChannel   = "can0"
	defaultMQTTTopic = "swerve"
)

// Config is the native config of one swerve module.
type Config struct {
	CANChannel           string  `json:"can_channel,omitempty"`
	ModuleNumber         int     `json:"module_number"`
	DriveMotorID         int     `json:"drive_motor_id"`
	TurnMotorID          int     `json:"turn_motor_id"`
	EncoderID            int     `json:"encoder_id"`
	EncoderOffsetDegrees float64 `json:"encoder_offset_degrees"`

	MaxVelocityMetersPerSecond        float64  `json:"max_velocity_mps,omitempty"`
	AngleHoldThresholdMetersPerSecond *float64 `json:"angle_hold_threshold_mps,omitempty"`

	MQTTBroker string `json:"mqtt_broker,omitempty"`
	MQTTTopic  string `json:"mqtt_topic,omitempty"`
}

// Validate ensures all parts of the config are valid.
func (cfg *Config) Validate(path string) ([]string, error) {
	if cfg.DriveMotorID == 0 {
		return nil, goutils.NewConfigValidationFieldRequiredError(path, "drive_motor_id")
	}
	if cfg.TurnMotorID == 0 {
		return nil, goutils.NewConfigValidationFieldRequiredError(path, "turn_motor_id")
	}
	if cfg.EncoderID == 0 {
		return nil, goutils.NewConfigValidationFieldRequiredError(path, "encoder_id")
	}
	if err := cfg.calibration().Validate(); err != nil {
		return nil, goutils.NewConfigValidationError(path, err)
	}
	if err := cfg.constants().Validate(); err != nil {
		return nil, goutils.NewConfigValidationError(path, err)
	}
	return nil, nil
}

func (cfg *Config) channel() string {
	if cfg.CANChannel == "" {
		return defaultChannel
	}
	return cfg.CANChannel
}

func (cfg *Config) topic() string {
	if cfg.MQTTTopic == "" {
		return defaultMQTTTopic
	}
	return cfg.MQTTTopic
}

func (cfg *Config) calibration() swervemodule.Calibration {
	return swervemodule.Calibration{
		Number:        cfg.ModuleNumber,
		DriveMotorID:  cfg.DriveMotorID,
		TurnMotorID:   cfg.TurnMotorID,
		EncoderID:     cfg.EncoderID,
		OffsetDegrees: cfg.EncoderOffsetDegrees,
	}
}

func (cfg *Config) constants() swervemodule.Constants {
	c := swervemodule.DefaultConstants()
	if cfg.MaxVelocityMetersPerSecond != 0 {
		c.MaxVelocityMetersPerSecond = cfg.MaxVelocityMetersPerSecond
	}
	c.AngleHoldThresholdMetersPerSecond = cfg.AngleHoldThresholdMetersPerSecond
	return c
}
