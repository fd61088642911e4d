// Package main reads every module's absolute encoder and prints the offsets needed to
// calibrate a swerve drivetrain. Point all wheels forward before running it.
package main

import (
	"context"
	"fmt"
	"io"
	"os"

	"github.com/pkg/errors"
	goutils "go.viam.com/utils"

	"go.viam.com/rdk/logging"

	"swerve/bus"
	"swerve/cancoder"
	"swerve/swervemodule"
)

// Arguments for the command.
type Arguments struct {
	ConfigFile string `flag:"0,required,usage=drivetrain yaml file"`
}

func main() {
	goutils.ContextualMain(mainWithArgs, logging.NewDebugLogger("swervecal"))
}

func mainWithArgs(ctx context.Context, args []string, logger logging.Logger) error {
	var argsParsed Arguments
	if err := goutils.ParseFlags(args, &argsParsed); err != nil {
		return err
	}

	f, err := swervemodule.LoadFile(argsParsed.ConfigFile)
	if err != nil {
		return err
	}

	b, err := bus.Open(f.Channel, logger)
	if err != nil {
		return err
	}
	defer func() {
		if err := b.Close(); err != nil {
			logger.Warnw("closing bus", "error", err)
		}
	}()

	sensor := f.Constants().SensorConfig()
	logger.Infow("reading absolute encoders", "channel", f.Channel, "modules", len(f.Modules), "reversed", sensor.Reversed)

	readings := make([]reading, 0, len(f.Modules))
	for _, m := range f.Modules {
		r, err := readModule(ctx, b, m, sensor, logger)
		if err != nil {
			return errors.Wrapf(err, "module %d", m.Number)
		}
		readings = append(readings, r)
	}

	printReadings(os.Stdout, readings)
	return nil
}

// readModule configures the module's encoder the way the module controller does, so
// the printed angles are in the same frame the offsets are applied in.
func readModule(
	ctx context.Context,
	conn bus.Conn,
	m swervemodule.Calibration,
	sensor swervemodule.SensorConfig,
	logger logging.Logger,
) (reading, error) {
	enc, err := cancoder.New(conn, uint8(m.EncoderID), logger)
	if err != nil {
		return reading{}, err
	}
	//nolint:errcheck
	defer enc.Close()

	if err := enc.ConfigFactoryDefault(ctx); err != nil {
		return reading{}, err
	}
	if err := enc.ConfigAll(ctx, sensor); err != nil {
		return reading{}, err
	}
	raw, err := enc.AbsolutePosition(ctx)
	if err != nil {
		return reading{}, err
	}
	logger.Debugw("encoder read", "module", m.Number, "encoder_id", m.EncoderID, "degrees", raw)
	return newReading(m, raw), nil
}

type reading struct {
	module    int
	raw       float64
	offset    float64
	corrected float64
	zeroing   float64
}

func newReading(m swervemodule.Calibration, raw float64) reading {
	return reading{
		module:    m.Number,
		raw:       raw,
		offset:    m.OffsetDegrees,
		corrected: swervemodule.SeedAngle(raw, m.OffsetDegrees).Degrees(),
		zeroing:   swervemodule.SeedAngle(-raw, 0).Degrees(),
	}
}

func printReadings(w io.Writer, readings []reading) {
	fmt.Fprintf(w, "%-8s %10s %10s %10s %16s\n", "module", "raw", "offset", "corrected", "zeroing offset")
	for _, r := range readings {
		fmt.Fprintf(w, "%-8d %10.2f %10.2f %10.2f %16.2f\n", r.module, r.raw, r.offset, r.corrected, r.zeroing)
	}
}
