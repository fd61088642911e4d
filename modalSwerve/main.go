// Package main is a viam module exposing one swerve drive wheel as a generic component.
package main

import (
	"context"

	goutils "go.viam.com/utils"

	"go.viam.com/rdk/components/generic"
	"go.viam.com/rdk/logging"
	"go.viam.com/rdk/module"
	"go.viam.com/rdk/resource"
)

var model = resource.NewModel("intermode", "modal", "swerve-module")

// Version number
var version = "0.1.0"

func main() {
	goutils.ContextualMain(mainWithArgs, logging.NewDebugLogger("swerveModule"))
}

func mainWithArgs(ctx context.Context, args []string, logger logging.Logger) (err error) {
	logger.Infow("starting swerve module", "version", version)
	registerSwerveModule()
	swerveModule, err := module.NewModuleFromArgs(ctx, logger)
	if err != nil {
		return err
	}
	swerveModule.AddModelFromRegistry(ctx, generic.API, model)

	err = swerveModule.Start(ctx)
	defer swerveModule.Close(ctx)

	if err != nil {
		return err
	}
	<-ctx.Done()
	return nil
}

// registerSwerveModule adds the constructor and config type to the component registry.
func registerSwerveModule() {
	resource.RegisterComponent(
		generic.API,
		model,
		resource.Registration[resource.Resource, *Config]{Constructor: func(
			ctx context.Context,
			deps resource.Dependencies,
			conf resource.Config,
			logger logging.Logger,
		) (resource.Resource, error) {
			return newSwerveModule(ctx, conf, logger)
		}})
}
