package app

import (
	"fmt"
	"os"

	genericapiserver "k8s.io/apiserver/pkg/server"

	"github.com/ecofleet-io/ecofleet/cmd/eco-report/app/options"
	"github.com/ecofleet-io/ecofleet/internal/apiclient"
	"github.com/ecofleet-io/ecofleet/internal/report"
	"github.com/ecofleet-io/ecofleet/pkg/app"
	"github.com/ecofleet-io/ecofleet/pkg/log"
)

const (
	commandName = "eco-report"
	commandDesc = `eco-report reads offices, vehicles and emission tests from the ecofleet API
and prints the compliance of every office for a year or quarter, followed by the
fleet-wide summary.`
)

func NewApp() *app.App {
	opts := options.NewReportOptions()
	return app.NewApp(
		commandName,
		"Print office emission compliance",
		app.WithDescription(commandDesc),
		app.WithOptions(opts),
		app.WithDefaultValidArgs(),
		app.WithRunFunc(run(opts)),
	)
}

func run(opts *options.ReportOptions) app.RunFunc {
	return func() error {
		log.Init(opts.Log)

		ctx := genericapiserver.SetupSignalContext()

		client, err := apiclient.New(opts.APIOptions, nil)
		if err != nil {
			return err
		}

		result, err := report.Build(ctx, client, opts.Period())
		if err != nil {
			return fmt.Errorf("failed to build report: %w", err)
		}

		if opts.Output == options.OutputJSON {
			return result.WriteJSON(os.Stdout)
		}
		return result.WriteTable(os.Stdout)
	}
}
