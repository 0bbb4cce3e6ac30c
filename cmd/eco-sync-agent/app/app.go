package app

import (
	"fmt"

	genericapiserver "k8s.io/apiserver/pkg/server"

	"github.com/ecofleet-io/ecofleet/cmd/eco-sync-agent/app/options"
	"github.com/ecofleet-io/ecofleet/pkg/app"
	"github.com/ecofleet-io/ecofleet/pkg/log"
)

const (
	commandName = "eco-sync-agent"
	commandDesc = `The ecofleet sync agent runs next to the dashboard UI. It serves office
compliance reports from the ecofleet API, falls back to the last cached snapshot
while the API is unreachable, and queues writes made offline to replay them once
connectivity returns.`
)

func NewApp() *app.App {
	opts := options.NewAgentOptions()
	application := app.NewApp(
		commandName,
		"Launch the ecofleet sync agent",
		app.WithDescription(commandDesc),
		app.WithOptions(opts),
		app.WithDefaultValidArgs(),
		app.WithWatchConfig(),
		app.WithRunFunc(run(opts)),
	)
	return application
}

func run(opts *options.AgentOptions) app.RunFunc {
	return func() error {
		log.Init(opts.Log)

		ctx := genericapiserver.SetupSignalContext()

		cfg, err := opts.Config()
		if err != nil {
			return fmt.Errorf("failed to load configuration: %w", err)
		}

		agent, err := cfg.NewAgent(ctx)
		if err != nil {
			return fmt.Errorf("failed to create agent: %w", err)
		}

		return agent.Run(ctx)
	}
}
