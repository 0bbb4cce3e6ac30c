package syncagent

import (
	"context"
	"fmt"
	"os"

	"github.com/ecofleet-io/ecofleet/internal/apiclient"
	"github.com/ecofleet-io/ecofleet/internal/connectivity"
	"github.com/ecofleet-io/ecofleet/internal/dashboard"
	"github.com/ecofleet-io/ecofleet/internal/offline"
	"github.com/ecofleet-io/ecofleet/internal/pkg/kv"
	"github.com/ecofleet-io/ecofleet/internal/server"
	"github.com/ecofleet-io/ecofleet/internal/snapshot"
	"github.com/ecofleet-io/ecofleet/pkg/log"
	"github.com/ecofleet-io/ecofleet/pkg/mqtt"
	"github.com/ecofleet-io/ecofleet/pkg/mqtt/topic"
	"github.com/ecofleet-io/ecofleet/pkg/options"
)

// statusService is the service name the API publishes its status under.
const statusService = "api"

type Config struct {
	HttpOptions         *options.HttpOptions
	APIOptions          *options.APIOptions
	StoreOptions        *options.StoreOptions
	MqttOptions         *options.MqttOptions
	QueueOptions        *options.QueueOptions
	ConnectivityOptions *options.ConnectivityOptions
}

// NewAgent opens the store, restores the write queue and wires every
// component. The store is closed by Agent.Run.
func (cfg *Config) NewAgent(ctx context.Context) (*Agent, error) {
	store, err := kv.New(ctx, cfg.StoreOptions)
	if err != nil {
		return nil, fmt.Errorf("failed to open %s store: %w", cfg.StoreOptions.Backend, err)
	}

	agent, err := cfg.newAgent(ctx, store)
	if err != nil {
		store.Close()
		return nil, err
	}
	return agent, nil
}

func (cfg *Config) newAgent(ctx context.Context, store kv.Store) (*Agent, error) {
	client, err := apiclient.New(cfg.APIOptions, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to init api client: %w", err)
	}

	signal := connectivity.NewSignal(false)
	source, err := cfg.connectivitySource(client, signal)
	if err != nil {
		return nil, err
	}

	cache := snapshot.NewCache(store, nil)
	queue, err := offline.NewQueue(ctx, store, client, cfg.QueueOptions,
		offline.WithReconciler(cache),
		offline.WithConnectivity(signal),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to restore write queue: %w", err)
	}

	reports := dashboard.NewService(client, cache, snapshot.NewGuard(), signal, nil)

	serverConfig := &server.Config{
		HttpOptions:  cfg.HttpOptions,
		Reports:      reports,
		Queue:        &writes{Queue: queue, cache: cache},
		Connectivity: signal,
	}
	srvManager := server.NewManager(serverConfig, server.ServerFunc(queue.Run), source)

	return &Agent{
		store:         store,
		signal:        signal,
		queue:         queue,
		reports:       reports,
		serverManager: srvManager,
		logger:        log.WithName("syncagent"),
	}, nil
}

// connectivitySource builds the component that drives signal.
func (cfg *Config) connectivitySource(client *apiclient.Client, signal *connectivity.Signal) (server.Server, error) {
	switch cfg.ConnectivityOptions.Source {
	case options.ConnectivityMQTT:
		var watcher *connectivity.MQTTWatcher

		mqttConfig := cfg.MqttOptions.ToClientConfig()
		if mqttConfig.ClientID == "" {
			hostname, _ := os.Hostname()
			mqttConfig.ClientID = fmt.Sprintf("eco-sync-agent-%s", hostname)
		}
		mqttConfig.OnConnectionChange = func(connected bool) {
			watcher.OnConnectionChange(connected)
		}

		mqttClient, err := mqtt.NewClient(mqttConfig)
		if err != nil {
			return nil, fmt.Errorf("failed to init mqtt client: %w", err)
		}
		watcher = connectivity.NewMQTTWatcher(mqttClient, topic.NewTopicBuilder(cfg.MqttOptions.TopicRoot).Status(statusService), signal)
		return server.ServerFunc(watcher.Run), nil
	default:
		prober := connectivity.NewProber(client, signal, cfg.ConnectivityOptions, nil)
		return server.ServerFunc(prober.Run), nil
	}
}
