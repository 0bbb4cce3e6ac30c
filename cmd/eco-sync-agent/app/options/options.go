package options

import (
	utilerrors "k8s.io/apimachinery/pkg/util/errors"
	cliflag "k8s.io/component-base/cli/flag"

	"github.com/ecofleet-io/ecofleet/internal/syncagent"
	"github.com/ecofleet-io/ecofleet/pkg/app"
	"github.com/ecofleet-io/ecofleet/pkg/log"
	"github.com/ecofleet-io/ecofleet/pkg/options"
)

type AgentOptions struct {
	HttpOptions         *options.HttpOptions         `json:"http" mapstructure:"http"`
	APIOptions          *options.APIOptions          `json:"api" mapstructure:"api"`
	StoreOptions        *options.StoreOptions        `json:"store" mapstructure:"store"`
	MqttOptions         *options.MqttOptions         `json:"mqtt" mapstructure:"mqtt"`
	QueueOptions        *options.QueueOptions        `json:"queue" mapstructure:"queue"`
	ConnectivityOptions *options.ConnectivityOptions `json:"connectivity" mapstructure:"connectivity"`
	Log                 *log.Options                 `json:"log" mapstructure:"log"`
}

var _ app.NamedFlagSetOptions = (*AgentOptions)(nil)

func NewAgentOptions() *AgentOptions {
	o := &AgentOptions{
		HttpOptions:         options.NewHttpOptions(),
		APIOptions:          options.NewAPIOptions(),
		StoreOptions:        options.NewStoreOptions(),
		MqttOptions:         options.NewMqttOptions(),
		QueueOptions:        options.NewQueueOptions(),
		ConnectivityOptions: options.NewConnectivityOptions(),
		Log:                 log.NewOptions(),
	}

	return o
}

func (o *AgentOptions) Flags() cliflag.NamedFlagSets {
	fss := cliflag.NamedFlagSets{}
	o.HttpOptions.AddFlags(fss.FlagSet("http"))
	o.APIOptions.AddFlags(fss.FlagSet("api"))
	o.StoreOptions.AddFlags(fss.FlagSet("store"))
	o.MqttOptions.AddFlags(fss.FlagSet("mqtt"))
	o.QueueOptions.AddFlags(fss.FlagSet("queue"))
	o.ConnectivityOptions.AddFlags(fss.FlagSet("connectivity"))
	o.Log.AddFlags(fss.FlagSet("log"))
	return fss
}

func (o *AgentOptions) Complete() error {
	if o.Log.Name == "" {
		o.Log.Name = "eco-sync-agent"
	}
	return nil
}

func (o *AgentOptions) Validate() error {
	errs := []error{}
	errs = append(errs, o.HttpOptions.Validate()...)
	errs = append(errs, o.APIOptions.Validate()...)
	errs = append(errs, o.StoreOptions.Validate()...)
	errs = append(errs, o.QueueOptions.Validate()...)
	errs = append(errs, o.ConnectivityOptions.Validate()...)
	if o.ConnectivityOptions.Source == options.ConnectivityMQTT {
		errs = append(errs, o.MqttOptions.Validate()...)
	}
	errs = append(errs, o.Log.Validate()...)
	return utilerrors.NewAggregate(errs)
}

func (o *AgentOptions) Config() (*syncagent.Config, error) {
	if o.StoreOptions.Backend == options.StoreMemory {
		log.Warn("Queued writes are lost on restart with the memory store", "backend", o.StoreOptions.Backend)
	}
	return &syncagent.Config{
		HttpOptions:         o.HttpOptions,
		APIOptions:          o.APIOptions,
		StoreOptions:        o.StoreOptions,
		MqttOptions:         o.MqttOptions,
		QueueOptions:        o.QueueOptions,
		ConnectivityOptions: o.ConnectivityOptions,
	}, nil
}
