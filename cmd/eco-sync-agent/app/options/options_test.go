package options

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ecofleet-io/ecofleet/pkg/options"
)

func TestAgentOptionsDefaultsAreValid(t *testing.T) {
	o := NewAgentOptions()
	require.NoError(t, o.Complete())
	assert.NoError(t, o.Validate())
	assert.Equal(t, "eco-sync-agent", o.Log.Name)

	cfg, err := o.Config()
	require.NoError(t, err)
	assert.Same(t, o.QueueOptions, cfg.QueueOptions)
}

func TestAgentOptionsAggregatesErrors(t *testing.T) {
	o := NewAgentOptions()
	o.HttpOptions.Addr = "nope"
	o.QueueOptions.Concurrency = 0
	o.ConnectivityOptions.Source = options.ConnectivityMQTT
	o.MqttOptions.Broker = ""

	err := o.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "--queue.concurrency")
	assert.Contains(t, err.Error(), "--mqtt.broker")
}

func TestAgentOptionsFlags(t *testing.T) {
	fss := NewAgentOptions().Flags()
	for _, name := range []string{"http", "api", "store", "mqtt", "queue", "connectivity", "log"} {
		assert.NotNil(t, fss.FlagSets[name], name)
	}
	assert.NotNil(t, fss.FlagSet("store").Lookup("store.backend"))
}
