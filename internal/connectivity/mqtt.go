package connectivity

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/ecofleet-io/ecofleet/pkg/log"
	"github.com/ecofleet-io/ecofleet/pkg/mqtt"
)

// MQTTWatcher follows the retained status topic the API publishes and drives
// a Signal from it. Losing the broker connection counts as offline.
type MQTTWatcher struct {
	client mqtt.Client
	topic  string
	signal *Signal
	logger log.Logger
}

func NewMQTTWatcher(client mqtt.Client, topic string, signal *Signal) *MQTTWatcher {
	return &MQTTWatcher{
		client: client,
		topic:  topic,
		signal: signal,
		logger: log.WithName("mqtt-watcher"),
	}
}

// OnConnectionChange is meant for mqtt.ClientConfig.OnConnectionChange. A
// restored broker connection does not mean the API is back; the retained
// status message delivered on resubscribe decides that.
func (w *MQTTWatcher) OnConnectionChange(connected bool) {
	if !connected {
		w.signal.Set(false)
	}
}

// Run connects, subscribes to the status topic and blocks until ctx is done.
func (w *MQTTWatcher) Run(ctx context.Context) error {
	if err := w.client.Start(ctx); err != nil {
		return fmt.Errorf("failed to start mqtt client: %w", err)
	}
	defer func() {
		w.client.Disconnect(context.WithoutCancel(ctx))
		w.signal.Set(false)
	}()

	if err := w.client.AwaitConnection(ctx); err != nil {
		if ctx.Err() != nil {
			return nil
		}
		return fmt.Errorf("failed to connect to mqtt broker: %w", err)
	}

	if err := w.client.Subscribe(ctx, w.topic, 1, w.handle); err != nil {
		return fmt.Errorf("failed to subscribe to %s: %w", w.topic, err)
	}
	w.logger.Info("Watching API status", "topic", w.topic)

	<-ctx.Done()
	return nil
}

func (w *MQTTWatcher) handle(_ context.Context, topic string, payload []byte) {
	online, ok := parseStatus(payload)
	if !ok {
		w.logger.Warn("Ignoring unrecognized status message", "topic", topic, "payload", string(payload))
		return
	}
	w.signal.Set(online)
}

// parseStatus accepts {"online": true}, {"status": "online"} or a bare
// "online" / "offline".
func parseStatus(payload []byte) (bool, bool) {
	var msg struct {
		Online *bool  `json:"online"`
		Status string `json:"status"`
	}
	if err := json.Unmarshal(payload, &msg); err == nil {
		if msg.Online != nil {
			return *msg.Online, true
		}
		return statusWord(msg.Status)
	}
	return statusWord(string(payload))
}

func statusWord(s string) (bool, bool) {
	switch strings.Trim(strings.ToLower(s), "\" \t\r\n") {
	case "online", "up":
		return true, true
	case "offline", "down":
		return false, true
	}
	return false, false
}
