// Package hub connects the agent to the vehicle's MQTT broker.
package hub

import (
	"context"
	"maps"
	"slices"
	"time"

	"github.com/capsule-io/timelapse-trip/pkg/log"
	"github.com/capsule-io/timelapse-trip/pkg/mqtt"
)

const disconnectTimeout = 5 * time.Second

type Hub struct {
	mc     mqtt.Client
	routes map[string]mqtt.MessageHandler
}

var _ mqtt.Publisher = (*Hub)(nil)

// New returns a hub that subscribes every topic in routes once started.
func New(client mqtt.Client, routes map[string]mqtt.MessageHandler) *Hub {
	return &Hub{
		mc:     client,
		routes: routes,
	}
}

func (h *Hub) Publish(ctx context.Context, topic string, qos int, retain bool, payload []byte) error {
	return h.mc.Publish(ctx, topic, qos, retain, payload)
}

func (h *Hub) IsConnected() bool {
	return h.mc.IsConnected()
}

// Start connects, waits for the first connection and subscribes the routes.
// Handlers receive ctx, so a handler blocked on a full queue returns once ctx
// is done. A failed SUBSCRIBE is not fatal: the route is registered and the
// client re-subscribes it after every reconnect.
func (h *Hub) Start(ctx context.Context) error {
	if err := h.mc.Start(ctx); err != nil {
		return err
	}

	if err := h.mc.AwaitConnection(ctx); err != nil {
		return err
	}

	for _, topic := range slices.Sorted(maps.Keys(h.routes)) {
		if err := h.mc.Subscribe(ctx, topic, 1, bind(ctx, h.routes[topic])); err != nil {
			log.Error(err, "Failed to subscribe, retrying on the next connection", "topic", topic)
		}
	}
	return nil
}

func bind(ctx context.Context, handler mqtt.MessageHandler) mqtt.MessageHandler {
	return func(_ context.Context, topic string, payload []byte) {
		handler(ctx, topic, payload)
	}
}

func (h *Hub) Stop() {
	log.Info("Disconnecting MQTT client...")
	ctx, cancel := context.WithTimeout(context.Background(), disconnectTimeout)
	defer cancel()
	h.mc.Disconnect(ctx)
}
