package mqtt

import (
	"testing"
)

func TestTopicsMatch(t *testing.T) {
	tests := []struct {
		filter, topic string
		want          bool
	}{
		{"router/car/moving", "router/car/moving", true},
		{"router/car/moving", "router/car/running", false},
		{"router/car/+", "router/car/running", true},
		{"router/+", "router/car/running", false},
		{"router/#", "router/car/running", true},
		{"process/timelapse_trip/#", "process/timelapse_trip/alive", true},
		{"router/car/+/x", "router/car/moving", false},
	}

	for _, tt := range tests {
		if got := topicsMatch(tt.filter, tt.topic); got != tt.want {
			t.Errorf("topicsMatch(%q, %q) = %v, want %v", tt.filter, tt.topic, got, tt.want)
		}
	}
}

func TestTopicFilterStripsSharedPrefix(t *testing.T) {
	if got := topicFilter("$share/agents/router/car/+"); got != "router/car/+" {
		t.Errorf("topicFilter = %q", got)
	}
	if got := topicFilter("router/car/moving"); got != "router/car/moving" {
		t.Errorf("topicFilter = %q", got)
	}
}

func TestNewClientValidatesConfig(t *testing.T) {
	if _, err := NewClient(nil); err == nil {
		t.Error("expected error for nil config")
	}
	if _, err := NewClient(&ClientConfig{}); err == nil {
		t.Error("expected error for empty broker url")
	}
	if _, err := NewClient(&ClientConfig{BrokerURL: "localhost"}); err == nil {
		t.Error("expected error for broker url without scheme")
	}

	cfg := &ClientConfig{BrokerURL: "tcp://localhost:1883"}
	c, err := NewClient(cfg)
	if err != nil {
		t.Fatalf("NewClient: %v", err)
	}
	if cfg.KeepAlive != 60 || cfg.ConnectTimeout == 0 {
		t.Errorf("defaults not applied: %+v", cfg)
	}
	if c.IsConnected() {
		t.Error("fresh client reports connected")
	}
}

func TestWillMessage(t *testing.T) {
	c := &pahoClient{cfg: &ClientConfig{}}
	if c.willMessage() != nil {
		t.Error("expected nil will without topic")
	}

	c.cfg.WillTopic = "process/timelapse_trip/alive"
	c.cfg.WillPayload = []byte("False")
	c.cfg.WillQoS = 1
	w := c.willMessage()
	if w == nil || w.Topic != c.cfg.WillTopic || string(w.Payload) != "False" || w.QoS != 1 {
		t.Errorf("unexpected will: %+v", w)
	}
}
