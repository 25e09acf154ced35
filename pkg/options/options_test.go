package options

import (
	"testing"
	"time"
)

func TestValidateAddress(t *testing.T) {
	tests := []struct {
		addr    string
		wantErr bool
	}{
		{"127.0.0.1:9090", false},
		{"0.0.0.0:8080", false},
		{":9090", false},
		{"localhost:9090", false},
		{"127.0.0.1", true},
		{"127.0.0.1:port", true},
		{"127.0.0.1:70000", true},
	}

	for _, tt := range tests {
		err := ValidateAddress(tt.addr)
		if (err != nil) != tt.wantErr {
			t.Errorf("ValidateAddress(%q) error = %v, wantErr %v", tt.addr, err, tt.wantErr)
		}
	}
}

func TestMqttOptions(t *testing.T) {
	o := NewMqttOptions()
	if errs := o.Validate(); len(errs) != 0 {
		t.Fatalf("defaults invalid: %v", errs)
	}

	cfg := o.ToClientConfig()
	if cfg.BrokerURL != o.Broker || cfg.KeepAlive != 60 {
		t.Errorf("unexpected client config: %+v", cfg)
	}

	o.Broker = ""
	o.KeepAlive = 0
	if errs := o.Validate(); len(errs) != 2 {
		t.Errorf("got %d errors, want 2: %v", len(errs), errs)
	}
}

func TestS3OptionsOnlyValidatedWhenEnabled(t *testing.T) {
	o := NewS3Options()
	if errs := o.Validate(); len(errs) != 0 {
		t.Fatalf("disabled options should validate: %v", errs)
	}
	o.Enabled = true
	if errs := o.Validate(); len(errs) != 1 {
		t.Errorf("got %d errors, want 1 (missing endpoint): %v", len(errs), errs)
	}
}

func TestInfluxOptions(t *testing.T) {
	o := NewInfluxOptions()
	if errs := o.Validate(); len(errs) != 0 {
		t.Fatalf("defaults invalid: %v", errs)
	}
	if o.Timeout != 10*time.Second {
		t.Errorf("timeout = %v", o.Timeout)
	}
	o.LatitudeTopic = ""
	if errs := o.Validate(); len(errs) != 1 {
		t.Errorf("got %d errors, want 1: %v", len(errs), errs)
	}
}
