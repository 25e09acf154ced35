package hal

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/capsule-io/timelapse-trip/pkg/log"
)

// Accessory is a device powered alongside the camera, e.g. an illumination
// light switched by a digital output of the vehicle router.
type Accessory interface {
	PowerOn(ctx context.Context) error
}

// NewAccessory returns an accessory switched by an HTTP GET on url. An empty
// url yields an accessory that does nothing.
func NewAccessory(url string, timeout time.Duration) Accessory {
	if url == "" {
		return noopAccessory{}
	}
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &httpAccessory{
		url:    url,
		client: &http.Client{Timeout: timeout},
	}
}

type httpAccessory struct {
	url    string
	client *http.Client
}

func (a *httpAccessory) PowerOn(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, a.url, nil)
	if err != nil {
		return fmt.Errorf("failed to build power-on request: %w", err)
	}

	resp, err := a.client.Do(req)
	if err != nil {
		return fmt.Errorf("power-on request failed: %w", err)
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return fmt.Errorf("power-on request returned %s", resp.Status)
	}
	return nil
}

type noopAccessory struct{}

func (noopAccessory) PowerOn(context.Context) error {
	log.Debug("No accessory configured, skipping power-on")
	return nil
}
