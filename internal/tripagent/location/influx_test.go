package location

import (
	"context"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"
	"time"
)

func TestInfluxSourceQuery(t *testing.T) {
	requests := make(chan url.Values, 1)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requests <- r.URL.Query()
		w.Header().Set("Content-Type", "application/json")
		w.Header().Set("X-Influxdb-Version", "1.8.10")
		_, _ = w.Write([]byte(`{"results":[{"statement_id":0,"series":[{"name":"mqtt_consumer",` +
			`"columns":["time","value"],"values":[[1717232400000000000,45.5],[1717232401500000000,45.25]]}]}]}`))
	}))
	defer srv.Close()

	src, err := NewInfluxSource(InfluxConfig{
		Addr:            srv.URL,
		Database:        "telegraf",
		RetentionPolicy: "autogen",
		Measurement:     "mqtt_consumer",
		Timeout:         time.Second,
		Topics:          map[Field]string{Latitude: "/gps_measure/latitude"},
	})
	if err != nil {
		t.Fatal(err)
	}

	start := time.Date(2024, 6, 1, 9, 0, 0, 0, time.UTC)
	samples, err := src.Query(context.Background(), Latitude, start, start.Add(time.Minute))
	if err != nil {
		t.Fatalf("Query() error = %v", err)
	}

	got := <-requests
	if want := `SELECT "value" FROM "autogen"."mqtt_consumer" WHERE "topic" = $topic AND time >= $start AND time <= $end ORDER BY time ASC`; got.Get("q") != want {
		t.Errorf("query = %s", got.Get("q"))
	}
	if got.Get("epoch") != "ns" {
		t.Errorf("epoch = %q, want ns", got.Get("epoch"))
	}
	if got.Get("params") == "" {
		t.Error("no bound parameters sent")
	}

	if len(samples) != 2 {
		t.Fatalf("got %d samples, want 2", len(samples))
	}
	if !samples[0].Time.Equal(start) || samples[0].Value != 45.5 {
		t.Errorf("sample 0 = %+v", samples[0])
	}
	if !samples[1].Time.Equal(start.Add(1500*time.Millisecond)) || samples[1].Value != 45.25 {
		t.Errorf("sample 1 = %+v", samples[1])
	}

	if _, err := src.Query(context.Background(), Longitude, start, start); err == nil {
		t.Error("Query() for an unconfigured field should fail")
	}
}

func TestInfluxSourceServerError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Header().Set("X-Influxdb-Version", "1.8.10")
		_, _ = w.Write([]byte(`{"results":[{"statement_id":0,"error":"database not found: telegraf"}]}`))
	}))
	defer srv.Close()

	src, _ := NewInfluxSource(InfluxConfig{
		Addr:        srv.URL,
		Database:    "telegraf",
		Measurement: "mqtt_consumer",
		Topics:      map[Field]string{Latitude: "lat"},
	})
	if _, err := src.Query(context.Background(), Latitude, time.Now(), time.Now()); err == nil {
		t.Error("Query() should surface the statement error")
	}
}
