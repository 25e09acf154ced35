package options

import (
	"errors"
	"time"

	"github.com/spf13/pflag"
)

var _ IOptions = (*InfluxOptions)(nil)

// InfluxOptions configures the InfluxDB 1.x time-series source holding the GPS
// samples recorded by telegraf's mqtt_consumer input.
type InfluxOptions struct {
	Addr            string        `json:"addr" mapstructure:"addr"`
	Username        string        `json:"username" mapstructure:"username"`
	Password        string        `json:"password" mapstructure:"password"`
	Database        string        `json:"database" mapstructure:"database"`
	RetentionPolicy string        `json:"retention-policy" mapstructure:"retention-policy"`
	Measurement     string        `json:"measurement" mapstructure:"measurement"`
	LatitudeTopic   string        `json:"latitude-topic" mapstructure:"latitude-topic"`
	LongitudeTopic  string        `json:"longitude-topic" mapstructure:"longitude-topic"`
	Timeout         time.Duration `json:"timeout" mapstructure:"timeout"`
}

func NewInfluxOptions() *InfluxOptions {
	return &InfluxOptions{
		Addr:            "http://localhost:8086",
		Database:        "telegraf",
		RetentionPolicy: "autogen",
		Measurement:     "mqtt_consumer",
		LatitudeTopic:   "/gps_measure/latitude",
		LongitudeTopic:  "/gps_measure/longitude",
		Timeout:         10 * time.Second,
	}
}

func (o *InfluxOptions) Validate() []error {
	if o == nil {
		return nil
	}

	var errs []error
	if o.Addr == "" {
		errs = append(errs, errors.New("influx.addr is required"))
	}
	if o.Database == "" {
		errs = append(errs, errors.New("influx.database is required"))
	}
	if o.LatitudeTopic == "" || o.LongitudeTopic == "" {
		errs = append(errs, errors.New("influx.latitude-topic and influx.longitude-topic are required"))
	}
	return errs
}

func (o *InfluxOptions) AddFlags(fs *pflag.FlagSet, prefixes ...string) {
	fs.StringVar(&o.Addr, "influx.addr", o.Addr, "InfluxDB HTTP address.")
	fs.StringVar(&o.Username, "influx.username", o.Username, "InfluxDB username.")
	fs.StringVar(&o.Password, "influx.password", o.Password, "InfluxDB password.")
	fs.StringVar(&o.Database, "influx.database", o.Database, "Database holding the GPS samples.")
	fs.StringVar(&o.RetentionPolicy, "influx.retention-policy", o.RetentionPolicy, "Retention policy of the measurement.")
	fs.StringVar(&o.Measurement, "influx.measurement", o.Measurement, "Measurement holding the GPS samples.")
	fs.StringVar(&o.LatitudeTopic, "influx.latitude-topic", o.LatitudeTopic, "Value of the topic tag for latitude samples.")
	fs.StringVar(&o.LongitudeTopic, "influx.longitude-topic", o.LongitudeTopic, "Value of the topic tag for longitude samples.")
	fs.DurationVar(&o.Timeout, "influx.timeout", o.Timeout, "Query timeout.")
}
