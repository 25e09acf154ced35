package app

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	cliflag "k8s.io/component-base/cli/flag"
)

type demoGroup struct {
	Name     string        `mapstructure:"name"`
	Interval time.Duration `mapstructure:"interval"`

	Upper string `mapstructure:"-"`
}

type demoOptions struct {
	Demo *demoGroup `mapstructure:"demo"`
}

func newDemoOptions() *demoOptions {
	return &demoOptions{Demo: &demoGroup{Name: "default", Interval: time.Second}}
}

func (o *demoOptions) Flags() cliflag.NamedFlagSets {
	fss := cliflag.NamedFlagSets{}
	fs := fss.FlagSet("demo")
	fs.StringVar(&o.Demo.Name, "demo.name", o.Demo.Name, "Name.")
	fs.DurationVar(&o.Demo.Interval, "demo.interval", o.Demo.Interval, "Interval.")
	return fss
}

func (o *demoOptions) Complete() error {
	o.Demo.Upper = strings.ToUpper(o.Demo.Name)
	return nil
}

func (o *demoOptions) Validate() error {
	if o.Demo.Name == "" {
		return errors.New("demo.name is required")
	}
	return nil
}

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestOptionPrecedence(t *testing.T) {
	file := writeConfig(t, "demo:\n  name: from-file\n  interval: 3s\n")

	tests := []struct {
		name     string
		args     []string
		env      string
		want     string
		interval time.Duration
	}{
		{"flag defaults", []string{"--config="}, "", "default", time.Second},
		{"config file", []string{"--config=" + file}, "", "from-file", 3 * time.Second},
		{"env over file", []string{"--config=" + file}, "from-env", "from-env", 3 * time.Second},
		{"flag over env", []string{"--config=" + file, "--demo.name=from-flag"}, "from-env", "from-flag", 3 * time.Second},
		{"flag without file", []string{"--config=", "--demo.interval=5s"}, "", "default", 5 * time.Second},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if tt.env != "" {
				t.Setenv("APPTEST_DEMO_NAME", tt.env)
			}

			opts := newDemoOptions()
			ran := false
			a := NewApp("demo", "demo app",
				WithOptions(opts),
				WithEnvPrefix("APPTEST"),
				WithSilence(),
				WithDefaultValidArgs(),
				WithRunFunc(func() error {
					ran = true
					return nil
				}),
			)
			a.Command().SetArgs(tt.args)
			if err := a.Command().Execute(); err != nil {
				t.Fatal(err)
			}

			if !ran {
				t.Fatal("run func not called")
			}
			if opts.Demo.Name != tt.want {
				t.Errorf("name = %q, want %q", opts.Demo.Name, tt.want)
			}
			if opts.Demo.Upper != strings.ToUpper(tt.want) {
				t.Errorf("completed name = %q", opts.Demo.Upper)
			}
			if opts.Demo.Interval != tt.interval {
				t.Errorf("interval = %v, want %v", opts.Demo.Interval, tt.interval)
			}
		})
	}
}

func TestPrepareFailures(t *testing.T) {
	tests := []struct {
		name string
		args []string
	}{
		{"missing config file", []string{"--config=" + filepath.Join(t.TempDir(), "absent.yaml")}},
		{"invalid options", []string{"--config=", "--demo.name="}},
		{"positional argument", []string{"--config=", "extra"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ran := false
			a := NewApp("demo", "demo app",
				WithOptions(newDemoOptions()),
				WithSilence(),
				WithDefaultValidArgs(),
				WithRunFunc(func() error {
					ran = true
					return nil
				}),
			)
			a.Command().SetArgs(tt.args)
			if err := a.Command().Execute(); err == nil {
				t.Fatal("expected an error")
			}
			if ran {
				t.Error("run func called despite the error")
			}
		})
	}
}

func TestDefaultConfigIsRead(t *testing.T) {
	file := writeConfig(t, "demo:\n  name: packaged\n")
	opts := newDemoOptions()
	a := NewApp("demo", "demo app",
		WithOptions(opts),
		WithDefaultConfig(file),
		WithSilence(),
		WithRunFunc(func() error { return nil }),
	)
	a.Command().SetArgs([]string{})
	if err := a.Command().Execute(); err != nil {
		t.Fatal(err)
	}
	if opts.Demo.Name != "packaged" {
		t.Errorf("name = %q, want packaged", opts.Demo.Name)
	}
}
