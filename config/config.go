package config

import (
	"errors"
	"fmt"

	"github.com/BurntSushi/toml"
	"go.uber.org/multierr"
)

const DefaultHighWaterMark = 64 * 1024 * 1024

// Config is the configuration surface of the echo server.
type Config struct {
	Addr          string `toml:"addr"`
	Name          string `toml:"name"`
	ReusePort     bool   `toml:"reuse_port"`
	Threads       int    `toml:"threads"`
	HighWaterMark int    `toml:"high_water_mark"`
	// SO_SNDBUF for accepted connections, 0 keeps the kernel default
	SendBuffer    int    `toml:"send_buffer"`

	LogLevel    string `toml:"log_level"`
	Development bool   `toml:"development"`
}

func Default() Config {
	return Config{
		Addr:          ":8000",
		Name:          "EchoServer",
		Threads:       3,
		HighWaterMark: DefaultHighWaterMark,
		LogLevel:      "info",
	}
}

// Load decodes the TOML file at path over the defaults. An empty path
// returns the defaults.
func Load(path string) (Config, error) {
	cfg := Default()
	if path == "" {
		return cfg, nil
	}
	md, err := toml.DecodeFile(path, &cfg)
	if err != nil {
		return Config{}, fmt.Errorf("load config %s: %w", path, err)
	}
	if undecoded := md.Undecoded(); len(undecoded) > 0 {
		return Config{}, fmt.Errorf("load config %s: unknown key %q", path, undecoded[0].String())
	}
	return cfg, cfg.Validate()
}

func (c Config) Validate() error {
	var err error
	if c.Addr == "" {
		err = multierr.Append(err, errors.New("addr is empty"))
	}
	if c.Name == "" {
		err = multierr.Append(err, errors.New("name is empty"))
	}
	if c.Threads < 0 {
		err = multierr.Append(err, fmt.Errorf("threads must not be negative, got %d", c.Threads))
	}
	if c.HighWaterMark <= 0 {
		err = multierr.Append(err, fmt.Errorf("high_water_mark must be positive, got %d", c.HighWaterMark))
	}
	if c.SendBuffer < 0 {
		err = multierr.Append(err, fmt.Errorf("send_buffer must not be negative, got %d", c.SendBuffer))
	}
	return err
}
