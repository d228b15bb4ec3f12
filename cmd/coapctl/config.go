// go-coapchannel
// Copyright (c) 2026 The Zaparoo Project Contributors.
// SPDX-License-Identifier: LGPL-3.0-or-later
//
// This file is part of go-coapchannel.
//
// go-coapchannel is free software; you can redistribute it and/or
// modify it under the terms of the GNU Lesser General Public
// License as published by the Free Software Foundation; either
// version 3 of the License, or (at your option) any later version.
//
// go-coapchannel is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the GNU
// Lesser General Public License for more details.
//
// You should have received a copy of the GNU Lesser General Public License
// along with go-coapchannel; if not, write to the Free Software Foundation,
// Inc., 51 Franklin Street, Fifth Floor, Boston, MA  02110-1301, USA.

package main

import (
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/ZaparooProject/go-coapchannel/internal/logger"
	"github.com/ZaparooProject/go-coapchannel/payload"
	"github.com/ZaparooProject/go-coapchannel/transport"
	"github.com/caarlos0/env/v7"
	"github.com/spf13/afero"
	"gopkg.in/yaml.v2"
)

const envPrefix = "COAPCTL_"

// Link kinds
const (
	linkUART = "uart"
	linkSPI  = "spi"
	linkI2C  = "i2c"
)

var errInvalidConfig = errors.New("invalid configuration")

// config is read from an optional YAML file; COAPCTL_* environment
// variables override it.
type config struct {
	Link            string        `yaml:"link"              env:"LINK"`
	Port            string        `yaml:"port"              env:"PORT"`
	Name            string        `yaml:"name"              env:"NAME"`
	MetricsAddr     string        `yaml:"metrics_addr"      env:"METRICS_ADDR"`
	TempDir         string        `yaml:"temp_dir"          env:"TEMP_DIR"`
	LogLevel        string        `yaml:"log_level"         env:"LOG_LEVEL"`
	LogFile         string        `yaml:"log_file"          env:"LOG_FILE"`
	IgnorePorts     []string      `yaml:"ignore_ports"      env:"IGNORE_PORTS"      envSeparator:","`
	Baud            int           `yaml:"baud"              env:"BAUD"`
	SPIFrequencyHz  int64         `yaml:"spi_frequency_hz"  env:"SPI_FREQUENCY_HZ"`
	PollInterval    time.Duration `yaml:"poll_interval"     env:"POLL_INTERVAL"`
	AckTimeout      time.Duration `yaml:"ack_timeout"       env:"ACK_TIMEOUT"`
	AckRandomFactor float64       `yaml:"ack_random_factor" env:"ACK_RANDOM_FACTOR"`
	MaxRetransmit   int           `yaml:"max_retransmit"    env:"MAX_RETRANSMIT"`
	Tick            time.Duration `yaml:"tick"              env:"TICK"`
	OpenRetries     uint64        `yaml:"open_retries"      env:"OPEN_RETRIES"`
	LogMaxSizeMB    int           `yaml:"log_max_size_mb"   env:"LOG_MAX_SIZE_MB"`
	LogMaxBackups   int           `yaml:"log_max_backups"   env:"LOG_MAX_BACKUPS"`
}

func defaultConfig() *config {
	tc := transport.DefaultConfig()
	return &config{
		Link:            linkUART,
		Name:            "coapctl",
		MetricsAddr:     ":9464",
		TempDir:         payload.DefaultTempDir,
		LogLevel:        "info",
		AckTimeout:      tc.AckTimeout,
		AckRandomFactor: tc.AckRandomFactor,
		MaxRetransmit:   tc.MaxRetransmit,
		Tick:            10 * time.Millisecond,
		OpenRetries:     5,
		LogMaxSizeMB:    10,
		LogMaxBackups:   3,
	}
}

// loadConfig reads path from fs when it is not empty, then applies the
// environment. A nil environ reads the process environment.
func loadConfig(fs afero.Fs, path string, environ map[string]string) (*config, error) {
	cfg := defaultConfig()
	if path != "" {
		data, err := afero.ReadFile(fs, path)
		if err != nil {
			return nil, fmt.Errorf("read config: %w", err)
		}
		if err := yaml.UnmarshalStrict(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config %s: %w", path, err)
		}
	}
	opts := env.Options{Prefix: envPrefix}
	if environ != nil {
		opts.Environment = environ
	}
	if err := env.Parse(cfg, opts); err != nil {
		return nil, fmt.Errorf("config from environment: %w", err)
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *config) validate() error {
	c.Link = strings.ToLower(c.Link)
	switch {
	case c.Link != linkUART && c.Link != linkSPI && c.Link != linkI2C:
		return fmt.Errorf("%w: unknown link %q", errInvalidConfig, c.Link)
	case c.Link != linkUART && c.Port == "":
		return fmt.Errorf("%w: %s link needs a port", errInvalidConfig, c.Link)
	case c.Tick <= 0:
		return fmt.Errorf("%w: tick must be positive", errInvalidConfig)
	case c.Baud < 0 || c.SPIFrequencyHz < 0:
		return fmt.Errorf("%w: negative line speed", errInvalidConfig)
	case !filepath.IsAbs(c.TempDir):
		return fmt.Errorf("%w: temp dir %q is not absolute", errInvalidConfig, c.TempDir)
	}
	if _, err := c.level(); err != nil {
		return err
	}
	if err := c.transportConfig().Validate(); err != nil {
		return fmt.Errorf("%w: %w", errInvalidConfig, err)
	}
	return nil
}

func (c *config) level() (logger.Level, error) {
	var lvl logger.Level
	if err := lvl.UnmarshalText([]byte(c.LogLevel)); err != nil {
		return lvl, fmt.Errorf("%w: log level %q", errInvalidConfig, c.LogLevel)
	}
	return lvl, nil
}

func (c *config) transportConfig() *transport.Config {
	tc := transport.DefaultConfig()
	tc.AckTimeout = c.AckTimeout
	tc.AckRandomFactor = c.AckRandomFactor
	tc.MaxRetransmit = c.MaxRetransmit
	return tc
}

// lockPath sits next to the spill directory, which is wiped at startup.
func (c *config) lockPath() string {
	return filepath.Clean(c.TempDir) + ".lock"
}
