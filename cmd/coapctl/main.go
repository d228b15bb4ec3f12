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

// Command coapctl runs a CoAP session over a serial, SPI or I2C link.
package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/ZaparooProject/go-coapchannel/internal/logger"
	"github.com/spf13/afero"
	"github.com/spf13/cobra"
)

type globalFlags struct {
	configPath string
	debug      bool
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	err := newRootCmd(afero.NewOsFs()).ExecuteContext(ctx)
	stop()
	_ = logger.Sync()
	if err != nil {
		os.Exit(1)
	}
}

func newRootCmd(fs afero.Fs) *cobra.Command {
	flags := &globalFlags{}
	root := &cobra.Command{
		Use:          "coapctl",
		Short:        "Exchange CoAP messages with a device over a serial, SPI or I2C link",
		SilenceUsage: true,
	}
	root.PersistentFlags().StringVarP(&flags.configPath, "config", "c", "", "YAML configuration file")
	root.PersistentFlags().BoolVar(&flags.debug, "debug", false, "Enable debug logging")

	root.AddCommand(
		newRunCmd(fs, flags),
		newPublishCmd(fs, flags),
		newPortsCmd(fs, flags),
	)
	return root
}

// setup loads the configuration and installs the process logger. The
// returned closer flushes the log file, if any.
func setup(fs afero.Fs, flags *globalFlags, stderr io.Writer) (*config, *logger.Logger, io.Closer, error) {
	cfg, err := loadConfig(fs, flags.configPath, nil)
	if err != nil {
		return nil, nil, nil, err
	}
	if flags.debug {
		cfg.LogLevel = "debug"
	}
	level, err := cfg.level()
	if err != nil {
		return nil, nil, nil, err
	}

	log := logger.New(stderr, level)
	var closer io.Closer = io.NopCloser(nil)
	if cfg.LogFile != "" {
		w := logger.NewRotatingWriter(cfg.LogFile, cfg.LogMaxSizeMB, cfg.LogMaxBackups)
		log = logger.Tee(log, logger.NewJSON(w, level))
		closer = w
	}
	logger.ReplaceDefault(log)
	log.Debugf("configuration: %+v", *cfg)
	return cfg, log, closer, nil
}

func closeLog(c io.Closer) {
	_ = logger.Sync()
	if err := c.Close(); err != nil {
		_, _ = fmt.Fprintf(os.Stderr, "close log file: %v\n", err)
	}
}
