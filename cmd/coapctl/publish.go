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
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/afero"
	"github.com/spf13/cobra"
)

var errPublishTimeout = errors.New("event not acknowledged in time")

type publishFlags struct {
	file    string
	timeout time.Duration
}

func newPublishCmd(fs afero.Fs, flags *globalFlags) *cobra.Command {
	pf := &publishFlags{}
	cmd := &cobra.Command{
		Use:   "publish <name> [data]",
		Short: "Publish one event and wait until it is acknowledged",
		Args:  cobra.RangeArgs(1, 2),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, log, closer, err := setup(fs, flags, cmd.ErrOrStderr())
			if err != nil {
				return err
			}
			defer closeLog(closer)

			body, err := publishBody(fs, pf.file, args[1:])
			if err != nil {
				return err
			}
			if c, ok := body.(io.Closer); ok {
				defer func() { _ = c.Close() }()
			}

			timeout := pf.timeout
			if timeout <= 0 {
				timeout = cfg.transportConfig().MaxTransmitWait()
			}
			ctx, cancel := context.WithTimeout(cmd.Context(), timeout)
			defer cancel()

			link, err := openLink(ctx, cfg, log)
			if err != nil {
				return err
			}
			s, err := newSession(ctx, cfg, fs, link, prometheus.NewRegistry(), log)
			if err != nil {
				return err
			}
			defer s.Close()

			if err := publish(ctx, s, cfg.Tick, args[0], body); err != nil {
				return err
			}
			_, _ = fmt.Fprintf(cmd.OutOrStdout(), "event %s acknowledged\n", args[0])
			return nil
		},
	}
	cmd.Flags().StringVarP(&pf.file, "file", "f", "", "Read the event body from a file")
	cmd.Flags().DurationVar(&pf.timeout, "timeout", 0, "How long to wait for the acknowledgement (default: the maximum transmit wait)")
	return cmd
}

func publishBody(fs afero.Fs, file string, data []string) (io.ReadSeeker, error) {
	switch {
	case file != "" && len(data) > 0:
		return nil, errors.New("give the event body either as an argument or with --file")
	case file != "":
		f, err := fs.Open(file)
		if err != nil {
			return nil, fmt.Errorf("open event body: %w", err)
		}
		return f, nil
	case len(data) > 0:
		return bytes.NewReader([]byte(data[0])), nil
	default:
		return bytes.NewReader(nil), nil
	}
}

// publish sends one event on s and drives the session until it completes.
func publish(ctx context.Context, s *session, tick time.Duration, name string, body io.ReadSeeker) error {
	var (
		finished bool
		result   error
	)
	err := s.events.Publish(name, body, func(err error) {
		finished = true
		result = err
	})
	if err != nil {
		return err
	}
	err = s.loop(ctx, tick, func() bool { return finished })
	switch {
	case errors.Is(err, context.DeadlineExceeded):
		return errPublishTimeout
	case err != nil:
		return err
	}
	return result
}
