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
	"fmt"
	"text/tabwriter"

	"github.com/ZaparooProject/go-coapchannel/transport/uart"
	"github.com/spf13/afero"
	"github.com/spf13/cobra"
)

func newPortsCmd(fs afero.Fs, flags *globalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "ports",
		Short: "List the serial ports a link can use",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, _, closer, err := setup(fs, flags, cmd.ErrOrStderr())
			if err != nil {
				return err
			}
			defer closeLog(closer)

			ports, err := uart.ListPorts(cfg.IgnorePorts)
			if err != nil {
				return err
			}
			return printPorts(cmd, ports)
		},
	}
}

func printPorts(cmd *cobra.Command, ports []uart.PortInfo) error {
	if len(ports) == 0 {
		_, err := fmt.Fprintln(cmd.OutOrStdout(), "no serial ports found")
		return err
	}
	w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
	_, _ = fmt.Fprintln(w, "PATH\tVID:PID\tSERIAL\tPRODUCT")
	for _, p := range ports {
		vidpid := p.VIDPID
		if !p.IsUSB {
			vidpid = "-"
		}
		_, _ = fmt.Fprintf(w, "%s\t%s\t%s\t%s\n", p.Path, vidpid, p.Serial, p.Product)
	}
	return w.Flush()
}
