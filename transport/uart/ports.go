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

package uart

import (
	"fmt"
	"slices"
	"strings"

	"go.bug.st/serial/enumerator"
)

// PortInfo describes a serial port found on the system.
type PortInfo struct {
	Path    string
	VIDPID  string
	Serial  string
	Product string
	IsUSB   bool
}

// blockedVIDPIDs are USB serial devices that never carry a CoAP link:
// debug probes and modems that grab ttyACM names.
var blockedVIDPIDs = []string{
	"1366:1015", // SEGGER J-Link
	"0483:374b", // ST-LINK/V2-1
	"2c7c:0125", // Quectel EC25
}

// ListPorts returns the serial ports that may carry a link. Ports whose
// path appears in ignore are skipped.
func ListPorts(ignore []string) ([]PortInfo, error) {
	details, err := enumerator.GetDetailedPortsList()
	if err != nil {
		return nil, fmt.Errorf("failed to enumerate serial ports: %w", err)
	}
	ports := make([]PortInfo, 0, len(details))
	for _, d := range details {
		p := PortInfo{Path: d.Name, IsUSB: d.IsUSB, Serial: d.SerialNumber, Product: d.Product}
		if d.IsUSB {
			p.VIDPID = strings.ToLower(d.VID + ":" + d.PID)
		}
		if include(p, ignore) {
			ports = append(ports, p)
		}
	}
	return ports, nil
}

func include(p PortInfo, ignore []string) bool {
	if slices.Contains(ignore, p.Path) {
		return false
	}
	if p.VIDPID != "" && slices.Contains(blockedVIDPIDs, p.VIDPID) {
		return false
	}
	// on-board UARTs have no USB bridge
	return p.IsUSB || strings.HasPrefix(p.Path, "/dev/ttyS") || strings.HasPrefix(p.Path, "/dev/ttyAMA")
}
