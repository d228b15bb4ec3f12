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

package coap

import (
	"fmt"
	"strings"
	"testing"

	testutil "github.com/ZaparooProject/go-coapchannel/internal/testing"
	"github.com/plgd-dev/go-coap/v2/message/codes"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPathMatches(t *testing.T) {
	t.Parallel()

	tests := []struct {
		prefix string
		uri    string
		want   bool
	}{
		{prefix: "/", uri: "/anything", want: true},
		{prefix: "/E", uri: "/E", want: true},
		{prefix: "/E", uri: "/E/temp", want: true},
		{prefix: "/E", uri: "/Ex", want: false},
		{prefix: "/E/temp", uri: "/E", want: false},
	}

	for _, tt := range tests {
		t.Run(tt.prefix+"_"+tt.uri, func(t *testing.T) {
			t.Parallel()
			assert.Equal(t, tt.want, pathMatches(tt.prefix, tt.uri))
		})
	}
}

func TestAddRequestHandler_LongestPrefixWins(t *testing.T) {
	t.Parallel()

	h := newHarness(t)
	var hits []string
	record := func(name string) RequestFunc {
		return func(*Message, string, codes.Code, int) error {
			hits = append(hits, name)
			return nil
		}
	}
	require.NoError(t, h.ch.AddRequestHandler("/", codes.POST, record("root")))
	require.NoError(t, h.ch.AddRequestHandler("E/", codes.POST, record("events")))
	require.NoError(t, h.ch.AddRequestHandler("/E/temp", codes.POST, record("temp")))

	for i, path := range []string{"/E/temp/x", "/E/humidity", "/other"} {
		h.mustDeliver(t, testutil.BuildRequest(uint16(0x100+i), codes.POST, path, []byte{byte(i)}, nil))
		require.NoError(t, h.ch.Run())
	}
	assert.Equal(t, []string{"temp", "events", "root"}, hits)
}

func TestAddRequestHandler_ReplaceAndRemove(t *testing.T) {
	t.Parallel()

	h := newHarness(t)
	calls := map[string]int{}
	require.NoError(t, h.ch.AddRequestHandler("/E", codes.POST, func(*Message, string, codes.Code, int) error {
		calls["old"]++
		return nil
	}))
	require.NoError(t, h.ch.AddRequestHandler("/E/", codes.POST, func(*Message, string, codes.Code, int) error {
		calls["new"]++
		return nil
	}))

	h.mustDeliver(t, testutil.BuildRequest(0x200, codes.POST, "/E", []byte{1}, nil))
	require.NoError(t, h.ch.Run())
	assert.Equal(t, map[string]int{"new": 1}, calls)

	require.NoError(t, h.ch.RemoveRequestHandler("E", codes.POST))
	require.ErrorIs(t, h.ch.RemoveRequestHandler("/E", codes.POST), ErrNotFound)

	h.mustDeliver(t, testutil.BuildRequest(0x201, codes.POST, "/E", []byte{2}, nil))
	assert.Equal(t, codes.NotFound, h.last(t).Code)
}

func TestAddRequestHandler_Invalid(t *testing.T) {
	t.Parallel()

	tests := []struct {
		fn      RequestFunc
		wantErr error
		name    string
		path    string
		method  codes.Code
	}{
		{name: "NilFunc", path: "/a", method: codes.GET, wantErr: ErrInvalidParameter},
		{name: "ResponseCode", path: "/a", method: codes.Content, fn: ignoreRequest, wantErr: ErrInvalidParameter},
		{
			name:    "PathTooLong",
			path:    "/" + strings.Repeat("a", MaxURIPathLength),
			method:  codes.GET,
			fn:      ignoreRequest,
			wantErr: ErrPathTooLong,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			h := newHarness(t)
			require.ErrorIs(t, h.ch.AddRequestHandler(tt.path, tt.method, tt.fn), tt.wantErr)
		})
	}
}

func TestAddRequestHandler_Limit(t *testing.T) {
	t.Parallel()

	h := newHarness(t)
	for i := range MaxRequestHandlers {
		require.NoError(t, h.ch.AddRequestHandler(fmt.Sprintf("/h%d", i), codes.GET, ignoreRequest))
	}
	require.ErrorIs(t, h.ch.AddRequestHandler("/one-more", codes.GET, ignoreRequest), ErrNoMemory)
	// replacing an existing handler still works at the limit
	require.NoError(t, h.ch.AddRequestHandler("/h0", codes.GET, ignoreRequest))
}
