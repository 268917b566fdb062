// Copyright 2019 The Fuchsia Authors. All rights reserved.
// Use of this source code is governed by a BSD-style license that can be
// found in the LICENSE file.

// Package dgram implements the fixed pre-header the TX pipeline uses
// to multiplex many logical datagrams over one session TX FIFO. It has
// no analogue in the ethernet client (whose FIFO is a fixed-entry
// hardware ring, not a byte stream carrying variable framing).
package dgram

import (
	"encoding/binary"
	"net"

	"go.fuchsia.dev/sessionfwd/internal/fifo"
)

// HdrLen is the fixed, constant wire size of a pre-header: 4 bytes
// data_length, 4 bytes data_offset, 16 bytes remote IP (v4-mapped v6),
// 2 bytes remote port.
const HdrLen = 4 + 4 + 16 + 2

// Header is the fields of a pre-header visible to the engine.
type Header struct {
	DataLength uint32
	DataOffset uint32
	RemoteIP   net.IP
	RemotePort uint16
}

// Peek reads one pre-header starting at offset in f without consuming it.
// ok is false if the FIFO does not even hold a full header's worth.
func Peek(f fifo.FIFO, offset uint32) (h Header, ok bool) {
	buf := make([]byte, HdrLen)
	n, _ := f.Peek(offset, buf)
	if n < HdrLen {
		return Header{}, false
	}
	return decode(buf), true
}

// Overwrite rewrites the first HdrLen readable bytes of f in place,
// used after a partial emission to advance DataOffset for the next
// tick.
func Overwrite(f fifo.FIFO, h Header) {
	f.OverwriteHead(encode(h))
}

func decode(b []byte) Header {
	ip := make(net.IP, 16)
	copy(ip, b[8:24])
	return Header{
		DataLength: binary.BigEndian.Uint32(b[0:4]),
		DataOffset: binary.BigEndian.Uint32(b[4:8]),
		RemoteIP:   ip,
		RemotePort: binary.BigEndian.Uint16(b[24:26]),
	}
}

func encode(h Header) []byte {
	b := make([]byte, HdrLen)
	binary.BigEndian.PutUint32(b[0:4], h.DataLength)
	binary.BigEndian.PutUint32(b[4:8], h.DataOffset)
	ip := h.RemoteIP.To16()
	if ip == nil {
		ip = make(net.IP, 16)
	}
	copy(b[8:24], ip)
	binary.BigEndian.PutUint16(b[24:26], h.RemotePort)
	return b
}

// Remaining is the bytes of this datagram not yet emitted.
func (h Header) Remaining() uint32 { return h.DataLength - h.DataOffset }

// Done reports whether the whole datagram has been emitted.
func (h Header) Done() bool { return h.DataOffset >= h.DataLength }

// Encode exposes encode for tests constructing synthetic FIFO content.
func Encode(h Header) []byte { return encode(h) }
