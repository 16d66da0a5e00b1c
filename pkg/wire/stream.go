// Copyright (C) 2022 NHR@FAU, University Erlangen-Nuremberg.
// All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.
package wire

import (
	"bufio"
	"errors"
	"fmt"
	"io"

	"google.golang.org/protobuf/encoding/protowire"
)

// ErrNoMoreMessages is returned by ReadDelimited at a clean end of stream.
var ErrNoMoreMessages = errors.New("wire: no more messages")

// WriteDelimited appends msg's unsigned-varint length prefix and its bytes
// to w, the on-disk framing every batch-file message uses.
func WriteDelimited(w io.Writer, msg []byte) (int, error) {
	var lenBuf []byte
	lenBuf = protowire.AppendVarint(lenBuf, uint64(len(msg)))
	n1, err := w.Write(lenBuf)
	if err != nil {
		return n1, err
	}
	n2, err := w.Write(msg)
	return n1 + n2, err
}

// ReadDelimited reads one length-prefixed message from r and returns its
// raw, still-undecoded bytes. It returns ErrNoMoreMessages when r is
// exhausted at a message boundary (clean EOF), and a Corrupt-flavored error
// if EOF occurs mid-varint or mid-message.
func ReadDelimited(r *bufio.Reader) ([]byte, error) {
	first, err := r.Peek(1)
	if err != nil {
		if errors.Is(err, io.EOF) && len(first) == 0 {
			return nil, ErrNoMoreMessages
		}
		return nil, err
	}

	length, err := readUvarint(r)
	if err != nil {
		return nil, fmt.Errorf("wire: truncated length prefix: %w", err)
	}

	buf := make([]byte, length)
	if _, err := io.ReadFull(r, buf); err != nil {
		return nil, fmt.Errorf("wire: truncated message body: %w", err)
	}
	return buf, nil
}

// readUvarint decodes an unsigned varint byte-by-byte from a bufio.Reader,
// since protowire.ConsumeVarint operates on an in-memory slice rather than
// a stream.
func readUvarint(r *bufio.Reader) (uint64, error) {
	var x uint64
	var s uint
	for i := 0; i < 10; i++ {
		b, err := r.ReadByte()
		if err != nil {
			return 0, err
		}
		if b < 0x80 {
			if i == 9 && b > 1 {
				return 0, fmt.Errorf("wire: varint overflows uint64")
			}
			return x | uint64(b)<<s, nil
		}
		x |= uint64(b&0x7f) << s
		s += 7
	}
	return 0, fmt.Errorf("wire: varint too long")
}
