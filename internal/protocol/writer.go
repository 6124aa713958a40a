// Copyright (c) 2026 Nishisan. All rights reserved.
// Use of this source code is governed by the DM-iRODS License (Non-Commercial Evaluation)
// that can be found in the LICENSE file.

package protocol

import (
	"encoding/binary"
	"fmt"
	"io"
)

// WriteFrame escreve um frame no wire.
// Formato: [Length uint32 4B] [Code uint32 4B] [Payload]
func WriteFrame(w io.Writer, code uint32, payload []byte) error {
	var hdr [HeaderSize]byte
	binary.BigEndian.PutUint32(hdr[0:4], uint32(len(payload)))
	binary.BigEndian.PutUint32(hdr[4:8], code)

	if _, err := w.Write(hdr[:]); err != nil {
		return fmt.Errorf("writing frame header: %w", err)
	}
	if len(payload) > 0 {
		if _, err := w.Write(payload); err != nil {
			return fmt.Errorf("writing frame payload: %w", err)
		}
	}
	return nil
}

// WriteEOF escreve o frame terminador de stream.
func WriteEOF(w io.Writer) error {
	return WriteFrame(w, CodeEOF, []byte(EOFPayload))
}
