// Copyright (c) 2026 Nishisan. All rights reserved.
// Use of this source code is governed by the DM-iRODS License (Non-Commercial Evaluation)
// that can be found in the LICENSE file.

package protocol

import (
	"bytes"
	"encoding/json"
	"io"
	"testing"
)

func TestFrame_RoundTrip(t *testing.T) {
	tests := []struct {
		name    string
		code    uint32
		payload string
	}{
		{"OK with JSON", CodeOK, `{"get":"/zone/home/alice/a.dat"}`},
		{"OK empty", CodeOK, ""},
		{"ERROR with body", CodeError, `{"exception":"ValueError","msg":"boom","traceback":""}`},
		{"STOPPED advisory", CodeStopped, "Server stopped"},
		{"YIELD request", CodeYield, `{"list":true}`},
		{"EOF terminator", CodeEOF, EOFPayload},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var buf bytes.Buffer

			if err := WriteFrame(&buf, tt.code, []byte(tt.payload)); err != nil {
				t.Fatalf("WriteFrame: %v", err)
			}

			frame, err := ReadFrame(&buf)
			if err != nil {
				t.Fatalf("ReadFrame: %v", err)
			}

			if frame.Code != tt.code {
				t.Errorf("expected code %d, got %d", tt.code, frame.Code)
			}
			if string(frame.Payload) != tt.payload {
				t.Errorf("expected payload %q, got %q", tt.payload, frame.Payload)
			}
		})
	}
}

func TestFrame_WireSize(t *testing.T) {
	var buf bytes.Buffer
	payload := []byte(`{"info":"/zone/home/alice/a.dat"}`)

	if err := WriteFrame(&buf, CodeOK, payload); err != nil {
		t.Fatalf("WriteFrame: %v", err)
	}

	// Length(4) + Code(4) + payload
	expected := HeaderSize + len(payload)
	if buf.Len() != expected {
		t.Errorf("expected frame size %d, got %d", expected, buf.Len())
	}
}

func TestFrame_TruncatedHeader(t *testing.T) {
	var buf bytes.Buffer
	buf.Write([]byte{0x00, 0x00, 0x00}) // apenas 3 bytes de header

	_, err := ReadFrame(&buf)
	if err != ErrTruncatedFrame {
		t.Fatalf("expected ErrTruncatedFrame, got %v", err)
	}
}

func TestFrame_TruncatedPayload(t *testing.T) {
	var buf bytes.Buffer
	if err := WriteFrame(&buf, CodeOK, []byte("complete payload")); err != nil {
		t.Fatalf("WriteFrame: %v", err)
	}
	truncated := bytes.NewReader(buf.Bytes()[:buf.Len()-4])

	_, err := ReadFrame(truncated)
	if err != ErrTruncatedFrame {
		t.Fatalf("expected ErrTruncatedFrame, got %v", err)
	}
}

func TestFrame_CleanEOF(t *testing.T) {
	// Peer fechou antes de mandar qualquer byte: EOF limpo, não truncado.
	_, err := ReadFrame(bytes.NewReader(nil))
	if err != io.EOF {
		t.Fatalf("expected io.EOF, got %v", err)
	}
}

func TestFrame_TooLarge(t *testing.T) {
	var buf bytes.Buffer
	buf.Write([]byte{0xFF, 0xFF, 0xFF, 0xFF}) // length absurdo
	buf.Write([]byte{0x00, 0x00, 0x00, 0x00})

	_, err := ReadFrame(&buf)
	if err != ErrFrameTooLarge {
		t.Fatalf("expected ErrFrameTooLarge, got %v", err)
	}
}

func TestWriteEOF(t *testing.T) {
	var buf bytes.Buffer
	if err := WriteEOF(&buf); err != nil {
		t.Fatalf("WriteEOF: %v", err)
	}

	frame, err := ReadFrame(&buf)
	if err != nil {
		t.Fatalf("ReadFrame: %v", err)
	}
	if frame.Code != CodeEOF {
		t.Errorf("expected code %d, got %d", CodeEOF, frame.Code)
	}
	if string(frame.Payload) != EOFPayload {
		t.Errorf("expected payload %q, got %q", EOFPayload, frame.Payload)
	}
}

func TestEncodeError(t *testing.T) {
	data := EncodeError("NetworkError", "connection refused", "stack")

	var ep ErrorPayload
	if err := json.Unmarshal(data, &ep); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if ep.Exception != "NetworkError" {
		t.Errorf("expected exception NetworkError, got %q", ep.Exception)
	}
	if ep.Msg != "connection refused" {
		t.Errorf("expected msg %q, got %q", "connection refused", ep.Msg)
	}
	if ep.Traceback != "stack" {
		t.Errorf("expected traceback %q, got %q", "stack", ep.Traceback)
	}
}

func TestCodeString(t *testing.T) {
	if got := CodeString(CodeYield); got != "YIELD" {
		t.Errorf("expected YIELD, got %q", got)
	}
	if got := CodeString(99); got != "UNKNOWN" {
		t.Errorf("expected UNKNOWN, got %q", got)
	}
}
