// Copyright (c) 2026 Nishisan. All rights reserved.
// Use of this source code is governed by the DM-iRODS License (Non-Commercial Evaluation)
// that can be found in the LICENSE file.

package archive

import (
	"bytes"
	"context"
	"io"
	"strings"
	"testing"
)

func TestNewThrottledWriter_Bypass(t *testing.T) {
	var buf bytes.Buffer
	w := NewThrottledWriter(context.Background(), &buf, 0)
	if _, ok := w.(*ThrottledWriter); ok {
		t.Fatal("expected bypass for bytesPerSec <= 0")
	}
}

func TestThrottledWriter_WritesEverything(t *testing.T) {
	var buf bytes.Buffer
	// Taxa alta o suficiente para o teste não bloquear.
	w := NewThrottledWriter(context.Background(), &buf, 100*1024*1024)

	payload := bytes.Repeat([]byte("x"), 3*1024*1024)
	n, err := w.Write(payload)
	if err != nil {
		t.Fatalf("Write: %v", err)
	}
	if n != len(payload) {
		t.Errorf("short write: %d of %d", n, len(payload))
	}
	if buf.Len() != len(payload) {
		t.Errorf("buffer has %d bytes, want %d", buf.Len(), len(payload))
	}
}

func TestThrottledWriter_CanceledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	var buf bytes.Buffer
	// Taxa baixa: o primeiro WaitN consulta o contexto já cancelado.
	w := NewThrottledWriter(ctx, &buf, 1)
	if _, err := w.Write([]byte("abc")); err == nil {
		t.Fatal("expected error on canceled context")
	}
}

func TestThrottledReader_ReadsEverything(t *testing.T) {
	src := strings.NewReader(strings.Repeat("y", 2*1024*1024))
	r := NewThrottledReader(context.Background(), src, 100*1024*1024)

	data, err := io.ReadAll(r)
	if err != nil {
		t.Fatalf("ReadAll: %v", err)
	}
	if len(data) != 2*1024*1024 {
		t.Errorf("read %d bytes, want %d", len(data), 2*1024*1024)
	}
}

func TestNewThrottledReader_Bypass(t *testing.T) {
	src := strings.NewReader("abc")
	r := NewThrottledReader(context.Background(), src, -1)
	if _, ok := r.(*ThrottledReader); ok {
		t.Fatal("expected bypass for bytesPerSec <= 0")
	}
}
