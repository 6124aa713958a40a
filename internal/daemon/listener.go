// Copyright (c) 2026 Nishisan. All rights reserved.
// Use of this source code is governed by the DM-iRODS License (Non-Commercial Evaluation)
// that can be found in the LICENSE file.

package daemon

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"os"

	"github.com/nishisan-dev/dm-irods/internal/protocol"
)

// Listener aceita conexões no socket unix e entrega cada requisição ao
// Handler. As conexões são atendidas em série, na própria goroutine do
// accept loop: o estado do daemon é pequeno e a serialização elimina
// concorrência entre handlers.
type Listener struct {
	path    string
	handler Handler
	daemon  *Daemon
	logger  *slog.Logger
	ln      net.Listener
}

// NewListener cria o listener para o socket unix em path.
func NewListener(path string, h Handler, d *Daemon, logger *slog.Logger) *Listener {
	return &Listener{
		path:    path,
		handler: h,
		daemon:  d,
		logger:  logger.With("component", "listener"),
	}
}

// Start remove um socket file antigo e faz o bind.
func (l *Listener) Start() error {
	if err := os.Remove(l.path); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("removing stale socket %s: %w", l.path, err)
	}
	ln, err := net.Listen("unix", l.path)
	if err != nil {
		return fmt.Errorf("binding socket %s: %w", l.path, err)
	}
	l.ln = ln
	l.logger.Info("listening", "socket", l.path)
	return nil
}

// Serve roda o accept loop até o listener ser fechado. Erros de handler
// nunca derrubam o loop.
func (l *Listener) Serve() {
	for {
		conn, err := l.ln.Accept()
		if err != nil {
			if errors.Is(err, net.ErrClosed) {
				l.logger.Info("listener closed")
				return
			}
			l.logger.Error("accepting connection", "error", err)
			continue
		}
		l.handleConn(conn)
	}
}

// Close fecha o socket e remove o arquivo.
func (l *Listener) Close() {
	if l.ln != nil {
		l.ln.Close()
	}
	if err := os.Remove(l.path); err != nil && !os.IsNotExist(err) {
		l.logger.Warn("cannot remove socket file", "socket", l.path, "error", err)
	}
}

// handleConn atende uma conexão: um frame de requisição, uma resposta
// one-shot ou um stream terminado com EOF.
func (l *Listener) handleConn(conn net.Conn) {
	defer conn.Close()

	frame, err := protocol.ReadFrame(conn)
	if err != nil {
		if !errors.Is(err, io.EOF) {
			l.logger.Warn("cannot read request frame", "error", err)
		}
		return
	}

	if !l.daemon.Active() {
		if err := protocol.WriteFrame(conn, protocol.CodeStopped, []byte("server is shutting down")); err != nil {
			l.logger.Warn("cannot write stopped reply", "error", err)
		}
		return
	}

	if frame.Code == protocol.CodeYield {
		l.handleStream(conn, frame)
		return
	}

	code, reply, err := l.handler.Process(frame.Code, frame.Payload)
	if err != nil {
		l.writeError(conn, err)
		return
	}
	if err := protocol.WriteFrame(conn, code, reply); err != nil {
		l.logger.Warn("cannot write reply", "error", err)
	}
}

func (l *Listener) handleStream(conn net.Conn, frame *protocol.Frame) {
	err := l.handler.ProcessAll(frame.Code, frame.Payload, func(item []byte) error {
		return protocol.WriteFrame(conn, protocol.CodeOK, item)
	})
	if err != nil {
		l.writeError(conn, err)
		return
	}
	if err := protocol.WriteFrame(conn, protocol.CodeEOF, []byte(protocol.EOFPayload)); err != nil {
		l.logger.Warn("cannot write eof", "error", err)
	}
}

func (l *Listener) writeError(conn net.Conn, handlerErr error) {
	l.logger.Error("request failed", "error", handlerErr)
	payload := protocol.EncodeError(errClass(handlerErr), handlerErr.Error(), "")
	if err := protocol.WriteFrame(conn, protocol.CodeError, payload); err != nil {
		l.logger.Warn("cannot write error reply", "error", err)
	}
}
