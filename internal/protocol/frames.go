// Copyright (c) 2026 Nishisan. All rights reserved.
// Use of this source code is governed by the DM-iRODS License (Non-Commercial Evaluation)
// that can be found in the LICENSE file.

// Package protocol implementa o framing binário do socket local do daemon:
// cada mensagem carrega um header de 8 bytes (length + code, big-endian)
// seguido de length bytes de payload.
package protocol

import (
	"encoding/json"
	"errors"
)

// Return codes do protocolo.
const (
	CodeOK        uint32 = 0 // sucesso (em stream: mais frames podem seguir)
	CodeError     uint32 = 1 // payload é um JSON {exception, msg, traceback}
	CodeUndefined uint32 = 2 // reservado
	CodeStopped   uint32 = 3 // server em shutdown; payload é texto informativo
	CodeYield     uint32 = 4 // request: a resposta é um stream de frames
	CodeEOF       uint32 = 5 // terminador de stream; payload "EOF"
)

// HeaderSize é o tamanho do header no wire: Length(4B) + Code(4B).
const HeaderSize = 8

// EOFPayload é o payload fixo do frame terminador de stream.
const EOFPayload = "EOF"

var code2string = map[uint32]string{
	CodeOK:        "OK",
	CodeError:     "ERROR",
	CodeUndefined: "UNDEFINED",
	CodeStopped:   "STOPPED",
	CodeYield:     "YIELD",
	CodeEOF:       "EOF",
}

// CodeString retorna o nome do return code ("UNKNOWN" para códigos fora da tabela).
func CodeString(code uint32) string {
	if s, ok := code2string[code]; ok {
		return s
	}
	return "UNKNOWN"
}

// Erros do protocolo.
var (
	ErrTruncatedFrame = errors.New("protocol: truncated frame")
	ErrFrameTooLarge  = errors.New("protocol: frame exceeds maximum size")
)

// MaxFrameSize limita o payload aceito na leitura (proteção contra headers corrompidos).
const MaxFrameSize = 64 * 1024 * 1024

// Frame é uma mensagem completa lida do socket.
type Frame struct {
	Code    uint32
	Payload []byte
}

// ErrorPayload é o corpo JSON de um frame com CodeError.
type ErrorPayload struct {
	Exception string `json:"exception"`
	Msg       string `json:"msg"`
	Traceback string `json:"traceback"`
}

// EncodeError serializa um ErrorPayload para envio com CodeError.
func EncodeError(exception, msg, traceback string) []byte {
	data, err := json.Marshal(ErrorPayload{
		Exception: exception,
		Msg:       msg,
		Traceback: traceback,
	})
	if err != nil {
		// Marshal de struct com campos string não falha
		return []byte(`{"exception":"EncodeError","msg":"","traceback":""}`)
	}
	return data
}
