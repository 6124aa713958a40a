// Copyright (c) 2026 Nishisan. All rights reserved.
// Use of this source code is governed by the DM-iRODS License (Non-Commercial Evaluation)
// that can be found in the LICENSE file.

// Package daemon implementa o servidor de transferências assíncronas:
// listener no socket unix, dispatcher de requisições, tick loop de
// transferências e housekeeping.
package daemon

import (
	"errors"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/nishisan-dev/dm-irods/internal/archive"
	"github.com/nishisan-dev/dm-irods/internal/config"
	"github.com/nishisan-dev/dm-irods/internal/ticket"
)

// Códigos de registro do envelope de resposta de get/put.
const (
	RegOK                = 0
	RegRescheduled       = 1
	RegAlreadyRegistered = 2
	RegFailed            = 3
)

// RegisterReply é o envelope de resposta de um registro de get/put.
type RegisterReply struct {
	File   string `json:"file"`
	Ticket string `json:"ticket"`
	Code   int    `json:"code"`
	Msg    string `json:"msg"`
}

// Handler é o contrato entre o listener genérico e o daemon: uma resposta
// one-shot (Process) ou um stream de itens terminado pelo listener com EOF
// (ProcessAll).
type Handler interface {
	Process(code uint32, data []byte) (uint32, []byte, error)
	ProcessAll(code uint32, data []byte, yield func([]byte) error) error
}

// Connector é o connector do archive com as operações de credencial
// expostas pelos comandos secret_configured / set_secret.
type Connector interface {
	archive.Connector
	SecretConfigured() bool
	SetSecret(secret string)
}

// Daemon é o estado compartilhado entre listener e scheduler. A flag
// active e o heartbeat são os únicos pontos de coordenação entre os dois.
type Daemon struct {
	cfg       *config.Config
	logger    *slog.Logger
	store     *ticket.Store
	connector Connector
	startTime time.Time

	active atomic.Bool

	hbMu      sync.Mutex
	heartbeat time.Time

	// cache do completion_list (60s)
	clMu      sync.Mutex
	clPaths   []string
	clFetched time.Time
}

// NewDaemon cria o daemon com a flag active ligada e o heartbeat em "agora".
func NewDaemon(cfg *config.Config, store *ticket.Store, connector Connector, logger *slog.Logger) *Daemon {
	d := &Daemon{
		cfg:       cfg,
		logger:    logger.With("component", "daemon"),
		store:     store,
		connector: connector,
		startTime: time.Now(),
		heartbeat: time.Now(),
	}
	d.active.Store(true)
	return d
}

// Active informa se o daemon ainda aceita trabalho.
func (d *Daemon) Active() bool {
	return d.active.Load()
}

// Deactivate desliga a flag active; o tick loop termina na iteração
// corrente e o listener passa a responder STOPPED.
func (d *Daemon) Deactivate() {
	d.active.Store(false)
}

// Heartbeat avança o timestamp de última atividade. Chamado em toda
// requisição de cliente e na entrada/saída de cada tentativa de
// transferência; alimenta o idle shutdown.
func (d *Daemon) Heartbeat() {
	d.hbMu.Lock()
	d.heartbeat = time.Now()
	d.hbMu.Unlock()
}

// HeartbeatAge retorna há quanto tempo não há atividade.
func (d *Daemon) HeartbeatAge() time.Duration {
	d.hbMu.Lock()
	defer d.hbMu.Unlock()
	return time.Since(d.heartbeat)
}

// Uptime retorna o tempo desde o start.
func (d *Daemon) Uptime() time.Duration {
	return time.Since(d.startTime)
}

// Store expõe o ticket store (stats e testes).
func (d *Daemon) Store() *ticket.Store {
	return d.store
}

// errClass extrai o nome do tipo do erro para o campo exception das
// respostas ERROR e para o errmsg dos tickets.
func errClass(err error) string {
	var netErr *archive.NetworkError
	var sumErr *archive.ChecksumError
	var dmfErr *archive.DmfRuleError
	switch {
	case errors.As(err, &netErr):
		return "NetworkError"
	case errors.As(err, &sumErr):
		return "ChecksumError"
	case errors.As(err, &dmfErr):
		return "DmfRuleError"
	}
	return "Error"
}
