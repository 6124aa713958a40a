// Copyright (c) 2026 Nishisan. All rights reserved.
// Use of this source code is governed by the DM-iRODS License (Non-Commercial Evaluation)
// that can be found in the LICENSE file.

package daemon

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/nishisan-dev/dm-irods/internal/archive"
	"github.com/nishisan-dev/dm-irods/internal/ticket"
)

// Scheduler é o tick loop: a cada intervalo avança os tickets ativos,
// roda o housekeeping quando vence o prazo e decide o idle shutdown.
type Scheduler struct {
	daemon       *Daemon
	housekeeping *Housekeeping
	logger       *slog.Logger

	lastHousekeeping time.Time
}

// NewScheduler cria o scheduler para o daemon dado.
func NewScheduler(d *Daemon, logger *slog.Logger) *Scheduler {
	return &Scheduler{
		daemon:           d,
		housekeeping:     NewHousekeeping(d, logger),
		logger:           logger.With("component", "scheduler"),
		lastHousekeeping: time.Now(),
	}
}

// Run roda o tick loop até a flag active cair ou o context ser cancelado.
func (s *Scheduler) Run(ctx context.Context) {
	cfg := s.daemon.cfg
	s.logger.Info("scheduler started",
		"tick_interval", cfg.TickIntervalDuration(),
		"stop_timeout", cfg.StopTimeoutDuration(),
	)

	for s.daemon.Active() {
		select {
		case <-ctx.Done():
			s.logger.Info("scheduler canceled")
			return
		case <-time.After(cfg.TickIntervalDuration()):
		}
		s.tick(ctx)
	}
	s.logger.Info("scheduler stopped")
}

// tick é uma iteração: housekeeping se devido, depois uma passada nos
// tickets prontos para trabalho.
func (s *Scheduler) tick(ctx context.Context) {
	if time.Since(s.lastHousekeeping) > s.daemon.cfg.HousekeepingIntervalDuration() {
		s.lastHousekeeping = time.Now()
		if err := s.housekeeping.Run(ctx); err != nil {
			s.logger.Warn("housekeeping failed", "error", err)
		}
	}

	for _, t := range s.daemon.store.Active() {
		if !s.daemon.Active() {
			return
		}
		switch t.Status {
		case ticket.StatusWaiting, ticket.StatusRetry, ticket.StatusUnmig:
			s.attempt(ctx, t)
		}
	}

	s.checkIdleShutdown()
}

// checkIdleShutdown desliga o daemon quando não há tickets ativos e o
// heartbeat passou do stop_timeout.
func (s *Scheduler) checkIdleShutdown() {
	timeout := s.daemon.cfg.StopTimeoutDuration()
	if timeout <= 0 {
		return
	}
	_, active := s.daemon.store.Counts()
	if active > 0 {
		return
	}
	if age := s.daemon.HeartbeatAge(); age > timeout {
		s.logger.Info("idle shutdown", "heartbeat_age", age, "stop_timeout", timeout)
		s.daemon.Deactivate()
	}
}

// attempt executa uma tentativa de transferência para o ticket e grava o
// resultado. O heartbeat avança na entrada e na saída.
func (s *Scheduler) attempt(ctx context.Context, t *ticket.Ticket) {
	s.daemon.Heartbeat()
	defer s.daemon.Heartbeat()

	var err error
	if t.Mode == ticket.ModeGet {
		err = s.tickDownload(ctx, t)
	} else {
		err = s.tickUpload(ctx, t)
	}
	s.applyResult(t, err)

	if uerr := s.daemon.store.Update(t); uerr != nil {
		s.logger.Error("cannot persist ticket", "local_file", t.LocalFile, "error", uerr)
	}
}

// tickDownload baixa o objeto remoto e valida o checksum local contra o
// registrado no catálogo.
func (s *Scheduler) tickDownload(ctx context.Context, t *ticket.Ticket) error {
	t.Status = ticket.StatusGetting
	t.Transferred = 0
	if err := s.daemon.store.Update(t); err != nil {
		return err
	}
	s.logger.Info("downloading", "remote_file", t.RemoteFile, "local_file", t.LocalFile)

	session, err := s.daemon.connector.Connect(ctx)
	if err != nil {
		return err
	}
	defer session.Close()

	if err := session.Get(ctx, t); err != nil {
		return err
	}
	if err := t.UpdateLocalChecksum(); err != nil {
		return fmt.Errorf("hashing %s: %w", t.LocalFile, err)
	}
	if err := t.UpdateLocalAttributes(); err != nil {
		return fmt.Errorf("stat %s: %w", t.LocalFile, err)
	}
	return session.Checksum(ctx, t, t.RemoteFile)
}

// tickUpload calcula o checksum local, sobe o arquivo e confere o
// checksum registrado no catálogo.
func (s *Scheduler) tickUpload(ctx context.Context, t *ticket.Ticket) error {
	t.Status = ticket.StatusPutting
	t.Transferred = 0
	if err := s.daemon.store.Update(t); err != nil {
		return err
	}
	s.logger.Info("uploading", "local_file", t.LocalFile, "remote_file", t.RemoteFile)

	if err := t.UpdateLocalChecksum(); err != nil {
		return fmt.Errorf("hashing %s: %w", t.LocalFile, err)
	}

	session, err := s.daemon.connector.Connect(ctx)
	if err != nil {
		return err
	}
	defer session.Close()

	if err := session.Put(ctx, t); err != nil {
		return err
	}
	if err := session.Checksum(ctx, t, t.RemoteFile); err != nil {
		return err
	}
	// O upload pode ter mudado atime; captura o estado final.
	return t.UpdateLocalAttributes()
}

// applyResult traduz o resultado da tentativa na transição de status:
// sucesso → DONE; recall pendente → UNMIG sem consumir retry; erro de
// rede → RETRY até o crédito acabar, depois ERROR; o resto → ERROR.
func (s *Scheduler) applyResult(t *ticket.Ticket, err error) {
	if err == nil {
		t.Status = ticket.StatusDone
		t.Errmsg = ""
		s.logger.Info("transfer complete",
			"local_file", t.LocalFile,
			"remote_file", t.RemoteFile,
			"transferred", t.Transferred,
			"transfer_time", t.TransferTime,
		)
		return
	}

	var dmfErr *archive.DmfRuleError
	if errors.As(err, &dmfErr) {
		t.Status = ticket.StatusUnmig
		t.Errmsg = err.Error()
		s.logger.Info("object not staged, will retry",
			"remote_file", t.RemoteFile,
			"dmf_state", t.DmfState,
		)
		return
	}

	var netErr *archive.NetworkError
	if errors.As(err, &netErr) {
		if t.Retries > 0 {
			t.Retries--
			t.Retry()
			t.Errmsg = err.Error()
			s.logger.Warn("transfer failed, rescheduling",
				"remote_file", t.RemoteFile,
				"retries_left", t.Retries,
				"error", err,
			)
			return
		}
		t.Status = ticket.StatusError
		t.Errmsg = fmt.Sprintf("%s: %v", errClass(err), err)
		s.logger.Error("retries exhausted", "remote_file", t.RemoteFile, "error", err)
		return
	}

	t.Status = ticket.StatusError
	t.Errmsg = fmt.Sprintf("%s: %v", errClass(err), err)
	s.logger.Error("transfer failed", "remote_file", t.RemoteFile, "error", err)
}
