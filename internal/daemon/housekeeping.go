// Copyright (c) 2026 Nishisan. All rights reserved.
// Use of this source code is governed by the DM-iRODS License (Non-Commercial Evaluation)
// that can be found in the LICENSE file.

package daemon

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/nishisan-dev/dm-irods/internal/archive"
)

// Housekeeping remove tickets cujo objeto remoto sumiu do catálogo e que
// já passaram da idade de retenção.
type Housekeeping struct {
	daemon *Daemon
	logger *slog.Logger
}

// NewHousekeeping cria o housekeeping para o daemon dado.
func NewHousekeeping(d *Daemon, logger *slog.Logger) *Housekeeping {
	return &Housekeeping{
		daemon: d,
		logger: logger.With("component", "housekeeping"),
	}
}

// Run faz uma passada: coleta os caminhos remotos ainda presentes no
// catálogo e apaga os tickets "remote-gone" mais velhos que a retenção.
// Falhas individuais são logadas e não interrompem a passada.
func (h *Housekeeping) Run(ctx context.Context) error {
	tickets := h.daemon.store.All()
	if len(tickets) == 0 {
		return nil
	}

	present := make(map[string]bool)
	err := h.daemon.withSession(func(ctx context.Context, s archive.Session) error {
		return s.ListObjects(ctx, archive.Filter{}, 0, func(o *archive.Object) error {
			present[o.RemoteFile] = true
			return nil
		})
	})
	if err != nil {
		return fmt.Errorf("listing archive for housekeeping: %w", err)
	}

	limit := time.Now().Add(-h.daemon.cfg.HousekeepingAge())
	cutoff := float64(limit.Unix()) + float64(limit.Nanosecond())/1e9
	removed := 0
	for _, t := range tickets {
		if present[t.RemoteFile] {
			continue
		}
		if t.TimeCreated > cutoff {
			continue
		}
		h.logger.Info("removing ticket for vanished object",
			"remote_file", t.RemoteFile,
			"local_file", t.LocalFile,
			"status", t.Status.String(),
		)
		h.daemon.store.Delete(t.Key())
		removed++
	}
	if removed > 0 {
		h.logger.Info("housekeeping done", "removed", removed)
	}
	return nil
}
