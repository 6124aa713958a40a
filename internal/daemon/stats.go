// Copyright (c) 2026 Nishisan. All rights reserved.
// Use of this source code is governed by the DM-iRODS License (Non-Commercial Evaluation)
// that can be found in the LICENSE file.

package daemon

import (
	"encoding/json"
	"log/slog"

	"github.com/robfig/cron/v3"
	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/disk"
	"github.com/shirou/gopsutil/v3/mem"
)

// statsSchedule é a cadência do log de métricas do daemon.
const statsSchedule = "@every 5m"

// StatsReporter emite métricas periódicas do daemon no log: contagem de
// tickets por status, idade do heartbeat e gauges do host.
type StatsReporter struct {
	daemon *Daemon
	logger *slog.Logger
	cron   *cron.Cron
}

// NewStatsReporter cria o reporter com o job agendado no cron.
func NewStatsReporter(d *Daemon, logger *slog.Logger) (*StatsReporter, error) {
	sr := &StatsReporter{
		daemon: d,
		logger: logger.With("component", "stats"),
		cron:   cron.New(),
	}
	if _, err := sr.cron.AddFunc(statsSchedule, sr.report); err != nil {
		return nil, err
	}
	return sr, nil
}

// Start inicia o scheduler do cron.
func (sr *StatsReporter) Start() {
	sr.cron.Start()
	sr.logger.Info("stats reporter started", "schedule", statsSchedule)
}

// Stop para o cron e aguarda jobs em andamento.
func (sr *StatsReporter) Stop() {
	ctx := sr.cron.Stop()
	<-ctx.Done()
	sr.logger.Info("stats reporter stopped")
}

func (sr *StatsReporter) report() {
	total, active := sr.daemon.store.Counts()
	byStatus, _ := json.Marshal(sr.daemon.store.CountByStatus())

	attrs := []any{
		"uptime_seconds", int64(sr.daemon.Uptime().Seconds()),
		"heartbeat_age_seconds", int64(sr.daemon.HeartbeatAge().Seconds()),
		"tickets_total", total,
		"tickets_active", active,
		"tickets_by_status", json.RawMessage(byStatus),
	}

	if percentage, err := cpu.Percent(0, false); err == nil && len(percentage) > 0 {
		attrs = append(attrs, "cpu_percent", percentage[0])
	}
	if v, err := mem.VirtualMemory(); err == nil {
		attrs = append(attrs, "memory_percent", v.UsedPercent)
	}
	if d, err := disk.Usage("/"); err == nil {
		attrs = append(attrs, "disk_percent", d.UsedPercent)
	}

	sr.logger.Info("daemon stats", attrs...)
}
