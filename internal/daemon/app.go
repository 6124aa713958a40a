// Copyright (c) 2026 Nishisan. All rights reserved.
// Use of this source code is governed by the DM-iRODS License (Non-Commercial Evaluation)
// that can be found in the LICENSE file.

package daemon

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/nishisan-dev/dm-irods/internal/archive"
	"github.com/nishisan-dev/dm-irods/internal/config"
	"github.com/nishisan-dev/dm-irods/internal/logging"
	"github.com/nishisan-dev/dm-irods/internal/ticket"
)

// stopWaitRounds × stopWaitInterval é o tempo máximo que o stop espera o
// PID file sumir.
const (
	stopWaitRounds   = 6
	stopWaitInterval = 10 * time.Second
)

// App amarra o ciclo de vida do daemon: start/stop/status/restart do lado
// do CLI e Run no processo destacado.
type App struct {
	baseDir string
}

// NewApp cria a App ancorada no diretório base (~/.DmIRodsServer).
func NewApp(baseDir string) *App {
	return &App{baseDir: baseDir}
}

func (a *App) pidPath() string    { return filepath.Join(a.baseDir, config.PidFileName) }
func (a *App) socketPath() string { return filepath.Join(a.baseDir, config.SocketFileName) }
func (a *App) logPath() string    { return filepath.Join(a.baseDir, config.LogFileName) }
func (a *App) ticketDir() string  { return filepath.Join(a.baseDir, config.TicketDirName) }

// Run roda o daemon em foreground: PID file, socket, listener, tick loop.
// Bloqueia até o shutdown (signal, idle ou stop) e limpa PID + socket.
func (a *App) Run() error {
	cfg, err := config.Load(a.baseDir)
	if err != nil {
		return err
	}
	logger, closer := logging.NewLogger(cfg.Logging.Level, cfg.Logging.Format, a.logPath())
	defer closer.Close()

	if info, err := ReadPidFile(a.pidPath()); err == nil && PidAlive(info.Pid) {
		return fmt.Errorf("daemon already running (pid %d)", info.Pid)
	}
	if err := WritePidFile(a.pidPath(), a.socketPath(), a.logPath()); err != nil {
		return err
	}
	defer func() {
		if err := RemovePidFile(a.pidPath()); err != nil {
			logger.Warn("cannot remove pid file", "error", err)
		}
	}()

	store, err := ticket.NewStore(a.ticketDir(), logger)
	if err != nil {
		return err
	}
	if err := store.LoadAll(); err != nil {
		return err
	}

	connector := archive.NewS3Connector(cfg, logger)
	d := NewDaemon(cfg, store, connector, logger)

	listener := NewListener(a.socketPath(), d, d, logger)
	if err := listener.Start(); err != nil {
		return err
	}
	defer listener.Close()
	go listener.Serve()

	stats, err := NewStatsReporter(d, logger)
	if err != nil {
		return fmt.Errorf("creating stats reporter: %w", err)
	}
	stats.Start()
	defer stats.Stop()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGTERM, syscall.SIGINT)
	go func() {
		sig := <-sigCh
		logger.Info("received signal, shutting down", "signal", sig)
		// Só derruba a flag: a transferência em andamento termina e o
		// tick loop sai na iteração corrente.
		d.Deactivate()
		sig = <-sigCh
		logger.Warn("second signal, aborting in-flight transfer", "signal", sig)
		cancel()
	}()

	logger.Info("daemon started", "pid", os.Getpid(), "socket", a.socketPath())
	NewScheduler(d, logger).Run(ctx)

	// A transferência em andamento já terminou quando o Run retorna;
	// tickets WAITING ficam em disco para o próximo start.
	logger.Info("daemon stopped")
	return nil
}

// Start verifica o single-instance e sobe uma cópia destacada do próprio
// executável em modo run.
func (a *App) Start() error {
	if info, err := ReadPidFile(a.pidPath()); err == nil && PidAlive(info.Pid) {
		return fmt.Errorf("daemon already running (pid %d)", info.Pid)
	}
	if err := os.MkdirAll(a.baseDir, 0700); err != nil {
		return fmt.Errorf("creating base directory: %w", err)
	}

	exe, err := os.Executable()
	if err != nil {
		return fmt.Errorf("resolving executable: %w", err)
	}
	cmd := exec.Command(exe, "run")
	cmd.SysProcAttr = &syscall.SysProcAttr{Setsid: true}
	cmd.Stdin = nil
	cmd.Stdout = nil
	cmd.Stderr = nil
	if err := cmd.Start(); err != nil {
		return fmt.Errorf("spawning daemon: %w", err)
	}
	// O filho vive sozinho na sessão nova; o Wait evita zombie se ele
	// morrer cedo.
	go cmd.Wait()

	fmt.Printf("daemon starting (pid %d)\n", cmd.Process.Pid)
	return nil
}

// Stop envia SIGTERM e espera o PID file desaparecer.
func (a *App) Stop() error {
	info, err := ReadPidFile(a.pidPath())
	if err != nil {
		if os.IsNotExist(err) {
			fmt.Println("daemon is not running")
			return nil
		}
		return err
	}
	if !PidAlive(info.Pid) {
		// Restos de um crash: limpa e segue.
		fmt.Println("daemon is not running (stale pid file removed)")
		return RemovePidFile(a.pidPath())
	}

	if err := syscall.Kill(info.Pid, syscall.SIGTERM); err != nil {
		return fmt.Errorf("signaling pid %d: %w", info.Pid, err)
	}
	for i := 0; i < stopWaitRounds; i++ {
		if _, err := os.Stat(a.pidPath()); os.IsNotExist(err) {
			fmt.Println("daemon stopped")
			return nil
		}
		time.Sleep(stopWaitInterval)
	}
	return fmt.Errorf("daemon (pid %d) did not stop in time", info.Pid)
}

// Status imprime RUNNING / NOT RUNNING.
func (a *App) Status() error {
	info, err := ReadPidFile(a.pidPath())
	if err == nil && PidAlive(info.Pid) {
		fmt.Printf("RUNNING (pid %d)\n", info.Pid)
		return nil
	}
	fmt.Println("NOT RUNNING")
	return nil
}

// Restart é stop seguido de start.
func (a *App) Restart() error {
	if err := a.Stop(); err != nil {
		return err
	}
	return a.Start()
}
