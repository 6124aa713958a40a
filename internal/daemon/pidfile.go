// Copyright (c) 2026 Nishisan. All rights reserved.
// Use of this source code is governed by the DM-iRODS License (Non-Commercial Evaluation)
// that can be found in the LICENSE file.

package daemon

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/shirou/gopsutil/v3/process"
)

// PidInfo é o conteúdo do PID file, usado para o single-instance
// enforcement e para o stop/status acharem o socket e o log.
type PidInfo struct {
	Pid        int    `json:"pid"`
	SocketFile string `json:"socket_file"`
	LogFile    string `json:"log_file"`
}

// WritePidFile grava o PID file do processo corrente.
func WritePidFile(path, socketFile, logFile string) error {
	info := PidInfo{Pid: os.Getpid(), SocketFile: socketFile, LogFile: logFile}
	data, err := json.Marshal(info)
	if err != nil {
		return fmt.Errorf("encoding pid file: %w", err)
	}
	if err := os.WriteFile(path, data, 0600); err != nil {
		return fmt.Errorf("writing pid file %s: %w", path, err)
	}
	return nil
}

// ReadPidFile lê e decodifica o PID file. os.IsNotExist no erro indica
// daemon parado.
func ReadPidFile(path string) (*PidInfo, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var info PidInfo
	if err := json.Unmarshal(data, &info); err != nil {
		return nil, fmt.Errorf("corrupt pid file %s: %w", path, err)
	}
	return &info, nil
}

// RemovePidFile apaga o PID file; a ausência não é erro.
func RemovePidFile(path string) error {
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("removing pid file %s: %w", path, err)
	}
	return nil
}

// PidAlive informa se existe um processo vivo com o PID dado.
func PidAlive(pid int) bool {
	alive, err := process.PidExists(int32(pid))
	return err == nil && alive
}
