// Copyright (c) 2026 Nishisan. All rights reserved.
// Use of this source code is governed by the DM-iRODS License (Non-Commercial Evaluation)
// that can be found in the LICENSE file.

// Package config carrega a configuração do daemon a partir de
// ~/.DmIRodsServer/config.json (formato canônico) ou config.yaml.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Nomes dos arquivos do daemon dentro do diretório base.
const (
	BaseDirName    = ".DmIRodsServer"
	ConfigFileName = "config.json"
	YamlFileName   = "config.yaml"
	SocketFileName = "DmIRodsServer.socket"
	PidFileName    = "DmIRodsServer.pid"
	LogFileName    = "DmIRodsServer.log"
	TicketDirName  = "Tickets"
)

// Config representa a configuração completa do daemon, imutável após o load.
type Config struct {
	IrodsHost     string `json:"irods_host" yaml:"irods_host"`
	IrodsPort     int    `json:"irods_port" yaml:"irods_port"`
	IrodsZoneName string `json:"irods_zone_name" yaml:"irods_zone_name"`
	IrodsUserName string `json:"irods_user_name" yaml:"irods_user_name"`

	// IsResourceServer seleciona o nome do microservice de consulta DMF.
	IsResourceServer  bool   `json:"is_resource_server" yaml:"is_resource_server"`
	ConnectionTimeout int    `json:"connection_timeout" yaml:"connection_timeout"` // segundos
	ResourceName      string `json:"resource_name" yaml:"resource_name"`

	// Housekeeping é a idade mínima, em horas, para remover tickets
	// terminais cujo objeto remoto sumiu do catálogo.
	Housekeeping int `json:"housekeeping" yaml:"housekeeping"`

	// StopTimeout em minutos; 0 desabilita o idle shutdown.
	StopTimeout int `json:"stop_timeout" yaml:"stop_timeout"`

	TickInterval         int `json:"tick_interval" yaml:"tick_interval"`                 // segundos
	HousekeepingInterval int `json:"housekeeping_interval" yaml:"housekeeping_interval"` // segundos

	// TransferRateLimit em bytes/segundo; 0 = sem limite.
	TransferRateLimit int64 `json:"transfer_rate_limit" yaml:"transfer_rate_limit"`

	Logging LoggingInfo `json:"logging" yaml:"logging"`
	S3      S3Info      `json:"s3" yaml:"s3"`
}

// LoggingInfo contém configurações de logging.
type LoggingInfo struct {
	Level  string `json:"level" yaml:"level"`
	Format string `json:"format" yaml:"format"`
}

// S3Info contém o endpoint e as credenciais do backend de arquivamento.
// SecretKey pode ficar vazio no arquivo e ser injetado via set_secret.
type S3Info struct {
	Endpoint    string `json:"endpoint" yaml:"endpoint"`
	Region      string `json:"region" yaml:"region"`
	Bucket      string `json:"bucket" yaml:"bucket"`
	AccessKey   string `json:"access_key" yaml:"access_key"`
	SecretKey   string `json:"secret_key" yaml:"secret_key"`
	RestoreTier string `json:"restore_tier" yaml:"restore_tier"`
	RestoreDays int    `json:"restore_days" yaml:"restore_days"`
}

// BaseDir retorna o diretório base do daemon (~/.DmIRodsServer).
func BaseDir() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("resolving home directory: %w", err)
	}
	return filepath.Join(home, BaseDirName), nil
}

// Load lê e valida a configuração a partir do diretório base: config.json é
// o formato canônico; config.yaml é aceito quando o JSON não existe.
func Load(baseDir string) (*Config, error) {
	jsonPath := filepath.Join(baseDir, ConfigFileName)
	if _, err := os.Stat(jsonPath); err == nil {
		return LoadFile(jsonPath)
	}
	yamlPath := filepath.Join(baseDir, YamlFileName)
	if _, err := os.Stat(yamlPath); err == nil {
		return LoadFile(yamlPath)
	}
	return nil, fmt.Errorf("no config file in %s (expected %s or %s)", baseDir, ConfigFileName, YamlFileName)
}

// LoadFile lê e valida um arquivo de configuração; o formato é decidido
// pela extensão (.yaml/.yml → YAML, resto → JSON).
func LoadFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config: %w", err)
	}

	var cfg Config
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return nil, fmt.Errorf("parsing config: %w", err)
		}
	default:
		if err := json.Unmarshal(data, &cfg); err != nil {
			return nil, fmt.Errorf("parsing config: %w", err)
		}
	}

	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}
	return &cfg, nil
}

func (c *Config) validate() error {
	if c.IrodsZoneName == "" {
		return fmt.Errorf("irods_zone_name is required")
	}
	if c.IrodsUserName == "" {
		return fmt.Errorf("irods_user_name is required")
	}
	if c.IrodsPort < 0 || c.IrodsPort > 65535 {
		return fmt.Errorf("irods_port must be between 0 and 65535, got %d", c.IrodsPort)
	}
	if c.StopTimeout < 0 {
		return fmt.Errorf("stop_timeout must not be negative, got %d", c.StopTimeout)
	}
	if c.TransferRateLimit < 0 {
		return fmt.Errorf("transfer_rate_limit must not be negative, got %d", c.TransferRateLimit)
	}
	if c.ConnectionTimeout <= 0 {
		c.ConnectionTimeout = 10
	}
	if c.Housekeeping <= 0 {
		c.Housekeeping = 24
	}
	if c.TickInterval <= 0 {
		c.TickInterval = 10
	}
	if c.HousekeepingInterval <= 0 {
		c.HousekeepingInterval = 3600
	}
	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}
	if c.Logging.Format == "" {
		c.Logging.Format = "json"
	}
	if c.S3.RestoreDays <= 0 {
		c.S3.RestoreDays = 1
	}
	return nil
}

// TickIntervalDuration retorna o intervalo do tick loop.
func (c *Config) TickIntervalDuration() time.Duration {
	return time.Duration(c.TickInterval) * time.Second
}

// HousekeepingIntervalDuration retorna a cadência do housekeeping.
func (c *Config) HousekeepingIntervalDuration() time.Duration {
	return time.Duration(c.HousekeepingInterval) * time.Second
}

// StopTimeoutDuration retorna o limite de ociosidade; 0 = nunca parar.
func (c *Config) StopTimeoutDuration() time.Duration {
	return time.Duration(c.StopTimeout) * time.Minute
}

// ConnectionTimeoutDuration retorna o timeout de sessão do archive.
func (c *Config) ConnectionTimeoutDuration() time.Duration {
	return time.Duration(c.ConnectionTimeout) * time.Second
}

// HousekeepingAge retorna a idade mínima de remoção de tickets.
func (c *Config) HousekeepingAge() time.Duration {
	return time.Duration(c.Housekeeping) * time.Hour
}

// Substitute expande os placeholders {zone} e {user} em um caminho remoto.
func (c *Config) Substitute(remotePath string) string {
	r := strings.NewReplacer("{zone}", c.IrodsZoneName, "{user}", c.IrodsUserName)
	return r.Replace(remotePath)
}

// HomeCollection retorna a collection default do usuário: /{zone}/home/{user}.
func (c *Config) HomeCollection() string {
	return "/" + c.IrodsZoneName + "/home/" + c.IrodsUserName
}
