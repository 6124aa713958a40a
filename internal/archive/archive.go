// Copyright (c) 2026 Nishisan. All rights reserved.
// Use of this source code is governed by the DM-iRODS License (Non-Commercial Evaluation)
// that can be found in the LICENSE file.

// Package archive define o contrato mínimo entre o daemon e a biblioteca
// de arquivamento: sessão com escopo, listagem, transferência, checksum
// e a resolução em lote do estado DMF.
package archive

import (
	"context"
	"fmt"

	"github.com/nishisan-dev/dm-irods/internal/ticket"
)

// Estados DMF conhecidos. O catálogo pode reportar outros; o daemon só
// interpreta estes.
const (
	DmfStateRegular   = "REG" // só em disco
	DmfStateMigrating = "MIG" // migrando para fita
	DmfStateDual      = "DUL" // em disco e em fita
	DmfStateOffline   = "OFL" // só em fita
	DmfStateUnmigrate = "UNM" // recall em andamento
)

// Object é um registro do catálogo remoto. Datas em segundos desde a epoch.
type Object struct {
	Collection          string  `json:"collection"`
	Object              string  `json:"object"`
	RemoteFile          string  `json:"remote_file"`
	RemoteSize          int64   `json:"remote_size"`
	RemoteChecksum      string  `json:"remote_checksum"`
	RemoteCreateTime    float64 `json:"remote_create_time"`
	RemoteModifyTime    float64 `json:"remote_modify_time"`
	RemoteOwnerName     string  `json:"remote_owner_name"`
	RemoteOwnerZone     string  `json:"remote_owner_zone"`
	RemoteReplicaNumber int     `json:"remote_replica_number"`
	RemoteReplicaStatus string  `json:"remote_replica_status"`
	DmfState            string  `json:"DMF_state"`
}

// Record é a forma genérica dos itens do pipeline de listagem: registros
// de tickets e de objetos remotos viajam no mesmo formato.
type Record = map[string]interface{}

// ToRecord converte o objeto para o formato do pipeline de listagem.
func (o *Object) ToRecord() Record {
	return Record{
		"collection":            o.Collection,
		"object":                o.Object,
		"remote_file":           o.RemoteFile,
		"remote_size":           o.RemoteSize,
		"remote_checksum":       o.RemoteChecksum,
		"remote_create_time":    o.RemoteCreateTime,
		"remote_modify_time":    o.RemoteModifyTime,
		"remote_owner_name":     o.RemoteOwnerName,
		"remote_owner_zone":     o.RemoteOwnerZone,
		"remote_replica_number": o.RemoteReplicaNumber,
		"remote_replica_status": o.RemoteReplicaStatus,
		"DMF_state":             o.DmfState,
	}
}

// Filter restringe uma listagem do catálogo.
type Filter struct {
	// Collection e Object, quando preenchidos, restringem a um único objeto.
	Collection string
	Object     string
}

// Session é uma sessão aberta com o archive. Cada tentativa de transferência
// adquire a sua própria sessão e a libera no fim (Close), inclusive em erro.
type Session interface {
	// ListObjects enumera o catálogo até limit registros (limit <= 0 =
	// sem limite), chamando fn para cada um. Um erro de fn interrompe a
	// enumeração e é propagado.
	ListObjects(ctx context.Context, f Filter, limit int, fn func(*Object) error) error

	// Get baixa t.RemoteFile para t.LocalFile em chunks, incrementando
	// t.Transferred a cada chunk; ao completar preenche t.TransferTime
	// e t.RemoteSize.
	Get(ctx context.Context, t *ticket.Ticket) error

	// Put sobe t.LocalFile para t.RemoteFile com o mesmo contrato de
	// progresso, registrando o checksum no catálogo remoto.
	Put(ctx context.Context, t *ticket.Ticket) error

	// Checksum busca o checksum remoto; se existir e não bater com
	// "sha2:" + t.Checksum, retorna *ChecksumError.
	Checksum(ctx context.Context, t *ticket.Ticket, remoteFile string) error

	// RunDmfRule executa o microservice de consulta DMF com o corpo de
	// regra dado (caminhos remotos separados por newline) e retorna um
	// registro por objeto encontrado.
	RunDmfRule(ctx context.Context, microservice, ruleBody string) ([]DmfRecord, error)

	Close() error
}

// Connector abre sessões com o archive.
type Connector interface {
	Connect(ctx context.Context) (Session, error)
}

// NetworkError marca uma falha de rede/remota transitória: o scheduler
// decrementa o crédito de retries e reagenda o ticket.
type NetworkError struct {
	Op  string
	Err error
}

func (e *NetworkError) Error() string {
	return fmt.Sprintf("network error in %s: %v", e.Op, e.Err)
}

func (e *NetworkError) Unwrap() error { return e.Err }

// ChecksumError marca divergência entre o checksum local e o remoto.
// Terminal: o ticket vai para ERROR sem retry.
type ChecksumError struct {
	RemoteFile string
	Want       string
	Got        string
}

func (e *ChecksumError) Error() string {
	return fmt.Sprintf("checksum mismatch for %s: local %s, remote %s", e.RemoteFile, e.Want, e.Got)
}

// DmfRuleError marca um recall pendente: o objeto ainda está na fita.
// O scheduler põe o ticket em UNMIG sem consumir retry.
type DmfRuleError struct {
	RemoteFile string
	State      string
}

func (e *DmfRuleError) Error() string {
	return fmt.Sprintf("dmf rule failed for %s: object not staged (state %s)", e.RemoteFile, e.State)
}
