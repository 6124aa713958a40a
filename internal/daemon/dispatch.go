// Copyright (c) 2026 Nishisan. All rights reserved.
// Use of this source code is governed by the DM-iRODS License (Non-Commercial Evaluation)
// that can be found in the LICENSE file.

package daemon

import (
	"context"
	"encoding/json"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/nishisan-dev/dm-irods/internal/archive"
	"github.com/nishisan-dev/dm-irods/internal/protocol"
	"github.com/nishisan-dev/dm-irods/internal/ticket"
)

// request é o objeto JSON de uma requisição de cliente. A chave de
// dispatch é o primeiro campo reconhecido presente.
type request struct {
	Get              *string     `json:"get"`
	Put              *string     `json:"put"`
	Info             *string     `json:"info"`
	List             interface{} `json:"list"`
	CompletionList   *string     `json:"completion_list"`
	SecretConfigured interface{} `json:"secret_configured"`
	SetSecret        *string     `json:"set_secret"`

	LocalFile  string      `json:"local_file"`
	RemoteFile string      `json:"remote_file"`
	Limit      int         `json:"limit"`
	Filter     *listFilter `json:"filter"`
}

type listFilter struct {
	Active bool `json:"active"`
}

// Process trata uma requisição one-shot. Um erro retornado vira uma
// resposta ERROR serializada pelo listener.
func (d *Daemon) Process(code uint32, data []byte) (uint32, []byte, error) {
	d.Heartbeat()

	var req request
	if err := json.Unmarshal(data, &req); err != nil {
		return 0, nil, fmt.Errorf("malformed request: %w", err)
	}

	switch {
	case req.Get != nil:
		return d.reply(d.register(ticket.ModeGet, req.LocalFile, *req.Get))
	case req.Put != nil:
		return d.reply(d.register(ticket.ModePut, *req.Put, req.RemoteFile))
	case req.Info != nil:
		return d.info(*req.Info)
	case req.SecretConfigured != nil:
		return d.reply(map[string]interface{}{"configured": d.connector.SecretConfigured()})
	case req.SetSecret != nil:
		d.connector.SetSecret(*req.SetSecret)
		d.logger.Info("secret key injected")
		return d.reply(map[string]interface{}{"msg": "secret set"})
	}
	return 0, nil, fmt.Errorf("unknown request: no recognized key in %s", data)
}

// ProcessAll trata uma requisição streaming; cada item vai para yield e o
// listener emite o EOF final.
func (d *Daemon) ProcessAll(code uint32, data []byte, yield func([]byte) error) error {
	d.Heartbeat()

	var req request
	if err := json.Unmarshal(data, &req); err != nil {
		return fmt.Errorf("malformed request: %w", err)
	}

	switch {
	case req.List != nil:
		var f listFilter
		if req.Filter != nil {
			f = *req.Filter
		}
		return d.list(req.Limit, f, func(rec archive.Record) error {
			payload, err := json.Marshal(rec)
			if err != nil {
				return fmt.Errorf("encoding record: %w", err)
			}
			return yield(payload)
		})
	case req.CompletionList != nil:
		return d.completionList(*req.CompletionList, yield)
	}
	return fmt.Errorf("unknown streaming request: no recognized key in %s", data)
}

func (d *Daemon) reply(v interface{}) (uint32, []byte, error) {
	payload, err := json.Marshal(v)
	if err != nil {
		return 0, nil, fmt.Errorf("encoding reply: %w", err)
	}
	return protocol.CodeOK, payload, nil
}

// register cria ou reagenda um ticket GET/PUT. Placeholders {zone}/{user}
// são sempre substituídos; um GET com caminho remoto relativo cai na
// collection home do usuário.
func (d *Daemon) register(mode ticket.Mode, localFile, remoteFile string) RegisterReply {
	if localFile == "" || remoteFile == "" {
		return RegisterReply{File: localFile, Code: RegFailed, Msg: "local_file and remote_file are required"}
	}

	remoteFile = d.cfg.Substitute(remoteFile)
	displayFile := localFile
	if mode == ticket.ModeGet {
		if !strings.HasPrefix(remoteFile, "/") {
			remoteFile = d.cfg.HomeCollection() + "/" + remoteFile
		}
		displayFile = remoteFile
	}
	if !filepath.IsAbs(localFile) {
		return RegisterReply{File: displayFile, Code: RegFailed, Msg: fmt.Sprintf("local file %s is not absolute", localFile)}
	}
	if !strings.HasPrefix(remoteFile, "/") {
		return RegisterReply{File: displayFile, Code: RegFailed, Msg: fmt.Sprintf("remote file %s is not absolute", remoteFile)}
	}

	tk, err := ticket.New(localFile, remoteFile, mode)
	if err != nil {
		return RegisterReply{File: displayFile, Code: RegFailed, Msg: err.Error()}
	}

	if existing, ok := d.store.Get(tk.Key()); ok {
		if existing.IsActive() {
			d.logger.Info("ticket already registered", "local_file", localFile, "remote_file", remoteFile)
			return RegisterReply{
				File:   displayFile,
				Ticket: existing.Filename(),
				Code:   RegAlreadyRegistered,
				Msg:    fmt.Sprintf("%s already registered", displayFile),
			}
		}
		// Ticket terminal de mesma identidade: substitui por um novo.
		if err := d.store.Create(tk); err != nil {
			d.logger.Error("cannot reschedule ticket", "local_file", localFile, "error", err)
			return RegisterReply{File: displayFile, Code: RegFailed, Msg: err.Error()}
		}
		d.logger.Info("ticket rescheduled", "local_file", localFile, "remote_file", remoteFile, "mode", mode.String())
		return RegisterReply{File: displayFile, Ticket: tk.Filename(), Code: RegRescheduled, Msg: "rescheduled"}
	}

	if err := d.store.Create(tk); err != nil {
		d.logger.Error("cannot create ticket", "local_file", localFile, "error", err)
		return RegisterReply{File: displayFile, Code: RegFailed, Msg: err.Error()}
	}
	d.logger.Info("ticket scheduled", "local_file", localFile, "remote_file", remoteFile, "mode", mode.String())
	return RegisterReply{File: displayFile, Ticket: tk.Filename(), Code: RegOK, Msg: "scheduled"}
}

// info é o list com filtro pontual (collection, object) e limit 1: devolve
// o registro enriquecido ou um objeto vazio.
func (d *Daemon) info(remoteFile string) (uint32, []byte, error) {
	remoteFile = d.cfg.Substitute(remoteFile)
	if !strings.HasPrefix(remoteFile, "/") {
		remoteFile = d.cfg.HomeCollection() + "/" + remoteFile
	}
	collection, object := splitRemotePath(remoteFile)

	result := archive.Record{}
	err := d.withSession(func(ctx context.Context, s archive.Session) error {
		return d.processList(ctx, s, 1, pipelineFilter{Collection: collection, Object: object}, func(rec archive.Record) error {
			result = rec
			return nil
		})
	})
	if err != nil {
		return 0, nil, err
	}
	return d.reply(result)
}

// withSession abre uma sessão, executa fn e garante o Close em todos os
// caminhos.
func (d *Daemon) withSession(fn func(ctx context.Context, s archive.Session) error) error {
	ctx := context.Background()
	s, err := d.connector.Connect(ctx)
	if err != nil {
		return fmt.Errorf("connecting to archive: %w", err)
	}
	defer s.Close()
	return fn(ctx, s)
}
