// Copyright (c) 2026 Nishisan. All rights reserved.
// Use of this source code is governed by the DM-iRODS License (Non-Commercial Evaluation)
// that can be found in the LICENSE file.

package daemon

import (
	"context"
	"fmt"
	"path"
	"strings"
	"time"

	"github.com/nishisan-dev/dm-irods/internal/archive"
	"github.com/nishisan-dev/dm-irods/internal/ticket"
)

// completionCacheTTL é a validade do cache de caminhos do completion_list.
const completionCacheTTL = 60 * time.Second

// deletedPrefix marca um local_file cujo arquivo sumiu do disco.
const deletedPrefix = "DELETED:"

// pipelineFilter restringe o pipeline de listagem: só tickets ativos
// (list --active) ou um único objeto (info).
type pipelineFilter struct {
	Active     bool
	Collection string
	Object     string
}

func splitRemotePath(remoteFile string) (collection, object string) {
	dir, base := path.Split(path.Clean(remoteFile))
	return strings.TrimSuffix(dir, "/"), base
}

// list abre uma sessão e roda o pipeline para uma requisição de cliente.
func (d *Daemon) list(limit int, f listFilter, yield func(archive.Record) error) error {
	return d.withSession(func(ctx context.Context, s archive.Session) error {
		return d.processList(ctx, s, limit, pipelineFilter{Active: f.Active}, yield)
	})
}

// processList junta o índice de tickets com o catálogo remoto: primeiro os
// tickets que passam no filtro, enriquecidos e resolvidos em lote pelo
// GetDmfObject; depois, se ainda há limite, os objetos do catálogo que não
// foram emitidos. Nenhum remote_file é emitido duas vezes.
func (d *Daemon) processList(ctx context.Context, s archive.Session, limit int, f pipelineFilter, yield func(archive.Record) error) error {
	resolver := archive.NewGetDmfObject(s, d.cfg.IsResourceServer, d.logger)
	unbounded := limit <= 0
	argLimit := 0
	if !unbounded {
		// Folga para o join: o catálogo pode devolver objetos que já
		// saíram como tickets.
		argLimit = 2 * limit
	}

	var tickets []*ticket.Ticket
	if f.Active {
		tickets = d.store.Active()
	} else {
		tickets = d.store.All()
	}

	emitted := make(map[string]bool)
	records := make([]archive.Record, 0, len(tickets))
	for _, t := range tickets {
		if f.Object != "" && t.RemoteFile != f.Collection+"/"+f.Object {
			continue
		}
		rec := t.ToRecord()
		collection, object := splitRemotePath(t.RemoteFile)
		rec["collection"] = collection
		rec["object"] = object
		records = append(records, rec)
		emitted[t.RemoteFile] = true
	}

	resolved, err := resolver.ProcessAll(ctx, records)
	if err != nil {
		return fmt.Errorf("resolving ticket dmf states: %w", err)
	}
	for _, rec := range resolved {
		if err := yield(markDeleted(rec)); err != nil {
			return err
		}
		if !unbounded {
			limit--
			if limit == 0 {
				return nil
			}
		}
	}

	if f.Active {
		return nil
	}

	var remote []archive.Record
	err = s.ListObjects(ctx, archive.Filter{Collection: f.Collection, Object: f.Object}, argLimit, func(o *archive.Object) error {
		if emitted[o.RemoteFile] {
			return nil
		}
		emitted[o.RemoteFile] = true
		remote = append(remote, o.ToRecord())
		return nil
	})
	if err != nil {
		return fmt.Errorf("listing archive: %w", err)
	}

	resolved, err = resolver.ProcessAll(ctx, remote)
	if err != nil {
		return fmt.Errorf("resolving archive dmf states: %w", err)
	}
	for _, rec := range resolved {
		if err := yield(markDeleted(rec)); err != nil {
			return err
		}
		if !unbounded {
			limit--
			if limit == 0 {
				return nil
			}
		}
	}
	return nil
}

// markDeleted reescreve local_file para "DELETED:<path>" quando o registro
// tem caminho local mas nenhum local_size: a cópia local sumiu.
func markDeleted(rec archive.Record) archive.Record {
	lf, ok := rec["local_file"].(string)
	if !ok || lf == "" || strings.HasPrefix(lf, deletedPrefix) {
		return rec
	}
	if rec["local_size"] == nil {
		rec["local_file"] = deletedPrefix + lf
	}
	return rec
}

// completionList responde todos os caminhos remotos em cache cujo prefixo
// casa com o pedido.
func (d *Daemon) completionList(prefix string, yield func([]byte) error) error {
	paths, err := d.completionPaths()
	if err != nil {
		return err
	}
	for _, p := range paths {
		if strings.HasPrefix(p, prefix) {
			if err := yield([]byte(p)); err != nil {
				return err
			}
		}
	}
	return nil
}

// completionPaths devolve a lista plana de caminhos remotos, renovada no
// máximo a cada completionCacheTTL.
func (d *Daemon) completionPaths() ([]string, error) {
	d.clMu.Lock()
	defer d.clMu.Unlock()

	if d.clPaths != nil && time.Since(d.clFetched) < completionCacheTTL {
		return d.clPaths, nil
	}

	var paths []string
	err := d.withSession(func(ctx context.Context, s archive.Session) error {
		return s.ListObjects(ctx, archive.Filter{}, 0, func(o *archive.Object) error {
			paths = append(paths, o.RemoteFile)
			return nil
		})
	})
	if err != nil {
		return nil, fmt.Errorf("refreshing completion cache: %w", err)
	}
	d.clPaths = paths
	d.clFetched = time.Now()
	d.logger.Debug("completion cache refreshed", "paths", len(paths))
	return d.clPaths, nil
}
