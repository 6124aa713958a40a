// Copyright (c) 2026 Nishisan. All rights reserved.
// Use of this source code is governed by the DM-iRODS License (Non-Commercial Evaluation)
// that can be found in the LICENSE file.

package archive

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
)

// MaxRuleBodySize é o limite duro do corpo de uma regra de consulta DMF.
// Lotes maiores são divididos em múltiplas execuções do microservice.
const MaxRuleBodySize = 20000

// MicroserviceName retorna o nome do microservice de consulta DMF:
// msiGetDmfObject direto em um resource server, senão a regra wrapper.
func MicroserviceName(isResourceServer bool) string {
	if isResourceServer {
		return "msiGetDmfObject"
	}
	return "GetDmfObject"
}

// DmfRecord é a resposta do microservice para um objeto.
type DmfRecord struct {
	RemoteFile string `json:"remote_file"`
	State      string `json:"DMF_state"`
}

// RuleRunner é o subconjunto da Session que o resolver usa.
type RuleRunner interface {
	RunDmfRule(ctx context.Context, microservice, ruleBody string) ([]DmfRecord, error)
}

// GetDmfObject resolve o estado DMF de registros de listagem em lote.
// A saída preserva a pertinência da entrada: todo registro entra na saída,
// com ou sem dado DMF encontrado.
type GetDmfObject struct {
	runner       RuleRunner
	microservice string
	logger       *slog.Logger
}

// NewGetDmfObject cria o resolver para a sessão dada.
func NewGetDmfObject(r RuleRunner, isResourceServer bool, logger *slog.Logger) *GetDmfObject {
	return &GetDmfObject{
		runner:       r,
		microservice: MicroserviceName(isResourceServer),
		logger:       logger.With("component", "dmf_resolver"),
	}
}

// ProcessAll resolve o estado DMF de todos os registros, agrupando os
// caminhos remotos em corpos de regra de até MaxRuleBodySize caracteres.
// A saída mantém a ordem da entrada; o overlay escreve direto nos
// registros do lote.
func (g *GetDmfObject) ProcessAll(ctx context.Context, records []Record) ([]Record, error) {
	out := make([]Record, 0, len(records))
	batch := make([]Record, 0, len(records))
	var body strings.Builder

	flush := func() error {
		if len(batch) == 0 {
			return nil
		}
		if err := g.flush(ctx, body.String(), batch); err != nil {
			return err
		}
		batch = batch[:0]
		body.Reset()
		return nil
	}

	for _, rec := range records {
		out = append(out, rec)
		path, ok := rec["remote_file"].(string)
		if !ok || path == "" {
			// Sem caminho remoto não há o que consultar; passa direto.
			continue
		}
		if body.Len() > 0 && body.Len()+len(path)+1 > MaxRuleBodySize {
			if err := flush(); err != nil {
				return nil, err
			}
		}
		if body.Len() > 0 {
			body.WriteByte('\n')
		}
		body.WriteString(path)
		batch = append(batch, rec)
	}
	if err := flush(); err != nil {
		return nil, err
	}
	return out, nil
}

// Process resolve um único registro.
func (g *GetDmfObject) Process(ctx context.Context, rec Record) (Record, error) {
	out, err := g.ProcessAll(ctx, []Record{rec})
	if err != nil {
		return nil, err
	}
	return out[0], nil
}

func (g *GetDmfObject) flush(ctx context.Context, body string, batch []Record) error {
	g.logger.Debug("running dmf rule", "microservice", g.microservice, "objects", len(batch))
	results, err := g.runner.RunDmfRule(ctx, g.microservice, body)
	if err != nil {
		return fmt.Errorf("running %s: %w", g.microservice, err)
	}

	byPath := make(map[string]DmfRecord, len(results))
	for _, r := range results {
		byPath[r.RemoteFile] = r
	}

	for _, rec := range batch {
		path, _ := rec["remote_file"].(string)
		if r, ok := byPath[path]; ok && r.State != "" {
			rec["DMF_state"] = r.State
		}
	}
	return nil
}
