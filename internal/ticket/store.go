// Copyright (c) 2026 Nishisan. All rights reserved.
// Use of this source code is governed by the DM-iRODS License (Non-Commercial Evaluation)
// that can be found in the LICENSE file.

package ticket

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
)

// Store mantém o diretório de tickets em disco e os índices em memória.
// Um único mutex serializa insert / update / delete / snapshot; o listener
// e o scheduler compartilham o Store sem outra coordenação.
type Store struct {
	dir    string
	logger *slog.Logger

	mu      sync.Mutex
	tickets map[Key]*Ticket
	active  map[Key]*Ticket
}

// NewStore cria o Store e garante que o diretório de tickets existe.
func NewStore(dir string, logger *slog.Logger) (*Store, error) {
	if err := os.MkdirAll(dir, 0700); err != nil {
		return nil, fmt.Errorf("creating ticket directory: %w", err)
	}
	return &Store{
		dir:     dir,
		logger:  logger.With("component", "ticket_store"),
		tickets: make(map[Key]*Ticket),
		active:  make(map[Key]*Ticket),
	}, nil
}

// Dir retorna o diretório de tickets.
func (s *Store) Dir() string {
	return s.dir
}

// LoadAll varre o diretório, carrega cada *.json e aplica o crash recovery:
// tickets persistidos em GETTING/PUTTING voltam para RETRY com o crédito
// de retries restaurado e o progresso zerado, e o arquivo é reescrito.
// Um ticket corrompido interrompe o load, nunca é descartado em silêncio.
func (s *Store) LoadAll() error {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return fmt.Errorf("reading ticket directory: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), ".json") {
			continue
		}
		path := filepath.Join(s.dir, e.Name())
		s.logger.Info("reading ticket", "file", path)

		data, err := os.ReadFile(path)
		if err != nil {
			s.logger.Error("cannot read ticket file", "file", path, "error", err)
			return fmt.Errorf("reading ticket %s: %w", path, err)
		}
		t, err := FromJSON(data)
		if err != nil {
			s.logger.Error("corrupt ticket file", "file", path, "error", err)
			return fmt.Errorf("parsing ticket %s: %w", path, err)
		}

		rewrite := false
		if t.Status == StatusGetting || t.Status == StatusPutting {
			t.Retry()
			t.Retries = DefaultRetries
			rewrite = true
		}
		if t.Mode == ModePut {
			// O arquivo local pode ter mudado entre o shutdown e agora.
			if err := t.UpdateLocalAttributes(); err != nil {
				s.logger.Warn("cannot refresh local attributes", "file", t.LocalFile, "error", err)
			} else {
				rewrite = true
			}
		}
		if rewrite {
			if err := s.persist(t); err != nil {
				return err
			}
		}

		k := t.Key()
		s.tickets[k] = t
		if t.IsActive() {
			s.active[k] = t
		}
	}

	s.logger.Info("tickets loaded", "total", len(s.tickets), "active", len(s.active))
	return nil
}

// Get retorna uma cópia do ticket com a identidade dada.
func (s *Store) Get(k Key) (*Ticket, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.tickets[k]
	if !ok {
		return nil, false
	}
	cp := *t
	return &cp, true
}

// Create grava um ticket novo (ou substitui um terminal de mesma identidade)
// e o insere nos dois índices. O modo entra no nome do arquivo: quando um
// reschedule troca GET por PUT, o arquivo do ticket substituído é removido
// para não deixar um órfão que ressuscitaria no próximo load.
func (s *Store) Create(t *Ticket) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.persist(t); err != nil {
		return err
	}
	k := t.Key()
	if old, ok := s.tickets[k]; ok && old.Filename() != t.Filename() {
		path := filepath.Join(s.dir, old.Filename())
		if err := os.Remove(path); err != nil {
			s.logger.Warn("cannot remove superseded ticket file", "file", path, "error", err)
		}
	}
	s.tickets[k] = t
	s.active[k] = t
	return nil
}

// Update regrava o arquivo do ticket e mantém o índice ativo coerente
// com o status atual.
func (s *Store) Update(t *Ticket) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.persist(t); err != nil {
		return err
	}
	k := t.Key()
	s.tickets[k] = t
	if t.IsActive() {
		s.active[k] = t
	} else {
		delete(s.active, k)
	}
	return nil
}

// Delete remove o ticket dos índices; a remoção do arquivo é best-effort
// (falha é logada, não propagada).
func (s *Store) Delete(k Key) {
	s.mu.Lock()
	defer s.mu.Unlock()

	t, ok := s.tickets[k]
	if !ok {
		return
	}
	delete(s.tickets, k)
	delete(s.active, k)

	path := filepath.Join(s.dir, t.Filename())
	s.logger.Info("removing ticket", "file", path)
	if err := os.Remove(path); err != nil {
		s.logger.Warn("cannot remove ticket file", "file", path, "error", err)
	}
}

// persist grava temp → rename; o rename é atômico no mesmo filesystem.
// Caller segura s.mu.
func (s *Store) persist(t *Ticket) error {
	data, err := t.ToJSON()
	if err != nil {
		return fmt.Errorf("encoding ticket: %w", err)
	}
	final := filepath.Join(s.dir, t.Filename())
	tmp := final + ".tmp"
	if err := os.WriteFile(tmp, data, 0600); err != nil {
		return fmt.Errorf("writing ticket %s: %w", tmp, err)
	}
	if err := os.Rename(tmp, final); err != nil {
		return fmt.Errorf("renaming ticket %s: %w", tmp, err)
	}
	return nil
}

// All retorna uma cópia de todos os tickets na ordem de processamento
// (classe de status, depois time_created crescente).
func (s *Store) All() []*Ticket {
	s.mu.Lock()
	defer s.mu.Unlock()
	return sortTickets(s.tickets)
}

// Active retorna uma cópia dos tickets ativos na ordem de processamento.
func (s *Store) Active() []*Ticket {
	s.mu.Lock()
	defer s.mu.Unlock()
	return sortTickets(s.active)
}

// Counts retorna (total, ativos).
func (s *Store) Counts() (int, int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.tickets), len(s.active)
}

// CountByStatus retorna o número de tickets por status.
func (s *Store) CountByStatus() map[string]int {
	s.mu.Lock()
	defer s.mu.Unlock()
	counts := make(map[string]int)
	for _, t := range s.tickets {
		counts[t.Status.String()]++
	}
	return counts
}

func sortTickets(m map[Key]*Ticket) []*Ticket {
	out := make([]*Ticket, 0, len(m))
	for _, t := range m {
		cp := *t
		out = append(out, &cp)
	}
	sort.SliceStable(out, func(i, j int) bool {
		a, b := out[i], out[j]
		if a.Status.SortIndex() != b.Status.SortIndex() {
			return a.Status.SortIndex() < b.Status.SortIndex()
		}
		return a.TimeCreated < b.TimeCreated
	})
	return out
}
