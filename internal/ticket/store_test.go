// Copyright (c) 2026 Nishisan. All rights reserved.
// Use of this source code is governed by the DM-iRODS License (Non-Commercial Evaluation)
// that can be found in the LICENSE file.

package ticket

import (
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"testing"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func writeTicketFile(t *testing.T, dir string, tk *Ticket) string {
	t.Helper()
	data, err := tk.ToJSON()
	if err != nil {
		t.Fatal(err)
	}
	path := filepath.Join(dir, tk.Filename())
	if err := os.WriteFile(path, data, 0600); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestStore_CreateGetDelete(t *testing.T) {
	store, err := NewStore(t.TempDir(), testLogger())
	if err != nil {
		t.Fatalf("NewStore: %v", err)
	}

	tk := &Ticket{
		LocalFile:  "/tmp/a.dat",
		RemoteFile: "/zone/home/alice/a.dat",
		Status:     StatusWaiting,
		Mode:       ModeGet,
		Retries:    DefaultRetries,
		DmfState:   DmfStateUnknown,
	}
	if err := store.Create(tk); err != nil {
		t.Fatalf("Create: %v", err)
	}

	total, active := store.Counts()
	if total != 1 || active != 1 {
		t.Fatalf("expected 1/1, got %d/%d", total, active)
	}

	got, ok := store.Get(tk.Key())
	if !ok {
		t.Fatal("expected ticket in store")
	}
	if got.Status != StatusWaiting {
		t.Errorf("expected WAITING, got %v", got.Status)
	}

	if _, err := os.Stat(filepath.Join(store.Dir(), tk.Filename())); err != nil {
		t.Errorf("expected ticket file on disk: %v", err)
	}

	store.Delete(tk.Key())
	total, active = store.Counts()
	if total != 0 || active != 0 {
		t.Fatalf("expected 0/0 after delete, got %d/%d", total, active)
	}
	if _, err := os.Stat(filepath.Join(store.Dir(), tk.Filename())); !os.IsNotExist(err) {
		t.Error("expected ticket file removed")
	}
}

func TestStore_UpdateMaintainsActiveIndex(t *testing.T) {
	store, err := NewStore(t.TempDir(), testLogger())
	if err != nil {
		t.Fatal(err)
	}

	tk := &Ticket{LocalFile: "/tmp/a", RemoteFile: "/z/a", Status: StatusWaiting, Mode: ModeGet, DmfState: DmfStateUnknown}
	if err := store.Create(tk); err != nil {
		t.Fatal(err)
	}

	done := *tk
	done.Status = StatusDone
	if err := store.Update(&done); err != nil {
		t.Fatalf("Update: %v", err)
	}

	total, active := store.Counts()
	if total != 1 || active != 0 {
		t.Fatalf("expected 1 total / 0 active, got %d/%d", total, active)
	}

	retry := done
	retry.Status = StatusRetry
	if err := store.Update(&retry); err != nil {
		t.Fatal(err)
	}
	_, active = store.Counts()
	if active != 1 {
		t.Fatalf("expected ticket back in active index, got %d", active)
	}
}

func TestStore_CrashRecovery(t *testing.T) {
	// Ticket em GETTING com progresso parcial: o load reescreve para
	// RETRY, retries=3, transferred=0, em memória e em disco.
	dir := t.TempDir()
	tk := &Ticket{
		LocalFile:   "/tmp/a.dat",
		RemoteFile:  "/zone/home/alice/a.dat",
		Status:      StatusGetting,
		Mode:        ModeGet,
		Retries:     1,
		Transferred: 500000,
		DmfState:    DmfStateUnknown,
	}
	path := writeTicketFile(t, dir, tk)

	store, err := NewStore(dir, testLogger())
	if err != nil {
		t.Fatal(err)
	}
	if err := store.LoadAll(); err != nil {
		t.Fatalf("LoadAll: %v", err)
	}

	got, ok := store.Get(tk.Key())
	if !ok {
		t.Fatal("expected ticket after load")
	}
	if got.Status != StatusRetry {
		t.Errorf("expected RETRY, got %v", got.Status)
	}
	if got.Retries != DefaultRetries {
		t.Errorf("expected retries %d, got %d", DefaultRetries, got.Retries)
	}
	if got.Transferred != 0 {
		t.Errorf("expected transferred 0, got %d", got.Transferred)
	}

	// Arquivo em disco reescrito
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	onDisk, err := FromJSON(data)
	if err != nil {
		t.Fatal(err)
	}
	if onDisk.Status != StatusRetry || onDisk.Retries != DefaultRetries || onDisk.Transferred != 0 {
		t.Errorf("disk state not rewritten: %+v", onDisk)
	}
}

func TestStore_LoadAll_CorruptTicketPropagates(t *testing.T) {
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "broken.json"), []byte("{not json"), 0600); err != nil {
		t.Fatal(err)
	}

	store, err := NewStore(dir, testLogger())
	if err != nil {
		t.Fatal(err)
	}
	if err := store.LoadAll(); err == nil {
		t.Fatal("expected error for corrupt ticket file")
	}
}

func TestStore_LoadAll_TerminalNotActive(t *testing.T) {
	dir := t.TempDir()
	writeTicketFile(t, dir, &Ticket{LocalFile: "/tmp/a", RemoteFile: "/z/a", Status: StatusDone, Mode: ModeGet, DmfState: DmfStateUnknown})
	writeTicketFile(t, dir, &Ticket{LocalFile: "/tmp/b", RemoteFile: "/z/b", Status: StatusWaiting, Mode: ModeGet, DmfState: DmfStateUnknown})

	store, err := NewStore(dir, testLogger())
	if err != nil {
		t.Fatal(err)
	}
	if err := store.LoadAll(); err != nil {
		t.Fatal(err)
	}
	total, active := store.Counts()
	if total != 2 || active != 1 {
		t.Fatalf("expected 2 total / 1 active, got %d/%d", total, active)
	}
}

func TestStore_SortOrder(t *testing.T) {
	store, err := NewStore(t.TempDir(), testLogger())
	if err != nil {
		t.Fatal(err)
	}

	mk := func(local string, st Status, created float64) *Ticket {
		return &Ticket{LocalFile: local, RemoteFile: "/z" + local, Status: st, Mode: ModeGet, TimeCreated: created, DmfState: DmfStateUnknown}
	}
	// inseridos fora de ordem
	for _, tk := range []*Ticket{
		mk("/t/done", StatusDone, 1),
		mk("/t/retry", StatusRetry, 2),
		mk("/t/wait2", StatusWaiting, 5),
		mk("/t/wait1", StatusWaiting, 3),
		mk("/t/unmig", StatusUnmig, 1),
	} {
		if err := store.Create(tk); err != nil {
			t.Fatal(err)
		}
	}

	all := store.All()
	var order []string
	for _, tk := range all {
		order = append(order, tk.LocalFile)
	}
	want := []string{"/t/wait1", "/t/wait2", "/t/retry", "/t/unmig", "/t/done"}
	for i := range want {
		if order[i] != want[i] {
			t.Fatalf("unexpected order: %v (want %v)", order, want)
		}
	}
}

func TestStore_CreateModeFlipRemovesSupersededFile(t *testing.T) {
	dir := t.TempDir()
	store, err := NewStore(dir, testLogger())
	if err != nil {
		t.Fatalf("NewStore: %v", err)
	}

	old := &Ticket{
		LocalFile:  "/tmp/a.dat",
		RemoteFile: "/zone/home/alice/a.dat",
		Status:     StatusError,
		Mode:       ModeGet,
		DmfState:   DmfStateUnknown,
	}
	if err := store.Create(old); err != nil {
		t.Fatal(err)
	}

	// Mesma identidade (local, remote), modo oposto: o nome do arquivo muda.
	fresh := &Ticket{
		LocalFile:  "/tmp/a.dat",
		RemoteFile: "/zone/home/alice/a.dat",
		Status:     StatusWaiting,
		Mode:       ModePut,
		Retries:    DefaultRetries,
		DmfState:   DmfStateUnknown,
	}
	if err := store.Create(fresh); err != nil {
		t.Fatal(err)
	}

	if _, err := os.Stat(filepath.Join(dir, old.Filename())); !os.IsNotExist(err) {
		t.Error("superseded ticket file must be removed")
	}
	if _, err := os.Stat(filepath.Join(dir, fresh.Filename())); err != nil {
		t.Errorf("new ticket file missing: %v", err)
	}

	got, ok := store.Get(fresh.Key())
	if !ok || got.Mode != ModePut {
		t.Fatalf("expected the PUT ticket under the key, got %+v", got)
	}
	if total, _ := store.Counts(); total != 1 {
		t.Errorf("expected a single ticket, got %d", total)
	}
}
