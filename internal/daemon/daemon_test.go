// Copyright (c) 2026 Nishisan. All rights reserved.
// Use of this source code is governed by the DM-iRODS License (Non-Commercial Evaluation)
// that can be found in the LICENSE file.

package daemon

import (
	"context"
	"io"
	"log/slog"
	"strings"
	"testing"

	"github.com/nishisan-dev/dm-irods/internal/archive"
	"github.com/nishisan-dev/dm-irods/internal/config"
	"github.com/nishisan-dev/dm-irods/internal/ticket"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// fakeSession é uma sessão de archive programável para os testes.
type fakeSession struct {
	objects    []*archive.Object
	dmfStates  map[string]string
	getFn      func(*ticket.Ticket) error
	putFn      func(*ticket.Ticket) error
	checksumFn func(*ticket.Ticket, string) error
	closed     int
}

func (f *fakeSession) ListObjects(ctx context.Context, fl archive.Filter, limit int, fn func(*archive.Object) error) error {
	emitted := 0
	for _, o := range f.objects {
		if fl.Object != "" && o.Object != fl.Object {
			continue
		}
		if fl.Collection != "" && o.Collection != fl.Collection {
			continue
		}
		if err := fn(o); err != nil {
			return err
		}
		emitted++
		if limit > 0 && emitted >= limit {
			return nil
		}
	}
	return nil
}

func (f *fakeSession) Get(ctx context.Context, t *ticket.Ticket) error {
	if f.getFn != nil {
		return f.getFn(t)
	}
	return nil
}

func (f *fakeSession) Put(ctx context.Context, t *ticket.Ticket) error {
	if f.putFn != nil {
		return f.putFn(t)
	}
	return nil
}

func (f *fakeSession) Checksum(ctx context.Context, t *ticket.Ticket, remoteFile string) error {
	if f.checksumFn != nil {
		return f.checksumFn(t, remoteFile)
	}
	return nil
}

func (f *fakeSession) RunDmfRule(ctx context.Context, microservice, ruleBody string) ([]archive.DmfRecord, error) {
	var out []archive.DmfRecord
	for _, path := range strings.Split(ruleBody, "\n") {
		if state, ok := f.dmfStates[path]; ok {
			out = append(out, archive.DmfRecord{RemoteFile: path, State: state})
		}
	}
	return out, nil
}

func (f *fakeSession) Close() error {
	f.closed++
	return nil
}

// fakeConnector entrega sempre a mesma fakeSession.
type fakeConnector struct {
	session *fakeSession
	secret  string
}

func (f *fakeConnector) Connect(ctx context.Context) (archive.Session, error) {
	return f.session, nil
}

func (f *fakeConnector) SecretConfigured() bool  { return f.secret != "" }
func (f *fakeConnector) SetSecret(secret string) { f.secret = secret }

func testConfig() *config.Config {
	return &config.Config{
		IrodsZoneName:        "tempZone",
		IrodsUserName:        "alice",
		ConnectionTimeout:    10,
		Housekeeping:         24,
		TickInterval:         1,
		HousekeepingInterval: 3600,
	}
}

func newTestDaemon(t *testing.T, session *fakeSession) (*Daemon, *fakeConnector) {
	t.Helper()
	store, err := ticket.NewStore(t.TempDir(), testLogger())
	if err != nil {
		t.Fatal(err)
	}
	connector := &fakeConnector{session: session}
	return NewDaemon(testConfig(), store, connector, testLogger()), connector
}
