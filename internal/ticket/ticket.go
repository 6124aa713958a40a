// Copyright (c) 2026 Nishisan. All rights reserved.
// Use of this source code is governed by the DM-iRODS License (Non-Commercial Evaluation)
// that can be found in the LICENSE file.

// Package ticket implementa o registro persistente de uma transferência
// (GET ou PUT) entre o filesystem local e o archive remoto.
package ticket

import (
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"time"
)

// Status é o estado do ticket na máquina de estados do daemon.
type Status int

const (
	StatusWaiting Status = iota + 1
	StatusCanceled
	StatusGetting
	StatusPutting
	StatusDone
	StatusUndef
	StatusError
	StatusRetry
	StatusUnmig
)

// Mode indica a direção da transferência.
type Mode int

const (
	ModeNone Mode = iota
	ModeGet
	ModePut
)

// DefaultRetries é o crédito inicial de tentativas de um ticket novo.
const DefaultRetries = 3

// DmfStateUnknown é o valor do DMF_state quando o estado da fita nunca foi observado.
const DmfStateUnknown = "???"

var status2string = map[Status]string{
	StatusWaiting:  "WAITING",
	StatusCanceled: "CANCELED",
	StatusGetting:  "GETTING",
	StatusPutting:  "PUTTING",
	StatusDone:     "DONE",
	StatusUndef:    "UNDEF",
	StatusError:    "ERROR",
	StatusRetry:    "RETRY",
	StatusUnmig:    "UNMIG",
}

var string2status = func() map[string]Status {
	m := make(map[string]Status, len(status2string))
	for k, v := range status2string {
		m[v] = k
	}
	return m
}()

// sortedStatuses define a ordem de processamento por tick: trabalho novo
// primeiro, estados terminais por último. UNMIG agrupa com RETRY.
var sortedStatuses = []Status{
	StatusWaiting,
	StatusGetting,
	StatusPutting,
	StatusRetry,
	StatusUnmig,
	StatusCanceled,
	StatusError,
	StatusUndef,
	StatusDone,
}

var statusSortIndex = func() map[Status]int {
	m := make(map[Status]int, len(sortedStatuses))
	for i, s := range sortedStatuses {
		m[s] = i
	}
	return m
}()

// String retorna o nome do status ("?" para valores fora da tabela).
func (s Status) String() string {
	if v, ok := status2string[s]; ok {
		return v
	}
	return "?"
}

// SortIndex retorna a posição do status na ordem de processamento.
func (s Status) SortIndex() int {
	if i, ok := statusSortIndex[s]; ok {
		return i
	}
	return len(sortedStatuses)
}

// ParseStatus converte o nome persistido de volta para Status.
func ParseStatus(s string) (Status, error) {
	if v, ok := string2status[s]; ok {
		return v, nil
	}
	return 0, fmt.Errorf("unknown ticket status %q", s)
}

func (s Status) MarshalJSON() ([]byte, error) {
	return json.Marshal(s.String())
}

func (s *Status) UnmarshalJSON(data []byte) error {
	var str string
	if err := json.Unmarshal(data, &str); err != nil {
		return err
	}
	v, err := ParseStatus(str)
	if err != nil {
		return err
	}
	*s = v
	return nil
}

// String retorna "GET", "PUT" ou "" para ModeNone.
func (m Mode) String() string {
	switch m {
	case ModeGet:
		return "GET"
	case ModePut:
		return "PUT"
	default:
		return ""
	}
}

// ParseMode converte o nome persistido de volta para Mode.
func ParseMode(s string) (Mode, error) {
	switch s {
	case "GET":
		return ModeGet, nil
	case "PUT":
		return ModePut, nil
	case "":
		return ModeNone, nil
	default:
		return 0, fmt.Errorf("unknown ticket mode %q", s)
	}
}

func (m Mode) MarshalJSON() ([]byte, error) {
	return json.Marshal(m.String())
}

func (m *Mode) UnmarshalJSON(data []byte) error {
	var str string
	if err := json.Unmarshal(data, &str); err != nil {
		return err
	}
	v, err := ParseMode(str)
	if err != nil {
		return err
	}
	*m = v
	return nil
}

// Key é a identidade composta de um ticket. Dois tickets com a mesma
// identidade nunca coexistem ativos.
type Key struct {
	LocalFile  string
	RemoteFile string
}

// Ticket descreve uma transferência agendada ou em andamento.
// Os campos espelham o JSON persistido e trafegado no socket.
type Ticket struct {
	LocalFile    string   `json:"local_file"`
	RemoteFile   string   `json:"remote_file"`
	Status       Status   `json:"status"`
	Mode         Mode     `json:"mode"`
	TimeCreated  float64  `json:"time_created"`
	Retries      int      `json:"retries"`
	Transferred  int64    `json:"transferred"`
	TransferTime float64  `json:"transfer_time"`
	Checksum     string   `json:"checksum"`
	LocalAtime   *float64 `json:"local_atime"`
	LocalCtime   *float64 `json:"local_ctime"`
	LocalSize    *int64   `json:"local_size"`
	RemoteSize   *int64   `json:"remote_size"`
	Errmsg       string   `json:"errmsg"`
	DmfState     string   `json:"DMF_state"`
}

// New cria um ticket WAITING com o crédito default de retries.
// Para PUT, os atributos do arquivo local são capturados imediatamente;
// um arquivo inexistente faz a criação falhar.
func New(localFile, remoteFile string, mode Mode) (*Ticket, error) {
	t := &Ticket{
		LocalFile:   localFile,
		RemoteFile:  remoteFile,
		Status:      StatusWaiting,
		Mode:        mode,
		TimeCreated: epochSeconds(time.Now()),
		Retries:     DefaultRetries,
		DmfState:    DmfStateUnknown,
	}
	if mode == ModePut {
		if err := t.UpdateLocalAttributes(); err != nil {
			return nil, err
		}
	}
	return t, nil
}

// epochSeconds converte para segundos epoch com fração. Segundos e
// nanossegundos entram separados: converter UnixNano inteiro estoura a
// mantissa do float64 e perde a fração.
func epochSeconds(t time.Time) float64 {
	return float64(t.Unix()) + float64(t.Nanosecond())/1e9
}

// Key retorna a identidade composta (local_file, remote_file).
func (t *Ticket) Key() Key {
	return Key{LocalFile: t.LocalFile, RemoteFile: t.RemoteFile}
}

// IsActive informa se o ticket ainda pertence ao conjunto ativo do scheduler.
func (t *Ticket) IsActive() bool {
	switch t.Status {
	case StatusWaiting, StatusGetting, StatusPutting, StatusRetry, StatusUnmig:
		return true
	}
	return false
}

// Retry rearma o ticket para uma nova tentativa, zerando o progresso.
func (t *Ticket) Retry() {
	t.Transferred = 0
	t.Status = StatusRetry
}

// Filename deriva o nome determinístico do arquivo persistido a partir da
// identidade (mode, local_file, remote_file). Dois tickets com a mesma
// identidade compartilham o nome e sobrescrevem in place.
func (t *Ticket) Filename() string {
	sum := sha256.Sum256([]byte(t.Mode.String() + ":" + t.LocalFile + ":" + t.RemoteFile))
	return hex.EncodeToString(sum[:]) + ".json"
}

// UpdateLocalAttributes captura atime, ctime e size do arquivo local.
func (t *Ticket) UpdateLocalAttributes() error {
	info, err := os.Stat(t.LocalFile)
	if err != nil {
		return fmt.Errorf("stat %s: %w", t.LocalFile, err)
	}
	atime, ctime := fileTimes(info)
	size := info.Size()
	t.LocalAtime = &atime
	t.LocalCtime = &ctime
	t.LocalSize = &size
	return nil
}

// UpdateLocalChecksum recalcula o SHA-256 do arquivo local (base64 do digest).
func (t *Ticket) UpdateLocalChecksum() error {
	sum, err := Sha256File(t.LocalFile)
	if err != nil {
		return err
	}
	t.Checksum = sum
	return nil
}

// Sha256File calcula o SHA-256 de um arquivo e retorna o digest em base64.
func Sha256File(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", fmt.Errorf("opening %s: %w", path, err)
	}
	defer f.Close()

	h := sha256.New()
	if _, err := io.Copy(h, f); err != nil {
		return "", fmt.Errorf("hashing %s: %w", path, err)
	}
	return base64.StdEncoding.EncodeToString(h.Sum(nil)), nil
}

// ToJSON serializa o ticket para persistência e para o wire.
func (t *Ticket) ToJSON() ([]byte, error) {
	return json.Marshal(t)
}

// FromJSON desserializa um ticket persistido. Campos desconhecidos são ignorados.
func FromJSON(data []byte) (*Ticket, error) {
	var t Ticket
	if err := json.Unmarshal(data, &t); err != nil {
		return nil, err
	}
	if t.DmfState == "" {
		t.DmfState = DmfStateUnknown
	}
	return &t, nil
}

// ToRecord converte o ticket em um record genérico para o pipeline de listing.
func (t *Ticket) ToRecord() map[string]interface{} {
	data, _ := t.ToJSON()
	var m map[string]interface{}
	_ = json.Unmarshal(data, &m)
	return m
}
