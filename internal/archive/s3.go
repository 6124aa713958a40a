// Copyright (c) 2026 Nishisan. All rights reserved.
// Use of this source code is governed by the DM-iRODS License (Non-Commercial Evaluation)
// that can be found in the LICENSE file.

package archive

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"

	"github.com/nishisan-dev/dm-irods/internal/config"
	"github.com/nishisan-dev/dm-irods/internal/ticket"
)

// transferChunkSize é o tamanho do chunk de transferência (1MB).
const transferChunkSize = 1 * 1024 * 1024

// checksumMetadataKey é a chave de metadata onde o checksum fica
// registrado no objeto remoto, no formato "sha2:<base64>".
const checksumMetadataKey = "checksum"

// S3Connector abre sessões contra o backend S3/Glacier do archive.
// A secret key pode ser injetada em runtime via SetSecret (comando
// set_secret do daemon) quando não está no arquivo de configuração.
type S3Connector struct {
	cfg    *config.Config
	logger *slog.Logger

	mu     sync.Mutex
	secret string
}

// NewS3Connector cria o connector; a secret inicial vem da configuração.
func NewS3Connector(cfg *config.Config, logger *slog.Logger) *S3Connector {
	return &S3Connector{
		cfg:    cfg,
		logger: logger.With("component", "s3"),
		secret: cfg.S3.SecretKey,
	}
}

// SecretConfigured informa se há uma secret key disponível.
func (c *S3Connector) SecretConfigured() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.secret != ""
}

// SetSecret injeta a secret key em memória. Não é persistida.
func (c *S3Connector) SetSecret(secret string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.secret = secret
}

// Connect abre uma sessão com timeout de conexão da configuração.
func (c *S3Connector) Connect(ctx context.Context) (Session, error) {
	c.mu.Lock()
	secret := c.secret
	c.mu.Unlock()
	if secret == "" {
		return nil, fmt.Errorf("no secret key configured (use set_secret)")
	}

	loadCtx, cancel := context.WithTimeout(ctx, c.cfg.ConnectionTimeoutDuration())
	defer cancel()

	awsCfg, err := awsconfig.LoadDefaultConfig(loadCtx,
		awsconfig.WithRegion(c.cfg.S3.Region),
		awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(c.cfg.S3.AccessKey, secret, ""),
		),
	)
	if err != nil {
		return nil, &NetworkError{Op: "connect", Err: err}
	}

	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if c.cfg.S3.Endpoint != "" {
			o.BaseEndpoint = aws.String(c.cfg.S3.Endpoint)
			o.UsePathStyle = true
		}
	})

	return &s3Session{client: client, cfg: c.cfg, logger: c.logger}, nil
}

type s3Session struct {
	client *s3.Client
	cfg    *config.Config
	logger *slog.Logger
}

// objectKey converte um caminho remoto absoluto na key do bucket.
func objectKey(remoteFile string) string {
	return strings.TrimPrefix(path.Clean(remoteFile), "/")
}

func splitRemote(remoteFile string) (collection, object string) {
	dir, base := path.Split(path.Clean(remoteFile))
	return strings.TrimSuffix(dir, "/"), base
}

func (s *s3Session) ListObjects(ctx context.Context, f Filter, limit int, fn func(*Object) error) error {
	// Filtro pontual (collection + object): um HeadObject resolve e
	// ainda traz o checksum, que a listagem paginada não tem.
	if f.Object != "" && f.Collection != "" {
		remote := f.Collection + "/" + f.Object
		head, err := s.headObject(ctx, remote)
		if err != nil {
			if isNotFound(err) {
				return nil
			}
			return err
		}
		return fn(s.objectFromHead(remote, head))
	}

	prefix := ""
	if f.Collection != "" {
		prefix = objectKey(f.Collection) + "/"
	}

	emitted := 0
	paginator := s3.NewListObjectsV2Paginator(s.client, &s3.ListObjectsV2Input{
		Bucket: aws.String(s.cfg.S3.Bucket),
		Prefix: aws.String(prefix),
	})
	for paginator.HasMorePages() {
		page, err := paginator.NextPage(ctx)
		if err != nil {
			return &NetworkError{Op: "list_objects", Err: err}
		}
		for _, item := range page.Contents {
			key := aws.ToString(item.Key)
			remote := "/" + key
			collection, object := splitRemote(remote)
			if f.Object != "" && object != f.Object {
				continue
			}
			o := &Object{
				Collection:          collection,
				Object:              object,
				RemoteFile:          remote,
				RemoteSize:          aws.ToInt64(item.Size),
				RemoteModifyTime:    timeToEpoch(item.LastModified),
				RemoteCreateTime:    timeToEpoch(item.LastModified),
				RemoteOwnerName:     s.cfg.IrodsUserName,
				RemoteOwnerZone:     s.cfg.IrodsZoneName,
				RemoteReplicaStatus: "1",
				DmfState:            listStorageClassState(item.StorageClass),
			}
			if err := fn(o); err != nil {
				return err
			}
			emitted++
			if limit > 0 && emitted >= limit {
				return nil
			}
		}
	}
	return nil
}

func (s *s3Session) Get(ctx context.Context, t *ticket.Ticket) error {
	head, err := s.headObject(ctx, t.RemoteFile)
	if err != nil {
		return err
	}
	size := aws.ToInt64(head.ContentLength)
	t.RemoteSize = &size

	state := headState(head.StorageClass, head.Restore)
	t.DmfState = state
	if !staged(state) {
		// Dispara o recall e reporta a falha de regra; o ticket volta
		// como UNMIG e tenta de novo no próximo tick.
		s.requestRestore(ctx, t.RemoteFile)
		return &DmfRuleError{RemoteFile: t.RemoteFile, State: state}
	}

	out, err := s.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.cfg.S3.Bucket),
		Key:    aws.String(objectKey(t.RemoteFile)),
	})
	if err != nil {
		return &NetworkError{Op: "get", Err: err}
	}
	defer out.Body.Close()

	if err := os.MkdirAll(filepath.Dir(t.LocalFile), 0755); err != nil {
		return fmt.Errorf("creating local directory for %s: %w", t.LocalFile, err)
	}
	f, err := os.OpenFile(t.LocalFile, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0600)
	if err != nil {
		return fmt.Errorf("creating %s: %w", t.LocalFile, err)
	}
	defer f.Close()

	w := NewThrottledWriter(ctx, f, s.cfg.TransferRateLimit)
	start := time.Now()
	buf := make([]byte, transferChunkSize)
	for {
		n, rerr := out.Body.Read(buf)
		if n > 0 {
			if _, werr := w.Write(buf[:n]); werr != nil {
				return fmt.Errorf("writing %s: %w", t.LocalFile, werr)
			}
			t.Transferred += int64(n)
		}
		if rerr == io.EOF {
			break
		}
		if rerr != nil {
			return &NetworkError{Op: "get", Err: rerr}
		}
	}
	if err := f.Sync(); err != nil {
		return fmt.Errorf("syncing %s: %w", t.LocalFile, err)
	}
	t.TransferTime = time.Since(start).Seconds()
	return nil
}

func (s *s3Session) Put(ctx context.Context, t *ticket.Ticket) error {
	f, err := os.Open(t.LocalFile)
	if err != nil {
		return fmt.Errorf("opening %s: %w", t.LocalFile, err)
	}
	defer f.Close()
	fi, err := f.Stat()
	if err != nil {
		return fmt.Errorf("stat %s: %w", t.LocalFile, err)
	}

	body := NewThrottledReader(ctx, &progressReader{r: f, ticket: t}, s.cfg.TransferRateLimit)
	start := time.Now()
	_, err = s.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:        aws.String(s.cfg.S3.Bucket),
		Key:           aws.String(objectKey(t.RemoteFile)),
		Body:          body,
		ContentLength: aws.Int64(fi.Size()),
		Metadata:      map[string]string{checksumMetadataKey: "sha2:" + t.Checksum},
	})
	if err != nil {
		return &NetworkError{Op: "put", Err: err}
	}
	t.TransferTime = time.Since(start).Seconds()
	return nil
}

func (s *s3Session) Checksum(ctx context.Context, t *ticket.Ticket, remoteFile string) error {
	head, err := s.headObject(ctx, remoteFile)
	if err != nil {
		return err
	}
	got := head.Metadata[checksumMetadataKey]
	if got == "" {
		// Objeto sem checksum registrado: nada a comparar.
		return nil
	}
	want := "sha2:" + t.Checksum
	if got != want {
		return &ChecksumError{RemoteFile: remoteFile, Want: want, Got: got}
	}
	return nil
}

// RunDmfRule resolve o estado de cada caminho do corpo da regra com um
// HeadObject. Caminhos inexistentes são omitidos da resposta, como no
// microservice original.
func (s *s3Session) RunDmfRule(ctx context.Context, microservice, ruleBody string) ([]DmfRecord, error) {
	var out []DmfRecord
	for _, remote := range strings.Split(ruleBody, "\n") {
		if remote == "" {
			continue
		}
		head, err := s.headObject(ctx, remote)
		if err != nil {
			if isNotFound(err) {
				continue
			}
			return nil, err
		}
		out = append(out, DmfRecord{
			RemoteFile: remote,
			State:      headState(head.StorageClass, head.Restore),
		})
	}
	return out, nil
}

func (s *s3Session) Close() error {
	return nil
}

func (s *s3Session) headObject(ctx context.Context, remoteFile string) (*s3.HeadObjectOutput, error) {
	head, err := s.client.HeadObject(ctx, &s3.HeadObjectInput{
		Bucket: aws.String(s.cfg.S3.Bucket),
		Key:    aws.String(objectKey(remoteFile)),
	})
	if err != nil {
		if isNotFound(err) {
			return nil, err
		}
		return nil, &NetworkError{Op: "head_object", Err: err}
	}
	return head, nil
}

func (s *s3Session) objectFromHead(remoteFile string, head *s3.HeadObjectOutput) *Object {
	collection, object := splitRemote(remoteFile)
	return &Object{
		Collection:          collection,
		Object:              object,
		RemoteFile:          remoteFile,
		RemoteSize:          aws.ToInt64(head.ContentLength),
		RemoteChecksum:      head.Metadata[checksumMetadataKey],
		RemoteCreateTime:    timeToEpoch(head.LastModified),
		RemoteModifyTime:    timeToEpoch(head.LastModified),
		RemoteOwnerName:     s.cfg.IrodsUserName,
		RemoteOwnerZone:     s.cfg.IrodsZoneName,
		RemoteReplicaStatus: "1",
		DmfState:            headState(head.StorageClass, head.Restore),
	}
}

// requestRestore dispara o recall do objeto (best-effort; o erro é logado
// e o próximo tick tenta de novo).
func (s *s3Session) requestRestore(ctx context.Context, remoteFile string) {
	tier := types.TierStandard
	if s.cfg.S3.RestoreTier != "" {
		tier = types.Tier(s.cfg.S3.RestoreTier)
	}
	_, err := s.client.RestoreObject(ctx, &s3.RestoreObjectInput{
		Bucket: aws.String(s.cfg.S3.Bucket),
		Key:    aws.String(objectKey(remoteFile)),
		RestoreRequest: &types.RestoreRequest{
			Days: aws.Int32(int32(s.cfg.S3.RestoreDays)),
			GlacierJobParameters: &types.GlacierJobParameters{
				Tier: tier,
			},
		},
	})
	if err != nil {
		// RestoreAlreadyInProgress é esperado em ticks consecutivos.
		s.logger.Debug("restore request", "remote_file", remoteFile, "error", err)
		return
	}
	s.logger.Info("restore requested", "remote_file", remoteFile)
}

// progressReader incrementa ticket.Transferred conforme o upload consome
// o arquivo local.
type progressReader struct {
	r      io.Reader
	ticket *ticket.Ticket
}

func (p *progressReader) Read(b []byte) (int, error) {
	n, err := p.r.Read(b)
	if n > 0 {
		p.ticket.Transferred += int64(n)
	}
	return n, err
}

// staged informa se o objeto pode ser baixado agora.
func staged(state string) bool {
	switch state {
	case DmfStateRegular, DmfStateDual:
		return true
	}
	return false
}

// headState mapeia storage class + restore status para um estado DMF.
func headState(class types.StorageClass, restore *string) string {
	if restore != nil {
		if strings.Contains(*restore, `ongoing-request="true"`) {
			return DmfStateUnmigrate
		}
		if strings.Contains(*restore, `ongoing-request="false"`) {
			return DmfStateDual
		}
	}
	switch class {
	case types.StorageClassGlacier, types.StorageClassDeepArchive:
		return DmfStateOffline
	case types.StorageClassGlacierIr:
		return DmfStateDual
	}
	return DmfStateRegular
}

func listStorageClassState(class types.ObjectStorageClass) string {
	switch class {
	case types.ObjectStorageClassGlacier, types.ObjectStorageClassDeepArchive:
		return DmfStateOffline
	case types.ObjectStorageClassGlacierIr:
		return DmfStateDual
	}
	return DmfStateRegular
}

// timeToEpoch converte para segundos epoch com fração. Segundos e
// nanossegundos entram separados para não estourar a mantissa do float64.
func timeToEpoch(t *time.Time) float64 {
	if t == nil {
		return 0
	}
	return float64(t.Unix()) + float64(t.Nanosecond())/1e9
}

func isNotFound(err error) bool {
	var nf *types.NotFound
	var nsk *types.NoSuchKey
	return errors.As(err, &nf) || errors.As(err, &nsk)
}
