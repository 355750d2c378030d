// Package checkpoint persists backfill resume cursors so a process
// restart resumes a backfill instead of restarting it from scratch.
// When S3 storage is not configured, NoopStore is used and checkpoints
// are not persisted, keeping the system in local-only mode.
package checkpoint

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
	"github.com/tidwall/gjson"
	"github.com/tidwall/sjson"

	"github.com/hyperengineering/migrant/internal/migration/backfill"
)

// ErrNotConfigured is returned when S3 checkpoint storage is not configured.
var ErrNotConfigured = errors.New("checkpoint storage not configured")

// Config configures S3-compatible checkpoint storage.
type Config struct {
	Endpoint  string
	Bucket    string
	AccessKey string
	SecretKey string
	Region    string
	UseSSL    *bool
}

// s3Client defines the minimal minio.Client operations checkpoint
// storage needs, so tests can substitute a fake.
type s3Client interface {
	PutObject(ctx context.Context, bucket, objectName string, reader io.Reader, size int64, opts minio.PutObjectOptions) (minio.UploadInfo, error)
	GetObject(ctx context.Context, bucket, objectName string, opts minio.GetObjectOptions) (*minio.Object, error)
	RemoveObject(ctx context.Context, bucket, objectName string, opts minio.RemoveObjectOptions) error
}

// S3Store persists checkpoints as JSON objects in S3-compatible
// storage, one object per table.
type S3Store struct {
	client s3Client
	bucket string
}

// NewS3Store builds an S3Store from cfg. Returns a *checkpoint.NoopStore
// wrapped as backfill.CheckpointStore when cfg.Bucket is empty.
func NewS3Store(cfg Config) (backfill.CheckpointStore, error) {
	if cfg.Bucket == "" {
		return &NoopStore{}, nil
	}

	useSSL := true
	if cfg.UseSSL != nil {
		useSSL = *cfg.UseSSL
	}

	client, err := minio.New(cfg.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure: useSSL,
		Region: cfg.Region,
	})
	if err != nil {
		return nil, fmt.Errorf("checkpoint: create S3 client: %w", err)
	}

	return &S3Store{client: client, bucket: cfg.Bucket}, nil
}

// Save uploads cursor as the checkpoint object for table, wrapped in an
// envelope carrying the save time alongside the opaque cursor so an
// operator can inspect staleness without decoding the cursor itself.
func (s *S3Store) Save(ctx context.Context, table string, cursor json.RawMessage) error {
	envelope, err := encodeEnvelope(table, cursor)
	if err != nil {
		return fmt.Errorf("checkpoint: encode %q: %w", table, err)
	}
	key := objectKey(table)
	_, err = s.client.PutObject(ctx, s.bucket, key, bytes.NewReader(envelope), int64(len(envelope)), minio.PutObjectOptions{ContentType: "application/json"})
	if err != nil {
		return fmt.Errorf("checkpoint: save %q: %w", table, err)
	}
	return nil
}

// Load fetches table's checkpoint object, if any.
func (s *S3Store) Load(ctx context.Context, table string) (json.RawMessage, bool, error) {
	obj, err := s.client.GetObject(ctx, s.bucket, objectKey(table), minio.GetObjectOptions{})
	if err != nil {
		return nil, false, fmt.Errorf("checkpoint: load %q: %w", table, err)
	}
	defer obj.Close()

	data, err := io.ReadAll(obj)
	if err != nil {
		var errResp minio.ErrorResponse
		if errors.As(err, &errResp) && errResp.Code == "NoSuchKey" {
			return nil, false, nil
		}
		return nil, false, fmt.Errorf("checkpoint: read %q: %w", table, err)
	}
	if len(data) == 0 {
		return nil, false, nil
	}
	return decodeEnvelope(data), true, nil
}

// encodeEnvelope wraps cursor as the "cursor" field of a small JSON
// object, built with field-level sets rather than a full struct
// marshal since cursor is itself an opaque, pre-encoded blob.
func encodeEnvelope(table string, cursor json.RawMessage) ([]byte, error) {
	envelope, err := sjson.SetBytes([]byte("{}"), "table", table)
	if err != nil {
		return nil, err
	}
	envelope, err = sjson.SetBytes(envelope, "saved_at", time.Now().UTC().Format(time.RFC3339Nano))
	if err != nil {
		return nil, err
	}
	return sjson.SetRawBytes(envelope, "cursor", cursor)
}

// decodeEnvelope pulls the "cursor" field back out of an envelope
// written by encodeEnvelope. Data predating the envelope format (a
// bare cursor) is returned unchanged, since gjson.GetBytes on a
// non-object value for a missing path yields an empty, non-existing
// result.
func decodeEnvelope(data []byte) json.RawMessage {
	result := gjson.GetBytes(data, "cursor")
	if !result.Exists() {
		return json.RawMessage(data)
	}
	return json.RawMessage(result.Raw)
}

// Clear removes table's checkpoint object after a backfill completes.
func (s *S3Store) Clear(ctx context.Context, table string) error {
	err := s.client.RemoveObject(ctx, s.bucket, objectKey(table), minio.RemoveObjectOptions{})
	if err != nil {
		return fmt.Errorf("checkpoint: clear %q: %w", table, err)
	}
	return nil
}

func objectKey(table string) string {
	return "checkpoints/" + table + ".json"
}

// NoopStore is used when S3 checkpoint storage is not configured. Save
// and Clear are no-ops; Load always reports no saved checkpoint,
// meaning every restart re-backfills from the beginning.
type NoopStore struct{}

func (NoopStore) Save(ctx context.Context, table string, cursor json.RawMessage) error { return nil }
func (NoopStore) Load(ctx context.Context, table string) (json.RawMessage, bool, error) {
	return nil, false, nil
}
func (NoopStore) Clear(ctx context.Context, table string) error { return nil }

var _ backfill.CheckpointStore = (*S3Store)(nil)
var _ backfill.CheckpointStore = (*NoopStore)(nil)
