package checkpoint

import (
	"context"
	"encoding/json"
	"io"
	"testing"

	"github.com/minio/minio-go/v7"
)

// fakeS3 exercises the write/delete paths of S3Store. minio.Object has
// no public constructor outside a live server round trip, so Load is
// covered indirectly via TestEncodeDecodeEnvelope instead of a fake
// GetObject.
type fakeS3 struct {
	objects map[string][]byte
}

func newFakeS3() *fakeS3 {
	return &fakeS3{objects: map[string][]byte{}}
}

func (f *fakeS3) PutObject(ctx context.Context, bucket, objectName string, reader io.Reader, size int64, opts minio.PutObjectOptions) (minio.UploadInfo, error) {
	data, err := io.ReadAll(reader)
	if err != nil {
		return minio.UploadInfo{}, err
	}
	f.objects[objectName] = data
	return minio.UploadInfo{Size: int64(len(data))}, nil
}

func (f *fakeS3) GetObject(ctx context.Context, bucket, objectName string, opts minio.GetObjectOptions) (*minio.Object, error) {
	return nil, minio.ErrorResponse{Code: "NoSuchKey"}
}

func (f *fakeS3) RemoveObject(ctx context.Context, bucket, objectName string, opts minio.RemoveObjectOptions) error {
	delete(f.objects, objectName)
	return nil
}

func TestS3Store_SaveWritesEnvelope(t *testing.T) {
	fake := newFakeS3()
	store := &S3Store{client: fake, bucket: "checkpoints"}

	cursor := json.RawMessage(`{"id":42}`)
	if err := store.Save(context.Background(), "users", cursor); err != nil {
		t.Fatalf("Save() error = %v", err)
	}

	data, ok := fake.objects["checkpoints/users.json"]
	if !ok {
		t.Fatal("Save() did not write an object at the expected key")
	}
	if decoded := decodeEnvelope(data); string(decoded) != string(cursor) {
		t.Errorf("stored envelope cursor = %s, want %s", decoded, cursor)
	}
}

func TestS3Store_Clear(t *testing.T) {
	fake := newFakeS3()
	fake.objects["checkpoints/users.json"] = []byte(`{"cursor":{}}`)
	store := &S3Store{client: fake, bucket: "checkpoints"}

	if err := store.Clear(context.Background(), "users"); err != nil {
		t.Fatalf("Clear() error = %v", err)
	}
	if _, ok := fake.objects["checkpoints/users.json"]; ok {
		t.Error("Clear() left the object in place")
	}
}

// TestS3Store_LoadTransportError checks that a GetObject failure
// surfaces as an error rather than a silent "no checkpoint" result.
// minio-go itself only reports a missing key lazily, on the first read
// of the returned *minio.Object, which Load handles separately; this
// covers the eager-failure path the fake exercises.
func TestS3Store_LoadTransportError(t *testing.T) {
	fake := newFakeS3()
	store := &S3Store{client: fake, bucket: "checkpoints"}

	_, _, err := store.Load(context.Background(), "users")
	if err == nil {
		t.Fatal("Load() error = nil, want non-nil for a transport failure")
	}
}

func TestNoopStore(t *testing.T) {
	s := &NoopStore{}
	if err := s.Save(context.Background(), "users", json.RawMessage(`{"id":1}`)); err != nil {
		t.Fatalf("Save() error = %v", err)
	}
	_, ok, err := s.Load(context.Background(), "users")
	if err != nil || ok {
		t.Fatalf("Load() = (_, %v, %v), want (_, false, nil)", ok, err)
	}
	if err := s.Clear(context.Background(), "users"); err != nil {
		t.Fatalf("Clear() error = %v", err)
	}
}

func TestNewS3Store_EmptyBucketReturnsNoop(t *testing.T) {
	store, err := NewS3Store(Config{})
	if err != nil {
		t.Fatalf("NewS3Store() error = %v", err)
	}
	if _, ok := store.(*NoopStore); !ok {
		t.Fatalf("NewS3Store(empty bucket) = %T, want *NoopStore", store)
	}
}

func TestEncodeDecodeEnvelope(t *testing.T) {
	cursor := json.RawMessage(`{"id":42}`)
	envelope, err := encodeEnvelope("users", cursor)
	if err != nil {
		t.Fatalf("encodeEnvelope() error = %v", err)
	}
	decoded := decodeEnvelope(envelope)
	if string(decoded) != string(cursor) {
		t.Errorf("decodeEnvelope() = %s, want %s", decoded, cursor)
	}
}

func TestDecodeEnvelope_BareCursorFallback(t *testing.T) {
	bare := json.RawMessage(`"plain-cursor-value"`)
	decoded := decodeEnvelope(bare)
	if string(decoded) != string(bare) {
		t.Errorf("decodeEnvelope(bare) = %s, want %s", decoded, bare)
	}
}
