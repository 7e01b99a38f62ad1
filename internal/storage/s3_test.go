package storage

import (
	"bytes"
	"context"
	"errors"
	"io"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"

	"github.com/reqgraph/backend/pkg/common"
)

type memoryObjects struct {
	objects map[string][]byte
	types   map[string]string
}

func newMemoryObjects() *memoryObjects {
	return &memoryObjects{objects: map[string][]byte{}, types: map[string]string{}}
}

func (m *memoryObjects) PutObject(_ context.Context, in *s3.PutObjectInput, _ ...func(*s3.Options)) (*s3.PutObjectOutput, error) {
	data, err := io.ReadAll(in.Body)
	if err != nil {
		return nil, err
	}
	key := aws.ToString(in.Bucket) + "/" + aws.ToString(in.Key)
	m.objects[key] = data
	m.types[key] = aws.ToString(in.ContentType)
	return &s3.PutObjectOutput{}, nil
}

func (m *memoryObjects) GetObject(_ context.Context, in *s3.GetObjectInput, _ ...func(*s3.Options)) (*s3.GetObjectOutput, error) {
	data, ok := m.objects[aws.ToString(in.Bucket)+"/"+aws.ToString(in.Key)]
	if !ok {
		return nil, errors.New("NoSuchKey")
	}
	return &s3.GetObjectOutput{Body: io.NopCloser(bytes.NewReader(data))}, nil
}

func TestReportArchive_RoundTrip(t *testing.T) {
	objects := newMemoryObjects()
	a := NewReportArchive(objects, "reports", "/graphsync/")
	a.now = func() time.Time { return time.Date(2026, 3, 1, 8, 30, 0, 0, time.UTC) }

	result := common.BatchResult{ProjectID: "p1", Success: true, Synced: 9, Failed: 1, Total: 10}
	key, err := a.PutReport(context.Background(), "abc", result)
	if err != nil {
		t.Fatalf("put report: %v", err)
	}
	if key != "graphsync/p1/20260301T083000Z-abc.json" {
		t.Fatalf("unexpected key %q", key)
	}
	if objects.types["reports/"+key] != "application/json" {
		t.Fatalf("unexpected content type %q", objects.types["reports/"+key])
	}

	got, err := a.GetReport(context.Background(), key)
	if err != nil {
		t.Fatalf("get report: %v", err)
	}
	if got != result {
		t.Fatalf("got %+v, want %+v", got, result)
	}
}

func TestReportArchive_NoBucket(t *testing.T) {
	a := NewReportArchive(newMemoryObjects(), "", "")
	if _, err := a.PutReport(context.Background(), "", common.BatchResult{}); !errors.Is(err, ErrNoBucket) {
		t.Fatalf("expected ErrNoBucket, got %v", err)
	}
}

func TestReportArchive_MissingReport(t *testing.T) {
	a := NewReportArchive(newMemoryObjects(), "reports", "")
	if _, err := a.GetReport(context.Background(), "nope.json"); err == nil {
		t.Fatalf("expected error for missing report")
	}
}
