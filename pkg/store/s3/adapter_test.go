package s3

import (
	"context"
	"errors"
	"io"
	"reflect"
	"strings"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awss3 "github.com/aws/aws-sdk-go-v2/service/s3"
	awss3types "github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/aws/smithy-go"

	"github.com/nimburion/migratestate/pkg/migrate"
)

type mockS3Client struct {
	putObjectFn func(context.Context, *awss3.PutObjectInput, ...func(*awss3.Options)) (*awss3.PutObjectOutput, error)
	getObjectFn func(context.Context, *awss3.GetObjectInput, ...func(*awss3.Options)) (*awss3.GetObjectOutput, error)
}

func (m *mockS3Client) PutObject(ctx context.Context, in *awss3.PutObjectInput, optFns ...func(*awss3.Options)) (*awss3.PutObjectOutput, error) {
	if m.putObjectFn != nil {
		return m.putObjectFn(ctx, in, optFns...)
	}
	return &awss3.PutObjectOutput{}, nil
}

func (m *mockS3Client) GetObject(ctx context.Context, in *awss3.GetObjectInput, optFns ...func(*awss3.Options)) (*awss3.GetObjectOutput, error) {
	if m.getObjectFn != nil {
		return m.getObjectFn(ctx, in, optFns...)
	}
	return nil, errors.New("unexpected get object")
}

func newTestAdapter(t *testing.T, client s3API) *Adapter {
	t.Helper()
	a, err := NewAdapter(Config{Bucket: "deploy-state", Region: "eu-west-1"}, nil)
	if err != nil {
		t.Fatalf("NewAdapter() error = %v", err)
	}
	a.newClient = func(context.Context) (s3API, error) { return client, nil }
	return a
}

func TestNewAdapter_Validation(t *testing.T) {
	tests := []struct {
		name    string
		cfg     Config
		wantErr bool
	}{
		{name: "valid", cfg: Config{Bucket: "b", Region: "us-east-1"}},
		{name: "missing bucket", cfg: Config{Region: "us-east-1"}, wantErr: true},
		{name: "missing region", cfg: Config{Bucket: "b"}, wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewAdapter(tt.cfg, nil)
			if (err != nil) != tt.wantErr {
				t.Fatalf("NewAdapter() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestNewAdapter_DefaultKey(t *testing.T) {
	a, err := NewAdapter(Config{Bucket: "b", Region: "us-east-1", Key: "  "}, nil)
	if err != nil {
		t.Fatalf("NewAdapter() error = %v", err)
	}
	if a.config.Key != DefaultKey {
		t.Fatalf("Key = %q, want %q", a.config.Key, DefaultKey)
	}
}

func TestLoad_NotFound(t *testing.T) {
	tests := []struct {
		name string
		err  error
	}{
		{name: "typed NoSuchKey", err: &awss3types.NoSuchKey{}},
		{name: "generic NotFound code", err: &smithy.GenericAPIError{Code: "NotFound"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			a := newTestAdapter(t, &mockS3Client{
				getObjectFn: func(context.Context, *awss3.GetObjectInput, ...func(*awss3.Options)) (*awss3.GetObjectOutput, error) {
					return nil, tt.err
				},
			})
			if _, err := a.Load(context.Background()); !migrate.IsNotFound(err) {
				t.Fatalf("expected not found, got %v", err)
			}
		})
	}
}

func TestLoad_OtherErrorsPassThrough(t *testing.T) {
	a := newTestAdapter(t, &mockS3Client{
		getObjectFn: func(context.Context, *awss3.GetObjectInput, ...func(*awss3.Options)) (*awss3.GetObjectOutput, error) {
			return nil, &smithy.GenericAPIError{Code: "AccessDenied"}
		},
	})
	_, err := a.Load(context.Background())
	if err == nil || migrate.IsNotFound(err) {
		t.Fatalf("Load() error = %v", err)
	}
}

func TestSaveThenLoad(t *testing.T) {
	var stored []byte
	client := &mockS3Client{
		putObjectFn: func(_ context.Context, in *awss3.PutObjectInput, _ ...func(*awss3.Options)) (*awss3.PutObjectOutput, error) {
			if aws.ToString(in.Bucket) != "deploy-state" || aws.ToString(in.Key) != DefaultKey {
				t.Fatalf("unexpected location %s/%s", aws.ToString(in.Bucket), aws.ToString(in.Key))
			}
			if aws.ToString(in.ContentType) != "application/json" {
				t.Fatalf("ContentType = %q", aws.ToString(in.ContentType))
			}
			payload, err := io.ReadAll(in.Body)
			if err != nil {
				t.Fatalf("read body: %v", err)
			}
			stored = payload
			return &awss3.PutObjectOutput{}, nil
		},
		getObjectFn: func(context.Context, *awss3.GetObjectInput, ...func(*awss3.Options)) (*awss3.GetObjectOutput, error) {
			return &awss3.GetObjectOutput{Body: io.NopCloser(strings.NewReader(string(stored)))}, nil
		},
	}
	a := newTestAdapter(t, client)
	state := &migrate.State{LastRun: "002-users", Migrations: []migrate.AppliedRecord{
		{Title: "001-init", Timestamp: 1},
		{Title: "002-users", Description: "users", Timestamp: 2},
	}}

	if err := a.Save(context.Background(), state); err != nil {
		t.Fatalf("Save() error = %v", err)
	}
	got, err := a.Load(context.Background())
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if !reflect.DeepEqual(got, state) {
		t.Fatalf("Load() = %+v, want %+v", got, state)
	}
}

func TestSave_ClientBuildError(t *testing.T) {
	a := newTestAdapter(t, nil)
	a.newClient = func(context.Context) (s3API, error) { return nil, errors.New("no credentials") }
	if err := a.Save(context.Background(), &migrate.State{}); err == nil {
		t.Fatal("expected error")
	}
}

func TestDialTimeoutClient(t *testing.T) {
	client := dialTimeoutClient(250 * time.Millisecond)
	if got := client.GetDialer().Timeout; got != 250*time.Millisecond {
		t.Fatalf("dialer timeout = %v", got)
	}
}
