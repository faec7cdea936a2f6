package s3

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awshttp "github.com/aws/aws-sdk-go-v2/aws/transport/http"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	awss3 "github.com/aws/aws-sdk-go-v2/service/s3"
	awss3types "github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/aws/smithy-go"

	"github.com/nimburion/migratestate/pkg/migrate"
	"github.com/nimburion/migratestate/pkg/observability/logger"
)

// DefaultKey is the object key used when Config.Key is empty.
const DefaultKey = "migrate/state.json"

// Config defines S3 state store configuration.
type Config struct {
	Bucket           string
	Key              string
	Region           string
	Endpoint         string
	AccessKeyID      string
	SecretAccessKey  string
	SessionToken     string
	UsePathStyle     bool
	ConnectTimeout   time.Duration
	OperationTimeout time.Duration
}

type s3API interface {
	PutObject(ctx context.Context, params *awss3.PutObjectInput, optFns ...func(*awss3.Options)) (*awss3.PutObjectOutput, error)
	GetObject(ctx context.Context, params *awss3.GetObjectInput, optFns ...func(*awss3.Options)) (*awss3.GetObjectOutput, error)
}

// Adapter keeps migration state as one JSON object in a bucket.
type Adapter struct {
	logger    logger.Logger
	config    Config
	newClient func(ctx context.Context) (s3API, error)
}

// NewAdapter validates cfg. The AWS client is built per operation, so no
// credentials are resolved and no request is sent here.
func NewAdapter(cfg Config, log logger.Logger) (*Adapter, error) {
	if strings.TrimSpace(cfg.Bucket) == "" {
		return nil, errors.New("s3 bucket is required")
	}
	if strings.TrimSpace(cfg.Region) == "" {
		return nil, errors.New("aws region is required")
	}
	cfg.Key = strings.TrimSpace(cfg.Key)
	if cfg.Key == "" {
		cfg.Key = DefaultKey
	}
	if log == nil {
		log = logger.Nop()
	}

	a := &Adapter{
		logger: log.With("store", "s3", "bucket", cfg.Bucket, "key", cfg.Key),
		config: cfg,
	}
	a.newClient = a.buildClient
	return a, nil
}

// Load downloads and decodes the state object. A missing object is
// migrate.ErrNotFound.
func (a *Adapter) Load(ctx context.Context) (*migrate.State, error) {
	client, err := a.newClient(ctx)
	if err != nil {
		return nil, err
	}

	opCtx, cancel := a.withOperationTimeout(ctx)
	defer cancel()

	resp, err := client.GetObject(opCtx, &awss3.GetObjectInput{
		Bucket: aws.String(a.config.Bucket),
		Key:    aws.String(a.config.Key),
	})
	if isNotFound(err) {
		return nil, migrate.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to download object %q: %w", a.config.Key, err)
	}
	defer func() {
		if err := resp.Body.Close(); err != nil {
			a.logger.Warn("failed to close s3 object body", "error", err)
		}
	}()

	payload, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read object %q: %w", a.config.Key, err)
	}
	return migrate.DecodeJSON(payload)
}

// Save overwrites the state object.
func (a *Adapter) Save(ctx context.Context, state *migrate.State) error {
	payload, err := migrate.EncodeJSON(state)
	if err != nil {
		return err
	}
	client, err := a.newClient(ctx)
	if err != nil {
		return err
	}

	opCtx, cancel := a.withOperationTimeout(ctx)
	defer cancel()

	_, err = client.PutObject(opCtx, &awss3.PutObjectInput{
		Bucket:      aws.String(a.config.Bucket),
		Key:         aws.String(a.config.Key),
		Body:        bytes.NewReader(payload),
		ContentType: aws.String("application/json"),
	})
	if err != nil {
		return fmt.Errorf("failed to upload object %q: %w", a.config.Key, err)
	}
	return nil
}

func (a *Adapter) buildClient(ctx context.Context) (s3API, error) {
	loadOptions := []func(*awsconfig.LoadOptions) error{awsconfig.WithRegion(a.config.Region)}
	if a.config.AccessKeyID != "" || a.config.SecretAccessKey != "" {
		loadOptions = append(loadOptions, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(a.config.AccessKeyID, a.config.SecretAccessKey, a.config.SessionToken),
		))
	}
	if a.config.ConnectTimeout > 0 {
		loadOptions = append(loadOptions, awsconfig.WithHTTPClient(dialTimeoutClient(a.config.ConnectTimeout)))
	}

	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, loadOptions...)
	if err != nil {
		return nil, fmt.Errorf("failed to load aws config: %w", err)
	}

	clientOptions := make([]func(*awss3.Options), 0, 2)
	if a.config.Endpoint != "" {
		clientOptions = append(clientOptions, func(o *awss3.Options) {
			o.BaseEndpoint = aws.String(a.config.Endpoint)
		})
	}
	if a.config.UsePathStyle {
		clientOptions = append(clientOptions, func(o *awss3.Options) {
			o.UsePathStyle = true
		})
	}
	return awss3.NewFromConfig(awsCfg, clientOptions...), nil
}

// dialTimeoutClient bounds only the TCP dial; request time stays under OperationTimeout.
func dialTimeoutClient(timeout time.Duration) *awshttp.BuildableClient {
	return awshttp.NewBuildableClient().WithDialerOptions(func(d *net.Dialer) {
		d.Timeout = timeout
	})
}

func (a *Adapter) withOperationTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if a.config.OperationTimeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, a.config.OperationTimeout)
}

// isNotFound matches the typed NoSuchKey error and the bare codes some
// S3-compatible servers return instead.
func isNotFound(err error) bool {
	if err == nil {
		return false
	}
	var noSuchKey *awss3types.NoSuchKey
	if errors.As(err, &noSuchKey) {
		return true
	}
	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		switch apiErr.ErrorCode() {
		case "NoSuchKey", "NotFound":
			return true
		}
	}
	return false
}
