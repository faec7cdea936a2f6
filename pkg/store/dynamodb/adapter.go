package dynamodb

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strconv"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awshttp "github.com/aws/aws-sdk-go-v2/aws/transport/http"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"

	"github.com/nimburion/migratestate/pkg/migrate"
	"github.com/nimburion/migratestate/pkg/observability/logger"
)

const (
	keyAttribute   = "id"
	stateAttribute = "state"
	stateItemID    = 0
)

// Config holds DynamoDB state store configuration. Table must already exist with
// a numeric partition key named "id".
type Config struct {
	Table           string
	Region          string
	Endpoint        string
	AccessKeyID     string
	SecretAccessKey string
	SessionToken    string
	// ConnectTimeout bounds the TCP dial to the endpoint. Zero keeps the SDK default.
	ConnectTimeout   time.Duration
	OperationTimeout time.Duration
}

type dynamoAPI interface {
	GetItem(ctx context.Context, params *dynamodb.GetItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.GetItemOutput, error)
	PutItem(ctx context.Context, params *dynamodb.PutItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error)
}

// Adapter keeps migration state in a single DynamoDB item.
type Adapter struct {
	config    Config
	logger    logger.Logger
	newClient func(ctx context.Context) (dynamoAPI, error)
}

// NewAdapter validates cfg. No AWS configuration is loaded until the first call.
func NewAdapter(cfg Config, log logger.Logger) (*Adapter, error) {
	cfg.Table = strings.TrimSpace(cfg.Table)
	if cfg.Table == "" {
		return nil, fmt.Errorf("dynamodb table is required")
	}
	if cfg.Region == "" {
		return nil, fmt.Errorf("aws region is required")
	}
	if log == nil {
		log = logger.Nop()
	}
	a := &Adapter{config: cfg, logger: log.With("store", "dynamodb", "table", cfg.Table)}
	a.newClient = a.buildClient
	return a, nil
}

// Load reads the state item with a strongly consistent read.
func (a *Adapter) Load(ctx context.Context) (*migrate.State, error) {
	client, err := a.newClient(ctx)
	if err != nil {
		return nil, err
	}
	opCtx, cancel := a.withOperationTimeout(ctx)
	defer cancel()

	out, err := client.GetItem(opCtx, &dynamodb.GetItemInput{
		TableName:      aws.String(a.config.Table),
		Key:            stateKey(),
		ConsistentRead: aws.Bool(true),
	})
	if err != nil {
		a.logThrottle(err)
		return nil, fmt.Errorf("get migration state item: %w", err)
	}
	if len(out.Item) == 0 {
		return nil, migrate.ErrNotFound
	}
	return stateFromItem(out.Item)
}

// Save replaces the state item.
func (a *Adapter) Save(ctx context.Context, state *migrate.State) error {
	item, err := itemFromState(state)
	if err != nil {
		return err
	}
	client, err := a.newClient(ctx)
	if err != nil {
		return err
	}
	opCtx, cancel := a.withOperationTimeout(ctx)
	defer cancel()

	if _, err := client.PutItem(opCtx, &dynamodb.PutItemInput{
		TableName: aws.String(a.config.Table),
		Item:      item,
	}); err != nil {
		a.logThrottle(err)
		return fmt.Errorf("put migration state item: %w", err)
	}
	return nil
}

func (a *Adapter) buildClient(ctx context.Context) (dynamoAPI, error) {
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

	var opts []func(*dynamodb.Options)
	if a.config.Endpoint != "" {
		opts = append(opts, func(o *dynamodb.Options) {
			o.BaseEndpoint = aws.String(a.config.Endpoint)
		})
	}
	return dynamodb.NewFromConfig(awsCfg, opts...), nil
}

func dialTimeoutClient(timeout time.Duration) *awshttp.BuildableClient {
	return awshttp.NewBuildableClient().WithDialerOptions(func(d *net.Dialer) {
		d.Timeout = timeout
	})
}

func (a *Adapter) withOperationTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if a.config.OperationTimeout <= 0 {
		return ctx, func() {}
	}
	return context.WithTimeout(ctx, a.config.OperationTimeout)
}

func (a *Adapter) logThrottle(err error) {
	if IsThrottlingError(err) {
		a.logger.Warn("dynamodb request throttled", "error", err)
	}
}

func stateKey() map[string]types.AttributeValue {
	return map[string]types.AttributeValue{
		keyAttribute: &types.AttributeValueMemberN{Value: strconv.Itoa(stateItemID)},
	}
}

func itemFromState(state *migrate.State) (map[string]types.AttributeValue, error) {
	payload, err := migrate.EncodeJSON(state)
	if err != nil {
		return nil, err
	}
	item := stateKey()
	item[stateAttribute] = &types.AttributeValueMemberS{Value: string(payload)}
	return item, nil
}

func stateFromItem(item map[string]types.AttributeValue) (*migrate.State, error) {
	attr, ok := item[stateAttribute].(*types.AttributeValueMemberS)
	if !ok {
		return nil, fmt.Errorf("migration state item has no string %q attribute", stateAttribute)
	}
	return migrate.DecodeJSON([]byte(attr.Value))
}

// IsThrottlingError reports whether err is a provisioned throughput rejection.
func IsThrottlingError(err error) bool {
	if err == nil {
		return false
	}
	var pte *types.ProvisionedThroughputExceededException
	return errors.As(err, &pte)
}
