package store

import (
	"fmt"
	"strings"

	"github.com/nimburion/migratestate/pkg/config"
	"github.com/nimburion/migratestate/pkg/migrate"
	"github.com/nimburion/migratestate/pkg/observability/logger"
	"github.com/nimburion/migratestate/pkg/store/dynamodb"
	"github.com/nimburion/migratestate/pkg/store/mongodb"
	"github.com/nimburion/migratestate/pkg/store/mysql"
	"github.com/nimburion/migratestate/pkg/store/postgres"
	"github.com/nimburion/migratestate/pkg/store/redis"
	"github.com/nimburion/migratestate/pkg/store/s3"
	"github.com/nimburion/migratestate/pkg/store/sqldb"
)

// New selects and builds the state store named by cfg.Type. Nothing connects
// until the first Load or Save.
func New(cfg config.StateStoreConfig, log logger.Logger) (migrate.StateStore, error) {
	switch strings.ToLower(strings.TrimSpace(cfg.Type)) {
	case "", config.StateStoreMongoDB:
		return build(mongodb.NewAdapter(mongodb.Config{
			URI:              cfg.URL,
			Collection:       cfg.Collection,
			Database:         cfg.Database,
			ConnectTimeout:   cfg.ConnectTimeout,
			OperationTimeout: cfg.OperationTimeout,
		}, log))
	case config.StateStoreRedis:
		return build(redis.NewAdapter(redis.Config{
			URL:              cfg.URL,
			Key:              cfg.Key,
			ConnectTimeout:   cfg.ConnectTimeout,
			OperationTimeout: cfg.OperationTimeout,
		}, log))
	case config.StateStorePostgres:
		return build(postgres.NewAdapter(sqlConfig(cfg), log))
	case config.StateStoreMySQL:
		return build(mysql.NewAdapter(sqlConfig(cfg), log))
	case config.StateStoreS3:
		return build(s3.NewAdapter(s3.Config{
			Bucket:           cfg.Bucket,
			Key:              cfg.Key,
			Region:           cfg.Region,
			Endpoint:         cfg.Endpoint,
			AccessKeyID:      cfg.AccessKeyID,
			SecretAccessKey:  cfg.SecretAccessKey,
			SessionToken:     cfg.SessionToken,
			UsePathStyle:     cfg.UsePathStyle,
			ConnectTimeout:   cfg.ConnectTimeout,
			OperationTimeout: cfg.OperationTimeout,
		}, log))
	case config.StateStoreDynamoDB:
		return build(dynamodb.NewAdapter(dynamodb.Config{
			Table:            cfg.Table,
			Region:           cfg.Region,
			Endpoint:         cfg.Endpoint,
			AccessKeyID:      cfg.AccessKeyID,
			SecretAccessKey:  cfg.SecretAccessKey,
			SessionToken:     cfg.SessionToken,
			ConnectTimeout:   cfg.ConnectTimeout,
			OperationTimeout: cfg.OperationTimeout,
		}, log))
	case config.StateStoreFile:
		return build(migrate.NewFileStore(cfg.Path))
	default:
		return nil, fmt.Errorf("unsupported state_store.type %q (supported: mongodb, redis, postgres, mysql, s3, dynamodb, file)", cfg.Type)
	}
}

func sqlConfig(cfg config.StateStoreConfig) sqldb.Config {
	return sqldb.Config{
		URL:              cfg.URL,
		Table:            cfg.Table,
		ConnectTimeout:   cfg.ConnectTimeout,
		OperationTimeout: cfg.OperationTimeout,
	}
}

// build keeps a failed constructor's typed nil out of the returned interface.
func build[S migrate.StateStore](s S, err error) (migrate.StateStore, error) {
	if err != nil {
		return nil, err
	}
	return s, nil
}
