package mongodb

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.mongodb.org/mongo-driver/mongo/readpref"

	"github.com/nimburion/migratestate/pkg/migrate"
	"github.com/nimburion/migratestate/pkg/observability/logger"
)

// StateRecordID is the fixed id of the single state record in a collection.
const StateRecordID = 0

// defaultDatabase is the database the driver uses when the URI names none.
const defaultDatabase = "test"

const disconnectTimeout = 5 * time.Second

// Config holds MongoDB state store configuration.
type Config struct {
	// URI is a MongoDB connection string (mongodb:// or mongodb+srv://).
	URI string
	// Collection holds the state record.
	Collection string
	// Database overrides the database named in URI.
	Database string
	// ConnectTimeout bounds connect and ping. Zero leaves it to ctx.
	ConnectTimeout time.Duration
	// OperationTimeout bounds the find or upsert. Zero leaves it to ctx.
	OperationTimeout time.Duration
}

// stateRecord is the persisted document: {id: 0, state: <State>}.
type stateRecord struct {
	ID    int            `bson:"id"`
	State *migrate.State `bson:"state"`
}

// Adapter persists migration state as a single document in a MongoDB collection.
// Every Load and Save opens its own client and disconnects it before returning;
// nothing is shared between calls.
type Adapter struct {
	cfg      Config
	database string
	logger   logger.Logger
	connect  connectFunc
}

// NewAdapter validates cfg and returns an adapter. No network I/O happens here.
func NewAdapter(cfg Config, log logger.Logger) (*Adapter, error) {
	cfg.URI = strings.TrimSpace(cfg.URI)
	cfg.Collection = strings.TrimSpace(cfg.Collection)
	if cfg.URI == "" {
		return nil, fmt.Errorf("mongodb connection string is required")
	}
	if cfg.Collection == "" {
		return nil, fmt.Errorf("mongodb collection name is required")
	}
	database, err := resolveDatabase(cfg.URI, cfg.Database)
	if err != nil {
		return nil, err
	}
	if log == nil {
		log = logger.Nop()
	}

	return &Adapter{
		cfg:      cfg,
		database: database,
		logger:   log.With("store", "mongodb", "database", database, "collection", cfg.Collection),
		connect:  dialClient,
	}, nil
}

// Load fetches the state record. It returns migrate.ErrNotFound when the collection
// holds no record, and the driver error otherwise.
func (a *Adapter) Load(ctx context.Context) (*migrate.State, error) {
	conn, err := a.open(ctx)
	if err != nil {
		return nil, err
	}

	record, err := a.find(ctx, conn)
	a.close(conn)

	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, migrate.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("find migration state: %w", err)
	}
	if record.State == nil {
		return &migrate.State{}, nil
	}
	return record.State, nil
}

// Save upserts the state record with state as its payload.
func (a *Adapter) Save(ctx context.Context, state *migrate.State) error {
	if state == nil {
		return fmt.Errorf("migration state is required")
	}
	conn, err := a.open(ctx)
	if err != nil {
		return err
	}

	err = a.upsert(ctx, conn, stateRecord{ID: StateRecordID, State: state})
	a.close(conn)

	if err != nil {
		return fmt.Errorf("upsert migration state: %w", err)
	}
	return nil
}

func (a *Adapter) open(ctx context.Context) (connection, error) {
	connCtx, cancel := withTimeout(ctx, a.cfg.ConnectTimeout)
	defer cancel()

	conn, err := a.connect(connCtx, a.cfg.URI)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to mongodb: %w", err)
	}
	return conn, nil
}

func (a *Adapter) find(ctx context.Context, conn connection) (stateRecord, error) {
	opCtx, cancel := withTimeout(ctx, a.cfg.OperationTimeout)
	defer cancel()
	return conn.FindOne(opCtx, a.database, a.cfg.Collection)
}

func (a *Adapter) upsert(ctx context.Context, conn connection, record stateRecord) error {
	opCtx, cancel := withTimeout(ctx, a.cfg.OperationTimeout)
	defer cancel()
	return conn.Upsert(opCtx, a.database, a.cfg.Collection, record)
}

// close runs on every path. A failed disconnect is logged and does not replace the
// operation's result.
func (a *Adapter) close(conn connection) {
	ctx, cancel := context.WithTimeout(context.Background(), disconnectTimeout)
	defer cancel()
	if err := conn.Close(ctx); err != nil {
		a.logger.Warn("failed to close mongodb connection", "error", err)
	}
}

// withTimeout bounds ctx by timeout. A caller deadline that expires first still wins.
func withTimeout(ctx context.Context, timeout time.Duration) (context.Context, context.CancelFunc) {
	if timeout <= 0 {
		return ctx, func() {}
	}
	return context.WithTimeout(ctx, timeout)
}

// resolveDatabase picks the override, then the URI path, then the driver default.
// The URI is inspected by hand: the driver's parser resolves SRV records.
func resolveDatabase(uri, override string) (string, error) {
	if db := strings.TrimSpace(override); db != "" {
		return db, nil
	}

	rest, ok := strings.CutPrefix(uri, "mongodb://")
	if !ok {
		rest, ok = strings.CutPrefix(uri, "mongodb+srv://")
	}
	if !ok {
		return "", fmt.Errorf("mongodb connection string must start with mongodb:// or mongodb+srv://")
	}
	if at := strings.LastIndex(rest, "@"); at >= 0 {
		rest = rest[at+1:]
	}
	slash := strings.Index(rest, "/")
	if slash < 0 {
		return defaultDatabase, nil
	}
	db := rest[slash+1:]
	if q := strings.Index(db, "?"); q >= 0 {
		db = db[:q]
	}
	if db == "" {
		return defaultDatabase, nil
	}
	return db, nil
}

// connection is one connected client, closed by the adapter after a single use.
type connection interface {
	FindOne(ctx context.Context, database, collection string) (stateRecord, error)
	Upsert(ctx context.Context, database, collection string, record stateRecord) error
	Close(ctx context.Context) error
}

type connectFunc func(ctx context.Context, uri string) (connection, error)

type clientConnection struct {
	client *mongo.Client
}

func dialClient(ctx context.Context, uri string) (connection, error) {
	client, err := mongo.Connect(ctx, options.Client().ApplyURI(uri))
	if err != nil {
		return nil, err
	}
	if err := client.Ping(ctx, readpref.Primary()); err != nil {
		_ = client.Disconnect(context.Background())
		return nil, fmt.Errorf("failed to ping mongodb: %w", err)
	}
	return &clientConnection{client: client}, nil
}

// FindOne reads the first document of the collection; there is at most one.
func (c *clientConnection) FindOne(ctx context.Context, database, collection string) (stateRecord, error) {
	var record stateRecord
	err := c.client.Database(database).Collection(collection).FindOne(ctx, bson.D{}).Decode(&record)
	return record, err
}

func (c *clientConnection) Upsert(ctx context.Context, database, collection string, record stateRecord) error {
	_, err := c.client.Database(database).Collection(collection).ReplaceOne(
		ctx,
		bson.D{{Key: "id", Value: record.ID}},
		record,
		options.Replace().SetUpsert(true),
	)
	return err
}

func (c *clientConnection) Close(ctx context.Context) error {
	return c.client.Disconnect(ctx)
}
