package keepsake

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

const (
	connectTimeout = 10 * time.Second
	// healthInterval bounds how long a warm handle is trusted without a
	// fresh ping. Inside the window Ensure is a pure in-memory check.
	healthInterval = 30 * time.Second
)

// Conn owns the MongoDB client shared across invocations of the hosting
// function. A cold start connects; warm invocations reuse the live client
// after a cheap staleness check. Conn is injected into the App rather than
// held as package state, so its lifecycle is explicit and testable.
type Conn struct {
	uri      string
	database string

	mu         sync.Mutex
	client     *mongo.Client
	lastHealth time.Time
}

// NewConn prepares a handle without connecting. The first Ensure call
// establishes the connection.
func NewConn(uri, database string) *Conn {
	return &Conn{uri: uri, database: database}
}

// Ensure returns a live database handle, connecting or reconnecting as
// needed. Failures wrap ErrConnection and are never fatal: the hosting
// process may serve unrelated future invocations, so the de facto retry is
// the next invocation re-entering Ensure.
func (c *Conn) Ensure(ctx context.Context) (*mongo.Database, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.client != nil {
		if time.Since(c.lastHealth) < healthInterval {
			return c.client.Database(c.database), nil
		}
		pingCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
		err := c.client.Ping(pingCtx, nil)
		cancel()
		if err == nil {
			c.lastHealth = time.Now()
			return c.client.Database(c.database), nil
		}
		// Stale handle: drop it and fall through to a fresh connect.
		_ = c.client.Disconnect(context.Background())
		c.client = nil
	}

	client, err := c.connect(ctx)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrConnection, err)
	}
	c.client = client
	c.lastHealth = time.Now()

	// Index creation is a bootstrap nicety, not a per-request need;
	// queries work without it.
	_ = c.ensureIndexes(ctx, client.Database(c.database))

	return client.Database(c.database), nil
}

func (c *Conn) connect(ctx context.Context) (*mongo.Client, error) {
	opts := options.Client().
		ApplyURI(c.uri).
		SetMaxPoolSize(10).
		SetServerSelectionTimeout(5 * time.Second).
		SetSocketTimeout(45 * time.Second)

	connectCtx, cancel := context.WithTimeout(ctx, connectTimeout)
	defer cancel()

	client, err := mongo.Connect(connectCtx, opts)
	if err != nil {
		return nil, err
	}
	if err := client.Ping(connectCtx, nil); err != nil {
		_ = client.Disconnect(context.Background())
		return nil, err
	}
	return client, nil
}

// ensureIndexes creates the query indexes the gallery relies on. CreateMany
// is idempotent for indexes that already exist.
func (c *Conn) ensureIndexes(ctx context.Context, db *mongo.Database) error {
	models := []mongo.IndexModel{
		{Keys: bson.D{{Key: "category", Value: 1}, {Key: "date", Value: -1}}},
		{Keys: bson.D{{Key: "category", Value: 1}, {Key: "order", Value: 1}}},
	}
	idxCtx, cancel := context.WithTimeout(ctx, connectTimeout)
	defer cancel()
	_, err := db.Collection(imagesCollection).Indexes().CreateMany(idxCtx, models)
	return err
}

// Ping reports whether the cached handle answers, without reconnecting.
func (c *Conn) Ping(ctx context.Context) error {
	c.mu.Lock()
	client := c.client
	c.mu.Unlock()
	if client == nil {
		return fmt.Errorf("%w: not connected", ErrConnection)
	}
	pingCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx, nil); err != nil {
		return fmt.Errorf("%w: %v", ErrConnection, err)
	}
	return nil
}

// Close disconnects the cached client. Serverless hosts recycle the process
// instead of calling this; it exists for server mode and tests.
func (c *Conn) Close(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.client == nil {
		return nil
	}
	err := c.client.Disconnect(ctx)
	c.client = nil
	return err
}
