// Package store implements the TrackingStore of spec §4.1: a durable
// record store keyed by L1 tx hash (deposits) or L2 task id
// (settlements), with the conditional-update primitive the state
// machines rely on to survive restart and concurrent writers.
package store

import (
	"context"
	"sync"
	"time"

	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

var (
	clientOnce sync.Once
	client     *mongo.Client
	clientErr  error
)

// dial returns a process-wide singleton *mongo.Client, mirroring
// monitor/db_test.go's own NewMongoDb(uri) singleton: one dialed
// connection is reused by every store built from the same process,
// regardless of how many DepositStore/SettlementStore values are
// constructed on top of it.
func dial(ctx context.Context, uri string) (*mongo.Client, error) {
	clientOnce.Do(func() {
		opts := options.Client().ApplyURI(uri).SetConnectTimeout(10 * time.Second)
		client, clientErr = mongo.Connect(ctx, opts)
		if clientErr != nil {
			return
		}
		pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		defer cancel()
		clientErr = client.Ping(pingCtx, nil)
	})
	return client, clientErr
}
