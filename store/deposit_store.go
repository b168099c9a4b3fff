package store

import (
	"context"
	"errors"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/jupiterxyz/zkbridge/bridgedomain"
)

// ErrNotFound re-exports bridgedomain.ErrNotFound for callers within
// this package's idiom (store.ErrNotFound), while keeping the actual
// sentinel value driver-agnostic.
var ErrNotFound = bridgedomain.ErrNotFound

// DepositStore backs the deposit side of TrackingStore, collection
// "deposits" within the database named per config.Config.DatabaseName.
type DepositStore struct {
	coll *mongo.Collection
}

// NewDepositStore dials (or reuses) the process-wide Mongo client and
// returns a store bound to the given database name.
func NewDepositStore(ctx context.Context, mongoURI, dbName string) (*DepositStore, error) {
	c, err := dial(ctx, mongoURI)
	if err != nil {
		return nil, err
	}
	return &DepositStore{coll: c.Database(dbName).Collection("deposits")}, nil
}

// FindByKey looks up the DepositRecord for a txHash.
func (s *DepositStore) FindByKey(ctx context.Context, txHash string) (*bridgedomain.DepositRecord, error) {
	var rec bridgedomain.DepositRecord
	err := s.coll.FindOne(ctx, bson.M{"_id": txHash}).Decode(&rec)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &rec, nil
}

// InsertIfAbsent inserts rec unless a record already exists for its
// TxHash, in which case it is a silent no-op (the existing record,
// whatever its state, is authoritative).
func (s *DepositStore) InsertIfAbsent(ctx context.Context, rec *bridgedomain.DepositRecord) error {
	if rec.Timestamp.IsZero() {
		rec.Timestamp = time.Now().UTC()
	}
	_, err := s.coll.InsertOne(ctx, rec)
	if mongo.IsDuplicateKeyError(err) {
		return nil
	}
	return err
}

// InsertOrGetByKey returns the existing record for txHash, inserting
// defaults first if none exists. The returned record always reflects
// what is durably stored after the call.
func (s *DepositStore) InsertOrGetByKey(ctx context.Context, txHash string, defaults *bridgedomain.DepositRecord) (*bridgedomain.DepositRecord, error) {
	if defaults.Timestamp.IsZero() {
		defaults.Timestamp = time.Now().UTC()
	}
	opts := options.FindOneAndUpdate().
		SetUpsert(true).
		SetReturnDocument(options.After)
	var rec bridgedomain.DepositRecord
	err := s.coll.FindOneAndUpdate(ctx,
		bson.M{"_id": txHash},
		bson.M{"$setOnInsert": defaults},
		opts,
	).Decode(&rec)
	if err != nil {
		return nil, err
	}
	return &rec, nil
}

// UpdateWhere is the sole conditional-update primitive (spec §4.1):
// the fields named in update are set only if the document's "state"
// currently equals expectedState. Returns whether the update applied,
// so callers can detect a lost race without a separate read.
func (s *DepositStore) UpdateWhere(ctx context.Context, txHash string, expectedState bridgedomain.DepositState, update bridgedomain.DepositUpdate) (bool, error) {
	set := bson.M{}
	if update.State != nil {
		set["state"] = *update.State
	}
	if update.Nonce != nil {
		set["nonce"] = *update.Nonce
	}
	if update.RetryCount != nil {
		set["retryCount"] = *update.RetryCount
	}
	if update.LastRetryTime != nil {
		set["lastRetryTime"] = *update.LastRetryTime
	}
	res, err := s.coll.UpdateOne(ctx,
		bson.M{"_id": txHash, "state": expectedState},
		bson.M{"$set": set},
	)
	if err != nil {
		return false, err
	}
	return res.ModifiedCount == 1, nil
}

// MarkCompleted transitions a record to Completed unless it already
// is — idempotent closing, per spec §4.1.
func (s *DepositStore) MarkCompleted(ctx context.Context, txHash string) (bool, error) {
	res, err := s.coll.UpdateOne(ctx,
		bson.M{"_id": txHash, "state": bson.M{"$ne": bridgedomain.DepositCompleted}},
		bson.M{"$set": bson.M{"state": bridgedomain.DepositCompleted}},
	)
	if err != nil {
		return false, err
	}
	return res.ModifiedCount == 1, nil
}

// CountByState is a read-only debug accessor (SPEC_FULL.md §8
// expansion) giving operators a count-by-state snapshot without
// reaching for the Mongo shell directly.
func (s *DepositStore) CountByState(ctx context.Context) (map[bridgedomain.DepositState]int64, error) {
	states := []bridgedomain.DepositState{
		bridgedomain.DepositPending,
		bridgedomain.DepositInProgress,
		bridgedomain.DepositCompleted,
		bridgedomain.DepositFailed,
	}
	out := make(map[bridgedomain.DepositState]int64, len(states))
	for _, st := range states {
		n, err := s.coll.CountDocuments(ctx, bson.M{"state": st})
		if err != nil {
			return nil, err
		}
		out[st] = n
	}
	return out, nil
}
