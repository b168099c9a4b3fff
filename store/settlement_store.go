package store

import (
	"context"
	"errors"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/jupiterxyz/zkbridge/bridgedomain"
)

// SettlementStore backs the settlement side of TrackingStore,
// collection "settlements".
type SettlementStore struct {
	coll *mongo.Collection
}

func NewSettlementStore(ctx context.Context, mongoURI, dbName string) (*SettlementStore, error) {
	c, err := dial(ctx, mongoURI)
	if err != nil {
		return nil, err
	}
	return &SettlementStore{coll: c.Database(dbName).Collection("settlements")}, nil
}

func (s *SettlementStore) FindByKey(ctx context.Context, taskID uint64) (*bridgedomain.SettlementRecord, error) {
	var rec bridgedomain.SettlementRecord
	err := s.coll.FindOne(ctx, bson.M{"_id": taskID}).Decode(&rec)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &rec, nil
}

func (s *SettlementStore) InsertIfAbsent(ctx context.Context, rec *bridgedomain.SettlementRecord) error {
	_, err := s.coll.InsertOne(ctx, rec)
	if mongo.IsDuplicateKeyError(err) {
		return nil
	}
	return err
}

func (s *SettlementStore) InsertOrGetByKey(ctx context.Context, taskID uint64, defaults *bridgedomain.SettlementRecord) (*bridgedomain.SettlementRecord, error) {
	opts := options.FindOneAndUpdate().
		SetUpsert(true).
		SetReturnDocument(options.After)
	var rec bridgedomain.SettlementRecord
	err := s.coll.FindOneAndUpdate(ctx,
		bson.M{"_id": taskID},
		bson.M{"$setOnInsert": defaults},
		opts,
	).Decode(&rec)
	if err != nil {
		return nil, err
	}
	return &rec, nil
}

// UpdateWhere mirrors DepositStore.UpdateWhere for settleStatus
// transitions (spec §4.5: unsubmitted -> submitted -> confirmed|failed).
func (s *SettlementStore) UpdateWhere(ctx context.Context, taskID uint64, expectedStatus bridgedomain.SettleStatus, update bridgedomain.SettlementUpdate) (bool, error) {
	set := bson.M{}
	if update.SettleStatus != nil {
		set["settleStatus"] = *update.SettleStatus
	}
	if update.SettleTxHash != nil {
		set["settleTxHash"] = *update.SettleTxHash
	}
	res, err := s.coll.UpdateOne(ctx,
		bson.M{"_id": taskID, "settleStatus": expectedStatus},
		bson.M{"$set": set},
	)
	if err != nil {
		return false, err
	}
	return res.ModifiedCount == 1, nil
}

func (s *SettlementStore) MarkConfirmed(ctx context.Context, taskID uint64) (bool, error) {
	res, err := s.coll.UpdateOne(ctx,
		bson.M{"_id": taskID, "settleStatus": bson.M{"$ne": bridgedomain.SettleConfirmed}},
		bson.M{"$set": bson.M{"settleStatus": bridgedomain.SettleConfirmed}},
	)
	if err != nil {
		return false, err
	}
	return res.ModifiedCount == 1, nil
}

// PendingInOrder returns every non-confirmed bundle ordered by
// ascending TaskID, as required by spec §4.5's "processed in strictly
// increasing taskId order" invariant.
func (s *SettlementStore) PendingInOrder(ctx context.Context) ([]*bridgedomain.SettlementRecord, error) {
	opts := options.Find().SetSort(bson.D{{Key: "_id", Value: 1}})
	cur, err := s.coll.Find(ctx, bson.M{"settleStatus": bson.M{"$ne": bridgedomain.SettleConfirmed}}, opts)
	if err != nil {
		return nil, err
	}
	defer cur.Close(ctx)

	var out []*bridgedomain.SettlementRecord
	for cur.Next(ctx) {
		var rec bridgedomain.SettlementRecord
		if err := cur.Decode(&rec); err != nil {
			return nil, err
		}
		out = append(out, &rec)
	}
	return out, cur.Err()
}
