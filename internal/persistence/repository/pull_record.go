package repository

import (
	"context"

	"github.com/stonefield/matchwire/internal/domain"
	"github.com/stonefield/matchwire/internal/persistence/db"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

type pullRecordRepository struct {
	db *mongo.Database
}

func NewPullRecordRepository(database *mongo.Database) domain.PullRecordRepository {
	return &pullRecordRepository{
		db: database,
	}
}

func (r *pullRecordRepository) Record(ctx context.Context, rec *domain.PullRecord) error {
	collection := r.db.Collection(db.PullRecordsCollection)

	_, err := collection.InsertOne(ctx, rec)
	return err
}

func (r *pullRecordRepository) ListByRepo(ctx context.Context, repoID string, limit int) ([]domain.PullRecord, error) {
	collection := r.db.Collection(db.PullRecordsCollection)

	opts := options.Find().
		SetSort(bson.D{{Key: "requested_at", Value: -1}}).
		SetLimit(int64(limit))

	cursor, err := collection.Find(ctx, bson.M{"repo_id": repoID}, opts)
	if err != nil {
		return nil, err
	}
	defer cursor.Close(ctx)

	var records []domain.PullRecord
	if err := cursor.All(ctx, &records); err != nil {
		return nil, err
	}

	return records, nil
}
