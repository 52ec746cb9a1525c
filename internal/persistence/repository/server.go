package repository

import (
	"context"
	"errors"

	"github.com/stonefield/matchwire/internal/domain"
	"github.com/stonefield/matchwire/internal/persistence/db"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
)

type serverRepository struct {
	db *mongo.Database
}

func NewServerRepository(database *mongo.Database) domain.ServerRepository {
	return &serverRepository{
		db: database,
	}
}

func (r *serverRepository) GetByID(ctx context.Context, id string) (*domain.GameServer, error) {
	collection := r.db.Collection(db.GameServersCollection)

	var server domain.GameServer
	if err := collection.FindOne(ctx, bson.M{"_id": id}).Decode(&server); err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, domain.ErrServerNotFound
		}
		return nil, err
	}

	return &server, nil
}

func (r *serverRepository) ListMatchable(ctx context.Context, arenaID string) ([]domain.GameServer, error) {
	collection := r.db.Collection(db.GameServersCollection)

	filter := bson.M{"matchable": true}
	if arenaID != "" {
		filter["arena_id"] = arenaID
	}

	cursor, err := collection.Find(ctx, filter)
	if err != nil {
		return nil, err
	}
	defer cursor.Close(ctx)

	var servers []domain.GameServer
	if err := cursor.All(ctx, &servers); err != nil {
		return nil, err
	}

	return servers, nil
}

func (r *serverRepository) Update(ctx context.Context, server *domain.GameServer) error {
	collection := r.db.Collection(db.GameServersCollection)

	result, err := collection.ReplaceOne(ctx, bson.M{"_id": server.ID}, server)
	if err != nil {
		return err
	}
	if result.MatchedCount == 0 {
		return domain.ErrServerNotFound
	}

	return nil
}

// AdjustTicketCount applies the delta with a conditional filter so a racing
// producer can never push the count below zero or past the maximum.
func (r *serverRepository) AdjustTicketCount(ctx context.Context, id string, delta int) (bool, error) {
	collection := r.db.Collection(db.GameServersCollection)

	filter := bson.M{"_id": id}
	if delta > 0 {
		filter["$expr"] = bson.M{
			"$lte": bson.A{
				bson.M{"$add": bson.A{"$ticket_count", delta}},
				"$max_players",
			},
		}
	} else {
		filter["ticket_count"] = bson.M{"$gte": -delta}
	}

	result, err := collection.UpdateOne(ctx, filter, bson.M{
		"$inc": bson.M{"ticket_count": delta},
	})
	if err != nil {
		return false, err
	}

	return result.ModifiedCount > 0, nil
}
