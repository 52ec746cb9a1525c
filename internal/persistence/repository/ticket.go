package repository

import (
	"context"
	"errors"
	"time"

	"github.com/stonefield/matchwire/internal/domain"
	"github.com/stonefield/matchwire/internal/persistence/db"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

var activeStates = bson.A{domain.TicketQueued, domain.TicketArrived}

type ticketRepository struct {
	db *mongo.Database
}

func NewTicketRepository(database *mongo.Database) domain.TicketRepository {
	return &ticketRepository{
		db: database,
	}
}

func (r *ticketRepository) Create(ctx context.Context, ticket *domain.Ticket) error {
	collection := r.db.Collection(db.TicketsCollection)

	_, err := collection.InsertOne(ctx, ticket)
	return err
}

func (r *ticketRepository) Update(ctx context.Context, ticket *domain.Ticket) error {
	collection := r.db.Collection(db.TicketsCollection)

	result, err := collection.ReplaceOne(ctx, bson.M{"_id": ticket.ID}, ticket)
	if err != nil {
		return err
	}
	if result.MatchedCount == 0 {
		return domain.ErrTicketNotFound
	}

	return nil
}

func (r *ticketRepository) GetActiveByUser(ctx context.Context, userID string) (*domain.Ticket, error) {
	collection := r.db.Collection(db.TicketsCollection)

	filter := bson.M{
		"user_id": userID,
		"state":   bson.M{"$in": activeStates},
	}

	var ticket domain.Ticket
	if err := collection.FindOne(ctx, filter).Decode(&ticket); err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, domain.ErrTicketNotFound
		}
		return nil, err
	}

	return &ticket, nil
}

func (r *ticketRepository) ListActiveByServer(ctx context.Context, serverID string) ([]domain.Ticket, error) {
	filter := bson.M{
		"server_id": serverID,
		"state":     bson.M{"$in": activeStates},
	}
	return r.list(ctx, filter)
}

func (r *ticketRepository) ListQueued(ctx context.Context, arenaID string) ([]domain.Ticket, error) {
	filter := bson.M{"state": domain.TicketQueued}
	if arenaID != "" {
		filter["arena_id"] = arenaID
	}
	return r.list(ctx, filter)
}

func (r *ticketRepository) ListExpired(ctx context.Context, now time.Time) ([]domain.Ticket, error) {
	filter := bson.M{
		"state":      domain.TicketQueued,
		"expires_at": bson.M{"$lt": now},
	}
	return r.list(ctx, filter)
}

func (r *ticketRepository) CountActiveByServer(ctx context.Context, serverID string) (int, error) {
	collection := r.db.Collection(db.TicketsCollection)

	count, err := collection.CountDocuments(ctx, bson.M{
		"server_id": serverID,
		"state":     bson.M{"$in": activeStates},
	})
	return int(count), err
}

func (r *ticketRepository) list(ctx context.Context, filter bson.M) ([]domain.Ticket, error) {
	collection := r.db.Collection(db.TicketsCollection)

	opts := options.Find().SetSort(bson.D{{Key: "created_at", Value: 1}})

	cursor, err := collection.Find(ctx, filter, opts)
	if err != nil {
		return nil, err
	}
	defer cursor.Close(ctx)

	var tickets []domain.Ticket
	if err := cursor.All(ctx, &tickets); err != nil {
		return nil, err
	}

	return tickets, nil
}
