package source

import (
	"context"
	"fmt"
	"math"
	"strconv"
	"strings"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/bsontype"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/ajitpratap0/starload/pkg/models"
)

// ReviewStore returns the review score lookup for every order
type ReviewStore interface {
	Reviews(ctx context.Context) ([]models.Review, TableStats, error)
}

// NoReviews is the store used when no document store is configured. Every
// order then takes the missing-score sentinel.
type NoReviews struct{}

// Reviews returns nothing
func (NoReviews) Reviews(context.Context) ([]models.Review, TableStats, error) {
	return nil, TableStats{}, nil
}

// MongoReviews reads order_id and review_score from a review collection
type MongoReviews struct {
	coll *mongo.Collection
}

// NewMongoReviews creates a review store over coll
func NewMongoReviews(coll *mongo.Collection) *MongoReviews {
	return &MongoReviews{coll: coll}
}

type reviewDoc struct {
	OrderID string        `bson:"order_id"`
	Score   bson.RawValue `bson:"review_score"`
}

// Reviews streams every review document in natural order. Scores stored as
// int32, int64, whole doubles or numeric strings are accepted; anything
// else counts as malformed and is treated as absent.
func (m *MongoReviews) Reviews(ctx context.Context) ([]models.Review, TableStats, error) {
	var stats TableStats

	projection := bson.D{{Key: "_id", Value: 0}, {Key: "order_id", Value: 1}, {Key: "review_score", Value: 1}}
	cursor, err := m.coll.Find(ctx, bson.D{}, options.Find().SetProjection(projection))
	if err != nil {
		return nil, stats, fmt.Errorf("find reviews in %s: %w", m.coll.Name(), err)
	}
	defer cursor.Close(ctx)

	var out []models.Review
	for cursor.Next(ctx) {
		var doc reviewDoc
		if err := cursor.Decode(&doc); err != nil {
			stats.Malformed++
			continue
		}
		stats.Rows++
		score, ok := scoreOf(doc.Score)
		if !ok {
			stats.Malformed++
		}
		out = append(out, models.Review{OrderID: strings.TrimSpace(doc.OrderID), Score: score})
	}
	if err := cursor.Err(); err != nil {
		return nil, stats, fmt.Errorf("iterate reviews: %w", err)
	}
	return out, stats, nil
}

// scoreOf converts a raw score. ok is false only for a present value that
// cannot be read as an integer.
func scoreOf(v bson.RawValue) (*int, bool) {
	if v.Type == 0 || v.Type == bsontype.Null || v.Type == bsontype.Undefined {
		return nil, true
	}
	if i, ok := v.Int32OK(); ok {
		return models.IntPtr(int(i)), true
	}
	if i, ok := v.Int64OK(); ok {
		return models.IntPtr(int(i)), true
	}
	if f, ok := v.DoubleOK(); ok && f == math.Trunc(f) {
		return models.IntPtr(int(f)), true
	}
	if s, ok := v.StringValueOK(); ok {
		s = strings.TrimSpace(s)
		if s == "" {
			return nil, true
		}
		if i, err := strconv.Atoi(s); err == nil {
			return &i, true
		}
	}
	return nil, false
}
