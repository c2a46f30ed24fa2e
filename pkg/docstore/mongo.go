// Package docstore manages the MongoDB connection holding order reviews.
package docstore

import (
	"context"
	"time"

	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.mongodb.org/mongo-driver/mongo/readpref"
	"go.uber.org/zap"

	"github.com/ajitpratap0/starload/pkg/config"
	"github.com/ajitpratap0/starload/pkg/connection"
	"github.com/ajitpratap0/starload/pkg/errors"
	"github.com/ajitpratap0/starload/pkg/retry"
)

// Store owns the review database client of one run
type Store struct {
	cfg       config.ReviewsConfig
	lifecycle *connection.Lifecycle
	logger    *zap.Logger

	client *mongo.Client
}

// New creates a disconnected store for cfg
func New(cfg config.ReviewsConfig, policy *retry.Policy, logger *zap.Logger) *Store {
	if logger == nil {
		logger = zap.NewNop()
	}
	system := "document store " + cfg.Database
	return &Store{
		cfg:       cfg,
		lifecycle: connection.New(system, policy, logger),
		logger:    logger.With(zap.String("component", "docstore")),
	}
}

// System names the document store in errors and logs
func (s *Store) System() string {
	return s.lifecycle.System()
}

// State returns the connection state
func (s *Store) State() connection.State {
	return s.lifecycle.State()
}

// Attempts returns how many dial attempts Connect made
func (s *Store) Attempts() int {
	return s.lifecycle.Attempts()
}

// Connect dials and pings MongoDB under the retry policy
func (s *Store) Connect(ctx context.Context) error {
	return s.lifecycle.Connect(ctx, s.dial)
}

func (s *Store) dial(ctx context.Context) error {
	opts := options.Client().
		ApplyURI(s.cfg.URI).
		SetServerSelectionTimeout(5 * time.Second).
		SetAppName("starload")

	if err := opts.Validate(); err != nil {
		return errors.Wrap(err, errors.ErrorTypeConfig, "parse mongodb uri")
	}

	client, err := mongo.Connect(ctx, opts)
	if err != nil {
		return errors.Wrap(err, errors.ErrorTypeConnection, "connect")
	}
	if err := client.Ping(ctx, readpref.Primary()); err != nil {
		_ = client.Disconnect(context.Background())
		return errors.Wrap(err, errors.ErrorTypeConnection, "ping")
	}
	s.client = client
	return nil
}

// Collection returns the review collection. The store must be connected.
func (s *Store) Collection() (*mongo.Collection, error) {
	if err := s.lifecycle.Require(connection.Connected); err != nil {
		return nil, err
	}
	return s.client.Database(s.cfg.Database).Collection(s.cfg.Collection), nil
}

// Close disconnects the client. Safe to call on any path and more than once.
func (s *Store) Close() error {
	return s.lifecycle.Close(func() error {
		if s.client == nil {
			return nil
		}
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := s.client.Disconnect(ctx); err != nil {
			return errors.Wrap(err, errors.ErrorTypeConnection, "disconnect")
		}
		return nil
	})
}
