// Package source extracts the raw record sets a run starts from: five CSV
// tables and the review documents. It parses text into typed fields and
// nothing more; joining and null handling belong to the conformer.
package source

import (
	"context"
	"io"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/ajitpratap0/starload/pkg/errors"
	"github.com/ajitpratap0/starload/pkg/metrics"
	"github.com/ajitpratap0/starload/pkg/models"
)

// Source names, shared with config.SourcesConfig.Locations
const (
	OrderItems = "order_items"
	Payments   = "payments"
	Orders     = "orders"
	Products   = "products"
	Customers  = "customers"
	Reviews    = "reviews"
)

// Reader loads every record set of one run
type Reader struct {
	locations map[string]string
	opener    Opener
	reviews   ReviewStore
	logger    *zap.Logger
}

// NewReader creates a reader. locations is keyed by source name; a nil
// review store reads no reviews.
func NewReader(locations map[string]string, opener Opener, reviews ReviewStore, logger *zap.Logger) *Reader {
	if reviews == nil {
		reviews = NoReviews{}
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Reader{
		locations: locations,
		opener:    opener,
		reviews:   reviews,
		logger:    logger,
	}
}

// Load reads the six sources concurrently. The first failure cancels the
// others and is returned as a source error naming the source.
func (r *Reader) Load(ctx context.Context) (*models.SourceSet, error) {
	set := &models.SourceSet{}
	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		return r.table(gctx, OrderItems, func(rd io.Reader) (TableStats, error) {
			var (
				stats TableStats
				err   error
			)
			set.Items, stats, err = ParseOrderItems(rd)
			return stats, err
		})
	})
	g.Go(func() error {
		return r.table(gctx, Payments, func(rd io.Reader) (TableStats, error) {
			var (
				stats TableStats
				err   error
			)
			set.Payments, stats, err = ParsePayments(rd)
			return stats, err
		})
	})
	g.Go(func() error {
		return r.table(gctx, Orders, func(rd io.Reader) (TableStats, error) {
			var (
				stats TableStats
				err   error
			)
			set.Orders, stats, err = ParseOrders(rd)
			return stats, err
		})
	})
	g.Go(func() error {
		return r.table(gctx, Products, func(rd io.Reader) (TableStats, error) {
			var (
				stats TableStats
				err   error
			)
			set.Products, stats, err = ParseProducts(rd)
			return stats, err
		})
	})
	g.Go(func() error {
		return r.table(gctx, Customers, func(rd io.Reader) (TableStats, error) {
			var (
				stats TableStats
				err   error
			)
			set.Customers, stats, err = ParseCustomers(rd)
			return stats, err
		})
	})
	g.Go(func() error {
		start := time.Now()
		reviews, stats, err := r.reviews.Reviews(gctx)
		if err != nil {
			return errors.Wrap(err, errors.ErrorTypeSource, "read reviews").
				WithDetail("source", Reviews)
		}
		set.Reviews = reviews
		r.record(Reviews, stats, start)
		return nil
	})

	if err := g.Wait(); err != nil {
		return nil, err
	}
	return set, nil
}

func (r *Reader) table(ctx context.Context, name string, parse func(io.Reader) (TableStats, error)) error {
	start := time.Now()
	location := r.locations[name]

	rc, err := r.opener.Open(ctx, location)
	if err != nil {
		return errors.Wrapf(err, errors.ErrorTypeSource, "open %s", name).
			WithDetail("source", name).
			WithDetail("location", location)
	}
	defer rc.Close()

	stats, err := parse(rc)
	if err != nil {
		return errors.Wrapf(err, errors.ErrorTypeSource, "parse %s", name).
			WithDetail("source", name).
			WithDetail("location", location)
	}
	r.record(name, stats, start)
	return nil
}

func (r *Reader) record(name string, stats TableStats, start time.Time) {
	metrics.SourceRowsRead.WithLabelValues(name).Add(float64(stats.Rows))
	metrics.SourceRowsMalformed.WithLabelValues(name).Add(float64(stats.Malformed))

	fields := []zap.Field{
		zap.String("source", name),
		zap.Int("rows", stats.Rows),
		zap.Duration("duration", time.Since(start)),
	}
	if stats.Malformed > 0 {
		r.logger.Warn("source read with malformed cells", append(fields, zap.Int("malformed", stats.Malformed))...)
		return
	}
	r.logger.Info("source read", fields...)
}
