package source

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo/integration/mtest"
)

func TestMongoReviews(t *testing.T) {
	mt := mtest.New(t, mtest.NewOptions().ClientType(mtest.Mock))

	mt.Run("decodes scores of every numeric kind", func(mt *mtest.T) {
		ns := mt.Coll.Database().Name() + "." + mt.Coll.Name()
		first := mtest.CreateCursorResponse(1, ns, mtest.FirstBatch,
			bson.D{{Key: "order_id", Value: "e481f51cbdc54678b7cc49136f2d6af7"}, {Key: "review_score", Value: int32(4)}},
			bson.D{{Key: "order_id", Value: "53cdb2fc8bc7dce0b6741e2150273451"}, {Key: "review_score", Value: int64(5)}},
			bson.D{{Key: "order_id", Value: "47770eb9100c2d0c44946d9cf07ec65d"}, {Key: "review_score", Value: 3.0}},
		)
		next := mtest.CreateCursorResponse(0, ns, mtest.NextBatch,
			bson.D{{Key: "order_id", Value: "949d5b44dbf5de918fe9c16f97b45f8a"}, {Key: "review_score", Value: "2"}},
			bson.D{{Key: "order_id", Value: "ad21c59c0840e6cb83a9ceb5573f8159"}},
			bson.D{{Key: "order_id", Value: "a4591c265e18cb1dcee52889e2d8acc3"}, {Key: "review_score", Value: "great"}},
		)
		mt.AddMockResponses(first, next)

		reviews, stats, err := NewMongoReviews(mt.Coll).Reviews(context.Background())
		require.NoError(mt, err)
		require.Len(mt, reviews, 6)
		assert.Equal(mt, 6, stats.Rows)
		assert.Equal(mt, 1, stats.Malformed)

		want := []*int{intp(4), intp(5), intp(3), intp(2), nil, nil}
		for i, w := range want {
			assert.Equal(mt, w, reviews[i].Score, "review %d", i)
		}
		assert.Equal(mt, "e481f51cbdc54678b7cc49136f2d6af7", reviews[0].OrderID)
	})

	mt.Run("find failure", func(mt *mtest.T) {
		mt.AddMockResponses(mtest.CreateCommandErrorResponse(mtest.CommandError{
			Code:    13,
			Name:    "Unauthorized",
			Message: "not authorized on ecommerce",
		}))

		_, _, err := NewMongoReviews(mt.Coll).Reviews(context.Background())
		require.Error(mt, err)
		assert.Contains(mt, err.Error(), "find reviews")
	})
}

func TestNoReviews(t *testing.T) {
	reviews, stats, err := NoReviews{}.Reviews(context.Background())
	require.NoError(t, err)
	assert.Empty(t, reviews)
	assert.Zero(t, stats.Rows)
}

func intp(v int) *int { return &v }
