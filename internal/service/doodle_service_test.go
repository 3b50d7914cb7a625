package service

import (
	"context"
	"testing"
	"time"

	"doodles/internal/domain"
	"doodles/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestListPagination(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	base := time.Now().UTC().Add(-time.Hour)
	for i := 0; i < 5; i++ {
		url := "https://cdn.test/x.png"
		require.NoError(t, h.store.Doodles.Create(ctx, &models.Doodle{
			UserID:    "user-1",
			Prompt:    "p",
			RunID:     "r",
			Status:    domain.DoodleStatusGenerated,
			ImageURL:  &url,
			CreatedAt: base.Add(time.Duration(i) * time.Minute),
		}))
	}

	g, err := h.doodles.List(ctx, 0, 2)
	require.NoError(t, err)
	assert.Len(t, g.Doodles, 2)
	require.NotNil(t, g.NextPage)
	assert.Equal(t, 1, *g.NextPage)

	g, err = h.doodles.List(ctx, 2, 2)
	require.NoError(t, err)
	assert.Len(t, g.Doodles, 1)
	assert.Nil(t, g.NextPage)

	g, err = h.doodles.List(ctx, 9, 2)
	require.NoError(t, err)
	assert.NotNil(t, g.Doodles)
	assert.Empty(t, g.Doodles)
}

func TestListRejectsInvalidPagination(t *testing.T) {
	h := newHarness(t)
	for _, tc := range []struct{ page, pageSize int }{
		{-1, 12},
		{0, 0},
		{0, domain.MaxPageSize + 1},
	} {
		_, err := h.doodles.List(context.Background(), tc.page, tc.pageSize)
		assert.ErrorIs(t, err, domain.ErrInvalidPagination, "page %d pageSize %d", tc.page, tc.pageSize)
	}
}

func TestSimilar(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	var ids []string
	for _, prompt := range []string{"cat playing guitar", "cat on a roof", "red bicycle"} {
		d := &models.Doodle{UserID: "user-1", Prompt: prompt, RunID: "r", Status: domain.DoodleStatusGenerated}
		require.NoError(t, h.store.Doodles.Create(ctx, d))
		ids = append(ids, d.ID)
	}

	list, err := h.doodles.Similar(ctx, ids[0])
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, ids[1], list[0].ID)
	assert.Equal(t, ids[2], list[1].ID)

	_, err = h.doodles.Similar(ctx, "missing")
	assert.ErrorIs(t, err, domain.ErrDoodleNotFound)
}

func TestStatusUnknownDoodle(t *testing.T) {
	h := newHarness(t)

	_, err := h.doodles.Status(context.Background(), "missing")
	assert.ErrorIs(t, err, domain.ErrDoodleNotFound)
}
