package service

import (
	"context"
	"fmt"
	"time"

	"doodles/internal/domain"
	"doodles/internal/models"
	"doodles/internal/repository"
)

// DoodleStatus is the polling view of a doodle.
type DoodleStatus struct {
	ID                       string     `json:"id"`
	Status                   string     `json:"status"`
	Prompt                   string     `json:"prompt"`
	ImageURL                 *string    `json:"imageUrl"`
	ModelURL                 *string    `json:"modelUrl"`
	ModelPosterURL           *string    `json:"modelPosterUrl"`
	ModelStatus              *string    `json:"modelStatus"`
	ModelGenerationStartedAt *time.Time `json:"modelGenerationStartedAt"`
	CreatedAt                time.Time  `json:"createdAt"`
}

// Gallery is one page of generated doodles. NextPage is nil on the last page.
type Gallery struct {
	Doodles  []models.Doodle `json:"doodles"`
	NextPage *int            `json:"nextPage"`
}

type DoodleService struct {
	store      *repository.Store
	reconciler *ReconcileService
}

func NewDoodleService(store *repository.Store, reconciler *ReconcileService) *DoodleService {
	return &DoodleService{store: store, reconciler: reconciler}
}

// Status reads a doodle, first failing and refunding any job past its timeout.
func (s *DoodleService) Status(ctx context.Context, id string) (*DoodleStatus, error) {
	d, err := s.store.Doodles.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	d, err = s.reconciler.ReconcileTimeouts(ctx, d)
	if err != nil {
		return nil, err
	}
	return &DoodleStatus{
		ID:                       d.ID,
		Status:                   d.Status,
		Prompt:                   d.Prompt,
		ImageURL:                 d.ImageURL,
		ModelURL:                 d.ModelURL,
		ModelPosterURL:           d.ModelPosterURL,
		ModelStatus:              d.ModelStatus,
		ModelGenerationStartedAt: d.ModelGenerationStartedAt,
		CreatedAt:                d.CreatedAt,
	}, nil
}

func (s *DoodleService) Get(ctx context.Context, id string) (*models.Doodle, error) {
	return s.store.Doodles.GetByID(ctx, id)
}

// List returns a page of generated doodles, newest first. page starts at 0
// and pageSize must be within 1..MaxPageSize.
func (s *DoodleService) List(ctx context.Context, page, pageSize int) (*Gallery, error) {
	if page < 0 || pageSize < 1 || pageSize > domain.MaxPageSize {
		return nil, fmt.Errorf("%w: page %d pageSize %d", domain.ErrInvalidPagination, page, pageSize)
	}
	list, err := s.store.Doodles.ListGenerated(ctx, pageSize, page*pageSize)
	if err != nil {
		return nil, err
	}
	if list == nil {
		list = []models.Doodle{}
	}
	g := &Gallery{Doodles: list}
	if len(list) == pageSize {
		next := page + 1
		g.NextPage = &next
	}
	return g, nil
}

// Similar returns generated doodles related to id by prompt, for the detail view.
func (s *DoodleService) Similar(ctx context.Context, id string) ([]models.Doodle, error) {
	d, err := s.store.Doodles.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	list, err := s.store.Doodles.ListSimilar(ctx, d.ID, d.Prompt, domain.SimilarDoodlesLimit)
	if err != nil {
		return nil, err
	}
	if list == nil {
		list = []models.Doodle{}
	}
	return list, nil
}
