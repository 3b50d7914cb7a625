package repository

import (
	"context"
	"errors"
	"regexp"
	"strings"
	"time"

	"doodles/internal/domain"
	"doodles/internal/models"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// ClaimResult reports a model claim attempt. Doodle is the claimed row when Success is true.
type ClaimResult struct {
	Success bool
	Doodle  *models.Doodle
}

// DoodleRepository owns doodle rows and the model generation claim. All state
// transitions are conditional updates that name the state they expect.
type DoodleRepository struct {
	db *gorm.DB
}

func NewDoodleRepository(db *gorm.DB) *DoodleRepository {
	return &DoodleRepository{db: db}
}

func (r *DoodleRepository) Create(ctx context.Context, d *models.Doodle) error {
	return r.db.WithContext(ctx).Create(d).Error
}

func (r *DoodleRepository) GetByID(ctx context.Context, id string) (*models.Doodle, error) {
	var d models.Doodle
	err := r.db.WithContext(ctx).Where("id = ?", id).Take(&d).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, domain.ErrDoodleNotFound
	}
	if err != nil {
		return nil, err
	}
	return &d, nil
}

// FindGeneratingByRunID returns the sketch job still waiting on runID, or nil.
func (r *DoodleRepository) FindGeneratingByRunID(ctx context.Context, runID string) (*models.Doodle, error) {
	return r.findOne(ctx, "run_id = ? AND status = ?", runID, domain.DoodleStatusGenerating)
}

// FindGeneratingByModelRunID returns the model job still waiting on modelRunID, or nil.
func (r *DoodleRepository) FindGeneratingByModelRunID(ctx context.Context, modelRunID string) (*models.Doodle, error) {
	return r.findOne(ctx, "model_run_id = ? AND model_status = ?", modelRunID, domain.ModelStatusGenerating)
}

func (r *DoodleRepository) findOne(ctx context.Context, query string, args ...interface{}) (*models.Doodle, error) {
	var rows []models.Doodle
	if err := r.db.WithContext(ctx).Where(query, args...).Limit(1).Find(&rows).Error; err != nil {
		return nil, err
	}
	if len(rows) == 0 {
		return nil, nil
	}
	return &rows[0], nil
}

// ListGenerated returns finished doodles, newest first.
func (r *DoodleRepository) ListGenerated(ctx context.Context, limit, offset int) ([]models.Doodle, error) {
	var list []models.Doodle
	err := r.db.WithContext(ctx).
		Where("status = ?", domain.DoodleStatusGenerated).
		Order("created_at DESC").
		Limit(limit).
		Offset(offset).
		Find(&list).Error
	return list, err
}

var nonSearchChars = regexp.MustCompile(`[^a-z0-9\s]`)

// searchTerms lowercases prompt, drops punctuation and keeps words longer
// than two characters.
func searchTerms(prompt string) []string {
	var terms []string
	for _, w := range strings.Fields(nonSearchChars.ReplaceAllString(strings.ToLower(prompt), "")) {
		if len(w) > 2 {
			terms = append(terms, w)
		}
	}
	return terms
}

// ListSimilar returns up to limit generated doodles other than id whose
// prompts share search terms with prompt, best match first. Short results are
// topped up with the newest generated doodles.
func (r *DoodleRepository) ListSimilar(ctx context.Context, id, prompt string, limit int) ([]models.Doodle, error) {
	if limit <= 0 {
		return nil, nil
	}
	var matched []models.Doodle
	if terms := searchTerms(prompt); len(terms) > 0 {
		if err := r.matchPrompt(ctx, id, terms).Limit(limit).Find(&matched).Error; err != nil {
			return nil, err
		}
	}
	if len(matched) >= limit {
		return matched, nil
	}

	exclude := []string{id}
	for _, d := range matched {
		exclude = append(exclude, d.ID)
	}
	var recent []models.Doodle
	err := r.db.WithContext(ctx).
		Where("status = ? AND id NOT IN ?", domain.DoodleStatusGenerated, exclude).
		Order("created_at DESC").
		Limit(limit - len(matched)).
		Find(&recent).Error
	if err != nil {
		return nil, err
	}
	return append(matched, recent...), nil
}

// matchPrompt selects generated doodles matching any of terms. Postgres ranks
// with full-text search; other dialects rank by the number of terms found.
func (r *DoodleRepository) matchPrompt(ctx context.Context, id string, terms []string) *gorm.DB {
	q := r.db.WithContext(ctx).Where("id <> ? AND status = ?", id, domain.DoodleStatusGenerated)

	if r.db.Dialector.Name() == "postgres" {
		query := strings.Join(terms, " | ")
		return q.Where("to_tsvector('english', prompt) @@ to_tsquery('english', ?)", query).
			Order(clause.OrderBy{Expression: clause.Expr{
				SQL:                "ts_rank(to_tsvector('english', prompt), to_tsquery('english', ?)) DESC, created_at DESC",
				Vars:               []interface{}{query},
				WithoutParentheses: true,
			}})
	}

	matches := make([]string, len(terms))
	scores := make([]string, len(terms))
	patterns := make([]interface{}, len(terms))
	for i, term := range terms {
		matches[i] = "LOWER(prompt) LIKE ?"
		scores[i] = "CASE WHEN LOWER(prompt) LIKE ? THEN 1 ELSE 0 END"
		patterns[i] = "%" + term + "%"
	}
	return q.Where("("+strings.Join(matches, " OR ")+")", patterns...).
		Order(clause.OrderBy{Expression: clause.Expr{
			SQL:                "(" + strings.Join(scores, " + ") + ") DESC, created_at DESC",
			Vars:               patterns,
			WithoutParentheses: true,
		}})
}

// TryClaimModel moves the model slot from unclaimed/errored to generating.
// The state check is part of the UPDATE, so among concurrent callers exactly
// one succeeds. A previous run id is cleared so its late webhook cannot
// finalize the new job.
func (r *DoodleRepository) TryClaimModel(ctx context.Context, doodleID, payerID string, now time.Time) (ClaimResult, error) {
	q := r.db.WithContext(ctx).Model(&models.Doodle{}).
		Where("id = ? AND (model_status IS NULL OR model_status = ?)", doodleID, domain.ModelStatusErrored).
		Updates(map[string]interface{}{
			"model_status":                domain.ModelStatusGenerating,
			"model_generation_started_at": now,
			"model_run_id":                nil,
			"model_requested_by":          payerID,
		})
	if q.Error != nil {
		return ClaimResult{}, q.Error
	}
	if q.RowsAffected == 0 {
		return ClaimResult{Success: false}, nil
	}
	d, err := r.GetByID(ctx, doodleID)
	if err != nil {
		return ClaimResult{}, err
	}
	return ClaimResult{Success: true, Doodle: d}, nil
}

// ReleaseClaim rolls a claim back to unclaimed after the charge or the submission failed.
func (r *DoodleRepository) ReleaseClaim(ctx context.Context, doodleID string) error {
	return r.db.WithContext(ctx).Model(&models.Doodle{}).
		Where("id = ? AND model_status = ?", doodleID, domain.ModelStatusGenerating).
		Updates(map[string]interface{}{
			"model_status":                nil,
			"model_generation_started_at": nil,
			"model_requested_by":          nil,
		}).Error
}

func (r *DoodleRepository) SetModelRunID(ctx context.Context, doodleID, modelRunID string) error {
	return r.db.WithContext(ctx).Model(&models.Doodle{}).
		Where("id = ? AND model_status = ?", doodleID, domain.ModelStatusGenerating).
		Update("model_run_id", modelRunID).Error
}

// CompleteSketch marks a generating sketch as generated. It reports false when
// the row already left the generating state.
func (r *DoodleRepository) CompleteSketch(ctx context.Context, doodleID, imageURL string) (bool, error) {
	q := r.db.WithContext(ctx).Model(&models.Doodle{}).
		Where("id = ? AND status = ?", doodleID, domain.DoodleStatusGenerating).
		Updates(map[string]interface{}{
			"status":    domain.DoodleStatusGenerated,
			"image_url": imageURL,
		})
	return q.RowsAffected == 1, q.Error
}

// FailSketch marks a generating sketch as errored. When createdBefore is
// non-zero the row must also be older than it, which is how the timeout path
// expresses its deadline.
func (r *DoodleRepository) FailSketch(ctx context.Context, doodleID string, createdBefore time.Time) (bool, error) {
	q := r.db.WithContext(ctx).Model(&models.Doodle{}).
		Where("id = ? AND status = ?", doodleID, domain.DoodleStatusGenerating)
	if !createdBefore.IsZero() {
		q = q.Where("created_at <= ?", createdBefore)
	}
	q = q.Update("status", domain.DoodleStatusErrored)
	return q.RowsAffected == 1, q.Error
}

// CompleteModel stores the model output of the run currently generating.
func (r *DoodleRepository) CompleteModel(ctx context.Context, doodleID, modelRunID, modelURL, posterURL string) (bool, error) {
	updates := map[string]interface{}{
		"model_status": domain.ModelStatusGenerated,
		"model_url":    modelURL,
	}
	if posterURL != "" {
		updates["model_poster_url"] = posterURL
	}
	q := r.db.WithContext(ctx).Model(&models.Doodle{}).
		Where("id = ? AND model_run_id = ? AND model_status = ?", doodleID, modelRunID, domain.ModelStatusGenerating).
		Updates(updates)
	return q.RowsAffected == 1, q.Error
}

// FailModelRun marks the model run currently generating as errored.
func (r *DoodleRepository) FailModelRun(ctx context.Context, doodleID, modelRunID string) (bool, error) {
	q := r.db.WithContext(ctx).Model(&models.Doodle{}).
		Where("id = ? AND model_run_id = ? AND model_status = ?", doodleID, modelRunID, domain.ModelStatusGenerating).
		Update("model_status", domain.ModelStatusErrored)
	return q.RowsAffected == 1, q.Error
}

// FailStaleModel marks a model claim errored if it started at or before startedBefore.
// A fresh re-claim carries a later start time and is left alone.
func (r *DoodleRepository) FailStaleModel(ctx context.Context, doodleID string, startedBefore time.Time) (bool, error) {
	q := r.db.WithContext(ctx).Model(&models.Doodle{}).
		Where("id = ? AND model_status = ? AND model_generation_started_at <= ?", doodleID, domain.ModelStatusGenerating, startedBefore).
		Update("model_status", domain.ModelStatusErrored)
	return q.RowsAffected == 1, q.Error
}
