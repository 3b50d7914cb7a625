package models

import (
	"time"

	"doodles/internal/domain"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

type Doodle struct {
	ID                       string     `gorm:"primaryKey;size:36" json:"id"`
	UserID                   string     `gorm:"size:128;not null;index" json:"userId"`
	Prompt                   string     `gorm:"type:text;not null" json:"prompt"`
	ImageURL                 *string    `gorm:"type:text" json:"imageUrl"`
	RunID                    string     `gorm:"size:128;not null;index" json:"runId"`
	Status                   string     `gorm:"size:20;not null;default:'generating';index" json:"status"`
	ModelURL                 *string    `gorm:"type:text" json:"modelUrl"`
	ModelPosterURL           *string    `gorm:"type:text" json:"modelPosterUrl"`
	ModelRunID               *string    `gorm:"size:128;index" json:"modelRunId"`
	ModelStatus              *string    `gorm:"size:20" json:"modelStatus"`
	ModelRequestedBy         *string    `gorm:"size:128" json:"-"`
	ModelGenerationStartedAt *time.Time `json:"modelGenerationStartedAt"`
	CreatedAt                time.Time  `gorm:"not null;index" json:"createdAt"`
}

func (Doodle) TableName() string {
	return "doodles"
}

func (d *Doodle) BeforeCreate(tx *gorm.DB) error {
	if d.ID == "" {
		d.ID = uuid.NewString()
	}
	return nil
}

// ModelPayer is the user charged for the current model job.
func (d *Doodle) ModelPayer() string {
	if d.ModelRequestedBy != nil && *d.ModelRequestedBy != "" {
		return *d.ModelRequestedBy
	}
	return d.UserID
}

// ModelStateKind enumerates the 3D generation slot states.
type ModelStateKind int

const (
	ModelUnclaimed ModelStateKind = iota
	ModelClaiming
	ModelGenerated
	ModelErrored
)

func (k ModelStateKind) String() string {
	switch k {
	case ModelClaiming:
		return domain.ModelStatusGenerating
	case ModelGenerated:
		return domain.ModelStatusGenerated
	case ModelErrored:
		return domain.ModelStatusErrored
	default:
		return "unclaimed"
	}
}

// ModelState is the tagged view over the nullable model columns.
// StartedAt is set only for ModelClaiming; URL and PosterURL only for ModelGenerated.
type ModelState struct {
	Kind      ModelStateKind
	StartedAt time.Time
	URL       string
	PosterURL string
}

// ModelState derives the slot state from the row. A "generated" row without
// a model URL is reported as errored so callers never see a generated model
// they cannot load.
func (d *Doodle) ModelState() ModelState {
	if d.ModelStatus == nil {
		return ModelState{Kind: ModelUnclaimed}
	}
	switch *d.ModelStatus {
	case domain.ModelStatusGenerating:
		s := ModelState{Kind: ModelClaiming}
		if d.ModelGenerationStartedAt != nil {
			s.StartedAt = *d.ModelGenerationStartedAt
		}
		return s
	case domain.ModelStatusGenerated:
		if d.ModelURL == nil || *d.ModelURL == "" {
			return ModelState{Kind: ModelErrored}
		}
		s := ModelState{Kind: ModelGenerated, URL: *d.ModelURL}
		if d.ModelPosterURL != nil {
			s.PosterURL = *d.ModelPosterURL
		}
		return s
	case domain.ModelStatusErrored:
		return ModelState{Kind: ModelErrored}
	default:
		return ModelState{Kind: ModelUnclaimed}
	}
}
