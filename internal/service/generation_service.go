package service

import (
	"context"
	"fmt"
	"time"
	"unicode/utf8"

	"doodles/config"
	"doodles/internal/domain"
	"doodles/internal/events"
	"doodles/internal/metrics"
	"doodles/internal/models"
	"doodles/internal/repository"

	"github.com/sirupsen/logrus"
)

// Gateway submits jobs to the generation pipeline and returns the run id.
type Gateway interface {
	SubmitSketchJob(ctx context.Context, prompt string) (string, error)
	SubmitModelJob(ctx context.Context, imageURL string) (string, error)
}

// GenerationService charges credits and starts sketch and 3D model jobs.
// Every charged request either submits its job or refunds before returning.
type GenerationService struct {
	store     *repository.Store
	gateway   Gateway
	log       *logrus.Logger
	modelCost int
	now       func() time.Time
	notify    *notifier
}

func NewGenerationService(
	store *repository.Store,
	gateway Gateway,
	publisher events.Publisher,
	m *metrics.Metrics,
	log *logrus.Logger,
	cfg config.GenerationConfig,
) *GenerationService {
	now := func() time.Time { return time.Now().UTC() }
	return &GenerationService{
		store:     store,
		gateway:   gateway,
		log:       log,
		modelCost: cfg.ModelCreditCost,
		now:       now,
		notify:    &notifier{publisher: publisher, metrics: m, log: log, now: now},
	}
}

// ValidatePrompt enforces the 1..200 character prompt length.
func ValidatePrompt(prompt string) error {
	n := utf8.RuneCountInString(prompt)
	if n == 0 || n > domain.MaxPromptLength {
		return fmt.Errorf("%w: must be 1-%d characters", domain.ErrInvalidPrompt, domain.MaxPromptLength)
	}
	return nil
}

// CreateSketch charges one credit, submits a text-to-image job and records the
// doodle in the generating state. It returns the new doodle id.
func (s *GenerationService) CreateSketch(ctx context.Context, userID, prompt string) (string, error) {
	if err := ValidatePrompt(prompt); err != nil {
		return "", err
	}

	res, err := s.store.Credits.Deduct(ctx, userID, domain.SketchCreditCost)
	if err != nil {
		return "", fmt.Errorf("deduct credit: %w", err)
	}
	if !res.Success {
		return "", domain.ErrInsufficientCredits
	}
	s.notify.deducted(ctx, userID, domain.JobKindSketch, domain.SketchCreditCost)

	committed := false
	defer func() {
		if committed {
			return
		}
		r := recover()
		s.refundSketch(ctx, userID)
		if r != nil {
			panic(r)
		}
	}()

	runID, err := s.gateway.SubmitSketchJob(ctx, prompt)
	if err != nil {
		s.log.WithError(err).WithField("user_id", userID).Error("[Generate] sketch submission failed")
		return "", err
	}

	d := &models.Doodle{
		UserID: userID,
		Prompt: prompt,
		RunID:  runID,
		Status: domain.DoodleStatusGenerating,
	}
	if err := s.store.Doodles.Create(ctx, d); err != nil {
		s.log.WithError(err).WithField("run_id", runID).Error("[Generate] failed to record doodle")
		return "", fmt.Errorf("create doodle: %w", err)
	}
	committed = true

	s.notify.submitted(ctx, userID, d.ID, domain.JobKindSketch, runID)
	s.log.WithFields(logrus.Fields{"doodle_id": d.ID, "run_id": runID}).Info("[Generate] sketch submitted")
	return d.ID, nil
}

func (s *GenerationService) refundSketch(ctx context.Context, userID string) {
	ctx = context.WithoutCancel(ctx)
	if err := s.store.Credits.Refund(ctx, userID, domain.SketchCreditCost); err != nil {
		s.log.WithError(err).WithField("user_id", userID).Error("[Generate] sketch refund failed")
		return
	}
	s.notify.refunded(ctx, userID, "", domain.JobKindSketch, domain.RefundReasonSubmitFailed, domain.SketchCreditCost)
}

// RequestModel claims the doodle's model slot, charges userID and submits an
// image-to-3D job. It returns the model run id.
func (s *GenerationService) RequestModel(ctx context.Context, userID, doodleID string) (string, error) {
	d, err := s.store.Doodles.GetByID(ctx, doodleID)
	if err != nil {
		return "", err
	}
	if d.ImageURL == nil || *d.ImageURL == "" {
		return "", domain.ErrNoImage
	}
	if d.ModelState().Kind == models.ModelGenerated {
		return "", domain.ErrAlreadyGenerated
	}

	claim, err := s.store.Doodles.TryClaimModel(ctx, doodleID, userID, s.now())
	if err != nil {
		return "", fmt.Errorf("claim model: %w", err)
	}
	if !claim.Success {
		// The slot may have been filled between the read and the claim.
		if cur, err := s.store.Doodles.GetByID(ctx, doodleID); err == nil && cur.ModelState().Kind == models.ModelGenerated {
			return "", domain.ErrAlreadyGenerated
		}
		return "", domain.ErrAlreadyGenerating
	}

	res, err := s.store.Credits.Deduct(ctx, userID, s.modelCost)
	if err != nil || !res.Success {
		if relErr := s.store.Doodles.ReleaseClaim(context.WithoutCancel(ctx), doodleID); relErr != nil {
			s.log.WithError(relErr).WithField("doodle_id", doodleID).Error("[Generate] failed to release model claim")
		}
		if err != nil {
			return "", fmt.Errorf("deduct credits: %w", err)
		}
		return "", domain.ErrInsufficientCredits
	}
	s.notify.deducted(ctx, userID, domain.JobKindModel, s.modelCost)

	committed := false
	defer func() {
		if committed {
			return
		}
		r := recover()
		s.compensateModel(ctx, userID, doodleID)
		if r != nil {
			panic(r)
		}
	}()

	runID, err := s.gateway.SubmitModelJob(ctx, *d.ImageURL)
	if err != nil {
		s.log.WithError(err).WithField("doodle_id", doodleID).Error("[Generate] model submission failed")
		return "", err
	}
	if err := s.store.Doodles.SetModelRunID(ctx, doodleID, runID); err != nil {
		s.log.WithError(err).WithFields(logrus.Fields{"doodle_id": doodleID, "run_id": runID}).
			Error("[Generate] failed to record model run")
		return "", fmt.Errorf("set model run id: %w", err)
	}
	committed = true

	s.notify.submitted(ctx, userID, doodleID, domain.JobKindModel, runID)
	s.log.WithFields(logrus.Fields{"doodle_id": doodleID, "run_id": runID}).Info("[Generate] model submitted")
	return runID, nil
}

// compensateModel releases the claim and refunds the payer in one transaction.
func (s *GenerationService) compensateModel(ctx context.Context, userID, doodleID string) {
	ctx = context.WithoutCancel(ctx)
	err := s.store.Transaction(ctx, func(tx *repository.Store) error {
		if err := tx.Doodles.ReleaseClaim(ctx, doodleID); err != nil {
			return err
		}
		return tx.Credits.Refund(ctx, userID, s.modelCost)
	})
	if err != nil {
		s.log.WithError(err).WithFields(logrus.Fields{"doodle_id": doodleID, "user_id": userID}).
			Error("[Generate] model compensation failed")
		return
	}
	s.notify.refunded(ctx, userID, doodleID, domain.JobKindModel, domain.RefundReasonSubmitFailed, s.modelCost)
}
