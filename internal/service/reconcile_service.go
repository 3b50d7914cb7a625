package service

import (
	"context"
	"time"

	"doodles/config"
	"doodles/internal/domain"
	"doodles/internal/events"
	"doodles/internal/metrics"
	"doodles/internal/models"
	"doodles/internal/repository"
	"doodles/pkg/pipeline"

	"github.com/sirupsen/logrus"
)

// PipelineOutputs identifies the two pipelines and the nodes their results are read from.
type PipelineOutputs struct {
	SketchID        string
	SketchImageNode string
	ModelID         string
	ModelNode       string
	ModelPosterNode string
}

func PipelineOutputsFromConfig(cfg config.PipelineConfig) PipelineOutputs {
	return PipelineOutputs{
		SketchID:        cfg.SketchID,
		SketchImageNode: cfg.SketchImageNode,
		ModelID:         cfg.ModelID,
		ModelNode:       cfg.ModelOutputNode,
		ModelPosterNode: cfg.ModelPosterNode,
	}
}

// ReconcileService drives generating jobs to a terminal state, either from a
// pipeline webhook or because the job outlived its timeout. Each failure
// transition and its refund commit together, and the transition is
// conditional, so a job is refunded at most once.
type ReconcileService struct {
	store         *repository.Store
	outputs       PipelineOutputs
	log           *logrus.Logger
	modelCost     int
	sketchTimeout time.Duration
	modelTimeout  time.Duration
	now           func() time.Time
	notify        *notifier
}

func NewReconcileService(
	store *repository.Store,
	outputs PipelineOutputs,
	publisher events.Publisher,
	m *metrics.Metrics,
	log *logrus.Logger,
	cfg config.GenerationConfig,
) *ReconcileService {
	now := func() time.Time { return time.Now().UTC() }
	sketchTimeout, modelTimeout := cfg.SketchTimeout, cfg.ModelTimeout
	if sketchTimeout <= 0 {
		sketchTimeout = domain.DefaultSketchTimeout
	}
	if modelTimeout <= 0 {
		modelTimeout = domain.DefaultModelTimeout
	}
	return &ReconcileService{
		store:         store,
		outputs:       outputs,
		log:           log,
		modelCost:     cfg.ModelCreditCost,
		sketchTimeout: sketchTimeout,
		modelTimeout:  modelTimeout,
		now:           now,
		notify:        &notifier{publisher: publisher, metrics: m, log: log, now: now},
	}
}

// HandlePipelineEvent applies a run result. Events for unknown pipelines or
// for runs no longer generating are ignored.
func (s *ReconcileService) HandlePipelineEvent(ctx context.Context, ev *pipeline.Event) error {
	log := s.log.WithFields(logrus.Fields{
		"pipeline_id": ev.PipelineID,
		"run_id":      ev.RunID,
		"event":       ev.Event,
	})
	log.Info("[Pipeline Webhook] received")

	switch ev.PipelineID {
	case s.outputs.SketchID:
		return s.handleSketch(ctx, ev, log)
	case s.outputs.ModelID:
		return s.handleModel(ctx, ev, log)
	default:
		log.Warn("[Pipeline Webhook] unrecognized pipeline id")
		return nil
	}
}

func (s *ReconcileService) handleSketch(ctx context.Context, ev *pipeline.Event, log *logrus.Entry) error {
	d, err := s.store.Doodles.FindGeneratingByRunID(ctx, ev.RunID)
	if err != nil {
		return err
	}
	if d == nil {
		log.Warn("[Pipeline Webhook] no generating doodle for run")
		return nil
	}

	imageURL := ""
	if ev.Completed() {
		imageURL = ev.FileURL(s.outputs.SketchImageNode)
		if imageURL == "" {
			log.Error("[Pipeline Webhook] sketch run completed without an image url")
		}
	} else {
		log.Error("[Pipeline Webhook] sketch run failed")
	}
	if imageURL == "" {
		s.logNodeErrors(ev, log)
		_, err := s.failSketch(ctx, d, time.Time{}, domain.RefundReasonPipelineError)
		return err
	}

	ok, err := s.store.Doodles.CompleteSketch(ctx, d.ID, imageURL)
	if err != nil {
		return err
	}
	if ok {
		log.WithField("doodle_id", d.ID).Info("[Pipeline Webhook] sketch generated")
		s.notify.finalized(ctx, d.UserID, d.ID, domain.JobKindSketch, domain.DoodleStatusGenerated)
	}
	return nil
}

func (s *ReconcileService) handleModel(ctx context.Context, ev *pipeline.Event, log *logrus.Entry) error {
	d, err := s.store.Doodles.FindGeneratingByModelRunID(ctx, ev.RunID)
	if err != nil {
		return err
	}
	if d == nil {
		log.Warn("[Pipeline Webhook] no generating model for run")
		return nil
	}

	modelURL, posterURL := "", ""
	if ev.Completed() {
		modelURL = ev.FileURL(s.outputs.ModelNode)
		posterURL = ev.FileURL(s.outputs.ModelPosterNode)
		if modelURL == "" {
			log.Error("[Pipeline Webhook] model run completed without a model url")
		}
	} else {
		log.Error("[Pipeline Webhook] model run failed")
	}
	if modelURL == "" {
		s.logNodeErrors(ev, log)
		_, err := s.failModel(ctx, d, func(tx *repository.Store) (bool, error) {
			return tx.Doodles.FailModelRun(ctx, d.ID, ev.RunID)
		}, domain.RefundReasonPipelineError)
		return err
	}

	ok, err := s.store.Doodles.CompleteModel(ctx, d.ID, ev.RunID, modelURL, posterURL)
	if err != nil {
		return err
	}
	if ok {
		log.WithField("doodle_id", d.ID).Info("[Pipeline Webhook] model generated")
		s.notify.finalized(ctx, d.ModelPayer(), d.ID, domain.JobKindModel, domain.ModelStatusGenerated)
	}
	return nil
}

func (s *ReconcileService) logNodeErrors(ev *pipeline.Event, log *logrus.Entry) {
	for _, ne := range ev.NodeErrors() {
		log.WithFields(logrus.Fields{
			"node":          ne.Node,
			"error_reason":  ne.Reason,
			"error_message": ne.Message,
		}).Error("[Pipeline Webhook] node failed")
	}
}

// failSketch marks the sketch errored and refunds its credit. createdBefore,
// when set, must not be earlier than the row's created_at.
func (s *ReconcileService) failSketch(ctx context.Context, d *models.Doodle, createdBefore time.Time, reason string) (bool, error) {
	var failed bool
	err := s.store.Transaction(ctx, func(tx *repository.Store) error {
		ok, err := tx.Doodles.FailSketch(ctx, d.ID, createdBefore)
		if err != nil || !ok {
			return err
		}
		failed = true
		return tx.Credits.Refund(ctx, d.UserID, domain.SketchCreditCost)
	})
	if err != nil || !failed {
		return false, err
	}
	s.notify.finalized(ctx, d.UserID, d.ID, domain.JobKindSketch, domain.DoodleStatusErrored)
	s.notify.refunded(ctx, d.UserID, d.ID, domain.JobKindSketch, reason, domain.SketchCreditCost)
	return true, nil
}

// failModel runs transition inside a transaction and, if it applied, refunds the payer.
func (s *ReconcileService) failModel(ctx context.Context, d *models.Doodle, transition func(tx *repository.Store) (bool, error), reason string) (bool, error) {
	payer := d.ModelPayer()
	var failed bool
	err := s.store.Transaction(ctx, func(tx *repository.Store) error {
		ok, err := transition(tx)
		if err != nil || !ok {
			return err
		}
		failed = true
		return tx.Credits.Refund(ctx, payer, s.modelCost)
	})
	if err != nil || !failed {
		return false, err
	}
	s.notify.finalized(ctx, payer, d.ID, domain.JobKindModel, domain.ModelStatusErrored)
	s.notify.refunded(ctx, payer, d.ID, domain.JobKindModel, reason, s.modelCost)
	return true, nil
}

// ReconcileTimeouts fails and refunds any job of d that has been generating
// longer than its timeout. It returns the row as it stands afterwards.
func (s *ReconcileService) ReconcileTimeouts(ctx context.Context, d *models.Doodle) (*models.Doodle, error) {
	now := s.now()
	changed := false

	if d.Status == domain.DoodleStatusGenerating && now.Sub(d.CreatedAt) > s.sketchTimeout {
		ok, err := s.failSketch(ctx, d, d.CreatedAt, domain.RefundReasonTimeout)
		if err != nil {
			return nil, err
		}
		if ok {
			s.log.WithField("doodle_id", d.ID).Warn("[Timeout] sketch generation timed out")
		}
		changed = true
	}

	if state := d.ModelState(); state.Kind == models.ModelClaiming && !state.StartedAt.IsZero() &&
		now.Sub(state.StartedAt) > s.modelTimeout {
		ok, err := s.failModel(ctx, d, func(tx *repository.Store) (bool, error) {
			return tx.Doodles.FailStaleModel(ctx, d.ID, state.StartedAt)
		}, domain.RefundReasonTimeout)
		if err != nil {
			return nil, err
		}
		if ok {
			s.log.WithField("doodle_id", d.ID).Warn("[Timeout] model generation timed out")
		}
		changed = true
	}

	if !changed {
		return d, nil
	}
	return s.store.Doodles.GetByID(ctx, d.ID)
}
