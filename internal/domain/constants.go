package domain

import "time"

const (
	DoodleStatusGenerating = "generating"
	DoodleStatusGenerated  = "generated"
	DoodleStatusErrored    = "errored"
)

const (
	ModelStatusGenerating = "generating"
	ModelStatusGenerated  = "generated"
	ModelStatusErrored    = "errored"
)

// Job kinds, used for dispatching webhooks and labelling metrics/events.
const (
	JobKindSketch = "sketch"
	JobKindModel  = "model"
)

const (
	SketchCreditCost = 1
	MaxPromptLength  = 200
)

const (
	DefaultSketchTimeout = 60 * time.Second
	DefaultModelTimeout  = 300 * time.Second
)

const (
	DefaultPageSize     = 12
	MaxPageSize         = 50
	SimilarDoodlesLimit = 6
)

// Refund reasons recorded on ledger events and metrics.
const (
	RefundReasonSubmitFailed  = "submit_failed"
	RefundReasonPipelineError = "pipeline_failed"
	RefundReasonTimeout       = "timeout"
)
