package service

import (
	"context"
	"fmt"
	"io"
	"sync"
	"testing"

	"doodles/config"
	"doodles/internal/database/dbtest"
	"doodles/internal/events"
	"doodles/internal/metrics"
	"doodles/internal/repository"
	"doodles/pkg/payment"
	"doodles/pkg/pipeline"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/require"
)

const testModelCost = 5

type fakeGateway struct {
	mu          sync.Mutex
	sketchCalls int
	modelCalls  int
	seq         int
	err         error
	panicWith   interface{}
}

func (g *fakeGateway) next(prefix string) (string, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.panicWith != nil {
		panic(g.panicWith)
	}
	if g.err != nil {
		return "", g.err
	}
	g.seq++
	return fmt.Sprintf("%s-run-%d", prefix, g.seq), nil
}

func (g *fakeGateway) SubmitSketchJob(ctx context.Context, prompt string) (string, error) {
	g.mu.Lock()
	g.sketchCalls++
	g.mu.Unlock()
	return g.next("sketch")
}

func (g *fakeGateway) SubmitModelJob(ctx context.Context, imageURL string) (string, error) {
	g.mu.Lock()
	g.modelCalls++
	g.mu.Unlock()
	return g.next("model")
}

type recordingPublisher struct {
	mu     sync.Mutex
	events []events.Event
}

func (p *recordingPublisher) Publish(ctx context.Context, e events.Event) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, e)
	return nil
}

func (p *recordingPublisher) Close() error { return nil }

func (p *recordingPublisher) count(eventType string) int {
	p.mu.Lock()
	defer p.mu.Unlock()
	n := 0
	for _, e := range p.events {
		if e.Type == eventType {
			n++
		}
	}
	return n
}

type fakeProvider struct {
	last payment.CheckoutRequest
	err  error
}

func (p *fakeProvider) CreateCheckout(ctx context.Context, req payment.CheckoutRequest) (*payment.CheckoutSession, error) {
	p.last = req
	if p.err != nil {
		return nil, p.err
	}
	return &payment.CheckoutSession{ID: "cs_test", URL: "https://checkout.test/cs_test"}, nil
}

type harness struct {
	store     *repository.Store
	gateway   *fakeGateway
	publisher *recordingPublisher
	provider  *fakeProvider
	metrics   *metrics.Metrics
	gen       *GenerationService
	recon     *ReconcileService
	doodles   *DoodleService
	payments  *PaymentService
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	log := logrus.New()
	log.SetOutput(io.Discard)

	store := repository.NewStore(dbtest.Open(t))
	h := &harness{
		store:     store,
		gateway:   &fakeGateway{},
		publisher: &recordingPublisher{},
		provider:  &fakeProvider{},
		metrics:   metrics.New(prometheus.NewRegistry()),
	}
	genCfg := config.GenerationConfig{ModelCreditCost: testModelCost}
	outputs := PipelineOutputs{
		SketchID:        "sketch",
		SketchImageNode: "image",
		ModelID:         "model",
		ModelNode:       "model",
		ModelPosterNode: "poster",
	}
	h.gen = NewGenerationService(store, h.gateway, h.publisher, h.metrics, log, genCfg)
	h.recon = NewReconcileService(store, outputs, h.publisher, h.metrics, log, genCfg)
	h.doodles = NewDoodleService(store, h.recon)
	h.payments = NewPaymentService(store, h.provider, "test", h.publisher, h.metrics, log)
	return h
}

func (h *harness) grant(t *testing.T, userID string, amount int) {
	t.Helper()
	require.NoError(t, h.store.Credits.Grant(context.Background(), userID, amount))
}

func (h *harness) balance(t *testing.T, userID string) int {
	t.Helper()
	b, err := h.store.Credits.BalanceOf(context.Background(), userID)
	require.NoError(t, err)
	return b
}

func fileOutput(node, url string) string {
	return fmt.Sprintf(`%q:{"status":"completed","output":{"file":{"url":%q,"content_type":"application/octet-stream","filename":"out"}}}`, node, url)
}

func pipelineEvent(t *testing.T, pipelineID, runID, event string, outputs ...string) *pipeline.Event {
	t.Helper()
	body := fmt.Sprintf(`{"event":%q,"pipeline_version_run_id":%q,"pipeline_id":%q,"pipeline_version_id":"v1","status":"done","created_at":"2024-01-01T00:00:00Z","completed_at":"2024-01-01T00:00:30Z","outputs":{`,
		event, runID, pipelineID)
	for i, o := range outputs {
		if i > 0 {
			body += ","
		}
		body += o
	}
	body += "}}"
	ev, err := pipeline.ParseEvent([]byte(body))
	require.NoError(t, err)
	return ev
}
