package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"doodles/config"
	"doodles/internal/auth"
	"doodles/internal/database/dbtest"
	"doodles/internal/domain"
	"doodles/internal/events"
	"doodles/internal/metrics"
	"doodles/internal/middleware"
	"doodles/internal/models"
	"doodles/internal/repository"
	"doodles/internal/service"
	"doodles/pkg/payment"
	"doodles/pkg/pipeline"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/stripe/stripe-go/v79/webhook"
)

const webhookSecret = "whsec_test"

type stubGateway struct {
	seq int
	err error
}

func (g *stubGateway) SubmitSketchJob(ctx context.Context, prompt string) (string, error) {
	if g.err != nil {
		return "", g.err
	}
	g.seq++
	return fmt.Sprintf("sketch-run-%d", g.seq), nil
}

func (g *stubGateway) SubmitModelJob(ctx context.Context, imageURL string) (string, error) {
	if g.err != nil {
		return "", g.err
	}
	g.seq++
	return fmt.Sprintf("model-run-%d", g.seq), nil
}

type testEnv struct {
	router  *gin.Engine
	store   *repository.Store
	gateway *stubGateway
	jwt     *config.JWTConfig
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	gin.SetMode(gin.TestMode)
	log := logrus.New()
	log.SetOutput(io.Discard)

	store := repository.NewStore(dbtest.Open(t))
	gw := &stubGateway{}
	m := metrics.New(prometheus.NewRegistry())
	pub := events.NopPublisher{}
	genCfg := config.GenerationConfig{ModelCreditCost: 5}
	outputs := service.PipelineOutputs{SketchID: "sketch", SketchImageNode: "image", ModelID: "model", ModelNode: "model", ModelPosterNode: "poster"}

	gen := service.NewGenerationService(store, gw, pub, m, log, genCfg)
	recon := service.NewReconcileService(store, outputs, pub, m, log, genCfg)
	doodles := service.NewDoodleService(store, recon)
	payments := service.NewPaymentService(store, &payment.StubProvider{FrontendURL: "http://localhost:3010"}, "test", pub, m, log)

	jwtCfg := &config.JWTConfig{Secret: "test-secret", Audience: "authenticated"}
	verifier, err := auth.NewVerifier(jwtCfg)
	require.NoError(t, err)

	doodleH := NewDoodleHandler(gen, doodles, log)
	r := gin.New()
	api := r.Group("/api")
	api.GET("/doodles", doodleH.List)
	api.GET("/doodles/:id", doodleH.Get)
	api.GET("/doodles/:id/status", doodleH.Status)
	api.GET("/doodles/:id/similar", doodleH.Similar)
	api.POST("/webhooks/pipeline", NewPipelineWebhookHandler(recon, m, log).Handle)
	api.POST("/webhooks/stripe", NewStripeWebhookHandler(payments, webhookSecret, m, log).Handle)
	authed := api.Group("", middleware.AuthRequired(verifier))
	authed.POST("/doodles", doodleH.Create)
	authed.POST("/doodles/:id/generate-3d", doodleH.Generate3D)
	authed.GET("/user-credits", NewCreditsHandler(payments, log).Get)
	authed.POST("/checkout", NewCheckoutHandler(payments, log).Create)

	return &testEnv{router: r, store: store, gateway: gw, jwt: jwtCfg}
}

func (e *testEnv) do(t *testing.T, method, path, userID string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()
	var rd io.Reader
	if body != nil {
		switch b := body.(type) {
		case string:
			rd = bytes.NewBufferString(b)
		default:
			raw, err := json.Marshal(b)
			require.NoError(t, err)
			rd = bytes.NewReader(raw)
		}
	}
	req := httptest.NewRequest(method, path, rd)
	req.Header.Set("Content-Type", "application/json")
	if userID != "" {
		token, err := auth.GenerateAccessToken(e.jwt, userID, userID+"@example.com", time.Hour)
		require.NoError(t, err)
		req.Header.Set("Authorization", "Bearer "+token)
	}
	w := httptest.NewRecorder()
	e.router.ServeHTTP(w, req)
	return w
}

func decode(t *testing.T, w *httptest.ResponseRecorder) map[string]interface{} {
	t.Helper()
	var out map[string]interface{}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &out))
	return out
}

func (e *testEnv) grant(t *testing.T, userID string, amount int) {
	t.Helper()
	require.NoError(t, e.store.Credits.Grant(context.Background(), userID, amount))
}

func TestCreateDoodle(t *testing.T) {
	env := newTestEnv(t)
	env.grant(t, "user-1", 1)

	w := env.do(t, http.MethodPost, "/api/doodles", "user-1", map[string]string{"prompt": "cat playing guitar"})
	require.Equal(t, http.StatusOK, w.Code)
	id, _ := decode(t, w)["doodleId"].(string)
	assert.NotEmpty(t, id)

	w = env.do(t, http.MethodPost, "/api/doodles", "user-1", map[string]string{"prompt": "again"})
	assert.Equal(t, http.StatusPaymentRequired, w.Code)
}

func TestCreateDoodleErrors(t *testing.T) {
	env := newTestEnv(t)
	env.grant(t, "user-1", 5)

	assert.Equal(t, http.StatusUnauthorized, env.do(t, http.MethodPost, "/api/doodles", "", map[string]string{"prompt": "p"}).Code)
	assert.Equal(t, http.StatusBadRequest, env.do(t, http.MethodPost, "/api/doodles", "user-1", map[string]string{}).Code)
	assert.Equal(t, http.StatusBadRequest, env.do(t, http.MethodPost, "/api/doodles", "user-1", map[string]string{"prompt": ""}).Code)
	assert.Equal(t, http.StatusBadRequest, env.do(t, http.MethodPost, "/api/doodles", "user-1", "{").Code)

	env.gateway.err = &pipeline.GatewayError{StatusCode: 503, Body: "down"}
	w := env.do(t, http.MethodPost, "/api/doodles", "user-1", map[string]string{"prompt": "p"})
	assert.Equal(t, http.StatusBadGateway, w.Code)

	bal, err := env.store.Credits.BalanceOf(context.Background(), "user-1")
	require.NoError(t, err)
	assert.Equal(t, 5, bal)
}

func seedGenerated(t *testing.T, env *testEnv) *models.Doodle {
	t.Helper()
	url := "https://cdn.test/a.png"
	d := &models.Doodle{UserID: "owner", Prompt: "cat", RunID: "r", Status: domain.DoodleStatusGenerated, ImageURL: &url}
	require.NoError(t, env.store.Doodles.Create(context.Background(), d))
	return d
}

func TestGenerate3D(t *testing.T) {
	env := newTestEnv(t)
	d := seedGenerated(t, env)
	env.grant(t, "user-1", 10)

	assert.Equal(t, http.StatusNotFound, env.do(t, http.MethodPost, "/api/doodles/missing/generate-3d", "user-1", nil).Code)

	w := env.do(t, http.MethodPost, "/api/doodles/"+d.ID+"/generate-3d", "user-1", nil)
	require.Equal(t, http.StatusOK, w.Code)
	body := decode(t, w)
	assert.Equal(t, true, body["success"])
	assert.Equal(t, "model-run-1", body["modelRunId"])

	w = env.do(t, http.MethodPost, "/api/doodles/"+d.ID+"/generate-3d", "user-1", nil)
	assert.Equal(t, http.StatusConflict, w.Code)
	assert.Equal(t, "Model already generating", decode(t, w)["error"])
}

func TestGenerate3DInsufficientCredits(t *testing.T) {
	env := newTestEnv(t)
	d := seedGenerated(t, env)

	w := env.do(t, http.MethodPost, "/api/doodles/"+d.ID+"/generate-3d", "user-1", nil)
	assert.Equal(t, http.StatusPaymentRequired, w.Code)
}

func TestStatusAndPipelineWebhook(t *testing.T) {
	env := newTestEnv(t)
	env.grant(t, "user-1", 1)

	w := env.do(t, http.MethodPost, "/api/doodles", "user-1", map[string]string{"prompt": "cat"})
	require.Equal(t, http.StatusOK, w.Code)
	id := decode(t, w)["doodleId"].(string)

	w = env.do(t, http.MethodGet, "/api/doodles/"+id+"/status", "", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, domain.DoodleStatusGenerating, decode(t, w)["status"])

	payload := `{"event":"run.completed","pipeline_version_run_id":"sketch-run-1","pipeline_id":"sketch","pipeline_version_id":"v1","status":"completed","created_at":"c","completed_at":"c",
	  "outputs":{"image":{"output":{"f":{"url":"https://cdn.test/cat.png","content_type":"image/png","filename":"cat.png"}}}}}`
	w = env.do(t, http.MethodPost, "/api/webhooks/pipeline", "", payload)
	require.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"received":true}`, w.Body.String())

	w = env.do(t, http.MethodGet, "/api/doodles/"+id+"/status", "", nil)
	body := decode(t, w)
	assert.Equal(t, domain.DoodleStatusGenerated, body["status"])
	assert.Equal(t, "https://cdn.test/cat.png", body["imageUrl"])
	assert.Nil(t, body["modelStatus"])

	assert.Equal(t, http.StatusNotFound, env.do(t, http.MethodGet, "/api/doodles/nope/status", "", nil).Code)
}

func TestPipelineWebhookRejectsBadPayload(t *testing.T) {
	env := newTestEnv(t)

	w := env.do(t, http.MethodPost, "/api/webhooks/pipeline", "", `{"event":"run.completed"}`)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = env.do(t, http.MethodPost, "/api/webhooks/pipeline", "",
		`{"event":"run.failed","pipeline_version_run_id":"r","pipeline_id":"unknown","pipeline_version_id":"v","status":"s","outputs":{},"created_at":"c","completed_at":"c"}`)
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestListAndGet(t *testing.T) {
	env := newTestEnv(t)
	d := seedGenerated(t, env)

	w := env.do(t, http.MethodGet, "/api/doodles?pageSize=1", "", nil)
	require.Equal(t, http.StatusOK, w.Code)
	body := decode(t, w)
	assert.Len(t, body["doodles"], 1)
	assert.Equal(t, 1.0, body["nextPage"])

	w = env.do(t, http.MethodGet, "/api/doodles", "", nil)
	body = decode(t, w)
	assert.Nil(t, body["nextPage"])

	assert.Equal(t, http.StatusBadRequest, env.do(t, http.MethodGet, "/api/doodles?pageSize=51", "", nil).Code)
	assert.Equal(t, http.StatusBadRequest, env.do(t, http.MethodGet, "/api/doodles?page=-1", "", nil).Code)
	assert.Equal(t, http.StatusBadRequest, env.do(t, http.MethodGet, "/api/doodles?page=x", "", nil).Code)

	w = env.do(t, http.MethodGet, "/api/doodles/"+d.ID, "", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, d.ID, decode(t, w)["id"])
	assert.NotContains(t, w.Body.String(), "modelRequestedBy")
}

func TestUserCredits(t *testing.T) {
	env := newTestEnv(t)
	env.grant(t, "user-1", 4)

	w := env.do(t, http.MethodGet, "/api/user-credits", "user-1", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"balance":4,"hasPurchased":false}`, w.Body.String())

	assert.Equal(t, http.StatusUnauthorized, env.do(t, http.MethodGet, "/api/user-credits", "", nil).Code)
}

func TestCheckout(t *testing.T) {
	env := newTestEnv(t)

	w := env.do(t, http.MethodPost, "/api/checkout", "user-1", map[string]string{"priceId": "price_test_pro", "prompt": "a cat"})
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "http://localhost:3010/?purchase=success&prompt=a+cat", decode(t, w)["url"])

	assert.Equal(t, http.StatusBadRequest, env.do(t, http.MethodPost, "/api/checkout", "user-1", map[string]string{"priceId": "price_nope"}).Code)
	assert.Equal(t, http.StatusBadRequest, env.do(t, http.MethodPost, "/api/checkout", "user-1", map[string]string{}).Code)
}

func stripeRequest(t *testing.T, env *testEnv, payload, secret string) *httptest.ResponseRecorder {
	t.Helper()
	sp := webhook.GenerateTestSignedPayload(&webhook.UnsignedPayload{
		Payload:   []byte(payload),
		Secret:    secret,
		Timestamp: time.Now(),
	})
	req := httptest.NewRequest(http.MethodPost, "/api/webhooks/stripe", bytes.NewReader(sp.Payload))
	req.Header.Set("Stripe-Signature", sp.Header)
	w := httptest.NewRecorder()
	env.router.ServeHTTP(w, req)
	return w
}

func TestStripeWebhookGrantsOnce(t *testing.T) {
	env := newTestEnv(t)
	payload := `{"id":"evt_1","object":"event","type":"checkout.session.completed",
	  "data":{"object":{"id":"cs_123","object":"checkout.session","metadata":{"userId":"user-1","credits":"30","amountCents":"500"}}}}`

	for i := 0; i < 2; i++ {
		w := stripeRequest(t, env, payload, webhookSecret)
		require.Equal(t, http.StatusOK, w.Code)
		assert.JSONEq(t, `{"received":true}`, w.Body.String())
	}

	bal, err := env.store.Credits.BalanceOf(context.Background(), "user-1")
	require.NoError(t, err)
	assert.Equal(t, 30, bal)
}

func TestStripeWebhookRejections(t *testing.T) {
	env := newTestEnv(t)
	payload := `{"id":"evt_1","object":"event","type":"checkout.session.completed","data":{"object":{"id":"cs_1","metadata":{"userId":"u","credits":"x","amountCents":"1"}}}}`

	assert.Equal(t, http.StatusBadRequest, stripeRequest(t, env, payload, "whsec_wrong").Code)
	assert.Equal(t, http.StatusBadRequest, stripeRequest(t, env, payload, webhookSecret).Code)

	req := httptest.NewRequest(http.MethodPost, "/api/webhooks/stripe", bytes.NewBufferString(payload))
	w := httptest.NewRecorder()
	env.router.ServeHTTP(w, req)
	assert.Equal(t, http.StatusBadRequest, w.Code, "missing signature header")

	zero := `{"id":"evt_3","object":"event","type":"checkout.session.completed","data":{"object":{"id":"cs_3","metadata":{"userId":"u","credits":"0","amountCents":"0"}}}}`
	assert.Equal(t, http.StatusOK, stripeRequest(t, env, zero, webhookSecret).Code, "acknowledged so Stripe stops redelivering")

	ignored := `{"id":"evt_2","object":"event","type":"checkout.session.completed","data":{"object":{"id":"cs_2","metadata":{}}}}`
	assert.Equal(t, http.StatusOK, stripeRequest(t, env, ignored, webhookSecret).Code)
}

func TestStripeWebhookWithoutSecret(t *testing.T) {
	gin.SetMode(gin.TestMode)
	log := logrus.New()
	log.SetOutput(io.Discard)
	h := NewStripeWebhookHandler(nil, "", metrics.New(prometheus.NewRegistry()), log)

	r := gin.New()
	r.POST("/hook", h.Handle)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/hook", bytes.NewBufferString("{}")))
	assert.Equal(t, http.StatusInternalServerError, w.Code)
}

func TestSimilarDoodles(t *testing.T) {
	env := newTestEnv(t)
	d := seedGenerated(t, env)
	other := seedGenerated(t, env)

	w := env.do(t, http.MethodGet, "/api/doodles/"+d.ID+"/similar", "", nil)
	require.Equal(t, http.StatusOK, w.Code)
	list := decode(t, w)["doodles"].([]interface{})
	require.Len(t, list, 1)
	assert.Equal(t, other.ID, list[0].(map[string]interface{})["id"])

	assert.Equal(t, http.StatusNotFound, env.do(t, http.MethodGet, "/api/doodles/missing/similar", "", nil).Code)
}
