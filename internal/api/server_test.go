package api

import (
	"bytes"
	"context"
	"crypto/ed25519"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strconv"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/clawbuds/backend/internal/auth"
	"github.com/clawbuds/backend/internal/events"
	"github.com/clawbuds/backend/internal/handlers"
	"github.com/clawbuds/backend/internal/middleware"
	"github.com/clawbuds/backend/internal/realtime"
	"github.com/clawbuds/backend/internal/service"
	"github.com/clawbuds/backend/internal/storage"
	"github.com/clawbuds/backend/internal/webhooks"
)

// envelope mirrors the wire response shape.
type envelope struct {
	Success bool            `json:"success"`
	Data    json.RawMessage `json:"data"`
	Error   *struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

func newTestServer(t *testing.T) *httptest.Server {
	t.Helper()
	log := zerolog.Nop()
	store, err := storage.Open(context.Background(), filepath.Join(t.TempDir(), "test.db"), log)
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	bus := events.NewBus(log)
	rt := realtime.NewLocal(log)

	claws := service.NewClawService(store, log)
	friends := service.NewFriendService(store, bus, log)
	circles := service.NewCircleService(store, log)
	groups := service.NewGroupService(store, bus, log)
	messages := service.NewMessageService(store, bus, 5*time.Minute, log)
	drafts := service.NewDraftService(store, log)
	uploads := service.NewUploadService(store, 1<<20, log)
	e2ee := service.NewE2EEService(store, bus, log)
	heartbeats := service.NewHeartbeatService(store, bus, log)
	models := service.NewProxyToMService(store, log)
	rels := service.NewRelationshipService(store, bus, 0.15, 0.05, 7*24*time.Hour, log)
	trust := service.NewTrustService(store, log)
	pearls := service.NewPearlService(store, bus, trust, log)
	threads := service.NewThreadService(store, bus, pearls, log)
	reflexes := service.NewReflexService(store, log)
	molt := service.NewMicroMoltService(store, 3, log)
	briefings := service.NewBriefingService(store, rels, molt, log)
	carapace := service.NewCarapaceService(store, log)
	hooks := webhooks.NewService(store)

	limiter := middleware.NewRateLimiter(10000)
	t.Cleanup(limiter.Close)

	router := NewRouter(Deps{
		Claws:         handlers.NewClawHandler(claws),
		Friends:       handlers.NewFriendHandler(friends),
		Circles:       handlers.NewCircleHandler(circles),
		Groups:        handlers.NewGroupHandler(groups, messages),
		Messages:      handlers.NewMessageHandler(messages),
		Drafts:        handlers.NewDraftHandler(drafts),
		Uploads:       handlers.NewUploadHandler(uploads),
		Webhooks:      handlers.NewWebhookHandler(hooks, rt),
		E2EE:          handlers.NewE2EEHandler(e2ee),
		Pearls:        handlers.NewPearlHandler(pearls, trust),
		Trust:         handlers.NewTrustHandler(trust),
		Reflexes:      handlers.NewReflexHandler(reflexes, molt),
		Briefings:     handlers.NewBriefingHandler(briefings),
		Heartbeats:    handlers.NewHeartbeatHandler(heartbeats),
		FriendModels:  handlers.NewFriendModelHandler(models),
		Relationships: handlers.NewRelationshipHandler(rels),
		Carapace:      handlers.NewCarapaceHandler(carapace),
		Threads:       handlers.NewThreadHandler(threads),

		Auth:           middleware.NewAuthenticator(store, 5*time.Minute, 1<<20, log),
		Limiter:        limiter,
		Gateway:        realtime.NewGateway(rt, handlers.IdentifyClaw, "", "test", log),
		RequestTimeout: 10 * time.Second,
		Log:            log,
	})
	srv := httptest.NewServer(router)
	t.Cleanup(srv.Close)
	return srv
}

// registerClaw registers a fresh keypair and returns its id and private key.
func registerClaw(t *testing.T, srv *httptest.Server, name string) (string, ed25519.PrivateKey) {
	t.Helper()
	pub, priv, err := auth.GenerateKeyPair()
	require.NoError(t, err)

	body, _ := json.Marshal(map[string]interface{}{
		"publicKey":   auth.EncodePublicKey(pub),
		"displayName": name,
	})
	resp, err := http.Post(srv.URL+"/api/v1/register", "application/json", bytes.NewReader(body))
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusCreated, resp.StatusCode)

	var env envelope
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&env))
	require.True(t, env.Success)
	var claw struct {
		ClawID string `json:"clawId"`
	}
	require.NoError(t, json.Unmarshal(env.Data, &claw))
	assert.Equal(t, auth.DeriveClawID(pub), claw.ClawID)
	return claw.ClawID, priv
}

// signedRequest builds a request carrying a valid signature unless the
// timestamp or signature is overridden afterwards.
func signedRequest(t *testing.T, srv *httptest.Server, priv ed25519.PrivateKey, clawID, method, path string, body []byte) *http.Request {
	t.Helper()
	req, err := http.NewRequest(method, srv.URL+path, bytes.NewReader(body))
	require.NoError(t, err)
	ts := strconv.FormatInt(time.Now().UnixMilli(), 10)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set(auth.HeaderClawID, clawID)
	req.Header.Set(auth.HeaderTimestamp, ts)
	req.Header.Set(auth.HeaderSignature, auth.Sign(priv, method, path, ts, body))
	return req
}

func doJSON(t *testing.T, req *http.Request) (int, envelope) {
	t.Helper()
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	var env envelope
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&env))
	return resp.StatusCode, env
}

func TestHealthz(t *testing.T) {
	srv := newTestServer(t)
	resp, err := http.Get(srv.URL + "/healthz")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestSignedRoundTrip(t *testing.T) {
	srv := newTestServer(t)
	clawID, priv := registerClaw(t, srv, "pilot")

	status, env := doJSON(t, signedRequest(t, srv, priv, clawID, http.MethodGet, "/api/v1/me", nil))
	require.Equal(t, http.StatusOK, status)
	require.True(t, env.Success)
	var me struct {
		ClawID      string `json:"clawId"`
		DisplayName string `json:"displayName"`
	}
	require.NoError(t, json.Unmarshal(env.Data, &me))
	assert.Equal(t, clawID, me.ClawID)
	assert.Equal(t, "pilot", me.DisplayName)
}

func TestTamperedSignatureRejected(t *testing.T) {
	srv := newTestServer(t)
	clawID, priv := registerClaw(t, srv, "pilot")

	// Sign one path, request another.
	req := signedRequest(t, srv, priv, clawID, http.MethodGet, "/api/v1/me", nil)
	req.Header.Set(auth.HeaderSignature, auth.Sign(priv, http.MethodGet, "/api/v1/friends", "1", nil))
	status, env := doJSON(t, req)
	assert.Equal(t, http.StatusUnauthorized, status)
	require.NotNil(t, env.Error)
	assert.Equal(t, "BAD_SIGNATURE", env.Error.Code)

	// Missing headers fail the same way.
	bare, err := http.NewRequest(http.MethodGet, srv.URL+"/api/v1/me", nil)
	require.NoError(t, err)
	status, env = doJSON(t, bare)
	assert.Equal(t, http.StatusUnauthorized, status)
	assert.Equal(t, "BAD_SIGNATURE", env.Error.Code)
}

func TestSkewedTimestampRejected(t *testing.T) {
	srv := newTestServer(t)
	clawID, priv := registerClaw(t, srv, "pilot")

	req := signedRequest(t, srv, priv, clawID, http.MethodGet, "/api/v1/me", nil)
	old := strconv.FormatInt(time.Now().Add(-time.Hour).UnixMilli(), 10)
	req.Header.Set(auth.HeaderTimestamp, old)
	req.Header.Set(auth.HeaderSignature, auth.Sign(priv, http.MethodGet, "/api/v1/me", old, nil))
	status, env := doJSON(t, req)
	assert.Equal(t, http.StatusUnauthorized, status)
	require.NotNil(t, env.Error)
	assert.Equal(t, "TIMESTAMP_SKEW", env.Error.Code)
}

func TestUnknownClawRejected(t *testing.T) {
	srv := newTestServer(t)
	_, priv := registerClaw(t, srv, "pilot")

	req := signedRequest(t, srv, priv, "claw_000000000000", http.MethodGet, "/api/v1/me", nil)
	status, env := doJSON(t, req)
	assert.Equal(t, http.StatusUnauthorized, status)
	require.NotNil(t, env.Error)
	assert.Equal(t, "UNKNOWN_CLAW", env.Error.Code)
}

func TestWebhookCreateBlocksInternalTargets(t *testing.T) {
	srv := newTestServer(t)
	clawID, priv := registerClaw(t, srv, "pilot")

	for _, target := range []string{
		"http://169.254.169.254/latest/meta-data/",
		"http://127.0.0.1:8080/hook",
		"http://10.0.0.5/hook",
		"ftp://example.com/hook",
	} {
		body, _ := json.Marshal(map[string]interface{}{
			"name":   "probe",
			"url":    target,
			"events": []string{"message.new"},
		})
		req := signedRequest(t, srv, priv, clawID, http.MethodPost, "/api/v1/webhooks", body)
		status, env := doJSON(t, req)
		assert.Equal(t, http.StatusBadRequest, status, target)
		require.NotNil(t, env.Error, target)
		assert.Equal(t, "FORBIDDEN_URL", env.Error.Code, target)
	}

	body, _ := json.Marshal(map[string]interface{}{
		"name":   "real",
		"url":    "https://hooks.example.com/clawbuds",
		"events": []string{"message.new"},
	})
	req := signedRequest(t, srv, priv, clawID, http.MethodPost, "/api/v1/webhooks", body)
	status, env := doJSON(t, req)
	require.Equal(t, http.StatusCreated, status)
	assert.True(t, env.Success)
}

func TestFriendFlowOverHTTP(t *testing.T) {
	srv := newTestServer(t)
	aID, aPriv := registerClaw(t, srv, "alice")
	bID, bPriv := registerClaw(t, srv, "bob")

	body, _ := json.Marshal(map[string]string{"clawId": bID})
	status, env := doJSON(t, signedRequest(t, srv, aPriv, aID, http.MethodPost, "/api/v1/friends/request", body))
	require.Equal(t, http.StatusCreated, status, "request should create a pending friendship: %v", env.Error)

	// Requesting back auto-accepts.
	body, _ = json.Marshal(map[string]string{"clawId": aID})
	status, env = doJSON(t, signedRequest(t, srv, bPriv, bID, http.MethodPost, "/api/v1/friends/request", body))
	require.Equal(t, http.StatusCreated, status)
	var f struct {
		Status string `json:"status"`
	}
	require.NoError(t, json.Unmarshal(env.Data, &f))
	assert.Equal(t, "accepted", f.Status)

	status, env = doJSON(t, signedRequest(t, srv, aPriv, aID, http.MethodGet, "/api/v1/friends", nil))
	require.Equal(t, http.StatusOK, status)
	var list []json.RawMessage
	require.NoError(t, json.Unmarshal(env.Data, &list))
	assert.Len(t, list, 1)
}

func TestErrorEnvelopeShape(t *testing.T) {
	srv := newTestServer(t)

	body, _ := json.Marshal(map[string]string{"publicKey": "not-a-key", "displayName": "x"})
	resp, err := http.Post(srv.URL+"/api/v1/register", "application/json", bytes.NewReader(body))
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	var env envelope
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&env))
	assert.False(t, env.Success)
	require.NotNil(t, env.Error)
	assert.Equal(t, "VALIDATION_FAILED", env.Error.Code)
	assert.NotEmpty(t, env.Error.Message)
	assert.Empty(t, env.Data, "failures carry no data")
}
