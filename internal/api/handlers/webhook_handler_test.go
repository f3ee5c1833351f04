package handlers

import (
	"bytes"
	"context"
	"database/sql"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/julienschmidt/httprouter"
	_ "github.com/mattn/go-sqlite3"
	"github.com/rs/zerolog"

	apiContext "mailflow/internal/api/context"
	"mailflow/internal/engine/webhooks"
	"mailflow/internal/platform/config"
	"mailflow/internal/platform/database"
	"mailflow/internal/platform/repositories"
)

const eventTableSchema = `
CREATE TABLE webhook_events (
	id TEXT PRIMARY KEY,
	dedup_key TEXT NOT NULL UNIQUE,
	provider TEXT NOT NULL,
	object_type TEXT NOT NULL,
	object_id TEXT NOT NULL,
	action TEXT NOT NULL,
	actor_id TEXT,
	recipient TEXT,
	description TEXT,
	event_time INTEGER NOT NULL,
	raw_current TEXT,
	raw_previous TEXT,
	status TEXT NOT NULL DEFAULT 'pending',
	retry_count INTEGER NOT NULL DEFAULT 0,
	next_retry_at INTEGER,
	last_error TEXT,
	created_at INTEGER NOT NULL,
	updated_at INTEGER NOT NULL
);
CREATE TABLE webhook_status (
	provider TEXT PRIMARY KEY,
	last_event_at INTEGER,
	last_error_at INTEGER,
	last_error TEXT,
	consecutive_failures INTEGER NOT NULL DEFAULT 0,
	healthy INTEGER NOT NULL DEFAULT 1,
	updated_at INTEGER NOT NULL
);
CREATE TABLE sync_queue (
	id TEXT PRIMARY KEY,
	provider TEXT NOT NULL,
	operation TEXT NOT NULL,
	payload TEXT,
	status TEXT NOT NULL DEFAULT 'pending',
	attempts INTEGER NOT NULL DEFAULT 0,
	last_error TEXT,
	created_at INTEGER NOT NULL,
	processed_at INTEGER
);
`

type webhookFixture struct {
	handler  *WebhookHandler
	mock     sqlmock.Sqlmock
	tenantDB *sql.DB
	path     string
}

func setupWebhookHandler(t *testing.T) *webhookFixture {
	t.Helper()

	globalDB, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("Failed to open sqlmock: %v", err)
	}
	t.Cleanup(func() { globalDB.Close() })

	path := filepath.Join(t.TempDir(), "ws_1.db")
	tenantDB, err := sql.Open("sqlite3", path)
	if err != nil {
		t.Fatalf("Failed to open tenant db: %v", err)
	}
	t.Cleanup(func() { tenantDB.Close() })
	if _, err := tenantDB.Exec(eventTableSchema); err != nil {
		t.Fatalf("Failed to create tenant schema: %v", err)
	}

	pool := database.NewTenantDBPool(config.TenantDBConfig{MaxConnectionsPerWorkspace: 2})
	t.Cleanup(pool.CloseAll)

	validator, err := webhooks.NewValidator()
	if err != nil {
		t.Fatalf("Failed to build validator: %v", err)
	}

	handler := NewWebhookHandler(
		repositories.NewWorkspaceRepository(globalDB),
		repositories.NewSigningKeyRepository(globalDB),
		pool,
		validator,
		webhooks.NewNormalizer(zerolog.Nop()),
		zerolog.Nop(),
	)

	return &webhookFixture{handler: handler, mock: mock, tenantDB: tenantDB, path: path}
}

func (fx *webhookFixture) expectSecret(secret string) {
	fx.mock.ExpectQuery("SELECT secret FROM webhook_signing_keys").
		WithArgs("ws_1", "pipedrive").
		WillReturnRows(sqlmock.NewRows([]string{"secret"}).AddRow(secret))
}

func (fx *webhookFixture) expectWorkspace() {
	rows := sqlmock.NewRows([]string{"id", "slug", "name", "plan_tier", "db_file_path", "created_at", "updated_at", "deleted_at"}).
		AddRow("ws_1", "acme", "Acme", "pro", fx.path, 1234567890, 1234567890, nil)
	fx.mock.ExpectQuery("SELECT (.+) FROM workspaces WHERE id = ?").
		WithArgs("ws_1").
		WillReturnRows(rows)
}

func webhookRequest(t *testing.T, body []byte, configure func(*http.Request)) *http.Request {
	t.Helper()
	req, err := http.NewRequest("POST", "/integrations/pipedrive/webhooks?workspace_id=ws_1", bytes.NewReader(body))
	if err != nil {
		t.Fatalf("Failed to build request: %v", err)
	}
	params := httprouter.Params{{Key: "provider", Value: "pipedrive"}}
	req = req.WithContext(context.WithValue(req.Context(), apiContext.Params, params))
	if configure != nil {
		configure(req)
	}
	return req
}

const validPipedriveBody = `{"meta": {"action": "updated", "object": "deal", "id": 42, "timestamp_micro": "1735689600123456"}, "current": {"status": "won"}}`

func TestWebhookHandlerReceive(t *testing.T) {
	fx := setupWebhookHandler(t)
	body := []byte(validPipedriveBody)

	fx.expectSecret("shared-secret")
	fx.expectWorkspace()

	req := webhookRequest(t, body, func(r *http.Request) {
		r.Header.Set("x-pipedrive-signature", webhooks.Sign("shared-secret", body))
	})
	rec := httptest.NewRecorder()
	fx.handler.Receive(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("Expected 200, got %d: %s", rec.Code, rec.Body.String())
	}

	var resp struct {
		Status    string `json:"status"`
		EventID   string `json:"event_id"`
		Duplicate bool   `json:"duplicate"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("Response is not JSON: %v", err)
	}
	if resp.Status != "accepted" || resp.EventID == "" || resp.Duplicate {
		t.Errorf("Unexpected response %+v", resp)
	}

	ev, err := webhooks.NewEventRepository(fx.tenantDB).GetByID(resp.EventID)
	if err != nil || ev == nil {
		t.Fatalf("Expected a stored event, got %v (%v)", ev, err)
	}
	if ev.Status != webhooks.StatusPending {
		t.Errorf("Stored event should await the sweeper, got %s", ev.Status)
	}

	st, _ := webhooks.NewStatusRepository(fx.tenantDB).Get("pipedrive")
	if st == nil || !st.Healthy {
		t.Errorf("Expected a healthy status row, got %+v", st)
	}

	// a stored CRM event also queues a sync refresh
	var op, syncStatus string
	err = fx.tenantDB.QueryRow(`SELECT operation, status FROM sync_queue WHERE provider = 'pipedrive'`).Scan(&op, &syncStatus)
	if err != nil {
		t.Fatalf("Expected an enqueued sync item: %v", err)
	}
	if op != "object_refresh" || syncStatus != "pending" {
		t.Errorf("Unexpected sync item %s/%s", op, syncStatus)
	}
}

func TestWebhookHandlerReceiveDuplicate(t *testing.T) {
	fx := setupWebhookHandler(t)
	body := []byte(validPipedriveBody)
	sig := webhooks.Sign("shared-secret", body)

	for i := 0; i < 2; i++ {
		fx.expectSecret("shared-secret")
		fx.expectWorkspace()
	}

	rec := httptest.NewRecorder()
	fx.handler.Receive(rec, webhookRequest(t, body, func(r *http.Request) {
		r.Header.Set("x-pipedrive-signature", sig)
	}))
	if rec.Code != http.StatusOK {
		t.Fatalf("First delivery failed: %d", rec.Code)
	}

	rec = httptest.NewRecorder()
	fx.handler.Receive(rec, webhookRequest(t, body, func(r *http.Request) {
		r.Header.Set("x-pipedrive-signature", sig)
	}))
	if rec.Code != http.StatusOK {
		t.Fatalf("Redelivery must succeed, got %d", rec.Code)
	}

	var resp struct {
		Duplicate bool `json:"duplicate"`
	}
	json.Unmarshal(rec.Body.Bytes(), &resp)
	if !resp.Duplicate {
		t.Error("Redelivery should be flagged duplicate")
	}

	var count int
	fx.tenantDB.QueryRow(`SELECT COUNT(*) FROM webhook_events`).Scan(&count)
	if count != 1 {
		t.Errorf("Expected a single stored event, got %d", count)
	}

	fx.tenantDB.QueryRow(`SELECT COUNT(*) FROM sync_queue`).Scan(&count)
	if count != 1 {
		t.Errorf("Redelivery must not enqueue a second sync item, got %d", count)
	}
}

func TestWebhookHandlerReceiveBadSignature(t *testing.T) {
	fx := setupWebhookHandler(t)
	body := []byte(validPipedriveBody)

	fx.expectSecret("shared-secret")

	rec := httptest.NewRecorder()
	fx.handler.Receive(rec, webhookRequest(t, body, func(r *http.Request) {
		r.Header.Set("x-pipedrive-signature", webhooks.Sign("wrong-secret", body))
	}))

	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("Expected 401, got %d", rec.Code)
	}

	// rejection happens before any tenant state is touched
	var count int
	fx.tenantDB.QueryRow(`SELECT COUNT(*) FROM webhook_events`).Scan(&count)
	if count != 0 {
		t.Errorf("Rejected delivery must not store an event, found %d", count)
	}
	fx.tenantDB.QueryRow(`SELECT COUNT(*) FROM webhook_status`).Scan(&count)
	if count != 0 {
		t.Errorf("Rejected delivery must not touch status, found %d", count)
	}
}

func TestWebhookHandlerReceiveMissingSignature(t *testing.T) {
	fx := setupWebhookHandler(t)
	fx.expectSecret("shared-secret")

	rec := httptest.NewRecorder()
	fx.handler.Receive(rec, webhookRequest(t, []byte(validPipedriveBody), nil))

	if rec.Code != http.StatusUnauthorized {
		t.Errorf("Expected 401 without a signature header, got %d", rec.Code)
	}
}

func TestWebhookHandlerReceiveNoActiveKey(t *testing.T) {
	fx := setupWebhookHandler(t)
	body := []byte(validPipedriveBody)

	fx.mock.ExpectQuery("SELECT secret FROM webhook_signing_keys").
		WithArgs("ws_1", "pipedrive").
		WillReturnRows(sqlmock.NewRows([]string{"secret"}))

	rec := httptest.NewRecorder()
	fx.handler.Receive(rec, webhookRequest(t, body, func(r *http.Request) {
		r.Header.Set("x-pipedrive-signature", webhooks.Sign("anything", body))
	}))

	if rec.Code != http.StatusUnauthorized {
		t.Errorf("Expected 401 without an active key, got %d", rec.Code)
	}
}

func TestWebhookHandlerReceiveInvalidPayload(t *testing.T) {
	fx := setupWebhookHandler(t)
	body := []byte(`{"current": {"status": "won"}}`) // no meta

	fx.expectSecret("shared-secret")
	fx.expectWorkspace()

	rec := httptest.NewRecorder()
	fx.handler.Receive(rec, webhookRequest(t, body, func(r *http.Request) {
		r.Header.Set("x-pipedrive-signature", webhooks.Sign("shared-secret", body))
	}))

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("Expected 400, got %d", rec.Code)
	}

	var count int
	fx.tenantDB.QueryRow(`SELECT COUNT(*) FROM webhook_events`).Scan(&count)
	if count != 0 {
		t.Errorf("Invalid payload must not store an event, found %d", count)
	}

	st, _ := webhooks.NewStatusRepository(fx.tenantDB).Get("pipedrive")
	if st == nil || st.Healthy || st.ConsecutiveFailures != 1 {
		t.Errorf("Validation failure should be recorded on status, got %+v", st)
	}
}

func TestWebhookHandlerReceiveUnknownProvider(t *testing.T) {
	fx := setupWebhookHandler(t)

	req, _ := http.NewRequest("POST", "/integrations/salesforce/webhooks?workspace_id=ws_1", bytes.NewReader([]byte(`{}`)))
	params := httprouter.Params{{Key: "provider", Value: "salesforce"}}
	req = req.WithContext(context.WithValue(req.Context(), apiContext.Params, params))

	rec := httptest.NewRecorder()
	fx.handler.Receive(rec, req)

	if rec.Code != http.StatusNotFound {
		t.Errorf("Expected 404, got %d", rec.Code)
	}
}

func TestWebhookHandlerReceiveMissingWorkspace(t *testing.T) {
	fx := setupWebhookHandler(t)

	req, _ := http.NewRequest("POST", "/integrations/pipedrive/webhooks", bytes.NewReader([]byte(validPipedriveBody)))
	params := httprouter.Params{{Key: "provider", Value: "pipedrive"}}
	req = req.WithContext(context.WithValue(req.Context(), apiContext.Params, params))

	rec := httptest.NewRecorder()
	fx.handler.Receive(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Errorf("Expected 400 without workspace_id, got %d", rec.Code)
	}
}

func TestWebhookHandlerHealthLiveness(t *testing.T) {
	fx := setupWebhookHandler(t)

	req, _ := http.NewRequest("GET", "/integrations/pipedrive/webhooks", nil)
	params := httprouter.Params{{Key: "provider", Value: "pipedrive"}}
	req = req.WithContext(context.WithValue(req.Context(), apiContext.Params, params))

	rec := httptest.NewRecorder()
	fx.handler.Health(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("Expected 200, got %d", rec.Code)
	}
	var resp map[string]string
	json.Unmarshal(rec.Body.Bytes(), &resp)
	if resp["status"] != "healthy" {
		t.Errorf("Expected liveness body, got %v", resp)
	}
}
