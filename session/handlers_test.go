package session

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/mrMistryRohit/creditbook-trimplin-sub000/models"
)

func newTestRouter(m *Manager) *gin.Engine {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	Register(r, m, func() bool { return true })
	return r
}

func doJSON(t *testing.T, r http.Handler, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("encode body: %v", err)
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func TestHandlers_RequireSession(t *testing.T) {
	m, _, _, _ := newTestManager(t)
	r := newTestRouter(m)

	if w := doJSON(t, r, http.MethodPost, "/api/sync/now", nil); w.Code != http.StatusConflict {
		t.Fatalf("sync now without session: expected 409, got %d", w.Code)
	}
	if w := doJSON(t, r, http.MethodGet, "/api/sync/runs", nil); w.Code != http.StatusConflict {
		t.Fatalf("history without session: expected 409, got %d", w.Code)
	}
	w := doJSON(t, r, http.MethodGet, "/api/sync/status", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("status: expected 200, got %d", w.Code)
	}
	var status StatusResponse
	if err := json.Unmarshal(w.Body.Bytes(), &status); err != nil {
		t.Fatalf("decode status: %v", err)
	}
	if status.State != "idle" || !status.Online {
		t.Fatalf("unexpected status %+v", status)
	}
}

func TestHandlers_LoginSyncAndHistory(t *testing.T) {
	m, store, _, remote := newTestManager(t)
	r := newTestRouter(m)

	if w := doJSON(t, r, http.MethodPost, "/api/sync/login", LoginRequest{}); w.Code != http.StatusBadRequest {
		t.Fatalf("login without tenant: expected 400, got %d", w.Code)
	}
	if w := doJSON(t, r, http.MethodPost, "/api/sync/login", LoginRequest{Tenant: "user-1"}); w.Code != http.StatusOK {
		t.Fatalf("login: expected 200, got %d %s", w.Code, w.Body.String())
	}

	b := &models.Business{UserId: "user-1", Name: "Corner Shop"}
	if err := store.DB().Create(b).Error; err != nil {
		t.Fatalf("create business: %v", err)
	}
	w := doJSON(t, r, http.MethodPost, "/api/sync/now", nil)
	if w.Code != http.StatusOK && w.Code != http.StatusAccepted {
		t.Fatalf("sync now: unexpected %d", w.Code)
	}
	if w.Code == http.StatusOK && remote.Count(models.TableBusinesses) != 1 {
		t.Fatalf("expected the business to be uploaded")
	}

	if w := doJSON(t, r, http.MethodPost, "/api/sync/queue", QueueRequest{Table: "expenses", LocalId: 1}); w.Code != http.StatusBadRequest {
		t.Fatalf("queue unknown table: expected 400, got %d", w.Code)
	}
	if w := doJSON(t, r, http.MethodPost, "/api/sync/queue", QueueRequest{Table: models.TableBusinesses, LocalId: 9999}); w.Code != http.StatusNotFound {
		t.Fatalf("queue missing row: expected 404, got %d", w.Code)
	}
	if w := doJSON(t, r, http.MethodPost, "/api/sync/business", SwitchBusinessRequest{BusinessId: b.ID}); w.Code != http.StatusOK {
		t.Fatalf("switch business: expected 200, got %d", w.Code)
	}

	w = doJSON(t, r, http.MethodGet, "/api/sync/runs?limit=5", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("history: expected 200, got %d", w.Code)
	}
	var history SyncHistoryResponse
	if err := json.Unmarshal(w.Body.Bytes(), &history); err != nil {
		t.Fatalf("decode history: %v", err)
	}
	if len(history.Items) == 0 {
		t.Fatalf("expected at least the login cycle in history")
	}

	w = doJSON(t, r, http.MethodGet, fmt.Sprintf("/api/sync/runs/%d", history.Items[0].ID), nil)
	if w.Code != http.StatusOK {
		t.Fatalf("run detail: expected 200, got %d", w.Code)
	}
	if w := doJSON(t, r, http.MethodGet, "/api/sync/runs/999999", nil); w.Code != http.StatusNotFound {
		t.Fatalf("missing run: expected 404, got %d", w.Code)
	}

	if w := doJSON(t, r, http.MethodPost, "/api/sync/logout", nil); w.Code != http.StatusOK {
		t.Fatalf("logout: expected 200, got %d", w.Code)
	}
	if m.Current() != nil {
		t.Fatalf("logout must clear the session")
	}
}
