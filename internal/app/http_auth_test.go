package app

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"sidequest/api/internal/auth"
	"sidequest/api/internal/store"
)

func issueTestToken(t *testing.T, admin, contentOps bool) string {
	t.Helper()
	token, err := auth.IssueToken([]byte("test-secret"), auth.Claims{
		Sub:        "usr_test",
		Name:       "casey",
		Admin:      admin,
		ContentOps: contentOps,
		JTI:        "jti_test",
		Exp:        time.Now().Add(time.Hour).Unix(),
	})
	if err != nil {
		t.Fatalf("issue token: %v", err)
	}
	return token
}

func newTestHTTPServer(st *fakeStore) *HTTPServer {
	return NewHTTPServer(newTestService(st, nil), "*")
}

func doRequest(t *testing.T, server *HTTPServer, method, path, token string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("encode body: %v", err)
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	recorder := httptest.NewRecorder()
	server.Handler().ServeHTTP(recorder, req)
	return recorder
}

func TestQuestsRequireSession(t *testing.T) {
	server := newTestHTTPServer(&fakeStore{})
	resp := doRequest(t, server, http.MethodGet, "/api/quests", "", nil)
	if resp.Code != http.StatusUnauthorized {
		t.Fatalf("status = %d, want 401", resp.Code)
	}
}

func TestWriteRequiresAdminGradeClaim(t *testing.T) {
	server := newTestHTTPServer(&fakeStore{})
	token := issueTestToken(t, false, false)

	resp := doRequest(t, server, http.MethodPost, "/api/quests", token, map[string]any{
		"questId": "morning-run",
		"domain":  "fitness", "archetype": "daily",
		"title": "Morning run", "description": "Run", "xpReward": 50, "weight": 10,
	})
	if resp.Code != http.StatusForbidden {
		t.Fatalf("status = %d, want 403", resp.Code)
	}
}

func TestReadAllowedForPlainSession(t *testing.T) {
	server := newTestHTTPServer(&fakeStore{})
	token := issueTestToken(t, false, false)

	resp := doRequest(t, server, http.MethodGet, "/api/quests", token, nil)
	if resp.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200: %s", resp.Code, resp.Body.String())
	}
}

func TestContentOpsCanWrite(t *testing.T) {
	server := newTestHTTPServer(&fakeStore{})
	token := issueTestToken(t, false, true)

	resp := doRequest(t, server, http.MethodPost, "/api/quests", token, map[string]any{
		"questId": "morning-run",
		"domain":  "fitness", "archetype": "daily",
		"title": "Morning run", "description": "Run for twenty minutes", "xpReward": 50, "weight": 10,
	})
	if resp.Code != http.StatusCreated {
		t.Fatalf("status = %d, want 201: %s", resp.Code, resp.Body.String())
	}

	var body map[string]any
	if err := json.Unmarshal(resp.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode body: %v", err)
	}
	if body["sQuestVersion"] != "1" {
		t.Fatalf("sQuestVersion = %v, want \"1\" on create", body["sQuestVersion"])
	}
	if body["state"] != store.QuestStateDraft {
		t.Fatalf("state = %v, want draft", body["state"])
	}
}

func TestValidationErrorStatus(t *testing.T) {
	server := newTestHTTPServer(&fakeStore{})
	token := issueTestToken(t, true, false)

	resp := doRequest(t, server, http.MethodPost, "/api/quests", token, map[string]any{
		"questId": "morning-run",
		"domain":  "fitness", "archetype": "daily",
		"title": "", "description": "Run", "xpReward": 50, "weight": 10,
	})
	if resp.Code != http.StatusUnprocessableEntity {
		t.Fatalf("status = %d, want 422: %s", resp.Code, resp.Body.String())
	}
	var body map[string]any
	if err := json.Unmarshal(resp.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode body: %v", err)
	}
	if body["code"] != "VALIDATION_ERROR" {
		t.Fatalf("code = %v, want VALIDATION_ERROR", body["code"])
	}
}

func TestRunIngestRequiresSyncToken(t *testing.T) {
	server := newTestHTTPServer(&fakeStore{})

	req := httptest.NewRequest(http.MethodPost, "/api/internal/runs", bytes.NewBufferString(`{"questId":"morning-run","status":"completed"}`))
	recorder := httptest.NewRecorder()
	server.Handler().ServeHTTP(recorder, req)
	if recorder.Code != http.StatusUnauthorized {
		t.Fatalf("status without token = %d, want 401", recorder.Code)
	}

	req = httptest.NewRequest(http.MethodPost, "/api/internal/runs", bytes.NewBufferString(`{"questId":"morning-run","status":"completed"}`))
	req.Header.Set("x-sidequest-sync-token", "test-sync-token")
	recorder = httptest.NewRecorder()
	server.Handler().ServeHTTP(recorder, req)
	if recorder.Code != http.StatusCreated {
		t.Fatalf("status with token = %d, want 201: %s", recorder.Code, recorder.Body.String())
	}
}

func TestExpiredTokenRejected(t *testing.T) {
	token, err := auth.IssueToken([]byte("test-secret"), auth.Claims{
		Sub:  "usr_test",
		Name: "casey",
		JTI:  "jti_test",
		Exp:  time.Now().Add(-time.Minute).Unix(),
	})
	if err != nil {
		t.Fatalf("issue token: %v", err)
	}

	server := newTestHTTPServer(&fakeStore{})
	resp := doRequest(t, server, http.MethodGet, "/api/quests", token, nil)
	if resp.Code != http.StatusUnauthorized {
		t.Fatalf("status = %d, want 401", resp.Code)
	}
}

func TestRevokedTokenRejected(t *testing.T) {
	st := &fakeStore{}
	service := newTestService(st, nil)
	token := issueTestToken(t, true, false)

	if _, err := service.SessionFromToken(context.Background(), token); err != nil {
		t.Fatalf("token should be valid before revocation: %v", err)
	}

	server := NewHTTPServer(newTestService(st, nil), "*")
	server.service.store = &revokedStore{fakeStore: st}

	resp := doRequest(t, server, http.MethodGet, "/api/quests", token, nil)
	if resp.Code != http.StatusUnauthorized {
		t.Fatalf("status = %d, want 401 for revoked token", resp.Code)
	}
}

type revokedStore struct {
	*fakeStore
}

func (r *revokedStore) IsAccessTokenRevoked(context.Context, string) (bool, error) {
	return true, nil
}
