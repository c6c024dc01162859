package server

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net"
	"net/http"
	"strings"
	"testing"
	"time"

	"stratline/internal/config"
	"stratline/internal/db"
	"stratline/internal/engine"
	"stratline/internal/engine/auth"
	"stratline/internal/migrate"
)

const testSecret = "test-secret"

type testServer struct {
	URL    string
	Engine engine.Engine
	client *http.Client
	close  func()
}

func (s *testServer) Client() *http.Client { return s.client }
func (s *testServer) Close()               { s.close() }

func newTestServer(t *testing.T) (*testServer, func()) {
	t.Helper()
	workspace := t.TempDir()
	conn, err := db.Open(db.Config{Workspace: workspace})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	if err := migrate.Migrate(conn); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	e := engine.New(conn, config.Default(), nil)
	handler, err := New(Config{
		Engine:   e,
		BasePath: "/v0",
		Auth:     AuthConfig{JWTSecret: testSecret, AllowActorHeader: true},
	})
	if err != nil {
		t.Fatalf("build handler: %v", err)
	}
	ln, err := net.Listen("tcp4", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	srv := &http.Server{Handler: handler}
	go srv.Serve(ln)
	testSrv := &testServer{
		URL:    "http://" + ln.Addr().String(),
		Engine: e,
		client: &http.Client{},
		close: func() {
			srv.Shutdown(context.Background())
			ln.Close()
			conn.Close()
		},
	}
	return testSrv, func() { testSrv.Close() }
}

func doJSON(t *testing.T, client *http.Client, method, url string, body any, headers map[string]string) (*http.Response, []byte) {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("marshal body: %v", err)
		}
		reader = bytes.NewReader(b)
	} else {
		reader = bytes.NewReader(nil)
	}
	req, err := http.NewRequest(method, url, reader)
	if err != nil {
		t.Fatalf("new request: %v", err)
	}
	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	res, err := client.Do(req)
	if err != nil {
		t.Fatalf("do request: %v", err)
	}
	defer res.Body.Close()
	data, err := io.ReadAll(res.Body)
	if err != nil {
		t.Fatalf("read body: %v", err)
	}
	return res, data
}

var asTester = map[string]string{"X-Actor-Id": "tester"}

func rsiBody(name string) map[string]any {
	return map[string]any{
		"name":     name,
		"schedule": "5m",
		"assets":   []string{"BTC"},
		"conditions": []map[string]any{{
			"id":   "c1",
			"type": "technical_indicator",
			"payload": map[string]any{
				"indicator": "RSI", "operator": "lt", "value": 30, "timeframe": "1h", "asset": "BTC",
			},
		}},
		"logic_tree": map[string]any{
			"operator":   "AND",
			"conditions": []map[string]any{{"ref": "c1"}},
		},
	}
}

func errorCode(t *testing.T, data []byte) string {
	t.Helper()
	var env struct {
		Error struct {
			Code string `json:"code"`
		} `json:"error"`
	}
	if err := json.Unmarshal(data, &env); err != nil {
		t.Fatalf("unmarshal error envelope: %v (%s)", err, data)
	}
	return env.Error.Code
}

func TestStrategyLifecycle(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()
	client := srv.Client()

	res, data := doJSON(t, client, http.MethodPost, srv.URL+"/v0/strategies", rsiBody("Oversold"), asTester)
	if res.StatusCode != http.StatusCreated {
		t.Fatalf("create status %d: %s", res.StatusCode, data)
	}
	var created StrategyResponse
	if err := json.Unmarshal(data, &created); err != nil {
		t.Fatalf("unmarshal strategy: %v", err)
	}
	if created.ID == "" || created.Status != "paused" || created.CreatedBy != "tester" {
		t.Fatalf("unexpected created strategy %+v", created)
	}
	if link := res.Header.Get("Link"); !strings.Contains(link, `StrategyResponse.json>; rel="describedBy"`) {
		t.Fatalf("strategy response lacks schema link, got %q", link)
	}
	base := srv.URL + "/v0/strategies/" + created.ID

	res, data = doJSON(t, client, http.MethodGet, base, nil, asTester)
	if res.StatusCode != http.StatusOK || !strings.Contains(string(data), `"ref":"c1"`) {
		t.Fatalf("get status %d: %s", res.StatusCode, data)
	}

	update := rsiBody("Oversold v2")
	res, data = doJSON(t, client, http.MethodPut, base, update, asTester)
	if res.StatusCode != http.StatusOK || !strings.Contains(string(data), "Oversold v2") {
		t.Fatalf("update status %d: %s", res.StatusCode, data)
	}

	res, data = doJSON(t, client, http.MethodPatch, base+"/status", map[string]any{"status": "active"}, asTester)
	if res.StatusCode != http.StatusOK || !strings.Contains(string(data), `"status":"active"`) {
		t.Fatalf("status change %d: %s", res.StatusCode, data)
	}

	res, data = doJSON(t, client, http.MethodGet, srv.URL+"/v0/strategies?status=active", nil, asTester)
	var list StrategyListResponse
	if err := json.Unmarshal(data, &list); err != nil || res.StatusCode != http.StatusOK {
		t.Fatalf("list %d: %s", res.StatusCode, data)
	}
	if len(list.Items) != 1 || list.Items[0].ConditionCount != 1 {
		t.Fatalf("unexpected list %+v", list.Items)
	}

	res, data = doJSON(t, client, http.MethodGet, base+"/graph", nil, asTester)
	var g GraphResponse
	if err := json.Unmarshal(data, &g); err != nil || res.StatusCode != http.StatusOK {
		t.Fatalf("graph %d: %s", res.StatusCode, data)
	}
	if len(g.Nodes) != 2 || len(g.Edges) != 1 || !strings.HasPrefix(g.Mermaid, "graph TD") {
		t.Fatalf("unexpected graph %+v", g)
	}
	if g.Nodes[1].Summary != "RSI lt 30" {
		t.Fatalf("expected condition summary, got %q", g.Nodes[1].Summary)
	}

	res, data = doJSON(t, client, http.MethodGet, base+"/tree", nil, asTester)
	var tree TreeResponse
	if err := json.Unmarshal(data, &tree); err != nil || res.StatusCode != http.StatusOK {
		t.Fatalf("tree %d: %s", res.StatusCode, data)
	}
	if len(tree.Rows) != 2 || tree.Rows[1].Path != "0" || !strings.Contains(tree.Text, "RSI lt 30") {
		t.Fatalf("unexpected tree %+v", tree)
	}

	res, data = doJSON(t, client, http.MethodDelete, base, nil, asTester)
	if res.StatusCode != http.StatusNoContent {
		t.Fatalf("delete %d: %s", res.StatusCode, data)
	}
	res, data = doJSON(t, client, http.MethodGet, base, nil, asTester)
	if res.StatusCode != http.StatusNotFound || errorCode(t, data) != "not_found" {
		t.Fatalf("expected 404 after delete, got %d: %s", res.StatusCode, data)
	}

	res, data = doJSON(t, client, http.MethodGet, srv.URL+"/v0/events?entity_kind=strategy&limit=2", nil, asTester)
	var page paginatedEvents
	if err := json.Unmarshal(data, &page); err != nil || res.StatusCode != http.StatusOK {
		t.Fatalf("events %d: %s", res.StatusCode, data)
	}
	if len(page.Items) != 2 || page.NextCursor == "" || page.Items[0].Type != "strategy.deleted" {
		t.Fatalf("unexpected first event page %+v", page)
	}
	res, data = doJSON(t, client, http.MethodGet, srv.URL+"/v0/events?entity_kind=strategy&limit=2&cursor="+page.NextCursor, nil, asTester)
	var next paginatedEvents
	if err := json.Unmarshal(data, &next); err != nil || res.StatusCode != http.StatusOK {
		t.Fatalf("events page 2 %d: %s", res.StatusCode, data)
	}
	if len(next.Items) != 2 || next.NextCursor != "" || next.Items[1].Type != "strategy.created" {
		t.Fatalf("unexpected second event page %+v", next)
	}
	if _, ok := next.Items[1].Payload["to_status"]; ok {
		t.Fatalf("created event carries a status transition: %+v", next.Items[1].Payload)
	}
	if next.Items[0].ID >= page.Items[1].ID {
		t.Fatalf("second page overlaps the first: %d >= %d", next.Items[0].ID, page.Items[1].ID)
	}
}

func TestCreateStrategyValidationFailure(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()
	body := rsiBody(" ")
	body["logic_tree"] = map[string]any{
		"operator":   "AND",
		"conditions": []map[string]any{{"ref": "c1"}, {"ref": "ghost"}},
	}
	res, data := doJSON(t, srv.Client(), http.MethodPost, srv.URL+"/v0/strategies", body, asTester)
	if res.StatusCode != http.StatusUnprocessableEntity {
		t.Fatalf("expected 422, got %d: %s", res.StatusCode, data)
	}
	if errorCode(t, data) != "validation_failed" {
		t.Fatalf("unexpected error code: %s", data)
	}
	if !strings.Contains(string(data), "dangling_ref") || !strings.Contains(string(data), "name_required") {
		t.Fatalf("expected both problems in details: %s", data)
	}
}

func TestValidateEndpoint(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()
	body := rsiBody("Check")
	body["schedule"] = "7m"
	res, data := doJSON(t, srv.Client(), http.MethodPost, srv.URL+"/v0/strategies/validate", body, asTester)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("validate %d: %s", res.StatusCode, data)
	}
	var out ValidateResponse
	if err := json.Unmarshal(data, &out); err != nil {
		t.Fatal(err)
	}
	if out.Valid || len(out.Errors) != 1 || out.Errors[0].Code != "invalid_schedule" {
		t.Fatalf("unexpected validation result %+v", out)
	}
}

func TestMalformedTreeIsBadRequest(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()
	body := rsiBody("Broken")
	body["logic_tree"] = map[string]any{
		"operator":   "AND",
		"conditions": []map[string]any{{"bogus": true}},
	}
	res, data := doJSON(t, srv.Client(), http.MethodPost, srv.URL+"/v0/strategies", body, asTester)
	if res.StatusCode != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d: %s", res.StatusCode, data)
	}
}

func TestAuthScopes(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()
	client := srv.Client()

	res, _ := doJSON(t, client, http.MethodGet, srv.URL+"/v0/strategies", nil, nil)
	if res.StatusCode != http.StatusUnauthorized {
		t.Fatalf("expected 401 without credentials, got %d", res.StatusCode)
	}
	res, _ = doJSON(t, client, http.MethodGet, srv.URL+"/v0/health", nil, nil)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("health should be open, got %d", res.StatusCode)
	}

	token, err := auth.IssueToken(testSecret, "reader", []string{auth.ScopeRead}, time.Hour, time.Now())
	if err != nil {
		t.Fatal(err)
	}
	bearer := map[string]string{"Authorization": "Bearer " + token}
	res, data := doJSON(t, client, http.MethodGet, srv.URL+"/v0/strategies", nil, bearer)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("reader list %d: %s", res.StatusCode, data)
	}
	res, data = doJSON(t, client, http.MethodPost, srv.URL+"/v0/strategies", rsiBody("Nope"), bearer)
	if res.StatusCode != http.StatusForbidden {
		t.Fatalf("expected 403 for read-only token, got %d: %s", res.StatusCode, data)
	}

	res, _ = doJSON(t, client, http.MethodGet, srv.URL+"/v0/strategies", nil, map[string]string{"Authorization": "Bearer junk"})
	if res.StatusCode != http.StatusUnauthorized {
		t.Fatalf("expected 401 for bad token, got %d", res.StatusCode)
	}

	_, raw, err := srv.Engine.CreateAPIKey(context.Background(), "bot", "ci")
	if err != nil {
		t.Fatal(err)
	}
	res, data = doJSON(t, client, http.MethodGet, srv.URL+"/v0/me", nil, map[string]string{"X-Api-Key": raw})
	if res.StatusCode != http.StatusOK {
		t.Fatalf("me with api key %d: %s", res.StatusCode, data)
	}
	var who WhoAmIResponse
	if err := json.Unmarshal(data, &who); err != nil {
		t.Fatal(err)
	}
	if who.ActorID != "bot" || who.Source != "api_key" || len(who.Scopes) != 2 {
		t.Fatalf("unexpected principal %+v", who)
	}
}
