package server

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net"
	"net/http"
	"strconv"
	"testing"

	"floorline/internal/config"
	"floorline/internal/db"
	"floorline/internal/engine"
	"floorline/internal/migrate"
)

type testServer struct {
	URL    string
	client *http.Client
	close  func()
}

func (s *testServer) Client() *http.Client { return s.client }
func (s *testServer) Close()               { s.close() }

func newTestServer(t *testing.T) (*testServer, func()) {
	t.Helper()
	workspace := t.TempDir()
	cfg := config.Default("shop-1")
	cfg.Auth.AllowLegacyActorHeader = true
	conn, err := db.Open(db.Config{Workspace: workspace})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	if err := migrate.Migrate(conn); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	e := engine.New(conn, cfg)
	if err := e.Repo.SetActorRole(context.Background(), "boss", "manager"); err != nil {
		t.Fatalf("seed manager: %v", err)
	}
	handler, err := New(Config{
		Engine:   e,
		BasePath: "/v1",
		Auth: AuthConfig{
			JWTSecret:              "test-secret",
			AllowLegacyActorHeader: true,
		},
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

func asManager() map[string]string { return map[string]string{"X-Actor-Id": "boss"} }
func asWorker() map[string]string  { return map[string]string{"X-Actor-Id": "w1"} }

func createReleasedJob(t *testing.T, srv *testServer) (string, []string) {
	t.Helper()
	client := srv.Client()
	res, data := doJSON(t, client, http.MethodPost, srv.URL+"/v1/jobs", map[string]any{
		"name": "kitchen order",
		"items": []map[string]any{
			{"name": "cabinet door", "order_qty": 10, "stock_qty": 5},
			{"name": "shelf", "order_qty": 4},
		},
	}, asManager())
	if res.StatusCode != http.StatusCreated {
		t.Fatalf("create job status %d: %s", res.StatusCode, string(data))
	}
	var created JobWithItemsResponse
	if err := json.Unmarshal(data, &created); err != nil {
		t.Fatalf("unmarshal job: %v", err)
	}
	res, data = doJSON(t, client, http.MethodPost, srv.URL+"/v1/jobs/"+created.Job.ID+"/release", nil, asManager())
	if res.StatusCode != http.StatusOK {
		t.Fatalf("release status %d: %s", res.StatusCode, string(data))
	}
	ids := make([]string, 0, len(created.Items))
	for _, it := range created.Items {
		ids = append(ids, it.ID)
	}
	return created.Job.ID, ids
}

func TestCompletionLifecycleOverHTTP(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()
	client := srv.Client()
	jobID, itemIDs := createReleasedJob(t, srv)

	res, data := doJSON(t, client, http.MethodPost, srv.URL+"/v1/jobs/"+jobID+"/items/"+itemIDs[0]+"/start-working", nil, asWorker())
	if res.StatusCode != http.StatusOK {
		t.Fatalf("start-working status %d: %s", res.StatusCode, string(data))
	}

	res, data = doJSON(t, client, http.MethodPost, srv.URL+"/v1/jobs/"+jobID+"/log-completion", map[string]any{
		"hours": 2.5,
		"entries": []map[string]any{
			{"item_id": itemIDs[0], "qty_completed": 12},
		},
	}, asWorker())
	if res.StatusCode != http.StatusCreated {
		t.Fatalf("log-completion status %d: %s", res.StatusCode, string(data))
	}
	var entry WorkLogEntryResponse
	if err := json.Unmarshal(data, &entry); err != nil {
		t.Fatalf("unmarshal entry: %v", err)
	}
	if len(entry.Deltas) != 1 || entry.Deltas[0].OrderCompleted != 10 || entry.Deltas[0].StockCompleted != 2 {
		t.Fatalf("unexpected deltas: %+v", entry.Deltas)
	}

	res, data = doJSON(t, client, http.MethodGet, srv.URL+"/v1/jobs/"+jobID, nil, asWorker())
	if res.StatusCode != http.StatusOK {
		t.Fatalf("snapshot status %d: %s", res.StatusCode, string(data))
	}
	var snap JobSnapshotResponse
	if err := json.Unmarshal(data, &snap); err != nil {
		t.Fatalf("unmarshal snapshot: %v", err)
	}
	if snap.Job.Status != "production_started" {
		t.Fatalf("expected production_started, got %s", snap.Job.Status)
	}
	if len(snap.WorkLog) != 2 {
		t.Fatalf("expected 2 work log entries, got %d", len(snap.WorkLog))
	}

	res, data = doJSON(t, client, http.MethodGet, srv.URL+"/v1/jobs/"+jobID+"/work-log?limit=1", nil, asWorker())
	if res.StatusCode != http.StatusOK {
		t.Fatalf("work-log status %d: %s", res.StatusCode, string(data))
	}
	var page paginatedWorkLog
	if err := json.Unmarshal(data, &page); err != nil {
		t.Fatalf("unmarshal page: %v", err)
	}
	if len(page.Items) != 1 || page.NextCursor == "" {
		t.Fatalf("expected one entry and a cursor, got %+v", page)
	}
	if page.Items[0].Kind != "log_completion" {
		t.Fatalf("expected most recent entry first, got %s", page.Items[0].Kind)
	}
}

func TestValidationAndErrorEnvelope(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()
	client := srv.Client()
	jobID, itemIDs := createReleasedJob(t, srv)

	res, data := doJSON(t, client, http.MethodPost, srv.URL+"/v1/jobs/"+jobID+"/log-completion", map[string]any{
		"entries": []map[string]any{
			{"item_id": itemIDs[0], "qty_completed": -1},
		},
	}, asWorker())
	if res.StatusCode != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d: %s", res.StatusCode, string(data))
	}
	var envelope struct {
		Error struct {
			Code    string `json:"code"`
			Message string `json:"message"`
		} `json:"error"`
	}
	if err := json.Unmarshal(data, &envelope); err != nil {
		t.Fatalf("unmarshal envelope: %v", err)
	}
	if envelope.Error.Code != "bad_request" || envelope.Error.Message == "" {
		t.Fatalf("unexpected envelope: %+v", envelope)
	}

	res, data = doJSON(t, client, http.MethodGet, srv.URL+"/v1/jobs/no-such-job", nil, asWorker())
	if res.StatusCode != http.StatusNotFound {
		t.Fatalf("expected 404, got %d: %s", res.StatusCode, string(data))
	}
}

func TestManagerRequiredForJobCreate(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()

	res, data := doJSON(t, srv.Client(), http.MethodPost, srv.URL+"/v1/jobs", map[string]any{
		"name": "sneaky job",
	}, asWorker())
	if res.StatusCode != http.StatusForbidden {
		t.Fatalf("expected 403, got %d: %s", res.StatusCode, string(data))
	}
}

func TestAuthRequired(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()

	res, _ := doJSON(t, srv.Client(), http.MethodGet, srv.URL+"/v1/jobs", nil, nil)
	if res.StatusCode != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", res.StatusCode)
	}

	res, _ = doJSON(t, srv.Client(), http.MethodGet, srv.URL+"/v1/health", nil, nil)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("health should be open, got %d", res.StatusCode)
	}
}

func TestDevLoginMintsUsableToken(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()
	client := srv.Client()

	res, data := doJSON(t, client, http.MethodPost, srv.URL+"/v1/auth/dev/login", map[string]any{
		"actor_id": "w9",
	}, nil)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("dev login status %d: %s", res.StatusCode, string(data))
	}
	var login DevLoginResponse
	if err := json.Unmarshal(data, &login); err != nil {
		t.Fatalf("unmarshal login: %v", err)
	}
	if login.Token == "" {
		t.Fatalf("expected token")
	}

	res, data = doJSON(t, client, http.MethodGet, srv.URL+"/v1/jobs", nil, map[string]string{
		"Authorization": "Bearer " + login.Token,
	})
	if res.StatusCode != http.StatusOK {
		t.Fatalf("bearer request status %d: %s", res.StatusCode, string(data))
	}
}

func TestAttachPhotoOverHTTP(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()
	client := srv.Client()
	jobID, itemIDs := createReleasedJob(t, srv)

	res, data := doJSON(t, client, http.MethodPost, srv.URL+"/v1/jobs/"+jobID+"/log-completion", map[string]any{
		"entries": []map[string]any{
			{"item_id": itemIDs[1], "qty_completed": 2},
		},
	}, asWorker())
	if res.StatusCode != http.StatusCreated {
		t.Fatalf("log-completion status %d: %s", res.StatusCode, string(data))
	}
	var entry WorkLogEntryResponse
	_ = json.Unmarshal(data, &entry)

	res, data = doJSON(t, client, http.MethodPost, srv.URL+"/v1/work-log/"+itoa(entry.ID)+"/photos", map[string]any{
		"url":     "https://blobs.example/cabinet.jpg",
		"caption": "batch of two",
	}, asWorker())
	if res.StatusCode != http.StatusCreated {
		t.Fatalf("attach photo status %d: %s", res.StatusCode, string(data))
	}

	res, data = doJSON(t, client, http.MethodGet, srv.URL+"/v1/work-log/"+itoa(entry.ID)+"/photos", nil, asWorker())
	if res.StatusCode != http.StatusOK {
		t.Fatalf("list photos status %d: %s", res.StatusCode, string(data))
	}
	var photos []PhotoResponse
	if err := json.Unmarshal(data, &photos); err != nil {
		t.Fatalf("unmarshal photos: %v", err)
	}
	if len(photos) != 1 || photos[0].URL != "https://blobs.example/cabinet.jpg" {
		t.Fatalf("unexpected photos: %+v", photos)
	}
}

func itoa(n int64) string {
	return strconv.FormatInt(n, 10)
}
