package api

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"igharvest/internal/metrics"
	"igharvest/internal/pipeline"
	"igharvest/internal/session"
	"igharvest/internal/store"
	errs "igharvest/pkg/errors"
	"igharvest/pkg/logger"
	"igharvest/pkg/models"
)

type fakeSession struct {
	mu     sync.Mutex
	status session.Status

	loginErr  error
	codeErr   error
	logoutErr error
	readErr   error
	panicOn   string

	media *models.Media
	items []models.MediaItem

	lookups []string
}

func (f *fakeSession) lookup(username string) {
	f.mu.Lock()
	f.lookups = append(f.lookups, username)
	f.mu.Unlock()
}

func (f *fakeSession) Status() session.Status {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.status
}

func (f *fakeSession) Login(_ context.Context, username, _ string) error {
	if f.loginErr != nil {
		return f.loginErr
	}
	f.mu.Lock()
	f.status = session.Status{State: session.Authenticated, Username: username}
	f.mu.Unlock()
	return nil
}

func (f *fakeSession) SubmitCode(context.Context, string) error {
	if f.codeErr != nil {
		return f.codeErr
	}
	f.mu.Lock()
	f.status = session.Status{State: session.Authenticated, Username: "bob"}
	f.mu.Unlock()
	return nil
}

func (f *fakeSession) Logout(context.Context) error { return f.logoutErr }

func (f *fakeSession) GetProfile(_ context.Context, username string) (*models.Profile, error) {
	f.lookup(username)
	if f.panicOn == "profile" {
		panic("boom")
	}
	if f.readErr != nil {
		return nil, f.readErr
	}
	return &models.Profile{ID: "1", Username: username}, nil
}

func (f *fakeSession) GetPost(_ context.Context, shortcode string) (*models.Post, error) {
	if f.readErr != nil {
		return nil, f.readErr
	}
	return &models.Post{ID: "9", Shortcode: shortcode}, nil
}

func (f *fakeSession) GetPostMedia(context.Context, string) ([]models.MediaItem, error) {
	return f.items, f.readErr
}

func (f *fakeSession) GetPostMediaBytes(_ context.Context, _ string, index int) (*models.Media, error) {
	return f.mediaAt(index)
}

func (f *fakeSession) GetStories(_ context.Context, username string) ([]models.MediaItem, error) {
	f.lookup(username)
	return f.items, f.readErr
}

func (f *fakeSession) GetStoryMedia(_ context.Context, username string, index int) (*models.Media, error) {
	f.lookup(username)
	return f.mediaAt(index)
}

func (f *fakeSession) mediaAt(index int) (*models.Media, error) {
	if f.readErr != nil {
		return nil, f.readErr
	}
	if index < 1 || index > 1 {
		return nil, errs.ErrIndexOutOfRange
	}
	return f.media, nil
}

type fakeProducts struct {
	filter store.ProductFilter
	err    error
}

func (f *fakeProducts) ListProducts(_ context.Context, filter store.ProductFilter) ([]models.Product, error) {
	f.filter = filter
	if f.err != nil {
		return nil, f.err
	}
	return []models.Product{{ID: "p1", Title: "Lipstick", SourceKind: models.SourceStory, SourceID: "alice:1"}}, nil
}

func (f *fakeProducts) CountProducts(context.Context) (int, error) {
	return 42, f.err
}

func (f *fakeProducts) GetProduct(_ context.Context, id string) (*models.Product, error) {
	if id != "p1" {
		return nil, errs.New(errs.ErrorTypeNotFound, http.StatusNotFound, "product %s not found", id)
	}
	return &models.Product{ID: "p1", Title: "Lipstick"}, nil
}

type fakeRunner struct {
	mu    sync.Mutex
	runs  int
	block chan struct{}
}

func (f *fakeRunner) RunOnce(context.Context) pipeline.Summary {
	if f.block != nil {
		<-f.block
	}
	f.mu.Lock()
	f.runs++
	f.mu.Unlock()
	return pipeline.Summary{Targets: 2, TargetsOK: 2, ProductsStored: 3}
}

func (f *fakeRunner) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.runs
}

type fakeHealth struct{ err error }

func (f fakeHealth) Ping(context.Context) error { return f.err }

type testServer struct {
	sess     *fakeSession
	products *fakeProducts
	runner   *fakeRunner
	jobs     *sync.WaitGroup
	log      *logger.TestLogger
	handler  http.Handler
}

func newTestServer(t *testing.T, mutate func(*Deps)) *testServer {
	t.Helper()
	ts := &testServer{
		sess: &fakeSession{
			media: &models.Media{Content: []byte("jpegdata"), MimeType: "image/jpeg"},
			items: []models.MediaItem{{ID: "m1", Position: 1}},
		},
		products: &fakeProducts{},
		runner:   &fakeRunner{},
		jobs:     &sync.WaitGroup{},
		log:      logger.NewTestLogger(),
	}
	deps := Deps{
		Session:            ts.sess,
		Products:           ts.products,
		Pipeline:           ts.runner,
		Health:             fakeHealth{},
		LoginRatePerMinute: 600,
		LoginBurst:         100,
		Jobs:               ts.jobs,
		Logger:             ts.log,
	}
	if mutate != nil {
		mutate(&deps)
	}
	ts.handler = NewRouter(deps)
	return ts
}

func (ts *testServer) do(method, path, body string) *httptest.ResponseRecorder {
	var req *http.Request
	if body != "" {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	} else {
		req = httptest.NewRequest(method, path, nil)
	}
	rec := httptest.NewRecorder()
	ts.handler.ServeHTTP(rec, req)
	return rec
}

func decodeBody(t *testing.T, rec *httptest.ResponseRecorder) map[string]interface{} {
	t.Helper()
	var body map[string]interface{}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body), rec.Body.String())
	return body
}

func TestLogin(t *testing.T) {
	tests := []struct {
		name       string
		loginErr   error
		body       string
		wantStatus int
		want       map[string]interface{}
	}{
		{
			name:       "success",
			body:       `{"username":"alice","password":"pw"}`,
			wantStatus: http.StatusOK,
			want:       map[string]interface{}{"status": "logged_in", "username": "alice"},
		},
		{
			name:       "two factor required",
			loginErr:   errs.New(errs.ErrorTypeChallenge, http.StatusAccepted, "two-factor code required for bob"),
			body:       `{"username":"bob","password":"pw"}`,
			wantStatus: http.StatusOK,
			want: map[string]interface{}{
				"status": "2fa_required",
				"detail": "Two-factor authentication required. Call /login/2fa with the code.",
			},
		},
		{
			name:       "bad credentials",
			loginErr:   errs.New(errs.ErrorTypeAuth, http.StatusForbidden, "login failed: wrong password"),
			body:       `{"username":"alice","password":"nope"}`,
			wantStatus: http.StatusForbidden,
			want:       map[string]interface{}{"detail": "login failed: wrong password"},
		},
		{
			name:       "malformed body",
			body:       `{"username":`,
			wantStatus: http.StatusBadRequest,
			want:       map[string]interface{}{"detail": "malformed request body"},
		},
		{
			name:       "missing password",
			body:       `{"username":"alice"}`,
			wantStatus: http.StatusBadRequest,
			want:       map[string]interface{}{"detail": "missing required field: Password"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ts := newTestServer(t, nil)
			ts.sess.loginErr = tt.loginErr

			rec := ts.do(http.MethodPost, "/login", tt.body)

			assert.Equal(t, tt.wantStatus, rec.Code)
			assert.Equal(t, tt.want, decodeBody(t, rec))
		})
	}
}

func TestLoginTwoFactor(t *testing.T) {
	tests := []struct {
		name       string
		codeErr    error
		wantStatus int
	}{
		{name: "success", wantStatus: http.StatusOK},
		{name: "no pending challenge", codeErr: errs.ErrNoPendingChallenge, wantStatus: http.StatusBadRequest},
		{name: "wrong code", codeErr: errs.New(errs.ErrorTypeInvalidCode, http.StatusForbidden, "code rejected"), wantStatus: http.StatusForbidden},
		{name: "upstream failure", codeErr: errs.New(errs.ErrorTypeNetwork, 0, "network error"), wantStatus: http.StatusInternalServerError},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ts := newTestServer(t, nil)
			ts.sess.codeErr = tt.codeErr

			rec := ts.do(http.MethodPost, "/login/2fa", `{"code":"123456"}`)

			assert.Equal(t, tt.wantStatus, rec.Code)
			body := decodeBody(t, rec)
			if tt.codeErr == nil {
				assert.Equal(t, "logged_in", body["status"])
				assert.Equal(t, "bob", body["username"])
			} else {
				assert.NotEmpty(t, body["detail"])
			}
		})
	}
}

func TestLogout(t *testing.T) {
	ts := newTestServer(t, nil)
	rec := ts.do(http.MethodPost, "/logout", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "logged_out", decodeBody(t, rec)["status"])

	ts.sess.logoutErr = errs.ErrNotAuthenticated
	rec = ts.do(http.MethodPost, "/logout", "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "not logged in", decodeBody(t, rec)["detail"])
}

func TestLoginStatus(t *testing.T) {
	ts := newTestServer(t, nil)

	rec := ts.do(http.MethodGet, "/login/status", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, map[string]interface{}{"logged_in": false, "state": "anonymous"}, decodeBody(t, rec))

	ts.sess.status = session.Status{State: session.Authenticated, Username: "alice"}
	rec = ts.do(http.MethodGet, "/login/status", "")
	assert.Equal(t, map[string]interface{}{"logged_in": true, "username": "alice", "state": "authenticated"}, decodeBody(t, rec))
}

func TestProfileAndPost(t *testing.T) {
	ts := newTestServer(t, nil)

	rec := ts.do(http.MethodGet, "/profile/alice", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "alice", decodeBody(t, rec)["username"])

	rec = ts.do(http.MethodGet, "/post/ABC", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "ABC", decodeBody(t, rec)["shortcode"])

	ts.sess.readErr = errs.New(errs.ErrorTypeServerError, http.StatusBadGateway, "server error")
	rec = ts.do(http.MethodGet, "/profile/alice", "")
	assert.Equal(t, http.StatusNotFound, rec.Code, "profile lookups fail with 404")
	rec = ts.do(http.MethodGet, "/post/ABC", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestInvalidUsernamesNeverReachSession(t *testing.T) {
	ts := newTestServer(t, nil)

	for _, path := range []string{
		"/profile/bad%20name",
		"/profile/" + strings.Repeat("a", 31),
		"/stories/a-b",
		"/stories/a-b/media/1",
	} {
		rec := ts.do(http.MethodGet, path, "")
		assert.Equal(t, http.StatusBadRequest, rec.Code, path)
		assert.Equal(t, "invalid username", decodeBody(t, rec)["detail"], path)
	}
	assert.Empty(t, ts.sess.lookups)

	rec := ts.do(http.MethodGet, "/profile/@alice", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, []string{"alice"}, ts.sess.lookups)
}

func TestPostMediaList(t *testing.T) {
	ts := newTestServer(t, nil)

	rec := ts.do(http.MethodGet, "/post/ABC/media", "")
	require.Equal(t, http.StatusOK, rec.Code)
	var items []models.MediaItem
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &items))
	assert.Len(t, items, 1)

	ts.sess.items = nil
	rec = ts.do(http.MethodGet, "/post/ABC/media", "")
	assert.JSONEq(t, `[]`, rec.Body.String())
}

func TestMediaBytes(t *testing.T) {
	ts := newTestServer(t, nil)
	ts.sess.status = session.Status{State: session.Authenticated, Username: "alice"}

	for _, path := range []string{"/post/ABC/media/1", "/stories/alice/media/1"} {
		rec := ts.do(http.MethodGet, path, "")
		assert.Equal(t, http.StatusOK, rec.Code, path)
		assert.Equal(t, "image/jpeg", rec.Header().Get("Content-Type"), path)
		assert.Equal(t, "jpegdata", rec.Body.String(), path)
	}

	for _, path := range []string{"/post/ABC/media/0", "/post/ABC/media/2", "/stories/alice/media/-1"} {
		rec := ts.do(http.MethodGet, path, "")
		assert.Equal(t, http.StatusNotFound, rec.Code, path)
		assert.Equal(t, "media index out of range", decodeBody(t, rec)["detail"], path)
	}

	rec := ts.do(http.MethodGet, "/post/ABC/media/first", "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	ts.sess.readErr = errs.New(errs.ErrorTypeNetwork, 0, "network error: connection reset")
	rec = ts.do(http.MethodGet, "/post/ABC/media/1", "")
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
}

func TestMediaBytes_DefaultContentType(t *testing.T) {
	ts := newTestServer(t, nil)
	ts.sess.media = &models.Media{Content: []byte{1, 2}}

	rec := ts.do(http.MethodGet, "/post/ABC/media/1", "")

	assert.Equal(t, "application/octet-stream", rec.Header().Get("Content-Type"))
}

func TestStories_RequireAuthentication(t *testing.T) {
	ts := newTestServer(t, nil)
	ts.sess.readErr = errs.ErrNotAuthenticated

	rec := ts.do(http.MethodGet, "/stories/alice", "")
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Equal(t, "not logged in", decodeBody(t, rec)["detail"])

	rec = ts.do(http.MethodGet, "/stories/alice/media/1", "")
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestItems(t *testing.T) {
	ts := newTestServer(t, nil)

	rec := ts.do(http.MethodGet, "/items?limit=5&title=lip&source_kind=story&source_id=alice:1", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, store.ProductFilter{Limit: 5, Title: "lip", SourceKind: "story", SourceID: "alice:1"}, ts.products.filter)
	body := decodeBody(t, rec)
	assert.Equal(t, float64(1), body["count"])
	assert.Equal(t, float64(42), body["total"])

	rec = ts.do(http.MethodGet, "/items?limit=abc", "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = ts.do(http.MethodGet, "/items/p1", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "Lipstick", decodeBody(t, rec)["title"])

	rec = ts.do(http.MethodGet, "/items/missing", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, "product missing not found", decodeBody(t, rec)["detail"])

	ts.products.err = errs.New(errs.ErrorTypePersistence, http.StatusInternalServerError, "list products: database is locked")
	rec = ts.do(http.MethodGet, "/items", "")
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
}

func TestTriggerRun(t *testing.T) {
	ts := newTestServer(t, nil)

	rec := ts.do(http.MethodPost, "/admin/trigger-run", "")
	require.Equal(t, http.StatusAccepted, rec.Code)
	assert.Equal(t, "started", decodeBody(t, rec)["status"])
	ts.jobs.Wait()
	assert.Equal(t, 1, ts.runner.count())

	rec = ts.do(http.MethodPost, "/admin/trigger-run?wait=true", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, 2, ts.runner.count())
	assert.Equal(t, float64(3), decodeBody(t, rec)["products_stored"])
}

func TestTriggerRun_OneBatchAtATime(t *testing.T) {
	ts := newTestServer(t, nil)
	ts.runner.block = make(chan struct{})

	require.Equal(t, http.StatusAccepted, ts.do(http.MethodPost, "/admin/trigger-run", "").Code)
	rec := ts.do(http.MethodPost, "/admin/trigger-run", "")
	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.Equal(t, "a triggered batch is already running", decodeBody(t, rec)["detail"])

	close(ts.runner.block)
	ts.jobs.Wait()
	assert.Equal(t, 1, ts.runner.count())

	assert.Equal(t, http.StatusAccepted, ts.do(http.MethodPost, "/admin/trigger-run", "").Code)
	ts.jobs.Wait()
	assert.Equal(t, 2, ts.runner.count())
}

func TestOptionalDependencies(t *testing.T) {
	ts := newTestServer(t, func(d *Deps) {
		d.Products = nil
		d.Pipeline = nil
	})

	assert.Equal(t, http.StatusServiceUnavailable, ts.do(http.MethodGet, "/items", "").Code)
	assert.Equal(t, http.StatusServiceUnavailable, ts.do(http.MethodGet, "/items/p1", "").Code)
	assert.Equal(t, http.StatusServiceUnavailable, ts.do(http.MethodPost, "/admin/trigger-run", "").Code)
	assert.Equal(t, http.StatusNotFound, ts.do(http.MethodGet, "/metrics", "").Code)
}

func TestHealthz(t *testing.T) {
	ts := newTestServer(t, nil)
	rec := ts.do(http.MethodGet, "/healthz", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, map[string]interface{}{"status": "ok", "session": "anonymous"}, decodeBody(t, rec))

	ts = newTestServer(t, func(d *Deps) { d.Health = fakeHealth{err: errs.New(errs.ErrorTypePersistence, 500, "ping failed")} })
	rec = ts.do(http.MethodGet, "/healthz", "")
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestMetricsRoute(t *testing.T) {
	reg := prometheus.NewRegistry()
	collector := metrics.NewCollector(reg)
	ts := newTestServer(t, func(d *Deps) {
		d.Recorder = collector
		d.Gatherer = reg
	})

	ts.do(http.MethodGet, "/profile/alice", "")
	ts.do(http.MethodPost, "/login", `{"username":"alice","password":"pw"}`)
	rec := ts.do(http.MethodGet, "/metrics", "")

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `igharvest_http_requests_total{method="GET",route="/profile/{username}",status_code="200"} 1`)
	assert.Contains(t, rec.Body.String(), `igharvest_login_attempts_total{outcome="ok",step="password"} 1`)
}

func TestPanicRecovered(t *testing.T) {
	ts := newTestServer(t, nil)
	ts.sess.panicOn = "profile"

	rec := ts.do(http.MethodGet, "/profile/alice", "")

	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.Equal(t, map[string]interface{}{"detail": "internal server error"}, decodeBody(t, rec))
	assert.NotContains(t, rec.Body.String(), "boom")
	assert.True(t, ts.log.HasMessage("Panic recovered"))
}

func TestLoginRateLimited(t *testing.T) {
	ts := newTestServer(t, func(d *Deps) {
		d.LoginRatePerMinute = 1
		d.LoginBurst = 1
	})

	rec := ts.do(http.MethodPost, "/login", `{"username":"alice","password":"pw"}`)
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = ts.do(http.MethodPost, "/login/2fa", `{"code":"123456"}`)
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.Equal(t, "60", rec.Header().Get("Retry-After"))
	assert.NotEmpty(t, decodeBody(t, rec)["detail"])

	rec = ts.do(http.MethodGet, "/login/status", "")
	assert.Equal(t, http.StatusOK, rec.Code, "status is not rate limited")
}

func TestUnknownRoute(t *testing.T) {
	ts := newTestServer(t, nil)

	rec := ts.do(http.MethodGet, "/nope", "")

	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, "not found", decodeBody(t, rec)["detail"])
}

func TestRequestsAreLogged(t *testing.T) {
	ts := newTestServer(t, nil)

	ts.do(http.MethodGet, "/login/status", "")

	assert.True(t, ts.log.HasMessage("HTTP request completed"))
}

func TestServe_ShutsDownOnCancel(t *testing.T) {
	srv := &http.Server{Addr: "127.0.0.1:0", Handler: http.NotFoundHandler()}
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- Serve(ctx, srv, time.Second, logger.NewNopLogger()) }()

	time.Sleep(20 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("server did not shut down")
	}
}
