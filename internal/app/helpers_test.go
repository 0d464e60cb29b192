package app

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"golang.org/x/crypto/bcrypt"

	"github.com/InfinityBowman/amstar2-checklist-scoring-app/internal/authz"
	"github.com/InfinityBowman/amstar2-checklist-scoring-app/internal/config"
	"github.com/InfinityBowman/amstar2-checklist-scoring-app/internal/search"
	"github.com/InfinityBowman/amstar2-checklist-scoring-app/internal/session"
)

const (
	testPassword = "Aa1!aaaa"
	apiPrefix    = "/api/v1"
)

type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

type recordingMailer struct {
	mu   sync.Mutex
	sent []string
}

func (m *recordingMailer) SendVerificationCode(to, _, code string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sent = append(m.sent, "verify:"+to+":"+code)
	return true
}

func (m *recordingMailer) SendPasswordResetCode(to, _, code string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sent = append(m.sent, "reset:"+to+":"+code)
	return true
}

func (m *recordingMailer) count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.sent)
}

type testEnv struct {
	t       *testing.T
	store   *memStore
	clock   *testClock
	redis   *miniredis.Miniredis
	mailer  *recordingMailer
	service *Service
	handler http.Handler
}

func testConfig() config.Config {
	return config.Config{
		Env:            "test",
		APIPrefix:      apiPrefix,
		SecretKey:      "test-secret",
		AccessTTL:      15 * time.Minute,
		RefreshTTL:     7 * 24 * time.Hour,
		CookieSecure:   true,
		CORSOrigin:     "http://localhost:5173",
		ExposeDevCodes: true,
	}
}

func newTestEnv(t *testing.T) *testEnv {
	return newTestEnvWith(t, testConfig(), newMemStore(), nil)
}

func newTestEnvWith(t *testing.T, cfg config.Config, data dataStore, syncHandler http.Handler) *testEnv {
	t.Helper()

	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	authorizer, err := authz.NewAuthorizer(authz.Config{})
	if err != nil {
		t.Fatalf("NewAuthorizer: %v", err)
	}

	// Redis TTLs run on wall time, so the test clock starts from it.
	clock := &testClock{now: time.Now().UTC().Truncate(time.Second)}
	mailer := &recordingMailer{}
	service := New(Deps{
		Config:     cfg,
		Store:      data,
		Authorizer: authorizer,
		Sessions:   session.NewRedisStoreWithClient(client),
		Mailer:     mailer,
		Search:     search.NewService(nil, search.NewPostgres(data), nil),
		Now:        clock.Now,
		HashCost:   bcrypt.MinCost,
	})

	env := &testEnv{
		t:       t,
		clock:   clock,
		redis:   mr,
		mailer:  mailer,
		service: service,
		handler: NewHTTPServer(service, syncHandler, nil).Handler(),
	}
	if mem, ok := data.(*memStore); ok {
		env.store = mem
	}
	return env
}

type request struct {
	method  string
	path    string
	token   string
	body    any
	cookies []*http.Cookie
}

func (e *testEnv) do(req request) *httptest.ResponseRecorder {
	e.t.Helper()
	var payload bytes.Buffer
	if req.body != nil {
		if err := json.NewEncoder(&payload).Encode(req.body); err != nil {
			e.t.Fatalf("encode body: %v", err)
		}
	}
	httpReq := httptest.NewRequest(req.method, req.path, &payload)
	httpReq.Header.Set("Content-Type", "application/json")
	if req.token != "" {
		httpReq.Header.Set("Authorization", "Bearer "+req.token)
	}
	for _, cookie := range req.cookies {
		httpReq.AddCookie(cookie)
	}
	rec := httptest.NewRecorder()
	e.handler.ServeHTTP(rec, httpReq)
	return rec
}

// api issues a request under the API prefix.
func (e *testEnv) api(method, path, token string, body any) *httptest.ResponseRecorder {
	e.t.Helper()
	return e.do(request{method: method, path: apiPrefix + path, token: token, body: body})
}

func (e *testEnv) post(path, token string, body any) *httptest.ResponseRecorder {
	e.t.Helper()
	return e.api(http.MethodPost, path, token, body)
}

func decodeJSON(t *testing.T, rec *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var out map[string]any
	if err := json.Unmarshal(rec.Body.Bytes(), &out); err != nil {
		t.Fatalf("decode response %q: %v", rec.Body.String(), err)
	}
	return out
}

func expectStatus(t *testing.T, rec *httptest.ResponseRecorder, want int) {
	t.Helper()
	if rec.Code != want {
		t.Fatalf("status = %d, want %d; body = %s", rec.Code, want, rec.Body.String())
	}
}

func expectError(t *testing.T, rec *httptest.ResponseRecorder, status int, detail string) {
	t.Helper()
	expectStatus(t, rec, status)
	body := decodeJSON(t, rec)
	if body["detail"] != detail {
		t.Fatalf("detail = %v, want %q", body["detail"], detail)
	}
}

func findCookie(rec *httptest.ResponseRecorder, name string) *http.Cookie {
	for _, cookie := range rec.Result().Cookies() {
		if cookie.Name == name {
			return cookie
		}
	}
	return nil
}

type account struct {
	id    string
	email string
	token string
}

// signUp registers email and returns the user id without verifying it.
func (e *testEnv) signUp(email, name string) string {
	e.t.Helper()
	rec := e.post("/auth/signup", "", map[string]any{"email": email, "name": name, "password": testPassword})
	expectStatus(e.t, rec, http.StatusCreated)
	user := decodeJSON(e.t, rec)["user"].(map[string]any)
	return user["id"].(string)
}

func (e *testEnv) verify(email string) {
	e.t.Helper()
	rec := e.post("/auth/send-verification", "", map[string]any{"email": email})
	expectStatus(e.t, rec, http.StatusOK)
	code := decodeJSON(e.t, rec)["devCode"].(string)
	expectStatus(e.t, e.post("/auth/verify-email", "", map[string]any{"email": email, "code": code}), http.StatusOK)
}

func (e *testEnv) signIn(email, password string) *httptest.ResponseRecorder {
	e.t.Helper()
	return e.post("/auth/signin", "", map[string]any{"email": email, "password": password})
}

// register creates a verified, signed-in account.
func (e *testEnv) register(email, name string) account {
	e.t.Helper()
	id := e.signUp(email, name)
	e.verify(email)
	rec := e.signIn(email, testPassword)
	expectStatus(e.t, rec, http.StatusOK)
	return account{id: id, email: email, token: decodeJSON(e.t, rec)["accessToken"].(string)}
}

func (e *testEnv) createProject(owner account, name string) string {
	e.t.Helper()
	rec := e.post("/projects", owner.token, map[string]any{"name": name})
	expectStatus(e.t, rec, http.StatusCreated)
	return decodeJSON(e.t, rec)["id"].(string)
}

func (e *testEnv) addMember(owner account, projectID string, member account) {
	e.t.Helper()
	rec := e.post("/projects/"+projectID+"/members/add-by-email", owner.token, map[string]any{"email": member.email})
	expectStatus(e.t, rec, http.StatusCreated)
}

func (e *testEnv) createReview(actor account, projectID, name string) string {
	e.t.Helper()
	rec := e.post("/reviews", actor.token, map[string]any{"project_id": projectID, "name": name})
	expectStatus(e.t, rec, http.StatusCreated)
	return decodeJSON(e.t, rec)["id"].(string)
}

func (e *testEnv) createChecklist(actor account, reviewID string) string {
	e.t.Helper()
	rec := e.post("/checklists", actor.token, map[string]any{"review_id": reviewID})
	expectStatus(e.t, rec, http.StatusCreated)
	return decodeJSON(e.t, rec)["id"].(string)
}
