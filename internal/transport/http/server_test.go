package http

import (
	"context"
	"encoding/json"
	"html"
	"net/http"
	"net/http/httptest"
	"net/url"
	"path/filepath"
	"regexp"
	"strings"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/gin-gonic/gin"
	"github.com/glebarez/sqlite"
	"github.com/redis/go-redis/v9"
	"golang.org/x/crypto/bcrypt"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	appsvc "questionnaire/internal/app"
	"questionnaire/internal/bootstrap"
	"questionnaire/internal/config"
	"questionnaire/internal/model"
	"questionnaire/internal/pkg/jwtutil"
	"questionnaire/internal/platform/database"
)

var csrfInput = regexp.MustCompile(`name="_csrf" value="([^"]*)"`)

type testServer struct {
	t       *testing.T
	app     *bootstrap.App
	router  *gin.Engine
	cookies map[string]*http.Cookie
}

func newTestServer(t *testing.T, mutate func(cfg *config.Config, app *bootstrap.App)) *testServer {
	t.Helper()

	db, err := gorm.Open(sqlite.Open(filepath.Join(t.TempDir(), "http.db")), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	t.Cleanup(func() { _ = database.Close(db) })
	if err := database.EnsureSchema(context.Background(), db); err != nil {
		t.Fatalf("EnsureSchema() error = %v", err)
	}

	cfg, err := config.Load()
	if err != nil {
		t.Fatalf("config.Load() error = %v", err)
	}
	cfg.App.GinMode = gin.TestMode
	cfg.App.SecretKey = "test-secret-key"
	cfg.Redis.Enabled = false
	cfg.RabbitMQ.Enabled = false
	cfg.Admin.AllowOrigins = nil

	app := &bootstrap.App{Config: cfg, DB: db, StartedAt: time.Now()}
	if mutate != nil {
		mutate(cfg, app)
	}

	router, err := NewRouter(app)
	if err != nil {
		t.Fatalf("NewRouter() error = %v", err)
	}
	return &testServer{t: t, app: app, router: router, cookies: map[string]*http.Cookie{}}
}

func (s *testServer) do(req *http.Request) *httptest.ResponseRecorder {
	s.t.Helper()
	for _, c := range s.cookies {
		req.AddCookie(c)
	}
	rr := httptest.NewRecorder()
	s.router.ServeHTTP(rr, req)
	for _, c := range rr.Result().Cookies() {
		s.cookies[c.Name] = c
	}
	return rr
}

func (s *testServer) get(path string) *httptest.ResponseRecorder {
	s.t.Helper()
	return s.do(httptest.NewRequest(http.MethodGet, path, nil))
}

func (s *testServer) postForm(values url.Values) *httptest.ResponseRecorder {
	s.t.Helper()
	req := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(values.Encode()))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	return s.do(req)
}

// token loads the form and returns the anti-forgery token it carries.
func (s *testServer) token() string {
	s.t.Helper()
	rr := s.get("/")
	if rr.Code != http.StatusOK {
		s.t.Fatalf("GET / status = %d", rr.Code)
	}
	match := csrfInput.FindStringSubmatch(rr.Body.String())
	if match == nil || match[1] == "" {
		s.t.Fatalf("no csrf token in form:\n%s", rr.Body.String())
	}
	return html.UnescapeString(match[1])
}

func (s *testServer) rows() []model.Response {
	s.t.Helper()
	var rows []model.Response
	if err := s.app.DB.Order("id").Find(&rows).Error; err != nil {
		s.t.Fatalf("query rows: %v", err)
	}
	return rows
}

func submission(token, name, answer string, consent bool) url.Values {
	values := url.Values{}
	values.Set("_csrf", token)
	values.Set("name", name)
	values.Set("response", answer)
	if consent {
		values.Set("consent", "y")
	}
	return values
}

func TestGetRendersEmptyForm(t *testing.T) {
	s := newTestServer(t, nil)

	rr := s.get("/")
	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rr.Code)
	}
	body := rr.Body.String()
	for _, want := range []string{`name="name"`, `name="response"`, `name="consent"`, `name="_csrf"`} {
		if !strings.Contains(body, want) {
			t.Errorf("form missing %s", want)
		}
	}
	if strings.Contains(body, `class="error"`) {
		t.Error("empty form should not show errors")
	}
}

func TestValidSubmissionInsertsRowAndRedirects(t *testing.T) {
	s := newTestServer(t, nil)
	before := time.Now().Add(-time.Minute)

	rr := s.postForm(submission(s.token(), "Alice", "Great session", true))
	if rr.Code != http.StatusFound {
		t.Fatalf("status = %d, want 302\n%s", rr.Code, rr.Body.String())
	}
	if loc := rr.Header().Get("Location"); loc != "/" {
		t.Fatalf("Location = %q, want /", loc)
	}

	rows := s.rows()
	if len(rows) != 1 {
		t.Fatalf("rows = %d, want 1", len(rows))
	}
	row := rows[0]
	if row.Name != "Alice" || row.Response != "Great session" || !row.Consent {
		t.Fatalf("row = %+v", row)
	}
	if row.Timestamp.Before(before) {
		t.Fatalf("timestamp %v before submission", row.Timestamp)
	}

	page := s.get("/")
	if !strings.Contains(page.Body.String(), "Thank you for your participation!") {
		t.Fatalf("flash notice missing after redirect:\n%s", page.Body.String())
	}
	again := s.get("/")
	if strings.Contains(again.Body.String(), "Thank you for your participation!") {
		t.Fatal("flash notice should be shown only once")
	}
}

func TestInvalidSubmissionsRerenderWithoutWriting(t *testing.T) {
	cases := map[string]struct {
		name    string
		answer  string
		consent bool
		message string
	}{
		"empty response":    {name: "Alice", answer: "", consent: true, message: "Please enter your answer."},
		"consent unchecked": {name: "Alice", answer: "Great session", consent: false, message: "You must consent"},
		"blank name":        {name: "   ", answer: "Great session", consent: true, message: "Please enter your name."},
	}

	for name, tc := range cases {
		t.Run(name, func(t *testing.T) {
			s := newTestServer(t, nil)

			rr := s.postForm(submission(s.token(), tc.name, tc.answer, tc.consent))
			if rr.Code != http.StatusOK {
				t.Fatalf("status = %d, want 200", rr.Code)
			}
			body := rr.Body.String()
			if !strings.Contains(body, tc.message) {
				t.Fatalf("body missing %q:\n%s", tc.message, body)
			}
			if !csrfInput.MatchString(body) {
				t.Fatal("re-rendered form must carry a csrf token")
			}
			if rows := s.rows(); len(rows) != 0 {
				t.Fatalf("rows = %d, want 0", len(rows))
			}
		})
	}
}

func TestInvalidSubmissionKeepsEnteredValues(t *testing.T) {
	s := newTestServer(t, nil)

	rr := s.postForm(submission(s.token(), "Alice", "Great session", false))
	body := rr.Body.String()
	if !strings.Contains(body, `value="Alice"`) || !strings.Contains(body, "Great session") {
		t.Fatalf("entered values not kept:\n%s", body)
	}
}

func TestConsentFalseValueIsUnchecked(t *testing.T) {
	s := newTestServer(t, nil)

	values := submission(s.token(), "Alice", "Great session", false)
	values.Set("consent", "false")
	rr := s.postForm(values)
	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rr.Code)
	}
	if rows := s.rows(); len(rows) != 0 {
		t.Fatalf("rows = %d, want 0", len(rows))
	}
}

func TestPostWithoutValidCSRFTokenIsRejected(t *testing.T) {
	t.Run("no session", func(t *testing.T) {
		s := newTestServer(t, nil)
		rr := s.postForm(submission("", "Alice", "Great session", true))
		if rr.Code != http.StatusForbidden {
			t.Fatalf("status = %d, want 403", rr.Code)
		}
		if rows := s.rows(); len(rows) != 0 {
			t.Fatalf("rows = %d, want 0", len(rows))
		}
	})

	t.Run("missing token", func(t *testing.T) {
		s := newTestServer(t, nil)
		s.token()
		rr := s.postForm(submission("", "Alice", "Great session", true))
		if rr.Code != http.StatusForbidden {
			t.Fatalf("status = %d, want 403", rr.Code)
		}
		if rows := s.rows(); len(rows) != 0 {
			t.Fatalf("rows = %d, want 0", len(rows))
		}
	})

	t.Run("forged token", func(t *testing.T) {
		s := newTestServer(t, nil)
		s.token()
		rr := s.postForm(submission("forged-token", "Alice", "Great session", true))
		if rr.Code != http.StatusForbidden {
			t.Fatalf("status = %d, want 403", rr.Code)
		}
		if rows := s.rows(); len(rows) != 0 {
			t.Fatalf("rows = %d, want 0", len(rows))
		}
	})

	t.Run("rejected before validation", func(t *testing.T) {
		s := newTestServer(t, nil)
		rr := s.postForm(submission("", "", "", false))
		if rr.Code != http.StatusForbidden {
			t.Fatalf("status = %d, want 403", rr.Code)
		}
		if strings.Contains(rr.Body.String(), "Please enter your name.") {
			t.Fatal("field validation must not run without a valid token")
		}
	})
}

func TestStoreFailureReturnsServerError(t *testing.T) {
	s := newTestServer(t, nil)
	token := s.token()

	if err := s.app.DB.Migrator().DropTable(&model.Response{}); err != nil {
		t.Fatalf("drop table: %v", err)
	}

	rr := s.postForm(submission(token, "Alice", "Great session", true))
	if rr.Code != http.StatusInternalServerError {
		t.Fatalf("status = %d, want 500", rr.Code)
	}
	if !strings.Contains(rr.Body.String(), "Something went wrong") {
		t.Fatalf("expected generic error page:\n%s", rr.Body.String())
	}
}

func TestSubmissionRateLimit(t *testing.T) {
	mr := miniredis.RunT(t)
	s := newTestServer(t, func(cfg *config.Config, app *bootstrap.App) {
		cfg.Redis.Enabled = true
		cfg.Redis.SubmitLimit = 1
		cfg.Redis.SubmitWindowSeconds = 3600
		client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
		t.Cleanup(func() { _ = client.Close() })
		app.Redis = client
	})

	token := s.token()
	if rr := s.postForm(submission(token, "Alice", "first", true)); rr.Code != http.StatusFound {
		t.Fatalf("first status = %d, want 302", rr.Code)
	}
	if rr := s.postForm(submission(token, "Alice", "second", true)); rr.Code != http.StatusTooManyRequests {
		t.Fatalf("second status = %d, want 429", rr.Code)
	}
	if rows := s.rows(); len(rows) != 1 {
		t.Fatalf("rows = %d, want 1", len(rows))
	}
}

func TestHealthz(t *testing.T) {
	s := newTestServer(t, nil)

	rr := s.get("/healthz")
	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200\n%s", rr.Code, rr.Body.String())
	}

	var body struct {
		Dependencies map[string]struct {
			OK      bool   `json:"ok"`
			Message string `json:"message"`
		} `json:"dependencies"`
	}
	if err := json.Unmarshal(rr.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode health: %v", err)
	}
	if !body.Dependencies["database"].OK {
		t.Errorf("database should be ok: %+v", body.Dependencies)
	}
	if body.Dependencies["redis"].Message != "disabled" || body.Dependencies["rabbitmq"].Message != "disabled" {
		t.Errorf("optional dependencies should report disabled: %+v", body.Dependencies)
	}
}

func TestAdminAPI(t *testing.T) {
	hash, err := bcrypt.GenerateFromPassword([]byte("correct horse"), bcrypt.MinCost)
	if err != nil {
		t.Fatalf("hash: %v", err)
	}
	s := newTestServer(t, func(cfg *config.Config, _ *bootstrap.App) {
		cfg.Admin.Username = "admin"
		cfg.Admin.PasswordHash = string(hash)
		cfg.Admin.JWTSecret = "admin-jwt-secret"
	})

	if rr := s.postForm(submission(s.token(), "Alice", "Great session", true)); rr.Code != http.StatusFound {
		t.Fatalf("submit status = %d", rr.Code)
	}

	unauth := s.get("/api/v1/responses")
	if unauth.Code != http.StatusUnauthorized {
		t.Fatalf("unauthenticated status = %d, want 401", unauth.Code)
	}

	bad := httptest.NewRequest(http.MethodPost, "/api/v1/admin/login", strings.NewReader(`{"username":"admin","password":"nope"}`))
	bad.Header.Set("Content-Type", "application/json")
	if rr := s.do(bad); rr.Code != http.StatusUnauthorized {
		t.Fatalf("bad login status = %d, want 401", rr.Code)
	}

	login := httptest.NewRequest(http.MethodPost, "/api/v1/admin/login", strings.NewReader(`{"username":"admin","password":"correct horse"}`))
	login.Header.Set("Content-Type", "application/json")
	rr := s.do(login)
	if rr.Code != http.StatusOK {
		t.Fatalf("login status = %d\n%s", rr.Code, rr.Body.String())
	}
	var loginBody struct {
		Data struct {
			Token string `json:"token"`
		} `json:"data"`
	}
	if err := json.Unmarshal(rr.Body.Bytes(), &loginBody); err != nil || loginBody.Data.Token == "" {
		t.Fatalf("decode login: %v, %s", err, rr.Body.String())
	}
	bearer := "Bearer " + loginBody.Data.Token

	list := httptest.NewRequest(http.MethodGet, "/api/v1/responses?limit=10", nil)
	list.Header.Set("Authorization", bearer)
	rr = s.do(list)
	if rr.Code != http.StatusOK {
		t.Fatalf("list status = %d\n%s", rr.Code, rr.Body.String())
	}
	var listBody struct {
		Data struct {
			Responses []model.Response `json:"responses"`
		} `json:"data"`
	}
	if err := json.Unmarshal(rr.Body.Bytes(), &listBody); err != nil {
		t.Fatalf("decode list: %v", err)
	}
	if len(listBody.Data.Responses) != 1 || listBody.Data.Responses[0].Name != "Alice" {
		t.Fatalf("list = %+v", listBody.Data.Responses)
	}

	missing := httptest.NewRequest(http.MethodGet, "/api/v1/responses/999", nil)
	missing.Header.Set("Authorization", bearer)
	if rr := s.do(missing); rr.Code != http.StatusNotFound {
		t.Fatalf("missing status = %d, want 404", rr.Code)
	}

	stats := httptest.NewRequest(http.MethodGet, "/api/v1/stats", nil)
	stats.Header.Set("Authorization", bearer)
	rr = s.do(stats)
	if rr.Code != http.StatusOK || !strings.Contains(rr.Body.String(), `"stored":1`) {
		t.Fatalf("stats = %d %s", rr.Code, rr.Body.String())
	}
}

func TestAdminAPIIsNotMountedWithoutPasswordHash(t *testing.T) {
	defaults, err := config.Load()
	if err != nil {
		t.Fatalf("config.Load() error = %v", err)
	}
	s := newTestServer(t, func(cfg *config.Config, _ *bootstrap.App) {
		cfg.Admin.PasswordHash = ""
		cfg.Admin.JWTSecret = defaults.Admin.JWTSecret
	})

	if rr := s.postForm(submission(s.token(), "Alice", "private answer", true)); rr.Code != http.StatusFound {
		t.Fatalf("submit status = %d", rr.Code)
	}

	// A token signed with the built-in secret must not open anything.
	forged, err := jwtutil.GenerateToken(defaults.Admin.JWTSecret, time.Hour, "attacker", appsvc.AdminRole)
	if err != nil {
		t.Fatalf("GenerateToken() error = %v", err)
	}
	for _, path := range []string{"/api/v1/responses", "/api/v1/responses/1", "/api/v1/stats"} {
		req := httptest.NewRequest(http.MethodGet, path, nil)
		req.Header.Set("Authorization", "Bearer "+forged)
		rr := s.do(req)
		if rr.Code != http.StatusNotFound {
			t.Errorf("GET %s status = %d, want 404", path, rr.Code)
		}
		if strings.Contains(rr.Body.String(), "private answer") {
			t.Errorf("GET %s leaked stored data: %s", path, rr.Body.String())
		}
	}

	login := httptest.NewRequest(http.MethodPost, "/api/v1/admin/login", strings.NewReader(`{"username":"admin","password":""}`))
	login.Header.Set("Content-Type", "application/json")
	if rr := s.do(login); rr.Code != http.StatusNotFound {
		t.Fatalf("login status = %d, want 404", rr.Code)
	}
}

func TestAdminAPIRejectsTokenSignedWithOtherSecret(t *testing.T) {
	hash, err := bcrypt.GenerateFromPassword([]byte("correct horse"), bcrypt.MinCost)
	if err != nil {
		t.Fatalf("hash: %v", err)
	}
	s := newTestServer(t, func(cfg *config.Config, _ *bootstrap.App) {
		cfg.Admin.PasswordHash = string(hash)
		cfg.Admin.JWTSecret = "admin-jwt-secret"
	})

	forged, err := jwtutil.GenerateToken("change-me-in-production", time.Hour, "attacker", appsvc.AdminRole)
	if err != nil {
		t.Fatalf("GenerateToken() error = %v", err)
	}
	req := httptest.NewRequest(http.MethodGet, "/api/v1/responses", nil)
	req.Header.Set("Authorization", "Bearer "+forged)
	if rr := s.do(req); rr.Code != http.StatusUnauthorized {
		t.Fatalf("forged token status = %d, want 401", rr.Code)
	}
}
