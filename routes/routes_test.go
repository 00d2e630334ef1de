package routes

import (
	"bytes"
	"context"
	"encoding/json"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"net/textproto"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"civicfix-be/blob"
	"civicfix-be/config"
	"civicfix-be/controllers"
	"civicfix-be/lock"
	"civicfix-be/services"
	"civicfix-be/store/memory"
)

type server struct {
	t      *testing.T
	router *gin.Engine
}

func newServer(t *testing.T) *server {
	t.Helper()
	gin.SetMode(gin.TestMode)

	cfg := &config.Config{RequestTimeout: 5 * time.Second, JWTTTL: time.Hour}
	st := memory.New()
	blobs, err := blob.NewLocalStore(t.TempDir(), "photos", "/photos")
	require.NoError(t, err)

	views := services.NewViews(st, blobs)
	locks := lock.NewLocal(time.Second)
	accounts := services.NewAccountService(st, "test-secret", time.Hour)
	require.NoError(t, accounts.EnsureAdmin(context.Background(), "Admin", "admin@example.com", "adminpass"))

	r := gin.New()
	SetupRoutes(r, Handlers{
		Auth: controllers.NewAuthController(accounts, cfg),
		Issues: controllers.NewIssueController(
			services.NewIssueService(st, blobs, locks, views),
			services.NewQueryService(st, views),
			services.NewTransitionEngine(st, locks, views),
			cfg.RequestTimeout,
		),
		Authenticator: accounts,
	}, []string{"http://localhost:3000"})
	return &server{t: t, router: r}
}

func (s *server) do(method, path, token string, body any) *httptest.ResponseRecorder {
	s.t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(s.t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	w := httptest.NewRecorder()
	s.router.ServeHTTP(w, req)
	return w
}

func (s *server) login(email, password string) string {
	s.t.Helper()
	w := s.do(http.MethodPost, "/api/auth/login", "", gin.H{"email": email, "password": password})
	require.Equal(s.t, http.StatusOK, w.Code, w.Body.String())
	var resp struct {
		AccessToken string `json:"access_token"`
	}
	require.NoError(s.t, json.Unmarshal(w.Body.Bytes(), &resp))
	return resp.AccessToken
}

func (s *server) register(name, email string) string {
	s.t.Helper()
	w := s.do(http.MethodPost, "/api/auth/register", "", gin.H{"name": name, "email": email, "password": "secret1"})
	require.Equal(s.t, http.StatusCreated, w.Code, w.Body.String())
	return s.login(email, "secret1")
}

type issueResponse struct {
	ID       string `json:"id"`
	Status   string `json:"status"`
	Category string `json:"category"`
	PhotoURL string `json:"photoUrl"`
	User     *struct {
		Name string `json:"name"`
	} `json:"user"`
	Updates []struct {
		OldStatus string `json:"oldStatus"`
		NewStatus string `json:"newStatus"`
		User      *struct {
			Name string `json:"name"`
		} `json:"user"`
	} `json:"updates"`
}

func decode[T any](t *testing.T, w *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &v), w.Body.String())
	return v
}

func errorMessage(t *testing.T, w *httptest.ResponseRecorder) string {
	return decode[map[string]string](t, w)["error"]
}

func newIssue(category string) gin.H {
	return gin.H{
		"title":       "Flooded underpass",
		"description": "Water is knee deep",
		"category":    category,
		"latitude":    13.7563,
		"longitude":   100.5018,
		"address":     "Rama IV Rd",
		"status":      "fixed",
	}
}

func TestPing(t *testing.T) {
	s := newServer(t)
	w := s.do(http.MethodGet, "/ping", "", nil)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"message":"pong"}`, w.Body.String())
}

func TestAuthFlow(t *testing.T) {
	s := newServer(t)

	w := s.do(http.MethodPost, "/api/auth/register", "", gin.H{"name": "Nok", "email": "nok@example.com", "password": "123"})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	token := s.register("Nok", "nok@example.com")

	w = s.do(http.MethodPost, "/api/auth/register", "", gin.H{"name": "Nok", "email": "nok@example.com", "password": "secret1"})
	assert.Equal(t, http.StatusConflict, w.Code)

	w = s.do(http.MethodPost, "/api/auth/login", "", gin.H{"email": "nok@example.com", "password": "wrong"})
	assert.Equal(t, http.StatusUnauthorized, w.Code)
	assert.Equal(t, "Invalid credentials", errorMessage(t, w))

	w = s.do(http.MethodGet, "/api/auth/me", token, nil)
	require.Equal(t, http.StatusOK, w.Code)
	me := decode[map[string]any](t, w)
	assert.Equal(t, "nok@example.com", me["email"])
	assert.Equal(t, "user", me["role"])

	w = s.do(http.MethodGet, "/api/auth/me", "", nil)
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	w = s.do(http.MethodGet, "/api/auth/me", "not-a-token", nil)
	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestCookieAuthentication(t *testing.T) {
	s := newServer(t)
	s.register("Nok", "nok@example.com")

	w := s.do(http.MethodPost, "/api/auth/login", "", gin.H{"email": "nok@example.com", "password": "secret1"})
	require.Equal(t, http.StatusOK, w.Code)
	cookies := w.Result().Cookies()
	require.NotEmpty(t, cookies)
	assert.Equal(t, "auth_token", cookies[0].Name)
	assert.True(t, cookies[0].HttpOnly)

	req := httptest.NewRequest(http.MethodGet, "/api/auth/me", nil)
	req.AddCookie(cookies[0])
	rec := httptest.NewRecorder()
	s.router.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestIssueLifecycle(t *testing.T) {
	s := newServer(t)
	reporter := s.register("Reporter", "reporter@example.com")
	admin := s.login("admin@example.com", "adminpass")

	w := s.do(http.MethodPost, "/api/issues", "", newIssue("flood"))
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	w = s.do(http.MethodPost, "/api/issues", reporter, newIssue("flood"))
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	created := decode[issueResponse](t, w)
	assert.Equal(t, "pending", created.Status)
	assert.Equal(t, "Reporter", created.User.Name)
	raw := decode[map[string]any](t, w)
	assert.Contains(t, raw, "updates")
	assert.Equal(t, []any{}, raw["updates"])
	path := "/api/issues/" + created.ID

	w = s.do(http.MethodPut, "/api/admin/issues/"+created.ID+"/status", reporter, gin.H{"status": "verified"})
	assert.Equal(t, http.StatusForbidden, w.Code)

	w = s.do(http.MethodPut, "/api/admin/issues/"+created.ID+"/status", admin, gin.H{"status": "verified"})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	verified := decode[issueResponse](t, w)
	assert.Equal(t, "verified", verified.Status)
	require.Len(t, verified.Updates, 1)
	assert.Equal(t, "Admin", verified.Updates[0].User.Name)

	w = s.do(http.MethodPut, "/api/admin/issues/"+created.ID+"/status", admin, gin.H{"status": "verified"})
	assert.Equal(t, http.StatusUnprocessableEntity, w.Code)
	assert.Equal(t, "Status is already verified", errorMessage(t, w))

	w = s.do(http.MethodPut, "/api/admin/issues/"+created.ID+"/status", admin, gin.H{"status": "closed"})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = s.do(http.MethodPut, "/api/admin/issues/"+created.ID+"/status", admin, gin.H{"status": "fixed"})
	require.Equal(t, http.StatusOK, w.Code)

	w = s.do(http.MethodGet, path+"/updates", "", nil)
	require.Equal(t, http.StatusOK, w.Code)
	updates := decode[[]map[string]any](t, w)
	require.Len(t, updates, 2)
	assert.Equal(t, "pending", updates[0]["oldStatus"])
	assert.Equal(t, "verified", updates[1]["oldStatus"])
	assert.Equal(t, "fixed", updates[1]["newStatus"])

	w = s.do(http.MethodGet, "/api/admin/issues/"+created.ID+"/updates", admin, nil)
	assert.Equal(t, http.StatusOK, w.Code)

	w = s.do(http.MethodPut, path, reporter, gin.H{"title": "Still flooded", "status": "pending"})
	require.Equal(t, http.StatusOK, w.Code)
	edited := decode[issueResponse](t, w)
	assert.Equal(t, "fixed", edited.Status)

	w = s.do(http.MethodPut, path, admin, gin.H{"title": "Admin edit"})
	assert.Equal(t, http.StatusForbidden, w.Code)

	w = s.do(http.MethodGet, path, "", nil)
	require.Equal(t, http.StatusOK, w.Code)
	shown := decode[issueResponse](t, w)
	assert.Len(t, shown.Updates, 2)

	w = s.do(http.MethodDelete, path, admin, nil)
	assert.Equal(t, http.StatusOK, w.Code)

	w = s.do(http.MethodGet, path, "", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
	w = s.do(http.MethodGet, path+"/updates", "", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestListIssues(t *testing.T) {
	s := newServer(t)
	alice := s.register("Alice", "alice@example.com")
	bob := s.register("Bob", "bob@example.com")

	for _, req := range []struct {
		token    string
		category string
	}{{alice, "road"}, {alice, "flood"}, {bob, "road"}} {
		w := s.do(http.MethodPost, "/api/issues", req.token, newIssue(req.category))
		require.Equal(t, http.StatusCreated, w.Code)
	}

	count := func(path, token string) int {
		w := s.do(http.MethodGet, path, token, nil)
		require.Equal(t, http.StatusOK, w.Code, w.Body.String())
		return len(decode[[]issueResponse](t, w))
	}
	assert.Equal(t, 3, count("/api/issues", ""))
	assert.Equal(t, 3, count("/api/issues?category=all&status=all", ""))
	assert.Equal(t, 2, count("/api/issues?category=road", ""))
	assert.Equal(t, 2, count("/api/issues?category=road&status=pending", ""))
	assert.Equal(t, 0, count("/api/issues?status=fixed", ""))
	assert.Equal(t, 2, count("/api/issues/mine", alice))
	assert.Equal(t, 1, count("/api/issues/mine", bob))

	w := s.do(http.MethodGet, "/api/issues?category=noise", "", nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = s.do(http.MethodGet, "/api/issues/mine", "", nil)
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	w = s.do(http.MethodGet, "/api/admin/issues", alice, nil)
	assert.Equal(t, http.StatusForbidden, w.Code)
}

func TestInvalidIssueID(t *testing.T) {
	s := newServer(t)
	w := s.do(http.MethodGet, "/api/issues/not-an-id", "", nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, "Invalid issue ID", errorMessage(t, w))
}

func TestCreateIssueWithPhoto(t *testing.T) {
	s := newServer(t)
	token := s.register("Reporter", "reporter@example.com")

	upload := func(contentType string, data []byte) *httptest.ResponseRecorder {
		var body bytes.Buffer
		mw := multipart.NewWriter(&body)
		for k, v := range map[string]string{
			"title":       "Dark street",
			"description": "No light",
			"category":    "light",
			"latitude":    "13.75",
			"longitude":   "100.5",
			"address":     "Soi 5",
		} {
			require.NoError(t, mw.WriteField(k, v))
		}
		h := make(textproto.MIMEHeader)
		h.Set("Content-Disposition", `form-data; name="photo"; filename="street.png"`)
		h.Set("Content-Type", contentType)
		part, err := mw.CreatePart(h)
		require.NoError(t, err)
		_, err = part.Write(data)
		require.NoError(t, err)
		require.NoError(t, mw.Close())

		req := httptest.NewRequest(http.MethodPost, "/api/issues", &body)
		req.Header.Set("Content-Type", mw.FormDataContentType())
		req.Header.Set("Authorization", "Bearer "+token)
		w := httptest.NewRecorder()
		s.router.ServeHTTP(w, req)
		return w
	}

	png := append([]byte("\x89PNG\r\n\x1a\n\x00\x00\x00\rIHDR"), make([]byte, 16)...)

	w := upload("image/png", png)
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	created := decode[issueResponse](t, w)
	assert.Regexp(t, `^/photos/photos/.+\.png$`, created.PhotoURL)

	// The declared type does not matter, the content does.
	w = upload("application/octet-stream", png)
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	assert.Regexp(t, `\.png$`, decode[issueResponse](t, w).PhotoURL)

	w = upload("image/png", []byte("#!/bin/sh\necho hello\n"))
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = upload("image/jpeg", bytes.Repeat([]byte{0xff}, services.MaxPhotoSize+1))
	assert.Equal(t, http.StatusBadRequest, w.Code)
}
