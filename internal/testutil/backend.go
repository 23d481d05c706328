// Package testutil has in-process fakes of the parts backend and the vehicle
// registry for tests.
package testutil

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

const (
	accessCookie  = "access"
	refreshCookie = "refresh"

	// Token accepted by the fake password reset confirm endpoint
	ValidResetToken = "valid-reset-token"
)

type backendUser struct {
	ID        int64  `json:"id"`
	Email     string `json:"email"`
	FirstName string `json:"first_name"`
	LastName  string `json:"last_name"`
	IsActive  bool   `json:"is_active"`

	DateJoined time.Time `json:"date_joined"`
	password   string
}

// PartsSearchFunc lets a test decide how the fake answers a part search
type PartsSearchFunc func(body map[string]string) (status int, response any)

// ResultItem mirrors the backend detail record
type ResultItem struct {
	WebsiteSearchID int64  `json:"website_search_id"`
	Title           string `json:"title"`
	Price           string `json:"price"`
	URL             string `json:"url"`
}

// Backend is a fake of the parts backend under /api.
// Access tokens are HS256 JWTs; refresh tokens are opaque and sent as cookie.
type Backend struct {
	Server *httptest.Server

	mu         sync.Mutex
	secret     []byte
	users      map[string]*backendUser
	refreshes  map[string]string // refresh token -> email
	sessions   map[string]map[string][]string
	results    map[int64][]ResultItem
	resultTime map[int64]time.Time
	calls      map[string]int

	// Knobs a test may change while the server runs (guarded by mu)
	refreshGate chan struct{}
	failRefresh bool
	failLogout  bool
	partsSearch PartsSearchFunc
}

func NewBackend(t *testing.T) *Backend {
	t.Helper()

	b := &Backend{
		secret:     []byte(uuid.NewString()),
		users:      map[string]*backendUser{},
		refreshes:  map[string]string{},
		sessions:   map[string]map[string][]string{},
		results:    map[int64][]ResultItem{},
		resultTime: map[int64]time.Time{},
		calls:      map[string]int{},
	}

	mux := http.NewServeMux()
	mux.HandleFunc("POST /api/accounts/register/", b.register)
	mux.HandleFunc("POST /api/accounts/login/", b.login)
	mux.HandleFunc("POST /api/accounts/token/refresh/", b.refresh)
	mux.HandleFunc("POST /api/accounts/logout/", b.logout)
	mux.HandleFunc("GET /api/accounts/profile/", b.withAuth(b.profile))
	mux.HandleFunc("PATCH /api/accounts/profile/", b.withAuth(b.updateProfile))
	mux.HandleFunc("POST /api/accounts/change-password/", b.withAuth(b.changePassword))
	mux.HandleFunc("POST /api/accounts/password-reset/", b.passwordReset)
	mux.HandleFunc("POST /api/accounts/password-reset/confirm/", b.passwordResetConfirm)
	mux.HandleFunc("POST /api/search/parts-search/", b.withAuth(b.searchParts))
	mux.HandleFunc("POST /api/search/category-data/", b.withAuth(b.categoryData))
	mux.HandleFunc("GET /api/search/search-results/", b.withAuth(b.resultGroups))
	mux.HandleFunc("GET /api/search/search-results/{id}/", b.withAuth(b.resultDetail))

	b.Server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		b.mu.Lock()
		b.calls[r.URL.Path]++
		b.mu.Unlock()
		mux.ServeHTTP(w, r)
	}))
	t.Cleanup(b.Server.Close)

	return b
}

// URL is the base address clients should be configured with
func (b *Backend) URL() string {
	return b.Server.URL + "/api"
}

// Calls returns how many times the path (without /api) was hit
func (b *Backend) Calls(path string) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.calls["/api"+path]
}

// AddUser creates an account directly
func (b *Backend) AddUser(email string, password string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.addUserLocked(email, password, "", "")
}

// IssueAccess returns a valid access token for an existing user
func (b *Backend) IssueAccess(email string) string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.accessLocked(email)
}

// ExpireAccess invalidates every access token issued so far. Refresh tokens stay valid.
func (b *Backend) ExpireAccess() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.secret = []byte(uuid.NewString())
}

// HoldRefresh makes refresh calls block until the returned func is called
func (b *Backend) HoldRefresh() (release func()) {
	gate := make(chan struct{})
	b.mu.Lock()
	b.refreshGate = gate
	b.mu.Unlock()

	var once sync.Once
	return func() { once.Do(func() { close(gate) }) }
}

func (b *Backend) FailRefresh(fail bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.failRefresh = fail
}

func (b *Backend) FailLogout(fail bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.failLogout = fail
}

func (b *Backend) OnPartsSearch(fn PartsSearchFunc) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.partsSearch = fn
}

// AddCategorySession registers a search session the category endpoint knows about
func (b *Backend) AddCategorySession(sessionID string, links map[string][]string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.sessions[sessionID] = links
}

// AddResults stores items for a search result group
func (b *Backend) AddResults(id int64, createdAt time.Time, items ...ResultItem) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.results[id] = append(b.results[id], items...)
	b.resultTime[id] = createdAt
}

func (b *Backend) addUserLocked(email, password, first, last string) *backendUser {
	u := &backendUser{
		ID:         int64(len(b.users) + 1),
		Email:      email,
		FirstName:  first,
		LastName:   last,
		IsActive:   true,
		DateJoined: time.Date(2025, 1, 1, 12, 0, 0, 0, time.UTC),
		password:   password,
	}
	b.users[email] = u
	return u
}

func (b *Backend) accessLocked(email string) string {
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.RegisteredClaims{
		ID:        uuid.NewString(),
		Subject:   email,
		IssuedAt:  jwt.NewNumericDate(time.Now()),
		ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
	})
	signed, _ := token.SignedString(b.secret)
	return signed
}

// issueLocked creates a token pair and sets both cookies
func (b *Backend) issueLocked(w http.ResponseWriter, email string) (access string, refresh string) {
	access = b.accessLocked(email)
	refresh = uuid.NewString()
	b.refreshes[refresh] = email

	http.SetCookie(w, &http.Cookie{Name: accessCookie, Value: access, Path: "/", HttpOnly: true})
	http.SetCookie(w, &http.Cookie{Name: refreshCookie, Value: refresh, Path: "/", HttpOnly: true})
	return access, refresh
}

// authenticate mirrors the backend: header first, cookie as fallback
func (b *Backend) authenticate(r *http.Request) (*backendUser, bool) {
	raw := strings.TrimPrefix(r.Header.Get("Authorization"), "Bearer ")
	if raw == "" {
		if c, err := r.Cookie(accessCookie); err == nil {
			raw = c.Value
		}
	}
	if raw == "" {
		return nil, false
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	claims := &jwt.RegisteredClaims{}
	token, err := jwt.ParseWithClaims(raw, claims, func(*jwt.Token) (any, error) { return b.secret, nil },
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
	if err != nil || !token.Valid {
		return nil, false
	}

	u, ok := b.users[claims.Subject]
	return u, ok
}

func (b *Backend) withAuth(next func(http.ResponseWriter, *http.Request, *backendUser)) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		u, ok := b.authenticate(r)
		if !ok {
			writeJSON(w, http.StatusUnauthorized, map[string]any{
				"detail": "Given token not valid for any token type",
				"code":   "token_not_valid",
			})
			return
		}
		next(w, r, u)
	}
}

func (b *Backend) register(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Email     string `json:"email"`
		Password  string `json:"password"`
		Password2 string `json:"password2"`
		FirstName string `json:"first_name"`
		LastName  string `json:"last_name"`
	}
	if !decode(w, r, &req) {
		return
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	if _, exists := b.users[req.Email]; exists {
		writeJSON(w, http.StatusBadRequest, map[string]any{"email": []string{"user with this email already exists."}})
		return
	}
	if req.Password != req.Password2 {
		writeJSON(w, http.StatusBadRequest, map[string]any{"password": []string{"Password fields didn't match."}})
		return
	}

	u := b.addUserLocked(req.Email, req.Password, req.FirstName, req.LastName)
	access, refresh := b.issueLocked(w, u.Email)
	writeJSON(w, http.StatusCreated, map[string]any{
		"user":    u,
		"details": "User registered successfully.",
		"access":  access,
		"refresh": refresh,
	})
}

func (b *Backend) login(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Email    string `json:"email"`
		Password string `json:"password"`
	}
	if !decode(w, r, &req) {
		return
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	u, ok := b.users[req.Email]
	if !ok || u.password != req.Password {
		writeJSON(w, http.StatusUnauthorized, map[string]any{"detail": "No active account found with the given credentials"})
		return
	}

	access, refresh := b.issueLocked(w, u.Email)
	writeJSON(w, http.StatusOK, map[string]any{"access": access, "refresh": refresh})
}

func (b *Backend) refresh(w http.ResponseWriter, r *http.Request) {
	b.mu.Lock()
	gate := b.refreshGate
	b.mu.Unlock()

	if gate != nil {
		select {
		case <-gate:
		case <-r.Context().Done():
			return
		}
	}

	var token string
	if c, err := r.Cookie(refreshCookie); err == nil {
		token = c.Value
	}
	if token == "" {
		var req struct {
			Refresh string `json:"refresh"`
		}
		_ = json.NewDecoder(r.Body).Decode(&req)
		token = req.Refresh
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	if token == "" {
		writeJSON(w, http.StatusUnauthorized, map[string]any{"detail": "Refresh token not found."})
		return
	}
	email, ok := b.refreshes[token]
	if !ok || b.failRefresh {
		writeJSON(w, http.StatusUnauthorized, map[string]any{"detail": "Token is invalid or expired", "code": "token_not_valid"})
		return
	}

	access := b.accessLocked(email)
	http.SetCookie(w, &http.Cookie{Name: accessCookie, Value: access, Path: "/", HttpOnly: true})
	writeJSON(w, http.StatusOK, map[string]any{"access": access})
}

func (b *Backend) logout(w http.ResponseWriter, r *http.Request) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.failLogout {
		writeJSON(w, http.StatusInternalServerError, map[string]any{"detail": "Logout is broken"})
		return
	}
	if c, err := r.Cookie(refreshCookie); err == nil {
		delete(b.refreshes, c.Value)
	}

	http.SetCookie(w, &http.Cookie{Name: accessCookie, Value: "", Path: "/", MaxAge: -1})
	http.SetCookie(w, &http.Cookie{Name: refreshCookie, Value: "", Path: "/", MaxAge: -1})
	w.WriteHeader(http.StatusNoContent)
}

func (b *Backend) profile(w http.ResponseWriter, _ *http.Request, u *backendUser) {
	b.mu.Lock()
	defer b.mu.Unlock()
	writeJSON(w, http.StatusOK, u)
}

func (b *Backend) updateProfile(w http.ResponseWriter, r *http.Request, u *backendUser) {
	var req map[string]string
	if !decode(w, r, &req) {
		return
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	if v, ok := req["first_name"]; ok {
		u.FirstName = v
	}
	if v, ok := req["last_name"]; ok {
		u.LastName = v
	}
	writeJSON(w, http.StatusOK, u)
}

func (b *Backend) changePassword(w http.ResponseWriter, r *http.Request, u *backendUser) {
	var req struct {
		CurrentPassword string `json:"current_password"`
		NewPassword     string `json:"new_password"`
	}
	if !decode(w, r, &req) {
		return
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	if u.password != req.CurrentPassword {
		writeJSON(w, http.StatusBadRequest, map[string]any{"current_password": []string{"Current password is incorrect."}})
		return
	}
	u.password = req.NewPassword
	writeJSON(w, http.StatusOK, map[string]any{"message": "Password changed successfully."})
}

func (b *Backend) passwordReset(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Email string `json:"email"`
	}
	if !decode(w, r, &req) {
		return
	}
	if req.Email == "" {
		writeJSON(w, http.StatusBadRequest, map[string]any{"email": []string{"This field is required."}})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"message": "If an account exists, a reset link has been sent."})
}

func (b *Backend) passwordResetConfirm(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Token       string `json:"token"`
		NewPassword string `json:"new_password"`
	}
	if !decode(w, r, &req) {
		return
	}
	if req.Token != ValidResetToken {
		writeJSON(w, http.StatusBadRequest, map[string]any{"token": []string{"Invalid or expired token."}})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"message": "Password has been reset."})
}

func (b *Backend) searchParts(w http.ResponseWriter, r *http.Request, _ *backendUser) {
	var req map[string]string
	if !decode(w, r, &req) {
		return
	}

	b.mu.Lock()
	fn := b.partsSearch
	b.mu.Unlock()

	if fn != nil {
		status, body := fn(req)
		if status == http.StatusTooManyRequests {
			w.Header().Set("Retry-After", "30")
		}
		writeJSON(w, status, body)
		return
	}

	sessionID := uuid.NewString()
	b.AddCategorySession(sessionID, map[string][]string{
		"Front brake pads": {"https://parts.example/front-1", "https://parts.example/front-2"},
		"Rear brake pads":  {"https://parts.example/rear-1"},
	})
	writeJSON(w, http.StatusOK, map[string]any{
		"flag":       "select_category",
		"categories": []string{"Front brake pads", "Rear brake pads"},
		"sessionId":  sessionID,
		"message":    "Multiple categories found, please select one",
	})
}

func (b *Backend) categoryData(w http.ResponseWriter, r *http.Request, _ *backendUser) {
	var req struct {
		SessionID string `json:"session_id"`
		Category  string `json:"category"`
	}
	if !decode(w, r, &req) {
		return
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	links, ok := b.sessions[req.SessionID]
	if !ok {
		writeJSON(w, http.StatusNotFound, map[string]any{"error": "Session not found or expired"})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"links": links[req.Category]})
}

func (b *Backend) resultGroups(w http.ResponseWriter, _ *http.Request, _ *backendUser) {
	b.mu.Lock()
	defer b.mu.Unlock()

	groups := make([]map[string]any, 0, len(b.results))
	for id, items := range b.results {
		groups = append(groups, map[string]any{
			"search_result_id":  id,
			"count":             len(items),
			"latest_created_at": b.resultTime[id],
		})
	}
	writeJSON(w, http.StatusOK, groups)
}

func (b *Backend) resultDetail(w http.ResponseWriter, r *http.Request, _ *backendUser) {
	id, err := strconv.ParseInt(r.PathValue("id"), 10, 64)
	if err != nil {
		writeJSON(w, http.StatusNotFound, map[string]any{"detail": "Not found."})
		return
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	items := b.results[id]
	if items == nil {
		items = []ResultItem{}
	}
	writeJSON(w, http.StatusOK, items)
}

func decode(w http.ResponseWriter, r *http.Request, v any) bool {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]any{"detail": "JSON parse error - " + err.Error()})
		return false
	}
	return true
}

func writeJSON(w http.ResponseWriter, code int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(data)
}
