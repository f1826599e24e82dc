package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/vidstream/apiserver/internal/services"
	"github.com/vidstream/apiserver/internal/store"
	"github.com/vidstream/apiserver/types"
	"golang.org/x/crypto/bcrypt"
)

type memUserRepo struct {
	users map[string]types.User
}

func newMemUserRepo() *memUserRepo {
	return &memUserRepo{users: make(map[string]types.User)}
}

func (r *memUserRepo) GetByID(_ context.Context, id string) (types.User, error) {
	user, ok := r.users[id]
	if !ok {
		return types.User{}, store.ErrNotFound
	}
	return user, nil
}

func (r *memUserRepo) GetByIdentifier(_ context.Context, identifier string) (types.User, error) {
	identifier = strings.ToLower(identifier)
	for _, user := range r.users {
		if user.Username == identifier || user.Email == identifier {
			return user, nil
		}
	}
	return types.User{}, store.ErrNotFound
}

func (r *memUserRepo) Create(_ context.Context, user types.User) (types.User, error) {
	for _, existing := range r.users {
		if existing.Username == user.Username || existing.Email == user.Email {
			return types.User{}, store.ErrConflict
		}
	}
	user.ID = uuid.NewString()
	user.CreatedAt = time.Now()
	user.UpdatedAt = user.CreatedAt
	r.users[user.ID] = user
	return user, nil
}

func (r *memUserRepo) UpdateRefreshToken(_ context.Context, id, token string) error {
	user, ok := r.users[id]
	if !ok {
		return store.ErrNotFound
	}
	user.RefreshToken = token
	r.users[id] = user
	return nil
}

func (r *memUserRepo) UpdatePassword(_ context.Context, id, passwordHash string) error {
	user, ok := r.users[id]
	if !ok {
		return store.ErrNotFound
	}
	user.PasswordHash = passwordHash
	r.users[id] = user
	return nil
}

func (r *memUserRepo) UpdateAvatar(_ context.Context, id, avatarURL string) error {
	user, ok := r.users[id]
	if !ok {
		return store.ErrNotFound
	}
	user.AvatarURL = avatarURL
	r.users[id] = user
	return nil
}

type memUploader struct {
	uploads int
}

func (u *memUploader) Upload(_ context.Context, localPath string) (string, error) {
	u.uploads++
	return fmt.Sprintf("https://cdn.test/assets/%d", u.uploads), nil
}

type envelope struct {
	StatusCode int             `json:"statusCode"`
	Data       json.RawMessage `json:"data"`
	Message    string          `json:"message"`
	Success    bool            `json:"success"`
	Errors     []string        `json:"errors"`
}

func newTestRouter(t *testing.T) (*chi.Mux, *services.TokenService) {
	t.Helper()

	tokens := services.NewTokenService("access-secret", "refresh-secret", time.Hour, 24*time.Hour)
	userService := services.NewUserService(newMemUserRepo(), tokens, &memUploader{}, nil, bcrypt.MinCost, nil)

	router := chi.NewRouter()
	router.Route("/users", func(r chi.Router) {
		UserRouter(r, userService, tokens, false)
	})
	return router, tokens
}

func multipartBody(t *testing.T, fields map[string]string, files map[string][]byte) (*bytes.Buffer, string) {
	t.Helper()

	body := &bytes.Buffer{}
	writer := multipart.NewWriter(body)
	for name, value := range fields {
		require.NoError(t, writer.WriteField(name, value))
	}
	for name, data := range files {
		part, err := writer.CreateFormFile(name, name+".png")
		require.NoError(t, err)
		_, err = part.Write(data)
		require.NoError(t, err)
	}
	require.NoError(t, writer.Close())
	return body, writer.FormDataContentType()
}

func doRequest(router *chi.Mux, req *http.Request) *httptest.ResponseRecorder {
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	return rec
}

func registerAda(t *testing.T, router *chi.Mux) envelope {
	t.Helper()

	body, contentType := multipartBody(t,
		map[string]string{
			"fullname": "Ada L",
			"email":    "ada@x.com",
			"username": "ada",
			"password": "secret123",
		},
		map[string][]byte{"avatar": []byte("png-bytes")},
	)
	req := httptest.NewRequest(http.MethodPost, "/users/register", body)
	req.Header.Set("Content-Type", contentType)

	rec := doRequest(router, req)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	var env envelope
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &env))
	return env
}

func loginAda(t *testing.T, router *chi.Mux) *httptest.ResponseRecorder {
	t.Helper()

	req := httptest.NewRequest(http.MethodPost, "/users/login",
		strings.NewReader(`{"username":"ada","password":"secret123"}`))
	req.Header.Set("Content-Type", "application/json")

	rec := doRequest(router, req)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	return rec
}

func cookieByName(t *testing.T, rec *httptest.ResponseRecorder, name string) *http.Cookie {
	t.Helper()
	for _, cookie := range rec.Result().Cookies() {
		if cookie.Name == name {
			return cookie
		}
	}
	t.Fatalf("cookie %q not set", name)
	return nil
}

func TestRegisterEndpoint(t *testing.T) {
	router, _ := newTestRouter(t)

	env := registerAda(t, router)
	assert.True(t, env.Success)
	assert.Equal(t, http.StatusCreated, env.StatusCode)

	var user map[string]any
	require.NoError(t, json.Unmarshal(env.Data, &user))
	assert.Equal(t, "ada", user["username"])
	assert.NotEmpty(t, user["avatar"])

	// Secret fields never cross the trust boundary.
	raw := string(env.Data)
	assert.NotContains(t, raw, "password")
	assert.NotContains(t, raw, "refresh")
}

func TestRegisterWithCoverImage(t *testing.T) {
	router, _ := newTestRouter(t)

	body, contentType := multipartBody(t,
		map[string]string{
			"fullname": "Ada L",
			"email":    "ada@x.com",
			"username": "ada",
			"password": "secret123",
		},
		map[string][]byte{
			"avatar":     []byte("png-bytes"),
			"coverimage": []byte("more-png-bytes"),
		},
	)
	req := httptest.NewRequest(http.MethodPost, "/users/register", body)
	req.Header.Set("Content-Type", contentType)

	rec := doRequest(router, req)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	var env envelope
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &env))
	var user map[string]any
	require.NoError(t, json.Unmarshal(env.Data, &user))
	assert.NotEmpty(t, user["coverimage"])
}

func TestRegisterMissingAvatar(t *testing.T) {
	router, _ := newTestRouter(t)

	body, contentType := multipartBody(t,
		map[string]string{
			"fullname": "Ada L",
			"email":    "ada@x.com",
			"username": "ada",
			"password": "secret123",
		},
		nil,
	)
	req := httptest.NewRequest(http.MethodPost, "/users/register", body)
	req.Header.Set("Content-Type", contentType)

	rec := doRequest(router, req)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	var env envelope
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &env))
	assert.False(t, env.Success)
	assert.NotNil(t, env.Errors)
}

func TestRegisterDuplicateConflict(t *testing.T) {
	router, _ := newTestRouter(t)
	registerAda(t, router)

	body, contentType := multipartBody(t,
		map[string]string{
			"fullname": "Other Ada",
			"email":    "other@x.com",
			"username": "ada",
			"password": "secret123",
		},
		map[string][]byte{"avatar": []byte("png-bytes")},
	)
	req := httptest.NewRequest(http.MethodPost, "/users/register", body)
	req.Header.Set("Content-Type", contentType)

	rec := doRequest(router, req)
	assert.Equal(t, http.StatusConflict, rec.Code)
}

func TestLoginSetsCookiesAndReturnsTokens(t *testing.T) {
	router, tokens := newTestRouter(t)
	registerAda(t, router)

	rec := loginAda(t, router)

	accessCookie := cookieByName(t, rec, "accessToken")
	refreshCookie := cookieByName(t, rec, "refreshToken")
	assert.True(t, accessCookie.HttpOnly)
	assert.True(t, refreshCookie.HttpOnly)

	var env envelope
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &env))
	var data struct {
		User         map[string]any `json:"user"`
		AccessToken  string         `json:"accessToken"`
		RefreshToken string         `json:"refreshToken"`
	}
	require.NoError(t, json.Unmarshal(env.Data, &data))
	assert.Equal(t, "ada", data.User["username"])

	claims, err := tokens.VerifyAccessToken(data.AccessToken)
	require.NoError(t, err)
	assert.Equal(t, data.User["id"], claims.Subject)
	assert.Equal(t, "ada", claims.Username)

	userID, err := tokens.VerifyRefreshToken(data.RefreshToken)
	require.NoError(t, err)
	assert.Equal(t, data.User["id"], userID)
}

func TestLoginWrongPassword(t *testing.T) {
	router, _ := newTestRouter(t)
	registerAda(t, router)

	req := httptest.NewRequest(http.MethodPost, "/users/login",
		strings.NewReader(`{"username":"ada","password":"wrong"}`))
	req.Header.Set("Content-Type", "application/json")

	rec := doRequest(router, req)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestLoginUnknownAccount(t *testing.T) {
	router, _ := newTestRouter(t)

	req := httptest.NewRequest(http.MethodPost, "/users/login",
		strings.NewReader(`{"email":"nobody@x.com","password":"secret123"}`))
	req.Header.Set("Content-Type", "application/json")

	rec := doRequest(router, req)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestLoginMissingCredentials(t *testing.T) {
	router, _ := newTestRouter(t)

	req := httptest.NewRequest(http.MethodPost, "/users/login",
		strings.NewReader(`{"username":"","password":""}`))
	req.Header.Set("Content-Type", "application/json")

	rec := doRequest(router, req)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestRefreshWithCookieRotates(t *testing.T) {
	router, _ := newTestRouter(t)
	registerAda(t, router)
	rec := loginAda(t, router)
	original := cookieByName(t, rec, "refreshToken")

	req := httptest.NewRequest(http.MethodPost, "/users/refresh-token", nil)
	req.AddCookie(original)
	refreshRec := doRequest(router, req)
	require.Equal(t, http.StatusOK, refreshRec.Code, refreshRec.Body.String())

	rotated := cookieByName(t, refreshRec, "refreshToken")
	assert.NotEqual(t, original.Value, rotated.Value)

	// The pre-rotation token is dead.
	req = httptest.NewRequest(http.MethodPost, "/users/refresh-token", nil)
	req.AddCookie(original)
	reuseRec := doRequest(router, req)
	assert.Equal(t, http.StatusUnauthorized, reuseRec.Code)
}

func TestRefreshWithBodyToken(t *testing.T) {
	router, _ := newTestRouter(t)
	registerAda(t, router)
	rec := loginAda(t, router)
	refresh := cookieByName(t, rec, "refreshToken")

	payload := fmt.Sprintf(`{"refreshToken":%q}`, refresh.Value)
	req := httptest.NewRequest(http.MethodPost, "/users/refresh-token", strings.NewReader(payload))
	req.Header.Set("Content-Type", "application/json")

	refreshRec := doRequest(router, req)
	assert.Equal(t, http.StatusOK, refreshRec.Code, refreshRec.Body.String())
}

func TestRefreshWithoutToken(t *testing.T) {
	router, _ := newTestRouter(t)

	req := httptest.NewRequest(http.MethodPost, "/users/refresh-token", nil)
	rec := doRequest(router, req)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestMeWithAccessCookie(t *testing.T) {
	router, _ := newTestRouter(t)
	registerAda(t, router)
	rec := loginAda(t, router)

	req := httptest.NewRequest(http.MethodGet, "/users/me", nil)
	req.AddCookie(cookieByName(t, rec, "accessToken"))

	meRec := doRequest(router, req)
	require.Equal(t, http.StatusOK, meRec.Code, meRec.Body.String())

	var env envelope
	require.NoError(t, json.Unmarshal(meRec.Body.Bytes(), &env))
	var user map[string]any
	require.NoError(t, json.Unmarshal(env.Data, &user))
	assert.Equal(t, "ada", user["username"])
}

func TestMeWithBearerToken(t *testing.T) {
	router, _ := newTestRouter(t)
	registerAda(t, router)
	rec := loginAda(t, router)

	req := httptest.NewRequest(http.MethodGet, "/users/me", nil)
	req.Header.Set("Authorization", "Bearer "+cookieByName(t, rec, "accessToken").Value)

	meRec := doRequest(router, req)
	assert.Equal(t, http.StatusOK, meRec.Code, meRec.Body.String())
}

func TestMeWithoutToken(t *testing.T) {
	router, _ := newTestRouter(t)

	req := httptest.NewRequest(http.MethodGet, "/users/me", nil)
	rec := doRequest(router, req)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestMeWithGarbageToken(t *testing.T) {
	router, _ := newTestRouter(t)

	req := httptest.NewRequest(http.MethodGet, "/users/me", nil)
	req.Header.Set("Authorization", "Bearer not-a-token")
	rec := doRequest(router, req)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestMeWithRefreshTokenRejected(t *testing.T) {
	router, _ := newTestRouter(t)
	registerAda(t, router)
	rec := loginAda(t, router)

	// A refresh token must not pass as an access credential.
	req := httptest.NewRequest(http.MethodGet, "/users/me", nil)
	req.Header.Set("Authorization", "Bearer "+cookieByName(t, rec, "refreshToken").Value)
	meRec := doRequest(router, req)
	assert.Equal(t, http.StatusUnauthorized, meRec.Code)
}

func TestLogoutClearsSessionAndCookies(t *testing.T) {
	router, _ := newTestRouter(t)
	registerAda(t, router)
	rec := loginAda(t, router)
	accessCookie := cookieByName(t, rec, "accessToken")
	refreshCookie := cookieByName(t, rec, "refreshToken")

	req := httptest.NewRequest(http.MethodPost, "/users/logout", nil)
	req.AddCookie(accessCookie)
	logoutRec := doRequest(router, req)
	require.Equal(t, http.StatusOK, logoutRec.Code, logoutRec.Body.String())

	for _, name := range []string{"accessToken", "refreshToken"} {
		cleared := cookieByName(t, logoutRec, name)
		assert.Empty(t, cleared.Value)
		assert.Less(t, cleared.MaxAge, 1)
	}

	// The refresh token from before logout is no longer accepted.
	req = httptest.NewRequest(http.MethodPost, "/users/refresh-token", nil)
	req.AddCookie(refreshCookie)
	refreshRec := doRequest(router, req)
	assert.Equal(t, http.StatusUnauthorized, refreshRec.Code)
}

func TestChangePasswordEndpoint(t *testing.T) {
	router, _ := newTestRouter(t)
	registerAda(t, router)
	rec := loginAda(t, router)
	accessCookie := cookieByName(t, rec, "accessToken")

	req := httptest.NewRequest(http.MethodPost, "/users/change-password",
		strings.NewReader(`{"oldPassword":"secret123","newPassword":"newsecret456"}`))
	req.Header.Set("Content-Type", "application/json")
	req.AddCookie(accessCookie)
	changeRec := doRequest(router, req)
	require.Equal(t, http.StatusOK, changeRec.Code, changeRec.Body.String())

	// Old password no longer works.
	loginReq := httptest.NewRequest(http.MethodPost, "/users/login",
		strings.NewReader(`{"username":"ada","password":"secret123"}`))
	loginReq.Header.Set("Content-Type", "application/json")
	assert.Equal(t, http.StatusUnauthorized, doRequest(router, loginReq).Code)

	// New one does.
	loginReq = httptest.NewRequest(http.MethodPost, "/users/login",
		strings.NewReader(`{"username":"ada","password":"newsecret456"}`))
	loginReq.Header.Set("Content-Type", "application/json")
	assert.Equal(t, http.StatusOK, doRequest(router, loginReq).Code)
}

func TestChangePasswordWrongOldPassword(t *testing.T) {
	router, _ := newTestRouter(t)
	registerAda(t, router)
	rec := loginAda(t, router)

	req := httptest.NewRequest(http.MethodPost, "/users/change-password",
		strings.NewReader(`{"oldPassword":"wrong","newPassword":"newsecret456"}`))
	req.Header.Set("Content-Type", "application/json")
	req.AddCookie(cookieByName(t, rec, "accessToken"))
	changeRec := doRequest(router, req)
	assert.Equal(t, http.StatusUnauthorized, changeRec.Code)
}

func TestUpdateAvatarEndpoint(t *testing.T) {
	router, _ := newTestRouter(t)
	env := registerAda(t, router)
	var created map[string]any
	require.NoError(t, json.Unmarshal(env.Data, &created))

	rec := loginAda(t, router)

	body, contentType := multipartBody(t, nil, map[string][]byte{"avatar": []byte("new-png-bytes")})
	req := httptest.NewRequest(http.MethodPatch, "/users/avatar", body)
	req.Header.Set("Content-Type", contentType)
	req.AddCookie(cookieByName(t, rec, "accessToken"))

	avatarRec := doRequest(router, req)
	require.Equal(t, http.StatusOK, avatarRec.Code, avatarRec.Body.String())

	var avatarEnv envelope
	require.NoError(t, json.Unmarshal(avatarRec.Body.Bytes(), &avatarEnv))
	var updated map[string]any
	require.NoError(t, json.Unmarshal(avatarEnv.Data, &updated))
	assert.NotEqual(t, created["avatar"], updated["avatar"])
}

func TestUpdateAvatarMissingFile(t *testing.T) {
	router, _ := newTestRouter(t)
	registerAda(t, router)
	rec := loginAda(t, router)

	body, contentType := multipartBody(t, map[string]string{"unused": "x"}, nil)
	req := httptest.NewRequest(http.MethodPatch, "/users/avatar", body)
	req.Header.Set("Content-Type", contentType)
	req.AddCookie(cookieByName(t, rec, "accessToken"))

	avatarRec := doRequest(router, req)
	assert.Equal(t, http.StatusBadRequest, avatarRec.Code)
}
