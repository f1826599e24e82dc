package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/vidstream/apiserver/internal/services"
	"github.com/vidstream/apiserver/types"
)

const (
	accessTokenCookie  = "accessToken"
	refreshTokenCookie = "refreshToken"

	maxMultipartMemory = 32 << 20
	maxImageBytes      = 16 << 20

	formFieldFullName   = "fullname"
	formFieldEmail      = "email"
	formFieldUsername   = "username"
	formFieldPassword   = "password"
	formFieldAvatar     = "avatar"
	formFieldCoverImage = "coverimage"
)

// AuthHandler provides the account and session endpoints.
type AuthHandler struct {
	userService   *services.UserService
	tokens        *services.TokenService
	secureCookies bool
	logger        *slog.Logger
}

// NewAuthHandler constructs an AuthHandler with the provided dependencies.
func NewAuthHandler(userService *services.UserService, tokens *services.TokenService, secureCookies bool) *AuthHandler {
	return &AuthHandler{
		userService:   userService,
		tokens:        tokens,
		secureCookies: secureCookies,
		logger:        slog.Default(),
	}
}

// UserRouter registers account routes on the given router.
func UserRouter(r chi.Router, userService *services.UserService, tokens *services.TokenService, secureCookies bool) {
	handler := NewAuthHandler(userService, tokens, secureCookies)

	r.Post("/register", handler.Register)
	r.Post("/login", handler.Login)
	r.Post("/refresh-token", handler.RefreshToken)
	r.Group(func(r chi.Router) {
		r.Use(handler.RequireAuth)
		r.Post("/logout", handler.Logout)
		r.Get("/me", handler.Me)
		r.Post("/change-password", handler.ChangePassword)
		r.Patch("/avatar", handler.UpdateAvatar)
	})
}

// RequireAuth enforces authentication and injects the resolved user into the
// request context. The access token is read from the accessToken cookie,
// falling back to a bearer header. Every failure is a uniform 401; the cause
// is only logged.
func (h *AuthHandler) RequireAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		tokenString, err := accessTokenFromRequest(r)
		if err != nil {
			writeError(w, http.StatusUnauthorized, "unauthorized")
			return
		}

		claims, err := h.tokens.VerifyAccessToken(tokenString)
		if err != nil {
			h.logger.Info("access token rejected", "reason", err)
			writeError(w, http.StatusUnauthorized, "unauthorized")
			return
		}

		user, err := h.userService.GetByID(r.Context(), claims.Subject)
		if err != nil {
			h.logger.Info("access token subject not resolvable", "reason", err)
			writeError(w, http.StatusUnauthorized, "unauthorized")
			return
		}

		ctx := context.WithValue(r.Context(), contextUserKey, user)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// Register creates a new user account from a multipart form carrying the
// text fields plus a required avatar file and an optional cover image.
func (h *AuthHandler) Register(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseMultipartForm(maxMultipartMemory); err != nil {
		writeError(w, http.StatusBadRequest, "invalid multipart form")
		return
	}

	avatarPath, avatarCleanup, err := saveUploadedFile(r.MultipartForm, formFieldAvatar)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if avatarCleanup != nil {
		defer avatarCleanup()
	}

	coverPath, coverCleanup, err := saveUploadedFile(r.MultipartForm, formFieldCoverImage)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if coverCleanup != nil {
		defer coverCleanup()
	}

	user, err := h.userService.Register(r.Context(), services.RegisterInput{
		FullName:       r.FormValue(formFieldFullName),
		Email:          r.FormValue(formFieldEmail),
		Username:       r.FormValue(formFieldUsername),
		Password:       r.FormValue(formFieldPassword),
		AvatarPath:     avatarPath,
		CoverImagePath: coverPath,
	})
	if err != nil {
		writeServiceError(w, err)
		return
	}

	writeData(w, http.StatusCreated, user, "User registered successfully")
}

type LoginRequest struct {
	Username string `json:"username"`
	Email    string `json:"email"`
	Password string `json:"password"`
}

type LoginResponse struct {
	User         types.User `json:"user"`
	AccessToken  string     `json:"accessToken"`
	RefreshToken string     `json:"refreshToken"`
}

// Login verifies credentials, starts a session, and returns the token pair
// both as httpOnly cookies and in the response body.
func (h *AuthHandler) Login(w http.ResponseWriter, r *http.Request) {
	var req LoginRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request")
		return
	}

	identifier := strings.TrimSpace(req.Username)
	if identifier == "" {
		identifier = strings.TrimSpace(req.Email)
	}

	user, access, refresh, err := h.userService.Login(r.Context(), identifier, req.Password)
	if err != nil {
		writeServiceError(w, err)
		return
	}

	h.setAuthCookies(w, access, refresh)
	writeData(w, http.StatusOK, LoginResponse{
		User:         user,
		AccessToken:  access,
		RefreshToken: refresh,
	}, "User logged in successfully")
}

type RefreshRequest struct {
	RefreshToken string `json:"refreshToken"`
}

type TokenPairResponse struct {
	AccessToken  string `json:"accessToken"`
	RefreshToken string `json:"refreshToken"`
}

// RefreshToken rotates the session: the presented refresh token (cookie or
// body) is exchanged for a new pair and permanently invalidated.
func (h *AuthHandler) RefreshToken(w http.ResponseWriter, r *http.Request) {
	presented := refreshTokenFromRequest(r)

	access, refresh, err := h.userService.Refresh(r.Context(), presented)
	if err != nil {
		writeServiceError(w, err)
		return
	}

	h.setAuthCookies(w, access, refresh)
	writeData(w, http.StatusOK, TokenPairResponse{
		AccessToken:  access,
		RefreshToken: refresh,
	}, "Access token refreshed")
}

// Logout ends the session: the stored refresh token is cleared and the auth
// cookies are expired.
func (h *AuthHandler) Logout(w http.ResponseWriter, r *http.Request) {
	user, ok := userFromContext(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "unauthorized")
		return
	}

	if err := h.userService.Logout(r.Context(), user.ID); err != nil {
		writeServiceError(w, err)
		return
	}

	h.clearAuthCookies(w)
	writeData(w, http.StatusOK, struct{}{}, "Logged out successfully")
}

// Me returns the current authenticated user.
func (h *AuthHandler) Me(w http.ResponseWriter, r *http.Request) {
	user, ok := userFromContext(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "unauthorized")
		return
	}
	writeData(w, http.StatusOK, user, "Current user fetched successfully")
}

type ChangePasswordRequest struct {
	OldPassword string `json:"oldPassword"`
	NewPassword string `json:"newPassword"`
}

// ChangePassword verifies the old password and replaces it with the new one.
func (h *AuthHandler) ChangePassword(w http.ResponseWriter, r *http.Request) {
	user, ok := userFromContext(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "unauthorized")
		return
	}

	var req ChangePasswordRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request")
		return
	}

	if err := h.userService.ChangePassword(r.Context(), user.ID, req.OldPassword, req.NewPassword); err != nil {
		writeServiceError(w, err)
		return
	}

	writeData(w, http.StatusOK, struct{}{}, "Password changed successfully")
}

// UpdateAvatar replaces the authenticated user's avatar with the uploaded file.
func (h *AuthHandler) UpdateAvatar(w http.ResponseWriter, r *http.Request) {
	user, ok := userFromContext(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "unauthorized")
		return
	}

	if err := r.ParseMultipartForm(maxMultipartMemory); err != nil {
		writeError(w, http.StatusBadRequest, "invalid multipart form")
		return
	}

	avatarPath, cleanup, err := saveUploadedFile(r.MultipartForm, formFieldAvatar)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if avatarPath == "" {
		writeError(w, http.StatusBadRequest, "avatar file is missing")
		return
	}
	defer cleanup()

	updated, err := h.userService.UpdateAvatar(r.Context(), user.ID, avatarPath)
	if err != nil {
		writeServiceError(w, err)
		return
	}

	writeData(w, http.StatusOK, updated, "Avatar updated successfully")
}

func (h *AuthHandler) setAuthCookies(w http.ResponseWriter, access, refresh string) {
	http.SetCookie(w, h.authCookie(accessTokenCookie, access, h.tokens.AccessTokenTTL()))
	http.SetCookie(w, h.authCookie(refreshTokenCookie, refresh, h.tokens.RefreshTokenTTL()))
}

func (h *AuthHandler) clearAuthCookies(w http.ResponseWriter) {
	http.SetCookie(w, h.authCookie(accessTokenCookie, "", -time.Hour))
	http.SetCookie(w, h.authCookie(refreshTokenCookie, "", -time.Hour))
}

func (h *AuthHandler) authCookie(name, value string, ttl time.Duration) *http.Cookie {
	cookie := &http.Cookie{
		Name:     name,
		Value:    value,
		Path:     "/",
		HttpOnly: true,
		Secure:   h.secureCookies,
		SameSite: http.SameSiteLaxMode,
	}
	if ttl < 0 {
		cookie.MaxAge = -1
	} else {
		cookie.MaxAge = int(ttl / time.Second)
	}
	return cookie
}

func accessTokenFromRequest(r *http.Request) (string, error) {
	if cookie, err := r.Cookie(accessTokenCookie); err == nil && strings.TrimSpace(cookie.Value) != "" {
		return cookie.Value, nil
	}
	return bearerToken(r)
}

func refreshTokenFromRequest(r *http.Request) string {
	if cookie, err := r.Cookie(refreshTokenCookie); err == nil && strings.TrimSpace(cookie.Value) != "" {
		return cookie.Value
	}
	var req RefreshRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err == nil {
		return strings.TrimSpace(req.RefreshToken)
	}
	return ""
}

func bearerToken(r *http.Request) (string, error) {
	auth := strings.TrimSpace(r.Header.Get("Authorization"))
	if auth == "" {
		return "", errors.New("missing authorization")
	}
	parts := strings.SplitN(auth, " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
		return "", errors.New("invalid authorization")
	}
	token := strings.TrimSpace(parts[1])
	if token == "" {
		return "", errors.New("invalid authorization")
	}
	return token, nil
}

// saveUploadedFile spools a single uploaded file to a temporary file and
// returns its path plus a cleanup func. A missing field is not an error;
// it returns an empty path so callers can decide whether the file was
// required. Cleanup runs here on every failure path; the caller owns it on
// success.
func saveUploadedFile(form *multipart.Form, field string) (string, func(), error) {
	if form == nil {
		return "", nil, errors.New("missing form data")
	}

	files := form.File[field]
	if len(files) == 0 {
		return "", nil, nil
	}
	if len(files) > 1 {
		return "", nil, fmt.Errorf("only one %s file is allowed", field)
	}

	fileHeader := files[0]
	src, err := fileHeader.Open()
	if err != nil {
		return "", nil, fmt.Errorf("failed to read %s file", field)
	}
	defer src.Close()

	dst, err := os.CreateTemp("", "upload-*"+filepath.Ext(fileHeader.Filename))
	if err != nil {
		return "", nil, errors.New("failed to buffer upload")
	}
	cleanup := func() {
		_ = os.Remove(dst.Name())
	}

	written, err := io.Copy(dst, io.LimitReader(src, maxImageBytes+1))
	if err != nil {
		_ = dst.Close()
		cleanup()
		return "", nil, errors.New("failed to buffer upload")
	}
	if err := dst.Close(); err != nil {
		cleanup()
		return "", nil, errors.New("failed to buffer upload")
	}
	if written > maxImageBytes {
		cleanup()
		return "", nil, fmt.Errorf("%s file too large", field)
	}

	return dst.Name(), cleanup, nil
}
