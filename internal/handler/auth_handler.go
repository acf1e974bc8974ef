package handler

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"strings"

	"github.com/hitoshi/bakeman/internal/authclient"
	"github.com/hitoshi/bakeman/internal/model"
	"github.com/hitoshi/bakeman/internal/session"
)

const sessionCookieName = "session_id"

// AuthHandlerConfig は認証ハンドラーの設定。
type AuthHandlerConfig struct {
	CookieDomain  string
	CookieSecure  bool
	SessionMaxAge int // セッションCookieの有効期間（秒）
}

// AuthHandler はセッション認証関連のHTTPハンドラー。
// クライアントインスタンスごとのセッションはsession.Registryが管理する。
type AuthHandler struct {
	registry *session.Registry
	config   AuthHandlerConfig
}

// NewAuthHandler はAuthHandlerを生成する。
func NewAuthHandler(registry *session.Registry, config AuthHandlerConfig) *AuthHandler {
	return &AuthHandler{
		registry: registry,
		config:   config,
	}
}

// registerRequest は新規登録リクエストのボディ。
type registerRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
	Name     string `json:"name"`
	ShopName string `json:"shopName"`
}

// loginRequest はログインリクエストのボディ。
type loginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

// userResponse はユーザー情報のAPIレスポンス。
type userResponse struct {
	ID       string `json:"id"`
	Email    string `json:"email"`
	Name     string `json:"name"`
	ShopName string `json:"shopName"`
}

func toUserResponse(user *model.User) userResponse {
	return userResponse{
		ID:       user.ID,
		Email:    user.Email,
		Name:     user.Name,
		ShopName: user.ShopName,
	}
}

// Register は新規登録を処理する。
// POST /auth/register
func (h *AuthHandler) Register(w http.ResponseWriter, r *http.Request) {
	var req registerRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeInvalidRequestBody(w)
		return
	}

	if apiErr := validateCredentials(req.Email, req.Password); apiErr != nil {
		writeAPIErrorResponse(w, http.StatusBadRequest, apiErr)
		return
	}

	sessionID, err := h.ensureSessionID(w, r)
	if err != nil {
		slog.Error("failed to issue session id", slog.String("error", err.Error()))
		writeAPIErrorResponse(w, http.StatusInternalServerError, internalError())
		return
	}

	manager := h.registry.Manager(sessionID)
	if initErr := manager.Initialize(r.Context()); initErr != nil {
		slog.Error("failed to initialize session", slog.String("error", initErr.Error()))
		writeAPIErrorResponse(w, http.StatusInternalServerError, internalError())
		return
	}

	user, err := manager.Register(r.Context(), authclient.RegisterInput{
		Email:    req.Email,
		Password: req.Password,
		Name:     req.Name,
		ShopName: req.ShopName,
	})
	if err != nil {
		handleServiceError(w, err)
		return
	}

	writeJSON(w, http.StatusCreated, toUserResponse(user))
}

// Login はログインを処理する。
// POST /auth/login
func (h *AuthHandler) Login(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeInvalidRequestBody(w)
		return
	}

	if apiErr := validateCredentials(req.Email, req.Password); apiErr != nil {
		writeAPIErrorResponse(w, http.StatusBadRequest, apiErr)
		return
	}

	sessionID, err := h.ensureSessionID(w, r)
	if err != nil {
		slog.Error("failed to issue session id", slog.String("error", err.Error()))
		writeAPIErrorResponse(w, http.StatusInternalServerError, internalError())
		return
	}

	manager := h.registry.Manager(sessionID)
	if initErr := manager.Initialize(r.Context()); initErr != nil {
		slog.Error("failed to initialize session", slog.String("error", initErr.Error()))
		writeAPIErrorResponse(w, http.StatusInternalServerError, internalError())
		return
	}

	user, err := manager.Login(r.Context(), req.Email, req.Password)
	if err != nil {
		handleServiceError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, toUserResponse(user))
}

// Logout はセッションを破棄する。
// POST /auth/logout
func (h *AuthHandler) Logout(w http.ResponseWriter, r *http.Request) {
	cookie, err := r.Cookie(sessionCookieName)
	if err == nil && cookie.Value != "" {
		manager := h.registry.Manager(cookie.Value)
		if logoutErr := manager.Logout(r.Context()); logoutErr != nil {
			slog.Error("failed to logout", slog.String("error", logoutErr.Error()))
			// ログアウト失敗してもCookieはクリアする
		}
		h.registry.Drop(cookie.Value)
	}

	// セッションCookieをクリア
	http.SetCookie(w, &http.Cookie{
		Name:     sessionCookieName,
		Value:    "",
		Path:     "/",
		Domain:   h.config.CookieDomain,
		MaxAge:   -1,
		HttpOnly: true,
		Secure:   h.config.CookieSecure,
		SameSite: http.SameSiteLaxMode,
	})

	w.WriteHeader(http.StatusNoContent)
}

// Me は現在のログインユーザー情報を返す。
// GET /auth/me
func (h *AuthHandler) Me(w http.ResponseWriter, r *http.Request) {
	cookie, err := r.Cookie(sessionCookieName)
	if err != nil || cookie.Value == "" {
		writeUnauthorized(w)
		return
	}

	user, ok, err := h.registry.Resolve(r.Context(), cookie.Value)
	if err != nil {
		slog.Error("failed to resolve session", slog.String("error", err.Error()))
		writeUnauthorized(w)
		return
	}
	if !ok {
		writeUnauthorized(w)
		return
	}

	writeJSON(w, http.StatusOK, toUserResponse(user))
}

// ensureSessionID は既存のセッションCookieを返すか、新規セッションIDを発行してCookieを設定する。
func (h *AuthHandler) ensureSessionID(w http.ResponseWriter, r *http.Request) (string, error) {
	if cookie, err := r.Cookie(sessionCookieName); err == nil && cookie.Value != "" {
		return cookie.Value, nil
	}

	sessionID, err := session.NewSessionID()
	if err != nil {
		return "", err
	}

	http.SetCookie(w, &http.Cookie{
		Name:     sessionCookieName,
		Value:    sessionID,
		Path:     "/",
		Domain:   h.config.CookieDomain,
		MaxAge:   h.config.SessionMaxAge,
		HttpOnly: true,
		Secure:   h.config.CookieSecure,
		SameSite: http.SameSiteLaxMode,
	})
	return sessionID, nil
}

// validateCredentials はメールアドレスとパスワードの必須チェックを行う。
func validateCredentials(email, password string) *model.APIError {
	if strings.TrimSpace(email) == "" {
		return model.NewMissingFieldError("email")
	}
	if password == "" {
		return model.NewMissingFieldError("password")
	}
	return nil
}

func internalError() *model.APIError {
	return &model.APIError{
		Code:     "INTERNAL_ERROR",
		Message:  "内部エラーが発生しました。",
		Category: "system",
		Action:   "しばらく待ってから再度お試しください。",
	}
}
