package handler

import (
	"encoding/json"
	"net/http"

	"github.com/hitoshi/bakeman/internal/middleware"
	"github.com/hitoshi/bakeman/internal/model"
	"github.com/hitoshi/bakeman/internal/store"
)

// defaultLanguage は言語設定が未保存の場合に返す値。
const defaultLanguage = "th"

// supportedLanguages はUIがサポートする言語コード。
var supportedLanguages = map[string]bool{
	"th": true,
	"en": true,
}

// PreferenceHandler はユーザー設定のHTTPハンドラー。
// 設定はユーザーIDから導出されるキーで永続ストアに保存される。
type PreferenceHandler struct {
	store store.DurableStore
}

// NewPreferenceHandler はPreferenceHandlerを生成する。
func NewPreferenceHandler(durable store.DurableStore) *PreferenceHandler {
	return &PreferenceHandler{store: durable}
}

// languageBody は言語設定のリクエスト・レスポンスのボディ。
type languageBody struct {
	Language string `json:"language"`
}

// GetLanguage は表示言語設定を返す。未設定の場合はデフォルト言語。
// GET /api/preferences/language
func (h *PreferenceHandler) GetLanguage(w http.ResponseWriter, r *http.Request) {
	user, err := middleware.UserFromContext(r.Context())
	if err != nil {
		writeUnauthorized(w)
		return
	}

	value, found, err := h.store.Get(r.Context(), store.LanguageKey(user.ID))
	if err != nil {
		handleServiceError(w, err)
		return
	}

	language := defaultLanguage
	if found {
		var body languageBody
		if jsonErr := json.Unmarshal(value, &body); jsonErr == nil && supportedLanguages[body.Language] {
			language = body.Language
		}
	}

	writeJSON(w, http.StatusOK, languageBody{Language: language})
}

// PutLanguage は表示言語設定を保存する。
// PUT /api/preferences/language
func (h *PreferenceHandler) PutLanguage(w http.ResponseWriter, r *http.Request) {
	user, err := middleware.UserFromContext(r.Context())
	if err != nil {
		writeUnauthorized(w)
		return
	}

	var req languageBody
	if decodeErr := json.NewDecoder(r.Body).Decode(&req); decodeErr != nil {
		writeInvalidRequestBody(w)
		return
	}

	if !supportedLanguages[req.Language] {
		writeAPIErrorResponse(w, http.StatusBadRequest, &model.APIError{
			Code:     "VALIDATION_UNSUPPORTED_LANGUAGE",
			Message:  "サポートされていない言語コードです。",
			Category: "validation",
			Action:   "th または en を指定してください。",
		})
		return
	}

	data, err := json.Marshal(languageBody{Language: req.Language})
	if err != nil {
		handleServiceError(w, err)
		return
	}
	if err := h.store.Set(r.Context(), store.LanguageKey(user.ID), data); err != nil {
		handleServiceError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, languageBody{Language: req.Language})
}
