package handler

import (
	"context"
	"net/http"
	"strings"

	"github.com/maks-bond/hike-coverage/internal/model"
)

// maxUserNameLength は所有者名の最大文字数。
const maxUserNameLength = 128

// IdentityServiceInterface は所有者名ハンドラーが必要とするサービスインターフェース。
type IdentityServiceInterface interface {
	// Owner は所有者名を返す。未設定の場合は空文字列。
	Owner() string
	// SetOwner は所有者名を一度だけ設定する。
	SetOwner(ctx context.Context, name string) error
}

// IdentityHandler は所有者名のHTTPハンドラー。
type IdentityHandler struct {
	service IdentityServiceInterface
}

// NewIdentityHandler はIdentityHandlerを生成する。
func NewIdentityHandler(service IdentityServiceInterface) *IdentityHandler {
	return &IdentityHandler{service: service}
}

// setIdentityRequest は所有者名設定リクエストのボディ。
type setIdentityRequest struct {
	UserName string `json:"user_name"`
}

// identityResponse は所有者名のAPIレスポンス。
type identityResponse struct {
	UserName string `json:"user_name"`
	IsSet    bool   `json:"is_set"`
}

// Get は所有者名を返す。
// GET /api/identity
func (h *IdentityHandler) Get(w http.ResponseWriter, r *http.Request) {
	name := h.service.Owner()
	writeJSON(w, http.StatusOK, identityResponse{UserName: name, IsSet: name != ""})
}

// Set は所有者名を設定する。設定済みの場合は409を返す。
// PUT /api/identity
func (h *IdentityHandler) Set(w http.ResponseWriter, r *http.Request) {
	var req setIdentityRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if len([]rune(strings.TrimSpace(req.UserName))) > maxUserNameLength {
		handleServiceError(w, model.NewInvalidRequestError("user_nameが長すぎます"))
		return
	}

	if err := h.service.SetOwner(r.Context(), req.UserName); err != nil {
		handleServiceError(w, err)
		return
	}

	name := h.service.Owner()
	writeJSON(w, http.StatusOK, identityResponse{UserName: name, IsSet: name != ""})
}
