package handler

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/hitoshi/tsunagu/internal/middleware"
	"github.com/hitoshi/tsunagu/internal/model"
)

// maxProfileBodyBytes はプロフィール更新リクエストのボディ上限。
const maxProfileBodyBytes = 16 << 10

// ProfileServiceInterface はプロフィールハンドラーが必要とするサービスインターフェース。
type ProfileServiceInterface interface {
	Get(ctx context.Context, userID string) (*model.Profile, error)
	UpdateTags(ctx context.Context, userID string, tags []string) ([]string, error)
	UpdateAgreement(ctx context.Context, userID string, agreed bool) error
}

// ProfileHandler はプロフィールのHTTPハンドラー。
type ProfileHandler struct {
	service ProfileServiceInterface
}

// NewProfileHandler はProfileHandlerを生成する。
func NewProfileHandler(service ProfileServiceInterface) *ProfileHandler {
	return &ProfileHandler{service: service}
}

// profileResponse はプロフィールのレスポンス。
type profileResponse struct {
	UserID             string   `json:"userId"`
	DisplayName        string   `json:"displayName"`
	AvatarURL          string   `json:"avatarUrl,omitempty"`
	Agreement          bool     `json:"agreement"`
	Tags               []string `json:"tags"`
	VerificationStatus string   `json:"verificationStatus,omitempty"`
	LineNotifyEnabled  bool     `json:"lineNotifyEnabled"`
}

// GetProfile はログインユーザーのプロフィールを返す。
// GET /api/profile
func (h *ProfileHandler) GetProfile(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUserID(w, r)
	if !ok {
		return
	}

	p, err := h.service.Get(r.Context(), userID)
	if err != nil {
		handleServiceError(w, err)
		return
	}

	middleware.WriteJSON(w, http.StatusOK, profileResponse{
		UserID:             p.UserID,
		DisplayName:        p.DisplayName,
		AvatarURL:          p.AvatarURL,
		Agreement:          p.Agreement,
		Tags:               p.Tags,
		VerificationStatus: string(p.VerificationStatus),
		LineNotifyEnabled:  p.LineNotifyEnabled,
	})
}

type updateTagsRequest struct {
	Tags []string `json:"tags"`
}

// UpdateTags はタグ一覧を置き換える。
// PUT /api/profile/tags
func (h *ProfileHandler) UpdateTags(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUserID(w, r)
	if !ok {
		return
	}

	var req updateTagsRequest
	if !decodeJSONBody(w, r, &req) {
		return
	}
	if req.Tags == nil {
		middleware.WriteErrorResponse(w, http.StatusBadRequest, model.NewInvalidBodyError("tagsは必須です").APIError)
		return
	}

	tags, err := h.service.UpdateTags(r.Context(), userID, req.Tags)
	if err != nil {
		handleServiceError(w, err)
		return
	}

	middleware.WriteJSON(w, http.StatusOK, map[string][]string{"tags": tags})
}

type updateAgreementRequest struct {
	Agreed *bool `json:"agreed"`
}

// UpdateAgreement は利用規約への同意状態を更新する。
// PUT /api/profile/agreement
func (h *ProfileHandler) UpdateAgreement(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUserID(w, r)
	if !ok {
		return
	}

	var req updateAgreementRequest
	if !decodeJSONBody(w, r, &req) {
		return
	}
	if req.Agreed == nil {
		middleware.WriteErrorResponse(w, http.StatusBadRequest, model.NewInvalidBodyError("agreedは必須です").APIError)
		return
	}

	if err := h.service.UpdateAgreement(r.Context(), userID, *req.Agreed); err != nil {
		handleServiceError(w, err)
		return
	}

	middleware.WriteJSON(w, http.StatusOK, map[string]bool{"agreement": *req.Agreed})
}

func requireUserID(w http.ResponseWriter, r *http.Request) (string, bool) {
	userID, err := middleware.UserIDFromContext(r.Context())
	if err != nil {
		middleware.WriteErrorResponse(w, http.StatusUnauthorized, model.NewUnauthorizedAPIError())
		return "", false
	}
	return userID, true
}

// decodeJSONBody はサイズ上限付きでJSONボディをデコードする。失敗時はエラーレスポンスを書き込む。
// サイズ超過も他の不正なボディと同じく400の検証エラーとして返す。
func decodeJSONBody(w http.ResponseWriter, r *http.Request, dst any) bool {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxProfileBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		var maxErr *http.MaxBytesError
		if errors.As(err, &maxErr) {
			middleware.WriteErrorResponse(w, http.StatusBadRequest, model.NewPayloadTooLargeError().APIError)
			return false
		}
		middleware.WriteErrorResponse(w, http.StatusBadRequest, model.NewInvalidBodyError("JSONとして解析できません").APIError)
		return false
	}
	return true
}

// handleServiceError はサービス層から返されたエラーを適切なHTTPステータスコードに変換する。
func handleServiceError(w http.ResponseWriter, err error) {
	var vErr *model.ValidationError
	if errors.As(err, &vErr) {
		middleware.WriteErrorResponse(w, http.StatusBadRequest, vErr.APIError)
		return
	}

	// 検証エラー以外は内部サーバーエラーとして扱う
	slog.Error("internal server error", slog.String("error", err.Error()))
	middleware.WriteInternalServerError(w)
}
