package handler

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/hitoshi/filekeep/internal/file"
	"github.com/hitoshi/filekeep/internal/middleware"
	"github.com/hitoshi/filekeep/internal/model"
)

// FileServiceInterface はファイルハンドラーが必要とするサービスインターフェース。
type FileServiceInterface interface {
	Create(ctx context.Context, in file.CreateInput) (*model.File, error)
	List(ctx context.Context, ownerID string, parentID int64, page int) ([]*model.File, error)
	Count(ctx context.Context, ownerID string, parentID int64) (int64, error)
	GetByID(ctx context.Context, ownerID string, fileID int64) (*model.File, error)
	SetVisibility(ctx context.Context, ownerID string, fileID int64, isPublic bool) (*model.File, error)
	GetRawData(ctx context.Context, requesterID string, fileID int64, width int) ([]byte, string, error)
	ThumbnailStatus(ctx context.Context, ownerID string, fileID int64) (*model.ThumbnailJob, error)
}

// FileHandler はファイル管理のHTTPハンドラー。
type FileHandler struct {
	service        FileServiceInterface
	maxUploadBytes int64
}

// NewFileHandler はFileHandlerを生成する。maxUploadBytesはアップロードのリクエストボディ上限。
func NewFileHandler(service FileServiceInterface, maxUploadBytes int64) *FileHandler {
	return &FileHandler{service: service, maxUploadBytes: maxUploadBytes}
}

// fileResponse はファイルのAPIレスポンス。本体の保存名は返さない。
type fileResponse struct {
	ID        int64     `json:"id"`
	UserID    string    `json:"userId"`
	Name      string    `json:"name"`
	Type      string    `json:"type"`
	IsPublic  bool      `json:"isPublic"`
	ParentID  int64     `json:"parentId"`
	CreatedAt time.Time `json:"createdAt"`
}

func toFileResponse(f *model.File) fileResponse {
	return fileResponse{
		ID:        f.ID,
		UserID:    f.OwnerID,
		Name:      f.Name,
		Type:      string(f.Kind),
		IsPublic:  f.IsPublic,
		ParentID:  f.ParentID,
		CreatedAt: f.CreatedAt,
	}
}

type thumbnailStatusResponse struct {
	FileID int64  `json:"fileId"`
	Status string `json:"status"`
	Error  string `json:"error,omitempty"`
}

var errInvalidParentID = errors.New("invalid parentId")

// parentIDParam はJSONの数値と数字文字列の両方を受け付ける親ID。
type parentIDParam int64

// UnmarshalJSON は 0, "0", null のいずれの形式も受け付ける。
func (p *parentIDParam) UnmarshalJSON(b []byte) error {
	s := strings.Trim(string(b), `"`)
	if s == "" || s == "null" {
		*p = parentIDParam(model.RootParentID)
		return nil
	}
	n, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return errInvalidParentID
	}
	*p = parentIDParam(n)
	return nil
}

type uploadRequest struct {
	Name     string        `json:"name"`
	Type     string        `json:"type"`
	ParentID parentIDParam `json:"parentId"`
	IsPublic bool          `json:"isPublic"`
	Data     string        `json:"data"` // base64
}

// Upload はファイルまたはフォルダを作成する。
// POST /files
func (h *FileHandler) Upload(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUserID(w, r)
	if !ok {
		return
	}

	var req uploadRequest
	r.Body = http.MaxBytesReader(w, r.Body, h.maxUploadBytes)
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		var maxErr *http.MaxBytesError
		switch {
		case errors.As(err, &maxErr):
			writeAPIErrorResponse(w, http.StatusRequestEntityTooLarge, model.NewValidationError("File too large"))
		case errors.Is(err, errInvalidParentID):
			writeAPIErrorResponse(w, http.StatusBadRequest, model.NewValidationError("Parent not found"))
		default:
			writeAPIErrorResponse(w, http.StatusBadRequest, model.NewValidationError("Invalid JSON body"))
		}
		return
	}

	data, err := base64.StdEncoding.DecodeString(req.Data)
	if err != nil {
		writeAPIErrorResponse(w, http.StatusBadRequest, model.NewValidationError("Invalid data"))
		return
	}

	f, err := h.service.Create(r.Context(), file.CreateInput{
		OwnerID:  userID,
		Name:     req.Name,
		Type:     req.Type,
		ParentID: int64(req.ParentID),
		IsPublic: req.IsPublic,
		Data:     data,
	})
	if err != nil {
		handleServiceError(w, err)
		return
	}

	writeJSON(w, http.StatusCreated, toFileResponse(f))
}

// List はログインユーザーのファイル一覧を返す。総件数はX-Total-Countヘッダーで返す。
// GET /files?parentId=&page=
func (h *FileHandler) List(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUserID(w, r)
	if !ok {
		return
	}

	parentID := model.RootParentID
	if v := r.URL.Query().Get("parentId"); v != "" {
		n, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			// 存在しない親と同様に空の一覧を返す
			w.Header().Set("X-Total-Count", "0")
			writeJSON(w, http.StatusOK, []fileResponse{})
			return
		}
		parentID = n
	}

	// 不正なページ番号は先頭ページとして扱う
	page, _ := strconv.Atoi(r.URL.Query().Get("page"))

	files, err := h.service.List(r.Context(), userID, parentID, page)
	if err != nil {
		handleServiceError(w, err)
		return
	}
	total, err := h.service.Count(r.Context(), userID, parentID)
	if err != nil {
		handleServiceError(w, err)
		return
	}

	resp := make([]fileResponse, len(files))
	for i, f := range files {
		resp[i] = toFileResponse(f)
	}
	w.Header().Set("X-Total-Count", strconv.FormatInt(total, 10))
	writeJSON(w, http.StatusOK, resp)
}

// Get はファイルのメタデータを返す。
// GET /files/{id}
func (h *FileHandler) Get(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUserID(w, r)
	if !ok {
		return
	}
	fileID, ok := fileIDParam(w, r)
	if !ok {
		return
	}

	f, err := h.service.GetByID(r.Context(), userID, fileID)
	if err != nil {
		handleServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toFileResponse(f))
}

// Publish はファイルを公開する。
// PUT /files/{id}/publish
func (h *FileHandler) Publish(w http.ResponseWriter, r *http.Request) {
	h.setVisibility(w, r, true)
}

// Unpublish はファイルを非公開にする。
// PUT /files/{id}/unpublish
func (h *FileHandler) Unpublish(w http.ResponseWriter, r *http.Request) {
	h.setVisibility(w, r, false)
}

func (h *FileHandler) setVisibility(w http.ResponseWriter, r *http.Request, isPublic bool) {
	userID, ok := requireUserID(w, r)
	if !ok {
		return
	}
	fileID, ok := fileIDParam(w, r)
	if !ok {
		return
	}

	f, err := h.service.SetVisibility(r.Context(), userID, fileID, isPublic)
	if err != nil {
		handleServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toFileResponse(f))
}

// Data はファイル本体を返す。sizeを指定した場合はその幅のサムネイルを返す。
// トークンは任意で、未認証の場合は公開ファイルのみ取得できる。
// GET /files/{id}/data?size=
func (h *FileHandler) Data(w http.ResponseWriter, r *http.Request) {
	requesterID, _ := middleware.UserIDFromContext(r.Context())
	fileID, ok := fileIDParam(w, r)
	if !ok {
		return
	}

	width := 0
	if v := r.URL.Query().Get("size"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			writeAPIErrorResponse(w, http.StatusBadRequest, model.NewValidationError("Invalid size"))
			return
		}
		width = n
	}

	data, contentType, err := h.service.GetRawData(r.Context(), requesterID, fileID, width)
	if err != nil {
		handleServiceError(w, err)
		return
	}

	w.Header().Set("Content-Type", contentType)
	w.Header().Set("Content-Length", strconv.Itoa(len(data)))
	w.WriteHeader(http.StatusOK)
	if _, err := w.Write(data); err != nil {
		slog.Error("failed to write file data",
			slog.Int64("file_id", fileID),
			slog.String("error", err.Error()),
		)
	}
}

// Thumbnails はサムネイル生成ジョブの状態を返す。
// GET /files/{id}/thumbnails
func (h *FileHandler) Thumbnails(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUserID(w, r)
	if !ok {
		return
	}
	fileID, ok := fileIDParam(w, r)
	if !ok {
		return
	}

	job, err := h.service.ThumbnailStatus(r.Context(), userID, fileID)
	if err != nil {
		handleServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, thumbnailStatusResponse{
		FileID: job.FileID,
		Status: string(job.Status),
		Error:  job.ErrorMessage,
	})
}

// fileIDParam はURLパスの{id}を解析する。数値でない場合は存在しないIDと同様に404を書き込む。
func fileIDParam(w http.ResponseWriter, r *http.Request) (int64, bool) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil || id <= 0 {
		writeAPIErrorResponse(w, http.StatusNotFound, model.NewNotFoundError())
		return 0, false
	}
	return id, true
}
