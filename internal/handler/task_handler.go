package handler

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/hitoshi/taskdeck/internal/middleware"
	"github.com/hitoshi/taskdeck/internal/model"
	"github.com/hitoshi/taskdeck/internal/task"
)

// TaskServiceInterface はタスクハンドラーが必要とするサービスインターフェース。
type TaskServiceInterface interface {
	List(ctx context.Context, ownerID string) ([]*model.Task, error)
	Create(ctx context.Context, ownerID string, in task.Input) (*model.Task, error)
	Get(ctx context.Context, ownerID, taskID string) (*model.Task, error)
	Update(ctx context.Context, ownerID, taskID string, in task.Input) (*model.Task, error)
	Delete(ctx context.Context, ownerID, taskID string) error
}

// TaskHandler はタスクCRUDのHTTPハンドラー。
// 全エンドポイントはセッションミドルウェアの内側に配置され、
// コンテキストの認証済みユーザーIDで操作をスコープする。
type TaskHandler struct {
	service TaskServiceInterface
}

// NewTaskHandler はTaskHandlerを生成する。
func NewTaskHandler(service TaskServiceInterface) *TaskHandler {
	return &TaskHandler{service: service}
}

// taskRequest はタスク作成・更新リクエストのボディ。
// nilのフィールドは「指定なし」として扱う。
type taskRequest struct {
	Title       *string  `json:"title"`
	Description *string  `json:"description"`
	Completed   *bool    `json:"completed"`
	DueDate     *string  `json:"dueDate"`
	Priority    *string  `json:"priority"`
	Tags        []string `json:"tags"`
}

// taskResponse はタスク情報のAPIレスポンス。
type taskResponse struct {
	ID          string     `json:"id"`
	Title       string     `json:"title"`
	Description string     `json:"description"`
	Completed   bool       `json:"completed"`
	CreatedBy   string     `json:"createdBy"`
	DueDate     *time.Time `json:"dueDate"`
	Priority    string     `json:"priority"`
	Tags        []string   `json:"tags"`
	CreatedAt   time.Time  `json:"createdAt"`
	UpdatedAt   time.Time  `json:"updatedAt"`
}

// ListTasks は認証済みユーザーのタスク一覧を返す。
// GET /api/tasks
func (h *TaskHandler) ListTasks(w http.ResponseWriter, r *http.Request) {
	userID, err := middleware.UserIDFromContext(r.Context())
	if err != nil {
		writeAPIErrorResponse(w, http.StatusUnauthorized, model.NewUnauthorizedError())
		return
	}

	tasks, err := h.service.List(r.Context(), userID)
	if err != nil {
		handleServiceError(w, err)
		return
	}

	responses := make([]taskResponse, 0, len(tasks))
	for _, t := range tasks {
		responses = append(responses, toTaskResponse(t))
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(responses)
}

// CreateTask はタスクを作成する。
// POST /api/tasks
// 所有者は常に認証済みユーザー。ボディで指定された所有者情報は無視される。
func (h *TaskHandler) CreateTask(w http.ResponseWriter, r *http.Request) {
	userID, err := middleware.UserIDFromContext(r.Context())
	if err != nil {
		writeAPIErrorResponse(w, http.StatusUnauthorized, model.NewUnauthorizedError())
		return
	}

	req, ok := decodeTaskRequest(w, r)
	if !ok {
		return
	}

	created, err := h.service.Create(r.Context(), userID, toTaskInput(req))
	if err != nil {
		handleServiceError(w, err)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusCreated)
	json.NewEncoder(w).Encode(toTaskResponse(created))
}

// GetTask はタスク詳細を取得する。
// GET /api/tasks/:id
// 他ユーザー所有のタスクは存在しないタスクと同様に404を返す。
func (h *TaskHandler) GetTask(w http.ResponseWriter, r *http.Request) {
	userID, err := middleware.UserIDFromContext(r.Context())
	if err != nil {
		writeAPIErrorResponse(w, http.StatusUnauthorized, model.NewUnauthorizedError())
		return
	}

	taskID := chi.URLParam(r, "id")

	found, err := h.service.Get(r.Context(), userID, taskID)
	if err != nil {
		handleServiceError(w, err)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(toTaskResponse(found))
}

// UpdateTask はタスクに部分更新を適用する。
// PUT /api/tasks/:id
// ボディに含まれるフィールドのみ更新する。空ボディの場合は何も変更せず現状を返す。
func (h *TaskHandler) UpdateTask(w http.ResponseWriter, r *http.Request) {
	userID, err := middleware.UserIDFromContext(r.Context())
	if err != nil {
		writeAPIErrorResponse(w, http.StatusUnauthorized, model.NewUnauthorizedError())
		return
	}

	taskID := chi.URLParam(r, "id")

	req, ok := decodeTaskRequest(w, r)
	if !ok {
		return
	}

	updated, err := h.service.Update(r.Context(), userID, taskID, toTaskInput(req))
	if err != nil {
		handleServiceError(w, err)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(toTaskResponse(updated))
}

// DeleteTask はタスクを削除する。
// DELETE /api/tasks/:id
func (h *TaskHandler) DeleteTask(w http.ResponseWriter, r *http.Request) {
	userID, err := middleware.UserIDFromContext(r.Context())
	if err != nil {
		writeAPIErrorResponse(w, http.StatusUnauthorized, model.NewUnauthorizedError())
		return
	}

	taskID := chi.URLParam(r, "id")

	if err := h.service.Delete(r.Context(), userID, taskID); err != nil {
		handleServiceError(w, err)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	json.NewEncoder(w).Encode(map[string]string{
		"message": "タスクを削除しました。",
	})
}

// --- ヘルパー関数 ---

// decodeTaskRequest はリクエストボディを解析する。
// 解析失敗時は400レスポンスを書き込みfalseを返す。
func decodeTaskRequest(w http.ResponseWriter, r *http.Request) (taskRequest, bool) {
	var req taskRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeAPIErrorResponse(w, http.StatusBadRequest, &model.APIError{
			Code:     model.ErrCodeInvalidRequest,
			Message:  "リクエストボディの解析に失敗しました。",
			Category: "validation",
			Action:   "正しいJSON形式でリクエストしてください。",
		})
		return taskRequest{}, false
	}
	return req, true
}

// toTaskInput はリクエストボディをサービス層の入力に変換する。
func toTaskInput(req taskRequest) task.Input {
	return task.Input{
		Title:       req.Title,
		Description: req.Description,
		Completed:   req.Completed,
		DueDate:     req.DueDate,
		Priority:    req.Priority,
		Tags:        req.Tags,
	}
}

// toTaskResponse はmodel.TaskからAPIレスポンスに変換する。
func toTaskResponse(t *model.Task) taskResponse {
	tags := t.Tags
	if tags == nil {
		tags = []string{}
	}
	return taskResponse{
		ID:          t.ID,
		Title:       t.Title,
		Description: t.Description,
		Completed:   t.Completed,
		CreatedBy:   t.UserID,
		DueDate:     t.DueDate,
		Priority:    string(t.Priority),
		Tags:        tags,
		CreatedAt:   t.CreatedAt,
		UpdatedAt:   t.UpdatedAt,
	}
}

// apiErrorResponse は統一エラーフォーマットのレスポンス。
type apiErrorResponse struct {
	Code     string             `json:"code"`
	Message  string             `json:"message"`
	Category string             `json:"category"`
	Action   string             `json:"action"`
	Fields   []model.FieldError `json:"fields,omitempty"`
}

// writeAPIErrorResponse は統一エラーフォーマットでエラーレスポンスを書き込む。
func writeAPIErrorResponse(w http.ResponseWriter, statusCode int, apiErr *model.APIError) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	json.NewEncoder(w).Encode(apiErrorResponse{
		Code:     apiErr.Code,
		Message:  apiErr.Message,
		Category: apiErr.Category,
		Action:   apiErr.Action,
		Fields:   apiErr.Fields,
	})
}

// handleServiceError はサービス層から返されたエラーを適切なHTTPステータスコードに変換する。
func handleServiceError(w http.ResponseWriter, err error) {
	var apiErr *model.APIError
	if errors.As(err, &apiErr) {
		writeAPIErrorResponse(w, mapAPIErrorToHTTPStatus(apiErr), apiErr)
		return
	}

	// APIError以外のエラーは内部サーバーエラーとして扱う。
	// 内部詳細はログのみに記録し、クライアントには漏らさない。
	slog.Error("internal server error", slog.String("error", err.Error()))
	writeAPIErrorResponse(w, http.StatusInternalServerError, &model.APIError{
		Code:     "INTERNAL_ERROR",
		Message:  "内部エラーが発生しました。",
		Category: "system",
		Action:   "しばらく待ってから再度お試しください。",
	})
}

// mapAPIErrorToHTTPStatus はAPIErrorコードからHTTPステータスコードにマッピングする。
func mapAPIErrorToHTTPStatus(apiErr *model.APIError) int {
	switch apiErr.Code {
	case model.ErrCodeValidationFailed, model.ErrCodeInvalidRequest:
		return http.StatusBadRequest
	case model.ErrCodeUnauthorized:
		return http.StatusUnauthorized
	case model.ErrCodeTaskNotFound, model.ErrCodeUserNotFound:
		return http.StatusNotFound
	case model.ErrCodeAuthProvider:
		return http.StatusInternalServerError
	default:
		return http.StatusInternalServerError
	}
}
