// Package task はタスク管理のドメインロジックを提供する。
// 全操作が認証済みユーザー（所有者）にスコープされ、他ユーザーのタスクは
// 存在しないタスクと区別できない。
package task

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/hitoshi/taskdeck/internal/model"
	"github.com/hitoshi/taskdeck/internal/repository"
)

// Input はタスク作成・更新の入力フィールド。
// nilのフィールドは「指定なし」を表し、更新時は既存値を維持する。
// 所有者は入力に含まれない。常に認証済みユーザーのIDで決定される。
type Input struct {
	Title       *string
	Description *string
	Completed   *bool
	DueDate     *string // RFC3339形式のタイムスタンプ
	Priority    *string
	Tags        []string
}

// Sanitizer はタスクのテキストフィールドからマークアップを除去するインターフェース。
type Sanitizer interface {
	Sanitize(raw string) string
}

// MetricsRecorder はタスク操作のメトリクス記録インターフェース。
// nil実装を許容するためServiceはnilチェックの上で呼び出す。
type MetricsRecorder interface {
	RecordTaskCreated()
	RecordTaskDeleted()
}

// Service はタスク管理のサービス層。
type Service struct {
	taskRepo  repository.TaskRepository
	sanitizer Sanitizer
	metrics   MetricsRecorder
}

// NewService はServiceを生成する。metricsはnilでもよい。
func NewService(taskRepo repository.TaskRepository, sanitizer Sanitizer, metrics MetricsRecorder) *Service {
	return &Service{
		taskRepo:  taskRepo,
		sanitizer: sanitizer,
		metrics:   metrics,
	}
}

// List は所有者のタスク一覧を作成日時降順で返す。
func (s *Service) List(ctx context.Context, ownerID string) ([]*model.Task, error) {
	tasks, err := s.taskRepo.ListByUserID(ctx, ownerID)
	if err != nil {
		return nil, fmt.Errorf("failed to list tasks: %w", err)
	}
	return tasks, nil
}

// Create はフィールドを検証し、所有者を認証済みユーザーに固定してタスクを作成する。
// バリデーション失敗時はフィールド単位のエラーを含むAPIErrorを返し、何も永続化しない。
func (s *Service) Create(ctx context.Context, ownerID string, in Input) (*model.Task, error) {
	var fields []model.FieldError

	title := ""
	if in.Title != nil {
		title = strings.TrimSpace(s.sanitize(*in.Title))
	}
	if title == "" {
		fields = append(fields, model.FieldError{Field: "title", Message: "タイトルは必須です。"})
	} else if len([]rune(title)) > model.TitleMaxLength {
		fields = append(fields, model.FieldError{
			Field:   "title",
			Message: fmt.Sprintf("タイトルは%d文字以内で入力してください。", model.TitleMaxLength),
		})
	}

	priority := model.PriorityMedium
	if in.Priority != nil {
		priority = model.Priority(*in.Priority)
		if !priority.IsValid() {
			fields = append(fields, model.FieldError{
				Field:   "priority",
				Message: "優先度にはHigh、Medium、Lowのいずれかを指定してください。",
			})
		}
	}

	var dueDate *time.Time
	if in.DueDate != nil {
		t, err := parseDueDate(*in.DueDate)
		if err != nil {
			fields = append(fields, model.FieldError{
				Field:   "dueDate",
				Message: "期限はRFC3339形式のタイムスタンプで指定してください。",
			})
		} else {
			dueDate = t
		}
	}

	if len(fields) > 0 {
		return nil, model.NewValidationError(fields)
	}

	now := time.Now()
	task := &model.Task{
		ID:        uuid.New().String(),
		UserID:    ownerID, // クライアント指定の所有者は受け付けない
		Title:     title,
		Completed: false,
		DueDate:   dueDate,
		Priority:  priority,
		Tags:      []string{},
		CreatedAt: now,
		UpdatedAt: now,
	}
	if in.Description != nil {
		task.Description = s.sanitize(*in.Description)
	}
	if in.Completed != nil {
		task.Completed = *in.Completed
	}
	if in.Tags != nil {
		task.Tags = in.Tags
	}

	if err := s.taskRepo.Create(ctx, task); err != nil {
		return nil, fmt.Errorf("failed to create task: %w", err)
	}

	if s.metrics != nil {
		s.metrics.RecordTaskCreated()
	}

	return task, nil
}

// Get は所有者のタスクを取得する。
// 存在しない・他ユーザー所有・ID形式不正はすべてTASK_NOT_FOUNDとして扱う。
func (s *Service) Get(ctx context.Context, ownerID, taskID string) (*model.Task, error) {
	if !isValidTaskID(taskID) {
		return nil, model.NewTaskNotFoundError(taskID)
	}

	task, err := s.taskRepo.FindByIDAndUserID(ctx, taskID, ownerID)
	if err != nil {
		return nil, fmt.Errorf("failed to find task: %w", err)
	}
	if task == nil {
		return nil, model.NewTaskNotFoundError(taskID)
	}

	return task, nil
}

// Update は所有者のタスクに部分更新を適用する。
// 指定されたフィールドのみを検証・マージし、空の入力では何も変更しない。
func (s *Service) Update(ctx context.Context, ownerID, taskID string, in Input) (*model.Task, error) {
	if !isValidTaskID(taskID) {
		return nil, model.NewTaskNotFoundError(taskID)
	}

	var fields []model.FieldError

	var title string
	if in.Title != nil {
		title = strings.TrimSpace(s.sanitize(*in.Title))
		if title == "" {
			fields = append(fields, model.FieldError{Field: "title", Message: "タイトルは必須です。"})
		} else if len([]rune(title)) > model.TitleMaxLength {
			fields = append(fields, model.FieldError{
				Field:   "title",
				Message: fmt.Sprintf("タイトルは%d文字以内で入力してください。", model.TitleMaxLength),
			})
		}
	}

	if in.Priority != nil && !model.Priority(*in.Priority).IsValid() {
		fields = append(fields, model.FieldError{
			Field:   "priority",
			Message: "優先度にはHigh、Medium、Lowのいずれかを指定してください。",
		})
	}

	var dueDate *time.Time
	if in.DueDate != nil {
		t, err := parseDueDate(*in.DueDate)
		if err != nil {
			fields = append(fields, model.FieldError{
				Field:   "dueDate",
				Message: "期限はRFC3339形式のタイムスタンプで指定してください。",
			})
		} else {
			dueDate = t
		}
	}

	if len(fields) > 0 {
		return nil, model.NewValidationError(fields)
	}

	task, err := s.taskRepo.FindByIDAndUserID(ctx, taskID, ownerID)
	if err != nil {
		return nil, fmt.Errorf("failed to find task: %w", err)
	}
	if task == nil {
		return nil, model.NewTaskNotFoundError(taskID)
	}

	// 指定されたフィールドのみをマージする。所有者は変更対象外。
	if in.Title != nil {
		task.Title = title
	}
	if in.Description != nil {
		task.Description = s.sanitize(*in.Description)
	}
	if in.Completed != nil {
		task.Completed = *in.Completed
	}
	if in.DueDate != nil {
		task.DueDate = dueDate
	}
	if in.Priority != nil {
		task.Priority = model.Priority(*in.Priority)
	}
	if in.Tags != nil {
		task.Tags = in.Tags
	}
	task.UpdatedAt = time.Now()

	updated, err := s.taskRepo.Update(ctx, task)
	if err != nil {
		return nil, fmt.Errorf("failed to update task: %w", err)
	}
	if !updated {
		// 取得と更新の間に削除された場合
		return nil, model.NewTaskNotFoundError(taskID)
	}

	return task, nil
}

// Delete は所有者のタスクを削除する。
func (s *Service) Delete(ctx context.Context, ownerID, taskID string) error {
	if !isValidTaskID(taskID) {
		return model.NewTaskNotFoundError(taskID)
	}

	deleted, err := s.taskRepo.DeleteByIDAndUserID(ctx, taskID, ownerID)
	if err != nil {
		return fmt.Errorf("failed to delete task: %w", err)
	}
	if !deleted {
		return model.NewTaskNotFoundError(taskID)
	}

	if s.metrics != nil {
		s.metrics.RecordTaskDeleted()
	}

	return nil
}

// sanitize はサニタイザ未設定の場合に入力をそのまま返す。
func (s *Service) sanitize(raw string) string {
	if s.sanitizer == nil {
		return raw
	}
	return s.sanitizer.Sanitize(raw)
}

// isValidTaskID はタスクIDがレコードを指し得る形式かどうかを判定する。
// 形式不正のIDは「存在しないタスク」と同一に扱う（存在の漏洩防止と
// DBへの不正なUUIDリテラルの送出回避）。
func isValidTaskID(id string) bool {
	_, err := uuid.Parse(id)
	return err == nil
}

// parseDueDate はRFC3339形式の期限文字列をパースする。
func parseDueDate(raw string) (*time.Time, error) {
	t, err := time.Parse(time.RFC3339, raw)
	if err != nil {
		return nil, err
	}
	return &t, nil
}
