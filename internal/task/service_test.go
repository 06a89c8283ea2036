package task

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/hitoshi/taskdeck/internal/model"
	"github.com/hitoshi/taskdeck/internal/repository"
)

// --- モック定義 ---

type mockTaskRepo struct {
	listByUserIDFn      func(ctx context.Context, userID string) ([]*model.Task, error)
	findByIDAndUserFn   func(ctx context.Context, id, userID string) (*model.Task, error)
	createFn            func(ctx context.Context, task *model.Task) error
	updateFn            func(ctx context.Context, task *model.Task) (bool, error)
	deleteByIDAndUserFn func(ctx context.Context, id, userID string) (bool, error)
	deleteByUserIDFn    func(ctx context.Context, userID string) error
}

func (m *mockTaskRepo) ListByUserID(ctx context.Context, userID string) ([]*model.Task, error) {
	if m.listByUserIDFn != nil {
		return m.listByUserIDFn(ctx, userID)
	}
	return nil, nil
}

func (m *mockTaskRepo) FindByIDAndUserID(ctx context.Context, id, userID string) (*model.Task, error) {
	if m.findByIDAndUserFn != nil {
		return m.findByIDAndUserFn(ctx, id, userID)
	}
	return nil, nil
}

func (m *mockTaskRepo) Create(ctx context.Context, task *model.Task) error {
	if m.createFn != nil {
		return m.createFn(ctx, task)
	}
	return nil
}

func (m *mockTaskRepo) Update(ctx context.Context, task *model.Task) (bool, error) {
	if m.updateFn != nil {
		return m.updateFn(ctx, task)
	}
	return true, nil
}

func (m *mockTaskRepo) DeleteByIDAndUserID(ctx context.Context, id, userID string) (bool, error) {
	if m.deleteByIDAndUserFn != nil {
		return m.deleteByIDAndUserFn(ctx, id, userID)
	}
	return true, nil
}

func (m *mockTaskRepo) DeleteByUserID(ctx context.Context, userID string) error {
	if m.deleteByUserIDFn != nil {
		return m.deleteByUserIDFn(ctx, userID)
	}
	return nil
}

var _ repository.TaskRepository = (*mockTaskRepo)(nil)

// passthroughSanitizer はテスト用のサニタイザ。呼び出し確認のみ行う。
type passthroughSanitizer struct {
	calls []string
}

func (s *passthroughSanitizer) Sanitize(raw string) string {
	s.calls = append(s.calls, raw)
	return strings.ReplaceAll(strings.ReplaceAll(raw, "<script>", ""), "</script>", "")
}

func strPtr(s string) *string    { return &s }
func boolPtr(b bool) *bool       { return &b }
func validationFields(t *testing.T, err error) []model.FieldError {
	t.Helper()
	var apiErr *model.APIError
	if !errors.As(err, &apiErr) {
		t.Fatalf("expected APIError, got %T: %v", err, err)
	}
	if apiErr.Code != model.ErrCodeValidationFailed {
		t.Fatalf("error code = %q, want %q", apiErr.Code, model.ErrCodeValidationFailed)
	}
	return apiErr.Fields
}

func assertTaskNotFound(t *testing.T, err error) {
	t.Helper()
	var apiErr *model.APIError
	if !errors.As(err, &apiErr) {
		t.Fatalf("expected APIError, got %T: %v", err, err)
	}
	if apiErr.Code != model.ErrCodeTaskNotFound {
		t.Errorf("error code = %q, want %q", apiErr.Code, model.ErrCodeTaskNotFound)
	}
}

// --- Create ---

func TestCreate_MinimalInput_AppliesDefaults(t *testing.T) {
	ctx := context.Background()

	var created *model.Task
	repo := &mockTaskRepo{
		createFn: func(ctx context.Context, task *model.Task) error {
			created = task
			return nil
		},
	}

	svc := NewService(repo, nil, nil)

	got, err := svc.Create(ctx, "owner-1", Input{Title: strPtr("買い物に行く")})
	if err != nil {
		t.Fatalf("Create() error = %v", err)
	}

	if created == nil {
		t.Fatal("expected task to be persisted")
	}
	if got.ID == "" {
		t.Error("expected non-empty task ID")
	}
	if _, err := uuid.Parse(got.ID); err != nil {
		t.Errorf("task ID should be a UUID: %v", err)
	}
	if got.Title != "買い物に行く" {
		t.Errorf("title = %q, want %q", got.Title, "買い物に行く")
	}
	// デフォルト値の確認
	if got.Priority != model.PriorityMedium {
		t.Errorf("priority = %q, want %q", got.Priority, model.PriorityMedium)
	}
	if got.Completed {
		t.Error("completed should default to false")
	}
	if got.DueDate != nil {
		t.Error("dueDate should default to nil")
	}
	if got.Tags == nil || len(got.Tags) != 0 {
		t.Errorf("tags = %v, want empty slice", got.Tags)
	}
	if got.CreatedAt.IsZero() || got.UpdatedAt.IsZero() {
		t.Error("timestamps should be assigned")
	}
}

// 所有者は常に認証済みユーザーに固定され、入力で上書きできないこと。
func TestCreate_OwnerIsAlwaysAuthenticatedUser(t *testing.T) {
	ctx := context.Background()

	var created *model.Task
	repo := &mockTaskRepo{
		createFn: func(ctx context.Context, task *model.Task) error {
			created = task
			return nil
		},
	}

	svc := NewService(repo, nil, nil)

	_, err := svc.Create(ctx, "owner-legit", Input{Title: strPtr("task")})
	if err != nil {
		t.Fatalf("Create() error = %v", err)
	}

	if created.UserID != "owner-legit" {
		t.Errorf("task owner = %q, want %q", created.UserID, "owner-legit")
	}
}

func TestCreate_MissingTitle_ReturnsFieldError(t *testing.T) {
	ctx := context.Background()

	repo := &mockTaskRepo{
		createFn: func(ctx context.Context, task *model.Task) error {
			t.Error("Create should not persist anything on validation failure")
			return nil
		},
	}
	svc := NewService(repo, nil, nil)

	_, err := svc.Create(ctx, "owner-1", Input{})
	fields := validationFields(t, err)

	if len(fields) != 1 || fields[0].Field != "title" {
		t.Errorf("fields = %+v, want single title error", fields)
	}
}

func TestCreate_WhitespaceTitle_ReturnsFieldError(t *testing.T) {
	ctx := context.Background()
	svc := NewService(&mockTaskRepo{}, nil, nil)

	_, err := svc.Create(ctx, "owner-1", Input{Title: strPtr("   ")})
	fields := validationFields(t, err)

	if len(fields) != 1 || fields[0].Field != "title" {
		t.Errorf("fields = %+v, want single title error", fields)
	}
}

func TestCreate_TitleAtMaxLength_Succeeds(t *testing.T) {
	ctx := context.Background()
	svc := NewService(&mockTaskRepo{}, nil, nil)

	// ちょうど100文字は許容される
	title := strings.Repeat("あ", model.TitleMaxLength)
	got, err := svc.Create(ctx, "owner-1", Input{Title: strPtr(title)})
	if err != nil {
		t.Fatalf("Create() error = %v", err)
	}
	if got.Title != title {
		t.Error("title should be stored unchanged")
	}
}

func TestCreate_TitleOverMaxLength_ReturnsFieldError(t *testing.T) {
	ctx := context.Background()
	svc := NewService(&mockTaskRepo{}, nil, nil)

	// 101文字は拒否される
	title := strings.Repeat("a", model.TitleMaxLength+1)
	_, err := svc.Create(ctx, "owner-1", Input{Title: strPtr(title)})
	fields := validationFields(t, err)

	if len(fields) != 1 || fields[0].Field != "title" {
		t.Errorf("fields = %+v, want single title error", fields)
	}
}

func TestCreate_InvalidPriority_ReturnsFieldError(t *testing.T) {
	ctx := context.Background()
	svc := NewService(&mockTaskRepo{}, nil, nil)

	_, err := svc.Create(ctx, "owner-1", Input{
		Title:    strPtr("task"),
		Priority: strPtr("Urgent"),
	})
	fields := validationFields(t, err)

	if len(fields) != 1 || fields[0].Field != "priority" {
		t.Errorf("fields = %+v, want single priority error", fields)
	}
}

func TestCreate_InvalidDueDate_ReturnsFieldError(t *testing.T) {
	ctx := context.Background()
	svc := NewService(&mockTaskRepo{}, nil, nil)

	_, err := svc.Create(ctx, "owner-1", Input{
		Title:   strPtr("task"),
		DueDate: strPtr("not-a-date"),
	})
	fields := validationFields(t, err)

	if len(fields) != 1 || fields[0].Field != "dueDate" {
		t.Errorf("fields = %+v, want single dueDate error", fields)
	}
}

// 複数の不正フィールドはまとめて報告されること。
func TestCreate_MultipleInvalidFields_ReturnsAllFieldErrors(t *testing.T) {
	ctx := context.Background()
	svc := NewService(&mockTaskRepo{}, nil, nil)

	_, err := svc.Create(ctx, "owner-1", Input{
		Priority: strPtr("Critical"),
		DueDate:  strPtr("2026/01/01"),
	})
	fields := validationFields(t, err)

	if len(fields) != 3 {
		t.Fatalf("len(fields) = %d, want 3 (title, priority, dueDate)", len(fields))
	}
}

func TestCreate_ValidDueDate_IsParsed(t *testing.T) {
	ctx := context.Background()
	svc := NewService(&mockTaskRepo{}, nil, nil)

	got, err := svc.Create(ctx, "owner-1", Input{
		Title:   strPtr("task"),
		DueDate: strPtr("2026-09-01T12:00:00Z"),
	})
	if err != nil {
		t.Fatalf("Create() error = %v", err)
	}

	want := time.Date(2026, 9, 1, 12, 0, 0, 0, time.UTC)
	if got.DueDate == nil || !got.DueDate.Equal(want) {
		t.Errorf("dueDate = %v, want %v", got.DueDate, want)
	}
}

func TestCreate_SanitizesTitleAndDescription(t *testing.T) {
	ctx := context.Background()

	sanitizer := &passthroughSanitizer{}
	svc := NewService(&mockTaskRepo{}, sanitizer, nil)

	got, err := svc.Create(ctx, "owner-1", Input{
		Title:       strPtr("<script>alert(1)</script>buy milk"),
		Description: strPtr("<script>x</script>memo"),
	})
	if err != nil {
		t.Fatalf("Create() error = %v", err)
	}

	if strings.Contains(got.Title, "<script>") {
		t.Errorf("title should be sanitized, got %q", got.Title)
	}
	if strings.Contains(got.Description, "<script>") {
		t.Errorf("description should be sanitized, got %q", got.Description)
	}
	if len(sanitizer.calls) != 2 {
		t.Errorf("sanitizer called %d times, want 2", len(sanitizer.calls))
	}
}

func TestCreate_RecordsMetrics(t *testing.T) {
	ctx := context.Background()

	rec := &recordingMetrics{}
	svc := NewService(&mockTaskRepo{}, nil, rec)

	if _, err := svc.Create(ctx, "owner-1", Input{Title: strPtr("task")}); err != nil {
		t.Fatalf("Create() error = %v", err)
	}

	if rec.created != 1 {
		t.Errorf("created metric = %d, want 1", rec.created)
	}
}

type recordingMetrics struct {
	created int
	deleted int
}

func (r *recordingMetrics) RecordTaskCreated() { r.created++ }
func (r *recordingMetrics) RecordTaskDeleted() { r.deleted++ }

// --- List ---

func TestList_ReturnsOwnerTasksOnly(t *testing.T) {
	ctx := context.Background()

	repo := &mockTaskRepo{
		listByUserIDFn: func(ctx context.Context, userID string) ([]*model.Task, error) {
			if userID != "owner-1" {
				t.Errorf("userID = %q, want %q", userID, "owner-1")
			}
			return []*model.Task{
				{ID: uuid.New().String(), UserID: "owner-1", Title: "t1"},
			}, nil
		},
	}
	svc := NewService(repo, nil, nil)

	tasks, err := svc.List(ctx, "owner-1")
	if err != nil {
		t.Fatalf("List() error = %v", err)
	}
	if len(tasks) != 1 {
		t.Errorf("len(tasks) = %d, want 1", len(tasks))
	}
}

// --- Get ---

func TestGet_MalformedID_ReturnsTaskNotFound(t *testing.T) {
	ctx := context.Background()

	repo := &mockTaskRepo{
		findByIDAndUserFn: func(ctx context.Context, id, userID string) (*model.Task, error) {
			t.Error("repository should not be queried for a malformed ID")
			return nil, nil
		},
	}
	svc := NewService(repo, nil, nil)

	_, err := svc.Get(ctx, "owner-1", "not-a-uuid")
	if err == nil {
		t.Fatal("expected error for malformed task ID")
	}
	assertTaskNotFound(t, err)
}

// 他ユーザー所有のタスクは存在しないタスクと区別できないこと。
func TestGet_OtherOwnersTask_ReturnsTaskNotFound(t *testing.T) {
	ctx := context.Background()

	taskID := uuid.New().String()
	repo := &mockTaskRepo{
		findByIDAndUserFn: func(ctx context.Context, id, userID string) (*model.Task, error) {
			// 所有者スコープの検索なので他人のタスクはヒットしない
			return nil, nil
		},
	}
	svc := NewService(repo, nil, nil)

	_, err := svc.Get(ctx, "owner-2", taskID)
	if err == nil {
		t.Fatal("expected error for another owner's task")
	}
	assertTaskNotFound(t, err)
}

func TestGet_OwnedTask_ReturnsTask(t *testing.T) {
	ctx := context.Background()

	taskID := uuid.New().String()
	repo := &mockTaskRepo{
		findByIDAndUserFn: func(ctx context.Context, id, userID string) (*model.Task, error) {
			return &model.Task{ID: taskID, UserID: userID, Title: "mine"}, nil
		},
	}
	svc := NewService(repo, nil, nil)

	got, err := svc.Get(ctx, "owner-1", taskID)
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if got.ID != taskID {
		t.Errorf("task ID = %q, want %q", got.ID, taskID)
	}
}

// --- Update ---

func TestUpdate_PartialFields_MergesOntoExisting(t *testing.T) {
	ctx := context.Background()

	taskID := uuid.New().String()
	existingDue := time.Date(2026, 1, 15, 0, 0, 0, 0, time.UTC)
	var saved *model.Task

	repo := &mockTaskRepo{
		findByIDAndUserFn: func(ctx context.Context, id, userID string) (*model.Task, error) {
			return &model.Task{
				ID:          taskID,
				UserID:      "owner-1",
				Title:       "old title",
				Description: "old desc",
				Completed:   false,
				DueDate:     &existingDue,
				Priority:    model.PriorityLow,
				Tags:        []string{"old"},
			}, nil
		},
		updateFn: func(ctx context.Context, task *model.Task) (bool, error) {
			saved = task
			return true, nil
		},
	}
	svc := NewService(repo, nil, nil)

	got, err := svc.Update(ctx, "owner-1", taskID, Input{
		Completed: boolPtr(true),
		Priority:  strPtr("High"),
	})
	if err != nil {
		t.Fatalf("Update() error = %v", err)
	}

	// 指定したフィールドのみ変更されること
	if !got.Completed {
		t.Error("completed should be updated to true")
	}
	if got.Priority != model.PriorityHigh {
		t.Errorf("priority = %q, want High", got.Priority)
	}
	// 未指定フィールドは維持されること
	if got.Title != "old title" {
		t.Errorf("title = %q, want unchanged", got.Title)
	}
	if got.DueDate == nil || !got.DueDate.Equal(existingDue) {
		t.Error("dueDate should be unchanged")
	}
	if saved == nil {
		t.Fatal("expected task to be saved")
	}
	if saved.UserID != "owner-1" {
		t.Errorf("owner = %q, want owner-1", saved.UserID)
	}
}

// 空の部分更新は何も変更せず現状のレコードを返すこと。
func TestUpdate_EmptyInput_ChangesNothing(t *testing.T) {
	ctx := context.Background()

	taskID := uuid.New().String()
	repo := &mockTaskRepo{
		findByIDAndUserFn: func(ctx context.Context, id, userID string) (*model.Task, error) {
			return &model.Task{
				ID:       taskID,
				UserID:   "owner-1",
				Title:    "untouched",
				Priority: model.PriorityMedium,
			}, nil
		},
	}
	svc := NewService(repo, nil, nil)

	got, err := svc.Update(ctx, "owner-1", taskID, Input{})
	if err != nil {
		t.Fatalf("Update() error = %v", err)
	}
	if got.Title != "untouched" || got.Priority != model.PriorityMedium || got.Completed {
		t.Errorf("task should be unchanged, got %+v", got)
	}
}

func TestUpdate_InvalidFields_RejectedBeforeFetch(t *testing.T) {
	ctx := context.Background()

	taskID := uuid.New().String()
	repo := &mockTaskRepo{
		findByIDAndUserFn: func(ctx context.Context, id, userID string) (*model.Task, error) {
			t.Error("repository should not be queried when validation fails")
			return nil, nil
		},
	}
	svc := NewService(repo, nil, nil)

	_, err := svc.Update(ctx, "owner-1", taskID, Input{Priority: strPtr("ASAP")})
	fields := validationFields(t, err)
	if len(fields) != 1 || fields[0].Field != "priority" {
		t.Errorf("fields = %+v, want single priority error", fields)
	}
}

func TestUpdate_EmptyTitle_ReturnsFieldError(t *testing.T) {
	ctx := context.Background()
	svc := NewService(&mockTaskRepo{}, nil, nil)

	_, err := svc.Update(ctx, "owner-1", uuid.New().String(), Input{Title: strPtr("  ")})
	fields := validationFields(t, err)
	if len(fields) != 1 || fields[0].Field != "title" {
		t.Errorf("fields = %+v, want single title error", fields)
	}
}

func TestUpdate_OtherOwnersTask_ReturnsTaskNotFound(t *testing.T) {
	ctx := context.Background()

	repo := &mockTaskRepo{
		findByIDAndUserFn: func(ctx context.Context, id, userID string) (*model.Task, error) {
			return nil, nil
		},
	}
	svc := NewService(repo, nil, nil)

	_, err := svc.Update(ctx, "owner-2", uuid.New().String(), Input{Title: strPtr("hijack")})
	if err == nil {
		t.Fatal("expected error for another owner's task")
	}
	assertTaskNotFound(t, err)
}

func TestUpdate_MalformedID_ReturnsTaskNotFound(t *testing.T) {
	ctx := context.Background()
	svc := NewService(&mockTaskRepo{}, nil, nil)

	_, err := svc.Update(ctx, "owner-1", "12345", Input{Title: strPtr("x")})
	if err == nil {
		t.Fatal("expected error for malformed task ID")
	}
	assertTaskNotFound(t, err)
}

func TestUpdate_DeletedBetweenFetchAndUpdate_ReturnsTaskNotFound(t *testing.T) {
	ctx := context.Background()

	taskID := uuid.New().String()
	repo := &mockTaskRepo{
		findByIDAndUserFn: func(ctx context.Context, id, userID string) (*model.Task, error) {
			return &model.Task{ID: taskID, UserID: "owner-1", Title: "t"}, nil
		},
		updateFn: func(ctx context.Context, task *model.Task) (bool, error) {
			// 取得と更新の間に削除された
			return false, nil
		},
	}
	svc := NewService(repo, nil, nil)

	_, err := svc.Update(ctx, "owner-1", taskID, Input{Completed: boolPtr(true)})
	if err == nil {
		t.Fatal("expected error when the row vanished")
	}
	assertTaskNotFound(t, err)
}

// --- Delete ---

func TestDelete_OwnedTask_Succeeds(t *testing.T) {
	ctx := context.Background()

	taskID := uuid.New().String()
	rec := &recordingMetrics{}
	repo := &mockTaskRepo{
		deleteByIDAndUserFn: func(ctx context.Context, id, userID string) (bool, error) {
			if id != taskID || userID != "owner-1" {
				t.Errorf("delete scoped to (%q, %q), want (%q, %q)", id, userID, taskID, "owner-1")
			}
			return true, nil
		},
	}
	svc := NewService(repo, nil, rec)

	if err := svc.Delete(ctx, "owner-1", taskID); err != nil {
		t.Fatalf("Delete() error = %v", err)
	}
	if rec.deleted != 1 {
		t.Errorf("deleted metric = %d, want 1", rec.deleted)
	}
}

func TestDelete_OtherOwnersTask_ReturnsTaskNotFound(t *testing.T) {
	ctx := context.Background()

	repo := &mockTaskRepo{
		deleteByIDAndUserFn: func(ctx context.Context, id, userID string) (bool, error) {
			return false, nil
		},
	}
	svc := NewService(repo, nil, nil)

	err := svc.Delete(ctx, "owner-2", uuid.New().String())
	if err == nil {
		t.Fatal("expected error for another owner's task")
	}
	assertTaskNotFound(t, err)
}

func TestDelete_MalformedID_ReturnsTaskNotFound(t *testing.T) {
	ctx := context.Background()
	svc := NewService(&mockTaskRepo{}, nil, nil)

	err := svc.Delete(ctx, "owner-1", "../etc/passwd")
	if err == nil {
		t.Fatal("expected error for malformed task ID")
	}
	assertTaskNotFound(t, err)
}

func TestDelete_RepositoryError_IsWrapped(t *testing.T) {
	ctx := context.Background()

	repo := &mockTaskRepo{
		deleteByIDAndUserFn: func(ctx context.Context, id, userID string) (bool, error) {
			return false, errors.New("connection reset")
		},
	}
	svc := NewService(repo, nil, nil)

	err := svc.Delete(ctx, "owner-1", uuid.New().String())
	if err == nil {
		t.Fatal("expected error")
	}
	var apiErr *model.APIError
	if errors.As(err, &apiErr) {
		t.Errorf("persistence error should not surface as APIError: %v", err)
	}
}
