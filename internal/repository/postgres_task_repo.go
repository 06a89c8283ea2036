package repository

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/lib/pq"

	"github.com/hitoshi/taskdeck/internal/model"
)

// PostgresTaskRepo はPostgreSQLを使用したタスクリポジトリ。
// 全クエリがuser_idによる所有者フィルタを含み、他ユーザーのタスクは
// 存在しない行として扱われる。
type PostgresTaskRepo struct {
	db *sql.DB
}

// NewPostgresTaskRepo はPostgresTaskRepoを生成する。
func NewPostgresTaskRepo(db *sql.DB) *PostgresTaskRepo {
	return &PostgresTaskRepo{db: db}
}

// taskColumns はtasksテーブルのSELECT対象カラム。
const taskColumns = `id, user_id, title, description, completed, due_date, priority, tags, created_at, updated_at`

// ListByUserID は指定ユーザーのタスク一覧を作成日時降順で返す。
func (r *PostgresTaskRepo) ListByUserID(ctx context.Context, userID string) ([]*model.Task, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT `+taskColumns+`
		 FROM tasks
		 WHERE user_id = $1
		 ORDER BY created_at DESC`,
		userID,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to list tasks: %w", err)
	}
	defer rows.Close()

	tasks := []*model.Task{}
	for rows.Next() {
		task, err := scanTask(rows)
		if err != nil {
			return nil, err
		}
		tasks = append(tasks, task)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate tasks: %w", err)
	}

	return tasks, nil
}

// FindByIDAndUserID は指定IDかつ指定所有者のタスクを取得する。
// 存在しない、または所有者が一致しない場合はnilを返す。
func (r *PostgresTaskRepo) FindByIDAndUserID(ctx context.Context, id, userID string) (*model.Task, error) {
	row := r.db.QueryRowContext(ctx,
		`SELECT `+taskColumns+`
		 FROM tasks
		 WHERE id = $1 AND user_id = $2`,
		id, userID,
	)

	task, err := scanTask(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	return task, nil
}

// Create はタスクを作成する。
func (r *PostgresTaskRepo) Create(ctx context.Context, task *model.Task) error {
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO tasks (id, user_id, title, description, completed, due_date, priority, tags, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`,
		task.ID, task.UserID, task.Title, task.Description, task.Completed,
		task.DueDate, string(task.Priority), pq.Array(task.Tags), task.CreatedAt, task.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to create task: %w", err)
	}
	return nil
}

// Update はタスクを上書き更新する。
// idとuser_idの両方が一致する行のみ更新する。user_idは更新対象に含めない。
func (r *PostgresTaskRepo) Update(ctx context.Context, task *model.Task) (bool, error) {
	result, err := r.db.ExecContext(ctx,
		`UPDATE tasks
		 SET title = $1, description = $2, completed = $3, due_date = $4,
		     priority = $5, tags = $6, updated_at = $7
		 WHERE id = $8 AND user_id = $9`,
		task.Title, task.Description, task.Completed, task.DueDate,
		string(task.Priority), pq.Array(task.Tags), task.UpdatedAt,
		task.ID, task.UserID,
	)
	if err != nil {
		return false, fmt.Errorf("failed to update task: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to get rows affected: %w", err)
	}

	return rowsAffected > 0, nil
}

// DeleteByIDAndUserID は指定IDかつ指定所有者のタスクを削除する。
// 削除した場合trueを返す。
func (r *PostgresTaskRepo) DeleteByIDAndUserID(ctx context.Context, id, userID string) (bool, error) {
	result, err := r.db.ExecContext(ctx,
		`DELETE FROM tasks WHERE id = $1 AND user_id = $2`,
		id, userID,
	)
	if err != nil {
		return false, fmt.Errorf("failed to delete task: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to get rows affected: %w", err)
	}

	return rowsAffected > 0, nil
}

// DeleteByUserID は指定ユーザーの全タスクを削除する。
func (r *PostgresTaskRepo) DeleteByUserID(ctx context.Context, userID string) error {
	_, err := r.db.ExecContext(ctx,
		`DELETE FROM tasks WHERE user_id = $1`,
		userID,
	)
	if err != nil {
		return fmt.Errorf("failed to delete user tasks: %w", err)
	}
	return nil
}

// rowScanner は*sql.Rowと*sql.Rowsの共通Scanインターフェース。
type rowScanner interface {
	Scan(dest ...interface{}) error
}

// scanTask は1行分のタスクをスキャンする。
// tagsはPostgreSQLのtext[]からpq.Arrayで読み取る。
func scanTask(row rowScanner) (*model.Task, error) {
	task := &model.Task{}
	var priority string
	var dueDate sql.NullTime

	err := row.Scan(
		&task.ID, &task.UserID, &task.Title, &task.Description, &task.Completed,
		&dueDate, &priority, pq.Array(&task.Tags), &task.CreatedAt, &task.UpdatedAt,
	)
	if err == sql.ErrNoRows {
		return nil, err
	}
	if err != nil {
		return nil, fmt.Errorf("failed to scan task: %w", err)
	}

	if dueDate.Valid {
		t := dueDate.Time
		task.DueDate = &t
	}
	task.Priority = model.Priority(priority)
	if task.Tags == nil {
		task.Tags = []string{}
	}

	return task, nil
}

// compile-time interface check
var _ TaskRepository = (*PostgresTaskRepo)(nil)
