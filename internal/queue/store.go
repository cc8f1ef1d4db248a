package queue

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"subtrans/internal/config"
)

// Store manages task, watcher, settings, and history persistence backed by
// SQLite.
type Store struct {
	db   *sql.DB
	path string
}

// Open initializes or connects to the application database and applies the
// schema.
func Open(cfg *config.Config) (*Store, error) {
	if err := cfg.EnsureDirectories(); err != nil {
		return nil, fmt.Errorf("ensure directories: %w", err)
	}
	return OpenPath(cfg.DatabasePath())
}

// OpenPath opens the store at an explicit database location.
func OpenPath(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open sqlite db: %w", err)
	}

	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA foreign_keys = ON",
		"PRAGMA busy_timeout = 5000",
	}
	for _, pragma := range pragmas {
		if _, execErr := db.Exec(pragma); execErr != nil {
			_ = db.Close()
			return nil, fmt.Errorf("apply pragma %q: %w", pragma, execErr)
		}
	}

	store := &Store{db: db, path: dbPath}
	if err := store.initSchema(context.Background()); err != nil {
		_ = db.Close()
		return nil, err
	}
	return store, nil
}

// Close closes the underlying database connection.
func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

// Path returns the database file location.
func (s *Store) Path() string {
	if s == nil {
		return ""
	}
	return s.path
}

// Ping verifies database connectivity.
func (s *Store) Ping(ctx context.Context) error {
	if s == nil || s.db == nil {
		return errors.New("store unavailable")
	}
	return s.db.PingContext(ctx)
}

// NewTask describes the inputs for task creation.
type NewTask struct {
	FilePath       string
	SourceLanguage string
	TargetLanguage string
	LLMProvider    string
	SubtitleTrack  *int
	ForceOverride  bool
}

// CreateTask inserts a pending task and returns the stored row.
func (s *Store) CreateTask(ctx context.Context, req NewTask) (*Task, error) {
	now := time.Now().UTC()
	timestamp := now.Format(time.RFC3339Nano)

	res, err := s.db.ExecContext(
		ctx,
		`INSERT INTO tasks (
            file_path, file_name, status, progress, source_language,
            target_language, llm_provider, subtitle_track, force_override,
            created_at, updated_at
        ) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		req.FilePath,
		filepath.Base(req.FilePath),
		StatusPending,
		0,
		nullableString(req.SourceLanguage),
		req.TargetLanguage,
		req.LLMProvider,
		nullableInt(req.SubtitleTrack),
		boolToInt(req.ForceOverride),
		timestamp,
		timestamp,
	)
	if err != nil {
		return nil, fmt.Errorf("insert task: %w", err)
	}

	id, err := res.LastInsertId()
	if err != nil {
		return nil, fmt.Errorf("last insert id: %w", err)
	}
	return s.GetTask(ctx, id)
}

// GetTask fetches a task by identifier. Returns nil when no row exists.
func (s *Store) GetTask(ctx context.Context, id int64) (*Task, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+taskColumns+` FROM tasks WHERE id = ?`, id)
	task, err := scanTask(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get task: %w", err)
	}
	return task, nil
}

// TaskFilter restricts task listing.
type TaskFilter struct {
	Status Status // empty matches all statuses
	Limit  int
	Offset int
}

// ListTasks returns tasks newest-first along with the total count matching
// the filter regardless of pagination.
func (s *Store) ListTasks(ctx context.Context, filter TaskFilter) ([]*Task, int, error) {
	where := ""
	args := []any{}
	if filter.Status != "" {
		where = ` WHERE status = ?`
		args = append(args, filter.Status)
	}

	var total int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(1) FROM tasks`+where, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count tasks: %w", err)
	}

	query := `SELECT ` + taskColumns + ` FROM tasks` + where + ` ORDER BY created_at DESC, id DESC`
	if filter.Limit > 0 {
		query += ` LIMIT ? OFFSET ?`
		args = append(args, filter.Limit, filter.Offset)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, 0, fmt.Errorf("list tasks: %w", err)
	}
	defer rows.Close()

	var tasks []*Task
	for rows.Next() {
		task, err := scanTask(rows)
		if err != nil {
			return nil, 0, err
		}
		tasks = append(tasks, task)
	}
	return tasks, total, rows.Err()
}

// TasksByStatus returns tasks matching a status ordered by creation time.
func (s *Store) TasksByStatus(ctx context.Context, status Status) ([]*Task, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+taskColumns+` FROM tasks WHERE status = ? ORDER BY created_at, id`, status)
	if err != nil {
		return nil, fmt.Errorf("query by status: %w", err)
	}
	defer rows.Close()

	var tasks []*Task
	for rows.Next() {
		task, err := scanTask(rows)
		if err != nil {
			return nil, err
		}
		tasks = append(tasks, task)
	}
	return tasks, rows.Err()
}

// ClaimNextPending atomically claims the oldest pending task, marking it
// processing. Returns nil when the queue is empty.
func (s *Store) ClaimNextPending(ctx context.Context) (*Task, error) {
	row := s.db.QueryRowContext(
		ctx,
		`UPDATE tasks
         SET status = ?, updated_at = ?
         WHERE id = (
            SELECT id FROM tasks WHERE status = ? ORDER BY created_at, id LIMIT 1
         )
         RETURNING id`,
		StatusProcessing,
		time.Now().UTC().Format(time.RFC3339Nano),
		StatusPending,
	)
	var id int64
	if err := row.Scan(&id); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("claim next pending: %w", err)
	}
	return s.GetTask(ctx, id)
}

// UpdateTask persists every mutable task field.
func (s *Store) UpdateTask(ctx context.Context, task *Task) error {
	if task == nil {
		return errors.New("task is nil")
	}
	task.UpdatedAt = time.Now().UTC()
	_, err := s.db.ExecContext(
		ctx,
		`UPDATE tasks
         SET file_path = ?, file_name = ?, status = ?, progress = ?,
             source_language = ?, target_language = ?, llm_provider = ?,
             subtitle_track = ?, force_override = ?, error_message = ?,
             updated_at = ?, completed_at = ?
         WHERE id = ?`,
		task.FilePath,
		task.FileName,
		task.Status,
		task.Progress,
		nullableString(task.SourceLanguage),
		task.TargetLanguage,
		task.LLMProvider,
		nullableInt(task.SubtitleTrack),
		boolToInt(task.ForceOverride),
		nullableString(task.ErrorMessage),
		task.UpdatedAt.Format(time.RFC3339Nano),
		nullableTime(task.CompletedAt),
		task.ID,
	)
	if err != nil {
		return fmt.Errorf("update task: %w", err)
	}
	return nil
}

// SetTaskStatus transitions a task and maintains the status-coupled columns:
// completed tasks get completed_at and progress 100, failed tasks carry the
// error message, and every other transition clears both.
func (s *Store) SetTaskStatus(ctx context.Context, id int64, status Status, errorMessage string) error {
	now := time.Now().UTC().Format(time.RFC3339Nano)

	switch status {
	case StatusCompleted:
		_, err := s.db.ExecContext(
			ctx,
			`UPDATE tasks SET status = ?, progress = 100, error_message = NULL, completed_at = ?, updated_at = ? WHERE id = ?`,
			status, now, now, id,
		)
		if err != nil {
			return fmt.Errorf("set task completed: %w", err)
		}
		return nil
	case StatusFailed:
		if strings.TrimSpace(errorMessage) == "" {
			errorMessage = "internal_error"
		}
		_, err := s.db.ExecContext(
			ctx,
			`UPDATE tasks SET status = ?, error_message = ?, completed_at = NULL, updated_at = ? WHERE id = ?`,
			status, errorMessage, now, id,
		)
		if err != nil {
			return fmt.Errorf("set task failed: %w", err)
		}
		return nil
	default:
		_, err := s.db.ExecContext(
			ctx,
			`UPDATE tasks SET status = ?, error_message = NULL, completed_at = NULL, updated_at = ? WHERE id = ?`,
			status, now, id,
		)
		if err != nil {
			return fmt.Errorf("set task status: %w", err)
		}
		return nil
	}
}

// UpdateTaskProgress persists a progress value without touching status.
func (s *Store) UpdateTaskProgress(ctx context.Context, id int64, progress int) error {
	if progress < 0 {
		progress = 0
	}
	if progress > 100 {
		progress = 100
	}
	_, err := s.db.ExecContext(
		ctx,
		`UPDATE tasks SET progress = ?, updated_at = ? WHERE id = ?`,
		progress,
		time.Now().UTC().Format(time.RFC3339Nano),
		id,
	)
	if err != nil {
		return fmt.Errorf("update task progress: %w", err)
	}
	return nil
}

// ResetTaskForRetry moves a retryable task back to pending, clearing the
// error and, unless keepProgress is set, the progress value.
func (s *Store) ResetTaskForRetry(ctx context.Context, id int64, keepProgress bool) error {
	now := time.Now().UTC().Format(time.RFC3339Nano)
	query := `UPDATE tasks SET status = ?, progress = 0, error_message = NULL, completed_at = NULL, updated_at = ? WHERE id = ?`
	if keepProgress {
		query = `UPDATE tasks SET status = ?, error_message = NULL, completed_at = NULL, updated_at = ? WHERE id = ?`
	}
	if _, err := s.db.ExecContext(ctx, query, StatusPending, now, id); err != nil {
		return fmt.Errorf("reset task for retry: %w", err)
	}
	return nil
}

// RecoverInterrupted returns tasks stuck in processing (from a previous run)
// to pending.
func (s *Store) RecoverInterrupted(ctx context.Context) (int64, error) {
	res, err := s.db.ExecContext(
		ctx,
		`UPDATE tasks SET status = ?, updated_at = ? WHERE status = ?`,
		StatusPending,
		time.Now().UTC().Format(time.RFC3339Nano),
		StatusProcessing,
	)
	if err != nil {
		return 0, fmt.Errorf("recover interrupted tasks: %w", err)
	}
	return res.RowsAffected()
}

// ActiveTask returns the task holding the (file_path, target_language)
// claim, or nil when none is pending, processing, or paused.
func (s *Store) ActiveTask(ctx context.Context, filePath, targetLanguage string) (*Task, error) {
	row := s.db.QueryRowContext(
		ctx,
		`SELECT `+taskColumns+` FROM tasks
         WHERE file_path = ? AND target_language = ? AND status IN (?, ?, ?)
         ORDER BY id LIMIT 1`,
		filePath,
		targetLanguage,
		StatusPending,
		StatusProcessing,
		StatusPaused,
	)
	task, err := scanTask(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("find active task: %w", err)
	}
	return task, nil
}

// DeleteTask removes a task row. Returns false when no row matched.
func (s *Store) DeleteTask(ctx context.Context, id int64) (bool, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM tasks WHERE id = ?`, id)
	if err != nil {
		return false, fmt.Errorf("delete task: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("rows affected: %w", err)
	}
	return affected > 0, nil
}

// TaskStats returns a count of tasks grouped by status.
func (s *Store) TaskStats(ctx context.Context) (map[Status]int, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT status, COUNT(1) FROM tasks GROUP BY status`)
	if err != nil {
		return nil, fmt.Errorf("task stats: %w", err)
	}
	defer rows.Close()

	stats := make(map[Status]int)
	for rows.Next() {
		var status Status
		var count int
		if err := rows.Scan(&status, &count); err != nil {
			return nil, err
		}
		stats[status] = count
	}
	return stats, rows.Err()
}

// CreateWatcher inserts a watcher directive. The path is unique; a second
// watcher for the same directory fails with a constraint error.
func (s *Store) CreateWatcher(ctx context.Context, path, targetLanguage, llmProvider string) (*Watcher, error) {
	res, err := s.db.ExecContext(
		ctx,
		`INSERT INTO watchers (path, enabled, target_language, llm_provider, created_at)
         VALUES (?, 1, ?, ?, ?)`,
		path,
		targetLanguage,
		llmProvider,
		time.Now().UTC().Format(time.RFC3339Nano),
	)
	if err != nil {
		return nil, fmt.Errorf("insert watcher: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return nil, fmt.Errorf("last insert id: %w", err)
	}
	return s.GetWatcher(ctx, id)
}

// GetWatcher fetches a watcher by identifier. Returns nil when missing.
func (s *Store) GetWatcher(ctx context.Context, id int64) (*Watcher, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+watcherColumns+` FROM watchers WHERE id = ?`, id)
	watcher, err := scanWatcher(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get watcher: %w", err)
	}
	return watcher, nil
}

// WatcherByPath returns the watcher registered for a directory, or nil.
func (s *Store) WatcherByPath(ctx context.Context, path string) (*Watcher, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+watcherColumns+` FROM watchers WHERE path = ?`, path)
	watcher, err := scanWatcher(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("find watcher by path: %w", err)
	}
	return watcher, nil
}

// ListWatchers returns every watcher ordered by creation time.
func (s *Store) ListWatchers(ctx context.Context) ([]*Watcher, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+watcherColumns+` FROM watchers ORDER BY created_at, id`)
	if err != nil {
		return nil, fmt.Errorf("list watchers: %w", err)
	}
	defer rows.Close()

	var watchers []*Watcher
	for rows.Next() {
		watcher, err := scanWatcher(rows)
		if err != nil {
			return nil, err
		}
		watchers = append(watchers, watcher)
	}
	return watchers, rows.Err()
}

// SetWatcherEnabled toggles a watcher. Returns false when no row matched.
func (s *Store) SetWatcherEnabled(ctx context.Context, id int64, enabled bool) (bool, error) {
	res, err := s.db.ExecContext(ctx, `UPDATE watchers SET enabled = ? WHERE id = ?`, boolToInt(enabled), id)
	if err != nil {
		return false, fmt.Errorf("toggle watcher: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("rows affected: %w", err)
	}
	return affected > 0, nil
}

// DeleteWatcher removes a watcher row. Returns false when no row matched.
func (s *Store) DeleteWatcher(ctx context.Context, id int64) (bool, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM watchers WHERE id = ?`, id)
	if err != nil {
		return false, fmt.Errorf("delete watcher: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("rows affected: %w", err)
	}
	return affected > 0, nil
}

// AllSettings returns the stored settings key/value rows.
func (s *Store) AllSettings(ctx context.Context) (map[string]string, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT key, value FROM app_settings`)
	if err != nil {
		return nil, fmt.Errorf("load settings: %w", err)
	}
	defer rows.Close()

	values := make(map[string]string)
	for rows.Next() {
		var key, value string
		if err := rows.Scan(&key, &value); err != nil {
			return nil, err
		}
		values[key] = value
	}
	return values, rows.Err()
}

// SetSetting upserts one settings key.
func (s *Store) SetSetting(ctx context.Context, key, value string) error {
	_, err := s.db.ExecContext(
		ctx,
		`INSERT INTO app_settings (key, value) VALUES (?, ?)
         ON CONFLICT(key) DO UPDATE SET value = excluded.value`,
		key,
		value,
	)
	if err != nil {
		return fmt.Errorf("set setting %q: %w", key, err)
	}
	return nil
}

// SetSettings upserts multiple settings keys in one transaction.
func (s *Store) SetSettings(ctx context.Context, values map[string]string) error {
	if len(values) == 0 {
		return nil
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin settings tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	for key, value := range values {
		if _, err := tx.ExecContext(
			ctx,
			`INSERT INTO app_settings (key, value) VALUES (?, ?)
             ON CONFLICT(key) DO UPDATE SET value = excluded.value`,
			key,
			value,
		); err != nil {
			return fmt.Errorf("set setting %q: %w", key, err)
		}
	}
	return tx.Commit()
}

// RecordTranslation inserts a history record marking the pair as translated.
// Re-recording the same pair updates the output path and timestamp.
func (s *Store) RecordTranslation(ctx context.Context, filePath, targetLanguage, outputPath string) error {
	_, err := s.db.ExecContext(
		ctx,
		`INSERT INTO translated_files (file_path, target_language, output_path, translated_at)
         VALUES (?, ?, ?, ?)
         ON CONFLICT(file_path, target_language) DO UPDATE
         SET output_path = excluded.output_path, translated_at = excluded.translated_at`,
		filePath,
		targetLanguage,
		nullableString(outputPath),
		time.Now().UTC().Format(time.RFC3339Nano),
	)
	if err != nil {
		return fmt.Errorf("record translation: %w", err)
	}
	return nil
}

// TranslationRecord returns the history row for the pair, or nil when the
// pair has never been translated.
func (s *Store) TranslationRecord(ctx context.Context, filePath, targetLanguage string) (*HistoryRecord, error) {
	row := s.db.QueryRowContext(
		ctx,
		`SELECT id, file_path, target_language, output_path, translated_at
         FROM translated_files WHERE file_path = ? AND target_language = ?`,
		filePath,
		targetLanguage,
	)
	var (
		rec        HistoryRecord
		outputPath sql.NullString
		whenRaw    string
	)
	if err := row.Scan(&rec.ID, &rec.FilePath, &rec.TargetLanguage, &outputPath, &whenRaw); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("check translation history: %w", err)
	}
	rec.OutputPath = outputPath.String
	if when, err := parseTimeString(whenRaw); err == nil {
		rec.TranslatedAt = when
	}
	return &rec, nil
}

// CheckHealth returns diagnostic information about the database.
func (s *Store) CheckHealth(ctx context.Context) error {
	if s.path == "" {
		return errors.New("database path is unknown")
	}
	if _, err := os.Stat(s.path); err != nil {
		return fmt.Errorf("stat database: %w", err)
	}

	connCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()

	if err := s.db.PingContext(connCtx); err != nil {
		return fmt.Errorf("ping database: %w", err)
	}

	var integrity string
	if err := s.db.QueryRowContext(connCtx, "PRAGMA integrity_check").Scan(&integrity); err != nil {
		return fmt.Errorf("integrity check: %w", err)
	}
	if !strings.EqualFold(integrity, "ok") {
		return fmt.Errorf("integrity check reported %q", integrity)
	}
	return nil
}

const taskColumns = "id, file_path, file_name, status, progress, source_language, target_language, llm_provider, subtitle_track, force_override, error_message, created_at, updated_at, completed_at"

const watcherColumns = "id, path, enabled, target_language, llm_provider, created_at"

func scanTask(scanner interface{ Scan(dest ...any) error }) (*Task, error) {
	var (
		id           int64
		filePath     string
		fileName     string
		statusStr    string
		progress     int
		sourceLang   sql.NullString
		targetLang   string
		provider     string
		track        sql.NullInt64
		force        int
		errorMessage sql.NullString
		createdRaw   string
		updatedRaw   string
		completedRaw sql.NullString
	)

	if err := scanner.Scan(
		&id,
		&filePath,
		&fileName,
		&statusStr,
		&progress,
		&sourceLang,
		&targetLang,
		&provider,
		&track,
		&force,
		&errorMessage,
		&createdRaw,
		&updatedRaw,
		&completedRaw,
	); err != nil {
		return nil, err
	}

	task := &Task{
		ID:             id,
		FilePath:       filePath,
		FileName:       fileName,
		Status:         Status(statusStr),
		Progress:       progress,
		SourceLanguage: sourceLang.String,
		TargetLanguage: targetLang,
		LLMProvider:    provider,
		ForceOverride:  force != 0,
		ErrorMessage:   errorMessage.String,
	}
	if track.Valid {
		value := int(track.Int64)
		task.SubtitleTrack = &value
	}
	if created, err := parseTimeString(createdRaw); err == nil {
		task.CreatedAt = created
	}
	if updated, err := parseTimeString(updatedRaw); err == nil {
		task.UpdatedAt = updated
	}
	if completedRaw.Valid {
		if completed, err := parseTimeString(completedRaw.String); err == nil {
			task.CompletedAt = &completed
		}
	}
	return task, nil
}

func scanWatcher(scanner interface{ Scan(dest ...any) error }) (*Watcher, error) {
	var (
		id         int64
		path       string
		enabled    int
		targetLang string
		provider   string
		createdRaw string
	)
	if err := scanner.Scan(&id, &path, &enabled, &targetLang, &provider, &createdRaw); err != nil {
		return nil, err
	}
	watcher := &Watcher{
		ID:             id,
		Path:           path,
		Enabled:        enabled != 0,
		TargetLanguage: targetLang,
		LLMProvider:    provider,
	}
	if created, err := parseTimeString(createdRaw); err == nil {
		watcher.CreatedAt = created
	}
	return watcher, nil
}

func nullableString(value string) any {
	if value == "" {
		return nil
	}
	return value
}

func nullableInt(value *int) any {
	if value == nil {
		return nil
	}
	return *value
}

func nullableTime(value *time.Time) any {
	if value == nil {
		return nil
	}
	return value.UTC().Format(time.RFC3339Nano)
}

func boolToInt(value bool) int {
	if value {
		return 1
	}
	return 0
}

func parseTimeString(value string) (time.Time, error) {
	if value == "" {
		return time.Time{}, errors.New("empty")
	}
	if t, err := time.Parse(time.RFC3339Nano, value); err == nil {
		return t, nil
	}
	return time.Parse("2006-01-02 15:04:05", value)
}
