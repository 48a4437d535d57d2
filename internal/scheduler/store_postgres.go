package scheduler

import (
	"database/sql"
	"embed"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/postgres"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jmoiron/sqlx"

	_ "github.com/jackc/pgx/v5/stdlib"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// PostgresTaskStore is the alternate TaskRepository backend for
// multi-replica deployments, where a shared JSON file is not an option.
// Each task is stored as a JSONB document alongside a handful of
// queryable columns (uuid, name, type, state, token) that mirror the
// uniqueness and filtering constraints TaskStore enforces in memory.
type PostgresTaskStore struct {
	db *sqlx.DB
	mu sync.Mutex
}

// taskRow is the sqlx scan target for a scheduler_tasks row.
type taskRow struct {
	UUID     string `db:"uuid"`
	Document []byte `db:"document"`
}

// NewPostgresTaskStore opens dsn, runs pending migrations from the
// embedded migrations directory, and returns a ready TaskRepository.
func NewPostgresTaskStore(dsn string) (*PostgresTaskStore, error) {
	db, err := sqlx.Connect("pgx", dsn)
	if err != nil {
		return nil, errPersistence(CodeIOError, fmt.Errorf("connect postgres: %w", err))
	}
	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(10)

	if err := runMigrations(db.DB, dsn); err != nil {
		db.Close()
		return nil, errPersistence(CodeIOError, fmt.Errorf("run migrations: %w", err))
	}

	return &PostgresTaskStore{db: db}, nil
}

func runMigrations(db *sql.DB, dsn string) error {
	src, err := iofs.New(migrationsFS, "migrations")
	if err != nil {
		return err
	}
	driver, err := postgres.WithInstance(db, &postgres.Config{})
	if err != nil {
		return err
	}
	m, err := migrate.NewWithInstance("iofs", src, "postgres", driver)
	if err != nil {
		return err
	}
	if err := m.Up(); err != nil && err != migrate.ErrNoChange {
		return err
	}
	return nil
}

func (p *PostgresTaskStore) Close() error {
	return p.db.Close()
}

func (p *PostgresTaskStore) List() []*Task {
	var rows []taskRow
	if err := p.db.Select(&rows, `SELECT uuid, document FROM scheduler_tasks ORDER BY created_at ASC`); err != nil {
		return nil
	}
	return decodeRows(rows)
}

func (p *PostgresTaskStore) Get(uuid string) (*Task, bool) {
	var row taskRow
	if err := p.db.Get(&row, `SELECT uuid, document FROM scheduler_tasks WHERE uuid = $1`, uuid); err != nil {
		return nil, false
	}
	t, err := decodeRow(row)
	return t, err == nil
}

func (p *PostgresTaskStore) GetByName(name string) (*Task, bool) {
	var row taskRow
	if err := p.db.Get(&row, `SELECT uuid, document FROM scheduler_tasks WHERE name = $1`, name); err != nil {
		return nil, false
	}
	t, err := decodeRow(row)
	return t, err == nil
}

func (p *PostgresTaskStore) Add(t *Task, now time.Time) (*Task, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if t.Name == "" {
		return nil, errValidation(CodeMissingField, "name", "name is required")
	}

	var nameExists bool
	if err := p.db.Get(&nameExists, `SELECT EXISTS(SELECT 1 FROM scheduler_tasks WHERE name = $1)`, t.Name); err != nil {
		return nil, errPersistence(CodeIOError, err)
	}
	if nameExists {
		return nil, errConflict(CodeDuplicateName, fmt.Sprintf("task name %q already exists", t.Name))
	}

	t.UUID = NewTaskUUID()
	t.State = StateIdle
	t.CreatedAt = now
	t.UpdatedAt = now

	doc, err := json.Marshal(t)
	if err != nil {
		return nil, errPersistence(CodeIOError, err)
	}

	var token *string
	if t.Token != "" {
		token = &t.Token
	}
	_, err = p.db.Exec(
		`INSERT INTO scheduler_tasks (uuid, name, type, state, token, document, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		t.UUID, t.Name, string(t.Type), string(t.State), token, doc, now, now)
	if err != nil {
		return nil, mapPostgresWriteErr(err)
	}
	return t.Clone(), nil
}

func (p *PostgresTaskStore) Remove(uuid string) error {
	res, err := p.db.Exec(`DELETE FROM scheduler_tasks WHERE uuid = $1`, uuid)
	if err != nil {
		return errPersistence(CodeIOError, err)
	}
	n, _ := res.RowsAffected()
	if n == 0 {
		return errNotFound(fmt.Sprintf("task %q not found", uuid))
	}
	return nil
}

func (p *PostgresTaskStore) Update(uuid string, now time.Time, mutator Mutator) (*Task, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	var row taskRow
	if err := p.db.Get(&row, `SELECT uuid, document FROM scheduler_tasks WHERE uuid = $1`, uuid); err != nil {
		return nil, errNotFound(fmt.Sprintf("task %q not found", uuid))
	}
	orig, err := decodeRow(row)
	if err != nil {
		return nil, errPersistence(CodeCorruptStore, err)
	}

	working := orig.Clone()
	prevState := working.State

	result, err := mutator(working)
	if err != nil {
		return nil, err
	}
	if result == MutateAbort {
		return orig.Clone(), nil
	}

	if working.State != prevState && !canTransition(prevState, working.State) {
		return nil, &Error{Kind: KindConflict, Code: CodeInvalidTransition,
			Message: fmt.Sprintf("cannot transition from %s to %s", prevState, working.State)}
	}

	var nameConflict bool
	if err := p.db.Get(&nameConflict,
		`SELECT EXISTS(SELECT 1 FROM scheduler_tasks WHERE name = $1 AND uuid <> $2)`, working.Name, uuid); err != nil {
		return nil, errPersistence(CodeIOError, err)
	}
	if nameConflict {
		return nil, errConflict(CodeDuplicateName, fmt.Sprintf("task name %q already exists", working.Name))
	}

	working.UpdatedAt = now

	doc, err := json.Marshal(working)
	if err != nil {
		return nil, errPersistence(CodeIOError, err)
	}
	var token *string
	if working.Token != "" {
		token = &working.Token
	}
	_, err = p.db.Exec(
		`UPDATE scheduler_tasks SET name=$1, type=$2, state=$3, token=$4, document=$5, updated_at=$6 WHERE uuid=$7`,
		working.Name, string(working.Type), string(working.State), token, doc, now, uuid)
	if err != nil {
		return nil, mapPostgresWriteErr(err)
	}
	return working.Clone(), nil
}

// Reload is a no-op for PostgresTaskStore: every read already hits the
// database directly, so there is no in-memory snapshot to refresh.
func (p *PostgresTaskStore) Reload() ([]*Task, error) {
	return p.List(), nil
}

func (p *PostgresTaskStore) DueTasks(clock Clock, cron *CronEvaluator, window time.Duration) []*Task {
	var rows []taskRow
	if err := p.db.Select(&rows, `SELECT uuid, document FROM scheduler_tasks WHERE state = $1`, string(StateIdle)); err != nil {
		return nil
	}
	var due []*Task
	for _, row := range rows {
		t, err := decodeRow(row)
		if err != nil {
			continue
		}
		if t.CheckSchedule(clock, cron, window) {
			due = append(due, t)
		}
	}
	return due
}

func decodeRow(row taskRow) (*Task, error) {
	var t Task
	if err := json.Unmarshal(row.Document, &t); err != nil {
		return nil, err
	}
	return &t, nil
}

func decodeRows(rows []taskRow) []*Task {
	out := make([]*Task, 0, len(rows))
	for _, row := range rows {
		if t, err := decodeRow(row); err == nil {
			out = append(out, t)
		}
	}
	return out
}

// uniqueViolation is Postgres's SQLSTATE for a unique/exclusion
// constraint violation.
const uniqueViolation = "23505"

// mapPostgresWriteErr maps the partial unique index on (type=adhoc,
// token) to the same DuplicateToken conflict the file backend raises
// explicitly, rather than letting it fall through as a generic 500.
func mapPostgresWriteErr(err error) error {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
		switch pgErr.ConstraintName {
		case "scheduler_tasks_token_idx":
			return errConflict(CodeDuplicateToken, "token already exists")
		case "scheduler_tasks_name_key":
			return errConflict(CodeDuplicateName, "task name already exists")
		}
	}
	return errPersistence(CodeIOError, err)
}
