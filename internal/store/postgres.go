package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jmoiron/sqlx"
)

const uniqueViolation = "23505"

type PostgresStore struct {
	db *sqlx.DB
	pgQueries
}

func NewPostgresStore(db *sqlx.DB) *PostgresStore {
	return &PostgresStore{db: db, pgQueries: pgQueries{q: db}}
}

func (s *PostgresStore) DB() *sqlx.DB {
	return s.db
}

func (s *PostgresStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// WithTx runs fn inside a single transaction. The transaction commits when fn
// returns nil and rolls back otherwise.
func (s *PostgresStore) WithTx(ctx context.Context, fn func(Queries) error) (err error) {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer func() {
		if p := recover(); p != nil {
			_ = tx.Rollback()
			panic(p)
		}
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	if err = fn(pgQueries{q: tx}); err != nil {
		return err
	}
	if err = tx.Commit(); err != nil {
		return fmt.Errorf("commit tx: %w", err)
	}
	return nil
}

type pgQueries struct {
	q sqlx.ExtContext
}

const userColumns = `id, email, name, password_hash, email_verified_at,
	email_verification_code, email_verification_requested_at,
	password_reset_code, password_reset_requested_at, password_reset_at,
	created_at, updated_at`

func (p pgQueries) CreateUser(ctx context.Context, user User) error {
	_, err := p.q.ExecContext(ctx, `
		INSERT INTO users (id, email, name, password_hash, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $5)
	`, user.ID, user.Email, user.Name, user.PasswordHash, user.CreatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return ErrConflict
		}
		return fmt.Errorf("insert user: %w", err)
	}
	return nil
}

func (p pgQueries) GetUserByID(ctx context.Context, userID string) (User, error) {
	var user User
	err := sqlx.GetContext(ctx, p.q, &user, `SELECT `+userColumns+` FROM users WHERE id=$1`, userID)
	if err != nil {
		return User{}, wrapLookup("get user", err)
	}
	return user, nil
}

func (p pgQueries) GetUserByEmail(ctx context.Context, email string) (User, error) {
	var user User
	err := sqlx.GetContext(ctx, p.q, &user, `SELECT `+userColumns+` FROM users WHERE lower(email)=lower($1)`, email)
	if err != nil {
		return User{}, wrapLookup("get user by email", err)
	}
	return user, nil
}

func (p pgQueries) SetVerificationCode(ctx context.Context, userID, code string, requestedAt time.Time) error {
	return p.execOne(ctx, "set verification code", `
		UPDATE users
		SET email_verification_code=$2, email_verification_requested_at=$3, updated_at=$3
		WHERE id=$1
	`, userID, code, requestedAt)
}

// MarkEmailVerified consumes the verification code. It reports ErrNotFound
// when the code was already consumed or replaced.
func (p pgQueries) MarkEmailVerified(ctx context.Context, userID, code string, at time.Time) error {
	return p.execOne(ctx, "mark email verified", `
		UPDATE users
		SET email_verified_at=$3, email_verification_code=NULL, email_verification_requested_at=NULL, updated_at=$3
		WHERE id=$1 AND email_verification_code=$2
	`, userID, code, at)
}

func (p pgQueries) SetPasswordResetCode(ctx context.Context, userID, code string, requestedAt time.Time) error {
	return p.execOne(ctx, "set password reset code", `
		UPDATE users
		SET password_reset_code=$2, password_reset_requested_at=$3, updated_at=$3
		WHERE id=$1
	`, userID, code, requestedAt)
}

// ResetPassword consumes the reset code, same contract as MarkEmailVerified.
func (p pgQueries) ResetPassword(ctx context.Context, userID, code, passwordHash string, at time.Time) error {
	return p.execOne(ctx, "reset password", `
		UPDATE users
		SET password_hash=$3, password_reset_code=NULL, password_reset_requested_at=NULL,
			password_reset_at=$4, updated_at=$4
		WHERE id=$1 AND password_reset_code=$2
	`, userID, code, passwordHash, at)
}

func (p pgQueries) SearchVerifiedUsers(ctx context.Context, query, excludeUserID string, limit int) ([]User, error) {
	users := []User{}
	err := sqlx.SelectContext(ctx, p.q, &users, `
		SELECT `+userColumns+`
		FROM users
		WHERE email_verified_at IS NOT NULL
			AND id <> $1
			AND ($2 = '' OR name ILIKE $3 ESCAPE '\' OR email ILIKE $3 ESCAPE '\')
		ORDER BY name, email
		LIMIT $4
	`, excludeUserID, query, "%"+escapeLike(query)+"%", limit)
	if err != nil {
		return nil, fmt.Errorf("search users: %w", err)
	}
	return users, nil
}

func (p pgQueries) ListVerifiedUsers(ctx context.Context) ([]User, error) {
	users := []User{}
	err := sqlx.SelectContext(ctx, p.q, &users, `SELECT `+userColumns+` FROM users WHERE email_verified_at IS NOT NULL ORDER BY created_at`)
	if err != nil {
		return nil, fmt.Errorf("list verified users: %w", err)
	}
	return users, nil
}

func (p pgQueries) CreateProject(ctx context.Context, project Project) error {
	_, err := p.q.ExecContext(ctx, `
		INSERT INTO projects (id, owner_id, name, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5)
	`, project.ID, project.OwnerID, project.Name, project.CreatedAt, project.UpdatedAt)
	if err != nil {
		return fmt.Errorf("insert project: %w", err)
	}
	return nil
}

func (p pgQueries) GetProject(ctx context.Context, projectID string) (Project, error) {
	var project Project
	err := sqlx.GetContext(ctx, p.q, &project, `SELECT id, owner_id, name, created_at, updated_at FROM projects WHERE id=$1`, projectID)
	if err != nil {
		return Project{}, wrapLookup("get project", err)
	}
	return project, nil
}

func (p pgQueries) DeleteProject(ctx context.Context, projectID string) error {
	return p.execOne(ctx, "delete project", `DELETE FROM projects WHERE id=$1`, projectID)
}

func (p pgQueries) AddProjectMember(ctx context.Context, member ProjectMember) (bool, error) {
	result, err := p.q.ExecContext(ctx, `
		INSERT INTO project_members (project_id, user_id, role, created_at)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (project_id, user_id) DO NOTHING
	`, member.ProjectID, member.UserID, string(member.Role), member.CreatedAt)
	if err != nil {
		return false, fmt.Errorf("insert project member: %w", err)
	}
	return affected(result)
}

func (p pgQueries) ListProjectMembers(ctx context.Context, projectID string) ([]ProjectMember, error) {
	members := []ProjectMember{}
	err := sqlx.SelectContext(ctx, p.q, &members, `
		SELECT project_id, user_id, role, created_at
		FROM project_members
		WHERE project_id=$1
		ORDER BY created_at
	`, projectID)
	if err != nil {
		return nil, fmt.Errorf("list project members: %w", err)
	}
	return members, nil
}

func (p pgQueries) CreateReview(ctx context.Context, review Review) error {
	_, err := p.q.ExecContext(ctx, `
		INSERT INTO reviews (id, project_id, name, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5)
	`, review.ID, review.ProjectID, review.Name, review.CreatedAt, review.UpdatedAt)
	if err != nil {
		return fmt.Errorf("insert review: %w", err)
	}
	return nil
}

func (p pgQueries) GetReview(ctx context.Context, reviewID string) (Review, error) {
	var review Review
	err := sqlx.GetContext(ctx, p.q, &review, `SELECT id, project_id, name, created_at, updated_at FROM reviews WHERE id=$1`, reviewID)
	if err != nil {
		return Review{}, wrapLookup("get review", err)
	}
	return review, nil
}

func (p pgQueries) DeleteReview(ctx context.Context, reviewID string) error {
	return p.execOne(ctx, "delete review", `DELETE FROM reviews WHERE id=$1`, reviewID)
}

func (p pgQueries) AssignReviewer(ctx context.Context, assignment ReviewAssignment) (bool, error) {
	result, err := p.q.ExecContext(ctx, `
		INSERT INTO review_assignments (review_id, user_id, assigned_at)
		VALUES ($1, $2, $3)
		ON CONFLICT (review_id, user_id) DO NOTHING
	`, assignment.ReviewID, assignment.UserID, assignment.AssignedAt)
	if err != nil {
		return false, fmt.Errorf("insert review assignment: %w", err)
	}
	return affected(result)
}

const checklistColumns = `id, review_id, reviewer_id, type, completed_at, created_at, updated_at`

func (p pgQueries) CreateChecklist(ctx context.Context, checklist Checklist) error {
	_, err := p.q.ExecContext(ctx, `
		INSERT INTO checklists (id, review_id, reviewer_id, type, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6)
	`, checklist.ID, checklist.ReviewID, checklist.ReviewerID, checklist.Type, checklist.CreatedAt, checklist.UpdatedAt)
	if err != nil {
		return fmt.Errorf("insert checklist: %w", err)
	}
	return nil
}

func (p pgQueries) GetChecklist(ctx context.Context, checklistID string) (Checklist, error) {
	var checklist Checklist
	err := sqlx.GetContext(ctx, p.q, &checklist, `SELECT `+checklistColumns+` FROM checklists WHERE id=$1`, checklistID)
	if err != nil {
		return Checklist{}, wrapLookup("get checklist", err)
	}
	return checklist, nil
}

// LockChecklist reads the checklist row with a row lock held until the
// surrounding transaction ends. Outside a transaction it behaves like GetChecklist.
func (p pgQueries) LockChecklist(ctx context.Context, checklistID string) (Checklist, error) {
	var checklist Checklist
	err := sqlx.GetContext(ctx, p.q, &checklist, `SELECT `+checklistColumns+` FROM checklists WHERE id=$1 FOR UPDATE`, checklistID)
	if err != nil {
		return Checklist{}, wrapLookup("lock checklist", err)
	}
	return checklist, nil
}

func (p pgQueries) CompleteChecklist(ctx context.Context, checklistID string, at time.Time) (Checklist, error) {
	var checklist Checklist
	err := sqlx.GetContext(ctx, p.q, &checklist, `
		UPDATE checklists SET completed_at=$2, updated_at=$2
		WHERE id=$1
		RETURNING `+checklistColumns, checklistID, at)
	if err != nil {
		return Checklist{}, wrapLookup("complete checklist", err)
	}
	return checklist, nil
}

func (p pgQueries) DeleteChecklist(ctx context.Context, checklistID string) error {
	return p.execOne(ctx, "delete checklist", `DELETE FROM checklists WHERE id=$1`, checklistID)
}

// UpsertAnswer writes the answer keyed by (checklist_id, question_key) in one
// statement. The boolean result is true when a new row was inserted.
func (p pgQueries) UpsertAnswer(ctx context.Context, answer ChecklistAnswer) (ChecklistAnswer, bool, error) {
	var row struct {
		ChecklistAnswer
		Inserted bool `db:"inserted"`
	}
	err := sqlx.GetContext(ctx, p.q, &row, `
		INSERT INTO checklist_answers (id, checklist_id, question_key, answers, critical, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $6)
		ON CONFLICT (checklist_id, question_key) DO UPDATE
		SET answers=EXCLUDED.answers, critical=EXCLUDED.critical, updated_at=EXCLUDED.updated_at
		RETURNING id, checklist_id, question_key, answers, critical, created_at, updated_at, (xmax = 0) AS inserted
	`, answer.ID, answer.ChecklistID, answer.QuestionKey, answer.Answers, answer.Critical, answer.UpdatedAt)
	if err != nil {
		return ChecklistAnswer{}, false, fmt.Errorf("upsert checklist answer: %w", err)
	}
	return row.ChecklistAnswer, row.Inserted, nil
}

func (p pgQueries) ListAnswers(ctx context.Context, checklistID string) ([]ChecklistAnswer, error) {
	answers := []ChecklistAnswer{}
	err := sqlx.SelectContext(ctx, p.q, &answers, `
		SELECT id, checklist_id, question_key, answers, critical, created_at, updated_at
		FROM checklist_answers
		WHERE checklist_id=$1
		ORDER BY question_key
	`, checklistID)
	if err != nil {
		return nil, fmt.Errorf("list checklist answers: %w", err)
	}
	return answers, nil
}

func (p pgQueries) execOne(ctx context.Context, op, query string, args ...any) error {
	result, err := p.q.ExecContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	changed, err := affected(result)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	if !changed {
		return ErrNotFound
	}
	return nil
}

func affected(result sql.Result) (bool, error) {
	count, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("rows affected: %w", err)
	}
	return count > 0, nil
}

func wrapLookup(op string, err error) error {
	if errors.Is(err, sql.ErrNoRows) {
		return ErrNotFound
	}
	return fmt.Errorf("%s: %w", op, err)
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == uniqueViolation
}

func escapeLike(value string) string {
	replacer := strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)
	return replacer.Replace(value)
}
