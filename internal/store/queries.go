package store

import (
	"context"
	"errors"
	"time"
)

var (
	ErrNotFound = errors.New("not found")
	ErrConflict = errors.New("conflict")
)

// Queries is the data access surface used by the resource lifecycle. It is
// satisfied both by the store itself and by the transaction handle passed to
// WithTx callbacks.
type Queries interface {
	CreateUser(ctx context.Context, user User) error
	GetUserByID(ctx context.Context, userID string) (User, error)
	GetUserByEmail(ctx context.Context, email string) (User, error)
	SetVerificationCode(ctx context.Context, userID, code string, requestedAt time.Time) error
	MarkEmailVerified(ctx context.Context, userID, code string, at time.Time) error
	SetPasswordResetCode(ctx context.Context, userID, code string, requestedAt time.Time) error
	ResetPassword(ctx context.Context, userID, code, passwordHash string, at time.Time) error
	SearchVerifiedUsers(ctx context.Context, query, excludeUserID string, limit int) ([]User, error)
	ListVerifiedUsers(ctx context.Context) ([]User, error)

	CreateProject(ctx context.Context, project Project) error
	GetProject(ctx context.Context, projectID string) (Project, error)
	DeleteProject(ctx context.Context, projectID string) error
	AddProjectMember(ctx context.Context, member ProjectMember) (bool, error)
	ListProjectMembers(ctx context.Context, projectID string) ([]ProjectMember, error)

	CreateReview(ctx context.Context, review Review) error
	GetReview(ctx context.Context, reviewID string) (Review, error)
	DeleteReview(ctx context.Context, reviewID string) error
	AssignReviewer(ctx context.Context, assignment ReviewAssignment) (bool, error)

	CreateChecklist(ctx context.Context, checklist Checklist) error
	GetChecklist(ctx context.Context, checklistID string) (Checklist, error)
	LockChecklist(ctx context.Context, checklistID string) (Checklist, error)
	CompleteChecklist(ctx context.Context, checklistID string, at time.Time) (Checklist, error)
	DeleteChecklist(ctx context.Context, checklistID string) error
	UpsertAnswer(ctx context.Context, answer ChecklistAnswer) (ChecklistAnswer, bool, error)
	ListAnswers(ctx context.Context, checklistID string) ([]ChecklistAnswer, error)
}
