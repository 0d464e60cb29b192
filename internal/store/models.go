package store

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"time"

	"github.com/InfinityBowman/amstar2-checklist-scoring-app/internal/rbac"
)

// User is a credential record. The code/requested_at pairs are either both
// set or both nil; the schema enforces it.
type User struct {
	ID                      string     `db:"id"`
	Email                   string     `db:"email"`
	Name                    string     `db:"name"`
	PasswordHash            string     `db:"password_hash"`
	EmailVerifiedAt         *time.Time `db:"email_verified_at"`
	VerificationCode        *string    `db:"email_verification_code"`
	VerificationRequestedAt *time.Time `db:"email_verification_requested_at"`
	ResetCode               *string    `db:"password_reset_code"`
	ResetRequestedAt        *time.Time `db:"password_reset_requested_at"`
	PasswordResetAt         *time.Time `db:"password_reset_at"`
	CreatedAt               time.Time  `db:"created_at"`
	UpdatedAt               time.Time  `db:"updated_at"`
}

func (u User) Verified() bool {
	return u.EmailVerifiedAt != nil
}

type Project struct {
	ID        string    `db:"id"`
	OwnerID   string    `db:"owner_id"`
	Name      string    `db:"name"`
	CreatedAt time.Time `db:"created_at"`
	UpdatedAt time.Time `db:"updated_at"`
}

type ProjectMember struct {
	ProjectID string    `db:"project_id"`
	UserID    string    `db:"user_id"`
	Role      rbac.Role `db:"role"`
	CreatedAt time.Time `db:"created_at"`
}

type Review struct {
	ID        string    `db:"id"`
	ProjectID string    `db:"project_id"`
	Name      string    `db:"name"`
	CreatedAt time.Time `db:"created_at"`
	UpdatedAt time.Time `db:"updated_at"`
}

type ReviewAssignment struct {
	ReviewID   string    `db:"review_id"`
	UserID     string    `db:"user_id"`
	AssignedAt time.Time `db:"assigned_at"`
}

const ChecklistTypeAMSTAR = "amstar"

// ChecklistTypes is the set accepted by the checklists.type constraint.
var ChecklistTypes = map[string]bool{ChecklistTypeAMSTAR: true}

type Checklist struct {
	ID          string     `db:"id"`
	ReviewID    string     `db:"review_id"`
	ReviewerID  *string    `db:"reviewer_id"`
	Type        string     `db:"type"`
	CompletedAt *time.Time `db:"completed_at"`
	CreatedAt   time.Time  `db:"created_at"`
	UpdatedAt   time.Time  `db:"updated_at"`
}

func (c Checklist) Completed() bool {
	return c.CompletedAt != nil
}

type ChecklistAnswer struct {
	ID          string     `db:"id"`
	ChecklistID string     `db:"checklist_id"`
	QuestionKey string     `db:"question_key"`
	Answers     BoolMatrix `db:"answers"`
	Critical    bool       `db:"critical"`
	CreatedAt   time.Time  `db:"created_at"`
	UpdatedAt   time.Time  `db:"updated_at"`
}

// BoolMatrix is an answer grid stored as JSONB: one row per choice group,
// one boolean per option.
type BoolMatrix [][]bool

func (m BoolMatrix) Value() (driver.Value, error) {
	if m == nil {
		return "[]", nil
	}
	encoded, err := json.Marshal([][]bool(m))
	if err != nil {
		return nil, fmt.Errorf("encode answers: %w", err)
	}
	return string(encoded), nil
}

func (m *BoolMatrix) Scan(src any) error {
	var raw []byte
	switch value := src.(type) {
	case nil:
		*m = BoolMatrix{}
		return nil
	case []byte:
		raw = value
	case string:
		raw = []byte(value)
	default:
		return fmt.Errorf("scan answers: unsupported type %T", src)
	}
	var decoded [][]bool
	if err := json.Unmarshal(raw, &decoded); err != nil {
		return fmt.Errorf("scan answers: %w", err)
	}
	*m = decoded
	return nil
}
