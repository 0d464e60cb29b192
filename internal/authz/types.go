package authz

import (
	"time"

	"github.com/InfinityBowman/amstar2-checklist-scoring-app/internal/rbac"
)

// Policy ids callers match on to explain a denial.
const (
	PolicyAssigneeMustBeMember     = "assignee-must-be-member"
	PolicyCompletedChecklistFrozen = "completed-checklist-frozen"
)

// Context keys carrying user references into policy evaluation.
const (
	ContextAssignee          = "assignee"
	ContextRequestedReviewer = "requested_reviewer"
)

// Project is the ownership chain root. MemberIDs includes the owner.
type Project struct {
	ID        string
	OwnerID   string
	MemberIDs []string
}

type Review struct {
	ID      string
	Project Project
}

type Checklist struct {
	ID         string
	Review     *Review
	ReviewerID string
	Completed  bool
}

// Request asks whether Principal may perform Action on exactly one of
// Project, Review or Checklist. Context maps a key to a user id.
type Request struct {
	Principal string
	Action    rbac.Action
	Project   *Project
	Review    *Review
	Checklist *Checklist
	Context   map[string]string
}

type Decision struct {
	Allowed bool
	// PolicyID is the first policy that determined the decision; empty on
	// default deny.
	PolicyID string
	// Forbidden is set when an explicit forbid policy overrode any permit.
	Forbidden bool
	Reason    string
	Duration  time.Duration
}

// DeniedBy reports whether the decision was a denial from policy id.
func (d Decision) DeniedBy(id string) bool {
	return !d.Allowed && d.PolicyID == id
}
