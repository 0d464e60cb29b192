// Package rbac names the project membership roles and the actions that the
// authorization policies are written against.
package rbac

type Role string
type Action string

const (
	RoleOwner  Role = "owner"
	RoleMember Role = "member"
)

const (
	ActionProjectDelete     Action = "project:delete"
	ActionProjectAddMember  Action = "project:add_member"
	ActionReviewCreate      Action = "review:create"
	ActionReviewDelete      Action = "review:delete"
	ActionReviewAssign      Action = "review:assign"
	ActionChecklistCreate   Action = "checklist:create"
	ActionChecklistComplete Action = "checklist:complete"
	ActionChecklistDelete   Action = "checklist:delete"
	ActionChecklistAnswer   Action = "checklist:answer"
)

// Actions lists every action the policy set is expected to cover.
func Actions() []Action {
	return []Action{
		ActionProjectDelete,
		ActionProjectAddMember,
		ActionReviewCreate,
		ActionReviewDelete,
		ActionReviewAssign,
		ActionChecklistCreate,
		ActionChecklistComplete,
		ActionChecklistDelete,
		ActionChecklistAnswer,
	}
}

func Normalize(role string) Role {
	switch Role(role) {
	case RoleOwner, RoleMember:
		return Role(role)
	default:
		return RoleMember
	}
}
