package app

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/InfinityBowman/amstar2-checklist-scoring-app/internal/authpw"
	"github.com/InfinityBowman/amstar2-checklist-scoring-app/internal/authz"
	"github.com/InfinityBowman/amstar2-checklist-scoring-app/internal/errs"
	"github.com/InfinityBowman/amstar2-checklist-scoring-app/internal/rbac"
	"github.com/InfinityBowman/amstar2-checklist-scoring-app/internal/store"
	"github.com/InfinityBowman/amstar2-checklist-scoring-app/internal/util"
)

const maxNameLength = 255

const (
	msgProjectNotFound   = "Project not found"
	msgReviewNotFound    = "Review not found"
	msgChecklistNotFound = "Checklist not found"
	msgUserNotFound      = "User not found"
)

func validName(field, raw string) (string, error) {
	name := strings.TrimSpace(raw)
	if name == "" {
		return "", errs.Validation(field + " is required")
	}
	if utf8.RuneCountInString(name) > maxNameLength {
		return "", errs.Validation(fmt.Sprintf("%s must be at most %d characters", field, maxNameLength))
	}
	return name, nil
}

func validID(field, raw string) error {
	if !util.ValidID(raw) {
		return errs.Validation("Invalid " + field)
	}
	return nil
}

// notFound converts store.ErrNotFound into a domain NotFound with message and
// wraps anything else.
func notFound(err error, message, op string) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, store.ErrNotFound) {
		return errs.NotFound(message)
	}
	return fmt.Errorf("%s: %w", op, err)
}

// loadProject reads a project together with its member ids, the shape every
// project-scoped policy evaluates.
func loadProject(ctx context.Context, q store.Queries, projectID string) (store.Project, authz.Project, error) {
	project, err := q.GetProject(ctx, projectID)
	if err != nil {
		return store.Project{}, authz.Project{}, notFound(err, msgProjectNotFound, "load project")
	}
	members, err := q.ListProjectMembers(ctx, projectID)
	if err != nil {
		return store.Project{}, authz.Project{}, fmt.Errorf("load project members: %w", err)
	}
	chain := authz.Project{ID: project.ID, OwnerID: project.OwnerID, MemberIDs: make([]string, 0, len(members))}
	for _, member := range members {
		chain.MemberIDs = append(chain.MemberIDs, member.UserID)
	}
	return project, chain, nil
}

func loadReview(ctx context.Context, q store.Queries, reviewID string) (store.Review, authz.Review, error) {
	review, err := q.GetReview(ctx, reviewID)
	if err != nil {
		return store.Review{}, authz.Review{}, notFound(err, msgReviewNotFound, "load review")
	}
	_, project, err := loadProject(ctx, q, review.ProjectID)
	if err != nil {
		return store.Review{}, authz.Review{}, err
	}
	return review, authz.Review{ID: review.ID, Project: project}, nil
}

func checklistResource(checklist store.Checklist) *authz.Checklist {
	resource := &authz.Checklist{ID: checklist.ID, Completed: checklist.Completed()}
	if checklist.ReviewerID != nil {
		resource.ReviewerID = *checklist.ReviewerID
	}
	return resource
}

// CreateProject stores the project and the owner's membership row together.
func (s *Service) CreateProject(ctx context.Context, actor store.User, name string) (store.Project, error) {
	name, err := validName("name", name)
	if err != nil {
		return store.Project{}, err
	}
	now := s.now().UTC()
	project := store.Project{ID: util.NewID(), OwnerID: actor.ID, Name: name, CreatedAt: now, UpdatedAt: now}

	err = s.store.WithTx(ctx, func(q store.Queries) error {
		if err := q.CreateProject(ctx, project); err != nil {
			return err
		}
		_, err := q.AddProjectMember(ctx, store.ProjectMember{ProjectID: project.ID, UserID: actor.ID, Role: rbac.RoleOwner, CreatedAt: now})
		return err
	})
	if err != nil {
		return store.Project{}, fmt.Errorf("create project: %w", err)
	}
	return project, nil
}

func (s *Service) DeleteProject(ctx context.Context, actor store.User, projectID string) error {
	if err := validID("project id", projectID); err != nil {
		return err
	}
	return s.store.WithTx(ctx, func(q store.Queries) error {
		_, chain, err := loadProject(ctx, q, projectID)
		if err != nil {
			return err
		}
		decision := s.authz.Authorize(ctx, authz.Request{Principal: actor.ID, Action: rbac.ActionProjectDelete, Project: &chain})
		if !decision.Allowed {
			return errs.Forbidden("Only the project owner can delete the project")
		}
		return notFound(q.DeleteProject(ctx, projectID), msgProjectNotFound, "delete project")
	})
}

// AddMemberByEmail adds a verified user found by email. Unknown and
// unverified addresses report the same NotFound.
func (s *Service) AddMemberByEmail(ctx context.Context, actor store.User, projectID, email string) (store.User, error) {
	email = authpw.NormalizeEmail(email)
	if email == "" {
		return store.User{}, errs.Validation("email is required")
	}
	return s.addMember(ctx, actor, projectID, func(q store.Queries) (store.User, error) {
		return q.GetUserByEmail(ctx, email)
	})
}

func (s *Service) AddMemberByID(ctx context.Context, actor store.User, projectID, userID string) (store.User, error) {
	if err := validID("user id", userID); err != nil {
		return store.User{}, err
	}
	return s.addMember(ctx, actor, projectID, func(q store.Queries) (store.User, error) {
		return q.GetUserByID(ctx, userID)
	})
}

func (s *Service) addMember(ctx context.Context, actor store.User, projectID string, findUser func(store.Queries) (store.User, error)) (store.User, error) {
	if err := validID("project id", projectID); err != nil {
		return store.User{}, err
	}
	var added store.User
	err := s.store.WithTx(ctx, func(q store.Queries) error {
		project, chain, err := loadProject(ctx, q, projectID)
		if err != nil {
			return err
		}
		decision := s.authz.Authorize(ctx, authz.Request{Principal: actor.ID, Action: rbac.ActionProjectAddMember, Project: &chain})
		if !decision.Allowed {
			return errs.Forbidden("Only the project owner can add members")
		}

		user, err := findUser(q)
		if err != nil && !errors.Is(err, store.ErrNotFound) {
			return fmt.Errorf("load user: %w", err)
		}
		if err != nil || !user.Verified() {
			return errs.NotFound("User not found or email not verified")
		}
		if user.ID == project.OwnerID {
			return errs.InvalidInput("User is already the project owner")
		}

		// Re-adding an existing member is a no-op.
		if _, err := q.AddProjectMember(ctx, store.ProjectMember{
			ProjectID: project.ID,
			UserID:    user.ID,
			Role:      rbac.RoleMember,
			CreatedAt: s.now().UTC(),
		}); err != nil {
			return err
		}
		added = user
		return nil
	})
	return added, err
}

func (s *Service) CreateReview(ctx context.Context, actor store.User, projectID, name string) (store.Review, error) {
	if err := validID("project_id", projectID); err != nil {
		return store.Review{}, err
	}
	name, err := validName("name", name)
	if err != nil {
		return store.Review{}, err
	}

	var review store.Review
	err = s.store.WithTx(ctx, func(q store.Queries) error {
		_, chain, err := loadProject(ctx, q, projectID)
		if err != nil {
			return err
		}
		decision := s.authz.Authorize(ctx, authz.Request{Principal: actor.ID, Action: rbac.ActionReviewCreate, Project: &chain})
		if !decision.Allowed {
			return errs.Forbidden("You must be a project owner or member to create reviews")
		}
		now := s.now().UTC()
		review = store.Review{ID: util.NewID(), ProjectID: projectID, Name: name, CreatedAt: now, UpdatedAt: now}
		return q.CreateReview(ctx, review)
	})
	return review, err
}

func (s *Service) DeleteReview(ctx context.Context, actor store.User, reviewID string) error {
	if err := validID("review id", reviewID); err != nil {
		return err
	}
	return s.store.WithTx(ctx, func(q store.Queries) error {
		_, chain, err := loadReview(ctx, q, reviewID)
		if err != nil {
			return err
		}
		decision := s.authz.Authorize(ctx, authz.Request{Principal: actor.ID, Action: rbac.ActionReviewDelete, Review: &chain})
		if !decision.Allowed {
			return errs.Forbidden("Only the project owner can delete reviews")
		}
		return notFound(q.DeleteReview(ctx, reviewID), msgReviewNotFound, "delete review")
	})
}

// AssignReviewer marks userID as eligible to hold a checklist on the review.
// Assigning twice succeeds.
func (s *Service) AssignReviewer(ctx context.Context, actor store.User, reviewID, userID string) error {
	if err := validID("review id", reviewID); err != nil {
		return err
	}
	if err := validID("user id", userID); err != nil {
		return err
	}
	return s.store.WithTx(ctx, func(q store.Queries) error {
		_, chain, err := loadReview(ctx, q, reviewID)
		if err != nil {
			return err
		}
		if _, err := q.GetUserByID(ctx, userID); err != nil {
			return notFound(err, msgUserNotFound, "load assignee")
		}
		decision := s.authz.Authorize(ctx, authz.Request{
			Principal: actor.ID,
			Action:    rbac.ActionReviewAssign,
			Review:    &chain,
			Context:   map[string]string{authz.ContextAssignee: userID},
		})
		if decision.DeniedBy(authz.PolicyAssigneeMustBeMember) {
			return errs.Forbidden("User must be a project member to be assigned as a reviewer")
		}
		if !decision.Allowed {
			return errs.Forbidden("You must be a project owner or member to assign reviewers")
		}
		_, err = q.AssignReviewer(ctx, store.ReviewAssignment{ReviewID: reviewID, UserID: userID, AssignedAt: s.now().UTC()})
		return err
	})
}

type CreateChecklistInput struct {
	ReviewID   string
	ReviewerID string
	Type       string
}

// CreateChecklist opens a checklist with the actor as reviewer and records
// the matching review assignment in the same transaction.
func (s *Service) CreateChecklist(ctx context.Context, actor store.User, input CreateChecklistInput) (store.Checklist, error) {
	if err := validID("review_id", input.ReviewID); err != nil {
		return store.Checklist{}, err
	}
	checklistType := strings.ToLower(strings.TrimSpace(input.Type))
	if checklistType == "" {
		checklistType = store.ChecklistTypeAMSTAR
	}
	if !store.ChecklistTypes[checklistType] {
		return store.Checklist{}, errs.Validation("Unsupported checklist type")
	}

	var checklist store.Checklist
	err := s.store.WithTx(ctx, func(q store.Queries) error {
		_, chain, err := loadReview(ctx, q, input.ReviewID)
		if err != nil {
			return err
		}
		req := authz.Request{Principal: actor.ID, Action: rbac.ActionChecklistCreate, Review: &chain}
		if reviewer := strings.TrimSpace(input.ReviewerID); reviewer != "" {
			req.Context = map[string]string{authz.ContextRequestedReviewer: reviewer}
		}
		if !s.authz.Authorize(ctx, req).Allowed {
			return errs.Forbidden("You can only create a checklist for yourself as the reviewer")
		}

		now := s.now().UTC()
		if _, err := q.AssignReviewer(ctx, store.ReviewAssignment{ReviewID: input.ReviewID, UserID: actor.ID, AssignedAt: now}); err != nil {
			return err
		}
		reviewerID := actor.ID
		checklist = store.Checklist{
			ID:         util.NewID(),
			ReviewID:   input.ReviewID,
			ReviewerID: &reviewerID,
			Type:       checklistType,
			CreatedAt:  now,
			UpdatedAt:  now,
		}
		return q.CreateChecklist(ctx, checklist)
	})
	return checklist, err
}

// CompleteChecklist sets completed_at. Completing again refreshes the
// timestamp.
func (s *Service) CompleteChecklist(ctx context.Context, actor store.User, checklistID string) (store.Checklist, error) {
	if err := validID("checklist id", checklistID); err != nil {
		return store.Checklist{}, err
	}
	var completed store.Checklist
	err := s.store.WithTx(ctx, func(q store.Queries) error {
		checklist, err := q.LockChecklist(ctx, checklistID)
		if err != nil {
			return notFound(err, msgChecklistNotFound, "load checklist")
		}
		decision := s.authz.Authorize(ctx, authz.Request{Principal: actor.ID, Action: rbac.ActionChecklistComplete, Checklist: checklistResource(checklist)})
		if !decision.Allowed {
			return errs.Forbidden("Only the assigned reviewer can mark a checklist as completed")
		}
		completed, err = q.CompleteChecklist(ctx, checklistID, s.now().UTC())
		return err
	})
	return completed, err
}

func (s *Service) DeleteChecklist(ctx context.Context, actor store.User, checklistID string) error {
	if err := validID("checklist id", checklistID); err != nil {
		return err
	}
	return s.store.WithTx(ctx, func(q store.Queries) error {
		checklist, err := q.LockChecklist(ctx, checklistID)
		if err != nil {
			return notFound(err, msgChecklistNotFound, "load checklist")
		}
		decision := s.authz.Authorize(ctx, authz.Request{Principal: actor.ID, Action: rbac.ActionChecklistDelete, Checklist: checklistResource(checklist)})
		if !decision.Allowed {
			return errs.Forbidden("Only the assigned reviewer can delete this checklist")
		}
		return notFound(q.DeleteChecklist(ctx, checklistID), msgChecklistNotFound, "delete checklist")
	})
}

type AnswerInput struct {
	QuestionKey string
	Answers     store.BoolMatrix
	Critical    bool
}

// UpsertAnswer writes the answer for one question. The checklist row stays
// locked for the transaction so a concurrent completion cannot slip between
// the check and the write. created reports whether a new row was inserted.
func (s *Service) UpsertAnswer(ctx context.Context, actor store.User, checklistID string, input AnswerInput) (answer store.ChecklistAnswer, created bool, err error) {
	if err := validID("checklist id", checklistID); err != nil {
		return store.ChecklistAnswer{}, false, err
	}
	questionKey := strings.TrimSpace(input.QuestionKey)
	if questionKey == "" {
		return store.ChecklistAnswer{}, false, errs.Validation("question_key is required")
	}
	if input.Answers == nil {
		return store.ChecklistAnswer{}, false, errs.Validation("answers is required")
	}

	err = s.store.WithTx(ctx, func(q store.Queries) error {
		checklist, err := q.LockChecklist(ctx, checklistID)
		if err != nil {
			return notFound(err, msgChecklistNotFound, "load checklist")
		}
		decision := s.authz.Authorize(ctx, authz.Request{Principal: actor.ID, Action: rbac.ActionChecklistAnswer, Checklist: checklistResource(checklist)})
		if decision.DeniedBy(authz.PolicyCompletedChecklistFrozen) {
			return errs.Forbidden("Cannot edit a completed checklist")
		}
		if !decision.Allowed {
			return errs.Forbidden("Only the assigned reviewer can create or update answers")
		}

		now := s.now().UTC()
		answer, created, err = q.UpsertAnswer(ctx, store.ChecklistAnswer{
			ID:          util.NewID(),
			ChecklistID: checklistID,
			QuestionKey: questionKey,
			Answers:     input.Answers,
			Critical:    input.Critical,
			CreatedAt:   now,
			UpdatedAt:   now,
		})
		return err
	})
	return answer, created, err
}
