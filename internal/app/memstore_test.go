package app

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/InfinityBowman/amstar2-checklist-scoring-app/internal/store"
)

// memStore is an in-memory dataStore with the same observable semantics as
// store.PostgresStore: unique emails, idempotent membership and assignment
// inserts, cascading deletes and transactional rollback.
type memStore struct {
	txMu    sync.Mutex
	mu      sync.Mutex
	state   memState
	pingErr error
}

type memState struct {
	users       map[string]store.User
	projects    map[string]store.Project
	members     []store.ProjectMember
	reviews     map[string]store.Review
	assignments []store.ReviewAssignment
	checklists  map[string]store.Checklist
	answers     []store.ChecklistAnswer
}

func newMemStore() *memStore {
	return &memStore{state: memState{
		users:      map[string]store.User{},
		projects:   map[string]store.Project{},
		reviews:    map[string]store.Review{},
		checklists: map[string]store.Checklist{},
	}}
}

func (s memState) clone() memState {
	out := memState{
		users:       make(map[string]store.User, len(s.users)),
		projects:    make(map[string]store.Project, len(s.projects)),
		members:     append([]store.ProjectMember(nil), s.members...),
		reviews:     make(map[string]store.Review, len(s.reviews)),
		assignments: append([]store.ReviewAssignment(nil), s.assignments...),
		checklists:  make(map[string]store.Checklist, len(s.checklists)),
		answers:     append([]store.ChecklistAnswer(nil), s.answers...),
	}
	for k, v := range s.users {
		out.users[k] = v
	}
	for k, v := range s.projects {
		out.projects[k] = v
	}
	for k, v := range s.reviews {
		out.reviews[k] = v
	}
	for k, v := range s.checklists {
		out.checklists[k] = v
	}
	return out
}

func (m *memStore) Ping(context.Context) error { return m.pingErr }

func (m *memStore) WithTx(_ context.Context, fn func(store.Queries) error) error {
	m.txMu.Lock()
	defer m.txMu.Unlock()

	m.mu.Lock()
	snapshot := m.state.clone()
	m.mu.Unlock()

	if err := fn(m); err != nil {
		m.mu.Lock()
		m.state = snapshot
		m.mu.Unlock()
		return err
	}
	return nil
}

func (m *memStore) CreateUser(_ context.Context, user store.User) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, existing := range m.state.users {
		if strings.EqualFold(existing.Email, user.Email) {
			return store.ErrConflict
		}
	}
	m.state.users[user.ID] = user
	return nil
}

func (m *memStore) GetUserByID(_ context.Context, userID string) (store.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	user, ok := m.state.users[userID]
	if !ok {
		return store.User{}, store.ErrNotFound
	}
	return user, nil
}

func (m *memStore) GetUserByEmail(_ context.Context, email string) (store.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, user := range m.state.users {
		if strings.EqualFold(user.Email, email) {
			return user, nil
		}
	}
	return store.User{}, store.ErrNotFound
}

func (m *memStore) updateUser(userID string, fn func(*store.User) bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	user, ok := m.state.users[userID]
	if !ok || !fn(&user) {
		return store.ErrNotFound
	}
	m.state.users[userID] = user
	return nil
}

func (m *memStore) SetVerificationCode(_ context.Context, userID, code string, requestedAt time.Time) error {
	return m.updateUser(userID, func(u *store.User) bool {
		u.VerificationCode, u.VerificationRequestedAt = &code, &requestedAt
		u.UpdatedAt = requestedAt
		return true
	})
}

func (m *memStore) MarkEmailVerified(_ context.Context, userID, code string, at time.Time) error {
	return m.updateUser(userID, func(u *store.User) bool {
		if u.VerificationCode == nil || *u.VerificationCode != code {
			return false
		}
		u.EmailVerifiedAt = &at
		u.VerificationCode, u.VerificationRequestedAt = nil, nil
		u.UpdatedAt = at
		return true
	})
}

func (m *memStore) SetPasswordResetCode(_ context.Context, userID, code string, requestedAt time.Time) error {
	return m.updateUser(userID, func(u *store.User) bool {
		u.ResetCode, u.ResetRequestedAt = &code, &requestedAt
		u.UpdatedAt = requestedAt
		return true
	})
}

func (m *memStore) ResetPassword(_ context.Context, userID, code, passwordHash string, at time.Time) error {
	return m.updateUser(userID, func(u *store.User) bool {
		if u.ResetCode == nil || *u.ResetCode != code {
			return false
		}
		u.PasswordHash = passwordHash
		u.ResetCode, u.ResetRequestedAt = nil, nil
		u.PasswordResetAt = &at
		u.UpdatedAt = at
		return true
	})
}

func (m *memStore) SearchVerifiedUsers(_ context.Context, query, excludeUserID string, limit int) ([]store.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	needle := strings.ToLower(query)
	users := []store.User{}
	for _, user := range m.state.users {
		if !user.Verified() || user.ID == excludeUserID {
			continue
		}
		if needle != "" && !strings.Contains(strings.ToLower(user.Name), needle) && !strings.Contains(strings.ToLower(user.Email), needle) {
			continue
		}
		users = append(users, user)
	}
	sort.Slice(users, func(i, j int) bool {
		if users[i].Name != users[j].Name {
			return users[i].Name < users[j].Name
		}
		return users[i].Email < users[j].Email
	})
	if len(users) > limit {
		users = users[:limit]
	}
	return users, nil
}

func (m *memStore) ListVerifiedUsers(ctx context.Context) ([]store.User, error) {
	return m.SearchVerifiedUsers(ctx, "", "", 1<<30)
}

func (m *memStore) CreateProject(_ context.Context, project store.Project) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.state.projects[project.ID] = project
	return nil
}

func (m *memStore) GetProject(_ context.Context, projectID string) (store.Project, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	project, ok := m.state.projects[projectID]
	if !ok {
		return store.Project{}, store.ErrNotFound
	}
	return project, nil
}

func (m *memStore) DeleteProject(_ context.Context, projectID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.state.projects[projectID]; !ok {
		return store.ErrNotFound
	}
	delete(m.state.projects, projectID)
	members := m.state.members[:0]
	for _, member := range m.state.members {
		if member.ProjectID != projectID {
			members = append(members, member)
		}
	}
	m.state.members = members
	for id, review := range m.state.reviews {
		if review.ProjectID == projectID {
			m.deleteReviewLocked(id)
		}
	}
	return nil
}

func (m *memStore) AddProjectMember(_ context.Context, member store.ProjectMember) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, existing := range m.state.members {
		if existing.ProjectID == member.ProjectID && existing.UserID == member.UserID {
			return false, nil
		}
	}
	m.state.members = append(m.state.members, member)
	return true, nil
}

func (m *memStore) ListProjectMembers(_ context.Context, projectID string) ([]store.ProjectMember, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	members := []store.ProjectMember{}
	for _, member := range m.state.members {
		if member.ProjectID == projectID {
			members = append(members, member)
		}
	}
	return members, nil
}

func (m *memStore) CreateReview(_ context.Context, review store.Review) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.state.reviews[review.ID] = review
	return nil
}

func (m *memStore) GetReview(_ context.Context, reviewID string) (store.Review, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	review, ok := m.state.reviews[reviewID]
	if !ok {
		return store.Review{}, store.ErrNotFound
	}
	return review, nil
}

func (m *memStore) DeleteReview(_ context.Context, reviewID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.state.reviews[reviewID]; !ok {
		return store.ErrNotFound
	}
	m.deleteReviewLocked(reviewID)
	return nil
}

func (m *memStore) deleteReviewLocked(reviewID string) {
	delete(m.state.reviews, reviewID)
	assignments := m.state.assignments[:0]
	for _, a := range m.state.assignments {
		if a.ReviewID != reviewID {
			assignments = append(assignments, a)
		}
	}
	m.state.assignments = assignments
	for id, checklist := range m.state.checklists {
		if checklist.ReviewID == reviewID {
			m.deleteChecklistLocked(id)
		}
	}
}

func (m *memStore) AssignReviewer(_ context.Context, assignment store.ReviewAssignment) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, existing := range m.state.assignments {
		if existing.ReviewID == assignment.ReviewID && existing.UserID == assignment.UserID {
			return false, nil
		}
	}
	m.state.assignments = append(m.state.assignments, assignment)
	return true, nil
}

func (m *memStore) CreateChecklist(_ context.Context, checklist store.Checklist) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.state.checklists[checklist.ID] = checklist
	return nil
}

func (m *memStore) GetChecklist(_ context.Context, checklistID string) (store.Checklist, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	checklist, ok := m.state.checklists[checklistID]
	if !ok {
		return store.Checklist{}, store.ErrNotFound
	}
	return checklist, nil
}

func (m *memStore) LockChecklist(ctx context.Context, checklistID string) (store.Checklist, error) {
	return m.GetChecklist(ctx, checklistID)
}

func (m *memStore) CompleteChecklist(_ context.Context, checklistID string, at time.Time) (store.Checklist, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	checklist, ok := m.state.checklists[checklistID]
	if !ok {
		return store.Checklist{}, store.ErrNotFound
	}
	checklist.CompletedAt = &at
	checklist.UpdatedAt = at
	m.state.checklists[checklistID] = checklist
	return checklist, nil
}

func (m *memStore) DeleteChecklist(_ context.Context, checklistID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.state.checklists[checklistID]; !ok {
		return store.ErrNotFound
	}
	m.deleteChecklistLocked(checklistID)
	return nil
}

func (m *memStore) deleteChecklistLocked(checklistID string) {
	delete(m.state.checklists, checklistID)
	answers := m.state.answers[:0]
	for _, a := range m.state.answers {
		if a.ChecklistID != checklistID {
			answers = append(answers, a)
		}
	}
	m.state.answers = answers
}

func (m *memStore) UpsertAnswer(_ context.Context, answer store.ChecklistAnswer) (store.ChecklistAnswer, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i, existing := range m.state.answers {
		if existing.ChecklistID == answer.ChecklistID && existing.QuestionKey == answer.QuestionKey {
			existing.Answers = answer.Answers
			existing.Critical = answer.Critical
			existing.UpdatedAt = answer.UpdatedAt
			m.state.answers[i] = existing
			return existing, false, nil
		}
	}
	m.state.answers = append(m.state.answers, answer)
	return answer, true, nil
}

func (m *memStore) ListAnswers(_ context.Context, checklistID string) ([]store.ChecklistAnswer, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	answers := []store.ChecklistAnswer{}
	for _, a := range m.state.answers {
		if a.ChecklistID == checklistID {
			answers = append(answers, a)
		}
	}
	sort.Slice(answers, func(i, j int) bool { return answers[i].QuestionKey < answers[j].QuestionKey })
	return answers, nil
}

// counts used by assertions
func (m *memStore) memberRows(projectID string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for _, member := range m.state.members {
		if member.ProjectID == projectID {
			n++
		}
	}
	return n
}

func (m *memStore) assignmentRows(reviewID string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for _, a := range m.state.assignments {
		if a.ReviewID == reviewID {
			n++
		}
	}
	return n
}

var _ dataStore = (*memStore)(nil)
