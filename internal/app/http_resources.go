package app

import (
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/InfinityBowman/amstar2-checklist-scoring-app/internal/search"
	"github.com/InfinityBowman/amstar2-checklist-scoring-app/internal/store"
)

func projectJSON(project store.Project) map[string]any {
	return map[string]any{
		"id":         project.ID,
		"owner_id":   project.OwnerID,
		"name":       project.Name,
		"created_at": formatTime(project.CreatedAt),
		"updated_at": formatTime(project.UpdatedAt),
	}
}

func reviewJSON(review store.Review) map[string]any {
	return map[string]any{
		"id":         review.ID,
		"project_id": review.ProjectID,
		"name":       review.Name,
		"created_at": formatTime(review.CreatedAt),
	}
}

func checklistJSON(checklist store.Checklist) map[string]any {
	return map[string]any{
		"id":           checklist.ID,
		"review_id":    checklist.ReviewID,
		"reviewer_id":  checklist.ReviewerID,
		"type":         checklist.Type,
		"completed_at": formatOptionalTime(checklist.CompletedAt),
		"created_at":   formatTime(checklist.CreatedAt),
		"updated_at":   formatTime(checklist.UpdatedAt),
	}
}

func answerJSON(answer store.ChecklistAnswer) map[string]any {
	answers := answer.Answers
	if answers == nil {
		answers = store.BoolMatrix{}
	}
	return map[string]any{
		"id":           answer.ID,
		"checklist_id": answer.ChecklistID,
		"question_key": answer.QuestionKey,
		"answers":      answers,
		"critical":     answer.Critical,
		"updated_at":   formatTime(answer.UpdatedAt),
	}
}

func (s *HTTPServer) handleMe(w http.ResponseWriter, r *http.Request) {
	user := actorFrom(r)
	response := userJSON(user)
	response["email_verified_at"] = formatOptionalTime(user.EmailVerifiedAt)
	writeJSON(w, http.StatusOK, response)
}

func (s *HTTPServer) handleSearchUsers(w http.ResponseWriter, r *http.Request) {
	limit, err := limitParam(r, search.DefaultLimit)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	query := strings.TrimSpace(r.URL.Query().Get("q"))

	results, err := s.service.SearchUsers(r.Context(), actorFrom(r), query, limit)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, results)
}

func (s *HTTPServer) handleCreateProject(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Name string `json:"name"`
	}
	if err := decodeBody(r, &body); err != nil {
		s.fail(w, r, err)
		return
	}

	project, err := s.service.CreateProject(r.Context(), actorFrom(r), body.Name)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, projectJSON(project))
}

func (s *HTTPServer) handleDeleteProject(w http.ResponseWriter, r *http.Request) {
	if err := s.service.DeleteProject(r.Context(), actorFrom(r), chi.URLParam(r, "projectID")); err != nil {
		s.fail(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *HTTPServer) handleAddMemberByEmail(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Email string `json:"email"`
	}
	if err := decodeBody(r, &body); err != nil {
		s.fail(w, r, err)
		return
	}

	user, err := s.service.AddMemberByEmail(r.Context(), actorFrom(r), chi.URLParam(r, "projectID"), body.Email)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{
		"message": "User added to project successfully",
		"user": map[string]any{
			"id":    user.ID,
			"email": user.Email,
			"name":  user.Name,
		},
	})
}

func (s *HTTPServer) handleAddMemberByID(w http.ResponseWriter, r *http.Request) {
	if _, err := s.service.AddMemberByID(r.Context(), actorFrom(r), chi.URLParam(r, "projectID"), chi.URLParam(r, "userID")); err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, messageResponse("User added to project successfully"))
}

func (s *HTTPServer) handleCreateReview(w http.ResponseWriter, r *http.Request) {
	var body struct {
		ProjectID string `json:"project_id"`
		Name      string `json:"name"`
	}
	if err := decodeBody(r, &body); err != nil {
		s.fail(w, r, err)
		return
	}

	review, err := s.service.CreateReview(r.Context(), actorFrom(r), body.ProjectID, body.Name)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, reviewJSON(review))
}

func (s *HTTPServer) handleDeleteReview(w http.ResponseWriter, r *http.Request) {
	if err := s.service.DeleteReview(r.Context(), actorFrom(r), chi.URLParam(r, "reviewID")); err != nil {
		s.fail(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *HTTPServer) handleAssignReviewer(w http.ResponseWriter, r *http.Request) {
	if err := s.service.AssignReviewer(r.Context(), actorFrom(r), chi.URLParam(r, "reviewID"), chi.URLParam(r, "userID")); err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, messageResponse("Reviewer assigned successfully"))
}

func (s *HTTPServer) handleCreateChecklist(w http.ResponseWriter, r *http.Request) {
	var body struct {
		ReviewID   string  `json:"review_id"`
		ReviewerID *string `json:"reviewer_id"`
		Type       string  `json:"type"`
	}
	if err := decodeBody(r, &body); err != nil {
		s.fail(w, r, err)
		return
	}
	input := CreateChecklistInput{ReviewID: body.ReviewID, Type: body.Type}
	if body.ReviewerID != nil {
		input.ReviewerID = *body.ReviewerID
	}

	checklist, err := s.service.CreateChecklist(r.Context(), actorFrom(r), input)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, checklistJSON(checklist))
}

func (s *HTTPServer) handleCompleteChecklist(w http.ResponseWriter, r *http.Request) {
	checklist, err := s.service.CompleteChecklist(r.Context(), actorFrom(r), chi.URLParam(r, "checklistID"))
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, checklistJSON(checklist))
}

func (s *HTTPServer) handleDeleteChecklist(w http.ResponseWriter, r *http.Request) {
	if err := s.service.DeleteChecklist(r.Context(), actorFrom(r), chi.URLParam(r, "checklistID")); err != nil {
		s.fail(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *HTTPServer) handleUpsertAnswer(w http.ResponseWriter, r *http.Request) {
	var body struct {
		QuestionKey string           `json:"question_key"`
		Answers     store.BoolMatrix `json:"answers"`
		Critical    bool             `json:"critical"`
	}
	if err := decodeBody(r, &body); err != nil {
		s.fail(w, r, err)
		return
	}

	answer, created, err := s.service.UpsertAnswer(r.Context(), actorFrom(r), chi.URLParam(r, "checklistID"), AnswerInput{
		QuestionKey: body.QuestionKey,
		Answers:     body.Answers,
		Critical:    body.Critical,
	})
	if err != nil {
		s.fail(w, r, err)
		return
	}
	status := http.StatusOK
	if created {
		status = http.StatusCreated
	}
	writeJSON(w, status, answerJSON(answer))
}
