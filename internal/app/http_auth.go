package app

import (
	"net/http"
	"time"

	"github.com/InfinityBowman/amstar2-checklist-scoring-app/internal/authpw"
	"github.com/InfinityBowman/amstar2-checklist-scoring-app/internal/errs"
	"github.com/InfinityBowman/amstar2-checklist-scoring-app/internal/store"
)

const refreshCookieName = "refresh"

const msgResetRequested = "If the email is registered, a password reset code has been sent."

func userJSON(user store.User) map[string]any {
	return map[string]any{
		"id":         user.ID,
		"email":      user.Email,
		"name":       user.Name,
		"created_at": formatTime(user.CreatedAt),
	}
}

func tokenJSON(session Session) map[string]any {
	return map[string]any{
		"accessToken": session.AccessToken,
		"tokenType":   "bearer",
		"expiresAt":   formatTime(session.AccessExpiresAt),
	}
}

func (s *HTTPServer) cookiePath() string {
	if prefix := s.service.cfg.APIPrefix; prefix != "" {
		return prefix
	}
	return "/"
}

func (s *HTTPServer) setRefreshCookie(w http.ResponseWriter, session Session) {
	http.SetCookie(w, &http.Cookie{
		Name:     refreshCookieName,
		Value:    session.RefreshToken,
		Path:     s.cookiePath(),
		MaxAge:   int(s.service.cfg.RefreshTTL / time.Second),
		Expires:  session.RefreshExpiresAt,
		HttpOnly: true,
		Secure:   s.service.cfg.CookieSecure,
		SameSite: http.SameSiteStrictMode,
	})
}

func (s *HTTPServer) clearRefreshCookie(w http.ResponseWriter) {
	http.SetCookie(w, &http.Cookie{
		Name:     refreshCookieName,
		Value:    "",
		Path:     s.cookiePath(),
		MaxAge:   -1,
		HttpOnly: true,
		Secure:   s.service.cfg.CookieSecure,
		SameSite: http.SameSiteStrictMode,
	})
}

func refreshCookie(r *http.Request) string {
	cookie, err := r.Cookie(refreshCookieName)
	if err != nil {
		return ""
	}
	return cookie.Value
}

func (s *HTTPServer) handleSignUp(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Email    string `json:"email"`
		Name     string `json:"name"`
		Password string `json:"password"`
	}
	if err := decodeBody(r, &body); err != nil {
		s.fail(w, r, err)
		return
	}

	user, err := s.service.Accounts().SignUp(r.Context(), authpw.SignUpRequest{
		Email:    body.Email,
		Name:     body.Name,
		Password: body.Password,
	})
	if err != nil {
		s.fail(w, r, err)
		return
	}

	writeJSON(w, http.StatusCreated, map[string]any{
		"message": "User created successfully",
		"user":    userJSON(user),
	})
}

func (s *HTTPServer) handleSignIn(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Email    string `json:"email"`
		Password string `json:"password"`
	}
	if err := decodeBody(r, &body); err != nil {
		s.fail(w, r, err)
		return
	}

	session, err := s.service.SignIn(r.Context(), body.Email, body.Password)
	if err != nil {
		s.fail(w, r, err)
		return
	}

	s.setRefreshCookie(w, session)
	writeJSON(w, http.StatusOK, tokenJSON(session))
}

func (s *HTTPServer) handleRefresh(w http.ResponseWriter, r *http.Request) {
	token := refreshCookie(r)
	if token == "" {
		s.fail(w, r, errs.Unauthorized("Refresh token not found"))
		return
	}

	session, err := s.service.Refresh(r.Context(), token)
	if err != nil {
		if errs.Is(err, errs.KindUnauthorized) {
			s.clearRefreshCookie(w)
		}
		s.fail(w, r, err)
		return
	}

	s.setRefreshCookie(w, session)
	writeJSON(w, http.StatusOK, tokenJSON(session))
}

func (s *HTTPServer) handleSignOut(w http.ResponseWriter, r *http.Request) {
	s.service.Signout(r.Context(), refreshCookie(r))
	s.clearRefreshCookie(w)
	writeJSON(w, http.StatusOK, messageResponse("Successfully signed out"))
}

func (s *HTTPServer) handleSendVerification(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Email string `json:"email"`
	}
	if err := decodeBody(r, &body); err != nil {
		s.fail(w, r, err)
		return
	}

	code, err := s.service.Accounts().SendVerification(r.Context(), body.Email)
	if err != nil {
		s.fail(w, r, err)
		return
	}

	response := messageResponse("Verification code sent")
	if s.service.DevCodes() {
		response["devCode"] = code
	}
	writeJSON(w, http.StatusOK, response)
}

func (s *HTTPServer) handleVerifyEmail(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Email string `json:"email"`
		Code  string `json:"code"`
	}
	if err := decodeBody(r, &body); err != nil {
		s.fail(w, r, err)
		return
	}

	if _, err := s.service.Accounts().VerifyEmail(r.Context(), body.Email, body.Code); err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, messageResponse("Email verified successfully"))
}

func (s *HTTPServer) handleRequestPasswordReset(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Email string `json:"email"`
	}
	if err := decodeBody(r, &body); err != nil {
		s.fail(w, r, err)
		return
	}

	code, err := s.service.Accounts().RequestPasswordReset(r.Context(), body.Email)
	if err != nil {
		s.fail(w, r, err)
		return
	}

	response := messageResponse(msgResetRequested)
	if code != "" && s.service.DevCodes() {
		response["devCode"] = code
	}
	writeJSON(w, http.StatusOK, response)
}

func (s *HTTPServer) handleResetPassword(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Email    string `json:"email"`
		Code     string `json:"code"`
		Password string `json:"password"`
	}
	if err := decodeBody(r, &body); err != nil {
		s.fail(w, r, err)
		return
	}

	if err := s.service.Accounts().ResetPassword(r.Context(), authpw.ResetPasswordRequest{
		Email:    body.Email,
		Code:     body.Code,
		Password: body.Password,
	}); err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, messageResponse("Password successfully reset."))
}
