package handlers

import (
	"errors"
	"net/http"
	"net/url"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/isdelr/access-panel-be/internal/auth"
	"github.com/isdelr/access-panel-be/internal/services"
	"github.com/isdelr/access-panel-be/internal/validator"
	"github.com/rs/zerolog/log"
)

// User-facing messages. Token and login failures deliberately share one
// message each so responses do not reveal which check failed.
const (
	msgFieldsRequired     = "All fields are required!"
	msgAlreadyRegistered  = "Username or email already registered. Please use a different one."
	msgVerificationSent   = "A verification email has been sent to your email address."
	msgVerificationFailed = "Error sending verification email. Please try again."
	msgVerified           = "Your email has been verified!"
	msgVerifyInvalid      = "Verification link is invalid or has expired."
	msgLoginFailed        = "Login Failed. Check your username and password."
	msgResendAccepted     = "If that address belongs to an unverified account, a new verification email is on its way."
)

// AccountHandler handles signup, verification and login.
type AccountHandler struct {
	service       services.AccountServiceProvider
	sessions      *auth.SessionManager
	secureCookies bool
}

// NewAccountHandler creates a new AccountHandler. secureCookies marks the
// session cookie Secure and should be set in production.
func NewAccountHandler(service services.AccountServiceProvider, sessions *auth.SessionManager, secureCookies bool) *AccountHandler {
	return &AccountHandler{service: service, sessions: sessions, secureCookies: secureCookies}
}

// SignupPayload defines the structure for registration requests.
type SignupPayload struct {
	Username string `json:"username"`
	Email    string `json:"email"`
	Password string `json:"password"`
}

func (p *SignupPayload) bindForm(v url.Values) {
	p.Username = v.Get("username")
	p.Email = v.Get("email")
	p.Password = v.Get("password")
}

// LoginPayload defines the structure for login requests.
type LoginPayload struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

func (p *LoginPayload) bindForm(v url.Values) {
	p.Username = v.Get("username")
	p.Password = v.Get("password")
}

type resendPayload struct {
	Email string `json:"email"`
}

func (p *resendPayload) bindForm(v url.Values) {
	p.Email = v.Get("email")
}

// Home is the landing page.
func (h *AccountHandler) Home(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"message": "Welcome. Sign up or log in to create an access account.",
		"links":   map[string]string{"signup": "/signup", "login": "/login"},
	})
}

// SignupForm describes the registration form.
func (h *AccountHandler) SignupForm(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"fields": []string{"username", "email", "password"},
		"action": "/signup",
	})
}

// Signup handles new user registration.
func (h *AccountHandler) Signup(w http.ResponseWriter, r *http.Request) {
	var payload SignupPayload
	if err := decodePayload(w, r, &payload); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	outcome, err := h.service.Signup(r.Context(), services.SignupRequest{
		Username: payload.Username,
		Email:    payload.Email,
		Password: payload.Password,
	})
	if err != nil {
		var ve *validator.ValidationError
		switch {
		case errors.As(err, &ve):
			msg := ve.Error()
			if len(ve.Missing()) > 0 {
				msg = msgFieldsRequired
			}
			writeJSON(w, http.StatusBadRequest, map[string]any{"error": msg, "fields": ve.Fields})
		case errors.Is(err, services.ErrUserExists):
			writeError(w, http.StatusConflict, msgAlreadyRegistered)
		default:
			log.Error().Err(err).Str("username", payload.Username).Msg("Failed to register user")
			writeError(w, http.StatusInternalServerError, "Failed to register user")
		}
		return
	}

	msg := msgVerificationSent
	if !outcome.EmailSent {
		msg = msgVerificationFailed
	}
	writeJSON(w, http.StatusCreated, map[string]any{
		"message":   msg,
		"emailSent": outcome.EmailSent,
		"user":      outcome.User,
		"next":      "/email_verification_pending",
	})
}

// VerificationPending is the page shown after signup.
func (h *AccountHandler) VerificationPending(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"message": "Check your inbox and follow the verification link to activate your account.",
		"resend":  "/resend_verification",
	})
}

// ResendVerification mails a fresh link. The response is the same whether or
// not the address is known.
func (h *AccountHandler) ResendVerification(w http.ResponseWriter, r *http.Request) {
	var payload resendPayload
	if err := decodePayload(w, r, &payload); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if err := h.service.ResendVerification(r.Context(), payload.Email); err != nil {
		var ve *validator.ValidationError
		var ne *services.NotificationError
		switch {
		case errors.As(err, &ve):
			writeError(w, http.StatusBadRequest, msgFieldsRequired)
		case errors.As(err, &ne):
			// Already logged by the service; answering differently would
			// reveal that the address is registered.
			writeMessage(w, http.StatusAccepted, msgResendAccepted, "/email_verification_pending")
		default:
			log.Error().Err(err).Msg("Failed to resend verification")
			writeError(w, http.StatusInternalServerError, "Failed to resend verification")
		}
		return
	}
	writeMessage(w, http.StatusAccepted, msgResendAccepted, "/email_verification_pending")
}

// VerifyEmail consumes a verification link.
func (h *AccountHandler) VerifyEmail(w http.ResponseWriter, r *http.Request) {
	token := chi.URLParam(r, "token")
	if _, err := h.service.VerifyEmail(token); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": msgVerifyInvalid, "next": "/signup"})
		return
	}
	writeMessage(w, http.StatusOK, msgVerified, "/login")
}

// LoginForm describes the login form.
func (h *AccountHandler) LoginForm(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"fields": []string{"username", "password"},
		"action": "/login",
	})
}

// Login handles user authentication and session cookie issuance.
func (h *AccountHandler) Login(w http.ResponseWriter, r *http.Request) {
	var payload LoginPayload
	if err := decodePayload(w, r, &payload); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	user, err := h.service.Authenticate(payload.Username, payload.Password)
	if err != nil {
		if !errors.Is(err, services.ErrAuthFailed) {
			log.Error().Err(err).Str("username", payload.Username).Msg("Login failed")
		}
		writeError(w, http.StatusUnauthorized, msgLoginFailed)
		return
	}

	token, err := h.sessions.GenerateJWT(user)
	if err != nil {
		log.Error().Err(err).Str("user_id", user.ID).Msg("Failed to generate JWT")
		writeError(w, http.StatusInternalServerError, "Failed to generate token")
		return
	}

	http.SetCookie(w, &http.Cookie{
		Name:     auth.SessionCookieName,
		Value:    token,
		Expires:  time.Now().Add(h.sessions.Duration()),
		HttpOnly: true,
		Secure:   h.secureCookies,
		SameSite: http.SameSiteStrictMode,
		Path:     "/",
	})

	writeJSON(w, http.StatusOK, map[string]any{
		"token": token,
		"user":  user,
		"next":  "/select_account_type",
	})
}
