package services

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"html/template"
	"strings"
	"sync"
	"time"

	"github.com/isdelr/access-panel-be/internal/mail"
	"github.com/isdelr/access-panel-be/internal/models"
	"github.com/isdelr/access-panel-be/internal/validator"
	"github.com/rs/zerolog/log"
	"golang.org/x/crypto/bcrypt"
)

// TokenCodec issues and verifies email verification tokens.
type TokenCodec interface {
	Issue(email string) (string, error)
	Verify(token string, maxAge time.Duration) (string, error)
}

// SignupRequest is the registration form.
type SignupRequest struct {
	Username string `json:"username" validate:"required,username"`
	Email    string `json:"email" validate:"required,email"`
	Password string `json:"password" validate:"required,bcryptmax"`
}

// SignupOutcome reports a committed signup. NotifyErr is set when the
// verification email could not be sent; the account still exists.
type SignupOutcome struct {
	User      models.User
	EmailSent bool
	NotifyErr *NotificationError
}

// AccountServiceProvider covers registration, verification and login.
type AccountServiceProvider interface {
	Signup(ctx context.Context, req SignupRequest) (SignupOutcome, error)
	ResendVerification(ctx context.Context, email string) error
	VerifyEmail(token string) (models.User, error)
	Authenticate(username, password string) (models.User, error)
}

// AccountService orchestrates the store, token codec and mailer.
type AccountService struct {
	users       UserServiceProvider
	codec       TokenCodec
	mailer      mail.Mailer
	events      EventServiceProvider
	baseURL     string
	maxAge      time.Duration
	sendTimeout time.Duration
	compare     func(hash, password []byte) error
}

// dummyHash is compared against on unknown usernames so a failed login costs
// the same bcrypt work whether or not the account exists.
var dummyHash = sync.OnceValue(func() []byte {
	h, err := bcrypt.GenerateFromPassword([]byte("access-panel-unknown-user"), bcrypt.DefaultCost)
	if err != nil {
		panic(err)
	}
	return h
})

// NewAccountService creates a new AccountService. baseURL is the externally
// reachable origin used to build verification links.
func NewAccountService(users UserServiceProvider, codec TokenCodec, mailer mail.Mailer, events EventServiceProvider, baseURL string, maxAge time.Duration) *AccountService {
	return &AccountService{
		users:       users,
		codec:       codec,
		mailer:      mailer,
		events:      events,
		baseURL:     strings.TrimRight(baseURL, "/"),
		maxAge:      maxAge,
		sendTimeout: 30 * time.Second,
		compare:     bcrypt.CompareHashAndPassword,
	}
}

// Signup validates the form, creates an unverified account and mails a
// verification link. The record is committed before the send is attempted.
func (s *AccountService) Signup(ctx context.Context, req SignupRequest) (SignupOutcome, error) {
	req.Username = strings.TrimSpace(req.Username)
	req.Email = strings.TrimSpace(req.Email)
	if err := validator.Struct(req); err != nil {
		return SignupOutcome{}, err
	}

	exists, err := s.users.UserExists(req.Username, req.Email)
	if err != nil {
		return SignupOutcome{}, fmt.Errorf("check existing user: %w", err)
	}
	if exists {
		return SignupOutcome{}, ErrUserExists
	}

	user, err := s.users.CreateUser(req.Username, req.Email, req.Password)
	if err != nil {
		return SignupOutcome{}, err
	}
	recordEvent(s.events, models.EventUserRegister, "info", fmt.Sprintf("User '%s' registered.", user.Username), &user.Username)

	outcome := SignupOutcome{User: user}
	if err := s.sendVerification(ctx, user); err != nil {
		log.Error().Err(err).Str("email", user.Email).Msg("Email send error")
		recordEvent(s.events, models.EventMailFail, "error", fmt.Sprintf("Verification email for user '%s' could not be sent.", user.Username), &user.Username)
		outcome.NotifyErr = &NotificationError{Email: user.Email, Err: err}
		return outcome, nil
	}
	outcome.EmailSent = true
	return outcome, nil
}

// ResendVerification mails a fresh link to an existing unverified account.
// Unknown or already verified addresses are silently ignored.
func (s *AccountService) ResendVerification(ctx context.Context, email string) error {
	email = strings.TrimSpace(email)
	if email == "" {
		return &validator.ValidationError{Fields: []validator.FieldError{{Field: "email", Rule: "required"}}}
	}

	user, err := s.users.GetUserByEmail(email)
	if err != nil {
		if errors.Is(err, ErrUserNotFound) {
			return nil
		}
		return err
	}
	if user.Verified {
		return nil
	}

	if err := s.sendVerification(ctx, user); err != nil {
		log.Error().Err(err).Str("email", user.Email).Msg("Email resend error")
		return &NotificationError{Email: user.Email, Err: err}
	}
	return nil
}

// VerifyEmail marks the account owning the token's email as verified. Every
// failure mode yields ErrVerificationFailed; the cause is only logged.
func (s *AccountService) VerifyEmail(token string) (models.User, error) {
	email, err := s.codec.Verify(token, s.maxAge)
	if err != nil {
		log.Warn().Err(err).Msg("Token verification error")
		return models.User{}, ErrVerificationFailed
	}

	user, err := s.users.MarkVerified(email)
	if err != nil {
		if errors.Is(err, ErrUserNotFound) {
			log.Warn().Str("email", email).Msg("Verified token for unknown email")
			return models.User{}, ErrVerificationFailed
		}
		return models.User{}, err
	}

	recordEvent(s.events, models.EventUserVerify, "info", fmt.Sprintf("User '%s' verified their email.", user.Username), &user.Username)
	user.PasswordHash = ""
	return user, nil
}

// Authenticate succeeds only for an existing, verified user with a matching
// password. All other combinations return ErrAuthFailed.
func (s *AccountService) Authenticate(username, password string) (models.User, error) {
	user, err := s.users.GetUserByUsername(strings.TrimSpace(username))
	if err != nil {
		if errors.Is(err, ErrUserNotFound) {
			_ = s.compare(dummyHash(), []byte(password))
			log.Debug().Str("username", username).Msg("Login for unknown user")
			return models.User{}, ErrAuthFailed
		}
		return models.User{}, err
	}

	if err := s.compare([]byte(user.PasswordHash), []byte(password)); err != nil {
		log.Debug().Str("username", username).Msg("Login with wrong password")
		return models.User{}, ErrAuthFailed
	}
	if !user.Verified {
		log.Debug().Str("username", username).Msg("Login for unverified user")
		return models.User{}, ErrAuthFailed
	}

	recordEvent(s.events, models.EventUserLogin, "info", fmt.Sprintf("User '%s' logged in.", user.Username), &user.Username)
	user.PasswordHash = ""
	return user, nil
}

// VerificationURL builds the absolute link embedded in the email.
func (s *AccountService) VerificationURL(token string) string {
	return s.baseURL + "/verify_email/" + token
}

func (s *AccountService) sendVerification(ctx context.Context, user models.User) error {
	token, err := s.codec.Issue(user.Email)
	if err != nil {
		return fmt.Errorf("issue token: %w", err)
	}
	link := s.VerificationURL(token)

	html, err := renderVerificationEmail(user.Username, link)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(ctx, s.sendTimeout)
	defer cancel()
	err = s.mailer.Send(ctx, mail.Message{
		To:       []string{user.Email},
		Subject:  "Email Verification",
		TextBody: fmt.Sprintf("Hi %s,\n\nPlease verify your email address by opening the link below. It expires in one hour.\n\n%s\n", user.Username, link),
		HTMLBody: html,
	})
	if errors.Is(err, mail.ErrDisabled) {
		log.Debug().Str("username", user.Username).Str("link", link).Msg("Mail disabled, verification link not sent")
	}
	return err
}

var verificationEmail = template.Must(template.New("verify").Parse(`<!DOCTYPE html>
<html lang="en">
<body style="font-family: Arial, sans-serif;">
  <h2>Email Verification</h2>
  <p>Hi {{.Username}},</p>
  <p>Thanks for signing up. Please confirm your email address to activate your account.</p>
  <p><a href="{{.Link}}">Verify Email</a></p>
  <p>This link expires in one hour.</p>
</body>
</html>`))

func renderVerificationEmail(username, link string) (string, error) {
	var buf bytes.Buffer
	err := verificationEmail.Execute(&buf, struct{ Username, Link string }{username, link})
	if err != nil {
		return "", fmt.Errorf("render verification email: %w", err)
	}
	return buf.String(), nil
}
