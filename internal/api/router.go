package api

import (
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/isdelr/access-panel-be/internal/api/handlers"
	"github.com/isdelr/access-panel-be/internal/auth"
	"github.com/isdelr/access-panel-be/internal/services"
	"github.com/isdelr/access-panel-be/internal/websocket"
)

// Dependencies are the services the router wires into handlers.
type Dependencies struct {
	Accounts     services.AccountServiceProvider
	Provisioning services.ProvisionServiceProvider
	Events       services.EventServiceProvider
	Sessions     *auth.SessionManager
	Hub          *websocket.Hub
	DB           handlers.Pinger
	Host         handlers.HostStatusSource

	AllowedOrigins []string
	SecureCookies  bool
}

// NewRouter creates and configures a new Chi router.
func NewRouter(deps Dependencies) *chi.Mux {
	r := chi.NewRouter()

	// Basic middleware stack
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)

	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   deps.AllowedOrigins,
		AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "X-CSRF-Token"},
		ExposedHeaders:   []string{"Link"},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	// Initialize handlers
	accountHandler := handlers.NewAccountHandler(deps.Accounts, deps.Sessions, deps.SecureCookies)
	provisionHandler := handlers.NewProvisionHandler(deps.Provisioning)
	eventHandler := handlers.NewEventHandler(deps.Events)
	healthHandler := handlers.NewHealthHandler(deps.DB, deps.Host)

	r.Get("/", accountHandler.Home)
	r.Get("/health", healthHandler.Health)

	r.Get("/signup", accountHandler.SignupForm)
	r.Post("/signup", accountHandler.Signup)
	r.Get("/verify_email/{token}", accountHandler.VerifyEmail)
	r.Get("/email_verification_pending", accountHandler.VerificationPending)
	r.Post("/resend_verification", accountHandler.ResendVerification)
	r.Get("/login", accountHandler.LoginForm)
	r.Post("/login", accountHandler.Login)

	// Session required
	r.Group(func(r chi.Router) {
		r.Use(deps.Sessions.JWTMiddleware())

		r.Get("/select_account_type", provisionHandler.SelectAccountTypeForm)
		r.Post("/select_account_type", provisionHandler.SelectAccountType)
		r.Get("/create_account/{accountType}", provisionHandler.CreateAccountForm)
		r.Post("/create_account/{accountType}", provisionHandler.CreateAccount)
		r.Get("/main_menu", provisionHandler.MainMenu)

		r.Get("/events", eventHandler.GetRecent)
		if deps.Hub != nil {
			wsHandler := handlers.NewWebSocketHandler(deps.Hub, deps.AllowedOrigins)
			r.Get("/ws/events", wsHandler.Serve)
		}
	})

	return r
}
