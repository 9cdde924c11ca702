package handlers

import (
	"errors"
	"net/http"
	"net/url"

	"github.com/go-chi/chi/v5"
	"github.com/isdelr/access-panel-be/internal/auth"
	"github.com/isdelr/access-panel-be/internal/models"
	"github.com/isdelr/access-panel-be/internal/services"
	"github.com/isdelr/access-panel-be/internal/validator"
	"github.com/rs/zerolog/log"
)

// ProvisionHandler handles account type selection and account creation.
type ProvisionHandler struct {
	service services.ProvisionServiceProvider
}

// NewProvisionHandler creates a new ProvisionHandler.
func NewProvisionHandler(service services.ProvisionServiceProvider) *ProvisionHandler {
	return &ProvisionHandler{service: service}
}

// AccountTypePayload is the account type selection.
type AccountTypePayload struct {
	AccountType  string `json:"accountType"`
	V2RayVariant string `json:"v2rayType"`
}

func (p *AccountTypePayload) bindForm(v url.Values) {
	p.AccountType = v.Get("accountType")
	p.V2RayVariant = v.Get("v2rayType")
}

// CreateAccountPayload is the account creation form. The account type comes
// from the URL.
type CreateAccountPayload struct {
	V2RayVariant string `json:"v2rayType"`
	Username     string `json:"username"`
	Password     string `json:"password"`
}

func (p *CreateAccountPayload) bindForm(v url.Values) {
	p.V2RayVariant = v.Get("v2rayType")
	p.Username = v.Get("username")
	p.Password = v.Get("password")
}

// SelectAccountTypeForm lists the selectable account types.
func (h *ProvisionHandler) SelectAccountTypeForm(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"accountTypes":  models.AccountTypes,
		"v2rayVariants": models.V2RayVariants,
	})
}

// SelectAccountType validates the choice and points at the creation form.
func (h *ProvisionHandler) SelectAccountType(w http.ResponseWriter, r *http.Request) {
	var payload AccountTypePayload
	if err := decodePayload(w, r, &payload); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	accountType, err := models.ParseAccountType(payload.AccountType)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Please choose SSH or V2Ray.")
		return
	}

	next := url.URL{Path: "/create_account/" + string(accountType)}
	if accountType == models.AccountTypeV2Ray {
		variant, err := models.ParseV2RayVariant(payload.V2RayVariant)
		if err != nil {
			writeError(w, http.StatusBadRequest, "Please choose VMess, Trojan or Xray.")
			return
		}
		next.RawQuery = url.Values{"v2rayType": {string(variant)}}.Encode()
	}
	writeJSON(w, http.StatusOK, map[string]string{"accountType": string(accountType), "next": next.String()})
}

// CreateAccountForm describes the creation form for one account type.
func (h *ProvisionHandler) CreateAccountForm(w http.ResponseWriter, r *http.Request) {
	accountType, err := models.ParseAccountType(chi.URLParam(r, "accountType"))
	if err != nil {
		writeError(w, http.StatusNotFound, "Unknown account type")
		return
	}
	form := map[string]any{
		"accountType": accountType,
		"fields":      []string{"username", "password"},
	}
	if accountType == models.AccountTypeV2Ray {
		form["fields"] = []string{"v2rayType", "username", "password"}
		form["v2rayVariants"] = models.V2RayVariants
		form["v2rayType"] = r.URL.Query().Get("v2rayType")
	}
	writeJSON(w, http.StatusOK, form)
}

// CreateAccount provisions an SSH or V2Ray account. A provisioning failure
// is reported with its detail and does not fail the request as a server error.
func (h *ProvisionHandler) CreateAccount(w http.ResponseWriter, r *http.Request) {
	accountType := chi.URLParam(r, "accountType")
	if _, err := models.ParseAccountType(accountType); err != nil {
		writeError(w, http.StatusNotFound, "Unknown account type")
		return
	}

	var payload CreateAccountPayload
	if err := decodePayload(w, r, &payload); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if payload.V2RayVariant == "" {
		payload.V2RayVariant = r.URL.Query().Get("v2rayType")
	}

	var requestedBy string
	if claims, ok := auth.ClaimsFromContext(r.Context()); ok {
		requestedBy = claims.Username
	}

	result, err := h.service.CreateAccount(r.Context(), requestedBy, services.CreateAccountRequest{
		AccountType:  accountType,
		V2RayVariant: payload.V2RayVariant,
		Username:     payload.Username,
		Password:     payload.Password,
	})
	if err != nil {
		var ve *validator.ValidationError
		if errors.As(err, &ve) {
			msg := ve.Error()
			if len(ve.Missing()) > 0 {
				msg = msgFieldsRequired
			}
			writeJSON(w, http.StatusBadRequest, map[string]any{"error": msg, "fields": ve.Fields})
			return
		}
		log.Error().Err(err).Str("account_type", accountType).Msg("Failed to create account")
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	status := http.StatusCreated
	if !result.Success {
		status = http.StatusUnprocessableEntity
	}
	writeJSON(w, status, map[string]any{
		"success": result.Success,
		"detail":  result.Detail,
		"next":    "/main_menu",
	})
}

// MainMenu is the landing page after provisioning.
func (h *ProvisionHandler) MainMenu(w http.ResponseWriter, r *http.Request) {
	claims, ok := auth.ClaimsFromContext(r.Context())
	if !ok {
		log.Error().Msg("Could not retrieve user claims from context")
		writeError(w, http.StatusInternalServerError, "Could not retrieve user from token")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"username": claims.Username,
		"links": map[string]string{
			"createAccount": "/select_account_type",
			"events":        "/events",
		},
	})
}
