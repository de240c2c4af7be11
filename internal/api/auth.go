package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/ernie/teamwatch/internal/auth"
)

// PinRequest is the request body for verifying or setting a PIN
type PinRequest struct {
	Pin string `json:"pin"`
}

// UpdatePinRequest is the request body for changing or clearing a PIN
type UpdatePinRequest struct {
	CurrentPin string `json:"current_pin"`
	NewPin     string `json:"new_pin"`
}

// TokenResponse is returned once a PIN has been accepted
type TokenResponse struct {
	Token    string `json:"token"`
	TenantID string `json:"tenant_id"`
}

// bearerToken extracts the token from the Authorization header
func bearerToken(req *http.Request) string {
	authHeader := req.Header.Get("Authorization")
	if !strings.HasPrefix(authHeader, "Bearer ") {
		return ""
	}
	return strings.TrimPrefix(authHeader, "Bearer ")
}

// requireTenant is middleware that validates the tenant path segment and,
// when the tenant has a PIN, a bearer token issued for that tenant
func (r *Router) requireTenant(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, req *http.Request) {
		tenantID := req.PathValue("tenant")
		if !validateTenantID(tenantID) {
			writeError(w, http.StatusBadRequest, "invalid tenant id")
			return
		}
		if !r.tenantAccess(w, req, tenantID, bearerToken(req)) {
			return
		}
		next(w, req)
	}
}

// tenantAccess checks the PIN gate, writing an error response on failure
func (r *Router) tenantAccess(w http.ResponseWriter, req *http.Request, tenantID, token string) bool {
	protected, err := r.secrets.HasSecret(req.Context(), tenantID)
	if err != nil {
		r.internalError(w, req, err)
		return false
	}
	if protected && !r.auth.Authorizes(token, tenantID) {
		writeError(w, http.StatusUnauthorized, "pin required")
		return false
	}
	return true
}

func (r *Router) issueToken(w http.ResponseWriter, req *http.Request, tenantID string) {
	token, err := r.auth.GenerateToken(tenantID)
	if err != nil {
		r.internalError(w, req, err)
		return
	}
	writeJSON(w, http.StatusOK, TokenResponse{Token: token, TenantID: tenantID})
}

// handlePinStatus reports whether a tenant is PIN protected
func (r *Router) handlePinStatus(w http.ResponseWriter, req *http.Request) {
	tenantID := req.PathValue("tenant")
	if !validateTenantID(tenantID) {
		writeError(w, http.StatusBadRequest, "invalid tenant id")
		return
	}
	has, err := r.secrets.HasSecret(req.Context(), tenantID)
	if err != nil {
		r.internalError(w, req, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"has_pin": has})
}

// handleVerifyPin exchanges a correct PIN for a tenant token
func (r *Router) handleVerifyPin(w http.ResponseWriter, req *http.Request) {
	tenantID := req.PathValue("tenant")
	if !validateTenantID(tenantID) {
		writeError(w, http.StatusBadRequest, "invalid tenant id")
		return
	}
	var body PinRequest
	if err := json.NewDecoder(req.Body).Decode(&body); err != nil || body.Pin == "" {
		writeError(w, http.StatusBadRequest, "pin is required")
		return
	}

	ok, err := r.secrets.VerifySecret(req.Context(), tenantID, body.Pin)
	if err != nil {
		r.internalError(w, req, err)
		return
	}
	if !ok {
		r.logger.Warn("pin verification failed", "tenant", tenantID, "ip", getClientIP(req))
		writeError(w, http.StatusUnauthorized, "invalid pin")
		return
	}
	r.issueToken(w, req, tenantID)
}

// handleSetPin protects an unprotected tenant
func (r *Router) handleSetPin(w http.ResponseWriter, req *http.Request) {
	tenantID := req.PathValue("tenant")
	if !validateTenantID(tenantID) {
		writeError(w, http.StatusBadRequest, "invalid tenant id")
		return
	}
	var body PinRequest
	if err := json.NewDecoder(req.Body).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	has, err := r.secrets.HasSecret(req.Context(), tenantID)
	if err != nil {
		r.internalError(w, req, err)
		return
	}
	if has {
		writeError(w, http.StatusConflict, "pin already set, use PUT to change it")
		return
	}
	if err := r.secrets.SetSecret(req.Context(), tenantID, body.Pin); err != nil {
		if errors.Is(err, auth.ErrSecretTooShort) || errors.Is(err, auth.ErrSecretTooLong) {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		r.internalError(w, req, err)
		return
	}
	r.issueToken(w, req, tenantID)
}

// handleUpdatePin changes a PIN given the current one. An empty new PIN
// removes protection.
func (r *Router) handleUpdatePin(w http.ResponseWriter, req *http.Request) {
	tenantID := req.PathValue("tenant")
	if !validateTenantID(tenantID) {
		writeError(w, http.StatusBadRequest, "invalid tenant id")
		return
	}
	var body UpdatePinRequest
	if err := json.NewDecoder(req.Body).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	err := r.secrets.UpdateSecret(req.Context(), tenantID, body.CurrentPin, body.NewPin)
	switch {
	case errors.Is(err, auth.ErrNoSecret):
		writeError(w, http.StatusNotFound, "no pin set")
	case errors.Is(err, auth.ErrSecretMismatch):
		writeError(w, http.StatusUnauthorized, "invalid pin")
	case errors.Is(err, auth.ErrSecretTooShort), errors.Is(err, auth.ErrSecretTooLong):
		writeError(w, http.StatusBadRequest, err.Error())
	case err != nil:
		r.internalError(w, req, err)
	case body.NewPin == "":
		writeJSON(w, http.StatusOK, map[string]bool{"has_pin": false})
	default:
		r.issueToken(w, req, tenantID)
	}
}

// handleRemovePin drops protection for a tenant the caller is authorized for
func (r *Router) handleRemovePin(w http.ResponseWriter, req *http.Request) {
	removed, err := r.secrets.RemoveSecret(req.Context(), req.PathValue("tenant"))
	if err != nil {
		r.internalError(w, req, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"removed": removed})
}
