package api

import (
	"crypto/subtle"
	"fmt"
	"net/http"

	"github.com/AaronLay10/OverlayEngine/internal/config"
)

// Role is an API authorization role.
type Role string

const (
	RoleAdmin      Role = "admin"
	RoleTechnician Role = "technician"
)

type credentials struct {
	user string
	pass string
}

func (c credentials) set() bool { return c.user != "" && c.pass != "" }

func (c credentials) match(user, pass string) bool {
	return c.set() && secureCompare(user, c.user) && secureCompare(pass, c.pass)
}

// authConfig holds the basic-auth credentials per role.
type authConfig struct {
	admin      credentials
	technician credentials
	enabled    bool
}

var auth *authConfig

// InitAuth loads credentials from OVERLAY_ADMIN_USER/PASS and
// OVERLAY_TECH_USER/PASS, each also readable through the *_FILE
// convention. Without admin credentials authentication is disabled.
func InitAuth() error {
	var vals [4]string
	for i, key := range []string{"OVERLAY_ADMIN_USER", "OVERLAY_ADMIN_PASS", "OVERLAY_TECH_USER", "OVERLAY_TECH_PASS"} {
		v, err := config.ResolveSecret(key)
		if err != nil {
			return fmt.Errorf("failed to resolve %s: %w", key, err)
		}
		vals[i] = v
	}

	a := &authConfig{
		admin:      credentials{user: vals[0], pass: vals[1]},
		technician: credentials{user: vals[2], pass: vals[3]},
	}
	a.enabled = a.admin.set()
	auth = a
	return nil
}

// IsAuthEnabled returns true if authentication is configured.
func IsAuthEnabled() bool {
	return auth != nil && auth.enabled
}

// authenticate returns the caller's role, or empty for bad credentials.
func authenticate(r *http.Request) Role {
	if !IsAuthEnabled() {
		return RoleAdmin
	}

	user, pass, ok := r.BasicAuth()
	if !ok {
		return ""
	}
	switch {
	case auth.admin.match(user, pass):
		return RoleAdmin
	case auth.technician.match(user, pass):
		return RoleTechnician
	}
	return ""
}

// secureCompare is a constant-time string comparison.
func secureCompare(a, b string) bool {
	return subtle.ConstantTimeCompare([]byte(a), []byte(b)) == 1
}

func requireAuth(w http.ResponseWriter) {
	w.Header().Set("WWW-Authenticate", `Basic realm="Overlay Engine"`)
	http.Error(w, "Unauthorized", http.StatusUnauthorized)
}

// RequireRole wraps a handler and requires one of the given roles.
func RequireRole(handler http.HandlerFunc, allowedRoles ...Role) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		role := authenticate(r)
		if role == "" {
			requireAuth(w)
			return
		}
		for _, allowed := range allowedRoles {
			if role == allowed {
				handler(w, r)
				return
			}
		}
		http.Error(w, "Forbidden", http.StatusForbidden)
	}
}

// RequireAnyRole admits admins and technicians.
func RequireAnyRole(handler http.HandlerFunc) http.HandlerFunc {
	return RequireRole(handler, RoleAdmin, RoleTechnician)
}

// RequireAdmin admits admins only.
func RequireAdmin(handler http.HandlerFunc) http.HandlerFunc {
	return RequireRole(handler, RoleAdmin)
}
