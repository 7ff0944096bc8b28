package httpapi

import (
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"

	"auctoritas.org/internal/authz"
)

type applicationResponse struct {
	ID            uuid.UUID  `json:"id"`
	Name          string     `json:"name"`
	Description   string     `json:"description"`
	DefaultRoleID *uuid.UUID `json:"default_role_id,omitempty"`
	CreatedAt     time.Time  `json:"created_at"`
	UpdatedAt     time.Time  `json:"updated_at"`
}

func toApplicationResponse(app authz.Application) applicationResponse {
	return applicationResponse{
		ID:            app.ID,
		Name:          app.Name,
		Description:   app.Description,
		DefaultRoleID: app.DefaultRoleID,
		CreatedAt:     app.CreatedAt,
		UpdatedAt:     app.UpdatedAt,
	}
}

type authenticatorResponse struct {
	ID        uuid.UUID `json:"id"`
	Name      string    `json:"name"`
	AuthType  string    `json:"auth_type"`
	Config    string    `json:"config"`
	Active    bool      `json:"active"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

func toAuthenticatorResponse(a authz.Authenticator) authenticatorResponse {
	return authenticatorResponse{
		ID:        a.ID,
		Name:      a.Name,
		AuthType:  a.AuthType,
		Config:    a.Config,
		Active:    a.Active,
		CreatedAt: a.CreatedAt,
		UpdatedAt: a.UpdatedAt,
	}
}

type bindingResponse struct {
	ID              uuid.UUID `json:"id"`
	ApplicationID   uuid.UUID `json:"application_id"`
	AuthenticatorID uuid.UUID `json:"authenticator_id"`
	Config          string    `json:"config"`
	DisplayOrder    int       `json:"display_order"`
	Active          bool      `json:"active"`
	CreatedAt       time.Time `json:"created_at"`
}

func toBindingResponse(b authz.Binding) bindingResponse {
	return bindingResponse{
		ID:              b.ID,
		ApplicationID:   b.ApplicationID,
		AuthenticatorID: b.AuthenticatorID,
		Config:          b.Config,
		DisplayOrder:    b.DisplayOrder,
		Active:          b.Active,
		CreatedAt:       b.CreatedAt,
	}
}

type mappingResponse struct {
	ID              uuid.UUID `json:"id"`
	UserID          uuid.UUID `json:"user_id"`
	AuthenticatorID uuid.UUID `json:"authenticator_id"`
	CreatedAt       time.Time `json:"created_at"`
}

func toMappingResponse(m authz.Mapping) mappingResponse {
	// ExternalHash stays internal even on the admin path.
	return mappingResponse{
		ID:              m.ID,
		UserID:          m.UserID,
		AuthenticatorID: m.AuthenticatorID,
		CreatedAt:       m.CreatedAt,
	}
}

type roleResponse struct {
	ID          uuid.UUID `json:"id"`
	Name        string    `json:"name"`
	Description string    `json:"description"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

func toRoleResponse(r authz.Role) roleResponse {
	return roleResponse{ID: r.ID, Name: r.Name, Description: r.Description, CreatedAt: r.CreatedAt, UpdatedAt: r.UpdatedAt}
}

func toRoleResponses(roles []authz.Role) []roleResponse {
	out := make([]roleResponse, 0, len(roles))
	for _, r := range roles {
		out = append(out, toRoleResponse(r))
	}
	return out
}

type permissionResponse struct {
	ID          uuid.UUID `json:"id"`
	Name        string    `json:"name"`
	Description string    `json:"description"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

func toPermissionResponse(p authz.Permission) permissionResponse {
	return permissionResponse{ID: p.ID, Name: p.Name, Description: p.Description, CreatedAt: p.CreatedAt, UpdatedAt: p.UpdatedAt}
}

type createApplicationRequest struct {
	Name          string     `json:"name"`
	Description   string     `json:"description"`
	DefaultRoleID *uuid.UUID `json:"default_role_id"`
}

type createAuthenticatorRequest struct {
	Name     string `json:"name"`
	AuthType string `json:"auth_type"`
	Config   string `json:"config"`
}

type updateAuthenticatorRequest struct {
	Name     string `json:"name"`
	AuthType string `json:"auth_type"`
	Config   string `json:"config"`
	Active   bool   `json:"active"`
}

type createBindingRequest struct {
	ApplicationID   uuid.UUID `json:"application_id"`
	AuthenticatorID uuid.UUID `json:"authenticator_id"`
	Config          string    `json:"config"`
	DisplayOrder    int       `json:"display_order"`
}

type createMappingRequest struct {
	AuthenticatorID uuid.UUID `json:"authenticator_id"`
	ExternalUserID  string    `json:"external_user_id"`
}

type namedRequest struct {
	Name        string `json:"name"`
	Description string `json:"description"`
}

type linkRoleRequest struct {
	RoleID uuid.UUID `json:"role_id"`
}

type linkPermissionRequest struct {
	PermissionID uuid.UUID `json:"permission_id"`
}

type grantRequest struct {
	UserID        uuid.UUID `json:"user_id"`
	RoleID        uuid.UUID `json:"role_id"`
	ApplicationID uuid.UUID `json:"application_id"`
}

func parseID(w http.ResponseWriter, r *http.Request, value, what string) (uuid.UUID, bool) {
	id, err := uuid.Parse(value)
	if err != nil {
		writeError(w, r, http.StatusBadRequest, "invalid "+what)
		return uuid.Nil, false
	}
	return id, true
}

func scopedParts(r *http.Request, prefix string) []string {
	path := strings.TrimPrefix(r.URL.Path, prefix)
	path = strings.Trim(path, "/")
	if path == "" {
		return nil
	}
	return strings.Split(path, "/")
}

// --- applications ---

func (a *API) handleApplications(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, r, http.MethodPost)
		return
	}
	var req createApplicationRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	app, err := a.registry.Applications.Create(r.Context(), req.Name, req.Description, req.DefaultRoleID)
	if err != nil {
		handleDomainError(w, r, err)
		return
	}
	w.Header().Set("Location", fmt.Sprintf("/v1/applications/%s", app.Name))
	writeJSON(w, http.StatusCreated, toApplicationResponse(app))
}

func (a *API) handleApplicationScoped(w http.ResponseWriter, r *http.Request) {
	parts := scopedParts(r, "/v1/applications/")
	if len(parts) == 0 {
		writeError(w, r, http.StatusNotFound, "resource not found")
		return
	}
	if len(parts) == 1 {
		switch r.Method {
		case http.MethodGet:
			app, err := a.registry.Applications.Get(r.Context(), parts[0])
			if err != nil {
				handleDomainError(w, r, err)
				return
			}
			writeJSON(w, http.StatusOK, toApplicationResponse(app))
		case http.MethodPut:
			id, ok := parseID(w, r, parts[0], "application id")
			if !ok {
				return
			}
			var req createApplicationRequest
			if err := decodeJSON(w, r, &req); err != nil {
				writeError(w, r, http.StatusBadRequest, err.Error())
				return
			}
			app, err := a.registry.Applications.Update(r.Context(), id, req.Name, req.Description, req.DefaultRoleID)
			if err != nil {
				handleDomainError(w, r, err)
				return
			}
			writeJSON(w, http.StatusOK, toApplicationResponse(app))
		default:
			methodNotAllowed(w, r, http.MethodGet, http.MethodPut)
		}
		return
	}

	id, ok := parseID(w, r, parts[0], "application id")
	if !ok {
		return
	}
	switch parts[1] {
	case "authenticators":
		if len(parts) != 2 {
			writeError(w, r, http.StatusNotFound, "resource not found")
			return
		}
		a.handleApplicationBindings(w, r, id)
	case "roles":
		a.handleApplicationRoles(w, r, id, parts)
	default:
		writeError(w, r, http.StatusNotFound, "resource not found")
	}
}

func (a *API) handleApplicationBindings(w http.ResponseWriter, r *http.Request, applicationID uuid.UUID) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w, r, http.MethodGet)
		return
	}
	bindings, err := a.registry.Bindings.ListByApplication(r.Context(), applicationID)
	if err != nil {
		handleDomainError(w, r, err)
		return
	}
	out := make([]bindingResponse, 0, len(bindings))
	for _, b := range bindings {
		out = append(out, toBindingResponse(b))
	}
	writeJSON(w, http.StatusOK, out)
}

func (a *API) handleApplicationRoles(w http.ResponseWriter, r *http.Request, applicationID uuid.UUID, parts []string) {
	switch {
	case len(parts) == 2 && r.Method == http.MethodGet:
		roles, err := a.registry.Roles.RolesForApplication(r.Context(), applicationID)
		if err != nil {
			handleDomainError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, toRoleResponses(roles))
	case len(parts) == 2 && r.Method == http.MethodPost:
		var req linkRoleRequest
		if err := decodeJSON(w, r, &req); err != nil {
			writeError(w, r, http.StatusBadRequest, err.Error())
			return
		}
		linkID, err := a.registry.Roles.LinkApplicationRole(r.Context(), applicationID, req.RoleID)
		if err != nil {
			handleDomainError(w, r, err)
			return
		}
		writeJSON(w, http.StatusCreated, map[string]any{"id": linkID})
	case len(parts) == 3 && r.Method == http.MethodDelete:
		roleID, ok := parseID(w, r, parts[2], "role id")
		if !ok {
			return
		}
		if err := a.registry.Roles.UnlinkApplicationRole(r.Context(), applicationID, roleID); err != nil {
			handleDomainError(w, r, err)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	default:
		methodNotAllowed(w, r, http.MethodGet, http.MethodPost, http.MethodDelete)
	}
}

// --- authenticators ---

func (a *API) handleAuthenticators(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		all, err := a.registry.Authenticators.List(r.Context())
		if err != nil {
			handleDomainError(w, r, err)
			return
		}
		out := make([]authenticatorResponse, 0, len(all))
		for _, auth := range all {
			out = append(out, toAuthenticatorResponse(auth))
		}
		writeJSON(w, http.StatusOK, out)
	case http.MethodPost:
		var req createAuthenticatorRequest
		if err := decodeJSON(w, r, &req); err != nil {
			writeError(w, r, http.StatusBadRequest, err.Error())
			return
		}
		auth, err := a.registry.Authenticators.Create(r.Context(), req.Name, req.AuthType, req.Config)
		if err != nil {
			handleDomainError(w, r, err)
			return
		}
		w.Header().Set("Location", fmt.Sprintf("/v1/authenticators/%s", auth.Name))
		writeJSON(w, http.StatusCreated, toAuthenticatorResponse(auth))
	default:
		methodNotAllowed(w, r, http.MethodGet, http.MethodPost)
	}
}

func (a *API) handleAuthenticatorScoped(w http.ResponseWriter, r *http.Request) {
	parts := scopedParts(r, "/v1/authenticators/")
	if len(parts) == 0 {
		writeError(w, r, http.StatusNotFound, "resource not found")
		return
	}
	if len(parts) == 2 && parts[1] == "active" {
		if r.Method != http.MethodGet {
			methodNotAllowed(w, r, http.MethodGet)
			return
		}
		active, err := a.registry.Authenticators.Active(r.Context(), parts[0])
		if err != nil {
			handleDomainError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"active": active})
		return
	}
	if len(parts) != 1 {
		writeError(w, r, http.StatusNotFound, "resource not found")
		return
	}
	switch r.Method {
	case http.MethodGet:
		auth, err := a.registry.Authenticators.Get(r.Context(), parts[0])
		if err != nil {
			handleDomainError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, toAuthenticatorResponse(auth))
	case http.MethodPut:
		id, ok := parseID(w, r, parts[0], "authenticator id")
		if !ok {
			return
		}
		var req updateAuthenticatorRequest
		if err := decodeJSON(w, r, &req); err != nil {
			writeError(w, r, http.StatusBadRequest, err.Error())
			return
		}
		auth, err := a.registry.Authenticators.Update(r.Context(), id, req.Name, req.AuthType, req.Config, req.Active)
		if err != nil {
			handleDomainError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, toAuthenticatorResponse(auth))
	case http.MethodDelete:
		id, ok := parseID(w, r, parts[0], "authenticator id")
		if !ok {
			return
		}
		if err := a.registry.Authenticators.Delete(r.Context(), id); err != nil {
			handleDomainError(w, r, err)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	default:
		methodNotAllowed(w, r, http.MethodGet, http.MethodPut, http.MethodDelete)
	}
}

// --- bindings ---

func (a *API) handleBindings(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		// Activity check: ?application_id=...&authenticator_id=...
		q := r.URL.Query()
		appID, ok := parseID(w, r, q.Get("application_id"), "application id")
		if !ok {
			return
		}
		authID, ok := parseID(w, r, q.Get("authenticator_id"), "authenticator id")
		if !ok {
			return
		}
		active, err := a.registry.Bindings.Active(r.Context(), appID, authID)
		if err != nil {
			handleDomainError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"active": active})
	case http.MethodPost:
		var req createBindingRequest
		if err := decodeJSON(w, r, &req); err != nil {
			writeError(w, r, http.StatusBadRequest, err.Error())
			return
		}
		binding, err := a.registry.Bindings.Create(r.Context(), req.ApplicationID, req.AuthenticatorID, req.Config, req.DisplayOrder)
		if err != nil {
			handleDomainError(w, r, err)
			return
		}
		writeJSON(w, http.StatusCreated, toBindingResponse(binding))
	default:
		methodNotAllowed(w, r, http.MethodGet, http.MethodPost)
	}
}

func (a *API) handleBindingScoped(w http.ResponseWriter, r *http.Request) {
	parts := scopedParts(r, "/v1/bindings/")
	if len(parts) != 1 {
		writeError(w, r, http.StatusNotFound, "resource not found")
		return
	}
	if r.Method != http.MethodDelete {
		methodNotAllowed(w, r, http.MethodDelete)
		return
	}
	id, ok := parseID(w, r, parts[0], "binding id")
	if !ok {
		return
	}
	if err := a.registry.Bindings.Delete(r.Context(), id); err != nil {
		handleDomainError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// --- users (mappings and grants) ---

func (a *API) handleUserScoped(w http.ResponseWriter, r *http.Request) {
	parts := scopedParts(r, "/v1/users/")
	if len(parts) < 2 {
		writeError(w, r, http.StatusNotFound, "resource not found")
		return
	}
	userID, ok := parseID(w, r, parts[0], "user id")
	if !ok {
		return
	}
	switch parts[1] {
	case "mappings":
		if len(parts) != 2 {
			writeError(w, r, http.StatusNotFound, "resource not found")
			return
		}
		a.handleUserMappings(w, r, userID)
	case "applications":
		if len(parts) != 4 || parts[3] != "roles" {
			writeError(w, r, http.StatusNotFound, "resource not found")
			return
		}
		appID, ok := parseID(w, r, parts[2], "application id")
		if !ok {
			return
		}
		if r.Method != http.MethodGet {
			methodNotAllowed(w, r, http.MethodGet)
			return
		}
		roles, err := a.registry.Roles.RolesForUser(r.Context(), userID, appID)
		if err != nil {
			handleDomainError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, toRoleResponses(roles))
	default:
		writeError(w, r, http.StatusNotFound, "resource not found")
	}
}

func (a *API) handleUserMappings(w http.ResponseWriter, r *http.Request, userID uuid.UUID) {
	switch r.Method {
	case http.MethodGet:
		mappings, err := a.registry.Mappings.ListByUser(r.Context(), userID)
		if err != nil {
			handleDomainError(w, r, err)
			return
		}
		out := make([]mappingResponse, 0, len(mappings))
		for _, m := range mappings {
			out = append(out, toMappingResponse(m))
		}
		writeJSON(w, http.StatusOK, out)
	case http.MethodPost:
		var req createMappingRequest
		if err := decodeJSON(w, r, &req); err != nil {
			writeError(w, r, http.StatusBadRequest, err.Error())
			return
		}
		mapping, err := a.registry.Mappings.Create(r.Context(), userID, req.AuthenticatorID, req.ExternalUserID)
		if err != nil {
			handleDomainError(w, r, err)
			return
		}
		writeJSON(w, http.StatusCreated, toMappingResponse(mapping))
	default:
		methodNotAllowed(w, r, http.MethodGet, http.MethodPost)
	}
}

func (a *API) handleMappingScoped(w http.ResponseWriter, r *http.Request) {
	parts := scopedParts(r, "/v1/mappings/")
	if len(parts) != 1 {
		writeError(w, r, http.StatusNotFound, "resource not found")
		return
	}
	if r.Method != http.MethodDelete {
		methodNotAllowed(w, r, http.MethodDelete)
		return
	}
	id, ok := parseID(w, r, parts[0], "mapping id")
	if !ok {
		return
	}
	if err := a.registry.Mappings.Delete(r.Context(), id); err != nil {
		handleDomainError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// --- roles and permissions ---

func (a *API) handleRoles(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, r, http.MethodPost)
		return
	}
	var req namedRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	role, err := a.registry.Roles.CreateRole(r.Context(), req.Name, req.Description)
	if err != nil {
		handleDomainError(w, r, err)
		return
	}
	w.Header().Set("Location", fmt.Sprintf("/v1/roles/%s", role.ID))
	writeJSON(w, http.StatusCreated, toRoleResponse(role))
}

func (a *API) handleRoleScoped(w http.ResponseWriter, r *http.Request) {
	parts := scopedParts(r, "/v1/roles/")
	if len(parts) == 0 {
		writeError(w, r, http.StatusNotFound, "resource not found")
		return
	}
	roleID, ok := parseID(w, r, parts[0], "role id")
	if !ok {
		return
	}
	if len(parts) == 1 {
		switch r.Method {
		case http.MethodGet:
			role, err := a.registry.Roles.GetRole(r.Context(), roleID)
			if err != nil {
				handleDomainError(w, r, err)
				return
			}
			writeJSON(w, http.StatusOK, toRoleResponse(role))
		case http.MethodPut:
			var req namedRequest
			if err := decodeJSON(w, r, &req); err != nil {
				writeError(w, r, http.StatusBadRequest, err.Error())
				return
			}
			role, err := a.registry.Roles.UpdateRole(r.Context(), roleID, req.Name, req.Description)
			if err != nil {
				handleDomainError(w, r, err)
				return
			}
			writeJSON(w, http.StatusOK, toRoleResponse(role))
		default:
			methodNotAllowed(w, r, http.MethodGet, http.MethodPut)
		}
		return
	}
	if parts[1] != "permissions" {
		writeError(w, r, http.StatusNotFound, "resource not found")
		return
	}
	switch {
	case len(parts) == 2 && r.Method == http.MethodGet:
		permissions, err := a.registry.Roles.PermissionsForRole(r.Context(), roleID)
		if err != nil {
			handleDomainError(w, r, err)
			return
		}
		out := make([]permissionResponse, 0, len(permissions))
		for _, p := range permissions {
			out = append(out, toPermissionResponse(p))
		}
		writeJSON(w, http.StatusOK, out)
	case len(parts) == 2 && r.Method == http.MethodPost:
		var req linkPermissionRequest
		if err := decodeJSON(w, r, &req); err != nil {
			writeError(w, r, http.StatusBadRequest, err.Error())
			return
		}
		linkID, err := a.registry.Roles.LinkPermission(r.Context(), roleID, req.PermissionID)
		if err != nil {
			handleDomainError(w, r, err)
			return
		}
		writeJSON(w, http.StatusCreated, map[string]any{"id": linkID})
	case len(parts) == 3 && r.Method == http.MethodDelete:
		permissionID, ok := parseID(w, r, parts[2], "permission id")
		if !ok {
			return
		}
		if err := a.registry.Roles.UnlinkPermission(r.Context(), roleID, permissionID); err != nil {
			handleDomainError(w, r, err)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	default:
		methodNotAllowed(w, r, http.MethodGet, http.MethodPost, http.MethodDelete)
	}
}

func (a *API) handlePermissions(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, r, http.MethodPost)
		return
	}
	var req namedRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	permission, err := a.registry.Roles.CreatePermission(r.Context(), req.Name, req.Description)
	if err != nil {
		handleDomainError(w, r, err)
		return
	}
	w.Header().Set("Location", fmt.Sprintf("/v1/permissions/%s", permission.ID))
	writeJSON(w, http.StatusCreated, toPermissionResponse(permission))
}

func (a *API) handlePermissionScoped(w http.ResponseWriter, r *http.Request) {
	parts := scopedParts(r, "/v1/permissions/")
	if len(parts) != 1 {
		writeError(w, r, http.StatusNotFound, "resource not found")
		return
	}
	permissionID, ok := parseID(w, r, parts[0], "permission id")
	if !ok {
		return
	}
	switch r.Method {
	case http.MethodGet:
		permission, err := a.registry.Roles.GetPermission(r.Context(), permissionID)
		if err != nil {
			handleDomainError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, toPermissionResponse(permission))
	case http.MethodPut:
		var req namedRequest
		if err := decodeJSON(w, r, &req); err != nil {
			writeError(w, r, http.StatusBadRequest, err.Error())
			return
		}
		permission, err := a.registry.Roles.UpdatePermission(r.Context(), permissionID, req.Name, req.Description)
		if err != nil {
			handleDomainError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, toPermissionResponse(permission))
	default:
		methodNotAllowed(w, r, http.MethodGet, http.MethodPut)
	}
}

// --- grants ---

func (a *API) handleGrants(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodPost:
		var req grantRequest
		if err := decodeJSON(w, r, &req); err != nil {
			writeError(w, r, http.StatusBadRequest, err.Error())
			return
		}
		grant, err := a.registry.Roles.AddGrant(r.Context(), req.UserID, req.RoleID, req.ApplicationID)
		if err != nil {
			handleDomainError(w, r, err)
			return
		}
		writeJSON(w, http.StatusCreated, map[string]any{
			"id":             grant.ID,
			"user_id":        grant.UserID,
			"role_id":        grant.RoleID,
			"application_id": grant.ApplicationID,
		})
	case http.MethodDelete:
		var req grantRequest
		if err := decodeJSON(w, r, &req); err != nil {
			writeError(w, r, http.StatusBadRequest, err.Error())
			return
		}
		if err := a.registry.Roles.RemoveGrant(r.Context(), req.UserID, req.RoleID, req.ApplicationID); err != nil {
			handleDomainError(w, r, err)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	default:
		methodNotAllowed(w, r, http.MethodPost, http.MethodDelete)
	}
}
