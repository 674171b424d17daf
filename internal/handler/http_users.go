package handler

import (
	"net/http"

	"github.com/pesio-ai/be-crm-workflows/internal/repository"
	"github.com/pesio-ai/be-crm-workflows/internal/service"
)

type verifyRequest struct {
	Username string `json:"username" validate:"required"`
	Password string `json:"password" validate:"required"`
}

type createUserRequest struct {
	Username         string          `json:"username" validate:"required,max=64"`
	Password         string          `json:"password" validate:"required,min=6"`
	Role             repository.Role `json:"role" validate:"required"`
	Department       string          `json:"department"`
	AssignedBranches []string        `json:"assigned_branches"`
	AssignedProducts []string        `json:"assigned_products"`
}

type updateUserRequest struct {
	Username         string    `json:"username" validate:"required"`
	AssignedBranches *[]string `json:"assigned_branches"`
	AssignedProducts *[]string `json:"assigned_products"`
	Password         *string   `json:"password" validate:"omitempty,min=6"`
}

type dashboardRequest struct {
	Text      string  `json:"text" validate:"required"`
	ImagePath *string `json:"image_path"`
}

// VerifyCredentials checks a username/password pair for the gateway.
func (h *HTTPHandler) VerifyCredentials(w http.ResponseWriter, r *http.Request) {
	if !allowMethod(w, r, http.MethodPost) {
		return
	}
	var req verifyRequest
	if err := decode(r, &req); err != nil {
		h.writeError(w, r, err)
		return
	}
	u, err := h.users.Authenticate(r.Context(), req.Username, req.Password)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toUserView(u))
}

// Users lists the caller's managed users (GET) or creates one (POST).
func (h *HTTPHandler) Users(w http.ResponseWriter, r *http.Request) {
	if !allowMethod(w, r, http.MethodGet, http.MethodPost) {
		return
	}
	actor, ok := h.actorID(w, r)
	if !ok {
		return
	}

	if r.Method == http.MethodGet {
		if username := r.URL.Query().Get("username"); username != "" {
			u, err := h.users.Get(r.Context(), actor, username)
			if err != nil {
				h.writeError(w, r, err)
				return
			}
			writeJSON(w, http.StatusOK, toUserView(u))
			return
		}
		users, err := h.users.List(r.Context(), actor)
		if err != nil {
			h.writeError(w, r, err)
			return
		}
		views := make([]userView, 0, len(users))
		for _, u := range users {
			views = append(views, toUserView(u))
		}
		writeJSON(w, http.StatusOK, map[string]interface{}{"users": views, "total": len(views)})
		return
	}

	var req createUserRequest
	if err := decode(r, &req); err != nil {
		h.writeError(w, r, err)
		return
	}
	u, err := h.users.Create(r.Context(), actor, service.CreateUserInput{
		Username:   req.Username,
		Password:   req.Password,
		Role:       req.Role,
		Department: req.Department,
		Branches:   req.AssignedBranches,
		Products:   req.AssignedProducts,
	})
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, toUserView(u))
}

// UpdateUser changes branches, products or password of a managed user.
func (h *HTTPHandler) UpdateUser(w http.ResponseWriter, r *http.Request) {
	if !allowMethod(w, r, http.MethodPut, http.MethodPost) {
		return
	}
	actor, ok := h.actorID(w, r)
	if !ok {
		return
	}
	var req updateUserRequest
	if err := decode(r, &req); err != nil {
		h.writeError(w, r, err)
		return
	}
	u, err := h.users.Update(r.Context(), actor, req.Username, service.UpdateUserInput{
		Branches: req.AssignedBranches,
		Products: req.AssignedProducts,
		Password: req.Password,
	})
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toUserView(u))
}

// DeleteUser removes a managed user.
func (h *HTTPHandler) DeleteUser(w http.ResponseWriter, r *http.Request) {
	if !allowMethod(w, r, http.MethodDelete) {
		return
	}
	actor, ok := h.actorID(w, r)
	if !ok {
		return
	}
	username, ok := h.queryParam(w, r, "username")
	if !ok {
		return
	}
	if err := h.users.Delete(r.Context(), actor, username); err != nil {
		h.writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// Dashboard returns the sign-in page settings (GET, public) or replaces them
// (PUT, admin).
func (h *HTTPHandler) Dashboard(w http.ResponseWriter, r *http.Request) {
	if !allowMethod(w, r, http.MethodGet, http.MethodPut) {
		return
	}
	if r.Method == http.MethodGet {
		d, err := h.users.Dashboard(r.Context())
		if err != nil {
			h.writeError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, d)
		return
	}

	actor, ok := h.actorID(w, r)
	if !ok {
		return
	}
	var req dashboardRequest
	if err := decode(r, &req); err != nil {
		h.writeError(w, r, err)
		return
	}
	d, err := h.users.UpdateDashboard(r.Context(), actor, repository.Dashboard{Text: req.Text, ImagePath: req.ImagePath})
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, d)
}
