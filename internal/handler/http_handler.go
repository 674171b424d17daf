package handler

import (
	"encoding/json"
	"net/http"

	"github.com/pesio-ai/be-crm-workflows/internal/common/auth"
	"github.com/pesio-ai/be-crm-workflows/internal/common/errors"
	"github.com/pesio-ai/be-crm-workflows/internal/common/logger"
	"github.com/pesio-ai/be-crm-workflows/internal/repository"
	"github.com/pesio-ai/be-crm-workflows/internal/service"
)

// HTTPHandler handles HTTP requests
type HTTPHandler struct {
	users       *service.UserService
	insurance   *service.InsuranceService
	leads       *service.LeadService
	reliantBest *service.ReliantBestService
	booking     *service.BookingService
	log         *logger.Logger
}

// NewHTTPHandler creates a new HTTP handler
func NewHTTPHandler(
	users *service.UserService,
	insurance *service.InsuranceService,
	leads *service.LeadService,
	reliantBest *service.ReliantBestService,
	booking *service.BookingService,
	log *logger.Logger,
) *HTTPHandler {
	return &HTTPHandler{
		users:       users,
		insurance:   insurance,
		leads:       leads,
		reliantBest: reliantBest,
		booking:     booking,
		log:         log,
	}
}

// Register mounts every route on mux.
func (h *HTTPHandler) Register(mux *http.ServeMux) {
	mux.HandleFunc("/health", h.Health)

	mux.HandleFunc("/api/v1/auth/verify", h.VerifyCredentials)
	mux.HandleFunc("/api/v1/users", h.Users)
	mux.HandleFunc("/api/v1/users/update", h.UpdateUser)
	mux.HandleFunc("/api/v1/users/delete", h.DeleteUser)
	mux.HandleFunc("/api/v1/dashboard", h.Dashboard)

	mux.HandleFunc("/api/v1/insurance", h.Insurance)
	mux.HandleFunc("/api/v1/insurance/get", h.GetInsurance)
	mux.HandleFunc("/api/v1/insurance/open", h.OpenInsurance)
	mux.HandleFunc("/api/v1/insurance/approve", h.ApproveInsurance)
	mux.HandleFunc("/api/v1/insurance/reject", h.RejectInsurance)
	mux.HandleFunc("/api/v1/insurance/delete", h.DeleteInsurance)

	mux.HandleFunc("/api/v1/leads", h.Leads)
	mux.HandleFunc("/api/v1/leads/open", h.OpenLead)
	mux.HandleFunc("/api/v1/leads/approve", h.ApproveLead)
	mux.HandleFunc("/api/v1/leads/reject", h.RejectLead)

	mux.HandleFunc("/api/v1/customer-leads", h.CustomerLeads)
	mux.HandleFunc("/api/v1/customer-leads/update", h.FollowupCustomerLead)
	mux.HandleFunc("/api/v1/customer-leads/convert", h.ConvertCustomerLead)
	mux.HandleFunc("/api/v1/customer-leads/delete", h.DeleteCustomerLead)

	mux.HandleFunc("/api/v1/reliant-best", h.ReliantBest)
	mux.HandleFunc("/api/v1/reliant-best/delete", h.DeleteReliantBest)

	mux.HandleFunc("/api/v1/credits-fin/entries", h.CreditsFinEntries)
	mux.HandleFunc("/api/v1/credits-fin/open", h.OpenCreditsFinEntries)
	mux.HandleFunc("/api/v1/credits-fin/bids", h.Bids)
	mux.HandleFunc("/api/v1/credits-fin/bids/approve", h.ApproveBid)
	mux.HandleFunc("/api/v1/credits-fin/bids/reject", h.RejectBid)
	mux.HandleFunc("/api/v1/credits-fin/book", h.ManualBook)
	mux.HandleFunc("/api/v1/credits-fin/reverse", h.ReverseBooking)
	mux.HandleFunc("/api/v1/credits-fin/delete", h.DeleteCreditsFinEntry)
}

// Health reports liveness.
func (h *HTTPHandler) Health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "healthy"})
}

// ── Helpers ───────────────────────────────────────────────────────────────────

// actorID returns the authenticated user or writes 401.
func (h *HTTPHandler) actorID(w http.ResponseWriter, r *http.Request) (string, bool) {
	uc, err := auth.GetUserContext(r.Context())
	if err != nil {
		h.writeError(w, r, errors.New(errors.ErrCodeUnauthorized, "missing "+auth.HeaderUserID+" header"))
		return "", false
	}
	return uc.UserID, true
}

func allowMethod(w http.ResponseWriter, r *http.Request, methods ...string) bool {
	for _, m := range methods {
		if r.Method == m {
			return true
		}
	}
	http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
	return false
}

// queryParam returns a required query parameter or writes 400.
func (h *HTTPHandler) queryParam(w http.ResponseWriter, r *http.Request, name string) (string, bool) {
	v := r.URL.Query().Get(name)
	if v == "" {
		h.writeError(w, r, errors.InvalidInput(name, "required"))
		return "", false
	}
	return v, true
}

func writeJSON(w http.ResponseWriter, status int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

type errorBody struct {
	Error struct {
		Code    errors.ErrorCode `json:"code"`
		Message string           `json:"message"`
	} `json:"error"`
}

// writeError maps the error code to a status and writes the error envelope.
func (h *HTTPHandler) writeError(w http.ResponseWriter, r *http.Request, err error) {
	status := httpStatus(err)
	var body errorBody
	body.Error.Code = errors.CodeOf(err)
	body.Error.Message = err.Error()

	if status >= http.StatusInternalServerError {
		h.log.Error().Err(err).Str("path", r.URL.Path).Msg("Request failed")
	}
	writeJSON(w, status, body)
}

func httpStatus(err error) int {
	switch errors.CodeOf(err) {
	case errors.ErrCodeNotFound:
		return http.StatusNotFound
	case errors.ErrCodeInvalidInput:
		return http.StatusBadRequest
	case errors.ErrCodeConflict:
		return http.StatusConflict
	case errors.ErrCodeUnauthorized:
		return http.StatusUnauthorized
	case errors.ErrCodeForbidden:
		return http.StatusForbidden
	case errors.ErrCodeStorage:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// userView is a User without its password hash.
type userView struct {
	Username         string          `json:"username"`
	Role             repository.Role `json:"role"`
	Department       string          `json:"department,omitempty"`
	AssignedBranches []string        `json:"assigned_branches"`
	AssignedProducts []string        `json:"assigned_products"`
	CreatedBy        string          `json:"created_by"`
	CreatedAt        string          `json:"created_at"`
}

func toUserView(u *repository.User) userView {
	return userView{
		Username:         u.Username,
		Role:             u.Role,
		Department:       u.Department,
		AssignedBranches: u.AssignedBranches,
		AssignedProducts: u.AssignedProducts,
		CreatedBy:        u.CreatedBy,
		CreatedAt:        u.CreatedAt,
	}
}
