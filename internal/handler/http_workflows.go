package handler

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/pesio-ai/be-crm-workflows/internal/common/errors"
	"github.com/pesio-ai/be-crm-workflows/internal/repository"
	"github.com/pesio-ai/be-crm-workflows/internal/service"
)

type submitInsuranceRequest struct {
	Branch          string      `json:"branch"`
	StaffName       string      `json:"staff_name"`
	ApplicantName   string      `json:"applicant_name" validate:"required"`
	Age             int         `json:"age" validate:"gte=0,lte=130"`
	PhoneNumber     string      `json:"phone_number" validate:"required"`
	AadharNumber    string      `json:"aadhar_number" validate:"omitempty,len=12,numeric"`
	AadharPhotoPath string      `json:"aadhar_photo_path"`
	Address         string      `json:"address"`
	InsuranceType   string      `json:"insurance_type" validate:"required"`
	Premium         json.Number `json:"premium" validate:"required,positive_amount"`
}

type submitLeadRequest struct {
	Branch       string `json:"branch"`
	CustomerID   string `json:"customer_id"`
	CustomerName string `json:"customer_name" validate:"required"`
	PhoneNumber  string `json:"phone_number"`
	Product      string `json:"product"`
	Description  string `json:"description"`
}

// recordRequest names the record an approval-chain action targets.
type recordRequest struct {
	ID string `json:"id" validate:"required"`
}

type rejectRequest struct {
	ID     string `json:"id" validate:"required"`
	Reason string `json:"reason"`
}

type customerLeadRequest struct {
	Branch       string              `json:"branch"`
	Location     string              `json:"location"`
	LocationURL  string              `json:"location_url" validate:"omitempty,url"`
	GPSLat       *float64            `json:"gps_lat" validate:"omitempty,latitude"`
	GPSLon       *float64            `json:"gps_lon" validate:"omitempty,longitude"`
	LeadType     repository.LeadType `json:"lead_type" validate:"required,oneof=HOT WARM COOL"`
	CustomerName string              `json:"customer_name" validate:"required"`
	Job          string              `json:"job"`
	PhoneNumber  string              `json:"phone_number"`
	Product      string              `json:"product"`
	Description  string              `json:"description"`
}

type followupRequest struct {
	ID          string              `json:"id" validate:"required"`
	LeadType    repository.LeadType `json:"lead_type" validate:"required,oneof=HOT WARM COOL"`
	Description string              `json:"description"`
}

type convertRequest struct {
	ID         string `json:"id" validate:"required"`
	CustomerID string `json:"customer_id" validate:"required"`
}

type reliantBestRequest struct {
	Branch         string      `json:"branch"`
	CustomerName   string      `json:"customer_name" validate:"required"`
	GoldName       string      `json:"gold_name"`
	GoldLoanNumber string      `json:"gold_loan_number"`
	GoldAmount     json.Number `json:"gold_amount" validate:"nonnegative_amount"`
	PLName         string      `json:"pl_name"`
	PLLoanNumber   string      `json:"pl_loan_number"`
	PLAmount       json.Number `json:"pl_amount" validate:"nonnegative_amount"`
}

// ── Insurance ─────────────────────────────────────────────────────────────────

// Insurance lists visible applications (GET) or submits one (POST).
func (h *HTTPHandler) Insurance(w http.ResponseWriter, r *http.Request) {
	if !allowMethod(w, r, http.MethodGet, http.MethodPost) {
		return
	}
	actor, ok := h.actorID(w, r)
	if !ok {
		return
	}

	if r.Method == http.MethodGet {
		q := r.URL.Query()
		apps, err := h.insurance.List(r.Context(), actor, service.InsuranceFilter{
			Status: repository.ApprovalStatus(q.Get("status")),
			Branch: q.Get("branch"),
		})
		if err != nil {
			h.writeError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]interface{}{"entries": apps, "total": len(apps)})
		return
	}

	var req submitInsuranceRequest
	if err := decode(r, &req); err != nil {
		h.writeError(w, r, err)
		return
	}
	app, err := h.insurance.Submit(r.Context(), actor, service.SubmitInsuranceInput{
		Branch:          req.Branch,
		StaffName:       req.StaffName,
		ApplicantName:   req.ApplicantName,
		Age:             req.Age,
		PhoneNumber:     req.PhoneNumber,
		AadharNumber:    req.AadharNumber,
		AadharPhotoPath: req.AadharPhotoPath,
		Address:         req.Address,
		InsuranceType:   req.InsuranceType,
		Premium:         amount(req.Premium),
	})
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, app)
}

// GetInsurance returns one visible application.
func (h *HTTPHandler) GetInsurance(w http.ResponseWriter, r *http.Request) {
	if !allowMethod(w, r, http.MethodGet) {
		return
	}
	actor, ok := h.actorID(w, r)
	if !ok {
		return
	}
	id, ok := h.queryParam(w, r, "id")
	if !ok {
		return
	}
	app, err := h.insurance.Get(r.Context(), actor, id)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, app)
}

// OpenInsurance records that the caller started reviewing an application.
func (h *HTTPHandler) OpenInsurance(w http.ResponseWriter, r *http.Request) {
	h.reviewAction(w, r, h.insurance.Open)
}

// ApproveInsurance advances an application one tier.
func (h *HTTPHandler) ApproveInsurance(w http.ResponseWriter, r *http.Request) {
	h.recordAction(w, r, func(r *http.Request, actor, id string) (interface{}, error) {
		return h.insurance.Approve(r.Context(), actor, id)
	})
}

// RejectInsurance rejects an application with a reason.
func (h *HTTPHandler) RejectInsurance(w http.ResponseWriter, r *http.Request) {
	h.rejectAction(w, r, func(r *http.Request, actor, id, reason string) (interface{}, error) {
		return h.insurance.Reject(r.Context(), actor, id, reason)
	})
}

// DeleteInsurance withdraws an application still awaiting its first review.
func (h *HTTPHandler) DeleteInsurance(w http.ResponseWriter, r *http.Request) {
	h.deleteAction(w, r, h.insurance.Delete)
}

// ── Leads ─────────────────────────────────────────────────────────────────────

// Leads lists visible system leads (GET) or submits one (POST).
func (h *HTTPHandler) Leads(w http.ResponseWriter, r *http.Request) {
	if !allowMethod(w, r, http.MethodGet, http.MethodPost) {
		return
	}
	actor, ok := h.actorID(w, r)
	if !ok {
		return
	}

	if r.Method == http.MethodGet {
		leads, err := h.leads.List(r.Context(), actor, repository.ApprovalStatus(r.URL.Query().Get("status")))
		if err != nil {
			h.writeError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]interface{}{"leads": leads, "total": len(leads)})
		return
	}

	var req submitLeadRequest
	if err := decode(r, &req); err != nil {
		h.writeError(w, r, err)
		return
	}
	lead, err := h.leads.Submit(r.Context(), actor, service.SubmitLeadInput{
		Branch:       req.Branch,
		CustomerID:   req.CustomerID,
		CustomerName: req.CustomerName,
		PhoneNumber:  req.PhoneNumber,
		Product:      req.Product,
		Description:  req.Description,
	})
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, lead)
}

// OpenLead records that the caller started reviewing a lead.
func (h *HTTPHandler) OpenLead(w http.ResponseWriter, r *http.Request) {
	h.reviewAction(w, r, h.leads.Open)
}

// ApproveLead advances a lead one tier.
func (h *HTTPHandler) ApproveLead(w http.ResponseWriter, r *http.Request) {
	h.recordAction(w, r, func(r *http.Request, actor, id string) (interface{}, error) {
		return h.leads.Approve(r.Context(), actor, id)
	})
}

// RejectLead rejects a lead with a reason.
func (h *HTTPHandler) RejectLead(w http.ResponseWriter, r *http.Request) {
	h.rejectAction(w, r, func(r *http.Request, actor, id, reason string) (interface{}, error) {
		return h.leads.Reject(r.Context(), actor, id, reason)
	})
}

// ── Customer leads ────────────────────────────────────────────────────────────

// CustomerLeads lists visible customer leads (GET) or creates one (POST).
func (h *HTTPHandler) CustomerLeads(w http.ResponseWriter, r *http.Request) {
	if !allowMethod(w, r, http.MethodGet, http.MethodPost) {
		return
	}
	actor, ok := h.actorID(w, r)
	if !ok {
		return
	}

	if r.Method == http.MethodGet {
		q := r.URL.Query()
		f := service.CustomerLeadFilter{LeadType: repository.LeadType(q.Get("lead_type"))}
		if v := q.Get("converted"); v != "" {
			converted, err := strconv.ParseBool(v)
			if err != nil {
				h.writeError(w, r, errors.InvalidInput("converted", "must be true or false"))
				return
			}
			f.Converted = &converted
		}
		leads, err := h.leads.ListCustomerLeads(r.Context(), actor, f)
		if err != nil {
			h.writeError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]interface{}{"leads": leads, "total": len(leads)})
		return
	}

	var req customerLeadRequest
	if err := decode(r, &req); err != nil {
		h.writeError(w, r, err)
		return
	}
	lead, err := h.leads.CreateCustomerLead(r.Context(), actor, service.CreateCustomerLeadInput{
		Branch:       req.Branch,
		Location:     req.Location,
		LocationURL:  req.LocationURL,
		GPSLat:       req.GPSLat,
		GPSLon:       req.GPSLon,
		LeadType:     req.LeadType,
		CustomerName: req.CustomerName,
		Job:          req.Job,
		PhoneNumber:  req.PhoneNumber,
		Product:      req.Product,
		Description:  req.Description,
	})
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, lead)
}

// FollowupCustomerLead records a follow-up on an unconverted lead.
func (h *HTTPHandler) FollowupCustomerLead(w http.ResponseWriter, r *http.Request) {
	if !allowMethod(w, r, http.MethodPut, http.MethodPost) {
		return
	}
	actor, ok := h.actorID(w, r)
	if !ok {
		return
	}
	var req followupRequest
	if err := decode(r, &req); err != nil {
		h.writeError(w, r, err)
		return
	}
	lead, err := h.leads.Followup(r.Context(), actor, req.ID, req.LeadType, req.Description)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, lead)
}

// ConvertCustomerLead stamps the numeric customer id on a lead.
func (h *HTTPHandler) ConvertCustomerLead(w http.ResponseWriter, r *http.Request) {
	if !allowMethod(w, r, http.MethodPost) {
		return
	}
	actor, ok := h.actorID(w, r)
	if !ok {
		return
	}
	var req convertRequest
	if err := decode(r, &req); err != nil {
		h.writeError(w, r, err)
		return
	}
	lead, err := h.leads.Convert(r.Context(), actor, req.ID, req.CustomerID)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, lead)
}

// DeleteCustomerLead removes a customer lead.
func (h *HTTPHandler) DeleteCustomerLead(w http.ResponseWriter, r *http.Request) {
	h.deleteAction(w, r, h.leads.DeleteCustomerLead)
}

// ── Reliant Best ──────────────────────────────────────────────────────────────

// ReliantBest lists visible entries (GET) or creates one (POST).
func (h *HTTPHandler) ReliantBest(w http.ResponseWriter, r *http.Request) {
	if !allowMethod(w, r, http.MethodGet, http.MethodPost) {
		return
	}
	actor, ok := h.actorID(w, r)
	if !ok {
		return
	}

	if r.Method == http.MethodGet {
		entries, err := h.reliantBest.List(r.Context(), actor)
		if err != nil {
			h.writeError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]interface{}{"entries": entries, "total": len(entries)})
		return
	}

	var req reliantBestRequest
	if err := decode(r, &req); err != nil {
		h.writeError(w, r, err)
		return
	}
	entry, err := h.reliantBest.Create(r.Context(), actor, service.CreateReliantBestInput{
		Branch:         req.Branch,
		CustomerName:   req.CustomerName,
		GoldName:       req.GoldName,
		GoldLoanNumber: req.GoldLoanNumber,
		GoldAmount:     amount(req.GoldAmount),
		PLName:         req.PLName,
		PLLoanNumber:   req.PLLoanNumber,
		PLAmount:       amount(req.PLAmount),
	})
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, entry)
}

// DeleteReliantBest removes an entry.
func (h *HTTPHandler) DeleteReliantBest(w http.ResponseWriter, r *http.Request) {
	h.deleteAction(w, r, h.reliantBest.Delete)
}

// ── Shared actions ────────────────────────────────────────────────────────────

func (h *HTTPHandler) reviewAction(w http.ResponseWriter, r *http.Request,
	open func(ctx context.Context, actorID, id string) (*service.ReviewStatus, error)) {
	if !allowMethod(w, r, http.MethodPost) {
		return
	}
	actor, ok := h.actorID(w, r)
	if !ok {
		return
	}
	var req recordRequest
	if err := decode(r, &req); err != nil {
		h.writeError(w, r, err)
		return
	}
	rs, err := open(r.Context(), actor, req.ID)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"record_id":         rs.RecordID,
		"status":            rs.Status,
		"first_seen":        rs.FirstSeen,
		"remaining_seconds": rs.Remaining.Seconds(),
		"can_act":           rs.CanAct,
	})
}

func (h *HTTPHandler) recordAction(w http.ResponseWriter, r *http.Request,
	act func(r *http.Request, actorID, id string) (interface{}, error)) {
	if !allowMethod(w, r, http.MethodPost) {
		return
	}
	actor, ok := h.actorID(w, r)
	if !ok {
		return
	}
	var req recordRequest
	if err := decode(r, &req); err != nil {
		h.writeError(w, r, err)
		return
	}
	rec, err := act(r, actor, req.ID)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, rec)
}

func (h *HTTPHandler) rejectAction(w http.ResponseWriter, r *http.Request,
	reject func(r *http.Request, actorID, id, reason string) (interface{}, error)) {
	if !allowMethod(w, r, http.MethodPost) {
		return
	}
	actor, ok := h.actorID(w, r)
	if !ok {
		return
	}
	var req rejectRequest
	if err := decode(r, &req); err != nil {
		h.writeError(w, r, err)
		return
	}
	rec, err := reject(r, actor, req.ID, req.Reason)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, rec)
}

func (h *HTTPHandler) deleteAction(w http.ResponseWriter, r *http.Request,
	del func(ctx context.Context, actorID, id string) error) {
	if !allowMethod(w, r, http.MethodDelete) {
		return
	}
	actor, ok := h.actorID(w, r)
	if !ok {
		return
	}
	id, ok := h.queryParam(w, r, "id")
	if !ok {
		return
	}
	if err := del(r.Context(), actor, id); err != nil {
		h.writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
