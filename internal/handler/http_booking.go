package handler

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/shopspring/decimal"

	"github.com/pesio-ai/be-crm-workflows/internal/common/errors"
	"github.com/pesio-ai/be-crm-workflows/internal/repository"
	"github.com/pesio-ai/be-crm-workflows/internal/service"
)

type closeEntryRequest struct {
	Branch     string      `json:"branch"`
	Name       string      `json:"name" validate:"required"`
	CustomerID int64       `json:"customer_id" validate:"gte=0"`
	Scheme     json.Number `json:"scheme" validate:"nonnegative_amount"`
	Maturity   string      `json:"maturity" validate:"omitempty,datetime=2006-01-02"`
	Amount     json.Number `json:"amount" validate:"required,positive_amount"`
	Narration  string      `json:"narration"`
}

type placeBidRequest struct {
	EntryID string      `json:"entry_id" validate:"required"`
	Amount  json.Number `json:"amount" validate:"nonnegative_amount"`
}

type bidRequest struct {
	BidID string `json:"bid_id" validate:"required"`
}

type entryRequest struct {
	EntryID string `json:"entry_id" validate:"required"`
}

// CreditsFinEntries lists visible closed entries (GET) or closes a new
// account into the bidding pool (POST).
func (h *HTTPHandler) CreditsFinEntries(w http.ResponseWriter, r *http.Request) {
	if !allowMethod(w, r, http.MethodGet, http.MethodPost) {
		return
	}
	actor, ok := h.actorID(w, r)
	if !ok {
		return
	}

	if r.Method == http.MethodGet {
		f, err := entryFilter(r)
		if err != nil {
			h.writeError(w, r, err)
			return
		}
		entries, err := h.booking.ListEntries(r.Context(), actor, f)
		if err != nil {
			h.writeError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]interface{}{"entries": entries, "total": len(entries)})
		return
	}

	var req closeEntryRequest
	if err := decode(r, &req); err != nil {
		h.writeError(w, r, err)
		return
	}
	entry, err := h.booking.CloseEntry(r.Context(), actor, service.CloseEntryInput{
		Branch:     req.Branch,
		Name:       req.Name,
		CustomerID: req.CustomerID,
		Scheme:     amount(req.Scheme),
		Maturity:   req.Maturity,
		Amount:     amount(req.Amount),
		Narration:  req.Narration,
	})
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, entry)
}

func entryFilter(r *http.Request) (service.EntryFilter, error) {
	q := r.URL.Query()
	f := service.EntryFilter{Branch: q.Get("branch")}
	if v := q.Get("booked"); v != "" {
		booked, err := strconv.ParseBool(v)
		if err != nil {
			return f, errors.InvalidInput("booked", "must be true or false")
		}
		f.Booked = &booked
	}
	if v := q.Get("scheme"); v != "" {
		scheme, err := decimal.NewFromString(v)
		if err != nil {
			return f, errors.InvalidInput("scheme", "must be a number")
		}
		f.Scheme = &scheme
	}
	return f, nil
}

// OpenCreditsFinEntries lists the entries still open for bidding.
func (h *HTTPHandler) OpenCreditsFinEntries(w http.ResponseWriter, r *http.Request) {
	if !allowMethod(w, r, http.MethodGet) {
		return
	}
	actor, ok := h.actorID(w, r)
	if !ok {
		return
	}
	entries, err := h.booking.ListOpenEntries(r.Context(), actor)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"entries": entries, "total": len(entries)})
}

// Bids lists visible bids (GET) or places one (POST).
func (h *HTTPHandler) Bids(w http.ResponseWriter, r *http.Request) {
	if !allowMethod(w, r, http.MethodGet, http.MethodPost) {
		return
	}
	actor, ok := h.actorID(w, r)
	if !ok {
		return
	}

	if r.Method == http.MethodGet {
		q := r.URL.Query()
		bids, err := h.booking.ListBids(r.Context(), actor, service.BidFilter{
			EntryID: q.Get("entry_id"),
			Status:  repository.BidStatus(q.Get("status")),
		})
		if err != nil {
			h.writeError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]interface{}{"bids": bids, "total": len(bids)})
		return
	}

	var req placeBidRequest
	if err := decode(r, &req); err != nil {
		h.writeError(w, r, err)
		return
	}
	bid, err := h.booking.PlaceBid(r.Context(), actor, req.EntryID, amount(req.Amount))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, bid)
}

// ApproveBid awards an entry to a pending bid.
func (h *HTTPHandler) ApproveBid(w http.ResponseWriter, r *http.Request) {
	h.bidAction(w, r, h.booking.ApproveBid)
}

// RejectBid rejects a pending bid.
func (h *HTTPHandler) RejectBid(w http.ResponseWriter, r *http.Request) {
	h.bidAction(w, r, h.booking.RejectBid)
}

// ManualBook books an open entry to its earliest pending bid.
func (h *HTTPHandler) ManualBook(w http.ResponseWriter, r *http.Request) {
	h.entryAction(w, r, h.booking.ManualBook)
}

// ReverseBooking returns a booked entry to the bidding pool.
func (h *HTTPHandler) ReverseBooking(w http.ResponseWriter, r *http.Request) {
	h.entryAction(w, r, h.booking.ReverseBooking)
}

// DeleteCreditsFinEntry removes an entry and its bids.
func (h *HTTPHandler) DeleteCreditsFinEntry(w http.ResponseWriter, r *http.Request) {
	h.deleteAction(w, r, h.booking.DeleteEntry)
}

func (h *HTTPHandler) bidAction(w http.ResponseWriter, r *http.Request,
	act func(ctx context.Context, actorID, bidID string) (*repository.Bid, error)) {
	if !allowMethod(w, r, http.MethodPost) {
		return
	}
	actor, ok := h.actorID(w, r)
	if !ok {
		return
	}
	var req bidRequest
	if err := decode(r, &req); err != nil {
		h.writeError(w, r, err)
		return
	}
	bid, err := act(r.Context(), actor, req.BidID)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, bid)
}

func (h *HTTPHandler) entryAction(w http.ResponseWriter, r *http.Request,
	act func(ctx context.Context, actorID, entryID string) (*repository.CreditsFinEntry, error)) {
	if !allowMethod(w, r, http.MethodPost) {
		return
	}
	actor, ok := h.actorID(w, r)
	if !ok {
		return
	}
	var req entryRequest
	if err := decode(r, &req); err != nil {
		h.writeError(w, r, err)
		return
	}
	entry, err := act(r.Context(), actor, req.EntryID)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, entry)
}
