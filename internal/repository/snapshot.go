package repository

import (
	"context"
	"encoding/json"
	stderrors "errors"
	"fmt"
	"sort"
	"strings"

	"github.com/pesio-ai/be-crm-workflows/internal/common/errors"
)

// ErrStorage marks a failed load or save. Callers surface it and never retry
// internally.
var ErrStorage = stderrors.New("storage error")

// ErrVersionConflict is returned by Save when the document changed since it
// was loaded.
var ErrVersionConflict = stderrors.New("snapshot version conflict")

// EntityStore persists the whole CRM document.
//
// Load and Save are whole-document operations with no isolation between
// callers. Update is the read-modify-write primitive every mutating operation
// uses: fn receives a freshly loaded snapshot it may change in place, and the
// result is persisted only if fn returns nil. Concurrent Updates are
// serialized by the implementation.
type EntityStore interface {
	Load(ctx context.Context) (*Snapshot, error)
	Save(ctx context.Context, snap *Snapshot) error
	Update(ctx context.Context, fn func(snap *Snapshot) error) error
}

// Snapshot is the single persisted document.
type Snapshot struct {
	Users              map[string]*User           `json:"users"`
	Customers          map[string]json.RawMessage `json:"customers"`
	Leads              LeadList                   `json:"leads"`
	CustomerLeads      []*CustomerLead            `json:"customer_leads"`
	InsuranceEntries   []*InsuranceApplication    `json:"insurance_entries"`
	ReliantBestEntries []*ReliantBestEntry        `json:"reliant_best_entries"`
	CreditsFinEntries  []*CreditsFinEntry         `json:"credits_fin_entries"`
	Bids               []*Bid                     `json:"bids"`
	Dashboard          *Dashboard                 `json:"dashboard"`

	// Version is the stored revision the snapshot was loaded at; zero for a
	// document that has never been saved.
	Version int64 `json:"-"`
}

// NewSnapshot returns an empty document with every collection present.
func NewSnapshot() *Snapshot {
	s := &Snapshot{}
	s.normalize()
	return s
}

// DecodeSnapshot parses a stored document and fills in absent collections.
func DecodeSnapshot(data []byte) (*Snapshot, error) {
	s := &Snapshot{}
	if len(strings.TrimSpace(string(data))) > 0 {
		if err := json.Unmarshal(data, s); err != nil {
			return nil, fmt.Errorf("decode snapshot: %w", err)
		}
	}
	s.normalize()
	return s, nil
}

// Encode renders the document as indented JSON.
func (s *Snapshot) Encode() ([]byte, error) {
	return json.MarshalIndent(s, "", "  ")
}

// normalize defaults missing collections and back-fills fields older
// documents did not carry.
func (s *Snapshot) normalize() {
	if s.Users == nil {
		s.Users = make(map[string]*User)
	}
	if s.Customers == nil {
		s.Customers = make(map[string]json.RawMessage)
	}
	if s.Leads == nil {
		s.Leads = LeadList{}
	}
	if s.CustomerLeads == nil {
		s.CustomerLeads = []*CustomerLead{}
	}
	if s.InsuranceEntries == nil {
		s.InsuranceEntries = []*InsuranceApplication{}
	}
	if s.ReliantBestEntries == nil {
		s.ReliantBestEntries = []*ReliantBestEntry{}
	}
	if s.CreditsFinEntries == nil {
		s.CreditsFinEntries = []*CreditsFinEntry{}
	}
	if s.Bids == nil {
		s.Bids = []*Bid{}
	}
	if s.Dashboard == nil {
		s.Dashboard = &Dashboard{Text: defaultDashboardText}
	}

	for name, u := range s.Users {
		if u.Username == "" {
			u.Username = name
		}
	}
	for _, l := range s.Leads {
		if l.SubmittedBy == "" {
			l.SubmittedBy = l.StaffName
			if l.SubmittedBy == "" {
				l.SubmittedBy = "unknown"
			}
		}
		if l.Status == "" {
			l.Status = StatusSubmitted
		}
	}
	for _, e := range s.InsuranceEntries {
		if e.Status == "" {
			e.Status = StatusSubmitted
		}
	}
	for _, b := range s.Bids {
		b.Status = BidStatus(strings.ToUpper(string(b.Status)))
	}
}

// LeadList accepts both the list form and the older object-keyed form of the
// leads collection; it always encodes as a list.
type LeadList []*Lead

func (l *LeadList) UnmarshalJSON(data []byte) error {
	trimmed := strings.TrimSpace(string(data))
	switch {
	case trimmed == "null":
		*l = LeadList{}
		return nil
	case strings.HasPrefix(trimmed, "{"):
		var keyed map[string]*Lead
		if err := json.Unmarshal(data, &keyed); err != nil {
			return err
		}
		keys := make([]string, 0, len(keyed))
		for k := range keyed {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		out := make(LeadList, 0, len(keys))
		for _, k := range keys {
			if keyed[k] != nil {
				out = append(out, keyed[k])
			}
		}
		*l = out
		return nil
	default:
		var list []*Lead
		if err := json.Unmarshal(data, &list); err != nil {
			return err
		}
		*l = list
		return nil
	}
}

// ── lookups ───────────────────────────────────────────────────────────────────

func (s *Snapshot) FindInsurance(entryID string) (*InsuranceApplication, bool) {
	for _, e := range s.InsuranceEntries {
		if e.EntryID == entryID {
			return e, true
		}
	}
	return nil, false
}

func (s *Snapshot) FindLead(leadID string) (*Lead, bool) {
	for _, l := range s.Leads {
		if l.LeadID == leadID {
			return l, true
		}
	}
	return nil, false
}

func (s *Snapshot) FindCustomerLead(leadID string) (*CustomerLead, bool) {
	for _, l := range s.CustomerLeads {
		if l.LeadID == leadID {
			return l, true
		}
	}
	return nil, false
}

func (s *Snapshot) FindCreditsFinEntry(entryID string) (*CreditsFinEntry, bool) {
	for _, e := range s.CreditsFinEntries {
		if e.EntryID == entryID {
			return e, true
		}
	}
	return nil, false
}

func (s *Snapshot) FindBid(bidID string) (*Bid, bool) {
	for _, b := range s.Bids {
		if b.BidID == bidID {
			return b, true
		}
	}
	return nil, false
}

// BidsForEntry returns the bids referencing entryID in stored order.
func (s *Snapshot) BidsForEntry(entryID string) []*Bid {
	var out []*Bid
	for _, b := range s.Bids {
		if b.EntryID == entryID {
			out = append(out, b)
		}
	}
	return out
}

// storageError wraps an I/O failure so callers can match ErrStorage.
func storageError(op string, err error) error {
	return errors.Wrap(fmt.Errorf("%w: %v", ErrStorage, err), errors.ErrCodeStorage, op)
}

// conflictError reports a lost compare-and-swap.
func conflictError(expected int64) error {
	return errors.Wrap(ErrVersionConflict, errors.ErrCodeConflict,
		fmt.Sprintf("snapshot changed since version %d; reload and retry", expected))
}
