package repository

import (
	"time"

	"github.com/shopspring/decimal"
)

// ── Domain types persisted in the CRM snapshot ───────────────────────────────

func init() {
	// crm_data.json stores amounts as bare numbers.
	decimal.MarshalJSONWithoutQuotes = true
}

// TimestampLayout is the wall-clock format stored in every *_time / timestamp
// field of the document.
const TimestampLayout = "2006-01-02 15:04:05"

// DateLayout is used for date-only fields (maturity, last_followup).
const DateLayout = "2006-01-02"

// FormatTimestamp renders t in TimestampLayout.
func FormatTimestamp(t time.Time) string {
	return t.Format(TimestampLayout)
}

// Role is a user's rank in the organisation.
type Role string

const (
	RoleAdmin         Role = "admin"
	RoleAGM           Role = "AGM"
	RoleAreaManager   Role = "area_manager"
	RoleBranchManager Role = "branch_manager"
	RoleBranchStaff   Role = "branch_staff"
)

// Valid reports whether r is a known role.
func (r Role) Valid() bool {
	switch r {
	case RoleAdmin, RoleAGM, RoleAreaManager, RoleBranchManager, RoleBranchStaff:
		return true
	}
	return false
}

// Departments referenced by workflow rules.
const (
	DepartmentSales      = "Sales"
	DepartmentInvestment = "Investment"
	DepartmentInsurance  = "Insurance"
)

// AdminUsername is the bootstrap account every creation chain starts from.
const (
	AdminUsername = "ADMIN"
	SystemCreator = "system"
)

// User is keyed by Username in Snapshot.Users. CreatedBy is a weak reference
// to the creator's username.
type User struct {
	Username         string   `json:"username"`
	PasswordHash     string   `json:"password"`
	Role             Role     `json:"role"`
	Department       string   `json:"department"`
	AssignedBranches []string `json:"assigned_branches"`
	AssignedProducts []string `json:"assigned_products"`
	CreatedBy        string   `json:"created_by"`
	CreatedAt        string   `json:"created_at"`
}

// ApprovalStatus is the state of a record in the three-tier approval chain.
type ApprovalStatus string

const (
	StatusSubmitted   ApprovalStatus = "submitted"
	StatusBMApproved  ApprovalStatus = "approved_by_branch_manager"
	StatusAMApproved  ApprovalStatus = "approved_by_area_manager"
	StatusAGMApproved ApprovalStatus = "approved_by_agm"
	StatusRejected    ApprovalStatus = "rejected"
)

// Terminal reports whether no further transition is possible.
func (s ApprovalStatus) Terminal() bool {
	return s == StatusAGMApproved || s == StatusRejected
}

// Approval is embedded in every record that goes through the approval chain.
// Its fields are flattened into the record's JSON object.
type Approval struct {
	Status          ApprovalStatus `json:"status"`
	ApprovedByBM    string         `json:"approved_by_bm,omitempty"`
	BMApprovalTime  string         `json:"bm_approval_time,omitempty"`
	ApprovedByAM    string         `json:"approved_by_am,omitempty"`
	AMApprovalTime  string         `json:"am_approval_time,omitempty"`
	ApprovedByAGM   string         `json:"approved_by_agm,omitempty"`
	AGMApprovalTime string         `json:"agm_approval_time,omitempty"`
	RejectionReason string         `json:"rejection_reason,omitempty"`
	RejectedBy      string         `json:"rejected_by,omitempty"`
	RejectedAt      string         `json:"rejected_at,omitempty"`
}

// InsuranceApplication is an entry in insurance_entries.
type InsuranceApplication struct {
	EntryID         string          `json:"entry_id"`
	CustomerID      string          `json:"customer_id"`
	StaffID         string          `json:"staff_id"`
	StaffName       string          `json:"staff_name"`
	Branch          string          `json:"branch"`
	ApplicantName   string          `json:"applicant_name"`
	Age             int             `json:"age"`
	PhoneNumber     string          `json:"phone_number"`
	AadharNumber    string          `json:"aadhar_number"`
	AadharPhotoPath string          `json:"aadhar_photo_path,omitempty"`
	Address         string          `json:"address"`
	InsuranceType   string          `json:"insurance_type"`
	Premium         decimal.Decimal `json:"premium"`
	Timestamp       string          `json:"timestamp"`
	Approval
}

func (a *InsuranceApplication) BranchName() string { return a.Branch }
func (a *InsuranceApplication) OwnerID() string    { return a.StaffID }
func (a *InsuranceApplication) RecordID() string   { return a.EntryID }
func (a *InsuranceApplication) Trail() *Approval   { return &a.Approval }

// Lead is a system lead (leads collection) routed through the approval chain.
type Lead struct {
	LeadID       string `json:"lead_id"`
	CustomerID   string `json:"customer_id,omitempty"`
	SubmittedBy  string `json:"submitted_by"`
	StaffName    string `json:"staff_name"`
	Branch       string `json:"branch"`
	Department   string `json:"department"`
	CustomerName string `json:"customer_name"`
	PhoneNumber  string `json:"phone_number"`
	Product      string `json:"product"`
	Description  string `json:"description"`
	Timestamp    string `json:"timestamp"`
	Approval
}

func (l *Lead) BranchName() string { return l.Branch }
func (l *Lead) OwnerID() string    { return l.SubmittedBy }
func (l *Lead) RecordID() string   { return l.LeadID }
func (l *Lead) Trail() *Approval   { return &l.Approval }

// LeadType grades a customer lead.
type LeadType string

const (
	LeadHot  LeadType = "HOT"
	LeadWarm LeadType = "WARM"
	LeadCool LeadType = "COOL"
)

func (t LeadType) Valid() bool {
	return t == LeadHot || t == LeadWarm || t == LeadCool
}

// CustomerLead is a field-sales lead in customer_leads. It is updated through
// follow-ups until converted, after which only the customer id is stamped.
type CustomerLead struct {
	LeadID         string   `json:"lead_id"`
	Timestamp      string   `json:"timestamp"`
	StaffName      string   `json:"staff_name"`
	Branch         string   `json:"branch"`
	Department     string   `json:"department"`
	Location       string   `json:"location"`
	LocationURL    string   `json:"location_url"`
	GPSLat         *float64 `json:"gps_lat"`
	GPSLon         *float64 `json:"gps_lon"`
	LeadType       LeadType `json:"lead_type"`
	CustomerName   string   `json:"customer_name"`
	Job            string   `json:"job"`
	PhoneNumber    string   `json:"phone_number"`
	Product        string   `json:"product"`
	Description    string   `json:"description"`
	Status         string   `json:"status"`
	LastFollowup   string   `json:"last_followup"`
	FollowupCount  int      `json:"followup_count"`
	Converted      bool     `json:"converted"`
	CustomerID     *string  `json:"customer_id"`
	ConversionDate string   `json:"conversion_date,omitempty"`
}

func (l *CustomerLead) BranchName() string { return l.Branch }
func (l *CustomerLead) OwnerID() string    { return l.StaffName }

// ReliantBestEntry is a combined gold + personal loan record.
type ReliantBestEntry struct {
	EntryID        string          `json:"entry_id"`
	CustomerID     string          `json:"customer_id"`
	CustomerIDGL   string          `json:"customer_id_gl"`
	CustomerIDPL   string          `json:"customer_id_pl"`
	StaffName      string          `json:"staff_name"`
	Branch         string          `json:"branch"`
	CustomerName   string          `json:"customer_name"`
	GoldName       string          `json:"gold_name"`
	GoldLoanNumber string          `json:"gold_loan_number"`
	GoldAmount     decimal.Decimal `json:"gold_amount"`
	PLName         string          `json:"pl_name"`
	PLLoanNumber   string          `json:"pl_loan_number"`
	PLAmount       decimal.Decimal `json:"pl_amount"`
	Timestamp      string          `json:"timestamp"`
}

func (e *ReliantBestEntry) BranchName() string { return e.Branch }

// OwnerID is empty: branch staff never see these entries.
func (e *ReliantBestEntry) OwnerID() string { return "" }

// Total is the combined loan amount.
func (e *ReliantBestEntry) Total() decimal.Decimal {
	return e.GoldAmount.Add(e.PLAmount)
}

// CreditsFinEntry is a closed FIN account open for bidding until booked.
type CreditsFinEntry struct {
	EntryID    string          `json:"entry_id"`
	Branch     string          `json:"branch"`
	Department string          `json:"department"`
	UserName   string          `json:"user_name"`
	Name       string          `json:"name"`
	CustomerID int64           `json:"customer_id"`
	Scheme     decimal.Decimal `json:"scheme"`
	Maturity   string          `json:"maturity"`
	Amount     decimal.Decimal `json:"amount"`
	Narration  string          `json:"narration"`
	Booked     bool            `json:"booked"`
	Timestamp  string          `json:"timestamp"`
}

// BidStatus is the state of a bid on a CreditsFinEntry.
type BidStatus string

const (
	BidPlaced   BidStatus = "PLACED"
	BidApproved BidStatus = "APPROVED"
	BidRejected BidStatus = "REJECTED"
	BidBooked   BidStatus = "BOOKED"
)

// Winning reports whether the bid holds its entry.
func (s BidStatus) Winning() bool {
	return s == BidApproved || s == BidBooked
}

// Bid competes for one CreditsFinEntry.
type Bid struct {
	BidID     string          `json:"bid_id"`
	EntryID   string          `json:"entry_id"`
	Bidder    string          `json:"bidder"`
	Branch    string          `json:"branch"`
	Amount    decimal.Decimal `json:"amount"`
	Status    BidStatus       `json:"status"`
	Timestamp string          `json:"timestamp"`
}

// Dashboard is the small settings blob shown on the sign-in page.
type Dashboard struct {
	Text      string  `json:"text"`
	ImagePath *string `json:"image_path"`
}

const defaultDashboardText = "Welcome to CRM System. Please login to continue."
