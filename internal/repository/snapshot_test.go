package repository

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDecodeSnapshot_EmptyDocumentGetsDefaults(t *testing.T) {
	snap, err := DecodeSnapshot([]byte(""))
	require.NoError(t, err)

	assert.NotNil(t, snap.Users)
	assert.NotNil(t, snap.Customers)
	assert.Empty(t, snap.Leads)
	assert.Empty(t, snap.InsuranceEntries)
	assert.Empty(t, snap.CreditsFinEntries)
	assert.Empty(t, snap.Bids)
	require.NotNil(t, snap.Dashboard)
	assert.Equal(t, defaultDashboardText, snap.Dashboard.Text)
	assert.Nil(t, snap.Dashboard.ImagePath)
}

func TestDecodeSnapshot_KeyedLeadsBecomeList(t *testing.T) {
	doc := `{
		"leads": {
			"b": {"lead_id": "LEAD-0002", "staff_name": "ravi", "branch": "Kochi"},
			"a": {"lead_id": "LEAD-0001", "submitted_by": "anu", "branch": "Kochi", "status": "approved_by_branch_manager"}
		}
	}`

	snap, err := DecodeSnapshot([]byte(doc))
	require.NoError(t, err)
	require.Len(t, snap.Leads, 2)

	assert.Equal(t, "LEAD-0001", snap.Leads[0].LeadID)
	assert.Equal(t, "anu", snap.Leads[0].SubmittedBy)
	assert.Equal(t, StatusBMApproved, snap.Leads[0].Status)

	assert.Equal(t, "LEAD-0002", snap.Leads[1].LeadID)
	assert.Equal(t, "ravi", snap.Leads[1].SubmittedBy, "submitted_by falls back to staff_name")
	assert.Equal(t, StatusSubmitted, snap.Leads[1].Status)
}

func TestDecodeSnapshot_LeadWithoutSubmitterOrStaff(t *testing.T) {
	snap, err := DecodeSnapshot([]byte(`{"leads": [{"lead_id": "LEAD-0001"}]}`))
	require.NoError(t, err)
	require.Len(t, snap.Leads, 1)
	assert.Equal(t, "unknown", snap.Leads[0].SubmittedBy)
}

func TestDecodeSnapshot_BidStatusUppercased(t *testing.T) {
	doc := `{"bids": [{"bid_id": "BID-00001", "entry_id": "CF-00001", "amount": "1500.50", "status": "placed"}]}`

	snap, err := DecodeSnapshot([]byte(doc))
	require.NoError(t, err)
	require.Len(t, snap.Bids, 1)
	assert.Equal(t, BidPlaced, snap.Bids[0].Status)
	assert.Equal(t, "1500.5", snap.Bids[0].Amount.String())
}

func TestDecodeSnapshot_UsernameBackfilledFromKey(t *testing.T) {
	snap, err := DecodeSnapshot([]byte(`{"users": {"ADMIN": {"role": "admin"}}}`))
	require.NoError(t, err)
	require.Contains(t, snap.Users, "ADMIN")
	assert.Equal(t, "ADMIN", snap.Users["ADMIN"].Username)
}

func TestDecodeSnapshot_InvalidJSON(t *testing.T) {
	_, err := DecodeSnapshot([]byte(`{"users": [`))
	assert.Error(t, err)
}

func TestSnapshot_EncodeRoundTripKeepsApprovalFieldsFlat(t *testing.T) {
	snap := NewSnapshot()
	snap.InsuranceEntries = append(snap.InsuranceEntries, &InsuranceApplication{
		EntryID: "INS-0001",
		Branch:  "Kochi",
		Approval: Approval{
			Status:         StatusBMApproved,
			ApprovedByBM:   "bm1",
			BMApprovalTime: "2024-01-02 10:00:00",
		},
	})

	data, err := snap.Encode()
	require.NoError(t, err)
	assert.Contains(t, string(data), `"approved_by_bm": "bm1"`)
	assert.Contains(t, string(data), `"leads": []`)

	back, err := DecodeSnapshot(data)
	require.NoError(t, err)
	got, ok := back.FindInsurance("INS-0001")
	require.True(t, ok)
	assert.Equal(t, "bm1", got.ApprovedByBM)
	assert.Equal(t, StatusBMApproved, got.Status)
}

func TestSnapshot_EncodeWritesAmountsAsNumbers(t *testing.T) {
	doc := `{
		"credits_fin_entries": [{"entry_id": "CF-00001", "scheme": 9.5, "amount": 50000, "booked": false}],
		"bids": [{"bid_id": "BID-00001", "entry_id": "CF-00001", "amount": 1500.5, "status": "PLACED"}],
		"insurance_entries": [{"entry_id": "INS-0001", "premium": 12500, "status": "submitted"}]
	}`

	snap, err := DecodeSnapshot([]byte(doc))
	require.NoError(t, err)

	data, err := snap.Encode()
	require.NoError(t, err)
	assert.Contains(t, string(data), `"amount": 50000`)
	assert.Contains(t, string(data), `"scheme": 9.5`)
	assert.Contains(t, string(data), `"amount": 1500.5`)
	assert.Contains(t, string(data), `"premium": 12500`)
	assert.NotContains(t, string(data), `"amount": "`)
}

func TestSnapshot_BidsForEntry(t *testing.T) {
	snap := NewSnapshot()
	snap.Bids = []*Bid{
		{BidID: "BID-00001", EntryID: "CF-00001"},
		{BidID: "BID-00002", EntryID: "CF-00002"},
		{BidID: "BID-00003", EntryID: "CF-00001"},
	}

	bids := snap.BidsForEntry("CF-00001")
	require.Len(t, bids, 2)
	assert.Equal(t, "BID-00001", bids[0].BidID)
	assert.Equal(t, "BID-00003", bids[1].BidID)
	assert.Empty(t, snap.BidsForEntry("CF-00009"))
}
