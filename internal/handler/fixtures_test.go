package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/pesio-ai/be-crm-workflows/internal/common/auth"
	"github.com/pesio-ai/be-crm-workflows/internal/common/logger"
	"github.com/pesio-ai/be-crm-workflows/internal/repository"
	"github.com/pesio-ai/be-crm-workflows/internal/service"
)

var fixedNow = time.Date(2024, 3, 15, 10, 30, 0, 0, time.UTC)

type services struct {
	store     repository.EntityStore
	users     *service.UserService
	insurance *service.InsuranceService
	leads     *service.LeadService
	reliant   *service.ReliantBestService
	booking   *service.BookingService
}

// newServices wires every service over a file store holding a small org:
// agm1 (Investment) manages am_north [X] and am_south [Z], which manage
// bm_x and bm_z; staff_x works at X.
func newServices(t *testing.T) *services {
	t.Helper()
	store := repository.NewSnapshotFileRepository(filepath.Join(t.TempDir(), "crm_data.json"))
	err := store.Update(context.Background(), func(snap *repository.Snapshot) error {
		for _, u := range []*repository.User{
			{Username: "ADMIN", Role: repository.RoleAdmin, CreatedBy: repository.SystemCreator},
			{Username: "agm1", Role: repository.RoleAGM, Department: repository.DepartmentInvestment, CreatedBy: "ADMIN"},
			{Username: "am_north", Role: repository.RoleAreaManager, AssignedBranches: []string{"X"}, CreatedBy: "agm1"},
			{Username: "am_south", Role: repository.RoleAreaManager, AssignedBranches: []string{"Z"}, CreatedBy: "agm1"},
			{Username: "bm_x", Role: repository.RoleBranchManager, AssignedBranches: []string{"X"}, CreatedBy: "am_north"},
			{Username: "bm_z", Role: repository.RoleBranchManager, AssignedBranches: []string{"Z"}, CreatedBy: "am_south"},
			{Username: "staff_x", Role: repository.RoleBranchStaff, AssignedBranches: []string{"X"}, CreatedBy: "bm_x"},
		} {
			snap.Users[u.Username] = u
		}
		return nil
	})
	require.NoError(t, err)

	log := logger.Nop()
	machine := service.NewApprovalMachine(func() time.Time { return fixedNow })
	tracker := service.NewMemoryReviewTracker()
	gate := service.ReviewGate{Cooldown: service.DefaultReviewCooldown}
	return &services{
		store:     store,
		users:     service.NewUserService(store, machine, log),
		insurance: service.NewInsuranceService(store, machine, tracker, gate, nil, log),
		leads:     service.NewLeadService(store, machine, tracker, gate, nil, log),
		reliant:   service.NewReliantBestService(store, machine, log),
		booking:   service.NewBookingService(store, machine, nil, log),
	}
}

func newTestRouter(t *testing.T) (http.Handler, *services) {
	t.Helper()
	svcs := newServices(t)
	h := NewHTTPHandler(svcs.users, svcs.insurance, svcs.leads, svcs.reliant, svcs.booking, logger.Nop())
	mux := http.NewServeMux()
	h.Register(mux)
	return auth.FromHeader(mux), svcs
}

// do sends a request as user (no header when empty) and returns the recorder.
func do(t *testing.T, h http.Handler, method, target, user string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, target, &buf)
	req.Header.Set("Content-Type", "application/json")
	if user != "" {
		req.Header.Set(auth.HeaderUserID, user)
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func decodeBody(t *testing.T, rec *httptest.ResponseRecorder) map[string]interface{} {
	t.Helper()
	var out map[string]interface{}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out), rec.Body.String())
	return out
}

func errorCode(t *testing.T, rec *httptest.ResponseRecorder) string {
	t.Helper()
	body := decodeBody(t, rec)
	envelope, ok := body["error"].(map[string]interface{})
	require.True(t, ok, rec.Body.String())
	return envelope["code"].(string)
}
