package service

import (
	"context"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/pesio-ai/be-crm-workflows/internal/common/logger"
	"github.com/pesio-ai/be-crm-workflows/internal/repository"
	"github.com/stretchr/testify/require"
)

var fixedNow = time.Date(2024, 3, 15, 10, 30, 0, 0, time.UTC)

func fixedClock() time.Time { return fixedNow }

type publishedEvent struct {
	EventType    string
	ResourceType string
	ResourceID   string
	ActorID      string
	Recipients   []string
	Payload      map[string]interface{}
}

type recordingPublisher struct {
	mu     sync.Mutex
	events []publishedEvent
}

func (p *recordingPublisher) PublishCRMEvent(_ context.Context, eventType, resourceType, resourceID, actorID string, recipients []string, payload map[string]interface{}) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, publishedEvent{eventType, resourceType, resourceID, actorID, recipients, payload})
}

func (p *recordingPublisher) last() publishedEvent {
	p.mu.Lock()
	defer p.mu.Unlock()
	if len(p.events) == 0 {
		return publishedEvent{}
	}
	return p.events[len(p.events)-1]
}

// orgUsers is the hierarchy most tests run against:
//
//	ADMIN
//	└── agm1 (Investment AGM)
//	    ├── am_north [X, Y]
//	    │   └── bm_x [X]
//	    │       └── staff_x [X]
//	    └── am_south [Z]
//	        └── bm_z [Z]
//	agm2 (Sales AGM, no area managers)
func orgUsers() map[string]*repository.User {
	users := []*repository.User{
		{Username: "ADMIN", Role: repository.RoleAdmin, CreatedBy: repository.SystemCreator},
		{Username: "agm1", Role: repository.RoleAGM, Department: repository.DepartmentInvestment, CreatedBy: "ADMIN"},
		{Username: "agm2", Role: repository.RoleAGM, Department: repository.DepartmentSales, CreatedBy: "ADMIN"},
		{Username: "am_north", Role: repository.RoleAreaManager, AssignedBranches: []string{"X", "Y"}, CreatedBy: "agm1"},
		{Username: "am_south", Role: repository.RoleAreaManager, AssignedBranches: []string{"Z"}, CreatedBy: "agm1"},
		{Username: "bm_x", Role: repository.RoleBranchManager, AssignedBranches: []string{"X"}, CreatedBy: "am_north"},
		{Username: "bm_z", Role: repository.RoleBranchManager, AssignedBranches: []string{"Z"}, CreatedBy: "am_south"},
		{Username: "staff_x", Role: repository.RoleBranchStaff, AssignedBranches: []string{"X"}, CreatedBy: "bm_x"},
	}
	out := make(map[string]*repository.User, len(users))
	for _, u := range users {
		out[u.Username] = u
	}
	return out
}

// newSeededStore returns a file-backed store holding orgUsers.
func newSeededStore(t *testing.T) repository.EntityStore {
	t.Helper()
	store := repository.NewSnapshotFileRepository(filepath.Join(t.TempDir(), "crm_data.json"))
	err := store.Update(context.Background(), func(snap *repository.Snapshot) error {
		snap.Users = orgUsers()
		return nil
	})
	require.NoError(t, err)
	return store
}

func load(t *testing.T, store repository.EntityStore) *repository.Snapshot {
	t.Helper()
	snap, err := store.Load(context.Background())
	require.NoError(t, err)
	return snap
}

func testLogger() *logger.Logger { return logger.Nop() }
