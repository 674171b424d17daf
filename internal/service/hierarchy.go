package service

import (
	"sort"

	"github.com/pesio-ai/be-crm-workflows/internal/repository"
)

// Scoped is a record the hierarchy can filter: it belongs to a branch and,
// for branch staff, to the user who submitted it.
type Scoped interface {
	BranchName() string
	OwnerID() string
}

// Visibility is what an actor may see. All and Identity are exclusive with a
// branch set; a zero Visibility sees nothing.
type Visibility struct {
	All      bool
	Identity bool
	Branches map[string]struct{}
}

// Contains reports whether branch is visible. Identity-scoped actors are not
// branch-scoped, so it is false for them.
func (v Visibility) Contains(branch string) bool {
	if v.All {
		return true
	}
	_, ok := v.Branches[branch]
	return ok
}

// List returns the visible branches sorted; nil for wildcard and identity
// scopes.
func (v Visibility) List() []string {
	if v.All || v.Identity {
		return nil
	}
	out := make([]string, 0, len(v.Branches))
	for b := range v.Branches {
		out = append(out, b)
	}
	sort.Strings(out)
	return out
}

// VisibleBranches derives actor's visibility from its role and, for an AGM,
// from the area managers it created. It reads users on every call; callers
// must not cache the result across requests.
func VisibleBranches(users map[string]*repository.User, actor *repository.User) Visibility {
	if actor == nil {
		return Visibility{}
	}
	switch actor.Role {
	case repository.RoleAdmin:
		return Visibility{All: true}
	case repository.RoleBranchStaff:
		return Visibility{Identity: true}
	case repository.RoleBranchManager, repository.RoleAreaManager:
		return Visibility{Branches: branchSet(actor.AssignedBranches)}
	case repository.RoleAGM:
		set := make(map[string]struct{})
		for _, u := range users {
			if u.CreatedBy == actor.Username && u.Role == repository.RoleAreaManager {
				for _, b := range u.AssignedBranches {
					set[b] = struct{}{}
				}
			}
		}
		return Visibility{Branches: set}
	}
	return Visibility{}
}

// FilterByRole keeps the records actor may see: everything for admin, own
// records for branch staff and records in a visible branch for the manager
// tiers. Any other role gets nothing.
func FilterByRole[T Scoped](records []T, users map[string]*repository.User, actor *repository.User) []T {
	vis := VisibleBranches(users, actor)
	out := make([]T, 0, len(records))
	for _, r := range records {
		switch {
		case vis.All:
			out = append(out, r)
		case vis.Identity:
			if owner := r.OwnerID(); owner != "" && owner == actor.Username {
				out = append(out, r)
			}
		case vis.Contains(r.BranchName()):
			out = append(out, r)
		}
	}
	return out
}

// Subordinates lists the users actor manages: everyone for admin, otherwise
// the users of the next role down that actor created.
func Subordinates(users map[string]*repository.User, actor *repository.User) []*repository.User {
	var out []*repository.User
	if actor == nil {
		return out
	}
	want, ok := subordinateRole[actor.Role]
	for _, u := range users {
		switch {
		case actor.Role == repository.RoleAdmin:
			out = append(out, u)
		case ok && u.Role == want && u.CreatedBy == actor.Username:
			out = append(out, u)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Username < out[j].Username })
	return out
}

var subordinateRole = map[repository.Role]repository.Role{
	repository.RoleAGM:           repository.RoleAreaManager,
	repository.RoleAreaManager:   repository.RoleBranchManager,
	repository.RoleBranchManager: repository.RoleBranchStaff,
}

// CreatableRoles returns the roles actor may create accounts for.
func CreatableRoles(actor *repository.User) []repository.Role {
	if actor == nil {
		return nil
	}
	if actor.Role == repository.RoleAdmin {
		return []repository.Role{
			repository.RoleAGM,
			repository.RoleAreaManager,
			repository.RoleBranchManager,
			repository.RoleBranchStaff,
		}
	}
	if r, ok := subordinateRole[actor.Role]; ok {
		return []repository.Role{r}
	}
	return nil
}

func canCreate(actor *repository.User, role repository.Role) bool {
	for _, r := range CreatableRoles(actor) {
		if r == role {
			return true
		}
	}
	return false
}

func branchSet(branches []string) map[string]struct{} {
	set := make(map[string]struct{}, len(branches))
	for _, b := range branches {
		set[b] = struct{}{}
	}
	return set
}

func sortedStrings(s []string) []string {
	sort.Strings(s)
	return s
}
