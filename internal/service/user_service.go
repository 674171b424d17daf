package service

import (
	"context"
	"strings"

	"github.com/pesio-ai/be-crm-workflows/internal/common/errors"
	"github.com/pesio-ai/be-crm-workflows/internal/common/logger"
	"github.com/pesio-ai/be-crm-workflows/internal/repository"
	"golang.org/x/crypto/bcrypt"
)

const (
	minPasswordLength    = 6
	defaultAdminPassword = "admin123"
)

// UserService manages accounts along the creation hierarchy and verifies
// credentials for the gateway.
type UserService struct {
	store   repository.EntityStore
	machine *ApprovalMachine
	cost    int
	log     *logger.Logger
}

// NewUserService creates a new UserService.
func NewUserService(store repository.EntityStore, machine *ApprovalMachine, log *logger.Logger) *UserService {
	return &UserService{store: store, machine: machine, cost: bcrypt.DefaultCost, log: log}
}

// CreateUserInput describes a new account.
type CreateUserInput struct {
	Username   string
	Password   string
	Role       repository.Role
	Department string
	Branches   []string
	Products   []string
}

// UpdateUserInput changes the given fields; nil leaves a field as is.
type UpdateUserInput struct {
	Branches *[]string
	Products *[]string
	Password *string
}

func (s *UserService) hash(password string) (string, error) {
	h, err := bcrypt.GenerateFromPassword([]byte(password), s.cost)
	if err != nil {
		return "", errors.Wrap(err, errors.ErrCodeInternal, "failed to hash password")
	}
	return string(h), nil
}

// ── Bootstrap / auth ──────────────────────────────────────────────────────────

// Bootstrap creates the ADMIN account the creation hierarchy hangs from when
// it does not exist yet. An empty password falls back to the default.
func (s *UserService) Bootstrap(ctx context.Context, password string) error {
	if password == "" {
		password = defaultAdminPassword
		s.log.Warn().Msg("ADMIN_PASSWORD not set; bootstrap admin uses the default password")
	}
	hash, err := s.hash(password)
	if err != nil {
		return err
	}

	created := false
	err = s.store.Update(ctx, func(snap *repository.Snapshot) error {
		if _, ok := snap.Users[repository.AdminUsername]; ok {
			return nil
		}
		snap.Users[repository.AdminUsername] = &repository.User{
			Username:         repository.AdminUsername,
			PasswordHash:     hash,
			Role:             repository.RoleAdmin,
			AssignedBranches: []string{},
			AssignedProducts: []string{},
			CreatedBy:        repository.SystemCreator,
			CreatedAt:        repository.FormatTimestamp(s.machine.now()),
		}
		created = true
		return nil
	})
	if err != nil {
		return err
	}
	if created {
		s.log.Info().Msg("Bootstrap admin account created")
	}
	return nil
}

// Authenticate checks username and password.
func (s *UserService) Authenticate(ctx context.Context, username, password string) (*repository.User, error) {
	snap, err := s.store.Load(ctx)
	if err != nil {
		return nil, err
	}
	u, ok := snap.Users[strings.TrimSpace(username)]
	if !ok {
		return nil, errors.New(errors.ErrCodeUnauthorized, "invalid username or password")
	}
	if err := bcrypt.CompareHashAndPassword([]byte(u.PasswordHash), []byte(password)); err != nil {
		return nil, errors.New(errors.ErrCodeUnauthorized, "invalid username or password")
	}
	return u, nil
}

// Get returns one user; actors may read themselves and the users they manage.
func (s *UserService) Get(ctx context.Context, actorID, username string) (*repository.User, error) {
	snap, err := s.store.Load(ctx)
	if err != nil {
		return nil, err
	}
	actor, err := resolveActor(snap, actorID)
	if err != nil {
		return nil, err
	}
	if username == actor.Username {
		return actor, nil
	}
	target, err := managedUser(snap, actor, username)
	if err != nil {
		return nil, err
	}
	return target, nil
}

// VisibleBranches resolves the branch scope of username, which must be actor
// or a user actor manages. An empty username means actor.
func (s *UserService) VisibleBranches(ctx context.Context, actorID, username string) (*repository.User, Visibility, error) {
	snap, err := s.store.Load(ctx)
	if err != nil {
		return nil, Visibility{}, err
	}
	actor, err := resolveActor(snap, actorID)
	if err != nil {
		return nil, Visibility{}, err
	}
	target := actor
	if username != "" && username != actor.Username {
		if target, err = managedUser(snap, actor, username); err != nil {
			return nil, Visibility{}, err
		}
	}
	return target, VisibleBranches(snap.Users, target), nil
}

// ── Management ────────────────────────────────────────────────────────────────

// List returns the users actor manages.
func (s *UserService) List(ctx context.Context, actorID string) ([]*repository.User, error) {
	snap, err := s.store.Load(ctx)
	if err != nil {
		return nil, err
	}
	actor, err := resolveActor(snap, actorID)
	if err != nil {
		return nil, err
	}
	return Subordinates(snap.Users, actor), nil
}

// Create adds an account one level below actor (admin may create any
// managed role).
func (s *UserService) Create(ctx context.Context, actorID string, in CreateUserInput) (*repository.User, error) {
	username := strings.TrimSpace(in.Username)
	if username == "" {
		return nil, errors.InvalidInput("username", "required")
	}
	if len(in.Password) < minPasswordLength {
		return nil, errors.InvalidInput("password", "must be at least 6 characters")
	}
	if !in.Role.Valid() {
		return nil, errors.InvalidInput("role", "unknown role "+string(in.Role))
	}
	hash, err := s.hash(in.Password)
	if err != nil {
		return nil, err
	}

	var user *repository.User
	err = s.store.Update(ctx, func(snap *repository.Snapshot) error {
		actor, err := resolveActor(snap, actorID)
		if err != nil {
			return err
		}
		if !canCreate(actor, in.Role) {
			return forbidden("%s cannot create %s accounts", actor.Username, in.Role)
		}
		if _, exists := snap.Users[username]; exists {
			return errors.New(errors.ErrCodeConflict, "username already exists: "+username)
		}

		branches, err := assignableBranches(actor, in.Role, in.Branches)
		if err != nil {
			return err
		}
		department := strings.TrimSpace(in.Department)
		products := cleanList(in.Products)
		if !isAdmin(actor) {
			department = actor.Department
			if actor.Department == repository.DepartmentSales {
				products = append([]string{}, actor.AssignedProducts...)
			}
		} else if department == repository.DepartmentSales && len(products) == 0 {
			return errors.InvalidInput("assigned_products", "Sales users need at least one product")
		}

		user = &repository.User{
			Username:         username,
			PasswordHash:     hash,
			Role:             in.Role,
			Department:       department,
			AssignedBranches: branches,
			AssignedProducts: products,
			CreatedBy:        actor.Username,
			CreatedAt:        repository.FormatTimestamp(s.machine.now()),
		}
		snap.Users[username] = user
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.log.Info().
		Str("username", user.Username).
		Str("role", string(user.Role)).
		Str("created_by", user.CreatedBy).
		Strs("branches", user.AssignedBranches).
		Msg("User created")
	return user, nil
}

// Update changes branches, products or password of a user actor manages.
func (s *UserService) Update(ctx context.Context, actorID, username string, in UpdateUserInput) (*repository.User, error) {
	var hash string
	if in.Password != nil {
		if len(*in.Password) < minPasswordLength {
			return nil, errors.InvalidInput("password", "must be at least 6 characters")
		}
		h, err := s.hash(*in.Password)
		if err != nil {
			return nil, err
		}
		hash = h
	}

	var user *repository.User
	err := s.store.Update(ctx, func(snap *repository.Snapshot) error {
		actor, err := resolveActor(snap, actorID)
		if err != nil {
			return err
		}
		target, err := managedUser(snap, actor, username)
		if err != nil {
			return err
		}
		if in.Branches != nil {
			branches, err := assignableBranches(actor, target.Role, *in.Branches)
			if err != nil {
				return err
			}
			target.AssignedBranches = branches
		}
		if in.Products != nil {
			target.AssignedProducts = cleanList(*in.Products)
		}
		if hash != "" {
			target.PasswordHash = hash
		}
		user = target
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.log.Info().Str("username", username).Str("updated_by", actorID).Msg("User updated")
	return user, nil
}

// Delete removes a user actor manages. ADMIN cannot be deleted. Users the
// deleted account created keep their created_by reference.
func (s *UserService) Delete(ctx context.Context, actorID, username string) error {
	if username == repository.AdminUsername {
		return forbidden("the %s account cannot be deleted", repository.AdminUsername)
	}
	err := s.store.Update(ctx, func(snap *repository.Snapshot) error {
		actor, err := resolveActor(snap, actorID)
		if err != nil {
			return err
		}
		if _, err := managedUser(snap, actor, username); err != nil {
			return err
		}
		delete(snap.Users, username)
		return nil
	})
	if err != nil {
		return err
	}

	s.log.Info().Str("username", username).Str("deleted_by", actorID).Msg("User deleted")
	return nil
}

// managedUser returns username if actor manages it.
func managedUser(snap *repository.Snapshot, actor *repository.User, username string) (*repository.User, error) {
	target, ok := snap.Users[username]
	if !ok {
		return nil, notFound("user", username)
	}
	for _, u := range Subordinates(snap.Users, actor) {
		if u.Username == username {
			return target, nil
		}
	}
	return nil, forbidden("%s does not manage %s", actor.Username, username)
}

// assignableBranches applies the branch rules for accounts created by actor:
// admin and AGM assign any list; area and branch managers hand down exactly
// one of their own branches.
func assignableBranches(actor *repository.User, role repository.Role, requested []string) ([]string, error) {
	branches := cleanList(requested)
	switch actor.Role {
	case repository.RoleAdmin, repository.RoleAGM:
		return branches, nil
	}
	if len(branches) != 1 {
		return nil, errors.InvalidInput("assigned_branches", "exactly one branch must be assigned to a "+string(role))
	}
	if !contains(actor.AssignedBranches, branches[0]) {
		return nil, forbidden("%s is not assigned to branch %s", actor.Username, branches[0])
	}
	return branches, nil
}

// cleanList trims entries, drops blanks and splits comma-separated values.
func cleanList(in []string) []string {
	out := make([]string, 0, len(in))
	for _, v := range in {
		for _, part := range strings.Split(v, ",") {
			if p := strings.TrimSpace(part); p != "" && !contains(out, p) {
				out = append(out, p)
			}
		}
	}
	return out
}

// ── Dashboard ─────────────────────────────────────────────────────────────────

// Dashboard returns the sign-in page settings.
func (s *UserService) Dashboard(ctx context.Context) (*repository.Dashboard, error) {
	snap, err := s.store.Load(ctx)
	if err != nil {
		return nil, err
	}
	return snap.Dashboard, nil
}

// UpdateDashboard replaces the dashboard settings; admin only.
func (s *UserService) UpdateDashboard(ctx context.Context, actorID string, d repository.Dashboard) (*repository.Dashboard, error) {
	if strings.TrimSpace(d.Text) == "" {
		return nil, errors.InvalidInput("text", "required")
	}
	err := s.store.Update(ctx, func(snap *repository.Snapshot) error {
		actor, err := resolveActor(snap, actorID)
		if err != nil {
			return err
		}
		if !isAdmin(actor) {
			return forbidden("only admin can change the dashboard")
		}
		snap.Dashboard = &d
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &d, nil
}
