package service

import (
	"github.com/pesio-ai/be-crm-workflows/internal/common/errors"
	"github.com/pesio-ai/be-crm-workflows/internal/repository"
)

// resolveActor looks up the acting user in the snapshot being worked on, so
// role and branch assignments are always current.
func resolveActor(snap *repository.Snapshot, username string) (*repository.User, error) {
	if username == "" {
		return nil, errors.New(errors.ErrCodeUnauthorized, "no acting user")
	}
	u, ok := snap.Users[username]
	if !ok {
		return nil, errors.New(errors.ErrCodeUnauthorized, "unknown user: "+username).
			WithDetail("username", username)
	}
	return u, nil
}

func isAdmin(u *repository.User) bool {
	return u != nil && u.Role == repository.RoleAdmin
}

// isInvestmentAGM is the booking desk: AGMs of the Investment department.
func isInvestmentAGM(u *repository.User) bool {
	return u != nil && u.Role == repository.RoleAGM && u.Department == repository.DepartmentInvestment
}

func contains(list []string, v string) bool {
	for _, s := range list {
		if s == v {
			return true
		}
	}
	return false
}
