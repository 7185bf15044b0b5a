package app

import (
	"context"
	"fmt"
	"time"

	"commune/cmd/community"
	"commune/cmd/identity"
)

const (
	demoUserName  = "John Snow"
	demoUserEmail = "johnsnow@gmail.com"
)

// SeedResult reports what Seed created or found.
type SeedResult struct {
	Roles    []community.Role
	DemoUser *identity.User
}

// Seed creates the built-in roles when missing and, if configured, the demo
// user. Running it twice is harmless.
func Seed(ctx context.Context, cfg Config, log Logger, svc *community.Service, users identity.Store) (SeedResult, error) {
	roles, err := svc.EnsureRoles(ctx, community.DefaultRoles...)
	if err != nil {
		return SeedResult{}, fmt.Errorf("seed roles: %w", err)
	}
	res := SeedResult{Roles: roles}
	for _, r := range roles {
		log.Info("seed.role", "id", r.ID.String(), "name", r.Name)
	}

	if !cfg.SeedDemoUser {
		return res, nil
	}

	u, err := users.CreateUser(ctx, identity.CreateUserInput{
		Name:     demoUserName,
		Email:    demoUserEmail,
		Password: cfg.SeedDemoPassword,
		Now:      time.Now().UTC(),
	})
	switch {
	case err == nil:
		log.Info("seed.user", "id", u.ID.String(), "email", u.Email)
		res.DemoUser = &u
	case identity.IsConflict(err):
		log.Info("seed.user.exists", "email", demoUserEmail)
	default:
		return res, fmt.Errorf("seed demo user: %w", err)
	}
	return res, nil
}
