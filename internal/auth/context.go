package auth

import "context"

type contextKey string

const (
	contextKeyRole      contextKey = "auth.role"
	contextKeySubject   contextKey = "auth.subject"
	contextKeyBuildings contextKey = "auth.buildings"
)

// WithIdentity stores auth identity details in context.
func WithIdentity(ctx context.Context, role Role, subject string, buildings []string) context.Context {
	ctx = context.WithValue(ctx, contextKeyRole, role)
	ctx = context.WithValue(ctx, contextKeySubject, subject)
	ctx = context.WithValue(ctx, contextKeyBuildings, buildings)
	return ctx
}

// RoleFromContext extracts role from context.
func RoleFromContext(ctx context.Context) Role {
	if ctx == nil {
		return ""
	}
	value := ctx.Value(contextKeyRole)
	if role, ok := value.(Role); ok {
		return role
	}
	if role, ok := value.(string); ok {
		if normalized, valid := NormalizeRole(role); valid {
			return normalized
		}
	}
	return ""
}

// SubjectFromContext extracts subject from context.
func SubjectFromContext(ctx context.Context) string {
	if ctx == nil {
		return ""
	}
	value := ctx.Value(contextKeySubject)
	if subject, ok := value.(string); ok {
		return subject
	}
	return ""
}

// EnsureBuilding returns ErrBuildingScope when the caller's token is scoped
// to other buildings. Scoped tokens must name a building; unscoped and
// unauthenticated contexts pass.
func EnsureBuilding(ctx context.Context, buildingID string) error {
	if ctx == nil {
		return nil
	}
	buildings, _ := ctx.Value(contextKeyBuildings).([]string)
	if len(buildings) == 0 {
		return nil
	}
	for _, id := range buildings {
		if id == buildingID {
			return nil
		}
	}
	return ErrBuildingScope
}
