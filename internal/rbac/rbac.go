// Package rbac maps admin-grade claims to the actions they permit.
package rbac

type Action string

const (
	// ActionRead covers list/fetch operations; any authenticated session.
	ActionRead Action = "read"
	// ActionWrite covers every store mutation; needs an admin-grade claim.
	ActionWrite Action = "write"
)

// Grants holds the capability flags extracted from a verified token.
type Grants struct {
	Admin      bool
	ContentOps bool
}

func Can(g Grants, action Action) bool {
	switch action {
	case ActionRead:
		return true
	case ActionWrite:
		return g.Admin || g.ContentOps
	default:
		return false
	}
}
