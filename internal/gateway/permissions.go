package gateway

import (
	"github.com/quipgate/quipgate/internal/classifier"
	"github.com/quipgate/quipgate/internal/quiplet"
)

// roleAllowsCommand is the static per-role verb policy checked before any
// behavioral analysis runs. Admins may issue every verb, staff stop at data
// modification, analysts are read-only.
func roleAllowsCommand(role classifier.Role, cmd quiplet.Command) bool {
	switch role {
	case classifier.RoleAdmin:
		return true
	case classifier.RoleStaff:
		return cmd == quiplet.CommandSelect || cmd == quiplet.CommandInsert || cmd == quiplet.CommandUpdate
	case classifier.RoleAnalyst:
		return cmd == quiplet.CommandSelect
	default:
		return false
	}
}
