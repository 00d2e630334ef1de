// Package authz decides whether an actor may perform an action on an issue.
package authz

import (
	"civicfix-be/models"
)

// Action is an operation subject to authorization.
type Action string

const (
	Create       Action = "create"
	Read         Action = "read"
	UpdateFields Action = "update_fields"
	Delete       Action = "delete"
	Transition   Action = "transition"
)

// Gate applies the fixed issue policy:
//
//	create         any authenticated user
//	read           anyone
//	update_fields  resource owner only
//	delete         resource owner or admin
//	transition     admin only
//
// A nil actor is anonymous. Gate holds no state and never mutates its inputs.
type Gate struct{}

// Can reports whether actor may perform action on resource. resource may be
// nil for actions that do not target an existing issue.
func (Gate) Can(actor *models.Actor, action Action, resource *models.Issue) bool {
	switch action {
	case Read:
		return true
	case Create:
		return actor != nil
	case UpdateFields:
		return actor != nil && resource != nil && resource.UserID == actor.ID
	case Delete:
		if actor == nil || resource == nil {
			return false
		}
		return resource.UserID == actor.ID || actor.IsAdmin()
	case Transition:
		return actor.IsAdmin()
	}
	return false
}
