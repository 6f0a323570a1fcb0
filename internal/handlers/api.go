// Package handlers exposes the REST and websocket surface of the
// realtime core.
package handlers

import (
	"github.com/jinfei29/mychat-realtime/internal/call"
	"github.com/jinfei29/mychat-realtime/internal/group"
)

// API bundles the injected collaborators for the REST handlers. Nothing
// here is package-global; the wiring in cmd owns all lifecycles.
type API struct {
	registry *call.Registry
	groups   group.Directory
}

func NewAPI(registry *call.Registry, groups group.Directory) *API {
	return &API{registry: registry, groups: groups}
}
