// Package handlers implements the /v1 routes of the Vigil API: owner and
// result CRUD, the global recent results read, per-owner export and manual
// retention sweeps.
//
// Handlers take their dependencies through Options and never read the
// global configuration.
package handlers
