// Package types defines the JSON bodies of the Vigil HTTP API.
//
// Every error is returned as
//
//	{"error": {"code": "owner_not_found", "message": "owner \"alice\" not found"}}
//
// with the HTTP status carried by APIError.
package types
