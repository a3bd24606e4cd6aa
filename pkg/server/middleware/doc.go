// Package middleware provides the HTTP middleware chain of the Vigil API.
//
// The server applies it outermost first:
//
//	RecoveryMiddleware
//	  RequestIDMiddleware
//	    LoggingMiddleware
//	      CORSMiddleware
//	        TelemetryMiddleware
//	          ServeMux
//
// Recovery is outermost so panics anywhere in the chain become 500 errors.
// Telemetry is innermost so it can read the route pattern the mux matched.
package middleware
