// Package httputil holds the JSON response helpers and middleware shared by
// the operational HTTP endpoints.
//
// Responses:
//
//	httputil.WriteJSON(w, http.StatusOK, data)
//	httputil.WriteNotFoundError(w, "unknown plugin category")
//
// Middleware, in the order the ops router installs it:
//
//	router.Use(
//		httputil.RequestIDMiddleware,
//		httputil.LoggingMiddleware(logger),
//	)
//
// Handlers read the request ID with RequestID(r.Context()).
package httputil
