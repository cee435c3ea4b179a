// Package middleware adapts authflow.Engine to net/http.
//
// # Guards
//
//   - [Guard] resolves the bearer token through Engine.Authenticate and
//     stores the [authflow.Session] in the request context. MFA-pending
//     sessions pass, so verification endpoints can sit behind it.
//   - [RequireVerified] is Guard that additionally rejects MFA-pending
//     sessions.
//   - [RequirePermission] checks a permission code on the session placed by
//     a guard further out.
//   - [ClientIP] records the caller address for audit events.
//
// Error responses use authflow.HTTPStatus; bodies carry only the status
// text.
//
// This package does not parse tokens or reach any store itself; every
// decision comes from the engine.
package middleware
