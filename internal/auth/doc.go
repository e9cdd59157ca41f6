// Package auth authenticates workers connecting to the gateway.
//
// Workers present an HS256 JWT as "authorization: Bearer <token>" metadata
// on the WorkerStream call. The "sub" claim names the worker principal and
// the optional "agent_types" claim restricts which agent types it may
// register:
//
//	verifier := auth.NewJWTVerifier(secret)
//	token, err := verifier.Generate("worker-1", 24*time.Hour, "echo", "orders")
//
// StreamInterceptor rejects streams without a valid token with
// codes.Unauthenticated. Handlers read the principal with
// PrincipalFromContext. When no secret is configured the gateway installs
// NoAuthStreamInterceptor instead.
package auth
