// Package auth provides participant authentication for the jobchat gateway.
//
// # Tokens
//
// Owners and workers authenticate with HS256 JWTs signed with the configured
// jwt_secret. A token carries:
//
//   - sub: the participant id
//   - role: "OWNER" or "WORKER"
//   - iat/exp: issue and expiry times
//
// Tokens are minted out of band, for example with jobchat-admin:
//
//	v, err := auth.NewJWTVerifier(secret)
//	token, err := v.Generate("owner-1", store.RoleOwner, 24*time.Hour)
//
// # HTTP
//
// HTTPAuthMiddleware reads the token from "Authorization: Bearer ..." or, for
// WebSocket upgrades from browsers, the access_token query parameter.
//
// # gRPC
//
// UnaryInterceptor and StreamInterceptor read the same bearer token from the
// "authorization" metadata key. BearerCredentials is the client half.
//
// Handlers retrieve the caller with FromContext.
package auth
