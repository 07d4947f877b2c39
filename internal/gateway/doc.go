// Package gateway orchestrates the jobchat-gateway server components.
//
// # Overview
//
// The Gateway owns the message store, the push broadcaster, the
// conversation service, and the gRPC and HTTP servers that expose them.
//
// # HTTP API
//
//	GET  /health                              liveness
//	GET  /health/ready                        store (and Redis) reachable
//	GET  /api/conversations/{id}/messages     {conversation_id, messages}
//	GET  /api/conversations/{id}/transcript   HTML transcript
//	POST /api/messages                        draft in, confirmed message out (201)
//	GET  /ws?topic=chat/{id}                  WebSocket, one JSON message per frame
//	GET  {metrics.path}                       Prometheus exposition, when enabled
//
// Errors are JSON objects of the form {"error": "..."}.
//
// # gRPC
//
// The jobchat.v1.MessageService from package chatrpc is registered on the
// gRPC server with keepalive enforcement.
//
// # Authentication
//
// When auth.jwt_secret is set, the API, the WebSocket endpoint and every
// gRPC call require a bearer JWT. The WebSocket endpoint also accepts the
// token as an access_token query parameter. Without a secret the gateway
// runs anonymous and logs a warning.
//
// # Listeners
//
// Servers bind the configured TCP addresses, or, with tailscale.enabled,
// listen on the tailnet through tsnet (gRPC on :50051, HTTP on :80).
package gateway
