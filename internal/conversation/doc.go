// Package conversation is the gateway side of owner/worker chat.
//
// # Overview
//
// The Service sits between the transports (HTTP, WebSocket, gRPC) and the
// message store. It validates drafts, pins each conversation to its owner and
// worker on the first message, records messages and fans them out to
// subscribers of the conversation's topic:
//
//	svc := conversation.New(store, broadcaster, logger, conversation.Options{
//		Dedupe:  dedupe.New[string](10*time.Minute, 10000),
//		Metrics: m,
//	})
//
// Key operations:
//
//   - FetchHistory(ctx, conversationID): messages in send order
//   - Persist(ctx, draft): record then publish, idempotent per correlation id
//   - Subscribe(ctx, conversationID): stream of published messages
//   - CheckParticipant(ctx, conversationID, participantID): read access
//
// # Duplicate sends
//
// A draft carries the client's correlation id. A retry with the same id is
// answered with the earlier record, first from the in-memory dedupe cache and
// then from the store's unique (conversation_id, correlation_id) index. The
// retry is not published again.
//
// # Broadcasting
//
// Broadcaster is the topic fan-out. EventBroadcaster keeps subscribers in
// memory for a single gateway; RedisBroadcaster relays through Redis
// PUBLISH/SUBSCRIBE when several gateways share one database. Topics are
// "chat/{conversationId}". Slow subscribers lose messages rather than stall
// the publisher; their clients recover on the next history load.
//
// LocalChannel adapts a Broadcaster to chatview.Channel so views can run in
// the same process as the gateway.
package conversation
