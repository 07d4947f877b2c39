// ABOUTME: Push channel topic naming for conversations
// ABOUTME: Maps conversation ids to "chat/{id}" topics and back

package store

import "strings"

// TopicPrefix is the namespace shared by every conversation topic.
const TopicPrefix = "chat/"

// TopicFor returns the push topic of a conversation.
func TopicFor(conversationID string) string {
	return TopicPrefix + conversationID
}

// ConversationFromTopic extracts the conversation id from a topic. The second
// result is false when topic is not a conversation topic.
func ConversationFromTopic(topic string) (string, bool) {
	id, ok := strings.CutPrefix(topic, TopicPrefix)
	if !ok || id == "" || strings.Contains(id, "/") {
		return "", false
	}
	return id, true
}
