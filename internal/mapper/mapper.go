// Package mapper turns chat entities into index records. Pure and
// deterministic: embeddings are attached later by the caller.
package mapper

import (
	"fmt"
	"strings"

	"github.com/ameeralns/ChatGeniusApp-sub001/internal/chat"
	"github.com/ameeralns/ChatGeniusApp-sub001/internal/vectorstore"
)

// DefaultDisplayName fills in for users without a display name.
const DefaultDisplayName = "Unknown User"

// ValidationError reports an entity that cannot become a record. The HTTP
// layer maps it to a 400 response.
type ValidationError struct {
	Entity string
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s %s", e.Entity, e.Field, e.Reason)
}

// MessageID returns the stable record ID for a message.
func MessageID(messageID string) string {
	return "msg_" + messageID
}

// BioID returns the stable record ID for a user's bio.
func BioID(userID string) string {
	return "bio_" + userID
}

// Snapshot denormalizes a profile onto a record, applying defaults for
// missing fields.
func Snapshot(owner chat.UserProfile) vectorstore.ProfileSnapshot {
	displayName := strings.TrimSpace(owner.DisplayName)
	if displayName == "" {
		displayName = DefaultDisplayName
	}
	return vectorstore.ProfileSnapshot{
		DisplayName: displayName,
		PhotoURL:    owner.PhotoURL,
		Bio:         owner.Bio,
	}
}

// MessageRecord maps a chat message plus its author to an index record.
// The record ID is stable across re-syncs so upserts overwrite.
func MessageRecord(msg chat.Message, owner chat.UserProfile) (vectorstore.Record, error) {
	if msg.ID == "" {
		return vectorstore.Record{}, &ValidationError{Entity: "message", Field: "id", Reason: "is required"}
	}
	if strings.TrimSpace(msg.Content) == "" {
		return vectorstore.Record{}, &ValidationError{Entity: "message", Field: "content", Reason: "is empty"}
	}
	if msg.WorkspaceID == "" {
		return vectorstore.Record{}, &ValidationError{Entity: "message", Field: "workspaceId", Reason: "is required"}
	}
	if msg.ChannelID == "" {
		return vectorstore.Record{}, &ValidationError{Entity: "message", Field: "channelId", Reason: "is required"}
	}

	return vectorstore.Record{
		ID:        MessageID(msg.ID),
		OwnerID:   msg.UserID,
		Kind:      vectorstore.KindMessage,
		Content:   msg.Content,
		ChannelID: msg.ChannelID,
		Timestamp: msg.CreatedAt,
		Profile:   Snapshot(owner),
	}, nil
}

// BioRecord maps a user profile to the bio record of their namespace.
// updatedAt is the source modification time in unix milliseconds.
func BioRecord(owner chat.UserProfile, updatedAt int64) (vectorstore.Record, error) {
	if owner.UserID == "" {
		return vectorstore.Record{}, &ValidationError{Entity: "profile", Field: "userId", Reason: "is required"}
	}
	if strings.TrimSpace(owner.Bio) == "" {
		return vectorstore.Record{}, &ValidationError{Entity: "profile", Field: "bio", Reason: "is empty"}
	}

	return vectorstore.Record{
		ID:        BioID(owner.UserID),
		OwnerID:   owner.UserID,
		Kind:      vectorstore.KindBio,
		Content:   owner.Bio,
		Timestamp: updatedAt,
		Profile:   Snapshot(owner),
	}, nil
}
