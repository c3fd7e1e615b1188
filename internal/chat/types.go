// Package chat models the canonical chat store this service mirrors into
// the vector index. The store itself is owned by the chat backend; this
// package only reads it and subscribes to its mutations.
package chat

// Workspace is a top-level chat workspace.
type Workspace struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

// Channel is a channel within a workspace.
type Channel struct {
	ID          string `json:"id"`
	WorkspaceID string `json:"workspaceId"`
	Name        string `json:"name"`
}

// Message is one chat message. CreatedAt is unix milliseconds.
type Message struct {
	ID          string `json:"id"`
	WorkspaceID string `json:"workspaceId"`
	ChannelID   string `json:"channelId"`
	UserID      string `json:"userId"`
	Content     string `json:"content"`
	CreatedAt   int64  `json:"createdAt"`
}

// UserProfile is the canonical profile of a chat user.
type UserProfile struct {
	UserID      string `json:"userId"`
	DisplayName string `json:"displayName"`
	PhotoURL    string `json:"photoUrl"`
	Bio         string `json:"bio"`
}
