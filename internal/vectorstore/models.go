package vectorstore

import (
	"fmt"
	"regexp"
	"strconv"
)

// Kind labels what a record represents.
type Kind string

const (
	// KindMessage is a chat message owned by a workspace namespace.
	KindMessage Kind = "message"

	// KindBio is a user biography owned by a user namespace.
	KindBio Kind = "bio"
)

// ProfileSnapshot is the denormalized author profile carried on every record.
// Missing fields are filled with explicit defaults before upsert.
type ProfileSnapshot struct {
	DisplayName string `json:"displayName"`
	PhotoURL    string `json:"photoUrl"`
	Bio         string `json:"bio"`
}

// Record is one indexed entity. The ID is globally unique and stable across
// re-syncs, so repeated upserts overwrite rather than duplicate.
type Record struct {
	ID        string
	OwnerID   string
	Kind      Kind
	Content   string
	Embedding []float32

	// ChannelID is set for message records and used as a query filter.
	ChannelID string

	// Timestamp is the source last-modified time in unix milliseconds.
	// Used to break ranking ties between equally similar records.
	Timestamp int64

	Profile ProfileSnapshot
}

// Match is a query result: a record plus its similarity score.
type Match struct {
	Record Record
	Score  float32
}

// NamespaceInfo describes one namespace of the index.
type NamespaceInfo struct {
	Namespace   Namespace
	RecordCount int
	VectorSize  int
}

// Namespace partitions the index. Each namespace maps to one collection.
type Namespace string

const (
	workspacePrefix = "workspace_"
	userPrefix      = "user_"
)

// WorkspaceNamespace returns the namespace holding a workspace's messages.
func WorkspaceNamespace(workspaceID string) Namespace {
	return Namespace(workspacePrefix + workspaceID)
}

// UserNamespace returns the namespace holding a user's bio records.
func UserNamespace(userID string) Namespace {
	return Namespace(userPrefix + userID)
}

// namespacePattern matches valid collection names: alphanumeric plus
// underscore, dot and hyphen, 3-63 characters, alphanumeric at both ends.
var namespacePattern = regexp.MustCompile(`^[a-zA-Z0-9][a-zA-Z0-9._-]{1,61}[a-zA-Z0-9]$`)

// Validate checks the namespace is safe to use as a collection name.
func (n Namespace) Validate() error {
	if n == "" {
		return fmt.Errorf("%w: namespace is empty", ErrInvalidNamespace)
	}
	if !namespacePattern.MatchString(string(n)) {
		return fmt.Errorf("%w: %q must be 3-63 chars of [a-zA-Z0-9._-] with alphanumeric ends", ErrInvalidNamespace, n)
	}
	return nil
}

func (n Namespace) String() string {
	return string(n)
}

// Metadata keys shared by both index backends.
const (
	metaKind        = "kind"
	metaOwnerID     = "owner_id"
	metaChannelID   = "channel_id"
	metaTimestamp   = "timestamp"
	metaDisplayName = "display_name"
	metaPhotoURL    = "photo_url"
	metaBio         = "bio"
)

// validateRecord checks the invariants every upserted record must hold.
func validateRecord(r Record, vectorSize int) error {
	if r.ID == "" {
		return fmt.Errorf("%w: record ID is empty", ErrInvalidRecord)
	}
	if r.Content == "" {
		return fmt.Errorf("%w: record %s has empty content", ErrInvalidRecord, r.ID)
	}
	switch r.Kind {
	case KindMessage, KindBio:
	default:
		return fmt.Errorf("%w: record %s has unknown kind %q", ErrInvalidRecord, r.ID, r.Kind)
	}
	if len(r.Embedding) != vectorSize {
		return fmt.Errorf("%w: record %s has %d dims, index expects %d",
			ErrDimensionMismatch, r.ID, len(r.Embedding), vectorSize)
	}
	return nil
}

// recordMetadata flattens a record's non-vector fields to a string map.
func recordMetadata(r Record) map[string]string {
	m := map[string]string{
		metaKind:        string(r.Kind),
		metaTimestamp:   strconv.FormatInt(r.Timestamp, 10),
		metaDisplayName: r.Profile.DisplayName,
	}
	if r.OwnerID != "" {
		m[metaOwnerID] = r.OwnerID
	}
	if r.ChannelID != "" {
		m[metaChannelID] = r.ChannelID
	}
	if r.Profile.PhotoURL != "" {
		m[metaPhotoURL] = r.Profile.PhotoURL
	}
	if r.Profile.Bio != "" {
		m[metaBio] = r.Profile.Bio
	}
	return m
}

// recordFromMetadata rebuilds a record from stored content and metadata.
func recordFromMetadata(id, content string, embedding []float32, meta map[string]string) Record {
	ts, _ := strconv.ParseInt(meta[metaTimestamp], 10, 64)
	return Record{
		ID:        id,
		OwnerID:   meta[metaOwnerID],
		Kind:      Kind(meta[metaKind]),
		Content:   content,
		Embedding: embedding,
		ChannelID: meta[metaChannelID],
		Timestamp: ts,
		Profile: ProfileSnapshot{
			DisplayName: meta[metaDisplayName],
			PhotoURL:    meta[metaPhotoURL],
			Bio:         meta[metaBio],
		},
	}
}
