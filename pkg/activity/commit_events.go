package activity

import (
	"strings"
	"time"
)

const (
	// VerbStateCommitted is emitted after a commit that changed the state.
	VerbStateCommitted = "state.committed"
	// ObjectTypeState identifies events about a World's state.
	ObjectTypeState = "state"
)

// CommitEventInput describes one committed transaction.
type CommitEventInput struct {
	ActorID    string
	UserID     string
	TenantID   string
	StoreID    string
	Channel    string
	CommitID   string
	Seq        uint64
	Mutations  int
	Changed    []string
	Metadata   map[string]any
	OccurredAt time.Time
}

// BuildStateCommittedEvent constructs a normalized activity event for a
// commit. The object is the store when StoreID is set, else the commit.
func BuildStateCommittedEvent(input CommitEventInput) Event {
	metadata := cloneMap(input.Metadata)
	if input.CommitID != "" {
		metadata = ensureMetadata(metadata)
		metadata["commit_id"] = input.CommitID
	}
	if input.Seq > 0 {
		metadata = ensureMetadata(metadata)
		metadata["seq"] = input.Seq
	}
	if input.Mutations > 0 {
		metadata = ensureMetadata(metadata)
		metadata["mutations"] = input.Mutations
	}
	if len(input.Changed) > 0 {
		metadata = ensureMetadata(metadata)
		metadata["changed"] = append([]string{}, input.Changed...)
	}

	objectID := strings.TrimSpace(input.StoreID)
	if objectID == "" {
		objectID = strings.TrimSpace(input.CommitID)
	}
	if objectID == "" {
		objectID = ObjectTypeState
	}

	return Event{
		Verb:       VerbStateCommitted,
		ActorID:    strings.TrimSpace(input.ActorID),
		UserID:     strings.TrimSpace(input.UserID),
		TenantID:   strings.TrimSpace(input.TenantID),
		ObjectType: ObjectTypeState,
		ObjectID:   objectID,
		Channel:    strings.TrimSpace(input.Channel),
		Metadata:   metadata,
		OccurredAt: input.OccurredAt,
	}
}

func ensureMetadata(meta map[string]any) map[string]any {
	if meta == nil {
		return map[string]any{}
	}
	return meta
}
