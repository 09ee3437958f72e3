package activitymap

import (
	"strings"
	"time"

	connect "github.com/goliatone/go-connect"
)

const (
	// MetadataKeyUserID stores the affected user when it differs from the actor.
	MetadataKeyUserID = "user_id"
	// MetadataKeyFromStatus stores the source status of a connection request change.
	MetadataKeyFromStatus = "from_status"
	// MetadataKeyToStatus stores the target status of a connection request change.
	MetadataKeyToStatus = "to_status"
)

const (
	defaultActorID = "system"

	channelAuth       = "auth"
	channelConnection = "connection"

	objectTypeUser              = "user"
	objectTypeConnectionRequest = "connection_request"
)

// Normalized is a transport-agnostic activity shape for downstream systems.
type Normalized struct {
	ActorID    string         `json:"actor_id"`
	Verb       string         `json:"verb"`
	ObjectType string         `json:"object_type,omitempty"`
	ObjectID   string         `json:"object_id,omitempty"`
	Channel    string         `json:"channel,omitempty"`
	Metadata   map[string]any `json:"metadata,omitempty"`
	OccurredAt time.Time      `json:"occurred_at"`
}

// Option customizes normalization behavior.
type Option func(*normalizeOptions)

type normalizeOptions struct {
	channel       string
	actorFallback string
}

// Normalize converts a connect.ActivityEvent into a generic normalized shape.
// Connection events are filed under the connection channel with the request
// as object, everything else under auth with the user as object.
func Normalize(event connect.ActivityEvent, opts ...Option) Normalized {
	options := normalizeOptions{actorFallback: defaultActorID}
	for _, opt := range opts {
		if opt != nil {
			opt(&options)
		}
	}

	channel, objectType, objectID := classify(event)
	if options.channel != "" {
		channel = options.channel
	}

	actorID := firstNonEmpty(
		strings.TrimSpace(event.ActorID),
		strings.TrimSpace(event.UserID),
		options.actorFallback,
	)

	occurredAt := event.OccurredAt
	if occurredAt.IsZero() {
		occurredAt = time.Now().UTC()
	}

	return Normalized{
		ActorID:    actorID,
		Verb:       string(event.EventType),
		ObjectType: objectType,
		ObjectID:   objectID,
		Channel:    channel,
		Metadata:   normalizeMetadata(event, actorID),
		OccurredAt: occurredAt,
	}
}

// WithChannel forces the channel of every normalized record.
func WithChannel(channel string) Option {
	return func(opts *normalizeOptions) {
		if opts == nil {
			return
		}
		opts.channel = strings.TrimSpace(channel)
	}
}

// WithActorFallback sets the final actor-id fallback when actor/user ids are empty.
func WithActorFallback(actorID string) Option {
	return func(opts *normalizeOptions) {
		if opts == nil {
			return
		}
		if trimmed := strings.TrimSpace(actorID); trimmed != "" {
			opts.actorFallback = trimmed
		}
	}
}

func classify(event connect.ActivityEvent) (channel, objectType, objectID string) {
	if strings.HasPrefix(string(event.EventType), channelConnection+".") {
		return channelConnection, objectTypeConnectionRequest, strings.TrimSpace(event.ObjectID)
	}
	return channelAuth, objectTypeUser, firstNonEmpty(
		strings.TrimSpace(event.ObjectID),
		strings.TrimSpace(event.UserID),
	)
}

func normalizeMetadata(event connect.ActivityEvent, actorID string) map[string]any {
	metadata := cloneMap(event.Metadata)

	set := func(key string, value string) {
		if value == "" {
			return
		}
		if metadata == nil {
			metadata = map[string]any{}
		}
		metadata[key] = value
	}

	if userID := strings.TrimSpace(event.UserID); userID != actorID {
		set(MetadataKeyUserID, userID)
	}
	set(MetadataKeyFromStatus, string(event.FromStatus))
	set(MetadataKeyToStatus, string(event.ToStatus))

	return metadata
}

func cloneMap(in map[string]any) map[string]any {
	if len(in) == 0 {
		return nil
	}
	out := make(map[string]any, len(in))
	for key, value := range in {
		out[key] = value
	}
	return out
}

func firstNonEmpty(values ...string) string {
	for _, value := range values {
		if value != "" {
			return value
		}
	}
	return ""
}
