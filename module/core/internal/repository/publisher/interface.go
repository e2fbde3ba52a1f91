package publisher

import (
	"context"
	"encoding/json"

	"github.com/nandanugg/tj-tracking/module/core/domain"
)

type AlertPublisher interface {
	PublishAlert(ctx context.Context, alert *domain.AlertEvent) error
}

// UIPublisher fans feed activity out to operator consoles.
type UIPublisher interface {
	AlertPublisher
	PublishLocation(ctx context.Context, ev domain.Event) error
	ForwardAlert(ctx context.Context, payload json.RawMessage) error
	PublishFeedStatus(ctx context.Context, status FeedStatus) error
}

// FeedStatus reports the health of the tracking feed connection.
type FeedStatus struct {
	ClientID string `json:"client_id"`
	State    string `json:"state"`
	Attempts int    `json:"attempts,omitempty"`
	Error    string `json:"error,omitempty"`
	Time     int64  `json:"timestamp"`
}
