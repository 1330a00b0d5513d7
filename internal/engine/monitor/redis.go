package monitor

import (
	"context"
	"encoding/json"
	"time"

	goredis "github.com/redis/go-redis/v9"
	"github.com/rakunlabs/logi"

	"github.com/rakunlabs/at-engine/internal/engine/model"
)

// publishTimeout bounds how long a Redis sink will wait on one PUBLISH
// before giving up, so a slow or dead broker never blocks execution.
const publishTimeout = 500 * time.Millisecond

// Redis is a Sink that publishes WorkflowExecution snapshots over Redis
// Pub/Sub, one channel per observer session.
type Redis struct {
	client *goredis.Client
}

// NewRedis wraps a Redis client as a Sink.
func NewRedis(client *goredis.Client) *Redis {
	return &Redis{client: client}
}

func channelName(sessionID string) string {
	return "engine:monitor:" + sessionID
}

// SendUpdate publishes the execution snapshot if sessionID is non-empty.
// An absent sessionID is a no-op. Failures are logged
// and swallowed; the caller is never blocked longer than publishTimeout.
func (r *Redis) SendUpdate(ctx context.Context, sessionID string, execution model.WorkflowExecution) {
	if sessionID == "" {
		return
	}

	payload, err := json.Marshal(execution)
	if err != nil {
		logi.Ctx(ctx).Error("monitor: marshal execution snapshot", "error", err, "executionId", execution.ID)
		return
	}

	pubCtx, cancel := context.WithTimeout(ctx, publishTimeout)
	defer cancel()

	if err := r.client.Publish(pubCtx, channelName(sessionID), payload).Err(); err != nil {
		logi.Ctx(ctx).Error("monitor: publish execution snapshot", "error", err, "executionId", execution.ID, "sessionId", sessionID)
	}
}
