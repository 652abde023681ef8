package redis

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"

	"astro_chat_server/pkg/constants"
	"astro_chat_server/pkg/errorx"
)

// releaseScript deletes the presence key only while this instance still owns it,
// so a late disconnect never erases a newer session on another instance.
var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

// Presence records which relay instance holds each participant's connection.
type Presence struct {
	client     *redis.Client
	instanceID string
	ttl        time.Duration
}

func NewPresence(client *redis.Client, instanceID string, ttl time.Duration) *Presence {
	return &Presence{client: client, instanceID: instanceID, ttl: ttl}
}

func presenceKey(participantID string) string {
	return constants.PresencePrefix + participantID
}

// Mark claims participantID for this instance and refreshes the ttl.
func (p *Presence) Mark(ctx context.Context, participantID string) error {
	if err := p.client.Set(ctx, presenceKey(participantID), p.instanceID, p.ttl).Err(); err != nil {
		return errorx.Wrapf(err, errorx.CodeCacheError, "mark presence %s", participantID)
	}
	return nil
}

// Clear releases participantID if this instance still owns it.
func (p *Presence) Clear(ctx context.Context, participantID string) error {
	if err := releaseScript.Run(ctx, p.client, []string{presenceKey(participantID)}, p.instanceID).Err(); err != nil {
		return errorx.Wrapf(err, errorx.CodeCacheError, "clear presence %s", participantID)
	}
	return nil
}

// Online reports whether any instance holds participantID.
func (p *Presence) Online(ctx context.Context, participantID string) (bool, error) {
	n, err := p.client.Exists(ctx, presenceKey(participantID)).Result()
	if err != nil {
		return false, errorx.Wrapf(err, errorx.CodeCacheError, "presence lookup %s", participantID)
	}
	return n == 1, nil
}
