// Package redisstore holds the Redis-backed collaborators of the dialer:
// lead recency, DNC suppression and per-campaign concurrency slots.
package redisstore

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"outbound-dialer/pkg/utils"

	"github.com/redis/go-redis/v9"
)

const keyPrefix = "dialer:"

var errNilClient = errors.New("redisstore: redis client is nil")

// RecencyStore remembers when a lead last had a completed call.
// Keys expire after the recency window, so absence means "not recent".
type RecencyStore struct {
	rdb    *redis.Client
	window time.Duration
}

func NewRecencyStore(rdb *redis.Client, window time.Duration) *RecencyStore {
	if window <= 0 {
		window = 24 * time.Hour
	}
	return &RecencyStore{rdb: rdb, window: window}
}

func recencyKey(leadID string) string { return keyPrefix + "recency:" + leadID }

func (s *RecencyStore) MarkCompleted(ctx context.Context, leadID string, at time.Time) error {
	if s.rdb == nil {
		return errNilClient
	}
	if leadID == "" {
		return fmt.Errorf("redisstore: lead id is required")
	}
	return s.rdb.Set(ctx, recencyKey(leadID), at.UnixMilli(), s.window).Err()
}

func (s *RecencyStore) LastCompleted(ctx context.Context, leadID string) (time.Time, bool, error) {
	if s.rdb == nil {
		return time.Time{}, false, errNilClient
	}
	v, err := s.rdb.Get(ctx, recencyKey(leadID)).Result()
	if errors.Is(err, redis.Nil) {
		return time.Time{}, false, nil
	}
	if err != nil {
		return time.Time{}, false, err
	}
	ms, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		return time.Time{}, false, fmt.Errorf("redisstore: bad recency value for %s: %w", leadID, err)
	}
	return time.UnixMilli(ms).UTC(), true, nil
}

// DNCSet checks numbers against a Redis set maintained by the DNC ingestion job.
type DNCSet struct {
	rdb *redis.Client
	key string
}

func NewDNCSet(rdb *redis.Client, key string) *DNCSet {
	if key == "" {
		key = keyPrefix + "dnc"
	}
	return &DNCSet{rdb: rdb, key: key}
}

func (s *DNCSet) IsSuppressed(ctx context.Context, phone string) (bool, error) {
	if s.rdb == nil {
		return false, errNilClient
	}
	return s.rdb.SIsMember(ctx, s.key, NormalizePhone(phone)).Result()
}

// Add suppresses numbers. Used by ops tooling and tests.
func (s *DNCSet) Add(ctx context.Context, phones ...string) error {
	if s.rdb == nil {
		return errNilClient
	}
	if len(phones) == 0 {
		return nil
	}
	members := make([]any, 0, len(phones))
	for _, p := range phones {
		members = append(members, NormalizePhone(p))
	}
	return s.rdb.SAdd(ctx, s.key, members...).Err()
}

// CampaignSlots caps concurrent calls per campaign across dialer instances.
type CampaignSlots struct {
	rdb   *redis.Client
	limit int
	ttl   time.Duration
}

// NewCampaignSlots builds a limiter. ttl bounds how long a slot leaked by a crashed
// process can stay held; it should exceed the maximum call duration.
func NewCampaignSlots(rdb *redis.Client, limit int, ttl time.Duration) *CampaignSlots {
	if ttl <= 0 {
		ttl = 10 * time.Minute
	}
	return &CampaignSlots{rdb: rdb, limit: limit, ttl: ttl}
}

func slotKey(campaignID string) string { return keyPrefix + "slots:" + campaignID }

func (s *CampaignSlots) Acquire(ctx context.Context, campaignID string) (bool, error) {
	res, err := utils.AcquireSlot(ctx, s.rdb, slotKey(campaignID), s.limit, s.ttl)
	if err != nil {
		return false, err
	}
	return res.Acquired, nil
}

func (s *CampaignSlots) Release(ctx context.Context, campaignID string) error {
	_, err := utils.ReleaseSlot(ctx, s.rdb, slotKey(campaignID))
	return err
}

// NormalizePhone keeps digits and a leading '+', and adds the NANP country
// code to bare 10-digit numbers.
func NormalizePhone(phone string) string {
	var b strings.Builder
	for i, r := range strings.TrimSpace(phone) {
		if r == '+' && i == 0 {
			b.WriteRune(r)
			continue
		}
		if r >= '0' && r <= '9' {
			b.WriteRune(r)
		}
	}
	out := b.String()
	if !strings.HasPrefix(out, "+") {
		switch len(out) {
		case 10:
			out = "+1" + out
		case 11:
			if out[0] == '1' {
				out = "+" + out
			}
		}
	}
	return out
}
