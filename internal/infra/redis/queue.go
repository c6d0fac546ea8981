package redis

import (
	"context"
	"encoding/json"
	"strconv"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"inpaint-backend/internal/config"
	"inpaint-backend/internal/domain"
	"inpaint-backend/internal/domain/model"
	"inpaint-backend/internal/domain/ports/adapter"
	"inpaint-backend/internal/infra/metrics"
)

const keyPrefix = "inpaint:queue:inference:"

// JobQueue implements adapter.JobQueue on Redis.
//
// Layout, all under one lane prefix:
//
//	waiting      LIST   ids ready for pickup (LPUSH producer / RPOPLPUSH consumer)
//	active       LIST   ids currently held by a worker
//	delayed      ZSET   ids scheduled for a retry, scored by ready-time
//	job:<id>     HASH   payload, state, attempts, progress, result, failure
//	hb:<id>      STRING heartbeat key with the visibility TTL
//	completed    LIST   bounded history of finished ids
//	failed       LIST   bounded history of permanently failed ids
//
// A delivery whose heartbeat key expires is considered stalled and goes
// back through the retry path, counted against the same attempt budget.
type JobQueue struct {
	cli *redis.Client
	cfg config.QueueConfig
	log *zerolog.Logger

	completedKeep int64
	failedKeep    int64
}

var _ adapter.JobQueue = (*JobQueue)(nil)

func NewJobQueue(c *Client, cfg config.QueueConfig, logger *zerolog.Logger) *JobQueue {
	qLog := logger.With().Str("component", "JobQueue").Logger()
	completedKeep := int64(cfg.HistorySize / 4)
	if completedKeep < 10 {
		completedKeep = 10
	}
	return &JobQueue{
		cli:           c.cli,
		cfg:           cfg,
		log:           &qLog,
		completedKeep: completedKeep,
		failedKeep:    int64(cfg.HistorySize),
	}
}

func key(parts ...string) string {
	k := keyPrefix
	for i, p := range parts {
		if i > 0 {
			k += ":"
		}
		k += p
	}
	return k
}

func (q *JobQueue) jobKey(id string) string { return key("job", id) }
func (q *JobQueue) hbKey(id string) string  { return key("hb", id) }

func (q *JobQueue) Enqueue(ctx context.Context, p adapter.JobPayload) (string, error) {
	if p.UserID == "" || p.DatasetID == "" || p.PairCount < 1 {
		return "", domain.ErrInvalidJobData
	}
	id := p.JobID
	if id == "" {
		id = uuid.NewString()
		p.JobID = id
	}
	payload, err := json.Marshal(p)
	if err != nil {
		return "", domain.ErrInvalidJobData
	}

	pipe := q.cli.TxPipeline()
	pipe.HSet(ctx, q.jobKey(id), map[string]interface{}{
		"payload":     payload,
		"state":       string(adapter.StateWaiting),
		"attempts":    0,
		"progress":    0,
		"enqueued_at": time.Now().UTC().Format(time.RFC3339Nano),
	})
	pipe.Persist(ctx, q.jobKey(id))
	pipe.LPush(ctx, key("waiting"), id)
	if _, err := pipe.Exec(ctx); err != nil {
		return "", err
	}
	q.log.Debug().Str("job_id", id).Int("pairs", p.PairCount).Msg("job enqueued")
	return id, nil
}

// Dequeue moves one id waiting -> active and plants its heartbeat.
// Returns domain.ErrNotFound when the lane is empty.
func (q *JobQueue) Dequeue(ctx context.Context) (*adapter.Delivery, error) {
	id, err := q.cli.BRPopLPush(ctx, key("waiting"), key("active"), time.Second).Result()
	if err == redis.Nil {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, err
	}

	attempts, err := q.cli.HIncrBy(ctx, q.jobKey(id), "attempts", 1).Result()
	if err != nil {
		return nil, err
	}
	pipe := q.cli.TxPipeline()
	pipe.HSet(ctx, q.jobKey(id), "state", string(adapter.StateActive))
	pipe.Set(ctx, q.hbKey(id), "1", q.cfg.Visibility)
	if _, err := pipe.Exec(ctx); err != nil {
		return nil, err
	}

	raw, err := q.cli.HGet(ctx, q.jobKey(id), "payload").Result()
	if err != nil {
		return nil, err
	}
	var p adapter.JobPayload
	if err := json.Unmarshal([]byte(raw), &p); err != nil {
		return nil, domain.ErrInvalidJobData
	}
	return &adapter.Delivery{ID: id, Payload: p, Attempt: int(attempts)}, nil
}

func (q *JobQueue) Heartbeat(ctx context.Context, id string) error {
	return q.cli.Set(ctx, q.hbKey(id), "1", q.cfg.Visibility).Err()
}

func (q *JobQueue) Progress(ctx context.Context, id string, pct int) error {
	if pct < 0 {
		pct = 0
	}
	if pct > 100 {
		pct = 100
	}
	return q.cli.HSet(ctx, q.jobKey(id), "progress", pct).Err()
}

func (q *JobQueue) Ack(ctx context.Context, id string, result *model.InferenceResult) error {
	var raw []byte
	if result != nil {
		var err error
		if raw, err = json.Marshal(result); err != nil {
			return err
		}
	}

	pipe := q.cli.TxPipeline()
	pipe.LRem(ctx, key("active"), 1, id)
	pipe.Del(ctx, q.hbKey(id))
	pipe.HSet(ctx, q.jobKey(id), map[string]interface{}{
		"state":    string(adapter.StateCompleted),
		"progress": 100,
		"result":   raw,
	})
	pipe.Expire(ctx, q.jobKey(id), q.cfg.CompletedRetention)
	pipe.LPush(ctx, key("completed"), id)
	pipe.LTrim(ctx, key("completed"), 0, q.completedKeep-1)
	_, err := pipe.Exec(ctx)
	return err
}

func (q *JobQueue) Nack(ctx context.Context, id string, reason string) (bool, error) {
	attempts, err := q.cli.HGet(ctx, q.jobKey(id), "attempts").Int()
	if err == redis.Nil {
		return false, domain.ErrJobNotFound
	}
	if err != nil {
		return false, err
	}

	pipe := q.cli.TxPipeline()
	pipe.LRem(ctx, key("active"), 1, id)
	pipe.Del(ctx, q.hbKey(id))

	if attempts < q.cfg.MaxAttempts {
		readyAt := time.Now().Add(q.backoff(attempts))
		pipe.HSet(ctx, q.jobKey(id), map[string]interface{}{
			"state":   string(adapter.StateDelayed),
			"failure": reason,
		})
		pipe.ZAdd(ctx, key("delayed"), &redis.Z{Score: float64(readyAt.UnixMilli()), Member: id})
		if _, err := pipe.Exec(ctx); err != nil {
			return false, err
		}
		metrics.IncQueueRetry()
		q.log.Warn().Str("job_id", id).Int("attempt", attempts).Str("reason", reason).Msg("job attempt failed; scheduled for retry")
		return true, nil
	}

	pipe.HSet(ctx, q.jobKey(id), map[string]interface{}{
		"state":   string(adapter.StateFailed),
		"failure": reason,
	})
	pipe.Expire(ctx, q.jobKey(id), q.cfg.FailedRetention)
	pipe.LPush(ctx, key("failed"), id)
	pipe.LTrim(ctx, key("failed"), 0, q.failedKeep-1)
	if _, err := pipe.Exec(ctx); err != nil {
		return false, err
	}
	q.log.Error().Str("job_id", id).Int("attempts", attempts).Str("reason", reason).Msg("job failed permanently")
	return false, nil
}

// backoff is exponential from the configured base: base, 2*base, 4*base...
func (q *JobQueue) backoff(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	return q.cfg.BackoffBase << (attempt - 1)
}

func (q *JobQueue) Status(ctx context.Context, id string) (*adapter.QueueStatus, error) {
	fields, err := q.cli.HGetAll(ctx, q.jobKey(id)).Result()
	if err != nil {
		return nil, err
	}
	if len(fields) == 0 {
		return nil, domain.ErrJobNotFound
	}

	st := &adapter.QueueStatus{
		State:   adapter.JobState(fields["state"]),
		Failure: fields["failure"],
	}
	st.Progress, _ = strconv.Atoi(fields["progress"])
	st.Attempts, _ = strconv.Atoi(fields["attempts"])
	if at, err := time.Parse(time.RFC3339Nano, fields["enqueued_at"]); err == nil {
		st.EnqueuedAt = at
	}
	if raw := fields["result"]; raw != "" {
		var res model.InferenceResult
		if err := json.Unmarshal([]byte(raw), &res); err == nil {
			st.Result = &res
		}
	}
	return st, nil
}

// Run drives queue maintenance until ctx is cancelled: promoting due
// delayed jobs and requeueing stalled active ones.
func (q *JobQueue) Run(ctx context.Context) {
	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()
	q.log.Info().Msg("queue maintenance started")

	for {
		select {
		case <-ctx.Done():
			q.log.Info().Msg("queue maintenance stopping")
			return
		case <-ticker.C:
			if err := q.promoteDelayed(ctx); err != nil && ctx.Err() == nil {
				q.log.Error().Err(err).Msg("promote delayed failed")
			}
			if err := q.reapStalled(ctx); err != nil && ctx.Err() == nil {
				q.log.Error().Err(err).Msg("reap stalled failed")
			}
		}
	}
}

func (q *JobQueue) promoteDelayed(ctx context.Context) error {
	now := strconv.FormatInt(time.Now().UnixMilli(), 10)
	ids, err := q.cli.ZRangeByScore(ctx, key("delayed"), &redis.ZRangeBy{Min: "-inf", Max: now}).Result()
	if err != nil {
		return err
	}
	for _, id := range ids {
		removed, err := q.cli.ZRem(ctx, key("delayed"), id).Result()
		if err != nil {
			return err
		}
		if removed == 0 {
			continue // another maintenance loop got there first
		}
		pipe := q.cli.TxPipeline()
		pipe.HSet(ctx, q.jobKey(id), "state", string(adapter.StateWaiting))
		pipe.LPush(ctx, key("waiting"), id)
		if _, err := pipe.Exec(ctx); err != nil {
			return err
		}
		q.log.Debug().Str("job_id", id).Msg("delayed job promoted")
	}
	return nil
}

func (q *JobQueue) reapStalled(ctx context.Context) error {
	ids, err := q.cli.LRange(ctx, key("active"), 0, -1).Result()
	if err != nil {
		return err
	}
	for _, id := range ids {
		alive, err := q.cli.Exists(ctx, q.hbKey(id)).Result()
		if err != nil {
			return err
		}
		if alive > 0 {
			continue
		}
		q.log.Warn().Str("job_id", id).Msg("stalled job detected; requeueing")
		if _, err := q.Nack(ctx, id, "stalled: worker heartbeat lost"); err != nil {
			return err
		}
	}
	return nil
}
