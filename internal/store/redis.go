package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"strconv"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/ovictormagalhaes/DeFi10-sub001/internal/domain"
)

const keyPrefix = "agg"

// transaction conflicts are retried this many times before giving up.
const txRetries = 5

// RedisJobStore implements JobStore on Redis hashes, sets and strings.
// Counter updates ride on HINCRBY, set membership on SADD/SREM, markers on
// SETNX, and the expansion/wallet multi-field updates on WATCH+MULTI.
type RedisJobStore struct {
	client *redis.Client
	logger *log.Logger
}

func NewRedisJobStore(ctx context.Context, client *redis.Client, logger *log.Logger) (*RedisJobStore, error) {
	if client == nil {
		return nil, errors.New("redis client is required")
	}
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("ping redis: %w", err)
	}
	return &RedisJobStore{client: client, logger: logger}, nil
}

func metaKey(jobID string) string      { return keyPrefix + ":job:" + jobID + ":meta" }
func pendingKey(jobID string) string   { return keyPrefix + ":job:" + jobID + ":pending" }
func durationsKey(jobID string) string { return keyPrefix + ":job:" + jobID + ":durations" }
func summaryKey(jobID string) string   { return keyPrefix + ":job:" + jobID + ":summary" }
func consolidationKey(jobID string) string {
	return keyPrefix + ":job:" + jobID + ":consolidation"
}
func doneKey(jobID string) string { return keyPrefix + ":job:" + jobID + ":done" }
func resultMarkerKey(jobID, workItem string) string {
	return keyPrefix + ":job:" + jobID + ":result:" + workItem
}
func redisWalletKey(jobID, account string, shared bool) string {
	if shared {
		return keyPrefix + ":job:" + jobID + ":wallet"
	}
	return keyPrefix + ":job:" + jobID + ":wallet:" + account
}
func resultCacheKey(account string, chain domain.Chain, provider domain.Provider) string {
	return keyPrefix + ":cache:" + account + ":" + string(chain) + ":" + string(provider)
}

func (s *RedisJobStore) CreateJob(ctx context.Context, meta domain.JobMeta, pending []string, ttl time.Duration) error {
	chains := make([]string, 0, len(meta.Chains))
	for _, chain := range meta.Chains {
		chains = append(chains, string(chain))
	}

	pipe := s.client.TxPipeline()
	pipe.HSet(ctx, metaKey(meta.JobID),
		"accounts", strings.Join(meta.Accounts, ","),
		"chains", strings.Join(chains, ","),
		"wallet_group_id", meta.WalletGroupID,
		"expected_total", meta.ExpectedTotal,
		"succeeded", 0,
		"failed", 0,
		"timed_out", 0,
		"processed", 0,
		"status", string(domain.JobStatusPending),
		"final_emitted", 0,
		"created_at", meta.CreatedAt.UTC().Format(time.RFC3339Nano),
	)
	pipe.Expire(ctx, metaKey(meta.JobID), ttl)
	if len(pending) > 0 {
		members := make([]any, 0, len(pending))
		for _, entry := range pending {
			members = append(members, entry)
		}
		pipe.SAdd(ctx, pendingKey(meta.JobID), members...)
		pipe.Expire(ctx, pendingKey(meta.JobID), ttl)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("create job %s: %w", meta.JobID, err)
	}
	return nil
}

func (s *RedisJobStore) GetJobMeta(ctx context.Context, jobID string) (*domain.JobMeta, error) {
	fields, err := s.client.HGetAll(ctx, metaKey(jobID)).Result()
	if err != nil {
		return nil, fmt.Errorf("get job meta %s: %w", jobID, err)
	}
	if len(fields) == 0 {
		return nil, ErrNotFound
	}
	return decodeMeta(jobID, fields), nil
}

func decodeMeta(jobID string, fields map[string]string) *domain.JobMeta {
	meta := &domain.JobMeta{
		JobID:         jobID,
		WalletGroupID: fields["wallet_group_id"],
		Status:        domain.JobStatus(fields["status"]),
	}
	if accounts := fields["accounts"]; accounts != "" {
		meta.Accounts = strings.Split(accounts, ",")
	}
	if chains := fields["chains"]; chains != "" {
		for _, raw := range strings.Split(chains, ",") {
			meta.Chains = append(meta.Chains, domain.Chain(raw))
		}
	}
	meta.ExpectedTotal, _ = strconv.ParseInt(fields["expected_total"], 10, 64)
	meta.Succeeded, _ = strconv.ParseInt(fields["succeeded"], 10, 64)
	meta.Failed, _ = strconv.ParseInt(fields["failed"], 10, 64)
	meta.TimedOut, _ = strconv.ParseInt(fields["timed_out"], 10, 64)
	meta.Processed, _ = strconv.ParseInt(fields["processed"], 10, 64)
	meta.FinalEmitted = fields["final_emitted"] == "1"
	if createdAt, err := time.Parse(time.RFC3339Nano, fields["created_at"]); err == nil {
		meta.CreatedAt = createdAt
	}
	return meta
}

func (s *RedisJobStore) JobTTL(ctx context.Context, jobID string) (time.Duration, error) {
	ttl, err := s.client.PTTL(ctx, metaKey(jobID)).Result()
	if err != nil {
		return 0, fmt.Errorf("job ttl %s: %w", jobID, err)
	}
	if ttl < 0 {
		return 0, ErrNotFound
	}
	return ttl, nil
}

func counterField(status domain.ResultStatus) string {
	switch status {
	case domain.ResultSuccess:
		return "succeeded"
	case domain.ResultFailed:
		return "failed"
	default:
		return "timed_out"
	}
}

func (s *RedisJobStore) IncrementCounters(ctx context.Context, jobID string, status domain.ResultStatus) error {
	pipe := s.client.TxPipeline()
	pipe.HIncrBy(ctx, metaKey(jobID), counterField(status), 1)
	pipe.HIncrBy(ctx, metaKey(jobID), "processed", 1)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("increment counters %s: %w", jobID, err)
	}
	return nil
}

func (s *RedisJobStore) RemovePending(ctx context.Context, jobID string, keys ...string) (bool, error) {
	for _, key := range keys {
		removed, err := s.client.SRem(ctx, pendingKey(jobID), key).Result()
		if err != nil {
			return false, fmt.Errorf("remove pending %s: %w", jobID, err)
		}
		if removed > 0 {
			return true, nil
		}
	}
	return false, nil
}

func (s *RedisJobStore) PendingCount(ctx context.Context, jobID string) (int64, error) {
	count, err := s.client.SCard(ctx, pendingKey(jobID)).Result()
	if err != nil {
		return 0, fmt.Errorf("pending count %s: %w", jobID, err)
	}
	return count, nil
}

func (s *RedisJobStore) PendingEntries(ctx context.Context, jobID string) ([]string, error) {
	entries, err := s.client.SMembers(ctx, pendingKey(jobID)).Result()
	if err != nil {
		return nil, fmt.Errorf("pending entries %s: %w", jobID, err)
	}
	return entries, nil
}

func (s *RedisJobStore) ClearPending(ctx context.Context, jobID string) error {
	if err := s.client.Del(ctx, pendingKey(jobID)).Err(); err != nil {
		return fmt.Errorf("clear pending %s: %w", jobID, err)
	}
	return nil
}

func (s *RedisJobStore) ExpandJob(ctx context.Context, jobID string, entries []string, triggeredBy domain.Provider) (bool, error) {
	expanded := false

	transaction := func(tx *redis.Tx) error {
		exists, err := tx.Exists(ctx, metaKey(jobID)).Result()
		if err != nil {
			return err
		}
		if exists == 0 {
			// Job vanished; abort with zero additions.
			return nil
		}
		ttl, err := tx.PTTL(ctx, metaKey(jobID)).Result()
		if err != nil {
			return err
		}

		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.HIncrBy(ctx, metaKey(jobID), "expected_total", int64(len(entries)))
			pipe.HIncrBy(ctx, metaKey(jobID), "expanded_by:"+string(triggeredBy), 1)
			members := make([]any, 0, len(entries))
			for _, entry := range entries {
				members = append(members, entry)
			}
			pipe.SAdd(ctx, pendingKey(jobID), members...)
			if ttl > 0 {
				pipe.Expire(ctx, pendingKey(jobID), ttl)
			}
			return nil
		})
		if err != nil {
			return err
		}
		expanded = true
		return nil
	}

	for attempt := 0; attempt < txRetries; attempt++ {
		err := s.client.Watch(ctx, transaction, metaKey(jobID))
		if err == nil {
			return expanded, nil
		}
		if errors.Is(err, redis.TxFailedErr) {
			continue
		}
		return false, fmt.Errorf("expand job %s: %w", jobID, err)
	}
	return false, fmt.Errorf("expand job %s: transaction retries exhausted", jobID)
}

func (s *RedisJobStore) MarkResultProcessed(ctx context.Context, jobID, workItem string, ttl time.Duration) (bool, error) {
	if ttl <= 0 {
		ttl = time.Minute
	}
	first, err := s.client.SetNX(ctx, resultMarkerKey(jobID, workItem), "1", ttl).Result()
	if err != nil {
		return false, fmt.Errorf("mark result processed %s: %w", jobID, err)
	}
	return first, nil
}

func (s *RedisJobStore) RecordDuration(ctx context.Context, jobID string, provider domain.Provider, duration time.Duration) error {
	ttl, err := s.client.PTTL(ctx, metaKey(jobID)).Result()
	if err != nil || ttl <= 0 {
		ttl = time.Minute
	}
	pipe := s.client.TxPipeline()
	pipe.HSet(ctx, durationsKey(jobID), string(provider), duration.Milliseconds())
	pipe.Expire(ctx, durationsKey(jobID), ttl)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("record duration %s: %w", jobID, err)
	}
	return nil
}

func (s *RedisJobStore) GetCachedResult(ctx context.Context, account string, chain domain.Chain, provider domain.Provider) (*domain.IntegrationResult, error) {
	raw, err := s.client.Get(ctx, resultCacheKey(account, chain, provider)).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("get cached result: %w", err)
	}
	var result domain.IntegrationResult
	if err := json.Unmarshal([]byte(raw), &result); err != nil {
		if s.logger != nil {
			s.logger.Printf("corrupt result cache entry account=%s chain=%s provider=%s: %v", account, chain, provider, err)
		}
		return nil, ErrNotFound
	}
	return &result, nil
}

func (s *RedisJobStore) SetCachedResult(ctx context.Context, account string, chain domain.Chain, provider domain.Provider, result *domain.IntegrationResult, ttl time.Duration) error {
	encoded, err := json.Marshal(result)
	if err != nil {
		return fmt.Errorf("encode cached result: %w", err)
	}
	if err := s.client.Set(ctx, resultCacheKey(account, chain, provider), encoded, ttl).Err(); err != nil {
		return fmt.Errorf("set cached result: %w", err)
	}
	return nil
}

func (s *RedisJobStore) MutateWallet(ctx context.Context, jobID, account string, shared bool, ttl time.Duration, fn func(*domain.Wallet)) error {
	key := redisWalletKey(jobID, account, shared)

	transaction := func(tx *redis.Tx) error {
		wallet := &domain.Wallet{}
		raw, err := tx.Get(ctx, key).Result()
		if err != nil && !errors.Is(err, redis.Nil) {
			return err
		}
		if err == nil {
			if unmarshalErr := json.Unmarshal([]byte(raw), wallet); unmarshalErr != nil {
				if s.logger != nil {
					s.logger.Printf("corrupt wallet blob job_id=%s key=%s, starting fresh: %v", jobID, key, unmarshalErr)
				}
				wallet = &domain.Wallet{}
			}
		}

		fn(wallet)

		encoded, err := json.Marshal(wallet)
		if err != nil {
			return err
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, key, encoded, ttl)
			return nil
		})
		return err
	}

	for attempt := 0; attempt < txRetries; attempt++ {
		err := s.client.Watch(ctx, transaction, key)
		if err == nil {
			return nil
		}
		if errors.Is(err, redis.TxFailedErr) {
			continue
		}
		return fmt.Errorf("mutate wallet %s: %w", jobID, err)
	}
	return fmt.Errorf("mutate wallet %s: transaction retries exhausted", jobID)
}

func (s *RedisJobStore) GetWallet(ctx context.Context, jobID, account string, shared bool) (*domain.Wallet, error) {
	raw, err := s.client.Get(ctx, redisWalletKey(jobID, account, shared)).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return &domain.Wallet{}, nil
		}
		return nil, fmt.Errorf("get wallet %s: %w", jobID, err)
	}
	wallet := &domain.Wallet{}
	if err := json.Unmarshal([]byte(raw), wallet); err != nil {
		if s.logger != nil {
			s.logger.Printf("corrupt wallet blob job_id=%s account=%s, treating as empty: %v", jobID, account, err)
		}
		return &domain.Wallet{}, nil
	}
	return wallet, nil
}

func (s *RedisJobStore) SaveFinalWallet(ctx context.Context, jobID string, wallet *domain.Wallet, ttl time.Duration) error {
	encoded, err := json.Marshal(wallet)
	if err != nil {
		return fmt.Errorf("encode final wallet: %w", err)
	}
	if err := s.client.Set(ctx, redisWalletKey(jobID, "", true), encoded, ttl).Err(); err != nil {
		return fmt.Errorf("save final wallet %s: %w", jobID, err)
	}
	return nil
}

func (s *RedisJobStore) MutateSummary(ctx context.Context, jobID string, ttl time.Duration, fn func(*domain.Summary)) error {
	key := summaryKey(jobID)

	transaction := func(tx *redis.Tx) error {
		summary := &domain.Summary{}
		raw, err := tx.Get(ctx, key).Result()
		if err != nil && !errors.Is(err, redis.Nil) {
			return err
		}
		if err == nil {
			if unmarshalErr := json.Unmarshal([]byte(raw), summary); unmarshalErr != nil {
				if s.logger != nil {
					s.logger.Printf("corrupt summary blob job_id=%s, starting fresh: %v", jobID, unmarshalErr)
				}
				summary = &domain.Summary{}
			}
		}

		fn(summary)

		encoded, err := json.Marshal(summary)
		if err != nil {
			return err
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, key, encoded, ttl)
			return nil
		})
		return err
	}

	for attempt := 0; attempt < txRetries; attempt++ {
		err := s.client.Watch(ctx, transaction, key)
		if err == nil {
			return nil
		}
		if errors.Is(err, redis.TxFailedErr) {
			continue
		}
		return fmt.Errorf("mutate summary %s: %w", jobID, err)
	}
	return fmt.Errorf("mutate summary %s: transaction retries exhausted", jobID)
}

func (s *RedisJobStore) GetSummary(ctx context.Context, jobID string) (*domain.Summary, error) {
	raw, err := s.client.Get(ctx, summaryKey(jobID)).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return &domain.Summary{}, nil
		}
		return nil, fmt.Errorf("get summary %s: %w", jobID, err)
	}
	summary := &domain.Summary{}
	if err := json.Unmarshal([]byte(raw), summary); err != nil {
		if s.logger != nil {
			s.logger.Printf("corrupt summary blob job_id=%s, treating as empty: %v", jobID, err)
		}
		return &domain.Summary{}, nil
	}
	return summary, nil
}

func (s *RedisJobStore) MarkConsolidationRequested(ctx context.Context, jobID string, ttl time.Duration) (bool, error) {
	if ttl <= 0 {
		ttl = time.Minute
	}
	first, err := s.client.SetNX(ctx, consolidationKey(jobID), "1", ttl).Result()
	if err != nil {
		return false, fmt.Errorf("mark consolidation %s: %w", jobID, err)
	}
	return first, nil
}

func (s *RedisJobStore) MarkAggregationDone(ctx context.Context, jobID string, ttl time.Duration) (bool, error) {
	if ttl <= 0 {
		ttl = time.Minute
	}
	first, err := s.client.SetNX(ctx, doneKey(jobID), "1", ttl).Result()
	if err != nil {
		return false, fmt.Errorf("mark done %s: %w", jobID, err)
	}
	return first, nil
}

func (s *RedisJobStore) AggregationDone(ctx context.Context, jobID string) (bool, error) {
	exists, err := s.client.Exists(ctx, doneKey(jobID)).Result()
	if err != nil {
		return false, fmt.Errorf("aggregation done %s: %w", jobID, err)
	}
	return exists > 0, nil
}

func (s *RedisJobStore) SetStatus(ctx context.Context, jobID string, status domain.JobStatus) error {
	if err := s.client.HSet(ctx, metaKey(jobID), "status", string(status)).Err(); err != nil {
		return fmt.Errorf("set status %s: %w", jobID, err)
	}
	return nil
}

func (s *RedisJobStore) FinalizeJob(ctx context.Context, jobID string, status domain.JobStatus) error {
	// Single HSET keeps status and final_emitted in one atomic update.
	if err := s.client.HSet(ctx, metaKey(jobID), "status", string(status), "final_emitted", 1).Err(); err != nil {
		return fmt.Errorf("finalize job %s: %w", jobID, err)
	}
	return nil
}
