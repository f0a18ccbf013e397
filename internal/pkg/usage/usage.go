package usage

import (
	"context"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/synthhq/synth/app/models"
	"github.com/synthhq/synth/internal/pkg/cache"
	"github.com/synthhq/synth/internal/pkg/database"
)

const (
	executionCountersKey = "workflow:counters:executions"
	monthlyUsagePrefix   = "usage:executions:"

	// Monthly keys outlive the month slightly so late reads near the
	// boundary still hit.
	monthlyKeyTTL = 40 * 24 * time.Hour
)

// AddExecution increments the pending execution counter for a workflow and
// the user's monthly tally. The workflow counter is drained to the database
// by the flush worker; the monthly tally backs the fast limit check.
func AddExecution(workflowID, userID uint, now time.Time) error {
	ctx := context.Background()
	rdb := cache.GetClient()

	field := strconv.FormatUint(uint64(workflowID), 10)
	if err := rdb.HIncrBy(ctx, executionCountersKey, field, 1).Err(); err != nil {
		return err
	}

	key := monthlyKey(userID, now)
	pipe := rdb.Pipeline()
	pipe.Incr(ctx, key)
	pipe.Expire(ctx, key, monthlyKeyTTL)
	_, err := pipe.Exec(ctx)
	return err
}

// MonthlyExecutions returns the user's execution count for the month of now.
// On a cache miss the count is rebuilt from the database and cached.
func MonthlyExecutions(userID uint, now time.Time) (int64, error) {
	ctx := context.Background()
	rdb := cache.GetClient()
	key := monthlyKey(userID, now)

	val, err := rdb.Get(ctx, key).Int64()
	if err == nil {
		return val, nil
	}
	if err != redis.Nil {
		return 0, err
	}

	monthStart := time.Date(now.UTC().Year(), now.UTC().Month(), 1, 0, 0, 0, 0, time.UTC)
	var count int64
	db := database.GetDB()
	if err := db.Model(&models.WorkflowExecution{}).
		Where("user_id = ? AND started_at >= ?", userID, monthStart).
		Count(&count).Error; err != nil {
		return 0, err
	}

	if err := rdb.Set(ctx, key, count, monthlyKeyTTL).Err(); err != nil {
		return count, nil
	}
	return count, nil
}

// ResetMonthly drops the cached monthly tally so the next read rebuilds from
// the database. Used after reconciliation corrections.
func ResetMonthly(userID uint, now time.Time) error {
	return cache.GetClient().Del(context.Background(), monthlyKey(userID, now)).Err()
}

func monthlyKey(userID uint, now time.Time) string {
	u := now.UTC()
	return fmt.Sprintf("%s%d:%04d-%02d", monthlyUsagePrefix, userID, u.Year(), int(u.Month()))
}

// FlushAll drains the pending workflow execution counters to the database.
func FlushAll() error {
	return flushHashToTable(executionCountersKey, "workflows", "execution_count")
}

// flushHashToTable drains a Redis hash atomically and applies batched increments.
// Uses RENAME to a temporary key for atomic drain without losing in-flight increments.
func flushHashToTable(redisKey, table, column string) error {
	ctx := context.Background()
	rdb := cache.GetClient()

	tmpKey := fmt.Sprintf("%s:tmp:%d", redisKey, time.Now().UnixNano())
	if err := rdb.Do(ctx, "RENAME", redisKey, tmpKey).Err(); err != nil {
		// If key does not exist, nothing to flush
		if strings.Contains(strings.ToLower(err.Error()), "no such key") {
			return nil
		}
		if err == redis.Nil || err.Error() == "redis: nil" {
			return nil
		}
		return err
	}

	// Ensure cleanup of tmpKey even if later steps fail
	defer rdb.Del(ctx, tmpKey)

	data, err := rdb.HGetAll(ctx, tmpKey).Result()
	if err != nil {
		return err
	}
	if len(data) == 0 {
		return nil
	}

	type pair struct {
		id  uint64
		inc int64
	}
	pairs := make([]pair, 0, len(data))
	for k, v := range data {
		id, perr := strconv.ParseUint(k, 10, 64)
		if perr != nil {
			continue
		}
		inc, ierr := strconv.ParseInt(v, 10, 64)
		if ierr != nil || inc == 0 {
			continue
		}
		pairs = append(pairs, pair{id: id, inc: inc})
	}
	if len(pairs) == 0 {
		return nil
	}
	sort.Slice(pairs, func(i, j int) bool { return pairs[i].id < pairs[j].id })

	// UPDATE workflows SET execution_count = execution_count + CASE id WHEN ? THEN ? ... END WHERE id IN (...)
	var builder strings.Builder
	args := make([]interface{}, 0, len(pairs)*3)
	builder.WriteString("UPDATE ")
	builder.WriteString(table)
	builder.WriteString(" SET ")
	builder.WriteString(column)
	builder.WriteString(" = ")
	builder.WriteString(column)
	builder.WriteString(" + CASE id ")
	for _, p := range pairs {
		builder.WriteString(" WHEN ? THEN ?")
		args = append(args, p.id, p.inc)
	}
	builder.WriteString(" END WHERE id IN (")
	for i, p := range pairs {
		if i > 0 {
			builder.WriteString(",")
		}
		builder.WriteString("?")
		args = append(args, p.id)
	}
	builder.WriteString(")")

	db := database.GetDB()
	return db.Exec(builder.String(), args...).Error
}
