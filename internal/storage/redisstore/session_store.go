package redisstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/JakeFAU/storefinder/internal/crawler"
)

const (
	defaultTTL       = 48 * time.Hour
	defaultScanCount = 200
	flagSet          = "1"
	flagClear        = "0"
)

// Every session owns the queries key for its whole life, so scripts use it as
// the liveness anchor and copy its TTL onto the field they touch.
var createScript = redis.NewScript(`
if redis.call('EXISTS', KEYS[1]) == 1 then
	return 0
end
for i = 1, #KEYS do
	redis.call('SET', KEYS[i], ARGV[i + 1], 'PX', ARGV[1])
end
return 1
`)

var appendScript = redis.NewScript(`
local ttl = redis.call('PTTL', KEYS[1])
if ttl == -2 then
	return 0
end
redis.call('RPUSH', KEYS[2], ARGV[1])
if ttl > 0 then
	redis.call('PEXPIRE', KEYS[2], ttl)
end
return 1
`)

var writeScript = redis.NewScript(`
local ttl = redis.call('PTTL', KEYS[1])
if ttl == -2 then
	return 0
end
for i = 2, #KEYS do
	redis.call('SET', KEYS[i], ARGV[i - 1])
	if ttl > 0 then
		redis.call('PEXPIRE', KEYS[i], ttl)
	end
end
return 1
`)

var pollScript = redis.NewScript(`
local ttl = redis.call('PTTL', KEYS[1])
if ttl == -2 then
	return false
end
local cursor = tonumber(redis.call('GET', KEYS[2]) or '0')
local msgs = redis.call('LRANGE', KEYS[3], cursor, -1)
redis.call('SET', KEYS[2], tostring(cursor + #msgs))
if ttl > 0 then
	redis.call('PEXPIRE', KEYS[2], ttl)
end
local finished = redis.call('GET', KEYS[4]) or '0'
local results = ''
if finished == '1' then
	results = redis.call('GET', KEYS[5]) or ''
end
return {finished, results, msgs}
`)

// resultScript returns the stored result only once the finished flag is set.
var resultScript = redis.NewScript(`
if redis.call('PTTL', KEYS[1]) == -2 then
	return false
end
local finished = redis.call('GET', KEYS[2]) or '0'
if finished ~= '1' then
	return {finished, ''}
end
return {finished, redis.call('GET', KEYS[3]) or ''}
`)

// releaseScript lowers each key's TTL to ARGV[1] ms but never raises it, so
// repeated releases cannot extend a session.
var releaseScript = redis.NewScript(`
local grace = tonumber(ARGV[1])
for i = 1, #KEYS do
	local ttl = redis.call('PTTL', KEYS[i])
	if ttl == -1 or ttl > grace then
		redis.call('PEXPIRE', KEYS[i], grace)
	end
end
return 1
`)

// Options tunes the Redis session store.
type Options struct {
	// TTL bounds every session key so abandoned sessions disappear even when
	// the sweep never runs.
	TTL       time.Duration
	ScanCount int64
	Logger    *zap.Logger
}

// SessionStore implements crawler.SessionStore on Redis.
type SessionStore struct {
	client    redis.UniversalClient
	ttl       time.Duration
	scanCount int64
	logger    *zap.Logger
}

// NewSessionStore wraps client.
func NewSessionStore(client redis.UniversalClient, opts Options) (*SessionStore, error) {
	if client == nil {
		return nil, errors.New("redis client is required")
	}
	if opts.TTL <= 0 {
		opts.TTL = defaultTTL
	}
	if opts.ScanCount <= 0 {
		opts.ScanCount = defaultScanCount
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	return &SessionStore{
		client:    client,
		ttl:       opts.TTL,
		scanCount: opts.ScanCount,
		logger:    opts.Logger.Named("session_store"),
	}, nil
}

// Create writes the initial session fields in one script.
func (s *SessionStore) Create(ctx context.Context, ref crawler.SearchRef, groups []crawler.QueryGroup) error {
	queries, err := json.Marshal(groups)
	if err != nil {
		return fmt.Errorf("encode queries: %w", err)
	}
	keys := []string{
		ref.Key(crawler.FieldQueries),
		ref.Key(crawler.FieldStopFlag),
		ref.Key(crawler.FieldFinished),
		ref.Key(crawler.FieldReadCursor),
	}
	created, err := createScript.Run(ctx, s.client, keys,
		s.ttl.Milliseconds(), string(queries), flagClear, flagClear, "0").Int()
	if err != nil {
		return fmt.Errorf("create session %s: %w", ref, err)
	}
	if created == 0 {
		return fmt.Errorf("create session %s: already exists", ref)
	}
	return nil
}

// Exists reports whether the session anchor key is present.
func (s *SessionStore) Exists(ctx context.Context, ref crawler.SearchRef) (bool, error) {
	n, err := s.client.Exists(ctx, ref.Key(crawler.FieldQueries)).Result()
	if err != nil {
		return false, fmt.Errorf("check session %s: %w", ref, err)
	}
	return n > 0, nil
}

// Append pushes one message onto the session list.
func (s *SessionStore) Append(ctx context.Context, ref crawler.SearchRef, message string) error {
	keys := []string{ref.Key(crawler.FieldQueries), ref.Key(crawler.FieldMessages)}
	ok, err := appendScript.Run(ctx, s.client, keys, message).Int()
	if err != nil {
		return fmt.Errorf("append message %s: %w", ref, err)
	}
	if ok == 0 {
		return crawler.ErrNotFound
	}
	return nil
}

// RequestStop raises the stop flag.
func (s *SessionStore) RequestStop(ctx context.Context, ref crawler.SearchRef) error {
	return s.write(ctx, ref, map[string]string{crawler.FieldStopFlag: flagSet})
}

// StopRequested reads the stop flag.
func (s *SessionStore) StopRequested(ctx context.Context, ref crawler.SearchRef) (bool, error) {
	val, err := s.client.Get(ctx, ref.Key(crawler.FieldStopFlag)).Result()
	if errors.Is(err, redis.Nil) {
		return false, crawler.ErrNotFound
	}
	if err != nil {
		return false, fmt.Errorf("read stop flag %s: %w", ref, err)
	}
	return val == flagSet, nil
}

// SaveResult stores the JSON-encoded result set.
func (s *SessionStore) SaveResult(ctx context.Context, ref crawler.SearchRef, result crawler.ResultSet) error {
	payload, err := json.Marshal(result)
	if err != nil {
		return fmt.Errorf("encode result: %w", err)
	}
	return s.write(ctx, ref, map[string]string{crawler.FieldResults: string(payload)})
}

// MarkFinished sets the finished flag and timestamp together.
func (s *SessionStore) MarkFinished(ctx context.Context, ref crawler.SearchRef, at time.Time) error {
	return s.write(ctx, ref, map[string]string{
		crawler.FieldFinished:   flagSet,
		crawler.FieldFinishedAt: at.UTC().Format(time.RFC3339Nano),
	})
}

// Poll reads messages past the cursor and advances it in one script.
func (s *SessionStore) Poll(ctx context.Context, ref crawler.SearchRef) (crawler.Snapshot, error) {
	keys := []string{
		ref.Key(crawler.FieldQueries),
		ref.Key(crawler.FieldReadCursor),
		ref.Key(crawler.FieldMessages),
		ref.Key(crawler.FieldFinished),
		ref.Key(crawler.FieldResults),
	}
	reply, err := pollScript.Run(ctx, s.client, keys).Slice()
	if errors.Is(err, redis.Nil) {
		return crawler.Snapshot{}, crawler.ErrNotFound
	}
	if err != nil {
		return crawler.Snapshot{}, fmt.Errorf("poll session %s: %w", ref, err)
	}
	if len(reply) != 3 {
		return crawler.Snapshot{}, fmt.Errorf("poll session %s: unexpected reply length %d", ref, len(reply))
	}

	finished, _ := reply[0].(string)
	raw, _ := reply[1].(string)
	items, _ := reply[2].([]any)
	snap := crawler.Snapshot{
		Messages: make([]string, 0, len(items)),
		Finished: finished == flagSet,
	}
	for _, item := range items {
		if msg, ok := item.(string); ok {
			snap.Messages = append(snap.Messages, msg)
		}
	}
	if raw != "" {
		result, err := decodeResult(raw)
		if err != nil {
			return crawler.Snapshot{}, fmt.Errorf("poll session %s: %w", ref, err)
		}
		snap.Result = result
	}
	return snap, nil
}

// Result returns the stored result set once the search has finished.
func (s *SessionStore) Result(ctx context.Context, ref crawler.SearchRef) (crawler.ResultSet, bool, error) {
	keys := []string{
		ref.Key(crawler.FieldQueries),
		ref.Key(crawler.FieldFinished),
		ref.Key(crawler.FieldResults),
	}
	reply, err := resultScript.Run(ctx, s.client, keys).Slice()
	if errors.Is(err, redis.Nil) {
		return nil, false, crawler.ErrNotFound
	}
	if err != nil {
		return nil, false, fmt.Errorf("read result %s: %w", ref, err)
	}
	if len(reply) != 2 {
		return nil, false, fmt.Errorf("read result %s: unexpected reply length %d", ref, len(reply))
	}
	finished, _ := reply[0].(string)
	raw, _ := reply[1].(string)
	if finished != flagSet || raw == "" {
		return nil, false, nil
	}
	result, err := decodeResult(raw)
	if err != nil {
		return nil, false, fmt.Errorf("read result %s: %w", ref, err)
	}
	return result, true, nil
}

// Release lowers every session key's expiry to the grace period. Keys that
// already expire sooner keep their TTL.
func (s *SessionStore) Release(ctx context.Context, ref crawler.SearchRef, grace time.Duration) error {
	keys := make([]string, 0, len(crawler.SessionFields))
	for _, field := range crawler.SessionFields {
		keys = append(keys, ref.Key(field))
	}
	if err := releaseScript.Run(ctx, s.client, keys, grace.Milliseconds()).Err(); err != nil {
		return fmt.Errorf("release session %s: %w", ref, err)
	}
	return nil
}

// Sweep deletes finished sessions whose finish time is before cutoff.
func (s *SessionStore) Sweep(ctx context.Context, cutoff time.Time) (int, error) {
	suffix := ":" + crawler.FieldFinished
	removed := 0
	iter := s.client.Scan(ctx, 0, "*"+suffix, s.scanCount).Iterator()
	for iter.Next(ctx) {
		prefix := strings.TrimSuffix(iter.Val(), suffix)
		stale, err := s.staleSession(ctx, prefix, cutoff)
		if err != nil {
			s.logger.Warn("skipping session during sweep", zap.String("session", prefix), zap.Error(err))
			continue
		}
		if !stale {
			continue
		}
		keys := make([]string, 0, len(crawler.SessionFields))
		for _, field := range crawler.SessionFields {
			keys = append(keys, prefix+":"+field)
		}
		if err := s.client.Del(ctx, keys...).Err(); err != nil {
			return removed, fmt.Errorf("delete session %s: %w", prefix, err)
		}
		removed++
	}
	if err := iter.Err(); err != nil {
		return removed, fmt.Errorf("scan sessions: %w", err)
	}
	return removed, nil
}

// Ping checks connectivity.
func (s *SessionStore) Ping(ctx context.Context) error {
	if err := s.client.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("redis ping: %w", err)
	}
	return nil
}

// Queries returns the query groups the session was created with.
func (s *SessionStore) Queries(ctx context.Context, ref crawler.SearchRef) ([]crawler.QueryGroup, error) {
	raw, err := s.client.Get(ctx, ref.Key(crawler.FieldQueries)).Result()
	if errors.Is(err, redis.Nil) {
		return nil, crawler.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("read queries %s: %w", ref, err)
	}
	var groups []crawler.QueryGroup
	if err := json.Unmarshal([]byte(raw), &groups); err != nil {
		return nil, fmt.Errorf("decode queries %s: %w", ref, err)
	}
	return groups, nil
}

func (s *SessionStore) write(ctx context.Context, ref crawler.SearchRef, fields map[string]string) error {
	keys := []string{ref.Key(crawler.FieldQueries)}
	args := make([]any, 0, len(fields))
	for field, value := range fields {
		keys = append(keys, ref.Key(field))
		args = append(args, value)
	}
	ok, err := writeScript.Run(ctx, s.client, keys, args...).Int()
	if err != nil {
		return fmt.Errorf("write session %s: %w", ref, err)
	}
	if ok == 0 {
		return crawler.ErrNotFound
	}
	return nil
}

func (s *SessionStore) staleSession(ctx context.Context, prefix string, cutoff time.Time) (bool, error) {
	vals, err := s.client.MGet(ctx,
		prefix+":"+crawler.FieldFinished,
		prefix+":"+crawler.FieldFinishedAt,
	).Result()
	if err != nil {
		return false, err
	}
	finished, _ := vals[0].(string)
	if finished != flagSet {
		return false, nil
	}
	raw, _ := vals[1].(string)
	at, err := time.Parse(time.RFC3339Nano, raw)
	if err != nil {
		return false, fmt.Errorf("parse finished_at %q: %w", raw, err)
	}
	return at.Before(cutoff), nil
}

func decodeResult(raw string) (crawler.ResultSet, error) {
	var result crawler.ResultSet
	if err := json.Unmarshal([]byte(raw), &result); err != nil {
		return nil, fmt.Errorf("decode result: %w", err)
	}
	return result, nil
}
