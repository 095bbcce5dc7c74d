package engine

import (
	"context"
	"encoding/json"
	"time"

	log "github.com/go-pkgz/lgr"
	"github.com/pkg/errors"
	"github.com/redis/rueidis"

	"github.com/umputun/pubd/app/store"
)

// Redis implements engine.Interface with a remote redis store via rueidis.
// Each record lives under authorization:<key> and the keys are tracked in the
// authorizations index set, walked by List. Every call is guarded by a timeout.
type Redis struct {
	client  rueidis.Client
	timeout time.Duration
}

const (
	redisRecordPrefix = "authorization:"
	redisIndexKey     = "authorizations"

	defaultRedisTimeout = 10 * time.Second
)

// NewRedis makes redis-based engine for the given address
func NewRedis(address, password string, db int, timeout time.Duration) (*Redis, error) {
	client, err := rueidis.NewClient(rueidis.ClientOption{
		InitAddress: []string{address},
		Password:    password,
		SelectDB:    db,
	})
	if err != nil {
		return nil, errors.Wrapf(err, "failed to connect to redis on %s", address)
	}
	if timeout <= 0 {
		timeout = defaultRedisTimeout
	}
	log.Printf("[INFO] redis store on %s, db %d", address, db)
	return &Redis{client: client, timeout: timeout}, nil
}

// Get loads the record for the given key
func (r *Redis) Get(key string) (store.AuthRecord, error) {
	ctx, cancel := r.opCtx()
	defer cancel()

	rec := store.AuthRecord{}
	data, err := r.client.Do(ctx, r.client.B().Get().Key(redisRecordPrefix+key).Build()).ToString()
	if err != nil {
		if rueidis.IsRedisNil(err) {
			return rec, errors.Wrapf(store.ErrUnknownClient, "no record for %q", key)
		}
		return rec, errors.Wrapf(err, "can't read record for %q", key)
	}
	if err = json.Unmarshal([]byte(data), &rec); err != nil {
		return rec, errors.Wrapf(err, "can't decode record for %q", key)
	}
	return rec, nil
}

// Put saves the record for the given key and adds the key to the index set
func (r *Redis) Put(key string, rec store.AuthRecord) error {
	ctx, cancel := r.opCtx()
	defer cancel()

	data, err := json.Marshal(rec)
	if err != nil {
		return errors.Wrapf(err, "can't encode record for %q", key)
	}
	if err = r.client.Do(ctx, r.client.B().Set().Key(redisRecordPrefix+key).Value(string(data)).Build()).Error(); err != nil {
		return errors.Wrapf(err, "failed to save record for %q", key)
	}
	if err = r.client.Do(ctx, r.client.B().Sadd().Key(redisIndexKey).Member(key).Build()).Error(); err != nil {
		return errors.Wrapf(err, "failed to index record for %q", key)
	}
	return nil
}

// Exists checks if a record stored for the given key
func (r *Redis) Exists(key string) (bool, error) {
	ctx, cancel := r.opCtx()
	defer cancel()

	count, err := r.client.Do(ctx, r.client.B().Exists().Key(redisRecordPrefix+key).Build()).AsInt64()
	if err != nil {
		return false, errors.Wrapf(err, "failed to check record for %q", key)
	}
	return count > 0, nil
}

// List returns all indexed records. Members with a missing or undecodable record
// are skipped with a warning.
func (r *Redis) List() ([]store.AuthRecord, error) {
	ctx, cancel := r.opCtx()
	defer cancel()

	keys, err := r.client.Do(ctx, r.client.B().Smembers().Key(redisIndexKey).Build()).AsStrSlice()
	if err != nil {
		return nil, errors.Wrap(err, "failed to list authorization keys")
	}

	res := []store.AuthRecord{}
	for _, key := range keys {
		data, err := r.client.Do(ctx, r.client.B().Get().Key(redisRecordPrefix+key).Build()).ToString()
		if err != nil {
			log.Printf("[WARN] can't read record %s, %v", key, err)
			continue
		}
		rec := store.AuthRecord{}
		if err = json.Unmarshal([]byte(data), &rec); err != nil {
			log.Printf("[WARN] skip broken record %s, %v", key, err)
			continue
		}
		res = append(res, rec)
	}
	return res, nil
}

// Close redis client
func (r *Redis) Close() error {
	r.client.Close()
	return nil
}

func (r *Redis) opCtx() (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.Background(), r.timeout)
}
