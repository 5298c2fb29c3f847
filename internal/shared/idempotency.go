package shared

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Idempotency record statuses.
const (
	IdempotencyProcessing = "PROCESSING"
	IdempotencyCompleted  = "COMPLETED"
)

// BeginResult reports the outcome of an idempotency check.
type BeginResult struct {
	// Fresh is true when the key was created and the caller must execute the
	// operation and finish with Complete (or Abort on failure).
	Fresh bool
	// Response holds the stored payload of a previously completed request
	// when Fresh is false.
	Response []byte
}

// IdempotencyStore deduplicates externally retried mutating requests keyed
// by (scope, actor, client-supplied token).
type IdempotencyStore struct {
	pool *pgxpool.Pool
}

// NewIdempotencyStore constructs the store.
func NewIdempotencyStore(pool *pgxpool.Pool) *IdempotencyStore {
	return &IdempotencyStore{pool: pool}
}

// Begin atomically checks-and-creates the record for the key. The insert
// relies on the primary key over (scope, actor_id, token) so concurrent
// Begin calls on the same key resolve to exactly one fresh winner.
func (s *IdempotencyStore) Begin(ctx context.Context, scope, actorID, token, requestHash string) (BeginResult, error) {
	if s == nil {
		return BeginResult{}, errors.New("idempotency store not initialised")
	}
	if scope == "" || actorID == "" || token == "" {
		return BeginResult{}, errors.New("idempotency scope, actor and token required")
	}
	tag, err := s.pool.Exec(ctx,
		`INSERT INTO idempotency_keys (scope, actor_id, token, request_hash, status, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6)
		 ON CONFLICT (scope, actor_id, token) DO NOTHING`,
		scope, actorID, token, requestHash, IdempotencyProcessing, time.Now().UTC())
	if err != nil {
		return BeginResult{}, err
	}
	if tag.RowsAffected() == 1 {
		return BeginResult{Fresh: true}, nil
	}

	var storedHash, status string
	var response []byte
	err = s.pool.QueryRow(ctx,
		`SELECT request_hash, status, response FROM idempotency_keys
		 WHERE scope=$1 AND actor_id=$2 AND token=$3`,
		scope, actorID, token).Scan(&storedHash, &status, &response)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			// Row vanished between insert and select (aborted duplicate);
			// the caller retries from scratch.
			return BeginResult{}, ErrAlreadyProcessing
		}
		return BeginResult{}, err
	}
	if storedHash != requestHash {
		return BeginResult{}, ErrIdempotencyConflict
	}
	if status == IdempotencyProcessing {
		return BeginResult{}, ErrAlreadyProcessing
	}
	return BeginResult{Fresh: false, Response: response}, nil
}

// Complete stores the response payload and transitions the record to COMPLETED.
func (s *IdempotencyStore) Complete(ctx context.Context, scope, actorID, token string, response []byte) error {
	if s == nil {
		return errors.New("idempotency store not initialised")
	}
	_, err := s.pool.Exec(ctx,
		`UPDATE idempotency_keys SET status=$4, response=$5
		 WHERE scope=$1 AND actor_id=$2 AND token=$3`,
		scope, actorID, token, IdempotencyCompleted, response)
	return err
}

// Abort removes the key after a failed execution so the client may retry.
func (s *IdempotencyStore) Abort(ctx context.Context, scope, actorID, token string) error {
	if s == nil {
		return nil
	}
	_, err := s.pool.Exec(ctx,
		`DELETE FROM idempotency_keys WHERE scope=$1 AND actor_id=$2 AND token=$3 AND status=$4`,
		scope, actorID, token, IdempotencyProcessing)
	return err
}

// Cleanup removes entries older than retention.
func (s *IdempotencyStore) Cleanup(ctx context.Context, olderThan time.Duration) error {
	if s == nil {
		return nil
	}
	cutoff := time.Now().UTC().Add(-olderThan)
	_, err := s.pool.Exec(ctx, `DELETE FROM idempotency_keys WHERE created_at < $1`, cutoff)
	return err
}
