package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"ms-tiket/internal/models"
	"strconv"

	"github.com/go-redis/redis/v8"
)

// ErrStaleWrite means a ticket type changed between validation and commit.
var ErrStaleWrite = errors.New("stale ticket type record")

// Store is a ledger.Store that keeps each record as JSON in a Redis hash.
// Commits run as WATCH + MULTI/EXEC on the ticket type hash.
type Store struct {
	Client *redis.Client
	Prefix string
}

func NewStore(client *redis.Client, prefix string) *Store {
	return &Store{Client: client, Prefix: prefix}
}

func (s *Store) key(name string) string {
	if s.Prefix == "" {
		return name
	}
	return s.Prefix + ":" + name
}

func (s *Store) typesKey() string       { return s.key("ticket_types") }
func (s *Store) ticketsKey() string     { return s.key("ticket_ownerships") }
func (s *Store) withdrawalsKey() string { return s.key("withdrawals") }
func (s *Store) treasuryKey() string    { return s.key("treasury") }

func (s *Store) Load(ctx context.Context) (*models.Snapshot, error) {
	snap := &models.Snapshot{}

	if err := loadHash(ctx, s.Client, s.typesKey(), &snap.Types); err != nil {
		return nil, err
	}
	if err := loadHash(ctx, s.Client, s.ticketsKey(), &snap.Tickets); err != nil {
		return nil, err
	}
	if err := loadHash(ctx, s.Client, s.withdrawalsKey(), &snap.Withdrawals); err != nil {
		return nil, err
	}

	raw, err := s.Client.Get(ctx, s.treasuryKey()).Bytes()
	switch {
	case errors.Is(err, redis.Nil):
	case err != nil:
		return nil, fmt.Errorf("get %s: %w", s.treasuryKey(), err)
	default:
		if err := json.Unmarshal(raw, &snap.Treasury); err != nil {
			return nil, fmt.Errorf("decode treasury: %w", err)
		}
	}
	return snap, nil
}

// loadHash decodes every field of a hash into out. Order is restored by
// the ledger, which sorts by id.
func loadHash[T any](ctx context.Context, client *redis.Client, key string, out *[]T) error {
	fields, err := client.HGetAll(ctx, key).Result()
	if err != nil {
		return fmt.Errorf("hgetall %s: %w", key, err)
	}
	for field, value := range fields {
		var record T
		if err := json.Unmarshal([]byte(value), &record); err != nil {
			return fmt.Errorf("decode %s[%s]: %w", key, field, err)
		}
		*out = append(*out, record)
	}
	return nil
}

func (s *Store) Commit(ctx context.Context, m models.Mutation, hook func(ctx context.Context) error) error {
	txf := func(tx *redis.Tx) error {
		if m.UpdateType != nil {
			if err := s.checkSold(ctx, tx, m.UpdateType); err != nil {
				return err
			}
		}

		_, err := tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			if m.InsertType != nil {
				if err := hset(ctx, pipe, s.typesKey(), m.InsertType.ID, m.InsertType); err != nil {
					return err
				}
			}
			if m.UpdateType != nil {
				if err := hset(ctx, pipe, s.typesKey(), m.UpdateType.ID, m.UpdateType); err != nil {
					return err
				}
			}
			if m.InsertTicket != nil {
				if err := hset(ctx, pipe, s.ticketsKey(), m.InsertTicket.ID, m.InsertTicket); err != nil {
					return err
				}
			}
			if m.InsertWithdrawal != nil {
				if err := hset(ctx, pipe, s.withdrawalsKey(), m.InsertWithdrawal.ID, m.InsertWithdrawal); err != nil {
					return err
				}
			}
			if m.Treasury != nil {
				raw, err := json.Marshal(m.Treasury)
				if err != nil {
					return fmt.Errorf("encode treasury: %w", err)
				}
				pipe.Set(ctx, s.treasuryKey(), raw, 0)
			}

			// Queued commands are discarded if the hook fails.
			if hook != nil {
				return hook(ctx)
			}
			return nil
		})
		return err
	}

	if err := s.Client.Watch(ctx, txf, s.typesKey()); err != nil {
		if errors.Is(err, redis.TxFailedErr) {
			return fmt.Errorf("commit: %w", ErrStaleWrite)
		}
		return err
	}
	return nil
}

func (s *Store) checkSold(ctx context.Context, tx *redis.Tx, updated *models.TicketType) error {
	raw, err := tx.HGet(ctx, s.typesKey(), strconv.FormatInt(updated.ID, 10)).Bytes()
	if errors.Is(err, redis.Nil) {
		return fmt.Errorf("ticket type %d: %w", updated.ID, ErrStaleWrite)
	}
	if err != nil {
		return fmt.Errorf("hget ticket type %d: %w", updated.ID, err)
	}

	var current models.TicketType
	if err := json.Unmarshal(raw, &current); err != nil {
		return fmt.Errorf("decode ticket type %d: %w", updated.ID, err)
	}
	if current.Sold != updated.Sold-1 {
		return fmt.Errorf("ticket type %d sold %d, expected %d: %w", updated.ID, current.Sold, updated.Sold-1, ErrStaleWrite)
	}
	return nil
}

func hset(ctx context.Context, pipe redis.Pipeliner, key string, id int64, record interface{}) error {
	raw, err := json.Marshal(record)
	if err != nil {
		return fmt.Errorf("encode %s[%d]: %w", key, id, err)
	}
	pipe.HSet(ctx, key, strconv.FormatInt(id, 10), raw)
	return nil
}
