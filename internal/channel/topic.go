// Package channel is a durable at-least-once message topic backed by bbolt,
// with a deliverer that pushes pending messages to a sink.
package channel

import (
	"context"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	"github.com/juju/clock"
	bolt "go.etcd.io/bbolt"
)

// ErrNotFound is returned when a message is no longer pending.
var ErrNotFound = errors.New("message not found")

// Message is a published payload and its delivery state.
type Message struct {
	Seq         uint64    `json:"seq"`
	ID          string    `json:"id"`
	Data        []byte    `json:"data"`
	PublishTime time.Time `json:"publish_time"`
	Attempts    int       `json:"attempts"`
	NextAttempt time.Time `json:"next_attempt"`
	LastError   string    `json:"last_error,omitempty"`
}

// Stats counts the messages held by a topic.
type Stats struct {
	Pending    int `json:"pending"`
	DeadLetter int `json:"dead_letter"`
}

// Topic stores messages until they are acknowledged or dead-lettered. It is
// safe for concurrent use.
type Topic struct {
	db      *bolt.DB
	name    string
	pending []byte
	dead    []byte
	clock   clock.Clock
}

// Open opens or creates the topic name in the bbolt file at path.
func Open(path, name string, clk clock.Clock) (*Topic, error) {
	if name == "" {
		return nil, fmt.Errorf("open topic: empty name")
	}
	if clk == nil {
		clk = clock.WallClock
	}
	dir := filepath.Dir(path)
	if dir != "" && dir != "." {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("create channel directory: %w", err)
		}
	}

	db, err := bolt.Open(path, 0600, &bolt.Options{Timeout: 2 * time.Second})
	if err != nil {
		return nil, fmt.Errorf("open channel database: %w", err)
	}

	t := &Topic{
		db:      db,
		name:    name,
		pending: []byte(name + "/pending"),
		dead:    []byte(name + "/dead"),
		clock:   clk,
	}
	if err := db.Update(func(tx *bolt.Tx) error {
		for _, b := range [][]byte{t.pending, t.dead} {
			if _, err := tx.CreateBucketIfNotExists(b); err != nil {
				return fmt.Errorf("create bucket %s: %w", b, err)
			}
		}
		return nil
	}); err != nil {
		db.Close()
		return nil, err
	}
	return t, nil
}

// Name returns the topic name.
func (t *Topic) Name() string {
	return t.name
}

// Close releases the database.
func (t *Topic) Close() error {
	if t.db == nil {
		return nil
	}
	return t.db.Close()
}

// Publish appends data to the topic and returns the message ID. It returns
// only after the message is committed to disk.
func (t *Topic) Publish(ctx context.Context, data []byte) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	now := t.clock.Now().UTC()
	msg := Message{
		ID:          uuid.NewString(),
		Data:        data,
		PublishTime: now,
		NextAttempt: now,
	}
	err := t.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(t.pending)
		seq, err := b.NextSequence()
		if err != nil {
			return err
		}
		msg.Seq = seq
		return put(b, msg)
	})
	if err != nil {
		return "", fmt.Errorf("publish to %s: %w", t.name, err)
	}
	return msg.ID, nil
}

// Due returns up to limit pending messages whose next attempt is not in the
// future, oldest first. limit <= 0 means all.
func (t *Topic) Due(limit int) ([]Message, error) {
	now := t.clock.Now()
	var out []Message
	err := t.db.View(func(tx *bolt.Tx) error {
		c := tx.Bucket(t.pending).Cursor()
		for k, v := c.First(); k != nil; k, v = c.Next() {
			var msg Message
			if err := json.Unmarshal(v, &msg); err != nil {
				return fmt.Errorf("unmarshal message %x: %w", k, err)
			}
			if msg.NextAttempt.After(now) {
				continue
			}
			out = append(out, msg)
			if limit > 0 && len(out) >= limit {
				break
			}
		}
		return nil
	})
	return out, err
}

// Ack removes a delivered message.
func (t *Topic) Ack(seq uint64) error {
	return t.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(t.pending)
		if b.Get(key(seq)) == nil {
			return ErrNotFound
		}
		return b.Delete(key(seq))
	})
}

// Nack records a failed attempt and schedules the next one at next.
func (t *Topic) Nack(msg Message, next time.Time, cause error) error {
	return t.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(t.pending)
		if b.Get(key(msg.Seq)) == nil {
			return ErrNotFound
		}
		msg.Attempts++
		msg.NextAttempt = next
		if cause != nil {
			msg.LastError = cause.Error()
		}
		return put(b, msg)
	})
}

// DeadLetter moves msg out of the pending set.
func (t *Topic) DeadLetter(msg Message, cause error) error {
	return t.db.Update(func(tx *bolt.Tx) error {
		if err := tx.Bucket(t.pending).Delete(key(msg.Seq)); err != nil {
			return err
		}
		if cause != nil {
			msg.LastError = cause.Error()
		}
		return put(tx.Bucket(t.dead), msg)
	})
}

// DeadLetters returns the dead-lettered messages, oldest first.
func (t *Topic) DeadLetters() ([]Message, error) {
	var out []Message
	err := t.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket(t.dead).ForEach(func(_, v []byte) error {
			var msg Message
			if err := json.Unmarshal(v, &msg); err != nil {
				return err
			}
			out = append(out, msg)
			return nil
		})
	})
	return out, err
}

// Stats counts pending and dead-lettered messages.
func (t *Topic) Stats() (Stats, error) {
	var s Stats
	err := t.db.View(func(tx *bolt.Tx) error {
		s.Pending = count(tx.Bucket(t.pending))
		s.DeadLetter = count(tx.Bucket(t.dead))
		return nil
	})
	return s, err
}

func count(b *bolt.Bucket) int {
	n := 0
	c := b.Cursor()
	for k, _ := c.First(); k != nil; k, _ = c.Next() {
		n++
	}
	return n
}

func put(b *bolt.Bucket, msg Message) error {
	data, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("marshal message: %w", err)
	}
	return b.Put(key(msg.Seq), data)
}

// key encodes seq big-endian so cursor order is publish order.
func key(seq uint64) []byte {
	k := make([]byte, 8)
	binary.BigEndian.PutUint64(k, seq)
	return k
}
