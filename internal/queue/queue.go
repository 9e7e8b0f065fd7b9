// Package queue is the file-backed offline buffer: a bounded FIFO of
// readings that survives restarts and evicts oldest-first past capacity.
package queue

import (
	"encoding/binary"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	bolt "go.etcd.io/bbolt"

	"github.com/posturedev/posturelink/internal/protocol"
)

// DefaultCapacity bounds the buffer when no capacity is configured.
const DefaultCapacity = 500

var readingsBucket = []byte("readings")

// Queue is a bounded, append-only-with-eviction FIFO of readings. All
// operations share one critical section: producers and the sync drainer
// run concurrently.
type Queue struct {
	mu       sync.Mutex
	db       *bolt.DB
	capacity int
}

// Open opens (or creates) the queue file at path.
func Open(path string, capacity int) (*Queue, error) {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}

	db, err := bolt.Open(path, 0o600, &bolt.Options{Timeout: 100 * time.Millisecond})
	if err != nil {
		return nil, fmt.Errorf("open offline queue: %w", err)
	}

	err = db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(readingsBucket)
		return err
	})
	if err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("init offline queue: %w", err)
	}

	return &Queue{db: db, capacity: capacity}, nil
}

// Enqueue appends r, evicting the oldest entries past capacity.
func (q *Queue) Enqueue(r protocol.Reading) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	value, err := json.Marshal(r)
	if err != nil {
		return err
	}

	return q.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(readingsBucket)

		// Stats() walks committed pages only and never sees this
		// transaction's deletes, so the count is read once up front and
		// counted down manually.
		c := b.Cursor()
		for n := b.Stats().KeyN; n >= q.capacity; n-- {
			k, _ := c.First()
			if k == nil {
				break
			}
			if err := b.Delete(k); err != nil {
				return err
			}
		}

		seq, err := b.NextSequence()
		if err != nil {
			return err
		}
		key := make([]byte, 8)
		binary.BigEndian.PutUint64(key, seq)
		return b.Put(key, value)
	})
}

// Peek returns up to n readings, oldest first, without removing them.
func (q *Queue) Peek(n int) ([]protocol.Reading, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	var out []protocol.Reading
	err := q.db.View(func(tx *bolt.Tx) error {
		c := tx.Bucket(readingsBucket).Cursor()
		for k, v := c.First(); k != nil && len(out) < n; k, v = c.Next() {
			var r protocol.Reading
			if err := json.Unmarshal(v, &r); err != nil {
				return err
			}
			out = append(out, r)
		}
		return nil
	})
	return out, err
}

// DropFirst removes the n oldest readings. Dropping more than the queue
// holds empties it.
func (q *Queue) DropFirst(n int) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	return q.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(readingsBucket)
		c := b.Cursor()
		for i := 0; i < n; i++ {
			k, _ := c.First()
			if k == nil {
				return nil
			}
			if err := b.Delete(k); err != nil {
				return err
			}
		}
		return nil
	})
}

// Len reports the number of buffered readings.
func (q *Queue) Len() (int, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	var n int
	err := q.db.View(func(tx *bolt.Tx) error {
		n = tx.Bucket(readingsBucket).Stats().KeyN
		return nil
	})
	return n, err
}

// Close releases the backing file.
func (q *Queue) Close() error {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.db.Close()
}
