// SPDX-License-Identifier: GPL-2.0-or-later

package log

import (
	"context"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"os"
	"sync"
	"time"

	bolt "go.etcd.io/bbolt"
)

const dbAPIversion = "1"

const defaultMaxKeys = 100000

// NewDB new log database.
func NewDB(dbPath string, wg *sync.WaitGroup) *DB {
	return &DB{
		dbPath:  dbPath,
		maxKeys: defaultMaxKeys,

		wg:     wg,
		saveWG: &sync.WaitGroup{},
	}
}

// DB log database.
type DB struct {
	dbPath  string
	maxKeys int

	db *bolt.DB
	wg *sync.WaitGroup

	// Wait for the last entry to be saved before closing the db.
	saveWG *sync.WaitGroup
}

// Init opens the database and creates the bucket.
func (logDB *DB) Init(ctx context.Context) error {
	dbOpts := &bolt.Options{
		Timeout: 1 * time.Second,
	}

	db, err := bolt.Open(logDB.dbPath, 0o600, dbOpts)
	if err != nil {
		return fmt.Errorf("could not open database: %w: %v", err, logDB.dbPath)
	}

	err = db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists([]byte(dbAPIversion))
		return err
	})
	if err != nil {
		db.Close()
		return fmt.Errorf("could not create bucket: %v, %w", dbAPIversion, err)
	}

	logDB.db = db

	logDB.wg.Add(1)
	go func() {
		<-ctx.Done()
		logDB.saveWG.Wait()
		db.Close()
		logDB.wg.Done()
	}()

	return nil
}

// SaveLogs saves entries from the logger into the database.
func (logDB *DB) SaveLogs(ctx context.Context, l *Logger) {
	feed, cancel := l.Subscribe()
	defer cancel()

	logDB.saveWG.Add(1)
	for {
		select {
		case <-ctx.Done():
			logDB.saveWG.Done()
			return
		case entry := <-feed:
			if err := logDB.saveEntry(entry); err != nil {
				fmt.Fprintf(os.Stderr, "could not save log: %v %v", entry.Msg, err)
				l.Error().Src("app").Msgf("could not save log: '%v' %v", entry.Msg, err)
			}
		}
	}
}

func (logDB *DB) saveEntry(entry Entry) error {
	key := encodeKey(uint64(entry.Time))
	value := encodeValue(entry)

	return logDB.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket([]byte(dbAPIversion))

		if b.Stats().KeyN >= logDB.maxKeys {
			if err := deleteFirstKey(b); err != nil {
				return fmt.Errorf("could not delete first key: %w", err)
			}
		}
		return b.Put(key, value)
	})
}

func deleteFirstKey(b *bolt.Bucket) error {
	k, _ := b.Cursor().First()
	return b.Delete(k)
}

// Query database query.
type Query struct {
	Levels  []Level
	Time    UnixMillisecond
	Sources []string
	Streams []string
	Limit   int
}

// Query entries in the database, newest first.
func (logDB *DB) Query(q Query) (*[]Entry, error) {
	var entries []Entry

	err := logDB.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket([]byte(dbAPIversion))
		c := b.Cursor()

		var entry Entry
		filterEntry := func(rawEntry []byte) error {
			if err := json.Unmarshal(rawEntry, &entry); err != nil {
				return fmt.Errorf("could not unmarshal entry: %w", err)
			}

			if !LevelInLevels(entry.Level, q.Levels) {
				return nil
			}
			if !StringInStrings(entry.Src, q.Sources) {
				return nil
			}
			if !StringInStrings(entry.Stream, q.Streams) {
				return nil
			}

			entries = append(entries, entry)
			return nil
		}

		if q.Time == 0 {
			_, value := c.Last()
			if value == nil {
				return nil
			}
			if err := filterEntry(value); err != nil {
				return err
			}
		} else {
			c.Seek(encodeKey(uint64(q.Time)))
		}

		limit := q.Limit
		if limit == 0 {
			limit = defaultMaxKeys
		}

		for len(entries) < limit {
			key, value := c.Prev()
			if key == nil {
				return nil
			}
			if err := filterEntry(value); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	return &entries, nil
}

func encodeKey(key uint64) []byte {
	output := make([]byte, 8)
	binary.BigEndian.PutUint64(output, key)
	return output
}

func encodeValue(entry Entry) []byte {
	value, _ := json.Marshal(entry)
	return value
}
