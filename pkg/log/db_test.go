// SPDX-License-Identifier: GPL-2.0-or-later

package log

import (
	"context"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"
	bolt "go.etcd.io/bbolt"
)

func newTestDB(t *testing.T) *DB {
	dbPath := filepath.Join(t.TempDir(), "logs.db")

	logDB := NewDB(dbPath, &sync.WaitGroup{})

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)

	err := logDB.Init(ctx)
	require.NoError(t, err)

	return logDB
}

func TestQuery(t *testing.T) {
	t.Run("working", func(t *testing.T) {
		entry1 := Entry{
			Level:  LevelError,
			Time:   4000,
			Src:    "s1",
			Stream: "eeg",
			Msg:    "msg1",
		}
		entry2 := Entry{
			Level: LevelWarning,
			Time:  3000,
			Src:   "s1",
			Msg:   "msg2",
		}
		entry3 := Entry{
			Level:  LevelInfo,
			Time:   2000,
			Src:    "s2",
			Stream: "markers",
			Msg:    "msg3",
		}

		logDB := newTestDB(t)

		require.NoError(t, logDB.saveEntry(entry1))
		require.NoError(t, logDB.saveEntry(entry2))
		require.NoError(t, logDB.saveEntry(entry3))

		cases := []struct {
			name     string
			input    Query
			expected []Entry
		}{
			{
				name: "singleLevel",
				input: Query{
					Levels:  []Level{LevelWarning},
					Sources: []string{"s1"},
				},
				expected: []Entry{entry2},
			},
			{
				name: "multipleLevels",
				input: Query{
					Levels:  []Level{LevelError, LevelWarning},
					Sources: []string{"s1"},
				},
				expected: []Entry{entry1, entry2},
			},
			{
				name: "singleSource",
				input: Query{
					Levels:  []Level{LevelError, LevelInfo},
					Sources: []string{"s1"},
				},
				expected: []Entry{entry1},
			},
			{
				name: "multipleSources",
				input: Query{
					Levels:  []Level{LevelError, LevelInfo},
					Sources: []string{"s1", "s2"},
				},
				expected: []Entry{entry1, entry3},
			},
			{
				name: "singleStream",
				input: Query{
					Levels:  []Level{LevelError, LevelInfo},
					Streams: []string{"eeg"},
				},
				expected: []Entry{entry1},
			},
			{
				name: "multipleStreams",
				input: Query{
					Levels:  []Level{LevelError, LevelInfo},
					Streams: []string{"eeg", "markers"},
				},
				expected: []Entry{entry1, entry3},
			},
			{
				name:     "all",
				input:    Query{},
				expected: []Entry{entry1, entry2, entry3},
			},
			{
				name: "limit",
				input: Query{
					Limit: 2,
				},
				expected: []Entry{entry1, entry2},
			},
			{
				name: "limit2",
				input: Query{
					Levels: []Level{LevelInfo},
					Limit:  1,
				},
				expected: []Entry{entry3},
			},
			{
				name: "exactTime",
				input: Query{
					Time: 4000,
				},
				expected: []Entry{entry2, entry3},
			},
			{
				name: "time",
				input: Query{
					Time: 3500,
				},
				expected: []Entry{entry2, entry3},
			},
		}

		for _, tc := range cases {
			t.Run(tc.name, func(t *testing.T) {
				entries, err := logDB.Query(tc.input)
				require.NoError(t, err)
				require.Equal(t, tc.expected, *entries)
			})
		}
	})
	t.Run("unmarshalErr", func(t *testing.T) {
		logDB := newTestDB(t)

		err := logDB.db.Update(func(tx *bolt.Tx) error {
			b := tx.Bucket([]byte(dbAPIversion))
			return b.Put([]byte("invalid"), []byte("nil"))
		})
		require.NoError(t, err)

		_, err = logDB.Query(Query{})
		require.Error(t, err)
	})
}

func TestDB(t *testing.T) {
	t.Run("maxKeys", func(t *testing.T) {
		logDB := newTestDB(t)
		logDB.maxKeys = 3

		for i := 1; i <= 5; i++ {
			err := logDB.saveEntry(Entry{Time: UnixMillisecond(i)})
			require.NoError(t, err)
		}

		logDB.db.View(func(tx *bolt.Tx) error {
			keyN := tx.Bucket([]byte(dbAPIversion)).Stats().KeyN
			require.Equal(t, 3, keyN)
			return nil
		})
	})
	t.Run("openDBerr", func(t *testing.T) {
		logDB := NewDB("/dev/null", &sync.WaitGroup{})
		err := logDB.Init(context.Background())
		require.Error(t, err)
	})
}
