// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package history

import (
	"context"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"github.com/AleutianAI/AleutianDocQA/pkg/storage/badger"
	"github.com/AleutianAI/AleutianDocQA/services/orchestrator/datatypes"
	badgerdb "github.com/dgraph-io/badger/v4"
)

// maxConflictRetries bounds retries of an Append that lost a write race.
const maxConflictRetries = 3

// BadgerStore keeps history in BadgerDB.
//
// Layout:
//
//	seq/<session>            -> uint64 next sequence number
//	turn/<session>/<seq BE>  -> JSON turn
type BadgerStore struct {
	db *badger.DB
}

// OpenBadgerStore opens or creates a store in dir.
func OpenBadgerStore(dir string) (*BadgerStore, error) {
	db, err := badger.Open(badger.DefaultConfig(dir))
	if err != nil {
		return nil, err
	}
	slog.Info("history store opened", "backend", "badger", "path", dir)
	return &BadgerStore{db: db}, nil
}

// NewBadgerStore wraps an already open database.
func NewBadgerStore(db *badger.DB) *BadgerStore {
	return &BadgerStore{db: db}
}

func seqKey(sessionID string) []byte {
	return []byte("seq/" + sessionID)
}

func turnPrefix(sessionID string) []byte {
	return []byte("turn/" + sessionID + "/")
}

func turnKey(sessionID string, seq uint64) []byte {
	key := turnPrefix(sessionID)
	return binary.BigEndian.AppendUint64(key, seq)
}

func (s *BadgerStore) Append(ctx context.Context, sessionID string, turns ...datatypes.Turn) error {
	if len(turns) == 0 {
		return nil
	}
	var err error
	for attempt := 0; attempt < maxConflictRetries; attempt++ {
		err = s.db.WithTxn(ctx, func(txn *badgerdb.Txn) error {
			next, err := readSeq(txn, sessionID)
			if err != nil {
				return err
			}
			for _, turn := range turns {
				val, err := json.Marshal(turn)
				if err != nil {
					return fmt.Errorf("marshal turn: %w", err)
				}
				if err := txn.Set(turnKey(sessionID, next), val); err != nil {
					return err
				}
				next++
			}
			return txn.Set(seqKey(sessionID), binary.BigEndian.AppendUint64(nil, next))
		})
		if !errors.Is(err, badgerdb.ErrConflict) {
			break
		}
	}
	if err != nil {
		return fmt.Errorf("append history for session %s: %w", sessionID, err)
	}
	return nil
}

func readSeq(txn *badgerdb.Txn, sessionID string) (uint64, error) {
	item, err := txn.Get(seqKey(sessionID))
	if errors.Is(err, badgerdb.ErrKeyNotFound) {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	var next uint64
	err = item.Value(func(val []byte) error {
		if len(val) != 8 {
			return fmt.Errorf("corrupt sequence value for session %s", sessionID)
		}
		next = binary.BigEndian.Uint64(val)
		return nil
	})
	return next, err
}

func (s *BadgerStore) Load(ctx context.Context, sessionID string) ([]datatypes.Turn, error) {
	var turns []datatypes.Turn
	err := s.db.WithReadTxn(ctx, func(txn *badgerdb.Txn) error {
		opts := badgerdb.DefaultIteratorOptions
		opts.Prefix = turnPrefix(sessionID)
		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Rewind(); it.Valid(); it.Next() {
			var turn datatypes.Turn
			if err := it.Item().Value(func(val []byte) error {
				return json.Unmarshal(val, &turn)
			}); err != nil {
				return fmt.Errorf("decode turn: %w", err)
			}
			turns = append(turns, turn)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("load history for session %s: %w", sessionID, err)
	}
	return turns, nil
}

func (s *BadgerStore) Delete(ctx context.Context, sessionID string) error {
	err := s.db.WithTxn(ctx, func(txn *badgerdb.Txn) error {
		opts := badgerdb.DefaultIteratorOptions
		opts.PrefetchValues = false
		opts.Prefix = turnPrefix(sessionID)
		it := txn.NewIterator(opts)

		var keys [][]byte
		for it.Rewind(); it.Valid(); it.Next() {
			keys = append(keys, it.Item().KeyCopy(nil))
		}
		it.Close()

		for _, k := range keys {
			if err := txn.Delete(k); err != nil {
				return err
			}
		}
		return txn.Delete(seqKey(sessionID))
	})
	if err != nil {
		return fmt.Errorf("delete history for session %s: %w", sessionID, err)
	}
	return nil
}

func (s *BadgerStore) Close() error {
	return s.db.Close()
}

var _ Store = (*BadgerStore)(nil)
