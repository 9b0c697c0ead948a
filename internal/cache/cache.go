// Package cache はTTL付きキーバリューストアを提供する。セッショントークンの保存先として使用される。
package cache

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/dgraph-io/badger/v4"
)

// Store はTTL付きキーバリューストアのインターフェース。
type Store interface {
	// Set はキーに値を保存する。ttl経過後、キーは自動的に消滅する。
	Set(ctx context.Context, key, value string, ttl time.Duration) error
	// Get はキーの値を返す。存在しないか期限切れの場合は空文字列を返す。
	Get(ctx context.Context, key string) (string, error)
	// Delete はキーを削除する。存在しないキーの削除はエラーにならない。
	Delete(ctx context.Context, key string) error
	// Ping はストアが利用可能かどうかを返す。
	Ping(ctx context.Context) error
}

// BadgerStore はBadgerDBを使用したStore実装。
// dirが空の場合はインメモリモードで動作し、プロセス終了とともに内容は失われる。
type BadgerStore struct {
	db       *badger.DB
	inMemory bool
}

// Open はBadgerStoreを開く。
func Open(dir string) (*BadgerStore, error) {
	var opts badger.Options
	if dir == "" {
		opts = badger.DefaultOptions("").WithInMemory(true)
	} else {
		opts = badger.DefaultOptions(dir)
	}
	opts = opts.WithLoggingLevel(badger.WARNING)

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("failed to open cache at %q: %w", dir, err)
	}

	return &BadgerStore{db: db, inMemory: dir == ""}, nil
}

// Set はキーに値をTTL付きで保存する。
func (s *BadgerStore) Set(ctx context.Context, key, value string, ttl time.Duration) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	err := s.db.Update(func(txn *badger.Txn) error {
		e := badger.NewEntry([]byte(key), []byte(value)).WithTTL(ttl)
		return txn.SetEntry(e)
	})
	if err != nil {
		return fmt.Errorf("failed to set cache key: %w", err)
	}
	return nil
}

// Get はキーの値を返す。存在しない場合は空文字列を返す。
func (s *BadgerStore) Get(ctx context.Context, key string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	var value string
	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get([]byte(key))
		if err != nil {
			return err
		}
		return item.Value(func(val []byte) error {
			value = string(val)
			return nil
		})
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("failed to get cache key: %w", err)
	}
	return value, nil
}

// Delete はキーを削除する。
func (s *BadgerStore) Delete(ctx context.Context, key string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	err := s.db.Update(func(txn *badger.Txn) error {
		return txn.Delete([]byte(key))
	})
	if err != nil {
		return fmt.Errorf("failed to delete cache key: %w", err)
	}
	return nil
}

// Ping はDBが閉じられていないかを確認する。
func (s *BadgerStore) Ping(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if s.db.IsClosed() {
		return errors.New("cache is closed")
	}
	return nil
}

// RunGC はctxがキャンセルされるまでinterval間隔で値ログのGCを実行する。
// インメモリモードでは値ログが存在しないため何もしない。
func (s *BadgerStore) RunGC(ctx context.Context, interval time.Duration) {
	if s.inMemory {
		return
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			// 1回のGCで回収できるだけ回収する
			for {
				if err := s.db.RunValueLogGC(0.5); err != nil {
					if !errors.Is(err, badger.ErrNoRewrite) {
						slog.Warn("cache value log GC failed", slog.String("error", err.Error()))
					}
					break
				}
			}
		}
	}
}

// Close はDBを閉じる。
func (s *BadgerStore) Close() error {
	return s.db.Close()
}

// compile-time interface check
var _ Store = (*BadgerStore)(nil)
