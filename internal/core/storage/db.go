package storage

import (
	"bytes"
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/dgraph-io/badger/v4"

	"github.com/dep2p/go-meshchat/pkg/lib/log"
)

var logger = log.Logger("core/storage")

// DB BadgerDB 存储引擎
type DB struct {
	db     *badger.DB
	cfg    Config
	closed atomic.Bool

	gcCtx    context.Context
	gcCancel context.CancelFunc
	gcWg     sync.WaitGroup
}

// Open 打开数据库并启动值日志垃圾回收
func Open(cfg Config) (*DB, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	opts := badger.DefaultOptions(cfg.Path)
	if cfg.InMemory {
		opts = badger.DefaultOptions("").WithInMemory(true)
	}
	opts = opts.
		WithSyncWrites(cfg.SyncWrites).
		WithLogger(badgerLogger{})

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("open badger: %w", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	d := &DB{
		db:       db,
		cfg:      cfg,
		gcCtx:    ctx,
		gcCancel: cancel,
	}
	if cfg.GCInterval > 0 && !cfg.InMemory {
		d.startGC()
	}
	logger.Debug("数据库已打开", "path", cfg.Path, "in_memory", cfg.InMemory)
	return d, nil
}

// startGC 启动垃圾回收后台任务
func (d *DB) startGC() {
	d.gcWg.Add(1)
	go func() {
		defer d.gcWg.Done()

		ticker := time.NewTicker(d.cfg.GCInterval)
		defer ticker.Stop()

		for {
			select {
			case <-d.gcCtx.Done():
				return
			case <-ticker.C:
				d.runGC()
			}
		}
	}()
}

// runGC 回收到没有可回收空间为止
func (d *DB) runGC() {
	for !d.closed.Load() {
		if err := d.db.RunValueLogGC(d.cfg.GCDiscardRatio); err != nil {
			return
		}
	}
}

// Get 获取指定键的值
func (d *DB) Get(key []byte) ([]byte, error) {
	if d.closed.Load() {
		return nil, ErrClosed
	}
	if len(key) == 0 {
		return nil, ErrEmptyKey
	}

	var value []byte
	err := d.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(key)
		if err != nil {
			return err
		}
		value, err = item.ValueCopy(nil)
		return err
	})
	if err != nil {
		return nil, convertError(err)
	}
	return value, nil
}

// Put 设置键值对
func (d *DB) Put(key, value []byte) error {
	if d.closed.Load() {
		return ErrClosed
	}
	if len(key) == 0 {
		return ErrEmptyKey
	}
	return convertError(d.db.Update(func(txn *badger.Txn) error {
		return txn.Set(key, value)
	}))
}

// Delete 删除指定键，键不存在不是错误
func (d *DB) Delete(key []byte) error {
	if d.closed.Load() {
		return ErrClosed
	}
	if len(key) == 0 {
		return ErrEmptyKey
	}
	return convertError(d.db.Update(func(txn *badger.Txn) error {
		return txn.Delete(key)
	}))
}

// PrefixScan 按键序遍历前缀下的键值对，fn 返回 false 时停止
func (d *DB) PrefixScan(prefix []byte, fn func(key, value []byte) bool) error {
	if d.closed.Load() {
		return ErrClosed
	}
	return convertError(d.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = prefix
		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			item := it.Item()
			value, err := item.ValueCopy(nil)
			if err != nil {
				return err
			}
			if !fn(bytes.Clone(item.Key()), value) {
				return nil
			}
		}
		return nil
	}))
}

// Close 关闭数据库
func (d *DB) Close() error {
	if d.closed.Swap(true) {
		return nil
	}
	d.gcCancel()
	d.gcWg.Wait()
	return d.db.Close()
}

// badgerLogger 把 badger 日志转到组件日志，Info 和 Debug 降为 Debug
type badgerLogger struct{}

func (badgerLogger) Errorf(format string, args ...interface{}) {
	logger.Error(fmt.Sprintf(format, args...))
}

func (badgerLogger) Warningf(format string, args ...interface{}) {
	logger.Warn(fmt.Sprintf(format, args...))
}

func (badgerLogger) Infof(format string, args ...interface{}) {
	logger.Debug(fmt.Sprintf(format, args...))
}

func (badgerLogger) Debugf(format string, args ...interface{}) {
	logger.Debug(fmt.Sprintf(format, args...))
}
