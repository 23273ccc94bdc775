package storage

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sync"
	"sync/atomic"

	"github.com/benbjohnson/clock"
	"github.com/dgraph-io/badger/v4"

	"github.com/retoro/go-retoro/internal/util/logger"
)

var log = logger.Logger("storage")

// DB BadgerDB 封装
//
// New 只创建句柄，Start 时才打开目录；未打开或已关闭时访问返回 ErrClosed。
type DB struct {
	db     atomic.Pointer[badger.DB]
	cfg    Config
	clock  clock.Clock
	closed atomic.Bool

	mu     sync.Mutex
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// New 创建数据库句柄，不打开目录
func New(cfg Config, clk clock.Clock) (*DB, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if clk == nil {
		clk = clock.New()
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &DB{cfg: cfg, clock: clk, ctx: ctx, cancel: cancel}, nil
}

// Open 打开（必要时创建）数据库
func Open(cfg Config, clk clock.Clock) (*DB, error) {
	d, err := New(cfg, clk)
	if err != nil {
		return nil, err
	}
	if err := d.open(); err != nil {
		d.cancel()
		return nil, err
	}
	return d, nil
}

func (d *DB) open() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed.Load() {
		return ErrClosed
	}
	if d.db.Load() != nil {
		return nil
	}
	if err := os.MkdirAll(d.cfg.Dir, 0o700); err != nil {
		return fmt.Errorf("storage: create dir: %w", err)
	}

	opts := badger.DefaultOptions(d.cfg.Dir).
		WithSyncWrites(d.cfg.SyncWrites).
		WithNumVersionsToKeep(1).
		WithLogger(badgerLogger{})

	db, err := badger.Open(opts)
	if err != nil {
		return fmt.Errorf("storage: open %s: %w", d.cfg.Dir, err)
	}
	d.db.Store(db)
	log.Debug("存储已打开", "dir", d.cfg.Dir)
	return nil
}

// Start 打开数据库（尚未打开时）并启动后台垃圾回收
func (d *DB) Start() error {
	if err := d.open(); err != nil {
		return err
	}
	if d.cfg.GCInterval > 0 {
		d.wg.Add(1)
		go d.gcLoop()
	}
	return nil
}

// handle 已打开且未关闭的 badger 实例
func (d *DB) handle() (*badger.DB, error) {
	db := d.db.Load()
	if db == nil || d.closed.Load() {
		return nil, ErrClosed
	}
	return db, nil
}

func (d *DB) gcLoop() {
	defer d.wg.Done()
	ticker := d.clock.Ticker(d.cfg.GCInterval)
	defer ticker.Stop()
	for {
		select {
		case <-d.ctx.Done():
			return
		case <-ticker.C:
			d.runGC()
		}
	}
}

// runGC 反复回收直到没有可回收的空间
func (d *DB) runGC() {
	for {
		db, err := d.handle()
		if err != nil {
			return
		}
		if err := db.RunValueLogGC(d.cfg.GCDiscardRatio); err != nil {
			return
		}
	}
}

// Close 关闭数据库，可重复调用；从未打开时只标记为关闭
func (d *DB) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed.Swap(true) {
		return nil
	}
	d.cancel()
	d.wg.Wait()
	if db := d.db.Load(); db != nil {
		log.Debug("存储已关闭", "dir", d.cfg.Dir)
		return db.Close()
	}
	return nil
}

// Get 读取键值，不存在时返回 ErrNotFound
func (d *DB) Get(key []byte) ([]byte, error) {
	db, err := d.handle()
	if err != nil {
		return nil, err
	}
	if len(key) == 0 {
		return nil, ErrEmptyKey
	}
	var value []byte
	err = db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(key)
		if err != nil {
			return err
		}
		value, err = item.ValueCopy(nil)
		return err
	})
	return value, convertError(err)
}

// Put 写入键值
func (d *DB) Put(key, value []byte) error {
	db, err := d.handle()
	if err != nil {
		return err
	}
	if len(key) == 0 {
		return ErrEmptyKey
	}
	return convertError(db.Update(func(txn *badger.Txn) error {
		return txn.Set(key, value)
	}))
}

// Delete 删除键，键不存在不算错误
func (d *DB) Delete(key []byte) error {
	db, err := d.handle()
	if err != nil {
		return err
	}
	if len(key) == 0 {
		return ErrEmptyKey
	}
	return convertError(db.Update(func(txn *badger.Txn) error {
		return txn.Delete(key)
	}))
}

// Iterate 按键序遍历前缀下的所有键值，fn 返回错误时停止
func (d *DB) Iterate(prefix []byte, fn func(key, value []byte) error) error {
	db, err := d.handle()
	if err != nil {
		return err
	}
	return db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = prefix
		it := txn.NewIterator(opts)
		defer it.Close()
		for it.Rewind(); it.Valid(); it.Next() {
			item := it.Item()
			v, err := item.ValueCopy(nil)
			if err != nil {
				return err
			}
			if err := fn(item.KeyCopy(nil), v); err != nil {
				return err
			}
		}
		return nil
	})
}

// DropPrefix 删除前缀下的所有键
func (d *DB) DropPrefix(prefix []byte) error {
	db, err := d.handle()
	if err != nil {
		return err
	}
	return db.DropPrefix(prefix)
}

func convertError(err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, badger.ErrKeyNotFound):
		return ErrNotFound
	case errors.Is(err, badger.ErrEmptyKey):
		return ErrEmptyKey
	case errors.Is(err, badger.ErrDBClosed):
		return ErrClosed
	default:
		return err
	}
}

// badgerLogger 把 badger 的日志转到 slog
type badgerLogger struct{}

func (badgerLogger) Errorf(format string, args ...any) {
	log.Error(fmt.Sprintf(format, args...))
}

func (badgerLogger) Warningf(format string, args ...any) {
	log.Warn(fmt.Sprintf(format, args...))
}

func (badgerLogger) Infof(format string, args ...any) {
	log.Debug(fmt.Sprintf(format, args...))
}

func (badgerLogger) Debugf(string, ...any) {}
