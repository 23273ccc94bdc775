package storage

// Store 带前缀隔离的键值视图
type Store struct {
	db     *DB
	prefix []byte
}

// NewStore 创建前缀视图
func NewStore(db *DB, prefix string) *Store {
	return &Store{db: db, prefix: []byte(prefix)}
}

func (s *Store) key(k []byte) []byte {
	out := make([]byte, 0, len(s.prefix)+len(k))
	out = append(out, s.prefix...)
	return append(out, k...)
}

// Get 读取
func (s *Store) Get(k []byte) ([]byte, error) {
	if len(k) == 0 {
		return nil, ErrEmptyKey
	}
	return s.db.Get(s.key(k))
}

// Put 写入
func (s *Store) Put(k, v []byte) error {
	if len(k) == 0 {
		return ErrEmptyKey
	}
	return s.db.Put(s.key(k), v)
}

// Delete 删除
func (s *Store) Delete(k []byte) error {
	if len(k) == 0 {
		return ErrEmptyKey
	}
	return s.db.Delete(s.key(k))
}

// ForEach 遍历，回调收到的键已去掉前缀
func (s *Store) ForEach(fn func(k, v []byte) error) error {
	return s.db.Iterate(s.prefix, func(k, v []byte) error {
		return fn(k[len(s.prefix):], v)
	})
}

// Clear 删除视图下的全部键
func (s *Store) Clear() error {
	return s.db.DropPrefix(s.prefix)
}
