package storage

import (
	"encoding/json"
)

// Store 带前缀隔离的键值存储
type Store struct {
	db     *DB
	prefix []byte
}

// NewStore 创建前缀存储，所有键自动加上 prefix
func NewStore(db *DB, prefix string) *Store {
	return &Store{db: db, prefix: []byte(prefix)}
}

func (s *Store) key(k string) []byte {
	out := make([]byte, 0, len(s.prefix)+len(k))
	out = append(out, s.prefix...)
	return append(out, k...)
}

// Get 获取值
func (s *Store) Get(k string) ([]byte, error) {
	return s.db.Get(s.key(k))
}

// Put 写入值
func (s *Store) Put(k string, v []byte) error {
	return s.db.Put(s.key(k), v)
}

// Delete 删除键
func (s *Store) Delete(k string) error {
	return s.db.Delete(s.key(k))
}

// GetJSON 读取并反序列化 JSON 值
func (s *Store) GetJSON(k string, v interface{}) error {
	data, err := s.Get(k)
	if err != nil {
		return err
	}
	return json.Unmarshal(data, v)
}

// PutJSON 序列化并写入 JSON 值
func (s *Store) PutJSON(k string, v interface{}) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	return s.Put(k, data)
}

// Keys 返回前缀下的所有键（去掉前缀）
func (s *Store) Keys() ([]string, error) {
	var keys []string
	err := s.db.PrefixScan(s.prefix, func(key, _ []byte) bool {
		keys = append(keys, string(key[len(s.prefix):]))
		return true
	})
	return keys, err
}
