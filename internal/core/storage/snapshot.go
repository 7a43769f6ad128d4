package storage

import (
	"fmt"

	"github.com/dep2p/go-meshchat/pkg/interfaces"
	"github.com/dep2p/go-meshchat/pkg/types"
)

// 快照键前缀
const (
	prefixRoutingTable = "rt/"
	prefixCache        = "cache/"
)

// SnapshotStore 按本地节点 ID 保存路由表和消息缓存
type SnapshotStore struct {
	routes *Store
	cache  *Store
}

var _ interfaces.SnapshotStore = (*SnapshotStore)(nil)

// NewSnapshotStore 在 db 上创建快照存储
func NewSnapshotStore(db *DB) *SnapshotStore {
	return &SnapshotStore{
		routes: NewStore(db, prefixRoutingTable),
		cache:  NewStore(db, prefixCache),
	}
}

// LoadRoutingTable 读取路由表快照，不存在时返回空
func (s *SnapshotStore) LoadRoutingTable(self types.NodeID) ([]types.Node, error) {
	var nodes []types.Node
	if err := s.routes.GetJSON(self.String(), &nodes); err != nil {
		if IsNotFound(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("load routing table: %w", err)
	}
	return nodes, nil
}

// SaveRoutingTable 覆盖路由表快照，空列表删除快照
func (s *SnapshotStore) SaveRoutingTable(self types.NodeID, nodes []types.Node) error {
	if len(nodes) == 0 {
		return s.routes.Delete(self.String())
	}
	if err := s.routes.PutJSON(self.String(), nodes); err != nil {
		return fmt.Errorf("save routing table: %w", err)
	}
	logger.Debug("保存路由表快照", "self", self.ShortString(), "nodes", len(nodes))
	return nil
}

// LoadCache 读取缓存快照，不存在时返回空
func (s *SnapshotStore) LoadCache(self types.NodeID) ([]types.QueuedMessage, error) {
	var entries []types.QueuedMessage
	if err := s.cache.GetJSON(self.String(), &entries); err != nil {
		if IsNotFound(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("load cache: %w", err)
	}
	return entries, nil
}

// SaveCache 覆盖缓存快照，空列表删除快照
func (s *SnapshotStore) SaveCache(self types.NodeID, entries []types.QueuedMessage) error {
	if len(entries) == 0 {
		return s.cache.Delete(self.String())
	}
	if err := s.cache.PutJSON(self.String(), entries); err != nil {
		return fmt.Errorf("save cache: %w", err)
	}
	logger.Debug("保存缓存快照", "self", self.ShortString(), "entries", len(entries))
	return nil
}

// Identities 返回保存过路由表快照的节点 ID
func (s *SnapshotStore) Identities() ([]types.NodeID, error) {
	keys, err := s.routes.Keys()
	if err != nil {
		return nil, err
	}
	ids := make([]types.NodeID, 0, len(keys))
	for _, k := range keys {
		id, err := types.ParseNodeID(k)
		if err != nil {
			continue
		}
		ids = append(ids, id)
	}
	return ids, nil
}
