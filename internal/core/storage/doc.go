// Package storage 用 BadgerDB 持久化覆盖网络快照
//
// 关闭时保存路由表和消息缓存，启动时恢复。快照按本地节点 ID 分区，
// 同一数据目录可以承载多个身份。
//
// # 键空间设计
//
//	前缀       | 内容
//	-----------|--------------------------
//	rt/<id>    | 路由表节点列表（JSON）
//	cache/<id> | 缓存的消息条目（JSON）
//
// DB 是引擎层，Store 在其上提供前缀隔离，SnapshotStore 实现
// interfaces.SnapshotStore。
package storage
