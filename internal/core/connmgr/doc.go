// Package connmgr 维护覆盖网络的连通性
//
// # 核心功能
//
// 1. 节点登记 - 记录已连接节点的资料、PEX 信道和会话
//
// 2. 引导 - 只执行一次，按错峰延迟依次：
//   - 记录已连接节点的资料快照
//   - 向选中的 PEX 信道请求 MinConnections 个节点
//   - 通过 DHT 中继信令重连最多 k 个路由表节点
//
// 3. PEX - 回答节点请求；处理节点公告：去重、过滤、发起连接，
// 不足 MinConnections 时从被过滤的节点中补齐
//
// 4. 准入过滤 - 年龄范围、性别位、意图位和可选的地理距离
//
// 5. 屏蔽 - Gater 维护屏蔽节点集合，同时作为传输层的 Blocklist
//
// 连接的实际建立（ICE/SDP）委托给 Connector。
//
// # 快速开始
//
//	mgr, err := connmgr.New(cfg, self, connector,
//	    connmgr.WithRouter(dht.Table()),
//	)
//	mgr.AddPeer(profile, pexChannel, session)
//	go mgr.Bootstrap(ctx)
package connmgr
