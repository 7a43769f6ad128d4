// Package meshchat 提供无服务器的点对点聊天覆盖网络节点
//
// 节点把以下组件组装在一起：
//
//   - 路由表：按 XOR 距离分桶的 Kademlia 表
//   - 传输层：每个节点一条信道，ping/pong 存活探测
//   - 转发与缓存策略：中继给更近的节点，为离线接收者缓存消息
//   - 连接管理：PEX 交换节点资料，按路由表重连
//   - WebRTC：每个会话两条数据通道（dht、pex）
//   - 信令：信令服务器只用于首次接触，之后经覆盖网络中继
//
// # 快速开始
//
//	node, err := meshchat.New(
//	    meshchat.WithSignalingURL("wss://signal.example.org/ws"),
//	    meshchat.WithSecret([]byte("shared passphrase")),
//	)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	if err := node.Start(ctx); err != nil {
//	    log.Fatal(err)
//	}
//	defer node.Close()
//
//	sub, _ := node.Subscribe(new(types.EvtChatMessage))
//	go func() {
//	    for evt := range sub.Out() {
//	        msg := evt.(types.EvtChatMessage)
//	        text, _ := node.ReadText(msg.Message)
//	        fmt.Println(text)
//	    }
//	}()
//
//	_ = node.Connect(ctx, types.PeerDTO{PeerID: peer})
//	_, _, err = node.SendText(ctx, peer, "hello")
//
// 投递是尽力而为的：接收者不可达时消息被中继或缓存，
// 之后由周期清扫重试。
package meshchat
