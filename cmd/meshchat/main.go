// Package main 提供 meshchat 命令行入口
//
// 启动一个聊天节点，从标准输入读取命令和消息：
//
//	/connect <id>   经信令建立会话
//	/to <id>        设置当前接收者
//	/peers          列出已连接节点
//	/table          列出路由表
//	/stats          显示缓存和流量
//	/quit           退出
//
// 其他输入作为文本发送给当前接收者。
package main

import (
	"bufio"
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	meshchat "github.com/dep2p/go-meshchat"
	"github.com/dep2p/go-meshchat/config"
	"github.com/dep2p/go-meshchat/pkg/lib/log"
	"github.com/dep2p/go-meshchat/pkg/types"
)

var logger = log.Logger("meshchat/cmd")

// ═══════════════════════════════════════════════════════════════════════════
// 命令行参数
// ═══════════════════════════════════════════════════════════════════════════
var (
	configFile   = flag.String("config", "", "配置文件路径")
	nodeID       = flag.String("id", "", "节点 ID（十六进制，默认随机）")
	signalingURL = flag.String("signal", "", "信令服务器地址，例如 ws://127.0.0.1:8080/ws")
	dataDir      = flag.String("data-dir", "", "快照数据目录（为空时不保存）")
	secret       = flag.String("secret", "", "派生会话密钥的共享秘密")
	peers        = flag.String("peer", "", "启动后连接的节点 ID（逗号分隔）")
	metricsAddr  = flag.String("metrics-addr", "", "Prometheus 指标监听地址，例如 :9100")
	showHelp     = flag.Bool("help", false, "显示帮助信息")
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "错误: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	flag.Parse()
	if *showHelp {
		flag.Usage()
		return nil
	}

	opts, err := buildOptions()
	if err != nil {
		return fmt.Errorf("配置错误: %w", err)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	node, err := meshchat.New(opts...)
	if err != nil {
		return fmt.Errorf("创建节点失败: %w", err)
	}
	defer func() { _ = node.Close() }()

	if err := node.Start(ctx); err != nil {
		return fmt.Errorf("启动失败: %w", err)
	}
	printNodeInfo(node)

	if *metricsAddr != "" {
		serveMetrics(ctx, node, *metricsAddr)
	}

	sub, err := node.Subscribe(new(types.EvtChatMessage))
	if err != nil {
		return err
	}
	defer sub.Close()
	go printMessages(ctx, node, sub.Out())

	for _, id := range splitList(*peers) {
		connectPeer(ctx, node, id)
	}

	lines := make(chan string)
	go readLines(lines)

	var current types.NodeID
	for {
		select {
		case <-ctx.Done():
			fmt.Println("\n正在关闭节点...")
			return nil
		case line, ok := <-lines:
			if !ok {
				return nil
			}
			quit := handleLine(ctx, node, line, &current)
			if quit {
				return nil
			}
		}
	}
}

// buildOptions 构建选项
//
// 优先级从高到低：命令行参数、环境变量、配置文件、默认值。
func buildOptions() ([]meshchat.Option, error) {
	cfg := config.NewConfig()
	if *configFile != "" {
		loaded, err := config.LoadFile(*configFile)
		if err != nil {
			return nil, fmt.Errorf("加载配置文件失败: %w", err)
		}
		cfg = loaded
	}
	env := applyEnvOverrides(cfg)

	opts := []meshchat.Option{meshchat.WithConfig(cfg)}
	if *nodeID != "" {
		opts = append(opts, meshchat.WithNodeID(*nodeID))
	}
	if *signalingURL != "" {
		opts = append(opts, meshchat.WithSignalingURL(*signalingURL))
	}
	if *dataDir != "" {
		opts = append(opts, meshchat.WithDataDir(*dataDir))
	}

	key := env.secret
	if *secret != "" {
		key = *secret
	}
	if key == "" {
		return nil, errors.New("需要 -secret 或 MESHCHAT_SECRET")
	}
	opts = append(opts, meshchat.WithSecret([]byte(key)))
	return opts, nil
}

// ═══════════════════════════════════════════════════════════════════════════
// 交互
// ═══════════════════════════════════════════════════════════════════════════

func readLines(out chan<- string) {
	defer close(out)
	scanner := bufio.NewScanner(os.Stdin)
	for scanner.Scan() {
		out <- scanner.Text()
	}
}

// handleLine 处理一行输入，返回 true 表示退出
func handleLine(ctx context.Context, node *meshchat.Node, line string, current *types.NodeID) bool {
	line = strings.TrimSpace(line)
	if line == "" {
		return false
	}

	cmd, arg, _ := strings.Cut(line, " ")
	arg = strings.TrimSpace(arg)
	switch cmd {
	case "/quit", "/exit":
		return true
	case "/connect":
		connectPeer(ctx, node, arg)
	case "/to":
		id, err := types.ParseNodeID(arg)
		if err != nil {
			fmt.Printf("无效节点 ID: %v\n", err)
			return false
		}
		*current = id
		fmt.Printf("当前接收者: %s\n", id.ShortString())
	case "/peers":
		for _, p := range node.ConnectedPeers() {
			fmt.Printf("  %s\n", p.PeerID)
		}
	case "/table":
		for _, n := range node.RoutingTable() {
			fmt.Printf("  %s\n", n.ID)
		}
	case "/stats":
		bw := node.Bandwidth()
		fmt.Printf("  缓存消息: %d  发送: %d B  接收: %d B  信令服务器: %v\n",
			node.CachedMessages(), bw.TotalOut, bw.TotalIn, node.SignalingConnected())
	default:
		if strings.HasPrefix(cmd, "/") {
			fmt.Printf("未知命令: %s\n", cmd)
			return false
		}
		sendText(ctx, node, *current, line)
	}
	return false
}

func connectPeer(ctx context.Context, node *meshchat.Node, arg string) {
	id, err := types.ParseNodeID(arg)
	if err != nil {
		fmt.Printf("无效节点 ID: %v\n", err)
		return
	}
	if err := node.Connect(ctx, types.PeerDTO{PeerID: id}); err != nil {
		fmt.Printf("连接 %s 失败: %v\n", id.ShortString(), err)
		return
	}
	fmt.Printf("正在连接 %s\n", id.ShortString())
}

func sendText(ctx context.Context, node *meshchat.Node, to types.NodeID, text string) {
	if to.IsEmpty() {
		fmt.Println("先用 /to <id> 选择接收者")
		return
	}
	sendCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	_, res, err := node.SendText(sendCtx, to, text)
	if err != nil {
		fmt.Printf("发送失败: %v\n", err)
		return
	}
	logger.Debug("消息已发送", "to", to.ShortString(),
		"direct", res.Direct, "forwarded", len(res.Forwarded), "cached", res.Cached)
}

func printMessages(ctx context.Context, node *meshchat.Node, events <-chan interface{}) {
	for {
		select {
		case <-ctx.Done():
			return
		case evt, ok := <-events:
			if !ok {
				return
			}
			msg := evt.(types.EvtChatMessage)
			text, err := node.ReadText(msg.Message)
			if err != nil {
				logger.Warn("解密消息失败", "from", msg.From.ShortString(), "error", err)
				continue
			}
			ts := time.UnixMilli(msg.Message.Timestamp).Format("15:04:05")
			fmt.Printf("[%s] %s: %s\n", ts, msg.From.ShortString(), text)
		}
	}
}

func printNodeInfo(node *meshchat.Node) {
	fmt.Println("╔══════════════════════════════════════════════════════╗")
	fmt.Println("║                    meshchat                          ║")
	fmt.Println("╚══════════════════════════════════════════════════════╝")
	fmt.Printf("节点 ID: %s\n", node.Self())
	fmt.Printf("信令服务器: %v\n", node.SignalingConnected())
	fmt.Println("输入 /connect <id> 建立会话，/to <id> 选择接收者，Ctrl+C 退出")
}

// serveMetrics 在后台导出 Prometheus 指标
func serveMetrics(ctx context.Context, node *meshchat.Node, addr string) {
	reg := node.MetricsRegistry()
	if reg == nil {
		logger.Warn("指标未启用，忽略 -metrics-addr")
		return
	}
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}

	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("指标服务退出", "error", err)
		}
	}()
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()
	logger.Info("指标服务已启动", "addr", addr)
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
