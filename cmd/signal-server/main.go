// Package main 提供独立的信令服务器
//
// 信令服务器只在节点首次接触时转交 WebRTC 握手消息，
// 节点进入覆盖网络后信令改经 DHT 中继。
//
// 使用方法:
//
//	go run ./cmd/signal-server -addr :8080
//
// 节点通过 -signal ws://host:8080/ws 连接。
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/dep2p/go-meshchat/internal/core/signaling"
	"github.com/dep2p/go-meshchat/pkg/lib/log"
)

var logger = log.Logger("meshchat/signal-server")

func main() {
	if err := run(); err != nil {
		fmt.Printf("❌ 错误: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	addr := flag.String("addr", ":8080", "监听地址")
	path := flag.String("path", "/ws", "WebSocket 路径")
	statsInterval := flag.Duration("stats", time.Minute, "统计报告间隔（0 关闭）")
	flag.Parse()

	log.SetupFromEnv(os.Stderr)

	fmt.Println("╔══════════════════════════════════════════════════════╗")
	fmt.Println("║            meshchat Signaling Server                 ║")
	fmt.Println("╚══════════════════════════════════════════════════════╝")
	fmt.Println()

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	hub := signaling.NewHub()
	mux := http.NewServeMux()
	mux.Handle(*path, hub)
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	})

	srv := &http.Server{
		Addr:              *addr,
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.ListenAndServe()
	}()
	fmt.Printf("监听地址: %s%s\n", *addr, *path)
	fmt.Println("按 Ctrl+C 退出")

	if *statsInterval > 0 {
		go reportStats(ctx, hub, *statsInterval)
	}

	select {
	case err := <-errCh:
		if !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("启动信令服务器失败: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	fmt.Println("\n正在关闭...")
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	return srv.Shutdown(shutdownCtx)
}

// reportStats 定期打印在线节点数
func reportStats(ctx context.Context, hub *signaling.Hub, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			logger.Info("信令服务器状态", "peers", hub.Count())
		}
	}
}
