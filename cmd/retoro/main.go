// Package main 提供 retoro 命令行节点
//
// 从标准输入逐行读取文本发送到 "main" 频道，并打印收到的消息与发现的节点。
package main

import (
	"bufio"
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/retoro/go-retoro"
	"github.com/retoro/go-retoro/internal/util/logger"
	"github.com/retoro/go-retoro/pkg/lib/crypto"
)

var log = logger.Logger("cmd")

// ═══════════════════════════════════════════════════════════════════════════
// 命令行参数
// ═══════════════════════════════════════════════════════════════════════════
//
// 优先级：命令行参数 > 环境变量（RETORO_*）> 配置文件 > 默认值
var (
	configFile   = flag.String("config", "", "JSON 配置文件路径")
	name         = flag.String("name", "", "显示名称（默认 Node-<uuid>）")
	listen       = flag.String("listen", "", "监听地址，逗号分隔")
	bootstrap    = flag.String("bootstrap", "", "引导节点地址，逗号分隔")
	relays       = flag.String("relay", "", "静态中继地址（带 /p2p/<id>），逗号分隔")
	relayService = flag.Bool("enable-relay-service", false, "为其他节点提供中继")
	noMDNS       = flag.Bool("no-mdns", false, "关闭局域网发现")
	enableNAT    = flag.Bool("nat", false, "启用 UPnP / NAT-PMP 端口映射")
	dataDir      = flag.String("data-dir", "", "数据目录（已知节点、频道、默认身份文件）")
	identityFile = flag.String("identity", "", "身份密钥文件，不存在时创建")
	logFile      = flag.String("log", "", "日志文件路径（默认输出到 stderr）")
	metricsAddr  = flag.String("metrics-addr", "", "Prometheus 指标监听地址，如 127.0.0.1:9090")
	showVersion  = flag.Bool("version", false, "显示版本信息")
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "错误: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	flag.Parse()
	if *showVersion {
		fmt.Printf("retoro %s (%s)\n", retoro.Version, retoro.ProtocolVersion)
		return nil
	}

	cfg, err := buildConfig()
	if err != nil {
		return err
	}

	if cfg.LogFile != "" {
		f, err := os.OpenFile(cfg.LogFile, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o600)
		if err != nil {
			return fmt.Errorf("打开日志文件: %w", err)
		}
		defer f.Close()
		logger.SetOutput(f)
	}

	opts, err := buildOptions(cfg)
	if err != nil {
		return err
	}
	node, err := retoro.New(opts...)
	if err != nil {
		return fmt.Errorf("创建节点: %w", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if cfg.MetricsAddr != "" {
		srv := serveMetrics(cfg.MetricsAddr, node.MetricsHandler())
		defer func() {
			sctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
			defer cancel()
			_ = srv.Shutdown(sctx)
		}()
	}

	events := node.Events()
	go printEvents(node, events)

	cmds := node.Commands()
	defer cmds.Close()
	go readInput(ctx, node, cmds, os.Stdin)

	log.Info("启动节点", "version", retoro.Version, "name", node.Name())
	return node.Run(ctx)
}

// buildConfig 合并配置文件、环境变量与命令行参数
func buildConfig() (*fileConfig, error) {
	cfg := &fileConfig{}
	if *configFile != "" {
		var err error
		if cfg, err = loadConfigFile(*configFile); err != nil {
			return nil, fmt.Errorf("加载配置文件失败: %w", err)
		}
	}
	applyEnvOverrides(cfg)

	flag.Visit(func(f *flag.Flag) {
		switch f.Name {
		case "name":
			cfg.Name = *name
		case "listen":
			cfg.Listen = splitAndTrim(*listen, ",")
		case "bootstrap":
			cfg.Bootstrap = splitAndTrim(*bootstrap, ",")
		case "relay":
			cfg.Relays = splitAndTrim(*relays, ",")
		case "enable-relay-service":
			cfg.EnableRelayService = *relayService
		case "no-mdns":
			enable := !*noMDNS
			cfg.EnableMDNS = &enable
		case "nat":
			cfg.EnableNAT = *enableNAT
		case "data-dir":
			cfg.DataDir = *dataDir
		case "identity":
			cfg.Identity = *identityFile
		case "log":
			cfg.LogFile = *logFile
		case "metrics-addr":
			cfg.MetricsAddr = *metricsAddr
		}
	})
	return cfg, nil
}

// buildOptions 转换为节点选项
func buildOptions(cfg *fileConfig) ([]retoro.Option, error) {
	var opts []retoro.Option
	if cfg.Name != "" {
		opts = append(opts, retoro.WithName(cfg.Name))
	}
	if len(cfg.Listen) > 0 {
		opts = append(opts, retoro.WithListenAddrs(cfg.Listen...))
	}
	if len(cfg.Bootstrap) > 0 {
		opts = append(opts, retoro.WithBootstrapPeers(cfg.Bootstrap...))
	}
	if len(cfg.Relays) > 0 {
		opts = append(opts, retoro.WithStaticRelays(cfg.Relays...))
	}
	if cfg.EnableMDNS != nil {
		opts = append(opts, retoro.WithMDNS(*cfg.EnableMDNS))
	}
	if len(cfg.STUNServers) > 0 {
		opts = append(opts, retoro.WithSTUNServers(cfg.STUNServers...))
	}
	opts = append(opts,
		retoro.WithRelayService(cfg.EnableRelayService),
		retoro.WithNATPortMap(cfg.EnableNAT),
	)
	if cfg.DataDir != "" {
		opts = append(opts, retoro.WithDataDir(cfg.DataDir))
	}

	keyPath := cfg.Identity
	if keyPath == "" && cfg.DataDir != "" {
		keyPath = filepath.Join(cfg.DataDir, "identity.key")
	}
	if keyPath != "" {
		key, created, err := crypto.LoadOrCreateKeyFile(keyPath, []byte(getenv(envIdentityPassphrase)))
		if err != nil {
			return nil, fmt.Errorf("加载身份文件: %w", err)
		}
		if created {
			log.Info("已创建身份文件", "path", keyPath)
		}
		opts = append(opts, retoro.WithIdentity(key))
	}
	return opts, nil
}

func serveMetrics(addr string, h http.Handler) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", h)
	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Warn("指标服务退出", "addr", addr, "err", err)
		}
	}()
	log.Info("指标服务已启动", "addr", addr)
	return srv
}

// ============================================================================
//                              输入输出
// ============================================================================

// readInput 每行作为一条消息发送到 main 频道，"/quit" 停止节点
//
// 输入结束时不关闭句柄，节点继续运行直到收到信号。
func readInput(ctx context.Context, node *retoro.Node, cmds *retoro.CommandHandle, r io.Reader) {
	sc := bufio.NewScanner(r)
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		switch {
		case line == "":
			continue
		case line == "/quit":
			_ = cmds.Send(ctx, retoro.Shutdown{})
			return
		case line == "/addrs":
			for _, a := range node.Addrs() {
				fmt.Println("  " + a)
			}
			continue
		case line == "/peers":
			for _, n := range node.KnownNodes() {
				fmt.Printf("  %s %s\n", n.PeerID, n.Name)
			}
			continue
		}
		msg := retoro.SendMessage{Content: line, Target: retoro.ChannelTarget{Name: retoro.MainChannel}}
		if err := cmds.Send(ctx, msg); err != nil {
			log.Debug("发送失败", "err", err)
			return
		}
	}
	if err := sc.Err(); err != nil {
		log.Warn("读取输入失败", "err", err)
	}
}

// printEvents 打印事件直到节点停止
func printEvents(node *retoro.Node, sub *retoro.EventSubscription) {
	defer sub.Close()
	for {
		e, err := sub.Recv(context.Background())
		var lagged *retoro.LaggedError
		switch {
		case errors.As(err, &lagged):
			fmt.Fprintf(os.Stderr, "! 丢失 %d 个事件\n", lagged.Dropped)
			continue
		case err != nil:
			return
		}

		switch ev := e.(type) {
		case retoro.ReceivedMessage:
			ts := time.UnixMilli(ev.Message.Timestamp).Format("15:04:05")
			fmt.Printf("[%s] %s: %s\n", ts, ev.Message.AuthorName, ev.Message.Content)
		case retoro.DiscoveredNode:
			fmt.Printf("* 发现节点 %s\n", ev.Peer)
		case retoro.JoinedChannel:
			fmt.Printf("* 已加入频道 %q，节点 %s\n", ev.Channel, node.ID())
			for _, a := range node.Addrs() {
				fmt.Println("  " + a)
			}
		case retoro.LeftChannel:
			fmt.Printf("* 已离开频道 %q\n", ev.Channel)
		case retoro.ErrorEvent:
			fmt.Fprintf(os.Stderr, "! %v\n", ev.Err)
		}
	}
}
