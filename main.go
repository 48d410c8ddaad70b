package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"go.uber.org/zap"

	"cubesync/client"
	"cubesync/config"
	"cubesync/logging"
	"cubesync/protocol"
	"cubesync/server"
	"cubesync/transport"
)

// cubesync 入口：运行权威服务端、单个客户端，
// 或在同一进程内运行服务端加脚本机器人
func main() {
	var (
		cfgPath string
		mode    string
		bots    int
		seed    uint64
	)
	flag.StringVar(&cfgPath, "config", "", "path to a YAML config file (defaults and CUBESYNC_* env when empty)")
	flag.StringVar(&mode, "mode", "server", "server, client or demo")
	flag.IntVar(&bots, "bots", 3, "number of scripted clients in demo mode")
	flag.Uint64Var(&seed, "seed", uint64(time.Now().UnixNano()), "random seed for scripted movement")
	flag.Parse()

	cfg, err := config.Load(cfgPath)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(2)
	}
	log, err := logging.New(cfg.Logging)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(2)
	}
	defer func() { _ = log.Sync() }()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	switch mode {
	case "server":
		err = runServer(ctx, cfg, log)
	case "client":
		err = runClient(ctx, cfg, seed, log)
	case "demo":
		err = runDemo(ctx, cfg, bots, seed, log)
	default:
		err = fmt.Errorf("unknown mode %q", mode)
	}
	if err != nil {
		log.Errorw("exiting", "mode", mode, "error", err)
		_ = log.Sync()
		os.Exit(1)
	}
	log.Info("shut down")
}

func serverOptions(cfg config.Config) server.Options {
	return server.Options{
		TickRate:          cfg.Server.TickRate,
		BroadcastInterval: cfg.Server.BroadcastInterval,
		Verbose:           cfg.Logging.Verbose,
	}
}

func clientOptions(cfg config.Config) (client.Options, error) {
	color, err := protocol.ParseColor(cfg.Client.Color)
	if err != nil {
		return client.Options{}, err
	}
	return client.Options{
		TickRate:       cfg.Client.TickRate,
		PingInterval:   cfg.Client.PingInterval,
		UploadInterval: cfg.Client.UploadInterval,
		Color:          color,
		Verbose:        cfg.Logging.Verbose,
	}, nil
}

func runServer(ctx context.Context, cfg config.Config, log *zap.SugaredLogger) error {
	opts := transport.DefaultWSOptions()
	opts.Addr = cfg.Server.Addr()
	opts.Path = cfg.Server.Path
	driver, err := transport.Listen(opts, log.Named("ws"))
	if err != nil {
		// 绑定失败则终止启动
		return fmt.Errorf("binding %s: %w", opts.Addr, err)
	}
	log.Infow("cubesync server listening", "url", driver.URL())

	session := server.NewSession(driver, serverOptions(cfg), log.Named("server"))
	return runWithAdmin(ctx, cfg, session, log)
}

// runWithAdmin 在当前协程运行会话，启用时在旁边运行管理监听
func runWithAdmin(ctx context.Context, cfg config.Config, session *server.Session, log *zap.SugaredLogger) error {
	var wg sync.WaitGroup
	if cfg.Admin.Enabled {
		admin := server.NewAdmin(session, log.Named("admin"))
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := admin.ListenAndServe(ctx, cfg.Admin.Addr()); err != nil {
				log.Errorw("admin listener stopped", "error", err)
			}
		}()
	}
	err := session.Run(ctx)
	wg.Wait()
	return err
}

func runClient(ctx context.Context, cfg config.Config, seed uint64, log *zap.SugaredLogger) error {
	opts, err := clientOptions(cfg)
	if err != nil {
		return err
	}
	url := cfg.Client.URL()
	log.Infow("connecting", "url", url)
	driver := transport.Dial(url, transport.DefaultWSOptions(), log.Named("ws"))

	actor := client.NewWanderActor(20, 0.1, seed)
	observer := client.NewLoggingObserver(log.Named("remote"), cfg.Logging.Verbose)
	session := client.NewSession(driver, actor, observer, opts, log.Named("client"))
	return session.Run(ctx)
}

// runDemo 在内存网络上运行服务端与机器人
func runDemo(ctx context.Context, cfg config.Config, bots int, seed uint64, log *zap.SugaredLogger) error {
	copts, err := clientOptions(cfg)
	if err != nil {
		return err
	}
	network := transport.NewMemoryNetwork()
	driver, err := network.Listen()
	if err != nil {
		return err
	}
	session := server.NewSession(driver, serverOptions(cfg), log.Named("server"))

	var wg sync.WaitGroup
	for i := range bots {
		actor := client.NewWanderActor(20, 0.1, seed+uint64(i))
		observer := client.NewLoggingObserver(log.Named("remote").With("bot", i), cfg.Logging.Verbose)
		bot := client.NewSession(network.Dial(), actor, observer, copts, log.Named("bot").With("bot", i))
		wg.Add(1)
		go func() {
			defer wg.Done()
			_ = bot.Run(ctx)
		}()
	}
	log.Infow("demo running", "bots", bots)

	err = runWithAdmin(ctx, cfg, session, log)
	wg.Wait()
	return err
}
