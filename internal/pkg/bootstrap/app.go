// internal/pkg/bootstrap/app.go
package bootstrap

import (
	"context"
	"errors"
	"net"
	"net/http"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"storefront/internal/pkg/logger"
	"storefront/internal/pkg/nacos"
)

type AppCtx struct {
	Mux    *http.ServeMux
	Config *Config
}

// Worker 是随服务启动和停止的后台任务 (例如 Kafka 消费者)
type Worker interface {
	Start(ctx context.Context) error
	Stop(ctx context.Context)
}

// AppInfo 包含了启动一个微服务所需的所有特定信息。
type AppInfo struct {
	ServiceName      string
	Port             int
	RegisterHandlers func(appCtx AppCtx) // 一个函数，允许每个服务注册自己独特的 HTTP 路由
	Workers          []Worker
	// OnShutdown 在 HTTP 服务和后台任务都停止后按注册的逆序执行 (关闭连接、刷新 trace 等)
	OnShutdown []func(ctx context.Context) error
}

// StartService 封装了所有微服务的通用启动和优雅关停逻辑，阻塞直到收到退出信号。
func StartService(info AppInfo) error {
	cfg := GetCurrentConfig()
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	mux := http.NewServeMux()
	if info.RegisterHandlers != nil {
		info.RegisterHandlers(AppCtx{Mux: mux, Config: cfg})
	}
	server := &http.Server{
		Addr:              ":" + strconv.Itoa(info.Port),
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	var naming *nacos.Client
	var ip string
	if cfg.Infra.Nacos.Enabled {
		var err error
		naming, err = nacos.NewNacosClient(cfg.Infra.Nacos.ServerAddrs, cfg.Infra.Nacos.Namespace, cfg.Infra.Nacos.Group)
		if err != nil {
			return err
		}
		if ip, err = getOutboundIP(); err != nil {
			return err
		}
		if err := naming.RegisterServiceInstance(info.ServiceName, ip, info.Port); err != nil {
			return err
		}
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		logger.L().Info().Msgf("%s listening on :%d", info.ServiceName, info.Port)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	for _, w := range info.Workers {
		w := w
		g.Go(func() error { return w.Start(gctx) })
	}

	// 阻塞直到接收到退出信号，或者任意一个组件启动失败
	g.Go(func() error {
		<-gctx.Done()
		logger.L().Info().Msgf("Shutting down service %s...", info.ServiceName)

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()

		if naming != nil {
			if err := naming.DeregisterServiceInstance(info.ServiceName, ip, info.Port); err != nil {
				logger.L().Error().Err(err).Msg("Error deregistering from Nacos")
			}
		}
		if err := server.Shutdown(shutdownCtx); err != nil {
			logger.L().Error().Err(err).Msg("Error shutting down http server")
		}
		for _, w := range info.Workers {
			w.Stop(shutdownCtx)
		}
		for i := len(info.OnShutdown) - 1; i >= 0; i-- {
			if err := info.OnShutdown[i](shutdownCtx); err != nil {
				logger.L().Error().Err(err).Msg("Error during shutdown hook")
			}
		}
		return nil
	})

	err := g.Wait()
	logger.L().Info().Msgf("Service %s gracefully shut down.", info.ServiceName)
	return err
}

// getOutboundIP 获取本机对外的 IP，用于服务注册
func getOutboundIP() (string, error) {
	conn, err := net.Dial("udp", "8.8.8.8:80")
	if err != nil {
		return "", err
	}
	defer conn.Close()
	return conn.LocalAddr().(*net.UDPAddr).IP.String(), nil
}
