package main

import (
	"context"
	"fmt"
	"net/url"
	"os/signal"
	"path/filepath"
	"sort"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"pkt.systems/pslog"

	"pkt.systems/sitesmith"
	"pkt.systems/sitesmith/core"
	"pkt.systems/sitesmith/httpapi"
	"pkt.systems/sitesmith/internal/appconfig"
	"pkt.systems/sitesmith/internal/claude"
	"pkt.systems/sitesmith/internal/registry"
	"pkt.systems/sitesmith/internal/tunnel"
)

func newServeCmd() *cobra.Command {
	var cfgPath string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the sitesmith session server",
		RunE: func(cmd *cobra.Command, args []string) error {
			logger := pslog.Ctx(cmd.Context())
			cfg, err := appconfig.Load(cfgPath)
			if err != nil {
				return err
			}

			engine, err := claude.NewRunner(claude.Config{
				BinaryPath: cfg.Engine.Binary,
				Model:      cfg.Engine.Model,
				ExtraArgs:  cfg.Engine.Args,
				Env:        flattenEnv(cfg.Engine.Env),
			})
			if err != nil {
				return err
			}

			store, err := registry.NewStoreWithLogger(filepath.Join(cfg.StateDir, "sessions"), logger)
			if err != nil {
				return err
			}

			issuer, err := tunnel.NewStatic(cfg.Tunnel.PublicBase)
			if err != nil {
				return err
			}

			serverCfg := sitesmith.ServerConfig{
				Service: core.ServiceConfig{
					WorkspaceRoot:     cfg.WorkspaceRoot,
					WebsocketBase:     websocketBase(cfg.HTTP),
					QueuePollInterval: time.Duration(cfg.Service.QueuePollMillis) * time.Millisecond,
					TurnTimeout:       time.Duration(cfg.Service.TurnTimeoutSeconds) * time.Second,
					Preview:           toPreviewConfig(cfg.Preview),
				},
				HTTP: httpapi.Config{
					Addr:    cfg.HTTP.Addr,
					BaseURL: cfg.HTTP.BaseURL,
				},
				HubHistory: cfg.Service.HubHistory,
			}
			serverDeps := sitesmith.ServerDeps{
				ServiceDeps: core.ServiceDeps{
					Engine:   engine,
					Registry: store,
					Tunnel:   issuer,
					Logger:   logger,
				},
			}
			server, err := sitesmith.New(serverCfg, serverDeps, sitesmith.WithHTTP())
			if err != nil {
				return err
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			go func() {
				<-ctx.Done()
				stopCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
				defer cancel()
				if err := server.Stop(stopCtx); err != nil {
					logger.Warn("server stop failed", "err", err)
				}
			}()
			logger.Info("http server listening", "addr", serverCfg.HTTP.Addr)
			if err := server.Start(ctx); err != nil {
				return err
			}
			return server.Wait()
		},
	}
	cmd.Flags().StringVarP(&cfgPath, "config", "c", "", "path to config file")
	return cmd
}

func toPreviewConfig(cfg appconfig.PreviewConfig) core.PreviewConfig {
	return core.PreviewConfig{
		Command:                cfg.Command,
		Port:                   cfg.Port,
		RunAsUser:              cfg.RunAsUser,
		LogDir:                 cfg.LogDir,
		StartupAttempts:        cfg.StartupAttempts,
		StartupInterval:        time.Duration(cfg.StartupIntervalSeconds) * time.Second,
		StartupProbeTimeout:    time.Duration(cfg.StartupTimeoutSeconds) * time.Second,
		MonitorInterval:        time.Duration(cfg.MonitorIntervalSeconds) * time.Second,
		MonitorProbeTimeout:    time.Duration(cfg.MonitorTimeoutSeconds) * time.Second,
		StopGrace:              time.Duration(cfg.StopGraceSeconds) * time.Second,
		MaxConsecutiveFailures: cfg.MaxConsecutiveFailures,
	}
}

// websocketBase derives the observer URL base from the HTTP config, switching
// the scheme to ws/wss.
func websocketBase(cfg appconfig.HTTPConfig) string {
	base := strings.TrimSpace(cfg.BaseURL)
	if base == "" {
		host := strings.TrimSpace(cfg.Addr)
		if strings.HasPrefix(host, ":") {
			host = "localhost" + host
		}
		return "ws://" + host
	}
	parsed, err := url.Parse(base)
	if err != nil {
		return base
	}
	switch parsed.Scheme {
	case "https":
		parsed.Scheme = "wss"
	default:
		parsed.Scheme = "ws"
	}
	return strings.TrimRight(parsed.String(), "/")
}

func flattenEnv(env map[string]string) []string {
	if len(env) == 0 {
		return nil
	}
	keys := make([]string, 0, len(env))
	for key := range env {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	out := make([]string, 0, len(keys))
	for _, key := range keys {
		out = append(out, fmt.Sprintf("%s=%s", key, env[key]))
	}
	return out
}
