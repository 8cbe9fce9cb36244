package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jessevdk/go-flags"

	"github.com/relayforge/relayforge/example/demo"
	"github.com/relayforge/relayforge/gateway"
	"github.com/relayforge/relayforge/gateway/oauthtoken"
	"github.com/relayforge/relayforge/gateway/router"
	"github.com/relayforge/relayforge/store"
)

const version = "0.1.0"

func run(args []string) error {
	options := &Options{}
	if _, err := flags.ParseArgs(options, args); err != nil {
		return err
	}
	level := slog.LevelInfo
	if options.Verbose {
		level = slog.LevelDebug
	}
	logger := slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
	slog.SetDefault(logger)

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	backing, err := store.OpenSQLite(options.DB)
	if err != nil {
		return fmt.Errorf("failed to open store %v: %w", options.DB, err)
	}
	defer backing.Close()

	var oauthClient *oauthtoken.Client
	var tokens router.TokenSource
	if options.OAuthBaseURL != "" {
		oauthClient = oauthtoken.New(options.OAuthBaseURL, options.OAuthServiceKey, oauthtoken.WithLogger(logger))
		tokens = oauthClient
	}

	config, err := gateway.LoadConfig(ctx, options.ConfigURL)
	if err != nil {
		return err
	}
	serviceRouter, err := config.BuildRouter(tokens)
	if err != nil {
		return err
	}
	hasDefault := false
	for i := range config.Services {
		service := &config.Services[i]
		if service.Default {
			hasDefault = true
		}
		pricing := &store.Pricing{Service: service.Name, Price: service.Price, Active: service.IsActive()}
		if err := backing.SetPricing(ctx, pricing); err != nil {
			return fmt.Errorf("failed to seed pricing for %v: %w", service.Name, err)
		}
	}
	if options.Demo {
		demoAdapter, err := demo.New(ctx)
		if err != nil {
			return err
		}
		registration := &router.Registration{Name: "demo", Prefix: "demo", Default: !hasDefault, Adapter: demoAdapter}
		if err := serviceRouter.Register(registration); err != nil {
			return err
		}
		if err := backing.SetPricing(ctx, &store.Pricing{Service: "demo", Price: 0, Active: true}); err != nil {
			return err
		}
	}

	serverOptions := []gateway.Option{
		gateway.WithStore(backing),
		gateway.WithRouter(serviceRouter),
		gateway.WithLogger(logger),
		gateway.WithImplementation("relayforge", version),
	}
	if oauthClient != nil {
		serverOptions = append(serverOptions, gateway.WithOAuthClient(oauthClient))
	}
	server, err := gateway.New(serverOptions...)
	if err != nil {
		return err
	}
	server.AuthGate().StartSweeper(ctx, time.Minute)

	addr := fmt.Sprintf("%s:%d", options.Host, options.Port)
	httpServer := server.HTTPServer(addr)
	errs := make(chan error, 1)
	go func() {
		errs <- httpServer.ListenAndServe()
	}()
	logger.Info("gateway listening", "addr", addr, "services", len(serviceRouter.Services()))

	select {
	case err := <-errs:
		if err != nil && err != http.ErrServerClosed {
			return err
		}
		return nil
	case <-ctx.Done():
	}
	shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancelShutdown()
	logger.Info("shutting down")
	return httpServer.Shutdown(shutdownCtx)
}
