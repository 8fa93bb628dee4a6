// Package main provides the entry point for the economy regulator daemon:
// observation, diagnosis, simulation, planning, and action against a host
// economy via a pluggable HostAdapter, exposed over HTTP and WebSocket.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/shopspring/decimal"
	"github.com/spf13/pflag"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/econregulator/regulator/internal/config"
	"github.com/econregulator/regulator/internal/controller"
	"github.com/econregulator/regulator/internal/decisionlog"
	"github.com/econregulator/regulator/internal/executor"
	"github.com/econregulator/regulator/internal/metricstore"
	"github.com/econregulator/regulator/internal/observer"
	"github.com/econregulator/regulator/internal/persona"
	"github.com/econregulator/regulator/internal/planner"
	"github.com/econregulator/regulator/internal/principles"
	"github.com/econregulator/regulator/internal/registry"
	"github.com/econregulator/regulator/internal/satisfaction"
	"github.com/econregulator/regulator/internal/simulator"
	"github.com/econregulator/regulator/internal/transport"
	"github.com/econregulator/regulator/pkg/adapter"
	"github.com/econregulator/regulator/pkg/types"
)

func main() {
	fs := pflag.NewFlagSet("regulatord", pflag.ExitOnError)
	config.RegisterFlags(fs)
	demo := fs.Bool("demo", false, "run against an in-memory simulated economy instead of a real host adapter")
	demoAgents := fs.Int("demo-agents", 200, "agent population for demo mode")
	demoTickInterval := fs.Duration("demo-tick-interval", 2*time.Second, "interval between automatic ticks in demo mode")
	_ = fs.Parse(os.Args[1:])

	cfg, err := config.Load(fs)
	if err != nil {
		fmt.Fprintln(os.Stderr, "config error:", err)
		os.Exit(1)
	}

	logger := setupLogger(cfg.LogLevel)
	defer logger.Sync()

	logger.Info("starting economy regulator",
		zap.String("mode", string(cfg.Pipeline.Mode)),
		zap.Int("port", cfg.Server.Port),
		zap.Bool("demo", *demo),
	)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	reg := registry.New()
	for _, p := range cfg.Pipeline.Parameters {
		reg.Register(p)
	}
	if reg.Size() == 0 {
		registerDemoParameters(reg)
	}

	obs := observer.New(logger)
	diag := principles.New(logger)
	principles.RegisterDefaults(diag, cfg.Pipeline.DominantRoles)
	sim := simulator.New(logger)
	plan := planner.New(logger)
	exec := executor.New(logger)
	metrics := metricstore.New()
	decisions := decisionlog.New(1000)
	satEst := satisfaction.New()
	personas := persona.New()

	var host adapter.HostAdapter
	if *demo {
		host = adapter.NewSimAdapter(42, *demoAgents,
			[]string{"trader", "crafter", "explorer", "moderator"},
			[]string{"ore", "wood", "herb"},
			[]string{"gold"},
		)
	} else {
		logger.Fatal("no host adapter wired; run with --demo or integrate a real adapter.HostAdapter")
	}

	ctrl := controller.New(logger, cfg.Pipeline, host, controller.Deps{
		Registry:  reg,
		Observer:  obs,
		Diagnoser: diag,
		Simulator: sim,
		Planner:   plan,
		Executor:  exec,
		Metrics:   metrics,
		Decisions: decisions,
		SatEst:    satEst,
		Personas:  personas,
	})

	ctrl.On(controller.EventAlert, func(payload any) any {
		if v, ok := payload.(types.PrincipleViolation); ok {
			logger.Warn("principle violated",
				zap.String("principle", v.PrincipleID),
				zap.Float64("severity", v.Result.Severity))
		}
		return nil
	})

	server := transport.NewServer(logger, cfg.Server, ctrl, transport.Deps{
		Diagnoser: diag,
		Planner:   plan,
		Registry:  reg,
		Metrics:   metrics,
		Decisions: decisions,
	})

	go func() {
		if err := server.Start(); err != nil {
			logger.Error("transport server error", zap.Error(err))
		}
	}()

	if *demo {
		go runDemoClock(ctx, logger, ctrl, *demoTickInterval)
	}

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	logger.Info("regulator started", zap.String("listen", fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port)))

	<-sigChan
	logger.Info("shutdown signal received")
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := server.Stop(shutdownCtx); err != nil {
		logger.Error("error stopping transport server", zap.Error(err))
	}
}

// runDemoClock drives the Controller's pipeline on a fixed interval when
// running against the in-memory SimAdapter, since there is no real host
// pushing ticks via the transport layer.
func runDemoClock(ctx context.Context, logger *zap.Logger, ctrl *controller.Controller, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			outcome, err := ctrl.Tick(ctx, nil)
			if err != nil {
				logger.Error("demo tick failed", zap.Error(err))
				continue
			}
			if len(outcome.Adjustments) > 0 {
				logger.Info("demo tick applied adjustment",
					zap.Int64("tick", outcome.Tick),
					zap.Float64("health", outcome.Health),
					zap.String("parameter", outcome.Adjustments[0].Parameter))
			}
		}
	}
}

// registerDemoParameters installs the knobs the built-in principles
// address, so a fresh demo run has somewhere to resolve its suggested
// actions against.
func registerDemoParameters(reg *registry.Registry) {
	one := 1.0
	min0, max5 := 0.0, 5.0
	reg.Register(types.RegisteredParameter{
		Key: "sinkFeeRate", Type: "sinkFeeRate", FlowImpact: types.FlowSink,
		CurrentValue: decimalPtr(0.05), Constraint: &types.ParameterConstraint{Min: &min0, Max: &one},
		Description: "fraction of a transaction value destroyed on sink events",
	})
	reg.Register(types.RegisteredParameter{
		Key: "wealthTaxRate", Type: "wealthTaxRate", FlowImpact: types.FlowSink,
		CurrentValue: decimalPtr(0.02), Constraint: &types.ParameterConstraint{Min: &min0, Max: &one},
		Description: "periodic tax applied to balances above the population median",
	})
	reg.Register(types.RegisteredParameter{
		Key: "newEntrantReward", Type: "newEntrantReward", FlowImpact: types.FlowFaucet,
		CurrentValue: decimalPtr(10), Constraint: &types.ParameterConstraint{Min: &min0, Max: &max5},
		Description: "one-time currency grant for newly entered agents",
	})
	reg.Register(types.RegisteredParameter{
		Key: "resourceSpawnRate", Type: "resourceSpawnRate", FlowImpact: types.FlowNeutral,
		CurrentValue: decimalPtr(1), Constraint: &types.ParameterConstraint{Min: &min0},
		Description: "rate at which scarce resources respawn into the world",
	})
	for _, role := range []string{"trader", "crafter", "explorer"} {
		reg.Register(types.RegisteredParameter{
			Key: "roleYieldMultiplier:" + role, Type: "roleYieldMultiplier", FlowImpact: types.FlowFaucet,
			Scope:        &types.ParameterScope{Tags: []string{role}},
			CurrentValue: decimalPtr(1),
			Constraint:   &types.ParameterConstraint{Min: &min0, Max: &max5},
			Description:  "per-role multiplier applied to faucet yields",
		})
	}
}

func decimalPtr(f float64) *decimal.Decimal {
	d := decimal.NewFromFloat(f)
	return &d
}

func setupLogger(level string) *zap.Logger {
	var zapLevel zapcore.Level
	switch level {
	case "debug":
		zapLevel = zapcore.DebugLevel
	case "warn":
		zapLevel = zapcore.WarnLevel
	case "error":
		zapLevel = zapcore.ErrorLevel
	default:
		zapLevel = zapcore.InfoLevel
	}

	cfg := zap.Config{
		Level:       zap.NewAtomicLevelAt(zapLevel),
		Development: false,
		Encoding:    "console",
		EncoderConfig: zapcore.EncoderConfig{
			TimeKey:        "time",
			LevelKey:       "level",
			NameKey:        "logger",
			CallerKey:      "caller",
			MessageKey:     "msg",
			StacktraceKey:  "stacktrace",
			LineEnding:     zapcore.DefaultLineEnding,
			EncodeLevel:    zapcore.CapitalColorLevelEncoder,
			EncodeTime:     zapcore.ISO8601TimeEncoder,
			EncodeDuration: zapcore.SecondsDurationEncoder,
			EncodeCaller:   zapcore.ShortCallerEncoder,
		},
		OutputPaths:      []string{"stdout"},
		ErrorOutputPaths: []string{"stderr"},
	}

	logger, err := cfg.Build()
	if err != nil {
		panic(err)
	}
	return logger
}
