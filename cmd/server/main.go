// Package main is the entry point for the Vetbox MCP server.
//
// The Vetbox server implements a policy-driven Model Context Protocol (MCP)
// server that verifies agent-generated code bundles (Python, Node.js,
// TypeScript) in isolated sandboxes: dependency vetting, static analysis and
// security scanning, test execution, and API contract validation, reduced to
// a single verdict with routing for automated repair. The server supports
// both stdio and HTTP transports.
//
// The application uses Uber's fx framework for dependency injection and
// lifecycle management, with zap for structured logging and viper for
// configuration.
package main

import (
	"go.uber.org/fx"
	"go.uber.org/fx/fxevent"
	"go.uber.org/zap"

	"github.com/isdmx/vetbox/config"
	"github.com/isdmx/vetbox/contract"
	"github.com/isdmx/vetbox/depvet"
	"github.com/isdmx/vetbox/logger"
	"github.com/isdmx/vetbox/mcpserver"
	"github.com/isdmx/vetbox/sandbox"
	"github.com/isdmx/vetbox/verify"
)

// newSandboxExecutor builds the configured sandbox backend
func newSandboxExecutor(log *zap.Logger, cfg *config.Config) (sandbox.SandboxExecutor, error) {
	images := make(map[string]string, len(cfg.Runtimes))
	for runtime, rt := range cfg.Runtimes {
		images[runtime] = rt.Image
	}
	return sandbox.NewExecutor(log, images, cfg.Sandbox.Backend, cfg.Sandbox.MaxConcurrent)
}

// newVetter loads the dependency policy and builds the manifest vetter
func newVetter(log *zap.Logger, cfg *config.Config) (depvet.Vetter, error) {
	policy, err := depvet.LoadPolicy(cfg.DepVet.PolicyFile)
	if err != nil {
		return nil, err
	}
	return depvet.NewManifestVetter(log, policy), nil
}

// newValidator builds the contract validator client
func newValidator(log *zap.Logger, cfg *config.Config) contract.Validator {
	return contract.NewHTTPValidator(log, cfg.Contract.ValidatorURL, cfg.ContractTimeout())
}

// newOrchestrator assembles the verification pipeline
func newOrchestrator(
	log *zap.Logger,
	cfg *config.Config,
	executor sandbox.SandboxExecutor,
	vetter depvet.Vetter,
	validator contract.Validator,
) *verify.Orchestrator {
	return verify.New(log, cfg, executor, vetter, validator)
}

// newMCPServer adapts the orchestrator into the MCP surface
func newMCPServer(cfg *config.Config, log *zap.Logger, orchestrator *verify.Orchestrator) (*mcpserver.MCPServer, error) {
	return mcpserver.New(cfg, log, orchestrator)
}

func main() {
	app := fx.New(
		// Provide dependencies
		fx.Provide(
			// Config
			config.New,

			// Logger with configuration
			logger.NewFromConfig,

			// Sandbox executor based on config
			newSandboxExecutor,

			// Dependency vetting policy and vetter
			newVetter,

			// Contract validator client
			newValidator,

			// Verification orchestrator
			newOrchestrator,

			// MCP Server
			newMCPServer,
		),

		// Start the appropriate transport based on config
		fx.Invoke(
			func(cfg *config.Config, server *mcpserver.MCPServer) {
				switch cfg.Server.Transport {
				case "stdio":
					// Use fx to run this as a background task
					go func() {
						if err := server.ServeStdio(); err != nil {
							panic(err)
						}
					}()
				case "http":
					go func() {
						if err := server.ServeHTTP(); err != nil {
							panic(err)
						}
					}()
				default:
					panic("unsupported transport: " + cfg.Server.Transport)
				}
			},
		),

		// Use the application logger for fx logs
		fx.WithLogger(func(log *zap.Logger) fxevent.Logger {
			return &fxevent.ZapLogger{Logger: log}
		}),
	)

	// Start the application
	app.Run()
}
