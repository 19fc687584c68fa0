package mcpserver

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"
	"go.uber.org/zap"

	"github.com/isdmx/vetbox/config"
	"github.com/isdmx/vetbox/verify"
)

// VerificationRunner runs one verification pass and returns its report
type VerificationRunner interface {
	RunVerification(ctx context.Context, task verify.TaskSchema) (*verify.Report, error)
}

// MCPServer represents the MCP server
type MCPServer struct {
	config    *config.Config
	logger    *zap.Logger
	runner    VerificationRunner
	mcpServer *server.MCPServer
}

// New creates a new MCPServer
func New(cfg *config.Config, logger *zap.Logger, runner VerificationRunner) (*MCPServer, error) {
	s := &MCPServer{
		config: cfg,
		logger: logger,
		runner: runner,
	}

	// Log configuration parameters on startup
	logger.Info("configuration loaded",
		zap.String("server.transport", s.config.Server.Transport),
		zap.Int("server.http_port", s.config.Server.HTTPPort),
		zap.String("sandbox.backend", s.config.Sandbox.Backend),
		zap.Int("sandbox.max_concurrent", s.config.Sandbox.MaxConcurrent),
		zap.Bool("sandbox.enable_local_backend", s.config.Sandbox.EnableLocalBackend),
		zap.Int("verifier.max_repair_budget", s.config.Verifier.MaxRepairBudget),
		zap.Int("verifier.static_analysis_sec", s.config.Verifier.StaticAnalysisSec),
		zap.Int("verifier.test_execution_sec", s.config.Verifier.TestExecutionSec),
		zap.String("contract.validator_url", s.config.Contract.ValidatorURL),
		zap.String("depvet.policy_file", s.config.DepVet.PolicyFile),
	)

	// Create the MCP server
	s.mcpServer = server.NewMCPServer("vetbox-verifier", "A policy-driven code verification server")

	// Register the run_verification tool
	s.registerRunVerificationTool()

	return s, nil
}

// registerRunVerificationTool registers the run_verification tool
func (s *MCPServer) registerRunVerificationTool() {
	tool := mcp.Tool{
		Name:        "run_verification",
		Description: "Verify a generated code bundle through sandboxed analysis, tests, and contract validation",
		InputSchema: mcp.ToolInputSchema{
			Type: "object",
			Properties: map[string]any{
				"task_id": map[string]any{
					"type":        "string",
					"description": "Identifier of the task being verified",
				},
				"subtask_id": map[string]any{
					"type":        "string",
					"description": "Identifier of the subtask within the task (optional)",
				},
				"agent_role": map[string]any{
					"type":        "string",
					"description": "Role of the agent that produced the artifacts (optional)",
				},
				"iteration": map[string]any{
					"type":        "integer",
					"description": "Zero-based repair iteration of this submission",
				},
				"max_repair_budget": map[string]any{
					"type":        "integer",
					"description": "Maximum repair attempts; server default when omitted",
				},
				"contract_spec_url": map[string]any{
					"type":        "string",
					"description": "URL of the API contract to validate against (optional)",
				},
				"runtime": map[string]any{
					"type":        "string",
					"description": "Runtime of the artifact bundle",
					"enum":        []string{"python", "node", "typescript"},
				},
				"artifacts": map[string]any{
					"type":        "array",
					"description": "Code artifact bundle to verify",
					"items": map[string]any{
						"type": "object",
						"properties": map[string]any{
							"filename": map[string]any{
								"type":        "string",
								"description": "Relative filename within the bundle",
							},
							"content": map[string]any{
								"type":        "string",
								"description": "File content",
							},
							"type": map[string]any{
								"type":        "string",
								"description": "Artifact kind",
								"enum":        []string{"source", "test", "config", "requirements"},
							},
						},
						"required": []string{"filename", "content"},
					},
				},
			},
			Required: []string{"task_id", "runtime", "artifacts"},
		},
	}

	s.mcpServer.AddTool(tool, s.handleRunVerification)
}

// handleRunVerification handles the run_verification tool
func (s *MCPServer) handleRunVerification(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	s.logger.Info("verification requested")

	task, err := decodeTask(request)
	if err != nil {
		return nil, err
	}

	s.logger.Info("running verification",
		zap.String("task_id", task.TaskID),
		zap.String("runtime", task.Runtime),
		zap.Int("artifacts", len(task.Artifacts)),
		zap.Int("iteration", task.Iteration))

	report, err := s.runner.RunVerification(ctx, task)
	if err != nil {
		if report == nil {
			// Malformed input, surfaced as a protocol-level error
			return nil, err
		}
		s.logger.Error("verification aborted",
			zap.Error(err),
			zap.String("task_id", task.TaskID))
		return &mcp.CallToolResult{
			Content: []mcp.Content{
				mcp.TextContent{
					Type: "text",
					Text: fmt.Sprintf("Verification aborted: %v", err),
				},
			},
			IsError: true,
		}, nil
	}

	s.logger.Info("verification completed",
		zap.String("task_id", task.TaskID),
		zap.String("report_id", report.ReportID),
		zap.String("verdict", string(report.Output.Verdict)),
		zap.String("category", string(report.Output.Category)))

	reportJSON, err := json.Marshal(report)
	if err != nil {
		return nil, fmt.Errorf("failed to encode report: %w", err)
	}

	return &mcp.CallToolResult{
		Content: []mcp.Content{
			mcp.TextContent{
				Type: "text",
				Text: string(reportJSON),
			},
		},
	}, nil
}

// decodeTask maps the tool arguments onto the task schema
func decodeTask(request mcp.CallToolRequest) (verify.TaskSchema, error) {
	var task verify.TaskSchema

	if _, err := request.RequireString("task_id"); err != nil {
		return task, fmt.Errorf("task_id parameter is required: %w", err)
	}
	if _, err := request.RequireString("runtime"); err != nil {
		return task, fmt.Errorf("runtime parameter is required: %w", err)
	}

	raw, err := json.Marshal(request.GetArguments())
	if err != nil {
		return task, fmt.Errorf("failed to read arguments: %w", err)
	}
	if err := json.Unmarshal(raw, &task); err != nil {
		return task, fmt.Errorf("failed to decode task: %w", err)
	}

	return task, nil
}

// ServeStdio starts the server on stdio
func (s *MCPServer) ServeStdio() error {
	s.logger.Info("starting MCP server on stdio")
	return server.ServeStdio(s.mcpServer)
}

// ServeHTTP starts the server on HTTP
func (s *MCPServer) ServeHTTP() error {
	port := s.config.Server.HTTPPort
	s.logger.Info("starting MCP server on HTTP", zap.Int("port", port))

	httpServer := server.NewStreamableHTTPServer(s.mcpServer)
	return httpServer.Start(fmt.Sprintf(":%d", port))
}

// GetMCPServer returns the underlying MCP server for fx
func (s *MCPServer) GetMCPServer() *server.MCPServer {
	return s.mcpServer
}
