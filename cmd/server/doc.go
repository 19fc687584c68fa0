// Package main is the entry point for the Vetbox MCP server.
//
// The Vetbox server implements a policy-driven Model Context Protocol (MCP)
// server that verifies agent-generated code bundles (Python, Node.js,
// TypeScript) in isolated sandboxes before they are accepted into a build.
// Each submission passes through dependency vetting, static analysis and
// security scanning, test execution, and API contract validation, and is
// reduced to a single verdict routed to the agent best placed to repair it.
//
// The application uses Uber's fx framework for dependency injection and
// lifecycle management, with zap for structured logging and viper for
// configuration.
package main
