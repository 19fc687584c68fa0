package verify

import "github.com/isdmx/vetbox/sandbox"

// Remediation agent roles
const (
	AgentAutoLinter         = "Auto-Linter Agent"
	AgentSecOps             = "SecOps Agent"
	AgentContractNegotiator = "Contract Negotiator"
	AgentPlanner            = "Planner Agent"
)

// Route names the remediation agent for a failure. Syntax, security, and
// contract failures have dedicated agents; logic failures route by
// severity — critical or high escalates to the planner as a likely
// design-level defect, anything lower goes back to the runtime's coding
// agent. Total over the category and severity enums, no side effects.
func Route(category FailureCategory, severity sandbox.Severity, runtime string) string {
	switch category {
	case CategorySyntax:
		return AgentAutoLinter
	case CategorySecurity:
		return AgentSecOps
	case CategoryContract:
		return AgentContractNegotiator
	default:
		if severity.AtLeast(sandbox.SeverityHigh) {
			return AgentPlanner
		}
		return coderAgentFor(runtime)
	}
}

// coderAgentFor names the runtime-specific coding agent
func coderAgentFor(runtime string) string {
	switch runtime {
	case sandbox.RuntimePython:
		return "Python Coder Agent"
	case sandbox.RuntimeNode:
		return "Node Coder Agent"
	case sandbox.RuntimeTypeScript:
		return "TypeScript Coder Agent"
	default:
		return "Coder Agent"
	}
}
