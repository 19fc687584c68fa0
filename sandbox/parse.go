package sandbox

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
)

// Parsers reducing raw analyzer output into structured findings. The
// analyzers themselves are black boxes; only their output formats are
// depended on here.

// ParseBanditOutput parses `bandit -f json` output into security findings
func ParseBanditOutput(out string) []SecurityFinding {
	var report struct {
		Results []struct {
			Filename      string `json:"filename"`
			IssueSeverity string `json:"issue_severity"`
			IssueText     string `json:"issue_text"`
			LineNumber    int    `json:"line_number"`
			TestID        string `json:"test_id"`
			IssueCWE      struct {
				ID int `json:"id"`
			} `json:"issue_cwe"`
			MoreInfo string `json:"more_info"`
		} `json:"results"`
	}

	if err := json.Unmarshal([]byte(out), &report); err != nil {
		return nil
	}

	findings := make([]SecurityFinding, 0, len(report.Results))
	for _, r := range report.Results {
		finding := SecurityFinding{
			Severity:    banditSeverity(r.IssueSeverity),
			Type:        r.TestID,
			File:        r.Filename,
			Line:        r.LineNumber,
			Message:     r.IssueText,
			Remediation: r.MoreInfo,
		}
		if r.IssueCWE.ID != 0 {
			finding.CWE = fmt.Sprintf("CWE-%d", r.IssueCWE.ID)
		}
		findings = append(findings, finding)
	}

	return findings
}

func banditSeverity(s string) Severity {
	switch strings.ToUpper(s) {
	case "HIGH":
		return SeverityHigh
	case "MEDIUM":
		return SeverityMedium
	default:
		return SeverityLow
	}
}

// ParseNpmAuditOutput parses `npm audit --json` output into security
// findings, one per vulnerable dependency.
func ParseNpmAuditOutput(out string) []SecurityFinding {
	var report struct {
		Vulnerabilities map[string]struct {
			Name     string            `json:"name"`
			Severity string            `json:"severity"`
			Via      []json.RawMessage `json:"via"`
			Range    string            `json:"range"`
		} `json:"vulnerabilities"`
	}

	if err := json.Unmarshal([]byte(out), &report); err != nil {
		return nil
	}

	var findings []SecurityFinding
	for name, vuln := range report.Vulnerabilities {
		finding := SecurityFinding{
			Severity: npmSeverity(vuln.Severity),
			Type:     "vulnerable-dependency",
			File:     "package.json",
			Message:  fmt.Sprintf("%s %s is vulnerable", name, vuln.Range),
		}

		// The via list mixes advisory objects with plain dependency names;
		// take details from the first advisory object.
		for _, raw := range vuln.Via {
			var advisory struct {
				Title string   `json:"title"`
				URL   string   `json:"url"`
				CWE   []string `json:"cwe"`
			}
			if err := json.Unmarshal(raw, &advisory); err != nil || advisory.Title == "" {
				continue
			}
			finding.Message = fmt.Sprintf("%s: %s", name, advisory.Title)
			finding.Remediation = advisory.URL
			if len(advisory.CWE) > 0 {
				finding.CWE = advisory.CWE[0]
			}
			break
		}

		findings = append(findings, finding)
	}

	return findings
}

func npmSeverity(s string) Severity {
	switch strings.ToLower(s) {
	case "critical":
		return SeverityCritical
	case "high":
		return SeverityHigh
	case "moderate":
		return SeverityMedium
	default:
		return SeverityLow
	}
}

// ParseESLintOutput parses `eslint -f json` output into lint violations
func ParseESLintOutput(out string) []LintViolation {
	var files []struct {
		FilePath string `json:"filePath"`
		Messages []struct {
			RuleID   string          `json:"ruleId"`
			Severity int             `json:"severity"`
			Message  string          `json:"message"`
			Line     int             `json:"line"`
			Column   int             `json:"column"`
			Fix      json.RawMessage `json:"fix"`
		} `json:"messages"`
	}

	if err := json.Unmarshal([]byte(out), &files); err != nil {
		return nil
	}

	var violations []LintViolation
	for _, file := range files {
		for _, msg := range file.Messages {
			severity := LintWarning
			if msg.Severity >= 2 {
				severity = LintError
			}
			violations = append(violations, LintViolation{
				RuleID:   msg.RuleID,
				Severity: severity,
				File:     file.FilePath,
				Line:     msg.Line,
				Column:   msg.Column,
				Message:  msg.Message,
				Fixable:  len(msg.Fix) > 0,
			})
		}
	}

	return violations
}

// ParseFlake8Output parses flake8/pylint style text output, one violation
// per `file:line:col: CODE message` line.
func ParseFlake8Output(out string) []LintViolation {
	var violations []LintViolation

	for _, line := range strings.Split(out, "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}

		parts := strings.SplitN(line, ":", 4)
		if len(parts) != 4 {
			continue
		}

		lineNum, err := strconv.Atoi(strings.TrimSpace(parts[1]))
		if err != nil {
			continue
		}
		colNum, err := strconv.Atoi(strings.TrimSpace(parts[2]))
		if err != nil {
			continue
		}

		rest := strings.TrimSpace(parts[3])
		code, message, found := strings.Cut(rest, " ")
		if !found {
			continue
		}
		code = strings.TrimSuffix(code, ":")

		violations = append(violations, LintViolation{
			RuleID:   code,
			Severity: flake8Severity(code),
			File:     parts[0],
			Line:     lineNum,
			Column:   colNum,
			Message:  message,
		})
	}

	return violations
}

// flake8Severity maps rule code families to severities: E (pycodestyle
// errors) and F (pyflakes) are errors, everything else is a warning.
func flake8Severity(code string) LintSeverity {
	if code == "" {
		return LintWarning
	}
	switch code[0] {
	case 'E', 'F':
		return LintError
	default:
		return LintWarning
	}
}

// ParsePytestOutput parses `pytest -v` output into per-test results
func ParsePytestOutput(out string) []TestResult {
	var results []TestResult

	for _, line := range strings.Split(out, "\n") {
		line = strings.TrimSpace(line)
		if !strings.Contains(line, "::") {
			continue
		}

		fields := strings.Fields(line)
		if len(fields) < 2 {
			continue
		}

		var status TestStatus
		switch fields[1] {
		case "PASSED":
			status = TestPassed
		case "FAILED":
			status = TestFailed
		case "SKIPPED":
			status = TestSkipped
		case "ERROR":
			status = TestErrored
		default:
			continue
		}

		file, name, _ := strings.Cut(fields[0], "::")
		results = append(results, TestResult{
			Name:   name,
			File:   file,
			Status: status,
		})
	}

	return results
}

// ParseNpmTestOutput reduces `npm test` output to test results. Jest-style
// summary lines are expanded into aggregate counts; otherwise the whole run
// collapses to a single pass/fail result keyed off the exit code.
func ParseNpmTestOutput(out string, exitCode int) []TestResult {
	for _, line := range strings.Split(out, "\n") {
		line = strings.TrimSpace(line)
		if !strings.HasPrefix(line, "Tests:") {
			continue
		}

		var results []TestResult
		summary := strings.TrimSpace(strings.TrimPrefix(line, "Tests:"))
		summary = strings.TrimSuffix(summary, "total")
		for _, part := range strings.Split(summary, ",") {
			fields := strings.Fields(part)
			if len(fields) != 2 {
				continue
			}
			count, err := strconv.Atoi(fields[0])
			if err != nil {
				continue
			}

			var status TestStatus
			switch fields[1] {
			case "passed":
				status = TestPassed
			case "failed":
				status = TestFailed
			case "skipped":
				status = TestSkipped
			default:
				continue
			}
			for i := 0; i < count; i++ {
				results = append(results, TestResult{
					Name:   fmt.Sprintf("npm test #%d (%s)", i+1, status),
					Status: status,
				})
			}
		}
		if len(results) > 0 {
			return results
		}
	}

	// No recognizable summary; fall back to the exit code.
	result := TestResult{Name: "npm test", Status: TestPassed}
	if exitCode != 0 {
		result.Status = TestFailed
		result.ErrorMessage = tail(out, 500)
	}
	return []TestResult{result}
}

// tail returns at most n trailing bytes of s
func tail(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[len(s)-n:]
}
