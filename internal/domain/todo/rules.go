package todo

import "strings"

// Rule assigns an agent to task content containing any of its keywords.
type Rule struct {
	Agent    string
	Keywords []string
}

// DefaultAgent receives work no rule matches.
const DefaultAgent = "engineer"

// DefaultRules is ordered from most to least specific; the first matching rule wins.
var DefaultRules = []Rule{
	{Agent: "security", Keywords: []string{
		"security", "vulnerab", "cve", "authenticat", "authoriz", "permission",
		"secret", "encrypt", "xss", "csrf", "injection", "sanitiz",
	}},
	{Agent: "qa", Keywords: []string{
		"test", "qa", "coverage", "verify", "validat", "regression", "e2e", "benchmark",
	}},
	{Agent: "documentation", Keywords: []string{
		"document", "docs", "readme", "changelog", "docstring", "tutorial", "guide",
	}},
	{Agent: "data_engineer", Keywords: []string{
		"database", "migration", "schema", "sql", "etl", "data model", "query",
	}},
	{Agent: "ops", Keywords: []string{
		"deploy", "docker", "kubernetes", "k8s", "ci/cd", "pipeline", "infrastructure",
		"terraform", "helm", "monitoring",
	}},
	{Agent: "version_control", Keywords: []string{
		"commit", "merge", "rebase", "branch", "pull request", "release", "git",
	}},
	{Agent: "research", Keywords: []string{
		"research", "investigate", "analyze", "analyse", "explore", "evaluate", "compare",
	}},
}

// Classifier maps task content to a responsible agent.
type Classifier struct {
	Rules   []Rule
	Default string
}

// NewClassifier returns a Classifier over DefaultRules. An empty
// defaultAgent falls back to DefaultAgent.
func NewClassifier(defaultAgent string) Classifier {
	if defaultAgent == "" {
		defaultAgent = DefaultAgent
	}
	return Classifier{Rules: DefaultRules, Default: defaultAgent}
}

// Classify returns the agent of the first rule with a keyword in content.
// Keywords match case-insensitively at the start of a word.
func (c Classifier) Classify(content string) string {
	lower := strings.ToLower(content)
	for _, rule := range c.Rules {
		for _, kw := range rule.Keywords {
			if containsWordPrefix(lower, kw) {
				return rule.Agent
			}
		}
	}
	return c.Default
}

func containsWordPrefix(s, prefix string) bool {
	for offset := 0; ; {
		i := strings.Index(s[offset:], prefix)
		if i < 0 {
			return false
		}
		at := offset + i
		if at == 0 || !isWordByte(s[at-1]) {
			return true
		}
		offset = at + 1
	}
}

func isWordByte(c byte) bool {
	return c == '_' || c >= 'a' && c <= 'z' || c >= '0' && c <= '9'
}
