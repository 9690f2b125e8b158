// ABOUTME: The one place coupled to backend status wording: phrase table -> stage mapping.
// ABOUTME: Default table is embedded TOML; deployments can load an override file.

package pipeline

import (
	_ "embed"
	"fmt"
	"strings"

	"github.com/BurntSushi/toml"
)

//go:embed phrases.toml
var defaultPhrases []byte

type phraseRule struct {
	Contains string  `toml:"contains"`
	Stages   []Stage `toml:"stages"`
}

type toolRules struct {
	SearchPrefixes []string `toml:"search_prefixes"`
	SearchNames    []string `toml:"search_names"`
}

type phraseFile struct {
	Rules []phraseRule `toml:"rule"`
	Tools toolRules    `toml:"tools"`
}

// Matcher maps free-text status messages and tool names to pipeline stages.
// Matching is case-insensitive substring search; it is best-effort by design
// since the backend phrases are not contractually guaranteed.
type Matcher struct {
	rules []phraseRule
	tools toolRules
}

// DefaultMatcher uses the embedded phrase table.
func DefaultMatcher() *Matcher {
	m, err := parseMatcher(defaultPhrases)
	if err != nil {
		// The embedded table is validated by tests; reaching this is a build defect.
		panic(fmt.Sprintf("pipeline: embedded phrase table invalid: %v", err))
	}
	return m
}

// LoadMatcher reads a phrase table override from path.
func LoadMatcher(path string) (*Matcher, error) {
	var file phraseFile
	if _, err := toml.DecodeFile(path, &file); err != nil {
		return nil, fmt.Errorf("loading phrase table %s: %w", path, err)
	}
	return newMatcher(file)
}

func parseMatcher(data []byte) (*Matcher, error) {
	var file phraseFile
	if err := toml.Unmarshal(data, &file); err != nil {
		return nil, err
	}
	return newMatcher(file)
}

func newMatcher(file phraseFile) (*Matcher, error) {
	valid := make(map[Stage]bool, len(Stages))
	for _, s := range Stages {
		valid[s] = true
	}
	rules := make([]phraseRule, 0, len(file.Rules))
	for _, r := range file.Rules {
		if r.Contains == "" {
			return nil, fmt.Errorf("phrase rule with empty contains")
		}
		for _, s := range r.Stages {
			if !valid[s] {
				return nil, fmt.Errorf("phrase rule %q names unknown stage %q", r.Contains, s)
			}
		}
		r.Contains = strings.ToLower(r.Contains)
		rules = append(rules, r)
	}
	return &Matcher{rules: rules, tools: file.Tools}, nil
}

// StagesForStatus returns every stage whose phrase appears in the status text.
func (m *Matcher) StagesForStatus(text string) []Stage {
	lower := strings.ToLower(text)
	var stages []Stage
	for _, r := range m.rules {
		if strings.Contains(lower, r.Contains) {
			stages = append(stages, r.Stages...)
		}
	}
	return stages
}

// IsSearchTool reports whether a tool name belongs to the retrieval category.
func (m *Matcher) IsSearchTool(name string) bool {
	lower := strings.ToLower(name)
	for _, p := range m.tools.SearchPrefixes {
		if strings.HasPrefix(lower, p) {
			return true
		}
	}
	for _, n := range m.tools.SearchNames {
		if lower == n {
			return true
		}
	}
	return false
}
