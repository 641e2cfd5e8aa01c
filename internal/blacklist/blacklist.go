package blacklist

import (
	"bufio"
	_ "embed"
	"fmt"
	"os"
	"regexp"
	"strings"
	"sync"

	"gopkg.in/yaml.v3"

	"github.com/therealutkarshpriyadarshi/testmatrix/internal/logging"
)

// PendingPrefix marks a reason as a pending bug rather than a hard skip
const PendingPrefix = "PENDING:"

//go:embed defaults.yaml
var defaultRules []byte

var globStar = regexp.MustCompile(`(^|[^.\\])\*`)

// Rule maps a classname pattern to a skip reason
type Rule struct {
	Pattern string `yaml:"pattern" json:"pattern"`
	Reason  string `yaml:"reason" json:"reason"`
	Flags   string `yaml:"flags,omitempty" json:"flags,omitempty"`

	re *regexp.Regexp
}

// Pending reports whether the rule only documents a pending bug
func (r Rule) Pending() bool {
	return strings.HasPrefix(r.Reason, PendingPrefix)
}

// compile turns the glob-flavoured pattern into a regular expression.
// A * that does not already follow . or \ matches anything.
func (r *Rule) compile() error {
	expr := globStar.ReplaceAllString(r.Pattern, "$1.*")
	re, err := regexp.Compile(r.Flags + expr)
	if err != nil {
		return fmt.Errorf("invalid blacklist pattern %q: %w", r.Pattern, err)
	}
	r.re = re
	return nil
}

type ruleFile struct {
	Rules []Rule `yaml:"rules"`
}

// Matcher evaluates rules in insertion order, first match wins
type Matcher struct {
	mu         sync.RWMutex
	rules      []Rule
	suppressed []string
	reportOnce sync.Once
	logger     *logging.Logger
}

// NewMatcher creates an empty matcher
func NewMatcher(logger *logging.Logger) *Matcher {
	if logger == nil {
		logger = logging.NewNopLogger()
	}
	return &Matcher{logger: logger}
}

// Add compiles and appends rules
func (m *Matcher) Add(rules ...Rule) error {
	compiled := make([]Rule, 0, len(rules))
	for _, r := range rules {
		if err := r.compile(); err != nil {
			return err
		}
		compiled = append(compiled, r)
	}

	m.mu.Lock()
	m.rules = append(m.rules, compiled...)
	m.mu.Unlock()
	return nil
}

// LoadDefaults adds the built-in known issues
func (m *Matcher) LoadDefaults() error {
	return m.load(defaultRules, "defaults")
}

// LoadFile adds rules from a YAML file
func (m *Matcher) LoadFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read blacklist: %w", err)
	}
	return m.load(data, path)
}

func (m *Matcher) load(data []byte, source string) error {
	var f ruleFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return fmt.Errorf("failed to parse blacklist %s: %w", source, err)
	}
	if err := m.Add(f.Rules...); err != nil {
		return fmt.Errorf("%s: %w", source, err)
	}
	return nil
}

// LoadSuppressions records the bugs listed as "# PENDING: <bug>" in a suppression file
func (m *Matcher) LoadSuppressions(path string) error {
	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("failed to open suppressions: %w", err)
	}
	defer f.Close()

	var bugs []string
	sc := bufio.NewScanner(f)
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if !strings.HasPrefix(line, "# "+PendingPrefix) {
			continue
		}
		if fields := strings.Fields(line); len(fields) > 2 {
			bugs = append(bugs, fields[2])
		}
	}
	if err := sc.Err(); err != nil {
		return err
	}

	m.mu.Lock()
	m.suppressed = append(m.suppressed, bugs...)
	m.mu.Unlock()
	return nil
}

// ShouldSkip returns the reason classname must not run. Pending rules never skip.
func (m *Matcher) ShouldSkip(classname string) (bool, string) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	for _, r := range m.rules {
		if r.Pending() {
			continue
		}
		if r.re.MatchString(classname) {
			return true, r.Reason
		}
	}
	return false, ""
}

// Rules returns a copy of the rule set
func (m *Matcher) Rules() []Rule {
	m.mu.RLock()
	defer m.mu.RUnlock()

	return append([]Rule(nil), m.rules...)
}

// Pending lists pending bugs from rules and suppression files
func (m *Matcher) Pending() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []string
	for _, r := range m.rules {
		if r.Pending() {
			out = append(out, strings.TrimSpace(strings.TrimPrefix(r.Reason, PendingPrefix)))
		}
	}
	return append(out, m.suppressed...)
}

// ReportPending logs the pending bugs. Only the first call logs.
func (m *Matcher) ReportPending() {
	m.reportOnce.Do(func() {
		pending := m.Pending()
		if len(pending) == 0 {
			return
		}
		var b strings.Builder
		b.WriteString("Ignored pending bugs:")
		for _, p := range pending {
			b.WriteString("\n  + ")
			b.WriteString(p)
		}
		m.logger.Warn(b.String())
	})
}
