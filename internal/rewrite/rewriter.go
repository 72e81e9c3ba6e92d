// Package rewrite corrects systematic misrecognitions in finalized
// transcript fragments before they reach wake-phrase detection and command
// matching.
//
// Two line formats are accepted:
//
//	hey bilder => hey builder      literal, case-insensitive, whole words
//	s/\btemp(a|e)lates?\b/templates/g   sed-style regex with i, g, m, s flags
//
// Blank lines and lines starting with # are ignored.
package rewrite

import (
	"errors"
	"fmt"
	"os"
	"regexp"
	"strings"
)

const defaultPassLimit = 30

// Rule rewrites one piece of text.
type Rule interface {
	Rewrite(input string) (output string, changed bool)
}

// Rewriter applies rules repeatedly until the text is stable or the pass
// limit is reached.
type Rewriter struct {
	rules     []Rule
	passLimit int
}

// New compiles rules from lines.
func New(lines []string, passLimit int) (*Rewriter, error) {
	if passLimit <= 0 {
		passLimit = defaultPassLimit
	}
	rules, err := compile(lines)
	if err != nil {
		return nil, err
	}
	return &Rewriter{rules: rules, passLimit: passLimit}, nil
}

// Load compiles rules from a file. A missing or empty path yields a
// Rewriter without rules.
func Load(path string, passLimit int) (*Rewriter, error) {
	if strings.TrimSpace(path) == "" {
		return New(nil, passLimit)
	}
	contents, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return New(nil, passLimit)
		}
		return nil, fmt.Errorf("failed to read rewrite rules %q: %w", path, err)
	}
	r, err := New(strings.Split(string(contents), "\n"), passLimit)
	if err != nil {
		return nil, fmt.Errorf("failed to parse rewrite rules %q: %w", path, err)
	}
	return r, nil
}

// With returns a Rewriter holding r's rules followed by extra.
func (r *Rewriter) With(extra []string) (*Rewriter, error) {
	rules, err := compile(extra)
	if err != nil {
		return nil, err
	}
	combined := append(append([]Rule(nil), r.rules...), rules...)
	return &Rewriter{rules: combined, passLimit: r.passLimit}, nil
}

// Len returns the number of compiled rules.
func (r *Rewriter) Len() int {
	return len(r.rules)
}

// Apply rewrites text. It never fails; the error return satisfies
// ports.RulesEngine.
func (r *Rewriter) Apply(text string) (string, error) {
	if len(r.rules) == 0 {
		return text, nil
	}
	result := text
	for pass := 0; pass < r.passLimit; pass++ {
		changed := false
		for _, rule := range r.rules {
			if next, ok := rule.Rewrite(result); ok {
				result = next
				changed = true
			}
		}
		if !changed {
			break
		}
	}
	return result, nil
}

func compile(lines []string) ([]Rule, error) {
	rules := make([]Rule, 0, len(lines))
	for i, raw := range lines {
		line := strings.TrimSpace(raw)
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}

		var (
			rule Rule
			err  error
		)
		switch {
		case isSedRule(line):
			rule, err = parseSed(line)
		case strings.Contains(line, "=>"):
			rule, err = parseLiteral(line)
		default:
			err = errors.New("unsupported rule format")
		}
		if err != nil {
			return nil, fmt.Errorf("line %d: %w", i+1, err)
		}
		rules = append(rules, rule)
	}
	return rules, nil
}

type literalRule struct {
	re          *regexp.Regexp
	replacement string
}

func parseLiteral(line string) (Rule, error) {
	from, to, _ := strings.Cut(line, "=>")
	from = strings.TrimSpace(from)
	to = strings.TrimSpace(to)
	if from == "" {
		return nil, errors.New("literal rule source cannot be empty")
	}
	re, err := regexp.Compile(`(?i)\b` + regexp.QuoteMeta(from) + `\b`)
	if err != nil {
		return nil, fmt.Errorf("invalid literal source: %w", err)
	}
	return literalRule{re: re, replacement: to}, nil
}

func (r literalRule) Rewrite(input string) (string, bool) {
	output := r.re.ReplaceAllLiteralString(input, r.replacement)
	return output, output != input
}

type sedRule struct {
	re          *regexp.Regexp
	replacement string
	global      bool
}

func parseSed(line string) (Rule, error) {
	delim := line[1]
	pattern, next, err := readDelimited(line, 2, delim)
	if err != nil {
		return nil, fmt.Errorf("invalid regex pattern: %w", err)
	}
	replacement, next, err := readDelimited(line, next, delim)
	if err != nil {
		return nil, fmt.Errorf("invalid regex replacement: %w", err)
	}

	flags := "i"
	global := false
	for _, flag := range strings.TrimSpace(line[next:]) {
		switch flag {
		case 'i', ' ':
		case 'g':
			global = true
		case 'm', 's':
			flags += string(flag)
		default:
			return nil, fmt.Errorf("unsupported regex flag %q", flag)
		}
	}

	re, err := regexp.Compile("(?" + flags + ")" + pattern)
	if err != nil {
		return nil, fmt.Errorf("invalid regex: %w", err)
	}
	return sedRule{re: re, replacement: replacement, global: global}, nil
}

func (r sedRule) Rewrite(input string) (string, bool) {
	if r.global {
		output := r.re.ReplaceAllString(input, r.replacement)
		return output, output != input
	}
	loc := r.re.FindStringSubmatchIndex(input)
	if loc == nil {
		return input, false
	}
	expanded := r.re.ExpandString(nil, r.replacement, input, loc)
	output := input[:loc[0]] + string(expanded) + input[loc[1]:]
	return output, output != input
}

func readDelimited(line string, start int, delim byte) (string, int, error) {
	var b strings.Builder
	escaped := false
	for i := start; i < len(line); i++ {
		c := line[i]
		switch {
		case escaped:
			if c != delim {
				b.WriteByte('\\')
			}
			b.WriteByte(c)
			escaped = false
		case c == '\\':
			escaped = true
		case c == delim:
			return b.String(), i + 1, nil
		default:
			b.WriteByte(c)
		}
	}
	return "", 0, errors.New("unterminated expression")
}

func isSedRule(line string) bool {
	if len(line) < 2 || line[0] != 's' {
		return false
	}
	c := line[1]
	return !(c >= 'a' && c <= 'z' || c >= 'A' && c <= 'Z' || c >= '0' && c <= '9' || c == ' ' || c == '\t')
}
