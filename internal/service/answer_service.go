package service

import (
	"context"
	_ "embed"
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/arturoeanton/tds-virtual-ta/internal/domain"
	"github.com/arturoeanton/tds-virtual-ta/internal/port"
)

//go:embed rules.yaml
var defaultRules []byte

const (
	excerptLength = 300
	maxLinks      = 3

	// NoInformationAnswer is returned in fallback mode when nothing matched.
	NoInformationAnswer = "I don't have specific information about that topic in my current knowledge base. Please check the course materials or post your question on the discussion forum for assistance from instructors."
)

const systemPreamble = `You are a helpful Teaching Assistant for the Tools in Data Science (TDS) course at IIT Madras.
You provide accurate, helpful answers to student questions based on course content and previous discussions.

Guidelines:
- Be concise but comprehensive
- Reference specific course materials when relevant
- If you don't know something, say so clearly
- Focus on practical, actionable advice
- Maintain a supportive, educational tone

Current context from course materials and previous discussions:
`

// FallbackRule is a canned answer selected by keyword presence.
type FallbackRule struct {
	Name   string   `yaml:"name"`
	All    []string `yaml:"all"`
	Any    []string `yaml:"any"`
	Answer string   `yaml:"answer"`
}

// Matches reports whether the lower-cased question satisfies the rule.
func (r FallbackRule) Matches(lowerQuestion string) bool {
	for _, kw := range r.All {
		if !strings.Contains(lowerQuestion, kw) {
			return false
		}
	}
	if len(r.Any) == 0 {
		return true
	}
	for _, kw := range r.Any {
		if strings.Contains(lowerQuestion, kw) {
			return true
		}
	}
	return false
}

// ParseFallbackRules decodes a YAML rule table. Keywords are lower-cased.
func ParseFallbackRules(data []byte) ([]FallbackRule, error) {
	var doc struct {
		Rules []FallbackRule `yaml:"rules"`
	}
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("parse fallback rules: %w", err)
	}
	for i := range doc.Rules {
		r := &doc.Rules[i]
		if strings.TrimSpace(r.Answer) == "" {
			return nil, fmt.Errorf("fallback rule %q has no answer", r.Name)
		}
		if len(r.All) == 0 && len(r.Any) == 0 {
			return nil, fmt.Errorf("fallback rule %q has no keywords", r.Name)
		}
		r.All = lowerAll(r.All)
		r.Any = lowerAll(r.Any)
		r.Answer = strings.TrimSpace(r.Answer)
	}
	return doc.Rules, nil
}

// LoadFallbackRules reads rules from path, or the built-in table when path is empty.
func LoadFallbackRules(path string) ([]FallbackRule, error) {
	if path == "" {
		return ParseFallbackRules(defaultRules)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read fallback rules: %w", err)
	}
	return ParseFallbackRules(data)
}

func lowerAll(in []string) []string {
	out := make([]string, 0, len(in))
	for _, s := range in {
		if s = strings.ToLower(strings.TrimSpace(s)); s != "" {
			out = append(out, s)
		}
	}
	return out
}

// AnswerService produces the final answer text and supporting links.
type AnswerService struct {
	completion port.CompletionProvider // nil forces fallback mode
	config     *ConfigService
	rules      []FallbackRule
	offline    bool
}

// NewAnswerService creates an answer generator. With offline set, or without
// a completion provider, answers come from the rule table and evidence.
func NewAnswerService(completion port.CompletionProvider, config *ConfigService, rules []FallbackRule, offline bool) *AnswerService {
	return &AnswerService{completion: completion, config: config, rules: rules, offline: offline}
}

// Offline reports whether answers are generated without a model.
func (s *AnswerService) Offline() bool {
	return s.offline || s.completion == nil
}

// Generate answers the question from evidence and optional image context.
// Links are derived from forum evidence only. Completion failures are returned.
func (s *AnswerService) Generate(ctx context.Context, question string, evidence []domain.EvidenceEntry, imageDescription string) (string, []domain.Link, error) {
	links := ExtractLinks(evidence)
	if s.Offline() {
		return s.Fallback(question, evidence), links, nil
	}

	opts := s.config.CompletionOptions(ctx)
	answer, err := s.completion.Complete(ctx, BuildSystemPrompt(evidence, imageDescription), BuildUserPrompt(question), opts)
	if err != nil {
		return "", nil, fmt.Errorf("generate answer: %w", err)
	}
	return answer, links, nil
}

// Fallback answers without a model: first matching rule, else an excerpt of
// the top evidence, else the fixed no-information message.
func (s *AnswerService) Fallback(question string, evidence []domain.EvidenceEntry) string {
	lower := strings.ToLower(question)
	for _, r := range s.rules {
		if r.Matches(lower) {
			return r.Answer
		}
	}
	if len(evidence) > 0 {
		return "Based on the course materials, here's what I found: " + truncateRunes(evidence[0].Text, excerptLength) +
			"... Please refer to the linked resources for more detailed information."
	}
	return NoInformationAnswer
}

// BuildSystemPrompt renders the preamble and evidence, one entry per
// paragraph, with optional image context.
func BuildSystemPrompt(evidence []domain.EvidenceEntry, imageDescription string) string {
	var b strings.Builder
	b.WriteString(systemPreamble)
	for i, e := range evidence {
		if i > 0 {
			b.WriteString("\n\n")
		}
		fmt.Fprintf(&b, "[%s] %s: %s", e.Variant.Label(), e.Title, e.Text)
	}
	if imageDescription != "" {
		b.WriteString("\n\nImage context: ")
		b.WriteString(imageDescription)
	}
	return b.String()
}

// BuildUserPrompt wraps the student's question.
func BuildUserPrompt(question string) string {
	return "Student question: " + question + "\n\nPlease provide a helpful answer based on the context provided above."
}

// ExtractLinks returns the first three forum entries as links. The result
// is never nil.
func ExtractLinks(evidence []domain.EvidenceEntry) []domain.Link {
	links := make([]domain.Link, 0, maxLinks)
	for _, e := range evidence {
		if e.Variant != domain.VariantForum {
			continue
		}
		links = append(links, domain.Link{URL: e.URL, Text: e.Title})
		if len(links) == maxLinks {
			break
		}
	}
	return links
}

func truncateRunes(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n])
}
