package stages

import (
	"bytes"
	_ "embed"
	"fmt"
	"os"
	"text/template"

	"gopkg.in/yaml.v3"
)

//go:embed prompts.yaml
var defaultPromptsYAML []byte

// PromptTemplate is the prompt pair of one stage. User and CachedUser are
// text/template sources; System is sent verbatim.
type PromptTemplate struct {
	System string `yaml:"system"`
	User   string `yaml:"user" validate:"required"`

	// CachedPrefix and CachedUser replace User when the request is split
	// into a cacheable prefix and a per-call suffix.
	CachedPrefix string `yaml:"cached_prefix,omitempty"`
	CachedUser   string `yaml:"cached_user,omitempty"`
}

// Prompts is the prompt catalog for all four stages.
type Prompts struct {
	ClaimExtraction   PromptTemplate `yaml:"claim_extraction"`
	EvidenceRetrieval PromptTemplate `yaml:"evidence_retrieval"`
	DecisionJudgment  PromptTemplate `yaml:"decision_judgment"`
	CitationBuilding  PromptTemplate `yaml:"citation_building"`
}

// LoadPrompts parses a YAML prompt catalog and checks that every template
// compiles.
func LoadPrompts(data []byte) (*Prompts, error) {
	var p Prompts
	if err := yaml.Unmarshal(data, &p); err != nil {
		return nil, fmt.Errorf("failed to parse prompt catalog: %w", err)
	}
	if err := validate.Struct(p); err != nil {
		return nil, fmt.Errorf("prompt catalog validation failed: %w", err)
	}
	for name, src := range map[string]string{
		"claim_extraction":   p.ClaimExtraction.User,
		"evidence_retrieval": p.EvidenceRetrieval.User,
		"decision_judgment":  p.DecisionJudgment.User,
		"citation_building":  p.CitationBuilding.User,
	} {
		if _, err := parseTemplate(name, src); err != nil {
			return nil, err
		}
	}
	return &p, nil
}

// LoadPromptsFile reads a prompt catalog from disk.
func LoadPromptsFile(path string) (*Prompts, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read prompt catalog %s: %w", path, err)
	}
	return LoadPrompts(data)
}

// DefaultPrompts returns the embedded prompt catalog.
func DefaultPrompts() (*Prompts, error) { return LoadPrompts(defaultPromptsYAML) }

func parseTemplate(name, src string) (*template.Template, error) {
	tmpl, err := template.New(name).Funcs(templateFuncMap()).Option("missingkey=error").Parse(src)
	if err != nil {
		return nil, fmt.Errorf("failed to parse %s prompt template: %w", name, err)
	}
	return tmpl, nil
}

func render(tmpl *template.Template, data any) (string, error) {
	var buf bytes.Buffer
	if err := tmpl.Execute(&buf, data); err != nil {
		return "", fmt.Errorf("failed to execute %s prompt template: %w", tmpl.Name(), err)
	}
	return buf.String(), nil
}
