package checks

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/santhosh-tekuri/jsonschema/v5"
	"gopkg.in/yaml.v3"
)

// ReviewConfigFiles are looked up at the tree root in this order.
var ReviewConfigFiles = []string{"review.yaml", "review.yml", "review.json"}

// Configured requirement types.
const (
	TypeFile    = "file"
	TypeContent = "content"
	TypeTest    = "test"
	TypeCustom  = "custom"
)

// ErrInvalidReviewConfig wraps decoding and schema validation failures.
var ErrInvalidReviewConfig = errors.New("invalid review config")

const reviewConfigSchemaURL = "review.schema.json"

const reviewConfigSchema = `{
  "$schema": "http://json-schema.org/draft-07/schema#",
  "type": "object",
  "properties": {
    "requirements": {
      "type": "array",
      "items": {
        "type": "object",
        "required": ["id", "title"],
        "additionalProperties": false,
        "properties": {
          "id": {"type": "string", "minLength": 1},
          "title": {"type": "string"},
          "description": {"type": "string"},
          "type": {"enum": ["file", "content", "test", "custom"]},
          "check": {"type": "string"},
          "required": {"type": "boolean"}
        }
      }
    }
  }
}`

var compiledReviewSchema = mustCompileReviewSchema()

func mustCompileReviewSchema() *jsonschema.Schema {
	compiler := jsonschema.NewCompiler()
	if err := compiler.AddResource(reviewConfigSchemaURL, strings.NewReader(reviewConfigSchema)); err != nil {
		panic(err)
	}
	return compiler.MustCompile(reviewConfigSchemaURL)
}

// ConfigRequirement is one requirement declared in a review config file.
type ConfigRequirement struct {
	ID          string `json:"id"`
	Title       string `json:"title"`
	Description string `json:"description,omitempty"`
	Type        string `json:"type,omitempty"`
	Check       string `json:"check,omitempty"`
	Required    *bool  `json:"required,omitempty"`
}

// Optional reports whether the requirement was explicitly marked as not required.
func (r ConfigRequirement) Optional() bool {
	return r.Required != nil && !*r.Required
}

// ReviewConfig is the per-project declarative requirement list.
type ReviewConfig struct {
	Path         string              `json:"-"`
	Requirements []ConfigRequirement `json:"requirements"`
}

// LoadReviewConfig reads the first review config present at root.
// It returns nil without error when no config file exists.
func LoadReviewConfig(root string) (*ReviewConfig, error) {
	for _, name := range ReviewConfigFiles {
		path := filepath.Join(root, name)
		data, err := os.ReadFile(path)
		if err != nil {
			if errors.Is(err, os.ErrNotExist) {
				continue
			}
			return nil, fmt.Errorf("read %s: %w", name, err)
		}

		cfg, err := ParseReviewConfig(name, data)
		if err != nil {
			return nil, err
		}
		cfg.Path = name
		return cfg, nil
	}
	return nil, nil
}

// ParseReviewConfig decodes and validates a YAML or JSON review config.
func ParseReviewConfig(name string, data []byte) (*ReviewConfig, error) {
	var document interface{}
	if strings.HasSuffix(strings.ToLower(name), ".json") {
		if err := json.Unmarshal(data, &document); err != nil {
			return nil, fmt.Errorf("%w: %s: %v", ErrInvalidReviewConfig, name, err)
		}
	} else {
		if err := yaml.Unmarshal(data, &document); err != nil {
			return nil, fmt.Errorf("%w: %s: %v", ErrInvalidReviewConfig, name, err)
		}
	}

	// Normalise through JSON so YAML scalars validate like their JSON counterparts.
	normalized, err := json.Marshal(document)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrInvalidReviewConfig, name, err)
	}

	var generic interface{}
	if err := json.Unmarshal(normalized, &generic); err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrInvalidReviewConfig, name, err)
	}
	if generic == nil {
		return &ReviewConfig{}, nil
	}
	if err := compiledReviewSchema.Validate(generic); err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrInvalidReviewConfig, name, err)
	}

	cfg := &ReviewConfig{}
	if err := json.Unmarshal(normalized, cfg); err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrInvalidReviewConfig, name, err)
	}

	return cfg, nil
}

// Evaluate turns the configured requirements into requirement records.
func (c *ReviewConfig) Evaluate(tree *Tree) []Requirement {
	if c == nil {
		return nil
	}

	requirements := make([]Requirement, 0, len(c.Requirements))
	for _, req := range c.Requirements {
		status, evidence := c.evaluateOne(tree, req)
		if status == StatusFailed && req.Optional() {
			status = StatusSkipped
		}
		requirements = append(requirements, Requirement{
			ID:       "config:" + req.ID,
			Title:    req.Title,
			Status:   status,
			Evidence: evidence,
		})
	}
	return requirements
}

func (c *ReviewConfig) evaluateOne(tree *Tree, req ConfigRequirement) (string, string) {
	switch req.Type {
	case TypeFile:
		if len(tree.FindSuffix(req.Check)) > 0 {
			return StatusPassed, fmt.Sprintf("file %s found", req.Check)
		}
		return StatusFailed, fmt.Sprintf("file %s not found", req.Check)

	case TypeContent:
		if req.Check == "" {
			return StatusFailed, "no pattern configured"
		}
		pattern, err := regexp.Compile("(?i)" + req.Check)
		if err != nil {
			return StatusFailed, fmt.Sprintf("check error: invalid pattern: %v", err)
		}
		var matched []File
		for _, file := range tree.Files {
			if pattern.MatchString(tree.Content(file)) {
				matched = append(matched, file)
			}
		}
		if len(matched) == 0 {
			return StatusFailed, fmt.Sprintf("pattern %q not found", req.Check)
		}
		return StatusPassed, "found in files: " + joinBaseNames(matched)

	case TypeTest:
		return evaluateTestFiles(tree)

	default:
		if req.Description != "" {
			return StatusFailed, req.Description
		}
		return StatusFailed, "requirement not verified"
	}
}

// InvalidConfigRequirement reports a review config that could not be loaded.
func InvalidConfigRequirement(err error) Requirement {
	return Requirement{
		ID:       "config:review-file",
		Title:    "Review config is valid",
		Status:   StatusFailed,
		Evidence: err.Error(),
	}
}
