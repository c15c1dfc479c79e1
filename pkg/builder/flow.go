package builder

import (
	"regexp"
	"slices"
	"strings"

	"github.com/kode4food/stagehand/pkg/api"
)

// Flow assembles a flow definition from steps and guard conditions
type Flow struct {
	id         api.FlowID
	name       string
	desc       string
	steps      []*Step
	conditions []*Condition
	metadata   api.Metadata
}

var (
	camelCaseRegex = regexp.MustCompile(`([a-z0-9])([A-Z])`)
	delimiterRegex = regexp.MustCompile(`[\s_]+`)
)

// NewFlow creates a flow builder. The flow's ID is derived from the name
// unless WithID overrides it
func NewFlow(name string) *Flow {
	return &Flow{
		id:   api.FlowID(toSnakeCase(name)),
		name: name,
		metadata: api.Metadata{
			Version: "1.0.0",
		},
	}
}

// WithID overrides the derived flow ID
func (f *Flow) WithID(id api.FlowID) *Flow {
	res := *f
	res.id = id
	return &res
}

// WithDescription sets the flow's description
func (f *Flow) WithDescription(desc string) *Flow {
	res := *f
	res.desc = desc
	return &res
}

// WithMetadata replaces the flow's descriptive metadata
func (f *Flow) WithMetadata(md api.Metadata) *Flow {
	res := *f
	res.metadata = md
	return &res
}

// WithAuthor sets the metadata author
func (f *Flow) WithAuthor(author string) *Flow {
	res := *f
	res.metadata.Author = author
	return &res
}

// WithVersion sets the metadata version
func (f *Flow) WithVersion(version string) *Flow {
	res := *f
	res.metadata.Version = version
	return &res
}

// WithTags appends descriptive tags
func (f *Flow) WithTags(tags ...string) *Flow {
	res := *f
	res.metadata.Tags = append(
		slices.Clone(f.metadata.Tags), tags...,
	)
	return &res
}

// WithStep appends a step to the flow
func (f *Flow) WithStep(step *Step) *Flow {
	res := *f
	res.steps = append(slices.Clone(f.steps), step)
	return &res
}

// WithCondition appends a flow-level guard condition. A required guard that
// is unmet at start fails the run before any step is dispatched
func (f *Flow) WithCondition(cond *Condition) *Flow {
	res := *f
	res.conditions = append(slices.Clone(f.conditions), cond)
	return &res
}

// Build materializes the definition and validates its fields
func (f *Flow) Build() (*api.FlowDefinition, error) {
	def := &api.FlowDefinition{
		ID:          f.id,
		Name:        f.name,
		Description: f.desc,
		Metadata:    f.metadata,
	}
	for _, s := range f.steps {
		def.Steps = append(def.Steps, *s.build())
	}
	for _, c := range f.conditions {
		def.Conditions = append(def.Conditions, *c.build())
	}
	if err := def.Validate(); err != nil {
		return nil, err
	}
	return def, nil
}

func toSnakeCase(str string) string {
	res := camelCaseRegex.ReplaceAllString(str, "${1}_${2}")
	res = delimiterRegex.ReplaceAllString(res, "_")
	return strings.ToLower(res)
}
