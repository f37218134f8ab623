package catalog

import (
	"fmt"

	"gopkg.in/yaml.v3"
)

type yamlFile struct {
	Templates []yamlTemplate `yaml:"templates"`
}

// yamlTemplate records the line each template starts on.
type yamlTemplate struct {
	rawTemplate
}

func (t *yamlTemplate) UnmarshalYAML(node *yaml.Node) error {
	type plain rawTemplate
	var p plain
	if err := node.Decode(&p); err != nil {
		return err
	}
	t.rawTemplate = rawTemplate(p)
	t.line = node.Line
	return nil
}

// ParseYAML parses a YAML catalog.
func ParseYAML(filename string, data []byte) (*Catalog, error) {
	var f yamlFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("parse %s: %w", filename, err)
	}
	if f.Templates == nil {
		return nil, &CompileError{Field: "templates", Message: "templates is required", File: filename, Line: 1}
	}

	raws := make([]rawTemplate, len(f.Templates))
	for i, t := range f.Templates {
		raws[i] = t.rawTemplate
		raws[i].file = filename
	}
	return build(raws)
}
