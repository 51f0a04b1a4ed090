package config

import (
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/saiset-co/sai-query-cache/types"
)

// Parser resolves dot-separated paths such as "cache.default.stale_time" or
// "persistence.exclude.0" against the YAML node tree of a config. Values are
// decoded with the yaml.v3 rules, so durations come back as time.Duration when
// the target asks for one.
type Parser struct {
	root *yaml.Node
}

func NewParser(config *types.ServiceConfig) *Parser {
	root := &yaml.Node{}
	if err := root.Encode(config); err != nil {
		return &Parser{}
	}
	return &Parser{root: root}
}

func (p *Parser) GetValue(path string, defaultValue interface{}) interface{} {
	node := p.lookup(path)
	if node == nil {
		return defaultValue
	}

	var value interface{}
	if err := node.Decode(&value); err != nil || value == nil {
		return defaultValue
	}
	return value
}

func (p *Parser) GetAs(path string, target interface{}) error {
	node := p.lookup(path)
	if node == nil {
		return types.Errorf(types.ErrConfigNotFound, "path: %s", path)
	}

	if err := node.Decode(target); err != nil {
		return types.Errorf(types.ErrConfigParseFailed, "path %s: %v", path, err)
	}
	return nil
}

func (p *Parser) lookup(path string) *yaml.Node {
	if p.root == nil {
		return nil
	}

	current := p.root
	if path == "" {
		return current
	}

	for _, part := range strings.Split(path, ".") {
		current = child(current, part)
		if current == nil || current.Tag == "!!null" {
			return nil
		}
	}

	return current
}

func child(node *yaml.Node, name string) *yaml.Node {
	if node.Kind == yaml.DocumentNode && len(node.Content) > 0 {
		node = node.Content[0]
	}

	switch node.Kind {
	case yaml.MappingNode:
		for i := 0; i+1 < len(node.Content); i += 2 {
			if node.Content[i].Value == name {
				return node.Content[i+1]
			}
		}
	case yaml.SequenceNode:
		index, err := strconv.Atoi(name)
		if err == nil && index >= 0 && index < len(node.Content) {
			return node.Content[index]
		}
	}

	return nil
}
