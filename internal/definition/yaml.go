package definition

import (
	"bytes"
	"errors"
	"fmt"
	"strings"

	"gopkg.in/yaml.v3"
)

var ErrEmptyDefinition = errors.New("definition is empty")

// Parse reads a pipeline document of the form
//
//	pipeline:
//	  identifier: p
//	  stages:
//	    - stage: {identifier: a}
//	    - parallel:
//	        - stage: {identifier: b}
//
// A document without the pipeline wrapper is read as the pipeline mapping itself.
func Parse(raw []byte) (*Pipeline, error) {
	if len(bytes.TrimSpace(raw)) == 0 {
		return nil, ErrEmptyDefinition
	}
	var doc yaml.Node
	if err := yaml.Unmarshal(raw, &doc); err != nil {
		return nil, fmt.Errorf("decode yaml: %w", err)
	}
	if doc.Kind != yaml.DocumentNode || len(doc.Content) == 0 {
		return nil, ErrEmptyDefinition
	}
	root := doc.Content[0]
	if root.Kind != yaml.MappingNode {
		return nil, errors.New("definition root must be a mapping")
	}
	pipelineNode := root
	if wrapped := mappingValue(root, "pipeline"); wrapped != nil {
		if wrapped.Kind != yaml.MappingNode {
			return nil, errors.New("pipeline must be a mapping")
		}
		pipelineNode = wrapped
	}

	out := &Pipeline{
		Identifier: scalarValue(pipelineNode, "identifier"),
		Name:       scalarValue(pipelineNode, "name"),
		doc:        &doc,
	}

	issues := &ValidationError{}
	stagesNode := mappingValue(pipelineNode, "stages")
	if stagesNode == nil {
		return nil, ErrEmptyDefinition
	}
	if stagesNode.Kind != yaml.SequenceNode {
		return nil, errors.New("pipeline.stages must be a sequence")
	}

	seen := make(map[string]struct{})
	addStage := func(path string, stage Stage) {
		if stage.Identifier == "" {
			issues.Add(fmt.Sprintf("%s identifier is required", path))
			return
		}
		if _, ok := seen[stage.Identifier]; ok {
			issues.Add(fmt.Sprintf("duplicate stage identifier %q", stage.Identifier))
		}
		seen[stage.Identifier] = struct{}{}
	}

	for i, item := range stagesNode.Content {
		path := fmt.Sprintf("stages[%d]", i)
		if body := mappingValue(item, "stage"); body != nil {
			stage := stageFromBody(body)
			addStage(path, stage)
			out.Stages = append(out.Stages, StageNode(stage))
			continue
		}
		if block := mappingValue(item, "parallel"); block != nil {
			if block.Kind != yaml.SequenceNode || len(block.Content) == 0 {
				issues.Add(fmt.Sprintf("%s parallel must list at least one stage", path))
				continue
			}
			members := make([]Stage, 0, len(block.Content))
			for j, member := range block.Content {
				memberPath := fmt.Sprintf("%s.parallel[%d]", path, j)
				body := mappingValue(member, "stage")
				if body == nil {
					issues.Add(fmt.Sprintf("%s must be a stage", memberPath))
					continue
				}
				stage := stageFromBody(body)
				addStage(memberPath, stage)
				members = append(members, stage)
			}
			out.Stages = append(out.Stages, ParallelNode(members...))
			continue
		}
		issues.Add(fmt.Sprintf("%s must be a stage or parallel block", path))
	}

	if err := issues.OrNil(); err != nil {
		return nil, err
	}
	return out, nil
}

// Marshal re-emits a parsed pipeline document, including any stage bodies
// replaced since parsing.
func (p *Pipeline) Marshal() ([]byte, error) {
	if p == nil || p.doc == nil {
		return nil, errors.New("pipeline was not parsed from a document")
	}
	var buf bytes.Buffer
	enc := yaml.NewEncoder(&buf)
	enc.SetIndent(2)
	if err := enc.Encode(p.doc); err != nil {
		return nil, fmt.Errorf("encode yaml: %w", err)
	}
	if err := enc.Close(); err != nil {
		return nil, fmt.Errorf("encode yaml: %w", err)
	}
	return buf.Bytes(), nil
}

// ReplaceStageBody swaps the YAML body of the named stage for a copy of body.
func (p *Pipeline) ReplaceStageBody(identifier string, body *yaml.Node) error {
	if p == nil {
		return errors.New("pipeline is required")
	}
	if body == nil {
		return fmt.Errorf("stage %q: replacement body is required", identifier)
	}
	for i := range p.Stages {
		node := &p.Stages[i]
		switch node.Kind {
		case NodeStage:
			if node.Stage.Identifier == identifier {
				return replaceBody(&node.Stage, body)
			}
		case NodeParallel:
			for j := range node.Parallel {
				if node.Parallel[j].Identifier == identifier {
					return replaceBody(&node.Parallel[j], body)
				}
			}
		}
	}
	return fmt.Errorf("stage %q not found", identifier)
}

func replaceBody(stage *Stage, body *yaml.Node) error {
	if stage.Body == nil {
		return fmt.Errorf("stage %q has no document body", stage.Identifier)
	}
	*stage.Body = *cloneNode(body)
	stage.Name = scalarValue(stage.Body, "name")
	return nil
}

func stageFromBody(body *yaml.Node) Stage {
	return Stage{
		Identifier: scalarValue(body, "identifier"),
		Name:       scalarValue(body, "name"),
		Body:       body,
	}
}

func mappingValue(node *yaml.Node, key string) *yaml.Node {
	if node == nil || node.Kind != yaml.MappingNode {
		return nil
	}
	for i := 0; i+1 < len(node.Content); i += 2 {
		if node.Content[i].Value == key {
			return node.Content[i+1]
		}
	}
	return nil
}

func scalarValue(node *yaml.Node, key string) string {
	value := mappingValue(node, key)
	if value == nil || value.Kind != yaml.ScalarNode {
		return ""
	}
	return strings.TrimSpace(value.Value)
}

func cloneNode(node *yaml.Node) *yaml.Node {
	if node == nil {
		return nil
	}
	out := *node
	if node.Alias != nil {
		out.Alias = cloneNode(node.Alias)
	}
	if node.Content != nil {
		out.Content = make([]*yaml.Node, len(node.Content))
		for i, child := range node.Content {
			out.Content[i] = cloneNode(child)
		}
	}
	return &out
}
