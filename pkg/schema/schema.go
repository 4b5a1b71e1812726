// Package schema checks the shape of submitted workflow nodes before graph
// validation, so the graph validator only ever sees well-formed payloads.
package schema

import (
	"errors"
	"fmt"
	"strings"

	"github.com/guildhall/guildhall/pkg/models"
	"github.com/xeipuuv/gojsonschema"
)

// ErrInvalidShape marks node payloads that fail the shape check.
var ErrInvalidShape = errors.New("invalid node shape")

// Issue is a single shape problem.
type Issue struct {
	NodeID  string `json:"nodeId,omitempty"`
	Field   string `json:"field,omitempty"`
	Message string `json:"message"`
}

// ShapeError lists every shape problem found in a node list.
type ShapeError struct {
	Issues []Issue
}

func (e *ShapeError) Error() string {
	parts := make([]string, 0, len(e.Issues))
	for _, issue := range e.Issues {
		if issue.NodeID != "" {
			parts = append(parts, fmt.Sprintf("node %s: %s: %s", issue.NodeID, issue.Field, issue.Message))
		} else {
			parts = append(parts, issue.Message)
		}
	}

	return "invalid node shape: " + strings.Join(parts, "; ")
}

func (e *ShapeError) Unwrap() error {
	return ErrInvalidShape
}

const nodeSchema = `{
	"type": "object",
	"required": ["clientId", "nodeType"],
	"properties": {
		"clientId": {"type": "string", "minLength": 1, "maxLength": 128},
		"nodeType": {"enum": ["trigger", "condition", "action", "response"]},
		"nodeData": {
			"type": "object",
			"properties": {
				"ports": {
					"type": "object",
					"properties": {
						"inputs":  {"type": ["array", "null"], "items": {"$ref": "#/definitions/port"}},
						"outputs": {"type": ["array", "null"], "items": {"$ref": "#/definitions/port"}}
					}
				},
				"edges": {
					"type": ["object", "null"],
					"additionalProperties": {
						"type": ["array", "null"],
						"items": {
							"type": "object",
							"required": ["targetNodeId", "targetPortId"],
							"properties": {
								"targetNodeId": {"type": "string", "minLength": 1},
								"targetPortId": {"type": "string", "minLength": 1}
							}
						}
					}
				},
				"config": {"type": ["object", "null"]}
			}
		}
	},
	"definitions": {
		"port": {
			"type": "object",
			"required": ["id"],
			"properties": {
				"id":    {"type": "string", "minLength": 1},
				"label": {"type": "string"}
			}
		}
	}
}`

// configSchemas holds the type-specific configuration rules.
var configSchemas = map[models.NodeType]string{
	models.NodeTypeTrigger: `{
		"type": ["object", "null"],
		"properties": {"description": {"type": "string", "maxLength": 100}}
	}`,
	models.NodeTypeCondition: `{
		"type": "object",
		"required": ["expression"],
		"properties": {"expression": {"type": "string", "minLength": 1}}
	}`,
	models.NodeTypeAction: `{
		"type": "object",
		"required": ["action"],
		"properties": {
			"action":     {"type": "string", "minLength": 1},
			"timeout_ms": {"type": "integer", "minimum": 1, "maximum": 60000}
		}
	}`,
	models.NodeTypeResponse: `{
		"type": "object",
		"required": ["template"],
		"properties": {
			"template":  {"type": "string", "minLength": 1, "maxLength": 2000},
			"ephemeral": {"type": "boolean"}
		}
	}`,
}

// rootField is how gojsonschema names the document root.
const rootField = "(root)"

// Checker validates node payloads against compiled JSON schemas.
type Checker struct {
	node   *gojsonschema.Schema
	config map[models.NodeType]*gojsonschema.Schema
}

// NewChecker compiles the node and per-type configuration schemas.
func NewChecker() (*Checker, error) {
	node, err := gojsonschema.NewSchema(gojsonschema.NewStringLoader(nodeSchema))
	if err != nil {
		return nil, fmt.Errorf("failed to compile node schema: %w", err)
	}

	checker := &Checker{
		node:   node,
		config: make(map[models.NodeType]*gojsonschema.Schema, len(configSchemas)),
	}

	for nodeType, source := range configSchemas {
		compiled, err := gojsonschema.NewSchema(gojsonschema.NewStringLoader(source))
		if err != nil {
			return nil, fmt.Errorf("failed to compile %s config schema: %w", nodeType, err)
		}

		checker.config[nodeType] = compiled
	}

	return checker, nil
}

// MustNewChecker is like NewChecker but panics if a built-in schema does not compile.
func MustNewChecker() *Checker {
	checker, err := NewChecker()
	if err != nil {
		panic(err)
	}

	return checker
}

// CheckNodes returns a *ShapeError describing every problem in nodes, or nil.
func (c *Checker) CheckNodes(nodes []*models.WorkflowNode) error {
	var issues []Issue

	seen := make(map[string]bool, len(nodes))

	for i, node := range nodes {
		if node == nil {
			issues = append(issues, Issue{Field: fmt.Sprintf("nodes[%d]", i), Message: "node is null"})

			continue
		}

		if !node.NodeType.Valid() {
			issues = append(issues, Issue{NodeID: node.ClientID, Field: "nodeType", Message: "unknown node type"})

			continue
		}

		nodeIssues, err := c.validate(c.node, node, node.ClientID, "")
		if err != nil {
			return err
		}

		issues = append(issues, nodeIssues...)

		configIssues, err := c.validate(c.config[node.NodeType], node.NodeData.Config, node.ClientID, "nodeData.config")
		if err != nil {
			return err
		}

		issues = append(issues, configIssues...)

		if node.ClientID != "" {
			if seen[node.ClientID] {
				issues = append(issues, Issue{NodeID: node.ClientID, Field: "clientId", Message: "duplicate client id"})
			}

			seen[node.ClientID] = true
		}

		issues = append(issues, duplicatePorts(node.ClientID, "nodeData.ports.inputs", node.NodeData.Ports.Inputs)...)
		issues = append(issues, duplicatePorts(node.ClientID, "nodeData.ports.outputs", node.NodeData.Ports.Outputs)...)
	}

	if len(issues) > 0 {
		return &ShapeError{Issues: issues}
	}

	return nil
}

func (c *Checker) validate(schema *gojsonschema.Schema, document any, nodeID, prefix string) ([]Issue, error) {
	result, err := schema.Validate(gojsonschema.NewGoLoader(document))
	if err != nil {
		return nil, fmt.Errorf("failed to run schema validation: %w", err)
	}

	if result.Valid() {
		return nil, nil
	}

	issues := make([]Issue, 0, len(result.Errors()))
	for _, resultErr := range result.Errors() {
		field := resultErr.Field()
		if field == rootField {
			field = prefix
		} else if prefix != "" {
			field = prefix + "." + field
		}

		issues = append(issues, Issue{NodeID: nodeID, Field: field, Message: resultErr.Description()})
	}

	return issues, nil
}

func duplicatePorts(nodeID, field string, ports []models.Port) []Issue {
	var issues []Issue

	seen := make(map[string]bool, len(ports))

	for _, port := range ports {
		if port.ID == "" {
			continue
		}

		if seen[port.ID] {
			issues = append(issues, Issue{NodeID: nodeID, Field: field, Message: fmt.Sprintf("duplicate port id %q", port.ID)})
		}

		seen[port.ID] = true
	}

	return issues
}
