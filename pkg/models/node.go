// Package models defines the node graph of a workflow.
package models

import (
	"fmt"
	"strconv"
)

// NodeType is the closed set of node kinds a workflow graph may contain.
// The zero value is not a valid kind.
type NodeType uint8

const (
	NodeTypeTrigger NodeType = iota + 1
	NodeTypeCondition
	NodeTypeAction
	NodeTypeResponse
)

var nodeTypeNames = map[NodeType]string{
	NodeTypeTrigger:   "trigger",
	NodeTypeCondition: "condition",
	NodeTypeAction:    "action",
	NodeTypeResponse:  "response",
}

// NodeTypes lists every node kind in declaration order.
func NodeTypes() []NodeType {
	return []NodeType{NodeTypeTrigger, NodeTypeCondition, NodeTypeAction, NodeTypeResponse}
}

// ParseNodeType converts the wire name of a node kind into a NodeType.
func ParseNodeType(s string) (NodeType, error) {
	for t, name := range nodeTypeNames {
		if name == s {
			return t, nil
		}
	}

	return 0, fmt.Errorf("unknown node type %q", s)
}

func (t NodeType) String() string {
	if name, ok := nodeTypeNames[t]; ok {
		return name
	}

	return "NodeType(" + strconv.Itoa(int(t)) + ")"
}

// Valid reports whether t is one of the declared node kinds.
func (t NodeType) Valid() bool {
	_, ok := nodeTypeNames[t]

	return ok
}

func (t NodeType) MarshalText() ([]byte, error) {
	name, ok := nodeTypeNames[t]
	if !ok {
		return nil, fmt.Errorf("invalid node type %d", t)
	}

	return []byte(name), nil
}

func (t *NodeType) UnmarshalText(text []byte) error {
	parsed, err := ParseNodeType(string(text))
	if err != nil {
		return err
	}

	*t = parsed

	return nil
}

// Port is a named attachment point on a node.
type Port struct {
	ID    string `json:"id"`
	Label string `json:"label,omitempty"`
}

// Ports holds the ordered input and output ports of a node.
type Ports struct {
	Inputs  []Port `json:"inputs"`
	Outputs []Port `json:"outputs"`
}

// HasInput reports whether an input port with the given id exists.
func (p Ports) HasInput(id string) bool {
	return indexOfPort(p.Inputs, id) >= 0
}

// HasOutput reports whether an output port with the given id exists.
func (p Ports) HasOutput(id string) bool {
	return indexOfPort(p.Outputs, id) >= 0
}

func indexOfPort(ports []Port, id string) int {
	for i, port := range ports {
		if port.ID == id {
			return i
		}
	}

	return -1
}

// EdgeTarget is the far end of an edge leaving an output port.
type EdgeTarget struct {
	TargetNodeID string `json:"targetNodeId"`
	TargetPortID string `json:"targetPortId"`
}

// NodeData is the structured payload of a node: its ports, its outgoing
// edges keyed by output port id, and type-specific configuration.
type NodeData struct {
	Ports  Ports                   `json:"ports"`
	Edges  map[string][]EdgeTarget `json:"edges"`
	Config map[string]any          `json:"config,omitempty"`
}

// WorkflowNode is one persisted step of a workflow graph.
// ID is the storage row id and never appears in edge references; edges
// point at ClientID.
type WorkflowNode struct {
	ID         int64    `json:"id,omitempty"`
	WorkflowID int64    `json:"workflow_id,omitempty"`
	ClientID   string   `json:"clientId"`
	NodeType   NodeType `json:"nodeType"`
	NodeData   NodeData `json:"nodeData"`
	PositionX  int      `json:"position_x"`
	PositionY  int      `json:"position_y"`
}

// View returns the validator's view of the node.
func (n *WorkflowNode) View() NodeView {
	return NodeView{ID: n.ClientID, NodeType: n.NodeType, NodeData: n.NodeData}
}

// NodeView is the minimal node shape consumed by graph validation.
type NodeView struct {
	ID       string
	NodeType NodeType
	NodeData NodeData
}

// AssignClientIDs gives every node without a client id the positional
// fallback "node-<index>". The mapping depends only on submission order, so
// repeated saves of the same list resolve to the same ids.
func AssignClientIDs(nodes []*WorkflowNode) {
	for i, node := range nodes {
		if node != nil && node.ClientID == "" {
			node.ClientID = "node-" + strconv.Itoa(i)
		}
	}
}

// NodeViews converts nodes into validator views, preserving order.
func NodeViews(nodes []*WorkflowNode) []NodeView {
	views := make([]NodeView, 0, len(nodes))
	for _, node := range nodes {
		views = append(views, node.View())
	}

	return views
}
