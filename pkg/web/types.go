package web

import (
	"fmt"

	"github.com/guildhall/guildhall/pkg/models"
)

// NodeRequest is one node of a submitted graph.
type NodeRequest struct {
	ClientID  string           `json:"clientId"  validate:"omitempty,max=64"`
	NodeType  string           `json:"nodeType"  validate:"required,oneof=trigger condition action response"`
	NodeData  *models.NodeData `json:"nodeData"`
	PositionX int              `json:"position_x"`
	PositionY int              `json:"position_y"`
}

// CreateWorkflowRequest represents the request body for creating a new workflow.
type CreateWorkflowRequest struct {
	Name        string        `json:"name"         validate:"required,max=100"`
	Description string        `json:"description"  validate:"max=500"`
	CommandType string        `json:"command_type" validate:"required,oneof=slash prefix"`
	CommandName string        `json:"command_name" validate:"required,max=32"`
	Enabled     *bool         `json:"enabled"`
	Nodes       []NodeRequest `json:"nodes"        validate:"dive"`
}

// UpdateWorkflowRequest replaces a workflow's node set. Metadata fields are
// optional; version is the one the client last read.
type UpdateWorkflowRequest struct {
	Name        *string       `json:"name,omitempty"         validate:"omitempty,max=100"`
	Description *string       `json:"description,omitempty"  validate:"omitempty,max=500"`
	CommandType *string       `json:"command_type,omitempty" validate:"omitempty,oneof=slash prefix"`
	CommandName *string       `json:"command_name,omitempty" validate:"omitempty,max=32"`
	Enabled     *bool         `json:"enabled,omitempty"`
	Nodes       []NodeRequest `json:"nodes"                  validate:"dive"`
	Version     int           `json:"version"                validate:"required,min=1"`
}

// ValidateWorkflowRequest is a dry-run validation of a node set.
type ValidateWorkflowRequest struct {
	Nodes []NodeRequest `json:"nodes" validate:"dive"`
}

// InvokeCommandRequest is a command invocation relayed by the chat gateway.
type InvokeCommandRequest struct {
	CommandType string         `json:"command_type" validate:"required,oneof=slash prefix"`
	CommandName string         `json:"command_name" validate:"required"`
	ChannelID   string         `json:"channel_id"`
	UserID      string         `json:"user_id"      validate:"required"`
	Username    string         `json:"username"`
	Options     map[string]any `json:"options"`
	Content     string         `json:"content"`
}

// DeleteWorkflowResponse reports a deletion and its post-commit warnings.
type DeleteWorkflowResponse struct {
	Deleted  bool     `json:"deleted"`
	Warnings []string `json:"warnings"`
}

// toNodes converts request nodes into model nodes, preserving order.
func toNodes(requests []NodeRequest) ([]*models.WorkflowNode, error) {
	nodes := make([]*models.WorkflowNode, 0, len(requests))

	for i, req := range requests {
		nodeType, err := models.ParseNodeType(req.NodeType)
		if err != nil {
			return nil, fmt.Errorf("nodes[%d]: %w", i, err)
		}

		if req.NodeData == nil {
			return nil, fmt.Errorf("nodes[%d]: nodeData is required", i)
		}

		nodes = append(nodes, &models.WorkflowNode{
			ClientID:  req.ClientID,
			NodeType:  nodeType,
			NodeData:  *req.NodeData,
			PositionX: req.PositionX,
			PositionY: req.PositionY,
		})
	}

	return nodes, nil
}

// toPatch converts the optional metadata of an update request.
func (r UpdateWorkflowRequest) toPatch() models.WorkflowPatch {
	patch := models.WorkflowPatch{
		Name:        r.Name,
		Description: r.Description,
		CommandName: r.CommandName,
		Enabled:     r.Enabled,
	}

	if r.CommandType != nil {
		commandType := models.CommandType(*r.CommandType)
		patch.CommandType = &commandType
	}

	return patch
}
