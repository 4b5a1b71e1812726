// Package platform talks to the chat-platform gateway that owns the bot
// connection. Everything protocol-specific happens behind that gateway.
package platform

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/guildhall/guildhall/pkg/models"
)

const defaultTimeout = 10 * time.Second

// ErrGatewayStatus is returned when the gateway answers with a non-2xx status.
var ErrGatewayStatus = errors.New("unexpected gateway status")

// CommandPusher replaces a guild's registered command surface.
type CommandPusher interface {
	PushGuildCommands(ctx context.Context, guildID string, commands []models.CommandSpec) error
}

// RoleAssigner grants a guild role to a member.
type RoleAssigner interface {
	AssignRole(ctx context.Context, guildID, userID, roleID string) error
}

// CurrencyGranter credits a member's balance and returns the new balance.
type CurrencyGranter interface {
	GrantCurrency(ctx context.Context, guildID, userID string, amount int64, reason string) (int64, error)
}

// StatusError carries the gateway's status code and response body.
type StatusError struct {
	StatusCode int
	Body       string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("gateway responded %d: %s", e.StatusCode, e.Body)
}

func (e *StatusError) Unwrap() error {
	return ErrGatewayStatus
}

// Client is an HTTP client for the platform gateway.
type Client struct {
	baseURL    string
	token      string
	httpClient *http.Client
	logger     *slog.Logger
}

// NewClient creates a gateway client. A nil httpClient gets a default one.
func NewClient(baseURL, token string, httpClient *http.Client, logger *slog.Logger) *Client {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: defaultTimeout}
	}

	return &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		token:      token,
		httpClient: httpClient,
		logger:     logger.With("module", "platform_client"),
	}
}

type pushCommandsRequest struct {
	Commands []models.CommandSpec `json:"commands"`
}

// PushGuildCommands replaces the guild's command list on the gateway.
func (c *Client) PushGuildCommands(ctx context.Context, guildID string, commands []models.CommandSpec) error {
	if commands == nil {
		commands = []models.CommandSpec{}
	}

	path := "/guilds/" + url.PathEscape(guildID) + "/commands"

	err := c.do(ctx, http.MethodPut, path, pushCommandsRequest{Commands: commands}, nil)
	if err != nil {
		return fmt.Errorf("failed to push commands for guild %s: %w", guildID, err)
	}

	c.logger.DebugContext(ctx, "Pushed guild commands", "guild_id", guildID, "count", len(commands))

	return nil
}

// AssignRole adds roleID to the member.
func (c *Client) AssignRole(ctx context.Context, guildID, userID, roleID string) error {
	path := fmt.Sprintf("/guilds/%s/members/%s/roles/%s",
		url.PathEscape(guildID), url.PathEscape(userID), url.PathEscape(roleID))

	err := c.do(ctx, http.MethodPut, path, nil, nil)
	if err != nil {
		return fmt.Errorf("failed to assign role %s: %w", roleID, err)
	}

	return nil
}

type grantCurrencyRequest struct {
	Amount int64  `json:"amount"`
	Reason string `json:"reason,omitempty"`
}

type grantCurrencyResponse struct {
	Balance int64 `json:"balance"`
}

// GrantCurrency credits amount to the member's balance.
func (c *Client) GrantCurrency(ctx context.Context, guildID, userID string, amount int64, reason string) (int64, error) {
	path := fmt.Sprintf("/guilds/%s/members/%s/balance", url.PathEscape(guildID), url.PathEscape(userID))

	var resp grantCurrencyResponse

	err := c.do(ctx, http.MethodPost, path, grantCurrencyRequest{Amount: amount, Reason: reason}, &resp)
	if err != nil {
		return 0, fmt.Errorf("failed to grant currency: %w", err)
	}

	return resp.Balance, nil
}

func (c *Client) do(ctx context.Context, method, path string, body, out any) error {
	var reader io.Reader

	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("failed to marshal request: %w", err)
		}

		reader = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}

	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	if c.token != "" {
		req.Header.Set("Authorization", "Bot "+c.token)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("gateway request failed: %w", err)
	}

	defer func() {
		_ = resp.Body.Close()
	}()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("failed to read response body: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return &StatusError{StatusCode: resp.StatusCode, Body: strings.TrimSpace(string(respBody))}
	}

	if out != nil && len(respBody) > 0 {
		err = json.Unmarshal(respBody, out)
		if err != nil {
			return fmt.Errorf("failed to decode response: %w", err)
		}
	}

	return nil
}
