package mcp

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"prlens-backend/internal/worker"
)

// Server exposes the review service as MCP tools acting for one user.
type Server struct {
	svc    *worker.Service
	userID string
}

func NewServer(svc *worker.Service, userID string) *Server {
	return &Server{svc: svc, userID: userID}
}

// MCPServer returns a configured mcp-go server with all tools registered.
func (s *Server) MCPServer() *server.MCPServer {
	srv := server.NewMCPServer("prlens", "1.0.0", server.WithToolCapabilities(true))

	srv.AddTool(s.listProvidersTool())
	srv.AddTool(s.triggerReviewTool())
	srv.AddTool(s.getReviewTool())
	srv.AddTool(s.listReviewsTool())

	return srv
}

// ServeStdio starts the stdio transport, blocking until ctx is cancelled.
func (s *Server) ServeStdio(ctx context.Context) error {
	stdioServer := server.NewStdioServer(s.MCPServer())
	return stdioServer.Listen(ctx, os.Stdin, os.Stdout)
}

func jsonResult(v any) (*mcp.CallToolResult, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("failed to marshal result: %v", err)), nil
	}
	return mcp.NewToolResultText(string(data)), nil
}

// list_providers
func (s *Server) listProvidersTool() (mcp.Tool, server.ToolHandlerFunc) {
	tool := mcp.NewTool("list_providers",
		mcp.WithDescription("List the AI providers that have an API key configured, in default-first order."),
	)
	return tool, s.handleListProviders
}

func (s *Server) handleListProviders(_ context.Context, _ mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	return jsonResult(s.svc.Providers())
}

// trigger_review
func (s *Server) triggerReviewTool() (mcp.Tool, server.ToolHandlerFunc) {
	tool := mcp.NewTool("trigger_review",
		mcp.WithDescription("Start an AI review of a pull request. Returns the new review id; poll get_review for the result."),
		mcp.WithString("repository_id", mcp.Required(), mcp.Description("Connected repository id")),
		mcp.WithNumber("pr_number", mcp.Required(), mcp.Description("Pull request number")),
		mcp.WithString("provider_id", mcp.Description("AI provider id (openai, gemini, qwen, anthropic); defaults to the first configured")),
	)
	return tool, s.handleTriggerReview
}

func (s *Server) handleTriggerReview(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	repoID, err := request.RequireString("repository_id")
	if err != nil {
		return mcp.NewToolResultError("missing required parameter: repository_id"), nil
	}
	number, err := request.RequireInt("pr_number")
	if err != nil {
		return mcp.NewToolResultError("missing required parameter: pr_number"), nil
	}

	id, err := s.svc.Trigger(ctx, worker.TriggerRequest{
		RepositoryID: repoID,
		PRNumber:     number,
		ProviderID:   request.GetString("provider_id", ""),
		UserID:       s.userID,
	})
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	return jsonResult(map[string]string{"reviewId": id})
}

// get_review
func (s *Server) getReviewTool() (mcp.Tool, server.ToolHandlerFunc) {
	tool := mcp.NewTool("get_review",
		mcp.WithDescription("Get a review by id: status, and the summary, risk score and comments once COMPLETED, or the error once FAILED."),
		mcp.WithString("review_id", mcp.Required(), mcp.Description("Review id")),
	)
	return tool, s.handleGetReview
}

func (s *Server) handleGetReview(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	id, err := request.RequireString("review_id")
	if err != nil {
		return mcp.NewToolResultError("missing required parameter: review_id"), nil
	}
	review, err := s.svc.GetReview(ctx, s.userID, id)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	return jsonResult(review)
}

// list_reviews
func (s *Server) listReviewsTool() (mcp.Tool, server.ToolHandlerFunc) {
	tool := mcp.NewTool("list_reviews",
		mcp.WithDescription("List recent reviews, newest first."),
		mcp.WithString("repository_id", mcp.Description("Only reviews of this repository")),
		mcp.WithNumber("limit", mcp.Description("Maximum number of reviews (default 20, max 50)")),
	)
	return tool, s.handleListReviews
}

func (s *Server) handleListReviews(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	reviews, err := s.svc.ListReviews(ctx, s.userID,
		request.GetString("repository_id", ""),
		request.GetInt("limit", 0),
	)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("failed to list reviews: %v", err)), nil
	}

	type reviewOut struct {
		ID        string `json:"id"`
		PRNumber  int    `json:"prNumber"`
		PRTitle   string `json:"prTitle"`
		Status    string `json:"status"`
		RiskScore *int   `json:"riskScore,omitempty"`
		CreatedAt string `json:"createdAt"`
	}
	out := make([]reviewOut, len(reviews))
	for i, r := range reviews {
		out[i] = reviewOut{
			ID:        r.ID,
			PRNumber:  r.PRNumber,
			PRTitle:   r.PRTitle,
			Status:    string(r.Status),
			RiskScore: r.RiskScore,
			CreatedAt: r.CreatedAt.Format(time.RFC3339),
		}
	}
	return jsonResult(out)
}
