package api

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/kalambet/fraudqa/internal/storage"
)

// MCPDeps holds dependencies for the MCP server.
type MCPDeps struct {
	Store     *storage.Store
	Pipeline  Asker
	Retriever Searcher
}

// NewMCPServer creates an MCP server exposing the question pipeline and
// corpus search as tools, plus the transactions schema and recent runs as
// resources.
func NewMCPServer(deps MCPDeps) *server.MCPServer {
	s := server.NewMCPServer(
		"fraudqa",
		"1.0.0",
		server.WithToolCapabilities(true),
		server.WithResourceCapabilities(false, true),
		server.WithInstructions("fraudqa — question answering over a credit card transactions database and a fraud reference corpus."),
		server.WithRecovery(),
	)

	// Tools
	s.AddTool(
		mcp.NewTool("ask",
			mcp.WithDescription("Answer a question about the fraud transactions database or the fraud reference corpus. Routes to SQL, retrieval, or both, and returns the answer with citations."),
			mcp.WithString("question", mcp.Description("The question to answer"), mcp.Required()),
		),
		mcpAsk(deps),
	)

	s.AddTool(
		mcp.NewTool("search_documents",
			mcp.WithDescription("Semantically search the fraud reference corpus and return the most relevant text chunks with sources and pages."),
			mcp.WithString("query", mcp.Description("Search query"), mcp.Required()),
			mcp.WithNumber("limit", mcp.Description("Maximum number of results (default 5)")),
		),
		mcpSearchDocuments(deps),
	)

	// Resources
	s.AddResource(
		mcp.NewResource(
			"fraudqa://schema",
			"Transactions Schema",
			mcp.WithResourceDescription("Columns and types of the transactions table"),
			mcp.WithMIMEType("text/plain"),
		),
		mcpResourceSchema(deps),
	)

	s.AddResource(
		mcp.NewResource(
			"fraudqa://runs/recent",
			"Recent Runs",
			mcp.WithResourceDescription("Last 10 answered questions with route, mode, and quality"),
			mcp.WithMIMEType("application/json"),
		),
		mcpResourceRecentRuns(deps),
	)

	return s
}

func mcpAsk(deps MCPDeps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		question, err := req.RequireString("question")
		if err != nil {
			return mcpError("question is required"), nil
		}

		resp, err := deps.Pipeline.Ask(ctx, question)
		if err != nil {
			return mcpError(fmt.Sprintf("ask failed: %v", err)), nil
		}

		out := struct {
			Answer        string   `json:"answer"`
			Citations     []string `json:"citations"`
			Mode          string   `json:"mode"`
			QualityScore  float64  `json:"quality_score"`
			QualityReason string   `json:"quality_reason"`
		}{
			Answer:        resp.Answer,
			Citations:     resp.Citations,
			Mode:          resp.Mode,
			QualityScore:  resp.QualityScore,
			QualityReason: resp.QualityReason,
		}

		b, err := json.Marshal(out)
		if err != nil {
			return mcpError(fmt.Sprintf("failed to marshal answer: %v", err)), nil
		}

		return mcpText(string(b)), nil
	}
}

func mcpSearchDocuments(deps MCPDeps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		query, err := req.RequireString("query")
		if err != nil {
			return mcpError("query is required"), nil
		}

		limit := req.GetInt("limit", 5)
		if limit <= 0 {
			limit = 5
		}
		if limit > 50 {
			limit = 50
		}

		chunks, err := deps.Retriever.Retrieve(ctx, query, limit)
		if err != nil {
			return mcpError(fmt.Sprintf("search failed: %v", err)), nil
		}

		if len(chunks) == 0 {
			return mcpText("[]"), nil
		}

		b, err := json.Marshal(chunks)
		if err != nil {
			return mcpError(fmt.Sprintf("failed to marshal results: %v", err)), nil
		}

		return mcpText(string(b)), nil
	}
}

func mcpResourceSchema(deps MCPDeps) server.ResourceHandlerFunc {
	return func(ctx context.Context, req mcp.ReadResourceRequest) ([]mcp.ResourceContents, error) {
		rows, err := deps.Store.DB().QueryContext(ctx,
			`SELECT name, type FROM pragma_table_info('transactions') ORDER BY cid`)
		if err != nil {
			return nil, fmt.Errorf("reading table info: %w", err)
		}
		defer rows.Close()

		var sb strings.Builder
		sb.WriteString("Table transactions (one row per credit card transaction):\n")
		for rows.Next() {
			var name, typ string
			if err := rows.Scan(&name, &typ); err != nil {
				return nil, fmt.Errorf("scanning table info: %w", err)
			}
			fmt.Fprintf(&sb, "  %s %s\n", name, typ)
		}
		if err := rows.Err(); err != nil {
			return nil, err
		}

		return []mcp.ResourceContents{
			mcp.TextResourceContents{
				URI:      req.Params.URI,
				MIMEType: "text/plain",
				Text:     sb.String(),
			},
		}, nil
	}
}

func mcpResourceRecentRuns(deps MCPDeps) server.ResourceHandlerFunc {
	return func(ctx context.Context, req mcp.ReadResourceRequest) ([]mcp.ResourceContents, error) {
		runs, err := deps.Store.GetRecentRuns(10)
		if err != nil {
			return nil, fmt.Errorf("failed to get recent runs: %w", err)
		}

		type runEntry struct {
			ID           string  `json:"id"`
			CreatedAt    string  `json:"created_at"`
			Question     string  `json:"question"`
			Route        string  `json:"route"`
			Mode         string  `json:"mode"`
			QualityScore float64 `json:"quality_score"`
		}

		entries := make([]runEntry, len(runs))
		for i, run := range runs {
			question := run.Question
			if utf8.RuneCountInString(question) > 200 {
				runes := []rune(question)
				question = string(runes[:200]) + "..."
			}
			entries[i] = runEntry{
				ID:           run.ID,
				CreatedAt:    run.CreatedAt.Format(time.RFC3339),
				Question:     question,
				Route:        run.Route,
				Mode:         run.Mode,
				QualityScore: run.QualityScore,
			}
		}

		b, err := json.Marshal(entries)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal runs: %w", err)
		}

		return []mcp.ResourceContents{
			mcp.TextResourceContents{
				URI:      req.Params.URI,
				MIMEType: "application/json",
				Text:     string(b),
			},
		}, nil
	}
}

func mcpText(text string) *mcp.CallToolResult {
	return &mcp.CallToolResult{
		Content: []mcp.Content{
			mcp.TextContent{Type: "text", Text: text},
		},
	}
}

func mcpError(msg string) *mcp.CallToolResult {
	return &mcp.CallToolResult{
		Content: []mcp.Content{
			mcp.TextContent{Type: "text", Text: msg},
		},
		IsError: true,
	}
}
