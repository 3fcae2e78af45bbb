package api

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/kalambet/v2v/internal/result"
	"github.com/kalambet/v2v/internal/search"
	"github.com/kalambet/v2v/internal/security"
)

// MCPDeps holds dependencies for the MCP server. Stdio clients have no
// per-request identity, so every call acts as CallerID.
type MCPDeps struct {
	Search   Searcher
	Ideas    IdeaManager
	Exports  Exporter // optional; export_idea is not registered when nil
	Access   *security.Access
	CallerID string
}

// NewMCPServer creates an MCP server with the idea tools and resources registered.
func NewMCPServer(deps MCPDeps, version string) *server.MCPServer {
	s := server.NewMCPServer(
		"v2v",
		version,
		server.WithToolCapabilities(true),
		server.WithResourceCapabilities(false, true),
		server.WithInstructions("v2v: search and manage ideas captured from voice memos."),
		server.WithRecovery(),
	)

	s.AddTool(
		mcp.NewTool("search_ideas",
			mcp.WithDescription("Search stored ideas by folder name, title, summary and tags."),
			mcp.WithString("query", mcp.Description("Search text"), mcp.Required()),
			mcp.WithString("category", mcp.Description("Only ideas in this category")),
			mcp.WithString("maturity", mcp.Description("Only ideas at this maturity level")),
			mcp.WithArray("tags", mcp.Description("Ideas must carry all of these tags")),
			mcp.WithNumber("limit", mcp.Description("Maximum number of results (default 20)")),
		),
		mcpSearchIdeas(deps),
	)

	s.AddTool(
		mcp.NewTool("suggest_ideas",
			mcp.WithDescription("Suggest idea folder names for a partial name."),
			mcp.WithString("prefix", mcp.Description("At least two characters of the name"), mcp.Required()),
			mcp.WithNumber("limit", mcp.Description("Maximum number of suggestions (default 5)")),
		),
		mcpSuggestIdeas(deps),
	)

	s.AddTool(
		mcp.NewTool("idea_info",
			mcp.WithDescription("Show the metadata and files of one idea folder."),
			mcp.WithString("folder", mcp.Description("Idea folder name"), mcp.Required()),
		),
		mcpIdeaInfo(deps),
	)

	s.AddTool(
		mcp.NewTool("recent_ideas",
			mcp.WithDescription("List ideas created in the last few days."),
			mcp.WithNumber("days", mcp.Description("Look-back window in days (default 7)")),
			mcp.WithNumber("limit", mcp.Description("Maximum number of ideas (default 10)")),
		),
		mcpRecentIdeas(deps),
	)

	s.AddTool(
		mcp.NewTool("rename_idea",
			mcp.WithDescription("Rename an idea folder. Admin only."),
			mcp.WithString("folder", mcp.Description("Current folder name"), mcp.Required()),
			mcp.WithString("title", mcp.Description("New title"), mcp.Required()),
		),
		mcpRenameIdea(deps),
	)

	if deps.Exports != nil {
		s.AddTool(
			mcp.NewTool("export_idea",
				mcp.WithDescription("Package an idea folder as a zip archive behind a temporary download link."),
				mcp.WithString("folder", mcp.Description("Idea folder name"), mcp.Required()),
				mcp.WithArray("files", mcp.Description("Only these files (default: all)")),
			),
			mcpExportIdea(deps),
		)
	}

	s.AddResource(
		mcp.NewResource(
			"ideas://stats",
			"Idea Statistics",
			mcp.WithResourceDescription("Counts of stored ideas by category and maturity"),
			mcp.WithMIMEType("application/json"),
		),
		mcpResourceStats(deps),
	)

	return s
}

func mcpSearchIdeas(deps MCPDeps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		query, err := req.RequireString("query")
		if err != nil {
			return mcpError("query is required"), nil
		}
		limit := clampLimit(req.GetInt("limit", search.DefaultLimit), search.DefaultLimit, 100)

		res, err := deps.Search.Search(ctx, deps.CallerID, query, search.Filters{
			Category: req.GetString("category", ""),
			Maturity: req.GetString("maturity", ""),
			Tags:     req.GetStringSlice("tags", nil),
		}, limit)
		if err != nil {
			return mcpFailure(err), nil
		}
		if len(res.Hits) == 0 {
			return mcpText(fmt.Sprintf("No ideas match %q.", query)), nil
		}

		var b strings.Builder
		fmt.Fprintf(&b, "%d result(s) for %q:\n", res.TotalFound, query)
		for i, h := range res.Hits {
			fmt.Fprintf(&b, "%d. %s", i+1, h)
			if h.Idea.Category != "" {
				fmt.Fprintf(&b, " [%s]", h.Idea.Category)
			}
			b.WriteString("\n")
		}
		return mcpText(b.String()), nil
	}
}

func mcpSuggestIdeas(deps MCPDeps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		prefix, err := req.RequireString("prefix")
		if err != nil {
			return mcpError("prefix is required"), nil
		}
		limit := clampLimit(req.GetInt("limit", search.DefaultSuggestLimit), search.DefaultSuggestLimit, 50)

		names, err := deps.Search.Suggest(ctx, deps.CallerID, prefix, limit)
		if err != nil {
			return mcpFailure(err), nil
		}
		return mcpJSON(names)
	}
}

func mcpIdeaInfo(deps MCPDeps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		folder, err := req.RequireString("folder")
		if err != nil {
			return mcpError("folder is required"), nil
		}
		if !deps.Access.Authorize(deps.CallerID).CanRead {
			return mcpFailure(result.Errorf(result.KindUnauthorized, "caller %q is not authorized", deps.CallerID)), nil
		}
		info, err := deps.Ideas.GetInfo(folder)
		if err != nil {
			return mcpFailure(err), nil
		}
		return mcpJSON(info)
	}
}

func mcpRecentIdeas(deps MCPDeps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		days := clampLimit(req.GetInt("days", search.DefaultRecentDays), search.DefaultRecentDays, 365)
		limit := clampLimit(req.GetInt("limit", search.DefaultRecentLimit), search.DefaultRecentLimit, 100)

		list, err := deps.Search.Recent(ctx, deps.CallerID, days, limit)
		if err != nil {
			return mcpFailure(err), nil
		}
		if len(list) == 0 {
			return mcpText(fmt.Sprintf("No ideas in the last %d day(s).", days)), nil
		}

		var b strings.Builder
		for _, idea := range list {
			fmt.Fprintf(&b, "- %s (%s, viability %d/10) %s\n",
				idea.FolderName, idea.Category, idea.Viability, idea.CreatedAt.Format("2006-01-02"))
		}
		return mcpText(b.String()), nil
	}
}

func mcpRenameIdea(deps MCPDeps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		folder, err := req.RequireString("folder")
		if err != nil {
			return mcpError("folder is required"), nil
		}
		title, err := req.RequireString("title")
		if err != nil {
			return mcpError("title is required"), nil
		}

		renamed, err := deps.Ideas.Rename(ctx, folder, title, deps.CallerID)
		if err != nil {
			return mcpFailure(err), nil
		}
		msg := fmt.Sprintf("Renamed %s to %s", renamed.OldFolder, renamed.NewFolder)
		for _, w := range renamed.Warnings {
			msg += "\nwarning: " + w
		}
		return mcpText(msg), nil
	}
}

func mcpExportIdea(deps MCPDeps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		folder, err := req.RequireString("folder")
		if err != nil {
			return mcpError("folder is required"), nil
		}
		pkg, err := deps.Exports.Export(ctx, folder, deps.CallerID, req.GetStringSlice("files", nil))
		if err != nil {
			return mcpFailure(err), nil
		}
		return mcpJSON(pkg)
	}
}

func mcpResourceStats(deps MCPDeps) server.ResourceHandlerFunc {
	return func(ctx context.Context, req mcp.ReadResourceRequest) ([]mcp.ResourceContents, error) {
		st, err := deps.Search.Statistics(ctx, deps.CallerID)
		if err != nil {
			return nil, fmt.Errorf("failed to get statistics: %w", err)
		}

		b, err := json.Marshal(st)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal statistics: %w", err)
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

func clampLimit(v, def, max int) int {
	if v <= 0 {
		return def
	}
	if v > max {
		return max
	}
	return v
}

func mcpJSON(v any) (*mcp.CallToolResult, error) {
	b, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return mcpError(fmt.Sprintf("failed to marshal result: %v", err)), nil
	}
	return mcpText(string(b)), nil
}

// mcpFailure reports err to the client without leaking internal details.
func mcpFailure(err error) *mcp.CallToolResult {
	switch result.KindOf(err) {
	case result.KindInternal, result.KindPersistence, result.KindFilesystem:
		return mcpError("internal error")
	}
	return mcpError(result.Message(err))
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
