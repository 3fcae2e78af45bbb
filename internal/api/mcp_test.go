package api

import (
	"context"
	"encoding/json"
	"strings"
	"testing"

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/kalambet/v2v/internal/export"
	"github.com/kalambet/v2v/internal/search"
)

// --- helpers ---

func newTestMCPDeps(t *testing.T, caller string) MCPDeps {
	t.Helper()
	env := newTestEnv(t)
	return MCPDeps{
		Search:   env.deps.Search,
		Ideas:    env.deps.Ideas,
		Exports:  env.deps.Exports,
		Access:   env.deps.Access,
		CallerID: caller,
	}
}

func toolText(t *testing.T, result *mcp.CallToolResult) string {
	t.Helper()
	if len(result.Content) == 0 {
		t.Fatal("no content in result")
	}
	tc, ok := result.Content[0].(mcp.TextContent)
	if !ok {
		t.Fatalf("expected TextContent, got %T", result.Content[0])
	}
	return tc.Text
}

func makeCallToolRequest(name string, args map[string]interface{}) mcp.CallToolRequest {
	return mcp.CallToolRequest{
		Params: mcp.CallToolParams{
			Name:      name,
			Arguments: args,
		},
	}
}

func makeReadResourceRequest(uri string) mcp.ReadResourceRequest {
	return mcp.ReadResourceRequest{
		Params: mcp.ReadResourceParams{
			URI: uri,
		},
	}
}

// --- tests ---

func TestNewMCPServer(t *testing.T) {
	deps := newTestMCPDeps(t, "bob")
	if s := NewMCPServer(deps, "test"); s == nil {
		t.Fatal("NewMCPServer returned nil")
	}
}

func TestMCPTool_SearchIdeas(t *testing.T) {
	deps := newTestMCPDeps(t, "bob")
	handler := mcpSearchIdeas(deps)

	result, err := handler(context.Background(), makeCallToolRequest("search_ideas", map[string]interface{}{
		"query": "delivery",
		"limit": float64(5),
	}))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.IsError {
		t.Fatalf("tool error: %s", toolText(t, result))
	}
	text := toolText(t, result)
	if !strings.Contains(text, "Mobile_Delivery_App") || !strings.Contains(text, "[App]") {
		t.Errorf("unexpected text: %s", text)
	}

	result, _ = handler(context.Background(), makeCallToolRequest("search_ideas", map[string]interface{}{
		"query": "spaceship",
	}))
	if !strings.HasPrefix(toolText(t, result), "No ideas match") {
		t.Errorf("unexpected text: %s", toolText(t, result))
	}
}

func TestMCPTool_SearchIdeas_MissingQuery(t *testing.T) {
	deps := newTestMCPDeps(t, "bob")
	result, err := mcpSearchIdeas(deps)(context.Background(), makeCallToolRequest("search_ideas", map[string]interface{}{}))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !result.IsError {
		t.Error("expected error result")
	}
}

func TestMCPTool_Unauthorized(t *testing.T) {
	deps := newTestMCPDeps(t, "mallory")

	result, _ := mcpSearchIdeas(deps)(context.Background(), makeCallToolRequest("search_ideas", map[string]interface{}{
		"query": "delivery",
	}))
	if !result.IsError || !strings.Contains(toolText(t, result), "not authorized") {
		t.Errorf("search: %+v", result)
	}

	result, _ = mcpIdeaInfo(deps)(context.Background(), makeCallToolRequest("idea_info", map[string]interface{}{
		"folder": "Mobile_Delivery_App",
	}))
	if !result.IsError {
		t.Error("idea_info: expected error result")
	}
}

func TestMCPTool_SuggestIdeas(t *testing.T) {
	deps := newTestMCPDeps(t, "bob")
	result, err := mcpSuggestIdeas(deps)(context.Background(), makeCallToolRequest("suggest_ideas", map[string]interface{}{
		"prefix": "deliv",
	}))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	var names []string
	if err := json.Unmarshal([]byte(toolText(t, result)), &names); err != nil {
		t.Fatalf("decoding: %v", err)
	}
	if len(names) != 1 || names[0] != "Mobile_Delivery_App" {
		t.Errorf("names = %v", names)
	}
}

func TestMCPTool_IdeaInfo(t *testing.T) {
	deps := newTestMCPDeps(t, "bob")
	handler := mcpIdeaInfo(deps)

	result, _ := handler(context.Background(), makeCallToolRequest("idea_info", map[string]interface{}{
		"folder": "Mobile_Delivery_App",
	}))
	if result.IsError {
		t.Fatalf("tool error: %s", toolText(t, result))
	}
	if !strings.Contains(toolText(t, result), `"folder_name": "Mobile_Delivery_App"`) {
		t.Errorf("unexpected text: %s", toolText(t, result))
	}

	result, _ = handler(context.Background(), makeCallToolRequest("idea_info", map[string]interface{}{
		"folder": "Nope",
	}))
	if !result.IsError || !strings.Contains(toolText(t, result), "not found") {
		t.Errorf("missing folder: %s", toolText(t, result))
	}
}

func TestMCPTool_RecentIdeas(t *testing.T) {
	deps := newTestMCPDeps(t, "bob")
	result, _ := mcpRecentIdeas(deps)(context.Background(), makeCallToolRequest("recent_ideas", map[string]interface{}{
		"days": float64(30),
	}))
	if result.IsError {
		t.Fatalf("tool error: %s", toolText(t, result))
	}
	if !strings.Contains(toolText(t, result), "- Mobile_Delivery_App (App, viability 8/10)") {
		t.Errorf("unexpected text: %s", toolText(t, result))
	}
}

func TestMCPTool_RenameIdea(t *testing.T) {
	args := map[string]interface{}{"folder": "Mobile_Delivery_App", "title": "Courier Network"}

	deps := newTestMCPDeps(t, "bob")
	result, _ := mcpRenameIdea(deps)(context.Background(), makeCallToolRequest("rename_idea", args))
	if !result.IsError {
		t.Error("non-admin rename should fail")
	}

	deps = newTestMCPDeps(t, "root")
	result, _ = mcpRenameIdea(deps)(context.Background(), makeCallToolRequest("rename_idea", args))
	if result.IsError {
		t.Fatalf("tool error: %s", toolText(t, result))
	}
	if got := toolText(t, result); got != "Renamed Mobile_Delivery_App to Courier_Network" {
		t.Errorf("text = %q", got)
	}
}

func TestMCPTool_ExportIdea(t *testing.T) {
	deps := newTestMCPDeps(t, "bob")
	result, _ := mcpExportIdea(deps)(context.Background(), makeCallToolRequest("export_idea", map[string]interface{}{
		"folder": "Mobile_Delivery_App",
		"files":  []interface{}{"transcript.txt"},
	}))
	if result.IsError {
		t.Fatalf("tool error: %s", toolText(t, result))
	}
	var pkg export.Package
	if err := json.Unmarshal([]byte(toolText(t, result)), &pkg); err != nil {
		t.Fatalf("decoding: %v", err)
	}
	if pkg.FileCount != 1 || pkg.URL != "/downloads/"+pkg.Token {
		t.Errorf("package = %+v", pkg)
	}
}

func TestMCPResource_Stats(t *testing.T) {
	deps := newTestMCPDeps(t, "bob")
	contents, err := mcpResourceStats(deps)(context.Background(), makeReadResourceRequest("ideas://stats"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(contents) != 1 {
		t.Fatalf("expected 1 content, got %d", len(contents))
	}
	tc, ok := contents[0].(mcp.TextResourceContents)
	if !ok {
		t.Fatalf("expected TextResourceContents, got %T", contents[0])
	}

	var st search.Stats
	if err := json.Unmarshal([]byte(tc.Text), &st); err != nil {
		t.Fatalf("decoding: %v", err)
	}
	if st.Total != 1 || st.ByCategory["App"] != 1 || !st.SearchAvailable {
		t.Errorf("stats = %+v", st)
	}
}
