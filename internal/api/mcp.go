package api

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/lessonbase/llkb/internal/config"
	"github.com/lessonbase/llkb/internal/detect"
	"github.com/lessonbase/llkb/internal/knowledge"
	"github.com/lessonbase/llkb/internal/match"
	"github.com/lessonbase/llkb/internal/ranker"
	"github.com/lessonbase/llkb/internal/storage"
)

// MCPDeps holds dependencies for the MCP server.
type MCPDeps struct {
	Store  *storage.Store
	Config config.Config
}

// NewMCPServer creates an MCP server exposing the knowledge base to coding
// agents: context retrieval, duplicate detection, step matching, and
// outcome recording.
func NewMCPServer(deps MCPDeps) *server.MCPServer {
	s := server.NewMCPServer(
		"llkb",
		"1.0.0",
		server.WithToolCapabilities(true),
		server.WithResourceCapabilities(false, true),
		server.WithInstructions("llkb — lessons-learned knowledge base for browser test generation: ranked context, duplicate detection, and component matching."),
		server.WithRecovery(),
	)

	s.AddTool(
		mcp.NewTool("get_context",
			mcp.WithDescription("Rank the knowledge base against a journey and return the digest to inject into a generation prompt."),
			mcp.WithString("journey", mcp.Description("Journey identifier")),
			mcp.WithString("title", mcp.Description("Journey title")),
			mcp.WithString("scope", mcp.Description("Journey scope (universal, framework:<name>, app)")),
			mcp.WithArray("keywords", mcp.Description("Optional keywords; derived from the title and routes when absent")),
		),
		mcpGetContext(deps),
	)

	s.AddTool(
		mcp.NewTool("find_duplicates",
			mcp.WithDescription("Group near-duplicate code fragments and rank them as extraction candidates."),
			mcp.WithString("fragments", mcp.Description("JSON array of {file, journeyId, stepLabel, code, startLine, endLine} objects"), mcp.Required()),
		),
		mcpFindDuplicates(deps),
	)

	s.AddTool(
		mcp.NewTool("match_step",
			mcp.WithDescription("Find the best existing component for a test step and classify it as USE, SUGGEST, or NONE."),
			mcp.WithString("description", mcp.Description("What the step does"), mcp.Required()),
			mcp.WithString("category", mcp.Description("Optional step category")),
			mcp.WithString("framework", mcp.Description("Framework of the app under test")),
		),
		mcpMatchStep(deps),
	)

	s.AddTool(
		mcp.NewTool("record_outcome",
			mcp.WithDescription("Record a success or failure for a lesson, refreshing its confidence and history."),
			mcp.WithString("lesson_id", mcp.Description("Lesson identifier"), mcp.Required()),
			mcp.WithBoolean("success", mcp.Description("Whether applying the lesson worked"), mcp.Required()),
		),
		mcpRecordOutcome(deps),
	)

	s.AddResource(
		mcp.NewResource(
			"llkb://summary",
			"Knowledge Base Summary",
			mcp.WithResourceDescription("Counts and health of the stored knowledge"),
			mcp.WithMIMEType("application/json"),
		),
		mcpResourceSummary(deps),
	)

	return s
}

func mcpGetContext(deps MCPDeps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		journey := knowledge.Journey{
			ID:       req.GetString("journey", ""),
			Title:    req.GetString("title", ""),
			Scope:    req.GetString("scope", ""),
			Keywords: req.GetStringSlice("keywords", nil),
		}

		snap, err := deps.Store.LoadSnapshot()
		if err != nil {
			return mcpError(fmt.Sprintf("loading knowledge: %v", err)), nil
		}

		ranked := ranker.Rank(journey, snap.Lessons, snap.Components,
			ranker.Options{PrioritizeByConfidence: deps.Config.Injection.PrioritizeByConfidence},
			snap.Profile, snap.SelectorPatterns, snap.TimingPatterns)

		digest := ranker.Digest(ranked)
		if digest == "" {
			return mcpText("No relevant knowledge for this journey."), nil
		}
		return mcpText(digest), nil
	}
}

func mcpFindDuplicates(deps MCPDeps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		fragmentsJSON, err := req.RequireString("fragments")
		if err != nil {
			return mcpError("fragments is required"), nil
		}

		var fragments []detect.Fragment
		if err := json.Unmarshal([]byte(fragmentsJSON), &fragments); err != nil {
			return mcpError(fmt.Sprintf("invalid fragments JSON: %v", err)), nil
		}

		components, err := deps.Store.ListComponents(false)
		if err != nil {
			return mcpError(fmt.Sprintf("loading components: %v", err)), nil
		}

		candidates := detect.FindExtractionCandidates(fragments, components, detectOptions(deps.Config))
		if len(candidates) == 0 {
			return mcpText("[]"), nil
		}

		b, err := json.Marshal(candidates)
		if err != nil {
			return mcpError(fmt.Sprintf("encoding candidates: %v", err)), nil
		}
		return mcpText(string(b)), nil
	}
}

func mcpMatchStep(deps MCPDeps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		description, err := req.RequireString("description")
		if err != nil {
			return mcpError("description is required"), nil
		}

		step := match.Step{
			Description: description,
			Category:    knowledge.Category(req.GetString("category", "")),
			Framework:   req.GetString("framework", ""),
		}

		components, err := deps.Store.ListComponents(false)
		if err != nil {
			return mcpError(fmt.Sprintf("loading components: %v", err)), nil
		}

		rec := match.MatchStep(step, components, matchOptions(deps.Config))
		b, err := json.Marshal(rec)
		if err != nil {
			return mcpError(fmt.Sprintf("encoding recommendation: %v", err)), nil
		}
		return mcpText(string(b)), nil
	}
}

func mcpRecordOutcome(deps MCPDeps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		lessonID, err := req.RequireString("lesson_id")
		if err != nil {
			return mcpError("lesson_id is required"), nil
		}
		success, err := req.RequireBool("success")
		if err != nil {
			return mcpError("success is required"), nil
		}

		l, err := deps.Store.RecordLessonOutcome(lessonID, success, time.Now().UTC())
		if err != nil {
			return mcpError(fmt.Sprintf("recording outcome: %v", err)), nil
		}
		return mcpText(fmt.Sprintf("Lesson %s: confidence %.2f after %d occurrences", l.ID, l.Metrics.Confidence, l.Metrics.Occurrences)), nil
	}
}

func mcpResourceSummary(deps MCPDeps) server.ResourceHandlerFunc {
	return func(ctx context.Context, req mcp.ReadResourceRequest) ([]mcp.ResourceContents, error) {
		snap, err := deps.Store.LoadSnapshot()
		if err != nil {
			return nil, fmt.Errorf("loading knowledge: %w", err)
		}

		var avgConfidence float64
		for _, l := range snap.Lessons {
			avgConfidence += l.Metrics.Confidence
		}
		if len(snap.Lessons) > 0 {
			avgConfidence /= float64(len(snap.Lessons))
		}

		summary := map[string]any{
			"lessons":           len(snap.Lessons),
			"components":        len(snap.Components),
			"selector_patterns": len(snap.SelectorPatterns),
			"timing_patterns":   len(snap.TimingPatterns),
			"avg_confidence":    avgConfidence,
		}
		b, err := json.Marshal(summary)
		if err != nil {
			return nil, fmt.Errorf("encoding summary: %w", err)
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
