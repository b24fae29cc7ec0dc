// Package mcpserver exposes the question answering pipeline as a Model
// Context Protocol tool.
package mcpserver

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"
	"go.uber.org/zap"

	"github.com/fabfab/aiact-explorer/api"
	"github.com/fabfab/aiact-explorer/chat"
	"github.com/fabfab/aiact-explorer/logging"
)

const (
	Name     = "aiact-explorer"
	Version  = "1.0.0"
	ToolName = "ask_ai_act"
)

var askSchema = json.RawMessage(`{
	"type": "object",
	"properties": {
		"question": {
			"type": "string",
			"description": "Question about Regulation (EU) 2024/1689, in French or English"
		},
		"source_types": {
			"type": "array",
			"items": {"type": "string", "enum": ["regulation", "guidelines", "case_law"]},
			"description": "Sources to search. Defaults to regulation and guidelines."
		},
		"history": {
			"type": "array",
			"items": {
				"type": "object",
				"properties": {
					"question": {"type": "string"},
					"answer": {"type": "string"}
				},
				"required": ["question", "answer"]
			},
			"description": "Previous turns, oldest first"
		}
	},
	"required": ["question"]
}`)

var defaultSourceTypes = []string{"regulation", "guidelines"}

// New builds an MCP server with the ask_ai_act tool bound to searcher.
func New(searcher api.Searcher, logger *zap.SugaredLogger) *server.MCPServer {
	mcpServer := server.NewMCPServer(
		Name,
		Version,
		server.WithToolCapabilities(false),
		server.WithInstructions("Answers questions about the EU AI Act from the regulation text and Commission guidelines, with article citations."),
	)

	mcpServer.AddTool(
		mcp.NewToolWithRawSchema(ToolName, "Answer a question about the EU AI Act (Regulation (EU) 2024/1689) with cited articles and guideline passages", askSchema),
		HandleAsk(searcher, logger),
	)
	return mcpServer
}

// HandleAsk returns the tool handler. Invalid input and pipeline failures are
// reported as tool errors, never as protocol errors.
func HandleAsk(searcher api.Searcher, logger *zap.SugaredLogger) server.ToolHandlerFunc {
	logger = logging.OrNop(logger)
	return func(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		req, err := parseArguments(request.GetArguments())
		if err != nil {
			return mcp.NewToolResultError(err.Error()), nil
		}

		resp, err := searcher.Ask(ctx, req)
		if err != nil {
			logger.Errorw("mcp ask failed", "kind", chat.KindOf(err), "error", err)
			return mcp.NewToolResultError(api.PublicMessage(err)), nil
		}
		return mcp.NewToolResultText(FormatResponse(resp)), nil
	}
}

func parseArguments(args map[string]any) (chat.Request, error) {
	var req chat.Request

	question, _ := args["question"].(string)
	req.Question = question

	switch raw := args["source_types"].(type) {
	case nil:
		req.SourceTypes = append([]string(nil), defaultSourceTypes...)
	case []any:
		for _, item := range raw {
			s, ok := item.(string)
			if !ok {
				return req, errors.New("source_types must be a list of strings")
			}
			req.SourceTypes = append(req.SourceTypes, s)
		}
	case []string:
		req.SourceTypes = append(req.SourceTypes, raw...)
	default:
		return req, errors.New("source_types must be a list of strings")
	}

	if raw, ok := args["history"].([]any); ok {
		for _, item := range raw {
			turn, ok := item.(map[string]any)
			if !ok {
				return req, errors.New("history entries must be objects")
			}
			q, _ := turn["question"].(string)
			a, _ := turn["answer"].(string)
			req.History = append(req.History, chat.Turn{Question: q, Answer: a})
		}
	}
	return req, nil
}

// FormatResponse renders the answer followed by a numbered source list.
func FormatResponse(resp chat.Response) string {
	var sb strings.Builder
	sb.WriteString(resp.Answer)
	if len(resp.Documents) == 0 {
		return sb.String()
	}

	sb.WriteString("\n\nSources :\n")
	for i, doc := range resp.Documents {
		fmt.Fprintf(&sb, "%d. %s (%s, score %.2f)", i+1, doc.Source, doc.SourceType, doc.Score)
		if len(doc.RelatedArticles) > 0 {
			fmt.Fprintf(&sb, " - voir aussi articles %s", strings.Join(doc.RelatedArticles, ", "))
		}
		sb.WriteString("\n")
	}
	return strings.TrimRight(sb.String(), "\n")
}

// ServeStdio runs the server over stdin/stdout until ctx is cancelled or the
// input closes.
func ServeStdio(ctx context.Context, mcpServer *server.MCPServer, in io.Reader, out io.Writer) error {
	return server.NewStdioServer(mcpServer).Listen(ctx, in, out)
}
