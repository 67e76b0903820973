// Package mcpserver provides an MCP (Model Context Protocol) server
// that exposes the item verbs for LLM integration via stdio transport.
package mcpserver

import (
	"context"
	"encoding/json"
	"strings"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/starford/keep/internal/itemservice"
	"github.com/starford/keep/internal/models"
)

const querySyntaxURI = "keep://query-syntax"

// Server wraps the MCP server with item tools.
type Server struct {
	mcp *server.MCPServer
	svc *itemservice.Service
}

// New creates a new MCP server with all item tools registered.
func New(svc *itemservice.Service, version string) *Server {
	s := &Server{svc: svc}

	s.mcp = server.NewMCPServer(
		"Keep",
		version,
		server.WithToolCapabilities(false),
		server.WithResourceCapabilities(false, false),
	)

	s.mcp.AddTool(mcp.NewTool("add_item",
		mcp.WithDescription("Save a URL, a local file path or a plain note. "+
			"URLs are archived and their text indexed for search."),
		mcp.WithString("name", mcp.Required(), mcp.Description("Display name")),
		mcp.WithString("url", mcp.Description("http(s) URL or absolute local path")),
		mcp.WithString("body", mcp.Description("Free text body")),
		mcp.WithString("comment", mcp.Description("Personal note about the item")),
		mcp.WithString("tags", mcp.Description("Comma-separated tag labels")),
	), s.addItem)

	s.mcp.AddTool(mcp.NewTool("search_items",
		mcp.WithDescription("Ranked full-text search over saved items. "+
			"Read the query syntax via get_query_syntax or the "+querySyntaxURI+" resource."),
		mcp.WithString("query", mcp.Required(), mcp.Description("Search query string")),
		mcp.WithNumber("limit", mcp.Description("Max results (default 10)")),
	), s.searchItems)

	s.mcp.AddTool(mcp.NewTool("get_item",
		mcp.WithDescription("Get one item with its tags and stored blob."),
		mcp.WithString("id", mcp.Required(), mcp.Description("Item id")),
	), s.getItem)

	s.mcp.AddTool(mcp.NewTool("list_items",
		mcp.WithDescription("List items newest first, optionally filtered by tags."),
		mcp.WithNumber("count", mcp.Description("Max items (0 for all)")),
		mcp.WithString("tags", mcp.Description("Comma-separated labels; items must carry all of them")),
	), s.listItems)

	s.mcp.AddTool(mcp.NewTool("delete_item",
		mcp.WithDescription("Delete an item together with its archived copy and search document."),
		mcp.WithString("id", mcp.Required(), mcp.Description("Item id")),
	), s.deleteItem)

	s.mcp.AddTool(mcp.NewTool("link_items",
		mcp.WithDescription("Link two items. Links are symmetric."),
		mcp.WithString("a", mcp.Required(), mcp.Description("First item id")),
		mcp.WithString("b", mcp.Required(), mcp.Description("Second item id")),
	), s.linkItems)

	s.mcp.AddTool(mcp.NewTool("unlink_items",
		mcp.WithDescription("Remove the link between two items."),
		mcp.WithString("a", mcp.Required(), mcp.Description("First item id")),
		mcp.WithString("b", mcp.Required(), mcp.Description("Second item id")),
	), s.unlinkItems)

	s.mcp.AddTool(mcp.NewTool("attach_file",
		mcp.WithDescription("Store file content as an item's archived copy and index its text."),
		mcp.WithString("id", mcp.Required(), mcp.Description("Item id")),
		mcp.WithString("filename", mcp.Required(), mcp.Description("File name; its extension selects the content type")),
		mcp.WithString("content", mcp.Required(), mcp.Description("base64 data or a data: URI")),
	), s.attachFile)

	s.mcp.AddTool(mcp.NewTool("get_query_syntax",
		mcp.WithDescription("Returns the search query syntax. Call this before search_items."),
	), s.getQuerySyntax)

	s.mcp.AddResource(
		mcp.NewResource(querySyntaxURI, "Search Query Syntax",
			mcp.WithResourceDescription("Query language accepted by search_items."),
			mcp.WithMIMEType("text/markdown"),
		),
		s.readQuerySyntaxResource,
	)

	return s
}

// ServeStdio starts the MCP server on stdin/stdout.
func (s *Server) ServeStdio() error {
	return server.ServeStdio(s.mcp)
}

// MCPServer returns the underlying server for testing.
func (s *Server) MCPServer() *server.MCPServer {
	return s.mcp
}

func jsonResult(v any) *mcp.CallToolResult {
	out, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return mcp.NewToolResultError(err.Error())
	}
	return mcp.NewToolResultText(string(out))
}

func splitTags(raw string) []string {
	var out []string
	for _, t := range strings.Split(raw, ",") {
		if t = strings.TrimSpace(t); t != "" {
			out = append(out, t)
		}
	}
	return out
}

func optional(req mcp.CallToolRequest, key string) *string {
	v := req.GetString(key, "")
	if v == "" {
		return nil
	}
	return &v
}

func (s *Server) addItem(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	name, err := req.RequireString("name")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	item, err := s.svc.Add(ctx, models.AddItem{
		Name:    name,
		URL:     optional(req, "url"),
		Body:    optional(req, "body"),
		Comment: optional(req, "comment"),
		Tags:    splitTags(req.GetString("tags", "")),
	})
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	return jsonResult(item), nil
}

func (s *Server) searchItems(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	query, err := req.RequireString("query")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	results, err := s.svc.Search(ctx, query, req.GetInt("limit", 0))
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	return jsonResult(results), nil
}

func (s *Server) getItem(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	id, err := req.RequireString("id")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	item, err := s.svc.Get(ctx, id)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	return jsonResult(item), nil
}

func (s *Server) listItems(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	items, err := s.svc.List(ctx, models.ListItems{
		Count: req.GetInt("count", 0),
		Tags:  splitTags(req.GetString("tags", "")),
	})
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	return jsonResult(items), nil
}

func (s *Server) deleteItem(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	id, err := req.RequireString("id")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	if err := s.svc.Delete(ctx, id); err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	return mcp.NewToolResultText("deleted: " + id), nil
}

func linkArgs(req mcp.CallToolRequest) (string, string, error) {
	a, err := req.RequireString("a")
	if err != nil {
		return "", "", err
	}
	b, err := req.RequireString("b")
	if err != nil {
		return "", "", err
	}
	return a, b, nil
}

func (s *Server) linkItems(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	a, b, err := linkArgs(req)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	if err := s.svc.Link(ctx, a, b); err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	return mcp.NewToolResultText("linked: " + a + " " + b), nil
}

func (s *Server) unlinkItems(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	a, b, err := linkArgs(req)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	if err := s.svc.Unlink(ctx, a, b); err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	return mcp.NewToolResultText("unlinked: " + a + " " + b), nil
}

func (s *Server) getQuerySyntax(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	return mcp.NewToolResultText(QuerySyntax), nil
}

func (s *Server) readQuerySyntaxResource(ctx context.Context, req mcp.ReadResourceRequest) ([]mcp.ResourceContents, error) {
	return []mcp.ResourceContents{
		mcp.TextResourceContents{
			URI:      querySyntaxURI,
			MIMEType: "text/markdown",
			Text:     QuerySyntax,
		},
	}, nil
}
