package mcpserver

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"mime"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/mark3labs/mcp-go/mcp"
)

const maxAttachSize = 10 << 20 // 10 MB

var safeFilenameRe = regexp.MustCompile(`[^a-zA-Z0-9._-]`)

type attachResult struct {
	ItemID      string `json:"itemId"`
	BlobID      string `json:"blobId"`
	ContentType string `json:"contentType"`
	Bytes       int    `json:"bytes"`
}

func (s *Server) attachFile(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	id, err := req.RequireString("id")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	filename, err := req.RequireString("filename")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	content, err := req.RequireString("content")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}

	data, ext, err := decodeContent(content)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	if len(data) > maxAttachSize {
		return mcp.NewToolResultError(fmt.Sprintf("file too large: %d bytes (max %d)", len(data), maxAttachSize)), nil
	}

	filename = sanitizeFilename(filename)
	if filepath.Ext(filename) == "" && ext != "" {
		filename += ext
	}

	item, err := s.svc.Attach(ctx, id, filename, bytes.NewReader(data))
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	res := attachResult{ItemID: item.ID, Bytes: len(data)}
	if item.Blob != nil {
		res.BlobID = item.Blob.ID
		res.ContentType = item.Blob.ContentType
	}
	out, _ := json.Marshal(res)
	return mcp.NewToolResultText(string(out)), nil
}

// decodeContent accepts plain base64 or a data:[<mediatype>];base64,<data>
// URI. For data URIs it also returns an extension for the media type.
func decodeContent(content string) ([]byte, string, error) {
	encoded, ext := content, ""
	if rest, ok := strings.CutPrefix(content, "data:"); ok {
		meta, payload, found := strings.Cut(rest, ",")
		if !found {
			return nil, "", fmt.Errorf("invalid data URI: missing comma separator")
		}
		if !strings.HasSuffix(meta, ";base64") {
			return nil, "", fmt.Errorf("only base64 data URIs are supported")
		}
		mt, _, _ := strings.Cut(strings.TrimSuffix(meta, ";base64"), ";")
		if exts, _ := mime.ExtensionsByType(mt); len(exts) > 0 {
			ext = exts[0]
		}
		encoded = payload
	}

	data, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		data, err = base64.RawStdEncoding.DecodeString(encoded)
		if err != nil {
			return nil, "", fmt.Errorf("invalid base64 data: %w", err)
		}
	}
	return data, ext, nil
}

// sanitizeFilename strips path separators and unsafe characters.
func sanitizeFilename(name string) string {
	name = filepath.Base(name)
	name = safeFilenameRe.ReplaceAllString(name, "_")
	if name == "." || name == "/" {
		return "upload"
	}
	return name
}
