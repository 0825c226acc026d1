// Package mcp exposes the prayer-time tools through the Model Context
// Protocol SDK, as an alternative to the line-delimited stdio dispatcher.
package mcp

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	mcpsdk "github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/liliang-cn/waktusolat-mcp/pkg/log"
	"github.com/liliang-cn/waktusolat-mcp/pkg/tools"
)

// Server wraps an MCP SDK server with every prayer-time tool registered.
type Server struct {
	server *mcpsdk.Server
	logger *slog.Logger
}

func NewServer(name, version string, h *tools.Handlers) (*Server, error) {
	s := &Server{
		server: mcpsdk.NewServer(&mcpsdk.Implementation{Name: name, Version: version}, nil),
		logger: log.WithModule("mcp"),
	}

	for _, t := range h.ExtendedTools() {
		switch t.Name {
		case tools.GetPrayerTimes, tools.GetCurrentPrayer:
			addTool[tools.ZoneArgs](s, t)
		case tools.ListZones:
			addTool[tools.ListZonesArgs](s, t)
		case tools.GetPrayerTimesByCity:
			addTool[tools.CityArgs](s, t)
		case tools.GetPrayerTimesByCoordinates:
			addTool[tools.CoordinatesArgs](s, t)
		case tools.DebugAPIResponse:
			addTool[tools.DebugArgs](s, t)
		default:
			return nil, fmt.Errorf("no argument type for tool '%s'", t.Name)
		}
	}
	return s, nil
}

// SDK returns the underlying SDK server, e.g. to connect a custom transport.
func (s *Server) SDK() *mcpsdk.Server { return s.server }

// Run serves over stdin/stdout until ctx is cancelled or the client disconnects.
func (s *Server) Run(ctx context.Context) error {
	s.logger.Info("starting MCP server over stdio")
	return s.server.Run(ctx, &mcpsdk.StdioTransport{})
}

func addTool[In any](s *Server, t tools.Tool) {
	handler := t.Handler
	mcpsdk.AddTool(s.server, &mcpsdk.Tool{Name: t.Name, Description: t.Description},
		func(ctx context.Context, _ *mcpsdk.CallToolRequest, in In) (*mcpsdk.CallToolResult, any, error) {
			args, err := toArgs(in)
			if err != nil {
				return nil, nil, err
			}
			res := handler(ctx, args)
			if res.IsError() {
				s.logger.Debug("tool returned error", "tool", t.Name, "error", res.Error)
			}
			return &mcpsdk.CallToolResult{
				Content: []mcpsdk.Content{&mcpsdk.TextContent{Text: res.Text()}},
				IsError: res.IsError(),
			}, nil, nil
		})
}

func toArgs(v any) (map[string]any, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("encode arguments: %w", err)
	}
	args := map[string]any{}
	if err := json.Unmarshal(data, &args); err != nil {
		return nil, fmt.Errorf("decode arguments: %w", err)
	}
	return args, nil
}
