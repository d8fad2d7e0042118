package main

import (
	"context"
	"log/slog"
	"os"
	"time"

	"relaycore/internal/app"
	"relaycore/internal/dispatch"
)

// demoRoutes is a small route table exercising the dispatcher end to end.
// Real deployments supply their own table and handlers.
func demoRoutes() (dispatch.RouteConfig, *dispatch.HandlerRegistry) {
	registry := dispatch.NewHandlerRegistry()

	_ = registry.Register("echo.args", func(ctx context.Context, in *dispatch.PipelineInput) (*dispatch.HandlerOutput, error) {
		return &dispatch.HandlerOutput{Result: map[string]any{
			"validated": in.Validated().Export(),
			"extra":     in.Extra().Export(),
		}}, nil
	})
	_ = registry.Register("system.time", func(ctx context.Context, in *dispatch.PipelineInput) (*dispatch.HandlerOutput, error) {
		return &dispatch.HandlerOutput{Result: map[string]any{
			"now": time.Now().UTC().Format(time.RFC3339),
		}}, nil
	})

	routes := dispatch.RouteConfig{
		{
			"demo": {
				"echo": &dispatch.RouteEntry{
					Params: []dispatch.ParamDef{
						{Name: "userId", Type: "int", Required: true},
						{Name: "note", Type: "string", Required: false, Default: "none"},
					},
					Handlers: []string{"echo.args"},
				},
				"time": &dispatch.RouteEntry{
					Handlers: []string{"system.time"},
				},
			},
		},
	}
	return routes, registry
}

func main() {
	routes, registry := demoRoutes()

	application, err := app.NewApplication(routes, registry)
	if err != nil {
		slog.Error("failed to initialize application", slog.String("error", err.Error()))
		os.Exit(1)
	}

	if err := application.Run(); err != nil {
		slog.Error("application error", slog.String("error", err.Error()))
		os.Exit(1)
	}
}
