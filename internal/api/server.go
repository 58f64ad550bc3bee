package api

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/danielgtaylor/huma/v2"
	"github.com/danielgtaylor/huma/v2/adapters/humachi"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/dgnsrekt/trafficlab/internal/relay"
	"github.com/dgnsrekt/trafficlab/internal/storage"
	"github.com/dgnsrekt/trafficlab/internal/types"
)

// ManifestLister reads the capture sidecars written for a run.
type ManifestLister interface {
	List() ([]storage.Manifest, error)
}

// Deps wires the status server. Nil optional fields drop their routes.
type Deps struct {
	Tracker   *Tracker
	Manifests ManifestLister
	Metrics   http.Handler
	Broker    *relay.Broker
	Logger    *slog.Logger
}

type cycleIndexInput struct {
	Index int `path:"index" minimum:"0" doc:"Zero-based cycle index"`
}

type runOutput struct {
	Body RunInfo
}

type cyclesOutput struct {
	Body struct {
		Cycles []types.CycleResult `json:"cycles"`
	}
}

type cycleOutput struct {
	Body types.CycleResult
}

type manifestsOutput struct {
	Body struct {
		Manifests []storage.Manifest `json:"manifests"`
	}
}

func NewServer(deps Deps) http.Handler {
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}

	router := chi.NewMux()
	router.Use(middleware.RequestID)
	router.Use(requestLogger(logger))
	router.Use(middleware.Recoverer)

	cfg := huma.DefaultConfig("Traffic Collector API", "1.0.0")
	api := humachi.New(router, cfg)

	registerHealthHandlers(api)
	registerRunHandlers(api, deps)

	if deps.Metrics != nil {
		router.Handle("/metrics", deps.Metrics)
	}
	if deps.Broker != nil {
		router.Get("/api/v1/events", relay.SSEHandler(deps.Broker))
		router.Get("/api/v1/ws", relay.WSHandler(deps.Broker, logger))
	}
	return router
}

func registerHealthHandlers(api huma.API) {
	type healthOutput struct {
		Body struct {
			Status string `json:"status"`
		}
	}
	huma.Register(api, huma.Operation{OperationID: "health", Method: http.MethodGet, Path: "/health", Summary: "Health check", Tags: []string{"Health"}},
		func(ctx context.Context, input *struct{}) (*healthOutput, error) {
			out := &healthOutput{}
			out.Body.Status = "ok"
			return out, nil
		})
}

func registerRunHandlers(api huma.API, deps Deps) {
	tracker := deps.Tracker
	huma.Register(api, huma.Operation{OperationID: "get-run", Method: http.MethodGet, Path: "/api/v1/run", Summary: "Current run status", Tags: []string{"Run"}},
		func(ctx context.Context, input *struct{}) (*runOutput, error) {
			if tracker == nil {
				return nil, mapErr(types.NewError(types.CodeNotFound, "no run in progress", nil))
			}
			return &runOutput{Body: tracker.Info()}, nil
		})

	huma.Register(api, huma.Operation{OperationID: "list-cycles", Method: http.MethodGet, Path: "/api/v1/cycles", Summary: "List finished cycles", Tags: []string{"Run"}},
		func(ctx context.Context, input *struct{}) (*cyclesOutput, error) {
			out := &cyclesOutput{}
			out.Body.Cycles = []types.CycleResult{}
			if tracker != nil {
				out.Body.Cycles = tracker.Results()
			}
			return out, nil
		})

	huma.Register(api, huma.Operation{OperationID: "get-cycle", Method: http.MethodGet, Path: "/api/v1/cycles/{index}", Summary: "Get one finished cycle", Tags: []string{"Run"}},
		func(ctx context.Context, input *cycleIndexInput) (*cycleOutput, error) {
			if tracker != nil {
				if r, ok := tracker.Result(input.Index); ok {
					return &cycleOutput{Body: r}, nil
				}
			}
			return nil, mapErr(types.NewError(types.CodeNotFound, fmt.Sprintf("cycle %d has not finished", input.Index), nil))
		})

	huma.Register(api, huma.Operation{OperationID: "list-manifests", Method: http.MethodGet, Path: "/api/v1/manifests", Summary: "List capture manifests in the output directory", Tags: []string{"Captures"}},
		func(ctx context.Context, input *struct{}) (*manifestsOutput, error) {
			out := &manifestsOutput{}
			out.Body.Manifests = []storage.Manifest{}
			if deps.Manifests == nil {
				return out, nil
			}
			list, err := deps.Manifests.List()
			if err != nil {
				return nil, mapErr(err)
			}
			out.Body.Manifests = list
			return out, nil
		})
}

func mapErr(err error) error {
	if err == nil {
		return nil
	}
	var coded *types.CodedError
	if errors.As(err, &coded) {
		switch coded.Code {
		case types.CodeConfigValidation:
			return huma.Error400BadRequest(coded.Message)
		case types.CodeNotFound:
			return huma.Error404NotFound(coded.Message)
		default:
			return huma.Error500InternalServerError(fmt.Sprintf("%s: %s", coded.Code, coded.Message))
		}
	}
	return huma.Error500InternalServerError(err.Error())
}
