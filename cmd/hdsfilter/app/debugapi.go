package app

import (
	"context"
	"net/http"

	"github.com/danielgtaylor/huma/v2"
	"github.com/danielgtaylor/huma/v2/adapters/humachi"
	"github.com/go-chi/chi/v5"
)

// StreamStatusResponse describes the chunk chain and worker state for the
// single open stream, the HDS analogue of the CMAF-ingest status
// operations in cmd/livesim2/app/api.go.
type StreamStatusResponse struct {
	Body struct {
		MovieID       string `json:"movieId" doc:"Stream's movie identifier"`
		ChunkCount    int64  `json:"chunkCount" doc:"Fragments successfully downloaded so far"`
		ChainLength   int    `json:"chainLength" doc:"Chunks currently held in the chain"`
		HasDownload   bool   `json:"hasDownloadWork" doc:"Whether the downloader has a pending fragment to fetch"`
		TotalDuration uint64 `json:"totalDurationTicks" doc:"Sum of Duration across chunks currently in the chain, in afrt_timescale ticks"`
	}
}

func createGetStreamStatusHdlr(ds *DebugServer) func(ctx context.Context, input *struct{}) (*StreamStatusResponse, error) {
	return func(ctx context.Context, input *struct{}) (*StreamStatusResponse, error) {
		s := ds.filter.Stream()
		chain := s.Chain()

		chain.Mu.Lock()
		length := chain.Len()
		hasWork := chain.HasDownloadWork()
		total := chain.TotalDuration()
		chain.Mu.Unlock()

		resp := &StreamStatusResponse{}
		resp.Body.MovieID = s.MovieID()
		resp.Body.ChunkCount = s.ChunkCount()
		resp.Body.ChainLength = length
		resp.Body.HasDownload = hasWork
		resp.Body.TotalDuration = total
		return resp, nil
	}
}

func createRouteAPI(ds *DebugServer) func(r chi.Router) {
	return func(r chi.Router) {
		config := huma.DefaultConfig("hdsfilter debug API", "1.0.0")
		config.Servers = []*huma.Server{{URL: "/api"}}
		config.Info.Description = "Inspect the state of the single open HDS stream: chunk chain length, downloader progress, and movie identifier."

		api := humachi.New(r, config)

		huma.Register(api, huma.Operation{
			OperationID: "get-stream-status",
			Method:      http.MethodGet,
			Path:        "/stream/status",
			Summary:     "Get the current HDS stream status",
			Tags:        []string{"stream"},
		}, createGetStreamStatusHdlr(ds))
	}
}
