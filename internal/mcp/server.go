package mcp

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/joescharf/buildbench/internal/daemon"
	"github.com/joescharf/buildbench/internal/models"
	"github.com/joescharf/buildbench/internal/power"
	"github.com/joescharf/buildbench/internal/score"
	"github.com/joescharf/buildbench/internal/store"
)

const defaultRunLimit = 20

// Server exposes benchmark scores, run history and power state as MCP tools.
// It only reads; benchmarks are started from the CLI.
type Server struct {
	ledger  *score.Ledger
	store   store.Store
	power   power.Monitor
	lock    *daemon.PIDFile
	version string
}

// NewServer creates the MCP server wrapper. lock may be nil.
func NewServer(l *score.Ledger, s store.Store, m power.Monitor, lock *daemon.PIDFile, version string) *Server {
	return &Server{
		ledger:  l,
		store:   s,
		power:   m,
		lock:    lock,
		version: version,
	}
}

// MCPServer returns a configured mcp-go server with all tools registered.
func (s *Server) MCPServer() *server.MCPServer {
	srv := server.NewMCPServer("buildbench", s.version, server.WithToolCapabilities(true))

	srv.AddTool(s.highestScoreTool())
	srv.AddTool(s.latestScoreTool())
	srv.AddTool(s.listRunsTool())
	srv.AddTool(s.getRunTool())
	srv.AddTool(s.powerStatusTool())

	return srv
}

// ServeStdio starts the stdio transport, blocking until ctx is cancelled.
func (s *Server) ServeStdio(ctx context.Context) error {
	srv := s.MCPServer()
	stdioServer := server.NewStdioServer(srv)
	return stdioServer.Listen(ctx, os.Stdin, os.Stdout)
}

// ---------------------------------------------------------------------------
// Tool definitions and handlers
// ---------------------------------------------------------------------------

// bench_highest_score
func (s *Server) highestScoreTool() (mcp.Tool, server.ToolHandlerFunc) {
	tool := mcp.NewTool("bench_highest_score",
		mcp.WithDescription("Highest compile count reached by any benchmark run on this machine, with the number of recorded runs."),
	)
	return tool, s.handleHighestScore
}

func (s *Server) handleHighestScore(_ context.Context, _ mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	records, err := s.ledger.Records()
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("failed to read score records: %v", err)), nil
	}

	out := struct {
		Highest   int    `json:"highest"`
		ScoreFile string `json:"score_file,omitempty"`
		Runs      int    `json:"runs"`
	}{Runs: len(records)}
	for _, r := range records {
		if out.ScoreFile == "" || r.Score > out.Highest {
			out.Highest = r.Score
			out.ScoreFile = filepath.Base(r.Path)
		}
	}
	return jsonResult(out)
}

// bench_latest_score
func (s *Server) latestScoreTool() (mcp.Tool, server.ToolHandlerFunc) {
	tool := mcp.NewTool("bench_latest_score",
		mcp.WithDescription("Score of the most recently started benchmark run. Returns score 0 when no run has been recorded."),
	)
	return tool, s.handleLatestScore
}

func (s *Server) handleLatestScore(_ context.Context, _ mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	rec, ok, err := s.ledger.Latest()
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("failed to read score records: %v", err)), nil
	}

	out := struct {
		Score     int        `json:"score"`
		ScoreFile string     `json:"score_file,omitempty"`
		StartedAt *time.Time `json:"started_at,omitempty"`
	}{}
	if ok {
		out.Score = rec.Score
		out.ScoreFile = filepath.Base(rec.Path)
		out.StartedAt = &rec.StartedAt
	}
	return jsonResult(out)
}

// bench_list_runs
func (s *Server) listRunsTool() (mcp.Tool, server.ToolHandlerFunc) {
	tool := mcp.NewTool("bench_list_runs",
		mcp.WithDescription("List benchmark runs from the run history, newest first. Includes repository, build command, status and score."),
		mcp.WithNumber("limit", mcp.Description("Maximum number of runs to return (default 20, 0 for all)")),
	)
	return tool, s.handleListRuns
}

func (s *Server) handleListRuns(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	if s.store == nil {
		return mcp.NewToolResultError("run history is not available"), nil
	}
	limit := request.GetInt("limit", defaultRunLimit)
	if limit < 0 {
		return mcp.NewToolResultError(fmt.Sprintf("limit must not be negative, got %d", limit)), nil
	}

	runs, err := s.store.ListRuns(ctx, limit)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("failed to list runs: %v", err)), nil
	}

	out := make([]runOut, len(runs))
	for i, r := range runs {
		out[i] = toRunOut(r)
	}
	return jsonResult(out)
}

// bench_get_run
func (s *Server) getRunTool() (mcp.Tool, server.ToolHandlerFunc) {
	tool := mcp.NewTool("bench_get_run",
		mcp.WithDescription("Get one benchmark run by ID, ID prefix, or score file name."),
		mcp.WithString("id", mcp.Required(), mcp.Description("Run ID, unique ID prefix, or score file name")),
	)
	return tool, s.handleGetRun
}

func (s *Server) handleGetRun(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	if s.store == nil {
		return mcp.NewToolResultError("run history is not available"), nil
	}
	id := request.GetString("id", "")
	if id == "" {
		return mcp.NewToolResultError("id is required"), nil
	}

	r, err := s.store.GetRun(ctx, id)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("failed to get run: %v", err)), nil
	}
	return jsonResult(toRunOut(r))
}

// bench_power_status
func (s *Server) powerStatusTool() (mcp.Tool, server.ToolHandlerFunc) {
	tool := mcp.NewTool("bench_power_status",
		mcp.WithDescription("Current battery charge and charging state, and whether a benchmark is running on this machine."),
	)
	return tool, s.handlePowerStatus
}

func (s *Server) handlePowerStatus(_ context.Context, _ mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	st, err := power.Read(s.power)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("failed to read power state: %v", err)), nil
	}

	out := struct {
		Percentage int    `json:"percentage"`
		Charging   string `json:"charging"`
		PluggedIn  bool   `json:"plugged_in"`
		Running    bool   `json:"benchmark_running"`
		PID        int    `json:"pid,omitempty"`
	}{
		Percentage: st.Percentage,
		Charging:   st.Charging.String(),
		PluggedIn:  st.Charging.PluggedIn(),
	}
	if s.lock != nil {
		if pid, running := s.lock.IsRunning(); running {
			out.Running = true
			out.PID = pid
		}
	}
	return jsonResult(out)
}

// ---------------------------------------------------------------------------
// Helpers
// ---------------------------------------------------------------------------

type runOut struct {
	ID           string     `json:"id"`
	ScoreFile    string     `json:"score_file"`
	RepoURL      string     `json:"repo_url"`
	BuildCmd     string     `json:"build_cmd"`
	SourceCommit string     `json:"source_commit,omitempty"`
	GatePolicy   string     `json:"gate_policy"`
	Status       string     `json:"status"`
	Score        int        `json:"score"`
	Error        string     `json:"error,omitempty"`
	StartedAt    time.Time  `json:"started_at"`
	EndedAt      *time.Time `json:"ended_at,omitempty"`
}

func toRunOut(r *models.Run) runOut {
	return runOut{
		ID:           r.ID,
		ScoreFile:    r.ScoreFile,
		RepoURL:      r.RepoURL,
		BuildCmd:     r.BuildCmd,
		SourceCommit: r.SourceCommit,
		GatePolicy:   r.GatePolicy,
		Status:       string(r.Status),
		Score:        r.Score,
		Error:        r.Error,
		StartedAt:    r.StartedAt,
		EndedAt:      r.EndedAt,
	}
}

func jsonResult(v any) (*mcp.CallToolResult, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("failed to marshal result: %v", err)), nil
	}
	return mcp.NewToolResultText(string(data)), nil
}
