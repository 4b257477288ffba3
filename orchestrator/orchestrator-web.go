package orchestrator

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"github.com/zaporter/logic-grpo/grpo"
	"github.com/zaporter/logic-grpo/store"
)

func setupHeader(w *http.ResponseWriter, isJson bool) {
	(*w).Header().Set("Access-Control-Allow-Origin", "*")
	(*w).Header().Set("Access-Control-Allow-Methods", "GET, OPTIONS")
	(*w).Header().Set("Access-Control-Allow-Headers", "Accept, Content-Type, Content-Length, Accept-Encoding, Authorization")
	if isJson {
		(*w).Header().Set("Content-Type", "application/json; charset=utf-8")
	} else {
		(*w).Header().Set("Content-Type", "text/plain; charset=utf-8")
	}
}

// TrainerStatus is the read-only view of a trainer the status API needs.
type TrainerStatus interface {
	RunID() grpo.RunID
	Stats() grpo.TrainingStats
	LastEvaluation() (grpo.EvaluationSummary, bool)
}

type EvaluationHistory interface {
	History(ctx context.Context, runID grpo.RunID, limit int) ([]store.EvaluationRecord, error)
}

type StatusServer struct {
	trainer TrainerStatus
	// optional
	history EvaluationHistory
	logger  *zerolog.Logger
}

func NewStatusServer(ctx context.Context, trainer TrainerStatus, history EvaluationHistory) *StatusServer {
	logger := zerolog.Ctx(ctx).With().Str("component", "web").Logger()
	return &StatusServer{trainer: trainer, history: history, logger: &logger}
}

type statsResponse struct {
	RunID          grpo.RunID              `json:"run_id"`
	Stats          grpo.TrainingStats      `json:"stats"`
	LastEvaluation *grpo.EvaluationSummary `json:"last_evaluation,omitempty"`
}

func (s *StatusServer) writeJSON(w http.ResponseWriter, v any) {
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.logger.Error().Err(err).Msg("encoding response")
	}
}

func (s *StatusServer) RegisterHandlers(mux *http.ServeMux) {
	mux.HandleFunc("GET /api/ping", func(w http.ResponseWriter, r *http.Request) {
		setupHeader(&w, false)
		w.Write([]byte("pong"))
	})

	mux.HandleFunc("GET /api/stats", func(w http.ResponseWriter, r *http.Request) {
		setupHeader(&w, true)
		response := statsResponse{
			RunID: s.trainer.RunID(),
			Stats: s.trainer.Stats(),
		}
		if summary, ok := s.trainer.LastEvaluation(); ok {
			response.LastEvaluation = &summary
		}
		s.writeJSON(w, response)
	})

	// ?run=all lists every run. Defaults to the current run and 50 records.
	mux.HandleFunc("GET /api/evaluations", func(w http.ResponseWriter, r *http.Request) {
		setupHeader(&w, true)
		if s.history == nil {
			http.Error(w, "evaluation history is not configured", http.StatusNotFound)
			return
		}
		runID := s.trainer.RunID()
		switch run := r.URL.Query().Get("run"); run {
		case "":
		case "all":
			runID = ""
		default:
			runID = grpo.RunID(run)
		}
		limit := 50
		if raw := r.URL.Query().Get("limit"); raw != "" {
			parsed, err := strconv.Atoi(raw)
			if err != nil || parsed <= 0 {
				http.Error(w, "limit must be a positive integer", http.StatusBadRequest)
				return
			}
			limit = parsed
		}
		records, err := s.history.History(r.Context(), runID, limit)
		if err != nil {
			s.logger.Error().Err(err).Msg("reading evaluation history")
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		if records == nil {
			records = []store.EvaluationRecord{}
		}
		s.writeJSON(w, records)
	})

	mux.Handle("GET /metrics", promhttp.Handler())
}
