package gateway

import (
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/loqalabs/open-transcribe/internal/history"
	"github.com/loqalabs/open-transcribe/internal/protocol"
	"github.com/loqalabs/open-transcribe/internal/transcribe"
)

const maxMemory = 32 << 20

type healthResponse struct {
	Status      string `json:"status"`
	Message     string `json:"message"`
	Engine      string `json:"engine"`
	ModelLoaded bool   `json:"model_loaded"`
	QueueDepth  int64  `json:"queue_depth"`
}

type transcribeResponse struct {
	ID       string             `json:"id"`
	Text     string             `json:"text"`
	Segments []protocol.Segment `json:"segments"`
}

type recordResponse struct {
	transcribeResponse
	CreatedAt    string  `json:"created_at"`
	Source       string  `json:"source"`
	SampleRate   int     `json:"sample_rate"`
	Channels     int     `json:"channels"`
	BitDepth     int     `json:"bit_depth"`
	AudioSeconds float64 `json:"audio_seconds"`
	LatencyMS    int64   `json:"latency_ms"`
}

type errorResponse struct {
	Error string `json:"error"`
}

// Mount registers the API routes on r.
func (g *Gateway) Mount(r chi.Router) {
	r.Route("/api/v1", func(r chi.Router) {
		r.Get("/health", g.handleHealth)
		r.Post("/transcribe", g.handleTranscribe)
		r.Get("/transcriptions", g.handleList)
		r.Get("/transcriptions/{id}", g.handleGet)
	})
}

// Router returns a standalone router with the API routes.
func (g *Gateway) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	g.Mount(r)
	return r
}

func (g *Gateway) handleHealth(w http.ResponseWriter, _ *http.Request) {
	if !g.tr.Ready() {
		writeJSON(w, http.StatusServiceUnavailable, healthResponse{
			Status:     "unavailable",
			Message:    "Whisper transcription service is shutting down",
			Engine:     g.tr.Engine(),
			QueueDepth: g.tr.QueueDepth(),
		})
		return
	}
	writeJSON(w, http.StatusOK, healthResponse{
		Status:      "ok",
		Message:     "Whisper transcription service is running",
		Engine:      g.tr.Engine(),
		ModelLoaded: true,
		QueueDepth:  g.tr.QueueDepth(),
	})
}

func (g *Gateway) handleTranscribe(w http.ResponseWriter, r *http.Request) {
	if g.maxBody > 0 {
		r.Body = http.MaxBytesReader(w, r.Body, g.maxBody)
	}

	var (
		req transcribe.Request
		err error
	)
	if strings.HasPrefix(r.Header.Get("Content-Type"), "multipart/form-data") {
		req, err = readMultipart(r)
	} else {
		req, err = readRaw(r)
	}
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeJSON(w, http.StatusRequestEntityTooLarge, errorResponse{Error: "Audio payload too large"})
			return
		}
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: err.Error()})
		return
	}

	g.log.Info("received transcription request",
		slog.String("request_id", middleware.GetReqID(r.Context())),
		slog.Int("bytes", len(req.Audio)),
		slog.Int("sample_rate", req.SampleRate),
		slog.Int("channels", req.Channels),
		slog.Int("bit_depth", req.BitDepth),
	)

	res, err := g.Handle(r.Context(), "http", req)
	if err != nil {
		status, msg := errorStatus(err)
		if status == http.StatusInternalServerError {
			g.log.Error("transcription failed", slog.String("request_id", middleware.GetReqID(r.Context())), slogError(err))
		}
		writeJSON(w, status, errorResponse{Error: msg})
		return
	}
	writeJSON(w, http.StatusOK, transcribeResponse{
		ID:       res.ID,
		Text:     res.Output.Combined,
		Segments: toProtocolSegments(res.Output.Segments),
	})
}

func (g *Gateway) handleGet(w http.ResponseWriter, r *http.Request) {
	if g.store == nil {
		writeJSON(w, http.StatusNotFound, errorResponse{Error: "History is disabled"})
		return
	}
	rec, err := g.store.Get(r.Context(), chi.URLParam(r, "id"))
	if errors.Is(err, history.ErrNotFound) {
		writeJSON(w, http.StatusNotFound, errorResponse{Error: "Transcription not found"})
		return
	}
	if err != nil {
		g.log.Error("history lookup failed", slogError(err))
		writeJSON(w, http.StatusInternalServerError, errorResponse{Error: "History lookup failed"})
		return
	}
	writeJSON(w, http.StatusOK, toRecordResponse(rec))
}

func (g *Gateway) handleList(w http.ResponseWriter, r *http.Request) {
	if g.store == nil {
		writeJSON(w, http.StatusOK, []recordResponse{})
		return
	}
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	records, err := g.store.List(r.Context(), limit)
	if err != nil {
		g.log.Error("history list failed", slogError(err))
		writeJSON(w, http.StatusInternalServerError, errorResponse{Error: "History lookup failed"})
		return
	}
	out := make([]recordResponse, len(records))
	for i, rec := range records {
		out[i] = toRecordResponse(rec)
	}
	writeJSON(w, http.StatusOK, out)
}

// readMultipart reads the audio file part and its format fields. Fields that
// are missing or do not parse take the defaults.
func readMultipart(r *http.Request) (transcribe.Request, error) {
	if err := r.ParseMultipartForm(maxMemory); err != nil {
		return transcribe.Request{}, err
	}
	file, _, err := r.FormFile("audio")
	if err != nil {
		return transcribe.Request{}, errors.New("No audio file provided")
	}
	defer file.Close()

	data, err := io.ReadAll(file)
	if err != nil {
		return transcribe.Request{}, err
	}
	return withDefaults(transcribe.Request{
		Audio:      data,
		SampleRate: atoiOrZero(r.FormValue("sample_rate")),
		Channels:   atoiOrZero(r.FormValue("channels")),
		BitDepth:   atoiOrZero(r.FormValue("bit_depth")),
	}), nil
}

// readRaw reads the body as PCM and the format from X-Sample-Rate,
// X-Channels and X-Bit-Depth.
func readRaw(r *http.Request) (transcribe.Request, error) {
	data, err := io.ReadAll(r.Body)
	if err != nil {
		return transcribe.Request{}, err
	}
	return withDefaults(transcribe.Request{
		Audio:      data,
		SampleRate: atoiOrZero(r.Header.Get("X-Sample-Rate")),
		Channels:   atoiOrZero(r.Header.Get("X-Channels")),
		BitDepth:   atoiOrZero(r.Header.Get("X-Bit-Depth")),
	}), nil
}

func atoiOrZero(s string) int {
	n, err := strconv.Atoi(strings.TrimSpace(s))
	if err != nil || n < 0 {
		return 0
	}
	return n
}

// errorStatus maps err to a status code and a client-safe message. Engine
// failures report only the failed operation.
func errorStatus(err error) (int, string) {
	if transcribe.Classify(err) == transcribe.KindClient {
		return http.StatusBadRequest, err.Error()
	}
	var engineErr *transcribe.EngineError
	if errors.As(err, &engineErr) {
		if errors.Is(err, transcribe.ErrEngineUnavailable) {
			return http.StatusServiceUnavailable, "Transcription failed: engine unavailable"
		}
		return http.StatusInternalServerError, "Transcription failed: " + engineErr.Op
	}
	return http.StatusInternalServerError, "Transcription failed"
}

func toRecordResponse(rec history.Record) recordResponse {
	return recordResponse{
		transcribeResponse: transcribeResponse{ID: rec.ID, Text: rec.Text, Segments: rec.Segments},
		CreatedAt:          rec.CreatedAt.Format("2006-01-02T15:04:05.000Z07:00"),
		Source:             rec.Source,
		SampleRate:         rec.SampleRate,
		Channels:           rec.Channels,
		BitDepth:           rec.BitDepth,
		AudioSeconds:       rec.AudioSeconds,
		LatencyMS:          rec.LatencyMS,
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
