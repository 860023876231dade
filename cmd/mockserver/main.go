// Command mockserver runs a local stand-in for the speech-to-text,
// voice verification and intent endpoints, for trying the client without
// the real backend.
package main

import (
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/skypro1111/voice-intent-client/internal/audio"
)

type transcriptionResponse struct {
	Text     string  `json:"text"`
	Language string  `json:"language"`
	Duration float64 `json:"duration"`
}

type submitRequest struct {
	InteractionID string `json:"interaction_id"`
	Response      string `json:"response"`
}

type mockServer struct {
	logger      *slog.Logger
	transcript  string
	humanInput  bool
	tokenDelay  time.Duration
	verifyToken string

	mu      sync.Mutex
	pending map[string]chan string
}

func main() {
	var (
		addr        = flag.String("addr", ":8080", "address for /stt and /llm endpoints")
		verifyAddr  = flag.String("verify-addr", ":8000", "address for /verify_voice, empty to serve it on -addr only")
		transcript  = flag.String("transcript", "What is the weather like tomorrow?", "text returned by /stt")
		humanInput  = flag.Bool("human-input", false, "ask for a typed answer before replying")
		tokenDelay  = flag.Duration("token-delay", 80*time.Millisecond, "delay between streamed fragments")
		verifyToken = flag.String("verify-token", "", "bearer token accepted by /verify_voice, empty accepts any")
	)
	flag.Parse()

	logger := slog.New(slog.NewTextHandler(os.Stdout, nil))

	s := &mockServer{
		logger:      logger,
		transcript:  *transcript,
		humanInput:  *humanInput,
		tokenDelay:  *tokenDelay,
		verifyToken: *verifyToken,
		pending:     make(map[string]chan string),
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/stt", s.handleTranscribe)
	mux.HandleFunc("/verify_voice", s.handleVerify)
	mux.HandleFunc("/llm/stream", s.handleStream)
	mux.HandleFunc("/llm/submit-input", s.handleSubmit)

	var g errgroup.Group
	for _, a := range []string{*addr, *verifyAddr} {
		if a == "" {
			continue
		}
		g.Go(func() error {
			logger.Info("Mock server listening", slog.String("address", a))
			return http.ListenAndServe(a, mux)
		})
	}

	if err := g.Wait(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.Error("Server failed", slog.Any("error", err))
		os.Exit(1)
	}
}

func (s *mockServer) handleTranscribe(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	if err := r.ParseMultipartForm(10 << 20); err != nil {
		http.Error(w, "Error parsing form", http.StatusBadRequest)
		return
	}

	file, header, err := r.FormFile("file")
	if err != nil {
		http.Error(w, "Error getting audio file", http.StatusBadRequest)
		return
	}
	defer file.Close()

	audioData, err := io.ReadAll(file)
	if err != nil {
		http.Error(w, "Error reading audio file", http.StatusInternalServerError)
		return
	}

	s.logger.Info("Transcription request",
		slog.String("filename", header.Filename),
		slog.String("content_type", header.Header.Get("Content-Type")),
		slog.Int("size", len(audioData)),
		slog.String("language", r.FormValue("language")),
		slog.Bool("authorized", r.Header.Get("Authorization") != ""),
	)

	// Simulate processing time
	time.Sleep(200 * time.Millisecond)

	writeJSON(w, http.StatusOK, transcriptionResponse{
		Text:     s.transcript,
		Language: "en",
		Duration: wavDuration(audioData),
	})
}

func (s *mockServer) handleVerify(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	token := strings.TrimPrefix(r.Header.Get("Authorization"), "Bearer ")
	if token == "" {
		http.Error(w, "Missing token", http.StatusUnauthorized)
		return
	}

	if _, _, err := r.FormFile("file"); err != nil {
		http.Error(w, "Error getting audio file", http.StatusBadRequest)
		return
	}

	verified := s.verifyToken == "" || token == s.verifyToken
	s.logger.Info("Verification request", slog.Bool("verified", verified))

	writeJSON(w, http.StatusOK, map[string]any{"verified": verified})
}

func (s *mockServer) handleStream(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var req struct {
		Intent string `json:"intent"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || strings.TrimSpace(req.Intent) == "" {
		http.Error(w, "Missing intent", http.StatusBadRequest)
		return
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "Streaming unsupported", http.StatusInternalServerError)
		return
	}

	s.logger.Info("Stream request", slog.String("intent", req.Intent))

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	send := func(payload any) {
		data, _ := json.Marshal(payload)
		fmt.Fprintf(w, "data: %s\n\n", data)
		flusher.Flush()
	}

	answer := fmt.Sprintf("You asked: %q. Here is a mock answer streamed word by word.", req.Intent)

	if s.humanInput {
		id := uuid.NewString()
		ch := make(chan string, 1)
		s.mu.Lock()
		s.pending[id] = ch
		s.mu.Unlock()
		defer func() {
			s.mu.Lock()
			delete(s.pending, id)
			s.mu.Unlock()
		}()

		send(map[string]any{
			"type": "HUMAN_INPUT_REQUIRED",
			"data": map[string]string{
				"interaction_id": id,
				"question":       "Which city do you mean?",
			},
		})

		select {
		case resp := <-ch:
			answer = fmt.Sprintf("Thanks, using %q. %s", resp, answer)
		case <-time.After(time.Minute):
			send(map[string]string{"text": "No answer received. "})
		case <-r.Context().Done():
			return
		}
	}

	for i, word := range strings.Fields(answer) {
		if i > 0 {
			word = " " + word
		}
		select {
		case <-r.Context().Done():
			return
		case <-time.After(s.tokenDelay):
		}
		send(map[string]string{"text": word})
	}

	fmt.Fprint(w, "data: [DONE]\n\n")
	flusher.Flush()
}

func (s *mockServer) handleSubmit(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var req submitRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid JSON", http.StatusBadRequest)
		return
	}

	s.mu.Lock()
	ch, ok := s.pending[req.InteractionID]
	s.mu.Unlock()
	if !ok {
		http.Error(w, "Unknown interaction", http.StatusNotFound)
		return
	}

	select {
	case ch <- req.Response:
	default:
	}

	s.logger.Info("Human input received",
		slog.String("interaction_id", req.InteractionID),
		slog.String("response", req.Response))

	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func wavDuration(data []byte) float64 {
	info, err := audio.GetWAVInfo(data)
	if err != nil {
		return 0
	}
	return info.Duration.Seconds()
}
