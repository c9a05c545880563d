package http

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"go.uber.org/zap"

	"quiz-resume-service/internal/app"
	"quiz-resume-service/internal/domain"
)

// Handler exposes the quiz session operations as JSON endpoints under
// /api/quizzes/{quizID}.
type Handler struct {
	service *app.QuizService
	logger  *zap.Logger
}

func NewHandler(service *app.QuizService, logger *zap.Logger) *Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Handler{service: service, logger: logger}
}

// Register mounts the endpoints on mux.
func (h *Handler) Register(mux *http.ServeMux) {
	mux.HandleFunc("POST /api/quizzes/{quizID}/start", h.start)
	mux.HandleFunc("POST /api/quizzes/{quizID}/resume-progress", h.resumeProgress)
	mux.HandleFunc("GET /api/quizzes/{quizID}/session", h.session)
	mux.HandleFunc("POST /api/quizzes/{quizID}/answers", h.answer)
	mux.HandleFunc("POST /api/quizzes/{quizID}/advance", h.advance)
	mux.HandleFunc("POST /api/quizzes/{quizID}/complete", h.complete)
	mux.HandleFunc("POST /api/quizzes/{quizID}/reset", h.reset)
	mux.HandleFunc("POST /api/quizzes/{quizID}/sign-in", h.signIn)
	mux.HandleFunc("GET /api/quizzes/{quizID}/return", h.returnFromAuth)
	mux.HandleFunc("POST /api/quizzes/{quizID}/retry", h.retry)
}

type answerRequest struct {
	Index       int      `json:"index"`
	Value       string   `json:"value"`
	TimeSpentMS int64    `json:"timeSpentMs"`
	IsCorrect   bool     `json:"isCorrect"`
	Similarity  *float64 `json:"similarity,omitempty"`
}

type advanceRequest struct {
	Delta int `json:"delta"`
}

type completeRequest struct {
	Answers []*answerRequest `json:"answers"`
	Score   *int             `json:"score,omitempty"`
}

type signInRequest struct {
	RedirectPath string `json:"redirectPath"`
}

type signInResponse struct {
	Location string       `json:"location,omitempty"`
	Session  app.Snapshot `json:"session"`
}

type resumeResponse struct {
	Restored bool         `json:"restored"`
	Session  app.Snapshot `json:"session"`
}

type errorResponse struct {
	Error   string        `json:"error"`
	Session *app.Snapshot `json:"session,omitempty"`
}

func (h *Handler) start(w http.ResponseWriter, r *http.Request) {
	snap, err := h.service.Start(r.Context(), DeviceID(r.Context()), r.PathValue("quizID"))
	h.respond(w, snap, err)
}

func (h *Handler) resumeProgress(w http.ResponseWriter, r *http.Request) {
	snap, restored, err := h.service.ResumeProgress(r.Context(), DeviceID(r.Context()), r.PathValue("quizID"))
	if err != nil {
		h.fail(w, err, &snap)
		return
	}
	writeJSON(w, http.StatusOK, resumeResponse{Restored: restored, Session: snap})
}

func (h *Handler) session(w http.ResponseWriter, r *http.Request) {
	session, err := h.service.Session(DeviceID(r.Context()), r.PathValue("quizID"))
	if err != nil {
		h.fail(w, err, nil)
		return
	}
	writeJSON(w, http.StatusOK, session.Snapshot())
}

func (h *Handler) answer(w http.ResponseWriter, r *http.Request) {
	var req answerRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.fail(w, errBadRequest, nil)
		return
	}
	snap, err := h.service.RecordAnswer(r.Context(), DeviceID(r.Context()), r.PathValue("quizID"), req.Index, app.AnswerInput{
		Value:      req.Value,
		TimeSpent:  time.Duration(req.TimeSpentMS) * time.Millisecond,
		IsCorrect:  req.IsCorrect,
		Similarity: req.Similarity,
	})
	h.respond(w, snap, err)
}

func (h *Handler) advance(w http.ResponseWriter, r *http.Request) {
	var req advanceRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.fail(w, errBadRequest, nil)
		return
	}
	snap, err := h.service.Advance(r.Context(), DeviceID(r.Context()), r.PathValue("quizID"), req.Delta)
	h.respond(w, snap, err)
}

func (h *Handler) complete(w http.ResponseWriter, r *http.Request) {
	var req completeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.fail(w, errBadRequest, nil)
		return
	}
	var answers []*domain.Answer
	if req.Answers != nil {
		answers = make([]*domain.Answer, len(req.Answers))
		for i, a := range req.Answers {
			if a == nil {
				continue
			}
			answers[i] = &domain.Answer{
				Value:      a.Value,
				TimeSpent:  time.Duration(a.TimeSpentMS) * time.Millisecond,
				IsCorrect:  a.IsCorrect,
				Similarity: a.Similarity,
			}
		}
	}
	snap, err := h.service.Complete(r.Context(), DeviceID(r.Context()), r.PathValue("quizID"), answers, req.Score)
	h.respond(w, snap, err)
}

func (h *Handler) reset(w http.ResponseWriter, r *http.Request) {
	snap, err := h.service.Reset(r.Context(), DeviceID(r.Context()), r.PathValue("quizID"))
	h.respond(w, snap, err)
}

func (h *Handler) signIn(w http.ResponseWriter, r *http.Request) {
	var req signInRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.fail(w, errBadRequest, nil)
		return
	}
	quizID := r.PathValue("quizID")
	if req.RedirectPath == "" {
		req.RedirectPath = "/quiz/" + quizID
	}
	location, snap, err := h.service.RequireAuthentication(r.Context(), DeviceID(r.Context()), quizID, req.RedirectPath)
	if err != nil {
		h.fail(w, err, &snap)
		return
	}
	writeJSON(w, http.StatusOK, signInResponse{Location: location, Session: snap})
}

// returnFromAuth handles the navigation back from the sign-in page. The
// client passes its current URL as returnTo.
func (h *Handler) returnFromAuth(w http.ResponseWriter, r *http.Request) {
	quizID := r.PathValue("quizID")
	returnTo := r.URL.Query().Get("returnTo")
	out, err := h.service.ReturnFromAuth(r.Context(), DeviceID(r.Context()), quizID, returnTo)
	if err != nil {
		h.fail(w, err, nil)
		return
	}
	writeJSON(w, http.StatusOK, out)
}

func (h *Handler) retry(w http.ResponseWriter, r *http.Request) {
	out, err := h.service.RetryLoadingResults(r.Context(), DeviceID(r.Context()), r.PathValue("quizID"))
	if err != nil {
		h.fail(w, err, nil)
		return
	}
	if errors.Is(out.Err, domain.ErrNotAuthenticated) {
		writeJSON(w, http.StatusUnauthorized, out)
		return
	}
	writeJSON(w, http.StatusOK, out)
}

func (h *Handler) respond(w http.ResponseWriter, snap app.Snapshot, err error) {
	if err != nil {
		h.fail(w, err, &snap)
		return
	}
	writeJSON(w, http.StatusOK, snap)
}

var errBadRequest = errors.New("invalid request body")

func (h *Handler) fail(w http.ResponseWriter, err error, snap *app.Snapshot) {
	status := statusFor(err)
	if status >= http.StatusInternalServerError {
		h.logger.Error("request failed", zap.Int("status", status), zap.Error(err))
	}
	resp := errorResponse{Error: err.Error()}
	if snap != nil && snap.QuizID != "" {
		resp.Session = snap
	}
	writeJSON(w, status, resp)
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, errBadRequest):
		return http.StatusBadRequest
	case errors.Is(err, domain.ErrQuizIDMissing),
		errors.Is(err, domain.ErrQuizNotFound),
		errors.Is(err, domain.ErrSessionNotFound):
		return http.StatusNotFound
	case errors.Is(err, domain.ErrNoQuestions),
		errors.Is(err, domain.ErrUnknownQuizType),
		errors.Is(err, domain.ErrIndexOutOfRange),
		errors.Is(err, domain.ErrInvalidAnswers),
		errors.Is(err, domain.ErrNoAnswersSubmitted):
		return http.StatusUnprocessableEntity
	case errors.Is(err, domain.ErrSessionLocked):
		return http.StatusConflict
	case errors.Is(err, domain.ErrNotAuthenticated):
		return http.StatusUnauthorized
	case errors.Is(err, domain.ErrSaveFailed):
		return http.StatusBadGateway
	}
	return http.StatusInternalServerError
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
