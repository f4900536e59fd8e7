package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/willianmendesf/whatsapp-sender/internal/constants"
	apperrors "github.com/willianmendesf/whatsapp-sender/internal/errors"
	"github.com/willianmendesf/whatsapp-sender/internal/logfile"
	"github.com/willianmendesf/whatsapp-sender/internal/models"
	"github.com/willianmendesf/whatsapp-sender/internal/privacy"
	"github.com/willianmendesf/whatsapp-sender/internal/service"
	"github.com/willianmendesf/whatsapp-sender/internal/tracing"
	"github.com/willianmendesf/whatsapp-sender/internal/validation"
	"github.com/willianmendesf/whatsapp-sender/pkg/whatsapp/types"
)

const (
	msgInvalidJSON       = "Invalid JSON body."
	msgBodyTooLarge      = "Request body too large."
	msgPrimaryFailed     = "Failed to send primary message."
	msgDispatchFailed    = "Failed to dispatch message."
	msgSessionCleared    = "Session cleared. Scan the new QR code at /login."
	msgSessionClearError = "Failed to clear session."
	msgLogUnavailable    = "Log file not available."

	defaultDeliveriesLimit = 50
	maxLogHistoryLines     = 5000
	maxWebhookBodyBytes    = 1 << 20
	healthCheckTimeout     = 2 * time.Second
)

type errorResponse struct {
	Error string `json:"error"`
}

type statusResponse struct {
	Status string `json:"status"`
}

type fallbackResultResponse struct {
	Number string `json:"number"`
	Status string `json:"status"`
}

type partialFailureResponse struct {
	Error           string                   `json:"error"`
	FallbackResults []fallbackResultResponse `json:"fallbackResults"`
	Message         string                   `json:"message,omitempty"`
}

type failureResponse struct {
	Error   string `json:"error"`
	Details string `json:"details"`
}

func writeJSON(w http.ResponseWriter, status int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, errorResponse{Error: message})
}

func (s *Server) requestLogger(r *http.Request) *logrus.Entry {
	return s.logger.WithFields(logrus.Fields{
		service.LogFieldRequestID: tracing.GetRequestID(r.Context()),
		service.LogFieldURL:       r.URL.Path,
	})
}

// handleSend validates a send request, queues it and answers with the
// outcome once the send worker has processed it.
func (s *Server) handleSend() http.HandlerFunc {
	maxBytes := int64(constants.DefaultMaxRequestBodyMB) * constants.BytesPerMegabyte

	return func(w http.ResponseWriter, r *http.Request) {
		log := s.requestLogger(r)

		if err := validation.ValidateHTTPRequestSize(r, maxBytes); err != nil {
			writeError(w, http.StatusRequestEntityTooLarge, apperrors.GetUserMessage(err))
			return
		}
		r.Body = http.MaxBytesReader(w, r.Body, maxBytes)

		var body models.SendRequest
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			var maxErr *http.MaxBytesError
			if errors.As(err, &maxErr) {
				writeError(w, http.StatusRequestEntityTooLarge, msgBodyTooLarge)
				return
			}
			log.WithError(err).Info("Rejected malformed send request")
			writeError(w, http.StatusBadRequest, msgInvalidJSON)
			return
		}

		req, err := validation.BuildDeliveryRequest(&body, time.Now())
		if err != nil {
			apperrors.LogError(log, err, "Rejected send request")
			writeError(w, apperrors.HTTPStatusCode(err), apperrors.GetUserMessage(err))
			return
		}

		// Parked requests wait on readiness and pacing, which can outlast
		// the server write timeout.
		if err := http.NewResponseController(w).SetWriteDeadline(time.Time{}); err != nil && !errors.Is(err, http.ErrNotSupported) {
			log.WithError(err).Debug("Could not clear write deadline")
		}

		outcome, err := s.deps.Queue.Submit(r.Context(), req)
		if err != nil {
			apperrors.LogError(log, err, "Send request abandoned", logrus.Fields{service.LogFieldMessageID: req.ID})
			writeJSON(w, apperrors.HTTPStatusCode(err), failureResponse{Error: msgDispatchFailed, Details: err.Error()})
			return
		}

		writeOutcome(w, req, outcome)
	}
}

func writeOutcome(w http.ResponseWriter, req *models.DeliveryRequest, outcome models.DispatchOutcome) {
	switch outcome.Status {
	case models.DispatchSucceeded:
		writeJSON(w, http.StatusOK, statusResponse{
			Status: fmt.Sprintf("Message sent successfully to %s.", req.TargetType),
		})

	case models.DispatchReportedPartial:
		results := make([]fallbackResultResponse, 0, len(outcome.FallbackResults))
		sent := 0
		for _, res := range outcome.FallbackResults {
			if res.Status == models.FallbackSent {
				sent++
			}
			results = append(results, fallbackResultResponse{Number: res.Identifier, Status: string(res.Status)})
		}
		writeJSON(w, http.StatusMultiStatus, partialFailureResponse{
			Error:           msgPrimaryFailed,
			FallbackResults: results,
			Message:         fmt.Sprintf("%d of %d fallback recipients notified.", sent, len(results)),
		})

	default:
		details := "unknown error"
		if outcome.PrimaryError != nil {
			details = outcome.PrimaryError.Error()
		}
		writeJSON(w, http.StatusInternalServerError, failureResponse{Error: msgPrimaryFailed, Details: details})
	}
}

func (s *Server) handleDeliveries() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		limit := defaultDeliveriesLimit
		if raw := r.URL.Query().Get("limit"); raw != "" {
			n, err := strconv.Atoi(raw)
			if err != nil || n <= 0 {
				writeError(w, http.StatusBadRequest, "limit must be a positive integer.")
				return
			}
			limit = n
		}

		records, err := s.deps.Deliveries.ListRecentDeliveries(r.Context(), limit)
		if err != nil {
			apperrors.LogError(s.requestLogger(r), err, "Failed to list deliveries")
			writeError(w, http.StatusInternalServerError, "Failed to list deliveries.")
			return
		}
		if records == nil {
			records = []models.DeliveryRecord{}
		}

		if !s.verbose {
			for i := range records {
				records[i].ChatID = privacy.MaskChatID(records[i].ChatID)
				for j := range records[i].FallbackResults {
					records[i].FallbackResults[j].Identifier = privacy.MaskPhoneNumber(records[i].FallbackResults[j].Identifier)
				}
			}
		}

		writeJSON(w, http.StatusOK, map[string]interface{}{
			"count":      len(records),
			"deliveries": records,
		})
	}
}

func (s *Server) handleHealth() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), healthCheckTimeout)
		defer cancel()

		snapshot := s.deps.Connection.Snapshot()
		status := "healthy"
		code := http.StatusOK
		checks := map[string]string{"transport": snapshot.State.String(), "database": "ok"}

		if snapshot.State != models.StateReady {
			status = "degraded"
		}
		if err := s.deps.Deliveries.Ping(ctx); err != nil {
			s.requestLogger(r).WithError(err).Warn("Database health check failed")
			checks["database"] = "unavailable"
			status = "unhealthy"
			code = http.StatusServiceUnavailable
		}

		writeJSON(w, code, map[string]interface{}{
			"status": status,
			"checks": checks,
		})
	}
}

func (s *Server) handleAppInfo() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{
			"name":        appName,
			"version":     Version,
			"description": appDescription,
			"buildTime":   BuildTime,
			"commit":      GitCommit,
		})
	}
}

func (s *Server) handleAppStatus() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]interface{}{
			"transport":    s.deps.Connection.Snapshot(),
			"pendingDepth": s.deps.Pending.Pending(),
			"queueDepth":   s.deps.Queue.Depth(),
			"fallbackMode": s.deps.Fallback.Mode(),
		})
	}
}

func (s *Server) handleLogHistory() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		lines := constants.DefaultLogHistoryTail
		if raw := r.URL.Query().Get("lines"); raw != "" {
			n, err := strconv.Atoi(raw)
			if err != nil || n <= 0 {
				writeError(w, http.StatusBadRequest, "lines must be a positive integer.")
				return
			}
			lines = min(n, maxLogHistoryLines)
		}

		tail, err := logfile.Tail(s.cfg.Log.File, lines)
		if errors.Is(err, logfile.ErrNoLogFile) {
			writeError(w, http.StatusNotFound, msgLogUnavailable)
			return
		}
		if err != nil {
			s.requestLogger(r).WithError(err).Error("Failed to read log history")
			writeError(w, http.StatusInternalServerError, "Failed to read log history.")
			return
		}

		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		w.Header().Set("Cache-Control", "no-store")
		w.WriteHeader(http.StatusOK)
		for _, line := range tail {
			_, _ = w.Write([]byte(line + "\n"))
		}
	}
}

// handleLogin serves the pairing QR code while the session waits for
// authentication and a plain status text otherwise.
func (s *Server) handleLogin() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		snapshot := s.deps.Connection.Snapshot()

		switch snapshot.State {
		case models.StateAwaitingAuthentication:
			image, contentType, err := s.deps.QR.GetQRCode(r.Context())
			if err != nil {
				apperrors.LogError(s.requestLogger(r), err, "Failed to fetch QR code")
				writeText(w, http.StatusBadGateway, "Failed to load the QR code, try again shortly.")
				return
			}
			if contentType == "" {
				contentType = "image/png"
			}
			w.Header().Set("Content-Type", contentType)
			w.Header().Set("Cache-Control", "no-store")
			w.WriteHeader(http.StatusOK)
			_, _ = w.Write(image)

		case models.StateReady:
			writeText(w, http.StatusOK, "WhatsApp session is authenticated and ready.")

		case models.StateDisconnected:
			msg := "WhatsApp session is disconnected, reconnecting."
			if snapshot.Exhausted {
				msg = "WhatsApp session is disconnected. Use /clear-session to start a new session."
			}
			writeText(w, http.StatusServiceUnavailable, msg)

		default:
			w.Header().Set("Retry-After", "5")
			writeText(w, http.StatusServiceUnavailable, "WhatsApp session is starting, refresh in a few seconds.")
		}
	}
}

func writeText(w http.ResponseWriter, status int, text string) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(status)
	_, _ = w.Write([]byte(text + "\n"))
}

func (s *Server) handleClearSession() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		log := s.requestLogger(r)
		if err := s.deps.Connection.ClearSession(r.Context()); err != nil {
			apperrors.LogError(log, err, "Failed to clear session")
			writeError(w, http.StatusInternalServerError, msgSessionClearError)
			return
		}
		log.Info("Session cleared by user")
		writeJSON(w, http.StatusOK, statusResponse{Status: msgSessionCleared})
	}
}

func (s *Server) handleWhatsAppWebhook() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		log := s.requestLogger(r)
		r.Body = http.MaxBytesReader(w, r.Body, maxWebhookBodyBytes)

		production := strings.EqualFold(s.cfg.Server.Environment, "production")
		body, err := verifySignature(r, s.cfg.WhatsApp.WebhookSecret, production)
		if err != nil {
			authErr := apperrors.NewAuthError(err.Error())
			apperrors.LogError(log, authErr, "Webhook signature verification failed")
			writeError(w, http.StatusUnauthorized, apperrors.GetUserMessage(authErr))
			return
		}

		var event types.WebhookEvent
		if err := json.Unmarshal(body, &event); err != nil {
			log.WithError(err).Warn("Malformed webhook payload")
			writeError(w, http.StatusBadRequest, msgInvalidJSON)
			return
		}

		if err := s.deps.Webhooks.Handle(&event); err != nil {
			apperrors.LogError(log, err, "Failed to handle webhook event", logrus.Fields{service.LogFieldEvent: event.Event})
			writeError(w, apperrors.HTTPStatusCode(err), "Failed to handle webhook event.")
			return
		}

		writeJSON(w, http.StatusOK, statusResponse{Status: "ok"})
	}
}
