package integration_test

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/mux"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/require"

	"github.com/willianmendesf/whatsapp-sender/internal/constants"
	"github.com/willianmendesf/whatsapp-sender/internal/database"
	"github.com/willianmendesf/whatsapp-sender/internal/models"
	"github.com/willianmendesf/whatsapp-sender/internal/service"
	"github.com/willianmendesf/whatsapp-sender/pkg/whatsapp"
	"github.com/willianmendesf/whatsapp-sender/pkg/whatsapp/types"
)

const testSession = "default"

// SentMessage is one send accepted by the fake WAHA server.
type SentMessage struct {
	Endpoint string
	ChatID   string
	Text     string
	Caption  string
	Mimetype string
	Mentions []string
}

// FakeWAHA serves the subset of the WAHA API the sender talks to.
type FakeWAHA struct {
	mu        sync.Mutex
	server    *httptest.Server
	status    types.SessionStatus
	known     map[string]bool
	groups    map[string]string
	contacts  []types.Contact
	failSends map[string]bool
	sent      []SentMessage
	requests  map[string]int
}

func newFakeWAHA(status types.SessionStatus) *FakeWAHA {
	f := &FakeWAHA{
		status:    status,
		known:     make(map[string]bool),
		groups:    make(map[string]string),
		failSends: make(map[string]bool),
		requests:  make(map[string]int),
	}

	r := mux.NewRouter()
	r.HandleFunc("/api/sessions/{name}/start", f.handleStart).Methods(http.MethodPost)
	r.HandleFunc("/api/sessions/{name}/logout", f.handleOK).Methods(http.MethodPost)
	r.HandleFunc("/api/sessions/{name}", f.handleSession).Methods(http.MethodGet)
	r.HandleFunc("/api/contacts/check-exists", f.handleCheckExists).Methods(http.MethodGet)
	r.HandleFunc("/api/contacts/all", f.handleContacts).Methods(http.MethodGet)
	r.HandleFunc("/api/{name}/groups/{id}", f.handleGroup).Methods(http.MethodGet)
	for _, endpoint := range []string{"/api/sendText", "/api/sendImage", "/api/sendFile", "/api/sendVoice"} {
		r.HandleFunc(endpoint, f.handleSend).Methods(http.MethodPost)
	}

	f.server = httptest.NewServer(f.count(r))
	return f
}

func (f *FakeWAHA) URL() string { return f.server.URL }

func (f *FakeWAHA) Close() { f.server.Close() }

// SetStatus changes the status reported for the session.
func (f *FakeWAHA) SetStatus(status types.SessionStatus) {
	f.mu.Lock()
	f.status = status
	f.mu.Unlock()
}

// AddNumber registers a phone number as existing on WhatsApp.
func (f *FakeWAHA) AddNumber(number string) {
	f.mu.Lock()
	f.known[number] = true
	f.mu.Unlock()
}

// AddGroup registers a group chat id.
func (f *FakeWAHA) AddGroup(chatID, subject string) {
	f.mu.Lock()
	f.groups[chatID] = subject
	f.mu.Unlock()
}

// AddContact adds a contact for mention resolution.
func (f *FakeWAHA) AddContact(c types.Contact) {
	f.mu.Lock()
	f.contacts = append(f.contacts, c)
	f.mu.Unlock()
}

// FailSendsTo makes every send to chatID answer with a server error.
func (f *FakeWAHA) FailSendsTo(chatID string) {
	f.mu.Lock()
	f.failSends[chatID] = true
	f.mu.Unlock()
}

// Sent returns the accepted sends in arrival order.
func (f *FakeWAHA) Sent() []SentMessage {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]SentMessage(nil), f.sent...)
}

// Requests returns how many requests hit path.
func (f *FakeWAHA) Requests(path string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.requests[path]
}

func (f *FakeWAHA) count(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		f.mu.Lock()
		f.requests[r.URL.Path]++
		f.mu.Unlock()
		next.ServeHTTP(w, r)
	})
}

func (f *FakeWAHA) handleStart(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusCreated, map[string]string{"name": mux.Vars(r)["name"]})
}

func (f *FakeWAHA) handleOK(w http.ResponseWriter, _ *http.Request) {
	w.WriteHeader(http.StatusOK)
}

func (f *FakeWAHA) handleSession(w http.ResponseWriter, r *http.Request) {
	f.mu.Lock()
	status := f.status
	f.mu.Unlock()
	writeJSON(w, http.StatusOK, types.Session{Name: mux.Vars(r)["name"], Status: status})
}

func (f *FakeWAHA) handleCheckExists(w http.ResponseWriter, r *http.Request) {
	phone := r.URL.Query().Get("phone")
	f.mu.Lock()
	exists := f.known[phone]
	f.mu.Unlock()
	writeJSON(w, http.StatusOK, types.CheckExistsResponse{NumberExists: exists, ChatID: phone + types.IndividualSuffix})
}

func (f *FakeWAHA) handleContacts(w http.ResponseWriter, _ *http.Request) {
	f.mu.Lock()
	contacts := append([]types.Contact{}, f.contacts...)
	f.mu.Unlock()
	writeJSON(w, http.StatusOK, contacts)
}

func (f *FakeWAHA) handleGroup(w http.ResponseWriter, r *http.Request) {
	f.mu.Lock()
	subject, ok := f.groups[mux.Vars(r)["id"]]
	f.mu.Unlock()
	if !ok {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "group not found"})
		return
	}
	writeJSON(w, http.StatusOK, types.GroupInfo{Subject: subject})
}

func (f *FakeWAHA) handleSend(w http.ResponseWriter, r *http.Request) {
	var body struct {
		ChatID   string         `json:"chatId"`
		Text     string         `json:"text"`
		Caption  string         `json:"caption"`
		Mentions []string       `json:"mentions"`
		File     types.FileData `json:"file"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
		return
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failSends[body.ChatID] {
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "send failed"})
		return
	}
	f.sent = append(f.sent, SentMessage{
		Endpoint: r.URL.Path,
		ChatID:   body.ChatID,
		Text:     body.Text,
		Caption:  body.Caption,
		Mimetype: body.File.Mimetype,
		Mentions: body.Mentions,
	})
	writeJSON(w, http.StatusCreated, map[string]string{"id": fmt.Sprintf("true_%s_%d", body.ChatID, len(f.sent))})
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// TestEnvironment wires the real delivery pipeline against a FakeWAHA.
type TestEnvironment struct {
	t          *testing.T
	ctx        context.Context
	cancel     context.CancelFunc
	WAHA       *FakeWAHA
	DB         *database.Database
	Conn       *service.ConnectionManager
	Gateway    *service.Gateway
	Fallback   *service.FallbackResolver
	Dispatcher *service.Dispatcher
	Webhooks   *service.WebhookHandler
}

// fastPacing keeps the pacing behaviour while letting tests finish quickly.
var fastPacing = service.PacingConfig{
	MinDelay:   time.Millisecond,
	MaxDelay:   3 * time.Millisecond,
	BatchSize:  10,
	BatchPause: 5 * time.Millisecond,
}

// NewTestEnvironment starts a FakeWAHA reporting status and the delivery
// pipeline on top of it. Everything is torn down with the test.
func NewTestEnvironment(t *testing.T, status types.SessionStatus) *TestEnvironment {
	t.Helper()

	logger := logrus.New()
	logger.SetLevel(logrus.WarnLevel)

	waha := newFakeWAHA(status)
	t.Cleanup(waha.Close)

	db, err := database.New(filepath.Join(t.TempDir(), "deliveries.db"), "")
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)

	client := whatsapp.NewClient(types.ClientConfig{
		BaseURL:     waha.URL(),
		SessionName: testSession,
		Timeout:     5 * time.Second,
		RetryCount:  1,
	})

	conn := service.NewConnectionManager(client, logger, service.ReconnectPolicy{Attempts: 1, Delay: time.Hour})
	gateway := service.NewGateway(ctx, conn, client, service.NewPendingBuffer(logger), logger)
	media := service.NewMediaResolver(models.MediaConfig{MaxDownloadMB: 1, DownloadTimeoutSec: 5}, logger)
	fallback := service.NewFallbackResolver(gateway, constants.FallbackModeForward, logger)
	delivery := service.NewDeliveryService(gateway, media, fallback, db, fastPacing, logger)
	dispatcher := service.NewDispatcher(ctx, delivery.Process, fastPacing, logger)

	conn.Start(ctx)

	return &TestEnvironment{
		t:          t,
		ctx:        ctx,
		cancel:     cancel,
		WAHA:       waha,
		DB:         db,
		Conn:       conn,
		Gateway:    gateway,
		Fallback:   fallback,
		Dispatcher: dispatcher,
		Webhooks:   service.NewWebhookHandler(conn, testSession, logger),
	}
}

// Submit queues req and waits for its outcome.
func (e *TestEnvironment) Submit(req *models.SendRequest) models.DispatchOutcome {
	e.t.Helper()

	delivery, err := buildRequest(req)
	require.NoError(e.t, err)

	ctx, cancel := context.WithTimeout(e.ctx, 10*time.Second)
	defer cancel()

	outcome, err := e.Dispatcher.Submit(ctx, delivery)
	require.NoError(e.t, err)
	return outcome
}

// SessionStatusEvent delivers a session.status webhook for status.
func (e *TestEnvironment) SessionStatusEvent(status types.SessionStatus) {
	e.t.Helper()

	payload, err := json.Marshal(types.SessionStatusPayload{Name: testSession, Status: status})
	require.NoError(e.t, err)
	require.NoError(e.t, e.Webhooks.Handle(&types.WebhookEvent{
		Event:     types.EventSessionStatus,
		Session:   testSession,
		Timestamp: time.Now().UnixMilli(),
		Payload:   payload,
	}))
}

// WaitForCondition polls cond until it holds or timeout passes.
func (e *TestEnvironment) WaitForCondition(cond func() bool, timeout time.Duration) bool {
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return true
		}
		time.Sleep(5 * time.Millisecond)
	}
	return cond()
}
