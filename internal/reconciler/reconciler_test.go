package reconciler

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"clubsync/internal/credentials"
	"clubsync/internal/database"
	"clubsync/internal/fitness"
	"clubsync/internal/notify"
	"clubsync/internal/secrets"
)

const (
	testUserID    = int64(1)
	testChatID    = int64(100)
	testAthleteID = int64(42)
)

// fakeProvider is an httptest-backed provider API. Activities are served by
// id; ids in failWith return that status instead.
type fakeProvider struct {
	mu         sync.Mutex
	activities map[int64]map[string]any
	failWith   map[int64]int
	hits       atomic.Int64
	server     *httptest.Server
}

func newFakeProvider(t *testing.T) *fakeProvider {
	t.Helper()
	p := &fakeProvider{
		activities: make(map[int64]map[string]any),
		failWith:   make(map[int64]int),
	}
	mux := http.NewServeMux()
	mux.HandleFunc("/activities/", func(w http.ResponseWriter, r *http.Request) {
		p.hits.Add(1)
		var id int64
		fmt.Sscanf(r.URL.Path, "/activities/%d", &id)

		p.mu.Lock()
		status, failing := p.failWith[id]
		act, ok := p.activities[id]
		p.mu.Unlock()

		if failing {
			http.Error(w, "provider error", status)
			return
		}
		if !ok {
			http.Error(w, `{"message":"Record Not Found"}`, http.StatusNotFound)
			return
		}
		json.NewEncoder(w).Encode(act)
	})
	mux.HandleFunc("/oauth/token", func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]any{
			"access_token":  "fresh-access",
			"refresh_token": "fresh-refresh",
			"expires_at":    time.Now().Add(6 * time.Hour).Unix(),
			"athlete":       map[string]any{"id": testAthleteID},
		})
	})
	p.server = httptest.NewServer(mux)
	t.Cleanup(p.server.Close)
	return p
}

func (p *fakeProvider) addActivity(id int64, startAt time.Time, distanceMeters float64) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.activities[id] = map[string]any{
		"id":         id,
		"athlete_id": testAthleteID,
		"name":       "Evening Run",
		"sport_type": "Run",
		"start_date": startAt.Format(time.RFC3339),
		"distance":   distanceMeters,
		"url":        fmt.Sprintf("https://provider.example/activities/%d", id),
	}
}

func (p *fakeProvider) fail(id int64, status int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.failWith[id] = status
}

func (p *fakeProvider) recover(id int64) {
	p.mu.Lock()
	defer p.mu.Unlock()
	delete(p.failWith, id)
}

type captureNotifier struct {
	mu   sync.Mutex
	sent []capturedMessage
}

type capturedMessage struct {
	ChatID  int64
	Text    string
	Actions []notify.Action
}

func (c *captureNotifier) Send(_ context.Context, chatID int64, text string, actions []notify.Action) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.sent = append(c.sent, capturedMessage{ChatID: chatID, Text: text, Actions: actions})
	return nil
}

func (c *captureNotifier) messages() []capturedMessage {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]capturedMessage, len(c.sent))
	copy(out, c.sent)
	return out
}

type fixture struct {
	db       *database.DB
	provider *fakeProvider
	notifier *captureNotifier
	rec      *Reconciler
}

func setup(t *testing.T) *fixture {
	t.Helper()

	db, err := database.Open(t.TempDir() + "/test.db")
	if err != nil {
		t.Fatalf("Failed to open database: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	provider := newFakeProvider(t)
	client := fitness.NewClient(fitness.Options{
		BaseURL:      provider.server.URL,
		TokenURL:     provider.server.URL + "/oauth/token",
		ClientID:     "client",
		ClientSecret: "secret",
	})

	cipher, err := secrets.New(bytes.Repeat([]byte{0x42}, 32))
	if err != nil {
		t.Fatalf("Failed to create cipher: %v", err)
	}
	creds := credentials.NewManager(db, cipher, client)

	if err := db.UpsertUser(&database.User{ID: testUserID, ChatID: testChatID, DisplayName: "Runner"}); err != nil {
		t.Fatalf("Failed to seed user: %v", err)
	}

	tok := &fitness.TokenResponse{AccessToken: "access", RefreshToken: "refresh",
		ExpiresAt: time.Now().Add(6 * time.Hour).Unix()}
	tok.Athlete.ID = testAthleteID
	if err := creds.Connect(testUserID, tok); err != nil {
		t.Fatalf("Failed to connect credentials: %v", err)
	}

	notifier := &captureNotifier{}
	return &fixture{
		db:       db,
		provider: provider,
		notifier: notifier,
		rec:      New(db, creds, client, notifier, 5),
	}
}

func (f *fixture) seedActivity(t *testing.T, startAt time.Time, distanceKm *float64, participate bool) *database.Activity {
	t.Helper()
	a := &database.Activity{
		CreatorID:  testUserID,
		Title:      "Morning Run",
		StartAt:    startAt,
		DistanceKm: distanceKm,
		Status:     database.ActivityCompleted,
	}
	if err := f.db.CreateActivity(a); err != nil {
		t.Fatalf("Failed to seed activity: %v", err)
	}
	if participate {
		err := f.db.CreateParticipation(&database.Participation{
			ActivityID: a.ID, UserID: testUserID, Status: database.ParticipationAwaiting,
		})
		if err != nil {
			t.Fatalf("Failed to seed participation: %v", err)
		}
	}
	return a
}

func TestIngestMatchedFlow(t *testing.T) {
	f := setup(t)
	start := time.Date(2026, 3, 10, 8, 0, 0, 0, time.UTC)
	a := f.seedActivity(t, start, nil, true)
	f.provider.addActivity(555111, start.Add(10*time.Minute), 10200)

	if err := f.rec.Ingest(context.Background(), 555111, testAthleteID); err != nil {
		t.Fatalf("Ingest failed: %v", err)
	}

	ev, err := f.db.GetWebhookEventByExternalID(555111)
	if err != nil {
		t.Fatalf("Failed to get event: %v", err)
	}
	if ev.Result != database.WebhookMatched {
		t.Fatalf("Expected matched, got %s (last_error %v)", ev.Result, ev.LastError)
	}

	count, err := f.db.CountPendingMatchesForUserActivity(testUserID, a.ID)
	if err != nil {
		t.Fatalf("Failed to count matches: %v", err)
	}
	if count != 1 {
		t.Fatalf("Expected 1 pending match, got %d", count)
	}

	msgs := f.notifier.messages()
	if len(msgs) != 1 {
		t.Fatalf("Expected 1 proposal message, got %d", len(msgs))
	}
	if msgs[0].ChatID != testChatID {
		t.Errorf("Expected message to chat %d, got %d", testChatID, msgs[0].ChatID)
	}
	if len(msgs[0].Actions) != 2 {
		t.Errorf("Expected confirm and reject actions, got %+v", msgs[0].Actions)
	}
}

func TestIngestIsIdempotent(t *testing.T) {
	f := setup(t)
	start := time.Date(2026, 3, 10, 8, 0, 0, 0, time.UTC)
	a := f.seedActivity(t, start, nil, true)
	f.provider.addActivity(555111, start, 0)

	for i := 0; i < 3; i++ {
		if err := f.rec.Ingest(context.Background(), 555111, testAthleteID); err != nil {
			t.Fatalf("Ingest %d failed: %v", i+1, err)
		}
	}

	// One provider fetch, one pending match, one message
	if hits := f.provider.hits.Load(); hits != 1 {
		t.Errorf("Expected 1 provider fetch, got %d", hits)
	}
	count, err := f.db.CountPendingMatchesForUserActivity(testUserID, a.ID)
	if err != nil {
		t.Fatalf("Failed to count matches: %v", err)
	}
	if count != 1 {
		t.Errorf("Expected 1 pending match, got %d", count)
	}
	if len(f.notifier.messages()) != 1 {
		t.Errorf("Expected 1 message, got %d", len(f.notifier.messages()))
	}
}

func TestIngestNoMatch(t *testing.T) {
	f := setup(t)
	start := time.Date(2026, 3, 10, 8, 0, 0, 0, time.UTC)
	f.seedActivity(t, start, nil, true)
	// Three hours away: outside the window
	f.provider.addActivity(555111, start.Add(3*time.Hour), 0)

	if err := f.rec.Ingest(context.Background(), 555111, testAthleteID); err != nil {
		t.Fatalf("Ingest failed: %v", err)
	}

	ev, _ := f.db.GetWebhookEventByExternalID(555111)
	if ev.Result != database.WebhookNoMatch {
		t.Errorf("Expected no_match, got %s", ev.Result)
	}
	if len(f.notifier.messages()) != 0 {
		t.Errorf("Expected no messages, got %d", len(f.notifier.messages()))
	}
}

func TestIngestDistanceMismatch(t *testing.T) {
	f := setup(t)
	start := time.Date(2026, 3, 10, 8, 0, 0, 0, time.UTC)
	planned := 10.0
	f.seedActivity(t, start, &planned, true)
	// 15.3 km tracked vs 10 km planned: outside the tolerance
	f.provider.addActivity(555111, start, 15300)

	if err := f.rec.Ingest(context.Background(), 555111, testAthleteID); err != nil {
		t.Fatalf("Ingest failed: %v", err)
	}

	ev, _ := f.db.GetWebhookEventByExternalID(555111)
	if ev.Result != database.WebhookNoMatch {
		t.Errorf("Expected no_match, got %s", ev.Result)
	}
}

func TestIngestAlreadyLinked(t *testing.T) {
	f := setup(t)
	start := time.Date(2026, 3, 10, 8, 0, 0, 0, time.UTC)
	a := f.seedActivity(t, start, nil, true)
	f.provider.addActivity(555111, start, 0)

	if _, err := f.db.AttachTrainingLink(a.ID, testUserID, "https://example.com/1", database.LinkSourceManual, nil, nil); err != nil {
		t.Fatalf("Failed to pre-attach link: %v", err)
	}

	if err := f.rec.Ingest(context.Background(), 555111, testAthleteID); err != nil {
		t.Fatalf("Ingest failed: %v", err)
	}

	ev, _ := f.db.GetWebhookEventByExternalID(555111)
	if ev.Result != database.WebhookAlreadyLinked {
		t.Errorf("Expected already_linked, got %s", ev.Result)
	}
}

func TestIngestNotFoundIsTerminal(t *testing.T) {
	f := setup(t)
	// No provider activity registered: 404

	if err := f.rec.Ingest(context.Background(), 999999, testAthleteID); err != nil {
		t.Fatalf("Ingest failed: %v", err)
	}

	ev, _ := f.db.GetWebhookEventByExternalID(999999)
	if ev.Result != database.WebhookNotFound {
		t.Errorf("Expected not_found, got %s", ev.Result)
	}
	if !ev.Terminal() {
		t.Error("Expected not_found to be terminal")
	}
	if ev.RetryCount != 0 {
		t.Errorf("Expected no retries for not_found, got %d", ev.RetryCount)
	}
}

func TestIngestTransientFailureSchedulesRetry(t *testing.T) {
	f := setup(t)
	f.provider.fail(555111, http.StatusInternalServerError)

	if err := f.rec.Ingest(context.Background(), 555111, testAthleteID); err != nil {
		t.Fatalf("Ingest failed: %v", err)
	}

	ev, _ := f.db.GetWebhookEventByExternalID(555111)
	if ev.Result != database.WebhookPendingRetry {
		t.Fatalf("Expected pending_retry, got %s", ev.Result)
	}
	if ev.RetryCount != 1 {
		t.Errorf("Expected retry count 1, got %d", ev.RetryCount)
	}
	if ev.LastError == nil {
		t.Error("Expected last_error recorded")
	}
}

func TestIngestUnknownAthleteIsTransient(t *testing.T) {
	f := setup(t)

	// Athlete 777 is not linked; the user may connect later
	if err := f.rec.Ingest(context.Background(), 555111, 777); err != nil {
		t.Fatalf("Ingest failed: %v", err)
	}

	ev, _ := f.db.GetWebhookEventByExternalID(555111)
	if ev.Result != database.WebhookPendingRetry {
		t.Errorf("Expected pending_retry for unlinked athlete, got %s", ev.Result)
	}
}

func TestSweepRetriesAndRecovers(t *testing.T) {
	f := setup(t)
	start := time.Date(2026, 3, 10, 8, 0, 0, 0, time.UTC)
	a := f.seedActivity(t, start, nil, true)

	// First attempt fails
	f.provider.fail(555111, http.StatusServiceUnavailable)
	if err := f.rec.Ingest(context.Background(), 555111, testAthleteID); err != nil {
		t.Fatalf("Ingest failed: %v", err)
	}

	// The provider recovers; the sweep re-attempts the due event
	f.provider.recover(555111)
	f.provider.addActivity(555111, start, 0)
	f.rec.now = func() time.Time { return time.Now().Add(time.Minute) }

	if err := f.rec.Sweep(context.Background()); err != nil {
		t.Fatalf("Sweep failed: %v", err)
	}

	ev, _ := f.db.GetWebhookEventByExternalID(555111)
	if ev.Result != database.WebhookMatched {
		t.Fatalf("Expected matched after sweep, got %s (last_error %v)", ev.Result, ev.LastError)
	}
	count, _ := f.db.CountPendingMatchesForUserActivity(testUserID, a.ID)
	if count != 1 {
		t.Errorf("Expected 1 pending match, got %d", count)
	}
}

func TestSweepExhaustsRetries(t *testing.T) {
	f := setup(t)
	f.provider.fail(555111, http.StatusInternalServerError)

	if err := f.rec.Ingest(context.Background(), 555111, testAthleteID); err != nil {
		t.Fatalf("Ingest failed: %v", err)
	}

	// Every sweep re-attempts and fails again until the cap. The clock
	// advances past the backoff between sweeps.
	clock := time.Now()
	f.rec.now = func() time.Time { return clock }
	for i := 0; i < 10; i++ {
		clock = clock.Add(2 * time.Hour)
		if err := f.rec.Sweep(context.Background()); err != nil {
			t.Fatalf("Sweep %d failed: %v", i+1, err)
		}
	}

	ev, _ := f.db.GetWebhookEventByExternalID(555111)
	if ev.Result != database.WebhookError {
		t.Fatalf("Expected error after exhaustion, got %s", ev.Result)
	}
	if ev.RetryCount != 5 {
		t.Errorf("Expected retry count at cap 5, got %d", ev.RetryCount)
	}
}

func TestConfirmPendingMatch(t *testing.T) {
	f := setup(t)
	start := time.Date(2026, 3, 10, 8, 0, 0, 0, time.UTC)
	a := f.seedActivity(t, start, nil, true)
	if err := f.db.CreatePostTrainingNotification(a.ID, testUserID, start.Add(time.Hour)); err != nil {
		t.Fatalf("Failed to seed notification: %v", err)
	}

	pm := &database.PendingMatch{
		UserID:             testUserID,
		ActivityID:         a.ID,
		ExternalActivityID: 555111,
		Confidence:         database.PendingConfidenceHigh,
		Payload:            `{"id":555111,"url":"https://provider.example/activities/555111"}`,
	}
	if err := f.db.CreatePendingMatch(pm); err != nil {
		t.Fatalf("Failed to seed pending match: %v", err)
	}

	if err := f.rec.ConfirmPendingMatch(context.Background(), pm.ID); err != nil {
		t.Fatalf("Confirm failed: %v", err)
	}

	p, err := f.db.GetParticipation(a.ID, testUserID)
	if err != nil {
		t.Fatalf("Failed to get participation: %v", err)
	}
	if p.Status != database.ParticipationAttended {
		t.Errorf("Expected attended, got %s", p.Status)
	}
	if !p.HasTrainingLink() {
		t.Fatal("Expected training link attached")
	}
	if *p.LinkURL != "https://provider.example/activities/555111" {
		t.Errorf("Expected provider URL, got %s", *p.LinkURL)
	}
	if p.LinkSource == nil || *p.LinkSource != database.LinkSourceExternalAuto {
		t.Errorf("Expected external_auto source, got %v", p.LinkSource)
	}

	ptn, err := f.db.GetPostTrainingNotification(a.ID, testUserID)
	if err != nil {
		t.Fatalf("Failed to get notification: %v", err)
	}
	if ptn.Status != database.PostTrainingLinkSubmitted {
		t.Errorf("Expected link_submitted, got %s", ptn.Status)
	}

	// A second press finds the match already consumed
	err = f.rec.ConfirmPendingMatch(context.Background(), pm.ID)
	if !errors.Is(err, ErrAlreadyProcessed) {
		t.Errorf("Expected ErrAlreadyProcessed, got %v", err)
	}
}

func TestRejectPendingMatch(t *testing.T) {
	f := setup(t)
	start := time.Date(2026, 3, 10, 8, 0, 0, 0, time.UTC)
	a := f.seedActivity(t, start, nil, true)

	pm := &database.PendingMatch{
		UserID:             testUserID,
		ActivityID:         a.ID,
		ExternalActivityID: 555111,
		Confidence:         database.PendingConfidenceMedium,
		Payload:            `{}`,
	}
	if err := f.db.CreatePendingMatch(pm); err != nil {
		t.Fatalf("Failed to seed pending match: %v", err)
	}

	if err := f.rec.RejectPendingMatch(context.Background(), pm.ID); err != nil {
		t.Fatalf("Reject failed: %v", err)
	}

	// The participation is untouched by a rejection
	p, err := f.db.GetParticipation(a.ID, testUserID)
	if err != nil {
		t.Fatalf("Failed to get participation: %v", err)
	}
	if p.HasTrainingLink() {
		t.Error("Expected no link after rejection")
	}

	err = f.rec.RejectPendingMatch(context.Background(), pm.ID)
	if !errors.Is(err, ErrAlreadyProcessed) {
		t.Errorf("Expected ErrAlreadyProcessed, got %v", err)
	}
}

func TestExpirePendingMatches(t *testing.T) {
	f := setup(t)
	start := time.Date(2026, 3, 10, 8, 0, 0, 0, time.UTC)
	a := f.seedActivity(t, start, nil, true)

	pm := &database.PendingMatch{
		UserID:             testUserID,
		ActivityID:         a.ID,
		ExternalActivityID: 555111,
		Confidence:         database.PendingConfidenceHigh,
		Payload:            `{}`,
		ExpiresAt:          time.Now().Add(-time.Minute),
	}
	if err := f.db.CreatePendingMatch(pm); err != nil {
		t.Fatalf("Failed to seed pending match: %v", err)
	}

	if err := f.rec.ExpirePendingMatches(context.Background()); err != nil {
		t.Fatalf("Expiry failed: %v", err)
	}

	err := f.rec.ConfirmPendingMatch(context.Background(), pm.ID)
	if !errors.Is(err, ErrAlreadyProcessed) {
		t.Errorf("Expected expired match to read as already processed, got %v", err)
	}
}
