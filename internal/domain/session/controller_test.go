package session_test

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"os"
	"path/filepath"
	"reflect"
	"sort"
	"sync/atomic"
	"testing"
	"time"

	"github.com/kr/pretty"

	"botpanel/internal/adapters/panelapi"
	"botpanel/internal/adapters/panelapi/apitest"
	"botpanel/internal/domain/panel"
	"botpanel/internal/domain/session"
	"botpanel/internal/infra/storage"
)

var (
	creds     = session.Credentials{Username: "admin", Password: "secret"}
	testToken = panelapi.BasicToken("admin", "secret")
	yes       = func(string, string) bool { return true }
	no        = func(string, string) bool { return false }
)

func newController(t *testing.T, backend *apitest.Backend, store storage.TokenStore, opts session.Options) *session.Controller {
	t.Helper()
	if opts.PollInterval == 0 {
		opts.PollInterval = time.Hour
	}
	ctrl, _ := session.Wire(panelapi.Options{BaseURL: backend.URL(), RPS: 1000}, store, opts)
	t.Cleanup(ctrl.Dispose)
	return ctrl
}

func loggedIn(t *testing.T, backend *apitest.Backend, opts session.Options) (*session.Controller, *storage.MemoryTokenStore) {
	t.Helper()
	store := storage.NewMemoryTokenStore("")
	ctrl := newController(t, backend, store, opts)
	if err := ctrl.Login(context.Background(), creds); err != nil {
		t.Fatalf("Login() error = %v", err)
	}
	backend.ResetCalls()
	return ctrl, store
}

func sortedCalls(b *apitest.Backend) []string {
	calls := b.Calls()
	sort.Strings(calls)
	return calls
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(2 * time.Millisecond)
	}
	t.Fatal("condition not met before deadline")
}

func TestStartWithoutTokenMakesNoCalls(t *testing.T) {
	t.Parallel()

	backend := apitest.New(t, testToken)
	ctrl := newController(t, backend, storage.NewMemoryTokenStore(""), session.Options{})

	if err := ctrl.Start(context.Background()); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	stop := ctrl.ScheduleRefresh(5 * time.Millisecond)
	time.Sleep(40 * time.Millisecond)
	stop()

	if snap := ctrl.Snapshot(); snap.View != session.Unauthenticated {
		t.Fatalf("View = %v, want unauthenticated", snap.View)
	}
	if calls := backend.Calls(); len(calls) != 0 {
		t.Fatalf("unexpected API calls without token: %v", calls)
	}
	if err := ctrl.RefreshAll(context.Background()); !errors.Is(err, session.ErrNotAuthenticated) {
		t.Fatalf("RefreshAll() error = %v", err)
	}
}

func TestStartRestoresSavedSession(t *testing.T) {
	t.Parallel()

	backend := apitest.New(t, testToken)
	ctrl := newController(t, backend, storage.NewMemoryTokenStore(testToken), session.Options{})

	if err := ctrl.Start(context.Background()); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	if backend.Count("POST /api/auth") != 0 {
		t.Fatal("restored session must not re-authenticate")
	}
	snap := ctrl.Snapshot()
	if snap.View != session.LoginComplete || snap.Draft == nil || snap.Status == nil {
		t.Fatalf("snapshot after restore: %# v", pretty.Formatter(snap))
	}
}

func TestLoginLoadsEverything(t *testing.T) {
	t.Parallel()

	backend := apitest.New(t, testToken)
	store := storage.NewMemoryTokenStore("")
	ctrl := newController(t, backend, store, session.Options{})

	if err := ctrl.Login(context.Background(), creds); err != nil {
		t.Fatalf("Login() error = %v", err)
	}

	want := []string{"GET /api/bot-status", "GET /api/config", "GET /api/history", "GET /api/status", "POST /api/auth"}
	if got := sortedCalls(backend); !reflect.DeepEqual(got, want) {
		t.Fatalf("calls = %v, want %v", got, want)
	}
	if token, _ := store.Load(); token != testToken {
		t.Fatalf("stored token = %q", token)
	}

	snap := ctrl.Snapshot()
	if snap.View != session.LoginComplete {
		t.Fatalf("View = %v", snap.View)
	}
	if snap.Loading || snap.Error != "" || snap.Dirty {
		t.Fatalf("unexpected flags: %# v", pretty.Formatter(snap))
	}
	if len(snap.History) != 2 || snap.History[0].Status != panel.HistorySuccess {
		t.Fatalf("history = %v", snap.History)
	}
}

func TestLoginInvalidCredentials(t *testing.T) {
	t.Parallel()

	backend := apitest.New(t, testToken)
	store := storage.NewMemoryTokenStore("")
	ctrl := newController(t, backend, store, session.Options{})

	err := ctrl.Login(context.Background(), session.Credentials{Username: "admin", Password: "wrong"})
	if !errors.Is(err, session.ErrInvalidCredentials) {
		t.Fatalf("Login() error = %v", err)
	}
	if ctrl.Snapshot().View != session.Unauthenticated {
		t.Fatal("failed login must stay unauthenticated")
	}
	if token, _ := store.Load(); token != "" {
		t.Fatalf("token stored after failed login: %q", token)
	}
	if want := []string{"POST /api/auth"}; !reflect.DeepEqual(backend.Calls(), want) {
		t.Fatalf("calls = %v", backend.Calls())
	}
}

func TestUnauthorizedClearsSession(t *testing.T) {
	t.Parallel()

	backend := apitest.New(t, testToken)
	var expired atomic.Int64
	ctrl, store := loggedIn(t, backend, session.Options{OnExpired: func() { expired.Add(1) }})

	backend.SetToken("cm90YXRlZA==")
	if err := ctrl.RefreshAll(context.Background()); !errors.Is(err, session.ErrNotAuthenticated) {
		t.Fatalf("RefreshAll() error = %v", err)
	}

	snap := ctrl.Snapshot()
	if snap.View != session.Unauthenticated || snap.Draft != nil || snap.History != nil {
		t.Fatalf("state after 401: %# v", pretty.Formatter(snap))
	}
	if token, _ := store.Load(); token != "" {
		t.Fatalf("token not cleared: %q", token)
	}
	if expired.Load() != 1 {
		t.Fatalf("OnExpired calls = %d, want 1", expired.Load())
	}

	// Дальше запросов без токена нет.
	backend.ResetCalls()
	_ = ctrl.RefreshAll(context.Background())
	if calls := backend.Calls(); len(calls) != 0 {
		t.Fatalf("calls after expiry: %v", calls)
	}
}

func TestOtherErrorsKeepSession(t *testing.T) {
	t.Parallel()

	backend := apitest.New(t, testToken)
	ctrl, store := loggedIn(t, backend, session.Options{})

	backend.Fail("GET /api/status", http.StatusForbidden, "nope")
	backend.Fail("GET /api/history", http.StatusInternalServerError, "db locked")
	if err := ctrl.RefreshAll(context.Background()); err != nil {
		t.Fatalf("RefreshAll() error = %v", err)
	}

	snap := ctrl.Snapshot()
	if snap.View != session.LoginComplete {
		t.Fatalf("View = %v, session must survive non-401 errors", snap.View)
	}
	if snap.Error != "Failed to fetch bot status" {
		t.Fatalf("Error = %q", snap.Error)
	}
	if len(snap.History) != 2 {
		t.Fatal("history failure must keep the previous feed")
	}
	if token, _ := store.Load(); token != testToken {
		t.Fatal("token cleared on non-401 error")
	}

	backend.Heal("GET /api/status")
	_ = ctrl.RefreshAll(context.Background())
	if snap := ctrl.Snapshot(); snap.Error != "" {
		t.Fatalf("Error after recovery = %q", snap.Error)
	}
}

func TestConfigFetchFailureSurfaced(t *testing.T) {
	t.Parallel()

	backend := apitest.New(t, testToken)
	backend.Fail("GET /api/config", http.StatusInternalServerError, "boom")
	ctrl := newController(t, backend, storage.NewMemoryTokenStore(""), session.Options{})
	if err := ctrl.Login(context.Background(), creds); err != nil {
		t.Fatalf("Login() error = %v", err)
	}

	snap := ctrl.Snapshot()
	if snap.Error != "Failed to fetch configuration" || snap.Loading || snap.Draft != nil {
		t.Fatalf("snapshot: %# v", pretty.Formatter(snap))
	}
	if err := ctrl.MutateConfigField(panel.KeyAddFee, 10); !errors.Is(err, session.ErrNoDraft) {
		t.Fatalf("MutateConfigField() error = %v", err)
	}
}

func TestPollingAndDisposer(t *testing.T) {
	t.Parallel()

	backend := apitest.New(t, testToken)
	ctrl, _ := loggedIn(t, backend, session.Options{PollInterval: 5 * time.Millisecond})

	waitFor(t, func() bool { return backend.Count("GET /api/status") >= 2 && backend.Count("GET /api/history") >= 2 })
	if backend.Count("GET /api/config") != 0 {
		t.Fatal("poll tick must not refetch configuration")
	}

	stop := ctrl.ScheduleRefresh(5 * time.Millisecond)
	stop()
	after := len(backend.Calls())
	time.Sleep(40 * time.Millisecond)
	if got := len(backend.Calls()); got != after {
		t.Fatalf("calls after disposer: %d -> %d", after, got)
	}
}

func TestLogoutDropsLateResults(t *testing.T) {
	t.Parallel()

	backend := apitest.New(t, testToken)
	ctrl, _ := loggedIn(t, backend, session.Options{})
	backend.SetStatus(panel.BotStatus{Status: panel.BotInactive, Message: "late"})

	reached := make(chan struct{})
	release := make(chan struct{})
	var once atomic.Bool
	backend.OnRequest(func(route string) {
		if route == "GET /api/status" && once.CompareAndSwap(false, true) {
			close(reached)
			<-release
		}
	})

	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = ctrl.RefreshAll(context.Background())
	}()

	<-reached
	ctrl.Logout()
	close(release)
	<-done

	snap := ctrl.Snapshot()
	if snap.View != session.Unauthenticated || snap.Status != nil {
		t.Fatalf("late response applied after logout: %# v", pretty.Formatter(snap))
	}
}

func TestMutateConfigFieldLastWriteWins(t *testing.T) {
	t.Parallel()

	backend := apitest.New(t, testToken)
	ctrl, _ := loggedIn(t, backend, session.Options{})

	for _, v := range []int{5, 7, 9} {
		if err := ctrl.MutateConfigField(panel.KeyIntervalMinutes, v); err != nil {
			t.Fatalf("MutateConfigField() error = %v", err)
		}
	}
	if err := ctrl.MutateConfigField("nope", 1); !errors.Is(err, panel.ErrUnknownField) {
		t.Fatalf("unknown field error = %v", err)
	}

	snap := ctrl.Snapshot()
	if snap.Draft.IntervalMinutes != 9 || !snap.Dirty {
		t.Fatalf("draft = %+v dirty=%v", snap.Draft, snap.Dirty)
	}
	if calls := backend.Calls(); len(calls) != 0 {
		t.Fatalf("draft mutation hit the network: %v", calls)
	}
}

func TestSaveUnmodifiedDraftRoundTrip(t *testing.T) {
	t.Parallel()

	backend := apitest.New(t, testToken)
	ctrl, _ := loggedIn(t, backend, session.Options{})

	notice := ctrl.SaveConfig(context.Background(), yes)
	if notice.Level != session.LevelSuccess || notice.Text != "All settings updated" {
		t.Fatalf("notice = %+v", notice)
	}
	if got := string(backend.LastBody("POST /api/config/bulk")); got != apitest.DefaultConfigRaw {
		t.Fatalf("submitted body differs from fetched:\n got %s\nwant %s", got, apitest.DefaultConfigRaw)
	}
}

func TestSaveModifiedDraftRefreshesStatusAndConfig(t *testing.T) {
	t.Parallel()

	backend := apitest.New(t, testToken)
	ctrl, _ := loggedIn(t, backend, session.Options{})

	_ = ctrl.MutateConfigField(panel.KeySourceChannels, panel.ParseChannels("a\nb\n\nc"))
	_ = ctrl.MutateConfigField(panel.KeyIntervalMinutes, 45)

	notice := ctrl.SaveConfig(context.Background(), yes)
	if notice.Level != session.LevelSuccess {
		t.Fatalf("notice = %+v", notice)
	}

	var sent panel.Configuration
	if err := json.Unmarshal(backend.LastBody("POST /api/config/bulk"), &sent); err != nil {
		t.Fatalf("decode submitted body: %v", err)
	}
	if sent.IntervalMinutes != 45 || !reflect.DeepEqual(sent.SourceChannels, []string{"a", "b", "c"}) {
		t.Fatalf("submitted = %+v", sent)
	}

	want := []string{"GET /api/config", "GET /api/status", "POST /api/config/bulk"}
	if got := sortedCalls(backend); !reflect.DeepEqual(got, want) {
		t.Fatalf("calls = %v, want %v", got, want)
	}
	if snap := ctrl.Snapshot(); snap.Dirty || snap.Draft.IntervalMinutes != 45 {
		t.Fatalf("draft after save = %+v dirty=%v", snap.Draft, snap.Dirty)
	}
}

func TestSaveFailureKeepsDraftAndSkipsRefresh(t *testing.T) {
	t.Parallel()

	backend := apitest.New(t, testToken)
	ctrl, _ := loggedIn(t, backend, session.Options{})
	backend.Fail("POST /api/config/bulk", http.StatusUnprocessableEntity, "interval_minutes: must be >= 1")

	_ = ctrl.MutateConfigField(panel.KeyIntervalMinutes, 0)
	before := ctrl.Snapshot().Draft

	notice := ctrl.SaveConfig(context.Background(), yes)
	if notice.Level != session.LevelError || notice.Text != "Failed to update settings" {
		t.Fatalf("notice = %+v", notice)
	}
	var reqErr *panelapi.RequestError
	if !errors.As(notice.Err, &reqErr) || reqErr.Status != http.StatusUnprocessableEntity {
		t.Fatalf("notice error = %v", notice.Err)
	}

	snap := ctrl.Snapshot()
	if !reflect.DeepEqual(snap.Draft, before) || !snap.Dirty {
		t.Fatalf("draft changed after failed save: %v", pretty.Diff(snap.Draft, before))
	}
	if want := []string{"POST /api/config/bulk"}; !reflect.DeepEqual(backend.Calls(), want) {
		t.Fatalf("calls = %v, want only the save", backend.Calls())
	}
}

func TestSaveAndResetDeclined(t *testing.T) {
	t.Parallel()

	backend := apitest.New(t, testToken)
	ctrl, _ := loggedIn(t, backend, session.Options{})

	var asked []string
	confirm := func(title, _ string) bool {
		asked = append(asked, title)
		return no(title, "")
	}
	if n := ctrl.SaveConfig(context.Background(), confirm); !n.IsZero() {
		t.Fatalf("declined save notice = %+v", n)
	}
	if n := ctrl.ResetHistory(context.Background(), confirm); !n.IsZero() {
		t.Fatalf("declined reset notice = %+v", n)
	}
	if want := []string{"Save settings", "Reset database"}; !reflect.DeepEqual(asked, want) {
		t.Fatalf("confirm titles = %v", asked)
	}
	if calls := backend.Calls(); len(calls) != 0 {
		t.Fatalf("declined actions hit the network: %v", calls)
	}
}

func TestToggleRefreshesStatusConfigHistory(t *testing.T) {
	t.Parallel()

	backend := apitest.New(t, testToken)
	ctrl, _ := loggedIn(t, backend, session.Options{})

	notice := ctrl.ToggleBot(context.Background())
	if notice.Level != session.LevelSuccess || notice.Text != "Bot stopped" {
		t.Fatalf("notice = %+v", notice)
	}
	want := []string{"GET /api/config", "GET /api/history", "GET /api/status", "POST /api/toggle"}
	if got := sortedCalls(backend); !reflect.DeepEqual(got, want) {
		t.Fatalf("calls = %v, want %v", got, want)
	}
	if st := ctrl.Snapshot().Status; st == nil || st.Status != panel.BotInactive {
		t.Fatalf("status after toggle = %+v", st)
	}

	backend.Fail("POST /api/toggle", http.StatusInternalServerError, "x")
	if n := ctrl.ToggleBot(context.Background()); n.Text != "Failed to change bot state" {
		t.Fatalf("failure notice = %+v", n)
	}
}

func TestResetHistoryRefreshesStatusAndHistory(t *testing.T) {
	t.Parallel()

	backend := apitest.New(t, testToken)
	ctrl, _ := loggedIn(t, backend, session.Options{})

	notice := ctrl.ResetHistory(context.Background(), yes)
	if notice.Level != session.LevelSuccess {
		t.Fatalf("notice = %+v", notice)
	}
	want := []string{"GET /api/history", "GET /api/status", "POST /api/reset"}
	if got := sortedCalls(backend); !reflect.DeepEqual(got, want) {
		t.Fatalf("calls = %v, want %v", got, want)
	}
	if h := ctrl.Snapshot().History; len(h) != 0 {
		t.Fatalf("history after reset = %v", h)
	}

	backend.Fail("POST /api/reset", http.StatusInternalServerError, "x")
	if n := ctrl.ResetHistory(context.Background(), yes); n.Text != "Failed to reset database" {
		t.Fatalf("failure notice = %+v", n)
	}
}

func TestProcessAlwaysRefreshesStatus(t *testing.T) {
	t.Parallel()

	backend := apitest.New(t, testToken)
	ctrl, _ := loggedIn(t, backend, session.Options{})

	if n := ctrl.TriggerProcess(context.Background()); n.Level != session.LevelInfo || n.Text != "Processing finished" {
		t.Fatalf("notice = %+v", n)
	}

	backend.ResetCalls()
	backend.Fail("POST /api/process", http.StatusInternalServerError, "x")
	n := ctrl.TriggerProcess(context.Background())
	if n.Level != session.LevelError || n.Text != "Failed to process channels" {
		t.Fatalf("failure notice = %+v", n)
	}
	if backend.Count("GET /api/status") != 1 {
		t.Fatalf("status not refreshed after failed process: %v", backend.Calls())
	}
	if ctrl.Snapshot().Loading {
		t.Fatal("loading flag left set")
	}
}

func TestFollowUpRefreshOutlivesActionContext(t *testing.T) {
	t.Parallel()

	backend := apitest.New(t, testToken)
	ctrl, _ := loggedIn(t, backend, session.Options{})
	backend.OnRequest(func(route string) {
		if route == "POST /api/process" {
			time.Sleep(150 * time.Millisecond)
		}
	})

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	if n := ctrl.TriggerProcess(ctx); n.Level != session.LevelError {
		t.Fatalf("notice = %+v, want error after deadline", n)
	}
	if got := backend.Count("GET /api/status"); got != 1 {
		t.Fatalf("status GETs after process = %d, calls = %v", got, backend.Calls())
	}
	if snap := ctrl.Snapshot(); snap.Error != "" || snap.Status == nil {
		t.Fatalf("snapshot after process deadline: %# v", pretty.Formatter(snap))
	}
}

func TestCanceledRefreshLeavesNoBanner(t *testing.T) {
	t.Parallel()

	backend := apitest.New(t, testToken)
	ctrl, _ := loggedIn(t, backend, session.Options{})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := ctrl.RefreshAll(ctx); err != nil {
		t.Fatalf("RefreshAll() error = %v", err)
	}
	if snap := ctrl.Snapshot(); snap.Error != "" || snap.Loading {
		t.Fatalf("snapshot after canceled refresh: %# v", pretty.Formatter(snap))
	}
}

func TestStatusPollClearsConfigError(t *testing.T) {
	t.Parallel()

	backend := apitest.New(t, testToken)
	ctrl, _ := loggedIn(t, backend, session.Options{})

	backend.Fail("GET /api/config", http.StatusInternalServerError, "boom")
	if n := ctrl.ToggleBot(context.Background()); n.Level != session.LevelSuccess {
		t.Fatalf("notice = %+v", n)
	}
	if got := ctrl.Snapshot().Error; got != "Failed to fetch configuration" {
		t.Fatalf("Error after failed follow-up = %q", got)
	}

	// Останавливаем часовой опрос после входа и запускаем быстрый.
	ctrl.ScheduleRefresh(time.Hour)()
	stop := ctrl.ScheduleRefresh(5 * time.Millisecond)
	defer stop()

	waitFor(t, func() bool { return ctrl.Snapshot().Error == "" })
	if ctrl.Snapshot().Draft == nil {
		t.Fatal("draft lost after status poll")
	}
}

func TestBotLoginGate(t *testing.T) {
	t.Parallel()

	backend := apitest.New(t, testToken)
	backend.SetLoginState("not_logged")
	ctrl, _ := loggedIn(t, backend, session.Options{})
	ctx := context.Background()

	if v := ctrl.Snapshot().View; v != session.LoginPending {
		t.Fatalf("View = %v, want login-pending", v)
	}
	if err := ctrl.SubmitLoginCode(ctx, "12345"); !errors.Is(err, session.ErrCodeNotRequested) {
		t.Fatalf("SubmitLoginCode() before request error = %v", err)
	}

	if err := ctrl.RequestLoginCode(ctx); err != nil {
		t.Fatalf("RequestLoginCode() error = %v", err)
	}
	if f := ctrl.Snapshot().Flow; f != session.FlowCodeRequested {
		t.Fatalf("Flow = %v", f)
	}

	if err := ctrl.SubmitLoginCode(ctx, "00000"); err == nil {
		t.Fatal("wrong code accepted")
	}
	if snap := ctrl.Snapshot(); snap.FlowError != "Invalid code" || snap.View != session.LoginPending {
		t.Fatalf("after wrong code: %# v", pretty.Formatter(snap))
	}

	if err := ctrl.SubmitLoginCode(ctx, "12345"); err != nil {
		t.Fatalf("SubmitLoginCode() error = %v", err)
	}
	snap := ctrl.Snapshot()
	if snap.View != session.LoginComplete || snap.Flow != session.FlowIdle || snap.FlowError != "" {
		t.Fatalf("after login: %# v", pretty.Formatter(snap))
	}
}

func TestRequestLoginCodeFailure(t *testing.T) {
	t.Parallel()

	backend := apitest.New(t, testToken)
	backend.SetLoginState("not_logged")
	backend.Fail("GET /api/login", http.StatusInternalServerError, "flood wait")
	ctrl, _ := loggedIn(t, backend, session.Options{})

	if err := ctrl.RequestLoginCode(context.Background()); err == nil {
		t.Fatal("expected error")
	}
	snap := ctrl.Snapshot()
	if snap.FlowError != "Could not start login" || snap.Flow != session.FlowIdle {
		t.Fatalf("snapshot: %# v", pretty.Formatter(snap))
	}
}

func TestExportDraft(t *testing.T) {
	t.Parallel()

	backend := apitest.New(t, testToken)
	ctrl, _ := loggedIn(t, backend, session.Options{})
	_ = ctrl.MutateConfigField(panel.KeyAddFee, 200)

	path := filepath.Join(t.TempDir(), "export", "config.json")
	if err := ctrl.ExportDraft(path); err != nil {
		t.Fatalf("ExportDraft() error = %v", err)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read export: %v", err)
	}
	var got panel.Configuration
	if err := json.Unmarshal(data, &got); err != nil {
		t.Fatalf("decode export: %v", err)
	}
	if want := *ctrl.Snapshot().Draft; !reflect.DeepEqual(got, want) {
		t.Fatalf("export mismatch: %v", pretty.Diff(got, want))
	}
}

func TestLogoutClearsToken(t *testing.T) {
	t.Parallel()

	backend := apitest.New(t, testToken)
	ctrl, store := loggedIn(t, backend, session.Options{PollInterval: 5 * time.Millisecond})

	ctrl.Logout()
	if token, _ := store.Load(); token != "" {
		t.Fatalf("token after logout = %q", token)
	}
	backend.ResetCalls()
	time.Sleep(30 * time.Millisecond)
	if calls := backend.Calls(); len(calls) != 0 {
		t.Fatalf("poller still running after logout: %v", calls)
	}
}
