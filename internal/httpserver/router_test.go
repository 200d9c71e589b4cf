package httpserver

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/api/googleapi"

	"mailsweep/internal/aggregate"
	"mailsweep/internal/api"
	"mailsweep/internal/cache"
	"mailsweep/internal/executor"
	"mailsweep/internal/mailapi"
	"mailsweep/internal/model"
	"mailsweep/internal/rules"
	"mailsweep/internal/scoring"
	"mailsweep/internal/service"
	"mailsweep/internal/undo"
	"mailsweep/internal/util"
	"mailsweep/pkg/circuitbreaker"
	"mailsweep/pkg/rbac"
	"mailsweep/pkg/trace"
)

const secret = "test-secret"

func init() {
	gin.SetMode(gin.TestMode)
}

func newTestRouter(t *testing.T, checks map[string]ReadyCheck) (*Router, *mailapi.MemoryTransport) {
	t.Helper()
	var msgs []model.MessageSummary
	for i := 0; i < 6; i++ {
		msgs = append(msgs, model.MessageSummary{
			ID:      fmt.Sprintf("news-%d", i),
			From:    "News <news@letters.example>",
			Sender:  "news@letters.example",
			Domain:  "letters.example",
			Subject: "Weekly digest",
			Date:    time.Now().AddDate(0, 0, -40-i),
			Labels:  []string{model.LabelInbox},
		})
	}
	mem := mailapi.NewMemoryTransport(msgs...)

	cfg := mailapi.DefaultConfig()
	cfg.RequestsPerSecond = 1e6
	cfg.Burst = 1000
	cfg.MaxRetries = 0
	cfg.Breaker = circuitbreaker.Config{}
	client := mailapi.NewClient(mem, cfg, nil)

	lists, err := scoring.Compile(scoring.DefaultListsConfig())
	require.NoError(t, err)
	ledger := undo.NewLedger(undo.NewMemoryStore(), client, time.Hour, nil)
	t.Cleanup(ledger.Wait)

	svc := service.NewCleanupService(service.Deps{
		Scorers:   scoring.StaticProvider(scoring.New(lists, nil)),
		Collector: aggregate.NewCollector(client, 2, 100, nil),
		Memo:      cache.NewMemo(cache.NewLRUStore(32, time.Hour), nil),
		Executor:  executor.New(client, ledger, executor.DefaultConfig(), nil),
		Ledger:    ledger,
		Rules:     rules.NewFileStore(nil),
	}, service.DefaultConfig(), nil)

	r := NewRouter(
		api.NewAnalysisHandler(svc, nil),
		api.NewCleanupHandler(svc, nil),
		api.NewRuleHandler(svc, nil),
		secret,
		checks,
	)
	return r, mem
}

func token(t *testing.T, role string) string {
	t.Helper()
	tok, err := util.GenerateJWT(role+"@example.com", role, secret, time.Hour)
	require.NoError(t, err)
	return tok
}

func do(r *Router, method, path, tok string, body any) *httptest.ResponseRecorder {
	var buf bytes.Buffer
	if body != nil {
		_ = json.NewEncoder(&buf).Encode(body)
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	if tok != "" {
		req.Header.Set("Authorization", "Bearer "+tok)
	}
	w := httptest.NewRecorder()
	r.Engine.ServeHTTP(w, req)
	return w
}

func TestHealthAndReadiness(t *testing.T) {
	down := errors.New("connection refused")
	r, _ := newTestRouter(t, map[string]ReadyCheck{
		"db": func(context.Context) error { return down },
	})

	assert.Equal(t, http.StatusOK, do(r, http.MethodGet, "/health", "", nil).Code)

	w := do(r, http.MethodGet, "/readyz", "", nil)
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
	assert.Contains(t, w.Body.String(), "db_not_ready")

	assert.Equal(t, http.StatusOK, do(r, http.MethodGet, "/metrics", "", nil).Code)
}

func TestAuthAndPermissions(t *testing.T) {
	r, mem := newTestRouter(t, nil)

	assert.Equal(t, http.StatusUnauthorized, do(r, http.MethodGet, "/api/senders", "", nil).Code)
	assert.Equal(t, http.StatusUnauthorized, do(r, http.MethodGet, "/api/senders", "garbage", nil).Code)

	bogus, err := util.GenerateJWT("x", "root", secret, time.Hour)
	require.NoError(t, err)
	assert.Equal(t, http.StatusUnauthorized, do(r, http.MethodGet, "/api/senders", bogus, nil).Code)

	viewer := token(t, rbac.RoleViewer)
	w := do(r, http.MethodPost, "/api/cleanup", viewer, model.CleanupCriteria{Domain: model.Ptr("letters.example")})
	assert.Equal(t, http.StatusForbidden, w.Code)
	assert.Zero(t, mem.Calls("trash"))

	w = do(r, http.MethodPut, "/api/rules/x", token(t, rbac.RoleOperator), model.CleanupRule{})
	assert.Equal(t, http.StatusForbidden, w.Code)
}

func TestSendersAreStableAndTraced(t *testing.T) {
	r, mem := newTestRouter(t, nil)
	viewer := token(t, rbac.RoleViewer)

	req := httptest.NewRequest(http.MethodGet, "/api/senders", nil)
	req.Header.Set("Authorization", "Bearer "+viewer)
	req.Header.Set(trace.HeaderName, "trace-123")
	first := httptest.NewRecorder()
	r.Engine.ServeHTTP(first, req)
	require.Equal(t, http.StatusOK, first.Code)
	assert.Equal(t, "trace-123", first.Header().Get(trace.HeaderName))

	second := do(r, http.MethodGet, "/api/senders", viewer, nil)
	require.Equal(t, http.StatusOK, second.Code)
	assert.Equal(t, first.Body.String(), second.Body.String())
	assert.NotEmpty(t, second.Header().Get(trace.HeaderName))
	assert.EqualValues(t, 1, mem.Calls("list"))

	var a service.Analysis
	require.NoError(t, json.Unmarshal(first.Body.Bytes(), &a))
	assert.Equal(t, 6, a.Stats["news@letters.example"].TotalCount)

	assert.Equal(t, http.StatusBadRequest, do(r, http.MethodGet, "/api/senders?max=-1", viewer, nil).Code)

	w := do(r, http.MethodGet, "/api/export.csv", viewer, nil)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Header().Get("Content-Type"), "text/csv")
	assert.Contains(t, w.Body.String(), "news@letters.example")
}

func TestCleanupAndRestore(t *testing.T) {
	r, mem := newTestRouter(t, nil)
	op := token(t, rbac.RoleOperator)

	w := do(r, http.MethodPost, "/api/cleanup", op, model.CleanupCriteria{})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = do(r, http.MethodPost, "/api/plan", op, model.CleanupCriteria{Domain: model.Ptr("letters.example"), OlderThanDays: model.Ptr(30)})
	require.Equal(t, http.StatusOK, w.Code)
	var plan struct {
		Count int `json:"count"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &plan))
	assert.Equal(t, 6, plan.Count)

	w = do(r, http.MethodPost, "/api/cleanup", op, model.CleanupCriteria{Domain: model.Ptr("letters.example"), OlderThanDays: model.Ptr(30)})
	require.Equal(t, http.StatusOK, w.Code)
	var out service.CleanupResult
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &out))
	assert.Len(t, out.Result.Succeeded, 6)
	assert.EqualValues(t, 1, mem.Calls("trash"))

	w = do(r, http.MethodPost, "/api/restore", op, map[string]any{"ids": []string{"news-0", "nope"}})
	require.Equal(t, http.StatusOK, w.Code)
	var restored struct {
		Restored []string `json:"restored"`
		NotFound []string `json:"not_found"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &restored))
	assert.Equal(t, []string{"news-0"}, restored.Restored)
	assert.Equal(t, []string{"nope"}, restored.NotFound)

	assert.Equal(t, http.StatusBadRequest, do(r, http.MethodPost, "/api/execute", op, map[string]any{"ids": []string{}}).Code)

	w = do(r, http.MethodGet, "/api/progress", op, nil)
	assert.JSONEq(t, `{"running":false}`, w.Body.String())
}

func TestRulesLifecycle(t *testing.T) {
	r, _ := newTestRouter(t, nil)
	admin := token(t, rbac.RoleAdmin)

	rule := model.CleanupRule{
		Enabled:  true,
		Criteria: model.CleanupCriteria{Sender: model.Ptr("news@letters.example"), DryRun: true},
		Schedule: model.Schedule{Cron: "@weekly"},
	}
	w := do(r, http.MethodPut, "/api/rules/digest", admin, rule)
	require.Equal(t, http.StatusOK, w.Code)

	w = do(r, http.MethodPut, "/api/rules/broken", admin, model.CleanupRule{Criteria: rule.Criteria})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = do(r, http.MethodGet, "/api/rules", admin, nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"name":"digest"`)

	w = do(r, http.MethodPost, "/api/rules/digest/run", admin, nil)
	require.Equal(t, http.StatusOK, w.Code)
	var out service.CleanupResult
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &out))
	assert.True(t, out.Result.DryRun)
	assert.Len(t, out.Result.Planned, 6)

	assert.Equal(t, http.StatusNotFound, do(r, http.MethodPost, "/api/rules/missing/run", admin, nil).Code)
	assert.Equal(t, http.StatusNoContent, do(r, http.MethodDelete, "/api/rules/digest", admin, nil).Code)
	assert.Equal(t, http.StatusNotFound, do(r, http.MethodDelete, "/api/rules/digest", admin, nil).Code)
}

func TestReports(t *testing.T) {
	r, mem := newTestRouter(t, nil)
	viewer := token(t, rbac.RoleViewer)
	mem.Add(model.MessageSummary{
		ID:              "scan-0",
		From:            "Copier <scanner@office.example>",
		Sender:          "scanner@office.example",
		Domain:          "office.example",
		Subject:         "Scanned document",
		Date:            time.Now().AddDate(0, 0, -1),
		SizeBytes:       8 << 20,
		HasAttachments:  true,
		AttachmentTypes: []string{"pdf"},
		Labels:          []string{model.LabelInbox},
	})

	w := do(r, http.MethodGet, "/api/attachments/large?min_size_bytes=1000", viewer, nil)
	require.Equal(t, http.StatusOK, w.Code)
	var att model.AttachmentReport
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &att))
	assert.Equal(t, 1, att.Matched)
	require.Len(t, att.Messages, 1)
	assert.Equal(t, "scan-0", att.Messages[0].ID)
	assert.Equal(t, 1, att.Messages[0].AgeDays)

	w = do(r, http.MethodGet, "/api/stats/velocity?days=50&top=1", viewer, nil)
	require.Equal(t, http.StatusOK, w.Code)
	var vel model.VelocityReport
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &vel))
	assert.Equal(t, 50, vel.Days)
	assert.Equal(t, 7, vel.Total)
	require.Len(t, vel.TopSenders, 1)
	assert.Equal(t, "news@letters.example", vel.TopSenders[0].Sender)
	assert.Equal(t, 6, vel.TopSenders[0].Total)

	w = do(r, http.MethodGet, "/api/stats/summary", viewer, nil)
	require.Equal(t, http.StatusOK, w.Code)
	var sum model.MailboxSummary
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &sum))
	assert.Equal(t, 2, sum.TotalSenders)
	assert.Equal(t, 7, sum.TotalMessages)
	assert.Zero(t, sum.DeletedLastWeek)

	assert.Equal(t, http.StatusBadRequest, do(r, http.MethodGet, "/api/stats/velocity?days=-1", viewer, nil).Code)
	assert.Equal(t, http.StatusBadRequest, do(r, http.MethodGet, "/api/stats/velocity?days=1000", viewer, nil).Code)
	assert.Equal(t, http.StatusBadRequest, do(r, http.MethodGet, "/api/attachments/large?limit=5000", viewer, nil).Code)
}

func TestIncompletePlanIsUnavailable(t *testing.T) {
	r, mem := newTestRouter(t, nil)
	mem.FailNext("get", &googleapi.Error{Code: http.StatusServiceUnavailable})

	w := do(r, http.MethodPost, "/api/plan", token(t, rbac.RoleOperator), model.CleanupCriteria{Domain: model.Ptr("letters.example")})
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
	assert.Contains(t, w.Body.String(), "plan incomplete")
}
