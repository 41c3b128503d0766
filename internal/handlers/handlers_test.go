package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"rcm-reconciliation-backend/internal/models"
	"rcm-reconciliation-backend/internal/services/aggregation"
	"rcm-reconciliation-backend/internal/services/claims"
	"rcm-reconciliation-backend/internal/services/matching"
	"rcm-reconciliation-backend/internal/services/reconciliation"
	"rcm-reconciliation-backend/internal/taxonomy"
)

const tenant = "agency-a"

type testServer struct {
	router *gin.Engine
	store  *claims.Store
	recon  *reconciliation.Service
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	gin.SetMode(gin.TestMode)

	tax := taxonomy.New([]taxonomy.Entry{
		{Code: "CARC-001", Category: models.CategoryMissingAuthorization, Denial: true},
	})
	aggregates := aggregation.NewEngine()
	store := claims.NewStore(claims.WithTaxonomy(tax), claims.WithListener(aggregates))
	recon := reconciliation.NewService(matching.NewMatcher(store, tax))

	reconHandler := NewReconciliationHandler(recon)
	claimHandler := NewClaimHandler(store, aggregates)

	r := gin.New()
	api := r.Group("/api")
	api.GET("/runs/:runId", reconHandler.GetRun)
	api.POST("/runs/:runId/cancel", reconHandler.CancelRun)
	tg := api.Group("/tenants/:tenantId")
	tg.POST("/remittances", reconHandler.Upload)
	tg.GET("/runs", reconHandler.ListRuns)
	tg.GET("/aggregates", claimHandler.Aggregates)
	tg.POST("/aggregates/recompute", claimHandler.RecomputeAggregates)
	tg.POST("/claims", claimHandler.CreateClaim)
	tg.GET("/claims", claimHandler.ListClaims)
	tg.GET("/claims/:claimId", claimHandler.GetClaim)
	tg.POST("/claims/:claimId/assign", claimHandler.AssignClaim)

	return &testServer{router: r, store: store, recon: recon}
}

func (s *testServer) do(t *testing.T, method, path, contentType string, body []byte) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, bytes.NewReader(body))
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	w := httptest.NewRecorder()
	s.router.ServeHTTP(w, req)
	return w
}

func (s *testServer) createClaim(t *testing.T, id, billed string) {
	t.Helper()
	body := `{"claim_id":"` + id + `","patient_ref":"P-` + id + `","billed_amount":"` + billed + `"}`
	w := s.do(t, http.MethodPost, "/api/tenants/"+tenant+"/claims", "application/json", []byte(body))
	if w.Code != http.StatusCreated {
		t.Fatalf("create %s: %d %s", id, w.Code, w.Body.String())
	}
}

func decode(t *testing.T, w *httptest.ResponseRecorder, v any) {
	t.Helper()
	if err := json.Unmarshal(w.Body.Bytes(), v); err != nil {
		t.Fatalf("decode %q: %v", w.Body.String(), err)
	}
}

func (s *testServer) upload(t *testing.T, csv string) uuid.UUID {
	t.Helper()
	w := s.do(t, http.MethodPost, "/api/tenants/"+tenant+"/remittances", "text/csv", []byte(csv))
	if w.Code != http.StatusAccepted {
		t.Fatalf("upload: %d %s", w.Code, w.Body.String())
	}
	var resp struct {
		RunID  string `json:"run_id"`
		Status string `json:"status"`
	}
	decode(t, w, &resp)
	id, err := uuid.Parse(resp.RunID)
	if err != nil {
		t.Fatalf("run id %q: %v", resp.RunID, err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if _, err := s.recon.Wait(ctx, id); err != nil {
		t.Fatalf("wait: %v", err)
	}
	return id
}

func TestCreateAndGetClaim(t *testing.T) {
	s := newTestServer(t)
	s.createClaim(t, "CLM-1", "1200.00")

	w := s.do(t, http.MethodGet, "/api/tenants/"+tenant+"/claims/CLM-1", "", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("get: %d %s", w.Code, w.Body.String())
	}
	var view struct {
		ClaimID  string `json:"claim_id"`
		Status   string `json:"status"`
		Priority string `json:"priority"`
	}
	decode(t, w, &view)
	if view.ClaimID != "CLM-1" || view.Status != string(models.ClaimPending) || view.Priority != string(models.PriorityMedium) {
		t.Fatalf("view = %+v", view)
	}

	if w := s.do(t, http.MethodGet, "/api/tenants/other/claims/CLM-1", "", nil); w.Code != http.StatusNotFound {
		t.Fatalf("cross-tenant get: %d", w.Code)
	}
}

func TestCreateClaimErrors(t *testing.T) {
	s := newTestServer(t)
	s.createClaim(t, "CLM-1", "10")

	cases := []struct {
		name string
		body string
		want int
	}{
		{"duplicate", `{"claim_id":"CLM-1","billed_amount":"10"}`, http.StatusConflict},
		{"missing id", `{"billed_amount":"10"}`, http.StatusBadRequest},
		{"negative amount", `{"claim_id":"CLM-2","billed_amount":"-5"}`, http.StatusBadRequest},
		{"malformed", `{"claim_id":`, http.StatusBadRequest},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			w := s.do(t, http.MethodPost, "/api/tenants/"+tenant+"/claims", "application/json", []byte(tc.body))
			if w.Code != tc.want {
				t.Fatalf("code = %d, want %d (%s)", w.Code, tc.want, w.Body.String())
			}
		})
	}
}

func TestUploadRunsReconciliation(t *testing.T) {
	s := newTestServer(t)
	s.createClaim(t, "CLM-1", "100")
	s.createClaim(t, "CLM-2", "100")

	runID := s.upload(t, "batch_id,claim_id,paid_amount,adjustment_codes\n"+
		"B1,CLM-1,100.00,\n"+
		"B1,CLM-2,0,CARC-001\n"+
		"B1,CLM-9,50.00,\n")

	w := s.do(t, http.MethodGet, "/api/runs/"+runID.String(), "", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("status: %d %s", w.Code, w.Body.String())
	}
	var run models.ReconciliationRun
	decode(t, w, &run)
	if run.State != models.RunCompleted || run.ProcessedCount != 3 || run.MatchedCount != 2 || run.UnmatchedCount != 1 {
		t.Fatalf("run = %+v", run)
	}

	w = s.do(t, http.MethodGet, "/api/tenants/"+tenant+"/claims?status=denied", "", nil)
	var list struct {
		Items []models.ClaimView `json:"items"`
		Count int                `json:"count"`
	}
	decode(t, w, &list)
	if list.Count != 1 || list.Items[0].ClaimID != "CLM-2" {
		t.Fatalf("denied = %+v", list)
	}
	if list.Items[0].DenialReasonCategory != models.CategoryMissingAuthorization {
		t.Fatalf("category = %q", list.Items[0].DenialReasonCategory)
	}

	w = s.do(t, http.MethodGet, "/api/tenants/"+tenant+"/runs", "", nil)
	var runs struct {
		Items []models.ReconciliationRun `json:"items"`
	}
	decode(t, w, &runs)
	if len(runs.Items) != 1 || runs.Items[0].ID != runID {
		t.Fatalf("runs = %+v", runs.Items)
	}

	// A finished run cannot be cancelled.
	if w := s.do(t, http.MethodPost, "/api/runs/"+runID.String()+"/cancel", "", nil); w.Code != http.StatusConflict {
		t.Fatalf("cancel finished: %d", w.Code)
	}
}

func TestUploadMultipart(t *testing.T) {
	s := newTestServer(t)
	s.createClaim(t, "CLM-1", "100")

	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	part, err := mw.CreateFormFile("file", "era.csv")
	if err != nil {
		t.Fatal(err)
	}
	part.Write([]byte("claim_id,paid_amount\nCLM-1,40\n"))
	mw.Close()

	w := s.do(t, http.MethodPost, "/api/tenants/"+tenant+"/remittances", mw.FormDataContentType(), buf.Bytes())
	if w.Code != http.StatusAccepted {
		t.Fatalf("upload: %d %s", w.Code, w.Body.String())
	}
	var resp struct {
		RunID string `json:"run_id"`
	}
	decode(t, w, &resp)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	run, err := s.recon.Wait(ctx, uuid.MustParse(resp.RunID))
	if err != nil {
		t.Fatal(err)
	}
	if run.MatchedCount != 1 {
		t.Fatalf("run = %+v", run)
	}
	c, _ := s.store.Get(tenant, "CLM-1")
	if c.Status != models.ClaimInProgress {
		t.Fatalf("status = %s", c.Status)
	}
}

func TestUploadRejectsEmptyBody(t *testing.T) {
	s := newTestServer(t)
	if w := s.do(t, http.MethodPost, "/api/tenants/"+tenant+"/remittances", "text/csv", nil); w.Code != http.StatusBadRequest {
		t.Fatalf("code = %d", w.Code)
	}
}

func TestRunLookupErrors(t *testing.T) {
	s := newTestServer(t)
	if w := s.do(t, http.MethodGet, "/api/runs/not-a-uuid", "", nil); w.Code != http.StatusBadRequest {
		t.Fatalf("bad id: %d", w.Code)
	}
	if w := s.do(t, http.MethodGet, "/api/runs/"+uuid.NewString(), "", nil); w.Code != http.StatusNotFound {
		t.Fatalf("unknown run: %d", w.Code)
	}
	if w := s.do(t, http.MethodPost, "/api/runs/"+uuid.NewString()+"/cancel", "", nil); w.Code != http.StatusNotFound {
		t.Fatalf("cancel unknown: %d", w.Code)
	}
}

func TestListClaimsFilters(t *testing.T) {
	s := newTestServer(t)
	s.createClaim(t, "CLM-1", "100")
	s.createClaim(t, "CLM-2", "100")

	if w := s.do(t, http.MethodGet, "/api/tenants/"+tenant+"/claims?status=lost", "", nil); w.Code != http.StatusBadRequest {
		t.Fatalf("unknown status: %d", w.Code)
	}

	w := s.do(t, http.MethodGet, "/api/tenants/"+tenant+"/claims?q=p-clm-2", "", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("query: %d", w.Code)
	}
	var list struct {
		Items      []models.ClaimView   `json:"items"`
		Aggregates aggregation.Snapshot `json:"aggregates"`
	}
	decode(t, w, &list)
	if len(list.Items) != 1 || list.Items[0].ClaimID != "CLM-2" {
		t.Fatalf("items = %+v", list.Items)
	}
	if list.Aggregates.TotalClaims != 2 {
		t.Fatalf("aggregates total = %d", list.Aggregates.TotalClaims)
	}
}

func TestAssignClaim(t *testing.T) {
	s := newTestServer(t)
	s.createClaim(t, "CLM-1", "100")

	body := []byte(`{"agent":"dana","performed_by":"supervisor"}`)
	w := s.do(t, http.MethodPost, "/api/tenants/"+tenant+"/claims/CLM-1/assign", "application/json", body)
	if w.Code != http.StatusOK {
		t.Fatalf("assign: %d %s", w.Code, w.Body.String())
	}
	var resp struct {
		Claim   models.ClaimView `json:"claim"`
		Changed bool             `json:"changed"`
	}
	decode(t, w, &resp)
	if !resp.Changed || resp.Claim.AssignedAgent != "dana" {
		t.Fatalf("resp = %+v", resp)
	}

	w = s.do(t, http.MethodGet, "/api/tenants/"+tenant+"/claims?agent=DANA", "", nil)
	if !strings.Contains(w.Body.String(), `"claim_id":"CLM-1"`) {
		t.Fatalf("agent filter: %s", w.Body.String())
	}

	w = s.do(t, http.MethodGet, "/api/tenants/"+tenant+"/aggregates", "", nil)
	var snap aggregation.Snapshot
	decode(t, w, &snap)
	if len(snap.Agents) != 1 || snap.Agents[0].Assigned != 1 {
		t.Fatalf("agents = %+v", snap.Agents)
	}

	if w := s.do(t, http.MethodPost, "/api/tenants/"+tenant+"/claims/CLM-404/assign", "application/json", body); w.Code != http.StatusNotFound {
		t.Fatalf("assign missing: %d", w.Code)
	}
}

func TestRecomputeAggregatesMatchesSnapshot(t *testing.T) {
	s := newTestServer(t)
	s.createClaim(t, "CLM-1", "100")
	s.createClaim(t, "CLM-2", "6000")

	var live, rebuilt aggregation.Snapshot
	decode(t, s.do(t, http.MethodGet, "/api/tenants/"+tenant+"/aggregates", "", nil), &live)
	w := s.do(t, http.MethodPost, "/api/tenants/"+tenant+"/aggregates/recompute", "", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("recompute: %d", w.Code)
	}
	decode(t, w, &rebuilt)
	if rebuilt.TotalClaims != 2 || rebuilt.TotalClaims != live.TotalClaims {
		t.Fatalf("total: live %d rebuilt %d", live.TotalClaims, rebuilt.TotalClaims)
	}
	if rebuilt.StatusCounts[models.ClaimPending] != 2 {
		t.Fatalf("status counts = %v", rebuilt.StatusCounts)
	}
}
