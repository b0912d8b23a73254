package v1

import (
	"bytes"
	"context"
	"crypto/rand"
	"crypto/rsa"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"bar-crm/internal/api/middleware"
	"bar-crm/internal/event"
	"bar-crm/internal/model"
	"bar-crm/internal/repository"
	"bar-crm/internal/repository/memory"
	"bar-crm/internal/service"
	jwtutil "bar-crm/pkg/jwt"
)

type apiResponse struct {
	Code       int             `json:"code"`
	Message    string          `json:"message"`
	Data       json.RawMessage `json:"data"`
	Pagination *struct {
		Page     int   `json:"page"`
		PageSize int   `json:"page_size"`
		Total    int64 `json:"total"`
	} `json:"pagination"`
}

type testServer struct {
	router        *gin.Engine
	store         *memory.Store
	bus           *event.Bus
	points        *service.PointsService
	rules         *service.ConversionRuleService
	recalculation *service.PointsRecalculationService
	audit         *service.AuditService
	adminCookie   *http.Cookie
	staffCookie   *http.Cookie
}

func newTestServer(t *testing.T, deductGuards ...gin.HandlerFunc) *testServer {
	t.Helper()
	gin.SetMode(gin.TestMode)

	privateKey, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		t.Fatalf("generate rsa key: %v", err)
	}

	store := memory.New()
	bus := event.NewBus()
	logger := zap.NewNop()
	calc := service.NewPointsCalculationService(store.Rules(), logger)

	srv := &testServer{
		store:         store,
		bus:           bus,
		points:        service.NewPointsService(store.Accounts(), store.Ledger(), store.Transactions(), calc, bus, nil, logger),
		rules:         service.NewConversionRuleService(store.Rules(), bus, logger),
		recalculation: service.NewPointsRecalculationService(store.Accounts(), store.Rules(), store.Transactions(), store.Locker(), calc, bus, nil, logger),
		audit:         service.NewAuditService(store.Audit(), logger),
	}
	srv.audit.Subscribe(bus)

	router := gin.New()
	group := router.Group("/api/v1")
	group.Use(middleware.JWTAuth(&privateKey.PublicKey), middleware.RequireRole(jwtutil.RoleAdmin))
	RegisterRuleRoutes(group, srv.rules)
	RegisterPointsRoutes(group, srv.points, deductGuards...)
	RegisterRecalculationRoutes(group, srv.recalculation)
	RegisterAuditRoutes(group, srv.audit)
	srv.router = router

	srv.adminCookie = accessCookie(t, privateKey, "op-1", jwtutil.RoleAdmin)
	srv.staffCookie = accessCookie(t, privateKey, "waiter-9", "staff")
	return srv
}

func accessCookie(t *testing.T, key *rsa.PrivateKey, userID, role string) *http.Cookie {
	t.Helper()

	token, err := jwtutil.GenerateAccessToken(jwtutil.NewClaims(userID, role, nil, time.Hour), key)
	if err != nil {
		t.Fatalf("generate access token: %v", err)
	}
	return &http.Cookie{Name: "access_token", Value: token}
}

// creditMember stores a verified invoice for a fresh member and runs it
// through intake.
func (s *testServer) creditMember(t *testing.T, amount string, invoiceDate time.Time, survey bool) model.MemberID {
	t.Helper()

	memberID, err := model.ParseMemberID(uuid.NewString())
	if err != nil {
		t.Fatalf("member id: %v", err)
	}
	s.creditExisting(t, memberID, amount, invoiceDate, survey)
	return memberID
}

func (s *testServer) creditExisting(t *testing.T, memberID model.MemberID, amount string, invoiceDate time.Time, survey bool) {
	t.Helper()

	txID := "inv-" + uuid.NewString()
	value := decimal.RequireFromString(amount)
	s.store.Transactions().Put(model.VerifiedTransaction{
		TransactionID:   txID,
		MemberID:        memberID,
		InvoiceAmount:   value,
		InvoiceDate:     invoiceDate,
		SurveySubmitted: survey,
	})
	result, err := s.points.HandleTransactionVerified(context.Background(), service.TransactionVerifiedInput{
		TransactionID:   txID,
		MemberID:        memberID.String(),
		Amount:          value,
		InvoiceDate:     invoiceDate,
		SurveySubmitted: survey,
	})
	if err != nil {
		t.Fatalf("credit %s: %v", amount, err)
	}
	if result.Outcome != service.IntakeCredited {
		t.Fatalf("expected credited outcome, got %s", result.Outcome)
	}
}

func (s *testServer) createRule(t *testing.T, rate int, start, end string) *service.RuleView {
	t.Helper()

	view, err := s.rules.Create(context.Background(), service.CreateRuleInput{Rate: rate, StartDate: start, EndDate: end})
	if err != nil {
		t.Fatalf("create rule: %v", err)
	}
	return view
}

func performJSONRequest(
	t *testing.T,
	router http.Handler,
	method string,
	path string,
	payload map[string]any,
	cookies []*http.Cookie,
) *httptest.ResponseRecorder {
	t.Helper()

	var bodyBytes []byte
	if payload != nil {
		raw, err := json.Marshal(payload)
		if err != nil {
			t.Fatalf("marshal payload: %v", err)
		}
		bodyBytes = raw
	}

	req := httptest.NewRequest(method, path, bytes.NewReader(bodyBytes))
	req.Header.Set("Content-Type", "application/json")
	for _, cookie := range cookies {
		if cookie != nil {
			req.AddCookie(cookie)
		}
	}

	resp := httptest.NewRecorder()
	router.ServeHTTP(resp, req)
	return resp
}

func decodeAPIResponse(t *testing.T, raw []byte) apiResponse {
	t.Helper()

	var resp apiResponse
	if err := json.Unmarshal(raw, &resp); err != nil {
		t.Fatalf("decode response body: %v", err)
	}
	return resp
}

func decodeData(t *testing.T, resp apiResponse, out any) {
	t.Helper()

	if err := json.Unmarshal(resp.Data, out); err != nil {
		t.Fatalf("decode response data %s: %v", string(resp.Data), err)
	}
}

func day2024(month time.Month, d int) time.Time {
	return time.Date(2024, month, d, 0, 0, 0, 0, time.UTC)
}

func pageOf(limit int32) repository.Pagination {
	return repository.Pagination{Limit: limit}
}
