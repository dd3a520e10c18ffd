package controller

import (
	"context"
	"encoding/json"
	"io"
	"net/http/httptest"
	"strings"
	"testing"

	"deepsearch-be/internal/dto"
	"deepsearch-be/internal/pkg/logger"
	"deepsearch-be/internal/pkg/serverutils"
	"deepsearch-be/internal/service"
	"deepsearch-be/pkg/rag/executor"
	"deepsearch-be/pkg/rag/response"
	"deepsearch-be/pkg/store"

	"github.com/gofiber/fiber/v2"
	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeQueryService struct {
	runErr     error
	lastReq    *dto.QueryRequest
	subject    string
	getErr     error
	cancelErr  error
	historyReq *dto.HistoryListRequest
}

func (f *fakeQueryService) Run(_ context.Context, subject string, req *dto.QueryRequest) (*dto.QueryResponse, error) {
	f.subject, f.lastReq = subject, req
	if f.runErr != nil {
		return nil, f.runErr
	}
	return &dto.QueryResponse{SessionId: uuid.New(), Answer: "42", TerminationReason: "evaluator_stop", Rounds: 1}, nil
}

func (f *fakeQueryService) Start(_ context.Context, subject string, req *dto.QueryRequest) (*dto.AsyncQueryResponse, error) {
	f.subject, f.lastReq = subject, req
	return &dto.AsyncQueryResponse{SessionId: uuid.New()}, nil
}

func (f *fakeQueryService) Get(_ context.Context, subject string, id uuid.UUID) (*store.View, error) {
	f.subject = subject
	if f.getErr != nil {
		return nil, f.getErr
	}
	return &store.View{ID: id, Status: store.StatusRunning}, nil
}

func (f *fakeQueryService) Cancel(_ context.Context, subject string, id uuid.UUID) (*store.View, error) {
	f.subject = subject
	if f.cancelErr != nil {
		return nil, f.cancelErr
	}
	return &store.View{ID: id, Status: store.StatusRunning}, nil
}

func (f *fakeQueryService) Collections(context.Context) ([]*dto.CollectionResponse, error) {
	return []*dto.CollectionResponse{{Name: "kb", Default: true}}, nil
}

func (f *fakeQueryService) History(_ context.Context, subject string, req *dto.HistoryListRequest) (*dto.HistoryListResponse, error) {
	f.subject, f.historyReq = subject, req
	return &dto.HistoryListResponse{Items: []dto.HistoryItemResponse{}, Page: 1, Limit: 20}, nil
}

func (f *fakeQueryService) Shutdown(context.Context) error { return nil }

var _ service.IQueryService = (*fakeQueryService)(nil)

func newApp(svc service.IQueryService, secret string) *fiber.App {
	app := fiber.New()
	app.Use(serverutils.ErrorHandlerMiddleware())
	NewQueryController(svc, nil, serverutils.NewJwtMiddleware(secret), logger.NewNopLogger()).
		RegisterRoutes(app.Group("/api"))
	return app
}

func decode(t *testing.T, body io.Reader) map[string]interface{} {
	t.Helper()
	var out map[string]interface{}
	require.NoError(t, json.NewDecoder(body).Decode(&out))
	return out
}

func TestQueryReturnsAnswer(t *testing.T) {
	svc := &fakeQueryService{}
	app := newApp(svc, "")

	req := httptest.NewRequest("POST", "/api/query/v1", strings.NewReader(`{"question":"what?","collections":["kb"],"max_rounds":2}`))
	req.Header.Set("Content-Type", "application/json")
	resp, err := app.Test(req)
	require.NoError(t, err)

	assert.Equal(t, fiber.StatusOK, resp.StatusCode)
	body := decode(t, resp.Body)
	assert.Equal(t, true, body["success"])
	assert.Equal(t, "42", body["data"].(map[string]interface{})["answer"])
	assert.Equal(t, 2, svc.lastReq.MaxRounds)
	assert.Equal(t, []string{"kb"}, svc.lastReq.Collections)
}

func TestQueryValidatesBody(t *testing.T) {
	app := newApp(&fakeQueryService{}, "")

	for _, payload := range []string{`{"question":""}`, `{"question":"q","max_rounds":99}`, `not json`} {
		req := httptest.NewRequest("POST", "/api/query/v1", strings.NewReader(payload))
		req.Header.Set("Content-Type", "application/json")
		resp, err := app.Test(req)
		require.NoError(t, err)
		assert.Equal(t, fiber.StatusBadRequest, resp.StatusCode, payload)
	}
}

func TestQueryMapsServiceErrors(t *testing.T) {
	cases := []struct {
		err  error
		code int
	}{
		{executor.ErrEmptyQuestion, fiber.StatusBadRequest},
		{executor.ErrInvalidParams, fiber.StatusBadRequest},
		{response.ErrSynthesisFailed, fiber.StatusBadGateway},
		{assert.AnError, fiber.StatusInternalServerError},
	}
	for _, tc := range cases {
		app := newApp(&fakeQueryService{runErr: tc.err}, "")
		req := httptest.NewRequest("POST", "/api/query/v1", strings.NewReader(`{"question":"q"}`))
		req.Header.Set("Content-Type", "application/json")
		resp, err := app.Test(req)
		require.NoError(t, err)
		assert.Equal(t, tc.code, resp.StatusCode, tc.err.Error())
	}
}

func TestStartQueryAccepted(t *testing.T) {
	app := newApp(&fakeQueryService{}, "")

	req := httptest.NewRequest("POST", "/api/query/v1/async", strings.NewReader(`{"question":"q"}`))
	req.Header.Set("Content-Type", "application/json")
	resp, err := app.Test(req)
	require.NoError(t, err)
	assert.Equal(t, fiber.StatusAccepted, resp.StatusCode)
}

func TestSessionRoutes(t *testing.T) {
	id := uuid.New()

	resp, err := newApp(&fakeQueryService{}, "").Test(httptest.NewRequest("GET", "/api/query/v1/"+id.String(), nil))
	require.NoError(t, err)
	assert.Equal(t, fiber.StatusOK, resp.StatusCode)

	resp, err = newApp(&fakeQueryService{}, "").Test(httptest.NewRequest("GET", "/api/query/v1/not-a-uuid", nil))
	require.NoError(t, err)
	assert.Equal(t, fiber.StatusBadRequest, resp.StatusCode)

	resp, err = newApp(&fakeQueryService{getErr: service.ErrSessionNotFound}, "").Test(httptest.NewRequest("GET", "/api/query/v1/"+id.String(), nil))
	require.NoError(t, err)
	assert.Equal(t, fiber.StatusNotFound, resp.StatusCode)

	resp, err = newApp(&fakeQueryService{}, "").Test(httptest.NewRequest("DELETE", "/api/query/v1/"+id.String(), nil))
	require.NoError(t, err)
	assert.Equal(t, fiber.StatusAccepted, resp.StatusCode)

	resp, err = newApp(&fakeQueryService{cancelErr: service.ErrSessionFinished}, "").Test(httptest.NewRequest("DELETE", "/api/query/v1/"+id.String(), nil))
	require.NoError(t, err)
	assert.Equal(t, fiber.StatusConflict, resp.StatusCode)

	resp, err = newApp(&fakeQueryService{}, "").Test(httptest.NewRequest("GET", "/api/query/v1/"+id.String()+"/ws", nil))
	require.NoError(t, err)
	assert.Equal(t, fiber.StatusUpgradeRequired, resp.StatusCode)
}

func TestCollectionsAndHistoryRoutes(t *testing.T) {
	svc := &fakeQueryService{}
	app := newApp(svc, "")

	resp, err := app.Test(httptest.NewRequest("GET", "/api/query/v1/collections", nil))
	require.NoError(t, err)
	assert.Equal(t, fiber.StatusOK, resp.StatusCode)
	data := decode(t, resp.Body)["data"].([]interface{})
	require.Len(t, data, 1)
	assert.Equal(t, "kb", data[0].(map[string]interface{})["name"])

	resp, err = app.Test(httptest.NewRequest("GET", "/api/query/v1/history?page=2&limit=5&reason=no_progress&q=tax", nil))
	require.NoError(t, err)
	assert.Equal(t, fiber.StatusOK, resp.StatusCode)
	require.NotNil(t, svc.historyReq)
	assert.Equal(t, 2, svc.historyReq.Page)
	assert.Equal(t, 5, svc.historyReq.Limit)
	assert.Equal(t, "no_progress", svc.historyReq.Reason)
	assert.Equal(t, "tax", svc.historyReq.Search)

	resp, err = app.Test(httptest.NewRequest("GET", "/api/query/v1/history?reason=bogus", nil))
	require.NoError(t, err)
	assert.Equal(t, fiber.StatusBadRequest, resp.StatusCode)
}

func TestRoutesRequireTokenWhenSecretSet(t *testing.T) {
	svc := &fakeQueryService{}
	app := newApp(svc, "secret")

	resp, err := app.Test(httptest.NewRequest("GET", "/api/query/v1/collections", nil))
	require.NoError(t, err)
	assert.Equal(t, fiber.StatusUnauthorized, resp.StatusCode)

	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{"sub": "alice"}).SignedString([]byte("secret"))
	require.NoError(t, err)

	req := httptest.NewRequest("GET", "/api/query/v1/"+uuid.NewString(), nil)
	req.Header.Set("Authorization", "Bearer "+token)
	resp, err = app.Test(req)
	require.NoError(t, err)
	assert.Equal(t, fiber.StatusOK, resp.StatusCode)
	assert.Equal(t, "alice", svc.subject)
}
