package httpapi_test

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/MarkoPoloResearchLab/dinerfeedback/internal/httpapi"
	"github.com/MarkoPoloResearchLab/dinerfeedback/internal/model"
	"github.com/MarkoPoloResearchLab/dinerfeedback/internal/storage"
	"github.com/MarkoPoloResearchLab/dinerfeedback/internal/testutil"
	"github.com/MarkoPoloResearchLab/dinerfeedback/internal/validation"
)

type apiHarness struct {
	router   *gin.Engine
	database *gorm.DB
	store    *storage.FeedbackStore
	events   *httpapi.FeedbackEventBroadcaster
}

func buildAPIHarness(testingT *testing.T) apiHarness {
	testingT.Helper()

	gin.SetMode(gin.TestMode)
	logger, loggerErr := zap.NewDevelopment()
	require.NoError(testingT, loggerErr)

	database := testutil.OpenMigratedDatabase(testingT)
	store := storage.NewFeedbackStore(database, storage.DefaultIdempotencyWindow)
	feedbackBroadcaster := httpapi.NewFeedbackEventBroadcaster()
	testingT.Cleanup(feedbackBroadcaster.Close)

	router := httpapi.NewRouter(httpapi.RouterConfig{
		Handlers: httpapi.NewFeedbackHandlers(store, logger, feedbackBroadcaster, httpapi.NewMetrics()),
		Logger:   logger,
	})

	return apiHarness{
		router:   router,
		database: database,
		store:    store,
		events:   feedbackBroadcaster,
	}
}

func performJSONRequest(testingT *testing.T, router http.Handler, method string, path string, body any, headers map[string]string) *httptest.ResponseRecorder {
	var requestBody io.Reader
	if body != nil {
		encoded, encodeErr := json.Marshal(body)
		require.NoError(testingT, encodeErr)
		requestBody = bytes.NewReader(encoded)
	}
	request := httptest.NewRequest(method, path, requestBody)
	for name, value := range headers {
		request.Header.Set(name, value)
	}
	if body != nil {
		request.Header.Set("Content-Type", "application/json")
	}
	recorder := httptest.NewRecorder()
	router.ServeHTTP(recorder, request)
	return recorder
}

func validPayload(customerName string) map[string]any {
	return map[string]any{
		"customerName":      customerName,
		"email":             "guest@example.com",
		"phone":             "1234567890",
		"country":           "IN",
		"serviceQuality":    "Excellent",
		"cleanliness":       "Good",
		"overallExperience": "Good",
	}
}

type createResponse struct {
	Message  string         `json:"msg"`
	Feedback model.Feedback `json:"feedback"`
}

func decodeCreateResponse(testingT *testing.T, recorder *httptest.ResponseRecorder) createResponse {
	testingT.Helper()
	var response createResponse
	require.NoError(testingT, json.Unmarshal(recorder.Body.Bytes(), &response))
	return response
}

func listFeedback(testingT *testing.T, router http.Handler) []model.Feedback {
	testingT.Helper()
	recorder := performJSONRequest(testingT, router, http.MethodGet, httpapi.FeedbackRoutePath, nil, nil)
	require.Equal(testingT, http.StatusOK, recorder.Code)
	var feedbacks []model.Feedback
	require.NoError(testingT, json.Unmarshal(recorder.Body.Bytes(), &feedbacks))
	return feedbacks
}

func TestCreateThenListRoundTrip(t *testing.T) {
	api := buildAPIHarness(t)

	created := performJSONRequest(t, api.router, http.MethodPost, httpapi.FeedbackRoutePath, validPayload("Ananya"), nil)
	require.Equal(t, http.StatusOK, created.Code)

	response := decodeCreateResponse(t, created)
	require.Equal(t, "Successful Feedback created", response.Message)
	require.NotEmpty(t, response.Feedback.ID)
	require.False(t, response.Feedback.CreatedAt.IsZero())
	require.Equal(t, "Ananya", response.Feedback.CustomerName)

	feedbacks := listFeedback(t, api.router)
	require.Len(t, feedbacks, 1)
	require.Equal(t, response.Feedback.ID, feedbacks[0].ID)
	require.Equal(t, "Ananya", feedbacks[0].CustomerName)
	require.Equal(t, "guest@example.com", feedbacks[0].Email)
	require.Equal(t, "1234567890", feedbacks[0].Phone)
	require.Equal(t, "IN", feedbacks[0].Country)
}

func TestListReturnsEmptyArray(t *testing.T) {
	api := buildAPIHarness(t)

	recorder := performJSONRequest(t, api.router, http.MethodGet, httpapi.FeedbackRoutePath, nil, nil)
	require.Equal(t, http.StatusOK, recorder.Code)
	require.JSONEq(t, `[]`, recorder.Body.String())
}

func TestCreateRejectsInvalidDraft(t *testing.T) {
	api := buildAPIHarness(t)

	payload := validPayload("Jane")
	payload["email"] = "jane@x.com"
	payload["phone"] = "555"

	recorder := performJSONRequest(t, api.router, http.MethodPost, httpapi.FeedbackRoutePath, payload, nil)
	require.Equal(t, http.StatusBadRequest, recorder.Code)

	var body struct {
		Error  string            `json:"error"`
		Fields map[string]string `json:"fields"`
	}
	require.NoError(t, json.Unmarshal(recorder.Body.Bytes(), &body))
	require.Equal(t, "validation_failed", body.Error)
	require.Equal(t, map[string]string{validation.FieldPhone: validation.MessagePhoneInvalid}, body.Fields)

	require.Empty(t, listFeedback(t, api.router))
}

func TestCreateRejectsMissingRequiredFields(t *testing.T) {
	api := buildAPIHarness(t)

	recorder := performJSONRequest(t, api.router, http.MethodPost, httpapi.FeedbackRoutePath, map[string]any{
		"serviceQuality":    "Good",
		"cleanliness":       "Good",
		"overallExperience": "Good",
	}, nil)
	require.Equal(t, http.StatusBadRequest, recorder.Code)
	require.Contains(t, recorder.Body.String(), validation.MessageCustomerNameRequired)
	require.Contains(t, recorder.Body.String(), validation.MessageEmailRequired)
	require.Contains(t, recorder.Body.String(), validation.MessagePhoneRequired)
}

func TestCreateRejectsRatingOutsideEnumeration(t *testing.T) {
	api := buildAPIHarness(t)

	payload := validPayload("Rohan")
	payload["cleanliness"] = "Sparkling"

	recorder := performJSONRequest(t, api.router, http.MethodPost, httpapi.FeedbackRoutePath, payload, nil)
	require.Equal(t, http.StatusBadRequest, recorder.Code)
	require.Contains(t, recorder.Body.String(), "invalid_feedback_rating")
}

func TestCreateRejectsMalformedJSON(t *testing.T) {
	api := buildAPIHarness(t)

	request := httptest.NewRequest(http.MethodPost, httpapi.FeedbackRoutePath, bytes.NewBufferString("{not json"))
	request.Header.Set("Content-Type", "application/json")
	recorder := httptest.NewRecorder()
	api.router.ServeHTTP(recorder, request)

	require.Equal(t, http.StatusBadRequest, recorder.Code)
	require.JSONEq(t, `{"error":"invalid_json"}`, recorder.Body.String())
}

func TestCreateDeduplicatesIdempotencyKey(t *testing.T) {
	api := buildAPIHarness(t)
	headers := map[string]string{httpapi.IdempotencyKeyHeader: "submission-42"}

	first := performJSONRequest(t, api.router, http.MethodPost, httpapi.FeedbackRoutePath, validPayload("Vikram"), headers)
	require.Equal(t, http.StatusOK, first.Code)
	require.Empty(t, first.Header().Get(httpapi.IdempotentReplayHeader))

	second := performJSONRequest(t, api.router, http.MethodPost, httpapi.FeedbackRoutePath, validPayload("Vikram"), headers)
	require.Equal(t, http.StatusOK, second.Code)
	require.Equal(t, "true", second.Header().Get(httpapi.IdempotentReplayHeader))

	require.Equal(t, decodeCreateResponse(t, first).Feedback.ID, decodeCreateResponse(t, second).Feedback.ID)
	require.Len(t, listFeedback(t, api.router), 1)
}

func TestCreateAcceptsSubmissionTokenInBody(t *testing.T) {
	api := buildAPIHarness(t)

	payload := validPayload("Leela")
	payload["submissionToken"] = "body-token"

	require.Equal(t, http.StatusOK, performJSONRequest(t, api.router, http.MethodPost, httpapi.FeedbackRoutePath, payload, nil).Code)
	require.Equal(t, http.StatusOK, performJSONRequest(t, api.router, http.MethodPost, httpapi.FeedbackRoutePath, payload, nil).Code)
	require.Len(t, listFeedback(t, api.router), 1)
}

func TestCreateWithoutTokenStoresDuplicates(t *testing.T) {
	api := buildAPIHarness(t)

	require.Equal(t, http.StatusOK, performJSONRequest(t, api.router, http.MethodPost, httpapi.FeedbackRoutePath, validPayload("Sam"), nil).Code)
	require.Equal(t, http.StatusOK, performJSONRequest(t, api.router, http.MethodPost, httpapi.FeedbackRoutePath, validPayload("Sam"), nil).Code)
	require.Len(t, listFeedback(t, api.router), 2)
}

func TestDeleteRemovesRecordAndIsIdempotent(t *testing.T) {
	api := buildAPIHarness(t)

	first := decodeCreateResponse(t, performJSONRequest(t, api.router, http.MethodPost, httpapi.FeedbackRoutePath, validPayload("Asha"), nil))
	second := decodeCreateResponse(t, performJSONRequest(t, api.router, http.MethodPost, httpapi.FeedbackRoutePath, validPayload("Bela"), nil))

	deleted := performJSONRequest(t, api.router, http.MethodDelete, "/feedback/"+first.Feedback.ID, nil, nil)
	require.Equal(t, http.StatusNoContent, deleted.Code)

	deletedAgain := performJSONRequest(t, api.router, http.MethodDelete, "/feedback/"+first.Feedback.ID, nil, nil)
	require.Equal(t, http.StatusNoContent, deletedAgain.Code)

	missing := performJSONRequest(t, api.router, http.MethodDelete, "/feedback/"+storage.NewID(), nil, nil)
	require.Equal(t, http.StatusNoContent, missing.Code)

	feedbacks := listFeedback(t, api.router)
	require.Len(t, feedbacks, 1)
	require.Equal(t, second.Feedback.ID, feedbacks[0].ID)
}

func TestBatchDeleteReportsPerIDOutcomes(t *testing.T) {
	api := buildAPIHarness(t)

	first := decodeCreateResponse(t, performJSONRequest(t, api.router, http.MethodPost, httpapi.FeedbackRoutePath, validPayload("Chitra"), nil))
	second := decodeCreateResponse(t, performJSONRequest(t, api.router, http.MethodPost, httpapi.FeedbackRoutePath, validPayload("Dev"), nil))
	unknownID := storage.NewID()

	recorder := performJSONRequest(t, api.router, http.MethodPost, httpapi.FeedbackBatchDeleteRoutePath, map[string]any{
		"ids": []string{first.Feedback.ID, unknownID, "  "},
	}, nil)
	require.Equal(t, http.StatusOK, recorder.Code)

	var body struct {
		Results []httpapi.BatchDeleteResult `json:"results"`
	}
	require.NoError(t, json.Unmarshal(recorder.Body.Bytes(), &body))
	require.Equal(t, []httpapi.BatchDeleteResult{
		{ID: first.Feedback.ID, Deleted: true},
		{ID: unknownID, Deleted: true},
		{ID: "", Deleted: false, Error: "missing_id"},
	}, body.Results)

	feedbacks := listFeedback(t, api.router)
	require.Len(t, feedbacks, 1)
	require.Equal(t, second.Feedback.ID, feedbacks[0].ID)
}

func TestBatchDeleteRequiresIDs(t *testing.T) {
	api := buildAPIHarness(t)

	recorder := performJSONRequest(t, api.router, http.MethodPost, httpapi.FeedbackBatchDeleteRoutePath, map[string]any{"ids": []string{}}, nil)
	require.Equal(t, http.StatusBadRequest, recorder.Code)
	require.JSONEq(t, `{"error":"missing_ids"}`, recorder.Body.String())
}

func TestHealthReportsDatabaseState(t *testing.T) {
	api := buildAPIHarness(t)

	require.Equal(t, http.StatusOK, performJSONRequest(t, api.router, http.MethodGet, httpapi.HealthRoutePath, nil, nil).Code)

	sqlDatabase, err := api.database.DB()
	require.NoError(t, err)
	require.NoError(t, sqlDatabase.Close())

	require.Equal(t, http.StatusServiceUnavailable, performJSONRequest(t, api.router, http.MethodGet, httpapi.HealthRoutePath, nil, nil).Code)
}

func TestListReportsStorageFailure(t *testing.T) {
	api := buildAPIHarness(t)

	sqlDatabase, err := api.database.DB()
	require.NoError(t, err)
	require.NoError(t, sqlDatabase.Close())

	recorder := performJSONRequest(t, api.router, http.MethodGet, httpapi.FeedbackRoutePath, nil, nil)
	require.Equal(t, http.StatusBadRequest, recorder.Code)
	require.Contains(t, recorder.Body.String(), "error")
}

type failingStore struct {
	createErr error
	deleteErr error
}

func (store failingStore) Create(context.Context, model.Feedback, string) (storage.CreateResult, error) {
	return storage.CreateResult{}, store.createErr
}

func (store failingStore) List(context.Context) ([]model.Feedback, error) {
	return []model.Feedback{}, nil
}

func (store failingStore) Delete(context.Context, string) (bool, error) {
	return false, store.deleteErr
}

func (store failingStore) Count(context.Context) (int64, error) {
	return 0, nil
}

func (store failingStore) Ping(context.Context) error {
	return nil
}

func TestCreateReturnsRawPersistenceError(t *testing.T) {
	gin.SetMode(gin.TestMode)
	store := failingStore{createErr: errors.New("NOT NULL constraint failed: feedbacks.phone")}
	router := httpapi.NewRouter(httpapi.RouterConfig{
		Handlers: httpapi.NewFeedbackHandlers(store, zap.NewNop(), nil, nil),
	})

	recorder := performJSONRequest(t, router, http.MethodPost, httpapi.FeedbackRoutePath, validPayload("Omar"), nil)
	require.Equal(t, http.StatusBadRequest, recorder.Code)
	require.JSONEq(t, `{"error":"NOT NULL constraint failed: feedbacks.phone"}`, recorder.Body.String())
}

func TestDeleteReportsStorageFailure(t *testing.T) {
	gin.SetMode(gin.TestMode)
	store := failingStore{deleteErr: errors.New("disk I/O error")}
	router := httpapi.NewRouter(httpapi.RouterConfig{
		Handlers: httpapi.NewFeedbackHandlers(store, zap.NewNop(), nil, nil),
	})

	recorder := performJSONRequest(t, router, http.MethodDelete, "/feedback/abc", nil, nil)
	require.Equal(t, http.StatusBadRequest, recorder.Code)

	batch := performJSONRequest(t, router, http.MethodPost, httpapi.FeedbackBatchDeleteRoutePath, map[string]any{"ids": []string{"abc"}}, nil)
	require.Equal(t, http.StatusOK, batch.Code)
	require.JSONEq(t, `{"results":[{"id":"abc","deleted":false,"error":"disk I/O error"}]}`, batch.Body.String())
}
