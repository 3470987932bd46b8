package handlers

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"

	"github.com/veldt/imagegate/pkg/models"
)

func performAccountRequest(handler gin.HandlerFunc, target, id string) *httptest.ResponseRecorder {
	req, _ := http.NewRequest(http.MethodGet, target, nil)
	w := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(w)
	c.Request = req
	if id != "" {
		c.Params = gin.Params{{Key: "id", Value: id}}
	}
	handler(c)
	return w
}

func TestAccountHandler_Add(t *testing.T) {
	expiry := time.Now().Add(720 * time.Hour)
	paid := &models.UserRecord{Identity: testIdentity, Tier: models.TierPaid, PremiumExpiresAt: &expiry}

	tests := []struct {
		name           string
		target         string
		mockSetup      func(*MockQuotaLedger)
		expectedStatus int
		expectedError  string
	}{
		{
			name:   "upgrade existing identity",
			target: "/add?id=" + testIdentity,
			mockSetup: func(ledger *MockQuotaLedger) {
				ledger.On("UpgradeToPaid", mock.Anything, testIdentity).Return(paid, nil)
			},
			expectedStatus: http.StatusOK,
		},
		{
			name:           "missing id parameter",
			target:         "/add",
			mockSetup:      func(*MockQuotaLedger) {},
			expectedStatus: http.StatusBadRequest,
			expectedError:  "MISSING_PARAM",
		},
		{
			name:           "invalid identity",
			target:         "/add?id=zzzzzzzzzzzzzzzz",
			mockSetup:      func(*MockQuotaLedger) {},
			expectedStatus: http.StatusForbidden,
			expectedError:  "IDENTITY_REJECTED",
		},
		{
			name:   "store failure",
			target: "/add?id=" + testIdentity,
			mockSetup: func(ledger *MockQuotaLedger) {
				ledger.On("UpgradeToPaid", mock.Anything, testIdentity).Return(nil, assert.AnError)
			},
			expectedStatus: http.StatusInternalServerError,
			expectedError:  "INTERNAL_ERROR",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ledger := new(MockQuotaLedger)
			tt.mockSetup(ledger)
			events := &eventRecorder{}
			handler := NewAccountHandler(quietLogger(), ledger, events)

			w := performAccountRequest(handler.Add, tt.target, "")

			assert.Equal(t, tt.expectedStatus, w.Code)
			if tt.expectedError != "" {
				assert.Equal(t, tt.expectedError, errorCode(t, w.Body.Bytes()))
			} else {
				var response map[string]interface{}
				assert.NoError(t, json.Unmarshal(w.Body.Bytes(), &response))
				assert.Equal(t, float64(200), response["code"])
				assert.Contains(t, response["message"], "PAID")
				assert.Equal(t, []string{"tier_change:" + testIdentity}, events.published)
			}
			ledger.AssertExpectations(t)
		})
	}
}

func TestAccountHandler_Check(t *testing.T) {
	tests := []struct {
		name           string
		id             string
		mockSetup      func(*MockQuotaLedger)
		expectedStatus int
		expectedMsg    string
		expectedError  string
	}{
		{
			name: "paid identity",
			id:   testIdentity,
			mockSetup: func(ledger *MockQuotaLedger) {
				ledger.On("GetRecord", mock.Anything, testIdentity).
					Return(&models.UserRecord{Identity: testIdentity, Tier: models.TierPaid}, nil)
			},
			expectedStatus: http.StatusOK,
			expectedMsg:    "PAID",
		},
		{
			name: "free identity",
			id:   testIdentity,
			mockSetup: func(ledger *MockQuotaLedger) {
				ledger.On("GetRecord", mock.Anything, testIdentity).
					Return(&models.UserRecord{Identity: testIdentity, Tier: models.TierFree}, nil)
			},
			expectedStatus: http.StatusOK,
			expectedMsg:    "FREE",
		},
		{
			// The response contract is binary: anything not PAID reads FREE,
			// banned records included.
			name: "banned identity",
			id:   testIdentity,
			mockSetup: func(ledger *MockQuotaLedger) {
				ledger.On("GetRecord", mock.Anything, testIdentity).
					Return(&models.UserRecord{Identity: testIdentity, Tier: models.TierBanned}, nil)
			},
			expectedStatus: http.StatusOK,
			expectedMsg:    "FREE",
		},
		{
			name:           "invalid identity",
			id:             "nope",
			mockSetup:      func(*MockQuotaLedger) {},
			expectedStatus: http.StatusBadRequest,
			expectedError:  "INVALID_IDENTITY",
		},
		{
			name: "unknown identity",
			id:   testIdentity,
			mockSetup: func(ledger *MockQuotaLedger) {
				ledger.On("GetRecord", mock.Anything, testIdentity).Return(nil, models.ErrRecordNotFound)
			},
			expectedStatus: http.StatusNotFound,
			expectedError:  "NOT_FOUND",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ledger := new(MockQuotaLedger)
			tt.mockSetup(ledger)
			handler := NewAccountHandler(quietLogger(), ledger, nil)

			w := performAccountRequest(handler.Check, "/check/"+tt.id, tt.id)

			assert.Equal(t, tt.expectedStatus, w.Code)
			if tt.expectedError != "" {
				assert.Equal(t, tt.expectedError, errorCode(t, w.Body.Bytes()))
			} else {
				var response map[string]interface{}
				assert.NoError(t, json.Unmarshal(w.Body.Bytes(), &response))
				assert.Equal(t, tt.expectedMsg, response["msg"])
			}
			ledger.AssertExpectations(t)
		})
	}
}

func TestAccountHandler_Info(t *testing.T) {
	lastRequest := time.Date(2025, 6, 15, 12, 0, 0, 0, time.UTC)
	record := &models.UserRecord{
		Identity:      testIdentity,
		LastRequestAt: &lastRequest,
		RequestsMade:  2,
		Tier:          models.TierFree,
	}

	ledger := new(MockQuotaLedger)
	ledger.On("GetRecord", mock.Anything, testIdentity).Return(record, nil)
	handler := NewAccountHandler(quietLogger(), ledger, nil)

	w := performAccountRequest(handler.Info, "/info/"+testIdentity, testIdentity)

	assert.Equal(t, http.StatusOK, w.Code)

	var got models.UserRecord
	assert.NoError(t, json.Unmarshal(w.Body.Bytes(), &got))
	assert.Equal(t, testIdentity, got.Identity)
	assert.Equal(t, 2, got.RequestsMade)
	assert.Equal(t, models.TierFree, got.Tier)
	ledger.AssertExpectations(t)
}

func TestAccountHandler_Ban(t *testing.T) {
	tests := []struct {
		name           string
		id             string
		mockSetup      func(*MockQuotaLedger)
		expectedStatus int
		expectedError  string
	}{
		{
			name: "ban existing identity",
			id:   testIdentity,
			mockSetup: func(ledger *MockQuotaLedger) {
				ledger.On("Ban", mock.Anything, testIdentity).Return(nil)
			},
			expectedStatus: http.StatusOK,
		},
		{
			name:           "invalid identity",
			id:             "xyz",
			mockSetup:      func(*MockQuotaLedger) {},
			expectedStatus: http.StatusBadRequest,
			expectedError:  "INVALID_IDENTITY",
		},
		{
			name: "unknown identity",
			id:   testIdentity,
			mockSetup: func(ledger *MockQuotaLedger) {
				ledger.On("Ban", mock.Anything, testIdentity).Return(models.ErrRecordNotFound)
			},
			expectedStatus: http.StatusNotFound,
			expectedError:  "NOT_FOUND",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ledger := new(MockQuotaLedger)
			tt.mockSetup(ledger)
			events := &eventRecorder{}
			handler := NewAccountHandler(quietLogger(), ledger, events)

			w := performAccountRequest(handler.Ban, "/ban/"+tt.id, tt.id)

			assert.Equal(t, tt.expectedStatus, w.Code)
			if tt.expectedError != "" {
				assert.Equal(t, tt.expectedError, errorCode(t, w.Body.Bytes()))
			} else {
				var response map[string]interface{}
				assert.NoError(t, json.Unmarshal(w.Body.Bytes(), &response))
				assert.Contains(t, response, "message")
				assert.Equal(t, []string{"tier_change:" + testIdentity}, events.published)
			}
			ledger.AssertExpectations(t)
		})
	}
}
