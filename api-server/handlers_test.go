package main

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"
)

func testRouter() *gin.Engine {
	gin.SetMode(gin.TestMode)
	router := gin.New()
	server := newServer(nil)
	router.POST("/api/listings", server.createListing)
	router.GET("/api/users/search", server.searchUsers)
	router.POST("/api/transactions", server.createTransaction)
	router.POST("/api/conversations", server.createConversation)
	router.GET("/api/conversations", server.listConversations)
	router.GET("/api/conversations/:id/messages", server.getMessages)
	return router
}

func TestRequestValidation(t *testing.T) {
	router := testRouter()

	tests := []struct {
		name   string
		method string
		path   string
		body   string
	}{
		{"listing without title", http.MethodPost, "/api/listings", `{"sellerId":"alice","price":500}`},
		{"listing with zero price", http.MethodPost, "/api/listings", `{"sellerId":"alice","title":"desk","price":0}`},
		{"listing with invalid json", http.MethodPost, "/api/listings", `{`},
		{"transaction without buyer", http.MethodPost, "/api/transactions", `{"listingId":"l-1"}`},
		{"conversation without listing", http.MethodPost, "/api/conversations", `{"buyerId":"bob"}`},
		{"user search without query", http.MethodGet, "/api/users/search", ""},
		{"conversations without user", http.MethodGet, "/api/conversations", ""},
		{"history with non-numeric cursor", http.MethodGet, "/api/conversations/c-1/messages?before=abc", ""},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			var req *http.Request
			if tc.body != "" {
				req = httptest.NewRequest(tc.method, tc.path, strings.NewReader(tc.body))
				req.Header.Set("Content-Type", "application/json")
			} else {
				req = httptest.NewRequest(tc.method, tc.path, nil)
			}
			w := httptest.NewRecorder()
			router.ServeHTTP(w, req)
			if w.Code != http.StatusBadRequest {
				t.Errorf("Expected 400, got %d (body %s)", w.Code, w.Body.String())
			}
			if !strings.Contains(w.Body.String(), "error") {
				t.Errorf("Expected an error payload, got %s", w.Body.String())
			}
		})
	}
}

func TestRequireAuthWithoutValidator(t *testing.T) {
	gin.SetMode(gin.TestMode)
	router := gin.New()
	router.GET("/ping", requireAuth(nil), func(c *gin.Context) {
		c.String(http.StatusOK, "pong")
	})

	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/ping", nil))
	if w.Code != http.StatusOK {
		t.Errorf("Expected a nil validator to pass requests through, got %d", w.Code)
	}
}

func TestReverseMessages(t *testing.T) {
	tests := []struct {
		name string
		ids  []int64
		want []int64
	}{
		{"empty", nil, nil},
		{"single", []int64{7}, []int64{7}},
		{"even", []int64{4, 3, 2, 1}, []int64{1, 2, 3, 4}},
		{"odd", []int64{3, 2, 1}, []int64{1, 2, 3}},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			msgs := make([]MessageRecord, len(tc.ids))
			for i, id := range tc.ids {
				msgs[i] = MessageRecord{Id: id}
			}
			reverseMessages(msgs)
			for i, want := range tc.want {
				if msgs[i].Id != want {
					t.Errorf("Position %d: expected id %d, got %d", i, want, msgs[i].Id)
				}
			}
		})
	}
}
