package server

import (
	"bytes"
	"encoding/json"
	"fmt"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"net/textproto"
	"strings"
	"testing"
	"time"

	"github.com/MarcoPoloResearchLab/marginalia/internal/annotations"
	"github.com/MarcoPoloResearchLab/marginalia/internal/auth"
	"github.com/MarcoPoloResearchLab/marginalia/internal/documents"
	"github.com/MarcoPoloResearchLab/marginalia/internal/identifier"
	"github.com/MarcoPoloResearchLab/marginalia/internal/users"
	githubsqlite "github.com/glebarez/sqlite"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type testEnvironment struct {
	server *httptest.Server
	hub    *RoomHub
	tokens *auth.TokenIssuer
	db     *gorm.DB
}

func newTestEnvironment(t *testing.T) *testEnvironment {
	t.Helper()
	gin.SetMode(gin.TestMode)

	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", t.Name())
	db, err := gorm.Open(githubsqlite.Open(dsn), &gorm.Config{})
	if err != nil {
		t.Fatalf("failed to open in-memory database: %v", err)
	}
	sqlDB, err := db.DB()
	if err != nil {
		t.Fatalf("failed to access database handle: %v", err)
	}
	sqlDB.SetMaxOpenConns(1)
	if err := db.AutoMigrate(&users.User{}, &documents.Document{}, &annotations.Annotation{}); err != nil {
		t.Fatalf("failed to migrate schema: %v", err)
	}

	idProvider := identifier.NewUUIDProvider()
	usersService, err := users.NewService(users.ServiceConfig{Database: db, IDProvider: idProvider})
	if err != nil {
		t.Fatalf("failed to construct users service: %v", err)
	}
	documentsService, err := documents.NewService(documents.ServiceConfig{Database: db, IDProvider: idProvider})
	if err != nil {
		t.Fatalf("failed to construct documents service: %v", err)
	}

	hub := NewRoomHub()
	annotationsService, err := annotations.NewService(annotations.ServiceConfig{
		Store:       annotations.NewStore(db),
		Ledger:      annotations.NewLedger(db),
		Broadcaster: hub,
		IDProvider:  idProvider,
		Logger:      zap.NewNop(),
	})
	if err != nil {
		t.Fatalf("failed to construct annotations service: %v", err)
	}

	tokenIssuer := auth.NewTokenIssuer(auth.TokenIssuerConfig{
		SigningSecret: []byte("test-signing-secret"),
		Issuer:        "marginalia-auth",
		Audience:      "marginalia-api",
		TokenTTL:      time.Minute,
	})

	handler, err := NewHTTPHandler(Dependencies{
		Users:        usersService,
		Documents:    documentsService,
		Annotations:  annotationsService,
		TokenManager: tokenIssuer,
		Hub:          hub,
		Logger:       zap.NewNop(),
	})
	if err != nil {
		t.Fatalf("failed to construct http handler: %v", err)
	}

	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)

	return &testEnvironment{server: server, hub: hub, tokens: tokenIssuer, db: db}
}

// registerUser drives POST /user and returns the stored user with a session
// token for subsequent authorized calls.
func (e *testEnvironment) registerUser(t *testing.T, username, email string) (users.User, string) {
	t.Helper()
	body := fmt.Sprintf(`{"username":%q,"email":%q}`, username, email)
	response, err := http.Post(e.server.URL+"/user", "application/json", strings.NewReader(body))
	if err != nil {
		t.Fatalf("user request failed: %v", err)
	}
	defer response.Body.Close()
	if response.StatusCode != http.StatusOK {
		t.Fatalf("unexpected user status: %d", response.StatusCode)
	}
	var payload struct {
		User        users.User `json:"user"`
		AccessToken string     `json:"access_token"`
	}
	if err := json.NewDecoder(response.Body).Decode(&payload); err != nil {
		t.Fatalf("failed to decode user response: %v", err)
	}
	if payload.AccessToken == "" {
		t.Fatal("expected a session token")
	}
	return payload.User, payload.AccessToken
}

// uploadTextDocument drives POST /upload with a small plain-text file.
func (e *testEnvironment) uploadTextDocument(t *testing.T, token, userID, name, content string) documents.Document {
	t.Helper()
	var buffer bytes.Buffer
	writer := multipart.NewWriter(&buffer)
	if err := writer.WriteField("userId", userID); err != nil {
		t.Fatalf("failed to write form field: %v", err)
	}
	header := textproto.MIMEHeader{}
	header.Set("Content-Disposition", fmt.Sprintf(`form-data; name="file"; filename=%q`, name))
	header.Set("Content-Type", "text/plain")
	part, err := writer.CreatePart(header)
	if err != nil {
		t.Fatalf("failed to create form part: %v", err)
	}
	if _, err := part.Write([]byte(content)); err != nil {
		t.Fatalf("failed to write file content: %v", err)
	}
	if err := writer.Close(); err != nil {
		t.Fatalf("failed to finish multipart body: %v", err)
	}

	request, err := http.NewRequest(http.MethodPost, e.server.URL+"/upload", &buffer)
	if err != nil {
		t.Fatalf("failed to construct upload request: %v", err)
	}
	request.Header.Set("Authorization", "Bearer "+token)
	request.Header.Set("Content-Type", writer.FormDataContentType())
	response, err := http.DefaultClient.Do(request)
	if err != nil {
		t.Fatalf("upload request failed: %v", err)
	}
	defer response.Body.Close()
	if response.StatusCode != http.StatusCreated {
		t.Fatalf("unexpected upload status: %d", response.StatusCode)
	}
	var document documents.Document
	if err := json.NewDecoder(response.Body).Decode(&document); err != nil {
		t.Fatalf("failed to decode upload response: %v", err)
	}
	return document
}

func (e *testEnvironment) doJSON(t *testing.T, method, path, token, body string) (*http.Response, []byte) {
	t.Helper()
	var reader *strings.Reader
	if body == "" {
		reader = strings.NewReader("")
	} else {
		reader = strings.NewReader(body)
	}
	request, err := http.NewRequest(method, e.server.URL+path, reader)
	if err != nil {
		t.Fatalf("failed to construct request: %v", err)
	}
	if token != "" {
		request.Header.Set("Authorization", "Bearer "+token)
	}
	if body != "" {
		request.Header.Set("Content-Type", "application/json")
	}
	response, err := http.DefaultClient.Do(request)
	if err != nil {
		t.Fatalf("request failed: %v", err)
	}
	defer response.Body.Close()
	var buffer bytes.Buffer
	if _, err := buffer.ReadFrom(response.Body); err != nil {
		t.Fatalf("failed to read response body: %v", err)
	}
	return response, buffer.Bytes()
}

func annotationBody(documentID, userID string, start, end int) string {
	return fmt.Sprintf(
		`{"documentId":%q,"userId":%q,"selectedText":"selected","comment":"a note","startIndex":%d,"endIndex":%d}`,
		documentID, userID, start, end)
}
