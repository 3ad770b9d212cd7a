package integration_test

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"regexp"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/MarcoPoloResearchLab/talenthub/internal/auth"
	"github.com/MarcoPoloResearchLab/talenthub/internal/credentials"
	"github.com/MarcoPoloResearchLab/talenthub/internal/crm"
	"github.com/MarcoPoloResearchLab/talenthub/internal/database"
	"github.com/MarcoPoloResearchLab/talenthub/internal/identity"
	"github.com/MarcoPoloResearchLab/talenthub/internal/mail"
	"github.com/MarcoPoloResearchLab/talenthub/internal/notifications"
	"github.com/MarcoPoloResearchLab/talenthub/internal/realtime"
	"github.com/MarcoPoloResearchLab/talenthub/internal/secrets"
	"github.com/MarcoPoloResearchLab/talenthub/internal/server"
	"github.com/MarcoPoloResearchLab/talenthub/internal/tokens"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"
)

const (
	signingSecret   = "integration-secret"
	frontendURL     = "http://frontend.test"
	adminEmail      = "admin@talenthub.test"
	adminPassword   = "Admin-Pass-2026"
	inviteeEmail    = "lea@talenthub.test"
	inviteePassword = "Lea-Pass-2026"
	jsonContentType = "application/json"
)

var inviteTokenPattern = regexp.MustCompile(`token=([A-Za-z0-9_\-%]+)`)

type capturingSender struct {
	mu   sync.Mutex
	sent []mail.Message
}

func (s *capturingSender) Send(_ context.Context, msg mail.Message) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sent = append(s.sent, msg)
	return nil
}

func (s *capturingSender) sentTo(recipient string) []mail.Message {
	s.mu.Lock()
	defer s.mu.Unlock()
	var matched []mail.Message
	for _, msg := range s.sent {
		if msg.To == recipient {
			matched = append(matched, msg)
		}
	}
	return matched
}

type frame struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data"`
}

type stack struct {
	server     *httptest.Server
	sender     *capturingSender
	dispatcher *notifications.Service
	adminID    string
}

func newStack(t *testing.T) *stack {
	t.Helper()
	gin.SetMode(gin.TestMode)
	logger := zap.NewNop()
	ctx := context.Background()

	db, err := database.OpenSQLite("file:"+uuid.NewString()+"?mode=memory&cache=shared", logger)
	require.NoError(t, err)

	sessionIssuer, err := auth.NewTokenIssuer(auth.TokenIssuerConfig{
		SigningSecret: []byte(signingSecret),
		Issuer:        auth.DefaultIssuer,
		Audience:      auth.DefaultAudience,
	})
	require.NoError(t, err)
	sessionValidator, err := auth.NewSessionValidator(auth.SessionValidatorConfig{
		SigningSecret: []byte(signingSecret),
		Issuer:        auth.DefaultIssuer,
		Audience:      auth.DefaultAudience,
	})
	require.NoError(t, err)

	accounts, err := identity.NewProvider(identity.ProviderConfig{
		Database:   db,
		Sessions:   sessionIssuer,
		BcryptCost: bcrypt.MinCost,
	})
	require.NoError(t, err)
	adminID, err := accounts.CreateAccount(ctx, adminEmail, adminPassword, identity.Metadata{Name: "Admin", Username: "admin", Role: identity.RoleAdmin})
	require.NoError(t, err)
	require.NoError(t, accounts.Activate(ctx, adminID))

	tokenConfig := tokens.Config{
		Store:  secrets.NewMemoryStore(nil),
		Policy: tokens.DefaultPolicy(),
		Keys:   tokens.KeyBuilder{Prefix: "integration"},
	}
	tokenIssuer, err := tokens.NewIssuer(tokenConfig)
	require.NoError(t, err)
	tokenVerifier, err := tokens.NewVerifier(tokenConfig)
	require.NoError(t, err)

	sender := &capturingSender{}
	outbox, err := mail.NewOutbox(mail.OutboxConfig{Sender: sender, Workers: 1, QueueSize: 8})
	require.NoError(t, err)
	t.Cleanup(outbox.Close)
	templates, err := mail.NewTemplates(mail.DefaultBrand(frontendURL))
	require.NoError(t, err)

	credentialService, err := credentials.NewService(credentials.ServiceConfig{
		Accounts:    accounts,
		Issuer:      tokenIssuer,
		Verifier:    tokenVerifier,
		Policy:      tokens.DefaultPolicy(),
		Outbox:      outbox,
		Templates:   templates,
		FrontendURL: frontendURL,
	})
	require.NoError(t, err)

	registry := realtime.NewRegistry()
	publisher, err := realtime.NewLocalPublisher(registry, logger)
	require.NoError(t, err)
	realtimeHandler, err := realtime.NewHandler(realtime.HandlerConfig{Registry: registry, Sessions: sessionValidator})
	require.NoError(t, err)

	store, err := notifications.NewStore(notifications.StoreConfig{Database: db})
	require.NoError(t, err)
	dispatcher, err := notifications.NewService(notifications.ServiceConfig{Store: store, Pusher: publisher})
	require.NoError(t, err)
	crmService, err := crm.NewService(crm.ServiceConfig{Database: db, Notifier: dispatcher, Events: publisher})
	require.NoError(t, err)

	handler, err := server.NewHTTPHandler(server.Dependencies{
		Sessions:      sessionValidator,
		Accounts:      accounts,
		Credentials:   credentialService,
		Notifications: store,
		CRM:           crmService,
		Realtime:      realtimeHandler,
		Logger:        logger,
	})
	require.NoError(t, err)

	testServer := httptest.NewServer(handler)
	t.Cleanup(testServer.Close)
	return &stack{server: testServer, sender: sender, dispatcher: dispatcher, adminID: adminID}
}

func (s *stack) post(t *testing.T, path, token string, body interface{}) (int, []byte) {
	t.Helper()
	return s.do(t, http.MethodPost, path, token, body)
}

func (s *stack) do(t *testing.T, method, path, token string, body interface{}) (int, []byte) {
	t.Helper()
	payload, err := json.Marshal(body)
	require.NoError(t, err)
	request, err := http.NewRequest(method, s.server.URL+"/v1/api"+path, bytes.NewReader(payload))
	require.NoError(t, err)
	request.Header.Set("Content-Type", jsonContentType)
	if token != "" {
		request.Header.Set("Authorization", "Bearer "+token)
	}
	response, err := http.DefaultClient.Do(request)
	require.NoError(t, err)
	defer response.Body.Close()
	var buffer bytes.Buffer
	_, err = buffer.ReadFrom(response.Body)
	require.NoError(t, err)
	return response.StatusCode, buffer.Bytes()
}

func (s *stack) login(t *testing.T, email, password string) identity.Session {
	t.Helper()
	status, body := s.post(t, "/user/login", "", map[string]string{"login": email, "password": password})
	require.Equal(t, http.StatusOK, status, string(body))
	var session identity.Session
	require.NoError(t, json.Unmarshal(body, &session))
	return session
}

func (s *stack) dial(t *testing.T, token string) *websocket.Conn {
	t.Helper()
	endpoint := "ws" + strings.TrimPrefix(s.server.URL, "http") + "/v1/api/realtime?access_token=" + url.QueryEscape(token)
	socket, _, err := websocket.DefaultDialer.Dial(endpoint, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = socket.Close() })
	return socket
}

func joinAs(t *testing.T, socket *websocket.Conn, recipientID string) {
	t.Helper()
	require.NoError(t, socket.WriteJSON(map[string]interface{}{
		"event": "join",
		"data":  map[string]string{"recipient_id": recipientID},
	}))
	joined := readFrame(t, socket, 2*time.Second)
	require.Equal(t, realtime.EventJoined, joined.Event)
}

func readFrame(t *testing.T, socket *websocket.Conn, wait time.Duration) frame {
	t.Helper()
	require.NoError(t, socket.SetReadDeadline(time.Now().Add(wait)))
	var received frame
	require.NoError(t, socket.ReadJSON(&received))
	return received
}

func waitForEvent(t *testing.T, socket *websocket.Conn, event string) frame {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		received := readFrame(t, socket, time.Until(deadline))
		if received.Event == event {
			return received
		}
	}
	t.Fatalf("event %s not received", event)
	return frame{}
}

func drainEvents(socket *websocket.Conn, wait time.Duration) []string {
	var names []string
	_ = socket.SetReadDeadline(time.Now().Add(wait))
	for {
		var received frame
		if err := socket.ReadJSON(&received); err != nil {
			return names
		}
		names = append(names, received.Event)
	}
}

func (s *stack) inviteToken(t *testing.T, email string) string {
	t.Helper()
	return s.mailedToken(t, email, 1)
}

// mailedToken extracts the token from the nth message sent to email.
func (s *stack) mailedToken(t *testing.T, email string, nth int) string {
	t.Helper()
	var messages []mail.Message
	require.Eventually(t, func() bool {
		messages = s.sender.sentTo(email)
		return len(messages) >= nth
	}, 2*time.Second, 10*time.Millisecond)
	message := messages[nth-1]
	match := inviteTokenPattern.FindStringSubmatch(message.HTML)
	require.Len(t, match, 2, message.HTML)
	token, err := url.QueryUnescape(match[1])
	require.NoError(t, err)
	return token
}

func (s *stack) inviteLea(t *testing.T, adminToken string) identity.Account {
	t.Helper()
	status, body := s.post(t, "/user/invite", adminToken, credentials.NewAccount{
		Email: inviteeEmail, Name: "Léa", Username: "lea", Role: identity.RoleUser,
	})
	require.Equal(t, http.StatusCreated, status, string(body))
	var account identity.Account
	require.NoError(t, json.Unmarshal(body, &account))
	return account
}

func TestInviteAcceptanceIsSingleUse(t *testing.T) {
	s := newStack(t)
	admin := s.login(t, adminEmail, adminPassword)

	status, body := s.post(t, "/user/invite", admin.AccessToken, credentials.NewAccount{
		Email: inviteeEmail, Name: "Léa", Username: "lea", Role: identity.RoleUser,
	})
	require.Equal(t, http.StatusCreated, status, string(body))

	status, _ = s.post(t, "/user/login", "", map[string]string{"login": inviteeEmail, "password": inviteePassword})
	require.NotEqual(t, http.StatusOK, status)

	token := s.inviteToken(t, inviteeEmail)
	accept := map[string]string{"email": inviteeEmail, "token": token, "password": inviteePassword}
	status, body = s.post(t, "/user/invite/accept", "", accept)
	require.Equal(t, http.StatusOK, status, string(body))
	var session identity.Session
	require.NoError(t, json.Unmarshal(body, &session))
	require.True(t, session.Account.Active)
	require.NotEmpty(t, session.AccessToken)

	status, body = s.post(t, "/user/invite/accept", "", accept)
	require.Equal(t, http.StatusUnauthorized, status, string(body))

	s.login(t, inviteeEmail, inviteePassword)
}

func TestAssignmentNotificationReachesOnlyItsRecipient(t *testing.T) {
	s := newStack(t)
	admin := s.login(t, adminEmail, adminPassword)

	status, body := s.post(t, "/user/invite", admin.AccessToken, credentials.NewAccount{
		Email: inviteeEmail, Name: "Léa", Username: "lea", Role: identity.RoleUser,
	})
	require.Equal(t, http.StatusCreated, status, string(body))
	status, body = s.post(t, "/user/invite/accept", "", map[string]string{
		"email": inviteeEmail, "token": s.inviteToken(t, inviteeEmail), "password": inviteePassword,
	})
	require.Equal(t, http.StatusOK, status, string(body))
	var invitee identity.Session
	require.NoError(t, json.Unmarshal(body, &invitee))

	adminSocket := s.dial(t, admin.AccessToken)
	joinAs(t, adminSocket, s.adminID)
	inviteeSocket := s.dial(t, invitee.AccessToken)
	joinAs(t, inviteeSocket, invitee.Account.ID)

	status, body = s.post(t, "/consultants", admin.AccessToken, map[string]string{
		"name": "Chloé", "commercial_id": invitee.Account.ID,
	})
	require.Equal(t, http.StatusCreated, status, string(body))

	pushed := waitForEvent(t, inviteeSocket, notifications.EventNotificationNew)
	var notification notifications.Notification
	require.NoError(t, json.Unmarshal(pushed.Data, &notification))
	require.Equal(t, invitee.Account.ID, notification.RecipientID)
	require.Equal(t, notifications.TypeAssignment, notification.Type)
	require.Equal(t, "Admin a assigné Chloé à vous.", notification.Message)

	s.dispatcher.Wait()
	adminEvents := drainEvents(adminSocket, 300*time.Millisecond)
	require.Contains(t, adminEvents, crm.EventConsultantCreated)
	require.NotContains(t, adminEvents, notifications.EventNotificationNew)
}

func TestPasswordResetBeforeAcceptanceActivatesAccount(t *testing.T) {
	s := newStack(t)
	admin := s.login(t, adminEmail, adminPassword)
	s.inviteLea(t, admin.AccessToken)
	inviteToken := s.inviteToken(t, inviteeEmail)

	status, body := s.post(t, "/user/password/forgot", "", map[string]string{"email": inviteeEmail})
	require.Equal(t, http.StatusOK, status, string(body))
	code := s.mailedToken(t, inviteeEmail, 2)

	status, body = s.post(t, "/user/password/reset", "", map[string]string{
		"email": inviteeEmail, "code": code, "new_password": inviteePassword,
	})
	require.Equal(t, http.StatusOK, status, string(body))

	session := s.login(t, inviteeEmail, inviteePassword)
	require.True(t, session.Account.Active)

	status, body = s.post(t, "/user/invite/accept", "", map[string]string{
		"email": inviteeEmail, "token": inviteToken, "password": "Another-Pass-2026",
	})
	require.Equal(t, http.StatusUnauthorized, status, string(body))
}

func TestAdminDeactivationBlocksLoginUntilReactivated(t *testing.T) {
	s := newStack(t)
	admin := s.login(t, adminEmail, adminPassword)
	account := s.inviteLea(t, admin.AccessToken)
	status, body := s.post(t, "/user/invite/accept", "", map[string]string{
		"email": inviteeEmail, "token": s.inviteToken(t, inviteeEmail), "password": inviteePassword,
	})
	require.Equal(t, http.StatusOK, status, string(body))

	status, body = s.do(t, http.MethodPatch, "/user/"+account.ID, admin.AccessToken, map[string]bool{"active": false})
	require.Equal(t, http.StatusOK, status, string(body))

	status, body = s.post(t, "/user/login", "", map[string]string{"login": inviteeEmail, "password": inviteePassword})
	require.Equal(t, http.StatusForbidden, status, string(body))
	require.Contains(t, string(body), "account_disabled")

	status, body = s.do(t, http.MethodPatch, "/user/"+account.ID, admin.AccessToken, map[string]bool{"active": true})
	require.Equal(t, http.StatusOK, status, string(body))
	s.login(t, inviteeEmail, inviteePassword)

	status, body = s.do(t, http.MethodDelete, "/user/"+account.ID, admin.AccessToken, nil)
	require.Equal(t, http.StatusNoContent, status, string(body))
	status, _ = s.post(t, "/user/login", "", map[string]string{"login": inviteeEmail, "password": inviteePassword})
	require.Equal(t, http.StatusUnauthorized, status)
}
