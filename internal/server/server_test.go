package server

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"chathub/internal/config"
	"chathub/internal/db"
	"chathub/internal/models"
	"chathub/internal/service"
	"chathub/internal/ws"

	"github.com/gin-gonic/gin"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

func testServer(t *testing.T) (*gin.Engine, *gorm.DB) {
	t.Helper()
	gin.SetMode(gin.TestMode)

	gdb, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	sqlDB, err := gdb.DB()
	if err != nil {
		t.Fatalf("sql db: %v", err)
	}
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = sqlDB.Close() })
	if err := db.Migrate(gdb); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	if err := db.SeedEmotes(gdb); err != nil {
		t.Fatalf("seed emotes: %v", err)
	}

	cfg := config.Config{
		Env:                   "dev",
		Port:                  "8080",
		JWTSecret:             "test-secret",
		AccessTokenTTLMinutes: 15,
		RefreshTokenTTLDays:   7,
		InviteTTLHours:        24,
	}
	hub := ws.NewHub()
	users := service.NewUserService(gdb, cfg)
	chats := service.NewChatService(gdb)
	backlogs := service.NewBacklogService(gdb)
	reactions := service.NewReactionService(gdb)
	authority := service.NewAuthorityService(gdb)
	trackers := service.NewTrackerService(gdb, backlogs, authority)
	friendships := service.NewFriendshipService(gdb)
	invites := service.NewInviteService(gdb, chats)

	wsRouter := ws.NewRouter(hub, users, chats, backlogs, reactions, trackers, authority, friendships)
	handler := NewHandler(cfg, hub, users, chats, backlogs, reactions, trackers, authority, friendships, invites)
	return SetupRouter(cfg, gdb, handler, wsRouter), gdb
}

func doJSON(t *testing.T, r *gin.Engine, method, path, token string, body interface{}) (*httptest.ResponseRecorder, map[string]interface{}) {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("encode body: %v", err)
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	var out map[string]interface{}
	if w.Body.Len() > 0 {
		_ = json.Unmarshal(w.Body.Bytes(), &out)
	}
	return w, out
}

func registerAndLogin(t *testing.T, r *gin.Engine, username, password string) string {
	t.Helper()
	w, _ := doJSON(t, r, http.MethodPost, "/api/v1/auth/register", "", gin.H{"username": username, "password": password})
	if w.Code != http.StatusOK {
		t.Fatalf("register %s: status %d, body %s", username, w.Code, w.Body.String())
	}
	w, body := doJSON(t, r, http.MethodPost, "/api/v1/auth/login", "", gin.H{"username": username, "password": password})
	if w.Code != http.StatusOK {
		t.Fatalf("login %s: status %d, body %s", username, w.Code, w.Body.String())
	}
	token, _ := body["access_token"].(string)
	if token == "" {
		t.Fatalf("login %s: no access token in %v", username, body)
	}
	return token
}

func TestHealthz(t *testing.T) {
	r, _ := testServer(t)
	w, body := doJSON(t, r, http.MethodGet, "/healthz", "", nil)
	if w.Code != http.StatusOK || body["status"] != "ok" {
		t.Errorf("healthz = %d %v", w.Code, body)
	}
}

func TestAuthFlow(t *testing.T) {
	r, _ := testServer(t)

	w, _ := doJSON(t, r, http.MethodPost, "/api/v1/auth/register", "", gin.H{"username": "x", "password": "pw"})
	if w.Code != http.StatusBadRequest {
		t.Errorf("short username: status %d, want 400", w.Code)
	}

	w, body := doJSON(t, r, http.MethodPost, "/api/v1/auth/register", "", gin.H{"username": "alice", "password": "hunter22"})
	if w.Code != http.StatusOK {
		t.Fatalf("register: status %d, body %s", w.Code, w.Body.String())
	}
	if body["full_name"] != "alice#00" {
		t.Errorf("full_name = %v, want alice#00", body["full_name"])
	}

	w, _ = doJSON(t, r, http.MethodPost, "/api/v1/auth/login", "", gin.H{"username": "alice", "password": "wrong"})
	if w.Code != http.StatusUnauthorized {
		t.Errorf("bad password: status %d, want 401", w.Code)
	}

	w, body = doJSON(t, r, http.MethodPost, "/api/v1/auth/login", "", gin.H{"username": "alice#00", "password": "hunter22"})
	if w.Code != http.StatusOK {
		t.Fatalf("login: status %d", w.Code)
	}
	refresh, _ := body["refresh_token"].(string)

	w, rotated := doJSON(t, r, http.MethodPost, "/api/v1/auth/refresh", "", gin.H{"refresh_token": refresh})
	if w.Code != http.StatusOK {
		t.Fatalf("refresh: status %d", w.Code)
	}
	if rotated["refresh_token"] == refresh {
		t.Error("refresh token not rotated")
	}
	w, _ = doJSON(t, r, http.MethodPost, "/api/v1/auth/refresh", "", gin.H{"refresh_token": refresh})
	if w.Code != http.StatusUnauthorized {
		t.Errorf("revoked refresh: status %d, want 401", w.Code)
	}
}

func TestChatEndpoints(t *testing.T) {
	r, _ := testServer(t)
	owner := registerAndLogin(t, r, "alice", "hunter22")

	w, _ := doJSON(t, r, http.MethodPost, "/api/v1/chats", "", gin.H{"name": "den"})
	if w.Code != http.StatusUnauthorized {
		t.Fatalf("unauthenticated create: status %d, want 401", w.Code)
	}

	w, body := doJSON(t, r, http.MethodPost, "/api/v1/chats", owner, gin.H{"name": "den"})
	if w.Code != http.StatusOK {
		t.Fatalf("create chat: status %d, body %s", w.Code, w.Body.String())
	}
	chat := body["chat"].(map[string]interface{})
	chatID := int(chat["id"].(float64))
	channel := body["default_channel"].(map[string]interface{})
	channelID := int(channel["id"].(float64))

	w, body = doJSON(t, r, http.MethodGet, "/api/v1/chats", owner, nil)
	if w.Code != http.StatusOK {
		t.Fatalf("list chats: status %d", w.Code)
	}
	chatsList := body["chats"].([]interface{})
	if len(chatsList) != 1 {
		t.Fatalf("chats = %v, want one", chatsList)
	}

	w, _ = doJSON(t, r, http.MethodPost, fmt.Sprintf("/api/v1/chats/%d/channels", chatID), owner, gin.H{"name": "random"})
	if w.Code != http.StatusForbidden {
		// base role lacks channel management
		t.Errorf("create channel without capability: status %d, want 403", w.Code)
	}

	w, body = doJSON(t, r, http.MethodGet, fmt.Sprintf("/api/v1/channels/%d/backlogs", channelID), owner, nil)
	if w.Code != http.StatusOK {
		t.Fatalf("list backlogs: status %d", w.Code)
	}
	entries := body["backlogs"].([]interface{})
	if len(entries) != 0 {
		t.Fatalf("backlogs = %v, want empty timeline for a fresh chat", entries)
	}

	w, body = doJSON(t, r, http.MethodGet, fmt.Sprintf("/api/v1/chats/%d/unreads", chatID), owner, nil)
	if w.Code != http.StatusOK {
		t.Fatalf("unread summary: status %d", w.Code)
	}
	if body["total"].(float64) != 0 {
		t.Errorf("total unread = %v, want 0", body["total"])
	}
	channels := body["channels"].([]interface{})
	if len(channels) != 1 {
		t.Errorf("unread channels = %v, want the default channel", channels)
	}
}

func TestInviteEndpoints(t *testing.T) {
	r, gdb := testServer(t)
	owner := registerAndLogin(t, r, "alice", "hunter22")
	guest := registerAndLogin(t, r, "bob", "hunter33")

	w, body := doJSON(t, r, http.MethodPost, "/api/v1/chats", owner, gin.H{"name": "den"})
	if w.Code != http.StatusOK {
		t.Fatalf("create chat: status %d", w.Code)
	}
	chatID := int(body["chat"].(map[string]interface{})["id"].(float64))

	w, _ = doJSON(t, r, http.MethodPost, fmt.Sprintf("/api/v1/chats/%d/invites", chatID), owner, gin.H{"one_time": true})
	if w.Code != http.StatusForbidden {
		// owner holds only the base role, which cannot mint invites
		t.Fatalf("invite without capability: status %d, want 403", w.Code)
	}

	// grant the capability through the base role and retry
	if err := gdb.Model(&models.Role{}).
		Where("chat_id = ? AND is_base = ?", chatID, true).
		Update("can_manage_invite", true).Error; err != nil {
		t.Fatalf("grant invite capability: %v", err)
	}
	w, body = doJSON(t, r, http.MethodPost, fmt.Sprintf("/api/v1/chats/%d/invites", chatID), owner, gin.H{"one_time": true})
	if w.Code != http.StatusOK {
		t.Fatalf("create invite: status %d, body %s", w.Code, w.Body.String())
	}
	token := body["token"].(string)

	w, body = doJSON(t, r, http.MethodPost, "/api/v1/invites/"+token+"/join", guest, nil)
	if w.Code != http.StatusOK {
		t.Fatalf("join: status %d, body %s", w.Code, w.Body.String())
	}
	if int(body["chat_id"].(float64)) != chatID {
		t.Errorf("chat_id = %v, want %d", body["chat_id"], chatID)
	}

	// one-time invite is consumed
	w, _ = doJSON(t, r, http.MethodPost, "/api/v1/invites/"+token+"/join", owner, nil)
	if w.Code != http.StatusNotFound {
		t.Errorf("consumed invite: status %d, want 404", w.Code)
	}

	w, body = doJSON(t, r, http.MethodGet, "/api/v1/chats", guest, nil)
	if w.Code != http.StatusOK || len(body["chats"].([]interface{})) != 1 {
		t.Errorf("guest chats = %v", body)
	}

	w, _ = doJSON(t, r, http.MethodPost, fmt.Sprintf("/api/v1/chats/%d/leave", chatID), guest, nil)
	if w.Code != http.StatusNoContent {
		t.Errorf("leave: status %d, want 204", w.Code)
	}
}

func TestPrivateChatAndFriendshipEndpoints(t *testing.T) {
	r, _ := testServer(t)
	alice := registerAndLogin(t, r, "alice", "hunter22")
	_ = registerAndLogin(t, r, "bob", "hunter33")

	w, body := doJSON(t, r, http.MethodPost, "/api/v1/private-chats", alice, gin.H{"user_id": 2})
	if w.Code != http.StatusOK {
		t.Fatalf("open private chat: status %d, body %s", w.Code, w.Body.String())
	}
	first := body["id"]

	w, body = doJSON(t, r, http.MethodPost, "/api/v1/private-chats", alice, gin.H{"user_id": 2})
	if w.Code != http.StatusOK || body["id"] != first {
		t.Errorf("second open = %d %v, want same chat", w.Code, body)
	}

	w, _ = doJSON(t, r, http.MethodPost, "/api/v1/private-chats", alice, gin.H{"user_id": 999})
	if w.Code != http.StatusNotFound {
		t.Errorf("unknown counterpart: status %d, want 404", w.Code)
	}

	w, body = doJSON(t, r, http.MethodGet, "/api/v1/friendships", alice, nil)
	if w.Code != http.StatusOK || len(body["friendships"].([]interface{})) != 0 {
		t.Errorf("friendships = %v, want empty list", body)
	}

	w, body = doJSON(t, r, http.MethodGet, "/api/v1/emotes", alice, nil)
	if w.Code != http.StatusOK || len(body["emotes"].([]interface{})) == 0 {
		t.Errorf("emotes = %v, want seeded set", body)
	}
}
