package service

import (
	"testing"

	"chathub/internal/db"
	"chathub/internal/models"

	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// testDB opens an isolated in-memory database with the full schema.
func testDB(t *testing.T) *gorm.DB {
	t.Helper()
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
	// :memory: is per connection, keep the pool at one
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = sqlDB.Close() })
	if err := db.Migrate(gdb); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	return gdb
}

func mkUser(t *testing.T, gdb *gorm.DB, name string, tag int) models.User {
	t.Helper()
	user := models.User{Username: name, UsernameID: tag, PasswordHash: "x"}
	if err := gdb.Create(&user).Error; err != nil {
		t.Fatalf("create user %s#%02d: %v", name, tag, err)
	}
	return user
}

func mkEmote(t *testing.T, gdb *gorm.DB, name string) models.Emote {
	t.Helper()
	emote := models.Emote{Name: name}
	if err := gdb.Create(&emote).Error; err != nil {
		t.Fatalf("create emote %s: %v", name, err)
	}
	return emote
}

// chatFixture is a group chat with an owner and one extra member.
type chatFixture struct {
	gdb    *gorm.DB
	owner  models.User
	member models.User
	graph  *GroupChatGraph
}

func newChatFixture(t *testing.T) *chatFixture {
	t.Helper()
	gdb := testDB(t)
	owner := mkUser(t, gdb, "alice", 0)
	member := mkUser(t, gdb, "bob", 4)

	chats := NewChatService(gdb)
	graph, err := chats.CreateGroupChat(owner.ID, "den")
	if err != nil {
		t.Fatalf("create group chat: %v", err)
	}
	if _, _, err := chats.AddMember(graph.Chat.ID, member.ID); err != nil {
		t.Fatalf("add member: %v", err)
	}
	return &chatFixture{gdb: gdb, owner: owner, member: member, graph: graph}
}

func (f *chatFixture) groupID() uint {
	return f.graph.DefaultChannel.BacklogGroupID
}
