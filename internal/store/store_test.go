package store

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/matheus3301/chatsync/internal/model"
)

func testDB(t *testing.T) *DB {
	t.Helper()
	path := filepath.Join(t.TempDir(), "test.db")
	db, err := Open(path)
	if err != nil {
		t.Fatal(err)
	}
	if err := db.Init(context.Background()); err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = db.Close() })
	return db
}

func ts(sec int64) model.Timestamp {
	return model.At(time.Unix(sec, 0).UTC())
}

func TestInitIsIdempotent(t *testing.T) {
	db := testDB(t)

	result, err := db.Migrate()
	if err != nil {
		t.Fatal(err)
	}
	if result.Changed {
		t.Error("second Migrate() should report Changed=false")
	}
	if result.Version != 1 {
		t.Errorf("version = %d, want 1", result.Version)
	}
	if err := db.Init(context.Background()); err != nil {
		t.Errorf("second Init() error = %v", err)
	}
}

func TestInitCreatesCollections(t *testing.T) {
	db := testDB(t)

	for _, table := range []string{"rooms", "messages", "files", "offline_queue", "sync_state"} {
		var name string
		err := db.QueryRow(`SELECT name FROM sqlite_master WHERE type = 'table' AND name = ?`, table).Scan(&name)
		if err != nil {
			t.Errorf("table %s missing: %v", table, err)
		}
	}
	for _, index := range []string{"idx_messages_room_id", "idx_messages_created_at", "idx_offline_queue_created_at"} {
		var name string
		err := db.QueryRow(`SELECT name FROM sqlite_master WHERE type = 'index' AND name = ?`, index).Scan(&name)
		if err != nil {
			t.Errorf("index %s missing: %v", index, err)
		}
	}
}

func TestOpenUnavailable(t *testing.T) {
	_, err := Open(filepath.Join(t.TempDir(), "missing", "dir", "x.db"))
	if err == nil {
		t.Fatal("Open() in a missing directory should fail")
	}
	if !errors.Is(err, ErrStorageUnavailable) {
		t.Errorf("error = %v, want ErrStorageUnavailable", err)
	}
}

func TestSaveRoomUpsert(t *testing.T) {
	db := testDB(t)
	ctx := context.Background()

	room := &model.Room{
		ID: "r1", Type: model.RoomGroup, Name: "Team",
		Members:   []model.Member{{ID: "1", Name: "Kim"}, {ID: "2", Name: "Lee"}},
		CreatedAt: ts(100),
	}
	if err := db.SaveRoom(ctx, room); err != nil {
		t.Fatal(err)
	}
	room.Name = "Team A"
	room.Hidden = true
	room.UnreadCount = 3
	if err := db.SaveRoom(ctx, room); err != nil {
		t.Fatal(err)
	}

	rooms, err := db.GetRooms(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if len(rooms) != 1 {
		t.Fatalf("got %d rooms, want 1", len(rooms))
	}
	got := rooms[0]
	if got.Name != "Team A" || !got.Hidden || got.UnreadCount != 3 {
		t.Errorf("room = %+v", got)
	}
	if len(got.Members) != 2 || got.Members[1].Name != "Lee" {
		t.Errorf("members = %+v", got.Members)
	}
	if !got.CreatedAt.Equal(room.CreatedAt.Time) {
		t.Errorf("created_at = %v, want %v", got.CreatedAt, room.CreatedAt)
	}

	if err := db.DeleteRoom(ctx, "r1"); err != nil {
		t.Fatal(err)
	}
	if r, err := db.GetRoom(ctx, "r1"); err != nil || r != nil {
		t.Errorf("GetRoom after delete = %v, %v", r, err)
	}
}

func TestGetMessagesReturnsRecentWindowAscending(t *testing.T) {
	db := testDB(t)
	ctx := context.Background()

	for i := int64(1); i <= 5; i++ {
		m := &model.Message{
			ID: model.ID(string(rune('0' + i))), RoomID: "r1", UserID: "u1",
			Content: "msg", Type: model.MessageText, CreatedAt: ts(i * 10),
		}
		if err := db.SaveMessage(ctx, m); err != nil {
			t.Fatal(err)
		}
	}
	if err := db.SaveMessage(ctx, &model.Message{ID: "x", RoomID: "r2", CreatedAt: ts(1000)}); err != nil {
		t.Fatal(err)
	}

	msgs, err := db.GetMessages(ctx, "r1", 3)
	if err != nil {
		t.Fatal(err)
	}
	if len(msgs) != 3 {
		t.Fatalf("got %d messages, want 3", len(msgs))
	}
	want := []model.ID{"3", "4", "5"}
	for i, m := range msgs {
		if m.ID != want[i] {
			t.Errorf("msgs[%d].ID = %s, want %s", i, m.ID, want[i])
		}
	}
}

func TestSaveMessageOverwritesSameID(t *testing.T) {
	db := testDB(t)
	ctx := context.Background()

	m := &model.Message{ID: "10", RoomID: "r1", UserID: "u1", Content: "hi", CreatedAt: ts(1)}
	if err := db.SaveMessage(ctx, m); err != nil {
		t.Fatal(err)
	}
	m.ReadBy = []model.ID{"u2"}
	m.File = &model.FileInfo{Name: "a.png", Size: 12, MimeType: "image/png"}
	m.Type = model.MessageFile
	if err := db.SaveMessage(ctx, m); err != nil {
		t.Fatal(err)
	}

	msgs, err := db.GetMessages(ctx, "r1", 10)
	if err != nil {
		t.Fatal(err)
	}
	if len(msgs) != 1 {
		t.Fatalf("got %d messages, want 1", len(msgs))
	}
	if !msgs[0].HasReader("u2") {
		t.Errorf("read_by = %v, want [u2]", msgs[0].ReadBy)
	}
	if msgs[0].File == nil || msgs[0].File.Name != "a.png" {
		t.Errorf("file = %+v", msgs[0].File)
	}
}

func TestGetLastMessageID(t *testing.T) {
	db := testDB(t)
	ctx := context.Background()

	id, err := db.GetLastMessageID(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if id != "" {
		t.Errorf("empty store cursor = %q, want empty", id)
	}

	_ = db.SaveMessage(ctx, &model.Message{ID: "5", RoomID: "r1", CreatedAt: ts(50)})
	_ = db.SaveMessage(ctx, &model.Message{ID: "3", RoomID: "r2", CreatedAt: ts(30)})
	_ = db.SaveMessage(ctx, &model.Message{ID: "temp_1_x", RoomID: "r1", CreatedAt: ts(60), Pending: true})

	id, err = db.GetLastMessageID(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if id != "5" {
		t.Errorf("cursor = %q, want 5", id)
	}

	// Re-saving an older message does not move the cursor.
	_ = db.SaveMessage(ctx, &model.Message{ID: "3", RoomID: "r2", CreatedAt: ts(30), ReadBy: []model.ID{"u9"}})
	id, _ = db.GetLastMessageID(ctx)
	if id != "5" {
		t.Errorf("cursor after re-save = %q, want 5", id)
	}

	// Equal timestamps: the later insert wins.
	_ = db.SaveMessage(ctx, &model.Message{ID: "6", RoomID: "r2", CreatedAt: ts(50)})
	id, _ = db.GetLastMessageID(ctx)
	if id != "6" {
		t.Errorf("cursor after tie = %q, want 6", id)
	}
}

func TestCursorIgnoresLateHistory(t *testing.T) {
	db := testDB(t)
	ctx := context.Background()

	// A tail sync brings in the newest message, then a room's older
	// history is loaded after it.
	_ = db.SaveMessage(ctx, &model.Message{ID: "100", RoomID: "r1", CreatedAt: ts(100)})
	for _, m := range []model.Message{
		{ID: "1", RoomID: "r1", CreatedAt: ts(1)},
		{ID: "2", RoomID: "r1", CreatedAt: ts(2)},
	} {
		if err := db.SaveMessage(ctx, &m); err != nil {
			t.Fatal(err)
		}
	}

	id, err := db.GetLastMessageID(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if id != "100" {
		t.Errorf("cursor = %q, want 100", id)
	}
}

func TestOfflineQueue(t *testing.T) {
	db := testDB(t)
	ctx := context.Background()

	entries := []model.QueueEntry{
		{TempID: "temp_2", RoomID: "r1", Content: "second", CreatedAt: ts(2)},
		{TempID: "temp_1", RoomID: "r1", Content: "first", CreatedAt: ts(1)},
		{TempID: "temp_3", RoomID: "r2", Content: "third", CreatedAt: ts(3)},
	}
	for i := range entries {
		if err := db.SaveToOfflineQueue(ctx, &entries[i]); err != nil {
			t.Fatal(err)
		}
	}

	got, err := db.GetOfflineQueue(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 3 || got[0].Content != "first" || got[2].Content != "third" {
		t.Fatalf("queue order = %+v", got)
	}

	if err := db.RemoveFromOfflineQueue(ctx, "temp_1"); err != nil {
		t.Fatal(err)
	}
	if n, _ := db.CountOfflineQueue(ctx); n != 2 {
		t.Errorf("count after remove = %d, want 2", n)
	}

	if err := db.ClearOfflineQueue(ctx); err != nil {
		t.Fatal(err)
	}
	if n, _ := db.CountOfflineQueue(ctx); n != 0 {
		t.Errorf("count after clear = %d, want 0", n)
	}
}

func TestFiles(t *testing.T) {
	db := testDB(t)
	ctx := context.Background()

	if f, err := db.GetFile(ctx, "missing"); err != nil || f != nil {
		t.Errorf("GetFile(missing) = %v, %v", f, err)
	}

	f := &model.File{ID: "f1", RoomID: "r1", Name: "report.pdf", Size: 2048, MimeType: "application/pdf", URL: "/files/f1", UploadedAt: ts(9)}
	if err := db.SaveFile(ctx, f); err != nil {
		t.Fatal(err)
	}
	got, err := db.GetFile(ctx, "f1")
	if err != nil {
		t.Fatal(err)
	}
	if got == nil || got.Name != "report.pdf" || got.Size != 2048 || !got.UploadedAt.Equal(f.UploadedAt.Time) {
		t.Errorf("GetFile = %+v", got)
	}
}

func TestSearchMessages(t *testing.T) {
	db := testDB(t)
	ctx := context.Background()

	_ = db.SaveMessage(ctx, &model.Message{ID: "1", RoomID: "r1", Content: "lunch at noon", CreatedAt: ts(1)})
	_ = db.SaveMessage(ctx, &model.Message{ID: "2", RoomID: "r2", Content: "Lunch moved", CreatedAt: ts(2)})
	_ = db.SaveMessage(ctx, &model.Message{ID: "3", RoomID: "r1", Content: "100% done", CreatedAt: ts(3)})

	got, err := db.SearchMessages(ctx, "lunch", 10)
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 2 || got[0].ID != "2" {
		t.Errorf("search lunch = %+v", got)
	}

	got, err = db.SearchMessages(ctx, "0%", 10)
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 1 || got[0].ID != "3" {
		t.Errorf("search with wildcard char = %+v", got)
	}
}

func TestCheckpoints(t *testing.T) {
	db := testDB(t)
	ctx := context.Background()

	v, err := db.GetCheckpoint(ctx, CheckpointLastSyncAt)
	if err != nil || v != "" {
		t.Errorf("unset checkpoint = %q, %v", v, err)
	}
	if err := db.SetCheckpoint(ctx, CheckpointLastSyncAt, "1"); err != nil {
		t.Fatal(err)
	}
	if err := db.SetCheckpoint(ctx, CheckpointLastSyncAt, "2"); err != nil {
		t.Fatal(err)
	}
	v, _ = db.GetCheckpoint(ctx, CheckpointLastSyncAt)
	if v != "2" {
		t.Errorf("checkpoint = %q, want 2", v)
	}
}
