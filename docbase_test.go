package docbase

import (
	"path/filepath"
	"testing"

	"github.com/nainya/docbase/pkg/fts"
)

func openTestDB(t *testing.T) *Database {
	t.Helper()
	dir := t.TempDir()
	db, err := Open(filepath.Join(dir, "test.db"), DefaultOptions())
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return db
}

func TestInsertFindByIDRoundTrip(t *testing.T) {
	db := openTestDB(t)

	tx := db.Begin()
	defer tx.Rollback()

	id, err := tx.Collection("docs").Insert(map[string]any{"title": "hello"})
	if err != nil {
		t.Fatalf("insert: %v", err)
	}
	if err := tx.Commit(); err != nil {
		t.Fatalf("commit: %v", err)
	}

	tx2 := db.Begin()
	defer tx2.Rollback()
	doc, err := tx2.Collection("docs").FindByID(id)
	if err != nil {
		t.Fatalf("find: %v", err)
	}
	if doc["title"] != "hello" {
		t.Fatalf("unexpected doc: %+v", doc)
	}
}

func TestUpdateByIDMergesFields(t *testing.T) {
	db := openTestDB(t)

	tx := db.Begin()
	id, err := tx.Collection("docs").Insert(map[string]any{"title": "hello", "status": "draft"})
	if err != nil {
		t.Fatalf("insert: %v", err)
	}
	if err := tx.Commit(); err != nil {
		t.Fatalf("commit: %v", err)
	}

	tx2 := db.Begin()
	defer tx2.Rollback()
	if err := tx2.Collection("docs").UpdateByID(id, map[string]any{"status": "published"}); err != nil {
		t.Fatalf("update: %v", err)
	}
	if err := tx2.Commit(); err != nil {
		t.Fatalf("commit: %v", err)
	}

	tx3 := db.Begin()
	defer tx3.Rollback()
	doc, err := tx3.Collection("docs").FindByID(id)
	if err != nil {
		t.Fatalf("find: %v", err)
	}
	if doc["title"] != "hello" || doc["status"] != "published" {
		t.Fatalf("expected merged fields, got %+v", doc)
	}
}

func TestDeleteByIDRemovesDocument(t *testing.T) {
	db := openTestDB(t)

	tx := db.Begin()
	id, err := tx.Collection("docs").Insert(map[string]any{"title": "hello"})
	if err != nil {
		t.Fatalf("insert: %v", err)
	}
	if err := tx.Commit(); err != nil {
		t.Fatalf("commit: %v", err)
	}

	tx2 := db.Begin()
	defer tx2.Rollback()
	if err := tx2.Collection("docs").DeleteByID(id); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if err := tx2.Commit(); err != nil {
		t.Fatalf("commit: %v", err)
	}

	tx3 := db.Begin()
	defer tx3.Rollback()
	if _, err := tx3.Collection("docs").FindByID(id); err == nil {
		t.Fatal("expected NotFound after delete")
	}
}

func TestUniqueIndexRejectsDuplicateValues(t *testing.T) {
	db := openTestDB(t)

	tx := db.Begin()
	docs := tx.Collection("users")
	if err := docs.CreateIndex("by_email", "email", true); err != nil {
		t.Fatalf("create index: %v", err)
	}
	if _, err := docs.Insert(map[string]any{"email": "a@example.com"}); err != nil {
		t.Fatalf("insert: %v", err)
	}
	if err := tx.Commit(); err != nil {
		t.Fatalf("commit: %v", err)
	}

	tx2 := db.Begin()
	defer tx2.Rollback()
	_, err := tx2.Collection("users").Insert(map[string]any{"email": "a@example.com"})
	if err == nil {
		t.Fatal("expected unique violation")
	}
}

func TestFullTextSearchRanksByFieldWeight(t *testing.T) {
	db := openTestDB(t)

	tx := db.Begin()
	defer tx.Rollback()
	articles := tx.Collection("articles")
	if err := articles.EnableSearch([]fts.FieldWeight{
		{Field: "title", Weight: 3},
		{Field: "body", Weight: 1},
	}); err != nil {
		t.Fatalf("enable search: %v", err)
	}

	if _, err := articles.Insert(map[string]any{"title": "retention basics", "body": "overview"}); err != nil {
		t.Fatalf("insert: %v", err)
	}
	if _, err := articles.Insert(map[string]any{"title": "vacation policy", "body": "retention schedule details"}); err != nil {
		t.Fatalf("insert: %v", err)
	}

	results, err := articles.Search("retention", 10)
	if err != nil {
		t.Fatalf("search: %v", err)
	}
	if len(results) != 2 {
		t.Fatalf("expected 2 matches, got %d", len(results))
	}
	if results[0].Score <= results[1].Score {
		t.Fatalf("expected title match to outrank body-only match, got %+v", results)
	}
}

func TestConcurrentTransactionsRebaseOnCommit(t *testing.T) {
	db := openTestDB(t)

	tx1 := db.Begin()
	tx2 := db.Begin()

	if _, err := tx1.Collection("accounts").Insert(map[string]any{"name": "alpha"}); err != nil {
		t.Fatalf("insert tx1: %v", err)
	}
	if err := tx1.Commit(); err != nil {
		t.Fatalf("commit tx1: %v", err)
	}

	if _, err := tx2.Collection("accounts").Insert(map[string]any{"name": "beta"}); err != nil {
		t.Fatalf("insert tx2: %v", err)
	}
	if err := tx2.Commit(); err != nil {
		t.Fatalf("commit tx2 (expected rebase): %v", err)
	}

	tx3 := db.Begin()
	defer tx3.Rollback()
	count, err := tx3.Collection("accounts").Count()
	if err != nil {
		t.Fatalf("count: %v", err)
	}
	if count != 2 {
		t.Fatalf("expected 2 accounts after rebase, got %d", count)
	}
}

func TestWatchDeliversChangeAfterCommit(t *testing.T) {
	db := openTestDB(t)

	watchTx := db.Begin()
	defer watchTx.Rollback()
	sub := watchTx.Collection("docs").Watch()
	defer sub.Close()

	tx := db.Begin()
	id, err := tx.Collection("docs").Insert(map[string]any{"title": "hello"})
	if err != nil {
		t.Fatalf("insert: %v", err)
	}
	if err := tx.Commit(); err != nil {
		t.Fatalf("commit: %v", err)
	}

	ev := <-sub.Events()
	if ev.DocID != id || ev.Op != "insert" {
		t.Fatalf("unexpected event: %+v", ev)
	}
}

func TestInfoReportsCollectionsAndCounts(t *testing.T) {
	db := openTestDB(t)

	tx := db.Begin()
	if _, err := tx.Collection("docs").Insert(map[string]any{"title": "a"}); err != nil {
		t.Fatalf("insert: %v", err)
	}
	if _, err := tx.Collection("docs").Insert(map[string]any{"title": "b"}); err != nil {
		t.Fatalf("insert: %v", err)
	}
	if err := tx.Commit(); err != nil {
		t.Fatalf("commit: %v", err)
	}

	info, err := db.Info()
	if err != nil {
		t.Fatalf("info: %v", err)
	}
	if info.TotalDocuments != 2 || len(info.Collections) != 1 {
		t.Fatalf("unexpected info: %+v", info)
	}
	if info.Collections[0].DocumentCount != 2 {
		t.Fatalf("unexpected document count: %+v", info.Collections[0])
	}
}

func TestMetricsReflectCommitsAndAborts(t *testing.T) {
	db := openTestDB(t)

	tx := db.Begin()
	if _, err := tx.Collection("docs").Insert(map[string]any{"title": "a"}); err != nil {
		t.Fatalf("insert: %v", err)
	}
	if err := tx.Commit(); err != nil {
		t.Fatalf("commit: %v", err)
	}

	aborted := db.Begin()
	if _, err := aborted.Collection("docs").Insert(map[string]any{"title": "b"}); err != nil {
		t.Fatalf("insert: %v", err)
	}
	aborted.Rollback()

	m := db.Metrics()
	if m.TransactionsCommitted != 1 {
		t.Fatalf("expected 1 committed transaction, got %d", m.TransactionsCommitted)
	}
	if m.TransactionsAborted != 1 {
		t.Fatalf("expected the rolled-back transaction to count as aborted, got %d", m.TransactionsAborted)
	}
}

func TestCheckpointReducesFrameCount(t *testing.T) {
	db := openTestDB(t)

	tx := db.Begin()
	if _, err := tx.Collection("docs").Insert(map[string]any{"title": "a"}); err != nil {
		t.Fatalf("insert: %v", err)
	}
	if err := tx.Commit(); err != nil {
		t.Fatalf("commit: %v", err)
	}

	if db.FrameCount() == 0 {
		t.Fatal("expected at least one WAL frame after commit")
	}
	if err := db.Checkpoint(); err != nil {
		t.Fatalf("checkpoint: %v", err)
	}
	if db.FrameCount() != 0 {
		t.Fatalf("expected checkpoint to reset frame count, got %d", db.FrameCount())
	}
}

func TestReopenRecoversCommittedData(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "recover.db")

	db, err := Open(path, DefaultOptions())
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	tx := db.Begin()
	id, err := tx.Collection("docs").Insert(map[string]any{"title": "hello"})
	if err != nil {
		t.Fatalf("insert: %v", err)
	}
	if err := tx.Commit(); err != nil {
		t.Fatalf("commit: %v", err)
	}
	if err := db.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}

	db2, err := Open(path, DefaultOptions())
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer db2.Close()

	tx2 := db2.Begin()
	defer tx2.Rollback()
	doc, err := tx2.Collection("docs").FindByID(id)
	if err != nil {
		t.Fatalf("find after reopen: %v", err)
	}
	if doc["title"] != "hello" {
		t.Fatalf("unexpected doc after recovery: %+v", doc)
	}
}
