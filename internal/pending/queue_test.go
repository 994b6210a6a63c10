package pending

import (
	"path/filepath"
	"testing"

	"mingling-chat/internal/auth"
)

func TestQueueRequestTake(t *testing.T) {
	q, err := NewQueue(nil)
	if err != nil {
		t.Fatalf("init: %v", err)
	}
	fresh, err := q.Request(auth.User{ID: 2, Username: "bob"})
	if err != nil || !fresh {
		t.Fatalf("first request: fresh=%v err=%v", fresh, err)
	}
	if fresh, _ := q.Request(auth.User{ID: 2, Username: "bob"}); fresh {
		t.Fatalf("repeated request should not be fresh")
	}
	_, _ = q.Request(auth.User{ID: 1, Username: "alice"})

	items := q.List()
	if len(items) != 2 || items[0].ID != 1 {
		t.Fatalf("unexpected items: %+v", items)
	}

	u, ok, err := q.Take(2)
	if err != nil || !ok || u.Username != "bob" {
		t.Fatalf("take: %+v %v %v", u, ok, err)
	}
	if _, ok, _ := q.Take(2); ok {
		t.Fatalf("request taken twice")
	}
}

func TestQueuePersists(t *testing.T) {
	repo, err := auth.NewFileRepository(filepath.Join(t.TempDir(), "pending.json"))
	if err != nil {
		t.Fatalf("repo: %v", err)
	}
	q, _ := NewQueue(repo)
	if _, err := q.Request(auth.User{ID: 7, FirstName: "G"}); err != nil {
		t.Fatalf("request: %v", err)
	}

	reloaded, err := NewQueue(repo)
	if err != nil {
		t.Fatalf("reload: %v", err)
	}
	if items := reloaded.List(); len(items) != 1 || items[0].ID != 7 {
		t.Fatalf("not persisted: %+v", items)
	}
	if _, _, err := reloaded.Take(7); err != nil {
		t.Fatalf("take: %v", err)
	}
	if users, _ := repo.LoadAll(); len(users) != 0 {
		t.Fatalf("take not persisted: %+v", users)
	}
}
