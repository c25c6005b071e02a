package devserver

import (
	"context"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	"github.com/idilsaglam/livetodo/internal/model"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := OpenStore(filepath.Join(t.TempDir(), "todo.sqlite"), "TodoList")
	if err != nil {
		t.Fatalf("OpenStore: %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })
	return s
}

// fixedClock hands out increasing timestamps one second apart.
func fixedClock(start time.Time) func() time.Time {
	next := start
	return func() time.Time {
		t := next
		next = next.Add(time.Second)
		return t
	}
}

func TestStore_InsertListDelete(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t)
	start := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	s.now = fixedClock(start)

	a, err := s.Insert(ctx, model.NewItem{Name: "a"})
	if err != nil {
		t.Fatalf("Insert a: %v", err)
	}
	b, err := s.Insert(ctx, model.NewItem{Name: "b", IsCompleted: true})
	if err != nil {
		t.Fatalf("Insert b: %v", err)
	}

	want := []model.Item{
		{ID: 1, Name: "a", CreatedAt: start},
		{ID: 2, Name: "b", IsCompleted: true, CreatedAt: start.Add(time.Second)},
	}
	if diff := cmp.Diff(want, []model.Item{a, b}); diff != "" {
		t.Fatalf("inserted rows (-want +got):\n%s", diff)
	}

	got, err := s.List(ctx, true)
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Fatalf("List (-want +got):\n%s", diff)
	}

	old, found, err := s.Delete(ctx, 1)
	if err != nil || !found {
		t.Fatalf("Delete: found=%v err=%v", found, err)
	}
	if diff := cmp.Diff(want[0], old); diff != "" {
		t.Fatalf("deleted row (-want +got):\n%s", diff)
	}
	if _, found, err := s.Delete(ctx, 1); err != nil || found {
		t.Fatalf("second Delete: found=%v err=%v", found, err)
	}
}

func TestStore_ListOrdersByCreation(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t)
	base := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

	// Insert out of creation order: the later timestamp gets the lower id.
	s.now = func() time.Time { return base.Add(time.Hour) }
	if _, err := s.Insert(ctx, model.NewItem{Name: "later"}); err != nil {
		t.Fatal(err)
	}
	s.now = func() time.Time { return base }
	if _, err := s.Insert(ctx, model.NewItem{Name: "earlier"}); err != nil {
		t.Fatal(err)
	}

	ordered, err := s.List(ctx, true)
	if err != nil {
		t.Fatal(err)
	}
	if ordered[0].Name != "earlier" || ordered[1].Name != "later" {
		t.Fatalf("ordered list: %+v", ordered)
	}
	byID, err := s.List(ctx, false)
	if err != nil {
		t.Fatal(err)
	}
	if byID[0].Name != "later" {
		t.Fatalf("id-ordered list: %+v", byID)
	}
}

func TestStore_SetCompleted(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t)
	it, err := s.Insert(ctx, model.NewItem{Name: "a"})
	if err != nil {
		t.Fatal(err)
	}

	before, after, found, err := s.SetCompleted(ctx, it.ID, true)
	if err != nil || !found {
		t.Fatalf("SetCompleted: found=%v err=%v", found, err)
	}
	if before.IsCompleted || !after.IsCompleted {
		t.Fatalf("before=%+v after=%+v", before, after)
	}

	if _, _, found, err := s.SetCompleted(ctx, 99, true); err != nil || found {
		t.Fatalf("SetCompleted on missing row: found=%v err=%v", found, err)
	}
}

func TestStore_SetCompletedSeesEachTransitionOnce(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t)
	it, err := s.Insert(ctx, model.NewItem{Name: "a"})
	if err != nil {
		t.Fatal(err)
	}

	const writers = 16
	var (
		wg     sync.WaitGroup
		mu     sync.Mutex
		opened int
	)
	for i := 0; i < writers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			before, after, found, err := s.SetCompleted(ctx, it.ID, true)
			if err != nil || !found || !after.IsCompleted {
				t.Errorf("SetCompleted: found=%v after=%+v err=%v", found, after, err)
				return
			}
			if !before.IsCompleted {
				mu.Lock()
				opened++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()
	if opened != 1 {
		t.Fatalf("%d writers saw the row pending before their write, want 1", opened)
	}
}

// rejectName makes the table refuse rows called name.
func rejectName(t *testing.T, s *Store, name string) {
	t.Helper()
	ddl := `CREATE TRIGGER reject_name BEFORE INSERT ON ` + s.qname +
		` WHEN NEW.name = '` + name + `' BEGIN SELECT RAISE(ABORT, 'rejected'); END`
	if _, err := s.db.Exec(ddl); err != nil {
		t.Fatalf("create trigger: %v", err)
	}
}

func TestStore_InsertAllIsAtomic(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t)
	rejectName(t, s, "boom")

	_, err := s.InsertAll(ctx, []model.NewItem{{Name: "a"}, {Name: "boom"}})
	if err == nil {
		t.Fatal("expected error")
	}
	items, err := s.List(ctx, true)
	if err != nil {
		t.Fatal(err)
	}
	if len(items) != 0 {
		t.Fatalf("rows left behind by a failed batch: %+v", items)
	}

	created, err := s.InsertAll(ctx, []model.NewItem{{Name: "a"}, {Name: "b"}})
	if err != nil {
		t.Fatal(err)
	}
	if len(created) != 2 || created[0].Name != "a" || created[1].Name != "b" {
		t.Fatalf("created: %+v", created)
	}
}
