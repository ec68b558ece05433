package audit

import (
	"context"
	"database/sql"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/nerrad567/microcoaster-core/internal/infrastructure/database"
	_ "github.com/nerrad567/microcoaster-core/migrations"
)

func setupTestDB(t *testing.T) *sql.DB {
	t.Helper()

	db, err := database.Open(database.Config{
		Path:        filepath.Join(t.TempDir(), "audit-test.db"),
		BusyTimeout: 5,
	})
	if err != nil {
		t.Fatalf("opening test db: %v", err)
	}
	t.Cleanup(func() { db.Close() }) //nolint:errcheck // Test cleanup

	if err := db.Migrate(context.Background()); err != nil {
		t.Fatalf("applying migrations: %v", err)
	}
	return db.DB
}

func TestRecord_FillsDefaults(t *testing.T) {
	repo := NewSQLiteRepository(setupTestDB(t))
	ctx := context.Background()

	e := &Entry{Action: ActionModuleClaim, ModuleID: "MC-0001-ST", UserID: "usr-1", Details: map[string]any{"name": "Main switch"}}
	if err := repo.Record(ctx, e); err != nil {
		t.Fatalf("Record() error = %v", err)
	}
	if e.ID == "" || e.CreatedAt.IsZero() {
		t.Errorf("Record() left defaults empty: %+v", e)
	}

	page, err := repo.List(ctx, Filter{})
	if err != nil {
		t.Fatalf("List() error = %v", err)
	}
	if page.Total != 1 || len(page.Entries) != 1 {
		t.Fatalf("List() = %+v, want one entry", page)
	}
	got := page.Entries[0]
	if got.ID != e.ID || got.ModuleID != "MC-0001-ST" || got.Details["name"] != "Main switch" {
		t.Errorf("entry = %+v", got)
	}
	if !got.CreatedAt.Equal(e.CreatedAt.Truncate(time.Microsecond)) {
		t.Errorf("CreatedAt = %v, want %v", got.CreatedAt, e.CreatedAt)
	}
}

func TestRecord_RequiresAction(t *testing.T) {
	repo := NewSQLiteRepository(setupTestDB(t))
	if err := repo.Record(context.Background(), &Entry{UserID: "usr-1"}); !errors.Is(err, ErrMissingAction) {
		t.Errorf("Record() error = %v, want ErrMissingAction", err)
	}
}

func TestList_FilterAndOrder(t *testing.T) {
	repo := NewSQLiteRepository(setupTestDB(t))
	ctx := context.Background()
	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	seed := []Entry{
		{Action: ActionLogin, UserID: "usr-1"},
		{Action: ActionModuleClaim, ModuleID: "MC-0001-ST", UserID: "usr-1"},
		{Action: ActionModuleRelease, ModuleID: "MC-0001-ST", UserID: "usr-1"},
		{Action: ActionModuleClaim, ModuleID: "MC-0001-ST", UserID: "usr-2"},
		{Action: ActionLogin, UserID: "usr-2"},
	}
	for i := range seed {
		seed[i].CreatedAt = base.Add(time.Duration(i) * 500 * time.Millisecond)
		if err := repo.Record(ctx, &seed[i]); err != nil {
			t.Fatalf("Record(%d) error = %v", i, err)
		}
	}

	tests := []struct {
		name      string
		filter    Filter
		wantTotal int
		wantFirst string // user of the newest entry
	}{
		{"all", Filter{}, 5, "usr-2"},
		{"by action", Filter{Action: ActionModuleClaim}, 2, "usr-2"},
		{"by module", Filter{ModuleID: "MC-0001-ST"}, 3, "usr-2"},
		{"by user", Filter{UserID: "usr-1"}, 3, "usr-1"},
		{"combined", Filter{Action: ActionLogin, UserID: "usr-1"}, 1, "usr-1"},
		{"no match", Filter{Action: ActionModuleProvision}, 0, ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			page, err := repo.List(ctx, tt.filter)
			if err != nil {
				t.Fatalf("List() error = %v", err)
			}
			if page.Total != tt.wantTotal || len(page.Entries) != tt.wantTotal {
				t.Fatalf("List() total = %d, entries = %d, want %d", page.Total, len(page.Entries), tt.wantTotal)
			}
			if tt.wantTotal > 0 && page.Entries[0].UserID != tt.wantFirst {
				t.Errorf("newest user = %q, want %q", page.Entries[0].UserID, tt.wantFirst)
			}
			for i := 1; i < len(page.Entries); i++ {
				if page.Entries[i].CreatedAt.After(page.Entries[i-1].CreatedAt) {
					t.Errorf("entries not newest first at %d", i)
				}
			}
		})
	}
}

func TestList_Paging(t *testing.T) {
	repo := NewSQLiteRepository(setupTestDB(t))
	ctx := context.Background()
	for range 5 {
		if err := repo.Record(ctx, &Entry{Action: ActionLogin}); err != nil {
			t.Fatalf("Record() error = %v", err)
		}
	}

	tests := []struct {
		name        string
		filter      Filter
		wantLen     int
		wantLimit   int
		wantOffset int
	}{
		{"default limit", Filter{}, 5, defaultLimit, 0},
		{"clamped limit", Filter{Limit: 1000}, 5, maxLimit, 0},
		{"second page", Filter{Limit: 2, Offset: 2}, 2, 2, 2},
		{"past the end", Filter{Limit: 2, Offset: 10}, 0, 2, 10},
		{"negative offset", Filter{Limit: 3, Offset: -4}, 3, 3, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			page, err := repo.List(ctx, tt.filter)
			if err != nil {
				t.Fatalf("List() error = %v", err)
			}
			if len(page.Entries) != tt.wantLen || page.Limit != tt.wantLimit || page.Offset != tt.wantOffset {
				t.Errorf("List() = len %d limit %d offset %d", len(page.Entries), page.Limit, page.Offset)
			}
			if page.Total != 5 {
				t.Errorf("Total = %d, want 5", page.Total)
			}
		})
	}
}
