package ticket

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	"github.com/hitoshi/ticketdesk/internal/model"
	"github.com/hitoshi/ticketdesk/internal/storage"
)

// --- テストダブル ---

// faultyKV は書き込み・読み込みの失敗を切り替えられるKV。
type faultyKV struct {
	storage.KV
	failGet bool
	failSet bool
	sets    int
}

func newFaultyKV() *faultyKV {
	return &faultyKV{KV: storage.NewMemoryBackend().Namespace("test")}
}

func (f *faultyKV) Get(ctx context.Context, key string) (string, bool, error) {
	if f.failGet {
		return "", false, errors.New("injected get failure")
	}
	return f.KV.Get(ctx, key)
}

func (f *faultyKV) Set(ctx context.Context, key, value string) error {
	f.sets++
	if f.failSet {
		return errors.New("injected set failure")
	}
	return f.KV.Set(ctx, key, value)
}

// fakeClock は手動で進める時計。
type fakeClock struct {
	t time.Time
}

func (c *fakeClock) Now() time.Time { return c.t }

var baseTime = time.Date(2025, 3, 1, 9, 0, 0, 0, time.UTC)

func newLoadedStore(t *testing.T, kv storage.KV, opts ...Option) *Store {
	t.Helper()
	s := NewStore(kv, nil, opts...)
	if err := s.Load(context.Background()); err != nil {
		t.Fatalf("Load: %v", err)
	}
	return s
}

func mustCreate(t *testing.T, s *Store, title string, status model.TicketStatus) model.Ticket {
	t.Helper()
	created, err := s.Create(context.Background(), model.TicketInput{Title: title, Status: status})
	if err != nil {
		t.Fatalf("Create(%q): %v", title, err)
	}
	return *created
}

func strPtr(s string) *string { return &s }

func statusPtr(s model.TicketStatus) *model.TicketStatus { return &s }

// --- Load ---

func TestLoad_MissingKey_EmptyCollection(t *testing.T) {
	s := NewStore(newFaultyKV(), nil)
	if !s.Loading() {
		t.Error("Loading() = false before Load")
	}

	if err := s.Load(context.Background()); err != nil {
		t.Fatalf("Load returned error: %v", err)
	}
	if s.Loading() {
		t.Error("Loading() = true after Load")
	}
	if got := s.List(); len(got) != 0 {
		t.Errorf("List() = %v, want empty", got)
	}
}

func TestLoad_CorruptKey_KeepsStoredValue(t *testing.T) {
	ctx := context.Background()
	kv := newFaultyKV()
	kv.KV.Set(ctx, TicketsKey, "{broken")
	s := NewStore(kv, nil)

	err := s.Load(ctx)
	if !model.HasCode(err, model.ErrCodeStorageRead) {
		t.Fatalf("err = %v, want STORAGE_READ_FAILED", err)
	}
	if s.Loading() {
		t.Error("Loading() = true after failed Load")
	}
	if got := s.List(); len(got) != 0 {
		t.Errorf("List() = %v, want empty", got)
	}

	raw, ok, _ := kv.KV.Get(ctx, TicketsKey)
	if !ok || raw != "{broken" {
		t.Errorf("stored tickets = %q (ok=%v), want untouched", raw, ok)
	}
}

func TestLoad_InvalidRecord_ReturnsReadErrorAndKeepsKey(t *testing.T) {
	tests := []struct {
		name string
		raw  string
	}{
		{"unknown status and reversed timestamps", `[{"id":"a","title":"","status":"bogus","createdAt":"2025-01-02T00:00:00Z","updatedAt":"2025-01-01T00:00:00Z"}]`},
		{"unknown status", `[{"id":"a","title":"t","status":"bogus","createdAt":"2025-01-01T00:00:00Z","updatedAt":"2025-01-01T00:00:00Z"}]`},
		{"empty title", `[{"id":"a","title":"","status":"open","createdAt":"2025-01-01T00:00:00Z","updatedAt":"2025-01-01T00:00:00Z"}]`},
		{"title too long", `[{"id":"a","title":"` + strings.Repeat("x", 201) + `","status":"open","createdAt":"2025-01-01T00:00:00Z","updatedAt":"2025-01-01T00:00:00Z"}]`},
		{"updatedAt before createdAt", `[{"id":"a","title":"t","status":"open","createdAt":"2025-01-02T00:00:00Z","updatedAt":"2025-01-01T00:00:00Z"}]`},
		{"empty id", `[{"id":"","title":"t","status":"open","createdAt":"2025-01-01T00:00:00Z","updatedAt":"2025-01-01T00:00:00Z"}]`},
		{"duplicate id", `[{"id":"a","title":"t","status":"open","createdAt":"2025-01-01T00:00:00Z","updatedAt":"2025-01-01T00:00:00Z"},{"id":"a","title":"u","status":"closed","createdAt":"2025-01-01T00:00:00Z","updatedAt":"2025-01-01T00:00:00Z"}]`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ctx := context.Background()
			kv := newFaultyKV()
			kv.KV.Set(ctx, TicketsKey, tt.raw)
			s := NewStore(kv, nil)

			err := s.Load(ctx)
			if !model.HasCode(err, model.ErrCodeStorageRead) {
				t.Fatalf("err = %v, want STORAGE_READ_FAILED", err)
			}
			if s.Loading() {
				t.Error("Loading() = true after failed Load")
			}
			if got := s.List(); len(got) != 0 {
				t.Errorf("List() = %v, want empty", got)
			}
			want := map[model.TicketStatus]int{
				model.TicketStatusOpen:       0,
				model.TicketStatusInProgress: 0,
				model.TicketStatusClosed:     0,
			}
			if diff := cmp.Diff(want, s.Counts()); diff != "" {
				t.Errorf("Counts mismatch (-want +got):\n%s", diff)
			}

			raw, ok, _ := kv.KV.Get(ctx, TicketsKey)
			if !ok || raw != tt.raw {
				t.Errorf("stored tickets = %q (ok=%v), want untouched", raw, ok)
			}
		})
	}
}

func TestLoad_ReadError_EndsLoading(t *testing.T) {
	kv := newFaultyKV()
	kv.failGet = true
	s := NewStore(kv, nil)

	if err := s.Load(context.Background()); err == nil {
		t.Fatal("expected error")
	}
	if s.Loading() {
		t.Error("Loading() = true after failed Load")
	}
}

// --- Create ---

func TestCreate_SetsIdenticalTimestampsAndPersists(t *testing.T) {
	kv := newFaultyKV()
	clock := &fakeClock{t: baseTime}
	s := newLoadedStore(t, kv, WithClock(clock.Now))

	created, err := s.Create(context.Background(), model.TicketInput{
		Title:       "ログイン画面が崩れる",
		Description: "Safariでのみ発生",
		Status:      model.TicketStatusOpen,
	})
	if err != nil {
		t.Fatalf("Create returned error: %v", err)
	}
	if created.ID == "" {
		t.Error("ID is empty")
	}
	if !created.CreatedAt.Equal(baseTime) || !created.UpdatedAt.Equal(created.CreatedAt) {
		t.Errorf("timestamps = %v / %v, want both %v", created.CreatedAt, created.UpdatedAt, baseTime)
	}

	raw, _, _ := kv.Get(context.Background(), TicketsKey)
	var stored []model.Ticket
	if err := json.Unmarshal([]byte(raw), &stored); err != nil {
		t.Fatalf("stored tickets are not JSON: %v", err)
	}
	if diff := cmp.Diff([]model.Ticket{*created}, stored); diff != "" {
		t.Errorf("stored tickets mismatch (-want +got):\n%s", diff)
	}
}

func TestCreate_StoredFieldNames(t *testing.T) {
	kv := newFaultyKV()
	s := newLoadedStore(t, kv)
	mustCreate(t, s, "a", model.TicketStatusOpen)

	raw, _, _ := kv.Get(context.Background(), TicketsKey)
	for _, field := range []string{`"id"`, `"title"`, `"description"`, `"status"`, `"createdAt"`, `"updatedAt"`} {
		if !strings.Contains(raw, field) {
			t.Errorf("stored JSON missing %s: %s", field, raw)
		}
	}
}

func TestCreate_SameMillisecond_DistinctIDs(t *testing.T) {
	clock := &fakeClock{t: baseTime}
	s := newLoadedStore(t, newFaultyKV(), WithClock(clock.Now))

	seen := map[string]bool{}
	for i := range 50 {
		tk := mustCreate(t, s, fmt.Sprintf("ticket %d", i), model.TicketStatusOpen)
		if seen[tk.ID] {
			t.Fatalf("duplicate id %q", tk.ID)
		}
		seen[tk.ID] = true
	}
}

func TestCreate_RedrawsCollidingID(t *testing.T) {
	ids := []string{"dup", "dup", "dup", "fresh"}
	gen := func() (string, error) {
		id := ids[0]
		ids = ids[1:]
		return id, nil
	}
	s := newLoadedStore(t, newFaultyKV(), WithIDGenerator(gen))

	first := mustCreate(t, s, "first", model.TicketStatusOpen)
	second := mustCreate(t, s, "second", model.TicketStatusOpen)

	if first.ID != "dup" || second.ID != "fresh" {
		t.Errorf("ids = %q, %q; want dup, fresh", first.ID, second.ID)
	}
}

func TestCreate_IDGeneratorExhausted_Fails(t *testing.T) {
	gen := func() (string, error) { return "same", nil }
	s := newLoadedStore(t, newFaultyKV(), WithIDGenerator(gen))
	mustCreate(t, s, "first", model.TicketStatusOpen)

	if _, err := s.Create(context.Background(), model.TicketInput{Title: "second", Status: model.TicketStatusOpen}); err == nil {
		t.Fatal("expected error when no unique id can be drawn")
	}
	if got := len(s.List()); got != 1 {
		t.Errorf("len(List()) = %d, want 1", got)
	}
}

func TestCreate_Validation(t *testing.T) {
	tests := []struct {
		name string
		in   model.TicketInput
		code string
	}{
		{"empty title", model.TicketInput{Title: "", Status: model.TicketStatusOpen}, model.ErrCodeValidation},
		{"title too long", model.TicketInput{Title: strings.Repeat("あ", 201), Status: model.TicketStatusOpen}, model.ErrCodeValidation},
		{"description too long", model.TicketInput{Title: "a", Description: strings.Repeat("x", 1001), Status: model.TicketStatusOpen}, model.ErrCodeValidation},
		{"unknown status", model.TicketInput{Title: "a", Status: "blocked"}, model.ErrCodeInvalidStatus},
		{"invalid utf-8 title", model.TicketInput{Title: "bad\xffbyte", Status: model.TicketStatusOpen}, model.ErrCodeValidation},
		{"invalid utf-8 description", model.TicketInput{Title: "a", Description: "\xc3\x28", Status: model.TicketStatusOpen}, model.ErrCodeValidation},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			kv := newFaultyKV()
			s := newLoadedStore(t, kv)

			_, err := s.Create(context.Background(), tt.in)
			if !model.HasCode(err, tt.code) {
				t.Fatalf("err = %v, want %s", err, tt.code)
			}
			if kv.sets != 0 {
				t.Errorf("Set called %d times on validation failure", kv.sets)
			}
		})
	}
}

func TestCreate_BoundaryLengths_Accepted(t *testing.T) {
	s := newLoadedStore(t, newFaultyKV())
	_, err := s.Create(context.Background(), model.TicketInput{
		Title:       strings.Repeat("あ", 200),
		Description: strings.Repeat("x", 1000),
		Status:      model.TicketStatusClosed,
	})
	if err != nil {
		t.Errorf("Create at boundary lengths returned error: %v", err)
	}
}

func TestCreate_WriteFails_LeavesCollectionUnchanged(t *testing.T) {
	kv := newFaultyKV()
	s := newLoadedStore(t, kv)
	existing := mustCreate(t, s, "existing", model.TicketStatusOpen)
	kv.failSet = true

	_, err := s.Create(context.Background(), model.TicketInput{Title: "new", Status: model.TicketStatusOpen})
	if !model.HasCode(err, model.ErrCodeStorageWrite) {
		t.Fatalf("err = %v, want STORAGE_WRITE_FAILED", err)
	}
	if diff := cmp.Diff([]model.Ticket{existing}, s.List()); diff != "" {
		t.Errorf("collection changed after failed write (-want +got):\n%s", diff)
	}
}

func TestCreateMany_AllOrNothing(t *testing.T) {
	kv := newFaultyKV()
	s := newLoadedStore(t, kv)

	_, err := s.CreateMany(context.Background(), []model.TicketInput{
		{Title: "ok", Status: model.TicketStatusOpen},
		{Title: "", Status: model.TicketStatusOpen},
	})
	if err == nil {
		t.Fatal("expected validation error")
	}
	if len(s.List()) != 0 || kv.sets != 0 {
		t.Errorf("partial create: list=%d sets=%d", len(s.List()), kv.sets)
	}

	created, err := s.CreateMany(context.Background(), []model.TicketInput{
		{Title: "a", Status: model.TicketStatusOpen},
		{Title: "b", Status: model.TicketStatusOpen},
	})
	if err != nil {
		t.Fatalf("CreateMany returned error: %v", err)
	}
	if len(created) != 2 || kv.sets != 1 {
		t.Errorf("created=%d sets=%d, want 2 and 1", len(created), kv.sets)
	}
}

// --- Update ---

func TestUpdate_ChangesOnlyGivenFields(t *testing.T) {
	clock := &fakeClock{t: baseTime}
	s := newLoadedStore(t, newFaultyKV(), WithClock(clock.Now))
	orig, _ := s.Create(context.Background(), model.TicketInput{
		Title: "title", Description: "desc", Status: model.TicketStatusOpen,
	})

	clock.t = baseTime.Add(time.Minute)
	updated, err := s.Update(context.Background(), orig.ID, model.TicketPatch{
		Status: statusPtr(model.TicketStatusInProgress),
	})
	if err != nil {
		t.Fatalf("Update returned error: %v", err)
	}

	want := *orig
	want.Status = model.TicketStatusInProgress
	want.UpdatedAt = clock.t
	if diff := cmp.Diff(want, *updated); diff != "" {
		t.Errorf("updated ticket mismatch (-want +got):\n%s", diff)
	}
}

func TestUpdate_UpdatedAtStrictlyIncreases(t *testing.T) {
	clock := &fakeClock{t: baseTime}
	s := newLoadedStore(t, newFaultyKV(), WithClock(clock.Now))
	tk := mustCreate(t, s, "t", model.TicketStatusOpen)

	// 時計が進まない、あるいは巻き戻っても更新時刻は増加する
	prev := tk.UpdatedAt
	for i, now := range []time.Time{baseTime, baseTime, baseTime.Add(-time.Hour)} {
		clock.t = now
		updated, err := s.Update(context.Background(), tk.ID, model.TicketPatch{Title: strPtr(fmt.Sprintf("t%d", i))})
		if err != nil {
			t.Fatalf("Update %d: %v", i, err)
		}
		if !updated.UpdatedAt.After(prev) {
			t.Fatalf("update %d: UpdatedAt %v not after %v", i, updated.UpdatedAt, prev)
		}
		if updated.UpdatedAt.Before(updated.CreatedAt) {
			t.Fatalf("update %d: UpdatedAt before CreatedAt", i)
		}
		prev = updated.UpdatedAt
	}
}

func TestUpdate_UnknownID_NoOpWithoutWrite(t *testing.T) {
	kv := newFaultyKV()
	s := newLoadedStore(t, kv)
	mustCreate(t, s, "t", model.TicketStatusOpen)
	setsBefore := kv.sets

	updated, err := s.Update(context.Background(), "missing", model.TicketPatch{Title: strPtr("x")})
	if err != nil || updated != nil {
		t.Fatalf("Update(missing) = %v, %v; want nil, nil", updated, err)
	}
	if kv.sets != setsBefore {
		t.Error("Set called for unknown id")
	}
}

func TestUpdate_InvalidPatch_Rejected(t *testing.T) {
	s := newLoadedStore(t, newFaultyKV())
	tk := mustCreate(t, s, "t", model.TicketStatusOpen)

	_, err := s.Update(context.Background(), tk.ID, model.TicketPatch{Title: strPtr("")})
	if !model.HasCode(err, model.ErrCodeValidation) {
		t.Fatalf("err = %v, want VALIDATION_FAILED", err)
	}
	got, _ := s.GetByID(tk.ID)
	if diff := cmp.Diff(tk, got); diff != "" {
		t.Errorf("ticket changed (-want +got):\n%s", diff)
	}
}

func TestUpdate_InvalidUTF8Patch_Rejected(t *testing.T) {
	kv := newFaultyKV()
	s := newLoadedStore(t, kv)
	tk := mustCreate(t, s, "t", model.TicketStatusOpen)
	sets := kv.sets

	_, err := s.Update(context.Background(), tk.ID, model.TicketPatch{Description: strPtr("\xff")})
	if !model.HasCode(err, model.ErrCodeValidation) {
		t.Fatalf("err = %v, want VALIDATION_FAILED", err)
	}
	if kv.sets != sets {
		t.Errorf("Set called on rejected patch")
	}
	got, _ := s.GetByID(tk.ID)
	if diff := cmp.Diff(tk, got); diff != "" {
		t.Errorf("ticket changed (-want +got):\n%s", diff)
	}
}

func TestUpdate_WriteFails_LeavesTicketUnchanged(t *testing.T) {
	kv := newFaultyKV()
	s := newLoadedStore(t, kv)
	tk := mustCreate(t, s, "t", model.TicketStatusOpen)
	kv.failSet = true

	_, err := s.Update(context.Background(), tk.ID, model.TicketPatch{Status: statusPtr(model.TicketStatusClosed)})
	if !model.HasCode(err, model.ErrCodeStorageWrite) {
		t.Fatalf("err = %v, want STORAGE_WRITE_FAILED", err)
	}
	got, _ := s.GetByID(tk.ID)
	if diff := cmp.Diff(tk, got); diff != "" {
		t.Errorf("ticket changed after failed write (-want +got):\n%s", diff)
	}
}

// --- Delete ---

func TestDelete_RemovesTicket(t *testing.T) {
	s := newLoadedStore(t, newFaultyKV())
	a := mustCreate(t, s, "a", model.TicketStatusOpen)
	b := mustCreate(t, s, "b", model.TicketStatusOpen)

	if err := s.Delete(context.Background(), a.ID); err != nil {
		t.Fatalf("Delete returned error: %v", err)
	}
	if _, ok := s.GetByID(a.ID); ok {
		t.Error("deleted ticket still present")
	}
	if diff := cmp.Diff([]model.Ticket{b}, s.List()); diff != "" {
		t.Errorf("List mismatch (-want +got):\n%s", diff)
	}
}

func TestDelete_UnknownID_NoOpWithoutWrite(t *testing.T) {
	kv := newFaultyKV()
	s := newLoadedStore(t, kv)
	a := mustCreate(t, s, "a", model.TicketStatusOpen)
	setsBefore := kv.sets

	if err := s.Delete(context.Background(), "missing"); err != nil {
		t.Fatalf("Delete returned error: %v", err)
	}
	if kv.sets != setsBefore {
		t.Error("Set called for unknown id")
	}
	if diff := cmp.Diff([]model.Ticket{a}, s.List()); diff != "" {
		t.Errorf("List mismatch (-want +got):\n%s", diff)
	}
}

func TestDelete_WriteFails_KeepsTicket(t *testing.T) {
	kv := newFaultyKV()
	s := newLoadedStore(t, kv)
	a := mustCreate(t, s, "a", model.TicketStatusOpen)
	kv.failSet = true

	if err := s.Delete(context.Background(), a.ID); !model.HasCode(err, model.ErrCodeStorageWrite) {
		t.Fatalf("err = %v, want STORAGE_WRITE_FAILED", err)
	}
	if _, ok := s.GetByID(a.ID); !ok {
		t.Error("ticket removed despite failed write")
	}
}

// --- 読み出し ---

func TestGetByStatus_FiltersInCreationOrder(t *testing.T) {
	s := newLoadedStore(t, newFaultyKV())
	a := mustCreate(t, s, "a", model.TicketStatusOpen)
	mustCreate(t, s, "b", model.TicketStatusClosed)
	c := mustCreate(t, s, "c", model.TicketStatusOpen)

	if diff := cmp.Diff([]model.Ticket{a, c}, s.GetByStatus(model.TicketStatusOpen)); diff != "" {
		t.Errorf("GetByStatus(open) mismatch (-want +got):\n%s", diff)
	}

	none := s.GetByStatus(model.TicketStatusInProgress)
	if none == nil || len(none) != 0 {
		t.Errorf("GetByStatus(in_progress) = %#v, want empty non-nil slice", none)
	}
}

func TestList_ReturnsCopy(t *testing.T) {
	s := newLoadedStore(t, newFaultyKV())
	a := mustCreate(t, s, "a", model.TicketStatusOpen)

	list := s.List()
	list[0].Title = "mutated"

	got, _ := s.GetByID(a.ID)
	if got.Title != "a" {
		t.Errorf("store state mutated through List(): %q", got.Title)
	}
}

func TestCounts(t *testing.T) {
	s := newLoadedStore(t, newFaultyKV())
	mustCreate(t, s, "a", model.TicketStatusOpen)
	mustCreate(t, s, "b", model.TicketStatusOpen)
	mustCreate(t, s, "c", model.TicketStatusClosed)

	want := map[model.TicketStatus]int{
		model.TicketStatusOpen:       2,
		model.TicketStatusInProgress: 0,
		model.TicketStatusClosed:     1,
	}
	if diff := cmp.Diff(want, s.Counts()); diff != "" {
		t.Errorf("Counts mismatch (-want +got):\n%s", diff)
	}
}

// --- 永続化の往復 ---

func TestRoundTrip_ReloadYieldsEqualCollection(t *testing.T) {
	kv := newFaultyKV()
	clock := &fakeClock{t: baseTime}
	s := newLoadedStore(t, kv, WithClock(clock.Now))
	a := mustCreate(t, s, "a", model.TicketStatusOpen)
	clock.t = clock.t.Add(1500 * time.Microsecond)
	mustCreate(t, s, "b", model.TicketStatusInProgress)
	clock.t = clock.t.Add(time.Second)
	s.Update(context.Background(), a.ID, model.TicketPatch{Description: strPtr("詳細")})

	reloaded := newLoadedStore(t, kv)
	if diff := cmp.Diff(s.List(), reloaded.List()); diff != "" {
		t.Errorf("reloaded collection mismatch (-want +got):\n%s", diff)
	}
}

func TestRoundTrip_MultibyteText(t *testing.T) {
	kv := newFaultyKV()
	s := newLoadedStore(t, kv)
	_, err := s.Create(context.Background(), model.TicketInput{
		Title:       "障害対応 🚑",
		Description: "ログ確認\n再起動",
		Status:      model.TicketStatusOpen,
	})
	if err != nil {
		t.Fatalf("Create: %v", err)
	}

	reloaded := newLoadedStore(t, kv)
	if diff := cmp.Diff(s.List(), reloaded.List()); diff != "" {
		t.Errorf("reloaded collection mismatch (-want +got):\n%s", diff)
	}
}

func TestRoundTrip_RealClock(t *testing.T) {
	kv := newFaultyKV()
	s := newLoadedStore(t, kv)
	mustCreate(t, s, "a", model.TicketStatusOpen)

	reloaded := newLoadedStore(t, kv)
	if diff := cmp.Diff(s.List(), reloaded.List()); diff != "" {
		t.Errorf("reloaded collection mismatch (-want +got):\n%s", diff)
	}
}
