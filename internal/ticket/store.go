// Package ticket はチケット一覧を保持し、永続化と同期させるチケットストアを提供する。
package ticket

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/hitoshi/ticketdesk/internal/model"
	"github.com/hitoshi/ticketdesk/internal/notify"
	"github.com/hitoshi/ticketdesk/internal/storage"
)

// TicketsKey はチケット一覧を保存するキー。
const TicketsKey = "tickets"

// Option はStoreの生成オプション。
type Option func(*Store)

// WithClock は現在時刻の取得関数を差し替える。
func WithClock(now func() time.Time) Option {
	return func(s *Store) {
		s.now = now
	}
}

// WithIDGenerator はID生成関数を差し替える。
func WithIDGenerator(gen IDGenerator) Option {
	return func(s *Store) {
		s.newID = gen
	}
}

// Store はチケット一覧を作成順に保持するストア。
//
// 変更操作は次の一覧を組み立てて永続化し、保存に成功した場合のみメモリ上の一覧を差し替える。
// 保存に失敗した場合は*model.APIErrorを返し、一覧は操作前のまま残る。
type Store struct {
	kv       storage.KV
	notifier notify.Notifier
	now      func() time.Time
	newID    IDGenerator

	mu      sync.RWMutex
	tickets []model.Ticket
	loading bool
}

// NewStore はStoreを生成する。生成直後はLoading()がtrueとなる。
func NewStore(kv storage.KV, notifier notify.Notifier, opts ...Option) *Store {
	if notifier == nil {
		notifier = notify.Nop{}
	}
	s := &Store{
		kv:       kv,
		notifier: notifier,
		now:      time.Now,
		newID:    NewUUIDv7,
		tickets:  []model.Ticket{},
		loading:  true,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Loading はLoadが完了していなければtrueを返す。
func (s *Store) Loading() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.loading
}

// Load は保存済みのチケット一覧を読み込む。
// キーが存在しない場合は空の一覧となる。内容が壊れている、またはチケットの不変条件
// （ステータス、文字数、日時の順序、IDの一意性）を満たさない場合は空の一覧のままエラーを返し、
// 保存済みの値は削除しない。いずれの場合もLoadingはfalseになる。
func (s *Store) Load(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	defer func() { s.loading = false }()

	s.tickets = []model.Ticket{}

	raw, ok, err := s.kv.Get(ctx, TicketsKey)
	if err != nil {
		slog.Error("failed to read tickets",
			slog.String("error", err.Error()),
		)
		return s.fail(model.NewStorageReadError("チケット"))
	}
	if !ok {
		return nil
	}

	var tickets []model.Ticket
	if err := json.Unmarshal([]byte(raw), &tickets); err != nil {
		slog.Error("stored tickets are corrupt",
			slog.String("error", err.Error()),
		)
		return s.fail(model.NewStorageReadError("チケット"))
	}
	if err := validateStored(tickets); err != nil {
		slog.Error("stored tickets violate invariants",
			slog.String("error", err.Error()),
		)
		return s.fail(model.NewStorageReadError("チケット"))
	}
	if tickets != nil {
		s.tickets = tickets
	}

	slog.Debug("tickets loaded", slog.Int("count", len(s.tickets)))
	return nil
}

// Create はチケットを作成して一覧の末尾に追加する。
// CreatedAtとUpdatedAtは同じ時刻となる。
func (s *Store) Create(ctx context.Context, in model.TicketInput) (*model.Ticket, error) {
	created, err := s.CreateMany(ctx, []model.TicketInput{in})
	if err != nil {
		return nil, err
	}
	s.notifier.Success("チケットを作成しました。")
	return &created[0], nil
}

// CreateMany は複数のチケットを入力順に作成し、一度の書き込みで保存する。
// いずれかの入力が不正な場合は何も作成しない。
func (s *Store) CreateMany(ctx context.Context, inputs []model.TicketInput) ([]model.Ticket, error) {
	for _, in := range inputs {
		if err := in.Validate(); err != nil {
			return nil, s.fail(err)
		}
	}
	if len(inputs) == 0 {
		return []model.Ticket{}, nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	taken := make(map[string]struct{}, len(s.tickets)+len(inputs))
	for _, t := range s.tickets {
		taken[t.ID] = struct{}{}
	}

	now := s.timestamp()
	created := make([]model.Ticket, 0, len(inputs))
	for _, in := range inputs {
		id, err := uniqueID(s.newID, taken)
		if err != nil {
			slog.Error("failed to generate ticket id",
				slog.String("error", err.Error()),
			)
			return nil, s.fail(model.NewStorageWriteError("チケット"))
		}
		taken[id] = struct{}{}
		created = append(created, model.Ticket{
			ID:          id,
			Title:       in.Title,
			Description: in.Description,
			Status:      in.Status,
			CreatedAt:   now,
			UpdatedAt:   now,
		})
	}

	next := make([]model.Ticket, 0, len(s.tickets)+len(created))
	next = append(next, s.tickets...)
	next = append(next, created...)
	if err := s.commit(ctx, next); err != nil {
		return nil, err
	}

	for _, t := range created {
		slog.Info("ticket created",
			slog.String("ticket_id", t.ID),
			slog.String("status", string(t.Status)),
		)
	}
	return created, nil
}

// Update は指定フィールドのみを変更し、UpdatedAtを必ず前回より後の時刻にする。
// IDが存在しない場合は何も書き込まずnil, nilを返す。
func (s *Store) Update(ctx context.Context, id string, patch model.TicketPatch) (*model.Ticket, error) {
	if err := patch.Validate(); err != nil {
		return nil, s.fail(err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	idx := s.indexOf(id)
	if idx < 0 {
		slog.Debug("update ignored for unknown ticket", slog.String("ticket_id", id))
		return nil, nil
	}

	prev := s.tickets[idx]
	updated := patch.Apply(prev)
	updated.UpdatedAt = s.nextUpdatedAt(prev.UpdatedAt)

	next := make([]model.Ticket, len(s.tickets))
	copy(next, s.tickets)
	next[idx] = updated
	if err := s.commit(ctx, next); err != nil {
		return nil, err
	}

	slog.Info("ticket updated",
		slog.String("ticket_id", id),
		slog.String("status", string(updated.Status)),
	)
	s.notifier.Success("チケットを更新しました。")
	return &updated, nil
}

// Delete はチケットを削除する。存在しないIDの場合は何もしない。
func (s *Store) Delete(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	idx := s.indexOf(id)
	if idx < 0 {
		return nil
	}

	next := make([]model.Ticket, 0, len(s.tickets)-1)
	next = append(next, s.tickets[:idx]...)
	next = append(next, s.tickets[idx+1:]...)
	if err := s.commit(ctx, next); err != nil {
		return err
	}

	slog.Info("ticket deleted", slog.String("ticket_id", id))
	s.notifier.Success("チケットを削除しました。")
	return nil
}

// GetByID はIDに一致するチケットを返す。
func (s *Store) GetByID(id string) (model.Ticket, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	idx := s.indexOf(id)
	if idx < 0 {
		return model.Ticket{}, false
	}
	return s.tickets[idx], true
}

// GetByStatus は指定ステータスのチケットを作成順に返す。該当なしの場合は空のスライス。
func (s *Store) GetByStatus(status model.TicketStatus) []model.Ticket {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := []model.Ticket{}
	for _, t := range s.tickets {
		if t.Status == status {
			out = append(out, t)
		}
	}
	return out
}

// List は全チケットのコピーを作成順に返す。
func (s *Store) List() []model.Ticket {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]model.Ticket, len(s.tickets))
	copy(out, s.tickets)
	return out
}

// Counts はステータスごとの件数を返す。定義済みステータスはすべてキーに含まれる。
func (s *Store) Counts() map[model.TicketStatus]int {
	s.mu.RLock()
	defer s.mu.RUnlock()

	counts := make(map[model.TicketStatus]int, len(model.TicketStatuses))
	for _, st := range model.TicketStatuses {
		counts[st] = 0
	}
	for _, t := range s.tickets {
		counts[t.Status]++
	}
	return counts
}

// validateStored は読み込んだ一覧の各チケットとIDの一意性を検証する。
func validateStored(tickets []model.Ticket) error {
	seen := make(map[string]struct{}, len(tickets))
	for i, t := range tickets {
		if err := t.Validate(); err != nil {
			return fmt.Errorf("ticket %d (%q): %w", i, t.ID, err)
		}
		if _, dup := seen[t.ID]; dup {
			return fmt.Errorf("ticket %d: duplicate id %q", i, t.ID)
		}
		seen[t.ID] = struct{}{}
	}
	return nil
}

// commit は次の一覧を保存し、成功した場合のみメモリ上の一覧を差し替える。
// 呼び出し元でロックを保持していること。
func (s *Store) commit(ctx context.Context, next []model.Ticket) error {
	data, err := json.Marshal(next)
	if err != nil {
		slog.Error("failed to encode tickets",
			slog.String("error", err.Error()),
		)
		return s.fail(model.NewStorageWriteError("チケット"))
	}
	if err := s.kv.Set(ctx, TicketsKey, string(data)); err != nil {
		slog.Error("failed to write tickets",
			slog.String("error", err.Error()),
		)
		return s.fail(model.NewStorageWriteError("チケット"))
	}
	s.tickets = next
	return nil
}

func (s *Store) indexOf(id string) int {
	for i, t := range s.tickets {
		if t.ID == id {
			return i
		}
	}
	return -1
}

// timestamp はUTCでモノトニック時計を含まない現在時刻を返す。
func (s *Store) timestamp() time.Time {
	return s.now().UTC()
}

// nextUpdatedAt は現在時刻と前回時刻+1msのうち遅い方を返す。
func (s *Store) nextUpdatedAt(prev time.Time) time.Time {
	now := s.timestamp()
	if floor := prev.Add(time.Millisecond); now.Before(floor) {
		return floor
	}
	return now
}

// fail はエラーを通知して返す。
func (s *Store) fail(err error) error {
	if apiErr, ok := err.(*model.APIError); ok {
		s.notifier.Error(apiErr.Message)
	}
	return err
}
