// Package importer はRSS/Atomフィードの項目をチケットとして取り込む。
//
// 上流の課題管理システムが公開するフィードなどを想定し、各項目を未着手のチケットに変換する。
// 既存チケットと同じタイトルの項目は取り込まない。
package importer

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/mmcdole/gofeed"

	"github.com/hitoshi/ticketdesk/internal/metrics"
	"github.com/hitoshi/ticketdesk/internal/model"
	"github.com/hitoshi/ticketdesk/internal/security"
)

// TicketStore は取り込み先のチケットストア。
type TicketStore interface {
	List() []model.Ticket
	CreateMany(ctx context.Context, inputs []model.TicketInput) ([]model.Ticket, error)
}

// Config はインポートの設定を保持する。
type Config struct {
	Timeout  time.Duration // 1回の取得のタイムアウト
	MaxSize  int64         // レスポンスボディの上限（バイト）
	MaxItems int           // 1回のインポートで処理する項目数の上限
}

// DefaultConfig はデフォルト設定を返す。
func DefaultConfig() Config {
	return Config{
		Timeout:  10 * time.Second,
		MaxSize:  5 * 1024 * 1024,
		MaxItems: 100,
	}
}

// Result はインポート結果。
type Result struct {
	FeedURL   string         `json:"feedUrl"`
	FeedTitle string         `json:"feedTitle"`
	Created   []model.Ticket `json:"created"`
	Skipped   int            `json:"skipped"`
}

// Service はフィードの検出、取得、変換、チケット作成を行う。
type Service struct {
	guard     security.URLGuard
	sanitizer *security.TextSanitizer
	metrics   metrics.MetricsCollector
	config    Config
}

// NewService はServiceを生成する。collectorがnilの場合はメトリクスを記録しない。
func NewService(guard security.URLGuard, collector metrics.MetricsCollector, config Config) *Service {
	if collector == nil {
		collector = metrics.Nop{}
	}
	defaults := DefaultConfig()
	if config.Timeout <= 0 {
		config.Timeout = defaults.Timeout
	}
	if config.MaxSize <= 0 {
		config.MaxSize = defaults.MaxSize
	}
	if config.MaxItems <= 0 {
		config.MaxItems = defaults.MaxItems
	}
	return &Service{
		guard:     guard,
		sanitizer: security.NewTextSanitizer(),
		metrics:   collector,
		config:    config,
	}
}

// Import はrawURLのフィード（またはフィードを告知するHTMLページ）を取得し、
// 各項目をstatus=openのチケットとして一括作成する。
// 失敗時は*model.APIErrorを返し、チケットは作成されない。
func (s *Service) Import(ctx context.Context, store TicketStore, rawURL string) (*Result, error) {
	start := time.Now()
	defer func() {
		s.metrics.RecordImportLatency(time.Since(start))
	}()

	rawURL = strings.TrimSpace(rawURL)
	if rawURL == "" {
		return nil, model.NewInvalidURLError("URLが入力されていません")
	}

	feedURL, body, err := s.resolve(ctx, rawURL)
	if err != nil {
		return nil, err
	}

	feed, err := gofeed.NewParser().ParseString(string(body))
	if err != nil {
		slog.Warn("failed to parse imported feed",
			slog.String("url", feedURL),
			slog.String("error", err.Error()),
		)
		return nil, model.NewParseFailedError()
	}

	inputs, skipped := s.convert(feed.Items, store.List())
	created, err := store.CreateMany(ctx, inputs)
	if err != nil {
		return nil, err
	}

	s.metrics.RecordImport(len(created), skipped)
	slog.Info("feed imported",
		slog.String("url", feedURL),
		slog.Int("created", len(created)),
		slog.Int("skipped", skipped),
	)

	return &Result{
		FeedURL:   feedURL,
		FeedTitle: s.sanitizer.PlainText(feed.Title),
		Created:   created,
		Skipped:   skipped,
	}, nil
}

// resolve はURLを取得し、フィードであればそのまま、HTMLであれば告知されたフィードを取得して返す。
func (s *Service) resolve(ctx context.Context, rawURL string) (string, []byte, error) {
	contentType, body, err := s.fetch(ctx, rawURL)
	if err != nil {
		return "", nil, err
	}
	if isFeed(contentType, body) {
		return rawURL, body, nil
	}
	if !isHTML(contentType) {
		return "", nil, model.NewFeedNotDetectedError(rawURL)
	}

	link, ok := bestLink(alternateLinks(body, rawURL), rawURL)
	if !ok {
		return "", nil, model.NewFeedNotDetectedError(rawURL)
	}

	_, body, err = s.fetch(ctx, link.URL)
	if err != nil {
		return "", nil, err
	}
	return link.URL, body, nil
}

// fetch はURLを検証してから取得し、Content-Typeとボディを返す。
func (s *Service) fetch(ctx context.Context, rawURL string) (string, []byte, error) {
	if err := s.guard.ValidateURL(rawURL); err != nil {
		if errors.Is(err, security.ErrBlockedAddress) {
			return "", nil, model.NewSSRFBlockedError()
		}
		return "", nil, model.NewInvalidURLError(err.Error())
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return "", nil, model.NewInvalidURLError(err.Error())
	}
	req.Header.Set("User-Agent", "ticketdesk-importer/1.0")
	req.Header.Set("Accept", "application/atom+xml, application/rss+xml, application/xml, text/xml, text/html;q=0.9, */*;q=0.1")

	resp, err := s.guard.NewSafeClient(s.config.Timeout).Do(req)
	if err != nil {
		return "", nil, model.NewFetchFailedError(err.Error())
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return "", nil, model.NewFetchFailedError(fmt.Sprintf("HTTP %d", resp.StatusCode))
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, s.config.MaxSize+1))
	if err != nil {
		return "", nil, model.NewFetchFailedError(fmt.Sprintf("レスポンスの読み取りに失敗: %v", err))
	}
	if int64(len(body)) > s.config.MaxSize {
		return "", nil, model.NewFetchFailedError("レスポンスが大きすぎます")
	}

	return resp.Header.Get("Content-Type"), body, nil
}

// convert はフィード項目をチケット入力に変換する。
// タイトルが空の項目と、既存またはフィード内で重複するタイトルの項目はスキップ数に数える。
func (s *Service) convert(items []*gofeed.Item, existing []model.Ticket) ([]model.TicketInput, int) {
	seen := make(map[string]struct{}, len(existing)+len(items))
	for _, t := range existing {
		seen[t.Title] = struct{}{}
	}

	if len(items) > s.config.MaxItems {
		items = items[:s.config.MaxItems]
	}

	inputs := make([]model.TicketInput, 0, len(items))
	skipped := 0
	for _, item := range items {
		if item == nil {
			continue
		}
		title := security.Truncate(s.sanitizer.PlainText(item.Title), model.MaxTitleLength)
		if title == "" {
			skipped++
			continue
		}
		if _, dup := seen[title]; dup {
			skipped++
			continue
		}
		seen[title] = struct{}{}

		inputs = append(inputs, model.TicketInput{
			Title:       title,
			Description: s.description(item),
			Status:      model.TicketStatusOpen,
		})
	}
	return inputs, skipped
}

// description は項目の本文をプレーンテキスト化し、元記事へのリンクを添える。
func (s *Service) description(item *gofeed.Item) string {
	text := item.Description
	if text == "" {
		text = item.Content
	}
	text = s.sanitizer.PlainText(text)

	link := strings.ToValidUTF8(strings.TrimSpace(item.Link), "\uFFFD")
	if link == "" {
		return security.Truncate(text, model.MaxDescriptionLength)
	}

	// リンクは切り詰めない
	room := model.MaxDescriptionLength - len([]rune(link)) - 1
	if room <= 0 {
		return security.Truncate(link, model.MaxDescriptionLength)
	}
	if text == "" {
		return link
	}
	return security.Truncate(text, room) + "\n" + link
}
