// Package model はドメインモデルを定義する。
package model

import (
	"time"
	"unicode/utf8"
)

// TicketStatus はチケットの状態を表す。
type TicketStatus string

const (
	// TicketStatusOpen は未着手のチケット。
	TicketStatusOpen TicketStatus = "open"
	// TicketStatusInProgress は対応中のチケット。
	TicketStatusInProgress TicketStatus = "in_progress"
	// TicketStatusClosed は完了したチケット。
	TicketStatusClosed TicketStatus = "closed"
)

// TicketStatuses は定義済みのステータスを表示順に並べたもの。
var TicketStatuses = []TicketStatus{
	TicketStatusOpen,
	TicketStatusInProgress,
	TicketStatusClosed,
}

// Valid はステータスが定義済みの値かどうかを返す。
func (s TicketStatus) Valid() bool {
	switch s {
	case TicketStatusOpen, TicketStatusInProgress, TicketStatusClosed:
		return true
	default:
		return false
	}
}

// チケットのフィールド長の上限（文字数）。
const (
	MaxTitleLength       = 200
	MaxDescriptionLength = 1000
)

// Ticket は追跡対象のチケットを表す。
// IDは生成後に変更されず、UpdatedAtは常にCreatedAt以上となる。
type Ticket struct {
	ID          string       `json:"id"`
	Title       string       `json:"title"`
	Description string       `json:"description"`
	Status      TicketStatus `json:"status"`
	CreatedAt   time.Time    `json:"createdAt"`
	UpdatedAt   time.Time    `json:"updatedAt"`
}

// TicketInput はチケット作成時の入力を表す。
type TicketInput struct {
	Title       string       `json:"title"`
	Description string       `json:"description"`
	Status      TicketStatus `json:"status"`
}

// Validate は作成入力を検証する。
func (in TicketInput) Validate() error {
	if err := validateTitle(in.Title); err != nil {
		return err
	}
	if err := validateDescription(in.Description); err != nil {
		return err
	}
	if !in.Status.Valid() {
		return NewInvalidStatusError(string(in.Status))
	}
	return nil
}

// TicketPatch はチケット更新時の部分入力を表す。
// nilフィールドは変更しない。
type TicketPatch struct {
	Title       *string       `json:"title,omitempty"`
	Description *string       `json:"description,omitempty"`
	Status      *TicketStatus `json:"status,omitempty"`
}

// Validate は指定されたフィールドのみを検証する。
func (p TicketPatch) Validate() error {
	if p.Title != nil {
		if err := validateTitle(*p.Title); err != nil {
			return err
		}
	}
	if p.Description != nil {
		if err := validateDescription(*p.Description); err != nil {
			return err
		}
	}
	if p.Status != nil && !p.Status.Valid() {
		return NewInvalidStatusError(string(*p.Status))
	}
	return nil
}

// IsEmpty は変更対象のフィールドがひとつもないかどうかを返す。
func (p TicketPatch) IsEmpty() bool {
	return p.Title == nil && p.Description == nil && p.Status == nil
}

// Apply はパッチをチケットに適用した結果を返す。元のチケットは変更しない。
func (p TicketPatch) Apply(t Ticket) Ticket {
	if p.Title != nil {
		t.Title = *p.Title
	}
	if p.Description != nil {
		t.Description = *p.Description
	}
	if p.Status != nil {
		t.Status = *p.Status
	}
	return t
}

// Validate は保存済みのチケットが不変条件を満たすかを検証する。
func (t Ticket) Validate() error {
	if t.ID == "" {
		return NewValidationError("id", "IDがありません。")
	}
	if err := (TicketInput{Title: t.Title, Description: t.Description, Status: t.Status}).Validate(); err != nil {
		return err
	}
	if t.UpdatedAt.Before(t.CreatedAt) {
		return NewValidationError("updatedAt", "更新日時が作成日時より前になっています。")
	}
	return nil
}

func validateTitle(title string) error {
	if !utf8.ValidString(title) {
		return NewValidationError("title", "タイトルに不正な文字が含まれています。")
	}
	n := utf8.RuneCountInString(title)
	if n == 0 {
		return NewValidationError("title", "タイトルを入力してください。")
	}
	if n > MaxTitleLength {
		return NewValidationError("title", "タイトルは200文字以内で入力してください。")
	}
	return nil
}

func validateDescription(description string) error {
	if !utf8.ValidString(description) {
		return NewValidationError("description", "説明に不正な文字が含まれています。")
	}
	if utf8.RuneCountInString(description) > MaxDescriptionLength {
		return NewValidationError("description", "説明は1000文字以内で入力してください。")
	}
	return nil
}
