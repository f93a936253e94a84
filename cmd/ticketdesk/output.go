package main

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"
	"gopkg.in/yaml.v3"

	"github.com/hitoshi/ticketdesk/internal/model"
)

// 出力形式
const (
	formatTable = "table"
	formatJSON  = "json"
	formatYAML  = "yaml"
)

// ticketView はYAML出力でもJSONと同じキー名を使うための表示用構造体。
type ticketView struct {
	ID          string    `json:"id" yaml:"id"`
	Title       string    `json:"title" yaml:"title"`
	Description string    `json:"description" yaml:"description"`
	Status      string    `json:"status" yaml:"status"`
	CreatedAt   time.Time `json:"createdAt" yaml:"createdAt"`
	UpdatedAt   time.Time `json:"updatedAt" yaml:"updatedAt"`
}

type sessionView struct {
	Email string `json:"email" yaml:"email"`
	Name  string `json:"name" yaml:"name"`
}

func viewOf(t model.Ticket) ticketView {
	return ticketView{
		ID:          t.ID,
		Title:       t.Title,
		Description: t.Description,
		Status:      string(t.Status),
		CreatedAt:   t.CreatedAt,
		UpdatedAt:   t.UpdatedAt,
	}
}

// printer は--outputに応じて結果を書き出す。
// 表形式の装飾はwが端末の場合のみ有効になる。
type printer struct {
	w        io.Writer
	format   string
	renderer *lipgloss.Renderer
}

func newPrinter(w io.Writer, format string) *printer {
	return &printer{w: w, format: format, renderer: lipgloss.NewRenderer(w)}
}

func (p *printer) structured(v any) (bool, error) {
	switch p.format {
	case formatJSON:
		enc := json.NewEncoder(p.w)
		enc.SetIndent("", "  ")
		return true, enc.Encode(v)
	case formatYAML:
		enc := yaml.NewEncoder(p.w)
		enc.SetIndent(2)
		if err := enc.Encode(v); err != nil {
			return true, err
		}
		return true, enc.Close()
	default:
		return false, nil
	}
}

func (p *printer) tickets(tickets []model.Ticket) error {
	views := make([]ticketView, len(tickets))
	for i, t := range tickets {
		views[i] = viewOf(t)
	}
	if done, err := p.structured(views); done {
		return err
	}

	if len(tickets) == 0 {
		_, err := fmt.Fprintln(p.w, "チケットはありません。")
		return err
	}

	header := p.renderer.NewStyle().Bold(true)
	idCol := p.renderer.NewStyle().Width(38)
	statusCol := p.renderer.NewStyle().Width(13)

	var b strings.Builder
	b.WriteString(header.Render(idCol.Render("ID") + statusCol.Render("STATUS") + "TITLE"))
	b.WriteByte('\n')
	for _, t := range tickets {
		b.WriteString(idCol.Render(t.ID))
		b.WriteString(statusCol.Render(p.status(t.Status)))
		b.WriteString(t.Title)
		b.WriteByte('\n')
	}
	_, err := io.WriteString(p.w, b.String())
	return err
}

func (p *printer) ticket(t model.Ticket) error {
	if done, err := p.structured(viewOf(t)); done {
		return err
	}

	label := p.renderer.NewStyle().Bold(true).Width(12)
	var b strings.Builder
	fmt.Fprintf(&b, "%s%s\n", label.Render("ID"), t.ID)
	fmt.Fprintf(&b, "%s%s\n", label.Render("Title"), t.Title)
	fmt.Fprintf(&b, "%s%s\n", label.Render("Status"), p.status(t.Status))
	fmt.Fprintf(&b, "%s%s\n", label.Render("Created"), t.CreatedAt.Local().Format(time.DateTime))
	fmt.Fprintf(&b, "%s%s\n", label.Render("Updated"), t.UpdatedAt.Local().Format(time.DateTime))
	if t.Description != "" {
		fmt.Fprintf(&b, "\n%s\n", t.Description)
	}
	_, err := io.WriteString(p.w, b.String())
	return err
}

func (p *printer) counts(counts map[model.TicketStatus]int) error {
	view := make(map[string]int, len(counts))
	for s, n := range counts {
		view[string(s)] = n
	}
	if done, err := p.structured(view); done {
		return err
	}

	var b strings.Builder
	for _, s := range model.TicketStatuses {
		fmt.Fprintf(&b, "%s%d\n", p.renderer.NewStyle().Width(13).Render(p.status(s)), counts[s])
	}
	_, err := io.WriteString(p.w, b.String())
	return err
}

func (p *printer) session(s model.Session) error {
	if done, err := p.structured(sessionView{Email: s.Email, Name: s.Name}); done {
		return err
	}
	_, err := fmt.Fprintf(p.w, "%s <%s>\n", s.Name, s.Email)
	return err
}

// status はステータスを色付きで返す。
func (p *printer) status(s model.TicketStatus) string {
	color := lipgloss.Color("8")
	switch s {
	case model.TicketStatusOpen:
		color = lipgloss.Color("2")
	case model.TicketStatusInProgress:
		color = lipgloss.Color("3")
	}
	return p.renderer.NewStyle().Foreground(color).Render(string(s))
}
