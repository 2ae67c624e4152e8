package api

import (
	"time"

	"github.com/kalambet/parity/internal/catalog"
	"github.com/kalambet/parity/internal/reconcile"
	"github.com/kalambet/parity/internal/storage"
)

// ItemView is the wire form of one reconciliation record.
type ItemView struct {
	ID                string  `json:"id"`
	Title             string  `json:"title"`
	Subtitle          string  `json:"subtitle,omitempty"`
	Category          string  `json:"category"`
	Accessor          string  `json:"accessor"`
	Namespace         string  `json:"namespace,omitempty"`
	Unit              string  `json:"unit,omitempty"`
	PlatformDefault   string  `json:"platform_default"`
	ForeignDefault    string  `json:"foreign_default"`
	RequiresElevation bool    `json:"requires_elevation"`
	LiveValue         *string `json:"live_value"`
	CustomValue       *string `json:"custom_value"`
	State             string  `json:"state"`
	Applying          bool    `json:"applying"`
	LastError         *string `json:"last_error,omitempty"`
	Supported         bool    `json:"supported"`
	Drifted           bool    `json:"drifted"`
}

// GroupView is one category of items.
type GroupView struct {
	Category string     `json:"category"`
	Name     string     `json:"name"`
	Symbol   string     `json:"symbol"`
	Items    []ItemView `json:"items"`
}

// HistoryView is the wire form of one apply attempt.
type HistoryView struct {
	ID        string    `json:"id"`
	Item      string    `json:"item"`
	From      string    `json:"from"`
	To        string    `json:"to"`
	Value     string    `json:"value"`
	Backend   string    `json:"backend,omitempty"`
	Error     string    `json:"error,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

func itemView(r reconcile.Record) ItemView {
	return ItemView{
		ID:                r.Item.ID,
		Title:             r.Item.Title,
		Subtitle:          r.Item.Subtitle,
		Category:          r.Item.Category.ID,
		Accessor:          catalog.Describe(r.Item.Accessor),
		Namespace:         string(catalog.NamespaceOf(r.Item.Accessor)),
		Unit:              r.Item.Unit,
		PlatformDefault:   r.Item.PlatformDefault,
		ForeignDefault:    r.Item.ForeignDefault,
		RequiresElevation: r.Item.RequiresElevation,
		LiveValue:         r.LiveValue,
		CustomValue:       r.CustomValue,
		State:             r.State.String(),
		Applying:          r.Applying,
		LastError:         r.LastError,
		Supported:         r.Supported,
		Drifted:           r.Drifted(),
	}
}

func groupViews(groups []reconcile.Group) []GroupView {
	out := make([]GroupView, 0, len(groups))
	for _, g := range groups {
		gv := GroupView{
			Category: g.Category.ID,
			Name:     g.Category.DisplayName,
			Symbol:   g.Category.Symbol,
			Items:    make([]ItemView, 0, len(g.Records)),
		}
		for _, r := range g.Records {
			gv.Items = append(gv.Items, itemView(r))
		}
		out = append(out, gv)
	}
	return out
}

func historyViews(entries []storage.HistoryEntry) []HistoryView {
	out := make([]HistoryView, 0, len(entries))
	for _, h := range entries {
		out = append(out, HistoryView{
			ID:        h.ID,
			Item:      h.ItemID,
			From:      h.FromState,
			To:        h.ToState,
			Value:     h.Value,
			Backend:   h.Backend,
			Error:     h.Error,
			CreatedAt: h.CreatedAt,
		})
	}
	return out
}
