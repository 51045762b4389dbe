package numbering

import (
	"context"
	"fmt"
	"time"
)

// Kind identifies a document series.
type Kind string

const (
	Request Kind = "request"
	Case    Kind = "case"
	Invoice Kind = "invoice"
)

var prefixes = map[Kind]string{
	Request: "TR",
	Case:    "LAB",
	Invoice: "INV",
}

// Scope is the period a sequence counts within: a calendar day for
// request and case numbers, a calendar month for invoices.
type Scope struct {
	Kind  Kind
	Key   string
	Start time.Time
	End   time.Time
}

// ScopeOf returns the scope containing t for kind.
func ScopeOf(kind Kind, t time.Time) (Scope, error) {
	prefix, ok := prefixes[kind]
	if !ok {
		return Scope{}, fmt.Errorf("unknown document kind: %s", kind)
	}
	s := Scope{Kind: kind}
	switch kind {
	case Invoice:
		s.Start = time.Date(t.Year(), t.Month(), 1, 0, 0, 0, 0, t.Location())
		s.End = s.Start.AddDate(0, 1, 0)
		s.Key = prefix + "-" + t.Format("200601")
	default:
		s.Start = time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, t.Location())
		s.End = s.Start.AddDate(0, 0, 1)
		s.Key = prefix + "-" + t.Format("20060102")
	}
	return s, nil
}

// Format renders a sequence inside its scope, e.g. TR-20241015-000042 or
// INV-202410-0007.
func Format(s Scope, seq int64) string {
	if s.Kind == Invoice {
		return fmt.Sprintf("%s-%04d", s.Key, seq)
	}
	return fmt.Sprintf("%s-%06d", s.Key, seq)
}

// Counter hands out strictly increasing sequence values per scope.
// Implementations must be atomic across concurrent callers.
type Counter interface {
	Next(ctx context.Context, s Scope) (int64, error)
}

// Generator produces document numbers from a Counter.
type Generator struct {
	counter Counter
	now     func() time.Time
	issued  func(kind Kind)
}

func NewGenerator(counter Counter) *Generator {
	return &Generator{counter: counter, now: time.Now}
}

// SetClock replaces the time source.
func (g *Generator) SetClock(now func() time.Time) {
	g.now = now
}

// OnIssue registers a callback invoked after each number is issued.
func (g *Generator) OnIssue(fn func(kind Kind)) {
	g.issued = fn
}

// Next issues the next number of kind in the current scope.
func (g *Generator) Next(ctx context.Context, kind Kind) (string, error) {
	s, err := ScopeOf(kind, g.now())
	if err != nil {
		return "", err
	}
	seq, err := g.counter.Next(ctx, s)
	if err != nil {
		return "", fmt.Errorf("next %s number: %w", kind, err)
	}
	if g.issued != nil {
		g.issued(kind)
	}
	return Format(s, seq), nil
}
