package database

import (
	"context"
	"errors"
	"testing"
)

func staticStrategy(name string, scope Scope, out []Neighbor, err error, calls *[]string) Strategy {
	return Strategy{
		Name:  name,
		Scope: scope,
		Run: func(context.Context, Query) ([]Neighbor, error) {
			*calls = append(*calls, name)
			return out, err
		},
	}
}

func TestQueryCascade_DataErrorStops(t *testing.T) {
	var calls []string
	served := ""
	c := NewQueryCascade(nil, func(s string) { served = s },
		staticStrategy("a", ScopeOwner, nil, ErrStrategyUnsupported, &calls),
		staticStrategy("b", ScopeOwner, nil, errors.New("connection reset"), &calls),
		staticStrategy("c", ScopeAny, []Neighbor{{RecordID: "x", Distance: 0.2}}, nil, &calls),
	)

	_, strategy, err := c.Run(context.Background(), Query{Embedding: []float32{1}, K: 1, OwnerKey: "alice"})
	if err == nil {
		t.Fatal("expected data error from strategy b")
	}
	if strategy != "b" {
		t.Errorf("strategy = %q, want b", strategy)
	}
	if served != "" {
		t.Errorf("onServed called with %q on failure", served)
	}
	if len(calls) != 2 {
		t.Errorf("calls = %v, want [a b]", calls)
	}
}

func TestQueryCascade_WrappedUnsupportedContinues(t *testing.T) {
	var calls []string
	served := ""
	c := NewQueryCascade(nil, func(s string) { served = s },
		staticStrategy("native", ScopeOwner, nil, ErrStrategyUnsupported, &calls),
		staticStrategy("sub", ScopeOwner, nil, errors.Join(errors.New("pq: syntax"), ErrStrategyUnsupported), &calls),
		staticStrategy("scan", ScopeAny, []Neighbor{
			{RecordID: "b", Distance: 0.3},
			{RecordID: "a", Distance: 0.1},
			{RecordID: "c", Distance: 0.3},
		}, nil, &calls),
	)

	got, strategy, err := c.Run(context.Background(), Query{Embedding: []float32{1}, K: 2, OwnerKey: "alice"})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if strategy != "scan" || served != "scan" {
		t.Errorf("strategy = %q, served = %q, want scan", strategy, served)
	}
	if len(got) != 2 || got[0].RecordID != "a" || got[1].RecordID != "b" {
		t.Errorf("got %+v, want [a b]", got)
	}
}

func TestQueryCascade_ScopeSelection(t *testing.T) {
	var calls []string
	c := NewQueryCascade(nil, nil,
		staticStrategy("owner", ScopeOwner, []Neighbor{}, nil, &calls),
		staticStrategy("global", ScopeGlobal, []Neighbor{}, nil, &calls),
	)

	if _, s, err := c.Run(context.Background(), Query{Embedding: []float32{1}, K: 1}); err != nil || s != "global" {
		t.Errorf("global query: strategy = %q, err = %v", s, err)
	}
	if _, s, err := c.Run(context.Background(), Query{Embedding: []float32{1}, K: 1, OwnerKey: "bob"}); err != nil || s != "owner" {
		t.Errorf("owner query: strategy = %q, err = %v", s, err)
	}
}

func TestQueryCascade_AllUnsupported(t *testing.T) {
	var calls []string
	c := NewQueryCascade(nil, nil,
		staticStrategy("a", ScopeAny, nil, ErrStrategyUnsupported, &calls),
	)
	_, _, err := c.Run(context.Background(), Query{Embedding: []float32{1}, K: 1})
	if !errors.Is(err, ErrVectorStoreUnavailable) {
		t.Errorf("err = %v, want ErrVectorStoreUnavailable", err)
	}
}

func TestQueryCascade_InvalidQuery(t *testing.T) {
	c := NewQueryCascade(nil, nil)
	if _, _, err := c.Run(context.Background(), Query{K: 1}); err == nil {
		t.Error("expected error for empty embedding")
	}
	got, _, err := c.Run(context.Background(), Query{Embedding: []float32{1}, K: 0})
	if err != nil || len(got) != 0 {
		t.Errorf("k=0: got %v, err %v", got, err)
	}
}

func TestRankByCosine(t *testing.T) {
	records := []EmbeddingRecord{
		{ID: "alice:1", OwnerKey: "alice", Embedding: []float32{1, 0, 0}},
		{ID: "alice:2", OwnerKey: "alice", Embedding: []float32{0, 1, 0}},
		{ID: "alice:3", OwnerKey: "alice", Embedding: []float32{1, 0}},
		{ID: "bob:1", OwnerKey: "bob", Embedding: []float32{1, 0, 0}},
	}

	got := RankByCosine(records, Query{Embedding: []float32{1, 0, 0}, K: 5, OwnerKey: "alice"})
	if len(got) != 2 {
		t.Fatalf("got %d neighbors, want 2 (dim and owner filtered)", len(got))
	}
	if got[0].RecordID != "alice:1" || got[0].Distance > 1e-9 {
		t.Errorf("best = %+v, want alice:1 at 0", got[0])
	}
	if got[1].Distance < got[0].Distance {
		t.Error("results not ascending")
	}

	global := RankByCosine(records, Query{Embedding: []float32{1, 0, 0}, K: 2})
	if len(global) != 2 || global[0].RecordID != "alice:1" || global[1].RecordID != "bob:1" {
		t.Errorf("global = %+v, want ties ordered by record ID", global)
	}
}

func TestScanLimit(t *testing.T) {
	if got := ScanLimit(5); got != 200 {
		t.Errorf("ScanLimit(5) = %d, want 200", got)
	}
	if got := ScanLimit(500); got != 500 {
		t.Errorf("ScanLimit(500) = %d, want 500", got)
	}
}
