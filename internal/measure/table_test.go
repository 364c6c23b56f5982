package measure

import "testing"

func TestRecordAccumulates(t *testing.T) {
	tbl := New()
	tbl.Record([]float64{1.0}, 0, 0.9)
	tbl.Record([]float64{1.0}, 0, 1.1)

	var got Entry
	n := 0
	tbl.Iterate(func(e Entry) { got = e; n++ })

	if n != 1 {
		t.Fatalf("expected 1 distinct key, got %d", n)
	}
	if got.Record.ExecCount != 2 {
		t.Fatalf("expected exec_count 2, got %d", got.Record.ExecCount)
	}
	if got.Record.TimeTotal != 2.0 {
		t.Fatalf("expected time_total 2.0, got %v", got.Record.TimeTotal)
	}
	if got.Record.Min != 0.9 || got.Record.Max != 1.1 {
		t.Fatalf("unexpected min/max: %v/%v", got.Record.Min, got.Record.Max)
	}
	if got.Record.Last != 1.1 {
		t.Fatalf("expected last 1.1, got %v", got.Record.Last)
	}
	if got.Record.Avg != 1.0 {
		t.Fatalf("expected avg 1.0, got %v", got.Record.Avg)
	}
}

func TestDistinctPolicyKeysDoNotCollide(t *testing.T) {
	tbl := New()
	tbl.Record([]float64{3.0}, 0, 1.0)
	tbl.Record([]float64{3.0}, 1, 2.0)

	if tbl.Len() != 2 {
		t.Fatalf("expected 2 distinct keys, got %d", tbl.Len())
	}
}

func TestInvariantBounds(t *testing.T) {
	tbl := New()
	tbl.Record([]float64{0.0}, 0, 2.0)
	tbl.Record([]float64{0.0}, 0, 5.0)
	tbl.Record([]float64{0.0}, 0, 1.0)

	tbl.Iterate(func(e Entry) {
		r := e.Record
		if r.ExecCount < 1 {
			t.Fatalf("exec_count must be >= 1")
		}
		if r.TimeTotal < r.Min*float64(r.ExecCount) || r.TimeTotal > r.Max*float64(r.ExecCount) {
			t.Fatalf("time_total bounds invariant violated: %+v", r)
		}
	})
}
