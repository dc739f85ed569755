package typespec

import (
	"testing"

	"github.com/brianarnold/orcapod/orcaerr"
)

func TestNew_DuplicateField(t *testing.T) {
	_, err := New(Field{Name: "a", Kind: Int64}, Field{Name: "a", Kind: String})
	if err == nil {
		t.Fatal("expected error for duplicate field, got nil")
	}
	if !orcaerr.HasCode(err, orcaerr.NameCollision) {
		t.Errorf("expected NameCollision, got %v", err)
	}
}

func TestTypeSpec_OrderPreserved(t *testing.T) {
	ts := MustNew(
		Field{Name: "b", Kind: String},
		Field{Name: "a", Kind: Int64},
	)
	names := ts.Names()
	if len(names) != 2 || names[0] != "b" || names[1] != "a" {
		t.Errorf("Names() = %v, want [b a] (declaration order preserved)", names)
	}
}

func TestTypeSpec_Kind(t *testing.T) {
	ts := MustNew(Field{Name: "a", Kind: Int64})

	k, ok := ts.Kind("a")
	if !ok || k != Int64 {
		t.Errorf("Kind(a) = (%v, %v), want (Int64, true)", k, ok)
	}

	_, ok = ts.Kind("missing")
	if ok {
		t.Error("Kind(missing) returned ok=true, want false")
	}
}

func TestDisjoint(t *testing.T) {
	a := MustNew(Field{Name: "x", Kind: Int64})
	b := MustNew(Field{Name: "y", Kind: String})
	c := MustNew(Field{Name: "x", Kind: String})

	if !Disjoint(a, b) {
		t.Error("Disjoint(a, b) = false, want true")
	}
	if Disjoint(a, c) {
		t.Error("Disjoint(a, c) = true, want false")
	}
}

func TestUnion_PreservesLeftOrderThenNewRightFields(t *testing.T) {
	a := MustNew(Field{Name: "id", Kind: Int64}, Field{Name: "a", Kind: String})
	b := MustNew(Field{Name: "id", Kind: Int64}, Field{Name: "c", Kind: Bool})

	u := Union(a, b)
	names := u.Names()
	want := []string{"id", "a", "c"}
	if len(names) != len(want) {
		t.Fatalf("Union names = %v, want %v", names, want)
	}
	for i := range want {
		if names[i] != want[i] {
			t.Errorf("Union names[%d] = %q, want %q", i, names[i], want[i])
		}
	}
}

func TestReconcile_Success(t *testing.T) {
	a := MustNew(Field{Name: "id", Kind: Int64}, Field{Name: "a", Kind: String})
	b := MustNew(Field{Name: "id", Kind: Int64}, Field{Name: "c", Kind: Bool})

	merged, err := Reconcile(a, b, []string{"id"})
	if err != nil {
		t.Fatalf("Reconcile returned error: %v", err)
	}
	if merged.Len() != 3 {
		t.Errorf("merged.Len() = %d, want 3", merged.Len())
	}
}

func TestReconcile_SchemaMismatch(t *testing.T) {
	a := MustNew(Field{Name: "id", Kind: Int64})
	b := MustNew(Field{Name: "id", Kind: String})

	_, err := Reconcile(a, b, []string{"id"})
	if err == nil {
		t.Fatal("expected SchemaMismatch, got nil")
	}
	if !orcaerr.HasCode(err, orcaerr.SchemaMismatch) {
		t.Errorf("expected SchemaMismatch code, got %v", err)
	}
}

func TestReconcile_MissingSharedKey(t *testing.T) {
	a := MustNew(Field{Name: "id", Kind: Int64})
	b := MustNew(Field{Name: "other", Kind: Int64})

	_, err := Reconcile(a, b, []string{"id"})
	if !orcaerr.HasCode(err, orcaerr.SchemaMismatch) {
		t.Errorf("expected SchemaMismatch for missing shared key, got %v", err)
	}
}

func TestFromColumns_RoundTrip(t *testing.T) {
	cols := []ColumnSchema{
		{Name: "a", Kind: Int64},
		{Name: "b", Kind: String},
	}
	ts, err := FromColumns(cols)
	if err != nil {
		t.Fatalf("FromColumns returned error: %v", err)
	}
	back := ToColumns(ts)
	if len(back) != len(cols) {
		t.Fatalf("ToColumns returned %d columns, want %d", len(back), len(cols))
	}
	for i := range cols {
		if back[i] != cols[i] {
			t.Errorf("ToColumns[%d] = %+v, want %+v", i, back[i], cols[i])
		}
	}
}

func TestFromColumns_UnsupportedType(t *testing.T) {
	_, err := FromColumns([]ColumnSchema{{Name: "x", Kind: Kind(999)}})
	if !orcaerr.HasCode(err, orcaerr.UnsupportedType) {
		t.Errorf("expected UnsupportedType, got %v", err)
	}
}

func TestKind_Hashable(t *testing.T) {
	if !Int64.Hashable() {
		t.Error("Int64 should be hashable")
	}
	if Binary.Hashable() {
		t.Error("Binary should not be hashable")
	}
	if Path.Hashable() {
		t.Error("Path should not be hashable")
	}
}
