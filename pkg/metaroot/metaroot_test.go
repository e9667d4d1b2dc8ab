package metaroot

import "testing"

func TestEncodeDecodeRoundTrip(t *testing.T) {
	r := New()
	c := r.EnsureCollection("docs")
	c.PrimaryRoot = 7
	c.Schema = []byte(`{"type":"object"}`)
	c.Indexes = append(c.Indexes, IndexMeta{Name: "by_email", Field: "email", Unique: true, RootPage: 9})
	r.NextDocIDSeed = 42

	buf, err := r.Encode()
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	got, err := Decode(buf)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}

	if got.NextDocIDSeed != 42 {
		t.Fatalf("expected NextDocIDSeed 42, got %d", got.NextDocIDSeed)
	}
	gc, ok := got.Collection("docs")
	if !ok {
		t.Fatal("expected collection docs")
	}
	if gc.PrimaryRoot != 7 || string(gc.Schema) != `{"type":"object"}` {
		t.Fatalf("unexpected collection: %+v", gc)
	}
	if len(gc.Indexes) != 1 || gc.Indexes[0].Name != "by_email" || !gc.Indexes[0].Unique || gc.Indexes[0].RootPage != 9 {
		t.Fatalf("unexpected indexes: %+v", gc.Indexes)
	}
}

func TestEncodeDecodeRoundTripWithSearch(t *testing.T) {
	r := New()
	c := r.EnsureCollection("articles")
	c.PrimaryRoot = 3
	c.Search = &SearchMeta{
		RootPage: 11,
		Fields:   []FTSField{{Field: "title", Weight: 3}, {Field: "body", Weight: 1}},
	}

	buf, err := r.Encode()
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	got, err := Decode(buf)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}

	gc, ok := got.Collection("articles")
	if !ok {
		t.Fatal("expected collection articles")
	}
	if gc.Search == nil || gc.Search.RootPage != 11 {
		t.Fatalf("expected search metadata to survive roundtrip, got %+v", gc.Search)
	}
	if len(gc.Search.Fields) != 2 || gc.Search.Fields[0].Field != "title" || gc.Search.Fields[0].Weight != 3 {
		t.Fatalf("unexpected search fields: %+v", gc.Search.Fields)
	}
}

func TestEncodeDecodeRoundTripWithoutSearch(t *testing.T) {
	r := New()
	c := r.EnsureCollection("docs")
	c.PrimaryRoot = 1

	buf, err := r.Encode()
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	got, err := Decode(buf)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	gc, _ := got.Collection("docs")
	if gc.Search != nil {
		t.Fatalf("expected nil search metadata, got %+v", gc.Search)
	}
}

func TestEnsureCollectionIsIdempotent(t *testing.T) {
	r := New()
	a := r.EnsureCollection("docs")
	a.PrimaryRoot = 5
	b := r.EnsureCollection("docs")
	if b.PrimaryRoot != 5 {
		t.Fatalf("expected the same collection entry, got PrimaryRoot=%d", b.PrimaryRoot)
	}
	if len(r.Collections) != 1 {
		t.Fatalf("expected exactly one collection, got %d", len(r.Collections))
	}
}

func TestDropIndexRemovesOnlyNamedIndex(t *testing.T) {
	c := &CollectionMeta{Indexes: []IndexMeta{
		{Name: "a", RootPage: 1},
		{Name: "b", RootPage: 2},
	}}
	if !c.DropIndex("a") {
		t.Fatal("expected DropIndex to report success")
	}
	if len(c.Indexes) != 1 || c.Indexes[0].Name != "b" {
		t.Fatalf("unexpected remaining indexes: %+v", c.Indexes)
	}
}

func TestDecodeRejectsBadMagic(t *testing.T) {
	buf := make([]byte, pageSize)
	if _, err := Decode(buf); err == nil {
		t.Fatal("expected corruption error for zeroed page")
	}
}

func TestCloneIsIndependent(t *testing.T) {
	r := New()
	c := r.EnsureCollection("docs")
	c.Indexes = append(c.Indexes, IndexMeta{Name: "a"})

	clone := r.Clone()
	clone.Collections[0].Indexes[0].Name = "mutated"

	if r.Collections[0].Indexes[0].Name != "a" {
		t.Fatal("mutating the clone's indexes affected the original")
	}
}
