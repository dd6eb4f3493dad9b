package todo

import "testing"

func TestParseListArray(t *testing.T) {
	items, err := ParseList([]byte(`[
		{"id":"1","content":"write unit tests","status":"pending","activeForm":"Writing unit tests"},
		{"id":"2","content":"ship it","status":"completed","active_form":"Shipping"}
	]`))
	if err != nil {
		t.Fatal(err)
	}
	if len(items) != 2 {
		t.Fatalf("expected 2 items, got %d", len(items))
	}
	if items[0].ActiveForm != "Writing unit tests" {
		t.Errorf("camelCase active form lost: %+v", items[0])
	}
	if items[1].ActiveForm != "Shipping" || items[1].Status != StatusCompleted {
		t.Errorf("snake_case active form lost: %+v", items[1])
	}
}

func TestParseListEnvelope(t *testing.T) {
	items, err := ParseList([]byte(`{"todos":[{"id":"a","content":"x","status":"in_progress"}]}`))
	if err != nil {
		t.Fatal(err)
	}
	if len(items) != 1 || items[0].Status != StatusInProgress {
		t.Fatalf("unexpected items %+v", items)
	}
}

func TestParseListEmpty(t *testing.T) {
	items, err := ParseList([]byte("  \n"))
	if err != nil {
		t.Fatal(err)
	}
	if len(items) != 0 {
		t.Fatalf("expected empty list, got %+v", items)
	}
}

func TestParseListInvalid(t *testing.T) {
	for _, in := range []string{`"todo"`, `[{"id":`, `{"todos": 3}`} {
		if _, err := ParseList([]byte(in)); err == nil {
			t.Errorf("expected error for %q", in)
		}
	}
}

func TestParseListDerivesStableIDs(t *testing.T) {
	first, err := ParseList([]byte(`[{"content":"update the documentation","status":"pending"}]`))
	if err != nil {
		t.Fatal(err)
	}
	second, err := ParseList([]byte(`[{"content":" update the documentation ","status":"in_progress"}]`))
	if err != nil {
		t.Fatal(err)
	}
	if first[0].ID == "" {
		t.Fatal("expected derived id")
	}
	if first[0].ID != second[0].ID {
		t.Errorf("derived ids differ: %q vs %q", first[0].ID, second[0].ID)
	}
}
