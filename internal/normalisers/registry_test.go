package normalisers

import (
	"context"
	"testing"

	"github.com/custodia-labs/sercha-scope/internal/core/ports/driven/mocks"
)

func TestRegistry_GetByPriority(t *testing.T) {
	r := NewRegistry()

	low := mocks.NewMockNormaliser()
	low.ExtensionsFn = func() []string { return []string{"*"} }
	low.PriorityFn = func() int { return 1 }

	high := mocks.NewMockNormaliser()
	high.ExtensionsFn = func() []string { return []string{".pdf"} }
	high.PriorityFn = func() int { return 80 }

	r.Register(low)
	r.Register(high)

	if got := r.Get(".pdf"); got != high {
		t.Error("expected the pdf normaliser for .pdf")
	}
	if got := r.Get("PDF"); got != high {
		t.Error("expected extension matching to ignore case and missing dot")
	}
	if got := r.Get(".txt"); got != low {
		t.Error("expected the wildcard normaliser for .txt")
	}
	if all := r.GetAll(".pdf"); len(all) != 2 || all[0] != high {
		t.Errorf("expected [high, low], got %d matches", len(all))
	}
}

func TestRegistry_GetNoMatch(t *testing.T) {
	r := NewRegistry()
	r.Register(&MarkdownNormaliser{})

	if r.Get(".pdf") != nil {
		t.Error("expected nil for unregistered extension")
	}
}

func TestRegistry_List(t *testing.T) {
	r := DefaultRegistry()
	got := r.List()
	want := []string{"*", ".htm", ".html", ".markdown", ".md", ".txt"}

	if len(got) != len(want) {
		t.Fatalf("expected %v, got %v", want, got)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("index %d: expected %s, got %s", i, want[i], got[i])
		}
	}
}

func TestNormaliseExtension(t *testing.T) {
	tests := map[string]string{
		".MD":  ".md",
		"txt":  ".txt",
		" .Pdf": ".pdf",
		"":     "",
	}
	for in, want := range tests {
		if got := NormaliseExtension(in); got != want {
			t.Errorf("%q: expected %q, got %q", in, want, got)
		}
	}
}

func TestPlaintextNormaliser(t *testing.T) {
	n := &PlaintextNormaliser{}
	got, err := n.Normalise(context.Background(), []byte("\uFEFF  line one\r\nline two \xff\r\n"), ".txt")
	if err != nil {
		t.Fatalf("Normalise: %v", err)
	}
	if want := "line one\nline two \uFFFD"; got != want {
		t.Errorf("expected %q, got %q", want, got)
	}
}

func TestMarkdownNormaliser(t *testing.T) {
	n := &MarkdownNormaliser{}
	got, _ := n.Normalise(context.Background(), []byte("# Title\n\n\n\n\nBody"), ".md")
	if want := "# Title\n\nBody"; got != want {
		t.Errorf("expected %q, got %q", want, got)
	}
}

func TestHTMLNormaliser(t *testing.T) {
	n := &HTMLNormaliser{}
	raw := `<html><head><style>p{}</style><script>var x;</script></head><body><p>Helio &amp; friends</p></body></html>`
	got, _ := n.Normalise(context.Background(), []byte(raw), ".html")
	if want := "Helio & friends"; got != want {
		t.Errorf("expected %q, got %q", want, got)
	}
}
