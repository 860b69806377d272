package scan

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func writeFile(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatalf("creating %s: %v", filepath.Dir(path), err)
	}
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("writing %s: %v", name, err)
	}
	return path
}

func TestIsTestFile(t *testing.T) {
	cases := []struct {
		name string
		want bool
	}{
		{"checkout.spec.ts", true},
		{"checkout.test.js", true},
		{"widget.spec.tsx", true},
		{"widget.test.jsx", true},
		{"checkout.ts", false},
		{"spec.ts", false},
		{"readme.md", false},
	}
	for _, tc := range cases {
		if got := IsTestFile(tc.name); got != tc.want {
			t.Errorf("IsTestFile(%q) = %v, want %v", tc.name, got, tc.want)
		}
	}
}

func TestParseFileMarkers(t *testing.T) {
	content := `// journey: checkout-flow

// step: login
await page.fill('#email', 'a@b.c');
await page.click('#login');

// step: add to cart
await page.click('.add');

// journey: profile
// step: open settings
await page.click('#settings');
`
	path := writeFile(t, t.TempDir(), "checkout.spec.ts", content)

	fragments, err := ParseFile(path)
	if err != nil {
		t.Fatalf("parsing: %v", err)
	}
	if len(fragments) != 3 {
		t.Fatalf("expected 3 fragments, got %d: %+v", len(fragments), fragments)
	}

	first := fragments[0]
	if first.JourneyID != "checkout-flow" || first.StepLabel != "login" {
		t.Errorf("first fragment = %s/%s, want checkout-flow/login", first.JourneyID, first.StepLabel)
	}
	wantCode := "await page.fill('#email', 'a@b.c');\nawait page.click('#login');"
	if first.Code != wantCode {
		t.Errorf("first code = %q, want %q", first.Code, wantCode)
	}
	if first.StartLine != 4 || first.EndLine != 5 {
		t.Errorf("first lines = %d-%d, want 4-5", first.StartLine, first.EndLine)
	}

	second := fragments[1]
	if second.StepLabel != "add to cart" || second.JourneyID != "checkout-flow" {
		t.Errorf("second fragment = %s/%s", second.JourneyID, second.StepLabel)
	}

	// A later journey marker rebinds the fragments below it.
	third := fragments[2]
	if third.JourneyID != "profile" || third.StepLabel != "open settings" {
		t.Errorf("third fragment = %s/%s, want profile/open settings", third.JourneyID, third.StepLabel)
	}
}

func TestParseFileStepWithoutCode(t *testing.T) {
	content := `// step: empty step

// step: real step
await page.click('#go');
`
	path := writeFile(t, t.TempDir(), "empty.spec.ts", content)

	fragments, err := ParseFile(path)
	if err != nil {
		t.Fatalf("parsing: %v", err)
	}
	if len(fragments) != 1 {
		t.Fatalf("expected 1 fragment, got %d", len(fragments))
	}
	if fragments[0].StepLabel != "real step" {
		t.Errorf("label = %q, want %q", fragments[0].StepLabel, "real step")
	}
}

func TestParseFileAdjacentSteps(t *testing.T) {
	content := `// step: first
await page.click('#a');
// step: second
await page.click('#b');
`
	path := writeFile(t, t.TempDir(), "adjacent.spec.ts", content)

	fragments, err := ParseFile(path)
	if err != nil {
		t.Fatalf("parsing: %v", err)
	}
	if len(fragments) != 2 {
		t.Fatalf("expected 2 fragments, got %d", len(fragments))
	}
	if fragments[0].Code != "await page.click('#a');" || fragments[1].Code != "await page.click('#b');" {
		t.Errorf("adjacent steps split wrong: %+v", fragments)
	}
}

func TestParseFileIgnoresUnlabelledCode(t *testing.T) {
	content := `import { test } from '@playwright/test';

test('plain test without markers', async ({ page }) => {
  await page.goto('/');
});
`
	path := writeFile(t, t.TempDir(), "plain.spec.ts", content)

	fragments, err := ParseFile(path)
	if err != nil {
		t.Fatalf("parsing: %v", err)
	}
	if len(fragments) != 0 {
		t.Errorf("unlabelled file should yield no fragments, got %+v", fragments)
	}
}

func TestScanSortsAndSkips(t *testing.T) {
	dir := t.TempDir()
	fragment := "// step: go\nawait page.click('#go');\n"

	writeFile(t, dir, "b.spec.ts", fragment)
	writeFile(t, dir, "a.spec.ts", fragment+"\n// step: again\nawait page.click('#again');\n")
	writeFile(t, dir, "notes.md", fragment)
	writeFile(t, dir, filepath.Join("node_modules", "dep.spec.ts"), fragment)
	writeFile(t, dir, filepath.Join(".cache", "old.spec.ts"), fragment)

	fragments, err := Scan(context.Background(), dir)
	if err != nil {
		t.Fatalf("scanning: %v", err)
	}
	if len(fragments) != 3 {
		t.Fatalf("expected 3 fragments, got %d: %+v", len(fragments), fragments)
	}

	for _, f := range fragments {
		if strings.Contains(f.File, "node_modules") || strings.Contains(f.File, ".cache") {
			t.Errorf("skipped directory leaked into results: %s", f.File)
		}
	}
	for i := 1; i < len(fragments); i++ {
		prev, cur := fragments[i-1], fragments[i]
		if prev.File > cur.File || (prev.File == cur.File && prev.StartLine > cur.StartLine) {
			t.Errorf("fragments out of order at %d: %s:%d before %s:%d",
				i, prev.File, prev.StartLine, cur.File, cur.StartLine)
		}
	}
}

func TestScanCancelled(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "a.spec.ts", "// step: go\nawait page.click('#go');\n")

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if _, err := Scan(ctx, dir); err == nil {
		t.Error("cancelled context should surface an error")
	}
}

func TestScanMissingRoot(t *testing.T) {
	if _, err := Scan(context.Background(), filepath.Join(t.TempDir(), "missing")); err == nil {
		t.Error("missing root should error")
	}
}
