package parser

import (
	"bytes"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"testing"
	"time"

	"github.com/me/goflow/pkg/model"
)

func testParser() *Parser {
	return New(slog.New(slog.NewTextHandler(&bytes.Buffer{}, &slog.HandlerOptions{Level: slog.LevelError})))
}

func loadTestdata(t *testing.T, rel string) []byte {
	t.Helper()
	path := filepath.Join("..", "..", "testdata", rel)
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("load testdata %q: %v", rel, err)
	}
	return data
}

// checkPipeline asserts the shape shared by pipeline.yaml and pipeline.hcl.
func checkPipeline(t *testing.T, doc *model.WorkflowDocument) {
	t.Helper()

	if doc.Metadata.Name != "health-check" {
		t.Errorf("Metadata.Name = %q, want health-check", doc.Metadata.Name)
	}
	if doc.Metadata.Version != "1.0" {
		t.Errorf("Metadata.Version = %q, want 1.0", doc.Metadata.Version)
	}
	if doc.Kind != "Pipeline" || doc.APIVersion != "goflow.dev/v1" {
		t.Errorf("header = %q %q", doc.Kind, doc.APIVersion)
	}

	if len(doc.Parameters) != 3 {
		t.Fatalf("Parameters count = %d, want 3", len(doc.Parameters))
	}
	urls := doc.Parameters["urls"]
	if urls == nil || !urls.HasValue || urls.Type != "list" {
		t.Fatalf("urls = %+v", urls)
	}
	if want := []any{"alpha", "beta", "gamma"}; !reflect.DeepEqual(urls.Value, want) {
		t.Errorf("urls.Value = %#v, want %#v", urls.Value, want)
	}
	if r := doc.Parameters["retries"]; r == nil || r.Value != 2 {
		t.Errorf("retries = %+v, want value 2", r)
	}
	if region := doc.Parameters["region"]; region == nil || region.HasValue {
		t.Errorf("region = %+v, want declared without value", region)
	}

	if len(doc.Steps) != 2 {
		t.Fatalf("Steps count = %d, want 2", len(doc.Steps))
	}
	check := doc.Steps[0]
	if check.Name != "check" || check.Func != "builtin.collect" {
		t.Errorf("check = %s %s", check.Name, check.Func)
	}
	if !reflect.DeepEqual(check.Produces, []string{"result"}) {
		t.Errorf("check.Produces = %v", check.Produces)
	}
	if check.Options.MapMode != model.MapModeMap {
		t.Errorf("check map mode = %q, want map", check.Options.MapMode)
	}
	if check.Options.Retry.MaxAttempts != 1 {
		t.Errorf("check max attempts = %d, want 1", check.Options.Retry.MaxAttempts)
	}
	if len(check.Bindings) != 2 {
		t.Fatalf("check bindings = %d, want 2", len(check.Bindings))
	}
	url, timeout := check.Bindings[0], check.Bindings[1]
	if url.Arg != "url" || url.Expr == nil || url.Expr.String() != "params.urls" {
		t.Errorf("first binding = %+v", url)
	}
	if timeout.Arg != "timeout" || !timeout.IsLiteral() || timeout.Literal != 5 {
		t.Errorf("second binding = %+v", timeout)
	}

	sum := doc.Steps[1]
	if sum.Func != "builtin.summarize" {
		t.Errorf("summarize func = %q, want builtin.summarize (inherited)", sum.Func)
	}
	if sum.Options.MapMode != model.MapModeNone {
		t.Errorf("summarize map mode = %q, want none", sum.Options.MapMode)
	}
	b, ok := sum.Binding("items")
	if !ok || b.Source != model.SourceInputs || b.Expr.String() != "steps.check.produces.result" {
		t.Errorf("items binding = %+v", b)
	}

	if len(doc.Artifacts) != 2 {
		t.Fatalf("Artifacts count = %d, want 2", len(doc.Artifacts))
	}
	if doc.Artifacts[0].Name != "summary.json" || doc.Artifacts[1].Name != "results.yaml" {
		t.Errorf("artifact order = %s, %s", doc.Artifacts[0].Name, doc.Artifacts[1].Name)
	}
	if doc.Artifacts[0].Expr.String() != "steps.summarize.produces.summary" {
		t.Errorf("artifact expr = %s", doc.Artifacts[0].Expr)
	}
}

func TestParseYAML_Pipeline(t *testing.T) {
	doc, err := testParser().ParseYAML(loadTestdata(t, "workflows/pipeline.yaml"))
	if err != nil {
		t.Fatalf("ParseYAML: %v", err)
	}
	checkPipeline(t, doc)
}

func TestParseHCL_Pipeline(t *testing.T) {
	doc, err := testParser().ParseHCL(loadTestdata(t, "workflows/pipeline.hcl"), "pipeline.hcl")
	if err != nil {
		t.Fatalf("ParseHCL: %v", err)
	}
	checkPipeline(t, doc)
}

func TestParseFile_DispatchesOnExtension(t *testing.T) {
	p := testParser()
	for _, name := range []string{"pipeline.yaml", "pipeline.hcl"} {
		doc, err := p.ParseFile(filepath.Join("..", "..", "testdata", "workflows", name))
		if err != nil {
			t.Fatalf("ParseFile(%s): %v", name, err)
		}
		if doc.Metadata.Name != "health-check" {
			t.Errorf("%s: name = %q", name, doc.Metadata.Name)
		}
	}
}

func TestParseFile_Missing(t *testing.T) {
	_, err := testParser().ParseFile(filepath.Join(t.TempDir(), "nope.yaml"))
	if err == nil {
		t.Fatal("expected error for missing file")
	}
	if !errors.Is(err, os.ErrNotExist) {
		t.Errorf("error = %v, want wrapped os.ErrNotExist", err)
	}
}

func TestParseYAML_RetryOptions(t *testing.T) {
	doc, err := testParser().ParseYAML(loadTestdata(t, "workflows/retry.yaml"))
	if err != nil {
		t.Fatalf("ParseYAML: %v", err)
	}
	work := doc.Step("work")
	if work == nil {
		t.Fatal("missing step work")
	}
	retry := work.Options.Retry
	if retry.MaxAttempts != 3 {
		t.Errorf("MaxAttempts = %d, want 3", retry.MaxAttempts)
	}
	if retry.Backoff == nil || retry.Backoff.Strategy != model.BackoffConstant || retry.Backoff.Initial != time.Millisecond {
		t.Errorf("Backoff = %+v", retry.Backoff)
	}
	// produces defaults to the step name.
	if !reflect.DeepEqual(work.Produces, []string{"work"}) {
		t.Errorf("Produces = %v, want [work]", work.Produces)
	}
}

func TestParseYAML_BindingDeclarationOrder(t *testing.T) {
	src := `
metadata:
  name: order
spec:
  params:
    z: 1
  steps:
    - name: first
      func: m.f
    - name: second
      func: m.g
      parameters:
        zeta: params.z
        alpha: 2
      inputs:
        mid: steps.first.produces.first
`
	doc, err := testParser().ParseYAML([]byte(src))
	if err != nil {
		t.Fatalf("ParseYAML: %v", err)
	}
	var got []string
	for _, b := range doc.Step("second").Bindings {
		got = append(got, b.Arg)
	}
	if want := []string{"zeta", "alpha", "mid"}; !reflect.DeepEqual(got, want) {
		t.Errorf("binding order = %v, want %v", got, want)
	}
}

func TestParseYAML_SchemaErrors(t *testing.T) {
	tests := []struct {
		name    string
		src     string
		wantMsg string
	}{
		{
			name:    "empty document",
			src:     "",
			wantMsg: "empty workflow document",
		},
		{
			name: "unknown field",
			src: `
metadata: {name: x}
spec:
  stepz: []
`,
			wantMsg: "stepz",
		},
		{
			name: "literal under inputs",
			src: `
metadata: {name: x}
spec:
  steps:
    - name: a
      func: m.a
      inputs:
        value: 3
`,
			wantMsg: "inputs must be references",
		},
		{
			name: "malformed step reference",
			src: `
metadata: {name: x}
spec:
  steps:
    - name: a
      func: m.a
      inputs:
        value: steps.b.result
`,
			wantMsg: "not a reference",
		},
		{
			name: "duplicate parameter",
			src: `
metadata: {name: x}
spec:
  params:
    a: 1
    a: 2
`,
			wantMsg: "",
		},
		{
			name: "bad backoff duration",
			src: `
metadata: {name: x}
spec:
  steps:
    - name: a
      func: m.a
      options:
        retry:
          backoff:
            initial: soon
`,
			wantMsg: "initial",
		},
		{
			name: "produces not a name",
			src: `
metadata: {name: x}
spec:
  steps:
    - name: a
      func: m.a
      produces: {x: 1}
`,
			wantMsg: "must be a name or a list of names",
		},
	}

	p := testParser()
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := p.ParseYAML([]byte(tt.src))
			if err == nil {
				t.Fatal("expected error")
			}
			var se *model.SchemaError
			if !errors.As(err, &se) {
				t.Fatalf("error %T (%v) is not a SchemaError", err, err)
			}
			if tt.wantMsg != "" && !strings.Contains(err.Error(), tt.wantMsg) {
				t.Errorf("error = %q, want it to contain %q", err.Error(), tt.wantMsg)
			}
		})
	}
}

func TestParseHCL_QuotedReferencesAndLiterals(t *testing.T) {
	src := `
metadata {
  name = "quoted"
}

param "weights" {
  value = { a = 1.5, b = 2 }
}

step "score" {
  func = "m.score"
  parameters {
    weights = "params.weights"
    enabled = true
    tags    = ["x", "y"]
  }
  options {
    map_mode = "zip"
    axes     = ["tags"]
    retry {
      max_attempts = 4
      backoff      = "linear"
      initial      = "10ms"
      max          = "1s"
    }
  }
}
`
	doc, err := testParser().ParseHCL([]byte(src), "quoted.hcl")
	if err != nil {
		t.Fatalf("ParseHCL: %v", err)
	}
	if want := map[string]any{"a": 1.5, "b": 2}; !reflect.DeepEqual(doc.Parameters["weights"].Value, want) {
		t.Errorf("weights = %#v, want %#v", doc.Parameters["weights"].Value, want)
	}
	step := doc.Step("score")
	if step.Options.MapMode != model.MapModeZip || !reflect.DeepEqual(step.Options.Axes, []string{"tags"}) {
		t.Errorf("options = %+v", step.Options)
	}
	retry := step.Options.Retry
	if retry.MaxAttempts != 4 || retry.Backoff.Strategy != "linear" || retry.Backoff.Max != time.Second {
		t.Errorf("retry = %+v / %+v", retry, retry.Backoff)
	}
	w, _ := step.Binding("weights")
	if w.Expr == nil || w.Expr.Param != "weights" {
		t.Errorf("weights binding = %+v", w)
	}
	e, _ := step.Binding("enabled")
	if e.Literal != true {
		t.Errorf("enabled literal = %#v", e.Literal)
	}
	tags, _ := step.Binding("tags")
	if !reflect.DeepEqual(tags.Literal, []any{"x", "y"}) {
		t.Errorf("tags literal = %#v", tags.Literal)
	}
}

func TestParseHCL_BareReferenceRoots(t *testing.T) {
	tests := []struct {
		name    string
		value   string
		wantErr bool
	}{
		{"params", "params.region", false},
		{"steps", "steps.fetch.produces.fetch", false},
		{"misspelled root", "prams.region", true},
		{"bare word", "region", true},
		{"keyword literal", "true", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			src := fmt.Sprintf(`
metadata {
  name = "roots"
}

param "region" {
  value = "eu"
}

step "fetch" {
  func = "m.fetch"
}

step "use" {
  func = "m.use"
  parameters {
    value = %s
  }
}
`, tt.value)
			if strings.HasPrefix(tt.value, "steps.") {
				src = strings.Replace(src, "parameters {", "inputs {", 1)
			}
			_, err := testParser().ParseHCL([]byte(src), "roots.hcl")
			if !tt.wantErr {
				if err != nil {
					t.Fatalf("ParseHCL: %v", err)
				}
				return
			}
			var se *model.SchemaError
			if !errors.As(err, &se) {
				t.Fatalf("error = %v, want SchemaError", err)
			}
			if se.Field != "step.use.parameters.value" {
				t.Errorf("field = %q", se.Field)
			}
		})
	}
}

func TestParseHCL_SyntaxError(t *testing.T) {
	_, err := testParser().ParseHCL([]byte(`step "a" {`), "broken.hcl")
	var se *model.SchemaError
	if !errors.As(err, &se) {
		t.Fatalf("error = %v, want SchemaError", err)
	}
}

func TestResolveFunc(t *testing.T) {
	tests := []struct {
		fn, module, step, want string
	}{
		{"", "tasks", "load", "tasks.load"},
		{"parse", "tasks", "load", "tasks.parse"},
		{"other.parse", "tasks", "load", "other.parse"},
		{"", "", "load", ""},
		{"parse", "", "load", "parse"},
	}
	for _, tt := range tests {
		if got := resolveFunc(tt.fn, tt.module, tt.step); got != tt.want {
			t.Errorf("resolveFunc(%q, %q, %q) = %q, want %q", tt.fn, tt.module, tt.step, got, tt.want)
		}
	}
}
