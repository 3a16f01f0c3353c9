package cli

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

const pipelineYAML = `# resize pipeline
Comment: resize images
StartAt: Resize
States:
  Resize:
    Type: Task
    Resource: arn:aws:states:us-east-1:123456789012:activity:sfini!latest!resize
    Next: Done
  Done:
    Type: Succeed
`

func writeDefinition(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("writing %s: %v", path, err)
	}
	return path
}

func TestDefinitionValidate(t *testing.T) {
	setup(t)
	path := writeDefinition(t, "pipeline.yaml", pipelineYAML)

	out, err := run(t, "definition", "validate", "-f", path)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !strings.Contains(out, "pipeline.yaml: valid") {
		t.Errorf("unexpected output %q", out)
	}
}

func TestDefinitionValidate_Invalid(t *testing.T) {
	setup(t)
	path := writeDefinition(t, "broken.json", `{"StartAt":"A","States":{"A":{"Type":"Pass","Next":"B"}}}`)

	_, err := run(t, "definition", "validate", "--file", path)
	if err == nil {
		t.Fatal("expected validation error")
	}
	if !strings.Contains(err.Error(), "Next 'B' is not a defined state") {
		t.Errorf("unexpected error: %v", err)
	}

	if _, err := run(t, "definition", "validate"); err == nil || !strings.Contains(err.Error(), "--file is required") {
		t.Errorf("expected --file error, got %v", err)
	}
}

func TestDefinitionRender(t *testing.T) {
	setup(t)
	path := writeDefinition(t, "pipeline.yaml", pipelineYAML)

	out, err := run(t, "definition", "render", "-f", path)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !strings.Contains(out, `"StartAt": "Resize"`) || strings.Contains(out, "# resize pipeline") {
		t.Errorf("expected JSON rendering:\n%s", out)
	}

	jsonPath := writeDefinition(t, "pipeline.json", out)
	out, err = run(t, "definition", "render", "-f", jsonPath, "--yaml")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !strings.Contains(out, "StartAt: Resize\n") || strings.HasSuffix(out, "\n\n") {
		t.Errorf("unexpected YAML rendering:\n%q", out)
	}
}
