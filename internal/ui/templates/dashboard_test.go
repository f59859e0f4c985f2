package templates

import (
	"context"
	"strings"
	"testing"
)

func TestDashboard_Render(t *testing.T) {
	var buf strings.Builder
	if err := Dashboard().Render(context.Background(), &buf); err != nil {
		t.Fatalf("Render() failed: %v", err)
	}

	html := buf.String()
	for _, want := range []string{
		"<title>Sales Dashboard</title>",
		`id="summary-content"`,
		`id="regions-content"`,
		`id="item-types-content"`,
		"/sse/refresh-all",
		"datastar",
	} {
		if !strings.Contains(html, want) {
			t.Errorf("dashboard should contain %q", want)
		}
	}
}

func TestDashboard_CancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	var buf strings.Builder
	if err := Dashboard().Render(ctx, &buf); err == nil {
		t.Error("Render() should fail on a cancelled context")
	}
	if buf.Len() != 0 {
		t.Error("nothing should be written on a cancelled context")
	}
}
