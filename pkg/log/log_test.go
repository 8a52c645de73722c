package log

import (
	"bytes"
	"strings"
	"testing"
)

func TestForServiceMemoizes(t *testing.T) {
	a := ForService("rank")
	b := ForService("rank")
	if a != b {
		t.Error("ForService should return the same logger for the same name")
	}
}

func TestPrefixAndLevels(t *testing.T) {
	var buf bytes.Buffer
	SetOutput(&buf)

	l := ForService("cache")
	l.Infof("stored %s", "abc")
	l.Warnf("slow write")
	l.Errorf("broken")

	out := buf.String()
	for _, want := range []string{"INFO [cache>] stored abc", "WARN [cache>] slow write", "ERROR [cache>] broken"} {
		if !strings.Contains(out, want) {
			t.Errorf("output missing %q:\n%s", want, out)
		}
	}
}

func TestDebugGating(t *testing.T) {
	var buf bytes.Buffer
	SetOutput(&buf)

	l := ForService("gated")
	l.Debugf("hidden")
	if strings.Contains(buf.String(), "hidden") {
		t.Error("debug message logged without debug enabled")
	}

	EnableDebugFor("gated")
	l.Debugf("visible")
	if !strings.Contains(buf.String(), "DEBUG [gated>] visible") {
		t.Errorf("debug message missing:\n%s", buf.String())
	}

	if !DebugEnabledFor("gated") {
		t.Error("DebugEnabledFor should report true")
	}
	if DebugEnabledFor("other") {
		t.Error("debug leaked to other service")
	}

	SetGlobalDebug(true)
	defer SetGlobalDebug(false)
	if !DebugEnabledFor("other") {
		t.Error("global debug should cover every service")
	}
}
