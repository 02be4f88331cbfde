package process

import (
	"errors"
	"reflect"
	"strings"
	"testing"
)

func TestParseCommand(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		want    []string
		wantErr bool
	}{
		{"simple", "ls -la /tmp", []string{"ls", "-la", "/tmp"}, false},
		{"extra whitespace", "  echo   a\tb\nc  ", []string{"echo", "a", "b", "c"}, false},
		{"double quotes", `echo "hello world"`, []string{"echo", "hello world"}, false},
		{"single quotes", `echo 'a "b" c'`, []string{"echo", `a "b" c`}, false},
		{"adjacent quotes join", `echo foo"bar baz"qux`, []string{"echo", "foobar bazqux"}, false},
		{"empty quoted arg", `printf ""`, []string{"printf", ""}, false},
		{"escaped space", `touch a\ b`, []string{"touch", "a b"}, false},
		{"escape inside double quotes", `echo "say \"hi\""`, []string{"echo", `say "hi"`}, false},
		{"backslash literal in single quotes", `echo 'a\b'`, []string{"echo", `a\b`}, false},
		{"empty", "", nil, false},
		{"unclosed double quote", `echo "oops`, nil, true},
		{"unclosed single quote", `echo 'oops`, nil, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := parseCommand(tt.input)
			if (err != nil) != tt.wantErr {
				t.Fatalf("parseCommand(%q) error = %v, wantErr %v", tt.input, err, tt.wantErr)
			}
			if !reflect.DeepEqual(got, tt.want) {
				t.Errorf("parseCommand(%q) = %q, want %q", tt.input, got, tt.want)
			}
		})
	}
}

func TestBuildCommandShell(t *testing.T) {
	cmd, err := buildCommand("/bin/sh", "echo $HOME | wc -c")
	if err != nil {
		t.Fatalf("buildCommand failed: %v", err)
	}

	want := []string{"/bin/sh", "-c", "echo $HOME | wc -c"}
	if !reflect.DeepEqual(cmd.Args, want) {
		t.Errorf("Args = %q, want %q", cmd.Args, want)
	}
	if cmd.SysProcAttr == nil || !cmd.SysProcAttr.Setpgid {
		t.Error("expected command to run in its own process group")
	}
}

func TestBuildCommandDirect(t *testing.T) {
	cmd, err := buildCommand("", `sh -c "exit 3"`)
	if err != nil {
		t.Fatalf("buildCommand failed: %v", err)
	}

	want := []string{"sh", "-c", "exit 3"}
	if !reflect.DeepEqual(cmd.Args, want) {
		t.Errorf("Args = %q, want %q", cmd.Args, want)
	}
	if !strings.HasSuffix(cmd.Path, "/sh") {
		t.Errorf("expected sh to be resolved on PATH, got %q", cmd.Path)
	}
}

func TestBuildCommandErrors(t *testing.T) {
	if _, err := buildCommand("/bin/sh", "  "); !errors.Is(err, ErrEmptyCommand) {
		t.Errorf("expected ErrEmptyCommand with shell, got %v", err)
	}
	if _, err := buildCommand("", ""); !errors.Is(err, ErrEmptyCommand) {
		t.Errorf("expected ErrEmptyCommand without shell, got %v", err)
	}
	if _, err := buildCommand("", "procpool-test-no-such-binary"); err == nil {
		t.Error("expected lookup error for missing binary")
	}
}
