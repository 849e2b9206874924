package jsonutil

import (
	"errors"
	"testing"
)

func TestStripMarkdownFences(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want string
	}{
		{"json tag", "```json\n{\"a\":1}\n```", `{"a":1}`},
		{"no tag", "```\n{\"a\":1}\n```", `{"a":1}`},
		{"single line", "```json {\"a\":1}```", `{"a":1}`},
		{"surrounding space", "  \n```json\n{\"a\":1}\n```\n  ", `{"a":1}`},
		{"crlf", "```json\r\n{\"a\":1}\r\n```", `{"a":1}`},
		{"unfenced", ` {"a":1} `, `{"a":1}`},
		{"prose before fence", "Here:\n```json\n{}\n```", "Here:\n```json\n{}\n```"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := StripMarkdownFences(tt.in); got != tt.want {
				t.Errorf("StripMarkdownFences(%q) = %q, want %q", tt.in, got, tt.want)
			}
		})
	}
}

func TestExtractObject(t *testing.T) {
	got, err := ExtractObject(`Sure! {"hands": [{"x": {}}]} Hope this helps.`)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got != `{"hands": [{"x": {}}]}` {
		t.Errorf("ExtractObject = %q", got)
	}

	if _, err := ExtractObject("no braces"); !errors.Is(err, ErrNoObject) {
		t.Errorf("expected ErrNoObject, got %v", err)
	}
	if _, err := ExtractObject("} backwards {"); !errors.Is(err, ErrNoObject) {
		t.Errorf("expected ErrNoObject for reversed braces, got %v", err)
	}
}

type sample struct {
	A int `json:"a"`
}

func TestDecode_Stages(t *testing.T) {
	v, stage, err := Decode[sample]("```json\n{\"a\": 7}\n```")
	if err != nil || stage != StageStrict || v.A != 7 {
		t.Errorf("fenced strict: v=%+v stage=%v err=%v", v, stage, err)
	}

	v, stage, err = Decode[sample](`The result is {"a": 9} as requested`)
	if err != nil || stage != StageExtracted || v.A != 9 {
		t.Errorf("prose extracted: v=%+v stage=%v err=%v", v, stage, err)
	}

	if _, _, err := Decode[sample](`{"a": 9`); err == nil {
		t.Error("expected error for truncated object")
	}
	if _, err := ParseJSON[sample]("nothing here"); err == nil {
		t.Error("expected error for text without JSON")
	}
}

func TestPreview(t *testing.T) {
	if got := Preview("abcdef", 3); got != "abc..." {
		t.Errorf("Preview = %q", got)
	}
	if got := Preview("ab", 3); got != "ab" {
		t.Errorf("Preview = %q", got)
	}
}
