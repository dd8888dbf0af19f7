package jsoncodec

import (
	"bytes"
	"strings"
	"testing"
)

type testPayload struct {
	ID   int    `json:"id"`
	Name string `json:"name"`
}

func TestUnmarshalMatchesMarshal(t *testing.T) {
	in := testPayload{ID: 42, Name: "evalflow"}
	data, err := Marshal(in)
	if err != nil {
		t.Fatalf("marshal failed: %v", err)
	}
	if string(data) != `{"id":42,"name":"evalflow"}` {
		t.Fatalf("unexpected encoding %s", data)
	}

	var out testPayload
	if err := Unmarshal(data, &out); err != nil {
		t.Fatalf("unmarshal failed: %v", err)
	}
	if out != in {
		t.Fatalf("expected %#v, got %#v", in, out)
	}

	indented, err := MarshalIndent(in, "", "  ")
	if err != nil {
		t.Fatalf("marshal indent failed: %v", err)
	}
	if !strings.Contains(string(indented), "\n  \"id\"") {
		t.Fatalf("expected indented output, got %s", string(indented))
	}
}

func TestWriteLineProducesNDJSON(t *testing.T) {
	buf := &bytes.Buffer{}
	for i := 1; i <= 2; i++ {
		if err := WriteLine(buf, testPayload{ID: i}); err != nil {
			t.Fatalf("write failed: %v", err)
		}
	}
	lines := strings.Split(strings.TrimSuffix(buf.String(), "\n"), "\n")
	if len(lines) != 2 {
		t.Fatalf("expected two records, got %q", buf.String())
	}

	var decoded testPayload
	if err := Decode(strings.NewReader(lines[1]), &decoded); err != nil {
		t.Fatalf("decode failed: %v", err)
	}
	if decoded.ID != 2 {
		t.Fatalf("expected second record, got %#v", decoded)
	}
}

func TestSplitArray(t *testing.T) {
	cases := []struct {
		name  string
		input string
		want  int
		fails bool
	}{
		{name: "empty", input: "  ", want: 0},
		{name: "object", input: `{"id":1}`, want: 1},
		{name: "array", input: `[{"id":1},{"id":2},{}]`, want: 3},
		{name: "scalar", input: `42`, fails: true},
		{name: "broken", input: `[{"id":1}`, fails: true},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			elements, err := SplitArray([]byte(tc.input))
			if tc.fails {
				if err == nil {
					t.Fatalf("expected an error")
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if len(elements) != tc.want {
				t.Fatalf("expected %d elements, got %d", tc.want, len(elements))
			}
		})
	}
}
