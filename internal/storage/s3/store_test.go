package s3

import "testing"

func TestObjectKeyAppliesPrefixAndCleansInput(t *testing.T) {
	s := &Store{prefix: "bench-root"}

	got, err := s.objectKey("/datasets/trips/part-00000.parquet")
	if err != nil {
		t.Fatalf("objectKey() error = %v", err)
	}
	if got != "bench-root/datasets/trips/part-00000.parquet" {
		t.Fatalf("objectKey() = %q", got)
	}
}

func TestObjectKeyRejectsTraversal(t *testing.T) {
	s := &Store{}
	for _, key := range []string{"", "  ", "..", "../secret", "a/../../b"} {
		if _, err := s.objectKey(key); err == nil {
			t.Fatalf("objectKey(%q) expected error", key)
		}
	}
}

func TestCleanPrefix(t *testing.T) {
	tests := map[string]string{
		"":          "",
		"/":         "",
		"  ":        "",
		"root":      "root",
		"/root/":    "root",
		"a/b/":      "a/b",
		"./nothing": "nothing",
	}
	for in, want := range tests {
		if got := cleanPrefix(in); got != want {
			t.Fatalf("cleanPrefix(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestParseEndpoint(t *testing.T) {
	host, secure, err := parseEndpoint("https://s3.example.com", false)
	if err != nil {
		t.Fatalf("parseEndpoint() error = %v", err)
	}
	if host != "s3.example.com" || !secure {
		t.Fatalf("parseEndpoint() = %q secure=%v", host, secure)
	}

	host, secure, err = parseEndpoint("localhost:9000", false)
	if err != nil {
		t.Fatalf("parseEndpoint() error = %v", err)
	}
	if host != "localhost:9000" || secure {
		t.Fatalf("parseEndpoint() = %q secure=%v", host, secure)
	}

	if _, _, err := parseEndpoint("http://", false); err == nil {
		t.Fatal("expected error for empty host")
	}
}
