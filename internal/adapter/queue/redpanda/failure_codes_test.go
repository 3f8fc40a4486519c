package redpanda

import "testing"

func TestClassifyFailureCode(t *testing.T) {
	cases := []struct {
		name string
		msg  string
		want string
	}{
		{name: "empty", msg: "", want: "INTERNAL"},
		{name: "whitespace", msg: "   \n\t", want: "INTERNAL"},
		{name: "schema_invalid", msg: "schema invalid: question payload", want: "SCHEMA_INVALID"},
		{name: "invalid_json", msg: "model returned Invalid JSON", want: "SCHEMA_INVALID"},
		{name: "rate_limit", msg: "upstream rate limit exceeded", want: "UPSTREAM_RATE_LIMIT"},
		{name: "rate_limited_sentinel", msg: "rate limited", want: "UPSTREAM_RATE_LIMIT"},
		{name: "timeout", msg: "upstream timeout calling provider", want: "UPSTREAM_TIMEOUT"},
		{name: "deadline_exceeded", msg: "context deadline exceeded", want: "UPSTREAM_TIMEOUT"},
		{name: "not_found", msg: "session not found", want: "NOT_FOUND"},
		{name: "conflict", msg: "conflict: chunk already preprocessing", want: "CONFLICT"},
		{name: "invalid_argument", msg: "invalid argument: chunk below zero", want: "INVALID_ARGUMENT"},
		{name: "configuration", msg: "configuration incomplete: no speech key", want: "CONFIGURATION"},
		{name: "default_internal", msg: "some unexpected provider error", want: "INTERNAL"},
		{name: "wrapped_sentinel", msg: "preprocess chunk: enrich questions: upstream rate limit", want: "UPSTREAM_RATE_LIMIT"},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got := classifyFailureCode(tc.msg)
			if got != tc.want {
				t.Fatalf("classifyFailureCode(%q) = %q, want %q", tc.msg, got, tc.want)
			}
		})
	}
}
