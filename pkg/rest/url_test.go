package rest

import (
	"errors"
	"net/url"
	"testing"
)

func TestURL(t *testing.T) {
	tests := []struct {
		name string
		base string
		elem string
		want string
	}{
		{
			name: "elem with path and query",
			base: "http://api.server.com",
			elem: "/resource/{id}?filter={filter}",
			want: "http://api.server.com/resource/{id}?filter={filter}",
		},
		{
			name: "base with templated path",
			base: "http://api.server.com/resource/{id}",
			elem: "/sub-resource?filter={filter}",
			want: "http://api.server.com/resource/{id}/sub-resource?filter={filter}",
		},
		{
			name: "query only",
			base: "http://api.server.com",
			elem: "?filter={filter}",
			want: "http://api.server.com?filter={filter}",
		},
		{
			name: "invalid base",
			base: "://bad",
			elem: "/x",
			want: "",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := URL(tt.base, tt.elem); got != tt.want {
				t.Errorf("URL(%q, %q) = %q, want %q", tt.base, tt.elem, got, tt.want)
			}
		})
	}
}

func TestExpandURLTemplate(t *testing.T) {
	base, err := url.ParseRequestURI("http://api.example/users/{user_id}/files/{name}?tag={tag}")
	if err != nil {
		t.Fatalf("parsing base: %v", err)
	}

	got, err := expandURLTemplate(base, map[string]string{
		"user_id": "42",
		"name":    "a b",
		"tag":     "blue/green",
	}, url.Values{"page": {"2"}})
	if err != nil {
		t.Fatalf("expandURLTemplate() error = %v", err)
	}

	want := "http://api.example/users/42/files/a%20b?tag=blue%2Fgreen&page=2"
	if got.String() != want {
		t.Errorf("expanded URL = %q, want %q", got.String(), want)
	}

	// The template is shared across calls and must stay untouched.
	if base.Path != "/users/{user_id}/files/{name}" {
		t.Errorf("template path mutated: %q", base.Path)
	}
}

func TestExpandURLTemplateMissingParam(t *testing.T) {
	base, err := url.ParseRequestURI("http://api.example/users/{user_id}")
	if err != nil {
		t.Fatalf("parsing base: %v", err)
	}

	if _, err := expandURLTemplate(base, nil, nil); !errors.Is(err, ErrMissingURLParam) {
		t.Fatalf("expandURLTemplate() error = %v, want ErrMissingURLParam", err)
	}
}
