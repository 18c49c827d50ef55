package fault

import (
	"errors"
	"fmt"
	"testing"
)

func TestKindOf(t *testing.T) {
	base := New(API, "create deployment failed")
	wrapped := fmt.Errorf("deploy: %w", base)

	if got := KindOf(wrapped); got != API {
		t.Fatalf("KindOf() = %v, want %v", got, API)
	}
	if KindOf(errors.New("plain")) != 0 {
		t.Fatalf("KindOf() on untagged error should be zero")
	}
	if !Is(wrapped, API) || Is(wrapped, IO) {
		t.Fatalf("Is() kind matching is wrong for %v", wrapped)
	}
}

func TestErrorFormatting(t *testing.T) {
	tests := []struct {
		name string
		err  *Error
		want string
	}{
		{
			name: "message only",
			err:  New(Deployment, "Deployment failed with error code: %d", 30),
			want: "Deployment failed with error code: 30",
		},
		{
			name: "wrapped cause",
			err:  Wrap(IO, errors.New("no such file"), "open bundle archive"),
			want: "open bundle archive: no such file",
		},
		{
			name: "server details",
			err: &Error{
				Kind:    API,
				Message: "create deployment failed (status 422)",
				Details: []string{"upload expired", "project suspended"},
			},
			want: "create deployment failed (status 422): upload expired; project suspended",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.err.Error(); got != tt.want {
				t.Fatalf("Error() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestUnwrap(t *testing.T) {
	cause := errors.New("connection refused")
	err := Wrap(API, cause, "POST /v1/uploads")
	if !errors.Is(err, cause) {
		t.Fatalf("errors.Is should reach the wrapped cause")
	}
}
