package decode

import (
	"errors"
	"fmt"
	"testing"
)

func TestIsFatal(t *testing.T) {
	t.Parallel()
	cases := []struct {
		name string
		err  error
		want bool
	}{
		{"engine closed", ErrEngineClosed, true},
		{"unsupported", ErrUnsupported, true},
		{"wrapped closed", fmt.Errorf("submit: %w", ErrEngineClosed), true},
		{"wrapped unsupported", fmt.Errorf("start: %w", ErrUnsupported), true},
		{"not configured", ErrNotConfigured, false},
		{"transient", errors.New("bitstream error"), false},
		{"nil", nil, false},
	}
	for _, tt := range cases {
		if got := IsFatal(tt.err); got != tt.want {
			t.Errorf("%s: IsFatal = %v, want %v", tt.name, got, tt.want)
		}
	}
}
