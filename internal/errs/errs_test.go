package errs

import (
	"context"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

type kindedErr struct{}

func (kindedErr) Error() string     { return "typed" }
func (kindedErr) ErrorKind() string { return KindAlreadyUsed }

func TestKind(t *testing.T) {
	cases := []struct {
		name string
		err  error
		want string
	}{
		{"nil", nil, ""},
		{"typed wins", fmt.Errorf("wrap: %w", kindedErr{}), KindAlreadyUsed},
		{"storage", fmt.Errorf("reserve: %w", ErrStorageUnavailable), KindStorageUnavailable},
		{"quota", ErrQuotaExceeded, KindQuotaExceeded},
		{"entitlement", ErrNotEntitled, KindNotEntitled},
		{"canceled", fmt.Errorf("render: %w", context.Canceled), KindCanceled},
		{"other", fmt.Errorf("boom"), KindInternal},
		{"kinded sentinel", fmt.Errorf("scan: %w", New(KindDecodeFailure, "no codes")), KindDecodeFailure},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, Kind(tc.err))
		})
	}
}
