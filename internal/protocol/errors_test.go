package protocol

import (
	"errors"
	"fmt"
	"testing"

	"turtlecraft.ai/internal/turtle"
)

func TestIsKnownCode(t *testing.T) {
	cases := []string{
		"",
		ErrProtoBadRequest,
		ErrBlocked,
		ErrNoReading,
		ErrBadOp,
		ErrFailed,
		ErrInternal,
	}
	for _, c := range cases {
		if !IsKnownCode(c) {
			t.Fatalf("expected known code: %q", c)
		}
	}
	if IsKnownCode("E_NOT_DEFINED") {
		t.Fatalf("expected unknown code rejected")
	}
}

func TestCodeForRoundTripsSentinels(t *testing.T) {
	for _, sentinel := range []error{turtle.ErrBlocked, turtle.ErrNoReading} {
		code := CodeFor(fmt.Errorf("forward: %w", sentinel))
		err := ErrorResponse("r1", code, "nope").Err(OpForward)
		if !errors.Is(err, sentinel) {
			t.Fatalf("code %s: expected %v to match %v", code, err, sentinel)
		}
	}
	if got := CodeFor(errors.New("out of fuel")); got != ErrFailed {
		t.Fatalf("CodeFor(other) = %s", got)
	}
	if err := OKResponse("r1").Err(OpForward); err != nil {
		t.Fatalf("ok response: %v", err)
	}
	var re *RemoteError
	if !errors.As(ErrorResponse("r1", "", "").Err(OpDig), &re) || re.Code != ErrInternal {
		t.Fatalf("empty code should become %s, got %+v", ErrInternal, re)
	}
}
