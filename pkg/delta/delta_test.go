package delta

import (
	"errors"
	"testing"

	"github.com/tradewire-protocol/tradewire-go/pkg/wire"
)

func TestApply(t *testing.T) {
	t.Run("CopyInsertSkip", func(t *testing.T) {
		// copy "ABC", insert "XYZ", skip "DE", copy "FGHIJ"
		got, err := Apply("ABCDEFGHIJ", "=3\t+XYZ\t-2\t=5")
		if err != nil {
			t.Fatalf("Apply() error = %v", err)
		}
		if want := "ABCXYZFGHIJ"; got != want {
			t.Errorf("Apply() = %q, want %q", got, want)
		}
	})

	t.Run("EmptyBaseline", func(t *testing.T) {
		got, err := Apply("", "+hello")
		if err != nil {
			t.Fatalf("Apply() error = %v", err)
		}
		if got != "hello" {
			t.Errorf("Apply() = %q, want %q", got, "hello")
		}
	})

	t.Run("EmptyFrame", func(t *testing.T) {
		got, err := Apply("anything", "")
		if err != nil {
			t.Fatalf("Apply() error = %v", err)
		}
		if got != "" {
			t.Errorf("Apply() = %q, want empty", got)
		}
	})

	t.Run("FullCopyIdentity", func(t *testing.T) {
		got, err := Apply("ABCDEFGHIJ", "=10")
		if err != nil {
			t.Fatalf("Apply() error = %v", err)
		}
		if got != "ABCDEFGHIJ" {
			t.Errorf("Apply() = %q, want baseline", got)
		}
	})

	t.Run("AdjacentSameTypeOperations", func(t *testing.T) {
		got, err := Apply("ABCDEF", "=2\t=2\t+X\t+Y\t-1\t-1")
		if err != nil {
			t.Fatalf("Apply() error = %v", err)
		}
		if want := "ABCDXY"; got != want {
			t.Errorf("Apply() = %q, want %q", got, want)
		}
	})

	t.Run("PercentDecodedLiteral", func(t *testing.T) {
		got, err := Apply("", "+a%20b%09c")
		if err != nil {
			t.Fatalf("Apply() error = %v", err)
		}
		if want := "a b\tc"; got != want {
			t.Errorf("Apply() = %q, want %q", got, want)
		}
	})

	t.Run("PlusSignIsLiteral", func(t *testing.T) {
		// Percent decoding must not turn '+' into a space.
		got, err := Apply("", "+1+2")
		if err != nil {
			t.Fatalf("Apply() error = %v", err)
		}
		if want := "1+2"; got != want {
			t.Errorf("Apply() = %q, want %q", got, want)
		}
	})

	t.Run("UTF16CodeUnits", func(t *testing.T) {
		// "😀" occupies two UTF-16 code units. A copy of 2 units must
		// produce the whole character, and the cursor must land after it.
		baseline := "😀xy"
		got, err := Apply(baseline, "=2\t+Z\t-1\t=1")
		if err != nil {
			t.Fatalf("Apply() error = %v", err)
		}
		if want := "😀Zy"; got != want {
			t.Errorf("Apply() = %q, want %q", got, want)
		}
	})

	t.Run("BMPNonASCII", func(t *testing.T) {
		// Umlauts are a single UTF-16 unit despite being two UTF-8 bytes.
		got, err := Apply("äöü", "=1\t-1\t=1")
		if err != nil {
			t.Fatalf("Apply() error = %v", err)
		}
		if want := "äü"; got != want {
			t.Errorf("Apply() = %q, want %q", got, want)
		}
	})
}

func TestApplyErrors(t *testing.T) {
	cases := []struct {
		name     string
		baseline string
		frame    string
		want     error
	}{
		{"UnknownOperator", "abc", "*3", wire.ErrMalformedDelta},
		{"EmptyInstruction", "abc", "=1\t\t=1", wire.ErrMalformedDelta},
		{"NonNumericCount", "abc", "=x", wire.ErrMalformedDelta},
		{"NegativeCount", "abc", "=-1", wire.ErrMalformedDelta},
		{"BadPercentEncoding", "", "+%GG", wire.ErrMalformedDelta},
		{"CopyOverrun", "abc", "=4", wire.ErrDeltaCursorOverrun},
		{"SkipOverrun", "abc", "-2\t-2", wire.ErrDeltaCursorOverrun},
		{"OverrunAfterCopy", "abc", "=3\t=1", wire.ErrDeltaCursorOverrun},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := Apply(tc.baseline, tc.frame)
			if !errors.Is(err, tc.want) {
				t.Errorf("Apply(%q, %q) error = %v, want %v", tc.baseline, tc.frame, err, tc.want)
			}
		})
	}
}
