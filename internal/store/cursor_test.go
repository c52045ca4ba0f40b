package store

import (
	"encoding/base64"
	"errors"
	"strings"
	"testing"
	"time"
)

func TestCursorRoundTrip(t *testing.T) {
	ts := time.Date(2024, 5, 1, 12, 0, 0, 123456789, time.UTC)
	cur := EncodeCursor(ts, 42)

	gotTime, gotID, err := decodeCursor(cur)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if !gotTime.Equal(ts) || gotID != 42 {
		t.Errorf("got (%v, %d), want (%v, 42)", gotTime, gotID, ts)
	}
}

func TestCursorIsQuerySafe(t *testing.T) {
	cur := EncodeCursor(time.Now(), 1)
	if strings.ContainsAny(cur, "+/=") {
		t.Errorf("cursor %q contains characters unsafe in query strings", cur)
	}
}

func TestDecodeCursorRejectsMalformed(t *testing.T) {
	cases := []string{
		"not base64!",
		"aGVsbG8",              // decodes but has no separator
		"bm90YXRpbWVzdGFtcHww", // timestamp does not parse
		base64.RawURLEncoding.EncodeToString([]byte("2024-05-01T12:00:00.000000000Z|abc")),
	}
	for _, c := range cases {
		if _, _, err := decodeCursor(c); !errors.Is(err, ErrInvalidCursor) {
			t.Errorf("decodeCursor(%q) err = %v, want invalid cursor", c, err)
		}
	}
}
