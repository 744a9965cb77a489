package token

import (
	"errors"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

var secret = []byte("test-secret")

func mustSign(t *testing.T, subject, room string, permissions []string, issuedAt time.Time) string {
	t.Helper()
	raw, err := Sign(secret, subject, room, permissions, issuedAt)
	if err != nil {
		t.Fatalf("Sign() failed: %v", err)
	}
	return raw
}

// TestVerifyRoundTrip tests that a freshly minted token verifies and carries
// its claims through.
func TestVerifyRoundTrip(t *testing.T) {
	t.Parallel()

	raw := mustSign(t, "alice", "42", []string{"view", "edit"}, time.Now())

	claims, err := NewVerifier(secret).Verify(raw)
	if err != nil {
		t.Fatalf("Verify() failed: %v", err)
	}
	if claims.Subject != "alice" {
		t.Errorf("Subject = %q, want %q", claims.Subject, "alice")
	}
	if claims.Room != "42" {
		t.Errorf("Room = %q, want %q", claims.Room, "42")
	}
	if !claims.CanEdit() {
		t.Error("CanEdit() = false, want true")
	}
}

// TestVerifyExpired tests that tokens older than the TTL are rejected.
func TestVerifyExpired(t *testing.T) {
	t.Parallel()

	raw := mustSign(t, "alice", "42", []string{"edit"}, time.Now().Add(-40*time.Second))

	_, err := NewVerifier(secret).Verify(raw)
	if !errors.Is(err, ErrExpired) {
		t.Errorf("Verify() error = %v, want ErrExpired", err)
	}
}

// TestVerifyExpiredBeatsBadSignature tests that a stale token is reported as
// expired even when its signature is also wrong.
func TestVerifyExpiredBeatsBadSignature(t *testing.T) {
	t.Parallel()

	raw, err := Sign([]byte("some-other-secret"), "alice", "42", []string{"edit"}, time.Now().Add(-40*time.Second))
	if err != nil {
		t.Fatalf("Sign() failed: %v", err)
	}

	_, err = NewVerifier(secret).Verify(raw)
	if !errors.Is(err, ErrExpired) {
		t.Errorf("Verify() error = %v, want ErrExpired", err)
	}
}

// TestVerifyBadSignature tests that a fresh token signed with the wrong
// secret is invalid.
func TestVerifyBadSignature(t *testing.T) {
	t.Parallel()

	raw, err := Sign([]byte("some-other-secret"), "alice", "42", []string{"edit"}, time.Now())
	if err != nil {
		t.Fatalf("Sign() failed: %v", err)
	}

	_, err = NewVerifier(secret).Verify(raw)
	if !errors.Is(err, ErrInvalid) {
		t.Errorf("Verify() error = %v, want ErrInvalid", err)
	}
}

// TestVerifyGarbage tests non-token inputs.
func TestVerifyGarbage(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		raw  string
	}{
		{"empty string", ""},
		{"not a jwt", "hello"},
		{"truncated jwt", "eyJhbGciOiJIUzI1NiJ9"},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			_, err := NewVerifier(secret).Verify(tt.raw)
			if !errors.Is(err, ErrInvalid) {
				t.Errorf("Verify(%q) error = %v, want ErrInvalid", tt.raw, err)
			}
		})
	}
}

// TestVerifyMissingClaims tests tokens without room or iat.
func TestVerifyMissingClaims(t *testing.T) {
	t.Parallel()

	noRoom := mustSign(t, "alice", "", []string{"edit"}, time.Now())
	if _, err := NewVerifier(secret).Verify(noRoom); !errors.Is(err, ErrInvalid) {
		t.Errorf("Verify() without room: error = %v, want ErrInvalid", err)
	}

	noIat, err := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"sub":         "alice",
		"room":        "42",
		"permissions": []string{"edit"},
	}).SignedString(secret)
	if err != nil {
		t.Fatalf("signing failed: %v", err)
	}
	if _, err := NewVerifier(secret).Verify(noIat); !errors.Is(err, ErrInvalid) {
		t.Errorf("Verify() without iat: error = %v, want ErrInvalid", err)
	}
}

// TestVerifyTTLBoundary pins the expiry boundary with an injected clock.
func TestVerifyTTLBoundary(t *testing.T) {
	t.Parallel()

	issued := time.Unix(1_700_000_000, 0)
	raw := mustSign(t, "alice", "42", []string{"edit"}, issued)

	tests := []struct {
		name        string
		now         time.Time
		wantExpired bool
	}{
		{"well within ttl", issued.Add(5 * time.Second), false},
		{"at the limit", issued.Add(30 * time.Second), false},
		{"just past the limit", issued.Add(31 * time.Second), true},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			v := NewVerifier(secret).WithClock(func() time.Time { return tt.now })
			_, err := v.Verify(raw)
			if tt.wantExpired {
				if !errors.Is(err, ErrExpired) {
					t.Errorf("Verify() error = %v, want ErrExpired", err)
				}
			} else if err != nil {
				t.Errorf("Verify() failed: %v", err)
			}
		})
	}
}

// TestVerifyWrongAlgorithm tests that only HS256 is accepted.
func TestVerifyWrongAlgorithm(t *testing.T) {
	t.Parallel()

	raw, err := jwt.NewWithClaims(jwt.SigningMethodHS512, &Claims{
		Subject:     "alice",
		Room:        "42",
		Permissions: []string{"edit"},
		IssuedAt:    time.Now().Unix(),
	}).SignedString(secret)
	if err != nil {
		t.Fatalf("signing failed: %v", err)
	}

	if _, err := NewVerifier(secret).Verify(raw); !errors.Is(err, ErrInvalid) {
		t.Errorf("Verify() error = %v, want ErrInvalid", err)
	}
}

// TestCanEdit tests the permission check.
func TestCanEdit(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name        string
		permissions []string
		want        bool
	}{
		{"edit only", []string{"edit"}, true},
		{"edit among others", []string{"view", "edit"}, true},
		{"view only", []string{"view"}, false},
		{"empty", []string{}, false},
		{"nil", nil, false},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			c := &Claims{Permissions: tt.permissions}
			if got := c.CanEdit(); got != tt.want {
				t.Errorf("CanEdit() = %v, want %v", got, tt.want)
			}
		})
	}
}
