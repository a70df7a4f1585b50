package services

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/tbourn/go-realtime-chat/internal/subscription"
)

type fakeVerifier struct {
	res   subscription.Verification
	err   error
	calls int
}

func (f *fakeVerifier) Verify(ctx context.Context, platform, token string) (subscription.Verification, error) {
	f.calls++
	return f.res, f.err
}

func TestSubscriptionService_Apply_Valid(t *testing.T) {
	db := newSvcDB(t)
	seedUser(t, db, "a", usedOn(1, testNow))
	expiry := testNow.Add(30 * 24 * time.Hour)
	v := &fakeVerifier{res: subscription.Verification{IsValid: true, ExpiryDate: expiry}}
	s := NewSubscriptionService(db, v, newTestAdmission(db, 1))

	u, err := s.Apply(context.Background(), "a", "android", "tok")
	if err != nil {
		t.Fatalf("apply: %v", err)
	}
	if u.SubscriptionType != "premium" || u.SubscriptionExpiresAt == nil || !u.SubscriptionExpiresAt.Equal(expiry) {
		t.Fatalf("not upgraded: %+v", u)
	}
	if u.DailyMessageCount != 1 {
		t.Fatalf("apply must not touch counters, got %d", u.DailyMessageCount)
	}
}

func TestSubscriptionService_Apply_Rejections(t *testing.T) {
	db := newSvcDB(t)
	seedUser(t, db, "a")
	ctx := context.Background()
	adm := newTestAdmission(db, 1)

	cases := []struct {
		name     string
		user     string
		platform string
		token    string
		v        subscription.Verifier
		want     error
	}{
		{"missing token", "a", "ios", " ", &fakeVerifier{}, ErrMissingPurchase},
		{"unknown platform", "a", "blackberry", "t", &fakeVerifier{}, ErrInvalidPurchase},
		{"unknown user", "ghost", "ios", "t", &fakeVerifier{}, ErrUnauthorized},
		{"no verifier", "a", "ios", "t", nil, ErrVerifierUnavailable},
		{"invalid token", "a", "ios", "t", &fakeVerifier{res: subscription.Verification{IsValid: false}}, ErrInvalidPurchase},
		{"already expired", "a", "ios", "t", &fakeVerifier{res: subscription.Verification{IsValid: true, ExpiryDate: testNow.Add(-time.Hour)}}, ErrInvalidPurchase},
	}
	for _, tc := range cases {
		s := &SubscriptionService{DB: db, Verifier: tc.v, Admission: adm}
		if _, err := s.Apply(ctx, tc.user, tc.platform, tc.token); !errors.Is(err, tc.want) {
			t.Fatalf("%s: got %v; want %v", tc.name, err, tc.want)
		}
	}
	if u := reloadUser(t, db, "a"); u.SubscriptionType != "free" {
		t.Fatalf("rejected purchases must not upgrade: %+v", u)
	}
}

func TestSubscriptionService_Apply_VerifierError(t *testing.T) {
	db := newSvcDB(t)
	seedUser(t, db, "a")
	boom := errors.New("verifier timeout")
	s := NewSubscriptionService(db, &fakeVerifier{err: boom}, newTestAdmission(db, 1))

	if _, err := s.Apply(context.Background(), "a", "android", "tok"); !errors.Is(err, boom) {
		t.Fatalf("got %v; want %v", err, boom)
	}
}

func TestSubscriptionService_Status(t *testing.T) {
	db := newSvcDB(t)
	seedUser(t, db, "free-today", usedOn(1, testNow.Add(-time.Hour)))
	seedUser(t, db, "free-stale", usedOn(1, testNow.Add(-48*time.Hour)))
	seedUser(t, db, "prem", premiumUntil(testNow.Add(time.Hour)), usedOn(4, testNow))
	s := NewSubscriptionService(db, nil, newTestAdmission(db, 1))
	ctx := context.Background()
	reset := time.Date(2025, 3, 11, 0, 0, 0, 0, time.UTC)

	st, err := s.Status(ctx, "free-today")
	if err != nil || st.PremiumActive || st.DailyMessageCount != 1 || st.RemainingToday == nil || *st.RemainingToday != 0 || !st.ResetsAt.Equal(reset) {
		t.Fatalf("free-today: %+v err=%v", st, err)
	}

	st, _ = s.Status(ctx, "free-stale")
	if st.DailyMessageCount != 0 || *st.RemainingToday != 1 {
		t.Fatalf("free-stale should show a fresh allowance: %+v", st)
	}

	st, _ = s.Status(ctx, "prem")
	if !st.PremiumActive || st.RemainingToday != nil || st.Type != "premium" {
		t.Fatalf("premium: %+v", st)
	}

	if _, err := s.Status(ctx, "ghost"); !errors.Is(err, ErrUserNotFound) {
		t.Fatalf("ghost: got %v", err)
	}
}

func TestSubscriptionService_ExpireLapsed(t *testing.T) {
	db := newSvcDB(t)
	seedUser(t, db, "lapsed", premiumUntil(testNow.Add(-time.Minute)), usedOn(3, testNow))
	seedUser(t, db, "active", premiumUntil(testNow.Add(time.Hour)))
	seedUser(t, db, "free")
	s := NewSubscriptionService(db, nil, newTestAdmission(db, 1))

	n, err := s.ExpireLapsed(context.Background())
	if err != nil || n != 1 {
		t.Fatalf("ExpireLapsed = %d, %v; want 1", n, err)
	}
	if u := reloadUser(t, db, "lapsed"); u.SubscriptionType != "free" || u.DailyMessageCount != 3 {
		t.Fatalf("lapsed: %+v", u)
	}
	if u := reloadUser(t, db, "active"); u.SubscriptionType != "premium" {
		t.Fatalf("active was downgraded: %+v", u)
	}
}
