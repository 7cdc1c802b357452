package file_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/rhopfer/cosignd/internal/record"
	"github.com/rhopfer/cosignd/internal/store"
	"github.com/rhopfer/cosignd/internal/store/file"
)

func TestCreateThenGetRoundTrips(t *testing.T) {
	s := file.NewLoginStore(t.TempDir())
	ctx := context.Background()
	in := &record.LoginRecord{
		Version:   record.CurrentVersion,
		State:     record.LoggedIn,
		IPAddress: "10.0.0.1",
		Principal: "alice",
		Realm:     "UMICH.EDU",
		CreatedAt: 1700000000,
	}
	if err := s.Create(ctx, "cosign=ABC", in); err != nil {
		t.Fatalf("Create returned unexpected error: %v", err)
	}
	got, err := s.Get(ctx, "cosign=ABC")
	if err != nil {
		t.Fatalf("Get returned unexpected error: %v", err)
	}
	if diff := cmp.Diff(in, got); diff != "" {
		t.Errorf("Get returned diff (-want +got):\n%s", diff)
	}
}

func TestCreateExistingReturnsErrExists(t *testing.T) {
	s := file.NewLoginStore(t.TempDir())
	ctx := context.Background()
	rec := &record.LoginRecord{Version: record.CurrentVersion, State: record.LoggedIn}
	if err := s.Create(ctx, "cosign=ABC", rec); err != nil {
		t.Fatalf("first Create returned unexpected error: %v", err)
	}
	if err := s.Create(ctx, "cosign=ABC", rec); !errors.Is(err, store.ErrExists) {
		t.Errorf("second Create returned %v, want ErrExists", err)
	}
}

func TestCreateConcurrentIsLinearizable(t *testing.T) {
	s := file.NewLoginStore(t.TempDir())
	ctx := context.Background()
	const attempts = 32
	var wg sync.WaitGroup
	errs := make([]error, attempts)
	for i := 0; i < attempts; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			errs[i] = s.Create(ctx, "cosign=ABC", &record.LoginRecord{Version: record.CurrentVersion, State: record.LoggedIn})
		}(i)
	}
	wg.Wait()
	var oks, exists int
	for _, err := range errs {
		switch {
		case err == nil:
			oks++
		case errors.Is(err, store.ErrExists):
			exists++
		default:
			t.Fatalf("unexpected Create error: %v", err)
		}
	}
	if oks != 1 {
		t.Errorf("got %d successful concurrent creates, want exactly 1", oks)
	}
	if exists != attempts-1 {
		t.Errorf("got %d ErrExists concurrent creates, want %d", exists, attempts-1)
	}
}

func TestGetMissingReturnsErrNotFound(t *testing.T) {
	s := file.NewLoginStore(t.TempDir())
	if _, err := s.Get(context.Background(), "cosign=NOPE"); !errors.Is(err, store.ErrNotFound) {
		t.Errorf("Get returned %v, want ErrNotFound", err)
	}
}

func TestReplaceAppliesMutationAtomically(t *testing.T) {
	s := file.NewLoginStore(t.TempDir())
	ctx := context.Background()
	if err := s.Create(ctx, "cosign=ABC", &record.LoginRecord{Version: record.CurrentVersion, State: record.LoggedIn, Principal: "alice"}); err != nil {
		t.Fatalf("Create returned unexpected error: %v", err)
	}
	err := s.Replace(ctx, "cosign=ABC", func(r *record.LoginRecord) error {
		r.State = record.LoggedOut
		return nil
	})
	if err != nil {
		t.Fatalf("Replace returned unexpected error: %v", err)
	}
	got, err := s.Get(ctx, "cosign=ABC")
	if err != nil {
		t.Fatalf("Get returned unexpected error: %v", err)
	}
	if got.State != record.LoggedOut {
		t.Errorf("State = %v, want LoggedOut", got.State)
	}
	if got.Principal != "alice" {
		t.Errorf("Principal = %q, want unchanged %q", got.Principal, "alice")
	}
}

func TestReplaceMissingReturnsErrNotFound(t *testing.T) {
	s := file.NewLoginStore(t.TempDir())
	err := s.Replace(context.Background(), "cosign=NOPE", func(r *record.LoginRecord) error { return nil })
	if !errors.Is(err, store.ErrNotFound) {
		t.Errorf("Replace returned %v, want ErrNotFound", err)
	}
}

func TestTouchNeverDecreasesLastActivity(t *testing.T) {
	s := file.NewLoginStore(t.TempDir())
	ctx := context.Background()
	now := time.Now().Truncate(time.Second)
	s.Clock = func() time.Time { return now }
	if err := s.Create(ctx, "cosign=ABC", &record.LoginRecord{Version: record.CurrentVersion, State: record.LoggedIn}); err != nil {
		t.Fatalf("Create returned unexpected error: %v", err)
	}
	if err := s.Touch(ctx, "cosign=ABC"); err != nil {
		t.Fatalf("Touch returned unexpected error: %v", err)
	}
	first, err := s.LastActivity(ctx, "cosign=ABC")
	if err != nil {
		t.Fatalf("LastActivity returned unexpected error: %v", err)
	}
	later := now.Add(time.Hour)
	s.Clock = func() time.Time { return later }
	if err := s.Touch(ctx, "cosign=ABC"); err != nil {
		t.Fatalf("Touch returned unexpected error: %v", err)
	}
	second, err := s.LastActivity(ctx, "cosign=ABC")
	if err != nil {
		t.Fatalf("LastActivity returned unexpected error: %v", err)
	}
	if !second.After(first) {
		t.Errorf("LastActivity after second Touch = %v, want after %v", second, first)
	}
}

func TestInvalidNameRejected(t *testing.T) {
	s := file.NewLoginStore(t.TempDir())
	ctx := context.Background()
	rec := &record.LoginRecord{Version: record.CurrentVersion}
	if err := s.Create(ctx, "has/slash", rec); !errors.Is(err, store.ErrInvalidName) {
		t.Errorf("Create with slash returned %v, want ErrInvalidName", err)
	}
	tooLong := make([]byte, store.MaxCookieLen)
	for i := range tooLong {
		tooLong[i] = 'a'
	}
	if err := s.Create(ctx, string(tooLong), rec); !errors.Is(err, store.ErrInvalidName) {
		t.Errorf("Create with MaxCookieLen-length name returned %v, want ErrInvalidName", err)
	}
	justUnderLimit := string(tooLong[:store.MaxCookieLen-1])
	if err := s.Create(ctx, justUnderLimit, rec); err != nil {
		t.Errorf("Create with MaxCookieLen-1 length name returned %v, want nil", err)
	}
}
