package storage

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"relaybot/internal/domain"
	"relaybot/pkg/logx"
)

func openTemp(t *testing.T) Store {
	t.Helper()
	s, err := Open(Config{Driver: "file", Path: filepath.Join(t.TempDir(), "store")}, logx.Nop())
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func TestOpenWithoutPersistenceIsUsable(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	for _, driver := range []string{"", "none", "memory"} {
		s, err := Open(Config{Driver: driver}, logx.Nop())
		if err != nil || s == nil {
			t.Fatalf("Open(%q) = %v, %v; want a working store", driver, s, err)
		}
		if err := s.PutChannel(ctx, &domain.Channel{ID: -1, OwnerID: 2}); err != nil {
			t.Fatalf("Open(%q): PutChannel: %v", driver, err)
		}
		got, err := s.GetChannel(ctx, -1)
		if err != nil || got.OwnerID != 2 {
			t.Fatalf("Open(%q): GetChannel = %+v, %v", driver, got, err)
		}
		if err := s.PutDedup(ctx, "k", time.Now().Add(time.Minute)); err != nil {
			t.Fatalf("Open(%q): PutDedup: %v", driver, err)
		}
		if _, ok, err := s.GetDedup(ctx, "k"); err != nil || !ok {
			t.Fatalf("Open(%q): GetDedup = ok=%v, err=%v", driver, ok, err)
		}
		if err := s.Close(); err != nil {
			t.Fatalf("Open(%q): Close: %v", driver, err)
		}
	}
}

func TestOpenUnknownDriver(t *testing.T) {
	t.Parallel()
	if _, err := Open(Config{Driver: "postgres"}, logx.Nop()); err == nil {
		t.Fatal("expected error for unknown driver")
	}
}

func TestChannelRoundTrip(t *testing.T) {
	t.Parallel()
	s := openTemp(t)
	ctx := context.Background()

	ch := &domain.Channel{
		ID:      -100,
		OwnerID: 7,
		Links:   []domain.SubchannelLink{{SubchannelID: 1, AIEnabled: true}},
		Rules:   []domain.TranslationRule{{TargetLang: "es", Scope: []int64{1}}},
	}
	if err := s.PutChannel(ctx, ch); err != nil {
		t.Fatalf("PutChannel: %v", err)
	}

	got, err := s.GetChannel(ctx, -100)
	if err != nil {
		t.Fatalf("GetChannel: %v", err)
	}
	if got.OwnerID != 7 || len(got.Links) != 1 || got.Links[0].SubchannelID != 1 {
		t.Fatalf("got %+v", got)
	}

	list, err := s.ListChannels(ctx)
	if err != nil || len(list) != 1 {
		t.Fatalf("ListChannels = %v, %v", list, err)
	}

	if err := s.DeleteChannel(ctx, -100); err != nil {
		t.Fatalf("DeleteChannel: %v", err)
	}
	if _, err := s.GetChannel(ctx, -100); !errors.Is(err, ErrNotFound) {
		t.Fatalf("GetChannel after delete = %v, want ErrNotFound", err)
	}
}

func TestGetChannelDoesNotAliasStoredRecord(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	for _, driver := range []string{"file", "memory"} {
		s, err := Open(Config{Driver: driver, Path: filepath.Join(t.TempDir(), "store")}, logx.Nop())
		if err != nil {
			t.Fatalf("Open(%q): %v", driver, err)
		}
		defer s.Close()

		ch := &domain.Channel{
			ID:       -7,
			OwnerID:  1,
			Keywords: []string{"news"},
			Links:    []domain.SubchannelLink{{SubchannelID: 3, PromptTemplate: "short"}},
			Rules:    []domain.TranslationRule{{TargetLang: "es", Scope: []int64{3}}},
		}
		if err := s.PutChannel(ctx, ch); err != nil {
			t.Fatalf("Open(%q): PutChannel: %v", driver, err)
		}

		// Edits on a read result must not leak into the store before a Put.
		got, err := s.GetChannel(ctx, -7)
		if err != nil {
			t.Fatalf("Open(%q): GetChannel: %v", driver, err)
		}
		got.Links[0].PromptTemplate = "mutated-without-put"
		got.Keywords[0] = "mutated"
		got.Rules[0].Scope[0] = 99

		fresh, err := s.GetChannel(ctx, -7)
		if err != nil {
			t.Fatalf("Open(%q): second GetChannel: %v", driver, err)
		}
		if fresh.Links[0].PromptTemplate != "short" || fresh.Keywords[0] != "news" || fresh.Rules[0].Scope[0] != 3 {
			t.Fatalf("Open(%q): stored record mutated through read alias: %+v", driver, fresh)
		}

		// Same for the record passed into Put.
		ch.Links[0].Footer = "late edit"
		fresh, _ = s.GetChannel(ctx, -7)
		if fresh.Links[0].Footer != "" {
			t.Fatalf("Open(%q): stored record mutated through put alias", driver)
		}
	}
}

func TestChannelsSurviveReopen(t *testing.T) {
	t.Parallel()
	path := filepath.Join(t.TempDir(), "store")
	ctx := context.Background()

	s, err := Open(Config{Driver: "file", Path: path}, logx.Nop())
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	if err := s.PutChannel(ctx, &domain.Channel{ID: -5, OwnerID: 1}); err != nil {
		t.Fatalf("PutChannel: %v", err)
	}
	if err := s.PutDedup(ctx, "post:-5:1", time.Now().Add(time.Hour)); err != nil {
		t.Fatalf("PutDedup: %v", err)
	}
	s.Close()

	s2, err := Open(Config{Driver: "file", Path: path}, logx.Nop())
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer s2.Close()

	if _, err := s2.GetChannel(ctx, -5); err != nil {
		t.Fatalf("GetChannel after reopen: %v", err)
	}
	if _, ok, err := s2.GetDedup(ctx, "post:-5:1"); err != nil || !ok {
		t.Fatalf("GetDedup after reopen = ok=%v, err=%v", ok, err)
	}
}

func TestDedupReturnsStoredExpiry(t *testing.T) {
	t.Parallel()
	s := openTemp(t)
	ctx := context.Background()

	until := time.Now().Add(-time.Minute)
	if err := s.PutDedup(ctx, "k", until); err != nil {
		t.Fatalf("PutDedup: %v", err)
	}
	// The store returns the raw expiry; liveness is the caller's check.
	got, ok, err := s.GetDedup(ctx, "k")
	if err != nil || !ok {
		t.Fatalf("GetDedup = ok=%v, err=%v", ok, err)
	}
	if !got.Before(time.Now()) {
		t.Fatalf("until = %v, want a past timestamp", got)
	}
}

func TestPendingRoundTrip(t *testing.T) {
	t.Parallel()
	s := openTemp(t)
	ctx := context.Background()

	op := domain.PendingOperation{
		UserID:    9,
		Kind:      domain.OpAddChannel,
		CreatedAt: time.Now(),
		ExpiresAt: time.Now().Add(time.Minute),
	}
	if err := s.PutPending(ctx, op); err != nil {
		t.Fatalf("PutPending: %v", err)
	}
	got, ok, err := s.GetPending(ctx, 9)
	if err != nil || !ok || got.Kind != domain.OpAddChannel {
		t.Fatalf("GetPending = %+v, ok=%v, err=%v", got, ok, err)
	}
	if err := s.DeletePending(ctx, 9); err != nil {
		t.Fatalf("DeletePending: %v", err)
	}
	if _, ok, _ := s.GetPending(ctx, 9); ok {
		t.Fatal("pending op still present after delete")
	}
}
