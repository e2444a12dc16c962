package store_test

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/alexgrankinukr-hash/Company-in-a-box-sub000/internal/store"
	"github.com/alexgrankinukr-hash/Company-in-a-box-sub000/internal/store/storetest"
)

func TestCheckCeilings(t *testing.T) {
	ctx := context.Background()
	m := storetest.New()
	m.AddCost("directive", 4)

	tests := []struct {
		name           string
		daily, monthly float64
		wantErr        bool
		wantIn         string
	}{
		{"no limits", 0, 0, false, ""},
		{"under daily", 5, 0, false, ""},
		{"daily reached", 4, 0, true, "daily"},
		{"monthly reached", 0, 3, true, "monthly"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := store.CheckCeilings(ctx, m, tt.daily, tt.monthly)
			if (err != nil) != tt.wantErr {
				t.Fatalf("err = %v, wantErr %v", err, tt.wantErr)
			}
			if err != nil {
				if !errors.Is(err, store.ErrCostCeiling) {
					t.Errorf("error does not wrap ErrCostCeiling: %v", err)
				}
				if !strings.Contains(err.Error(), tt.wantIn) {
					t.Errorf("error %q should mention %q", err, tt.wantIn)
				}
			}
		})
	}
}

func TestSummarize(t *testing.T) {
	if got := store.Summarize("  short  "); got != "short" {
		t.Errorf("got %q", got)
	}
	long := strings.Repeat("ü", 600)
	got := store.Summarize(long)
	if !strings.HasSuffix(got, "...") || len([]rune(got)) != 503 {
		t.Errorf("unexpected summary length %d", len([]rune(got)))
	}
}
