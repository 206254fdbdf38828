package synth

import (
	"reflect"
	"testing"

	"github.com/MrWong99/shopvox/pkg/types"
)

func TestSynthesize_OnePerSource(t *testing.T) {
	t.Parallel()

	s := New()
	got := s.Synthesize("phone", []types.Source{types.SourceAmazon, types.SourceEbay})
	if len(got) != 2 {
		t.Fatalf("len = %d, want 2", len(got))
	}
	if got[0].Source != types.SourceAmazon || got[1].Source != types.SourceEbay {
		t.Fatalf("sources = %s, %s; want amazon, ebay", got[0].Source, got[1].Source)
	}
	if got[0].ID == got[1].ID {
		t.Fatalf("ids must be unique within a response, both %q", got[0].ID)
	}
}

func TestSynthesize_Idempotent(t *testing.T) {
	t.Parallel()

	s := New()
	sources := []types.Source{types.SourceAmazon, types.SourceEbay}
	a := s.Synthesize("phone", sources)
	b := s.Synthesize("phone", sources)
	if !reflect.DeepEqual(a, b) {
		t.Fatalf("repeated calls differ:\n%+v\n%+v", a, b)
	}
}

func TestSynthesize_NeverIncludesAbsentSource(t *testing.T) {
	t.Parallel()

	got := New().Synthesize("tv", []types.Source{types.SourceWalmart})
	for _, p := range got {
		if p.Source != types.SourceWalmart {
			t.Fatalf("unexpected source %q", p.Source)
		}
	}
	if len(got) != 1 {
		t.Fatalf("len = %d, want 1", len(got))
	}
}

func TestSynthesize_SkipsUnknownAndDuplicate(t *testing.T) {
	t.Parallel()

	got := New().Synthesize("tv", []types.Source{"etsy", types.SourceEbay, types.SourceEbay})
	if len(got) != 1 || got[0].Source != types.SourceEbay {
		t.Fatalf("got %+v, want single ebay product", got)
	}
}

func TestSynthesize_Tiers(t *testing.T) {
	t.Parallel()

	got := New().Synthesize("usb cable", types.Catalog)
	if len(got) != 3 {
		t.Fatalf("len = %d, want 3", len(got))
	}
	if !(got[0].Price > got[1].Price && got[1].Price > got[2].Price) {
		t.Fatalf("prices not tiered: %v %v %v", got[0].Price, got[1].Price, got[2].Price)
	}
	if got[0].Title != "Usb Cable - Premium Edition" {
		t.Errorf("title = %q", got[0].Title)
	}
	if got[0].ID != "demo-amazon-usb-cable" {
		t.Errorf("id = %q", got[0].ID)
	}
	for _, p := range got {
		if p.Availability != Availability {
			t.Errorf("availability = %q, want %q", p.Availability, Availability)
		}
		if p.Currency != types.DefaultCurrency {
			t.Errorf("currency = %q", p.Currency)
		}
	}
}

func TestSynthesize_Empty(t *testing.T) {
	t.Parallel()

	if got := New().Synthesize("phone", nil); got != nil {
		t.Fatalf("got %+v, want nil", got)
	}
}

func TestTierFor(t *testing.T) {
	t.Parallel()

	want := []Tier{TierPremium, TierValue, TierBudget, TierPremium}
	for i, w := range want {
		if got := TierFor(i); got != w {
			t.Errorf("TierFor(%d) = %v, want %v", i, got, w)
		}
	}
}
