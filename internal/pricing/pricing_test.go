package pricing

import "testing"

func TestPrice_FamilyMatching(t *testing.T) {
	p := NewPricer(nil)

	dated := p.Price("claude-3-haiku-20240307", 1_000_000, 0)
	family := p.Price("claude-3-haiku", 1_000_000, 0)
	if dated != family {
		t.Errorf("dated model price %f != family price %f", dated, family)
	}
	if family != 0.25 {
		t.Errorf("claude-3-haiku input price = %f, want 0.25", family)
	}
}

func TestPrice_OrgPrefixMatches(t *testing.T) {
	p := NewPricer(nil)

	bare := p.Price("llama-3.1-70b", 1_000_000, 0)
	prefixed := p.Price("meta-llama/llama-3.1-70b", 1_000_000, 0)
	if bare == 0 {
		t.Fatal("expected nonzero price for llama-3.1-70b")
	}
	if bare != prefixed {
		t.Errorf("org-prefixed price %f != bare price %f", prefixed, bare)
	}
}

func TestPrice_UnknownModelIsZero(t *testing.T) {
	p := NewPricer(nil)
	if got := p.Price("unknown-xyz", 1_000_000, 1_000_000); got != 0 {
		t.Errorf("Price(unknown-xyz) = %f, want 0", got)
	}
}

func TestPrice_LongestKeyWins(t *testing.T) {
	p := NewPricer(nil)

	// "gpt-4o-mini-2024-07-18" contains both "gpt-4" and "gpt-4o-mini";
	// the longest key must win.
	rate, ok := p.Lookup("gpt-4o-mini-2024-07-18")
	if !ok {
		t.Fatal("expected a match")
	}
	if rate.Key != "gpt-4o-mini" {
		t.Errorf("matched key = %q, want gpt-4o-mini", rate.Key)
	}
}

func TestPrice_CustomOverridesDefault(t *testing.T) {
	custom := Table{{Key: "gpt-4o", InputPer1M: 1.0, OutputPer1M: 2.0}}
	p := NewPricer(custom)

	got := p.Price("gpt-4o-2024-11-20", 1_000_000, 1_000_000)
	if got != 3.0 {
		t.Errorf("custom price = %f, want 3.0", got)
	}
}

func TestPrice_CustomAddsNewKey(t *testing.T) {
	custom := Table{{Key: "house-model", InputPer1M: 5.0, OutputPer1M: 5.0}}
	p := NewPricer(custom)

	if got := p.Price("house-model-v2", 2_000_000, 0); got != 10.0 {
		t.Errorf("Price = %f, want 10.0", got)
	}
}

func TestPrice_Arithmetic(t *testing.T) {
	p := NewPricer(nil)
	// 1000 input + 500 output on claude-3-5-sonnet: (1000*3 + 500*15)/1e6
	got := p.Price("claude-3-5-sonnet-20241022", 1000, 500)
	want := 0.0105
	if diff := got - want; diff > 1e-9 || diff < -1e-9 {
		t.Errorf("Price = %f, want %f", got, want)
	}
}
