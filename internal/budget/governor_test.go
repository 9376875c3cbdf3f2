package budget

import (
	"sync"
	"testing"

	"github.com/haasonsaas/arena/internal/pricing"
)

func TestGovernor_ExceededAfterSingleLargeRecord(t *testing.T) {
	g := NewGovernor(nil, Policy{MaxPowerCost: 0.0001})

	g.Record("france", "claude-3-5-sonnet-20241022", "movement", "orders", "S1901M", 100_000, 50_000)

	d := g.CheckBudget("france")
	if d.Allowed {
		t.Error("Allowed = true, want false")
	}
	if d.PowerStatus != StatusExceeded {
		t.Errorf("PowerStatus = %q, want EXCEEDED", d.PowerStatus)
	}
	if d.Message == "" {
		t.Error("expected a scope-identifying message")
	}
}

func TestGovernor_NoCeilingIsUnconstrained(t *testing.T) {
	g := NewGovernor(nil, Policy{})

	g.Record("england", "gpt-4o", "movement", "orders", "S1901M", 10_000_000, 10_000_000)

	d := g.CheckBudget("england")
	if !d.Allowed {
		t.Error("Allowed = false, want true with no ceilings")
	}
	if d.PowerStatus != StatusOK || d.JobStatus != StatusOK {
		t.Errorf("statuses = %q/%q, want OK/OK", d.PowerStatus, d.JobStatus)
	}
}

func TestGovernor_MeteringNeverSkipped(t *testing.T) {
	g := NewGovernor(nil, Policy{MaxPowerCost: 0.0001})

	for i := 0; i < 3; i++ {
		g.Record("turkey", "gpt-4o", "movement", "orders", "S1901M", 100_000, 0)
	}

	if got := len(g.Records()); got != 3 {
		t.Errorf("record count = %d, want 3 (metering continues past the ceiling)", got)
	}
}

func TestGovernor_JobScopeCeiling(t *testing.T) {
	g := NewGovernor(nil, Policy{MaxJobCost: 0.001})

	g.Record("austria", "gpt-4o", "movement", "orders", "S1901M", 1_000_000, 0)

	d := g.CheckBudget("austria")
	if d.Allowed {
		t.Error("Allowed = true, want false when the job ceiling is exceeded")
	}
	if d.JobStatus != StatusExceeded {
		t.Errorf("JobStatus = %q, want EXCEEDED", d.JobStatus)
	}
	if d.PowerStatus != StatusOK {
		t.Errorf("PowerStatus = %q, want OK (no power ceiling set)", d.PowerStatus)
	}
}

func TestGovernor_TransitionCallbackFiresOnce(t *testing.T) {
	g := NewGovernor(nil, Policy{MaxPowerCost: 1.0, WarnThreshold: 0.5})

	var mu sync.Mutex
	var notices []Notice
	g.OnBudgetStatus(func(n Notice) {
		mu.Lock()
		notices = append(notices, n)
		mu.Unlock()
	})

	// gpt-4o: $2.50/M input, so 100k input = $0.25 per record.
	record := func() {
		g.Record("russia", "gpt-4o", "movement", "orders", "S1901M", 100_000, 0)
	}

	record() // 0.25 OK
	record() // 0.50 WARNING
	record() // 0.75 still WARNING, no new notice
	record() // 1.00 EXCEEDED
	record() // still EXCEEDED, no new notice

	mu.Lock()
	defer mu.Unlock()
	if len(notices) != 2 {
		t.Fatalf("notice count = %d, want 2 (one per upward transition): %+v", len(notices), notices)
	}
	if notices[0].Status != StatusWarning || notices[1].Status != StatusExceeded {
		t.Errorf("notices = %q then %q, want WARNING then EXCEEDED", notices[0].Status, notices[1].Status)
	}
	if notices[0].Scope != ScopePower || notices[0].Entity != "russia" {
		t.Errorf("notice scope/entity = %s/%s, want power/russia", notices[0].Scope, notices[0].Entity)
	}
}

func TestGovernor_WarnThresholdDefault(t *testing.T) {
	g := NewGovernor(nil, Policy{MaxPowerCost: 1.0})

	// 0.85 is past the default 0.8 warning fraction but under the ceiling.
	g.Record("italy", "gpt-4o", "movement", "orders", "S1901M", 340_000, 0)

	d := g.CheckBudget("italy")
	if !d.Allowed {
		t.Error("Allowed = false, want true below the ceiling")
	}
	if d.PowerStatus != StatusWarning {
		t.Errorf("PowerStatus = %q, want WARNING", d.PowerStatus)
	}
}

func TestReport_Superlatives(t *testing.T) {
	g := NewGovernor(pricing.NewPricer(pricing.Table{
		{Key: "model-a", InputPer1M: 10, OutputPer1M: 10},
		{Key: "model-b", InputPer1M: 1, OutputPer1M: 1},
	}), Policy{})

	// france: 1 expensive call; germany: 3 cheap calls.
	g.Record("france", "model-a", "movement", "orders", "S1901M", 1_000_000, 0)
	g.Record("germany", "model-b", "negotiation", "message", "S1901M", 100_000, 0)
	g.Record("germany", "model-b", "negotiation", "message", "F1901M", 100_000, 0)
	g.Record("germany", "model-b", "movement", "orders", "F1901M", 100_000, 0)

	rep := g.Report()
	if rep.TotalCalls != 4 {
		t.Errorf("TotalCalls = %d, want 4", rep.TotalCalls)
	}
	if rep.MostExpensivePower != "france" {
		t.Errorf("MostExpensivePower = %q, want france", rep.MostExpensivePower)
	}
	if rep.ChattiestPower != "germany" {
		t.Errorf("ChattiestPower = %q, want germany", rep.ChattiestPower)
	}
	if rep.MostExpensivePhase != "movement" {
		t.Errorf("MostExpensivePhase = %q, want movement", rep.MostExpensivePhase)
	}
	if rep.ByModel["model-a"].Cost != 10.0 {
		t.Errorf("model-a cost = %f, want 10.0", rep.ByModel["model-a"].Cost)
	}
}

func TestReport_TieBreaksFirstSeen(t *testing.T) {
	g := NewGovernor(pricing.NewPricer(pricing.Table{
		{Key: "model-b", InputPer1M: 1, OutputPer1M: 1},
	}), Policy{})

	g.Record("england", "model-b", "movement", "orders", "S1901M", 100_000, 0)
	g.Record("france", "model-b", "movement", "orders", "S1901M", 100_000, 0)

	rep := g.Report()
	if rep.MostExpensivePower != "england" {
		t.Errorf("MostExpensivePower = %q, want england (first seen)", rep.MostExpensivePower)
	}
	if rep.ChattiestPower != "england" {
		t.Errorf("ChattiestPower = %q, want england (first seen)", rep.ChattiestPower)
	}
}

func TestReport_EmptyHasNoSuperlatives(t *testing.T) {
	g := NewGovernor(nil, Policy{})
	rep := g.Report()
	if rep.TotalCalls != 0 || rep.TotalCost != 0 {
		t.Errorf("empty report totals = %d/%f", rep.TotalCalls, rep.TotalCost)
	}
	if rep.MostExpensivePower != "" || rep.ChattiestPower != "" || rep.MostExpensivePhase != "" {
		t.Error("superlatives must be absent with zero records")
	}
}

func TestGovernor_ConcurrentRecords(t *testing.T) {
	g := NewGovernor(nil, Policy{})

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 50; j++ {
				g.Record("france", "gpt-4o", "movement", "orders", "S1901M", 1000, 1000)
			}
		}()
	}
	wg.Wait()

	if got := len(g.Records()); got != 400 {
		t.Errorf("record count = %d, want 400", got)
	}
	want := 400 * (float64(1000)*2.5 + float64(1000)*10.0) / 1_000_000
	if got := g.TotalCost(); got < want-1e-9 || got > want+1e-9 {
		t.Errorf("TotalCost = %f, want %f", got, want)
	}
}
