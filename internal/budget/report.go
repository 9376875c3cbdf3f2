package budget

// Aggregate accumulates usage for one grouping key.
type Aggregate struct {
	Calls        int     `json:"calls"`
	InputTokens  int64   `json:"input_tokens"`
	OutputTokens int64   `json:"output_tokens"`
	Cost         float64 `json:"cost"`
}

func (a *Aggregate) add(r UsageRecord) {
	a.Calls++
	a.InputTokens += r.InputTokens
	a.OutputTokens += r.OutputTokens
	a.Cost += r.Cost
}

// Report is a fold of all usage records for one job. The superlative fields
// are empty when there are no records.
type Report struct {
	TotalCalls         int                   `json:"total_calls"`
	TotalInputTokens   int64                 `json:"total_input_tokens"`
	TotalOutputTokens  int64                 `json:"total_output_tokens"`
	TotalCost          float64               `json:"total_cost"`
	ByPower            map[string]*Aggregate `json:"by_power,omitempty"`
	ByModel            map[string]*Aggregate `json:"by_model,omitempty"`
	MostExpensivePower string                `json:"most_expensive_power,omitempty"`
	ChattiestPower     string                `json:"chattiest_power,omitempty"`
	MostExpensivePhase string                `json:"most_expensive_phase,omitempty"`
}

// Report folds the governor's usage records into totals, groupings, and
// superlatives. Ties break toward the first entity encountered in record
// order.
func (g *Governor) Report() *Report {
	g.mu.Lock()
	records := append([]UsageRecord(nil), g.records...)
	g.mu.Unlock()

	rep := &Report{
		ByPower: make(map[string]*Aggregate),
		ByModel: make(map[string]*Aggregate),
	}
	if len(records) == 0 {
		return rep
	}

	phaseCost := make(map[string]float64)
	var powerOrder, phaseOrder []string

	for _, r := range records {
		rep.TotalCalls++
		rep.TotalInputTokens += r.InputTokens
		rep.TotalOutputTokens += r.OutputTokens
		rep.TotalCost += r.Cost

		if _, ok := rep.ByPower[r.Power]; !ok {
			rep.ByPower[r.Power] = &Aggregate{}
			powerOrder = append(powerOrder, r.Power)
		}
		rep.ByPower[r.Power].add(r)

		if _, ok := rep.ByModel[r.Model]; !ok {
			rep.ByModel[r.Model] = &Aggregate{}
		}
		rep.ByModel[r.Model].add(r)

		if _, ok := phaseCost[r.Phase]; !ok {
			phaseOrder = append(phaseOrder, r.Phase)
		}
		phaseCost[r.Phase] += r.Cost
	}

	for _, power := range powerOrder {
		agg := rep.ByPower[power]
		if rep.MostExpensivePower == "" || agg.Cost > rep.ByPower[rep.MostExpensivePower].Cost {
			rep.MostExpensivePower = power
		}
		if rep.ChattiestPower == "" || agg.Calls > rep.ByPower[rep.ChattiestPower].Calls {
			rep.ChattiestPower = power
		}
	}
	for _, phase := range phaseOrder {
		if rep.MostExpensivePhase == "" || phaseCost[phase] > phaseCost[rep.MostExpensivePhase] {
			rep.MostExpensivePhase = phase
		}
	}
	return rep
}
