package processor

import (
	"errors"

	"lingo-sync/internal/repository"
	"lingo-sync/internal/textnorm"
)

// CostEstimate projects the provider spend for the claimable backlog.
type CostEstimate struct {
	Jobs           int     `json:"jobs"`
	ReusableJobs   int     `json:"reusable_jobs"`
	BillableJobs   int     `json:"billable_jobs"`
	BillableChars  int64   `json:"billable_chars"`
	EstimatedCost  float64 `json:"estimated_cost"`
	CostPerThouChr float64 `json:"cost_per_thousand_chars"`
}

// EstimateCost walks the matching jobs without mutating them and reports how
// many would be served from cache or TM versus billed to the provider. A nil
// states slice covers the claimable backlog; maxJobs bounds the sample, 0
// means all. Fuzzy reuse is ignored: the estimate stays conservative.
func (p *Processor) EstimateCost(states []string, maxJobs int) (*CostEstimate, error) {
	settings := p.settings.GetSettings()
	estimate := &CostEstimate{CostPerThouChr: settings.CostPerThousandChars}

	jobs, err := p.queue.JobsInStates(states, maxJobs)
	if err != nil {
		return nil, err
	}

	for _, job := range jobs {
		text, err := p.repo.GetField(job.ObjectType, job.ObjectID, job.Field)
		if errors.Is(err, repository.ErrFieldNotFound) {
			continue
		}
		if err != nil {
			return nil, err
		}
		if textnorm.Normalize(text) == "" {
			continue
		}
		estimate.Jobs++

		if _, ok := p.cache.Get(text, settings.ProviderName, settings.SourceLang, settings.TargetLang); ok {
			estimate.ReusableJobs++
			continue
		}
		segment, err := p.memory.ExactPeek(text, settings.SourceLang, settings.TargetLang)
		if err != nil {
			return nil, err
		}
		if segment != nil {
			estimate.ReusableJobs++
			continue
		}

		estimate.BillableJobs++
		estimate.BillableChars += int64(textnorm.Length(text))
	}

	estimate.EstimatedCost = float64(estimate.BillableChars) / 1000 * estimate.CostPerThouChr
	return estimate, nil
}
