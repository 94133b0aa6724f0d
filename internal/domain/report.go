package domain

// CitationRecord grounds a claim in a source. Produced by the citation tool
// on behalf of any agent; never mutated after creation.
type CitationRecord struct {
	URL     string `json:"url"`
	Excerpt string `json:"excerpt"`
	Title   string `json:"title"`
}

// CompanyProfile is the company_research stage output.
type CompanyProfile struct {
	Name         string           `json:"name"`
	Industry     string           `json:"industry"`
	Description  string           `json:"description"`
	Products     []string         `json:"products"`
	Headquarters string           `json:"headquarters"`
	Sources      []CitationRecord `json:"sources"`
}

// IndustryOpportunity is one element of the industry_analysis stage output.
type IndustryOpportunity struct {
	Domain    string           `json:"domain"`
	Score     float64          `json:"score"`
	Rationale string           `json:"rationale"`
	Sources   []CitationRecord `json:"sources"`
}

// DomainCandidateList is the industry_analysis stage output: a ranked list
// of expansion domains.
type DomainCandidateList struct {
	Opportunities []IndustryOpportunity `json:"opportunities"`
	Sources       []CitationRecord      `json:"sources"`
}

// MarketStats is the market_data stage output.
type MarketStats struct {
	MarketSizeUSD float64          `json:"market_size_usd"`
	CAGR          float64          `json:"cagr"`
	KeyDrivers    []string         `json:"key_drivers"`
	Sources       []CitationRecord `json:"sources"`
}

// Competitor is one element of the competitive_landscape stage output.
type Competitor struct {
	Competitor  string  `json:"competitor"`
	Product     string  `json:"product"`
	MarketShare float64 `json:"market_share"`
	Note        string  `json:"note"`
}

// CompetitorList is the competitive_landscape stage output.
type CompetitorList struct {
	Competitors []Competitor     `json:"competitors"`
	Sources     []CitationRecord `json:"sources"`
}

// MarketGap is one element of the gap_analysis stage output.
type MarketGap struct {
	Gap      string `json:"gap"`
	Impact   string `json:"impact"`
	Evidence string `json:"evidence"`
}

// GapList is the gap_analysis stage output.
type GapList struct {
	Gaps    []MarketGap      `json:"gaps"`
	Sources []CitationRecord `json:"sources"`
}

// Opportunity is one element of the opportunity stage output.
type Opportunity struct {
	Title       string `json:"title"`
	Priority    string `json:"priority"`
	Description string `json:"description"`
}

// OpportunityList is the opportunity stage output.
type OpportunityList struct {
	Opportunities []Opportunity    `json:"opportunities"`
	Sources       []CitationRecord `json:"sources"`
}

// ReportSection is one titled section of the final report.
type ReportSection struct {
	Title string `json:"title"`
	Body  string `json:"body"`
}

// ReportDocument is the report_synthesis stage output: the structured report
// handed to an external renderer.
type ReportDocument struct {
	Company      string           `json:"company"`
	ChosenDomain string           `json:"chosen_domain"`
	Sections     []ReportSection  `json:"sections"`
	Sources      []CitationRecord `json:"sources"`
}
