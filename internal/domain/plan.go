package domain

// DeliveryTarget is one leg of a delivery plan: a subchannel plus the
// enrichment it requires. TargetLangs empty means the leg receives the
// untranslated text.
type DeliveryTarget struct {
	SubchannelID   int64
	NeedsSummary   bool
	TargetLangs    []string
	PromptTemplate string
	Footer         string
}

// DeliveryPlan is the full per-post output of the rules engine.
// An empty plan means the post was filtered and should be dropped silently.
type DeliveryPlan struct {
	Targets []DeliveryTarget
}

// Empty reports whether the plan has no legs.
func (p DeliveryPlan) Empty() bool { return len(p.Targets) == 0 }
