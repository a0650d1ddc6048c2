package feed

// Governance program executed by every feed operation.
const (
	ProgramID      = "v_klochkov_private_decision_v1.aleo"
	FunctionVote   = "vote_private"
	FunctionUnlock = "unlock_content"
	FunctionCreate = "create_dilemma"

	// DefaultFee is the flat public fee in microcredits.
	DefaultFee = 250_000
)

// seedItems is the demo feed every fresh instance starts with.
func seedItems() []Item {
	return []Item{
		{Dilemma: &Dilemma{
			Type:         TypeDilemma,
			ID:           1,
			Title:        "Should we allocate 20% of Treasury to ZK-Hardware?",
			Desc:         "Specialized ZK hardware will increase proving speed by 40% for all Aleo participants.",
			Votes:        1240,
			Status:       DilemmaActive,
			Category:     "Treasury",
			TimeLeft:     "24h",
			PrivacyLevel: "ZK-Max",
			Participants: 142,
			Comments: []Comment{
				{ID: 101, Author: "0x123...abc", Text: "This is crucial for scaling. Full support.", Time: "2h ago", Status: "Verified"},
				{ID: 102, Author: "0x789...xyz", Text: "Can we get a cost breakdown first?", Time: "4h ago", Status: "Verified"},
			},
		}},
		{Dilemma: &Dilemma{
			Type:         TypeDilemma,
			ID:           2,
			Title:        "Implement Quadratic Voting for Council Elections?",
			Desc:         "Quadratic voting minimizes whale dominance and promotes fairer representation.",
			Votes:        850,
			Status:       DilemmaActive,
			Category:     "Governance",
			TimeLeft:     "48h",
			PrivacyLevel: "Shielded",
			Participants: 89,
			Options:      []string{"Yes, implement immediately", "No, keep current system", "Delay for audit"},
			Comments:     []Comment{},
		}},
		{PaidPost: &PaidPost{
			Type:          TypePaidPost,
			ID:            3,
			Title:         "Alpha Leak: Upcoming ZK-Rollup Partnership",
			Teaser:        "We have confirmed a major partnership with a Tier-1 exchange for the new ZK-Rollup layer. The listing date is set for...",
			HiddenContent: "The partnership is with Coinbase. Listing is scheduled for Q4 2026 pending regulatory approval. The initial liquidity pool with be seeded with $50M.",
			Price:         50,
			Author:        "Deployer.aleo",
			Comments: []Comment{
				{ID: 201, Author: "0x999...111", Text: "Worth every token. Preparing my node now.", Time: "10m ago", Status: "Insider"},
			},
		}},
		{Dilemma: &Dilemma{
			Type:         TypeDilemma,
			ID:           4,
			Title:        "New Protocol: Reduced Transaction Fees?",
			Desc:         "Proposal to reduce base fees by 50% to encourage more frequent voting. Requires node upgrade.",
			Votes:        3200,
			Status:       DilemmaPass,
			Category:     "Security",
			TimeLeft:     "Ended",
			PrivacyLevel: "Public",
			Participants: 410,
			Comments:     []Comment{},
		}},
	}
}
