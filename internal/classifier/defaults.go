package classifier

// DefaultRules — встроенная таблица баллов.
func DefaultRules() map[string]Rule {
	return map[string]Rule{
		// Вклады
		"complete_profile":   {Delta: 10, Explanation: "Completed profile information"},
		"verify_identity":    {Delta: 25, Explanation: "Verified identity with a trusted provider"},
		"complete_gig":       {Delta: 40, Explanation: "Completed a gig"},
		"positive_review":    {Delta: 15, Explanation: "Received a positive review"},
		"mentor_session":     {Delta: 20, Explanation: "Mentored another community member"},
		"helpful_answer":     {Delta: 8, Explanation: "Answer marked as helpful"},
		"forum_post":         {Delta: 3, Explanation: "Posted in the community forum"},
		"dao_vote":           {Delta: 5, Explanation: "Participated in a governance vote"},
		"dao_proposal":       {Delta: 30, Explanation: "Submitted a governance proposal"},
		"report_confirmed":   {Delta: 12, Explanation: "Abuse report confirmed by review"},

		"onboarding_finished": {Delta: 15, Explanation: "Finished onboarding"},

		// Нарушения
		"missed_gig":           {Delta: -20, Explanation: "Missed an accepted gig"},
		"spam_violation":       {Delta: -50, Explanation: "Posted spam"},
		"harassment_violation": {Delta: -100, Explanation: "Harassment confirmed by review"},
		"fraud_violation":      {Delta: -200, Explanation: "Fraudulent activity confirmed by review"},
		"false_report":         {Delta: -15, Explanation: "Filed a report found to be false"},
	}
}
