package repository

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/stemsi/exstem-assess/internal/assessment"
	"github.com/stemsi/exstem-assess/internal/session"
)

func TestCompletionDetailsIncludeRules(t *testing.T) {
	res := &session.Result{
		Subtests: []session.SubtestScore{{Name: "score", Score: 3}},
		Rules: []session.RuleResult{
			{Name: "passed", Passed: true},
			{Name: "bonus", Passed: false},
		},
		Grants:  []session.Grant{{Kind: assessment.ActionPlacement, Course: "M 118", HowValidated: "P"}},
		Denials: []session.Denial{{Kind: assessment.ActionCredit, Course: "M 118", Reason: session.DenialPrerequisite}},
	}

	batch := completionDetails(17, res)
	require.Equal(t, 5, batch.Len())

	var rules [][]any
	for _, q := range batch.QueuedQueries {
		if strings.Contains(q.SQL, "completion_rules") {
			rules = append(rules, q.Arguments)
		}
	}
	assert.Equal(t, [][]any{
		{int64(17), 0, "passed", true},
		{int64(17), 1, "bonus", false},
	}, rules)
}

func TestCompletionDetailsEmpty(t *testing.T) {
	assert.Zero(t, completionDetails(1, &session.Result{}).Len())
}
