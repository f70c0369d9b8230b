package assessment

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/stemsi/exstem-assess/internal/formula"
)

const sampleDoc = `
<assessment version="M117UE1" course="M 117" unit="1" type="U" title="Unit 1 Exam" allowed-seconds="3600" mastery="2">
  <section name="Part 1">
    <item id="1" weight="1"><choice ref="q1a"/><choice ref="q1b"/></item>
    <item id="2"><choice ref="q2"/></item>
  </section>
  <subtest name="score">
    <ref item="1" weight="1"/>
    <ref item="2" weight="1"/>
  </subtest>
  <grading-rule name="strong">score &gt;= 2</grading-rule>
  <grading-rule name="broken">score &gt;=</grading-rule>
  <outcome log-denial="true">
    <condition>passed</condition>
    <prereq>strong</prereq>
    <validation how="P">proctored</validation>
    <placement course="M 117"/>
    <credit course="M 117"/>
    <licensed/>
  </outcome>
</assessment>`

const sampleTemplates = `
<item-templates>
  <template ref="q1a" kind="multiple-choice"><answer>B</answer></template>
  <template ref="q1b" kind="multiple-choice"><answer>C</answer></template>
  <template ref="q2" kind="numeric" tol="0.01"><answer>3.14</answer></template>
  <template ref="q3" kind="multiple-selection" points="2"><answer>a</answer><answer>c</answer></template>
</item-templates>`

func sampleCatalog(t *testing.T) *MemoryCatalog {
	t.Helper()
	specs, err := DecodeTemplates(strings.NewReader(sampleTemplates))
	require.NoError(t, err)
	cat := NewMemoryCatalog()
	require.NoError(t, cat.AddSpecs(specs))
	return cat
}

func TestDecode(t *testing.T) {
	doc, err := Decode(strings.NewReader(sampleDoc))
	require.NoError(t, err)

	assert.Equal(t, "M117UE1", doc.Version)
	assert.Equal(t, "M 117", doc.Course)
	assert.Equal(t, 1, doc.Unit)
	assert.Equal(t, TypeUnit, doc.Type)
	assert.EqualValues(t, 3600, doc.AllowedSeconds)
	require.NotNil(t, doc.Mastery)
	assert.Equal(t, 2, *doc.Mastery)
	assert.Equal(t, []int{1, 2}, doc.ItemIDs())
	assert.Equal(t, 2, doc.NumItems())
	assert.Equal(t, 1.0, doc.Sections[0].Items[1].Weight)

	st, ok := doc.Subtest("score")
	require.True(t, ok)
	assert.Len(t, st.Items, 2)

	require.Len(t, doc.GradingRules, 2)
	assert.NoError(t, doc.GradingRules[0].Formula.Err)
	assert.ErrorIs(t, doc.GradingRules[1].Formula.Err, formula.ErrSyntax)

	require.Len(t, doc.Outcomes, 1)
	o := doc.Outcomes[0]
	assert.True(t, o.LogDenial)
	assert.Equal(t, "passed", o.Condition.Source)
	require.Len(t, o.Validations, 1)
	assert.Equal(t, "P", o.Validations[0].HowValidated)
	assert.Equal(t, []Action{
		{Kind: ActionPlacement, Course: "M 117"},
		{Kind: ActionCredit, Course: "M 117"},
		{Kind: ActionLicensed},
	}, o.Actions)
}

func TestDecodeRejectsInvalid(t *testing.T) {
	tests := map[string]string{
		"no version":      `<assessment><section><item id="1"><choice ref="a"/></item></section></assessment>`,
		"duplicate id":    `<assessment version="v"><section><item id="1"><choice ref="a"/></item><item id="1"><choice ref="b"/></item></section></assessment>`,
		"no choice":       `<assessment version="v"><section><item id="1"/></section></assessment>`,
		"no items":        `<assessment version="v"/>`,
		"unknown subtest": `<assessment version="v"><section><item id="1"><choice ref="a"/></item></section><subtest name="s"><ref item="9"/></subtest></assessment>`,
		"malformed":       `<assessment version="v"`,
	}
	for name, src := range tests {
		t.Run(name, func(t *testing.T) {
			_, err := Decode(strings.NewReader(src))
			require.ErrorIs(t, err, ErrInvalidDocument)
		})
	}
}

func TestEncodeDecodePreservesStructure(t *testing.T) {
	doc, err := Decode(strings.NewReader(sampleDoc))
	require.NoError(t, err)

	b, err := EncodeBytes(doc)
	require.NoError(t, err)
	again, err := DecodeBytes(b)
	require.NoError(t, err)

	assert.Equal(t, doc.Version, again.Version)
	assert.Equal(t, doc.Sections, again.Sections)
	assert.Equal(t, doc.Subtests, again.Subtests)
	assert.Equal(t, *doc.Mastery, *again.Mastery)
	require.Len(t, again.GradingRules, 2)
	assert.Equal(t, doc.GradingRules[0].Formula.Source, again.GradingRules[0].Formula.Source)
	assert.Equal(t, doc.Outcomes[0].Actions, again.Outcomes[0].Actions)
	assert.Equal(t, doc.Outcomes[0].LogDenial, again.Outcomes[0].LogDenial)
}

func TestTemplates(t *testing.T) {
	cat := sampleCatalog(t)

	mc, err := cat.Template("q1a")
	require.NoError(t, err)
	assert.True(t, mc.IsCorrect(Response{" b "}))
	assert.False(t, mc.IsCorrect(Response{"C"}))
	assert.False(t, mc.IsCorrect(nil))
	assert.Equal(t, 1.0, mc.Score(Response{"B"}))
	assert.Equal(t, Response{"B"}, mc.Solution())

	num, err := cat.Template("q2")
	require.NoError(t, err)
	assert.True(t, num.IsCorrect(Response{"3.14"}))
	assert.True(t, num.IsCorrect(Response{"3.145"}))
	assert.False(t, num.IsCorrect(Response{"3.2"}))
	assert.False(t, num.IsCorrect(Response{"pi"}))

	ms, err := cat.Template("q3")
	require.NoError(t, err)
	assert.True(t, ms.IsCorrect(Response{"C", "A"}))
	assert.False(t, ms.IsCorrect(Response{"A"}))
	assert.False(t, ms.IsCorrect(Response{"A", "B", "C"}))
	assert.Equal(t, 2.0, ms.Score(Response{"a", "c"}))

	ac, err := cat.Template(AutoCorrectRef)
	require.NoError(t, err)
	assert.True(t, ac.IsCorrect(nil))
	assert.Equal(t, 1.0, ac.Score(nil))

	_, err = cat.Template("missing")
	require.ErrorIs(t, err, ErrTemplateNotFound)
	assert.Equal(t, 4, cat.Len())
}

func TestNewTemplateRejectsBadSpecs(t *testing.T) {
	for _, spec := range []TemplateSpec{
		{Kind: KindMultipleChoice, Answers: []string{"A"}},
		{Ref: "x", Kind: KindMultipleChoice},
		{Ref: "x", Kind: KindMultipleSelection},
		{Ref: "x", Kind: KindNumeric, Answers: []string{"abc"}},
		{Ref: "x", Kind: "essay", Answers: []string{"A"}},
	} {
		_, err := NewTemplate(spec)
		assert.ErrorIs(t, err, ErrInvalidDocument)
	}
}

func TestRealize(t *testing.T) {
	doc, err := Decode(strings.NewReader(sampleDoc))
	require.NoError(t, err)
	cat := sampleCatalog(t)
	now := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)

	even, err := Realize(doc, cat, 10, now, nil)
	require.NoError(t, err)
	odd, err := Realize(doc, cat, 11, now, nil)
	require.NoError(t, err)

	require.Equal(t, 2, even.Len())
	assert.Equal(t, "q1a", even.Items[0].Template.Ref())
	assert.Equal(t, "q1b", odd.Items[0].Template.Ref())
	assert.Equal(t, "q2", even.Items[1].Template.Ref())

	lenient, err := Realize(doc, cat, 10, now, map[int]bool{2: true})
	require.NoError(t, err)
	assert.Equal(t, AutoCorrectRef, lenient.Items[1].Template.Ref())
}

func TestAutoCorrectKeepsTemplatePoints(t *testing.T) {
	doc, err := Decode(strings.NewReader(sampleDoc))
	require.NoError(t, err)
	cat := NewMemoryCatalog()
	require.NoError(t, cat.AddSpecs([]TemplateSpec{
		{Ref: "q1a", Kind: KindMultipleChoice, Answers: []string{"B"}, Points: 3},
		{Ref: "q1b", Kind: KindMultipleChoice, Answers: []string{"C"}, Points: 3},
		{Ref: "q2", Kind: KindNumeric, Answers: []string{"3.14"}},
	}))
	now := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)

	normal, err := Realize(doc, cat, 10, now, nil)
	require.NoError(t, err)
	assert.Equal(t, 3.0, normal.Items[0].Template.Score(Response{"B"}))

	lenient, err := Realize(doc, cat, 10, now, map[int]bool{1: true})
	require.NoError(t, err)
	ac := lenient.Items[0].Template
	assert.Equal(t, AutoCorrectRef, ac.Ref())
	assert.True(t, ac.IsCorrect(nil))
	assert.Equal(t, 3.0, ac.Score(nil))
	assert.Equal(t, 1.0, lenient.Items[1].Template.Score(Response{"3.14"}))

	back, err := Reassemble(doc, cat, lenient.Serial, lenient.RealizedAt, lenient.Picks())
	require.NoError(t, err)
	assert.Equal(t, AutoCorrectRef, back.Items[0].Template.Ref())
	assert.Equal(t, 3.0, back.Items[0].Template.Score(nil))
}

func TestRealizeMissingTemplate(t *testing.T) {
	doc, err := Decode(strings.NewReader(sampleDoc))
	require.NoError(t, err)
	_, err = Realize(doc, NewMemoryCatalog(), 1, time.Now(), nil)
	require.ErrorIs(t, err, ErrTemplateNotFound)
}

func TestReassembleFromPicks(t *testing.T) {
	doc, err := Decode(strings.NewReader(sampleDoc))
	require.NoError(t, err)
	cat := sampleCatalog(t)
	now := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)

	r, err := Realize(doc, cat, 11, now, nil)
	require.NoError(t, err)
	require.True(t, r.SetResponse(0, Response{"C"}))
	require.False(t, r.SetResponse(5, Response{"C"}))
	assert.Equal(t, []bool{true, false}, r.Answered())

	back, err := Reassemble(doc, cat, r.Serial, r.RealizedAt, r.Picks())
	require.NoError(t, err)
	assert.Equal(t, r.Picks(), back.Picks())
	assert.Equal(t, []bool{true, false}, back.Answered())

	_, err = Reassemble(doc, cat, 1, now, r.Picks()[:1])
	require.Error(t, err)
}
