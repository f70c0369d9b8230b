package formula

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEval(t *testing.T) {
	env := Env{
		"score":     Number(7),
		"ALG":       Number(3),
		"passed":    Bool(true),
		"proctored": Bool(false),
		"sub.total": Number(12),
	}

	tests := []struct {
		name string
		src  string
		want Value
	}{
		{"number literal", "42", Number(42)},
		{"precedence", "1 + 2 * 3", Number(7)},
		{"parens", "(1 + 2) * 3", Number(9)},
		{"power right assoc", "2 ^ 3 ^ 2", Number(512)},
		{"unary minus", "-score + 10", Number(3)},
		{"modulo", "score % 4", Number(3)},
		{"compare ge", "score >= 7", Bool(true)},
		{"compare lt", "score < ALG", Bool(false)},
		{"equality numbers", "score = 7", Bool(true)},
		{"equality double", "score == 7", Bool(true)},
		{"inequality", "score <> 7", Bool(false)},
		{"boolean and", "passed & score > 5", Bool(true)},
		{"boolean or", "proctored | passed", Bool(true)},
		{"word ops", "NOT proctored AND passed", Bool(true)},
		{"bang", "!passed", Bool(false)},
		{"true literal", "TRUE", Bool(true)},
		{"lowercase false", "false", Bool(false)},
		{"braced variable", "{score} + {ALG}", Number(10)},
		{"dotted variable", "sub.total / 4", Number(3)},
		{"min max", "max(score, ALG, 9) - min(score, ALG)", Number(6)},
		{"round", "round(2.5)", Number(3)},
		{"if", "if(passed, 1, 0)", Number(1)},
		{"bool equality", "passed = TRUE", Bool(true)},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e, err := Parse(tt.src)
			require.NoError(t, err)
			got, err := e.Eval(env)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestShortCircuitSkipsUndefined(t *testing.T) {
	e := MustParse("FALSE & missing")
	got, err := e.EvalBool(Env{})
	require.NoError(t, err)
	assert.False(t, got)

	e = MustParse("TRUE | missing")
	got, err = e.EvalBool(Env{})
	require.NoError(t, err)
	assert.True(t, got)
}

func TestParseErrors(t *testing.T) {
	for _, src := range []string{
		"",
		"   ",
		"1 +",
		"(1 + 2",
		"1 2",
		"a < b < c",
		"{unterminated",
		"{}",
		"nosuchfn(1)",
		"3 $ 4",
		"max(1,",
	} {
		t.Run(src, func(t *testing.T) {
			_, err := Parse(src)
			require.ErrorIs(t, err, ErrSyntax)
		})
	}
}

func TestEvalErrors(t *testing.T) {
	env := Env{"n": Number(1), "b": Bool(true)}
	tests := []struct {
		src string
		err error
	}{
		{"missing + 1", ErrUndefined},
		{"n & b", ErrTypeMismatch},
		{"b + 1", ErrTypeMismatch},
		{"n = b", ErrTypeMismatch},
		{"!n", ErrTypeMismatch},
		{"-b", ErrTypeMismatch},
		{"n / 0", ErrDivByZero},
		{"n % 0", ErrDivByZero},
		{"abs(b)", ErrTypeMismatch},
		{"if(n, 1, 2)", ErrTypeMismatch},
	}
	for _, tt := range tests {
		t.Run(tt.src, func(t *testing.T) {
			_, err := MustParse(tt.src).Eval(env)
			require.ErrorIs(t, err, tt.err)
		})
	}
}

func TestEvalBoolRejectsNumbers(t *testing.T) {
	_, err := MustParse("1 + 1").EvalBool(Env{})
	require.ErrorIs(t, err, ErrTypeMismatch)
}

func TestVars(t *testing.T) {
	e := MustParse("score >= 7 & {ALG} > 2 | max(score, other) = 3")
	assert.Equal(t, []string{"ALG", "other", "score"}, e.Vars())
	assert.Equal(t, "score >= 7 & {ALG} > 2 | max(score, other) = 3", e.Source())
}

func TestEnvClone(t *testing.T) {
	env := Env{"a": Number(1)}
	c := env.Clone()
	c["b"] = Bool(true)
	_, ok := env["b"]
	assert.False(t, ok)
	assert.Len(t, c, 2)
}
